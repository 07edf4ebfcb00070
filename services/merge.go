package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"condoreconcile/identity"
	"condoreconcile/models"
)

// MergeStore is the persistence slice the Merge/Split Controller (C6) needs.
// Every method here is expected to run inside a single transaction per
// call, matching the "transactional merges" shared-resource policy.
type MergeStore interface {
	GetBuilding(ctx context.Context, id int64) (*models.Building, error)
	ListPropertiesForBuilding(ctx context.Context, buildingID int64) ([]*models.MasterProperty, error)
	ReassignPropertyBuilding(ctx context.Context, propertyID, newBuildingID int64) error
	FindCollidingProperty(ctx context.Context, buildingID int64, p *models.MasterProperty) (*models.MasterProperty, error)
	RedirectBuildingMergeHistory(ctx context.Context, fromFinalPrimary, toPrimary int64) error
	DeleteBuildingMergeExclusions(ctx context.Context, buildingID int64) error
	InsertBuildingMergeHistory(ctx context.Context, h *models.BuildingMergeHistory) (int64, error)
	// DeleteBuilding marks id as merged away by pointing its redirect_to at
	// redirectTo, rather than hard-deleting (preserves FK history + revert).
	DeleteBuilding(ctx context.Context, id int64, redirectTo int64) error
	RestoreBuilding(ctx context.Context, id int64, snapshot models.BuildingMergeSnapshot) error
	BuildingExists(ctx context.Context, id int64) (bool, error)
	GetBuildingMergeHistory(ctx context.Context, id int64) (*models.BuildingMergeHistory, error)
	DeleteBuildingMergeHistory(ctx context.Context, id int64) error
	RewriteBuildingMergeChainAfterRevert(ctx context.Context, revertedPrimary int64, revertedHistoryID int64) error

	GetProperty(ctx context.Context, id int64) (*models.MasterProperty, error)
	ListListingsForProperty(ctx context.Context, propertyID int64) ([]*models.Listing, error)
	FindListingByKeyOnProperty(ctx context.Context, propertyID int64, sourceSite, sitePropertyID string) (*models.Listing, error)
	ReassignListingProperty(ctx context.Context, listingID, newPropertyID int64) error
	MovePriceHistory(ctx context.Context, fromListingID, toListingID int64) error
	DeleteListing(ctx context.Context, listingID int64) error
	FillNullPropertyFields(ctx context.Context, primaryID, secondaryID int64) error
	RedirectPropertyMergeHistory(ctx context.Context, fromFinalPrimary, toPrimary int64) error
	RewriteAmbiguousMatchReferences(ctx context.Context, fromPropertyID, toPropertyID int64) error
	InsertPropertyMergeHistory(ctx context.Context, h *models.PropertyMergeHistory) (int64, error)
	// DeleteProperty marks id as merged away by pointing its redirect_to at
	// redirectTo; see DeleteBuilding.
	DeleteProperty(ctx context.Context, id int64, redirectTo int64) error
	RestoreProperty(ctx context.Context, id int64, buildingID int64, snapshot models.PropertyMergeSnapshot) error
	PropertyExists(ctx context.Context, id int64) (bool, error)
	GetPropertyMergeHistory(ctx context.Context, id int64) (*models.PropertyMergeHistory, error)
	DeletePropertyMergeHistory(ctx context.Context, id int64) error
	RewritePropertyMergeChainAfterRevert(ctx context.Context, revertedPrimary int64, revertedHistoryID int64) error

	ListBuildingsWithProperties(ctx context.Context) ([]*models.Building, error)
	ListBuildingMergeExclusions(ctx context.Context) ([]*models.BuildingMergeExclusion, error)
}

// MergeController implements C6: building/property merge and revert, plus
// duplicate-candidate detection.
type MergeController struct {
	store MergeStore
	voter *Voter
	priceChange *PriceChangeCalculator
	cache Invalidator
	dupCache *dupCandidateCache
}

func NewMergeController(store MergeStore, voter *Voter, pc *PriceChangeCalculator, cache Invalidator, dupTTL time.Duration) *MergeController {
	return &MergeController{store: store, voter: voter, priceChange: pc, cache: cache, dupCache: newDupCandidateCache(dupTTL)}
}

// MergeBuildings. primary absorbs every secondary.
func (m *MergeController) MergeBuildings(ctx context.Context, primaryID int64, secondaryIDs []int64) error {
	for _, secondaryID := range secondaryIDs {
		if secondaryID == primaryID {
			return fmt.Errorf("building %d cannot be merged into itself", primaryID)
		}
	}
	var movedPropertyIDs []int64
	for _, secondaryID := range secondaryIDs {
		movedStart := len(movedPropertyIDs)
		secBuilding, err := m.store.GetBuilding(ctx, secondaryID)
		if err != nil {
			return fmt.Errorf("get secondary building %d: %w", secondaryID, err)
		}
		if secBuilding == nil {
			return fmt.Errorf("building %d not found", secondaryID)
		}

		props, err := m.store.ListPropertiesForBuilding(ctx, secondaryID)
		if err != nil {
			return fmt.Errorf("list properties: %w", err)
		}
		for _, p := range props {
			if collision, err := m.store.FindCollidingProperty(ctx, primaryID, p); err != nil {
				return fmt.Errorf("find colliding property: %w", err)
			} else if collision != nil {
				// step 1: collision resolved by merging the two
				// properties first, primary's property kept as primary.
				if err := m.absorbProperty(ctx, collision, p); err != nil {
					return fmt.Errorf("merge colliding properties: %w", err)
				}
				continue
			}
			if err := m.store.ReassignPropertyBuilding(ctx, p.ID, primaryID); err != nil {
				return fmt.Errorf("reassign property %d: %w", p.ID, err)
			}
			movedPropertyIDs = append(movedPropertyIDs, p.ID)
		}

		if err := m.store.RedirectBuildingMergeHistory(ctx, secondaryID, primaryID); err != nil {
			return fmt.Errorf("redirect merge history: %w", err)
		}
		if err := m.store.DeleteBuildingMergeExclusions(ctx, secondaryID); err != nil {
			return fmt.Errorf("delete exclusions: %w", err)
		}

		snapshot := models.BuildingMergeSnapshot{
			NormalizedName: secBuilding.NormalizedName,
			CanonicalName: secBuilding.CanonicalName,
			Address: secBuilding.Address,
			NormalizedAddress: secBuilding.NormalizedAddress,
			TotalFloors: secBuilding.TotalFloors,
			BasementFloors: secBuilding.BasementFloors,
			TotalUnits: secBuilding.TotalUnits,
			BuiltYear: secBuilding.BuiltYear,
			BuiltMonth: secBuilding.BuiltMonth,
			ConstructionType: secBuilding.ConstructionType,
			IsValidName: secBuilding.IsValidName,
			MovedPropertyIDs: movedPropertyIDs[movedStart:],
		}
		snapshotJSON := mustJSON(snapshot)

		if _, err := m.store.InsertBuildingMergeHistory(ctx, &models.BuildingMergeHistory{
			DirectPrimaryBuildingID: primaryID,
			FinalPrimaryBuildingID: primaryID,
			MergedBuildingID: secondaryID,
			MergeDepth: 0,
			MergeDetails: snapshotJSON,
			CreatedAt: time.Now(),
		}); err != nil {
			return fmt.Errorf("insert merge history: %w", err)
		}

		if err := m.store.DeleteBuilding(ctx, secondaryID, primaryID); err != nil {
			return fmt.Errorf("delete secondary building: %w", err)
		}
	}

	if m.voter != nil {
		if err := m.voter.RefreshBuilding(ctx, primaryID); err != nil {
			return fmt.Errorf("refresh building: %w", err)
		}
		for _, pid := range movedPropertyIDs {
			if err := m.voter.RefreshProperty(ctx, pid); err != nil {
				return fmt.Errorf("refresh property %d: %w", pid, err)
			}
		}
	}
	m.dupCache.invalidateAll()
	if m.cache != nil {
		m.cache.InvalidateAll()
	}
	return nil
}

// MergeRevertResult reports a revert's outcome, including any properties or
// listings that could not be moved back because they no longer exist or
// moved elsewhere since the original merge — reported, not treated as a
// failure.
type MergeRevertResult struct {
	Warnings []string
}

// RevertBuildingMerge undoes a prior building merge by history record.
func (m *MergeController) RevertBuildingMerge(ctx context.Context, historyID int64) (*MergeRevertResult, error) {
	h, err := m.store.GetBuildingMergeHistory(ctx, historyID)
	if err != nil {
		return nil, fmt.Errorf("get merge history: %w", err)
	}
	if h == nil {
		return nil, fmt.Errorf("merge history %d not found", historyID)
	}
	if exists, err := m.store.BuildingExists(ctx, h.MergedBuildingID); err != nil {
		return nil, fmt.Errorf("check building exists: %w", err)
	} else if exists {
		return nil, fmt.Errorf("cannot revert: building %d id has been reused", h.MergedBuildingID)
	}

	var snapshot models.BuildingMergeSnapshot
	if err := unmarshalSnapshot2(h.MergeDetails, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	if err := m.store.RestoreBuilding(ctx, h.MergedBuildingID, snapshot); err != nil {
		return nil, fmt.Errorf("restore building: %w", err)
	}

	result := &MergeRevertResult{}
	for _, propID := range snapshot.MovedPropertyIDs {
		prop, err := m.store.GetProperty(ctx, propID)
		if err != nil || prop == nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("property %d no longer exists, skipped", propID))
			continue
		}
		if prop.BuildingID != h.DirectPrimaryBuildingID {
			result.Warnings = append(result.Warnings, fmt.Sprintf("property %d moved elsewhere since merge, skipped", propID))
			continue
		}
		if err := m.store.ReassignPropertyBuilding(ctx, propID, h.MergedBuildingID); err != nil {
			return nil, fmt.Errorf("reassign property %d back: %w", propID, err)
		}
	}

	if err := m.store.RewriteBuildingMergeChainAfterRevert(ctx, h.DirectPrimaryBuildingID, historyID); err != nil {
		return nil, fmt.Errorf("rewrite merge chain: %w", err)
	}
	if err := m.store.DeleteBuildingMergeHistory(ctx, historyID); err != nil {
		return nil, fmt.Errorf("delete merge history: %w", err)
	}

	if m.voter != nil {
		if err := m.voter.RefreshBuilding(ctx, h.DirectPrimaryBuildingID); err != nil {
			return nil, fmt.Errorf("refresh primary: %w", err)
		}
		if err := m.voter.RefreshBuilding(ctx, h.MergedBuildingID); err != nil {
			return nil, fmt.Errorf("refresh restored: %w", err)
		}
	}
	m.dupCache.invalidateAll()
	if m.cache != nil {
		m.cache.InvalidateAll()
	}
	return result, nil
}

// MergeProperties. primary absorbs secondary; both must
// belong to the same building.
func (m *MergeController) MergeProperties(ctx context.Context, primaryID, secondaryID int64) error {
	primary, err := m.store.GetProperty(ctx, primaryID)
	if err != nil {
		return fmt.Errorf("get primary: %w", err)
	}
	secondary, err := m.store.GetProperty(ctx, secondaryID)
	if err != nil {
		return fmt.Errorf("get secondary: %w", err)
	}
	if primary == nil || secondary == nil {
		return fmt.Errorf("primary or secondary property not found")
	}
	if primary.BuildingID != secondary.BuildingID {
		return fmt.Errorf("properties %d and %d belong to different buildings", primaryID, secondaryID)
	}
	return m.absorbProperty(ctx, primary, secondary)
}

// absorbProperty moves secondary's listings onto primary and redirects
// secondary to it. It does not check that the two share a building, so
// MergeBuildings can fold a colliding property of a secondary building.
func (m *MergeController) absorbProperty(ctx context.Context, primary, secondary *models.MasterProperty) error {
	primaryID, secondaryID := primary.ID, secondary.ID

	listings, err := m.store.ListListingsForProperty(ctx, secondaryID)
	if err != nil {
		return fmt.Errorf("list listings: %w", err)
	}
	var movedListingIDs []int64
	for _, l := range listings {
		existing, err := m.store.FindListingByKeyOnProperty(ctx, primaryID, l.SourceSite, l.SitePropertyID)
		if err != nil {
			return fmt.Errorf("find colliding listing: %w", err)
		}
		if existing != nil {
			keep, drop := existing, l
			if l.LastScrapedAt.After(existing.LastScrapedAt) {
				keep, drop = l, existing
			}
			if err := m.store.MovePriceHistory(ctx, drop.ID, keep.ID); err != nil {
				return fmt.Errorf("move price history: %w", err)
			}
			if keep.ID != existing.ID {
				// the kept listing was secondary's; re-parent it to primary.
				if err := m.store.ReassignListingProperty(ctx, keep.ID, primaryID); err != nil {
					return fmt.Errorf("reassign kept listing: %w", err)
				}
				movedListingIDs = append(movedListingIDs, keep.ID)
			}
			if err := m.store.DeleteListing(ctx, drop.ID); err != nil {
				return fmt.Errorf("delete superseded listing: %w", err)
			}
			continue
		}
		if err := m.store.ReassignListingProperty(ctx, l.ID, primaryID); err != nil {
			return fmt.Errorf("reassign listing %d: %w", l.ID, err)
		}
		movedListingIDs = append(movedListingIDs, l.ID)
	}

	if err := m.store.FillNullPropertyFields(ctx, primaryID, secondaryID); err != nil {
		return fmt.Errorf("fill null fields: %w", err)
	}
	if err := m.store.RedirectPropertyMergeHistory(ctx, secondaryID, primaryID); err != nil {
		return fmt.Errorf("redirect merge history: %w", err)
	}
	if err := m.store.RewriteAmbiguousMatchReferences(ctx, secondaryID, primaryID); err != nil {
		return fmt.Errorf("rewrite ambiguous matches: %w", err)
	}

	primaryLayout, primaryDirection := primary.Layout, primary.Direction
	snapshot := models.PropertyMergeSnapshot{
		RoomNumber: secondary.RoomNumber,
		FloorNumber: secondary.FloorNumber,
		Area: secondary.Area,
		Layout: secondary.Layout,
		Direction: secondary.Direction,
		DisplayBuildingName: secondary.DisplayBuildingName,
		MovedListingIDs: movedListingIDs,
		PrimaryLayout: primaryLayout,
		PrimaryDirection: primaryDirection,
	}
	if _, err := m.store.InsertPropertyMergeHistory(ctx, &models.PropertyMergeHistory{
		DirectPrimaryPropertyID: primaryID,
		FinalPrimaryPropertyID: primaryID,
		MergedPropertyID: secondaryID,
		MergeDepth: 0,
		MergeDetails: mustJSON(snapshot),
		CreatedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("insert merge history: %w", err)
	}

	if err := m.store.DeleteProperty(ctx, secondaryID, primaryID); err != nil {
		return fmt.Errorf("delete secondary property: %w", err)
	}

	if m.voter != nil {
		if err := m.voter.RefreshProperty(ctx, primaryID); err != nil {
			return fmt.Errorf("refresh primary property: %w", err)
		}
		if err := m.voter.RefreshBuilding(ctx, primary.BuildingID); err != nil {
			return fmt.Errorf("refresh building: %w", err)
		}
	}
	if m.priceChange != nil {
		if err := m.priceChange.Enqueue(ctx, primaryID, "property_merge", PriorityMergeOrRevert); err != nil {
			return fmt.Errorf("enqueue price change: %w", err)
		}
	}
	if m.cache != nil {
		m.cache.InvalidateAll()
	}
	return nil
}

// RevertPropertyMerge undoes a prior property merge by history record. Only
// listings still pointing at the primary are moved back; ones that moved
// elsewhere are left in place and reported as a warning.
func (m *MergeController) RevertPropertyMerge(ctx context.Context, historyID int64) (*MergeRevertResult, error) {
	h, err := m.store.GetPropertyMergeHistory(ctx, historyID)
	if err != nil {
		return nil, fmt.Errorf("get merge history: %w", err)
	}
	if h == nil {
		return nil, fmt.Errorf("merge history %d not found", historyID)
	}
	if exists, err := m.store.PropertyExists(ctx, h.MergedPropertyID); err != nil {
		return nil, fmt.Errorf("check property exists: %w", err)
	} else if exists {
		return nil, fmt.Errorf("cannot revert: property %d id has been reused", h.MergedPropertyID)
	}

	primary, err := m.store.GetProperty(ctx, h.DirectPrimaryPropertyID)
	if err != nil || primary == nil {
		return nil, fmt.Errorf("primary property %d not found: %w", h.DirectPrimaryPropertyID, err)
	}

	var snapshot models.PropertyMergeSnapshot
	if err := unmarshalSnapshot2(h.MergeDetails, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	if err := m.store.RestoreProperty(ctx, h.MergedPropertyID, primary.BuildingID, snapshot); err != nil {
		return nil, fmt.Errorf("restore property: %w", err)
	}

	result := &MergeRevertResult{}
	for _, listingID := range snapshot.MovedListingIDs {
		listings, err := m.store.ListListingsForProperty(ctx, h.DirectPrimaryPropertyID)
		if err != nil {
			return nil, fmt.Errorf("list primary listings: %w", err)
		}
		stillOnPrimary := false
		for _, l := range listings {
			if l.ID == listingID {
				stillOnPrimary = true
				break
			}
		}
		if !stillOnPrimary {
			result.Warnings = append(result.Warnings, fmt.Sprintf("listing %d moved elsewhere since merge, skipped", listingID))
			continue
		}
		if err := m.store.ReassignListingProperty(ctx, listingID, h.MergedPropertyID); err != nil {
			return nil, fmt.Errorf("reassign listing %d back: %w", listingID, err)
		}
	}

	if err := m.store.RewritePropertyMergeChainAfterRevert(ctx, h.DirectPrimaryPropertyID, historyID); err != nil {
		return nil, fmt.Errorf("rewrite merge chain: %w", err)
	}
	if err := m.store.DeletePropertyMergeHistory(ctx, historyID); err != nil {
		return nil, fmt.Errorf("delete merge history: %w", err)
	}

	if m.voter != nil {
		if err := m.voter.RefreshProperty(ctx, h.DirectPrimaryPropertyID); err != nil {
			return nil, fmt.Errorf("refresh primary: %w", err)
		}
		if err := m.voter.RefreshProperty(ctx, h.MergedPropertyID); err != nil {
			return nil, fmt.Errorf("refresh restored: %w", err)
		}
	}
	if m.cache != nil {
		m.cache.InvalidateAll()
	}
	return result, nil
}

// DuplicateCandidates: bucket buildings by the first 3
// runes of canonical_name, then score pairwise similarity within the same
// ward (approximated here by normalized address prefix), filtered through
// BuildingMergeExclusion and cached for DUPLICATE_CACHE_TTL_SECONDS.
func (m *MergeController) DuplicateCandidates(ctx context.Context) ([]models.DuplicateBuildingCandidate, error) {
	if cached, ok := m.dupCache.get(); ok {
		return cached, nil
	}

	buildings, err := m.store.ListBuildingsWithProperties(ctx)
	if err != nil {
		return nil, fmt.Errorf("list buildings: %w", err)
	}
	exclusions, err := m.store.ListBuildingMergeExclusions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list exclusions: %w", err)
	}
	excluded := make(map[[2]int64]bool, len(exclusions))
	for _, e := range exclusions {
		a, b := e.BuildingID1, e.BuildingID2
		if a > b {
			a, b = b, a
		}
		excluded[[2]int64{a, b}] = true
	}

	buckets := make(map[string][]*models.Building)
	for _, b := range buildings {
		key := runePrefix(b.CanonicalName, 3)
		buckets[key] = append(buckets[key], b)
	}

	var candidates []models.DuplicateBuildingCandidate
	for _, group := range buckets {
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				if identity.AddressPrefix(a.Address) == "" || identity.AddressPrefix(a.Address) != identity.AddressPrefix(b.Address) {
					continue
				}
				id1, id2 := a.ID, b.ID
				if id1 > id2 {
					id1, id2 = id2, id1
				}
				if excluded[[2]int64{id1, id2}] {
					continue
				}

				if a.CanonicalName == b.CanonicalName {
					candidates = append(candidates, models.DuplicateBuildingCandidate{BuildingID1: id1, BuildingID2: id2, Reason: "canonical_name", Similarity: 1})
					continue
				}
				if matchCount := attributeMatchCount(a, b); matchCount >= 2 {
					sim := identity.SimilarityRatio(a.CanonicalName, b.CanonicalName)
					candidates = append(candidates, models.DuplicateBuildingCandidate{BuildingID1: id1, BuildingID2: id2, Reason: "address_and_attributes", Similarity: sim})
				}
			}
		}
	}

	m.dupCache.set(candidates)
	return candidates, nil
}

func attributeMatchCount(a, b *models.Building) int {
	count := 0
	if intEq(a.BuiltYear, b.BuiltYear) {
		count++
	}
	if intEq(a.TotalFloors, b.TotalFloors) {
		count++
	}
	if intEq(a.TotalUnits, b.TotalUnits) {
		count++
	}
	return count
}

func intEq(a, b *int) bool {
	return a != nil && b != nil && *a == *b
}

func runePrefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// dupCandidateCache is a tiny TTL cache for the duplicate-detection result,
// keyed by nothing (one global query filter for now: "cache
// results for 5 minutes (keyed by query filters)"). InvalidateAll clears it
// immediately, as every merge must.
type dupCandidateCache struct {
	ttl time.Duration
	computed time.Time
	candidate []models.DuplicateBuildingCandidate
	valid bool
}

func newDupCandidateCache(ttl time.Duration) *dupCandidateCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &dupCandidateCache{ttl: ttl}
}

func (c *dupCandidateCache) get() ([]models.DuplicateBuildingCandidate, bool) {
	if !c.valid || time.Since(c.computed) > c.ttl {
		return nil, false
	}
	return c.candidate, true
}

func (c *dupCandidateCache) set(v []models.DuplicateBuildingCandidate) {
	c.candidate = v
	c.computed = time.Now()
	c.valid = true
}

func (c *dupCandidateCache) invalidateAll() {
	c.valid = false
}
