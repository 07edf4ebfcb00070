// Package identity also implements the Identity Resolver (C2): mapping a
// RawListing to a (Building, MasterProperty, Listing) triple, creating
// entities as needed, per spec.md.
package identity

import (
	"context"
	"fmt"
	"math"
	"time"

	"condoreconcile/models"
)

// areaTolerance is the ± window (m²) used when matching a MasterProperty by
// its composite key without a room number.
const areaTolerance = 0.5

// Store is the slice of persistence operations the resolver needs. A real
// implementation is storage.PostgresStore; tests can supply a fake.
type Store interface {
	FindListingByKey(ctx context.Context, sourceSite, sitePropertyID string) (*models.Listing, error)
	FindBuildingByCanonicalAndAddress(ctx context.Context, canonical, addressPrefix string) (*models.Building, error)
	FindBuildingsByListingName(ctx context.Context, canonical string) ([]*models.Building, error)
	CreateBuilding(ctx context.Context, b *models.Building) (int64, error)
	ResolveBuildingRedirect(ctx context.Context, buildingID int64) (int64, error)

	FindPropertiesByRoomNumber(ctx context.Context, buildingID int64, roomNumber string) ([]*models.MasterProperty, error)
	FindPropertiesByComposite(ctx context.Context, buildingID int64, floor *int, area *float64, areaTolerance float64, layout, direction string) ([]*models.MasterProperty, error)
	CreateProperty(ctx context.Context, p *models.MasterProperty) (int64, error)
	ResolvePropertyRedirect(ctx context.Context, propertyID int64) (int64, error)
	ListPropertyMergeHistoryForBuilding(ctx context.Context, buildingID int64) ([]*models.PropertyMergeHistory, error)
	RecordAmbiguousMatch(ctx context.Context, m *models.AmbiguousPropertyMatch) error
	CountListingsForProperty(ctx context.Context, propertyID int64) (int, error)

	UpsertListing(ctx context.Context, l *models.Listing) (created bool, err error)
	AppendPriceHistory(ctx context.Context, listingID int64, price int, at time.Time) error
}

// Resolver implements C2 against a Store.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// ResolveResult reports what happened so the caller can enqueue C3/C5 work
// and update per-pair statistics.
type ResolveResult struct {
	BuildingID int64
	MasterPropertyID int64
	ListingID int64
	Classification string // "new", "price_changed", "other_updates", "refetched_unchanged"
	SaveFailed bool
}

const (
	ClassNew = "new"
	ClassPriceChanged = "price_changed"
	ClassOtherUpdates = "other_updates"
	ClassRefetchedUnchanged = "refetched_unchanged"
)

// Resolve runs the full algorithm for one RawListing. Callers are
// expected to run this inside a single transaction per listing (the
// implementation of Store is responsible for that boundary). A failed
// property creation is retried once here; if the retry also fails the
// result is marked SaveFailed.
func (r *Resolver) Resolve(ctx context.Context, raw *models.RawListing) (*ResolveResult, error) {
	// Step 1: find by listing key — if it already exists we skip identity
	// search entirely and go straight to the listing upsert (step 5/6).
	existing, err := r.store.FindListingByKey(ctx, raw.SourceSite, raw.SitePropertyID)
	if err != nil {
		return nil, fmt.Errorf("find listing by key: %w", err)
	}
	if existing != nil {
		return r.updateExistingListing(ctx, existing, raw)
	}

	buildingID, err := r.resolveBuilding(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("resolve building: %w", err)
	}

	propertyID, err := r.resolveProperty(ctx, buildingID, raw)
	if err != nil {
		return nil, fmt.Errorf("resolve property: %w", err)
	}
	// Retry once on unique-constraint conflict from a concurrent inserter:
	// the caller's Store is expected to surface that as a typed error; here
	// we just re-run the search+create once more.
	if propertyID == 0 {
		propertyID, err = r.resolveProperty(ctx, buildingID, raw)
		if err != nil {
			return &ResolveResult{BuildingID: buildingID, SaveFailed: true}, nil
		}
		if propertyID == 0 {
			return &ResolveResult{BuildingID: buildingID, SaveFailed: true}, nil
		}
	}

	listing := listingFromRaw(raw, propertyID)
	created, err := r.store.UpsertListing(ctx, listing)
	if err != nil {
		return nil, fmt.Errorf("upsert listing: %w", err)
	}

	res := &ResolveResult{BuildingID: buildingID, MasterPropertyID: propertyID, ListingID: listing.ID}
	if created {
		res.Classification = ClassNew
		if raw.CurrentPrice != nil {
			if err := r.store.AppendPriceHistory(ctx, listing.ID, *raw.CurrentPrice, time.Now()); err != nil {
				return nil, fmt.Errorf("append price history: %w", err)
			}
		}
		return res, nil
	}
	res.Classification = ClassOtherUpdates
	return res, nil
}

// updateExistingListing handles step 1's fast path plus the step 6
// price-diff classification, for a RawListing whose (source_site,
// site_property_id) already maps to a Listing.
func (r *Resolver) updateExistingListing(ctx context.Context, existing *models.Listing, raw *models.RawListing) (*ResolveResult, error) {
	propertyID, err := r.store.ResolvePropertyRedirect(ctx, existing.MasterPropertyID)
	if err != nil {
		return nil, fmt.Errorf("resolve property redirect: %w", err)
	}

	priceChanged := raw.CurrentPrice != nil && (existing.CurrentPrice == nil || *existing.CurrentPrice != *raw.CurrentPrice)
	otherChanged := attributesChanged(existing, raw)

	applyRawToListing(existing, raw)
	existing.MasterPropertyID = propertyID
	existing.IsActive = true
	now := time.Now()
	existing.LastConfirmedAt = now
	existing.LastScrapedAt = now
	if priceChanged {
		existing.PriceUpdatedAt = &now
	}

	if _, err := r.store.UpsertListing(ctx, existing); err != nil {
		return nil, fmt.Errorf("upsert listing: %w", err)
	}

	res := &ResolveResult{BuildingID: 0, MasterPropertyID: propertyID, ListingID: existing.ID}
	switch {
	case priceChanged:
		if err := r.store.AppendPriceHistory(ctx, existing.ID, *raw.CurrentPrice, now); err != nil {
			return nil, fmt.Errorf("append price history: %w", err)
		}
		res.Classification = ClassPriceChanged
	case otherChanged:
		res.Classification = ClassOtherUpdates
	default:
		res.Classification = ClassRefetchedUnchanged
	}
	return res, nil
}

// resolveBuilding step 2.
func (r *Resolver) resolveBuilding(ctx context.Context, raw *models.RawListing) (int64, error) {
	canonical := Canonicalize(raw.BuildingName)
	addr := ""
	if raw.ListingAddress != nil {
		addr = AddressPrefix(*raw.ListingAddress)
	}

	if b, err := r.store.FindBuildingByCanonicalAndAddress(ctx, canonical, addr); err != nil {
		return 0, err
	} else if b != nil {
		return r.store.ResolveBuildingRedirect(ctx, b.ID)
	}

	if candidates, err := r.store.FindBuildingsByListingName(ctx, canonical); err != nil {
		return 0, err
	} else {
		for _, b := range candidates {
			if addr == "" || AddressPrefix(b.Address) == addr {
				return r.store.ResolveBuildingRedirect(ctx, b.ID)
			}
		}
	}

	isValid := !IsAdvertisingText(raw.BuildingName)
	b := &models.Building{
		NormalizedName: Normalize(raw.BuildingName),
		CanonicalName: canonical,
		IsValidName: isValid,
		NormalizedAddress: addr,
	}
	if raw.ListingAddress != nil {
		b.Address = *raw.ListingAddress
	}
	id, err := r.store.CreateBuilding(ctx, b)
	if err != nil {
		return 0, err
	}
	return r.store.ResolveBuildingRedirect(ctx, id)
}

// resolveProperty step 3. A zero return with nil error means
// "create raced with a concurrent inserter; caller should retry once".
func (r *Resolver) resolveProperty(ctx context.Context, buildingID int64, raw *models.RawListing) (int64, error) {
	var candidates []*models.MasterProperty
	var err error

	if raw.RoomNumber != nil && *raw.RoomNumber != "" {
		candidates, err = r.store.FindPropertiesByRoomNumber(ctx, buildingID, *raw.RoomNumber)
	} else {
		layout, direction := "", ""
		if raw.ListingLayout != nil {
			layout = NormalizeLayout(*raw.ListingLayout)
		}
		if raw.ListingDirection != nil {
			direction = NormalizeDirection(*raw.ListingDirection)
		}
		candidates, err = r.store.FindPropertiesByComposite(ctx, buildingID, raw.ListingFloorNumber, raw.ListingArea, areaTolerance, layout, direction)
	}
	if err != nil {
		return 0, err
	}

	switch len(candidates) {
	case 0:
		p := &models.MasterProperty{BuildingID: buildingID}
		applyPropertyFieldsFromRaw(p, raw)
		id, err := r.store.CreateProperty(ctx, p)
		if err != nil {
			return 0, nil // signal retry
		}
		return r.store.ResolvePropertyRedirect(ctx, id)
	case 1:
		return r.store.ResolvePropertyRedirect(ctx, candidates[0].ID)
	default:
		chosen, confidence, err := r.disambiguate(ctx, buildingID, candidates, raw)
		if err != nil {
			return 0, err
		}
		_ = r.store.RecordAmbiguousMatch(ctx, &models.AmbiguousPropertyMatch{
			BuildingID: buildingID,
			ListingDescriptor: fmt.Sprintf("%s/%s", raw.SourceSite, raw.SitePropertyID),
			CandidatePropertyIDs: propertyIDs(candidates),
			SelectedPropertyID: chosen.ID,
			Confidence: confidence,
			CreatedAt: time.Now(),
		})
		return r.store.ResolvePropertyRedirect(ctx, chosen.ID)
	}
}

// disambiguate: apply the learning heuristic (equivalence
// classes derived from PropertyMergeHistory), then break ties by closeness
// on non-key attributes, then by listing count.
func (r *Resolver) disambiguate(ctx context.Context, buildingID int64, candidates []*models.MasterProperty, raw *models.RawListing) (*models.MasterProperty, float64, error) {
	history, err := r.store.ListPropertyMergeHistoryForBuilding(ctx, buildingID)
	if err != nil {
		return nil, 0, err
	}
	equivalences := NewLearnedEquivalences(history)

	filtered := candidates
	if len(candidates) > 1 {
		filtered = equivalences.Collapse(candidates)
	}
	if len(filtered) == 1 {
		return filtered[0], 0.9, nil
	}

	best := filtered[0]
	bestScore := -1.0
	for _, c := range filtered {
		score := attributeCloseness(c, raw)
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	if bestScore <= 0 {
		// final tie-break: most prior listings
		maxCount := -1
		for _, c := range filtered {
			n, err := r.store.CountListingsForProperty(ctx, c.ID)
			if err != nil {
				continue
			}
			if n > maxCount {
				maxCount = n
				best = c
			}
		}
	}
	confidence := 1.0 / float64(len(filtered))
	return best, confidence, nil
}

func attributeCloseness(c *models.MasterProperty, raw *models.RawListing) float64 {
	score := 0.0
	if raw.ListingBalconyArea != nil && c.BalconyArea != nil {
		if math.Abs(*raw.ListingBalconyArea-*c.BalconyArea) < 1.0 {
			score++
		}
	}
	if raw.ListingStationInfo != nil && c.StationInfo != "" && *raw.ListingStationInfo == c.StationInfo {
		score++
	}
	return score
}

func propertyIDs(props []*models.MasterProperty) []int64 {
	ids := make([]int64, len(props))
	for i, p := range props {
		ids[i] = p.ID
	}
	return ids
}

func attributesChanged(existing *models.Listing, raw *models.RawListing) bool {
	if raw.ListingAddress != nil && (existing.ListingAddress == nil || *existing.ListingAddress != *raw.ListingAddress) {
		return true
	}
	if raw.HasUpdateMark && !existing.HasUpdateMark {
		return true
	}
	if raw.ManagementFee != nil && (existing.ManagementFee == nil || *existing.ManagementFee != *raw.ManagementFee) {
		return true
	}
	if raw.RepairFund != nil && (existing.RepairFund == nil || *existing.RepairFund != *raw.RepairFund) {
		return true
	}
	return false
}

func applyRawToListing(l *models.Listing, raw *models.RawListing) {
	l.URL = raw.URL
	l.ListingBuildingName = raw.BuildingName
	l.ListingAddress = raw.ListingAddress
	l.ListingFloorNumber = raw.ListingFloorNumber
	l.ListingArea = raw.ListingArea
	l.ListingLayout = raw.ListingLayout
	l.ListingDirection = raw.ListingDirection
	l.ListingTotalFloors = raw.ListingTotalFloors
	l.ListingBuiltYear = raw.ListingBuiltYear
	l.ListingBuiltMonth = raw.ListingBuiltMonth
	l.ListingBalconyArea = raw.ListingBalconyArea
	l.ListingTotalUnits = raw.ListingTotalUnits
	l.ListingBasementFloors = raw.ListingBasementFloors
	l.ListingStationInfo = raw.ListingStationInfo
	l.ListingBuildingStructure = raw.ListingBuildingStructure
	l.RoomNumber = raw.RoomNumber
	if raw.CurrentPrice != nil {
		l.CurrentPrice = raw.CurrentPrice
	}
	l.ManagementFee = raw.ManagementFee
	l.RepairFund = raw.RepairFund
	l.AgencyName = raw.AgencyName
	l.AgencyTel = raw.AgencyTel
	l.HasUpdateMark = raw.HasUpdateMark
	l.FirstPublishedAt = raw.FirstPublishedAt
	l.PublishedAt = raw.PublishedAt
}

func listingFromRaw(raw *models.RawListing, propertyID int64) *models.Listing {
	now := time.Now()
	l := &models.Listing{
		MasterPropertyID: propertyID,
		SourceSite: raw.SourceSite,
		SitePropertyID: raw.SitePropertyID,
		IsActive: true,
		FirstSeenAt: now,
		LastScrapedAt: now,
		LastConfirmedAt: now,
	}
	applyRawToListing(l, raw)
	return l
}

func applyPropertyFieldsFromRaw(p *models.MasterProperty, raw *models.RawListing) {
	p.RoomNumber = raw.RoomNumber
	p.FloorNumber = raw.ListingFloorNumber
	p.Area = raw.ListingArea
	p.BalconyArea = raw.ListingBalconyArea
	if raw.ListingLayout != nil {
		l := NormalizeLayout(*raw.ListingLayout)
		p.Layout = &l
	}
	if raw.ListingDirection != nil {
		d := NormalizeDirection(*raw.ListingDirection)
		p.Direction = &d
	}
	p.DisplayBuildingName = Normalize(raw.BuildingName)
	if raw.CurrentPrice != nil {
		p.CurrentPrice = raw.CurrentPrice
	}
	p.ManagementFee = raw.ManagementFee
	p.RepairFund = raw.RepairFund
	if raw.ListingStationInfo != nil {
		p.StationInfo = *raw.ListingStationInfo
	}
}
