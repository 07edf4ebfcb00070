// Package services implements the reconciliation engine's stateful
// components that sit downstream of identity resolution: majority-vote
// attribute reconciliation (C3), listing lifecycle (C4), price-change
// derivation (C5), merge/split control (C6), the 404/price-mismatch retry
// ledger (C9), and the recent-updates projection (C10).
package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"condoreconcile/identity"
	"condoreconcile/models"
)

// VoteStore is the persistence slice the Majority-Vote Updater needs.
type VoteStore interface {
	GetProperty(ctx context.Context, propertyID int64) (*models.MasterProperty, error)
	ListListingsForProperty(ctx context.Context, propertyID int64) ([]*models.Listing, error)
	UpdatePropertyAttributes(ctx context.Context, propertyID int64, attrs PropertyAttributes) error

	GetBuilding(ctx context.Context, buildingID int64) (*models.Building, error)
	ListListingsForBuilding(ctx context.Context, buildingID int64) ([]*models.Listing, error)
	UpdateBuildingAttributes(ctx context.Context, buildingID int64, attrs BuildingAttributes) error
	UpsertBuildingListingName(ctx context.Context, buildingID int64, normalizedName, canonicalName, sourceSite string, count int) error
}

// Voter implements C3.
type Voter struct {
	store VoteStore
}

func NewVoter(store VoteStore) *Voter {
	return &Voter{store: store}
}

// ballot is one (value, source_site) observation plus its derived weight,
// steps 1-4.
type ballot struct {
	bucket string // normalized grouping key
	original string // original representation, kept for the winning pick
	source string
	weight float64
}

// vote steps 4-5: weight, group by bucket, pick the
// largest-weight bucket, then the largest-weight original within it
// (ties broken by source priority). Returns "", false if there were no
// ballots.
func vote(ballots []ballot) (string, bool) {
	if len(ballots) == 0 {
		return "", false
	}
	byBucket := make(map[string][]ballot)
	for _, b := range ballots {
		byBucket[b.bucket] = append(byBucket[b.bucket], b)
	}

	var winningBucket string
	var winningWeight float64 = -1
	for bucket, bs := range byBucket {
		total := 0.0
		for _, b := range bs {
			total += b.weight
		}
		if total > winningWeight {
			winningWeight = total
			winningBucket = bucket
		}
	}

	within := byBucket[winningBucket]
	sort.SliceStable(within, func(i, j int) bool {
		if within[i].weight != within[j].weight {
			return within[i].weight > within[j].weight
		}
		return models.SourcePriorityIndex(within[i].source) < models.SourcePriorityIndex(within[j].source)
	})
	return within[0].original, true
}

// weightFor step 4: base weight 1 times the source-priority
// multiplier, times 0.1 if the value is ad-copy.
func weightFor(sourceSite string, adCopy bool) float64 {
	w := float64(models.SourcePriorityWeight(sourceSite))
	if adCopy {
		w *= 0.1
	}
	return w
}

// activeListingsOrFallback step 2's source-selection rule.
func activeListingsOrFallback(listings []*models.Listing, soldAt *time.Time) []*models.Listing {
	var active []*models.Listing
	for _, l := range listings {
		if l.IsActive {
			active = append(active, l)
		}
	}
	if len(active) > 0 {
		return active
	}
	if soldAt != nil {
		windowStart := soldAt.Add(-7 * 24 * time.Hour)
		var windowed []*models.Listing
		for _, l := range listings {
			if !l.LastConfirmedAt.Before(windowStart) && !l.LastConfirmedAt.After(*soldAt) {
				windowed = append(windowed, l)
			}
		}
		if len(windowed) > 0 {
			return windowed
		}
	}
	return listings
}

// PropertyAttributes is the majority-vote output written to a MasterProperty.
type PropertyAttributes struct {
	FloorNumber *int
	Area *float64
	Layout *string
	Direction *string
	BalconyArea *float64
	ManagementFee *int
	RepairFund *int
	CurrentPrice *int
	StationInfo string
	ParkingInfo string
	DisplayBuildingName string
}

// RefreshProperty recomputes a property's majority-vote attributes from its
// active listings.
func (v *Voter) RefreshProperty(ctx context.Context, propertyID int64) error {
	prop, err := v.store.GetProperty(ctx, propertyID)
	if err != nil {
		return fmt.Errorf("get property: %w", err)
	}
	if prop == nil {
		return nil
	}
	listings, err := v.store.ListListingsForProperty(ctx, propertyID)
	if err != nil {
		return fmt.Errorf("list listings: %w", err)
	}
	pool := activeListingsOrFallback(listings, prop.SoldAt)
	if len(pool) == 0 {
		return nil
	}

	attrs := PropertyAttributes{}

	if s, ok := voteInt(pool, func(l *models.Listing) *int { return l.ListingFloorNumber }); ok {
		attrs.FloorNumber = s
	}
	if s, ok := voteFloat(pool, func(l *models.Listing) *float64 { return l.ListingArea }); ok {
		attrs.Area = s
	}
	if s, ok := voteFloat(pool, func(l *models.Listing) *float64 { return l.ListingBalconyArea }); ok {
		attrs.BalconyArea = s
	}
	if s, ok := voteInt(pool, func(l *models.Listing) *int { return l.ManagementFee }); ok {
		attrs.ManagementFee = s
	}
	if s, ok := voteInt(pool, func(l *models.Listing) *int { return l.RepairFund }); ok {
		attrs.RepairFund = s
	}
	if s, ok := voteInt(pool, func(l *models.Listing) *int { return l.CurrentPrice }); ok {
		attrs.CurrentPrice = s
	}

	layoutBallots := make([]ballot, 0, len(pool))
	for _, l := range pool {
		if l.ListingLayout == nil || *l.ListingLayout == "" {
			continue
		}
		layoutBallots = append(layoutBallots, ballot{
			bucket: identity.NormalizeLayout(*l.ListingLayout), original: *l.ListingLayout,
			source: l.SourceSite, weight: weightFor(l.SourceSite, false),
		})
	}
	if winner, ok := vote(layoutBallots); ok {
		attrs.Layout = &winner
	}

	directionBallots := make([]ballot, 0, len(pool))
	for _, l := range pool {
		if l.ListingDirection == nil || *l.ListingDirection == "" {
			continue
		}
		directionBallots = append(directionBallots, ballot{
			bucket: identity.NormalizeDirection(*l.ListingDirection), original: *l.ListingDirection,
			source: l.SourceSite, weight: weightFor(l.SourceSite, false),
		})
	}
	if winner, ok := vote(directionBallots); ok {
		attrs.Direction = &winner
	}

	stationBallots := make([]ballot, 0, len(pool))
	for _, l := range pool {
		if l.ListingStationInfo == nil || *l.ListingStationInfo == "" {
			continue
		}
		bucket := collapseWhitespace(*l.ListingStationInfo)
		stationBallots = append(stationBallots, ballot{bucket: bucket, original: *l.ListingStationInfo, source: l.SourceSite, weight: weightFor(l.SourceSite, false)})
	}
	if winner, ok := vote(stationBallots); ok {
		attrs.StationInfo = winner
	}

	nameBallots := make([]ballot, 0, len(pool))
	for _, l := range pool {
		if l.ListingBuildingName == "" {
			continue
		}
		adCopy := identity.IsAdvertisingText(l.ListingBuildingName)
		nameBallots = append(nameBallots, ballot{
			bucket: identity.Canonicalize(l.ListingBuildingName), original: identity.Normalize(l.ListingBuildingName),
			source: l.SourceSite, weight: weightFor(l.SourceSite, adCopy),
		})
	}
	if winner, ok := vote(nameBallots); ok {
		attrs.DisplayBuildingName = winner
	}

	return v.store.UpdatePropertyAttributes(ctx, propertyID, attrs)
}

// BuildingAttributes is the majority-vote output written to a Building.
type BuildingAttributes struct {
	Address string
	NormalizedAddress string
	TotalFloors *int
	BasementFloors *int
	TotalUnits *int
	BuiltYear *int
	BuiltMonth *int
	ConstructionType string
	LandRights string
	StationInfo string
	NormalizedName string
}

// RefreshBuilding recomputes a building's majority-vote attributes from its
// properties' active listings.
func (v *Voter) RefreshBuilding(ctx context.Context, buildingID int64) error {
	building, err := v.store.GetBuilding(ctx, buildingID)
	if err != nil {
		return fmt.Errorf("get building: %w", err)
	}
	if building == nil {
		return nil
	}
	listings, err := v.store.ListListingsForBuilding(ctx, buildingID)
	if err != nil {
		return fmt.Errorf("list listings: %w", err)
	}
	pool := activeListingsOrFallback(listings, nil)
	if len(pool) == 0 {
		return nil
	}

	attrs := BuildingAttributes{}

	addrBallots := make([]ballot, 0, len(pool))
	for _, l := range pool {
		if l.ListingAddress == nil || *l.ListingAddress == "" {
			continue
		}
		norm := identity.NormalizeAddress(*l.ListingAddress)
		addrBallots = append(addrBallots, ballot{bucket: norm, original: *l.ListingAddress, source: l.SourceSite, weight: weightFor(l.SourceSite, false)})
	}
	if winner, ok := vote(addrBallots); ok {
		attrs.Address = winner
		attrs.NormalizedAddress = identity.AddressPrefix(winner)
	}

	if s, ok := voteInt(pool, func(l *models.Listing) *int { return l.ListingTotalFloors }); ok {
		attrs.TotalFloors = s
	}
	if s, ok := voteInt(pool, func(l *models.Listing) *int { return l.ListingBasementFloors }); ok {
		attrs.BasementFloors = s
	}
	if s, ok := voteInt(pool, func(l *models.Listing) *int { return l.ListingTotalUnits }); ok {
		attrs.TotalUnits = s
	}
	if s, ok := voteInt(pool, func(l *models.Listing) *int { return l.ListingBuiltYear }); ok {
		attrs.BuiltYear = s
	}
	if s, ok := voteInt(pool, func(l *models.Listing) *int { return l.ListingBuiltMonth }); ok {
		attrs.BuiltMonth = s
	}

	structBallots := make([]ballot, 0, len(pool))
	for _, l := range pool {
		if l.ListingBuildingStructure == nil || *l.ListingBuildingStructure == "" {
			continue
		}
		structBallots = append(structBallots, ballot{bucket: identity.Normalize(*l.ListingBuildingStructure), original: *l.ListingBuildingStructure, source: l.SourceSite, weight: weightFor(l.SourceSite, false)})
	}
	if winner, ok := vote(structBallots); ok {
		attrs.ConstructionType = winner
	}

	stationBallots := make([]ballot, 0, len(pool))
	for _, l := range pool {
		if l.ListingStationInfo == nil || *l.ListingStationInfo == "" {
			continue
		}
		stationBallots = append(stationBallots, ballot{bucket: collapseWhitespace(*l.ListingStationInfo), original: *l.ListingStationInfo, source: l.SourceSite, weight: weightFor(l.SourceSite, false)})
	}
	if winner, ok := vote(stationBallots); ok {
		attrs.StationInfo = winner
	}

	if err := v.refreshBuildingName(ctx, buildingID, pool, &attrs); err != nil {
		return err
	}

	return v.store.UpdateBuildingAttributes(ctx, buildingID, attrs)
}

// refreshBuildingName implements the extra building-name voting rules of
//: group by canonical name first, pick the most common original
// representation within the winning group, and never let an ad-copy value
// win when a non-ad-copy candidate exists. It also upserts
// BuildingListingName for every distinct name observed.
func (v *Voter) refreshBuildingName(ctx context.Context, buildingID int64, pool []*models.Listing, attrs *BuildingAttributes) error {
	type nameAgg struct {
		original string
		count int
		adCopy bool
		source string
	}
	byCanonical := make(map[string][]*nameAgg)
	bySource := make(map[string]map[string]int) // canonical -> source -> count

	for _, l := range pool {
		if l.ListingBuildingName == "" {
			continue
		}
		canon := identity.Canonicalize(l.ListingBuildingName)
		norm := identity.Normalize(l.ListingBuildingName)
		adCopy := identity.IsAdvertisingText(l.ListingBuildingName)

		group := byCanonical[canon]
		found := false
		for _, a := range group {
			if a.original == norm {
				a.count++
				found = true
				break
			}
		}
		if !found {
			byCanonical[canon] = append(byCanonical[canon], &nameAgg{original: norm, count: 1, adCopy: adCopy, source: l.SourceSite})
		}

		if bySource[canon] == nil {
			bySource[canon] = make(map[string]int)
		}
		bySource[canon][l.SourceSite]++

		if err := v.store.UpsertBuildingListingName(ctx, buildingID, norm, canon, l.SourceSite, 1); err != nil {
			return fmt.Errorf("upsert building listing name: %w", err)
		}
	}

	// Weight each canonical group; ad-copy groups only win if no non-ad-copy
	// group exists.
	var bestCanon string
	var bestWeight float64 = -1
	hasNonAdCopy := false
	for canon, group := range byCanonical {
		anyNonAdCopy := false
		weight := 0.0
		for _, a := range group {
			w := weightFor(a.source, a.adCopy) * float64(a.count)
			weight += w
			if !a.adCopy {
				anyNonAdCopy = true
			}
		}
		if anyNonAdCopy {
			hasNonAdCopy = true
		}
		if !hasNonAdCopy || anyNonAdCopy {
			if weight > bestWeight {
				bestWeight = weight
				bestCanon = canon
			}
		}
	}
	// Second pass if the running-best got overtaken by an ad-copy-only
	// group before we learned a non-ad-copy group exists.
	if hasNonAdCopy {
		bestWeight = -1
		for canon, group := range byCanonical {
			anyNonAdCopy := false
			weight := 0.0
			for _, a := range group {
				if !a.adCopy {
					anyNonAdCopy = true
				}
				weight += weightFor(a.source, a.adCopy) * float64(a.count)
			}
			if !anyNonAdCopy {
				continue
			}
			if weight > bestWeight {
				bestWeight = weight
				bestCanon = canon
			}
		}
	}

	if bestCanon == "" {
		return nil
	}
	group := byCanonical[bestCanon]
	sort.SliceStable(group, func(i, j int) bool { return group[i].count > group[j].count })
	attrs.NormalizedName = group[0].original
	return nil
}

func collapseWhitespace(s string) string {
	return identity.Normalize(s)
}

func voteInt(pool []*models.Listing, get func(*models.Listing) *int) (*int, bool) {
	ballots := make([]ballot, 0, len(pool))
	for _, l := range pool {
		v := get(l)
		if v == nil {
			continue
		}
		ballots = append(ballots, ballot{bucket: fmt.Sprint(*v), original: fmt.Sprint(*v), source: l.SourceSite, weight: weightFor(l.SourceSite, false)})
	}
	winner, ok := vote(ballots)
	if !ok {
		return nil, false
	}
	var out int
	fmt.Sscanf(winner, "%d", &out)
	return &out, true
}

func voteFloat(pool []*models.Listing, get func(*models.Listing) *float64) (*float64, bool) {
	ballots := make([]ballot, 0, len(pool))
	for _, l := range pool {
		v := get(l)
		if v == nil {
			continue
		}
		ballots = append(ballots, ballot{bucket: fmt.Sprintf("%.3f", *v), original: fmt.Sprintf("%.3f", *v), source: l.SourceSite, weight: weightFor(l.SourceSite, false)})
	}
	winner, ok := vote(ballots)
	if !ok {
		return nil, false
	}
	var out float64
	fmt.Sscanf(winner, "%f", &out)
	return &out, true
}
