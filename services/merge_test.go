package services

import (
	"context"
	"testing"

	"condoreconcile/models"
)

type fakeMergeStore struct {
	buildings          map[int64]*models.Building
	propertiesByBuilding map[int64][]*models.MasterProperty
	properties         map[int64]*models.MasterProperty
	listingsByProperty map[int64][]*models.Listing
	deletedBuildings   map[int64]int64
	deletedProperties  map[int64]int64
	deletedListings    map[int64]bool
	buildingHistory    []*models.BuildingMergeHistory
	propertyHistory    []*models.PropertyMergeHistory
	nextHistoryID      int64
	filledNullFor      []int64
	allBuildings       []*models.Building
	exclusions         []*models.BuildingMergeExclusion
}

func newFakeMergeStore() *fakeMergeStore {
	return &fakeMergeStore{
		buildings:            make(map[int64]*models.Building),
		propertiesByBuilding: make(map[int64][]*models.MasterProperty),
		properties:           make(map[int64]*models.MasterProperty),
		listingsByProperty:   make(map[int64][]*models.Listing),
		deletedBuildings:     make(map[int64]int64),
		deletedProperties:    make(map[int64]int64),
		deletedListings:      make(map[int64]bool),
	}
}

func (s *fakeMergeStore) GetBuilding(ctx context.Context, id int64) (*models.Building, error) {
	return s.buildings[id], nil
}
func (s *fakeMergeStore) ListPropertiesForBuilding(ctx context.Context, buildingID int64) ([]*models.MasterProperty, error) {
	return s.propertiesByBuilding[buildingID], nil
}
func (s *fakeMergeStore) ReassignPropertyBuilding(ctx context.Context, propertyID, newBuildingID int64) error {
	p := s.properties[propertyID]
	p.BuildingID = newBuildingID
	return nil
}
func (s *fakeMergeStore) FindCollidingProperty(ctx context.Context, buildingID int64, p *models.MasterProperty) (*models.MasterProperty, error) {
	for _, existing := range s.propertiesByBuilding[buildingID] {
		if existing.RoomNumber != nil && p.RoomNumber != nil && *existing.RoomNumber == *p.RoomNumber {
			return existing, nil
		}
	}
	return nil, nil
}
func (s *fakeMergeStore) RedirectBuildingMergeHistory(ctx context.Context, fromFinalPrimary, toPrimary int64) error {
	return nil
}
func (s *fakeMergeStore) DeleteBuildingMergeExclusions(ctx context.Context, buildingID int64) error {
	return nil
}
func (s *fakeMergeStore) InsertBuildingMergeHistory(ctx context.Context, h *models.BuildingMergeHistory) (int64, error) {
	s.nextHistoryID++
	h.ID = s.nextHistoryID
	s.buildingHistory = append(s.buildingHistory, h)
	return h.ID, nil
}
func (s *fakeMergeStore) DeleteBuilding(ctx context.Context, id int64, redirectTo int64) error {
	s.deletedBuildings[id] = redirectTo
	delete(s.buildings, id)
	return nil
}
func (s *fakeMergeStore) RestoreBuilding(ctx context.Context, id int64, snapshot models.BuildingMergeSnapshot) error {
	s.buildings[id] = &models.Building{ID: id, NormalizedName: snapshot.NormalizedName, CanonicalName: snapshot.CanonicalName, Address: snapshot.Address}
	delete(s.deletedBuildings, id)
	return nil
}
func (s *fakeMergeStore) BuildingExists(ctx context.Context, id int64) (bool, error) {
	_, ok := s.buildings[id]
	return ok, nil
}
func (s *fakeMergeStore) GetBuildingMergeHistory(ctx context.Context, id int64) (*models.BuildingMergeHistory, error) {
	for _, h := range s.buildingHistory {
		if h.ID == id {
			return h, nil
		}
	}
	return nil, nil
}
func (s *fakeMergeStore) DeleteBuildingMergeHistory(ctx context.Context, id int64) error { return nil }
func (s *fakeMergeStore) RewriteBuildingMergeChainAfterRevert(ctx context.Context, revertedPrimary int64, revertedHistoryID int64) error {
	return nil
}

func (s *fakeMergeStore) GetProperty(ctx context.Context, id int64) (*models.MasterProperty, error) {
	return s.properties[id], nil
}
func (s *fakeMergeStore) ListListingsForProperty(ctx context.Context, propertyID int64) ([]*models.Listing, error) {
	return s.listingsByProperty[propertyID], nil
}
func (s *fakeMergeStore) FindListingByKeyOnProperty(ctx context.Context, propertyID int64, sourceSite, sitePropertyID string) (*models.Listing, error) {
	for _, l := range s.listingsByProperty[propertyID] {
		if l.SourceSite == sourceSite && l.SitePropertyID == sitePropertyID {
			return l, nil
		}
	}
	return nil, nil
}
func (s *fakeMergeStore) ReassignListingProperty(ctx context.Context, listingID, newPropertyID int64) error {
	return nil
}
func (s *fakeMergeStore) MovePriceHistory(ctx context.Context, fromListingID, toListingID int64) error {
	return nil
}
func (s *fakeMergeStore) DeleteListing(ctx context.Context, listingID int64) error {
	s.deletedListings[listingID] = true
	return nil
}
func (s *fakeMergeStore) FillNullPropertyFields(ctx context.Context, primaryID, secondaryID int64) error {
	s.filledNullFor = append(s.filledNullFor, primaryID)
	return nil
}
func (s *fakeMergeStore) RedirectPropertyMergeHistory(ctx context.Context, fromFinalPrimary, toPrimary int64) error {
	return nil
}
func (s *fakeMergeStore) RewriteAmbiguousMatchReferences(ctx context.Context, fromPropertyID, toPropertyID int64) error {
	return nil
}
func (s *fakeMergeStore) InsertPropertyMergeHistory(ctx context.Context, h *models.PropertyMergeHistory) (int64, error) {
	s.nextHistoryID++
	h.ID = s.nextHistoryID
	s.propertyHistory = append(s.propertyHistory, h)
	return h.ID, nil
}
func (s *fakeMergeStore) DeleteProperty(ctx context.Context, id int64, redirectTo int64) error {
	s.deletedProperties[id] = redirectTo
	delete(s.properties, id)
	return nil
}
func (s *fakeMergeStore) RestoreProperty(ctx context.Context, id int64, buildingID int64, snapshot models.PropertyMergeSnapshot) error {
	s.properties[id] = &models.MasterProperty{ID: id, BuildingID: buildingID, Layout: snapshot.Layout, Direction: snapshot.Direction}
	delete(s.deletedProperties, id)
	return nil
}
func (s *fakeMergeStore) PropertyExists(ctx context.Context, id int64) (bool, error) {
	_, ok := s.properties[id]
	return ok, nil
}
func (s *fakeMergeStore) GetPropertyMergeHistory(ctx context.Context, id int64) (*models.PropertyMergeHistory, error) {
	for _, h := range s.propertyHistory {
		if h.ID == id {
			return h, nil
		}
	}
	return nil, nil
}
func (s *fakeMergeStore) DeletePropertyMergeHistory(ctx context.Context, id int64) error { return nil }
func (s *fakeMergeStore) RewritePropertyMergeChainAfterRevert(ctx context.Context, revertedPrimary int64, revertedHistoryID int64) error {
	return nil
}

func (s *fakeMergeStore) ListBuildingsWithProperties(ctx context.Context) ([]*models.Building, error) {
	return s.allBuildings, nil
}
func (s *fakeMergeStore) ListBuildingMergeExclusions(ctx context.Context) ([]*models.BuildingMergeExclusion, error) {
	return s.exclusions, nil
}

func TestMergePropertiesReassignsListingsAndDeletesSecondary(t *testing.T) {
	store := newFakeMergeStore()
	store.properties[1] = &models.MasterProperty{ID: 1, BuildingID: 100}
	store.properties[2] = &models.MasterProperty{ID: 2, BuildingID: 100}
	store.listingsByProperty[2] = []*models.Listing{
		{ID: 20, SourceSite: models.SourceSuumo, SitePropertyID: "x1"},
	}

	ctrl := NewMergeController(store, nil, nil, nil, 0)
	if err := ctrl.MergeProperties(context.Background(), 1, 2); err != nil {
		t.Fatalf("MergeProperties() error = %v", err)
	}
	if _, exists := store.properties[2]; exists {
		t.Error("secondary property should be deleted (redirected) after merge")
	}
	if store.deletedProperties[2] != 1 {
		t.Errorf("secondary redirect target = %d, want 1", store.deletedProperties[2])
	}
	if len(store.propertyHistory) != 1 {
		t.Fatalf("got %d property merge history rows, want 1", len(store.propertyHistory))
	}
	if len(store.filledNullFor) != 1 || store.filledNullFor[0] != 1 {
		t.Errorf("FillNullPropertyFields called for %v, want [1]", store.filledNullFor)
	}
}

func TestMergePropertiesRejectsDifferentBuildings(t *testing.T) {
	store := newFakeMergeStore()
	store.properties[1] = &models.MasterProperty{ID: 1, BuildingID: 100}
	store.properties[2] = &models.MasterProperty{ID: 2, BuildingID: 200}

	ctrl := NewMergeController(store, nil, nil, nil, 0)
	if err := ctrl.MergeProperties(context.Background(), 1, 2); err == nil {
		t.Error("MergeProperties() across different buildings should error")
	}
}

func TestMergeBuildingsMovesPropertiesAndDeletesSecondary(t *testing.T) {
	store := newFakeMergeStore()
	store.buildings[100] = &models.Building{ID: 100, NormalizedName: "B"}
	store.buildings[200] = &models.Building{ID: 200, NormalizedName: "A"}
	store.properties[5] = &models.MasterProperty{ID: 5, BuildingID: 200}
	store.propertiesByBuilding[200] = []*models.MasterProperty{store.properties[5]}

	ctrl := NewMergeController(store, nil, nil, nil, 0)
	if err := ctrl.MergeBuildings(context.Background(), 100, []int64{200}); err != nil {
		t.Fatalf("MergeBuildings() error = %v", err)
	}
	if store.properties[5].BuildingID != 100 {
		t.Errorf("property building = %d, want 100 (reassigned to primary)", store.properties[5].BuildingID)
	}
	if _, exists := store.buildings[200]; exists {
		t.Error("secondary building should be deleted after merge")
	}
	if len(store.buildingHistory) != 1 {
		t.Errorf("got %d building merge history rows, want 1", len(store.buildingHistory))
	}
}

func TestMergeBuildingsRejectsSelfMerge(t *testing.T) {
	store := newFakeMergeStore()
	ctrl := NewMergeController(store, nil, nil, nil, 0)
	if err := ctrl.MergeBuildings(context.Background(), 100, []int64{100}); err == nil {
		t.Error("MergeBuildings() into itself should error")
	}
}

func TestMergeBuildingsResolvesPropertyCollisionViaMergeProperties(t *testing.T) {
	store := newFakeMergeStore()
	store.buildings[100] = &models.Building{ID: 100}
	store.buildings[200] = &models.Building{ID: 200}
	room := "101"
	store.properties[1] = &models.MasterProperty{ID: 1, BuildingID: 100, RoomNumber: &room}
	store.properties[2] = &models.MasterProperty{ID: 2, BuildingID: 200, RoomNumber: &room}
	store.propertiesByBuilding[200] = []*models.MasterProperty{store.properties[2]}
	store.propertiesByBuilding[100] = []*models.MasterProperty{store.properties[1]}

	ctrl := NewMergeController(store, nil, nil, nil, 0)
	if err := ctrl.MergeBuildings(context.Background(), 100, []int64{200}); err != nil {
		t.Fatalf("MergeBuildings() error = %v", err)
	}
	if _, exists := store.properties[2]; exists {
		t.Error("colliding secondary property should have been merged away")
	}
}

func TestRevertBuildingMergeReassignsPropertyBackWithNoWarnings(t *testing.T) {
	store := newFakeMergeStore()
	store.buildings[100] = &models.Building{ID: 100, NormalizedName: "B"}
	store.buildings[200] = &models.Building{ID: 200, NormalizedName: "A"}
	store.properties[5] = &models.MasterProperty{ID: 5, BuildingID: 200}
	store.propertiesByBuilding[200] = []*models.MasterProperty{store.properties[5]}

	ctrl := NewMergeController(store, nil, nil, nil, 0)
	if err := ctrl.MergeBuildings(context.Background(), 100, []int64{200}); err != nil {
		t.Fatalf("MergeBuildings() error = %v", err)
	}

	result, err := ctrl.RevertBuildingMerge(context.Background(), store.buildingHistory[0].ID)
	if err != nil {
		t.Fatalf("RevertBuildingMerge() error = %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", result.Warnings)
	}
	if _, exists := store.buildings[200]; !exists {
		t.Error("reverted building should exist again")
	}
	if store.properties[5].BuildingID != 200 {
		t.Errorf("property building = %d, want 200 (moved back)", store.properties[5].BuildingID)
	}
}

func TestRevertBuildingMergeWarnsWhenPropertyNoLongerExists(t *testing.T) {
	store := newFakeMergeStore()
	store.buildings[100] = &models.Building{ID: 100, NormalizedName: "B"}
	store.buildings[200] = &models.Building{ID: 200, NormalizedName: "A"}
	store.properties[5] = &models.MasterProperty{ID: 5, BuildingID: 200}
	store.propertiesByBuilding[200] = []*models.MasterProperty{store.properties[5]}

	ctrl := NewMergeController(store, nil, nil, nil, 0)
	if err := ctrl.MergeBuildings(context.Background(), 100, []int64{200}); err != nil {
		t.Fatalf("MergeBuildings() error = %v", err)
	}
	delete(store.properties, 5) // property was deleted by some other path since the merge

	result, err := ctrl.RevertBuildingMerge(context.Background(), store.buildingHistory[0].ID)
	if err != nil {
		t.Fatalf("RevertBuildingMerge() error = %v", err)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want exactly one", result.Warnings)
	}
}

func TestRevertPropertyMergeReassignsListingBackWithNoWarnings(t *testing.T) {
	store := newFakeMergeStore()
	store.properties[1] = &models.MasterProperty{ID: 1, BuildingID: 100}
	store.properties[2] = &models.MasterProperty{ID: 2, BuildingID: 100}
	store.listingsByProperty[2] = []*models.Listing{
		{ID: 20, SourceSite: models.SourceSuumo, SitePropertyID: "x1"},
	}

	ctrl := NewMergeController(store, nil, nil, nil, 0)
	if err := ctrl.MergeProperties(context.Background(), 1, 2); err != nil {
		t.Fatalf("MergeProperties() error = %v", err)
	}
	// The fake store's ReassignListingProperty is a no-op, so reflect the
	// move by hand: listing 20 now lives under the primary.
	store.listingsByProperty[1] = []*models.Listing{{ID: 20, SourceSite: models.SourceSuumo, SitePropertyID: "x1"}}

	result, err := ctrl.RevertPropertyMerge(context.Background(), store.propertyHistory[0].ID)
	if err != nil {
		t.Fatalf("RevertPropertyMerge() error = %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", result.Warnings)
	}
	if _, exists := store.properties[2]; !exists {
		t.Error("reverted property should exist again")
	}
}

func TestRevertPropertyMergeWarnsWhenListingMovedElsewhere(t *testing.T) {
	store := newFakeMergeStore()
	store.properties[1] = &models.MasterProperty{ID: 1, BuildingID: 100}
	store.properties[2] = &models.MasterProperty{ID: 2, BuildingID: 100}
	store.listingsByProperty[2] = []*models.Listing{
		{ID: 20, SourceSite: models.SourceSuumo, SitePropertyID: "x1"},
	}

	ctrl := NewMergeController(store, nil, nil, nil, 0)
	if err := ctrl.MergeProperties(context.Background(), 1, 2); err != nil {
		t.Fatalf("MergeProperties() error = %v", err)
	}
	// Leave store.listingsByProperty[1] empty, simulating the listing having
	// moved to some other property since the merge.

	result, err := ctrl.RevertPropertyMerge(context.Background(), store.propertyHistory[0].ID)
	if err != nil {
		t.Fatalf("RevertPropertyMerge() error = %v", err)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want exactly one", result.Warnings)
	}
}

func TestDuplicateCandidatesDetectsCanonicalNameMatch(t *testing.T) {
	store := newFakeMergeStore()
	store.allBuildings = []*models.Building{
		{ID: 1, CanonicalName: "シロカネザスカイ", Address: "港区白金台"},
		{ID: 2, CanonicalName: "シロカネザスカイ", Address: "港区白金台"},
	}
	ctrl := NewMergeController(store, nil, nil, nil, 0)
	candidates, err := ctrl.DuplicateCandidates(context.Background())
	if err != nil {
		t.Fatalf("DuplicateCandidates() error = %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(candidates))
	}
	if candidates[0].Reason != "canonical_name" {
		t.Errorf("Reason = %q, want %q", candidates[0].Reason, "canonical_name")
	}
}

func TestDuplicateCandidatesRespectsExclusions(t *testing.T) {
	store := newFakeMergeStore()
	store.allBuildings = []*models.Building{
		{ID: 1, CanonicalName: "シロカネザスカイ", Address: "港区白金台"},
		{ID: 2, CanonicalName: "シロカネザスカイ", Address: "港区白金台"},
	}
	store.exclusions = []*models.BuildingMergeExclusion{{BuildingID1: 1, BuildingID2: 2}}
	ctrl := NewMergeController(store, nil, nil, nil, 0)
	candidates, err := ctrl.DuplicateCandidates(context.Background())
	if err != nil {
		t.Fatalf("DuplicateCandidates() error = %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("got %d candidates, want 0 (pair is excluded)", len(candidates))
	}
}

func TestDuplicateCandidatesIgnoresDifferentAddresses(t *testing.T) {
	store := newFakeMergeStore()
	store.allBuildings = []*models.Building{
		{ID: 1, CanonicalName: "シロカネザスカイ", Address: "港区白金台5丁目"},
		{ID: 2, CanonicalName: "シロカネザスカイ", Address: "渋谷区恵比寿5丁目"},
	}
	ctrl := NewMergeController(store, nil, nil, nil, 0)
	candidates, err := ctrl.DuplicateCandidates(context.Background())
	if err != nil {
		t.Fatalf("DuplicateCandidates() error = %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("got %d candidates, want 0 (different addresses)", len(candidates))
	}
}

func TestDuplicateCandidatesCachesResult(t *testing.T) {
	store := newFakeMergeStore()
	store.allBuildings = []*models.Building{
		{ID: 1, CanonicalName: "シロカネザスカイ", Address: "港区白金台"},
		{ID: 2, CanonicalName: "シロカネザスカイ", Address: "港区白金台"},
	}
	ctrl := NewMergeController(store, nil, nil, nil, 0)
	if _, err := ctrl.DuplicateCandidates(context.Background()); err != nil {
		t.Fatalf("DuplicateCandidates() error = %v", err)
	}
	// Mutate the backing data; a cached result should not reflect it.
	store.allBuildings = nil
	second, err := ctrl.DuplicateCandidates(context.Background())
	if err != nil {
		t.Fatalf("DuplicateCandidates() error = %v", err)
	}
	if len(second) != 1 {
		t.Errorf("got %d cached candidates, want 1 (cache should not re-query)", len(second))
	}
}

func TestRunePrefixShorterThanNReturnsWhole(t *testing.T) {
	if got := runePrefix("AB", 3); got != "AB" {
		t.Errorf("runePrefix(short) = %q, want %q", got, "AB")
	}
}

func TestAttributeMatchCountCountsMatchingFields(t *testing.T) {
	year := 2015
	floors := 20
	a := &models.Building{BuiltYear: &year, TotalFloors: &floors}
	b := &models.Building{BuiltYear: &year, TotalFloors: &floors}
	if got := attributeMatchCount(a, b); got != 2 {
		t.Errorf("attributeMatchCount() = %d, want 2", got)
	}
}
