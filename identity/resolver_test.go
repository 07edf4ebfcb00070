package identity

import (
	"context"
	"testing"
	"time"

	"condoreconcile/models"
)

// fakeStore is an in-memory Store for exercising Resolve without a database.
type fakeStore struct {
	buildings  map[int64]*models.Building
	properties map[int64]*models.MasterProperty
	listings   map[int64]*models.Listing
	nextID     int64

	buildingRedirects map[int64]int64
	propertyRedirects map[int64]int64
	mergeHistory      map[int64][]*models.PropertyMergeHistory
	ambiguous         []*models.AmbiguousPropertyMatch
	priceHistory      []int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		buildings:         make(map[int64]*models.Building),
		properties:        make(map[int64]*models.MasterProperty),
		listings:          make(map[int64]*models.Listing),
		buildingRedirects: make(map[int64]int64),
		propertyRedirects: make(map[int64]int64),
		mergeHistory:      make(map[int64][]*models.PropertyMergeHistory),
	}
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) FindListingByKey(ctx context.Context, sourceSite, sitePropertyID string) (*models.Listing, error) {
	for _, l := range s.listings {
		if l.SourceSite == sourceSite && l.SitePropertyID == sitePropertyID {
			return l, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FindBuildingByCanonicalAndAddress(ctx context.Context, canonical, addressPrefix string) (*models.Building, error) {
	for _, b := range s.buildings {
		if b.CanonicalName == canonical && AddressPrefix(b.Address) == addressPrefix {
			return b, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FindBuildingsByListingName(ctx context.Context, canonical string) ([]*models.Building, error) {
	var out []*models.Building
	for _, b := range s.buildings {
		if b.CanonicalName == canonical {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateBuilding(ctx context.Context, b *models.Building) (int64, error) {
	b.ID = s.id()
	s.buildings[b.ID] = b
	return b.ID, nil
}

func (s *fakeStore) ResolveBuildingRedirect(ctx context.Context, buildingID int64) (int64, error) {
	for {
		next, ok := s.buildingRedirects[buildingID]
		if !ok {
			return buildingID, nil
		}
		buildingID = next
	}
}

func (s *fakeStore) FindPropertiesByRoomNumber(ctx context.Context, buildingID int64, roomNumber string) ([]*models.MasterProperty, error) {
	var out []*models.MasterProperty
	for _, p := range s.properties {
		if p.BuildingID == buildingID && p.RoomNumber != nil && *p.RoomNumber == roomNumber {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) FindPropertiesByComposite(ctx context.Context, buildingID int64, floor *int, area *float64, tolerance float64, layout, direction string) ([]*models.MasterProperty, error) {
	var out []*models.MasterProperty
	for _, p := range s.properties {
		if p.BuildingID != buildingID || p.RoomNumber != nil {
			continue
		}
		if floor != nil && p.FloorNumber != nil && *floor != *p.FloorNumber {
			continue
		}
		if area != nil && p.Area != nil {
			if absF(*area-*p.Area) > tolerance {
				continue
			}
		}
		if layout != "" && p.Layout != nil && *p.Layout != layout {
			continue
		}
		if direction != "" && p.Direction != nil && *p.Direction != direction {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func (s *fakeStore) CreateProperty(ctx context.Context, p *models.MasterProperty) (int64, error) {
	p.ID = s.id()
	s.properties[p.ID] = p
	return p.ID, nil
}

func (s *fakeStore) ResolvePropertyRedirect(ctx context.Context, propertyID int64) (int64, error) {
	for {
		next, ok := s.propertyRedirects[propertyID]
		if !ok {
			return propertyID, nil
		}
		propertyID = next
	}
}

func (s *fakeStore) ListPropertyMergeHistoryForBuilding(ctx context.Context, buildingID int64) ([]*models.PropertyMergeHistory, error) {
	return s.mergeHistory[buildingID], nil
}

func (s *fakeStore) RecordAmbiguousMatch(ctx context.Context, m *models.AmbiguousPropertyMatch) error {
	s.ambiguous = append(s.ambiguous, m)
	return nil
}

func (s *fakeStore) CountListingsForProperty(ctx context.Context, propertyID int64) (int, error) {
	n := 0
	for _, l := range s.listings {
		if l.MasterPropertyID == propertyID {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) UpsertListing(ctx context.Context, l *models.Listing) (bool, error) {
	for _, existing := range s.listings {
		if existing.SourceSite == l.SourceSite && existing.SitePropertyID == l.SitePropertyID {
			*existing = *l
			return false, nil
		}
	}
	l.ID = s.id()
	s.listings[l.ID] = l
	return true, nil
}

func (s *fakeStore) AppendPriceHistory(ctx context.Context, listingID int64, price int, at time.Time) error {
	s.priceHistory = append(s.priceHistory, price)
	return nil
}

func intp(i int) *int          { return &i }
func floatp(f float64) *float64 { return &f }

func sampleRaw() *models.RawListing {
	return &models.RawListing{
		SourceSite:         models.SourceSuumo,
		SitePropertyID:     "s-1001",
		URL:                "https://suumo.example/1001",
		BuildingName:       "白金ザ・スカイ",
		ListingAddress:     strp("港区白金台5丁目18-1"),
		ListingFloorNumber: intp(12),
		ListingArea:        floatp(72.5),
		ListingLayout:      strp("2LDK"),
		ListingDirection:   strp("南"),
		CurrentPrice:       intp(9800),
	}
}

func TestResolveCreatesNewBuildingPropertyAndListing(t *testing.T) {
	store := newFakeStore()
	resolver := NewResolver(store)

	res, err := resolver.Resolve(context.Background(), sampleRaw())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Classification != ClassNew {
		t.Errorf("Classification = %q, want %q", res.Classification, ClassNew)
	}
	if len(store.buildings) != 1 {
		t.Errorf("got %d buildings, want 1", len(store.buildings))
	}
	if len(store.properties) != 1 {
		t.Errorf("got %d properties, want 1", len(store.properties))
	}
	if len(store.priceHistory) != 1 || store.priceHistory[0] != 9800 {
		t.Errorf("price history = %v, want [9800]", store.priceHistory)
	}
}

func TestResolveSecondListingSameBuildingDifferentUnit(t *testing.T) {
	store := newFakeStore()
	resolver := NewResolver(store)

	if _, err := resolver.Resolve(context.Background(), sampleRaw()); err != nil {
		t.Fatalf("first Resolve() error = %v", err)
	}

	second := sampleRaw()
	second.SitePropertyID = "s-1002"
	second.ListingFloorNumber = intp(5)
	second.ListingArea = floatp(55.0)

	res, err := resolver.Resolve(context.Background(), second)
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	if res.Classification != ClassNew {
		t.Errorf("Classification = %q, want %q", res.Classification, ClassNew)
	}
	if len(store.buildings) != 1 {
		t.Errorf("got %d buildings, want 1 (shared building)", len(store.buildings))
	}
	if len(store.properties) != 2 {
		t.Errorf("got %d properties, want 2 (distinct units)", len(store.properties))
	}
}

func TestResolveSameUnitFromTwoSourcesSharesProperty(t *testing.T) {
	store := newFakeStore()
	resolver := NewResolver(store)

	first, err := resolver.Resolve(context.Background(), sampleRaw())
	if err != nil {
		t.Fatalf("first Resolve() error = %v", err)
	}

	homesRaw := sampleRaw()
	homesRaw.SourceSite = models.SourceHomes
	homesRaw.SitePropertyID = "h-2001"

	res, err := resolver.Resolve(context.Background(), homesRaw)
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	if len(store.properties) != 1 {
		t.Errorf("got %d properties, want 1 (same unit across sources)", len(store.properties))
	}
	if res.MasterPropertyID != first.MasterPropertyID {
		t.Errorf("MasterPropertyID = %d, want %d (shared with existing unit)", res.MasterPropertyID, first.MasterPropertyID)
	}
}

func TestResolveExistingListingPriceChangeClassification(t *testing.T) {
	store := newFakeStore()
	resolver := NewResolver(store)

	raw := sampleRaw()
	if _, err := resolver.Resolve(context.Background(), raw); err != nil {
		t.Fatalf("first Resolve() error = %v", err)
	}

	updated := sampleRaw()
	updated.CurrentPrice = intp(9500)
	res, err := resolver.Resolve(context.Background(), updated)
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	if res.Classification != ClassPriceChanged {
		t.Errorf("Classification = %q, want %q", res.Classification, ClassPriceChanged)
	}
	if len(store.priceHistory) != 2 {
		t.Errorf("price history entries = %d, want 2", len(store.priceHistory))
	}
}

func TestResolveExistingListingUnchangedClassification(t *testing.T) {
	store := newFakeStore()
	resolver := NewResolver(store)

	raw := sampleRaw()
	if _, err := resolver.Resolve(context.Background(), raw); err != nil {
		t.Fatalf("first Resolve() error = %v", err)
	}

	res, err := resolver.Resolve(context.Background(), sampleRaw())
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	if res.Classification != ClassRefetchedUnchanged {
		t.Errorf("Classification = %q, want %q", res.Classification, ClassRefetchedUnchanged)
	}
}

func TestResolveExistingListingOtherUpdateClassification(t *testing.T) {
	store := newFakeStore()
	resolver := NewResolver(store)

	raw := sampleRaw()
	if _, err := resolver.Resolve(context.Background(), raw); err != nil {
		t.Fatalf("first Resolve() error = %v", err)
	}

	updated := sampleRaw()
	updated.ManagementFee = intp(15000)
	res, err := resolver.Resolve(context.Background(), updated)
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	if res.Classification != ClassOtherUpdates {
		t.Errorf("Classification = %q, want %q", res.Classification, ClassOtherUpdates)
	}
}

func TestResolveAmbiguousPropertyRecordsMatch(t *testing.T) {
	store := newFakeStore()
	resolver := NewResolver(store)

	building := &models.Building{CanonicalName: Canonicalize("白金ザ・スカイ"), Address: "港区白金台5丁目18-1"}
	buildingID, _ := store.CreateBuilding(context.Background(), building)

	layout := "2LDK"
	direction := "S"
	store.CreateProperty(context.Background(), &models.MasterProperty{BuildingID: buildingID, FloorNumber: intp(12), Area: floatp(72.5), Layout: &layout, Direction: &direction})
	store.CreateProperty(context.Background(), &models.MasterProperty{BuildingID: buildingID, FloorNumber: intp(12), Area: floatp(72.5), Layout: &layout, Direction: &direction})

	raw := sampleRaw()
	res, err := resolver.Resolve(context.Background(), raw)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(store.ambiguous) != 1 {
		t.Fatalf("got %d ambiguous match records, want 1", len(store.ambiguous))
	}
	if res.MasterPropertyID == 0 {
		t.Error("expected a chosen property id even in the ambiguous case")
	}
}

func TestResolveBuildingRedirectFollowsMergeChain(t *testing.T) {
	store := newFakeStore()
	resolver := NewResolver(store)

	raw := sampleRaw()
	res, err := resolver.Resolve(context.Background(), raw)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	survivor := &models.Building{CanonicalName: "other", Address: "other"}
	survivorID, _ := store.CreateBuilding(context.Background(), survivor)
	store.buildingRedirects[res.BuildingID] = survivorID

	second := sampleRaw()
	second.SitePropertyID = "s-9999"
	res2, err := resolver.Resolve(context.Background(), second)
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	if res2.BuildingID != survivorID {
		t.Errorf("BuildingID = %d, want redirect target %d", res2.BuildingID, survivorID)
	}
}
