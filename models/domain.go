package models

import (
	"encoding/json"
	"time"
)

// Building is a physical apartment building. All integer IDs are surrogate keys.
type Building struct {
	ID int64 `json:"id" db:"id"`
	NormalizedName string `json:"normalized_name" db:"normalized_name"`
	CanonicalName string `json:"canonical_name" db:"canonical_name"`
	Address string `json:"address" db:"address"`
	NormalizedAddress string `json:"normalized_address" db:"normalized_address"`
	TotalFloors *int `json:"total_floors" db:"total_floors"`
	BasementFloors *int `json:"basement_floors" db:"basement_floors"`
	TotalUnits *int `json:"total_units" db:"total_units"`
	BuiltYear *int `json:"built_year" db:"built_year"`
	BuiltMonth *int `json:"built_month" db:"built_month"`
	ConstructionType string `json:"construction_type" db:"construction_type"`
	LandRights string `json:"land_rights" db:"land_rights"`
	StationInfo string `json:"station_info" db:"station_info"`
	Latitude *float64 `json:"latitude" db:"latitude"`
	Longitude *float64 `json:"longitude" db:"longitude"`
	GeocodedAt *time.Time `json:"geocoded_at" db:"geocoded_at"`
	IsValidName bool `json:"is_valid_name" db:"is_valid_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// BuildingListingName is every distinct name a building has appeared under across sources.
// (building_id, normalized_name) is unique.
type BuildingListingName struct {
	ID int64 `json:"id" db:"id"`
	BuildingID int64 `json:"building_id" db:"building_id"`
	NormalizedName string `json:"normalized_name" db:"normalized_name"`
	CanonicalName string `json:"canonical_name" db:"canonical_name"`
	SourceSites string `json:"source_sites" db:"source_sites"` // comma-joined
	OccurrenceCount int `json:"occurrence_count" db:"occurrence_count"`
	FirstSeenAt time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt time.Time `json:"last_seen_at" db:"last_seen_at"`
}

// MasterProperty is a unit within a building, the deduplicated identity across sources.
// Identity key is (building_id, floor_number, area, layout, direction) when room_number
// is null; otherwise room_number participates. A partial unique index (room_number IS NULL)
// enforces the former.
type MasterProperty struct {
	ID int64 `json:"id" db:"id"`
	BuildingID int64 `json:"building_id" db:"building_id"`
	RoomNumber *string `json:"room_number" db:"room_number"`
	FloorNumber *int `json:"floor_number" db:"floor_number"`
	Area *float64 `json:"area" db:"area"`
	BalconyArea *float64 `json:"balcony_area" db:"balcony_area"`
	Layout *string `json:"layout" db:"layout"`
	Direction *string `json:"direction" db:"direction"`
	DisplayBuildingName string `json:"display_building_name" db:"display_building_name"`
	CurrentPrice *int `json:"current_price" db:"current_price"`
	SoldAt *time.Time `json:"sold_at" db:"sold_at"`
	FinalPrice *int `json:"final_price" db:"final_price"`
	FinalPriceUpdatedAt *time.Time `json:"final_price_updated_at" db:"final_price_updated_at"`
	EarliestListingDate *time.Time `json:"earliest_listing_date" db:"earliest_listing_date"`
	ManagementFee *int `json:"management_fee" db:"management_fee"`
	RepairFund *int `json:"repair_fund" db:"repair_fund"`
	StationInfo string `json:"station_info" db:"station_info"`
	ParkingInfo string `json:"parking_info" db:"parking_info"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Listing is one source's advertisement for a master property.
// (source_site, site_property_id) is unique.
type Listing struct {
	ID int64 `json:"id" db:"id"`
	MasterPropertyID int64 `json:"master_property_id" db:"master_property_id"`
	SourceSite string `json:"source_site" db:"source_site"`
	SitePropertyID string `json:"site_property_id" db:"site_property_id"`
	URL string `json:"url" db:"url"`
	ListingBuildingName string `json:"listing_building_name" db:"listing_building_name"`
	ListingAddress *string `json:"listing_address" db:"listing_address"`
	ListingFloorNumber *int `json:"listing_floor_number" db:"listing_floor_number"`
	ListingArea *float64 `json:"listing_area" db:"listing_area"`
	ListingLayout *string `json:"listing_layout" db:"listing_layout"`
	ListingDirection *string `json:"listing_direction" db:"listing_direction"`
	ListingTotalFloors *int `json:"listing_total_floors" db:"listing_total_floors"`
	ListingBuiltYear *int `json:"listing_built_year" db:"listing_built_year"`
	ListingBuiltMonth *int `json:"listing_built_month" db:"listing_built_month"`
	ListingBalconyArea *float64 `json:"listing_balcony_area" db:"listing_balcony_area"`
	ListingTotalUnits *int `json:"listing_total_units" db:"listing_total_units"`
	ListingBasementFloors *int `json:"listing_basement_floors" db:"listing_basement_floors"`
	ListingLandRights *string `json:"listing_land_rights" db:"listing_land_rights"`
	ListingStationInfo *string `json:"listing_station_info" db:"listing_station_info"`
	ListingBuildingStructure *string `json:"listing_building_structure" db:"listing_building_structure"`
	RoomNumber *string `json:"room_number" db:"room_number"`
	CurrentPrice *int `json:"current_price" db:"current_price"`
	ManagementFee *int `json:"management_fee" db:"management_fee"`
	RepairFund *int `json:"repair_fund" db:"repair_fund"`
	AgencyName string `json:"agency_name" db:"agency_name"`
	AgencyTel string `json:"agency_tel" db:"agency_tel"`
	IsActive bool `json:"is_active" db:"is_active"`
	HasUpdateMark bool `json:"has_update_mark" db:"has_update_mark"`
	FirstSeenAt time.Time `json:"first_seen_at" db:"first_seen_at"`
	FirstPublishedAt *time.Time `json:"first_published_at" db:"first_published_at"`
	PublishedAt *time.Time `json:"published_at" db:"published_at"`
	LastScrapedAt time.Time `json:"last_scraped_at" db:"last_scraped_at"`
	LastConfirmedAt time.Time `json:"last_confirmed_at" db:"last_confirmed_at"`
	LastFetchedAt *time.Time `json:"last_fetched_at" db:"last_fetched_at"`
	PriceUpdatedAt *time.Time `json:"price_updated_at" db:"price_updated_at"`
	DelistedAt *time.Time `json:"delisted_at" db:"delisted_at"`
	DetailFetchedAt *time.Time `json:"detail_fetched_at" db:"detail_fetched_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ListingPriceHistory is appended on every observed price change for a listing.
type ListingPriceHistory struct {
	ID int64 `json:"id" db:"id"`
	ListingID int64 `json:"listing_id" db:"listing_id"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
	Price int `json:"price" db:"price"`
}

// Source site priority list, lower index = higher weight in majority voting.
var SourceSitePriority = []string{"suumo", "homes", "rehouse", "nomu", "livable"}

const (
	SourceSuumo = "suumo"
	SourceHomes = "homes"
	SourceRehouse = "rehouse"
	SourceNomu = "nomu"
	SourceLivable = "livable"
)

// SourcePriorityWeight returns the weighting multiplier for a source site:
// (PRIORITY_RANK_COUNT - index + 1), or 1 (lowest weight) for unknown sources.
func SourcePriorityWeight(sourceSite string) int {
	n := len(SourceSitePriority)
	for i, s := range SourceSitePriority {
		if s == sourceSite {
			return n - i + 1
		}
	}
	return 1
}

// SourcePriorityIndex returns the index of sourceSite in SourceSitePriority
// (lower = higher priority), or len(SourceSitePriority) for unknown sources
// so they sort last in a priority tie-break.
func SourcePriorityIndex(sourceSite string) int {
	for i, s := range SourceSitePriority {
		if s == sourceSite {
			return i
		}
	}
	return len(SourceSitePriority)
}

// UpdateStats is a JSON-able run statistics shape. Nothing in this module
// fills it in; per-pair counters live in StatsSnapshot.
type UpdateStats struct {
	ListingsProcessed int `json:"listings_processed"`
	ListingsNew int `json:"listings_new"`
	PropertiesNew int `json:"properties_new"`
	Relisted int `json:"relisted"`
	PriceChanges int `json:"price_changes"`
	Errors int `json:"errors"`
}

func (s *UpdateStats) ToJSON() json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
