package models

import "time"

// RawListing is the producer contract of truth for identity resolution.
// Everything downstream of this struct is in-scope; how a Scraper fills it
// in (HTML/JSON parsing, Playwright, ScrapingBee) is not.
type RawListing struct {
	SourceSite string `json:"source_site"` // enum: suumo, homes, rehouse, nomu, livable
	SitePropertyID string `json:"site_property_id"`
	URL string `json:"url"`
	BuildingName string `json:"building_name"`
	ListingAddress *string `json:"listing_address"`
	ListingFloorNumber *int `json:"listing_floor_number"`
	ListingArea *float64 `json:"listing_area"` // m^2
	ListingBalconyArea *float64 `json:"listing_balcony_area"`
	ListingLayout *string `json:"listing_layout"` // e.g. "2LDK"
	ListingDirection *string `json:"listing_direction"`
	ListingTotalFloors *int `json:"listing_total_floors"`
	ListingBasementFloors *int `json:"listing_basement_floors"`
	ListingTotalUnits *int `json:"listing_total_units"`
	ListingBuiltYear *int `json:"listing_built_year"`
	ListingBuiltMonth *int `json:"listing_built_month"`
	ListingBuildingStructure *string `json:"listing_building_structure"`
	ListingStationInfo *string `json:"listing_station_info"`
	CurrentPrice *int `json:"current_price"` // 万円, in 10^4 JPY
	ManagementFee *int `json:"management_fee"` // yen/month
	RepairFund *int `json:"repair_fund"` // yen/month
	AgencyName string `json:"agency_name"`
	AgencyTel string `json:"agency_tel"`
	FirstPublishedAt *time.Time `json:"first_published_at"`
	PublishedAt *time.Time `json:"published_at"`
	HasUpdateMark bool `json:"has_update_mark"`
	RoomNumber *string `json:"room_number"`
}

// Url404Retry and PriceMismatchHistory back the 404/price-mismatch retry
// ledger.
type Url404Retry struct {
	ID int64 `json:"id" db:"id"`
	SourceSite string `json:"source_site" db:"source_site"`
	SitePropertyID string `json:"site_property_id" db:"site_property_id"`
	ErrorCount int `json:"error_count" db:"error_count"`
	FirstErrorAt time.Time `json:"first_error_at" db:"first_error_at"`
	LastErrorAt time.Time `json:"last_error_at" db:"last_error_at"`
	RetryAfter time.Time `json:"retry_after" db:"retry_after"`
	IsResolved bool `json:"is_resolved" db:"is_resolved"`
}

type PriceMismatchHistory struct {
	ID int64 `json:"id" db:"id"`
	SourceSite string `json:"source_site" db:"source_site"`
	SitePropertyID string `json:"site_property_id" db:"site_property_id"`
	ListPrice int `json:"list_price" db:"list_price"`
	DetailPrice int `json:"detail_price" db:"detail_price"`
	ErrorCount int `json:"error_count" db:"error_count"`
	FirstErrorAt time.Time `json:"first_error_at" db:"first_error_at"`
	LastErrorAt time.Time `json:"last_error_at" db:"last_error_at"`
	RetryAfter time.Time `json:"retry_after" db:"retry_after"`
	IsResolved bool `json:"is_resolved" db:"is_resolved"`
}
