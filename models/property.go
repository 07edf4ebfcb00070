package models

import (
	"encoding/json"
	"time"
)

// PropertyPriceChange is a derived per-property price-change event, fully
// recomputable from Listing + ListingPriceHistory (C5).
type PropertyPriceChange struct {
	ID int64 `json:"id" db:"id"`
	MasterPropertyID int64 `json:"master_property_id" db:"master_property_id"`
	ChangeDate time.Time `json:"change_date" db:"change_date"`
	OldPrice *int `json:"old_price" db:"old_price"`
	NewPrice int `json:"new_price" db:"new_price"`
	PriceDiff *int `json:"price_diff" db:"price_diff"`
	PriceDiffRate *float64 `json:"price_diff_rate" db:"price_diff_rate"`
	NewPriceVotes int `json:"new_price_votes" db:"new_price_votes"`
	OldPriceVotes *int `json:"old_price_votes" db:"old_price_votes"`
}

// PropertyPriceChangeQueue holds pending C5 recomputation work items.
type PropertyPriceChangeQueue struct {
	ID int64 `json:"id" db:"id"`
	MasterPropertyID int64 `json:"master_property_id" db:"master_property_id"`
	Status string `json:"status" db:"status"` // pending, processing, completed, failed
	Priority int `json:"priority" db:"priority"` // 0 highest
	Reason string `json:"reason" db:"reason"`
	ErrorMessage string `json:"error_message" db:"error_message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time `json:"processed_at" db:"processed_at"`
}

const (
	QueueStatusPending = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusCompleted = "completed"
	QueueStatusFailed = "failed"
)

// BuildingMergeHistory is an audit + redirection record with hybrid pointers:
// direct_primary_id is the target at merge time, final_primary_id is the
// current end of the chain (updated when the direct target is itself merged).
type BuildingMergeHistory struct {
	ID int64 `json:"id" db:"id"`
	DirectPrimaryBuildingID int64 `json:"direct_primary_building_id" db:"direct_primary_building_id"`
	FinalPrimaryBuildingID int64 `json:"final_primary_building_id" db:"final_primary_building_id"`
	MergedBuildingID int64 `json:"merged_building_id" db:"merged_building_id"`
	MergeDepth int `json:"merge_depth" db:"merge_depth"`
	MergeDetails json.RawMessage `json:"merge_details" db:"merge_details"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// BuildingMergeSnapshot is the shape stored in BuildingMergeHistory.MergeDetails,
// sufficient to reconstitute the merged building on revert.
type BuildingMergeSnapshot struct {
	NormalizedName string `json:"normalized_name"`
	CanonicalName string `json:"canonical_name"`
	Address string `json:"address"`
	NormalizedAddress string `json:"normalized_address"`
	TotalFloors *int `json:"total_floors"`
	BasementFloors *int `json:"basement_floors"`
	TotalUnits *int `json:"total_units"`
	BuiltYear *int `json:"built_year"`
	BuiltMonth *int `json:"built_month"`
	ConstructionType string `json:"construction_type"`
	IsValidName bool `json:"is_valid_name"`
	MovedPropertyIDs []int64 `json:"moved_property_ids"`
}

// PropertyMergeHistory is the property-level analogue of BuildingMergeHistory.
type PropertyMergeHistory struct {
	ID int64 `json:"id" db:"id"`
	DirectPrimaryPropertyID int64 `json:"direct_primary_property_id" db:"direct_primary_property_id"`
	FinalPrimaryPropertyID int64 `json:"final_primary_property_id" db:"final_primary_property_id"`
	MergedPropertyID int64 `json:"merged_property_id" db:"merged_property_id"`
	MergeDepth int `json:"merge_depth" db:"merge_depth"`
	MergeDetails json.RawMessage `json:"merge_details" db:"merge_details"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PropertyMergeSnapshot is the shape stored in PropertyMergeHistory.MergeDetails.
// PrimaryLayout/PrimaryDirection denormalize the surviving property's
// (layout, direction) at merge time, purely so the learning heuristic
// (identity.LearnedEquivalences) can derive an equivalence class without a
// second lookup — they are not used for revert.
type PropertyMergeSnapshot struct {
	RoomNumber *string `json:"room_number"`
	FloorNumber *int `json:"floor_number"`
	Area *float64 `json:"area"`
	Layout *string `json:"layout"`
	Direction *string `json:"direction"`
	DisplayBuildingName string `json:"display_building_name"`
	MovedListingIDs []int64 `json:"moved_listings"`
	PrimaryLayout *string `json:"primary_layout,omitempty"`
	PrimaryDirection *string `json:"primary_direction,omitempty"`
}

// BuildingMergeExclusion / PropertyMergeExclusion record an unordered pair of
// IDs the duplicate detector must never propose again. min(id1,id2) = id1.
type BuildingMergeExclusion struct {
	ID int64 `json:"id" db:"id"`
	BuildingID1 int64 `json:"building_id_1" db:"building_id_1"`
	BuildingID2 int64 `json:"building_id_2" db:"building_id_2"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type PropertyMergeExclusion struct {
	ID int64 `json:"id" db:"id"`
	PropertyID1 int64 `json:"property_id_1" db:"property_id_1"`
	PropertyID2 int64 `json:"property_id_2" db:"property_id_2"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AmbiguousPropertyMatch records a case where ≥2 MasterProperty candidates
// survived identity resolution.
type AmbiguousPropertyMatch struct {
	ID int64 `json:"id" db:"id"`
	BuildingID int64 `json:"building_id" db:"building_id"`
	ListingDescriptor string `json:"listing_descriptor" db:"listing_descriptor"`
	CandidatePropertyIDs []int64 `json:"candidate_property_ids" db:"candidate_property_ids"`
	SelectedPropertyID int64 `json:"selected_property_id" db:"selected_property_id"`
	Confidence float64 `json:"confidence" db:"confidence"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DuplicateBuildingCandidate is one pairwise result of C6.3 detection.
type DuplicateBuildingCandidate struct {
	BuildingID1 int64 `json:"building_id_1"`
	BuildingID2 int64 `json:"building_id_2"`
	Reason string `json:"reason"` // "canonical_name" or "address_and_attributes"
	Similarity float64 `json:"similarity"`
}
