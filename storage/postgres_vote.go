package storage

import (
	"context"

	"condoreconcile/services"
)

// UpdatePropertyAttributes implements services.VoteStore.
func (s *PostgresStore) UpdatePropertyAttributes(ctx context.Context, propertyID int64, attrs services.PropertyAttributes) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE master_properties SET
		floor_number = COALESCE($2, floor_number),
		area = COALESCE($3, area),
		layout = COALESCE($4, layout),
		direction = COALESCE($5, direction),
		balcony_area = COALESCE($6, balcony_area),
		management_fee = COALESCE($7, management_fee),
		repair_fund = COALESCE($8, repair_fund),
		current_price = COALESCE($9, current_price),
		station_info = CASE WHEN $10 = '' THEN station_info ELSE $10 END,
		parking_info = CASE WHEN $11 = '' THEN parking_info ELSE $11 END,
		display_building_name = CASE WHEN $12 = '' THEN display_building_name ELSE $12 END,
		updated_at = now()
		WHERE id = $1`,
		propertyID, attrs.FloorNumber, attrs.Area, attrs.Layout, attrs.Direction, attrs.BalconyArea,
		attrs.ManagementFee, attrs.RepairFund, attrs.CurrentPrice, attrs.StationInfo, attrs.ParkingInfo, attrs.DisplayBuildingName)
	return err
}

// UpdateBuildingAttributes implements services.VoteStore.
func (s *PostgresStore) UpdateBuildingAttributes(ctx context.Context, buildingID int64, attrs services.BuildingAttributes) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE buildings SET
		address = CASE WHEN $2 = '' THEN address ELSE $2 END,
		normalized_address = CASE WHEN $3 = '' THEN normalized_address ELSE $3 END,
		total_floors = COALESCE($4, total_floors),
		basement_floors = COALESCE($5, basement_floors),
		total_units = COALESCE($6, total_units),
		built_year = COALESCE($7, built_year),
		built_month = COALESCE($8, built_month),
		construction_type = CASE WHEN $9 = '' THEN construction_type ELSE $9 END,
		station_info = CASE WHEN $10 = '' THEN station_info ELSE $10 END,
		normalized_name = CASE WHEN $11 = '' THEN normalized_name ELSE $11 END,
		updated_at = now()
		WHERE id = $1`,
		buildingID, attrs.Address, attrs.NormalizedAddress, attrs.TotalFloors, attrs.BasementFloors,
		attrs.TotalUnits, attrs.BuiltYear, attrs.BuiltMonth, attrs.ConstructionType, attrs.StationInfo,
		attrs.NormalizedName)
	return err
}

// UpsertBuildingListingName implements services.VoteStore: maintain every
// distinct name a building has appeared under.
func (s *PostgresStore) UpsertBuildingListingName(ctx context.Context, buildingID int64, normalizedName, canonicalName, sourceSite string, count int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO building_listing_names (building_id, normalized_name, canonical_name, source_sites, occurrence_count, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (building_id, normalized_name) DO UPDATE SET
		occurrence_count = building_listing_names.occurrence_count + EXCLUDED.occurrence_count,
		source_sites = CASE
		WHEN building_listing_names.source_sites LIKE '%' || EXCLUDED.source_sites || '%' THEN building_listing_names.source_sites
		ELSE building_listing_names.source_sites || ',' || EXCLUDED.source_sites
		END,
		last_seen_at = now()`,
		buildingID, normalizedName, canonicalName, sourceSite, count)
	return err
}
