package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"condoreconcile/models"
)

// ListPropertiesForBuilding implements services.MergeStore.
func (s *PostgresStore) ListPropertiesForBuilding(ctx context.Context, buildingID int64) ([]*models.MasterProperty, error) {
	rows, err := s.pool.Query(ctx, propertySelectCols+` FROM master_properties WHERE building_id = $1 AND redirect_to IS NULL`, buildingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanPropertyRows(rows)
}

func (s *PostgresStore) ReassignPropertyBuilding(ctx context.Context, propertyID, newBuildingID int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE master_properties SET building_id = $2, updated_at = now() WHERE id = $1`, propertyID, newBuildingID)
	return err
}

// FindCollidingProperty step 1: does newBuilding already
// have a property at the same identity key as p?
func (s *PostgresStore) FindCollidingProperty(ctx context.Context, buildingID int64, p *models.MasterProperty) (*models.MasterProperty, error) {
	var row *models.MasterProperty
	var err error
	if p.RoomNumber != nil && *p.RoomNumber != "" {
		row, err = s.scanPropertyRow(s.pool.QueryRow(ctx, propertySelectCols+`
			FROM master_properties WHERE building_id = $1 AND room_number = $2 AND redirect_to IS NULL AND id != $3`,
			buildingID, *p.RoomNumber, p.ID))
	} else {
		row, err = s.scanPropertyRow(s.pool.QueryRow(ctx, propertySelectCols+`
			FROM master_properties
			WHERE building_id = $1 AND room_number IS NULL AND redirect_to IS NULL AND id != $2
			AND floor_number IS NOT DISTINCT FROM $3 AND area IS NOT DISTINCT FROM $4
			AND layout IS NOT DISTINCT FROM $5 AND direction IS NOT DISTINCT FROM $6`,
			buildingID, p.ID, p.FloorNumber, p.Area, p.Layout, p.Direction))
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return row, err
}

func (s *PostgresStore) RedirectBuildingMergeHistory(ctx context.Context, fromFinalPrimary, toPrimary int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE building_merge_history SET final_primary_building_id = $2 WHERE final_primary_building_id = $1`, fromFinalPrimary, toPrimary)
	return err
}

func (s *PostgresStore) DeleteBuildingMergeExclusions(ctx context.Context, buildingID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM building_merge_exclusions WHERE building_id_1 = $1 OR building_id_2 = $1`, buildingID)
	return err
}

func (s *PostgresStore) InsertBuildingMergeHistory(ctx context.Context, h *models.BuildingMergeHistory) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO building_merge_history (direct_primary_building_id, final_primary_building_id, merged_building_id, merge_depth, merge_details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		h.DirectPrimaryBuildingID, h.FinalPrimaryBuildingID, h.MergedBuildingID, h.MergeDepth, h.MergeDetails, h.CreatedAt).Scan(&id)
	return id, err
}

// DeleteBuilding implements the "merged away" half: rather than
// hard-deleting (which would break FK references from children not yet
// reassigned), the row is pointed at its new primary and excluded from
// identity-resolution lookups by redirect_to being non-null.
func (s *PostgresStore) DeleteBuilding(ctx context.Context, id int64, redirectTo int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE buildings SET redirect_to = $2, updated_at = now() WHERE id = $1`, id, redirectTo)
	return err
}

func (s *PostgresStore) RestoreBuilding(ctx context.Context, id int64, snapshot models.BuildingMergeSnapshot) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE buildings SET
		redirect_to = NULL,
		normalized_name = $2, canonical_name = $3, address = $4, normalized_address = $5,
		total_floors = $6, basement_floors = $7, total_units = $8, built_year = $9, built_month = $10,
		construction_type = $11, is_valid_name = $12, updated_at = now()
		WHERE id = $1`,
		id, snapshot.NormalizedName, snapshot.CanonicalName, snapshot.Address, snapshot.NormalizedAddress,
		snapshot.TotalFloors, snapshot.BasementFloors, snapshot.TotalUnits, snapshot.BuiltYear, snapshot.BuiltMonth,
		snapshot.ConstructionType, snapshot.IsValidName)
	return err
}

func (s *PostgresStore) BuildingExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM buildings WHERE id = $1 AND redirect_to IS NULL)`, id).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) GetBuildingMergeHistory(ctx context.Context, id int64) (*models.BuildingMergeHistory, error) {
	var h models.BuildingMergeHistory
	err := s.pool.QueryRow(ctx, `
		SELECT id, direct_primary_building_id, final_primary_building_id, merged_building_id, merge_depth, merge_details, created_at
		FROM building_merge_history WHERE id = $1`, id).
	Scan(&h.ID, &h.DirectPrimaryBuildingID, &h.FinalPrimaryBuildingID, &h.MergedBuildingID, &h.MergeDepth, &h.MergeDetails, &h.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *PostgresStore) DeleteBuildingMergeHistory(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM building_merge_history WHERE id = $1`, id)
	return err
}

// RewriteBuildingMergeChainAfterRevert fixes up the merge chain after a
// revert: any other history row whose final pointer was the reverted
// building's primary now needs to still point there (no-op for a flat
// chain), except that the just-reverted row's own final pointer, previously
// collapsed into revertedPrimary, no longer applies to it since it's gone.
func (s *PostgresStore) RewriteBuildingMergeChainAfterRevert(ctx context.Context, revertedPrimary int64, revertedHistoryID int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE building_merge_history SET final_primary_building_id = direct_primary_building_id
		WHERE id = $1`, revertedHistoryID)
	return err
}

// ---- property-level analogues ----

func (s *PostgresStore) FindListingByKeyOnProperty(ctx context.Context, propertyID int64, sourceSite, sitePropertyID string) (*models.Listing, error) {
	l, err := s.scanListingRow(s.pool.QueryRow(ctx, listingSelectCols+`
		FROM listings WHERE master_property_id = $1 AND source_site = $2 AND site_property_id = $3`,
		propertyID, sourceSite, sitePropertyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

func (s *PostgresStore) ReassignListingProperty(ctx context.Context, listingID, newPropertyID int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE listings SET master_property_id = $2, updated_at = now() WHERE id = $1`, listingID, newPropertyID)
	return err
}

func (s *PostgresStore) MovePriceHistory(ctx context.Context, fromListingID, toListingID int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE listing_price_history SET listing_id = $2 WHERE listing_id = $1`, fromListingID, toListingID)
	return err
}

func (s *PostgresStore) DeleteListing(ctx context.Context, listingID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM listings WHERE id = $1`, listingID)
	return err
}

func (s *PostgresStore) FillNullPropertyFields(ctx context.Context, primaryID, secondaryID int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE master_properties AS primary_row SET
		floor_number = COALESCE(primary_row.floor_number, s.floor_number),
		area = COALESCE(primary_row.area, s.area),
		balcony_area = COALESCE(primary_row.balcony_area, s.balcony_area),
		layout = COALESCE(primary_row.layout, s.layout),
		direction = COALESCE(primary_row.direction, s.direction),
		management_fee = COALESCE(primary_row.management_fee, s.management_fee),
		repair_fund = COALESCE(primary_row.repair_fund, s.repair_fund),
		updated_at = now()
		FROM master_properties s
		WHERE primary_row.id = $1 AND s.id = $2`, primaryID, secondaryID)
	return err
}

func (s *PostgresStore) RedirectPropertyMergeHistory(ctx context.Context, fromFinalPrimary, toPrimary int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE property_merge_history SET final_primary_property_id = $2 WHERE final_primary_property_id = $1`, fromFinalPrimary, toPrimary)
	return err
}

func (s *PostgresStore) RewriteAmbiguousMatchReferences(ctx context.Context, fromPropertyID, toPropertyID int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE ambiguous_property_matches SET selected_property_id = $2 WHERE selected_property_id = $1`, fromPropertyID, toPropertyID)
	return err
}

func (s *PostgresStore) InsertPropertyMergeHistory(ctx context.Context, h *models.PropertyMergeHistory) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO property_merge_history (direct_primary_property_id, final_primary_property_id, merged_property_id, merge_depth, merge_details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		h.DirectPrimaryPropertyID, h.FinalPrimaryPropertyID, h.MergedPropertyID, h.MergeDepth, h.MergeDetails, h.CreatedAt).Scan(&id)
	return id, err
}

func (s *PostgresStore) DeleteProperty(ctx context.Context, id int64, redirectTo int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE master_properties SET redirect_to = $2, updated_at = now() WHERE id = $1`, id, redirectTo)
	return err
}

func (s *PostgresStore) RestoreProperty(ctx context.Context, id int64, buildingID int64, snapshot models.PropertyMergeSnapshot) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE master_properties SET
		redirect_to = NULL, building_id = $2,
		room_number = $3, floor_number = $4, area = $5, layout = $6, direction = $7,
		display_building_name = $8, updated_at = now()
		WHERE id = $1`,
		id, buildingID, snapshot.RoomNumber, snapshot.FloorNumber, snapshot.Area, snapshot.Layout, snapshot.Direction, snapshot.DisplayBuildingName)
	return err
}

func (s *PostgresStore) PropertyExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM master_properties WHERE id = $1 AND redirect_to IS NULL)`, id).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) GetPropertyMergeHistory(ctx context.Context, id int64) (*models.PropertyMergeHistory, error) {
	var h models.PropertyMergeHistory
	err := s.pool.QueryRow(ctx, `
		SELECT id, direct_primary_property_id, final_primary_property_id, merged_property_id, merge_depth, merge_details, created_at
		FROM property_merge_history WHERE id = $1`, id).
	Scan(&h.ID, &h.DirectPrimaryPropertyID, &h.FinalPrimaryPropertyID, &h.MergedPropertyID, &h.MergeDepth, &h.MergeDetails, &h.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *PostgresStore) DeletePropertyMergeHistory(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM property_merge_history WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) RewritePropertyMergeChainAfterRevert(ctx context.Context, revertedPrimary int64, revertedHistoryID int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE property_merge_history SET final_primary_property_id = direct_primary_property_id
		WHERE id = $1`, revertedHistoryID)
	return err
}

func (s *PostgresStore) ListBuildingsWithProperties(ctx context.Context) ([]*models.Building, error) {
	rows, err := s.pool.Query(ctx, buildingSelectCols+`
		FROM buildings WHERE redirect_to IS NULL AND EXISTS (
			SELECT 1 FROM master_properties p WHERE p.building_id = buildings.id AND p.redirect_to IS NULL
		)`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []*models.Building
		for rows.Next() {
			b, err := s.scanBuildingRow(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
		return out, rows.Err()
	}

	func (s *PostgresStore) ListBuildingMergeExclusions(ctx context.Context) ([]*models.BuildingMergeExclusion, error) {
		rows, err := s.pool.Query(ctx, `SELECT id, building_id_1, building_id_2, created_at FROM building_merge_exclusions`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []*models.BuildingMergeExclusion
		for rows.Next() {
			var e models.BuildingMergeExclusion
			if err := rows.Scan(&e.ID, &e.BuildingID1, &e.BuildingID2, &e.CreatedAt); err != nil {
				return nil, err
			}
			out = append(out, &e)
		}
		return out, rows.Err()
	}
