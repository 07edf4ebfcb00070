// Package storage adapts the reconciliation engine's narrow store
// interfaces (identity.Store, services.VoteStore, services.LifecycleStore,
// and friends) onto a single pgxpool-backed Postgres connection.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"condoreconcile/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// isUniqueViolation matches Postgres error code 23505, used by callers that
// need to retry a create-on-conflict once.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// =============================================================================
// identity.Store
// =============================================================================

func (s *PostgresStore) FindListingByKey(ctx context.Context, sourceSite, sitePropertyID string) (*models.Listing, error) {
	l, err := s.scanListingRow(s.pool.QueryRow(ctx, listingSelectCols+` FROM listings WHERE source_site = $1 AND site_property_id = $2`, sourceSite, sitePropertyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

func (s *PostgresStore) FindBuildingByCanonicalAndAddress(ctx context.Context, canonical, addressPrefix string) (*models.Building, error) {
	b, err := s.scanBuildingRow(s.pool.QueryRow(ctx, buildingSelectCols+` FROM buildings WHERE canonical_name = $1 AND normalized_address = $2 AND redirect_to IS NULL LIMIT 1`, canonical, addressPrefix))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func (s *PostgresStore) FindBuildingsByListingName(ctx context.Context, canonical string) ([]*models.Building, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT `+buildingColsPrefixed("b")+`
		FROM buildings b
		JOIN building_listing_names n ON n.building_id = b.id
		WHERE n.canonical_name = $1 AND b.redirect_to IS NULL`, canonical)
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

func (s *PostgresStore) CreateBuilding(ctx context.Context, b *models.Building) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO buildings (normalized_name, canonical_name, address, normalized_address, is_valid_name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		b.NormalizedName, b.CanonicalName, b.Address, b.NormalizedAddress, b.IsValidName,
	).Scan(&id)
	return id, err
}

// ResolveBuildingRedirect follows building.redirect_to until a row with a
// NULL redirect is found.
func (s *PostgresStore) ResolveBuildingRedirect(ctx context.Context, buildingID int64) (int64, error) {
	id := buildingID
	for i := 0; i < 32; i++ {
		var next *int64
		err := s.pool.QueryRow(ctx, `SELECT redirect_to FROM buildings WHERE id = $1`, id).Scan(&next)
		if err != nil {
			return 0, err
		}
		if next == nil {
			return id, nil
		}
		id = *next
	}
	return id, nil
}

func (s *PostgresStore) FindPropertiesByRoomNumber(ctx context.Context, buildingID int64, roomNumber string) ([]*models.MasterProperty, error) {
	rows, err := s.pool.Query(ctx, propertySelectCols+` FROM master_properties WHERE building_id = $1 AND room_number = $2 AND redirect_to IS NULL`, buildingID, roomNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanPropertyRows(rows)
}

func (s *PostgresStore) FindPropertiesByComposite(ctx context.Context, buildingID int64, floor *int, area *float64, areaTolerance float64, layout, direction string) ([]*models.MasterProperty, error) {
	rows, err := s.pool.Query(ctx, propertySelectCols+`
		FROM master_properties
		WHERE building_id = $1
		AND room_number IS NULL
		AND redirect_to IS NULL
		AND floor_number IS NOT DISTINCT FROM $2
		AND ($3::double precision IS NULL OR abs(area - $3) <= $4)
		AND layout IS NOT DISTINCT FROM NULLIF($5, '')
		AND direction IS NOT DISTINCT FROM NULLIF($6, '')`,
		buildingID, floor, area, areaTolerance, layout, direction)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanPropertyRows(rows)
}

func (s *PostgresStore) CreateProperty(ctx context.Context, p *models.MasterProperty) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO master_properties (building_id, room_number, floor_number, area, balcony_area, layout, direction, display_building_name, current_price, management_fee, repair_fund, station_info)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		p.BuildingID, p.RoomNumber, p.FloorNumber, p.Area, p.BalconyArea, p.Layout, p.Direction,
		p.DisplayBuildingName, p.CurrentPrice, p.ManagementFee, p.RepairFund, p.StationInfo,
	).Scan(&id)
	if err != nil && isUniqueViolation(err) {
		return 0, nil // signal to Resolver: retry once
	}
	return id, err
}

func (s *PostgresStore) ResolvePropertyRedirect(ctx context.Context, propertyID int64) (int64, error) {
	id := propertyID
	for i := 0; i < 32; i++ {
		var next *int64
		err := s.pool.QueryRow(ctx, `SELECT redirect_to FROM master_properties WHERE id = $1`, id).Scan(&next)
		if err != nil {
			return 0, err
		}
		if next == nil {
			return id, nil
		}
		id = *next
	}
	return id, nil
}

func (s *PostgresStore) ListPropertyMergeHistoryForBuilding(ctx context.Context, buildingID int64) ([]*models.PropertyMergeHistory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT h.id, h.direct_primary_property_id, h.final_primary_property_id, h.merged_property_id, h.merge_depth, h.merge_details, h.created_at
		FROM property_merge_history h
		JOIN master_properties p ON p.id = h.direct_primary_property_id
		WHERE p.building_id = $1`, buildingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.PropertyMergeHistory
	for rows.Next() {
		var h models.PropertyMergeHistory
		if err := rows.Scan(&h.ID, &h.DirectPrimaryPropertyID, &h.FinalPrimaryPropertyID, &h.MergedPropertyID, &h.MergeDepth, &h.MergeDetails, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecordAmbiguousMatch(ctx context.Context, m *models.AmbiguousPropertyMatch) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ambiguous_property_matches (building_id, listing_descriptor, candidate_property_ids, selected_property_id, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.BuildingID, m.ListingDescriptor, m.CandidatePropertyIDs, m.SelectedPropertyID, m.Confidence, m.CreatedAt)
	return err
}

func (s *PostgresStore) CountListingsForProperty(ctx context.Context, propertyID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM listings WHERE master_property_id = $1`, propertyID).Scan(&n)
	return n, err
}

func (s *PostgresStore) UpsertListing(ctx context.Context, l *models.Listing) (bool, error) {
	var id int64
	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO listings (
			master_property_id, source_site, site_property_id, url, listing_building_name,
			listing_address, listing_floor_number, listing_area, listing_layout, listing_direction,
			listing_total_floors, listing_built_year, listing_built_month, listing_balcony_area,
			listing_total_units, listing_basement_floors, listing_station_info, listing_building_structure,
			room_number, current_price, management_fee, repair_fund, agency_name, agency_tel,
			is_active, has_update_mark, first_seen_at, first_published_at, published_at,
			last_scraped_at, last_confirmed_at, price_updated_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32
		)
		ON CONFLICT (source_site, site_property_id) DO UPDATE SET
		master_property_id = EXCLUDED.master_property_id,
		url = EXCLUDED.url,
		listing_building_name = EXCLUDED.listing_building_name,
		listing_address = EXCLUDED.listing_address,
		listing_floor_number = EXCLUDED.listing_floor_number,
		listing_area = EXCLUDED.listing_area,
		listing_layout = EXCLUDED.listing_layout,
		listing_direction = EXCLUDED.listing_direction,
		listing_total_floors = EXCLUDED.listing_total_floors,
		listing_built_year = EXCLUDED.listing_built_year,
		listing_built_month = EXCLUDED.listing_built_month,
		listing_balcony_area = EXCLUDED.listing_balcony_area,
		listing_total_units = EXCLUDED.listing_total_units,
		listing_basement_floors = EXCLUDED.listing_basement_floors,
		listing_station_info = EXCLUDED.listing_station_info,
		listing_building_structure = EXCLUDED.listing_building_structure,
		room_number = EXCLUDED.room_number,
		current_price = EXCLUDED.current_price,
		management_fee = EXCLUDED.management_fee,
		repair_fund = EXCLUDED.repair_fund,
		agency_name = EXCLUDED.agency_name,
		agency_tel = EXCLUDED.agency_tel,
		is_active = TRUE,
		has_update_mark = EXCLUDED.has_update_mark,
		first_published_at = COALESCE(listings.first_published_at, EXCLUDED.first_published_at),
		published_at = EXCLUDED.published_at,
		last_scraped_at = EXCLUDED.last_scraped_at,
		last_confirmed_at = EXCLUDED.last_confirmed_at,
		price_updated_at = COALESCE(EXCLUDED.price_updated_at, listings.price_updated_at),
		delisted_at = NULL,
		updated_at = now()
		RETURNING id, (xmax = 0) AS inserted`,
		l.MasterPropertyID, l.SourceSite, l.SitePropertyID, l.URL, l.ListingBuildingName,
		l.ListingAddress, l.ListingFloorNumber, l.ListingArea, l.ListingLayout, l.ListingDirection,
		l.ListingTotalFloors, l.ListingBuiltYear, l.ListingBuiltMonth, l.ListingBalconyArea,
		l.ListingTotalUnits, l.ListingBasementFloors, l.ListingStationInfo, l.ListingBuildingStructure,
		l.RoomNumber, l.CurrentPrice, l.ManagementFee, l.RepairFund, l.AgencyName, l.AgencyTel,
		l.IsActive, l.HasUpdateMark, l.FirstSeenAt, l.FirstPublishedAt, l.PublishedAt,
		l.LastScrapedAt, l.LastConfirmedAt, l.PriceUpdatedAt,
	).Scan(&id, &inserted)
	if err != nil {
		return false, err
	}
	l.ID = id
	return inserted, nil
}

func (s *PostgresStore) AppendPriceHistory(ctx context.Context, listingID int64, price int, at time.Time) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO listing_price_history (listing_id, recorded_at, price) VALUES ($1, $2, $3)`, listingID, at, price)
	return err
}

// =============================================================================
// shared row helpers
// =============================================================================

const buildingSelectCols = `SELECT id, normalized_name, canonical_name, address, normalized_address, total_floors, basement_floors, total_units, built_year, built_month, construction_type, land_rights, station_info, latitude, longitude, geocoded_at, is_valid_name, created_at, updated_at`

func buildingColsPrefixed(alias string) string {
	cols := []string{"id", "normalized_name", "canonical_name", "address", "normalized_address", "total_floors", "basement_floors", "total_units", "built_year", "built_month", "construction_type", "land_rights", "station_info", "latitude", "longitude", "geocoded_at", "is_valid_name", "created_at", "updated_at"}
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + c
	}
	return out
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PostgresStore) scanBuildingRow(row rowScanner) (*models.Building, error) {
	var b models.Building
	err := row.Scan(&b.ID, &b.NormalizedName, &b.CanonicalName, &b.Address, &b.NormalizedAddress,
		&b.TotalFloors, &b.BasementFloors, &b.TotalUnits, &b.BuiltYear, &b.BuiltMonth,
		&b.ConstructionType, &b.LandRights, &b.StationInfo, &b.Latitude, &b.Longitude,
		&b.GeocodedAt, &b.IsValidName, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

const propertySelectCols = `SELECT id, building_id, room_number, floor_number, area, balcony_area, layout, direction, display_building_name, current_price, sold_at, final_price, final_price_updated_at, earliest_listing_date, management_fee, repair_fund, station_info, parking_info, created_at, updated_at`

func (s *PostgresStore) scanPropertyRow(row rowScanner) (*models.MasterProperty, error) {
	var p models.MasterProperty
	err := row.Scan(&p.ID, &p.BuildingID, &p.RoomNumber, &p.FloorNumber, &p.Area, &p.BalconyArea,
		&p.Layout, &p.Direction, &p.DisplayBuildingName, &p.CurrentPrice, &p.SoldAt, &p.FinalPrice,
		&p.FinalPriceUpdatedAt, &p.EarliestListingDate, &p.ManagementFee, &p.RepairFund,
		&p.StationInfo, &p.ParkingInfo, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) scanPropertyRows(rows pgx.Rows) ([]*models.MasterProperty, error) {
	var out []*models.MasterProperty
	for rows.Next() {
		p, err := s.scanPropertyRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const listingSelectCols = `SELECT id, master_property_id, source_site, site_property_id, url, listing_building_name, listing_address, listing_floor_number, listing_area, listing_layout, listing_direction, listing_total_floors, listing_built_year, listing_built_month, listing_balcony_area, listing_total_units, listing_basement_floors, listing_land_rights, listing_station_info, listing_building_structure, room_number, current_price, management_fee, repair_fund, agency_name, agency_tel, is_active, has_update_mark, first_seen_at, first_published_at, published_at, last_scraped_at, last_confirmed_at, last_fetched_at, price_updated_at, delisted_at, detail_fetched_at, created_at, updated_at`

func (s *PostgresStore) scanListingRow(row rowScanner) (*models.Listing, error) {
	var l models.Listing
	err := row.Scan(&l.ID, &l.MasterPropertyID, &l.SourceSite, &l.SitePropertyID, &l.URL, &l.ListingBuildingName,
		&l.ListingAddress, &l.ListingFloorNumber, &l.ListingArea, &l.ListingLayout, &l.ListingDirection,
		&l.ListingTotalFloors, &l.ListingBuiltYear, &l.ListingBuiltMonth, &l.ListingBalconyArea,
		&l.ListingTotalUnits, &l.ListingBasementFloors, &l.ListingLandRights, &l.ListingStationInfo,
		&l.ListingBuildingStructure, &l.RoomNumber, &l.CurrentPrice, &l.ManagementFee, &l.RepairFund,
		&l.AgencyName, &l.AgencyTel, &l.IsActive, &l.HasUpdateMark, &l.FirstSeenAt, &l.FirstPublishedAt,
		&l.PublishedAt, &l.LastScrapedAt, &l.LastConfirmedAt, &l.LastFetchedAt, &l.PriceUpdatedAt,
		&l.DelistedAt, &l.DetailFetchedAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) scanListingRows(rows pgx.Rows) ([]*models.Listing, error) {
	var out []*models.Listing
	for rows.Next() {
		l, err := s.scanListingRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetProperty / GetBuilding / ListListingsForProperty / ListListingsForBuilding
// are shared across VoteStore, LifecycleStore, PriceChangeStore, and MergeStore.

func (s *PostgresStore) GetProperty(ctx context.Context, propertyID int64) (*models.MasterProperty, error) {
	p, err := s.scanPropertyRow(s.pool.QueryRow(ctx, propertySelectCols+` FROM master_properties WHERE id = $1`, propertyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (s *PostgresStore) GetBuilding(ctx context.Context, buildingID int64) (*models.Building, error) {
	b, err := s.scanBuildingRow(s.pool.QueryRow(ctx, buildingSelectCols+` FROM buildings WHERE id = $1`, buildingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func (s *PostgresStore) ListListingsForProperty(ctx context.Context, propertyID int64) ([]*models.Listing, error) {
	rows, err := s.pool.Query(ctx, listingSelectCols+` FROM listings WHERE master_property_id = $1`, propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanListingRows(rows)
}

func (s *PostgresStore) ListListingsForBuilding(ctx context.Context, buildingID int64) ([]*models.Listing, error) {
	rows, err := s.pool.Query(ctx, listingSelectCols+`
		FROM listings l
		JOIN master_properties p ON p.id = l.master_property_id
		WHERE p.building_id = $1`, buildingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanListingRows(rows)
}
