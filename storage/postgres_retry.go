package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"condoreconcile/services"
)

// GetURL404Retry implements services.RetryLedgerStore.
func (s *PostgresStore) GetURL404Retry(ctx context.Context, sourceSite, sitePropertyID string) (*services.Url404RetryRow, error) {
	var r services.Url404RetryRow
	err := s.pool.QueryRow(ctx, `
		SELECT source_site, site_property_id, error_count, first_error_at, last_error_at, retry_after, is_resolved
		FROM url404_retries WHERE source_site = $1 AND site_property_id = $2`, sourceSite, sitePropertyID).
		Scan(&r.SourceSite, &r.SitePropertyID, &r.ErrorCount, &r.FirstErrorAt, &r.LastErrorAt, &r.RetryAfter, &r.IsResolved)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) UpsertURL404Retry(ctx context.Context, row services.Url404RetryRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO url404_retries (source_site, site_property_id, error_count, first_error_at, last_error_at, retry_after, is_resolved)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_site, site_property_id) DO UPDATE SET
			error_count = EXCLUDED.error_count,
			last_error_at = EXCLUDED.last_error_at,
			retry_after = EXCLUDED.retry_after,
			is_resolved = EXCLUDED.is_resolved`,
		row.SourceSite, row.SitePropertyID, row.ErrorCount, row.FirstErrorAt, row.LastErrorAt, row.RetryAfter, row.IsResolved)
	return err
}

func (s *PostgresStore) GetPriceMismatch(ctx context.Context, sourceSite, sitePropertyID string) (*services.PriceMismatchRow, error) {
	var r services.PriceMismatchRow
	err := s.pool.QueryRow(ctx, `
		SELECT source_site, site_property_id, list_price, detail_price, error_count, first_error_at, last_error_at, retry_after, is_resolved
		FROM price_mismatch_history WHERE source_site = $1 AND site_property_id = $2`, sourceSite, sitePropertyID).
		Scan(&r.SourceSite, &r.SitePropertyID, &r.ListPrice, &r.DetailPrice, &r.ErrorCount, &r.FirstErrorAt, &r.LastErrorAt, &r.RetryAfter, &r.IsResolved)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) UpsertPriceMismatch(ctx context.Context, row services.PriceMismatchRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO price_mismatch_history (source_site, site_property_id, list_price, detail_price, error_count, first_error_at, last_error_at, retry_after, is_resolved)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (source_site, site_property_id) DO UPDATE SET
			list_price = EXCLUDED.list_price,
			detail_price = EXCLUDED.detail_price,
			error_count = EXCLUDED.error_count,
			last_error_at = EXCLUDED.last_error_at,
			retry_after = EXCLUDED.retry_after,
			is_resolved = EXCLUDED.is_resolved`,
		row.SourceSite, row.SitePropertyID, row.ListPrice, row.DetailPrice, row.ErrorCount, row.FirstErrorAt, row.LastErrorAt, row.RetryAfter, row.IsResolved)
	return err
}

func (s *PostgresStore) ResolvePriceMismatch(ctx context.Context, sourceSite, sitePropertyID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE price_mismatch_history SET is_resolved = TRUE WHERE source_site = $1 AND site_property_id = $2`, sourceSite, sitePropertyID)
	return err
}
