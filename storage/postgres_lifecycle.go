package storage

import (
	"context"
	"time"

	"condoreconcile/models"
)

// ListStaleActiveListings implements services.LifecycleStore:
// every active listing last confirmed before olderThan.
func (s *PostgresStore) ListStaleActiveListings(ctx context.Context, olderThan time.Time) ([]*models.Listing, error) {
	rows, err := s.pool.Query(ctx, listingSelectCols+` FROM listings WHERE is_active AND last_confirmed_at < $1`, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanListingRows(rows)
}

func (s *PostgresStore) DelistListing(ctx context.Context, listingID int64, delistedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE listings SET is_active = FALSE, delisted_at = $2, updated_at = now() WHERE id = $1`, listingID, delistedAt)
	return err
}

func (s *PostgresStore) CountActiveListingsForProperty(ctx context.Context, propertyID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM listings WHERE master_property_id = $1 AND is_active`, propertyID).Scan(&n)
	return n, err
}

func (s *PostgresStore) MaxDelistedAtForProperty(ctx context.Context, propertyID int64) (time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx, `SELECT max(delisted_at) FROM listings WHERE master_property_id = $1`, propertyID).Scan(&t)
	return t, err
}

func (s *PostgresStore) ListPriceHistoryInWindow(ctx context.Context, propertyID int64, from, to time.Time) ([]*models.ListingPriceHistory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT h.id, h.listing_id, h.recorded_at, h.price
		FROM listing_price_history h
		JOIN listings l ON l.id = h.listing_id
		WHERE l.master_property_id = $1 AND h.recorded_at BETWEEN $2 AND $3`, propertyID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.ListingPriceHistory
	for rows.Next() {
		var h models.ListingPriceHistory
		if err := rows.Scan(&h.ID, &h.ListingID, &h.RecordedAt, &h.Price); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetPropertySold(ctx context.Context, propertyID int64, soldAt time.Time, finalPrice *int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE master_properties SET sold_at = $2, final_price = $3, final_price_updated_at = now(), updated_at = now()
		WHERE id = $1`, propertyID, soldAt, finalPrice)
	return err
}

func (s *PostgresStore) ListPriceHistoryForListing(ctx context.Context, listingID int64) ([]*models.ListingPriceHistory, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, listing_id, recorded_at, price FROM listing_price_history WHERE listing_id = $1`, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.ListingPriceHistory
	for rows.Next() {
		var h models.ListingPriceHistory
		if err := rows.Scan(&h.ID, &h.ListingID, &h.RecordedAt, &h.Price); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

// ReplacePropertyPriceChanges implements services.PriceChangeStore: a
// transactional delete-then-insert, keeping Recompute idempotent and
// round-trippable.
func (s *PostgresStore) ReplacePropertyPriceChanges(ctx context.Context, propertyID int64, changes []*models.PropertyPriceChange) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM property_price_changes WHERE master_property_id = $1`, propertyID); err != nil {
		return err
	}
	for _, c := range changes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO property_price_changes (master_property_id, change_date, old_price, new_price, price_diff, price_diff_rate, new_price_votes, old_price_votes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			propertyID, c.ChangeDate, c.OldPrice, c.NewPrice, c.PriceDiff, c.PriceDiffRate, c.NewPriceVotes, c.OldPriceVotes); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) EnqueuePriceChange(ctx context.Context, propertyID int64, reason string, priority int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO property_price_change_queue (master_property_id, status, priority, reason, created_at)
		VALUES ($1, 'pending', $2, $3, now())
		ON CONFLICT DO NOTHING`, propertyID, priority, reason)
	if err != nil {
		return err
	}
	// Coalesce: if a pending row already exists for this property, lower its
	// priority value (raise its urgency) to the min of old/new.
	_, err = s.pool.Exec(ctx, `
		UPDATE property_price_change_queue SET priority = LEAST(priority, $2)
		WHERE master_property_id = $1 AND status = 'pending'`, propertyID, priority)
	return err
}

func (s *PostgresStore) DequeuePriceChangeBatch(ctx context.Context, limit int) ([]*models.PropertyPriceChangeQueue, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE property_price_change_queue SET status = 'processing'
		WHERE id IN (
			SELECT id FROM property_price_change_queue
			WHERE status = 'pending'
			ORDER BY priority ASC, created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, master_property_id, status, priority, reason, error_message, created_at, processed_at`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.PropertyPriceChangeQueue
	for rows.Next() {
		var q models.PropertyPriceChangeQueue
		if err := rows.Scan(&q.ID, &q.MasterPropertyID, &q.Status, &q.Priority, &q.Reason, &q.ErrorMessage, &q.CreatedAt, &q.ProcessedAt); err != nil {
			return nil, err
		}
		out = append(out, &q)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkQueueItemStatus(ctx context.Context, id int64, status, errorMessage string) error {
	_, err := s.pool.Exec(ctx, `UPDATE property_price_change_queue SET status = $2, error_message = $3, processed_at = now() WHERE id = $1`, id, status, errorMessage)
	return err
}
