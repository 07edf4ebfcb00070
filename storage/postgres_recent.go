package storage

import (
	"context"

	"condoreconcile/services"
)

// wardFromAddress extracts a rough ward/city bucket from a normalized
// address: the portion before the first chō-me-style numeral run. Good
// enough for cache bucketing; never shown to an end user directly.
func wardFromAddress(addr string) string {
	for i, r := range addr {
		if r >= '0' && r <= '9' {
			return addr[:i]
		}
	}
	return addr
}

// RecentEvents implements services.RecentUpdatesSource: price
// changes and new listings in the last `hours` hours, filtered to
// currently-active properties in validly-named buildings.
func (s *PostgresStore) RecentEvents(ctx context.Context, hours int) ([]services.RecentUpdateEvent, error) {
	var out []services.RecentUpdateEvent

	priceRows, err := s.pool.Query(ctx, `
		SELECT c.master_property_id, p.building_id, b.normalized_address, c.change_date, c.old_price, c.new_price
		FROM property_price_changes c
		JOIN master_properties p ON p.id = c.master_property_id
		JOIN buildings b ON b.id = p.building_id
		WHERE c.change_date >= now() - ($1 || ' hours')::interval
		AND b.is_valid_name
		AND EXISTS (SELECT 1 FROM listings l WHERE l.master_property_id = p.id AND l.is_active)`, hours)
	if err != nil {
		return nil, err
	}
	for priceRows.Next() {
		var e services.RecentUpdateEvent
		e.Kind = "price_change"
		if err := priceRows.Scan(&e.PropertyID, &e.BuildingID, &e.Ward, &e.OccurredAt, &e.OldPrice, &e.NewPrice); err != nil {
			priceRows.Close()
			return nil, err
		}
		e.Ward = wardFromAddress(e.Ward)
		out = append(out, e)
	}
	priceRows.Close()
	if err := priceRows.Err(); err != nil {
		return nil, err
	}

	newRows, err := s.pool.Query(ctx, `
		SELECT l.master_property_id, p.building_id, b.normalized_address, l.first_seen_at
		FROM listings l
		JOIN master_properties p ON p.id = l.master_property_id
		JOIN buildings b ON b.id = p.building_id
		WHERE l.first_seen_at >= now() - ($1 || ' hours')::interval
		AND b.is_valid_name AND l.is_active`, hours)
	if err != nil {
		return nil, err
	}
	defer newRows.Close()
	for newRows.Next() {
		var e services.RecentUpdateEvent
		e.Kind = "new_listing"
		if err := newRows.Scan(&e.PropertyID, &e.BuildingID, &e.Ward, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Ward = wardFromAddress(e.Ward)
		out = append(out, e)
	}
	return out, newRows.Err()
}
