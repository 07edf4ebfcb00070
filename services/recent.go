package services

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RecentUpdateEvent is one row of the projection: either a price change or
// a new-listing event, ward-bucketed for the admin read surface.
type RecentUpdateEvent struct {
	PropertyID int64
	BuildingID int64
	Ward string
	Kind string // "price_change" or "new_listing"
	OccurredAt time.Time
	OldPrice *int
	NewPrice *int
}

// RecentUpdatesSource computes the raw event set for a window; the cache
// layer is responsible for TTL and ward filtering on top of it.
type RecentUpdatesSource interface {
	// RecentEvents returns price-change and new-listing events in the last
	// `hours` hours, already filtered to properties with at least one
	// active listing and buildings with is_valid_name = true.
	RecentEvents(ctx context.Context, hours int) ([]RecentUpdateEvent, error)
}

// WardCounts is the "_counts_" projection: number of events per ward.
type WardCounts map[string]int

const recentUpdatesTTL = 30 * time.Minute

type recentCacheEntry struct {
	computedAt time.Time
	events []RecentUpdateEvent
	counts WardCounts
}

// RecentUpdatesCache implements C10: an in-process TTL cache over
// RecentUpdatesSource, keyed by "recent_updates_{hours}h" /
// "recent_updates_counts_{hours}h", with an optional ward filter layered on
// top of the base hours-window query.
type RecentUpdatesCache struct {
	mu sync.Mutex
	source RecentUpdatesSource
	ttl time.Duration
	byKey map[string]recentCacheEntry
}

func NewRecentUpdatesCache(source RecentUpdatesSource) *RecentUpdatesCache {
	return &RecentUpdatesCache{source: source, ttl: recentUpdatesTTL, byKey: make(map[string]recentCacheEntry)}
}

func cacheKey(hours int) string {
	return fmt.Sprintf("recent_updates_%dh", hours)
}

func countsCacheKey(hours int) string {
	return fmt.Sprintf("recent_updates_counts_%dh", hours)
}

// Get returns the events for the given window, optionally filtered to a
// single ward, computing and caching on a miss.
func (c *RecentUpdatesCache) Get(ctx context.Context, hours int, ward string) ([]RecentUpdateEvent, error) {
	entry, err := c.entryFor(ctx, hours)
	if err != nil {
		return nil, err
	}
	if ward == "" {
		return entry.events, nil
	}
	var filtered []RecentUpdateEvent
	for _, e := range entry.events {
		if e.Ward == ward {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// Counts returns the ward-bucketed event counts for the given window.
func (c *RecentUpdatesCache) Counts(ctx context.Context, hours int) (WardCounts, error) {
	entry, err := c.entryFor(ctx, hours)
	if err != nil {
		return nil, err
	}
	return entry.counts, nil
}

func (c *RecentUpdatesCache) entryFor(ctx context.Context, hours int) (recentCacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(hours)
	if e, ok := c.byKey[key]; ok && time.Since(e.computedAt) < c.ttl {
		return e, nil
	}

	events, err := c.source.RecentEvents(ctx, hours)
	if err != nil {
		return recentCacheEntry{}, fmt.Errorf("recent events: %w", err)
	}
	counts := make(WardCounts)
	for _, e := range events {
		counts[e.Ward]++
	}
	entry := recentCacheEntry{computedAt: time.Now(), events: events, counts: counts}
	c.byKey[key] = entry
	c.byKey[countsCacheKey(hours)] = entry
	return entry, nil
}

// InvalidateAll implements the Invalidator interface consulted by C4, C5,
// and C6: after a lifecycle run, any merge, or an operator
// cache-clear command, every cached window is dropped.
func (c *RecentUpdatesCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey = make(map[string]recentCacheEntry)
}
