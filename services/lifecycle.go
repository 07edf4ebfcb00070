package services

import (
	"context"
	"fmt"
	"time"

	"condoreconcile/models"
)

// DefaultStaleHours and DefaultSoldPriceVoteWindowDays are the lifecycle
// manager's default thresholds, overridable via config for the caller that
// wires the periodic job.
const (
	DefaultStaleHours = 24 * time.Hour
	DefaultSoldPriceVoteWindowDays = 7 * 24 * time.Hour
)

// LifecycleStore is the persistence slice C4 needs.
type LifecycleStore interface {
	ListStaleActiveListings(ctx context.Context, olderThan time.Time) ([]*models.Listing, error)
	DelistListing(ctx context.Context, listingID int64, delistedAt time.Time) error
	CountActiveListingsForProperty(ctx context.Context, propertyID int64) (int, error)
	MaxDelistedAtForProperty(ctx context.Context, propertyID int64) (time.Time, error)
	ListPriceHistoryInWindow(ctx context.Context, propertyID int64, from, to time.Time) ([]*models.ListingPriceHistory, error)
	SetPropertySold(ctx context.Context, propertyID int64, soldAt time.Time, finalPrice *int) error
	GetProperty(ctx context.Context, propertyID int64) (*models.MasterProperty, error)
}

// Invalidator is implemented by the recent-updates cache (C10); C4
// invalidates it after every run.
type Invalidator interface {
	InvalidateAll()
}

// LifecycleManager implements C4.
type LifecycleManager struct {
	store LifecycleStore
	voter *Voter
	priceChange *PriceChangeCalculator
	cache Invalidator
	staleAfter time.Duration
	voteWindow time.Duration
}

func NewLifecycleManager(store LifecycleStore, voter *Voter, pc *PriceChangeCalculator, cache Invalidator, staleAfter, voteWindow time.Duration) *LifecycleManager {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleHours
	}
	if voteWindow <= 0 {
		voteWindow = DefaultSoldPriceVoteWindowDays
	}
	return &LifecycleManager{store: store, voter: voter, priceChange: pc, cache: cache, staleAfter: staleAfter, voteWindow: voteWindow}
}

// LifecycleResult summarizes one Run for logging/testing.
type LifecycleResult struct {
	RetiredListings int
	AffectedProperties []int64
	SoldProperties []int64
}

// Run steps 1-4. It is safe to call on a schedule (every
// 15 minutes per the design) and after every completed scrape task.
func (m *LifecycleManager) Run(ctx context.Context, now time.Time) (*LifecycleResult, error) {
	cutoff := now.Add(-m.staleAfter)
	stale, err := m.store.ListStaleActiveListings(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale listings: %w", err)
	}

	res := &LifecycleResult{}
	affectedProperties := make(map[int64]struct{})

	for _, l := range stale {
		delistedAt := l.LastConfirmedAt
		if err := m.store.DelistListing(ctx, l.ID, delistedAt); err != nil {
			return res, fmt.Errorf("delist listing %d: %w", l.ID, err)
		}
		res.RetiredListings++
		affectedProperties[l.MasterPropertyID] = struct{}{}
	}

	for propertyID := range affectedProperties {
		res.AffectedProperties = append(res.AffectedProperties, propertyID)

		activeCount, err := m.store.CountActiveListingsForProperty(ctx, propertyID)
		if err != nil {
			return res, fmt.Errorf("count active listings: %w", err)
		}
		if activeCount == 0 {
			prop, err := m.store.GetProperty(ctx, propertyID)
			if err != nil {
				return res, fmt.Errorf("get property: %w", err)
			}
			if prop != nil && prop.SoldAt == nil {
				soldAt, err := m.store.MaxDelistedAtForProperty(ctx, propertyID)
				if err != nil {
					return res, fmt.Errorf("max delisted at: %w", err)
				}
				finalPrice, err := m.computeFinalPrice(ctx, propertyID, soldAt)
				if err != nil {
					return res, fmt.Errorf("compute final price: %w", err)
				}
				if err := m.store.SetPropertySold(ctx, propertyID, soldAt, finalPrice); err != nil {
					return res, fmt.Errorf("set property sold: %w", err)
				}
				res.SoldProperties = append(res.SoldProperties, propertyID)
			}
		}
		if m.voter != nil {
			if err := m.voter.RefreshProperty(ctx, propertyID); err != nil {
				return res, fmt.Errorf("refresh property %d: %w", propertyID, err)
			}
		}
	}

	if m.cache != nil {
		m.cache.InvalidateAll()
	}
	return res, nil
}

// computeFinalPrice step 2: majority vote over
// ListingPriceHistory observations in the 7 days before sold_at, ties
// broken by the higher price. Returns nil if no observations exist in the
// window.
func (m *LifecycleManager) computeFinalPrice(ctx context.Context, propertyID int64, soldAt time.Time) (*int, error) {
	history, err := m.store.ListPriceHistoryInWindow(ctx, propertyID, soldAt.Add(-m.voteWindow), soldAt)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, nil
	}
	counts := make(map[int]int)
	for _, h := range history {
		counts[h.Price]++
	}
	best := 0
	bestCount := -1
	for price, count := range counts {
		if count > bestCount || (count == bestCount && price > best) {
			bestCount = count
			best = price
		}
	}
	return &best, nil
}
