package services

import (
	"context"
	"fmt"
	"time"
)

// RetryLedgerStore is the persistence slice C9 needs.
type RetryLedgerStore interface {
	GetURL404Retry(ctx context.Context, sourceSite, sitePropertyID string) (*Url404RetryRow, error)
	UpsertURL404Retry(ctx context.Context, row Url404RetryRow) error

	GetPriceMismatch(ctx context.Context, sourceSite, sitePropertyID string) (*PriceMismatchRow, error)
	UpsertPriceMismatch(ctx context.Context, row PriceMismatchRow) error
	ResolvePriceMismatch(ctx context.Context, sourceSite, sitePropertyID string) error
}

// Url404RetryRow and PriceMismatchRow mirror models.Url404Retry /
// models.PriceMismatchHistory; kept as separate plain structs here so the
// ledger's own package has no compile-time dependency on storage row IDs.
type Url404RetryRow struct {
	SourceSite string
	SitePropertyID string
	ErrorCount int
	FirstErrorAt time.Time
	LastErrorAt time.Time
	RetryAfter time.Time
	IsResolved bool
}

type PriceMismatchRow struct {
	SourceSite string
	SitePropertyID string
	ListPrice int
	DetailPrice int
	ErrorCount int
	FirstErrorAt time.Time
	LastErrorAt time.Time
	RetryAfter time.Time
	IsResolved bool
}

const (
	maxRetryBackoff = 7 * 24 * time.Hour
	priceMismatchWindow = 7 * 24 * time.Hour
	// PriceMismatchTolerance is the small absolute yen tolerance below which
	// a list/detail price disagreement is not treated as a mismatch.
	PriceMismatchTolerance = 0
)

// RetryLedger implements C9.
type RetryLedger struct {
	store RetryLedgerStore
}

func NewRetryLedger(store RetryLedgerStore) *RetryLedger {
	return &RetryLedger{store: store}
}

// Record404 inserts or updates a Url404Retry row on a 404 observation,
// doubling the backoff each time up to a 7-day cap.
func (r *RetryLedger) Record404(ctx context.Context, sourceSite, sitePropertyID string, now time.Time) error {
	existing, err := r.store.GetURL404Retry(ctx, sourceSite, sitePropertyID)
	if err != nil {
		return fmt.Errorf("get url404 retry: %w", err)
	}

	row := Url404RetryRow{SourceSite: sourceSite, SitePropertyID: sitePropertyID, LastErrorAt: now}
	if existing == nil {
		row.ErrorCount = 1
		row.FirstErrorAt = now
		row.RetryAfter = now.Add(1 * time.Hour)
	} else {
		row.ErrorCount = existing.ErrorCount + 1
		row.FirstErrorAt = existing.FirstErrorAt
		backoff := 2 * existing.RetryAfter.Sub(existing.LastErrorAt)
		if backoff <= 0 {
			backoff = time.Hour
		}
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
		row.RetryAfter = now.Add(backoff)
	}
	row.IsResolved = false
	return r.store.UpsertURL404Retry(ctx, row)
}

// ShouldSkip404 reports whether the orchestrator should skip scheduling a
// detail fetch for this URL right now.
func (r *RetryLedger) ShouldSkip404(ctx context.Context, sourceSite, sitePropertyID string, now time.Time) (bool, error) {
	existing, err := r.store.GetURL404Retry(ctx, sourceSite, sitePropertyID)
	if err != nil {
		return false, fmt.Errorf("get url404 retry: %w", err)
	}
	if existing == nil || existing.IsResolved {
		return false, nil
	}
	return existing.RetryAfter.After(now), nil
}

// RecordPriceMismatch records a list/detail price disagreement and
// suppresses detail re-fetch for 7 days.
func (r *RetryLedger) RecordPriceMismatch(ctx context.Context, sourceSite, sitePropertyID string, listPrice, detailPrice int, now time.Time) error {
	if abs(listPrice-detailPrice) <= PriceMismatchTolerance {
		return r.store.ResolvePriceMismatch(ctx, sourceSite, sitePropertyID)
	}
	existing, err := r.store.GetPriceMismatch(ctx, sourceSite, sitePropertyID)
	if err != nil {
		return fmt.Errorf("get price mismatch: %w", err)
	}
	row := PriceMismatchRow{
		SourceSite: sourceSite, SitePropertyID: sitePropertyID,
		ListPrice: listPrice, DetailPrice: detailPrice,
		LastErrorAt: now, RetryAfter: now.Add(priceMismatchWindow), IsResolved: false,
	}
	if existing == nil {
		row.ErrorCount = 1
		row.FirstErrorAt = now
	} else {
		row.ErrorCount = existing.ErrorCount + 1
		row.FirstErrorAt = existing.FirstErrorAt
	}
	return r.store.UpsertPriceMismatch(ctx, row)
}

// ShouldSkipDetailFetch reports whether a subsequent detail fetch should be
// suppressed because of an unresolved price mismatch.
func (r *RetryLedger) ShouldSkipDetailFetch(ctx context.Context, sourceSite, sitePropertyID string, now time.Time) (bool, error) {
	existing, err := r.store.GetPriceMismatch(ctx, sourceSite, sitePropertyID)
	if err != nil {
		return false, fmt.Errorf("get price mismatch: %w", err)
	}
	if existing == nil || existing.IsResolved {
		return false, nil
	}
	return existing.RetryAfter.After(now), nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
