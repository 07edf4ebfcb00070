package services

import (
	"context"
	"testing"
	"time"
)

type fakeRetryLedgerStore struct {
	url404  map[string]*Url404RetryRow
	mismatch map[string]*PriceMismatchRow
}

func newFakeRetryLedgerStore() *fakeRetryLedgerStore {
	return &fakeRetryLedgerStore{
		url404:   make(map[string]*Url404RetryRow),
		mismatch: make(map[string]*PriceMismatchRow),
	}
}

func retryKey(source, id string) string { return source + "/" + id }

func (s *fakeRetryLedgerStore) GetURL404Retry(ctx context.Context, sourceSite, sitePropertyID string) (*Url404RetryRow, error) {
	return s.url404[retryKey(sourceSite, sitePropertyID)], nil
}
func (s *fakeRetryLedgerStore) UpsertURL404Retry(ctx context.Context, row Url404RetryRow) error {
	s.url404[retryKey(row.SourceSite, row.SitePropertyID)] = &row
	return nil
}
func (s *fakeRetryLedgerStore) GetPriceMismatch(ctx context.Context, sourceSite, sitePropertyID string) (*PriceMismatchRow, error) {
	return s.mismatch[retryKey(sourceSite, sitePropertyID)], nil
}
func (s *fakeRetryLedgerStore) UpsertPriceMismatch(ctx context.Context, row PriceMismatchRow) error {
	s.mismatch[retryKey(row.SourceSite, row.SitePropertyID)] = &row
	return nil
}
func (s *fakeRetryLedgerStore) ResolvePriceMismatch(ctx context.Context, sourceSite, sitePropertyID string) error {
	if row, ok := s.mismatch[retryKey(sourceSite, sitePropertyID)]; ok {
		row.IsResolved = true
	}
	return nil
}

func TestRecord404FirstObservationSetsOneHourBackoff(t *testing.T) {
	store := newFakeRetryLedgerStore()
	ledger := NewRetryLedger(store)
	now := time.Now()

	if err := ledger.Record404(context.Background(), "suumo", "p1", now); err != nil {
		t.Fatalf("Record404() error = %v", err)
	}
	row := store.url404[retryKey("suumo", "p1")]
	if row.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", row.ErrorCount)
	}
	if !row.RetryAfter.Equal(now.Add(time.Hour)) {
		t.Errorf("RetryAfter = %v, want %v", row.RetryAfter, now.Add(time.Hour))
	}
}

func TestRecord404DoublesBackoffOnRepeat(t *testing.T) {
	store := newFakeRetryLedgerStore()
	ledger := NewRetryLedger(store)
	now := time.Now()

	if err := ledger.Record404(context.Background(), "suumo", "p1", now); err != nil {
		t.Fatalf("Record404() error = %v", err)
	}
	next := now.Add(2 * time.Hour)
	if err := ledger.Record404(context.Background(), "suumo", "p1", next); err != nil {
		t.Fatalf("Record404() error = %v", err)
	}
	row := store.url404[retryKey("suumo", "p1")]
	if row.ErrorCount != 2 {
		t.Errorf("ErrorCount = %d, want 2", row.ErrorCount)
	}
	// Backoff from the first call was 1h; it should double to 2h from `next`.
	want := next.Add(2 * time.Hour)
	if !row.RetryAfter.Equal(want) {
		t.Errorf("RetryAfter = %v, want %v", row.RetryAfter, want)
	}
}

func TestRecord404CapsBackoffAtSevenDays(t *testing.T) {
	store := newFakeRetryLedgerStore()
	ledger := NewRetryLedger(store)
	now := time.Now()

	store.url404[retryKey("suumo", "p1")] = &Url404RetryRow{
		SourceSite: "suumo", SitePropertyID: "p1",
		ErrorCount: 10, FirstErrorAt: now.Add(-30 * 24 * time.Hour),
		LastErrorAt: now.Add(-5 * 24 * time.Hour), RetryAfter: now.Add(4 * 24 * time.Hour),
	}
	if err := ledger.Record404(context.Background(), "suumo", "p1", now); err != nil {
		t.Fatalf("Record404() error = %v", err)
	}
	row := store.url404[retryKey("suumo", "p1")]
	if row.RetryAfter.After(now.Add(7 * 24 * time.Hour).Add(time.Second)) {
		t.Errorf("RetryAfter = %v, want capped at 7 days out", row.RetryAfter)
	}
}

func TestShouldSkip404BeforeRetryAfter(t *testing.T) {
	store := newFakeRetryLedgerStore()
	ledger := NewRetryLedger(store)
	now := time.Now()
	if err := ledger.Record404(context.Background(), "suumo", "p1", now); err != nil {
		t.Fatalf("Record404() error = %v", err)
	}
	skip, err := ledger.ShouldSkip404(context.Background(), "suumo", "p1", now.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("ShouldSkip404() error = %v", err)
	}
	if !skip {
		t.Error("ShouldSkip404() = false, want true (still within backoff)")
	}
}

func TestShouldSkip404AfterRetryAfterElapses(t *testing.T) {
	store := newFakeRetryLedgerStore()
	ledger := NewRetryLedger(store)
	now := time.Now()
	if err := ledger.Record404(context.Background(), "suumo", "p1", now); err != nil {
		t.Fatalf("Record404() error = %v", err)
	}
	skip, err := ledger.ShouldSkip404(context.Background(), "suumo", "p1", now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ShouldSkip404() error = %v", err)
	}
	if skip {
		t.Error("ShouldSkip404() = true, want false (backoff elapsed)")
	}
}

func TestShouldSkip404NeverSeenReturnsFalse(t *testing.T) {
	store := newFakeRetryLedgerStore()
	ledger := NewRetryLedger(store)
	skip, err := ledger.ShouldSkip404(context.Background(), "suumo", "unknown", time.Now())
	if err != nil {
		t.Fatalf("ShouldSkip404() error = %v", err)
	}
	if skip {
		t.Error("ShouldSkip404() = true, want false for an unseen URL")
	}
}

func TestRecordPriceMismatchWithinToleranceResolves(t *testing.T) {
	store := newFakeRetryLedgerStore()
	store.mismatch[retryKey("suumo", "p1")] = &PriceMismatchRow{SourceSite: "suumo", SitePropertyID: "p1"}
	ledger := NewRetryLedger(store)

	if err := ledger.RecordPriceMismatch(context.Background(), "suumo", "p1", 9800, 9800, time.Now()); err != nil {
		t.Fatalf("RecordPriceMismatch() error = %v", err)
	}
	if !store.mismatch[retryKey("suumo", "p1")].IsResolved {
		t.Error("expected mismatch to be resolved when prices agree")
	}
}

func TestRecordPriceMismatchOutsideToleranceRecordsAndSuppresses(t *testing.T) {
	store := newFakeRetryLedgerStore()
	ledger := NewRetryLedger(store)
	now := time.Now()

	if err := ledger.RecordPriceMismatch(context.Background(), "suumo", "p1", 9800, 9500, now); err != nil {
		t.Fatalf("RecordPriceMismatch() error = %v", err)
	}
	skip, err := ledger.ShouldSkipDetailFetch(context.Background(), "suumo", "p1", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("ShouldSkipDetailFetch() error = %v", err)
	}
	if !skip {
		t.Error("ShouldSkipDetailFetch() = false, want true within the 7-day suppression window")
	}
}
