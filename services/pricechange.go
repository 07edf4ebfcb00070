package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"condoreconcile/models"
)

// PriceChangeStore is the persistence slice C5 needs.
type PriceChangeStore interface {
	GetProperty(ctx context.Context, propertyID int64) (*models.MasterProperty, error)
	ListListingsForProperty(ctx context.Context, propertyID int64) ([]*models.Listing, error)
	ListPriceHistoryForListing(ctx context.Context, listingID int64) ([]*models.ListingPriceHistory, error)
	ReplacePropertyPriceChanges(ctx context.Context, propertyID int64, changes []*models.PropertyPriceChange) error

	EnqueuePriceChange(ctx context.Context, propertyID int64, reason string, priority int) error
	DequeuePriceChangeBatch(ctx context.Context, limit int) ([]*models.PropertyPriceChangeQueue, error)
	MarkQueueItemStatus(ctx context.Context, id int64, status, errorMessage string) error
}

// Queue priorities, 0 highest.
const (
	PriorityMergeOrRevert = 0
	PriorityListingUpdate = 5
	PriorityLifecycle = 5
	PriorityPeriodicSweep = 10
)

// PriceChangeCalculator implements C5: deriving per-property canonical
// price-change events from per-listing price observations, plus the
// PropertyPriceChangeQueue worker that drains recomputation requests.
type PriceChangeCalculator struct {
	store PriceChangeStore
}

func NewPriceChangeCalculator(store PriceChangeStore) *PriceChangeCalculator {
	return &PriceChangeCalculator{store: store}
}

// Enqueue implements the queue's coalescing rule: a new request upgrades
// (lowers) the priority of any existing pending row for the same property
// rather than adding a duplicate; the store is responsible for the upsert.
func (c *PriceChangeCalculator) Enqueue(ctx context.Context, propertyID int64, reason string, priority int) error {
	return c.store.EnqueuePriceChange(ctx, propertyID, reason, priority)
}

// DrainOnce pulls up to limit pending rows in priority order and recomputes
// each, transitioning pending -> processing -> completed|failed.
func (c *PriceChangeCalculator) DrainOnce(ctx context.Context, limit int) (processed, failed int, err error) {
	items, err := c.store.DequeuePriceChangeBatch(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("dequeue batch: %w", err)
	}
	for _, item := range items {
		if err := c.Recompute(ctx, item.MasterPropertyID); err != nil {
			_ = c.store.MarkQueueItemStatus(ctx, item.ID, models.QueueStatusFailed, err.Error())
			failed++
			continue
		}
		_ = c.store.MarkQueueItemStatus(ctx, item.ID, models.QueueStatusCompleted, "")
		processed++
	}
	return processed, failed, nil
}

// listingSpan is a listing's in-effect window plus its price-history
// observations, prepared once per Recompute call.
type listingSpan struct {
	firstSeen time.Time
	delisted *time.Time
	current int
	history []*models.ListingPriceHistory // sorted ascending by RecordedAt
}

func (s listingSpan) inEffect(day time.Time) bool {
	if day.Before(dateOnly(s.firstSeen)) {
		return false
	}
	if s.delisted != nil && day.After(dateOnly(*s.delisted)) {
		return false
	}
	return true
}

// priceOn returns the listing's price on the given day: the latest history
// entry on or before that day, falling back to current price.
func (s listingSpan) priceOn(day time.Time) (int, bool) {
	best := -1
	found := false
	for _, h := range s.history {
		if !dateOnly(h.RecordedAt).After(day) {
			best = h.Price
			found = true
		}
	}
	if found {
		return best, true
	}
	return s.current, true
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Recompute in full: derive per-day majority prices across
// all in-effect listings, walk days looking for majority changes, and
// atomically replace the property's PropertyPriceChange rows.
func (c *PriceChangeCalculator) Recompute(ctx context.Context, propertyID int64) error {
	prop, err := c.store.GetProperty(ctx, propertyID)
	if err != nil {
		return fmt.Errorf("get property: %w", err)
	}
	if prop == nil {
		return nil
	}
	listings, err := c.store.ListListingsForProperty(ctx, propertyID)
	if err != nil {
		return fmt.Errorf("list listings: %w", err)
	}
	if len(listings) == 0 {
		return c.store.ReplacePropertyPriceChanges(ctx, propertyID, nil)
	}

	spans := make([]listingSpan, 0, len(listings))
	var minDay time.Time
	for i, l := range listings {
		hist, err := c.store.ListPriceHistoryForListing(ctx, l.ID)
		if err != nil {
			return fmt.Errorf("list price history: %w", err)
		}
		sort.Slice(hist, func(a, b int) bool { return hist[a].RecordedAt.Before(hist[b].RecordedAt) })
		current := 0
		if l.CurrentPrice != nil {
			current = *l.CurrentPrice
		}
		span := listingSpan{firstSeen: l.FirstSeenAt, delisted: l.DelistedAt, current: current, history: hist}
		spans = append(spans, span)
		fs := dateOnly(l.FirstSeenAt)
		if i == 0 || fs.Before(minDay) {
			minDay = fs
		}
	}

	today := dateOnly(time.Now())
	var changes []*models.PropertyPriceChange
	var prevPrice *int
	var prevVotes int

	for day := minDay; !day.After(today); day = day.AddDate(0, 0, 1) {
		priceCounts := make(map[int]int)
		for _, s := range spans {
			if !s.inEffect(day) {
				continue
			}
			p, ok := s.priceOn(day)
			if !ok {
				continue
			}
			priceCounts[p]++
		}
		if len(priceCounts) == 0 {
			continue
		}
		dayPrice, dayVotes := majorityBySmallestPriceTie(priceCounts)

		if prevPrice == nil {
			prevPrice = &dayPrice
			prevVotes = dayVotes
			continue
		}
		if dayPrice != *prevPrice {
			diff := dayPrice - *prevPrice
			var rate float64
			if *prevPrice != 0 {
				rate = float64(diff) / float64(*prevPrice) * 100
			}
			oldVotes := prevVotes
			changes = append(changes, &models.PropertyPriceChange{
				MasterPropertyID: propertyID,
				ChangeDate: day,
				OldPrice: prevPrice,
				NewPrice: dayPrice,
				PriceDiff: &diff,
				PriceDiffRate: &rate,
				NewPriceVotes: dayVotes,
				OldPriceVotes: &oldVotes,
			})
			next := dayPrice
			prevPrice = &next
			prevVotes = dayVotes
		}
	}

	return c.store.ReplacePropertyPriceChanges(ctx, propertyID, changes)
}

// majorityBySmallestPriceTie picks the price with the largest vote count;
// ties broken by the smaller price.
func majorityBySmallestPriceTie(counts map[int]int) (int, int) {
	bestPrice := math.MaxInt64
	bestVotes := -1
	for price, votes := range counts {
		if votes > bestVotes || (votes == bestVotes && price < bestPrice) {
			bestVotes = votes
			bestPrice = price
		}
	}
	return bestPrice, bestVotes
}
