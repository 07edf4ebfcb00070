package scraper

import (
	"context"
	"sync"

	"condoreconcile/models"
)

// StubScraper is the test/wiring double for the Scraper contract. It emits a fixed, in-memory set
// of RawListings for an area and honors safe points exactly like a real
// implementation would, so the orchestrator, registry, and pair runner can be
// exercised end-to-end without a live site.
type StubScraper struct {
	name string
	sourceSite string
	listingsByArea map[string][]*models.RawListing

	mu sync.Mutex
	resume *models.ResumeState
}

// NewStubScraper builds a double seeded with listingsByArea, keyed by area
// code.
func NewStubScraper(sourceSite string, listingsByArea map[string][]*models.RawListing) *StubScraper {
	return &StubScraper{name: sourceSite, sourceSite: sourceSite, listingsByArea: listingsByArea}
}

func (s *StubScraper) Name() string { return s.name }
func (s *StubScraper) SourceSite() string { return s.sourceSite }

func (s *StubScraper) GetResumeState() *models.ResumeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resume
}

func (s *StubScraper) SetResumeState(rs *models.ResumeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resume = rs
}

// ScrapeArea replays its seeded listings, resuming from ResumeState.ProcessedCount
// if one was set, checking
// a safe point between every item.
func (s *StubScraper) ScrapeArea(ctx context.Context, areaCode string, maxProperties int, flags *ControlFlags) <-chan ScrapeEvent {
	out := make(chan ScrapeEvent)
	listings := s.listingsByArea[areaCode]

	start := 0
	s.mu.Lock()
	if s.resume != nil {
		start = s.resume.ProcessedCount
	} else {
		s.resume = &models.ResumeState{Phase: "list"}
	}
	s.mu.Unlock()

	go func() {
		defer close(out)
		for i := start; i < len(listings); i++ {
			if maxProperties > 0 && i >= maxProperties {
				break
			}
			switch CheckSafePoint(flags) {
			case Cancel:
				return
			case Pause:
				// CheckSafePoint already blocked until resumed; if it
				// returned Pause here it means the flag flipped back to
				// cancelled mid-wait, which CheckSafePoint itself reports
				// as Cancel, so this branch is unreachable in practice.
			}

			l := listings[i]
			detailFetched := !flags.ShouldSkipDetail(ctx, s.sourceSite, l.SitePropertyID)
			select {
			case out <- ScrapeEvent{Listing: l, DetailFetched: detailFetched, Kind: EventListing}:
			case <-ctx.Done():
				return
			}

			s.mu.Lock()
			s.resume.ProcessedCount = i + 1
			s.resume.CollectedCount = i + 1
			s.resume.Stats.PropertiesFound = len(listings)
			s.resume.Stats.PropertiesProcessed = i + 1
			s.mu.Unlock()
		}
	}()
	return out
}

// Factory returns a Factory that always builds a fresh copy of this double,
// sharing the same seed data (not the same resume state, which is per-run).
func (s *StubScraper) Factory() Factory {
	return func() Scraper {
		return NewStubScraper(s.sourceSite, s.listingsByArea)
	}
}

