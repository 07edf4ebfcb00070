// Package scheduler drives the periodic, non-scraper-triggered work the
// concurrency model calls for: the single C4 lifecycle + geocoding
// backfill worker (which also invalidates the C10 cache after each run), the
// C5 queue drain ticker, and an optional full-catalog duplicate-detection
// cron job — all on top of the
// teacher's robfig/cron/v3 scheduling loop.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"condoreconcile/config"
	"condoreconcile/services"
)

// Scheduler owns the cron runner plus the tickers for intervals tighter than
// cron's one-minute resolution.
type Scheduler struct {
	cfg *config.Config
	log zerolog.Logger
	cron *cron.Cron

	lifecycle *services.LifecycleManager
	prices *services.PriceChangeCalculator
	recent *services.RecentUpdatesCache
	merge *services.MergeController
	geocoder Geocoder

	stop chan struct{}
}

// Geocoder is the out-of-scope collaborator the geocoding-backfill half of
// the periodic worker calls into.
type Geocoder interface {
	BackfillBatch(ctx context.Context, limit int) (geocoded int, err error)
}

// NoOpGeocoder is the test/wiring double: it geocodes nothing and never
// errors, so main can wire the periodic worker before a real provider
// exists.
type NoOpGeocoder struct{}

func (NoOpGeocoder) BackfillBatch(ctx context.Context, limit int) (int, error) { return 0, nil }

func New(cfg *config.Config, log zerolog.Logger, lifecycle *services.LifecycleManager, prices *services.PriceChangeCalculator, recent *services.RecentUpdatesCache, merge *services.MergeController, geocoder Geocoder) *Scheduler {
	if geocoder == nil {
		geocoder = NoOpGeocoder{}
	}
	return &Scheduler{
		cfg: cfg,
		log: log,
		cron: cron.New(),
		lifecycle: lifecycle,
		prices: prices,
		recent: recent,
		merge: merge,
		geocoder: geocoder,
		stop: make(chan struct{}),
	}
}

// Start registers every periodic job and begins running them; it returns
// once registration succeeds — the cron runner itself runs in its own
// goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	every := s.cfg.ListingLifecycleInterval
	if every <= 0 {
		every = 15 * time.Minute
	}
	if _, err := s.cron.AddFunc(cronEvery(every), func() { s.runLifecycleAndBackfill(ctx) }); err != nil {
		return err
	}
	if s.cfg.DuplicateDetectCron != "" {
		if _, err := s.cron.AddFunc(s.cfg.DuplicateDetectCron, func() { s.runDuplicateDetection(ctx) }); err != nil {
			return err
		}
	}
	s.cron.Start()

	go s.runQueueDrainLoop(ctx)
	return nil
}

// Stop halts the cron runner and the queue-drain ticker goroutine.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	close(s.stop)
}

// cronEvery renders a duration as a robfig/cron "@every" spec, the
// library's native way to express sub-hour intervals without a 5-field
// expression.
func cronEvery(d time.Duration) string {
	return "@every " + d.String()
}

// runLifecycleAndBackfill is the "single periodic worker for C4 and for
// geocoding backfill" calls for: it runs the Listing Lifecycle Manager
// sweep, then backfills a batch of ungeocoded properties, in sequence on the
// same tick.
func (s *Scheduler) runLifecycleAndBackfill(ctx context.Context) {
	result, err := s.lifecycle.Run(ctx, time.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("lifecycle run failed")
	} else {
		s.log.Info().
		Int("delisted", result.RetiredListings).
		Int("sold", len(result.SoldProperties)).
		Msg("lifecycle run complete")
	}

	if s.recent != nil {
		s.recent.InvalidateAll()
	}

	const geocodeBatchSize = 50
	if n, err := s.geocoder.BackfillBatch(ctx, geocodeBatchSize); err != nil {
		s.log.Warn().Err(err).Msg("geocoding backfill failed")
	} else if n > 0 {
		s.log.Info().Int("geocoded", n).Msg("geocoding backfill complete")
	}
}

// runDuplicateDetection refreshes the merge controller's duplicate-candidate
// cache proactively, per the DUPLICATE_DETECT_CRON tunable.
func (s *Scheduler) runDuplicateDetection(ctx context.Context) {
	if s.merge == nil {
		return
	}
	candidates, err := s.merge.DuplicateCandidates(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("duplicate detection sweep failed")
		return
	}
	s.log.Info().Int("candidates", len(candidates)).Msg("duplicate detection sweep complete")
}

// runQueueDrainLoop is the "single C5 queue worker (background batch
// processor)": it drains PriceChangeQueue in PriceChangeQueueBatchSize
// batches every PriceChangeQueueInterval until Stop is called.
func (s *Scheduler) runQueueDrainLoop(ctx context.Context) {
	interval := s.cfg.PriceChangeQueueInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	batch := s.cfg.PriceChangeQueueBatchSize
	if batch <= 0 {
		batch = 20
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			processed, failed, err := s.prices.DrainOnce(ctx, batch)
			if err != nil {
				s.log.Error().Err(err).Msg("price change queue drain failed")
				continue
			}
			if processed > 0 || failed > 0 {
				s.log.Debug().Int("processed", processed).Int("failed", failed).Msg("price change queue drained")
			}
		}
	}
}
