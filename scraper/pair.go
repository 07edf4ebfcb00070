package scraper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"condoreconcile/identity"
	"condoreconcile/models"
	"condoreconcile/services"
)

// checkpointInterval is the "every 5 seconds" resume-state flush
// cadence.
const checkpointInterval = 5 * time.Second

// PairDeps bundles the services a pair run calls into on every resolved
// listing: C2 identity resolution, C3 majority-vote refresh, C5 price-change
// enqueue, C9 retry ledger consultation, and C10 cache invalidation,
// mirroring the data-flow chain.
type PairDeps struct {
	resolver *identity.Resolver
	voter *services.Voter
	prices *services.PriceChangeCalculator
	retries *services.RetryLedger
	cache services.Invalidator
	log zerolog.Logger
}

// runPair drives one (scraper, area) combination for taskID to completion,
// pause, or cancellation, updating the registry's progress row and capped
// logs as it goes. It returns the SafePointDecision the pair stopped on —
// Continue means the scraper finished the area on its own (exhausted pages
// or hit maxProperties), not that it was asked to stop.
func runPair(ctx context.Context, reg *TaskRegistry, taskID string, s Scraper, areaCode string, maxProperties int, deps PairDeps) SafePointDecision {
	flags := reg.Flags(taskID)
	key := InstanceKey(taskID, s.Name(), areaCode)
	reg.SetInstance(key, s)

	if deps.retries != nil {
		flags.SetDetailGate(retryLedgerGate{deps.retries})
	}

	if rs := s.GetResumeState(); rs != nil {
		reg.UpdateProgress(taskID, s.Name(), areaCode, func(p *models.ScrapeTaskProgress) {
			p.Status = "running"
			p.ResumeState = rs
		})
	} else {
		reg.UpdateProgress(taskID, s.Name(), areaCode, func(p *models.ScrapeTaskProgress) {
			p.Status = "running"
		})
	}

	events := s.ScrapeArea(ctx, areaCode, maxProperties, flags)

	lastCheckpoint := time.Now()
	decision := Continue

	loop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			handleEvent(ctx, reg, taskID, s.Name(), areaCode, ev, deps)

			if time.Since(lastCheckpoint) >= checkpointInterval {
				checkpoint(reg, taskID, s, areaCode)
				lastCheckpoint = time.Now()
			}

			if flags.IsPaused() {
				checkpoint(reg, taskID, s, areaCode)
				lastCheckpoint = time.Now()
			}
			if d := CheckSafePoint(flags); d != Continue {
				decision = d
				checkpoint(reg, taskID, s, areaCode)
				if d == Cancel {
					break loop
				}
				// Paused: block here until resumed or cancelled, then carry
				// on reading the same channel — the scraper itself is
				// blocked on the identical flags inside ScrapeArea.
				for CheckSafePoint(flags) == Pause {
					time.Sleep(pausePollInterval)
				}
				if flags.IsCancelled() {
					decision = Cancel
					break loop
				}
				decision = Continue
			}
		case <-ctx.Done():
			decision = Cancel
			break loop
		}
	}

	checkpoint(reg, taskID, s, areaCode)
	reg.UpdateProgress(taskID, s.Name(), areaCode, func(p *models.ScrapeTaskProgress) {
		switch decision {
		case Cancel:
			p.Status = "cancelled"
		default:
			p.Status = "completed"
		}
	})
	return decision
}

// checkpoint snapshots the live scraper's resume state into the progress
// row. The stats counters are merged rather than replaced so a
// stale GetResumeState call can never regress a counter to zero.
func checkpoint(reg *TaskRegistry, taskID string, s Scraper, areaCode string) {
	rs := s.GetResumeState()
	if rs == nil {
		return
	}
	reg.UpdateProgress(taskID, s.Name(), areaCode, func(p *models.ScrapeTaskProgress) {
		if p.ResumeState == nil {
			p.ResumeState = &models.ResumeState{}
		}
		p.ResumeState.Phase = rs.Phase
		p.ResumeState.CurrentPage = rs.CurrentPage
		p.ResumeState.ProcessedCount = rs.ProcessedCount
		p.ResumeState.CollectedCount = rs.CollectedCount
		MergeStatsSnapshot(&p.ResumeState.Stats, rs.Stats)
	})
}

// handleEvent applies one ScrapeEvent: resolves a successful listing through
// C2, enqueues C5 work on a price change, records 404 outcomes into C9, and
// appends the right capped log entry, per the routing table. A list/detail
// price mismatch is only logged as a warning; it is not recorded into C9.
func handleEvent(ctx context.Context, reg *TaskRegistry, taskID, scraperName, areaCode string, ev ScrapeEvent, deps PairDeps) {
	switch ev.Kind {
	case EventNetworkPermanent:
		if ev.Listing != nil {
			_ = deps.retries.Record404(ctx, ev.Listing.SourceSite, ev.Listing.SitePropertyID, time.Now())
		}
		reg.AppendWarningLog(taskID, models.TaskLogEntry{
			Timestamp: time.Now(), Scraper: scraperName, Area: areaCode,
			Type: models.LogTypeSaveFailed, Message: errString(ev.Err),
		})
		reg.UpdateProgress(taskID, scraperName, areaCode, func(p *models.ScrapeTaskProgress) { p.DetailFetchFailed++ })
		return

	case EventPriceMismatch:
		reg.AppendWarningLog(taskID, models.TaskLogEntry{
			Timestamp: time.Now(), Scraper: scraperName, Area: areaCode,
			Type: models.LogTypeAmbiguousMatch, Message: "list/detail price mismatch: " + errString(ev.Err),
		})
		return

	case EventNetworkTransient, EventParseFailed:
		reg.AppendErrorLog(taskID, models.TaskLogEntry{
			Timestamp: time.Now(), Scraper: scraperName, Area: areaCode,
			Type: models.LogTypeSaveFailed, Message: errString(ev.Err),
		})
		reg.UpdateProgress(taskID, scraperName, areaCode, func(p *models.ScrapeTaskProgress) { p.OtherErrors++ })
		return
	}

	if ev.Listing == nil {
		return
	}

	reg.UpdateProgress(taskID, scraperName, areaCode, func(p *models.ScrapeTaskProgress) {
		p.PropertiesAttempted++
		if ev.DetailFetched {
			p.DetailFetched++
		} else {
			p.DetailSkipped++
		}
	})

	result, err := deps.resolver.Resolve(ctx, ev.Listing)
	if err != nil {
		reg.AppendErrorLog(taskID, models.TaskLogEntry{
			Timestamp: time.Now(), Scraper: scraperName, Area: areaCode,
			Type: models.LogTypeSaveFailed, URL: ev.Listing.URL, Message: err.Error(),
		})
		reg.UpdateProgress(taskID, scraperName, areaCode, func(p *models.ScrapeTaskProgress) { p.SaveFailed++ })
		return
	}

	reg.UpdateProgress(taskID, scraperName, areaCode, func(p *models.ScrapeTaskProgress) { p.PropertiesProcessed++ })

	reconciled := false
	priceChangeReason := ""

	switch result.Classification {
	case identity.ClassNew:
		reg.AppendLog(taskID, models.TaskLogEntry{
			Timestamp: time.Now(), Scraper: scraperName, Area: areaCode,
			Type: models.LogTypeNew, URL: ev.Listing.URL, Message: "new listing",
		})
		reg.UpdateProgress(taskID, scraperName, areaCode, func(p *models.ScrapeTaskProgress) { p.NewListings++ })
		reconciled = true
		priceChangeReason = "listing_new"

	case identity.ClassPriceChanged:
		reg.AppendLog(taskID, models.TaskLogEntry{
			Timestamp: time.Now(), Scraper: scraperName, Area: areaCode,
			Type: models.LogTypePriceChange, URL: ev.Listing.URL, Message: "price changed",
		})
		reg.UpdateProgress(taskID, scraperName, areaCode, func(p *models.ScrapeTaskProgress) { p.PriceUpdated++ })
		reconciled = true
		priceChangeReason = "scrape_price_change"

	case identity.ClassOtherUpdates:
		reg.AppendLog(taskID, models.TaskLogEntry{
			Timestamp: time.Now(), Scraper: scraperName, Area: areaCode,
			Type: models.LogTypeUpdate, URL: ev.Listing.URL, Message: "attributes updated",
		})
		reg.UpdateProgress(taskID, scraperName, areaCode, func(p *models.ScrapeTaskProgress) { p.OtherUpdates++ })
		reconciled = true
		priceChangeReason = "listing_updated"

	case identity.ClassRefetchedUnchanged:
		reg.UpdateProgress(taskID, scraperName, areaCode, func(p *models.ScrapeTaskProgress) { p.RefetchedUnchanged++ })
	}

	if reconciled {
		if deps.voter != nil {
			if err := deps.voter.RefreshProperty(ctx, result.MasterPropertyID); err != nil {
				deps.log.Warn().Err(err).Int64("property_id", result.MasterPropertyID).Msg("refresh property failed")
			}
			if result.BuildingID != 0 {
				if err := deps.voter.RefreshBuilding(ctx, result.BuildingID); err != nil {
					deps.log.Warn().Err(err).Int64("building_id", result.BuildingID).Msg("refresh building failed")
				}
			}
		}
		if deps.prices != nil {
			if err := deps.prices.Enqueue(ctx, result.MasterPropertyID, priceChangeReason, services.PriorityListingUpdate); err != nil {
				deps.log.Warn().Err(err).Int64("property_id", result.MasterPropertyID).Msg("enqueue price change failed")
			}
		}
		if deps.cache != nil {
			deps.cache.InvalidateAll()
		}
	}

	if result.SaveFailed {
		reg.UpdateProgress(taskID, scraperName, areaCode, func(p *models.ScrapeTaskProgress) { p.SaveFailed++ })
	}
}

// retryLedgerGate adapts a RetryLedger to DetailGate so a Scraper can
// consult C9 without importing the services package itself.
type retryLedgerGate struct {
	ledger *services.RetryLedger
}

func (g retryLedgerGate) ShouldSkipDetail(ctx context.Context, sourceSite, sitePropertyID string) bool {
	now := time.Now()
	if skip, err := g.ledger.ShouldSkip404(ctx, sourceSite, sitePropertyID, now); err == nil && skip {
		return true
	}
	if skip, err := g.ledger.ShouldSkipDetailFetch(ctx, sourceSite, sitePropertyID, now); err == nil && skip {
		return true
	}
	return false
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
