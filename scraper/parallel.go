package scraper

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// runParallel implements C8: a bounded-concurrency pool over the same
// (scraper, area) pairs runSequential would walk one at a time. Concurrency
// is capped by the process-wide ParallelLimit; pause/cancel apply to
// every in-flight pair at once since they share one ControlFlags per task.
func runParallel(ctx context.Context, reg *TaskRegistry, factories map[string]Factory, taskID string, pairs []scraperArea, maxProps int, deps PairDeps, log zerolog.Logger) []SafePointDecision {
	return runParallelWithLimit(ctx, reg, factories, taskID, pairs, maxProps, deps, log, defaultParallelLimit)
}

// defaultParallelLimit mirrors config.Config.ParallelLimit's documented
// default; the pool width is process-wide and configured once at startup
// via WithParallelLimit.
var defaultParallelLimit = 3

// WithParallelLimit overrides the process-wide parallel pool width; called
// once from main during startup wiring, before any task starts.
func WithParallelLimit(n int) {
	if n > 0 {
		defaultParallelLimit = n
	}
}

func runParallelWithLimit(ctx context.Context, reg *TaskRegistry, factories map[string]Factory, taskID string, pairs []scraperArea, maxProps int, deps PairDeps, log zerolog.Logger, limit int) []SafePointDecision {
	if limit <= 0 {
		limit = 1
	}
	decisions := make([]SafePointDecision, len(pairs))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, pr := range pairs {
		if reg.Flags(taskID).IsCancelled() {
			decisions[i] = Cancel
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, pr scraperArea) {
			defer wg.Done()
			defer func() { <-sem }()
			s := newScraperInstance(factories, reg, taskID, pr)
			decisions[i] = runPair(ctx, reg, taskID, s, pr.area, maxProps, deps)
		}(i, pr)
	}
	wg.Wait()
	return decisions
}
