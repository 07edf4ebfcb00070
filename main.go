// Command condoreconcile runs the resale-condominium aggregation daemon: the
// scrape task orchestrator (C7/C8), the periodic lifecycle/price-change/
// cache workers (C4/C5/C10), and the task-control HTTP surface, all bound
// to a single Postgres store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"condoreconcile/api"
	"condoreconcile/config"
	"condoreconcile/httputil"
	"condoreconcile/identity"
	"condoreconcile/logging"
	"condoreconcile/models"
	"condoreconcile/scheduler"
	"condoreconcile/scraper"
	"condoreconcile/services"
	"condoreconcile/storage"
)

var (
	httpAddr = flag.String("http-addr", ":8080", "address for the task-control HTTP surface")
	scrapeNow = flag.String("scrape", "", "comma-separated scrapers to run once in serial mode and exit, e.g. suumo,homes")
	areaCodes = flag.String("areas", "", "comma-separated area codes for -scrape")
)

func main() {
	flag.Parse()

	rw, err := logging.Setup("scrooper.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not set up file logging: %v\n", err)
	} else {
		defer rw.Close()
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(rw, cfg.LogLevel)
	log.Info().Int("sites", len(cfg.Sites)).Msg("starting condoreconcile")
	for id, site := range cfg.Sites {
		log.Info().Str("site_id", id).Str("name", site.Name).Int("priority", site.PriorityIndex).Msg("loaded site config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer store.Close()
	log.Info().Msg("connected to postgres")

	// Core engines (C1-C6), all bound to the single relational store.
	resolver := identity.NewResolver(store)
	voter := services.NewVoter(store)
	priceCalc := services.NewPriceChangeCalculator(store)
	recent := services.NewRecentUpdatesCache(store)
	lifecycle := services.NewLifecycleManager(store, voter, priceCalc, recent, cfg.StaleListingHours, cfg.SoldPriceVoteWindow)
	merge := services.NewMergeController(store, voter, priceCalc, recent, cfg.DuplicateCacheTTL)
	retries := services.NewRetryLedger(store)

	// Built for real per-site Scraper implementations to use; none are
	// wired in this repo.
	_ = httputil.NewScraperClient(cfg, log)

	factories := buildScraperFactories(cfg)

	scraper.WithParallelLimit(cfg.ParallelLimit)
	reg := scraper.NewTaskRegistry()
	depsFn := func() scraper.PairDeps {
		return scraper.NewPairDeps(resolver, voter, priceCalc, retries, recent, log)
	}
	orch := scraper.NewOrchestrator(reg, factories, depsFn, log, cfg.StallRunningThreshold, cfg.StallPausedThreshold, cfg.ScrapingPauseTimeout)

	if recovered := orch.RecoverOnStartup(); len(recovered) > 0 {
		log.Warn().Strs("task_ids", recovered).Msg("recovered running tasks as paused after restart")
	}

	if *scrapeNow != "" {
		runOnce(orch, splitCSV(*scrapeNow), splitCSV(*areaCodes))
		return
	}

	watchdogCtx, cancelWatchdog := context.WithCancel(ctx)
	defer cancelWatchdog()
	go orch.RunWatchdog(watchdogCtx)

	sched := scheduler.New(cfg, log, lifecycle, priceCalc, recent, merge, nil)
	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer sched.Stop()

	server := api.NewServer(orch, log)
	log.Info().Str("addr", *httpAddr).Msg("task-control HTTP surface listening")
	if err := server.Run(ctx, *httpAddr); err != nil {
		log.Error().Err(err).Msg("http server stopped with error")
	}

	log.Info().Msg("shutdown complete")
}

// buildScraperFactories wires one Factory per configured site. The per-site
// HTML/JSON parsers are never implemented beyond a no-op test double: each
// Factory here builds a StubScraper seeded from nothing. A real deployment
// replaces each entry with a concrete Scraper built over the shared
// httputil.NewScraperClient and the site's SiteConfig.
func buildScraperFactories(cfg *config.Config) map[string]scraper.Factory {
	factories := make(map[string]scraper.Factory, len(cfg.Sites))
	for id := range cfg.Sites {
		site := id
		factories[site] = func() scraper.Scraper {
			return scraper.NewStubScraper(site, nil)
		}
	}
	return factories
}

// runOnce drives a single serial-mode task to completion synchronously, for
// the -scrape one-shot CLI flag, then prints its final status.
func runOnce(orch *scraper.Orchestrator, scrapers, areas []string) {
	req := models.StartTaskRequest{
		Scrapers: scrapers,
		AreaCodes: areas,
		Mode: models.ScrapeModeSerial,
	}
	task, err := orch.Start(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start failed: %v\n", err)
		os.Exit(2)
	}
	for {
		time.Sleep(500 * time.Millisecond)
		t, err := orch.Status(task.TaskID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "status failed: %v\n", err)
			os.Exit(3)
		}
		if t.Status.Terminal() {
			fmt.Printf("task %s finished: %s (processed=%d new=%d updated=%d errors=%d)\n",
				t.TaskID, t.Status, t.TotalProcessed, t.TotalNew, t.TotalUpdated, t.TotalErrors)
			return
		}
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
