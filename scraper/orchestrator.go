package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"condoreconcile/identity"
	"condoreconcile/models"
	"condoreconcile/services"
)

// watchdogInterval is how often the background loop checks for stalled and
// pause-timed-out tasks.
const watchdogInterval = 30 * time.Second

// Orchestrator is the Scrape Task Orchestrator (C7): it owns the task
// registry, the set of registered Scraper factories, and a background
// watchdog, and exposes the task-control surface.
type Orchestrator struct {
	reg *TaskRegistry
	factories map[string]Factory // keyed by source site, e.g. "suumo"
	deps func() PairDeps
	log zerolog.Logger
	stallRun time.Duration
	stallPause time.Duration
	pauseTO time.Duration

	runningMu sync.Mutex
	running map[string]context.CancelFunc // taskID -> cancel of its driving goroutine
}

// NewOrchestrator wires an Orchestrator against a registry and the dep
// constructors each task's pair runs need. depsFn is called once per Start
// (or Resume-after-crash) so every task gets its own Resolver/PriceChange
// calculator bound to the same long-lived store and services.
func NewOrchestrator(reg *TaskRegistry, factories map[string]Factory, depsFn func() PairDeps, log zerolog.Logger, stallRun, stallPause, pauseTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		reg: reg,
		factories: factories,
		deps: depsFn,
		log: log,
		stallRun: stallRun,
		stallPause: stallPause,
		pauseTO: pauseTimeout,
		running: make(map[string]context.CancelFunc),
	}
}

// Start validates req and launches a new task in the background, returning
// its (pending, about to become running) row immediately.
func (o *Orchestrator) Start(req models.StartTaskRequest) (*models.ScrapeTask, error) {
	if len(req.Scrapers) == 0 || len(req.AreaCodes) == 0 {
		return nil, fmt.Errorf("%w: scrapers and area_codes are required", ErrBadInput)
	}
	for _, name := range req.Scrapers {
		if _, ok := o.factories[name]; !ok {
			return nil, fmt.Errorf("%w: unknown scraper %q", ErrBadInput, name)
		}
	}
	mode := req.Mode
	if mode == "" {
		mode = models.ScrapeModeSerial
	}

	task := &models.ScrapeTask{
		TaskID: uuid.NewString(),
		Status: models.TaskPending,
		Mode: mode,
		Scrapers: req.Scrapers,
		AreaCodes: req.AreaCodes,
		MaxProperties: req.MaxProperties,
		ForceDetailFetch: req.ForceDetailFetch,
		CreatedAt: time.Now(),
		ProgressDetail: make(map[string]*models.ScrapeTaskProgress),
	}
	o.reg.CreateTask(task)
	o.launch(task.TaskID)
	return task, nil
}

// launch starts (or restarts, after a crash recovery) the goroutine driving
// taskID, registering its cancel func so Cancel/watchdog can tear it down.
func (o *Orchestrator) launch(taskID string) {
	ctx, cancel := context.WithCancel(context.Background())
	o.runningMu.Lock()
	o.running[taskID] = cancel
	o.runningMu.Unlock()

	go func() {
		defer func() {
			o.runningMu.Lock()
			delete(o.running, taskID)
			o.runningMu.Unlock()
		}()
		o.runTask(ctx, taskID)
	}()
}

func (o *Orchestrator) isActive(taskID string) bool {
	o.runningMu.Lock()
	defer o.runningMu.Unlock()
	_, ok := o.running[taskID]
	return ok
}

// runTask walks the (scraper x area) matrix for taskID, sequential or
// parallel depending on Mode, and settles the task's terminal status once
// every pair has stopped.
func (o *Orchestrator) runTask(ctx context.Context, taskID string) {
	task, ok := o.reg.GetTask(taskID)
	if !ok {
		return
	}

	o.reg.WithTask(taskID, func(t *models.ScrapeTask) error {
		if t.Status == models.TaskPending {
			now := time.Now()
			t.Status = models.TaskRunning
			t.StartedAt = &now
		}
		return nil
	})

	pairs := buildPairs(task.Scrapers, task.AreaCodes)
	deps := o.deps()

	var decisions []SafePointDecision
	if task.Mode == models.ScrapeModeParallel {
		decisions = runParallel(ctx, o.reg, o.factories, taskID, pairs, task.MaxProperties, deps, o.log)
	} else {
		decisions = runSequential(ctx, o.reg, o.factories, taskID, pairs, task.MaxProperties, deps, o.log)
	}

	o.reg.DeleteInstancesForTask(taskID)

	o.reg.WithTask(taskID, func(t *models.ScrapeTask) error {
		if t.Status == models.TaskCancelled || t.Status == models.TaskError {
			return nil // watchdog or Cancel already settled the terminal state
		}
		now := time.Now()
		t.FinishedAt = &now
		if anyCancel(decisions) {
			t.Status = models.TaskCancelled
		} else {
			t.Status = models.TaskCompleted
		}
		for _, p := range t.ProgressDetail {
			t.TotalProcessed += p.PropertiesProcessed
			t.TotalNew += p.NewListings
			t.TotalUpdated += p.PriceUpdated + p.OtherUpdates
			t.TotalErrors += p.SaveFailed + p.OtherErrors + p.DetailFetchFailed
		}
		if t.StartedAt != nil {
			t.ElapsedTime = now.Sub(*t.StartedAt)
		}
		return nil
	})
}

func anyCancel(decisions []SafePointDecision) bool {
	for _, d := range decisions {
		if d == Cancel {
			return true
		}
	}
	return false
}

type scraperArea struct {
	scraperName string
	area string
}

func buildPairs(scrapers, areas []string) []scraperArea {
	out := make([]scraperArea, 0, len(scrapers)*len(areas))
	for _, s := range scrapers {
		for _, a := range areas {
			out = append(out, scraperArea{scraperName: s, area: a})
		}
	}
	return out
}

// runSequential drives pairs one at a time, in order — the default mode.
func runSequential(ctx context.Context, reg *TaskRegistry, factories map[string]Factory, taskID string, pairs []scraperArea, maxProps int, deps PairDeps, log zerolog.Logger) []SafePointDecision {
	decisions := make([]SafePointDecision, 0, len(pairs))
	for _, pr := range pairs {
		if reg.Flags(taskID).IsCancelled() {
			decisions = append(decisions, Cancel)
			continue
		}
		s := newScraperInstance(factories, reg, taskID, pr)
		decisions = append(decisions, runPair(ctx, reg, taskID, s, pr.area, maxProps, deps))
	}
	return decisions
}

func newScraperInstance(factories map[string]Factory, reg *TaskRegistry, taskID string, pr scraperArea) Scraper {
	key := InstanceKey(taskID, pr.scraperName, pr.area)
	if existing, ok := reg.GetInstance(key); ok {
		return existing
	}
	s := factories[pr.scraperName]()
	var resume *models.ResumeState
	reg.WithTask(taskID, func(t *models.ScrapeTask) error {
		if p, ok := t.ProgressDetail[key]; ok {
			resume = p.ResumeState
		}
		return nil
	})
	if resume != nil {
		s.SetResumeState(resume)
	}
	return s
}

// --- control surface --------------------------------------------------

// Pause requests a cooperative pause; the running pair observes it at its
// next safe point.
func (o *Orchestrator) Pause(taskID string) error {
	return o.reg.WithTask(taskID, func(t *models.ScrapeTask) error {
		if t.Status != models.TaskRunning {
			return fmt.Errorf("%w: task is %s, not running", ErrPreconditionFailed, t.Status)
		}
		now := time.Now()
		t.Status = models.TaskPaused
		t.PauseTimestamp = &now
		o.reg.Flags(taskID).SetPaused(true)
		return nil
	})
}

// Resume clears the pause flag. If the driving goroutine is still alive (the
// common case) it simply unblocks; if the process restarted since the pause,
// the instance cache is empty and Resume relaunches runTask, which
// reconstructs each Scraper from its last checkpointed ResumeState via
// newScraperInstance.
func (o *Orchestrator) Resume(taskID string) error {
	err := o.reg.WithTask(taskID, func(t *models.ScrapeTask) error {
		if t.Status != models.TaskPaused {
			return fmt.Errorf("%w: task is %s, not paused", ErrPreconditionFailed, t.Status)
		}
		t.Status = models.TaskRunning
		t.PauseTimestamp = nil
		o.reg.Flags(taskID).SetPaused(false)
		return nil
	})
	if err != nil {
		return err
	}
	if !o.isActive(taskID) {
		o.launch(taskID)
	}
	return nil
}

// Cancel requests cooperative cancellation; pending tasks are cancelled
// immediately since nothing is running yet to observe a safe point.
func (o *Orchestrator) Cancel(taskID string) error {
	return o.reg.WithTask(taskID, func(t *models.ScrapeTask) error {
		switch t.Status {
		case models.TaskCompleted, models.TaskFailed, models.TaskCancelled:
			return fmt.Errorf("%w: task already %s", ErrPreconditionFailed, t.Status)
		case models.TaskPending:
			now := time.Now()
			t.Status = models.TaskCancelled
			t.FinishedAt = &now
			return nil
		default:
			o.reg.Flags(taskID).SetCancelled()
			return nil
		}
	})
}

// Status returns the current task row.
func (o *Orchestrator) Status(taskID string) (*models.ScrapeTask, error) {
	t, ok := o.reg.GetTask(taskID)
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t, nil
}

// ListTasks returns the latest 30 rows, optionally filtered to active ones.
func (o *Orchestrator) ListTasks(activeOnly bool) []*models.ScrapeTask {
	return o.reg.ListTasks(activeOnly)
}

// DeleteTask removes a terminal task row.
func (o *Orchestrator) DeleteTask(taskID string) error {
	return o.reg.DeleteTask(taskID)
}

// ForceCleanup cancels every non-terminal task, used as an operator escape
// hatch when the watchdog itself is suspected stuck.
func (o *Orchestrator) ForceCleanup() int {
	n := o.reg.ForceCleanup()
	o.runningMu.Lock()
	for _, cancel := range o.running {
		cancel()
	}
	o.runningMu.Unlock()
	return n
}

// RecoverOnStartup flips every task found running to paused — the process
// cannot know whether its worker survived a restart — and is called
// once before the watchdog starts.
func (o *Orchestrator) RecoverOnStartup() []string {
	return o.reg.RecoverOnStartup()
}

// RunWatchdog blocks polling for stalled and pause-timed-out tasks until ctx
// is cancelled: a running task with no progress update in
// StallRunningThreshold is marked error; a paused task untouched for longer
// than StallPausedThreshold is likewise marked error; and a paused task held
// past ScrapingPauseTimeout is auto-cancelled rather than left to linger
// forever.
func (o *Orchestrator) RunWatchdog(ctx context.Context) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweep()
		}
	}
}

func (o *Orchestrator) sweep() {
	now := time.Now()
	for _, t := range o.reg.ListTasks(true) {
		taskID := t.TaskID
		switch t.Status {
		case models.TaskRunning:
			if o.stalledSince(t, now) > o.stallRun {
				o.reg.WithTask(taskID, func(t *models.ScrapeTask) error {
					t.Status = models.TaskError
					t.ErrorMessage = "stall detected: no progress within threshold"
					fin := now
					t.FinishedAt = &fin
					return nil
				})
				o.reg.Flags(taskID).SetCancelled()
				o.log.Warn().Str("task_id", taskID).Msg("scrape task marked error: stalled while running")
			}
		case models.TaskPaused:
			if t.PauseTimestamp == nil {
				continue
			}
			if now.Sub(*t.PauseTimestamp) > o.pauseTO {
				o.reg.WithTask(taskID, func(t *models.ScrapeTask) error {
					t.Status = models.TaskCancelled
					fin := now
					t.FinishedAt = &fin
					return nil
				})
				o.reg.Flags(taskID).SetCancelled()
				o.log.Info().Str("task_id", taskID).Msg("scrape task auto-cancelled: pause timeout exceeded")
			} else if now.Sub(*t.PauseTimestamp) > o.stallPause {
				o.reg.WithTask(taskID, func(t *models.ScrapeTask) error {
					t.Status = models.TaskError
					t.ErrorMessage = "stall detected: paused beyond threshold"
					fin := now
					t.FinishedAt = &fin
					return nil
				})
				o.reg.Flags(taskID).SetCancelled()
				o.log.Warn().Str("task_id", taskID).Msg("scrape task marked error: stalled while paused")
			}
		}
	}
}

// stalledSince returns how long t's most-recently-updated progress row has
// gone untouched, falling back to StartedAt if no progress exists yet.
func (o *Orchestrator) stalledSince(t *models.ScrapeTask, now time.Time) time.Duration {
	var latest time.Time
	for _, p := range t.ProgressDetail {
		if p.LastUpdated.After(latest) {
			latest = p.LastUpdated
		}
	}
	if latest.IsZero() {
		if t.StartedAt != nil {
			latest = *t.StartedAt
		} else {
			latest = t.CreatedAt
		}
	}
	return now.Sub(latest)
}

// NewPairDeps builds the per-task dependency bundle a pair run needs, shared
// across every (scraper, area) combination driven by the orchestrator.
func NewPairDeps(resolver *identity.Resolver, voter *services.Voter, prices *services.PriceChangeCalculator, retries *services.RetryLedger, cache services.Invalidator, log zerolog.Logger) PairDeps {
	return PairDeps{resolver: resolver, voter: voter, prices: prices, retries: retries, cache: cache, log: log}
}
