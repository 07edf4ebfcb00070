package scraper

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"condoreconcile/models"
)

// TaskRegistry replaces the source's module-level mutable maps (tasks,
// scraper instances, control flags) with a single value owning three inner
// maps behind typed mutexes. Acquire order is fixed —
// tasks -> instances -> flags — to avoid deadlock; no method here ever needs more than one at a time, but callers
// composing registry calls must respect the same order.
type TaskRegistry struct {
	tasksMu sync.Mutex
	tasks map[string]*models.ScrapeTask

	instancesMu sync.Mutex
	instances map[string]Scraper // keyed "{task_id}_{scraper}_{area}"

	flagsMu sync.Mutex
	flags map[string]*ControlFlags // keyed by task_id
}

// NewTaskRegistry returns an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{
		tasks: make(map[string]*models.ScrapeTask),
		instances: make(map[string]Scraper),
		flags: make(map[string]*ControlFlags),
	}
}

// InstanceKey builds the "{task_id}_{scraper}_{area}" cache key names for
// the scraper-instance map.
func InstanceKey(taskID, scraperName, area string) string {
	return fmt.Sprintf("%s_%s_%s", taskID, scraperName, area)
}

// --- tasks -------------------------------------------------------------

func (r *TaskRegistry) CreateTask(t *models.ScrapeTask) {
	r.tasksMu.Lock()
	defer r.tasksMu.Unlock()
	if t.ProgressDetail == nil {
		t.ProgressDetail = make(map[string]*models.ScrapeTaskProgress)
	}
	r.tasks[t.TaskID] = t
}

func (r *TaskRegistry) GetTask(taskID string) (*models.ScrapeTask, bool) {
	r.tasksMu.Lock()
	defer r.tasksMu.Unlock()
	t, ok := r.tasks[taskID]
	return t, ok
}

// WithTask runs fn under the registry's task mutex, giving callers a
// serialized view for status-transition logic.
func (r *TaskRegistry) WithTask(taskID string, fn func(*models.ScrapeTask) error) error {
	r.tasksMu.Lock()
	defer r.tasksMu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return fn(t)
}

// ListTasks returns the latest 30 tasks, newest created
// first, optionally filtered to non-terminal ones.
func (r *TaskRegistry) ListTasks(activeOnly bool) []*models.ScrapeTask {
	r.tasksMu.Lock()
	defer r.tasksMu.Unlock()

	out := make([]*models.ScrapeTask, 0, len(r.tasks))
	for _, t := range r.tasks {
		if activeOnly && t.Status.Terminal() {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > 30 {
		out = out[:30]
	}
	return out
}

// DeleteTask removes a task row, only when terminal.
func (r *TaskRegistry) DeleteTask(taskID string) error {
	r.tasksMu.Lock()
	defer r.tasksMu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if !t.Status.Terminal() {
		return ErrPreconditionFailed
	}
	delete(r.tasks, taskID)
	return nil
}

// ForceCleanup flips every non-terminal task to cancelled.
func (r *TaskRegistry) ForceCleanup() int {
	r.tasksMu.Lock()
	defer r.tasksMu.Unlock()
	n := 0
	for _, t := range r.tasks {
		if !t.Status.Terminal() {
			t.Status = models.TaskCancelled
			now := time.Now()
			t.FinishedAt = &now
			t.PauseTimestamp = nil
			n++
		}
	}
	return n
}

// --- instances -----------------------------------------------------------

func (r *TaskRegistry) SetInstance(key string, s Scraper) {
	r.instancesMu.Lock()
	defer r.instancesMu.Unlock()
	r.instances[key] = s
}

func (r *TaskRegistry) GetInstance(key string) (Scraper, bool) {
	r.instancesMu.Lock()
	defer r.instancesMu.Unlock()
	s, ok := r.instances[key]
	return s, ok
}

func (r *TaskRegistry) DeleteInstance(key string) {
	r.instancesMu.Lock()
	defer r.instancesMu.Unlock()
	delete(r.instances, key)
}

// DeleteInstancesForTask drops every cached scraper instance belonging to
// taskID, called on cancel/completion.
func (r *TaskRegistry) DeleteInstancesForTask(taskID string) {
	r.instancesMu.Lock()
	defer r.instancesMu.Unlock()
	prefix := taskID + "_"
	for k := range r.instances {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(r.instances, k)
		}
	}
}

// --- flags -----------------------------------------------------------------

// Flags returns the ControlFlags for taskID, creating it on first use. The
// same *ControlFlags pointer is returned for the life of the task so that
// pause/resume are visible to the live worker.
func (r *TaskRegistry) Flags(taskID string) *ControlFlags {
	r.flagsMu.Lock()
	defer r.flagsMu.Unlock()
	f, ok := r.flags[taskID]
	if !ok {
		f = NewControlFlags()
		r.flags[taskID] = f
	}
	return f
}

func (r *TaskRegistry) DeleteFlags(taskID string) {
	r.flagsMu.Lock()
	defer r.flagsMu.Unlock()
	delete(r.flags, taskID)
}

// --- logs ------------------------------------------------------------------

// AppendLog pushes entry onto the right capped ring buffer, keyed by entry.Type. Writes are serialized
// under the task mutex (via WithTask).
func (r *TaskRegistry) AppendLog(taskID string, entry models.TaskLogEntry) {
	r.WithTask(taskID, func(t *models.ScrapeTask) error {
		t.Logs = appendCapped(t.Logs, entry, models.LogCapGeneral)
		switch entry.Type {
		case models.LogTypeSaveFailed:
			t.ErrorLogs = appendCapped(t.ErrorLogs, entry, models.LogCapError)
		case models.LogTypeAmbiguousMatch:
			t.WarningLogs = appendCapped(t.WarningLogs, entry, models.LogCapWarning)
		}
		return nil
	})
}

// AppendErrorLog and AppendWarningLog let callers target a ring buffer
// directly, for events that don't map 1:1 onto a TaskLogEntry.Type (e.g. a
// NetworkPermanent 404 goes to the warning buffer even though its Type is
// "save_failed", which AppendLog would route to the error buffer).
func (r *TaskRegistry) AppendErrorLog(taskID string, entry models.TaskLogEntry) {
	r.WithTask(taskID, func(t *models.ScrapeTask) error {
		t.Logs = appendCapped(t.Logs, entry, models.LogCapGeneral)
		t.ErrorLogs = appendCapped(t.ErrorLogs, entry, models.LogCapError)
		return nil
	})
}

func (r *TaskRegistry) AppendWarningLog(taskID string, entry models.TaskLogEntry) {
	r.WithTask(taskID, func(t *models.ScrapeTask) error {
		t.Logs = appendCapped(t.Logs, entry, models.LogCapGeneral)
		t.WarningLogs = appendCapped(t.WarningLogs, entry, models.LogCapWarning)
		return nil
	})
}

func appendCapped(buf []models.TaskLogEntry, entry models.TaskLogEntry, cap int) []models.TaskLogEntry {
	buf = append(buf, entry)
	if len(buf) > cap {
		buf = buf[len(buf)-cap:]
	}
	return buf
}

// --- progress / stats --------------------------------------------------

// UpdateProgress fetches (creating if absent) the ScrapeTaskProgress row
// for (taskID, scraperName, area) and runs mutate under the task mutex.
func (r *TaskRegistry) UpdateProgress(taskID, scraperName, area string, mutate func(*models.ScrapeTaskProgress)) {
	r.WithTask(taskID, func(t *models.ScrapeTask) error {
		key := InstanceKey(taskID, scraperName, area)
		p, ok := t.ProgressDetail[key]
		if !ok {
			p = &models.ScrapeTaskProgress{TaskID: taskID, Scraper: scraperName, Area: area, Status: "pending"}
			t.ProgressDetail[key] = p
		}
		mutate(p)
		p.LastUpdated = time.Now()
		return nil
	})
}

// MergeStatsSnapshot overlays latest (a scraper's own cumulative counters at
// checkpoint time) onto into, field by field, without ever letting a nonzero
// value regress to zero — a checkpoint racing a reset, or a resumed scraper that
// has not yet recomputed a counter, must not erase what's already recorded.
func MergeStatsSnapshot(into *models.StatsSnapshot, latest models.StatsSnapshot) {
	into.PropertiesFound = maxNonRegressing(into.PropertiesFound, latest.PropertiesFound)
	into.PropertiesAttempted = maxNonRegressing(into.PropertiesAttempted, latest.PropertiesAttempted)
	into.PropertiesProcessed = maxNonRegressing(into.PropertiesProcessed, latest.PropertiesProcessed)
	into.DetailFetched = maxNonRegressing(into.DetailFetched, latest.DetailFetched)
	into.DetailFetchFailed = maxNonRegressing(into.DetailFetchFailed, latest.DetailFetchFailed)
	into.DetailSkipped = maxNonRegressing(into.DetailSkipped, latest.DetailSkipped)
	into.NewListings = maxNonRegressing(into.NewListings, latest.NewListings)
	into.PriceUpdated = maxNonRegressing(into.PriceUpdated, latest.PriceUpdated)
	into.OtherUpdates = maxNonRegressing(into.OtherUpdates, latest.OtherUpdates)
	into.RefetchedUnchanged = maxNonRegressing(into.RefetchedUnchanged, latest.RefetchedUnchanged)
	into.SaveFailed = maxNonRegressing(into.SaveFailed, latest.SaveFailed)
	into.PriceMissing = maxNonRegressing(into.PriceMissing, latest.PriceMissing)
	into.BuildingInfoMissing = maxNonRegressing(into.BuildingInfoMissing, latest.BuildingInfoMissing)
	into.OtherErrors = maxNonRegressing(into.OtherErrors, latest.OtherErrors)
}

// maxNonRegressing returns proposed unless it would regress a nonzero
// current value to zero (or below), in which case current is kept.
func maxNonRegressing(current, proposed int) int {
	if proposed == 0 && current != 0 {
		return current
	}
	return proposed
}

// RecoverOnStartup implements the startup recovery rule: any row found
// running at process start is rewritten to paused, since the process cannot
// know whether its worker survived. Returns the task ids rewritten.
func (r *TaskRegistry) RecoverOnStartup() []string {
	r.tasksMu.Lock()
	defer r.tasksMu.Unlock()
	var recovered []string
	now := time.Now()
	for id, t := range r.tasks {
		if t.Status == models.TaskRunning {
			t.Status = models.TaskPaused
			t.PauseTimestamp = &now
			recovered = append(recovered, id)
		}
	}
	return recovered
}
