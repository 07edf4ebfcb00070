package scraper

import (
	"testing"
	"time"

	"condoreconcile/models"
)

func TestCreateAndGetTask(t *testing.T) {
	reg := NewTaskRegistry()
	task := &models.ScrapeTask{TaskID: "t1", Status: models.TaskPending}
	reg.CreateTask(task)

	got, ok := reg.GetTask("t1")
	if !ok {
		t.Fatal("GetTask() ok = false, want true")
	}
	if got.TaskID != "t1" {
		t.Errorf("TaskID = %q, want t1", got.TaskID)
	}
	if got.ProgressDetail == nil {
		t.Error("ProgressDetail should be initialized by CreateTask")
	}
}

func TestGetTaskMissingReturnsFalse(t *testing.T) {
	reg := NewTaskRegistry()
	if _, ok := reg.GetTask("missing"); ok {
		t.Error("GetTask() ok = true for a task never created")
	}
}

func TestWithTaskMissingReturnsError(t *testing.T) {
	reg := NewTaskRegistry()
	err := reg.WithTask("missing", func(t *models.ScrapeTask) error { return nil })
	if err == nil {
		t.Error("WithTask() error = nil, want error for missing task")
	}
}

func TestListTasksOrdersNewestFirstAndCaps30(t *testing.T) {
	reg := NewTaskRegistry()
	base := time.Now()
	for i := 0; i < 35; i++ {
		reg.CreateTask(&models.ScrapeTask{
			TaskID:    InstanceKey("t", "x", string(rune('a'+i))),
			Status:    models.TaskPending,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	out := reg.ListTasks(false)
	if len(out) != 30 {
		t.Fatalf("len(ListTasks) = %d, want 30", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].CreatedAt.After(out[i-1].CreatedAt) {
			t.Fatal("ListTasks() not sorted newest-first")
		}
	}
}

func TestListTasksActiveOnlyExcludesTerminal(t *testing.T) {
	reg := NewTaskRegistry()
	reg.CreateTask(&models.ScrapeTask{TaskID: "running", Status: models.TaskRunning, CreatedAt: time.Now()})
	reg.CreateTask(&models.ScrapeTask{TaskID: "done", Status: models.TaskCompleted, CreatedAt: time.Now()})

	out := reg.ListTasks(true)
	if len(out) != 1 || out[0].TaskID != "running" {
		t.Errorf("ListTasks(true) = %v, want only the running task", out)
	}
}

func TestDeleteTaskRequiresTerminalStatus(t *testing.T) {
	reg := NewTaskRegistry()
	reg.CreateTask(&models.ScrapeTask{TaskID: "t1", Status: models.TaskRunning})

	if err := reg.DeleteTask("t1"); err != ErrPreconditionFailed {
		t.Errorf("DeleteTask() on running task = %v, want ErrPreconditionFailed", err)
	}

	reg.WithTask("t1", func(t *models.ScrapeTask) error {
		t.Status = models.TaskCompleted
		return nil
	})
	if err := reg.DeleteTask("t1"); err != nil {
		t.Errorf("DeleteTask() on completed task error = %v, want nil", err)
	}
	if _, ok := reg.GetTask("t1"); ok {
		t.Error("task still present after DeleteTask")
	}
}

func TestDeleteTaskMissingReturnsNotFound(t *testing.T) {
	reg := NewTaskRegistry()
	if err := reg.DeleteTask("missing"); err != ErrTaskNotFound {
		t.Errorf("DeleteTask() = %v, want ErrTaskNotFound", err)
	}
}

func TestForceCleanupCancelsAllNonTerminal(t *testing.T) {
	reg := NewTaskRegistry()
	reg.CreateTask(&models.ScrapeTask{TaskID: "running", Status: models.TaskRunning})
	reg.CreateTask(&models.ScrapeTask{TaskID: "paused", Status: models.TaskPaused})
	reg.CreateTask(&models.ScrapeTask{TaskID: "done", Status: models.TaskCompleted})

	n := reg.ForceCleanup()
	if n != 2 {
		t.Errorf("ForceCleanup() = %d, want 2", n)
	}
	running, _ := reg.GetTask("running")
	if running.Status != models.TaskCancelled || running.FinishedAt == nil {
		t.Errorf("running task not cancelled: %+v", running)
	}
	done, _ := reg.GetTask("done")
	if done.Status != models.TaskCompleted {
		t.Error("already-terminal task should not be touched by ForceCleanup")
	}
}

func TestInstanceLifecycle(t *testing.T) {
	reg := NewTaskRegistry()
	key := InstanceKey("t1", "suumo", "13101")
	s := NewStubScraper("suumo", nil)

	if _, ok := reg.GetInstance(key); ok {
		t.Error("GetInstance() ok = true before SetInstance")
	}
	reg.SetInstance(key, s)
	got, ok := reg.GetInstance(key)
	if !ok || got != Scraper(s) {
		t.Error("GetInstance() did not return the set instance")
	}
	reg.DeleteInstance(key)
	if _, ok := reg.GetInstance(key); ok {
		t.Error("instance still present after DeleteInstance")
	}
}

func TestDeleteInstancesForTaskOnlyDropsItsOwnPrefix(t *testing.T) {
	reg := NewTaskRegistry()
	reg.SetInstance(InstanceKey("t1", "suumo", "13101"), NewStubScraper("suumo", nil))
	reg.SetInstance(InstanceKey("t1", "homes", "13102"), NewStubScraper("homes", nil))
	reg.SetInstance(InstanceKey("t2", "suumo", "13101"), NewStubScraper("suumo", nil))

	reg.DeleteInstancesForTask("t1")

	if _, ok := reg.GetInstance(InstanceKey("t1", "suumo", "13101")); ok {
		t.Error("t1 instance survived DeleteInstancesForTask")
	}
	if _, ok := reg.GetInstance(InstanceKey("t1", "homes", "13102")); ok {
		t.Error("t1 instance survived DeleteInstancesForTask")
	}
	if _, ok := reg.GetInstance(InstanceKey("t2", "suumo", "13101")); !ok {
		t.Error("t2 instance should be untouched by DeleteInstancesForTask(t1)")
	}
}

func TestFlagsReturnsSamePointerForTask(t *testing.T) {
	reg := NewTaskRegistry()
	a := reg.Flags("t1")
	b := reg.Flags("t1")
	if a != b {
		t.Error("Flags() returned different pointers for the same task id")
	}
	a.SetPaused(true)
	if !b.IsPaused() {
		t.Error("flags set via one reference should be visible via the other")
	}
}

func TestDeleteFlagsRemovesEntry(t *testing.T) {
	reg := NewTaskRegistry()
	first := reg.Flags("t1")
	reg.DeleteFlags("t1")
	second := reg.Flags("t1")
	if first == second {
		t.Error("Flags() after DeleteFlags should allocate a fresh pointer")
	}
}

func TestAppendLogRoutesToErrorAndWarningBuffers(t *testing.T) {
	reg := NewTaskRegistry()
	reg.CreateTask(&models.ScrapeTask{TaskID: "t1", Status: models.TaskRunning})

	reg.AppendLog("t1", models.TaskLogEntry{Type: models.LogTypeSaveFailed, Message: "boom"})
	reg.AppendLog("t1", models.TaskLogEntry{Type: models.LogTypeAmbiguousMatch, Message: "ambiguous"})
	reg.AppendLog("t1", models.TaskLogEntry{Type: models.LogTypeNew, Message: "new"})

	task, _ := reg.GetTask("t1")
	if len(task.Logs) != 3 {
		t.Errorf("len(Logs) = %d, want 3", len(task.Logs))
	}
	if len(task.ErrorLogs) != 1 {
		t.Errorf("len(ErrorLogs) = %d, want 1", len(task.ErrorLogs))
	}
	if len(task.WarningLogs) != 1 {
		t.Errorf("len(WarningLogs) = %d, want 1", len(task.WarningLogs))
	}
}

func TestAppendCappedTrimsToCapacity(t *testing.T) {
	var buf []models.TaskLogEntry
	for i := 0; i < 5; i++ {
		buf = appendCapped(buf, models.TaskLogEntry{Message: "x"}, 3)
	}
	if len(buf) != 3 {
		t.Errorf("len(buf) = %d, want 3", len(buf))
	}
}

func TestUpdateProgressCreatesRowOnFirstUse(t *testing.T) {
	reg := NewTaskRegistry()
	reg.CreateTask(&models.ScrapeTask{TaskID: "t1", Status: models.TaskRunning})

	reg.UpdateProgress("t1", "suumo", "13101", func(p *models.ScrapeTaskProgress) {
		p.PropertiesAttempted = 5
	})
	task, _ := reg.GetTask("t1")
	key := InstanceKey("t1", "suumo", "13101")
	p, ok := task.ProgressDetail[key]
	if !ok {
		t.Fatal("progress row not created")
	}
	if p.PropertiesAttempted != 5 {
		t.Errorf("PropertiesAttempted = %d, want 5", p.PropertiesAttempted)
	}
	if p.LastUpdated.IsZero() {
		t.Error("LastUpdated should be set by UpdateProgress")
	}
}

func TestMergeStatsSnapshotNeverRegressesNonzeroToZero(t *testing.T) {
	into := &models.StatsSnapshot{PropertiesFound: 10, NewListings: 3}
	MergeStatsSnapshot(into, models.StatsSnapshot{PropertiesFound: 0, NewListings: 7})

	if into.PropertiesFound != 10 {
		t.Errorf("PropertiesFound = %d, want 10 (must not regress to zero)", into.PropertiesFound)
	}
	if into.NewListings != 7 {
		t.Errorf("NewListings = %d, want 7 (nonzero overwrite is allowed)", into.NewListings)
	}
}

func TestRecoverOnStartupFlipsRunningToPaused(t *testing.T) {
	reg := NewTaskRegistry()
	reg.CreateTask(&models.ScrapeTask{TaskID: "running", Status: models.TaskRunning})
	reg.CreateTask(&models.ScrapeTask{TaskID: "paused", Status: models.TaskPaused})

	recovered := reg.RecoverOnStartup()
	if len(recovered) != 1 || recovered[0] != "running" {
		t.Errorf("RecoverOnStartup() = %v, want [running]", recovered)
	}
	task, _ := reg.GetTask("running")
	if task.Status != models.TaskPaused || task.PauseTimestamp == nil {
		t.Errorf("task not flipped to paused: %+v", task)
	}
}
