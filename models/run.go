package models

import "time"

// TaskStatus is the ScrapeTask state machine:
//
//	pending --start--> running --pause--> paused --resume--> running
// | |
// |--cancel-----------|
// | v
// | cancelled
// |--stall detect--> error
// \--finish--------> completed (or failed on fatal error)
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskPaused TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
	TaskFailed TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
	TaskError TaskStatus = "error"
)

// Terminal reports whether s is one of the state machine's terminal states
//: no further transition ever leaves one of these.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled, TaskError:
		return true
	}
	return false
}

// ScrapeMode selects sequential vs bounded-concurrency execution.
type ScrapeMode string

const (
	ScrapeModeSerial ScrapeMode = "serial"
	ScrapeModeParallel ScrapeMode = "parallel"
)

// TaskLogEntry is one row of a capped ring-buffer log.
type TaskLogEntry struct {
	Timestamp time.Time `json:"ts"`
	Scraper string `json:"scraper"`
	Area string `json:"area"`
	Type string `json:"type"` // new, update, price_change, save_failed, ambiguous_match
	URL string `json:"url,omitempty"`
	Message string `json:"message"`
}

// Log entry types.
const (
	LogTypeNew = "new"
	LogTypeUpdate = "update"
	LogTypePriceChange = "price_change"
	LogTypeSaveFailed = "save_failed"
	LogTypeAmbiguousMatch = "ambiguous_match"
)

// ScrapeTask is the durable task row driving a matrix of (scraper x area)
// pairs. It is the top-level unit the task-control HTTP surface
// operates on.
type ScrapeTask struct {
	TaskID string `json:"task_id" db:"task_id"`
	Status TaskStatus `json:"status" db:"status"`
	Mode ScrapeMode `json:"mode" db:"mode"`
	Scrapers []string `json:"scrapers" db:"scrapers"`
	AreaCodes []string `json:"area_codes" db:"area_codes"`
	MaxProperties int `json:"max_properties" db:"max_properties"`
	ForceDetailFetch bool `json:"force_detail_fetch" db:"force_detail_fetch"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	StartedAt *time.Time `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at" db:"finished_at"`
	PauseTimestamp *time.Time `json:"pause_timestamp" db:"pause_timestamp"`

	TotalProcessed int `json:"total_processed" db:"total_processed"`
	TotalNew int `json:"total_new" db:"total_new"`
	TotalUpdated int `json:"total_updated" db:"total_updated"`
	TotalErrors int `json:"total_errors" db:"total_errors"`
	ElapsedTime time.Duration `json:"elapsed_time" db:"elapsed_time"`

	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`

	// Ring buffers, capped at 50/30/50. Enforced by TaskRegistry.AppendLog,
	// never by direct field mutation.
	Logs []TaskLogEntry `json:"logs" db:"-"`
	ErrorLogs []TaskLogEntry `json:"error_logs" db:"-"`
	WarningLogs []TaskLogEntry `json:"warning_logs" db:"-"`

	// ProgressDetail is keyed by "{scraper}_{area}".
	ProgressDetail map[string]*ScrapeTaskProgress `json:"progress_detail" db:"-"`
}

const (
	LogCapGeneral = 50
	LogCapError = 30
	LogCapWarning = 50
)

// ScrapeTaskProgress is the per (task, scraper, area) detail row.
type ScrapeTaskProgress struct {
	TaskID string `json:"task_id" db:"task_id"`
	Scraper string `json:"scraper" db:"scraper"`
	Area string `json:"area" db:"area"`
	Status string `json:"status" db:"status"`

	PropertiesFound int `json:"properties_found" db:"properties_found"`
	PropertiesAttempted int `json:"properties_attempted" db:"properties_attempted"`
	PropertiesProcessed int `json:"properties_processed" db:"properties_processed"`
	DetailFetched int `json:"detail_fetched" db:"detail_fetched"`
	DetailFetchFailed int `json:"detail_fetch_failed" db:"detail_fetch_failed"`
	DetailSkipped int `json:"detail_skipped" db:"detail_skipped"`
	NewListings int `json:"new_listings" db:"new_listings"`
	PriceUpdated int `json:"price_updated" db:"price_updated"`
	OtherUpdates int `json:"other_updates" db:"other_updates"`
	RefetchedUnchanged int `json:"refetched_unchanged" db:"refetched_unchanged"`
	SaveFailed int `json:"save_failed" db:"save_failed"`
	PriceMissing int `json:"price_missing" db:"price_missing"`
	BuildingInfoMissing int `json:"building_info_missing" db:"building_info_missing"`
	OtherErrors int `json:"other_errors" db:"other_errors"`

	ResumeState *ResumeState `json:"resume_state" db:"resume_state"`
	LastUpdated time.Time `json:"last_updated" db:"last_updated"`
}

// ResumeState is the orchestrator's durable checkpoint, snapshotted
// every 5 seconds and once at pause. For paused tasks mid-Phase-B, only
// CollectedCount is persisted; the in-memory list of listing IDs still to
// process is kept only in the live scraper instance (a crash restarts the
// pair from the list phase).
type ResumeState struct {
	Phase string `json:"phase"` // "list" or "detail"
	CurrentPage int `json:"current_page"`
	ProcessedCount int `json:"processed_count"`
	CollectedCount int `json:"collected_count"`
	Stats StatsSnapshot `json:"stats"`
}

// StatsSnapshot is a copy of a scraper's statistics counters, taken at
// checkpoint time. Writers must never overwrite a nonzero field with zero
// — callers merge rather than replace.
type StatsSnapshot struct {
	PropertiesFound int `json:"properties_found"`
	PropertiesAttempted int `json:"properties_attempted"`
	PropertiesProcessed int `json:"properties_processed"`
	DetailFetched int `json:"detail_fetched"`
	DetailFetchFailed int `json:"detail_fetch_failed"`
	DetailSkipped int `json:"detail_skipped"`
	NewListings int `json:"new_listings"`
	PriceUpdated int `json:"price_updated"`
	OtherUpdates int `json:"other_updates"`
	RefetchedUnchanged int `json:"refetched_unchanged"`
	SaveFailed int `json:"save_failed"`
	PriceMissing int `json:"price_missing"`
	BuildingInfoMissing int `json:"building_info_missing"`
	OtherErrors int `json:"other_errors"`
}
