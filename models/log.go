package models

import "time"

type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ScrapeLog is a free-form operational log row (distinct from the per-task
// ring buffers of ScrapeTask, which cap at 50/30/50 and are query-surfaced
// through the task status endpoint).
type ScrapeLog struct {
	ID         int64     `json:"id" db:"id"`
	TaskID     string    `json:"task_id" db:"task_id"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
	Level      LogLevel  `json:"level" db:"level"`
	Message    string    `json:"message" db:"message"`
	SourceSite string    `json:"source_site" db:"source_site"`
}
