package backfill

import (
	"time"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// Task is one retroactive rewrite of a workspace's historical rows. The rule
// set is frozen into FiltersSnapshot at creation time and never re-read: a
// run stays internally consistent even if rules are edited mid-run. A task
// reaches exactly one terminal state and is never resumed; retrying means
// creating a new task.
type Task struct {
	ID                string     `json:"id"`
	WorkspaceID       string     `json:"workspace_id"`
	Status            TaskStatus `json:"status"`
	LookbackDays      int        `json:"lookback_days"`
	ChunkSizeDays     int        `json:"chunk_size_days"`
	BatchSize         int        `json:"batch_size"`
	TotalSessions     int64      `json:"total_sessions"`
	ProcessedSessions int64      `json:"processed_sessions"`
	TotalEvents       int64      `json:"total_events"`
	ProcessedEvents   int64      `json:"processed_events"`
	CurrentDateChunk  *time.Time `json:"current_date_chunk,omitempty"`
	FiltersSnapshot   []byte     `json:"filters_snapshot"`
	SnapshotVersion   string     `json:"snapshot_version"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	RetryCount        int        `json:"retry_count"`
	CancelRequested   bool       `json:"cancel_requested"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

// IsTerminal reports whether the status can never change again.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}
