package backfill

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, taskID string) (*Task, error)
	MarkRunning(ctx context.Context, taskID string) error
	MarkTerminal(ctx context.Context, taskID string, status TaskStatus, errorMessage string) error
	UpdateBaseline(ctx context.Context, taskID string, totalSessions, totalEvents int64) error
	UpdateProgress(ctx context.Context, taskID string, processedSessions, processedEvents int64, currentChunk time.Time) error
	RequestCancel(ctx context.Context, taskID string) error
	IsCancelRequested(ctx context.Context, taskID string) (bool, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateTask(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	if task.Status == "" {
		task.Status = StatusPending
	}

	query := `
		INSERT INTO backfill_tasks
			(id, workspace_id, status, lookback_days, chunk_size_days, batch_size,
			 filters_snapshot, snapshot_version, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		task.ID, task.WorkspaceID, task.Status, task.LookbackDays, task.ChunkSizeDays,
		task.BatchSize, task.FiltersSnapshot, task.SnapshotVersion, task.RetryCount, task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create backfill task: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetTask(ctx context.Context, taskID string) (*Task, error) {
	query := `
		SELECT id, workspace_id, status, lookback_days, chunk_size_days, batch_size,
		       total_sessions, processed_sessions, total_events, processed_events,
		       current_date_chunk, filters_snapshot, snapshot_version,
		       COALESCE(error_message, ''), retry_count, cancel_requested,
		       created_at, started_at, finished_at
		FROM backfill_tasks
		WHERE id = $1
	`

	var task Task
	err := r.db.QueryRowContext(ctx, query, taskID).Scan(
		&task.ID, &task.WorkspaceID, &task.Status, &task.LookbackDays, &task.ChunkSizeDays,
		&task.BatchSize, &task.TotalSessions, &task.ProcessedSessions, &task.TotalEvents,
		&task.ProcessedEvents, &task.CurrentDateChunk, &task.FiltersSnapshot,
		&task.SnapshotVersion, &task.ErrorMessage, &task.RetryCount, &task.CancelRequested,
		&task.CreatedAt, &task.StartedAt, &task.FinishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backfill task: %w", err)
	}
	return &task, nil
}

func (r *PostgresRepository) MarkRunning(ctx context.Context, taskID string) error {
	query := `
		UPDATE backfill_tasks
		SET status = 'running', started_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	result, err := r.db.ExecContext(ctx, query, taskID)
	if err != nil {
		return fmt.Errorf("failed to mark task running: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check task transition: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("task %s is not pending", taskID)
	}
	return nil
}

func (r *PostgresRepository) MarkTerminal(ctx context.Context, taskID string, status TaskStatus, errorMessage string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	query := `
		UPDATE backfill_tasks
		SET status = $2, error_message = NULLIF($3, ''), finished_at = NOW()
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, taskID, status, errorMessage); err != nil {
		return fmt.Errorf("failed to mark task %s: %w", status, err)
	}
	return nil
}

func (r *PostgresRepository) UpdateBaseline(ctx context.Context, taskID string, totalSessions, totalEvents int64) error {
	query := `
		UPDATE backfill_tasks
		SET total_sessions = $2, total_events = $3
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, taskID, totalSessions, totalEvents); err != nil {
		return fmt.Errorf("failed to update baseline counts: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateProgress(ctx context.Context, taskID string, processedSessions, processedEvents int64, currentChunk time.Time) error {
	query := `
		UPDATE backfill_tasks
		SET processed_sessions = $2, processed_events = $3, current_date_chunk = $4
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, taskID, processedSessions, processedEvents, currentChunk); err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RequestCancel(ctx context.Context, taskID string) error {
	query := `
		UPDATE backfill_tasks
		SET cancel_requested = TRUE
		WHERE id = $1 AND status IN ('pending', 'running')
	`

	if _, err := r.db.ExecContext(ctx, query, taskID); err != nil {
		return fmt.Errorf("failed to request cancel: %w", err)
	}
	return nil
}

func (r *PostgresRepository) IsCancelRequested(ctx context.Context, taskID string) (bool, error) {
	query := `SELECT cancel_requested FROM backfill_tasks WHERE id = $1`

	var requested bool
	if err := r.db.QueryRowContext(ctx, query, taskID).Scan(&requested); err != nil {
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return requested, nil
}
