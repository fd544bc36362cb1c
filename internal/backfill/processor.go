package backfill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"refinery/internal/config"
	"refinery/internal/constants"
	"refinery/internal/logger"
	"refinery/internal/rules"
	"refinery/internal/sqlgen"
	"refinery/internal/store"
	"refinery/pkg/logging"
	"refinery/pkg/metrics"
	"refinery/pkg/retry"
	"refinery/pkg/tracing"
)

// Processor drives one backfill task through the store: compile the frozen
// rule snapshot once, then walk calendar-day chunks oldest-first, submitting
// one mutation per events partition and one per distinct sessions month,
// each gated by the admission controller.
//
// Within a run chunks are strictly sequential: the processor bounds its own
// contribution to global mutation load; cross-workspace contention is the
// admission controller's job alone.
type Processor struct {
	repo      Repository
	commander store.Commander
	admission *AdmissionController
	locks     *WorkspaceLocks
	storeCfg  config.StoreConfig
	pollCfg   config.PollConfig
	logger    logger.Logger
	now       func() time.Time
}

func NewProcessor(
	repo Repository,
	commander store.Commander,
	admission *AdmissionController,
	locks *WorkspaceLocks,
	storeCfg config.StoreConfig,
	pollCfg config.PollConfig,
	log logger.Logger,
) *Processor {
	return &Processor{
		repo:      repo,
		commander: commander,
		admission: admission,
		locks:     locks,
		storeCfg:  storeCfg,
		pollCfg:   pollCfg,
		logger:    log,
		now:       time.Now,
	}
}

// Run executes the task to one of its three terminal states. The workspace
// lock fully serializes runs per workspace; runs for other workspaces are
// unaffected.
func (p *Processor) Run(ctx context.Context, taskID string) error {
	task, err := p.repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("backfill task %s not found", taskID)
	}

	ctx = logging.WithTaskID(logging.WithWorkspaceID(ctx, task.WorkspaceID), task.ID)
	ctx, span := tracing.GetTracer("backfill-service").Start(ctx, "backfill.run")
	defer span.End()

	release, err := p.locks.Acquire(ctx, task.WorkspaceID)
	if err != nil {
		return err
	}
	defer release()

	if err := p.repo.MarkRunning(ctx, task.ID); err != nil {
		return err
	}

	status, runErr := p.process(ctx, task)

	errorMessage := ""
	if runErr != nil {
		errorMessage = runErr.Error()
	}
	// The terminal state must persist even when the run context is already
	// cancelled, or shutdown would strand tasks in running.
	termCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ShutdownTimeout)
	defer cancel()
	if err := p.repo.MarkTerminal(termCtx, task.ID, status, errorMessage); err != nil {
		p.logger.ErrorwCtx(ctx, "Failed to persist terminal task state",
			"status", status,
			"error", err,
		)
	}
	metrics.BackfillTasksTotal.WithLabelValues(string(status)).Inc()

	p.logger.InfowCtx(ctx, "Backfill task finished",
		"status", status,
		"error", errorMessage,
	)
	return runErr
}

func (p *Processor) process(ctx context.Context, task *Task) (TaskStatus, error) {
	var snapshot []rules.FilterDefinition
	if err := json.Unmarshal(task.FiltersSnapshot, &snapshot); err != nil {
		return StatusFailed, fmt.Errorf("filters snapshot is not decodable: %w", err)
	}

	// Every violation is collected before failing so the caller sees the
	// complete list in one pass, and nothing is submitted on a bad snapshot.
	if err := rules.ValidateSnapshot(snapshot); err != nil {
		return StatusFailed, err
	}

	compiled, err := sqlgen.Compile(snapshot)
	if err != nil {
		return StatusFailed, err
	}
	if compiled.SetClause == "" {
		p.logger.InfowCtx(ctx, "Rule set writes no dimensions, nothing to backfill")
		return StatusCompleted, nil
	}

	p.computeBaseline(ctx, task)

	today := p.dateOnly(p.now().UTC())
	oldest := today.AddDate(0, 0, -task.LookbackDays)
	retentionFloor := today.AddDate(0, 0, -p.storeCfg.EventsRetentionDays)

	var processedSessions, processedEvents int64
	mutatedMonths := make(map[string]bool)

	for chunkStart := oldest; chunkStart.Before(today); chunkStart = chunkStart.AddDate(0, 0, task.ChunkSizeDays) {
		cancelled, err := p.cancelRequested(ctx, task.ID)
		if err == nil && cancelled {
			p.logger.InfowCtx(ctx, "Cancellation observed at chunk boundary",
				"current_chunk", chunkStart.Format("2006-01-02"),
			)
			return StatusCancelled, nil
		}
		if ctx.Err() != nil {
			return StatusCancelled, nil
		}

		chunkEnd := chunkStart.AddDate(0, 0, task.ChunkSizeDays)
		if chunkEnd.After(today) {
			chunkEnd = today
		}

		if err := p.processChunk(ctx, task, compiled, chunkStart, chunkEnd, retentionFloor, mutatedMonths); err != nil {
			p.cleanupWorkspaceMutations(ctx, task.WorkspaceID)
			if ctx.Err() != nil {
				return StatusCancelled, nil
			}
			return StatusFailed, err
		}

		processedSessions, processedEvents = p.accumulateProgress(ctx, task, chunkStart, chunkEnd, processedSessions, processedEvents)
		metrics.BackfillChunksProcessedTotal.Inc()
	}

	return StatusCompleted, nil
}

func (p *Processor) processChunk(
	ctx context.Context,
	task *Task,
	compiled *sqlgen.Compiled,
	chunkStart, chunkEnd, retentionFloor time.Time,
	mutatedMonths map[string]bool,
) error {
	// Fine-grained events live in daily partitions with a bounded retention;
	// chunks older than the window have no rows to rewrite.
	if chunkEnd.After(retentionFloor) {
		predicate := p.eventsPredicate(task.WorkspaceID, chunkStart, chunkEnd)
		if err := p.mutate(ctx, p.storeCfg.EventsTable, compiled, predicate); err != nil {
			return fmt.Errorf("events chunk %s: %w", chunkStart.Format("2006-01-02"), err)
		}
	}

	// The sessions table is partitioned by month. A chunk may span several
	// partitions and several chunks may share one; every month intersecting
	// [chunkStart, chunkEnd) is mutated exactly once per run.
	for month := p.monthStart(chunkStart); month.Before(chunkEnd); month = month.AddDate(0, 1, 0) {
		monthKey := month.Format("2006-01")
		if mutatedMonths[monthKey] {
			continue
		}
		predicate := p.sessionsPredicate(task.WorkspaceID, month)
		if err := p.mutate(ctx, p.storeCfg.SessionsTable, compiled, predicate); err != nil {
			return fmt.Errorf("sessions month %s: %w", monthKey, err)
		}
		mutatedMonths[monthKey] = true
	}

	return nil
}

// mutate submits one admission-gated mutation and waits for the store to
// finish it. The admission slot covers only the submission decision; waiting
// happens with no slot held.
func (p *Processor) mutate(ctx context.Context, table string, compiled *sqlgen.Compiled, predicate string) error {
	if err := p.admission.AcquireSlot(ctx); err != nil {
		return err
	}

	mutationSQL := fmt.Sprintf(
		"ALTER TABLE %s.%s UPDATE %s, %s = %s WHERE %s",
		p.storeCfg.ClickHouse.Database, table,
		compiled.SetClause,
		constants.VersionColumn, sqlgen.QuoteLiteral(compiled.Version),
		predicate,
	)

	if err := p.commander.ExecuteMutation(ctx, mutationSQL); err != nil {
		return err
	}
	metrics.MutationsSubmittedTotal.WithLabelValues(table).Inc()

	start := time.Now()
	err := retry.PollUntil(ctx, p.pollCfg.Interval, p.pollCfg.Timeout, func(pollCtx context.Context) (bool, error) {
		status, err := p.commander.PollMutationStatus(pollCtx, table, predicate)
		if err != nil {
			return false, err
		}
		return status.Done, nil
	})
	metrics.ObserveMutationPollDuration(time.Since(start))

	if errors.Is(err, retry.ErrPollTimeout) {
		// A mutation we stop waiting for must not keep running unattended.
		if killErr := p.commander.KillMutations(ctx, predicate); killErr != nil {
			p.logger.ErrorwCtx(ctx, "Failed to kill timed-out mutation",
				"table", table,
				"error", killErr,
			)
		}
		return fmt.Errorf("mutation on %s did not finish within %s: %w", table, p.pollCfg.Timeout, err)
	}
	return err
}

// computeBaseline seeds total counters for progress reporting. Best-effort:
// a failed count degrades reporting, never the run.
func (p *Processor) computeBaseline(ctx context.Context, task *Task) {
	today := p.dateOnly(p.now().UTC())
	oldest := today.AddDate(0, 0, -task.LookbackDays)

	totalEvents, err := p.commander.CountRows(ctx, p.storeCfg.EventsTable,
		p.eventsPredicate(task.WorkspaceID, oldest, today))
	if err != nil {
		p.logger.WarnwCtx(ctx, "Failed to count baseline events", "error", err)
	}

	// Progress accumulates per-chunk session_date ranges, so the total must
	// cover the same window or the ratio never reaches one.
	totalSessions, err := p.commander.CountRows(ctx, p.storeCfg.SessionsTable,
		p.sessionsChunkPredicate(task.WorkspaceID, oldest, today))
	if err != nil {
		p.logger.WarnwCtx(ctx, "Failed to count baseline sessions", "error", err)
	}

	if err := p.repo.UpdateBaseline(ctx, task.ID, totalSessions, totalEvents); err != nil {
		p.logger.WarnwCtx(ctx, "Failed to persist baseline counts", "error", err)
	}
}

func (p *Processor) accumulateProgress(
	ctx context.Context,
	task *Task,
	chunkStart, chunkEnd time.Time,
	processedSessions, processedEvents int64,
) (int64, int64) {
	chunkEvents, err := p.commander.CountRows(ctx, p.storeCfg.EventsTable,
		p.eventsPredicate(task.WorkspaceID, chunkStart, chunkEnd))
	if err != nil {
		p.logger.WarnwCtx(ctx, "Failed to count chunk events", "error", err)
	}
	chunkSessions, err := p.commander.CountRows(ctx, p.storeCfg.SessionsTable,
		p.sessionsChunkPredicate(task.WorkspaceID, chunkStart, chunkEnd))
	if err != nil {
		p.logger.WarnwCtx(ctx, "Failed to count chunk sessions", "error", err)
	}

	processedEvents += chunkEvents
	processedSessions += chunkSessions

	if err := p.repo.UpdateProgress(ctx, task.ID, processedSessions, processedEvents, chunkStart); err != nil {
		p.logger.WarnwCtx(ctx, "Failed to persist progress", "error", err)
	}
	return processedSessions, processedEvents
}

// cleanupWorkspaceMutations kills every pending mutation of the workspace so
// a failed run never leaves orphaned background work. Advisory: failures are
// logged, never re-raised over the original error.
func (p *Processor) cleanupWorkspaceMutations(ctx context.Context, workspaceID string) {
	// The run context may itself be the reason cleanup fires.
	killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ShutdownTimeout)
	defer cancel()

	if err := p.commander.KillMutations(killCtx, p.workspacePredicate(workspaceID)); err != nil {
		p.logger.ErrorwCtx(ctx, "Best-effort mutation cleanup failed",
			"error", err,
		)
	}
}

func (p *Processor) cancelRequested(ctx context.Context, taskID string) (bool, error) {
	requested, err := p.repo.IsCancelRequested(ctx, taskID)
	if err != nil {
		p.logger.WarnwCtx(ctx, "Failed to read cancel flag", "error", err)
		return false, err
	}
	return requested, nil
}

func (p *Processor) eventsPredicate(workspaceID string, start, end time.Time) string {
	return fmt.Sprintf("workspace_id = %s AND event_date >= %s AND event_date < %s",
		sqlgen.QuoteLiteral(workspaceID),
		sqlgen.QuoteLiteral(start.Format("2006-01-02")),
		sqlgen.QuoteLiteral(end.Format("2006-01-02")),
	)
}

func (p *Processor) sessionsPredicate(workspaceID string, day time.Time) string {
	return fmt.Sprintf("workspace_id = %s AND session_month = %s",
		sqlgen.QuoteLiteral(workspaceID),
		sqlgen.QuoteLiteral(p.monthStart(day).Format("2006-01-02")),
	)
}

func (p *Processor) sessionsChunkPredicate(workspaceID string, start, end time.Time) string {
	return fmt.Sprintf("workspace_id = %s AND session_date >= %s AND session_date < %s",
		sqlgen.QuoteLiteral(workspaceID),
		sqlgen.QuoteLiteral(start.Format("2006-01-02")),
		sqlgen.QuoteLiteral(end.Format("2006-01-02")),
	)
}

func (p *Processor) workspacePredicate(workspaceID string) string {
	return fmt.Sprintf("workspace_id = %s", sqlgen.QuoteLiteral(workspaceID))
}

func (p *Processor) dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (p *Processor) monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
