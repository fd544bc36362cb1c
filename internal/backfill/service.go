package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"refinery/internal/config"
	"refinery/internal/logger"
	"refinery/internal/rules"
	"refinery/pkg/logging"
)

// Service turns rule-set changes into backfill tasks. Each task freezes the
// workspace's rules at creation time, so a run is immune to edits made while
// it is executing.
type Service struct {
	repo      Repository
	rulesRepo rules.Repository
	processor *Processor
	cfg       config.BackfillConfig
	logger    logger.Logger

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(
	repo Repository,
	rulesRepo rules.Repository,
	processor *Processor,
	cfg config.BackfillConfig,
	log logger.Logger,
) *Service {
	runCtx, cancel := context.WithCancel(context.Background())
	return &Service{
		repo:      repo,
		rulesRepo: rulesRepo,
		processor: processor,
		cfg:       cfg,
		logger:    log,
		runCtx:    runCtx,
		cancel:    cancel,
	}
}

// StartBackfill snapshots the workspace's current rules, persists a pending
// task, and kicks off its run in the background. The caller gets the task
// back as soon as it is durable; progress is tracked on the task row.
func (s *Service) StartBackfill(ctx context.Context, workspaceID string) (*Task, error) {
	ruleSet, err := s.rulesRepo.GetWorkspaceRules(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot rules for workspace %s: %w", workspaceID, err)
	}

	snapshot, err := json.Marshal(ruleSet)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rules snapshot: %w", err)
	}

	task := &Task{
		ID:              uuid.New().String(),
		WorkspaceID:     workspaceID,
		Status:          StatusPending,
		LookbackDays:    s.cfg.LookbackDays,
		ChunkSizeDays:   s.cfg.ChunkSizeDays,
		BatchSize:       s.cfg.BatchSize,
		FiltersSnapshot: snapshot,
		SnapshotVersion: rules.Hash(ruleSet),
	}

	if err := s.repo.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create backfill task: %w", err)
	}

	s.logger.InfowCtx(ctx, "Backfill task created",
		"task_id", task.ID,
		"workspace_id", workspaceID,
		"snapshot_version", task.SnapshotVersion,
		"snapshot_rules", len(ruleSet),
	)

	// Runs detach from the triggering message's context: committing the
	// offset must not cancel a multi-hour backfill. Stop() reels them in.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runCtx := logging.WithWorkspaceID(s.runCtx, workspaceID)
		if err := s.processor.Run(runCtx, task.ID); err != nil {
			s.logger.ErrorwCtx(runCtx, "Backfill task failed",
				"task_id", task.ID,
				"error", err,
			)
		}
	}()

	return task, nil
}

// CancelTask flags the task for cooperative cancellation. The processor
// notices the flag at its next chunk boundary; the in-flight chunk finishes.
func (s *Service) CancelTask(ctx context.Context, taskID string) error {
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("backfill task %s not found", taskID)
	}
	if task.Status.IsTerminal() {
		return fmt.Errorf("backfill task %s already %s", taskID, task.Status)
	}
	return s.repo.RequestCancel(ctx, taskID)
}

// Stop cancels running tasks and waits for their goroutines to unwind.
// Cancelled runs land in the cancelled terminal state, not failed.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
}
