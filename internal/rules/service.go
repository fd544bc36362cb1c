package rules

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"refinery/internal/config"
	"refinery/internal/logger"
	"refinery/pkg/metrics"
	"refinery/pkg/tracing"
)

// Service is the live evaluation path: it caches each workspace's rule set
// and applies it per incoming record. Evaluation itself is synchronous and
// side-effect-free, safe on the hot ingestion path.
type Service struct {
	repo     Repository
	rulesCfg config.RulesConfig
	logger   logger.Logger
	cacheMu  sync.RWMutex
	cache    map[string]workspaceRules
}

type workspaceRules struct {
	rules   []FilterDefinition
	version string
}

func NewService(repo Repository, cfg config.RulesConfig, log logger.Logger) *Service {
	return &Service{
		repo:     repo,
		rulesCfg: cfg,
		logger:   log,
		cache:    make(map[string]workspaceRules),
	}
}

// Enrich evaluates the workspace's current rule set against one record's
// fields and returns the dimension assignments plus the rule-version stamp.
func (s *Service) Enrich(ctx context.Context, workspaceID string, fields FieldValues) (map[string]*string, string, error) {
	ctx, span := tracing.GetTracer("enrichment-service").Start(ctx, "rules.enrich")
	defer span.End()

	ws, ok := s.getCached(workspaceID)
	if !ok {
		if err := s.loadWorkspace(ctx, workspaceID); err != nil {
			return nil, "", err
		}
		ws, _ = s.getCached(workspaceID)
	}

	start := time.Now()
	dimensions := Evaluate(ws.rules, fields)
	metrics.RuleEvaluationsTotal.WithLabelValues(workspaceID).Inc()
	metrics.ObserveEvaluationDuration(time.Since(start))

	return dimensions, ws.version, nil
}

func (s *Service) getCached(workspaceID string) (workspaceRules, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	ws, ok := s.cache[workspaceID]
	return ws, ok
}

func (s *Service) loadWorkspace(ctx context.Context, workspaceID string) error {
	ruleSet, err := s.repo.GetWorkspaceRules(ctx, workspaceID)
	if err != nil {
		return err
	}

	version := ""
	if len(ruleSet) > 0 {
		version = ruleSet[0].Version
	} else {
		version = Hash(nil)
	}

	s.cacheMu.Lock()
	s.cache[workspaceID] = workspaceRules{rules: ruleSet, version: version}
	s.cacheMu.Unlock()

	enabled := 0
	for _, r := range ruleSet {
		if r.Enabled {
			enabled++
		}
	}
	metrics.SetActiveRules(workspaceID, enabled)

	s.logger.InfowCtx(ctx, "Loaded workspace rules",
		"workspace_id", workspaceID,
		"rules_count", len(ruleSet),
		"enabled_count", enabled,
		"version", version,
	)
	return nil
}

// ReloadWorkspace refreshes one workspace's cached rule set. The optional
// jitter spreads herd reloads triggered by a broadcast rule-change event.
func (s *Service) ReloadWorkspace(ctx context.Context, workspaceID string, skipJitter ...bool) error {
	shouldSkipJitter := len(skipJitter) > 0 && skipJitter[0]

	if err := s.applyJitter(ctx, shouldSkipJitter); err != nil {
		return err
	}
	return s.loadWorkspace(ctx, workspaceID)
}

func (s *Service) applyJitter(ctx context.Context, skipJitter bool) error {
	if skipJitter || s.rulesCfg.Reload.JitterMaxMilliseconds == 0 {
		return nil
	}

	jitter := time.Duration(rand.Intn(s.rulesCfg.Reload.JitterMaxMilliseconds)) * time.Millisecond
	s.logger.DebugwCtx(ctx, "Reload scheduled with jitter",
		"jitter_ms", jitter.Milliseconds(),
	)

	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartReloader periodically refreshes every cached workspace so the live
// path converges even if a rule-change event was missed.
func (s *Service) StartReloader(ctx context.Context) error {
	interval := time.Duration(s.rulesCfg.Reload.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, workspaceID := range s.cachedWorkspaces() {
				if err := s.loadWorkspace(ctx, workspaceID); err != nil {
					s.logger.ErrorwCtx(ctx, "Failed to reload workspace rules",
						"workspace_id", workspaceID,
						"error", err,
					)
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Service) cachedWorkspaces() []string {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	ids := make([]string, 0, len(s.cache))
	for id := range s.cache {
		ids = append(ids, id)
	}
	return ids
}
