package rules

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refinery/internal/config"
	"refinery/internal/logger"
)

type stubRepo struct {
	ruleSet []FilterDefinition
	loads   atomic.Int32
	err     error
}

func (r *stubRepo) GetWorkspaceRules(ctx context.Context, workspaceID string) ([]FilterDefinition, error) {
	r.loads.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return r.ruleSet, nil
}

func stampedRuleSet() []FilterDefinition {
	ruleSet := []FilterDefinition{
		setRule("r-1", 90, "channel", "paid_search",
			FilterCondition{Field: "utm_medium", Operator: OperatorEquals, Value: "cpc"}),
	}
	version := Hash(ruleSet)
	for i := range ruleSet {
		ruleSet[i].Version = version
	}
	return ruleSet
}

func TestEnrichLoadsOnceThenServesFromCache(t *testing.T) {
	repo := &stubRepo{ruleSet: stampedRuleSet()}
	svc := NewService(repo, config.RulesConfig{}, logger.NopLogger())
	ctx := context.Background()

	fields := FieldValues{"utm_medium": strPtr("cpc")}

	dimensions, version, err := svc.Enrich(ctx, "ws-1", fields)
	require.NoError(t, err)
	require.NotNil(t, dimensions["channel"])
	assert.Equal(t, "paid_search", *dimensions["channel"])
	assert.Equal(t, Hash(repo.ruleSet), version)

	_, _, err = svc.Enrich(ctx, "ws-1", fields)
	require.NoError(t, err)
	assert.Equal(t, int32(1), repo.loads.Load())
}

func TestEnrichEmptyWorkspace(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, config.RulesConfig{}, logger.NopLogger())

	dimensions, version, err := svc.Enrich(context.Background(), "ws-empty", FieldValues{})
	require.NoError(t, err)
	assert.Empty(t, dimensions)
	assert.Equal(t, Hash(nil), version)
}

func TestEnrichSurfacesLoadErrors(t *testing.T) {
	repo := &stubRepo{err: errors.New("db down")}
	svc := NewService(repo, config.RulesConfig{}, logger.NopLogger())

	_, _, err := svc.Enrich(context.Background(), "ws-1", FieldValues{})
	assert.Error(t, err)
}

func TestReloadWorkspaceRefreshesCache(t *testing.T) {
	repo := &stubRepo{ruleSet: stampedRuleSet()}
	svc := NewService(repo, config.RulesConfig{}, logger.NopLogger())
	ctx := context.Background()

	_, oldVersion, err := svc.Enrich(ctx, "ws-1", FieldValues{})
	require.NoError(t, err)

	changed := stampedRuleSet()
	changed[0].Operations[0].Value = "paid"
	version := Hash(changed)
	for i := range changed {
		changed[i].Version = version
	}
	repo.ruleSet = changed

	require.NoError(t, svc.ReloadWorkspace(ctx, "ws-1", true))

	_, newVersion, err := svc.Enrich(ctx, "ws-1", FieldValues{})
	require.NoError(t, err)
	assert.NotEqual(t, oldVersion, newVersion)
	assert.Equal(t, version, newVersion)
}

func TestReloadWorkspaceJitterRespectsContext(t *testing.T) {
	repo := &stubRepo{ruleSet: stampedRuleSet()}
	cfg := config.RulesConfig{
		Reload: config.ReloadConfig{JitterMaxMilliseconds: 60000},
	}
	svc := NewService(repo, cfg, logger.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.ReloadWorkspace(ctx, "ws-1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), repo.loads.Load())
}
