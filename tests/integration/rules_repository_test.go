package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refinery/internal/rules"
)

func insertRule(t *testing.T, db *sql.DB, rule rules.FilterDefinition, workspaceID string) {
	t.Helper()

	conditions, err := json.Marshal(rule.Conditions)
	require.NoError(t, err)
	operations, err := json.Marshal(rule.Operations)
	require.NoError(t, err)

	tags := rule.Tags
	if tags == nil {
		tags = []string{}
	}

	_, err = db.Exec(`
		INSERT INTO dimension_rules (id, workspace_id, name, priority, ui_order, tags, conditions, operations, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rule.ID, workspaceID, rule.Name, rule.Priority, rule.Order, pq.Array(tags), conditions, operations, rule.Enabled)
	require.NoError(t, err)
}

func paidSearchRule(id string, priority int, enabled bool) rules.FilterDefinition {
	return rules.FilterDefinition{
		ID:       id,
		Name:     "paid search " + id,
		Priority: priority,
		Enabled:  enabled,
		Conditions: []rules.FilterCondition{
			{Field: "utm_medium", Operator: rules.OperatorEquals, Value: "cpc"},
		},
		Operations: []rules.FilterOperation{
			{Dimension: "channel", Action: rules.ActionSetValue, Value: "paid_search"},
		},
	}
}

func TestRulesRepository_GetWorkspaceRules(t *testing.T) {
	infra := SetupTestInfra(t)

	repo := rules.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	insertRule(t, infra.PostgresDB, paidSearchRule("r-1", 10, true), "ws-1")
	insertRule(t, infra.PostgresDB, paidSearchRule("r-2", 90, true), "ws-1")
	insertRule(t, infra.PostgresDB, paidSearchRule("r-3", 50, false), "ws-1")
	insertRule(t, infra.PostgresDB, paidSearchRule("r-other", 99, true), "ws-2")

	ruleSet, err := repo.GetWorkspaceRules(ctx, "ws-1")
	require.NoError(t, err)
	require.Len(t, ruleSet, 3, "disabled rules load too, other workspaces never")

	assert.Equal(t, "r-2", ruleSet[0].ID)
	assert.Equal(t, "r-3", ruleSet[1].ID)
	assert.Equal(t, "r-1", ruleSet[2].ID)

	require.Len(t, ruleSet[0].Conditions, 1)
	assert.Equal(t, rules.OperatorEquals, ruleSet[0].Conditions[0].Operator)
	require.Len(t, ruleSet[0].Operations, 1)
	assert.Equal(t, "channel", ruleSet[0].Operations[0].Dimension)
}

func TestRulesRepository_StampsVersion(t *testing.T) {
	infra := SetupTestInfra(t)

	repo := rules.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	insertRule(t, infra.PostgresDB, paidSearchRule("r-1", 10, true), "ws-1")
	insertRule(t, infra.PostgresDB, paidSearchRule("r-2", 90, true), "ws-1")

	ruleSet, err := repo.GetWorkspaceRules(ctx, "ws-1")
	require.NoError(t, err)
	require.Len(t, ruleSet, 2)

	version := rules.Hash(ruleSet)
	for _, rule := range ruleSet {
		assert.Equal(t, version, rule.Version)
	}
}

func TestRulesRepository_EmptyWorkspace(t *testing.T) {
	infra := SetupTestInfra(t)

	repo := rules.NewRepository(infra.PostgresDB)

	ruleSet, err := repo.GetWorkspaceRules(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, ruleSet)
}
