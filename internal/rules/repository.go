package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

type Repository interface {
	GetWorkspaceRules(ctx context.Context, workspaceID string) ([]FilterDefinition, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

// GetWorkspaceRules loads every rule of a workspace, enabled or not. The
// evaluation engine filters on enabled itself; the version hash covers the
// enabled flag, so disabled rules must be part of what we hand out.
func (r *PostgresRepository) GetWorkspaceRules(ctx context.Context, workspaceID string) ([]FilterDefinition, error) {
	query := `
		SELECT id, name, priority, ui_order, tags, conditions, operations, enabled, created_at, updated_at
		FROM dimension_rules
		WHERE workspace_id = $1
		ORDER BY priority DESC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dimension rules: %w", err)
	}
	defer rows.Close()

	var ruleSet []FilterDefinition
	for rows.Next() {
		var rule FilterDefinition
		var conditionsJSON, operationsJSON []byte
		if err := rows.Scan(
			&rule.ID,
			&rule.Name,
			&rule.Priority,
			&rule.Order,
			pq.Array(&rule.Tags),
			&conditionsJSON,
			&operationsJSON,
			&rule.Enabled,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dimension rule: %w", err)
		}

		if len(conditionsJSON) > 0 {
			if err := json.Unmarshal(conditionsJSON, &rule.Conditions); err != nil {
				return nil, fmt.Errorf("failed to unmarshal conditions for rule %s: %w", rule.ID, err)
			}
		}
		if len(operationsJSON) > 0 {
			if err := json.Unmarshal(operationsJSON, &rule.Operations); err != nil {
				return nil, fmt.Errorf("failed to unmarshal operations for rule %s: %w", rule.ID, err)
			}
		}

		ruleSet = append(ruleSet, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	version := Hash(ruleSet)
	for i := range ruleSet {
		ruleSet[i].Version = version
	}

	return ruleSet, nil
}
