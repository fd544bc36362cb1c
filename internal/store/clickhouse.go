package store

import (
	"context"
	"database/sql"
	"fmt"

	"refinery/internal/logger"
	"refinery/internal/sqlgen"
)

// ClickHouseCommander drives ClickHouse's asynchronous mutation machinery:
// ALTER TABLE ... UPDATE submissions, system.mutations polling, and
// KILL MUTATION cleanup.
type ClickHouseCommander struct {
	db       *sql.DB
	database string
	logger   logger.Logger
}

func NewClickHouseCommander(db *sql.DB, database string, log logger.Logger) *ClickHouseCommander {
	return &ClickHouseCommander{
		db:       db,
		database: database,
		logger:   log,
	}
}

func (c *ClickHouseCommander) ExecuteMutation(ctx context.Context, mutationSQL string) error {
	if _, err := c.db.ExecContext(ctx, mutationSQL); err != nil {
		return fmt.Errorf("failed to submit mutation: %w", err)
	}
	return nil
}

func (c *ClickHouseCommander) PollMutationStatus(ctx context.Context, table, partitionPredicate string) (MutationStatus, error) {
	query := `
		SELECT count()
		FROM system.mutations
		WHERE database = ? AND table = ? AND is_done = 0 AND command LIKE ?
	`

	var pending int
	err := c.db.QueryRowContext(ctx, query, c.database, table, "%"+partitionPredicate+"%").Scan(&pending)
	if err != nil {
		return MutationStatus{}, fmt.Errorf("failed to poll mutation status: %w", err)
	}

	return MutationStatus{Pending: pending, Done: pending == 0}, nil
}

func (c *ClickHouseCommander) KillMutations(ctx context.Context, predicate string) error {
	query := fmt.Sprintf(
		"KILL MUTATION WHERE database = %s AND command LIKE %s",
		sqlgen.QuoteLiteral(c.database),
		sqlgen.QuoteLiteral("%"+predicate+"%"),
	)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to kill mutations: %w", err)
	}

	c.logger.WarnwCtx(ctx, "Killed pending mutations",
		"predicate", predicate,
	)
	return nil
}

func (c *ClickHouseCommander) CountRows(ctx context.Context, table, predicate string) (int64, error) {
	query := fmt.Sprintf("SELECT count() FROM %s.%s WHERE %s", c.database, table, predicate)

	var count int64
	if err := c.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", table, err)
	}
	return count, nil
}

func (c *ClickHouseCommander) InFlightMutationCount(ctx context.Context) (int, error) {
	query := `SELECT count() FROM system.mutations WHERE is_done = 0`

	var count int
	if err := c.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count in-flight mutations: %w", err)
	}
	return count, nil
}
