package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/lib/pq"

	"refinery/internal/config"
	"refinery/internal/logger"
)

type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Config: cfg,
		Logger: log,
	}
}

func (dc *DatabaseConnector) InitPostgreSQL(ctx context.Context) (*sql.DB, error) {
	pg := dc.Config.Database.Postgres
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		pg.Host, pg.Port, pg.User, pg.Password, pg.DBName, pg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	dc.Logger.Infow("Connected to PostgreSQL",
		"host", pg.Host,
		"database", pg.DBName,
	)
	return db, nil
}

func (dc *DatabaseConnector) InitClickHouse(ctx context.Context) (*sql.DB, error) {
	ch := dc.Config.Store.ClickHouse
	dsn := fmt.Sprintf("clickhouse://%s:%s@%s:%d/%s",
		ch.User, ch.Password, ch.Host, ch.Port, ch.Database)

	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	dc.Logger.Infow("Connected to ClickHouse",
		"host", ch.Host,
		"database", ch.Database,
	)
	return db, nil
}
