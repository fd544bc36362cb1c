package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"refinery/internal/backfill"
	"refinery/internal/config"
	"refinery/internal/constants"
	"refinery/internal/logger"
	"refinery/internal/rules"
	"refinery/internal/store"
	"refinery/pkg/bootstrap"
	"refinery/pkg/circuitbreaker"
	"refinery/pkg/health"
	"refinery/pkg/logging"
	"refinery/pkg/metrics"
	"refinery/pkg/migrations"
	"refinery/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	postgresDB     *sql.DB
	clickhouseDB   *sql.DB
	service        *backfill.Service
	handler        *backfill.Handler
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("backfill-service")
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initPostgreSQL(ctx); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	if err := a.initClickHouse(ctx); err != nil {
		return fmt.Errorf("failed to initialize ClickHouse: %w", err)
	}

	if err := a.InitBroker("backfill-service"); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	a.initService()

	tp, err := tracing.Init(a.Config.Tracing, "backfill-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterBackfillMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.Store.CircuitBreakerEnable {
		metrics.RegisterCircuitBreakerMetrics()
	}

	a.initHTTPServer()
	return nil
}

func (a *App) initPostgreSQL(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}

	if a.Config.Database.RunMigrations {
		if err := migrations.RunPostgres(db); err != nil {
			db.Close()
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	a.postgresDB = db
	return nil
}

func (a *App) initClickHouse(ctx context.Context) error {
	db, err := a.dbConnector.InitClickHouse(ctx)
	if err != nil {
		return err
	}
	a.clickhouseDB = db
	return nil
}

func (a *App) initService() {
	var commander store.Commander = store.NewClickHouseCommander(
		a.clickhouseDB,
		a.Config.Store.ClickHouse.Database,
		a.Logger,
	)
	if a.Config.Store.CircuitBreakerEnable {
		breaker := circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("clickhouse"))
		commander = store.NewBreakerCommander(commander, breaker)
	}

	repo := backfill.NewRepository(a.postgresDB)
	rulesRepo := rules.NewRepository(a.postgresDB)

	admission := backfill.NewAdmissionController(commander, a.Config.Backfill.Admission)
	locks := backfill.NewWorkspaceLocks()
	processor := backfill.NewProcessor(
		repo,
		commander,
		admission,
		locks,
		a.Config.Store,
		a.Config.Backfill.Poll,
		a.Logger,
	)

	a.service = backfill.NewService(repo, rulesRepo, processor, a.Config.Backfill, a.Logger)
	a.handler = backfill.NewHandler(a.service, a.Logger)
}

func (a *App) initHTTPServer() {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	if a.postgresDB != nil {
		healthRegistry.Register(health.NewPostgreSQLChecker(a.postgresDB))
	}
	if a.clickhouseDB != nil {
		healthRegistry.Register(health.NewClickHouseChecker(a.clickhouseDB))
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, `{"status":"%s","timestamp":"%s"}`, h.Status, h.Timestamp.Format(time.RFC3339))
	})

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: mux,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	ruleChangeTopic := a.Config.Broker.Kafka.RuleChangeTopic
	if ruleChangeTopic == "" {
		ruleChangeTopic = constants.DefaultRuleChangeTopic
	}

	g.Go(func() error {
		changeCtx := logging.WithServiceName(gCtx, "backfill-service")
		a.Logger.InfowCtx(changeCtx, "Starting rule change consumer",
			"topic", ruleChangeTopic,
		)
		return a.Consumer.Consume(gCtx, ruleChangeTopic, a.handler.HandleMessage)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, "backfill-service")
	a.Logger.InfowCtx(shutdownCtx, "Shutting down backfill service")

	// Running tasks observe the cancel and land in the cancelled state
	// before connections are torn down.
	if a.service != nil {
		a.service.Stop()
	}

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			srvCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(srvCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer shutdown error: %w", err))
			}
		}

		if a.postgresDB != nil {
			if err := a.postgresDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("postgres close error: %w", err))
			}
		}
		if a.clickhouseDB != nil {
			if err := a.clickhouseDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("clickhouse close error: %w", err))
			}
		}

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
