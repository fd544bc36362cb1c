package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"refinery/internal/broker"
	"refinery/internal/config"
	"refinery/internal/constants"
	"refinery/internal/logger"
	"refinery/internal/rules"
	"refinery/pkg/bootstrap"
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
	service        *rules.Service
	handler        *rules.Handler
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("enrichment-service")
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

	if err := a.InitBroker("enrichment-service"); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	a.initService(ctx)

	tp, err := tracing.Init(a.Config.Tracing, "enrichment-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterRulesMetrics()
	metrics.RegisterBrokerMetrics()

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

func (a *App) initService(ctx context.Context) {
	repo := rules.NewRepository(a.postgresDB)
	a.service = rules.NewService(repo, a.Config.Rules, a.Logger)

	outputTopic := a.Config.Broker.Kafka.OutputTopic
	if outputTopic == "" {
		outputTopic = constants.DefaultOutputTopic
	}
	a.handler = rules.NewHandler(a.service, a.Producer, outputTopic, a.Logger)
}

func (a *App) initHTTPServer() {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	if a.postgresDB != nil {
		healthRegistry.Register(health.NewPostgreSQLChecker(a.postgresDB))
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

	g.Go(func() error {
		return a.service.StartReloader(gCtx)
	})

	if a.Config.Broker.Kafka.RuleChangeTopic != "" {
		ruleChangeConsumer, err := broker.NewConsumer(a.Config.Broker, a.Logger)
		if err != nil {
			changeCtx := logging.WithServiceName(ctx, "enrichment-service")
			a.Logger.WarnwCtx(changeCtx, "Failed to create rule change consumer, event-driven reload disabled",
				"error", err,
			)
		} else {
			ruleChangeConsumer.SetServiceName("enrichment-service")
			defer ruleChangeConsumer.Close()

			g.Go(func() error {
				changeCtx := logging.WithServiceName(gCtx, "enrichment-service")
				a.Logger.InfowCtx(changeCtx, "Starting rule change consumer",
					"topic", a.Config.Broker.Kafka.RuleChangeTopic,
				)
				return ruleChangeConsumer.Consume(gCtx, a.Config.Broker.Kafka.RuleChangeTopic, a.handler.HandleRuleChange)
			})
		}
	}

	inputTopic := a.Config.Broker.Kafka.InputTopic
	if inputTopic == "" {
		inputTopic = constants.DefaultInputTopic
	}

	g.Go(func() error {
		return a.Consumer.Consume(gCtx, inputTopic, a.handler.HandleRecord)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, "enrichment-service")
	a.Logger.InfowCtx(shutdownCtx, "Shutting down enrichment service")

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

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
