package config

import (
	"fmt"
	"strings"
)

// ValidateStatic rejects configurations that can never work, before any
// connection is attempted.
func ValidateStatic(cfg *Config) error {
	var problems []string

	if cfg.Broker.Type != "" && cfg.Broker.Type != "kafka" {
		problems = append(problems, fmt.Sprintf("broker.type %q is not supported (only kafka)", cfg.Broker.Type))
	}
	if cfg.Broker.Type == "kafka" && len(cfg.Broker.Kafka.Brokers) == 0 {
		problems = append(problems, "broker.kafka.brokers must not be empty")
	}

	if cfg.Backfill.LookbackDays < 0 {
		problems = append(problems, "backfill.lookback_days must be non-negative")
	}
	if cfg.Backfill.ChunkSizeDays <= 0 {
		problems = append(problems, "backfill.chunk_size_days must be positive")
	}
	if cfg.Backfill.Admission.SoftSlots <= 0 {
		problems = append(problems, "backfill.admission.soft_slots must be positive")
	}
	if cfg.Backfill.Admission.HardInFlightLimit <= 0 {
		problems = append(problems, "backfill.admission.hard_in_flight_limit must be positive")
	}
	if cfg.Backfill.Admission.SoftSlots > cfg.Backfill.Admission.HardInFlightLimit {
		problems = append(problems, "backfill.admission.soft_slots must not exceed hard_in_flight_limit")
	}
	if cfg.Backfill.Admission.AcquireTimeout <= 0 {
		problems = append(problems, "backfill.admission.acquire_timeout must be positive")
	}
	if cfg.Backfill.Poll.Interval <= 0 {
		problems = append(problems, "backfill.poll.interval must be positive")
	}
	if cfg.Backfill.Poll.Timeout <= cfg.Backfill.Poll.Interval {
		problems = append(problems, "backfill.poll.timeout must exceed backfill.poll.interval")
	}

	if cfg.Store.EventsTable == "" {
		problems = append(problems, "store.events_table must not be empty")
	}
	if cfg.Store.SessionsTable == "" {
		problems = append(problems, "store.sessions_table must not be empty")
	}
	if cfg.Store.EventsRetentionDays < 0 {
		problems = append(problems, "store.events_retention_days must be non-negative")
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%d problem(s): %s", len(problems), strings.Join(problems, "; "))
	}
	return nil
}
