package config

import (
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Broker   BrokerConfig
	Logging  LoggingConfig
	Rules    RulesConfig
	Backfill BackfillConfig
	Store    StoreConfig
	Tracing  TracingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers         []string    `mapstructure:"brokers"`
	GroupID         string      `mapstructure:"group_id"`
	InputTopic      string      `mapstructure:"input_topic"`
	OutputTopic     string      `mapstructure:"output_topic"`
	RuleChangeTopic string      `mapstructure:"rule_change_topic"`
	DLQTopic        string      `mapstructure:"dlq_topic"`
	Retry           RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RulesConfig struct {
	Reload ReloadConfig `mapstructure:"reload"`
}

type ReloadConfig struct {
	IntervalSeconds       int `mapstructure:"interval_seconds"`
	JitterMaxMilliseconds int `mapstructure:"jitter_max_milliseconds"`
}

// BackfillConfig drives the offline path: how far back to rewrite, how large
// each chunk is, and how aggressively mutations are admitted.
type BackfillConfig struct {
	LookbackDays  int             `mapstructure:"lookback_days"`
	ChunkSizeDays int             `mapstructure:"chunk_size_days"`
	BatchSize     int             `mapstructure:"batch_size"`
	Admission     AdmissionConfig `mapstructure:"admission"`
	Poll          PollConfig      `mapstructure:"poll"`
}

type AdmissionConfig struct {
	SoftSlots            int           `mapstructure:"soft_slots"`
	HardInFlightLimit    int           `mapstructure:"hard_in_flight_limit"`
	AcquireTimeout       time.Duration `mapstructure:"acquire_timeout"`
	SubmissionsPerSecond float64       `mapstructure:"submissions_per_second"`
}

type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// StoreConfig locates the columnar store and the two tables backfill mutates.
type StoreConfig struct {
	ClickHouse           ClickHouseConfig `mapstructure:"clickhouse"`
	EventsTable          string           `mapstructure:"events_table"`
	SessionsTable        string           `mapstructure:"sessions_table"`
	EventsRetentionDays  int              `mapstructure:"events_retention_days"`
	CircuitBreakerEnable bool             `mapstructure:"circuit_breaker_enabled"`
}

type ClickHouseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
