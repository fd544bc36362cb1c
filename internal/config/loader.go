package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func bindEnvVariables() {
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.input_topic", "BROKER_KAFKA_INPUT_TOPIC")
	viper.BindEnv("broker.kafka.output_topic", "BROKER_KAFKA_OUTPUT_TOPIC")
	viper.BindEnv("broker.kafka.rule_change_topic", "BROKER_KAFKA_RULE_CHANGE_TOPIC")
	viper.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("store.clickhouse.host", "STORE_CLICKHOUSE_HOST")
	viper.BindEnv("store.clickhouse.port", "STORE_CLICKHOUSE_PORT")
	viper.BindEnv("store.clickhouse.user", "STORE_CLICKHOUSE_USER")
	viper.BindEnv("store.clickhouse.password", "STORE_CLICKHOUSE_PASSWORD")
	viper.BindEnv("store.clickhouse.database", "STORE_CLICKHOUSE_DATABASE")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("server.port", "SERVER_PORT")
}

func setDefaults() {
	viper.SetDefault("backfill.lookback_days", 365)
	viper.SetDefault("backfill.chunk_size_days", 1)
	viper.SetDefault("backfill.batch_size", 100000)
	viper.SetDefault("backfill.admission.soft_slots", 4)
	viper.SetDefault("backfill.admission.hard_in_flight_limit", 10)
	viper.SetDefault("backfill.admission.acquire_timeout", "30s")
	viper.SetDefault("backfill.admission.submissions_per_second", 2.0)
	viper.SetDefault("backfill.poll.interval", "2s")
	viper.SetDefault("backfill.poll.timeout", "10m")
	viper.SetDefault("store.events_table", "events")
	viper.SetDefault("store.sessions_table", "sessions_monthly")
	viper.SetDefault("store.events_retention_days", 90)
	viper.SetDefault("rules.reload.interval_seconds", 60)
	viper.SetDefault("rules.reload.jitter_max_milliseconds", 2000)
}
