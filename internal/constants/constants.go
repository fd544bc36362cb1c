package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultInputTopic      = "raw_sessions"
	DefaultOutputTopic     = "enriched_sessions"
	DefaultRuleChangeTopic = "rule_changes"
)

const (
	ShutdownTimeout   = 5 * time.Second
	RuleReloadTimeout = 10 * time.Second
)

// VersionColumn is the columnar-store column every backfill mutation stamps
// with the compiled rule-set hash, so stale rows are detectable.
const VersionColumn = "dimensions_version"

const (
	DefaultTruncateLen = 100
)
