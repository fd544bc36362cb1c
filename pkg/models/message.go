package models

import "time"

// RecordEnvelope is one session record moving through the pipeline. Fields
// holds the record's readable attributes; a nil value is a null, and the
// rule engine treats null and empty string identically.
type RecordEnvelope struct {
	ID          string             `json:"id"`
	WorkspaceID string             `json:"workspace_id"`
	Source      string             `json:"source"`
	Timestamp   time.Time          `json:"timestamp"`
	Fields      map[string]*string `json:"fields"`
	Metadata    Metadata           `json:"metadata"`
}

type Metadata struct {
	TraceID    string          `json:"trace_id,omitempty"`
	Enrichment *EnrichmentInfo `json:"enrichment,omitempty"`
}

// EnrichmentInfo stamps a record with the rule version that produced its
// dimensions, so staleness is detectable later by comparing against the
// workspace's current version.
type EnrichmentInfo struct {
	EnrichedAt   time.Time `json:"enriched_at"`
	RulesVersion string    `json:"rules_version"`
	Dimensions   []string  `json:"dimensions,omitempty"`
}
