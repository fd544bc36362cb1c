package models

import "time"

// RuleChangeEvent is published whenever a workspace's rule set changes. The
// enrichment service reloads on it; the backfill service creates a task.
type RuleChangeEvent struct {
	EventType    string    `json:"event_type"`
	WorkspaceID  string    `json:"workspace_id"`
	Action       string    `json:"action"`
	RulesVersion string    `json:"rules_version,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	ChangedBy    string    `json:"changed_by,omitempty"`
}

const (
	EventTypeRuleSetUpdated = "rule_set_updated"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionToggle = "toggle"
	ActionReload = "reload"
)
