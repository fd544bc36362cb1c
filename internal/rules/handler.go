package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"refinery/internal/broker"
	"refinery/internal/constants"
	"refinery/internal/logger"
	"refinery/pkg/logging"
	"refinery/pkg/models"
)

// Handler sits between the broker and the rule engine on the live path:
// decode a record, evaluate the workspace's rules against it, stamp the
// results in, and publish downstream.
type Handler struct {
	service     *Service
	producer    broker.Producer
	outputTopic string
	logger      logger.Logger
}

func NewHandler(service *Service, producer broker.Producer, outputTopic string, log logger.Logger) *Handler {
	return &Handler{
		service:     service,
		producer:    producer,
		outputTopic: outputTopic,
		logger:      log,
	}
}

// HandleRecord enriches one record. Records with no workspace cannot resolve
// a rule set and are permanent failures; evaluation itself never fails, so
// errors here are decode or publish errors only.
func (h *Handler) HandleRecord(ctx context.Context, msg broker.Message) error {
	var record models.RecordEnvelope
	if err := json.Unmarshal(msg.Value, &record); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	if record.WorkspaceID == "" {
		return fmt.Errorf("record %s missing workspace id", record.ID)
	}

	ctx = logging.WithWorkspaceID(logging.WithRecordID(ctx, record.ID), record.WorkspaceID)

	dimensions, version, err := h.service.Enrich(ctx, record.WorkspaceID, record.Fields)
	if err != nil {
		return err
	}

	if record.Fields == nil {
		record.Fields = make(map[string]*string, len(dimensions))
	}
	written := make([]string, 0, len(dimensions))
	for dimension, value := range dimensions {
		record.Fields[dimension] = value
		written = append(written, dimension)
	}
	sort.Strings(written)

	record.Metadata.Enrichment = &models.EnrichmentInfo{
		EnrichedAt:   time.Now().UTC(),
		RulesVersion: version,
		Dimensions:   written,
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode enriched record: %w", err)
	}
	return h.producer.Publish(ctx, h.outputTopic, record.WorkspaceID, payload)
}

// HandleRuleChange refreshes the in-memory cache as soon as a workspace's
// rules change, instead of waiting out the periodic reload interval.
func (h *Handler) HandleRuleChange(ctx context.Context, msg broker.Message) error {
	var event models.RuleChangeEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to decode rule change event: %w", err)
	}
	if event.EventType != models.EventTypeRuleSetUpdated {
		return nil
	}
	if event.WorkspaceID == "" {
		return fmt.Errorf("rule change event missing workspace id")
	}

	ctx, cancel := context.WithTimeout(ctx, constants.RuleReloadTimeout)
	defer cancel()

	if err := h.service.ReloadWorkspace(ctx, event.WorkspaceID, true); err != nil {
		return err
	}
	h.logger.InfowCtx(ctx, "Workspace rules reloaded from change event",
		"workspace_id", event.WorkspaceID,
		"rules_version", event.RulesVersion,
	)
	return nil
}
