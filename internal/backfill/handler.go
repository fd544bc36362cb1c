package backfill

import (
	"context"
	"encoding/json"
	"fmt"

	"refinery/internal/broker"
	"refinery/internal/logger"
	"refinery/pkg/models"
)

// Handler consumes rule-change events and opens a backfill per change.
type Handler struct {
	service *Service
	logger  logger.Logger
}

func NewHandler(service *Service, log logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

// HandleMessage is the broker entrypoint. A decode failure is permanent and
// surfaces as an error so the consumer routes the message to the DLQ.
func (h *Handler) HandleMessage(ctx context.Context, msg broker.Message) error {
	var event models.RuleChangeEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to decode rule change event: %w", err)
	}

	if event.EventType != models.EventTypeRuleSetUpdated {
		h.logger.DebugwCtx(ctx, "Ignoring event type", "event_type", event.EventType)
		return nil
	}
	if event.WorkspaceID == "" {
		return fmt.Errorf("rule change event missing workspace id")
	}

	task, err := h.service.StartBackfill(ctx, event.WorkspaceID)
	if err != nil {
		return err
	}

	h.logger.InfowCtx(ctx, "Backfill started from rule change",
		"task_id", task.ID,
		"workspace_id", event.WorkspaceID,
		"action", event.Action,
		"changed_by", event.ChangedBy,
	)
	return nil
}
