package rules

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refinery/internal/broker"
	"refinery/internal/config"
	"refinery/internal/logger"
	"refinery/pkg/models"
)

type capturingProducer struct {
	topic string
	key   string
	value []byte
}

func (p *capturingProducer) Publish(ctx context.Context, topic, key string, value []byte) error {
	p.topic = topic
	p.key = key
	p.value = value
	return nil
}

func (p *capturingProducer) Close() error { return nil }

func newRecordMessage(t *testing.T, record models.RecordEnvelope) broker.Message {
	t.Helper()
	payload, err := json.Marshal(record)
	require.NoError(t, err)
	return broker.Message{Key: record.WorkspaceID, Value: payload}
}

func TestHandleRecordEnrichesAndPublishes(t *testing.T) {
	repo := &stubRepo{ruleSet: stampedRuleSet()}
	svc := NewService(repo, config.RulesConfig{}, logger.NopLogger())
	producer := &capturingProducer{}
	h := NewHandler(svc, producer, "enriched_sessions", logger.NopLogger())

	record := models.RecordEnvelope{
		ID:          "rec-1",
		WorkspaceID: "ws-1",
		Fields: map[string]*string{
			"utm_medium": strPtr("cpc"),
		},
	}

	require.NoError(t, h.HandleRecord(context.Background(), newRecordMessage(t, record)))

	assert.Equal(t, "enriched_sessions", producer.topic)
	assert.Equal(t, "ws-1", producer.key)

	var enriched models.RecordEnvelope
	require.NoError(t, json.Unmarshal(producer.value, &enriched))

	require.NotNil(t, enriched.Fields["channel"])
	assert.Equal(t, "paid_search", *enriched.Fields["channel"])
	assert.Equal(t, "cpc", *enriched.Fields["utm_medium"], "source fields survive enrichment")

	require.NotNil(t, enriched.Metadata.Enrichment)
	assert.Equal(t, Hash(repo.ruleSet), enriched.Metadata.Enrichment.RulesVersion)
	assert.Equal(t, []string{"channel"}, enriched.Metadata.Enrichment.Dimensions)
	assert.False(t, enriched.Metadata.Enrichment.EnrichedAt.IsZero())
}

func TestHandleRecordPublishesUntouchedRecords(t *testing.T) {
	repo := &stubRepo{ruleSet: stampedRuleSet()}
	svc := NewService(repo, config.RulesConfig{}, logger.NopLogger())
	producer := &capturingProducer{}
	h := NewHandler(svc, producer, "enriched_sessions", logger.NopLogger())

	record := models.RecordEnvelope{
		ID:          "rec-2",
		WorkspaceID: "ws-1",
		Fields: map[string]*string{
			"utm_medium": strPtr("organic"),
		},
	}

	require.NoError(t, h.HandleRecord(context.Background(), newRecordMessage(t, record)))

	var enriched models.RecordEnvelope
	require.NoError(t, json.Unmarshal(producer.value, &enriched))

	_, written := enriched.Fields["channel"]
	assert.False(t, written)
	require.NotNil(t, enriched.Metadata.Enrichment, "version stamp applies even when no rule matched")
	assert.Empty(t, enriched.Metadata.Enrichment.Dimensions)
}

func TestHandleRecordRejectsBadInput(t *testing.T) {
	repo := &stubRepo{ruleSet: stampedRuleSet()}
	svc := NewService(repo, config.RulesConfig{}, logger.NopLogger())
	h := NewHandler(svc, &capturingProducer{}, "enriched_sessions", logger.NopLogger())

	err := h.HandleRecord(context.Background(), broker.Message{Value: []byte("not json")})
	assert.Error(t, err)

	err = h.HandleRecord(context.Background(), newRecordMessage(t, models.RecordEnvelope{ID: "rec-3"}))
	assert.Error(t, err, "records without a workspace cannot resolve a rule set")
}

func TestHandleRuleChangeReloads(t *testing.T) {
	repo := &stubRepo{ruleSet: stampedRuleSet()}
	svc := NewService(repo, config.RulesConfig{}, logger.NopLogger())
	h := NewHandler(svc, &capturingProducer{}, "enriched_sessions", logger.NopLogger())

	event := models.RuleChangeEvent{
		EventType:   models.EventTypeRuleSetUpdated,
		WorkspaceID: "ws-1",
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	require.NoError(t, h.HandleRuleChange(context.Background(), broker.Message{Value: payload}))
	assert.Equal(t, int32(1), repo.loads.Load())
}

func TestHandleRuleChangeIgnoresOtherEvents(t *testing.T) {
	repo := &stubRepo{ruleSet: stampedRuleSet()}
	svc := NewService(repo, config.RulesConfig{}, logger.NopLogger())
	h := NewHandler(svc, &capturingProducer{}, "enriched_sessions", logger.NopLogger())

	payload, err := json.Marshal(models.RuleChangeEvent{EventType: "something_else"})
	require.NoError(t, err)

	require.NoError(t, h.HandleRuleChange(context.Background(), broker.Message{Value: payload}))
	assert.Equal(t, int32(0), repo.loads.Load())
}
