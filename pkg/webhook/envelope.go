package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mnemom/aip/pkg/types"
)

// Envelope is the wire shape delivered to every subscribed endpoint.
type Envelope struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	CreatedAt time.Time      `json:"created_at"`
	AccountID string         `json:"account_id"`
	Data      map[string]any `json:"data"`
}

// NewEnvelope builds the envelope for one event occurrence.
func NewEnvelope(eventType, accountID string, data map[string]any, now time.Time) Envelope {
	return Envelope{
		ID:        types.NewWebhookEventID(),
		Type:      eventType,
		CreatedAt: now,
		AccountID: accountID,
		Data:      data,
	}
}

// Marshal renders the envelope's canonical delivery body.
func (e Envelope) Marshal() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("webhook: marshal envelope: %w", err)
	}
	return body, nil
}

// Event types the pipeline emits.
const (
	EventCheckpointCreated      = "checkpoint.created"
	EventCheckpointDriftAlert   = "checkpoint.drift_alert"
	EventNudgeCreated           = "nudge.created"
	EventAgentAutoContained     = "agent.auto_contained"
	EventEndpointAutoDisabled   = "endpoint.auto_disabled"
)
