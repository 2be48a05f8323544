package types

import "time"

// WebhookEndpoint is a subscriber's registered delivery target.
type WebhookEndpoint struct {
	EndpointID         string    `json:"endpoint_id"`
	AccountID          string    `json:"account_id"`
	URL                string    `json:"url"`
	Description        string    `json:"description,omitempty"`
	SigningSecret      string    `json:"-"`
	EventTypes         []string  `json:"event_types"`
	IsActive           bool      `json:"is_active"`
	ConsecutiveFailures int      `json:"consecutive_failures"`
	DisabledAt         *time.Time `json:"disabled_at,omitempty"`
	DisabledReason     string    `json:"disabled_reason,omitempty"`
}

// Matches reports whether this endpoint subscribes to eventType; an
// empty EventTypes set means "all events".
func (e *WebhookEndpoint) Matches(eventType string) bool {
	if len(e.EventTypes) == 0 {
		return true
	}
	for _, t := range e.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// WebhookEvent is the payload accumulated for one occurrence and fanned
// out to N deliveries.
type WebhookEvent struct {
	EventID   string         `json:"id"`
	Type      string         `json:"type"`
	AccountID string         `json:"account_id"`
	CreatedAt time.Time      `json:"created_at"`
	Data      map[string]any `json:"data"`
}

// DeliveryStatus is the closed set of states a delivery attempt passes
// through.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryDelivering DeliveryStatus = "delivering"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliveryRetrying   DeliveryStatus = "retrying"
)

// WebhookDelivery tracks one endpoint's attempt history for one event.
type WebhookDelivery struct {
	DeliveryID         string         `json:"delivery_id"`
	EventID            string         `json:"event_id"`
	EndpointID         string         `json:"endpoint_id"`
	Status             DeliveryStatus `json:"status"`
	AttemptCount       int            `json:"attempt_count"`
	MaxAttempts        int            `json:"max_attempts"`
	NextAttemptAt      time.Time      `json:"next_attempt_at"`
	LastAttemptAt      *time.Time     `json:"last_attempt_at,omitempty"`
	LastResponseStatus int            `json:"last_response_status,omitempty"`
	LastResponseBody   string         `json:"last_response_body,omitempty"`
	LastError          string         `json:"last_error,omitempty"`
	LatencyMs          int64          `json:"latency_ms,omitempty"`
}

// NudgeStatus is the closed set of nudge lifecycle states.
type NudgeStatus string

const (
	NudgePending   NudgeStatus = "pending"
	NudgeDelivered NudgeStatus = "delivered"
	NudgeExpired   NudgeStatus = "expired"
)

// NudgeLifetime bounds how long an undelivered nudge remains pending.
const NudgeLifetime = 4 * time.Hour

// Nudge is a server-generated system-prompt injection delivered on an
// agent's next request after a boundary violation.
type Nudge struct {
	NudgeID          string      `json:"nudge_id"`
	AgentID          string      `json:"agent_id"`
	CheckpointID     string      `json:"checkpoint_id"`
	SessionID        string      `json:"session_id"`
	Status           NudgeStatus `json:"status"`
	Content          string      `json:"content"`
	ConcernsSummary  string      `json:"concerns_summary"`
	CreatedAt        time.Time   `json:"created_at"`
	DeliveredAt      *time.Time  `json:"delivered_at,omitempty"`
	ExpiredAt        *time.Time  `json:"expired_at,omitempty"`
}

// Expired reports whether the nudge has outlived NudgeLifetime as of
// now.
func (n *Nudge) Expired(now time.Time) bool {
	return n.Status == NudgePending && now.Sub(n.CreatedAt) > NudgeLifetime
}
