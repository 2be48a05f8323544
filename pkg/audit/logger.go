// Package audit writes an append-only JSON-lines trail of the
// pipeline's own governance actions — auto-containment, endpoint
// auto-disable, policy denials — distinct from the integrity
// checkpoints themselves, which pkg/checkpointstore owns.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mnemom/aip/pkg/enforcement"
)

// EventType categorizes an audit record.
type EventType string

const (
	EventAccess   EventType = "ACCESS"
	EventMutation EventType = "MUTATION"
	EventSystem   EventType = "SYSTEM"
	EventPolicy   EventType = "POLICY"
)

// Event is a structured audit record, written one per line.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Action     string         `json:"action"`
	Actor      string         `json:"actor"`
	AgentID    string         `json:"agent_id,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Logger is the general-purpose sink any component can record
// structured events through.
type Logger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewLogger writes to os.Stdout.
func NewLogger() *Logger { return NewLoggerWithWriter(os.Stdout) }

// NewLoggerWithWriter writes to w, substitutable for tests and custom
// sinks (a file, an aggregator).
func NewLoggerWithWriter(w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{writer: w}
}

func (l *Logger) record(e Event) error {
	e.ID = uuid.New().String()
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.writer.Write(append(data, '\n'))
	return err
}

// Log records a general-purpose event outside the
// enforcement.AuditRecorder contract — used for policy denials and
// access events.
func (l *Logger) Log(ctx context.Context, eventType EventType, action, actor string, metadata map[string]any) error {
	return l.record(Event{Type: eventType, Action: action, Actor: actor, Metadata: metadata})
}

// Record implements enforcement.AuditRecorder, the narrow interface
// auto-containment writes through.
func (l *Logger) Record(ctx context.Context, entry enforcement.AuditEntry) error {
	return l.record(Event{
		Type:    EventSystem,
		Action:  entry.Action,
		Actor:   entry.Actor,
		AgentID: entry.AgentID,
		Reason:  entry.Reason,
		Metadata: map[string]any{
			"previous_status": entry.PreviousStatus,
			"new_status":      entry.NewStatus,
		},
		OccurredAt: entry.OccurredAt,
	})
}

var _ enforcement.AuditRecorder = (*Logger)(nil)
