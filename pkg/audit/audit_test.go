package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemom/aip/pkg/audit"
	"github.com/mnemom/aip/pkg/enforcement"
)

func TestLogger_Log_WritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	err := logger.Log(context.Background(), audit.EventAccess, "login", "api-key-hash", nil)
	require.NoError(t, err)

	var event audit.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &event))

	assert.Equal(t, audit.EventAccess, event.Type)
	assert.Equal(t, "login", event.Action)
	assert.Equal(t, "api-key-hash", event.Actor)
	assert.NotEmpty(t, event.ID)
	assert.Len(t, event.ID, 36)
}

func TestLogger_Log_WithMetadata(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	meta := map[string]any{"ip": "10.0.0.1"}
	require.NoError(t, logger.Log(context.Background(), audit.EventMutation, "deploy", "system", meta))

	var event audit.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &event))
	assert.Equal(t, "10.0.0.1", event.Metadata["ip"])
}

func TestLogger_Record_ImplementsAuditRecorder(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	err := logger.Record(context.Background(), enforcement.AuditEntry{
		Action:         "auto_pause",
		Actor:          "system",
		Reason:         "3 consecutive boundary_violation checkpoints",
		AgentID:        "smolt-abc12345",
		PreviousStatus: "active",
		NewStatus:      "paused",
		OccurredAt:     time.Now().UTC(),
	})
	require.NoError(t, err)

	var event audit.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &event))
	assert.Equal(t, "smolt-abc12345", event.AgentID)
	assert.Equal(t, "paused", event.Metadata["new_status"])
}
