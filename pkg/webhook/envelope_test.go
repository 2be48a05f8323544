package webhook

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewEnvelope_PopulatesFields(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	env := NewEnvelope(EventCheckpointCreated, "acct-1", map[string]any{"checkpoint_id": "ckpt-1"}, now)

	require.NotEmpty(t, env.ID)
	require.Equal(t, EventCheckpointCreated, env.Type)
	require.Equal(t, "acct-1", env.AccountID)
	require.Equal(t, now, env.CreatedAt)
	require.Equal(t, "ckpt-1", env.Data["checkpoint_id"])
}

func TestEnvelope_MarshalRoundTrips(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	env := NewEnvelope(EventNudgeCreated, "acct-2", map[string]any{"nudge_id": "nud-1"}, now)

	body, err := env.Marshal()
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Equal(t, env.ID, decoded.ID)
	require.Equal(t, env.Type, decoded.Type)
	require.True(t, env.CreatedAt.Equal(decoded.CreatedAt))
}
