package alignmentcard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemom/aip/pkg/types"
)

func TestMemStore_SetAgentCard_AllowsUpgrade(t *testing.T) {
	s := NewMemStore(types.AlignmentCard{})
	require.NoError(t, s.SetAgentCard("agent_1", types.AlignmentCard{CardID: "card_v1", SchemaVersion: "1.0.0"}))
	require.NoError(t, s.SetAgentCard("agent_1", types.AlignmentCard{CardID: "card_v2", SchemaVersion: "1.1.0"}))

	card, ok, err := s.AgentCard(t.Context(), "agent_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "card_v2", card.CardID)
}

func TestMemStore_SetAgentCard_RejectsDowngrade(t *testing.T) {
	s := NewMemStore(types.AlignmentCard{})
	require.NoError(t, s.SetAgentCard("agent_1", types.AlignmentCard{CardID: "card_v2", SchemaVersion: "2.0.0"}))

	err := s.SetAgentCard("agent_1", types.AlignmentCard{CardID: "card_v1", SchemaVersion: "1.0.0"})
	require.Error(t, err)

	card, ok, err := s.AgentCard(t.Context(), "agent_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "card_v2", card.CardID, "rejected downgrade must not mutate the active card")
}

func TestMemStore_SetAgentCard_SkipsCheckWhenVersionUnset(t *testing.T) {
	s := NewMemStore(types.AlignmentCard{})
	require.NoError(t, s.SetAgentCard("agent_1", types.AlignmentCard{CardID: "card_a"}))
	require.NoError(t, s.SetAgentCard("agent_1", types.AlignmentCard{CardID: "card_b"}))

	card, ok, err := s.AgentCard(t.Context(), "agent_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "card_b", card.CardID)
}
