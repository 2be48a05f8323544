package attestation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aipcrypto "github.com/mnemom/aip/pkg/crypto"
	"github.com/mnemom/aip/pkg/merkle"
	"github.com/mnemom/aip/pkg/types"
)

func TestAttestor_ChainContinuity(t *testing.T) {
	signer, err := aipcrypto.NewEd25519Signer("key-1")
	require.NoError(t, err)

	store := NewMemStore()
	attestor := NewAttestor(signer, store, store)

	agentID := "smolt-deadbeef"
	sessionID := "deadbeef-1234"

	var prevChainHash string
	for i := 0; i < 5; i++ {
		cp := &types.IntegrityCheckpoint{
			CheckpointID:      types.NewCheckpointID(),
			AgentID:           agentID,
			SessionID:         sessionID,
			Timestamp:         time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
			Verdict:           types.VerdictClear,
			ThinkingBlockHash: "thinkhash",
		}

		cert, err := attestor.Attest(context.Background(), cp, InputCommitmentInputs{ModelVersion: "v1"})
		require.NoError(t, err)

		err = VerifyChainLink(prevChainHash, cp.CheckpointID, string(cp.Verdict), cp.ThinkingBlockHash, cert.InputCommitment, cp.Timestamp.UTC().Format(time.RFC3339), cert.ChainHash)
		assert.NoError(t, err, "checkpoint %d", i)

		ok, err := signer.VerifyCheckpoint(aipcrypto.CheckpointSigningPayload{
			CheckpointID:      cp.CheckpointID,
			AgentID:           cp.AgentID,
			Verdict:           string(cp.Verdict),
			ThinkingBlockHash: cp.ThinkingBlockHash,
			InputCommitment:   cert.InputCommitment,
			ChainHash:         cert.ChainHash,
			Timestamp:         cp.Timestamp.UTC().Format(time.RFC3339),
		}, cert.Signature)
		require.NoError(t, err)
		assert.True(t, ok)

		prevChainHash = cert.ChainHash
	}

	leaves, err := store.Leaves(context.Background(), agentID)
	require.NoError(t, err)
	require.Len(t, leaves, 5)

	tree := merkle.Build(leaves)
	for i := range leaves {
		proof, err := tree.Prove(i)
		require.NoError(t, err)
		assert.True(t, merkle.Verify(proof, tree.Root))
	}
}

func TestAttestor_DisabledWithoutSigner(t *testing.T) {
	store := NewMemStore()
	attestor := NewAttestor(nil, store, store)

	_, err := attestor.Attest(context.Background(), &types.IntegrityCheckpoint{AgentID: "a", SessionID: "s"}, InputCommitmentInputs{})
	assert.ErrorIs(t, err, ErrAttestationDisabled)
}
