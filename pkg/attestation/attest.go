package attestation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mnemom/aip/pkg/canon"
	aipcrypto "github.com/mnemom/aip/pkg/crypto"
	"github.com/mnemom/aip/pkg/merkle"
	"github.com/mnemom/aip/pkg/types"
)

// ChainState is the store's view of a (agent, session) chain tip.
type ChainState struct {
	PrevChainHash string
}

// ChainStore resolves and advances the per-(agent,session) chain tip.
// Implementations MUST serialise concurrent advances for the same key
// (see chainlock.go for the in-process primitive; a clustered
// deployment additionally needs this at the storage layer, which is
// the documented known gap — see DESIGN.md).
type ChainStore interface {
	Head(ctx context.Context, agentID, sessionID string) (ChainState, error)
	Advance(ctx context.Context, agentID, sessionID, newChainHash string) error
}

// MerkleStore resolves and appends to the per-agent leaf sequence.
type MerkleStore interface {
	Leaves(ctx context.Context, agentID string) ([]merkle.Leaf, error)
	Append(ctx context.Context, agentID string, leaf merkle.Leaf) (index int, tree *merkle.Tree, err error)
}

// InputCommitmentInputs is the set of analysis inputs committed to
// before the analysis model is even invoked, so the commitment is
// independent of anything the model itself could influence.
type InputCommitmentInputs struct {
	CardJSONCanonical   any
	ConscienceValues    []string
	WindowContextReduced any
	ModelVersion        string
	PromptTemplateVersion string
}

// CommitInputs hashes the canonical encoding of the five-field tuple.
func CommitInputs(in InputCommitmentInputs) (string, error) {
	data, err := canon.Marshal(struct {
		Card               any      `json:"card_json_canonical"`
		ConscienceValues   []string `json:"conscience_values"`
		WindowContext      any      `json:"window_context_reduced"`
		ModelVersion       string   `json:"model_version"`
		PromptTemplateVer  string   `json:"prompt_template_version"`
	}{in.CardJSONCanonical, in.ConscienceValues, in.WindowContextReduced, in.ModelVersion, in.PromptTemplateVersion})
	if err != nil {
		return "", fmt.Errorf("attestation: commit inputs: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Attestor ties signing, chain-linking, and Merkle accumulation
// together into one checkpoint-minting operation.
type Attestor struct {
	Signer      aipcrypto.Signer
	ChainStore  ChainStore
	MerkleStore MerkleStore
	locks       *chainLocks
}

// NewAttestor builds an Attestor. The signer may be nil, in which case
// Attest returns ErrAttestationDisabled (the caller's fail-open wrapper
// treats that as "no certificate on the headers", never a hard error).
func NewAttestor(signer aipcrypto.Signer, chainStore ChainStore, merkleStore MerkleStore) *Attestor {
	return &Attestor{
		Signer:      signer,
		ChainStore:  chainStore,
		MerkleStore: merkleStore,
		locks:       newChainLocks(256),
	}
}

// ErrAttestationDisabled is returned when no signing key is configured.
var ErrAttestationDisabled = fmt.Errorf("attestation: disabled (no signing key configured)")

// Attest mints the certificate for one checkpoint: input commitment,
// chain link, signature, and (best-effort) Merkle append. The Merkle
// append failing does not void the certificate — it only means no
// inclusion proof can be generated yet for this leaf.
func (a *Attestor) Attest(ctx context.Context, checkpoint *types.IntegrityCheckpoint, inputs InputCommitmentInputs) (*types.Certificate, error) {
	if a.Signer == nil {
		return nil, ErrAttestationDisabled
	}

	inputCommitment, err := CommitInputs(inputs)
	if err != nil {
		return nil, err
	}

	timestampISO := checkpoint.Timestamp.UTC().Format(time.RFC3339)

	var cert *types.Certificate
	err = a.locks.WithAgentLock(checkpoint.AgentID, func() error {
		chainState, err := a.ChainStore.Head(ctx, checkpoint.AgentID, checkpoint.SessionID)
		if err != nil {
			return fmt.Errorf("attestation: resolve chain head: %w", err)
		}

		chainHash := LinkChain(chainState.PrevChainHash, checkpoint.CheckpointID, string(checkpoint.Verdict), checkpoint.ThinkingBlockHash, inputCommitment, timestampISO)

		sig, err := a.Signer.SignCheckpoint(aipcrypto.CheckpointSigningPayload{
			CheckpointID:      checkpoint.CheckpointID,
			AgentID:           checkpoint.AgentID,
			Verdict:           string(checkpoint.Verdict),
			ThinkingBlockHash: checkpoint.ThinkingBlockHash,
			InputCommitment:   inputCommitment,
			ChainHash:         chainHash,
			Timestamp:         timestampISO,
		})
		if err != nil {
			return fmt.Errorf("attestation: sign checkpoint: %w", err)
		}

		if err := a.ChainStore.Advance(ctx, checkpoint.AgentID, checkpoint.SessionID, chainHash); err != nil {
			return fmt.Errorf("attestation: advance chain: %w", err)
		}

		leafIndex := -1
		leafHash := merkle.LeafHash(checkpoint.CheckpointID, string(checkpoint.Verdict), checkpoint.ThinkingBlockHash, chainHash, timestampISO)
		if idx, _, err := a.MerkleStore.Append(ctx, checkpoint.AgentID, merkle.Leaf{CheckpointID: checkpoint.CheckpointID, Hash: leafHash}); err == nil {
			leafIndex = idx
		}

		cert = &types.Certificate{
			CertificateID:   "cert-" + uuid.New().String(),
			InputCommitment: inputCommitment,
			ChainHash:       chainHash,
			PrevChainHash:   chainState.PrevChainHash,
			MerkleLeafIndex: leafIndex,
			Signature:       sig,
			SigningKeyID:    a.Signer.KeyID(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return cert, nil
}
