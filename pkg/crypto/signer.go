// Package crypto signs and verifies integrity checkpoints with
// Ed25519, and canonicalizes the fields that go into a chain hash or a
// signature.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Signer is implemented by anything that can produce and verify
// checkpoint signatures. A process normally holds exactly one active
// signer; SigningKeyID lets verifiers locate the right public key
// after a rotation.
type Signer interface {
	Sign(data []byte) (string, error)
	PublicKey() string
	PublicKeyBytes() []byte
	KeyID() string
	SignCheckpoint(payload CheckpointSigningPayload) (signature string, err error)
	VerifyCheckpoint(payload CheckpointSigningPayload, signature string) (bool, error)
}

// Ed25519Signer is the only Signer implementation; no third-party
// Ed25519 package improves on the standard library's.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	keyID   string
}

// NewEd25519Signer generates a fresh keypair under keyID.
func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub, keyID: keyID}, nil
}

// NewEd25519SignerFromKey wraps an existing private key, e.g. one
// unwrapped from the KMS keystore at startup.
func NewEd25519SignerFromKey(priv ed25519.PrivateKey, keyID string) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		keyID:   keyID,
	}
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	return hex.EncodeToString(ed25519.Sign(s.privKey, data)), nil
}

func (s *Ed25519Signer) PublicKey() string      { return hex.EncodeToString(s.pubKey) }
func (s *Ed25519Signer) PublicKeyBytes() []byte { return s.pubKey }
func (s *Ed25519Signer) KeyID() string          { return s.keyID }

// Verify checks a hex signature against a hex public key over data.
func Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("crypto: invalid public key hex: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("crypto: invalid signature hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("crypto: invalid public key size %d", len(pubKey))
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}

// CheckpointSigningPayload is the canonical byte sequence signed over
// each checkpoint: {checkpoint_id, agent_id, verdict, thinking_block_hash,
// input_commitment, chain_hash, timestamp}.
type CheckpointSigningPayload struct {
	CheckpointID      string `json:"checkpoint_id"`
	AgentID           string `json:"agent_id"`
	Verdict           string `json:"verdict"`
	ThinkingBlockHash string `json:"thinking_block_hash"`
	InputCommitment   string `json:"input_commitment"`
	ChainHash         string `json:"chain_hash"`
	Timestamp         string `json:"timestamp"`
}

// SignCheckpoint signs the canonical encoding of payload.
func (s *Ed25519Signer) SignCheckpoint(payload CheckpointSigningPayload) (string, error) {
	data, err := canonicalPayload(payload)
	if err != nil {
		return "", err
	}
	return s.Sign(data)
}

// VerifyCheckpoint verifies a checkpoint signature produced by
// SignCheckpoint against this signer's own public key.
func (s *Ed25519Signer) VerifyCheckpoint(payload CheckpointSigningPayload, signature string) (bool, error) {
	data, err := canonicalPayload(payload)
	if err != nil {
		return false, err
	}
	return Verify(s.PublicKey(), signature, data)
}
