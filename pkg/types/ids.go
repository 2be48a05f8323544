// Package types defines the data model shared across the integrity
// pipeline: agents, alignment cards, checkpoints, the attestation chain,
// webhooks, and nudges.
package types

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const randIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randSegment returns an n-character random identifier segment drawn
// from [a-z0-9]. Collisions are possible but negligible at the lengths
// used here; every consumer upserts by ID rather than assuming
// uniqueness.
func randSegment(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("types: read random bytes: %w", err))
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = randIDAlphabet[int(b)%len(randIDAlphabet)]
	}
	return string(out)
}

// AgentHash returns the first n hex characters of SHA-256(apiKey).
func AgentHash(apiKey string, n int) string {
	sum := sha256.Sum256([]byte(apiKey))
	h := hex.EncodeToString(sum[:])
	if n > len(h) {
		n = len(h)
	}
	return h[:n]
}

// NewAgentID derives the smolt-<hash8> identifier for an API key.
func NewAgentID(apiKey string) string {
	return "smolt-" + AgentHash(apiKey, 8)
}

func NewAlignmentCardID() string   { return "ac-" + randSegment(10) }
func NewCheckpointID() string      { return "ic-" + randSegment(8) }
func NewTraceID() string           { return "tr-" + randSegment(8) }
func NewWebhookEventID() string    { return "evt-" + randSegment(8) }
func NewWebhookEndpointID() string { return "whe-" + randSegment(8) }
func NewWebhookDeliveryID() string { return "whd-" + randSegment(8) }
func NewNudgeID() string           { return "nudge-" + randSegment(8) }
func NewDeliveryRowID() string     { return "del-" + randSegment(12) }
func NewUsageEventID() string      { return "ue-" + randSegment(8) }
func NewMeterEventID() string      { return "me-" + randSegment(8) }
