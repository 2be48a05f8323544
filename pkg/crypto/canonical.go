package crypto

import (
	"fmt"

	"github.com/mnemom/aip/pkg/canon"
)

// Signature components separators and prefixes.
const (
	SigSeparator     = ":"
	SigPrefixEd25519 = "ed25519"
)

// canonicalPayload produces the RFC 8785 canonical encoding of a
// checkpoint signing payload, delegating to pkg/canon rather than a
// hand-rolled JCS approximation.
func canonicalPayload(payload CheckpointSigningPayload) ([]byte, error) {
	data, err := canon.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("crypto: canonicalize signing payload: %w", err)
	}
	return data, nil
}
