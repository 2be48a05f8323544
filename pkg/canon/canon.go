// Package canon provides canonical JSON encoding for anything that
// gets hashed or signed downstream: input commitments, chain-link
// signing payloads, and alignment-card comparisons all need a stable
// byte representation that is independent of map iteration order or
// incidental whitespace.
package canon

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Marshal produces the RFC 8785 JSON Canonicalization Scheme encoding
// of v: keys sorted lexicographically, no insignificant whitespace, no
// trailing newline.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canon: transform: %w", err)
	}
	return out, nil
}

// MarshalString is Marshal with a string result for call sites that
// want to fold the canonical form directly into a hash input.
func MarshalString(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
