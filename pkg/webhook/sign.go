package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Sign computes the X-AIP-Signature header value for a delivery body:
// "sha256=v1=" + hex(HMAC-SHA256(secret, timestamp + "." + body)).
// The timestamp is the event's created_at, so no separate timestamp
// header is needed — a verifier recomputes it from the envelope's own
// created_at field.
func Sign(secret string, timestampUnix int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestampUnix, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=v1=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature header against the expected
// value for (secret, timestamp, body), in constant time.
func Verify(secret string, timestampUnix int64, body []byte, signatureHeader string) bool {
	expected := Sign(secret, timestampUnix, body)
	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}

// Delivery headers.
const (
	SignatureHeader = "X-AIP-Signature"
	VersionHeader   = "X-AIP-Version"
)
