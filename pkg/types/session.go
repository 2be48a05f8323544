package types

import "fmt"

// SessionBucketSeconds bounds sessions at hour boundaries.
const SessionBucketSeconds = 3600

// SessionID derives the session identifier from an agent hash and a
// unix timestamp; sessions are not stored, only derived.
func SessionID(agentHash string, unixSeconds int64) string {
	return fmt.Sprintf("%s-%d", agentHash, unixSeconds/SessionBucketSeconds)
}
