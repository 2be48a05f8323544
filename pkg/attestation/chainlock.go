package attestation

import (
	"hash/fnv"
	"sync"
)

// chainLocks serialises the read-prev/compute/append sequence for the
// hash chain and Merkle accumulator of a single agent, realising the
// single-writer-per-agent primitive in a single process. A striped
// lock set avoids holding one global mutex across unrelated agents
// while keeping the map itself bounded.
type chainLocks struct {
	stripes []sync.Mutex
}

func newChainLocks(stripeCount int) *chainLocks {
	if stripeCount <= 0 {
		stripeCount = 256
	}
	return &chainLocks{stripes: make([]sync.Mutex, stripeCount)}
}

func (c *chainLocks) lockFor(agentID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(agentID))
	return &c.stripes[h.Sum32()%uint32(len(c.stripes))]
}

// WithAgentLock runs fn while holding the stripe for agentID, so two
// concurrent chain/Merkle appends for the same agent are linearised.
// Different agents may proceed concurrently on different stripes (and,
// rarely, share a stripe without conflicting).
func (c *chainLocks) WithAgentLock(agentID string, fn func() error) error {
	mu := c.lockFor(agentID)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}
