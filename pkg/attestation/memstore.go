package attestation

import (
	"context"
	"sync"

	"github.com/mnemom/aip/pkg/merkle"
)

// MemStore is an in-process ChainStore and MerkleStore, used by tests
// and by single-instance deployments that don't need a database-backed
// chain (cmd/aip-gateway wires it in for both database drivers).
type MemStore struct {
	mu     sync.Mutex
	chains map[string]string // "agent|session" -> prev_chain_hash
	leaves map[string][]merkle.Leaf
}

func NewMemStore() *MemStore {
	return &MemStore{
		chains: make(map[string]string),
		leaves: make(map[string][]merkle.Leaf),
	}
}

func (m *MemStore) Head(_ context.Context, agentID, sessionID string) (ChainState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ChainState{PrevChainHash: m.chains[agentID+"|"+sessionID]}, nil
}

func (m *MemStore) Advance(_ context.Context, agentID, sessionID, newChainHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains[agentID+"|"+sessionID] = newChainHash
	return nil
}

func (m *MemStore) Leaves(_ context.Context, agentID string) ([]merkle.Leaf, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]merkle.Leaf{}, m.leaves[agentID]...), nil
}

func (m *MemStore) Append(_ context.Context, agentID string, leaf merkle.Leaf) (int, *merkle.Tree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaves[agentID] = append(m.leaves[agentID], leaf)
	tree := merkle.Build(m.leaves[agentID])
	return len(m.leaves[agentID]) - 1, tree, nil
}
