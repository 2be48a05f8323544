// Package alignmentcard resolves the org and per-agent alignment cards
// the gateway merges before running policy and integrity checks.
package alignmentcard

import (
	"context"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/mnemom/aip/pkg/types"
)

// Store resolves the org-level card and, when one has been declared,
// the per-agent card it is merged with via types.MergeCards.
type Store interface {
	OrgCard(ctx context.Context) (types.AlignmentCard, error)
	AgentCard(ctx context.Context, agentID string) (*types.AlignmentCard, bool, error)
}

// MemStore is an in-process Store: one fixed org card plus a registry
// of per-agent cards. It is sufficient for a single-process gateway
// deployment; a clustered deployment wires a database-backed Store
// implementing the same interface instead.
type MemStore struct {
	mu    sync.RWMutex
	org   types.AlignmentCard
	agent map[string]types.AlignmentCard
}

func NewMemStore(org types.AlignmentCard) *MemStore {
	return &MemStore{org: org, agent: make(map[string]types.AlignmentCard)}
}

func (s *MemStore) OrgCard(ctx context.Context) (types.AlignmentCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.org, nil
}

func (s *MemStore) AgentCard(ctx context.Context, agentID string) (*types.AlignmentCard, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	card, ok := s.agent[agentID]
	if !ok {
		return nil, false, nil
	}
	return &card, true, nil
}

// SetAgentCard registers or replaces agentID's declared card. If both
// the incoming and currently-active card declare a SchemaVersion, the
// incoming one must not be a downgrade — an agent's effective alignment
// constraints must never silently regress to an older, laxer
// declaration.
func (s *MemStore) SetAgentCard(agentID string, card types.AlignmentCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.agent[agentID]; ok && existing.SchemaVersion != "" && card.SchemaVersion != "" {
		current, err := semver.NewVersion(existing.SchemaVersion)
		if err != nil {
			return fmt.Errorf("alignmentcard: parse current schema_version %q: %w", existing.SchemaVersion, err)
		}
		next, err := semver.NewVersion(card.SchemaVersion)
		if err != nil {
			return fmt.Errorf("alignmentcard: parse incoming schema_version %q: %w", card.SchemaVersion, err)
		}
		if next.LessThan(current) {
			return fmt.Errorf("alignmentcard: refusing to downgrade agent %s from schema_version %s to %s", agentID, existing.SchemaVersion, card.SchemaVersion)
		}
	}

	card.AgentID = agentID
	s.agent[agentID] = card
	return nil
}

// Resolve merges the org card with agentID's declared card, if any.
func Resolve(ctx context.Context, store Store, agentID string) (types.AlignmentCard, error) {
	org, err := store.OrgCard(ctx)
	if err != nil {
		return types.AlignmentCard{}, err
	}
	agentCard, ok, err := store.AgentCard(ctx, agentID)
	if err != nil {
		return types.AlignmentCard{}, err
	}
	if !ok {
		return org, nil
	}
	return *types.MergeCards(&org, agentCard), nil
}
