package gateway

import (
	"context"
	"fmt"

	"github.com/mnemom/aip/pkg/cache"
	"github.com/mnemom/aip/pkg/checkpointstore"
	"github.com/mnemom/aip/pkg/types"
)

// RecentVerdictsFetcher adapts checkpointstore.Store's ListByAgent
// into the narrow enforcement.RecentVerdictsFetcher contract the
// auto-containment check needs, so cmd/aip-gateway doesn't have to
// hand-write this mapping itself.
type RecentVerdictsFetcher struct {
	Checkpoints checkpointstore.Store
}

func (f RecentVerdictsFetcher) RecentVerdicts(ctx context.Context, agentID string, n int) ([]types.Verdict, error) {
	checkpoints, err := f.Checkpoints.ListByAgent(ctx, agentID, n)
	if err != nil {
		return nil, fmt.Errorf("gateway: list checkpoints for containment check: %w", err)
	}
	verdicts := make([]types.Verdict, 0, len(checkpoints))
	for _, cp := range checkpoints {
		verdicts = append(verdicts, cp.Verdict)
	}
	return verdicts, nil
}

// AgentUpdater adapts checkpointstore.AgentStore's SetContainment and
// pkg/cache's PurgeQuotaContext into the enforcement.AgentUpdater
// contract, so a just-paused agent's cached quota context can't keep
// admitting requests until TTL expiry.
type AgentUpdater struct {
	Agents checkpointstore.AgentStore
	Cache  *cache.Cache
}

func (u AgentUpdater) Pause(ctx context.Context, agentID, reason string) (types.ContainmentStatus, error) {
	return u.Agents.SetContainment(ctx, agentID, types.ContainmentPaused)
}

func (u AgentUpdater) PurgeQuotaCache(ctx context.Context, agentID string) error {
	if u.Cache == nil {
		return nil
	}
	return u.Cache.PurgeQuotaContext(ctx, agentID)
}
