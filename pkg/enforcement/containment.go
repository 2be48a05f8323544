package enforcement

import (
	"context"
	"fmt"
	"time"

	"github.com/mnemom/aip/pkg/types"
)

// AuditEntry is the minimal audit record auto-containment writes.
// It is shaped to match what pkg/audit persists, without importing
// that package and risking a cycle.
type AuditEntry struct {
	Action           string    `json:"action"`
	Actor            string    `json:"actor"`
	Reason           string    `json:"reason"`
	AgentID          string    `json:"agent_id"`
	PreviousStatus   string    `json:"previous_status"`
	NewStatus        string    `json:"new_status"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// RecentVerdictsFetcher returns the N most recent checkpoint verdicts
// for agentID, most recent first.
type RecentVerdictsFetcher interface {
	RecentVerdicts(ctx context.Context, agentID string, n int) ([]types.Verdict, error)
}

// AgentUpdater applies the containment transition and purges any
// cached quota context so the next request observes the new status
// immediately.
type AgentUpdater interface {
	Pause(ctx context.Context, agentID string, reason string) (previousStatus types.ContainmentStatus, err error)
	PurgeQuotaCache(ctx context.Context, agentID string) error
}

// AuditRecorder persists AuditEntry records.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// Containment evaluates and applies auto-containment: if an agent's
// AutoContainmentThreshold most recent checkpoints are all
// boundary_violation, it transitions the agent to paused.
type Containment struct {
	verdicts RecentVerdictsFetcher
	agents   AgentUpdater
	audit    AuditRecorder
	clock    func() time.Time
}

func NewContainment(verdicts RecentVerdictsFetcher, agents AgentUpdater, audit AuditRecorder, clock func() time.Time) *Containment {
	if clock == nil {
		clock = time.Now
	}
	return &Containment{verdicts: verdicts, agents: agents, audit: audit, clock: clock}
}

// Evaluate checks agentID's recent history against threshold and, if
// triggered, pauses the agent. It returns whether containment fired.
// A nil or zero threshold means auto-containment is disabled for this
// agent, and Evaluate is a no-op.
func (c *Containment) Evaluate(ctx context.Context, agentID string, threshold *int) (bool, error) {
	if threshold == nil || *threshold <= 0 {
		return false, nil
	}
	n := *threshold

	recent, err := c.verdicts.RecentVerdicts(ctx, agentID, n)
	if err != nil {
		return false, fmt.Errorf("enforcement: fetch recent verdicts: %w", err)
	}
	if len(recent) < n {
		return false, nil
	}
	for _, v := range recent {
		if v != types.VerdictBoundaryViolation {
			return false, nil
		}
	}

	previousStatus, err := c.agents.Pause(ctx, agentID, "auto_containment_threshold_reached")
	if err != nil {
		return false, fmt.Errorf("enforcement: pause agent: %w", err)
	}

	if c.audit != nil {
		_ = c.audit.Record(ctx, AuditEntry{
			Action:         "auto_pause",
			Actor:          "system",
			Reason:         fmt.Sprintf("%d consecutive boundary_violation checkpoints", n),
			AgentID:        agentID,
			PreviousStatus: string(previousStatus),
			NewStatus:      string(types.ContainmentPaused),
			OccurredAt:     c.clock(),
		})
	}

	if err := c.agents.PurgeQuotaCache(ctx, agentID); err != nil {
		return true, fmt.Errorf("enforcement: purge quota cache after auto-containment: %w", err)
	}

	return true, nil
}
