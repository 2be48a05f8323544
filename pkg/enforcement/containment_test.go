package enforcement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemom/aip/pkg/types"
)

type fakeVerdictFetcher struct {
	verdicts []types.Verdict
}

func (f *fakeVerdictFetcher) RecentVerdicts(ctx context.Context, agentID string, n int) ([]types.Verdict, error) {
	if n > len(f.verdicts) {
		return f.verdicts, nil
	}
	return f.verdicts[:n], nil
}

type fakeAgentUpdater struct {
	paused      []string
	purged      []string
	prevStatus  types.ContainmentStatus
}

func (f *fakeAgentUpdater) Pause(ctx context.Context, agentID, reason string) (types.ContainmentStatus, error) {
	f.paused = append(f.paused, agentID)
	return f.prevStatus, nil
}
func (f *fakeAgentUpdater) PurgeQuotaCache(ctx context.Context, agentID string) error {
	f.purged = append(f.purged, agentID)
	return nil
}

type fakeAuditRecorder struct {
	entries []AuditEntry
}

func (f *fakeAuditRecorder) Record(ctx context.Context, e AuditEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func intPtr(v int) *int { return &v }

func TestContainment_Evaluate_TriggersOnAllViolations(t *testing.T) {
	verdicts := &fakeVerdictFetcher{verdicts: []types.Verdict{
		types.VerdictBoundaryViolation, types.VerdictBoundaryViolation, types.VerdictBoundaryViolation,
	}}
	agents := &fakeAgentUpdater{prevStatus: types.ContainmentActive}
	audit := &fakeAuditRecorder{}
	c := NewContainment(verdicts, agents, audit, nil)

	triggered, err := c.Evaluate(context.Background(), "agent_abc", intPtr(3))
	require.NoError(t, err)
	assert.True(t, triggered)
	assert.Equal(t, []string{"agent_abc"}, agents.paused)
	assert.Equal(t, []string{"agent_abc"}, agents.purged)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, "auto_pause", audit.entries[0].Action)
	assert.Equal(t, "system", audit.entries[0].Actor)
	assert.Equal(t, string(types.ContainmentActive), audit.entries[0].PreviousStatus)
	assert.Equal(t, string(types.ContainmentPaused), audit.entries[0].NewStatus)
}

func TestContainment_Evaluate_NotTriggeredOnMixedVerdicts(t *testing.T) {
	verdicts := &fakeVerdictFetcher{verdicts: []types.Verdict{
		types.VerdictBoundaryViolation, types.VerdictClear, types.VerdictBoundaryViolation,
	}}
	agents := &fakeAgentUpdater{}
	c := NewContainment(verdicts, agents, nil, nil)

	triggered, err := c.Evaluate(context.Background(), "agent_abc", intPtr(3))
	require.NoError(t, err)
	assert.False(t, triggered)
	assert.Empty(t, agents.paused)
}

func TestContainment_Evaluate_NilThresholdIsNoop(t *testing.T) {
	c := NewContainment(&fakeVerdictFetcher{}, &fakeAgentUpdater{}, nil, nil)
	triggered, err := c.Evaluate(context.Background(), "agent_abc", nil)
	require.NoError(t, err)
	assert.False(t, triggered)
}

func TestContainment_Evaluate_InsufficientHistoryIsNoop(t *testing.T) {
	verdicts := &fakeVerdictFetcher{verdicts: []types.Verdict{types.VerdictBoundaryViolation}}
	c := NewContainment(verdicts, &fakeAgentUpdater{}, nil, nil)

	triggered, err := c.Evaluate(context.Background(), "agent_abc", intPtr(3))
	require.NoError(t, err)
	assert.False(t, triggered)
}

func TestContainment_Evaluate_UsesInjectedClock(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	verdicts := &fakeVerdictFetcher{verdicts: []types.Verdict{types.VerdictBoundaryViolation}}
	audit := &fakeAuditRecorder{}
	c := NewContainment(verdicts, &fakeAgentUpdater{}, audit, func() time.Time { return fixed })

	_, err := c.Evaluate(context.Background(), "agent_abc", intPtr(1))
	require.NoError(t, err)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, fixed, audit.entries[0].OccurredAt)
}
