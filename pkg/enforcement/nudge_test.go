package enforcement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemom/aip/pkg/types"
)

type fakeNudgeStore struct {
	created   []types.Nudge
	pending   []types.Nudge
	delivered []string
	swept     int
}

func (f *fakeNudgeStore) Create(ctx context.Context, n types.Nudge) error {
	f.created = append(f.created, n)
	f.pending = append(f.pending, n)
	return nil
}
func (f *fakeNudgeStore) PendingForAgent(ctx context.Context, agentID string, now time.Time, limit int) ([]types.Nudge, error) {
	if limit < len(f.pending) {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}
func (f *fakeNudgeStore) MarkDelivered(ctx context.Context, ids []string, at time.Time) error {
	f.delivered = append(f.delivered, ids...)
	return nil
}
func (f *fakeNudgeStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	return f.swept, nil
}

func violationCheckpoint() types.IntegrityCheckpoint {
	return types.IntegrityCheckpoint{
		CheckpointID: "chk_1",
		AgentID:      "agent_abc",
		SessionID:    "agent_abc-1000",
		Verdict:      types.VerdictBoundaryViolation,
		Concerns: []types.Concern{
			{Category: "deception", Severity: types.SeverityHigh, Description: "misrepresented capability"},
		},
	}
}

func TestManager_OnBoundaryViolation_ObserveModeNeverNudges(t *testing.T) {
	store := &fakeNudgeStore{}
	m := NewManager(store, nil, nil)

	nudge, err := m.OnBoundaryViolation(context.Background(), violationCheckpoint(), types.EnforcementObserve, StrategyParams{Strategy: StrategyAlways})
	require.NoError(t, err)
	assert.Nil(t, nudge)
	assert.Empty(t, store.created)
}

func TestManager_OnBoundaryViolation_AlwaysStrategyCreatesNudge(t *testing.T) {
	store := &fakeNudgeStore{}
	m := NewManager(store, nil, nil)

	nudge, err := m.OnBoundaryViolation(context.Background(), violationCheckpoint(), types.EnforcementEnforce, StrategyParams{Strategy: StrategyAlways})
	require.NoError(t, err)
	require.NotNil(t, nudge)
	assert.Equal(t, types.NudgePending, nudge.Status)
	assert.Contains(t, nudge.Content, "deception")
}

func TestManager_OnBoundaryViolation_OffStrategySuppresses(t *testing.T) {
	store := &fakeNudgeStore{}
	m := NewManager(store, nil, nil)

	nudge, err := m.OnBoundaryViolation(context.Background(), violationCheckpoint(), types.EnforcementNudge, StrategyParams{Strategy: StrategyOff})
	require.NoError(t, err)
	assert.Nil(t, nudge)
}

func TestManager_OnBoundaryViolation_ThresholdStrategyRequiresEnoughViolations(t *testing.T) {
	store := &fakeNudgeStore{}
	m := NewManager(store, nil, nil)

	params := StrategyParams{Strategy: StrategyThreshold, ThresholdViolations: 3, SessionViolationCount: 2}
	nudge, err := m.OnBoundaryViolation(context.Background(), violationCheckpoint(), types.EnforcementNudge, params)
	require.NoError(t, err)
	assert.Nil(t, nudge)

	params.SessionViolationCount = 3
	nudge, err = m.OnBoundaryViolation(context.Background(), violationCheckpoint(), types.EnforcementNudge, params)
	require.NoError(t, err)
	assert.NotNil(t, nudge)
}

func TestManager_OnBoundaryViolation_SamplingStrategyRespectsRate(t *testing.T) {
	store := &fakeNudgeStore{}
	calls := 0
	rand01 := func() float64 {
		vals := []float64{0.1, 0.9}
		v := vals[calls%len(vals)]
		calls++
		return v
	}
	m := NewManager(store, nil, rand01)

	params := StrategyParams{Strategy: StrategySampling, SamplingRatePercent: 50}
	nudgeA, err := m.OnBoundaryViolation(context.Background(), violationCheckpoint(), types.EnforcementNudge, params)
	require.NoError(t, err)
	assert.NotNil(t, nudgeA, "rand01=0.1 is below 50%% rate, should fire")

	nudgeB, err := m.OnBoundaryViolation(context.Background(), violationCheckpoint(), types.EnforcementNudge, params)
	require.NoError(t, err)
	assert.Nil(t, nudgeB, "rand01=0.9 is above 50%% rate, should not fire")
}

func TestManager_PrepareForRequest_CapsAtFive(t *testing.T) {
	store := &fakeNudgeStore{}
	for i := 0; i < 8; i++ {
		store.pending = append(store.pending, types.Nudge{NudgeID: "n"})
	}
	m := NewManager(store, nil, nil)

	nudges, err := m.PrepareForRequest(context.Background(), "agent_abc")
	require.NoError(t, err)
	assert.Len(t, nudges, MaxNudgesPerRequest)
}

func TestManager_MarkDelivered_EmptyIsNoop(t *testing.T) {
	store := &fakeNudgeStore{}
	m := NewManager(store, nil, nil)
	require.NoError(t, m.MarkDelivered(context.Background(), nil))
	assert.Empty(t, store.delivered)
}

func TestRenderedNotices(t *testing.T) {
	notices := RenderedNotices([]types.Nudge{{Content: "a"}, {Content: "b"}})
	assert.Equal(t, []string{"a", "b"}, notices)
}
