// Package enforcement implements nudge creation/injection/expiry and
// auto-containment, both driven by the verdicts the integrity engine
// produces.
package enforcement

import (
	"context"
	"fmt"
	"time"

	"github.com/mnemom/aip/pkg/types"
)

// Strategy is the closed set of nudge-creation policies, evaluated at
// the moment a boundary_violation checkpoint is observed.
type Strategy string

const (
	StrategyAlways    Strategy = "always"
	StrategySampling  Strategy = "sampling"
	StrategyThreshold Strategy = "threshold"
	StrategyOff       Strategy = "off"
)

// MaxNudgesPerRequest bounds how many pending nudges are spliced into
// a single request's system prompt.
const MaxNudgesPerRequest = 5

// Store is the durable home for nudges.
type Store interface {
	Create(ctx context.Context, nudge types.Nudge) error
	PendingForAgent(ctx context.Context, agentID string, now time.Time, limit int) ([]types.Nudge, error)
	MarkDelivered(ctx context.Context, nudgeIDs []string, deliveredAt time.Time) error
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// StrategyParams carries everything a creation decision needs: the
// org/agent's configured strategy and rate, plus how many violations
// have already occurred in the current session (for threshold mode).
type StrategyParams struct {
	Strategy              Strategy
	SamplingRatePercent   float64
	ThresholdViolations   int
	SessionViolationCount int
}

// shouldCreate evaluates a strategy against the current session state.
// rand01 returns a value in [0, 1); callers pass a deterministic stub
// in tests.
func shouldCreate(p StrategyParams, rand01 func() float64) bool {
	switch p.Strategy {
	case StrategyOff:
		return false
	case StrategySampling:
		return rand01() < p.SamplingRatePercent/100.0
	case StrategyThreshold:
		return p.SessionViolationCount >= p.ThresholdViolations
	case StrategyAlways, "":
		return true
	default:
		return true
	}
}

// Manager creates, injects, and expires nudges.
type Manager struct {
	store  Store
	clock  func() time.Time
	rand01 func() float64
}

// NewManager constructs a Manager. rand01 is used only by the
// sampling strategy; pass nil to use a fixed 0, which makes sampling
// deterministic for anything below 100%.
func NewManager(store Store, clock func() time.Time, rand01 func() float64) *Manager {
	if clock == nil {
		clock = time.Now
	}
	if rand01 == nil {
		rand01 = func() float64 { return 0 }
	}
	return &Manager{store: store, clock: clock, rand01: rand01}
}

// OnBoundaryViolation creates a pending nudge for checkpoint if mode
// calls for enforcement and the configured strategy says to fire. It
// returns nil, nil when no nudge was created.
func (m *Manager) OnBoundaryViolation(ctx context.Context, checkpoint types.IntegrityCheckpoint, mode types.EnforcementMode, params StrategyParams) (*types.Nudge, error) {
	if mode != types.EnforcementNudge && mode != types.EnforcementEnforce {
		return nil, nil
	}
	if !shouldCreate(params, m.rand01) {
		return nil, nil
	}

	now := m.clock()
	nudge := types.Nudge{
		NudgeID:         types.NewNudgeID(),
		AgentID:         checkpoint.AgentID,
		CheckpointID:    checkpoint.CheckpointID,
		SessionID:       checkpoint.SessionID,
		Status:          types.NudgePending,
		Content:         renderNudgeContent(checkpoint.Concerns),
		ConcernsSummary: summarizeConcerns(checkpoint.Concerns),
		CreatedAt:       now,
	}
	if err := m.store.Create(ctx, nudge); err != nil {
		return nil, fmt.Errorf("enforcement: create nudge: %w", err)
	}
	return &nudge, nil
}

// PrepareForRequest returns up to MaxNudgesPerRequest pending,
// unexpired nudges for agentID, ready to be spliced into the next
// request's system prompt.
func (m *Manager) PrepareForRequest(ctx context.Context, agentID string) ([]types.Nudge, error) {
	nudges, err := m.store.PendingForAgent(ctx, agentID, m.clock(), MaxNudgesPerRequest)
	if err != nil {
		return nil, fmt.Errorf("enforcement: fetch pending nudges: %w", err)
	}
	if len(nudges) > MaxNudgesPerRequest {
		nudges = nudges[:MaxNudgesPerRequest]
	}
	return nudges, nil
}

// MarkDelivered marks nudgeIDs delivered after a successful forward.
// Call sites treat failures here as best-effort: a nudge that fails to
// be marked delivered will simply be redelivered next request, which
// is harmless since its content is generic.
func (m *Manager) MarkDelivered(ctx context.Context, nudgeIDs []string) error {
	if len(nudgeIDs) == 0 {
		return nil
	}
	return m.store.MarkDelivered(ctx, nudgeIDs, m.clock())
}

// SweepExpired transitions pending nudges older than types.NudgeLifetime
// to expired. Intended to run on a periodic background tick.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	return m.store.SweepExpired(ctx, m.clock())
}

// RenderedNotices joins nudge content into the PII-free strings handed
// to a provider adapter's InjectNudges.
func RenderedNotices(nudges []types.Nudge) []string {
	notices := make([]string, 0, len(nudges))
	for _, n := range nudges {
		notices = append(notices, n.Content)
	}
	return notices
}

func renderNudgeContent(concerns []types.Concern) string {
	if len(concerns) == 0 {
		return "A previous response in this session was flagged for review. Please proceed carefully and stay within your declared role and boundaries."
	}
	return fmt.Sprintf(
		"A previous response in this session raised a %s-category concern. Please proceed carefully and stay within your declared role and boundaries.",
		concerns[0].Category,
	)
}

func summarizeConcerns(concerns []types.Concern) string {
	if len(concerns) == 0 {
		return "boundary violation"
	}
	return fmt.Sprintf("%d concern(s), most severe: %s/%s", len(concerns), concerns[0].Category, concerns[0].Severity)
}
