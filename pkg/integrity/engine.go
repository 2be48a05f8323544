package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/mnemom/aip/pkg/observability"
	"github.com/mnemom/aip/pkg/types"
)

// EngineConfig bundles the tunables the engine applies uniformly
// across all agents. Per-agent/per-org conscience values are supplied
// per call via EvaluateParams, not here.
type EngineConfig struct {
	Window WindowConfig
	// AnalysisModel labels the analysis span with the model doing the
	// judging, distinct from EvaluateParams.Model which names the
	// model whose output is being judged.
	AnalysisModel string
}

// DefaultEngineConfig matches the pipeline's fixed defaults.
var DefaultEngineConfig = EngineConfig{Window: DefaultWindowConfig}

// Engine ties conscience resolution, prompt construction, the analysis
// model call, verdict parsing, and the per-session sliding window and
// drift detector into one operation per interaction.
type Engine struct {
	client AnalysisClient
	cfg    EngineConfig

	mu       sync.Mutex
	windows  map[string]*Window
}

// NewEngine constructs an Engine backed by client. client may be nil,
// in which case Evaluate always fails open with a synthetic clear
// verdict — this lets the gateway run with integrity analysis disabled
// without special-casing callers.
func NewEngine(client AnalysisClient, cfg EngineConfig) *Engine {
	return &Engine{client: client, cfg: cfg, windows: make(map[string]*Window)}
}

func (e *Engine) windowFor(sessionID string) *Window {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.windows[sessionID]
	if !ok {
		w = NewWindow(e.cfg.Window)
		e.windows[sessionID] = w
	}
	return w
}

// EvaluateParams is everything one checkpoint evaluation needs.
type EvaluateParams struct {
	AgentID          string
	CardID           string
	SessionID        string
	Provider         string
	Model            string
	ThinkingBlock    string
	CardSummary      string
	OrgConscience    *OrgConscienceConfig
	AgentConscience  []string
	TaskContext      TaskContext
	Source           types.CheckpointSource
}

// Evaluate runs one thinking block through the integrity engine: it
// resolves conscience values, builds the analysis prompt, calls the
// analysis model, parses the verdict, pushes the result onto the
// session's sliding window, and returns the full signal including the
// recommended action. It never returns an error for analysis failures
// — those fail open into a clear verdict — only for checkpoint
// construction failures that indicate a caller bug (e.g. empty
// AgentID).
func (e *Engine) Evaluate(ctx context.Context, p EvaluateParams) (types.IntegritySignal, error) {
	if p.AgentID == "" || p.SessionID == "" {
		return types.IntegritySignal{}, fmt.Errorf("integrity: AgentID and SessionID are required")
	}

	conscienceValues := ResolveConscienceValues(p.OrgConscience, p.AgentConscience)
	window := e.windowFor(p.SessionID)

	prompt, truncated := BuildPrompt(BuildParams{
		ThinkingBlock:         p.ThinkingBlock,
		CardSummary:           p.CardSummary,
		ConscienceValues:      conscienceValues,
		TaskContext:           p.TaskContext,
		WindowSummarySentence: summarizeWindow(window.Summary()),
	})

	start := time.Now()
	var (
		meta     types.AnalysisMetadata
		concerns []types.Concern
		summary  string
		cc       types.ConscienceContext
		verdict  types.Verdict
	)

	if e.client == nil {
		meta, concerns, summary, cc, verdict = failOpenVerdict()
	} else {
		analysisCtx, span := observability.StartAnalysisSpan(ctx, e.cfg.AnalysisModel)
		raw, err := e.client.Complete(analysisCtx, prompt.System, prompt.User)
		span.End()
		if err != nil {
			meta, concerns, summary, cc, verdict = failOpenVerdict()
			summary = fmt.Sprintf("analysis model call failed, failed open: %v", err)
		} else {
			meta, concerns, summary, cc, verdict = ParseVerdict(raw)
		}
	}

	meta.AnalysisDurationMs = time.Since(start).Milliseconds()
	meta.Truncated = truncated
	meta.TokensOriginal = len(p.ThinkingBlock) / approxCharsPerToken
	if truncated {
		meta.TokensAnalyzed = TokenBudget
	} else {
		meta.TokensAnalyzed = meta.TokensOriginal
	}

	now := time.Now().UTC()
	position := window.Push(verdict, now)
	windowSummary := window.Summary()

	checkpoint := types.IntegrityCheckpoint{
		CheckpointID:      types.NewCheckpointID(),
		AgentID:           p.AgentID,
		CardID:            p.CardID,
		SessionID:         p.SessionID,
		Timestamp:         now,
		Provider:          p.Provider,
		Model:             p.Model,
		ThinkingBlockHash: hashThinkingBlock(p.ThinkingBlock),
		Verdict:           verdict,
		Concerns:          concerns,
		ReasoningSummary:  summary,
		ConscienceContext: cc,
		WindowPosition:    position,
		AnalysisMetadata:  meta,
		Source:            p.Source,
	}

	action, proceed := types.VerdictAction(verdict)
	if windowSummary.DriftAlertActive && proceed {
		action = types.ActionWarnUser
	}

	return types.IntegritySignal{
		Checkpoint:        checkpoint,
		WindowSummary:     windowSummary,
		Proceed:           proceed,
		RecommendedAction: action,
	}, nil
}

// hashThinkingBlock hashes the NFC-normalized reasoning text so two
// byte-distinct but visually identical reasoning blocks (composed vs.
// decomposed Unicode forms, which different model providers emit
// inconsistently) hash identically instead of producing spurious
// ThinkingBlockHash drift between otherwise-equal checkpoints.
func hashThinkingBlock(text string) string {
	sum := sha256.Sum256([]byte(norm.NFC.String(text)))
	return hex.EncodeToString(sum[:])
}

func summarizeWindow(s types.WindowSummary) string {
	if s.Size == 0 {
		return ""
	}
	alert := ""
	if s.DriftAlertActive {
		alert = " (drift alert active)"
	}
	return fmt.Sprintf("%d checkpoints in window, integrity ratio %.2f%s", s.Size, s.IntegrityRatio, alert)
}
