package types

import "time"

// Verdict is a closed set of outcomes an integrity checkpoint can carry.
type Verdict string

const (
	VerdictClear             Verdict = "clear"
	VerdictReviewNeeded      Verdict = "review_needed"
	VerdictBoundaryViolation Verdict = "boundary_violation"
)

// Severity is a closed set of concern severities.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ConsultationDepth describes how thoroughly conscience values were
// consulted during analysis.
type ConsultationDepth string

const (
	ConsultationSurface  ConsultationDepth = "surface"
	ConsultationStandard ConsultationDepth = "standard"
	ConsultationDeep     ConsultationDepth = "deep"
)

// CheckpointSource distinguishes where a checkpoint was produced.
type CheckpointSource string

const (
	SourceGateway  CheckpointSource = "gateway"
	SourceObserver CheckpointSource = "observer"
	SourceHybrid   CheckpointSource = "hybrid"
)

// Concern is one flagged issue raised by the analysis model.
type Concern struct {
	Category                string   `json:"category"`
	Severity                 Severity `json:"severity"`
	Description              string   `json:"description"`
	Evidence                 string   `json:"evidence,omitempty"`
	RelevantCardField        string   `json:"relevant_card_field,omitempty"`
	RelevantConscienceValue  string   `json:"relevant_conscience_value,omitempty"`
}

// ConscienceContext records which values were consulted and how they
// interacted with the observed reasoning.
type ConscienceContext struct {
	ValuesChecked     []string          `json:"values_checked"`
	Conflicts         []string          `json:"conflicts"`
	Supports          []string          `json:"supports"`
	Considerations    []string          `json:"considerations"`
	ConsultationDepth ConsultationDepth `json:"consultation_depth"`
}

// WindowPosition locates a checkpoint within its session's sliding
// window at the time it was produced.
type WindowPosition struct {
	Index      int `json:"index"`
	WindowSize int `json:"window_size"`
}

// AnalysisMetadata records how the analysis call itself behaved.
type AnalysisMetadata struct {
	AnalysisModel        string `json:"analysis_model"`
	AnalysisDurationMs   int64  `json:"analysis_duration_ms"`
	TokensOriginal       int    `json:"tokens_original"`
	TokensAnalyzed       int    `json:"tokens_analyzed"`
	Truncated            bool   `json:"truncated"`
	ExtractionConfidence float64 `json:"extraction_confidence"`
	FailedOpen           bool   `json:"failed_open,omitempty"`
}

// Certificate bundles the attestation artefacts produced for a
// checkpoint, once the attestation layer has run.
type Certificate struct {
	CertificateID    string `json:"certificate_id"`
	InputCommitment  string `json:"input_commitment"`
	ChainHash        string `json:"chain_hash"`
	PrevChainHash    string `json:"prev_chain_hash,omitempty"`
	MerkleLeafIndex  int    `json:"merkle_leaf_index"`
	Signature        string `json:"signature"`
	SigningKeyID     string `json:"signing_key_id"`
}

// IntegrityCheckpoint is the core per-interaction record of the
// pipeline. A given checkpoint_id is immutable once created; the store
// upserts by checkpoint_id with merge-duplicates semantics.
type IntegrityCheckpoint struct {
	CheckpointID       string             `json:"checkpoint_id"`
	AgentID            string             `json:"agent_id"`
	CardID             string             `json:"card_id"`
	SessionID          string             `json:"session_id"`
	Timestamp          time.Time          `json:"timestamp"`
	Provider           string             `json:"provider"`
	Model              string             `json:"model"`
	ThinkingBlockHash  string             `json:"thinking_block_hash"`
	Verdict            Verdict            `json:"verdict"`
	Concerns           []Concern          `json:"concerns"`
	ReasoningSummary   string             `json:"reasoning_summary"`
	ConscienceContext  ConscienceContext  `json:"conscience_context"`
	WindowPosition     WindowPosition     `json:"window_position"`
	AnalysisMetadata   AnalysisMetadata   `json:"analysis_metadata"`
	LinkedTraceID      string             `json:"linked_trace_id,omitempty"`
	Source             CheckpointSource   `json:"source"`
	Certificate        *Certificate       `json:"certificate,omitempty"`
}

// RecommendedAction is the closed set of actions the integrity signal
// may recommend for a given verdict.
type RecommendedAction string

const (
	ActionContinue        RecommendedAction = "continue"
	ActionLogAndContinue  RecommendedAction = "log_and_continue"
	ActionWarnUser        RecommendedAction = "warn_user"
	ActionDenyAndEscalate RecommendedAction = "deny_and_escalate"
)

// VerdictAction maps a verdict to its recommended action and whether
// the request should proceed.
func VerdictAction(v Verdict) (action RecommendedAction, proceed bool) {
	switch v {
	case VerdictClear:
		return ActionContinue, true
	case VerdictReviewNeeded:
		return ActionLogAndContinue, true
	case VerdictBoundaryViolation:
		return ActionDenyAndEscalate, false
	default:
		return ActionContinue, true
	}
}

// WindowSummary is the externally-visible summary of a session's
// sliding window of recent checkpoints.
type WindowSummary struct {
	Size              int             `json:"size"`
	VerdictCounts     map[Verdict]int `json:"verdict_counts"`
	IntegrityRatio    float64         `json:"integrity_ratio"`
	DriftAlertActive  bool            `json:"drift_alert_active"`
}

// IntegritySignal is the result of running one checkpoint through the
// integrity engine.
type IntegritySignal struct {
	Checkpoint        IntegrityCheckpoint `json:"checkpoint"`
	WindowSummary     WindowSummary       `json:"window_summary"`
	Proceed           bool                `json:"proceed"`
	RecommendedAction RecommendedAction   `json:"recommended_action"`
}
