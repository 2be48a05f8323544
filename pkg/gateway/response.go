package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mnemom/aip/pkg/attestation"
	"github.com/mnemom/aip/pkg/integrity"
	"github.com/mnemom/aip/pkg/observability"
	"github.com/mnemom/aip/pkg/provider"
	"github.com/mnemom/aip/pkg/types"
	"github.com/mnemom/aip/pkg/webhook"
)

const promptTemplateVersion = "v1"

// modifyResponse is the response-path entry point installed on every
// provider's httputil.ReverseProxy. It never returns a non-nil error
// for anything other than a truly unreadable body: every failure mode
// in the integrity pipeline itself fails open, passing the original
// response through unchanged with X-AIP-Verdict: error.
func (g *Gateway) modifyResponse(resp *http.Response) error {
	st := requestStateFrom(resp.Request)

	if st.Disabled {
		resp.Header.Set(HeaderVerdict, VerdictDisabled)
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Header.Set(HeaderVerdict, VerdictSkipped)
		return nil
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		g.teeStreaming(resp, st)
		resp.Header.Set(HeaderVerdict, VerdictPending)
		return nil
	}

	return g.handleBuffered(resp, st)
}

func (g *Gateway) handleBuffered(resp *http.Response, st *requestState) error {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return fmt.Errorf("gateway: read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	adapter := provider.AdapterFor(st.Provider)
	if adapter == nil {
		resp.Header.Set(HeaderVerdict, VerdictSkipped)
		return nil
	}
	extraction := adapter.ExtractBuffered(body)
	if st.Span != nil {
		observability.SetModel(st.Span, extraction.Model)
	}
	if !extraction.HasThinking {
		resp.Header.Set(HeaderVerdict, VerdictSkipped)
		return nil
	}

	ctx := context.Background()
	signal, forbidden, err := g.runPipeline(ctx, st, extraction)
	if err != nil {
		g.logger.Error("gateway: integrity pipeline failed, failing open", "error", err)
		resp.Header.Set(HeaderVerdict, VerdictError)
		return nil
	}
	if st.Span != nil {
		observability.SetVerdict(st.Span, string(signal.Checkpoint.Verdict))
	}

	resp.Header.Set(HeaderVerdict, string(signal.Checkpoint.Verdict))
	resp.Header.Set(HeaderAction, string(signal.RecommendedAction))
	resp.Header.Set(HeaderCheckpointID, signal.Checkpoint.CheckpointID)
	if signal.Checkpoint.Certificate != nil {
		resp.Header.Set(HeaderCertificateID, signal.Checkpoint.Certificate.CertificateID)
	}

	proceed := signal.Proceed && forbidden == nil
	resp.Header.Set(HeaderProceed, boolHeader(proceed))

	if !proceed && st.Agent.EnforcementMode == types.EnforcementEnforce {
		return g.denyResponse(resp, signal, forbidden)
	}
	return nil
}

// denyResponse replaces the upstream body with a small JSON envelope
// describing why the turn was blocked, matching the enforce-mode
// boundary imposed once a boundary_violation or forbidden tool call is
// observed and the agent's mode says to act on it rather than just log
// or nudge.
func (g *Gateway) denyResponse(resp *http.Response, signal types.IntegritySignal, forbidden error) error {
	reason := string(signal.Checkpoint.Verdict)
	if forbidden != nil {
		reason = forbidden.Error()
	}
	body, _ := json.Marshal(map[string]any{
		"error":         "boundary_violation",
		"reason":        reason,
		"checkpoint_id": signal.Checkpoint.CheckpointID,
	})
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", fmt.Sprintf("%d", len(body)))
	resp.Header.Set("Content-Type", "application/json")
	resp.StatusCode = http.StatusForbidden
	resp.Status = http.StatusText(http.StatusForbidden)
	return nil
}

// runPipeline runs one extraction through integrity analysis, policy,
// attestation, persistence, nudge/containment, and webhook emission.
// It is shared by the buffered and (post-hoc, backgrounded) streaming
// paths.
func (g *Gateway) runPipeline(ctx context.Context, st *requestState, extraction provider.Extraction) (types.IntegritySignal, error, error) {
	if g.deps.Engine == nil {
		return types.IntegritySignal{}, nil, nil
	}

	signal, err := g.deps.Engine.Evaluate(ctx, integrity.EvaluateParams{
		AgentID:         st.Agent.ID,
		CardID:          st.Card.CardID,
		SessionID:       st.SessionID,
		Provider:        string(st.Provider),
		Model:           extraction.Model,
		ThinkingBlock:   extraction.Thinking,
		CardSummary:     cardSummary(st.Card),
		AgentConscience: declaredValueNames(st.Card),
		Source:          types.SourceGateway,
	})
	if err != nil {
		return types.IntegritySignal{}, nil, err
	}

	var forbidden error
	if g.deps.Policy != nil && len(extraction.ToolCalls) > 0 {
		names := make([]string, 0, len(extraction.ToolCalls))
		for _, tc := range extraction.ToolCalls {
			names = append(names, tc.Name)
		}
		decision, perr := g.deps.Policy.EvaluateToolCalls(ctx, st.Card, names)
		if perr == nil && !decision.Allow {
			forbidden = fmt.Errorf("forbidden_action: %s", decision.Reason)
			signal.Proceed = false
			signal.RecommendedAction = types.ActionDenyAndEscalate
		}
	}

	if g.deps.Attestor != nil {
		cert, aerr := g.deps.Attestor.Attest(ctx, &signal.Checkpoint, attestation.InputCommitmentInputs{
			CardJSONCanonical:     st.Card,
			ConscienceValues:      integrity.ResolveConscienceValues(nil, declaredValueNames(st.Card)),
			WindowContextReduced:  signal.WindowSummary,
			ModelVersion:          signal.Checkpoint.AnalysisMetadata.AnalysisModel,
			PromptTemplateVersion: promptTemplateVersion,
		})
		if aerr == nil {
			signal.Checkpoint.Certificate = cert
		} else if aerr != attestation.ErrAttestationDisabled {
			g.logger.Warn("gateway: attestation failed", "checkpoint_id", signal.Checkpoint.CheckpointID, "error", aerr)
		}
	}

	if g.deps.Checkpoints != nil {
		if err := g.deps.Checkpoints.Upsert(ctx, signal.Checkpoint); err != nil {
			g.logger.Error("gateway: persist checkpoint failed", "checkpoint_id", signal.Checkpoint.CheckpointID, "error", err)
		}
	}
	if g.deps.Metrics != nil {
		g.deps.Metrics.ObserveVerdict(signal.Checkpoint.Verdict)
	}
	if g.deps.Dispatcher != nil {
		g.deps.Dispatcher.Emit(ctx, st.AccountID, webhook.EventCheckpointCreated, map[string]any{"checkpoint": signal.Checkpoint})
		if signal.WindowSummary.DriftAlertActive {
			g.deps.Dispatcher.Emit(ctx, st.AccountID, webhook.EventCheckpointDriftAlert, map[string]any{"window_summary": signal.WindowSummary, "agent_id": st.Agent.ID})
		}
	}

	if signal.Checkpoint.Verdict == types.VerdictBoundaryViolation {
		g.onBoundaryViolation(ctx, st, signal.Checkpoint)
	}

	return signal, forbidden, nil
}

func (g *Gateway) onBoundaryViolation(ctx context.Context, st *requestState, checkpoint types.IntegrityCheckpoint) {
	if g.deps.Nudges != nil {
		nudge, err := g.deps.Nudges.OnBoundaryViolation(ctx, checkpoint, st.Agent.EnforcementMode, g.cfg.NudgeStrategy)
		if err != nil {
			g.logger.Error("gateway: create nudge failed", "agent_id", st.Agent.ID, "error", err)
		} else if nudge != nil && g.deps.Dispatcher != nil {
			g.deps.Dispatcher.Emit(ctx, st.AccountID, webhook.EventNudgeCreated, map[string]any{"nudge": nudge})
		}
	}

	if g.deps.Containment != nil {
		fired, err := g.deps.Containment.Evaluate(ctx, st.Agent.ID, st.Agent.AutoContainmentThreshold)
		if err != nil {
			g.logger.Error("gateway: auto-containment evaluation failed", "agent_id", st.Agent.ID, "error", err)
			return
		}
		if fired {
			if g.deps.Metrics != nil {
				g.deps.Metrics.ObserveAutoContainment()
			}
			if g.deps.Notifier != nil {
				g.deps.Notifier.NotifyAutoContainment(ctx, st.Agent.ID, "auto_containment_threshold_reached")
			}
			if g.deps.Dispatcher != nil {
				g.deps.Dispatcher.Emit(ctx, st.AccountID, webhook.EventAgentAutoContained, map[string]any{"agent_id": st.Agent.ID})
			}
		}
	}
}

// teeStreaming splits resp.Body so the client keeps receiving the
// live SSE stream unmodified while a background goroutine reconstructs
// the full response from the same bytes and runs it through the
// pipeline once the stream ends. Streaming responses are always let
// through — enforcement on a stream already half-delivered to the
// caller is not possible, so an enforce-mode deny can only take effect
// on the agent's next request via a nudge or auto-containment.
func (g *Gateway) teeStreaming(resp *http.Response, st *requestState) {
	pr, pw := io.Pipe()
	resp.Body = &teeReadCloser{src: resp.Body, tee: pw}

	go func() {
		adapter := provider.AdapterFor(st.Provider)
		if adapter == nil {
			_, _ = io.Copy(io.Discard, pr)
			return
		}
		accumulator := adapter.NewStreamAccumulator()
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if accumulator.Feed(scanner.Bytes()) {
				break
			}
		}
		_, _ = io.Copy(io.Discard, pr)

		extraction := accumulator.Result()
		if !extraction.HasThinking {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, _, err := g.runPipeline(ctx, st, extraction); err != nil {
			g.logger.Error("gateway: background stream analysis failed", "agent_id", st.Agent.ID, "error", err)
		}
	}()
}

type teeReadCloser struct {
	src io.ReadCloser
	tee *io.PipeWriter
}

func (t *teeReadCloser) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	if n > 0 {
		_, _ = t.tee.Write(p[:n])
	}
	if err != nil {
		_ = t.tee.CloseWithError(err)
	}
	return n, err
}

func (t *teeReadCloser) Close() error {
	_ = t.tee.Close()
	return t.src.Close()
}

func cardSummary(card types.AlignmentCard) string {
	if card.Description != "" {
		return card.Description
	}
	return card.Role
}

func declaredValueNames(card types.AlignmentCard) []string {
	names := make([]string, 0, len(card.DeclaredValues))
	for _, v := range card.DeclaredValues {
		names = append(names, v.Name)
	}
	return names
}

func boolHeader(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
