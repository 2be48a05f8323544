// Package observer implements the post-hoc reconciliation loop: it
// reads ephemeral upstream provider logs the gateway did not manage to
// capture inline (timeouts, fail-open bypasses, sidecar-only
// deployments) and turns them into integrity checkpoints, soft-deduped
// against anything the gateway already wrote for the same trace.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mnemom/aip/pkg/checkpointstore"
	"github.com/mnemom/aip/pkg/integrity"
	"github.com/mnemom/aip/pkg/provider"
	"github.com/mnemom/aip/pkg/types"
)

// UpstreamLogEntry is one provider call recovered from an ephemeral
// upstream log, keyed by a trace ID unique to the underlying request.
type UpstreamLogEntry struct {
	TraceID   string
	AgentID   string
	CardID    string
	SessionID string
	Provider  provider.Name
	Model     string
	RawBody   []byte
	Timestamp time.Time
}

// LogSource yields upstream log entries produced since a given time.
// Implementations might tail a sidecar's access log, poll a provider's
// own logging API, or replay a message-queue topic.
type LogSource interface {
	FetchSince(ctx context.Context, since time.Time) ([]UpstreamLogEntry, error)
}

// CardResolver looks up the alignment-card context an entry's agent
// operates under, so the Observer can run the same integrity analysis
// the gateway would have.
type CardResolver interface {
	Resolve(ctx context.Context, agentID string) (cardSummary string, conscienceValues []string, org *integrity.OrgConscienceConfig, err error)
}

// Observer is the poll-reconcile loop described above.
type Observer struct {
	store    checkpointstore.Store
	engine   *integrity.Engine
	source   LogSource
	cards    CardResolver
	logger   *slog.Logger
	clock    func() time.Time
	interval time.Duration
}

// New constructs an Observer. interval is how often Run polls source
// for new entries; a zero interval defaults to 30 seconds.
func New(store checkpointstore.Store, engine *integrity.Engine, source LogSource, cards CardResolver, logger *slog.Logger, interval time.Duration) *Observer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{
		store:    store,
		engine:   engine,
		source:   source,
		cards:    cards,
		logger:   logger,
		clock:    time.Now,
		interval: interval,
	}
}

// Run polls source on Observer's interval until ctx is cancelled,
// reconciling every batch of entries it receives.
func (o *Observer) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	since := o.clock().Add(-o.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := o.clock()
			entries, err := o.source.FetchSince(ctx, since)
			if err != nil {
				o.logger.Error("observer: fetch upstream log entries failed", "error", err)
				continue
			}
			o.reconcileBatch(ctx, entries)
			since = now
		}
	}
}

// ReconcileOnce processes entries synchronously, for callers (batch
// jobs, tests) that don't want the polling loop.
func (o *Observer) ReconcileOnce(ctx context.Context, entries []UpstreamLogEntry) {
	o.reconcileBatch(ctx, entries)
}

func (o *Observer) reconcileBatch(ctx context.Context, entries []UpstreamLogEntry) {
	for _, entry := range entries {
		if err := o.reconcileOne(ctx, entry); err != nil {
			o.logger.Error("observer: reconcile entry failed", "trace_id", entry.TraceID, "error", err)
		}
	}
}

func (o *Observer) reconcileOne(ctx context.Context, entry UpstreamLogEntry) error {
	if existing, err := o.store.FindByLinkedTrace(ctx, entry.TraceID); err == nil {
		o.logger.Debug("observer: trace already reconciled, skipping", "trace_id", entry.TraceID, "checkpoint_id", existing.CheckpointID)
		return nil
	} else if err != checkpointstore.ErrNotFound {
		return fmt.Errorf("observer: lookup existing trace: %w", err)
	}

	adapter := provider.AdapterFor(entry.Provider)
	if adapter == nil {
		return fmt.Errorf("observer: no adapter for provider %q", entry.Provider)
	}
	extraction := adapter.ExtractBuffered(entry.RawBody)
	if !extraction.HasThinking {
		return nil
	}

	cardSummary, conscienceValues, org, err := o.cards.Resolve(ctx, entry.AgentID)
	if err != nil {
		return fmt.Errorf("observer: resolve card context: %w", err)
	}

	signal, err := o.engine.Evaluate(ctx, integrity.EvaluateParams{
		AgentID:         entry.AgentID,
		CardID:          entry.CardID,
		SessionID:       entry.SessionID,
		Provider:        string(entry.Provider),
		Model:           entry.Model,
		ThinkingBlock:   extraction.Thinking,
		CardSummary:     cardSummary,
		OrgConscience:   org,
		AgentConscience: conscienceValues,
		Source:          types.SourceObserver,
	})
	if err != nil {
		return fmt.Errorf("observer: evaluate: %w", err)
	}

	signal.Checkpoint.LinkedTraceID = entry.TraceID
	signal.Checkpoint.Timestamp = entry.Timestamp

	if err := o.store.Upsert(ctx, signal.Checkpoint); err != nil {
		return fmt.Errorf("observer: upsert checkpoint: %w", err)
	}
	return nil
}
