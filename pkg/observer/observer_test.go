package observer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemom/aip/pkg/checkpointstore"
	"github.com/mnemom/aip/pkg/integrity"
	"github.com/mnemom/aip/pkg/provider"
	"github.com/mnemom/aip/pkg/types"
)

type fakeStore struct {
	upserted     []types.IntegrityCheckpoint
	byLinkedTrace map[string]types.IntegrityCheckpoint
}

func newFakeStore() *fakeStore {
	return &fakeStore{byLinkedTrace: map[string]types.IntegrityCheckpoint{}}
}

func (s *fakeStore) Upsert(ctx context.Context, cp types.IntegrityCheckpoint) error {
	s.upserted = append(s.upserted, cp)
	if cp.LinkedTraceID != "" {
		s.byLinkedTrace[cp.LinkedTraceID] = cp
	}
	return nil
}
func (s *fakeStore) Get(ctx context.Context, id string) (types.IntegrityCheckpoint, error) {
	return types.IntegrityCheckpoint{}, checkpointstore.ErrNotFound
}
func (s *fakeStore) ListBySession(ctx context.Context, sessionID string) ([]types.IntegrityCheckpoint, error) {
	return nil, nil
}
func (s *fakeStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]types.IntegrityCheckpoint, error) {
	return nil, nil
}
func (s *fakeStore) FindByLinkedTrace(ctx context.Context, traceID string) (types.IntegrityCheckpoint, error) {
	cp, ok := s.byLinkedTrace[traceID]
	if !ok {
		return types.IntegrityCheckpoint{}, checkpointstore.ErrNotFound
	}
	return cp, nil
}

type fakeCards struct{}

func (fakeCards) Resolve(ctx context.Context, agentID string) (string, []string, *integrity.OrgConscienceConfig, error) {
	return "general-purpose assistant", []string{"honesty"}, nil, nil
}

func TestObserver_ReconcileOnce_CreatesCheckpointForNewTrace(t *testing.T) {
	store := newFakeStore()
	engine := integrity.NewEngine(nil, integrity.DefaultEngineConfig)
	obs := New(store, engine, nil, fakeCards{}, nil, time.Second)

	entry := UpstreamLogEntry{
		TraceID:   "trace_1",
		AgentID:   "agent_abc",
		CardID:    "card_abc",
		SessionID: "agent_abc-1000",
		Provider:  provider.Anthropic,
		Model:     "claude-3-5-sonnet",
		RawBody:   []byte(`{"content":[{"type":"thinking","thinking":"considering the request"}]}`),
		Timestamp: time.Now(),
	}

	obs.ReconcileOnce(context.Background(), []UpstreamLogEntry{entry})

	require.Len(t, store.upserted, 1)
	assert.Equal(t, "trace_1", store.upserted[0].LinkedTraceID)
	assert.Equal(t, types.SourceObserver, store.upserted[0].Source)
}

func TestObserver_ReconcileOnce_SkipsAlreadyLinkedTrace(t *testing.T) {
	store := newFakeStore()
	store.byLinkedTrace["trace_2"] = types.IntegrityCheckpoint{CheckpointID: "chk_existing", LinkedTraceID: "trace_2"}
	engine := integrity.NewEngine(nil, integrity.DefaultEngineConfig)
	obs := New(store, engine, nil, fakeCards{}, nil, time.Second)

	entry := UpstreamLogEntry{
		TraceID:   "trace_2",
		AgentID:   "agent_abc",
		SessionID: "agent_abc-1000",
		Provider:  provider.Anthropic,
		RawBody:   []byte(`{"content":[{"type":"thinking","thinking":"x"}]}`),
	}

	obs.ReconcileOnce(context.Background(), []UpstreamLogEntry{entry})

	assert.Empty(t, store.upserted)
}

func TestObserver_ReconcileOnce_SkipsEntriesWithNoThinking(t *testing.T) {
	store := newFakeStore()
	engine := integrity.NewEngine(nil, integrity.DefaultEngineConfig)
	obs := New(store, engine, nil, fakeCards{}, nil, time.Second)

	entry := UpstreamLogEntry{
		TraceID:   "trace_3",
		AgentID:   "agent_abc",
		SessionID: "agent_abc-1000",
		Provider:  provider.Anthropic,
		RawBody:   []byte(`{"content":[{"type":"text","text":"just an answer"}]}`),
	}

	obs.ReconcileOnce(context.Background(), []UpstreamLogEntry{entry})

	assert.Empty(t, store.upserted)
}
