package checkpointstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemom/aip/pkg/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	return s
}

func sampleCheckpoint(id, sessionID string, source types.CheckpointSource) types.IntegrityCheckpoint {
	return types.IntegrityCheckpoint{
		CheckpointID:      id,
		AgentID:           "agent_abc",
		CardID:            "card_abc",
		SessionID:         sessionID,
		Timestamp:         time.Now().UTC(),
		Provider:          "anthropic",
		Model:             "claude-3-5-sonnet",
		ThinkingBlockHash: "deadbeef",
		Verdict:           types.VerdictClear,
		Concerns:          []types.Concern{},
		ReasoningSummary:  "clean",
		ConscienceContext: types.ConscienceContext{ValuesChecked: []string{"honesty"}},
		WindowPosition:    types.WindowPosition{Index: 0, WindowSize: 1},
		AnalysisMetadata:  types.AnalysisMetadata{ExtractionConfidence: 1},
		Source:            source,
	}
}

func TestSQLiteStore_UpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp := sampleCheckpoint("chk_1", "agent_abc-1000", types.SourceGateway)
	require.NoError(t, s.Upsert(ctx, cp))

	got, err := s.Get(ctx, "chk_1")
	require.NoError(t, err)
	assert.Equal(t, cp.AgentID, got.AgentID)
	assert.Equal(t, types.VerdictClear, got.Verdict)
	assert.Equal(t, types.SourceGateway, got.Source)
	assert.Equal(t, []string{"honesty"}, got.ConscienceContext.ValuesChecked)
}

func TestSQLiteStore_UpsertMergesSourceToHybrid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	gatewayCP := sampleCheckpoint("chk_2", "agent_abc-1000", types.SourceGateway)
	require.NoError(t, s.Upsert(ctx, gatewayCP))

	observerCP := sampleCheckpoint("chk_2", "agent_abc-1000", types.SourceObserver)
	observerCP.LinkedTraceID = "trace_xyz"
	require.NoError(t, s.Upsert(ctx, observerCP))

	got, err := s.Get(ctx, "chk_2")
	require.NoError(t, err)
	assert.Equal(t, types.SourceHybrid, got.Source)
	assert.Equal(t, "trace_xyz", got.LinkedTraceID)
}

func TestSQLiteStore_UpsertIsIdempotentForSameSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp := sampleCheckpoint("chk_3", "agent_abc-1000", types.SourceGateway)
	require.NoError(t, s.Upsert(ctx, cp))
	require.NoError(t, s.Upsert(ctx, cp))

	got, err := s.Get(ctx, "chk_3")
	require.NoError(t, err)
	assert.Equal(t, types.SourceGateway, got.Source)
}

func TestSQLiteStore_ListBySessionOrdersByTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := sampleCheckpoint("chk_4", "agent_abc-2000", types.SourceGateway)
	first.Timestamp = time.Now().Add(-time.Minute).UTC()
	second := sampleCheckpoint("chk_5", "agent_abc-2000", types.SourceGateway)
	second.Timestamp = time.Now().UTC()

	require.NoError(t, s.Upsert(ctx, second))
	require.NoError(t, s.Upsert(ctx, first))

	list, err := s.ListBySession(ctx, "agent_abc-2000")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "chk_4", list[0].CheckpointID)
	assert.Equal(t, "chk_5", list[1].CheckpointID)
}

func TestSQLiteStore_GetMissingReturnsErrNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "chk_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListOlderThanOrdersOldestFirstAndRespectsCutoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := sampleCheckpoint("chk_old", "agent_abc-4000", types.SourceGateway)
	old.Timestamp = time.Now().Add(-48 * time.Hour).UTC()
	recent := sampleCheckpoint("chk_recent", "agent_abc-4000", types.SourceGateway)
	recent.Timestamp = time.Now().Add(-time.Hour).UTC()
	ancient := sampleCheckpoint("chk_ancient", "agent_abc-4000", types.SourceGateway)
	ancient.Timestamp = time.Now().Add(-72 * time.Hour).UTC()

	require.NoError(t, s.Upsert(ctx, recent))
	require.NoError(t, s.Upsert(ctx, old))
	require.NoError(t, s.Upsert(ctx, ancient))

	aged, err := s.ListOlderThan(ctx, time.Now().Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, aged, 2)
	assert.Equal(t, "chk_ancient", aged[0].CheckpointID)
	assert.Equal(t, "chk_old", aged[1].CheckpointID)
}

func TestSQLiteStore_FindByLinkedTrace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp := sampleCheckpoint("chk_6", "agent_abc-3000", types.SourceObserver)
	cp.LinkedTraceID = "trace_abc"
	require.NoError(t, s.Upsert(ctx, cp))

	got, err := s.FindByLinkedTrace(ctx, "trace_abc")
	require.NoError(t, err)
	assert.Equal(t, "chk_6", got.CheckpointID)
}
