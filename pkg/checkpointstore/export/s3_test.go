package export

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemom/aip/pkg/types"
)

type fakeAgingStore struct {
	aged []types.IntegrityCheckpoint
}

func (f *fakeAgingStore) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]types.IntegrityCheckpoint, error) {
	var out []types.IntegrityCheckpoint
	for _, cp := range f.aged {
		if cp.Timestamp.Before(cutoff) {
			out = append(out, cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeArchiver struct {
	archived []types.IntegrityCheckpoint
	failIDs  map[string]bool
}

func (f *fakeArchiver) ArchiveBatch(ctx context.Context, checkpoints []types.IntegrityCheckpoint) ([]string, error) {
	var failed []string
	var firstErr error
	for _, cp := range checkpoints {
		if f.failIDs[cp.CheckpointID] {
			failed = append(failed, cp.CheckpointID)
			if firstErr == nil {
				firstErr = assert.AnError
			}
			continue
		}
		f.archived = append(f.archived, cp)
	}
	return failed, firstErr
}

func TestSweeper_SweepOnce_ArchivesOnlyAgedCheckpoints(t *testing.T) {
	now := time.Now()
	store := &fakeAgingStore{aged: []types.IntegrityCheckpoint{
		{CheckpointID: "chk_old", Timestamp: now.Add(-48 * time.Hour)},
	}}
	archiver := &fakeArchiver{}
	sw := NewSweeper(store, archiver, 24*time.Hour)
	sw.now = func() time.Time { return now }

	n, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, archiver.archived, 1)
	assert.Equal(t, "chk_old", archiver.archived[0].CheckpointID)
}

func TestSweeper_SweepOnce_NoAgedCheckpointsIsNoop(t *testing.T) {
	now := time.Now()
	store := &fakeAgingStore{}
	archiver := &fakeArchiver{}
	sw := NewSweeper(store, archiver, 24*time.Hour)
	sw.now = func() time.Time { return now }

	n, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, archiver.archived)
}

func TestSweeper_SweepOnce_ReportsPartialFailure(t *testing.T) {
	now := time.Now()
	store := &fakeAgingStore{aged: []types.IntegrityCheckpoint{
		{CheckpointID: "chk_good", Timestamp: now.Add(-48 * time.Hour)},
		{CheckpointID: "chk_bad", Timestamp: now.Add(-48 * time.Hour)},
	}}
	archiver := &fakeArchiver{failIDs: map[string]bool{"chk_bad": true}}
	sw := NewSweeper(store, archiver, 24*time.Hour)
	sw.now = func() time.Time { return now }

	n, err := sw.SweepOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, n)
}

func TestSink_Key_PartitionsByAgentAndDay(t *testing.T) {
	s := &Sink{prefix: "checkpoints/"}
	cp := types.IntegrityCheckpoint{
		AgentID:      "agent_abc",
		CheckpointID: "chk_123",
		Timestamp:    time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, "checkpoints/agent_abc/2026-03-14/chk_123.json", s.key(cp))
}
