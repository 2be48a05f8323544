package checkpointstore

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemom/aip/pkg/types"
)

func TestPostgresStore_Upsert_NewCheckpoint(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT source FROM integrity_checkpoints WHERE checkpoint_id = $1")).
		WithArgs("chk_1").
		WillReturnRows(sqlmock.NewRows([]string{"source"}))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO integrity_checkpoints")).
		WithArgs(
			"chk_1", "agent_abc", "card_abc", "agent_abc-1000", sqlmock.AnyArg(), "anthropic", "claude-3-5-sonnet",
			"deadbeef", "clear", sqlmock.AnyArg(), "clean", sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), nil, "gateway", nil,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	cp := types.IntegrityCheckpoint{
		CheckpointID:      "chk_1",
		AgentID:           "agent_abc",
		CardID:            "card_abc",
		SessionID:         "agent_abc-1000",
		Timestamp:         time.Now().UTC(),
		Provider:          "anthropic",
		Model:             "claude-3-5-sonnet",
		ThinkingBlockHash: "deadbeef",
		Verdict:           types.VerdictClear,
		ReasoningSummary:  "clean",
		Source:            types.SourceGateway,
	}

	err = store.Upsert(ctx, cp)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Upsert_MergesToHybridSource(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT source FROM integrity_checkpoints WHERE checkpoint_id = $1")).
		WithArgs("chk_2").
		WillReturnRows(sqlmock.NewRows([]string{"source"}).AddRow("gateway"))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO integrity_checkpoints")).
		WithArgs(
			"chk_2", "agent_abc", "card_abc", "agent_abc-1000", sqlmock.AnyArg(), "anthropic", "claude-3-5-sonnet",
			"deadbeef", "clear", sqlmock.AnyArg(), "clean", sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), "trace_xyz", "hybrid", nil,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	cp := types.IntegrityCheckpoint{
		CheckpointID:      "chk_2",
		AgentID:           "agent_abc",
		CardID:            "card_abc",
		SessionID:         "agent_abc-1000",
		Timestamp:         time.Now().UTC(),
		Provider:          "anthropic",
		Model:             "claude-3-5-sonnet",
		ThinkingBlockHash: "deadbeef",
		Verdict:           types.VerdictClear,
		ReasoningSummary:  "clean",
		LinkedTraceID:     "trace_xyz",
		Source:            types.SourceObserver,
	}

	err = store.Upsert(ctx, cp)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectQuery("SELECT checkpoint_id").
		WithArgs("chk_missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"checkpoint_id", "agent_id", "card_id", "session_id", "occurred_at", "provider", "model",
			"thinking_block_hash", "verdict", "concerns", "reasoning_summary", "conscience_context",
			"window_position", "analysis_metadata", "linked_trace_id", "source", "certificate",
		}))

	_, err = store.Get(context.Background(), "chk_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
