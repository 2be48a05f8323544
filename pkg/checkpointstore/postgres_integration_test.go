//go:build integration

package checkpointstore_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mnemom/aip/pkg/checkpointstore"
	"github.com/mnemom/aip/pkg/types"
)

// newTestPostgres starts a disposable Postgres container and returns a
// *sql.DB connected to it, migrated via checkpointstore.Migrate — the
// same container-per-test pattern used for the ent-backed store this
// package's checkpoint table layout is grounded on, adapted to a plain
// database/sql connection since this store has no ORM layer.
func newTestPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("aip_test"),
		postgres.WithUsername("aip"),
		postgres.WithPassword("aip"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, checkpointstore.Migrate(db))
	return db
}

func TestPostgresStore_UpsertAndGet_RoundTrips(t *testing.T) {
	db := newTestPostgres(t)
	store := checkpointstore.NewPostgresStore(db)
	ctx := context.Background()

	cp := types.IntegrityCheckpoint{
		CheckpointID: types.NewCheckpointID(),
		AgentID:      "agent-1",
		SessionID:    "session-1",
		Source:       types.SourceGateway,
		Verdict:      types.VerdictClear,
		Timestamp:    time.Now().UTC(),
	}
	require.NoError(t, store.Upsert(ctx, cp))

	got, err := store.Get(ctx, cp.CheckpointID)
	require.NoError(t, err)
	require.Equal(t, cp.AgentID, got.AgentID)
	require.Equal(t, types.VerdictClear, got.Verdict)
}

func TestPostgresStore_Upsert_MergesSourceToHybrid(t *testing.T) {
	db := newTestPostgres(t)
	store := checkpointstore.NewPostgresStore(db)
	ctx := context.Background()

	id := types.NewCheckpointID()
	base := types.IntegrityCheckpoint{CheckpointID: id, AgentID: "agent-1", SessionID: "s1", Verdict: types.VerdictClear, Timestamp: time.Now().UTC()}

	base.Source = types.SourceGateway
	require.NoError(t, store.Upsert(ctx, base))

	base.Source = types.SourceObserver
	require.NoError(t, store.Upsert(ctx, base))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, types.SourceHybrid, got.Source)
}

func TestPostgresAgentStore_CreateAndContainment(t *testing.T) {
	db := newTestPostgres(t)
	agents := checkpointstore.NewPostgresAgentStore(db)
	ctx := context.Background()

	agent := *types.NewAgent("test-api-key")
	require.NoError(t, agents.Create(ctx, agent))

	got, err := agents.GetByHash(ctx, agent.AgentHash)
	require.NoError(t, err)
	require.Equal(t, agent.ID, got.ID)

	previous, err := agents.SetContainment(ctx, agent.ID, types.ContainmentPaused)
	require.NoError(t, err)
	require.Equal(t, types.ContainmentActive, previous)
}
