package checkpointstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mnemom/aip/pkg/types"
)

// PostgresStore is the durable SQL-backed Store, with idempotent
// upserts keyed by checkpoint_id.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Init applies the embedded migrations under migrations/, bringing a
// fresh or behind-schema database up to date. It is idempotent: a
// database already at the latest migration returns nil.
func (s *PostgresStore) Init(ctx context.Context) error {
	return Migrate(s.db)
}

// DB exposes the underlying handle so the gateway-state stores
// (AgentStore, NudgeStore, EndpointStore, DeliveryStore — see
// postgres_gateway.go) share this store's connection pool.
func (s *PostgresStore) DB() *sql.DB { return s.db }

// Upsert writes cp, merging source with whatever source is already
// recorded for this checkpoint_id so a gateway write followed by an
// observer write (or vice versa) converges on hybrid rather than
// clobbering one another.
func (s *PostgresStore) Upsert(ctx context.Context, cp types.IntegrityCheckpoint) error {
	var existingSource sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT source FROM integrity_checkpoints WHERE checkpoint_id = $1`, cp.CheckpointID,
	).Scan(&existingSource)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("checkpointstore: lookup existing source: %w", err)
	}
	cp.Source = mergeSource(types.CheckpointSource(existingSource.String), cp.Source)

	concerns, err := json.Marshal(cp.Concerns)
	if err != nil {
		return fmt.Errorf("checkpointstore: marshal concerns: %w", err)
	}
	conscience, err := json.Marshal(cp.ConscienceContext)
	if err != nil {
		return fmt.Errorf("checkpointstore: marshal conscience context: %w", err)
	}
	windowPos, err := json.Marshal(cp.WindowPosition)
	if err != nil {
		return fmt.Errorf("checkpointstore: marshal window position: %w", err)
	}
	analysisMeta, err := json.Marshal(cp.AnalysisMetadata)
	if err != nil {
		return fmt.Errorf("checkpointstore: marshal analysis metadata: %w", err)
	}
	var cert []byte
	if cp.Certificate != nil {
		cert, err = json.Marshal(cp.Certificate)
		if err != nil {
			return fmt.Errorf("checkpointstore: marshal certificate: %w", err)
		}
	}

	query := `
		INSERT INTO integrity_checkpoints (
			checkpoint_id, agent_id, card_id, session_id, occurred_at, provider, model,
			thinking_block_hash, verdict, concerns, reasoning_summary, conscience_context,
			window_position, analysis_metadata, linked_trace_id, source, certificate
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (checkpoint_id) DO UPDATE SET
			linked_trace_id = COALESCE(integrity_checkpoints.linked_trace_id, EXCLUDED.linked_trace_id),
			source = EXCLUDED.source,
			certificate = COALESCE(EXCLUDED.certificate, integrity_checkpoints.certificate)
	`
	_, err = s.db.ExecContext(ctx, query,
		cp.CheckpointID, cp.AgentID, cp.CardID, cp.SessionID, cp.Timestamp, cp.Provider, cp.Model,
		cp.ThinkingBlockHash, string(cp.Verdict), concerns, cp.ReasoningSummary, conscience,
		windowPos, analysisMeta, nullIfEmpty(cp.LinkedTraceID), string(cp.Source), nullBytesIfEmpty(cert),
	)
	if err != nil {
		return fmt.Errorf("checkpointstore: upsert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, checkpointID string) (types.IntegrityCheckpoint, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE checkpoint_id = $1`, checkpointID)
	return scanRow(row)
}

func (s *PostgresStore) FindByLinkedTrace(ctx context.Context, linkedTraceID string) (types.IntegrityCheckpoint, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE linked_trace_id = $1`, linkedTraceID)
	return scanRow(row)
}

func (s *PostgresStore) ListBySession(ctx context.Context, sessionID string) ([]types.IntegrityCheckpoint, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE session_id = $1 ORDER BY occurred_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRows(rows)
}

func (s *PostgresStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]types.IntegrityCheckpoint, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE agent_id = $1 ORDER BY occurred_at DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRows(rows)
}

// ListOlderThan returns up to limit checkpoints recorded before cutoff,
// oldest first, so a cold-storage sweep archives in the order records
// age out of the retention window.
func (s *PostgresStore) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]types.IntegrityCheckpoint, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE occurred_at < $1 ORDER BY occurred_at ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("checkpointstore: list older than: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRows(rows)
}

const selectColumns = `
	SELECT checkpoint_id, agent_id, card_id, session_id, occurred_at, provider, model,
		thinking_block_hash, verdict, concerns, reasoning_summary, conscience_context,
		window_position, analysis_metadata, linked_trace_id, source, certificate
	FROM integrity_checkpoints
`

type scannable interface {
	Scan(dest ...any) error
}

func scanRow(row scannable) (types.IntegrityCheckpoint, error) {
	var cp types.IntegrityCheckpoint
	var concerns, conscience, windowPos, analysisMeta, cert []byte
	var linkedTrace sql.NullString
	var verdict, source string

	err := row.Scan(
		&cp.CheckpointID, &cp.AgentID, &cp.CardID, &cp.SessionID, &cp.Timestamp, &cp.Provider, &cp.Model,
		&cp.ThinkingBlockHash, &verdict, &concerns, &cp.ReasoningSummary, &conscience,
		&windowPos, &analysisMeta, &linkedTrace, &source, &cert,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.IntegrityCheckpoint{}, ErrNotFound
		}
		return types.IntegrityCheckpoint{}, err
	}

	cp.Verdict = types.Verdict(verdict)
	cp.Source = types.CheckpointSource(source)
	cp.LinkedTraceID = linkedTrace.String

	if len(concerns) > 0 {
		if err := json.Unmarshal(concerns, &cp.Concerns); err != nil {
			return types.IntegrityCheckpoint{}, fmt.Errorf("checkpointstore: corrupt concerns: %w", err)
		}
	}
	if len(conscience) > 0 {
		if err := json.Unmarshal(conscience, &cp.ConscienceContext); err != nil {
			return types.IntegrityCheckpoint{}, fmt.Errorf("checkpointstore: corrupt conscience context: %w", err)
		}
	}
	if len(windowPos) > 0 {
		if err := json.Unmarshal(windowPos, &cp.WindowPosition); err != nil {
			return types.IntegrityCheckpoint{}, fmt.Errorf("checkpointstore: corrupt window position: %w", err)
		}
	}
	if len(analysisMeta) > 0 {
		if err := json.Unmarshal(analysisMeta, &cp.AnalysisMetadata); err != nil {
			return types.IntegrityCheckpoint{}, fmt.Errorf("checkpointstore: corrupt analysis metadata: %w", err)
		}
	}
	if len(cert) > 0 {
		cp.Certificate = &types.Certificate{}
		if err := json.Unmarshal(cert, cp.Certificate); err != nil {
			return types.IntegrityCheckpoint{}, fmt.Errorf("checkpointstore: corrupt certificate: %w", err)
		}
	}
	return cp, nil
}

func scanRows(rows *sql.Rows) ([]types.IntegrityCheckpoint, error) {
	result := make([]types.IntegrityCheckpoint, 0)
	for rows.Next() {
		cp, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, cp)
	}
	return result, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytesIfEmpty(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
