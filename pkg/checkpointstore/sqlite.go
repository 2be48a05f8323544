package checkpointstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mnemom/aip/pkg/types"
)

// SQLiteStore is the pure-Go Store behind cmd/aip-gateway's default
// "sqlite" database driver, also used by package tests so they don't
// need a running Postgres instance.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if necessary) a sqlite-backed Store
// at path. Pass ":memory:" for an ephemeral in-process store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("checkpointstore: open sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS integrity_checkpoints (
	checkpoint_id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	card_id TEXT,
	session_id TEXT NOT NULL,
	occurred_at TEXT NOT NULL,
	provider TEXT,
	model TEXT,
	thinking_block_hash TEXT,
	verdict TEXT NOT NULL,
	concerns TEXT,
	reasoning_summary TEXT,
	conscience_context TEXT,
	window_position TEXT,
	analysis_metadata TEXT,
	linked_trace_id TEXT,
	source TEXT NOT NULL,
	certificate TEXT
);
CREATE INDEX IF NOT EXISTS idx_sqlite_checkpoints_session ON integrity_checkpoints(session_id);
CREATE INDEX IF NOT EXISTS idx_sqlite_checkpoints_agent ON integrity_checkpoints(agent_id, occurred_at DESC);
`

const sqliteGatewaySchema = `
CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	agent_hash TEXT NOT NULL UNIQUE,
	enforcement_mode TEXT NOT NULL,
	containment_status TEXT NOT NULL,
	auto_containment_threshold INTEGER
);
CREATE TABLE IF NOT EXISTS nudges (
	nudge_id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	checkpoint_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	status TEXT NOT NULL,
	content TEXT NOT NULL,
	concerns_summary TEXT,
	created_at TEXT NOT NULL,
	delivered_at TEXT,
	expired_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_sqlite_nudges_agent_pending ON nudges(agent_id, status);
CREATE TABLE IF NOT EXISTS webhook_endpoints (
	endpoint_id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	url TEXT NOT NULL,
	description TEXT,
	signing_secret TEXT NOT NULL,
	event_types TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	disabled_at TEXT,
	disabled_reason TEXT
);
CREATE TABLE IF NOT EXISTS webhook_deliveries (
	delivery_id TEXT PRIMARY KEY,
	event_id TEXT NOT NULL,
	endpoint_id TEXT NOT NULL,
	status TEXT NOT NULL,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	next_attempt_at TEXT,
	last_attempt_at TEXT,
	last_response_status INTEGER,
	last_response_body TEXT,
	last_error TEXT,
	latency_ms INTEGER
);
CREATE INDEX IF NOT EXISTS idx_sqlite_deliveries_due ON webhook_deliveries(status, next_attempt_at);
`

func (s *SQLiteStore) init() error {
	if _, err := s.db.Exec(sqliteSchema); err != nil {
		return err
	}
	_, err := s.db.Exec(sqliteGatewaySchema)
	return err
}

// DB exposes the underlying handle so the gateway-state stores
// (AgentStore, NudgeStore, EndpointStore, DeliveryStore — see
// sqlite_gateway.go) can share the same sqlite connection and schema
// lifecycle instead of opening a second database.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Upsert(ctx context.Context, cp types.IntegrityCheckpoint) error {
	var existingSource sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT source FROM integrity_checkpoints WHERE checkpoint_id = ?`, cp.CheckpointID,
	).Scan(&existingSource)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("checkpointstore: lookup existing source: %w", err)
	}
	cp.Source = mergeSource(types.CheckpointSource(existingSource.String), cp.Source)

	concerns, _ := json.Marshal(cp.Concerns)
	conscience, _ := json.Marshal(cp.ConscienceContext)
	windowPos, _ := json.Marshal(cp.WindowPosition)
	analysisMeta, _ := json.Marshal(cp.AnalysisMetadata)
	var cert []byte
	if cp.Certificate != nil {
		cert, _ = json.Marshal(cp.Certificate)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO integrity_checkpoints (
			checkpoint_id, agent_id, card_id, session_id, occurred_at, provider, model,
			thinking_block_hash, verdict, concerns, reasoning_summary, conscience_context,
			window_position, analysis_metadata, linked_trace_id, source, certificate
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(checkpoint_id) DO UPDATE SET
			linked_trace_id = COALESCE(integrity_checkpoints.linked_trace_id, excluded.linked_trace_id),
			source = excluded.source,
			certificate = COALESCE(excluded.certificate, integrity_checkpoints.certificate)
	`,
		cp.CheckpointID, cp.AgentID, cp.CardID, cp.SessionID, cp.Timestamp.Format(time.RFC3339Nano), cp.Provider, cp.Model,
		cp.ThinkingBlockHash, string(cp.Verdict), string(concerns), cp.ReasoningSummary, string(conscience),
		string(windowPos), string(analysisMeta), nullIfEmpty(cp.LinkedTraceID), string(cp.Source), nullBytesIfEmpty(cert),
	)
	if err != nil {
		return fmt.Errorf("checkpointstore: upsert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, checkpointID string) (types.IntegrityCheckpoint, error) {
	row := s.db.QueryRowContext(ctx, sqliteSelectColumns+` WHERE checkpoint_id = ?`, checkpointID)
	return scanSQLiteRow(row)
}

func (s *SQLiteStore) FindByLinkedTrace(ctx context.Context, linkedTraceID string) (types.IntegrityCheckpoint, error) {
	row := s.db.QueryRowContext(ctx, sqliteSelectColumns+` WHERE linked_trace_id = ?`, linkedTraceID)
	return scanSQLiteRow(row)
}

func (s *SQLiteStore) ListBySession(ctx context.Context, sessionID string) ([]types.IntegrityCheckpoint, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelectColumns+` WHERE session_id = ? ORDER BY occurred_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanSQLiteRows(rows)
}

func (s *SQLiteStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]types.IntegrityCheckpoint, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, sqliteSelectColumns+` WHERE agent_id = ? ORDER BY occurred_at DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanSQLiteRows(rows)
}

// ListOlderThan mirrors PostgresStore.ListOlderThan for the sqlite
// backend.
func (s *SQLiteStore) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]types.IntegrityCheckpoint, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, sqliteSelectColumns+` WHERE occurred_at < ? ORDER BY occurred_at ASC LIMIT ?`, cutoff.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, fmt.Errorf("checkpointstore: list older than: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSQLiteRows(rows)
}

const sqliteSelectColumns = `
	SELECT checkpoint_id, agent_id, card_id, session_id, occurred_at, provider, model,
		thinking_block_hash, verdict, concerns, reasoning_summary, conscience_context,
		window_position, analysis_metadata, linked_trace_id, source, certificate
	FROM integrity_checkpoints
`

func scanSQLiteRow(row scannable) (types.IntegrityCheckpoint, error) {
	var cp types.IntegrityCheckpoint
	var concerns, conscience, windowPos, analysisMeta, cert sql.NullString
	var linkedTrace sql.NullString
	var verdict, source, occurredAt string

	err := row.Scan(
		&cp.CheckpointID, &cp.AgentID, &cp.CardID, &cp.SessionID, &occurredAt, &cp.Provider, &cp.Model,
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
	if t, err := parseTime(occurredAt); err == nil {
		cp.Timestamp = t
	}

	if concerns.Valid && concerns.String != "" {
		if err := json.Unmarshal([]byte(concerns.String), &cp.Concerns); err != nil {
			return types.IntegrityCheckpoint{}, fmt.Errorf("checkpointstore: corrupt concerns: %w", err)
		}
	}
	if conscience.Valid && conscience.String != "" {
		if err := json.Unmarshal([]byte(conscience.String), &cp.ConscienceContext); err != nil {
			return types.IntegrityCheckpoint{}, fmt.Errorf("checkpointstore: corrupt conscience context: %w", err)
		}
	}
	if windowPos.Valid && windowPos.String != "" {
		if err := json.Unmarshal([]byte(windowPos.String), &cp.WindowPosition); err != nil {
			return types.IntegrityCheckpoint{}, fmt.Errorf("checkpointstore: corrupt window position: %w", err)
		}
	}
	if analysisMeta.Valid && analysisMeta.String != "" {
		if err := json.Unmarshal([]byte(analysisMeta.String), &cp.AnalysisMetadata); err != nil {
			return types.IntegrityCheckpoint{}, fmt.Errorf("checkpointstore: corrupt analysis metadata: %w", err)
		}
	}
	if cert.Valid && cert.String != "" {
		cp.Certificate = &types.Certificate{}
		if err := json.Unmarshal([]byte(cert.String), cp.Certificate); err != nil {
			return types.IntegrityCheckpoint{}, fmt.Errorf("checkpointstore: corrupt certificate: %w", err)
		}
	}
	return cp, nil
}

func scanSQLiteRows(rows *sql.Rows) ([]types.IntegrityCheckpoint, error) {
	result := make([]types.IntegrityCheckpoint, 0)
	for rows.Next() {
		cp, err := scanSQLiteRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, cp)
	}
	return result, rows.Err()
}
