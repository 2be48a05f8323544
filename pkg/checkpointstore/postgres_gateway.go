package checkpointstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mnemom/aip/pkg/types"
)

// PostgresAgentStore, PostgresNudgeStore, PostgresEndpointStore, and
// PostgresDeliveryStore are the production-grade counterparts to the
// sqlite_gateway.go stores, sharing the migrated gateway_state tables
// applied by Migrate.

type PostgresAgentStore struct{ db *sql.DB }

func NewPostgresAgentStore(db *sql.DB) *PostgresAgentStore { return &PostgresAgentStore{db: db} }

func (s *PostgresAgentStore) GetByHash(ctx context.Context, agentHash string) (types.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, agent_hash, enforcement_mode, containment_status, auto_containment_threshold FROM agents WHERE agent_hash = $1`, agentHash)
	return scanAgentRow(row)
}

func (s *PostgresAgentStore) Create(ctx context.Context, agent types.Agent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, agent_hash, enforcement_mode, containment_status, auto_containment_threshold) VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (agent_hash) DO NOTHING`,
		agent.ID, agent.AgentHash, string(agent.EnforcementMode), string(agent.ContainmentStatus), agent.AutoContainmentThreshold,
	)
	if err != nil {
		return fmt.Errorf("checkpointstore: create agent: %w", err)
	}
	return nil
}

func (s *PostgresAgentStore) SetContainment(ctx context.Context, agentID string, status types.ContainmentStatus) (types.ContainmentStatus, error) {
	var previous string
	if err := s.db.QueryRowContext(ctx, `SELECT containment_status FROM agents WHERE id = $1`, agentID).Scan(&previous); err != nil {
		return "", fmt.Errorf("checkpointstore: lookup agent for containment: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE agents SET containment_status = $1 WHERE id = $2`, string(status), agentID); err != nil {
		return "", fmt.Errorf("checkpointstore: update containment: %w", err)
	}
	return types.ContainmentStatus(previous), nil
}

type PostgresNudgeStore struct{ db *sql.DB }

func NewPostgresNudgeStore(db *sql.DB) *PostgresNudgeStore { return &PostgresNudgeStore{db: db} }

func (s *PostgresNudgeStore) Create(ctx context.Context, n types.Nudge) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO nudges (nudge_id, agent_id, checkpoint_id, session_id, status, content, concerns_summary, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		n.NudgeID, n.AgentID, n.CheckpointID, n.SessionID, string(n.Status), n.Content, n.ConcernsSummary, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("checkpointstore: create nudge: %w", err)
	}
	return nil
}

func (s *PostgresNudgeStore) PendingForAgent(ctx context.Context, agentID string, now time.Time, limit int) ([]types.Nudge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT nudge_id, agent_id, checkpoint_id, session_id, status, content, concerns_summary, created_at, delivered_at, expired_at
		 FROM nudges WHERE agent_id = $1 AND status = $2 ORDER BY created_at ASC LIMIT $3`,
		agentID, string(types.NudgePending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("checkpointstore: query pending nudges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]types.Nudge, 0)
	for rows.Next() {
		n, err := scanPostgresNudgeRow(rows)
		if err != nil {
			return nil, err
		}
		if n.Expired(now) {
			continue
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (s *PostgresNudgeStore) MarkDelivered(ctx context.Context, nudgeIDs []string, deliveredAt time.Time) error {
	if len(nudgeIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE nudges SET status = $1, delivered_at = $2 WHERE nudge_id = ANY($3)`,
		string(types.NudgeDelivered), deliveredAt, pq.Array(nudgeIDs),
	)
	if err != nil {
		return fmt.Errorf("checkpointstore: mark nudges delivered: %w", err)
	}
	return nil
}

func (s *PostgresNudgeStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-types.NudgeLifetime)
	res, err := s.db.ExecContext(ctx,
		`UPDATE nudges SET status = $1, expired_at = $2 WHERE status = $3 AND created_at < $4`,
		string(types.NudgeExpired), now, string(types.NudgePending), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("checkpointstore: sweep expired nudges: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanPostgresNudgeRow(row scannable) (types.Nudge, error) {
	var n types.Nudge
	var status string
	var deliveredAt, expiredAt sql.NullTime
	if err := row.Scan(&n.NudgeID, &n.AgentID, &n.CheckpointID, &n.SessionID, &status, &n.Content, &n.ConcernsSummary, &n.CreatedAt, &deliveredAt, &expiredAt); err != nil {
		return types.Nudge{}, err
	}
	n.Status = types.NudgeStatus(status)
	if deliveredAt.Valid {
		n.DeliveredAt = &deliveredAt.Time
	}
	if expiredAt.Valid {
		n.ExpiredAt = &expiredAt.Time
	}
	return n, nil
}

type PostgresEndpointStore struct{ db *sql.DB }

func NewPostgresEndpointStore(db *sql.DB) *PostgresEndpointStore { return &PostgresEndpointStore{db: db} }

func (s *PostgresEndpointStore) Create(ctx context.Context, ep types.WebhookEndpoint) error {
	eventTypes, _ := json.Marshal(ep.EventTypes)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_endpoints (endpoint_id, account_id, url, description, signing_secret, event_types, is_active, consecutive_failures)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		ep.EndpointID, ep.AccountID, ep.URL, ep.Description, ep.SigningSecret, eventTypes, ep.IsActive, ep.ConsecutiveFailures,
	)
	if err != nil {
		return fmt.Errorf("checkpointstore: create webhook endpoint: %w", err)
	}
	return nil
}

func (s *PostgresEndpointStore) ActiveEndpointsForAccount(ctx context.Context, accountID, eventType string) ([]types.WebhookEndpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT endpoint_id, account_id, url, description, signing_secret, event_types, is_active, consecutive_failures, disabled_at, disabled_reason
		 FROM webhook_endpoints WHERE account_id = $1 AND is_active = TRUE`, accountID)
	if err != nil {
		return nil, fmt.Errorf("checkpointstore: query active endpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]types.WebhookEndpoint, 0)
	for rows.Next() {
		ep, err := scanPostgresEndpointRow(rows)
		if err != nil {
			return nil, err
		}
		if ep.Matches(eventType) {
			result = append(result, ep)
		}
	}
	return result, rows.Err()
}

func (s *PostgresEndpointStore) RecordSuccess(ctx context.Context, endpointID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE webhook_endpoints SET consecutive_failures = 0 WHERE endpoint_id = $1`, endpointID)
	return err
}

func (s *PostgresEndpointStore) RecordFailure(ctx context.Context, endpointID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`UPDATE webhook_endpoints SET consecutive_failures = consecutive_failures + 1 WHERE endpoint_id = $1 RETURNING consecutive_failures`,
		endpointID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("checkpointstore: record endpoint failure: %w", err)
	}
	return n, nil
}

func (s *PostgresEndpointStore) Disable(ctx context.Context, endpointID, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhook_endpoints SET is_active = FALSE, disabled_at = $1, disabled_reason = $2 WHERE endpoint_id = $3`,
		time.Now().UTC(), reason, endpointID,
	)
	return err
}

func scanPostgresEndpointRow(row scannable) (types.WebhookEndpoint, error) {
	var ep types.WebhookEndpoint
	var eventTypes []byte
	var disabledAt sql.NullTime
	var disabledReason sql.NullString
	if err := row.Scan(&ep.EndpointID, &ep.AccountID, &ep.URL, &ep.Description, &ep.SigningSecret, &eventTypes, &ep.IsActive, &ep.ConsecutiveFailures, &disabledAt, &disabledReason); err != nil {
		return types.WebhookEndpoint{}, err
	}
	_ = json.Unmarshal(eventTypes, &ep.EventTypes)
	ep.DisabledReason = disabledReason.String
	return ep, nil
}

type PostgresDeliveryStore struct{ db *sql.DB }

func NewPostgresDeliveryStore(db *sql.DB) *PostgresDeliveryStore { return &PostgresDeliveryStore{db: db} }

func (s *PostgresDeliveryStore) Create(ctx context.Context, d types.WebhookDelivery) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_deliveries (delivery_id, event_id, endpoint_id, status, attempt_count, max_attempts, next_attempt_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		d.DeliveryID, d.EventID, d.EndpointID, string(d.Status), d.AttemptCount, d.MaxAttempts, nullableTime(d.NextAttemptAt),
	)
	if err != nil {
		return fmt.Errorf("checkpointstore: create webhook delivery: %w", err)
	}
	return nil
}

func (s *PostgresDeliveryStore) Update(ctx context.Context, d types.WebhookDelivery) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhook_deliveries SET status=$1, attempt_count=$2, next_attempt_at=$3, last_attempt_at=$4, last_response_status=$5, last_response_body=$6, last_error=$7, latency_ms=$8
		 WHERE delivery_id = $9`,
		string(d.Status), d.AttemptCount, nullableTime(d.NextAttemptAt), d.LastAttemptAt,
		d.LastResponseStatus, d.LastResponseBody, d.LastError, d.LatencyMs, d.DeliveryID,
	)
	if err != nil {
		return fmt.Errorf("checkpointstore: update webhook delivery: %w", err)
	}
	return nil
}

func (s *PostgresDeliveryStore) DueForRetry(ctx context.Context, now time.Time) ([]types.WebhookDelivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT delivery_id, event_id, endpoint_id, status, attempt_count, max_attempts, next_attempt_at, last_attempt_at, last_response_status, last_response_body, last_error, latency_ms
		 FROM webhook_deliveries WHERE status = $1 AND next_attempt_at <= $2`,
		string(types.DeliveryRetrying), now,
	)
	if err != nil {
		return nil, fmt.Errorf("checkpointstore: query due deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]types.WebhookDelivery, 0)
	for rows.Next() {
		d, err := scanPostgresDeliveryRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func scanPostgresDeliveryRow(row scannable) (types.WebhookDelivery, error) {
	var d types.WebhookDelivery
	var status string
	var nextAttempt, lastAttempt sql.NullTime
	var lastStatus sql.NullInt64
	var lastBody, lastErr sql.NullString
	var latency sql.NullInt64
	if err := row.Scan(&d.DeliveryID, &d.EventID, &d.EndpointID, &status, &d.AttemptCount, &d.MaxAttempts, &nextAttempt, &lastAttempt, &lastStatus, &lastBody, &lastErr, &latency); err != nil {
		return types.WebhookDelivery{}, err
	}
	d.Status = types.DeliveryStatus(status)
	if nextAttempt.Valid {
		d.NextAttemptAt = nextAttempt.Time
	}
	if lastAttempt.Valid {
		d.LastAttemptAt = &lastAttempt.Time
	}
	d.LastResponseStatus = int(lastStatus.Int64)
	d.LastResponseBody = lastBody.String
	d.LastError = lastErr.String
	d.LatencyMs = latency.Int64
	return d, nil
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
