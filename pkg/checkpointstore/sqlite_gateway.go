package checkpointstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mnemom/aip/pkg/types"
)

// AgentStore persists the lazily-created Agent record keyed on the
// hash of its API key. Gateway's identify-agent step reads through
// this on every request's first sight of an agent hash and writes
// through on create and on containment transitions.
type AgentStore interface {
	GetByHash(ctx context.Context, agentHash string) (types.Agent, error)
	Create(ctx context.Context, agent types.Agent) error
	SetContainment(ctx context.Context, agentID string, status types.ContainmentStatus) (previous types.ContainmentStatus, err error)
}

// SQLiteAgentStore, SQLiteNudgeStore, SQLiteEndpointStore, and
// SQLiteDeliveryStore share the SQLiteStore's *sql.DB and schema
// rather than opening a second database — the same pattern the
// checkpoint tables themselves use.

type SQLiteAgentStore struct{ db *sql.DB }

func NewSQLiteAgentStore(db *sql.DB) *SQLiteAgentStore { return &SQLiteAgentStore{db: db} }

func (s *SQLiteAgentStore) GetByHash(ctx context.Context, agentHash string) (types.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, agent_hash, enforcement_mode, containment_status, auto_containment_threshold FROM agents WHERE agent_hash = ?`, agentHash)
	return scanAgentRow(row)
}

func (s *SQLiteAgentStore) Create(ctx context.Context, agent types.Agent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, agent_hash, enforcement_mode, containment_status, auto_containment_threshold) VALUES (?,?,?,?,?)
		 ON CONFLICT(agent_hash) DO NOTHING`,
		agent.ID, agent.AgentHash, string(agent.EnforcementMode), string(agent.ContainmentStatus), agent.AutoContainmentThreshold,
	)
	if err != nil {
		return fmt.Errorf("checkpointstore: create agent: %w", err)
	}
	return nil
}

func (s *SQLiteAgentStore) SetContainment(ctx context.Context, agentID string, status types.ContainmentStatus) (types.ContainmentStatus, error) {
	var previous string
	if err := s.db.QueryRowContext(ctx, `SELECT containment_status FROM agents WHERE id = ?`, agentID).Scan(&previous); err != nil {
		return "", fmt.Errorf("checkpointstore: lookup agent for containment: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE agents SET containment_status = ? WHERE id = ?`, string(status), agentID); err != nil {
		return "", fmt.Errorf("checkpointstore: update containment: %w", err)
	}
	return types.ContainmentStatus(previous), nil
}

func scanAgentRow(row scannable) (types.Agent, error) {
	var a types.Agent
	var mode, status string
	var threshold sql.NullInt64
	if err := row.Scan(&a.ID, &a.AgentHash, &mode, &status, &threshold); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Agent{}, ErrNotFound
		}
		return types.Agent{}, err
	}
	a.EnforcementMode = types.EnforcementMode(mode)
	a.ContainmentStatus = types.ContainmentStatus(status)
	if threshold.Valid {
		v := int(threshold.Int64)
		a.AutoContainmentThreshold = &v
	}
	return a, nil
}

// SQLiteNudgeStore implements enforcement.Store.
type SQLiteNudgeStore struct{ db *sql.DB }

func NewSQLiteNudgeStore(db *sql.DB) *SQLiteNudgeStore { return &SQLiteNudgeStore{db: db} }

func (s *SQLiteNudgeStore) Create(ctx context.Context, n types.Nudge) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO nudges (nudge_id, agent_id, checkpoint_id, session_id, status, content, concerns_summary, created_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		n.NudgeID, n.AgentID, n.CheckpointID, n.SessionID, string(n.Status), n.Content, n.ConcernsSummary, n.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("checkpointstore: create nudge: %w", err)
	}
	return nil
}

func (s *SQLiteNudgeStore) PendingForAgent(ctx context.Context, agentID string, now time.Time, limit int) ([]types.Nudge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT nudge_id, agent_id, checkpoint_id, session_id, status, content, concerns_summary, created_at, delivered_at, expired_at
		 FROM nudges WHERE agent_id = ? AND status = ? ORDER BY created_at ASC LIMIT ?`,
		agentID, string(types.NudgePending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("checkpointstore: query pending nudges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]types.Nudge, 0)
	for rows.Next() {
		n, err := scanNudgeRow(rows)
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

func (s *SQLiteNudgeStore) MarkDelivered(ctx context.Context, nudgeIDs []string, deliveredAt time.Time) error {
	if len(nudgeIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(nudgeIDs)), ",")
	args := make([]any, 0, len(nudgeIDs)+1)
	args = append(args, deliveredAt.Format(time.RFC3339Nano))
	for _, id := range nudgeIDs {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE nudges SET status = '%s', delivered_at = ? WHERE nudge_id IN (%s)`, types.NudgeDelivered, placeholders),
		args...,
	)
	if err != nil {
		return fmt.Errorf("checkpointstore: mark nudges delivered: %w", err)
	}
	return nil
}

func (s *SQLiteNudgeStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-types.NudgeLifetime).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE nudges SET status = ?, expired_at = ? WHERE status = ? AND created_at < ?`,
		string(types.NudgeExpired), now.Format(time.RFC3339Nano), string(types.NudgePending), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("checkpointstore: sweep expired nudges: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanNudgeRow(row scannable) (types.Nudge, error) {
	var n types.Nudge
	var status, createdAt string
	var deliveredAt, expiredAt sql.NullString
	if err := row.Scan(&n.NudgeID, &n.AgentID, &n.CheckpointID, &n.SessionID, &status, &n.Content, &n.ConcernsSummary, &createdAt, &deliveredAt, &expiredAt); err != nil {
		return types.Nudge{}, err
	}
	n.Status = types.NudgeStatus(status)
	if t, err := parseTime(createdAt); err == nil {
		n.CreatedAt = t
	}
	if deliveredAt.Valid {
		if t, err := parseTime(deliveredAt.String); err == nil {
			n.DeliveredAt = &t
		}
	}
	if expiredAt.Valid {
		if t, err := parseTime(expiredAt.String); err == nil {
			n.ExpiredAt = &t
		}
	}
	return n, nil
}

// SQLiteEndpointStore implements webhook.EndpointStore.
type SQLiteEndpointStore struct{ db *sql.DB }

func NewSQLiteEndpointStore(db *sql.DB) *SQLiteEndpointStore { return &SQLiteEndpointStore{db: db} }

func (s *SQLiteEndpointStore) Create(ctx context.Context, ep types.WebhookEndpoint) error {
	eventTypes, _ := json.Marshal(ep.EventTypes)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_endpoints (endpoint_id, account_id, url, description, signing_secret, event_types, is_active, consecutive_failures)
		 VALUES (?,?,?,?,?,?,?,?)`,
		ep.EndpointID, ep.AccountID, ep.URL, ep.Description, ep.SigningSecret, string(eventTypes), ep.IsActive, ep.ConsecutiveFailures,
	)
	if err != nil {
		return fmt.Errorf("checkpointstore: create webhook endpoint: %w", err)
	}
	return nil
}

func (s *SQLiteEndpointStore) ActiveEndpointsForAccount(ctx context.Context, accountID, eventType string) ([]types.WebhookEndpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT endpoint_id, account_id, url, description, signing_secret, event_types, is_active, consecutive_failures, disabled_at, disabled_reason
		 FROM webhook_endpoints WHERE account_id = ? AND is_active = 1`, accountID)
	if err != nil {
		return nil, fmt.Errorf("checkpointstore: query active endpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]types.WebhookEndpoint, 0)
	for rows.Next() {
		ep, err := scanEndpointRow(rows)
		if err != nil {
			return nil, err
		}
		if ep.Matches(eventType) {
			result = append(result, ep)
		}
	}
	return result, rows.Err()
}

func (s *SQLiteEndpointStore) RecordSuccess(ctx context.Context, endpointID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE webhook_endpoints SET consecutive_failures = 0 WHERE endpoint_id = ?`, endpointID)
	return err
}

func (s *SQLiteEndpointStore) RecordFailure(ctx context.Context, endpointID string) (int, error) {
	if _, err := s.db.ExecContext(ctx, `UPDATE webhook_endpoints SET consecutive_failures = consecutive_failures + 1 WHERE endpoint_id = ?`, endpointID); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT consecutive_failures FROM webhook_endpoints WHERE endpoint_id = ?`, endpointID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteEndpointStore) Disable(ctx context.Context, endpointID, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhook_endpoints SET is_active = 0, disabled_at = ?, disabled_reason = ? WHERE endpoint_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), reason, endpointID,
	)
	return err
}

func scanEndpointRow(row scannable) (types.WebhookEndpoint, error) {
	var ep types.WebhookEndpoint
	var eventTypes string
	var disabledAt, disabledReason sql.NullString
	if err := row.Scan(&ep.EndpointID, &ep.AccountID, &ep.URL, &ep.Description, &ep.SigningSecret, &eventTypes, &ep.IsActive, &ep.ConsecutiveFailures, &disabledAt, &disabledReason); err != nil {
		return types.WebhookEndpoint{}, err
	}
	_ = json.Unmarshal([]byte(eventTypes), &ep.EventTypes)
	ep.DisabledReason = disabledReason.String
	return ep, nil
}

// SQLiteDeliveryStore implements webhook.DeliveryStore.
type SQLiteDeliveryStore struct{ db *sql.DB }

func NewSQLiteDeliveryStore(db *sql.DB) *SQLiteDeliveryStore { return &SQLiteDeliveryStore{db: db} }

func (s *SQLiteDeliveryStore) Create(ctx context.Context, d types.WebhookDelivery) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_deliveries (delivery_id, event_id, endpoint_id, status, attempt_count, max_attempts, next_attempt_at)
		 VALUES (?,?,?,?,?,?,?)`,
		d.DeliveryID, d.EventID, d.EndpointID, string(d.Status), d.AttemptCount, d.MaxAttempts, formatNullableTime(d.NextAttemptAt),
	)
	if err != nil {
		return fmt.Errorf("checkpointstore: create webhook delivery: %w", err)
	}
	return nil
}

func (s *SQLiteDeliveryStore) Update(ctx context.Context, d types.WebhookDelivery) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhook_deliveries SET status=?, attempt_count=?, next_attempt_at=?, last_attempt_at=?, last_response_status=?, last_response_body=?, last_error=?, latency_ms=?
		 WHERE delivery_id = ?`,
		string(d.Status), d.AttemptCount, formatNullableTime(d.NextAttemptAt), formatNullableTimePtr(d.LastAttemptAt),
		d.LastResponseStatus, d.LastResponseBody, d.LastError, d.LatencyMs, d.DeliveryID,
	)
	if err != nil {
		return fmt.Errorf("checkpointstore: update webhook delivery: %w", err)
	}
	return nil
}

func (s *SQLiteDeliveryStore) DueForRetry(ctx context.Context, now time.Time) ([]types.WebhookDelivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT delivery_id, event_id, endpoint_id, status, attempt_count, max_attempts, next_attempt_at, last_attempt_at, last_response_status, last_response_body, last_error, latency_ms
		 FROM webhook_deliveries WHERE status = ? AND next_attempt_at <= ?`,
		string(types.DeliveryRetrying), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("checkpointstore: query due deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]types.WebhookDelivery, 0)
	for rows.Next() {
		d, err := scanDeliveryRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func scanDeliveryRow(row scannable) (types.WebhookDelivery, error) {
	var d types.WebhookDelivery
	var status string
	var nextAttempt, lastAttempt sql.NullString
	var lastStatus sql.NullInt64
	var lastBody, lastErr sql.NullString
	var latency sql.NullInt64
	if err := row.Scan(&d.DeliveryID, &d.EventID, &d.EndpointID, &status, &d.AttemptCount, &d.MaxAttempts, &nextAttempt, &lastAttempt, &lastStatus, &lastBody, &lastErr, &latency); err != nil {
		return types.WebhookDelivery{}, err
	}
	d.Status = types.DeliveryStatus(status)
	if nextAttempt.Valid {
		if t, err := parseTime(nextAttempt.String); err == nil {
			d.NextAttemptAt = t
		}
	}
	if lastAttempt.Valid {
		if t, err := parseTime(lastAttempt.String); err == nil {
			d.LastAttemptAt = &t
		}
	}
	d.LastResponseStatus = int(lastStatus.Int64)
	d.LastResponseBody = lastBody.String
	d.LastError = lastErr.String
	d.LatencyMs = latency.Int64
	return d, nil
}

func formatNullableTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func formatNullableTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}
