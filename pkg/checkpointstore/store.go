// Package checkpointstore persists integrity checkpoints and exposes
// the idempotent-upsert contract both the gateway's inline path and
// the Observer's post-hoc reconciliation path write through.
package checkpointstore

import (
	"context"
	"errors"

	"github.com/mnemom/aip/pkg/types"
)

// ErrNotFound is returned by Get when no checkpoint with the given ID
// exists.
var ErrNotFound = errors.New("checkpointstore: not found")

// Store is the durable home for integrity checkpoints. Upsert is
// idempotent on CheckpointID: writing the same checkpoint twice (once
// from the gateway's inline path, once from the Observer's) must not
// create a duplicate row or regress a hybrid-sourced checkpoint back
// to a single-source one.
type Store interface {
	Upsert(ctx context.Context, cp types.IntegrityCheckpoint) error
	Get(ctx context.Context, checkpointID string) (types.IntegrityCheckpoint, error)
	ListBySession(ctx context.Context, sessionID string) ([]types.IntegrityCheckpoint, error)
	ListByAgent(ctx context.Context, agentID string, limit int) ([]types.IntegrityCheckpoint, error)
	FindByLinkedTrace(ctx context.Context, linkedTraceID string) (types.IntegrityCheckpoint, error)
}

// mergeSource combines two checkpoint sources seen for the same
// checkpoint_id. A gateway-sourced and an observer-sourced write for
// the same ID becomes hybrid; writing the same source twice is a no-op
// on the source field.
func mergeSource(existing, incoming types.CheckpointSource) types.CheckpointSource {
	if existing == "" || existing == incoming {
		return incoming
	}
	return types.SourceHybrid
}
