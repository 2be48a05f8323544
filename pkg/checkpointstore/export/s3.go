// Package export archives integrity checkpoints to S3-compatible cold
// storage once they age out of the primary store's retention window,
// keyed by agent and day so a compliance pull for one agent over one
// date range is a single prefix listing rather than a table scan.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mnemom/aip/pkg/types"
)

// AgingStore is the narrow slice of checkpointstore.Store the sweeper
// needs — just enough to page through records older than a cutoff.
type AgingStore interface {
	ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]types.IntegrityCheckpoint, error)
}

// Sink archives checkpoints to S3 (or an S3-compatible endpoint —
// MinIO, LocalStack — via a custom Endpoint for local development).
type Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

type Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional, for MinIO/LocalStack
	Prefix   string // optional key prefix, e.g. "checkpoints/"
}

func NewSink(ctx context.Context, cfg Config) (*Sink, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("export: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Sink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// key partitions by agent and by day so a compliance export for one
// agent over a date range is a single ListObjectsV2 prefix scan.
func (s *Sink) key(cp types.IntegrityCheckpoint) string {
	day := cp.Timestamp.UTC().Format("2006-01-02")
	return fmt.Sprintf("%s%s/%s/%s.json", s.prefix, cp.AgentID, day, cp.CheckpointID)
}

// Archive uploads one checkpoint as a JSON object. It is idempotent:
// re-archiving the same checkpoint overwrites the same key rather than
// producing a duplicate, since CheckpointID is already content-stable.
func (s *Sink) Archive(ctx context.Context, cp types.IntegrityCheckpoint) error {
	body, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("export: marshal checkpoint %s: %w", cp.CheckpointID, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(cp)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("export: put checkpoint %s: %w", cp.CheckpointID, err)
	}
	return nil
}

// ArchiveBatch archives a slice of checkpoints, returning the IDs that
// failed to upload alongside the first error encountered, so a caller
// sweeping an expired window can retry just the stragglers next pass.
func (s *Sink) ArchiveBatch(ctx context.Context, checkpoints []types.IntegrityCheckpoint) ([]string, error) {
	var failed []string
	var firstErr error
	for _, cp := range checkpoints {
		if err := s.Archive(ctx, cp); err != nil {
			failed = append(failed, cp.CheckpointID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return failed, firstErr
}

// Archiver is the narrow slice of Sink the sweeper needs, letting tests
// exercise SweepOnce without a real S3 endpoint.
type Archiver interface {
	ArchiveBatch(ctx context.Context, checkpoints []types.IntegrityCheckpoint) ([]string, error)
}

// Sweeper periodically pages checkpoints older than Retention out of
// the primary store and into cold storage.
type Sweeper struct {
	Store     AgingStore
	Sink      Archiver
	Retention time.Duration
	BatchSize int
	now       func() time.Time
}

func NewSweeper(store AgingStore, sink Archiver, retention time.Duration) *Sweeper {
	return &Sweeper{Store: store, Sink: sink, Retention: retention, BatchSize: 500, now: time.Now}
}

// SweepOnce archives one batch of aged-out checkpoints and reports how
// many were archived, so a caller can decide whether to loop again
// immediately (batch was full) or wait for the next tick.
func (sw *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := sw.now().Add(-sw.Retention)
	batch, err := sw.Store.ListOlderThan(ctx, cutoff, sw.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("export: list aged checkpoints: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}
	failed, err := sw.Sink.ArchiveBatch(ctx, batch)
	archived := len(batch) - len(failed)
	if err != nil {
		return archived, fmt.Errorf("export: archive batch (%d of %d failed): %w", len(failed), len(batch), err)
	}
	return archived, nil
}
