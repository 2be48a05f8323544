package observer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mnemom/aip/pkg/provider"
)

// jsonlRecord is the on-disk shape a sidecar deployment appends one
// line of per call, an append-only JSONL discipline matching the
// pipeline's own audit trail.
type jsonlRecord struct {
	TraceID   string    `json:"trace_id"`
	AgentID   string    `json:"agent_id"`
	CardID    string    `json:"card_id"`
	SessionID string    `json:"session_id"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	RawBody   string    `json:"raw_body"`
	Timestamp time.Time `json:"timestamp"`
}

// FileLogSource implements LogSource by tailing an append-only JSONL
// file: every call to FetchSince reads whatever has been appended
// since the last read, tracked by byte offset rather than timestamp so
// a burst of same-timestamp writes is never skipped.
type FileLogSource struct {
	mu     sync.Mutex
	path   string
	offset int64
}

func NewFileLogSource(path string) *FileLogSource {
	return &FileLogSource{path: path}
}

func (f *FileLogSource) FetchSince(ctx context.Context, since time.Time) ([]UpstreamLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("observer: open log source: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Seek(f.offset, 0); err != nil {
		return nil, fmt.Errorf("observer: seek log source: %w", err)
	}

	var entries []UpstreamLogEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var read int64
	for scanner.Scan() {
		line := scanner.Bytes()
		read += int64(len(line)) + 1

		var rec jsonlRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		entries = append(entries, UpstreamLogEntry{
			TraceID:   rec.TraceID,
			AgentID:   rec.AgentID,
			CardID:    rec.CardID,
			SessionID: rec.SessionID,
			Provider:  provider.Name(rec.Provider),
			Model:     rec.Model,
			RawBody:   []byte(rec.RawBody),
			Timestamp: rec.Timestamp,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("observer: scan log source: %w", err)
	}

	f.offset += read
	return entries, nil
}
