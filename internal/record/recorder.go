// Package record persists completed requests as an append-only JSONL log
// for later inspection and replay.
package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one completed request: the input exactly as the caller sent it
// (before any middleware or migration), and the output and status exactly as
// sent to the transport.
type Record struct {
	ID         string    `json:"id"`
	Addon      string    `json:"addon"`
	Action     string    `json:"action"`
	Input      any       `json:"input"`
	Output     any       `json:"output"`
	StatusCode int       `json:"statusCode"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Recorder appends records to a JSONL file. Writes are serialized; the
// recorder is safe for concurrent use across pipelines.
type Recorder struct {
	mu   sync.Mutex
	f    *os.File
	path string
	now  func() time.Time
}

// New opens (creating if needed) the record file at path in append mode.
func New(path string) (*Recorder, error) {
	if path == "" {
		return nil, fmt.Errorf("record path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create record directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open record file: %w", err)
	}
	return &Recorder{f: f, path: path, now: time.Now}, nil
}

// Path returns the file the recorder writes to.
func (r *Recorder) Path() string { return r.path }

// Write appends one record. Missing ID and RecordedAt fields are filled in.
func (r *Recorder) Write(rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = r.now().UTC()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return fmt.Errorf("recorder is closed")
	}
	if _, err := r.f.Write(line); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

// Close flushes and closes the record file. Idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
