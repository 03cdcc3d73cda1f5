// Package cache provides the scoped cache facade used by the request
// pipeline, backed by pluggable storage engines.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Engine is the storage backend behind a Facade.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: Get never errors; it returns (nil, false) on miss or expiry.
// - TTL: ttl <= 0 stores the entry without expiry.
type Engine interface {
	// Name identifies the engine for logs ("memory", "sqlite").
	Name() string

	// Get retrieves a value. Returns (nil, false) on miss.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value. Idempotent - no error on miss.
	Delete(ctx context.Context, key string) error
}

// OpenEngine constructs a cache engine by name. An empty name selects the
// in-memory engine. path is only used by file-backed engines.
func OpenEngine(ctx context.Context, name, path string) (Engine, error) {
	switch name {
	case "", "memory":
		return NewMemoryEngine(), nil
	case "sqlite":
		return OpenSQLiteEngine(ctx, path)
	default:
		return nil, fmt.Errorf("unknown cache engine %q", name)
	}
}
