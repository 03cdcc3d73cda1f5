package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattjoyce/addongw/internal/log"
	_ "modernc.org/sqlite"
)

// SQLiteEngine is a cache engine persisted in a SQLite database. It survives
// process restarts, which makes replayed failures and task round-trips
// observable across runs.
type SQLiteEngine struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteEngine opens (and creates if needed) the cache database at path
// and ensures the cache table exists.
func OpenSQLiteEngine(ctx context.Context, path string) (*SQLiteEngine, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite cache path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(pctx, `
CREATE TABLE IF NOT EXISTS cache_entries (
  key        TEXT PRIMARY KEY,
  value      BLOB NOT NULL,
  expires_at TEXT
);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache table: %w", err)
	}

	return &SQLiteEngine{db: db, now: time.Now}, nil
}

// Name implements Engine.
func (e *SQLiteEngine) Name() string { return "sqlite" }

// Get retrieves a value. Returns (nil, false) on miss, expiry, or storage
// error; storage errors are logged, not surfaced.
func (e *SQLiteEngine) Get(ctx context.Context, key string) ([]byte, bool) {
	var value []byte
	var expiresAt sql.NullString

	row := e.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?;`, key)
	if err := row.Scan(&value, &expiresAt); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.WithComponent("cache").Warn("sqlite get failed", "error", err)
		}
		return nil, false
	}

	if expiresAt.Valid {
		exp, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err != nil || e.now().After(exp) {
			// Expired - clean up lazily
			_, _ = e.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?;`, key)
			return nil, false
		}
	}

	return value, true
}

// Set stores a value. ttl <= 0 stores without expiry.
func (e *SQLiteEngine) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt any
	if ttl > 0 {
		expiresAt = e.now().Add(ttl).UTC().Format(time.RFC3339Nano)
	}

	_, err := e.db.ExecContext(ctx, `
INSERT INTO cache_entries(key, value, expires_at) VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at;
`, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

// Delete removes a value. Idempotent - no error on miss.
func (e *SQLiteEngine) Delete(ctx context.Context, key string) error {
	if _, err := e.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?;`, key); err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (e *SQLiteEngine) Close() error {
	return e.db.Close()
}

var _ Engine = (*SQLiteEngine)(nil)
