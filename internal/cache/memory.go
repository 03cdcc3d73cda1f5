package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryEngine is an in-memory cache engine.
type MemoryEngine struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// NewMemoryEngine creates an empty in-memory engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		entries: make(map[string]*memoryEntry),
	}
}

// Name implements Engine.
func (e *MemoryEngine) Name() string { return "memory" }

// Get retrieves a value. Returns (nil, false) on miss or expiry.
func (e *MemoryEngine) Get(_ context.Context, key string) ([]byte, bool) {
	e.mu.RLock()
	entry, ok := e.entries[key]
	e.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		// Expired - clean up lazily
		e.mu.Lock()
		delete(e.entries, key)
		e.mu.Unlock()
		return nil, false
	}

	return entry.value, true
}

// Set stores a value. ttl <= 0 stores without expiry.
func (e *MemoryEngine) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := &memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	e.mu.Lock()
	e.entries[key] = entry
	e.mu.Unlock()
	return nil
}

// Delete removes a value. Idempotent - no error on miss.
func (e *MemoryEngine) Delete(_ context.Context, key string) error {
	e.mu.Lock()
	delete(e.entries, key)
	e.mu.Unlock()
	return nil
}

var _ Engine = (*MemoryEngine)(nil)
