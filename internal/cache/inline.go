package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInlineTimeout is returned when a concurrent Inline call gave up waiting
// for the in-flight computation.
var ErrInlineTimeout = errors.New("cache: inline wait timed out")

// ReplayError is the cache-found signal: a prior computation for the same
// key already completed (or completed while we waited). It is not a failure
// of the current request; callers distinguish it with errors.As and treat a
// carried Value as the result.
type ReplayError struct {
	// Value is the stored success payload. Nil when the prior
	// computation failed.
	Value json.RawMessage

	// Message is the stored failure message. Empty on success replay.
	Message string
}

// Error implements error.
func (e *ReplayError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("cache: replayed failure: %s", e.Message)
	}
	return "cache: replayed result"
}

// Replayed reports whether the signal carries a success payload.
func (e *ReplayError) Replayed() bool { return e.Value != nil }

// inlineEnvelope is the stored outcome of an inline computation.
type inlineEnvelope struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// InlineResult is the tagged outcome of Facade.Inline: either a hit carrying
// the prior outcome, or a miss carrying the handle that must commit one.
type InlineResult struct {
	// Found reports a hit.
	Found bool

	// Value is the replayed success payload (hit only).
	Value json.RawMessage

	// Err is the replayed failure message (hit only).
	Err string

	// Handle commits the outcome of this computation (miss only).
	Handle *InlineHandle
}

// Replay converts a hit into the cache-found signal.
func (r InlineResult) Replay() *ReplayError {
	return &ReplayError{Value: r.Value, Message: r.Err}
}

// Inline begins (or joins) a single-flight computation for key.
//
// The first caller gets a miss with a fresh handle and must eventually call
// Set, SetError, or Cancel on it. Concurrent callers for the same key block
// until the handle commits, then observe the committed outcome as a hit —
// they never recompute. Completed outcomes are stored with TTL (success) or
// ErrorTTL (failure) and replayed to later callers for as long as they live.
func (f *Facade) Inline(ctx context.Context, key any) (InlineResult, error) {
	d, err := f.digest(key)
	if err != nil {
		return InlineResult{}, err
	}

	for {
		if raw, ok := f.engine.Get(ctx, d); ok {
			var env inlineEnvelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return InlineResult{}, fmt.Errorf("cache: corrupt inline entry: %w", err)
			}
			return InlineResult{Found: true, Value: env.Result, Err: env.Error}, nil
		}

		done, leader := f.flights.acquire(d)
		if leader {
			return InlineResult{Handle: &InlineHandle{facade: f, digest: d}}, nil
		}

		// Another caller owns the computation. Wait for it to settle,
		// then loop to read its outcome (or take over if it cancelled).
		select {
		case <-done:
		case <-ctx.Done():
			return InlineResult{}, ctx.Err()
		case <-time.After(f.opts.InlineTimeout):
			return InlineResult{}, ErrInlineTimeout
		}
	}
}

// InlineHandle commits the outcome of one inline computation.
type InlineHandle struct {
	facade *Facade
	digest string

	mu   sync.Mutex
	done bool
}

// Set stores a successful outcome and releases waiters. Idempotent.
func (h *InlineHandle) Set(ctx context.Context, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal inline result: %w", err)
	}
	return h.commit(ctx, inlineEnvelope{Result: raw}, h.facade.opts.TTL)
}

// SetError stores a failed outcome and releases waiters. Idempotent.
func (h *InlineHandle) SetError(ctx context.Context, cause error) error {
	msg := cause.Error()
	if msg == "" {
		msg = "unknown error"
	}
	return h.commit(ctx, inlineEnvelope{Error: msg}, h.facade.opts.ErrorTTL)
}

// Cancel releases waiters without storing an outcome; the next caller
// becomes the new leader. Safe to defer alongside Set/SetError.
func (h *InlineHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return
	}
	h.done = true
	h.facade.flights.release(h.digest)
}

func (h *InlineHandle) commit(ctx context.Context, env inlineEnvelope, ttl time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return nil
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("cache: marshal inline envelope: %w", err)
	}
	if err := h.facade.engine.Set(ctx, h.digest, raw, ttl); err != nil {
		return err
	}

	h.done = true
	h.facade.flights.release(h.digest)
	return nil
}

// flightGroup tracks in-flight inline computations by digest.
type flightGroup struct {
	mu sync.Mutex
	m  map[string]chan struct{}
}

func newFlightGroup() *flightGroup {
	return &flightGroup{m: make(map[string]chan struct{})}
}

// acquire returns the completion channel for key and whether the caller is
// the leader (the one responsible for computing).
func (g *flightGroup) acquire(key string) (chan struct{}, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if done, ok := g.m[key]; ok {
		return done, false
	}
	done := make(chan struct{})
	g.m[key] = done
	return done, true
}

func (g *flightGroup) release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if done, ok := g.m[key]; ok {
		close(done)
		delete(g.m, key)
	}
}
