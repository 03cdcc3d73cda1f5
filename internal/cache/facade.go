package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrWaitTimeout is returned by Wait when the key never appeared.
var ErrWaitTimeout = errors.New("cache: wait timed out")

// Options control how a Facade scopes and stores entries.
type Options struct {
	// Prefix namespaces every key of this facade. Clones append to it.
	Prefix string

	// TTL applies to successful values. Zero inherits the parent's TTL
	// on Clone; the root default is 24h.
	TTL time.Duration

	// ErrorTTL applies to replayed failures. Root default is 10m.
	ErrorTTL time.Duration

	// InlineTimeout bounds how long a concurrent Inline call waits for
	// the in-flight computation. Root default is 30s.
	InlineTimeout time.Duration
}

func defaultOptions() Options {
	return Options{
		TTL:           24 * time.Hour,
		ErrorTTL:      10 * time.Minute,
		InlineTimeout: 30 * time.Second,
	}
}

// merge layers over on top of o. Prefixes compose; other fields override
// only when set.
func (o Options) merge(over Options) Options {
	out := o
	if over.Prefix != "" {
		if out.Prefix != "" {
			out.Prefix = out.Prefix + ":" + over.Prefix
		} else {
			out.Prefix = over.Prefix
		}
	}
	if over.TTL != 0 {
		out.TTL = over.TTL
	}
	if over.ErrorTTL != 0 {
		out.ErrorTTL = over.ErrorTTL
	}
	if over.InlineTimeout != 0 {
		out.InlineTimeout = over.InlineTimeout
	}
	return out
}

// Facade wraps an Engine with key scoping, JSON value handling, and the
// inline single-flight mechanism. Clones share the engine and the in-flight
// registry, so scoped facades coordinate with each other.
type Facade struct {
	engine  Engine
	opts    Options
	flights *flightGroup
}

// New creates a facade over engine. Zero option fields take root defaults.
func New(engine Engine, opts Options) *Facade {
	return &Facade{
		engine:  engine,
		opts:    defaultOptions().merge(opts),
		flights: newFlightGroup(),
	}
}

// Engine returns the underlying engine.
func (f *Facade) Engine() Engine { return f.engine }

// Options returns the effective options of this facade.
func (f *Facade) Options() Options { return f.opts }

// Clone derives a new scope. The clone shares the engine and in-flight
// registry; opts.Prefix is appended to the current prefix and non-zero
// fields override.
func (f *Facade) Clone(opts Options) *Facade {
	return &Facade{
		engine:  f.engine,
		opts:    f.opts.merge(opts),
		flights: f.flights,
	}
}

func (f *Facade) digest(key any) (string, error) {
	d, err := Digest(key)
	if err != nil {
		return "", err
	}
	if f.opts.Prefix == "" {
		return d, nil
	}
	return f.opts.Prefix + ":" + d, nil
}

// Get retrieves the raw stored bytes for key.
func (f *Facade) Get(ctx context.Context, key any) ([]byte, bool) {
	d, err := f.digest(key)
	if err != nil {
		return nil, false
	}
	return f.engine.Get(ctx, d)
}

// GetJSON retrieves key and unmarshals it into out. Returns false on miss.
func (f *Facade) GetJSON(ctx context.Context, key, out any) (bool, error) {
	raw, ok := f.Get(ctx, key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("cache: unmarshal value: %w", err)
	}
	return true, nil
}

// Set stores value under key with the facade's TTL.
func (f *Facade) Set(ctx context.Context, key, value any) error {
	return f.SetWithTTL(ctx, key, value, f.opts.TTL)
}

// SetWithTTL stores value under key with an explicit TTL.
func (f *Facade) SetWithTTL(ctx context.Context, key, value any, ttl time.Duration) error {
	d, err := f.digest(key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal value: %w", err)
	}
	return f.engine.Set(ctx, d, raw, ttl)
}

// Delete removes key. Idempotent.
func (f *Facade) Delete(ctx context.Context, key any) error {
	d, err := f.digest(key)
	if err != nil {
		return err
	}
	return f.engine.Delete(ctx, d)
}

// Wait polls for key until it appears, ctx is cancelled, or timeout elapses.
// Task helpers use it to suspend on a client round-trip.
func (f *Facade) Wait(ctx context.Context, key any, interval, timeout time.Duration) ([]byte, error) {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if raw, ok := f.Get(ctx, key); ok {
			return raw, nil
		}
		if timeout > 0 && time.Now().After(deadline) {
			return nil, ErrWaitTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
