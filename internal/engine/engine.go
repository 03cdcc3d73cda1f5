// Package engine dispatches inbound action requests to addon handlers,
// enforcing authentication, migration, caching, middleware, and recording
// uniformly across every addon.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattjoyce/addongw/internal/addon"
	"github.com/mattjoyce/addongw/internal/log"
	"github.com/mattjoyce/addongw/internal/record"
)

// Engine is the process-wide orchestrator. It validates addons once at
// construction, freezes configuration when the first handler is created,
// and manufactures per-addon request handlers.
type Engine struct {
	mu       sync.Mutex
	addons   []addon.Addon
	opts     Options
	frozen   bool
	recorder *record.Recorder

	taskWaiters sync.Map // task id -> chan taskResult

	logger *slog.Logger
}

// New creates an engine hosting addons. Every addon is validated eagerly; a
// misconfigured addon must never reach request time.
func New(addons []addon.Addon, opts ...Option) (*Engine, error) {
	options := defaultOptions()
	for _, o := range opts {
		o(&options)
	}

	if options.Cache == nil {
		c, err := defaultCache(options.Env)
		if err != nil {
			return nil, fmt.Errorf("engine: default cache: %w", err)
		}
		options.Cache = c
	}

	for _, a := range addons {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("engine: addon %q failed validation: %w", a.ID(), err)
		}
	}

	return &Engine{
		addons: addons,
		opts:   options,
		logger: log.WithComponent("engine"),
	}, nil
}

// Addons returns the hosted addons in registration order.
func (e *Engine) Addons() []addon.Addon {
	return e.addons
}

// Addon returns the hosted addon with the given id.
func (e *Engine) Addon(id string) (addon.Addon, bool) {
	for _, a := range e.addons {
		if a.ID() == id {
			return a, true
		}
	}
	return nil, false
}

// UpdateOptions merges additional options into the live configuration.
// Fails with ErrFrozen once a handler has been created.
func (e *Engine) UpdateOptions(opts ...Option) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frozen {
		return ErrFrozen
	}
	for _, o := range opts {
		o(&e.opts)
	}
	return nil
}

// Initialize freezes configuration and prepares the recorder. It fails with
// ErrFrozen when called twice, and with ErrRecorderInProduction when
// recording is configured in production.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frozen {
		return ErrFrozen
	}
	return e.initializeLocked()
}

func (e *Engine) initializeLocked() error {
	if e.opts.RecordPath != "" {
		if e.opts.Env.Production {
			return ErrRecorderInProduction
		}
		rec, err := record.New(e.opts.RecordPath)
		if err != nil {
			return fmt.Errorf("engine: create recorder: %w", err)
		}
		e.recorder = rec
	}

	e.frozen = true
	e.logger.Info("engine initialized",
		"cache_engine", e.opts.Cache.Engine().Name(),
		"addons", len(e.addons),
		"recording", e.recorder != nil,
		"replay_mode", e.opts.ReplayMode,
	)
	return nil
}

// ensureInitialized lazily initializes on the first handler creation.
func (e *Engine) ensureInitialized() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frozen {
		return nil
	}
	return e.initializeLocked()
}

// Frozen reports whether configuration has been frozen.
func (e *Engine) Frozen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frozen
}

// Recorder returns the active recorder, or nil.
func (e *Engine) Recorder() *record.Recorder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recorder
}

// Close releases engine resources.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recorder != nil {
		return e.recorder.Close()
	}
	return nil
}

// CreateAddonHandler returns the request handler for a. The first call
// across any addon freezes configuration and initializes the engine.
func (e *Engine) CreateAddonHandler(a addon.Addon) (HandlerFunc, error) {
	if err := e.ensureInitialized(); err != nil {
		return nil, err
	}
	return func(ctx context.Context, req *Request) error {
		return e.dispatch(ctx, a, req)
	}, nil
}
