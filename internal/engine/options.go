package engine

import (
	"context"
	"os"
	"path/filepath"

	"github.com/mattjoyce/addongw/internal/addon"
	"github.com/mattjoyce/addongw/internal/auth"
	"github.com/mattjoyce/addongw/internal/cache"
	"github.com/mattjoyce/addongw/internal/config"
	"github.com/mattjoyce/addongw/internal/migrate"
)

// Middleware stages. Each stage is an ordered list applied left to right;
// every transform may replace the value it receives.
type (
	// InitMiddleware runs before anything else, on the raw input.
	InitMiddleware func(ctx context.Context, a addon.Addon, action string, input any) (any, error)

	// RequestMiddleware runs after migration, with the request context.
	RequestMiddleware func(ctx context.Context, a addon.Addon, action string, rc *addon.Context, input any) (any, error)

	// ResponseMiddleware runs on the final output, before recording.
	ResponseMiddleware func(ctx context.Context, a addon.Addon, action string, rc *addon.Context, input, output any) (any, error)
)

// Middlewares groups the three hook points.
type Middlewares struct {
	Init     []InitMiddleware
	Request  []RequestMiddleware
	Response []ResponseMiddleware
}

// Options is the engine configuration. It is mutable only until the first
// handler is created.
type Options struct {
	// Cache is the root cache facade. Defaults to a facade over the
	// environment-selected engine.
	Cache *cache.Facade

	// Middlewares are the configured transform chains.
	Middlewares Middlewares

	// RecordPath enables request recording when non-empty. Refused in
	// production.
	RecordPath string

	// ReplayMode forces test mode for every request.
	ReplayMode bool

	// Validator verifies request signatures.
	Validator auth.Validator

	// Migrations maps actions to versioned transforms.
	Migrations migrate.Table

	// Validators are the default schema checks used when no migration
	// covers an action.
	Validators migrate.Validators

	// ResultRequired lists actions whose handlers must produce a
	// non-empty result.
	ResultRequired map[string]bool

	// Env carries the process environment controls.
	Env config.Env
}

// Option mutates engine options.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		Validators: migrate.DefaultValidators(),
		ResultRequired: map[string]bool{
			addon.ActionResolve: true,
			addon.ActionCaptcha: true,
		},
		Validator: auth.ValidatorFunc(func(string) (*auth.User, error) {
			return nil, auth.ErrInvalidSignature
		}),
	}
}

// defaultCache builds the environment-selected cache facade.
func defaultCache(env config.Env) (*cache.Facade, error) {
	path := ""
	if env.CacheEngine == "sqlite" {
		path = filepath.Join(os.TempDir(), "addongw", "cache.db")
	}
	eng, err := cache.OpenEngine(context.Background(), env.CacheEngine, path)
	if err != nil {
		return nil, err
	}
	return cache.New(eng, cache.Options{}), nil
}

// WithCache sets the root cache facade.
func WithCache(f *cache.Facade) Option {
	return func(o *Options) { o.Cache = f }
}

// WithInitMiddleware appends init-stage transforms.
func WithInitMiddleware(fns ...InitMiddleware) Option {
	return func(o *Options) { o.Middlewares.Init = append(o.Middlewares.Init, fns...) }
}

// WithRequestMiddleware appends request-stage transforms.
func WithRequestMiddleware(fns ...RequestMiddleware) Option {
	return func(o *Options) { o.Middlewares.Request = append(o.Middlewares.Request, fns...) }
}

// WithResponseMiddleware appends response-stage transforms.
func WithResponseMiddleware(fns ...ResponseMiddleware) Option {
	return func(o *Options) { o.Middlewares.Response = append(o.Middlewares.Response, fns...) }
}

// WithRecordPath enables request recording to path.
func WithRecordPath(path string) Option {
	return func(o *Options) { o.RecordPath = path }
}

// WithReplayMode toggles global replay mode.
func WithReplayMode(on bool) Option {
	return func(o *Options) { o.ReplayMode = on }
}

// WithValidator sets the signature validator.
func WithValidator(v auth.Validator) Option {
	return func(o *Options) { o.Validator = v }
}

// WithMigrations sets the migration table.
func WithMigrations(t migrate.Table) Option {
	return func(o *Options) { o.Migrations = t }
}

// WithValidators sets the default validator registry.
func WithValidators(v migrate.Validators) Option {
	return func(o *Options) { o.Validators = v }
}

// WithResultRequiredActions replaces the set of actions whose handlers must
// produce a non-empty result.
func WithResultRequiredActions(actions ...string) Option {
	return func(o *Options) {
		o.ResultRequired = make(map[string]bool, len(actions))
		for _, a := range actions {
			o.ResultRequired[a] = true
		}
	}
}

// WithEnv sets the environment controls.
func WithEnv(env config.Env) Option {
	return func(o *Options) { o.Env = env }
}
