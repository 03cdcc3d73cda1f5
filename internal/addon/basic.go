package addon

import (
	"context"
	"fmt"
	"regexp"

	"github.com/mattjoyce/addongw/internal/cache"
)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

func validType(t string) bool {
	return t == TypeWorker || t == TypeRepository
}

// Basic is a code-assembled addon: handlers are registered per action.
type Basic struct {
	id        string
	typ       string
	handlers  map[string]HandlerFunc
	cacheOpts cache.Options
}

// NewBasic creates an addon with the given identity and type.
func NewBasic(id, typ string) *Basic {
	return &Basic{
		id:       id,
		typ:      typ,
		handlers: make(map[string]HandlerFunc),
	}
}

// HandleFunc registers fn for action. Registering the same action twice
// replaces the handler. Returns b for chaining.
func (b *Basic) HandleFunc(action string, fn HandlerFunc) *Basic {
	b.handlers[action] = fn
	return b
}

// SetDefaultCacheOptions sets the cache options merged into this addon's
// request scope.
func (b *Basic) SetDefaultCacheOptions(opts cache.Options) *Basic {
	b.cacheOpts = opts
	return b
}

// ID implements Addon.
func (b *Basic) ID() string { return b.id }

// Type implements Addon.
func (b *Basic) Type() string { return b.typ }

// DefaultCacheOptions implements Addon.
func (b *Basic) DefaultCacheOptions() cache.Options { return b.cacheOpts }

// Handler implements Addon. Every Basic addon answers selftest even without
// an explicit registration.
func (b *Basic) Handler(action string) (HandlerFunc, bool) {
	if fn, ok := b.handlers[action]; ok {
		return fn, true
	}
	if action == ActionSelftest {
		return selftestHandler, true
	}
	return nil, false
}

// Validate implements Addon.
func (b *Basic) Validate() error {
	if b.id == "" {
		return fmt.Errorf("addon id is empty")
	}
	if !idPattern.MatchString(b.id) {
		return fmt.Errorf("addon id %q is not a valid slug", b.id)
	}
	if !validType(b.typ) {
		return fmt.Errorf("addon type %q is unknown", b.typ)
	}
	if len(b.handlers) == 0 {
		return fmt.Errorf("addon declares no action handlers")
	}
	if b.typ == TypeRepository {
		if _, ok := b.handlers[ActionRepository]; !ok {
			return fmt.Errorf("repository addon does not handle %q", ActionRepository)
		}
	}
	return nil
}

func selftestHandler(_ context.Context, _ any, _ *Context) (any, error) {
	return "ok", nil
}

var _ Addon = (*Basic)(nil)
