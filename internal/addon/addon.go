// Package addon defines the contract between the dispatch engine and the
// pluggable addon implementations it hosts, plus the per-request context
// addon handlers receive.
package addon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mattjoyce/addongw/internal/auth"
	"github.com/mattjoyce/addongw/internal/cache"
)

// Actions an addon can support.
const (
	ActionResolve    = "resolve"
	ActionCaptcha    = "captcha"
	ActionTask       = "task"
	ActionSelftest   = "selftest"
	ActionAddon      = "addon"
	ActionRepository = "repository"
)

// Addon types.
const (
	TypeWorker     = "worker"
	TypeRepository = "repository"
)

// ErrRequestCacheSet is returned when a handler establishes a second request
// cache for the same request. This is a programming error in the addon.
var ErrRequestCacheSet = errors.New("addon: request cache already set")

// HandlerFunc is one addon action handler. input is the decoded JSON input
// after migration; the returned value is the action output before response
// migration.
type HandlerFunc func(ctx context.Context, input any, rc *Context) (any, error)

// Addon is a pluggable provider of one or more actions. Implementations are
// shared across concurrent requests and must not be mutated by handlers.
type Addon interface {
	// ID returns the unique addon identity.
	ID() string

	// Type returns the declared addon type (worker, repository).
	Type() string

	// Validate checks the addon's own configuration. It runs once, at
	// engine construction.
	Validate() error

	// Handler resolves the handler for an action.
	Handler(action string) (HandlerFunc, bool)

	// DefaultCacheOptions are merged into the request-scoped cache.
	DefaultCacheOptions() cache.Options
}

// FetchRequest describes an HTTP fetch executed on the client's side of the
// transport (or directly, in test mode).
type FetchRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// FetchResponse is the outcome of a FetchRequest.
type FetchResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// Notification is a push notification surfaced on the client.
type Notification struct {
	Title string `json:"title"`
	Text  string `json:"text,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Task helper signatures bound into the request context by the engine.
type (
	FetchFunc        func(ctx context.Context, req FetchRequest) (*FetchResponse, error)
	RecaptchaFunc    func(ctx context.Context, siteKey, action string) (string, error)
	ToastFunc        func(ctx context.Context, text string) error
	NotificationFunc func(ctx context.Context, n Notification) error
)

// Context is the per-request state handed to action handlers. It is owned by
// a single pipeline execution and discarded when that execution returns.
type Context struct {
	// Addon is the addon this request is addressed to.
	Addon Addon

	// Cache is scoped to the addon (identity prefix + default options).
	Cache *cache.Facade

	// User is the verified caller identity; nil for anonymous requests.
	User *auth.User

	// TestMode is set during replay or selftest.
	TestMode bool

	// Task helpers. Each may suspend the request on a client round-trip.
	Fetch        FetchFunc
	Recaptcha    RecaptchaFunc
	Toast        ToastFunc
	Notification NotificationFunc

	mu           sync.Mutex
	requestCache *cache.InlineHandle
}

// RequestCache establishes the single-flight request cache for this request.
//
// On first call with a fresh key it registers the computation and returns
// nil; the pipeline commits the final output (or failure) into it. If a
// prior computation for the key already completed or is in flight, it
// returns the cache-found signal (*cache.ReplayError) which the handler must
// propagate. At most one request cache may be established per request.
func (c *Context) RequestCache(ctx context.Context, key any, opts ...cache.Options) error {
	c.mu.Lock()
	if c.requestCache != nil {
		c.mu.Unlock()
		return ErrRequestCacheSet
	}
	c.mu.Unlock()

	facade := c.Cache
	if len(opts) > 0 {
		facade = facade.Clone(opts[0])
	}

	res, err := facade.Inline(ctx, key)
	if err != nil {
		return fmt.Errorf("addon: request cache: %w", err)
	}
	if res.Found {
		return res.Replay()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.requestCache != nil {
		// Lost a race with another RequestCache call on the same
		// context; surface the programming error and hand the flight
		// back.
		res.Handle.Cancel()
		return ErrRequestCacheSet
	}
	c.requestCache = res.Handle
	return nil
}

// CacheHandle returns the established request cache handle, or nil.
func (c *Context) CacheHandle() *cache.InlineHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestCache
}

// DeepCopy returns a JSON round-tripped copy of v. The recorder uses it to
// snapshot inputs before middleware mutates them.
func DeepCopy(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("addon: deep copy: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("addon: deep copy: %w", err)
	}
	return out, nil
}
