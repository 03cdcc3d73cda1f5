package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"

	"github.com/mattjoyce/addongw/internal/addon"
	"github.com/mattjoyce/addongw/internal/auth"
	"github.com/mattjoyce/addongw/internal/cache"
	"github.com/mattjoyce/addongw/internal/log"
	"github.com/mattjoyce/addongw/internal/migrate"
	"github.com/mattjoyce/addongw/internal/record"
)

// Request is one inbound action request as delivered by the transport.
type Request struct {
	// Action names the operation.
	Action string

	// Input is the decoded JSON input.
	Input any

	// Sig is the request signature; may be empty.
	Sig string

	// Remote is transport metadata (client address), for diagnostics.
	Remote string

	// Send delivers the response.
	Send SendFunc
}

// HandlerFunc is the per-addon request handler manufactured by
// Engine.CreateAddonHandler. It resolves once the response has been sent;
// request failures become status+body responses, never returned errors.
type HandlerFunc func(ctx context.Context, req *Request) error

// errorBody is the uniform failure response shape.
func errorBody(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}

// dispatch runs the full request pipeline for one inbound request.
func (e *Engine) dispatch(ctx context.Context, a addon.Addon, req *Request) error {
	logger := log.WithAction(a.ID(), req.Action)
	responder := NewResponder(req.Send)
	input := req.Input

	// Snapshot the input before any mutation: the recording must reflect
	// what the caller actually sent.
	var snapshot any
	if e.recorder != nil {
		var err error
		snapshot, err = addon.DeepCopy(input)
		if err != nil {
			return sendAndDetach(ctx, responder, http.StatusInternalServerError, errorBody(err))
		}
	}

	// Init middleware.
	for _, mw := range e.opts.Middlewares.Init {
		next, err := mw(ctx, a, req.Action, input)
		if err != nil {
			logger.Warn("init middleware failed", "error", err)
			return sendAndDetach(ctx, responder, http.StatusInternalServerError, errorBody(err))
		}
		input = next
	}

	// Task callbacks bypass the rest of the pipeline entirely.
	if req.Action == addon.ActionTask {
		return e.handleTaskResponse(ctx, e.opts.Cache, a, input, req.Send)
	}

	// Resolve the handler before verifying identity, so missing-handler
	// failures surface independent of authentication.
	handler, ok := a.Handler(req.Action)
	if !ok {
		err := fmt.Errorf("addon %q has no handler for action %q", a.ID(), req.Action)
		return sendAndDetach(ctx, responder, http.StatusInternalServerError, errorBody(err))
	}

	testMode := e.opts.ReplayMode || req.Action == addon.ActionSelftest

	// Authentication.
	var user *auth.User
	if !e.skipAuth(a, req.Action, testMode) {
		var err error
		user, err = e.opts.Validator.Validate(req.Sig)
		if err != nil {
			logger.Debug("signature rejected", "remote", req.Remote, "error", err)
			return sendAndDetach(ctx, responder, http.StatusForbidden, errorBody(err))
		}
	}

	// Migration/validation, request half.
	mc := migrate.NewContext(a, user)
	pair := migrate.Resolve(e.opts.Migrations, e.opts.Validators, a.Type(), req.Action)
	input, err := pair.Request(mc, input)
	if err != nil {
		return sendAndDetach(ctx, responder, http.StatusBadRequest, errorBody(err))
	}

	// Scope the cache to the addon, merged with its declared defaults.
	scoped := e.opts.Cache.
		Clone(cache.Options{Prefix: a.ID()}).
		Clone(a.DefaultCacheOptions())

	rc := &addon.Context{
		Addon:    a,
		Cache:    scoped,
		User:     user,
		TestMode: testMode,
	}
	e.bindTaskHelpers(rc, scoped, responder, testMode)

	statusCode := http.StatusOK
	output, err := e.runHandler(ctx, a, req.Action, rc, pair, mc, handler, &input)

	if err != nil {
		statusCode, output = e.handleFailure(ctx, rc, logger, err)
	}
	// Hand an uncommitted flight back so concurrent waiters don't stall.
	if h := rc.CacheHandle(); h != nil {
		h.Cancel()
	}

	// Response middleware.
	for _, mw := range e.opts.Middlewares.Response {
		next, mwErr := mw(ctx, a, req.Action, rc, input, output)
		if mwErr != nil {
			logger.Warn("response middleware failed", "error", mwErr)
			statusCode, output = http.StatusInternalServerError, errorBody(mwErr)
			break
		}
		output = next
	}

	// Recording. Early 403/400 terminations never reach this point.
	if e.recorder != nil {
		if recErr := e.recorder.Write(record.Record{
			Addon:      a.ID(),
			Action:     req.Action,
			Input:      snapshot,
			Output:     output,
			StatusCode: statusCode,
		}); recErr != nil {
			logger.Warn("recording failed", "error", recErr)
		}
	}

	return sendAndDetach(ctx, responder, statusCode, output)
}

// runHandler executes steps that may establish and commit the request
// cache: request middleware, the handler, response migration, and the cache
// commit. input is updated in place so response middleware sees the value
// the handler saw.
func (e *Engine) runHandler(
	ctx context.Context,
	a addon.Addon,
	action string,
	rc *addon.Context,
	pair migrate.Pair,
	mc *migrate.Context,
	handler addon.HandlerFunc,
	input *any,
) (any, error) {
	in := *input
	for _, mw := range e.opts.Middlewares.Request {
		next, err := mw(ctx, a, action, rc, in)
		if err != nil {
			return nil, err
		}
		in = next
	}
	*input = in

	output, err := handler(ctx, in, rc)
	if err != nil {
		return nil, err
	}

	// Domain policy: some actions must produce a result; an empty success
	// is a failure, not a valid empty response.
	if e.opts.ResultRequired[action] && isEmptyResult(output) {
		return nil, ErrNothingFound
	}

	output, err = pair.Response(mc, in, output)
	if err != nil {
		return nil, err
	}

	if h := rc.CacheHandle(); h != nil {
		if err := h.Set(ctx, output); err != nil {
			return nil, err
		}
	}
	return output, nil
}

// handleFailure converts a pipeline failure into a status+body pair. The
// cache-found signal replays the stored outcome; every other failure is
// committed to the request cache (when set) for future replay.
func (e *Engine) handleFailure(ctx context.Context, rc *addon.Context, logger *slog.Logger, err error) (int, any) {
	var replay *cache.ReplayError
	if errors.As(err, &replay) {
		if replay.Replayed() {
			var out any
			if uerr := json.Unmarshal(replay.Value, &out); uerr != nil {
				return http.StatusInternalServerError, errorBody(uerr)
			}
			return http.StatusOK, out
		}
		return http.StatusInternalServerError, map[string]any{"error": replay.Message}
	}

	if h := rc.CacheHandle(); h != nil {
		if cerr := h.SetError(ctx, err); cerr != nil {
			logger.Warn("request cache error commit failed", "error", cerr)
		}
	}
	if !IsSilent(err) {
		logger.Warn("request failed", "error", err)
	}
	return http.StatusInternalServerError, errorBody(err)
}

// skipAuth reports whether identity resolution is bypassed for this request.
func (e *Engine) skipAuth(a addon.Addon, action string, testMode bool) bool {
	switch {
	case testMode:
		return true
	case e.opts.Env.SkipAuth:
		return true
	case action == addon.ActionAddon:
		// Bare descriptor fetches are public.
		return true
	case a.Type() == addon.TypeRepository && action == addon.ActionRepository:
		return true
	default:
		return false
	}
}

// sendAndDetach delivers the final response and detaches the send callback
// so a later accidental reuse cannot produce a duplicate send.
func sendAndDetach(ctx context.Context, r *Responder, status int, body any) error {
	id, err := r.Send(ctx, status, body)
	if err != nil {
		return err
	}
	return r.SetSendResponse(id, nil)
}

// isEmptyResult reports whether a handler output counts as "nothing".
func isEmptyResult(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.Len() == 0
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
