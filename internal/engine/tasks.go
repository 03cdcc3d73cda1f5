package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/addongw/internal/addon"
	"github.com/mattjoyce/addongw/internal/cache"
	"github.com/mattjoyce/addongw/internal/log"
)

// Task types carried in the envelope sent to the client.
const (
	taskTypeFetch        = "fetch"
	taskTypeRecaptcha    = "recaptcha"
	taskTypeToast        = "toast"
	taskTypeNotification = "notification"
)

// taskTimeout bounds one client round-trip.
const taskTimeout = 30 * time.Second

// taskHTTPClient performs direct fetches in test mode.
var taskHTTPClient = &http.Client{Timeout: taskTimeout}

// taskEnvelope is the out-of-band response a suspended helper emits. The
// client executes the task and calls back with action "task".
type taskEnvelope struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// taskResult is delivered by the task callback to the waiting helper.
type taskResult struct {
	data   any
	errMsg string
	send   SendFunc
}

func taskWaitKey(id string) string { return "task:wait:" + id }

// bindTaskHelpers attaches the four task helpers to the request context.
func (e *Engine) bindTaskHelpers(rc *addon.Context, scoped *cache.Facade, r *Responder, testMode bool) {
	rc.Fetch = e.newFetchHelper(scoped, r, testMode)
	rc.Recaptcha = e.newRecaptchaHelper(scoped, r, testMode)
	rc.Toast = e.newToastHelper(scoped, r, testMode)
	rc.Notification = e.newNotificationHelper(scoped, r, testMode)
}

// taskRoundTrip suspends the current request on a client round-trip: it
// emits the task through the responder, waits for the task callback, and
// rebinds the responder onto the callback's send channel so the request's
// final response flows through it.
func (e *Engine) taskRoundTrip(ctx context.Context, scoped *cache.Facade, r *Responder, typ string, data any) (any, error) {
	id := uuid.NewString()

	ch := make(chan taskResult, 1)
	e.taskWaiters.Store(id, ch)
	defer e.taskWaiters.Delete(id)

	if err := scoped.SetWithTTL(ctx, taskWaitKey(id), true, 2*taskTimeout); err != nil {
		return nil, fmt.Errorf("register task: %w", err)
	}
	defer func() { _ = scoped.Delete(ctx, taskWaitKey(id)) }()

	respID, err := r.Send(ctx, http.StatusOK, taskEnvelope{Kind: "task", ID: id, Type: typ, Data: data})
	if err != nil {
		return nil, fmt.Errorf("emit task: %w", err)
	}

	select {
	case res := <-ch:
		if err := r.SetSendResponse(respID, res.send); err != nil {
			return nil, err
		}
		if res.errMsg != "" {
			return nil, fmt.Errorf("task %s failed on client: %s", typ, res.errMsg)
		}
		return res.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(taskTimeout):
		return nil, fmt.Errorf("task %s timed out waiting for client", typ)
	}
}

// handleTaskResponse is the action == "task" entry: it resolves the
// suspended helper for the callback's task id and hands it the result along
// with the new send channel.
func (e *Engine) handleTaskResponse(ctx context.Context, root *cache.Facade, a addon.Addon, input any, send SendFunc) error {
	responder := NewResponder(send)

	obj, ok := input.(map[string]any)
	if !ok {
		return sendAndDetach(ctx, responder, http.StatusBadRequest,
			errorBody(fmt.Errorf("task callback input must be an object")))
	}
	id, _ := obj["id"].(string)
	if id == "" {
		return sendAndDetach(ctx, responder, http.StatusBadRequest,
			errorBody(fmt.Errorf("task callback requires an id")))
	}

	// Same scoping as the suspended request, so the wait marker matches.
	scoped := root.
		Clone(cache.Options{Prefix: a.ID()}).
		Clone(a.DefaultCacheOptions())

	if _, ok := scoped.Get(ctx, taskWaitKey(id)); !ok {
		return sendAndDetach(ctx, responder, http.StatusInternalServerError,
			errorBody(fmt.Errorf("task %q is unknown or expired", id)))
	}
	_ = scoped.Delete(ctx, taskWaitKey(id))

	waiter, ok := e.taskWaiters.LoadAndDelete(id)
	if !ok {
		return sendAndDetach(ctx, responder, http.StatusInternalServerError,
			errorBody(fmt.Errorf("task %q is not waiting in this process", id)))
	}

	errMsg, _ := obj["error"].(string)
	waiter.(chan taskResult) <- taskResult{
		data:   obj["result"],
		errMsg: errMsg,
		send:   send,
	}
	// The callback's send channel now belongs to the suspended request;
	// its final response is delivered through it.
	return nil
}

func (e *Engine) newFetchHelper(scoped *cache.Facade, r *Responder, testMode bool) addon.FetchFunc {
	return func(ctx context.Context, req addon.FetchRequest) (*addon.FetchResponse, error) {
		if req.URL == "" {
			return nil, fmt.Errorf("fetch: url is empty")
		}
		if testMode {
			return directFetch(ctx, req)
		}

		data, err := e.taskRoundTrip(ctx, scoped, r, taskTypeFetch, req)
		if err != nil {
			return nil, err
		}
		var resp addon.FetchResponse
		if err := remarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("fetch: bad client result: %w", err)
		}
		return &resp, nil
	}
}

func (e *Engine) newRecaptchaHelper(scoped *cache.Facade, r *Responder, testMode bool) addon.RecaptchaFunc {
	return func(ctx context.Context, siteKey, action string) (string, error) {
		if testMode {
			return "", fmt.Errorf("recaptcha is not supported in test mode")
		}

		data, err := e.taskRoundTrip(ctx, scoped, r, taskTypeRecaptcha, map[string]any{
			"siteKey": siteKey,
			"action":  action,
		})
		if err != nil {
			return "", err
		}
		obj, _ := data.(map[string]any)
		token, _ := obj["token"].(string)
		if token == "" {
			return "", fmt.Errorf("recaptcha: client returned no token")
		}
		return token, nil
	}
}

func (e *Engine) newToastHelper(scoped *cache.Facade, r *Responder, testMode bool) addon.ToastFunc {
	return func(ctx context.Context, text string) error {
		if testMode {
			log.WithComponent("tasks").Info("toast (test mode)", "text", text)
			return nil
		}
		_, err := e.taskRoundTrip(ctx, scoped, r, taskTypeToast, map[string]any{"text": text})
		return err
	}
}

func (e *Engine) newNotificationHelper(scoped *cache.Facade, r *Responder, testMode bool) addon.NotificationFunc {
	return func(ctx context.Context, n addon.Notification) error {
		if testMode {
			log.WithComponent("tasks").Info("notification (test mode)", "title", n.Title)
			return nil
		}
		_, err := e.taskRoundTrip(ctx, scoped, r, taskTypeNotification, n)
		return err
	}
}

// directFetch performs the HTTP request in-process. Test mode only.
func directFetch(ctx context.Context, req addon.FetchRequest) (*addon.FetchResponse, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := taskHTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}

	headers := make(map[string]string, len(httpResp.Header))
	for k := range httpResp.Header {
		headers[k] = httpResp.Header.Get(k)
	}
	return &addon.FetchResponse{
		Status:  httpResp.StatusCode,
		Headers: headers,
		Body:    string(raw),
	}, nil
}

// remarshal converts loosely-typed JSON data into a concrete type.
func remarshal(data, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
