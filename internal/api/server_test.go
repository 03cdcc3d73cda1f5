package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/addongw/internal/addon"
	"github.com/mattjoyce/addongw/internal/auth"
	"github.com/mattjoyce/addongw/internal/cache"
	"github.com/mattjoyce/addongw/internal/config"
	"github.com/mattjoyce/addongw/internal/engine"
	"github.com/mattjoyce/addongw/internal/log"
)

func testServer(t *testing.T, addons []addon.Addon, opts ...engine.Option) *httptest.Server {
	t.Helper()

	opts = append([]engine.Option{
		engine.WithCache(cache.New(cache.NewMemoryEngine(), cache.Options{})),
		engine.WithEnv(config.Env{SkipAuth: true}),
	}, opts...)
	eng, err := engine.New(addons, opts...)
	require.NoError(t, err)

	s, err := New(Config{Listen: ":0"}, eng, log.WithComponent("api"))
	require.NoError(t, err)

	srv := httptest.NewServer(s.setupRoutes())
	t.Cleanup(srv.Close)
	return srv
}

func postAction(t *testing.T, srv *httptest.Server, addonID, action string, input any, sig string) (*http.Response, map[string]any) {
	t.Helper()

	var body bytes.Buffer
	if input != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(input))
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/addons/"+addonID+"/"+action, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestHealthz(t *testing.T) {
	a := addon.NewBasic("demo", addon.TypeWorker).
		HandleFunc(addon.ActionResolve, func(_ context.Context, input any, _ *addon.Context) (any, error) {
			return input, nil
		})
	srv := testServer(t, []addon.Addon{a})

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthzResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.AddonsLoaded)
	assert.False(t, health.Recording)
}

func TestListAddons(t *testing.T) {
	a := addon.NewBasic("demo", addon.TypeWorker).
		HandleFunc(addon.ActionResolve, func(_ context.Context, input any, _ *addon.Context) (any, error) {
			return input, nil
		})
	srv := testServer(t, []addon.Addon{a})

	resp, err := srv.Client().Get(srv.URL + "/addons")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var addons []AddonSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&addons))
	require.Len(t, addons, 1)
	assert.Equal(t, "demo", addons[0].ID)
	assert.Equal(t, addon.TypeWorker, addons[0].Type)
}

func TestAddonActionSuccess(t *testing.T) {
	a := addon.NewBasic("demo", addon.TypeWorker).
		HandleFunc(addon.ActionResolve, func(_ context.Context, input any, _ *addon.Context) (any, error) {
			in := input.(map[string]any)
			return map[string]any{"resolved": in["url"]}, nil
		})
	srv := testServer(t, []addon.Addon{a})

	resp, body := postAction(t, srv, "demo", "resolve", map[string]any{"url": "https://example.org"}, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://example.org", body["resolved"])
}

func TestAddonActionUnknownAddon(t *testing.T) {
	a := addon.NewBasic("demo", addon.TypeWorker).
		HandleFunc(addon.ActionResolve, func(_ context.Context, input any, _ *addon.Context) (any, error) {
			return input, nil
		})
	srv := testServer(t, []addon.Addon{a})

	resp, body := postAction(t, srv, "nope", "resolve", map[string]any{"url": "x"}, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "unknown addon", body["error"])
}

func TestAddonActionBadJSON(t *testing.T) {
	a := addon.NewBasic("demo", addon.TypeWorker).
		HandleFunc(addon.ActionResolve, func(_ context.Context, input any, _ *addon.Context) (any, error) {
			return input, nil
		})
	srv := testServer(t, []addon.Addon{a})

	resp, err := srv.Client().Post(srv.URL+"/addons/demo/resolve", "application/json",
		bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAddonActionSignatureEnforced(t *testing.T) {
	const secret = "apisecret"
	a := addon.NewBasic("demo", addon.TypeWorker).
		HandleFunc(addon.ActionResolve, func(_ context.Context, _ any, rc *addon.Context) (any, error) {
			return map[string]any{"user": rc.User.ID}, nil
		})

	eng, err := engine.New([]addon.Addon{a},
		engine.WithCache(cache.New(cache.NewMemoryEngine(), cache.Options{})),
		engine.WithValidator(auth.NewJWTValidator(secret)),
	)
	require.NoError(t, err)
	s, err := New(Config{Listen: ":0"}, eng, log.WithComponent("api"))
	require.NoError(t, err)
	srv := httptest.NewServer(s.setupRoutes())
	defer srv.Close()

	// Unsigned request is rejected.
	resp, _ := postAction(t, srv, "demo", "resolve", map[string]any{"url": "x"}, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Signed request carries the verified identity into the handler.
	sig, err := auth.Sign(secret, auth.User{ID: "u1"}, time.Minute)
	require.NoError(t, err)
	resp, body := postAction(t, srv, "demo", "resolve", map[string]any{"url": "x"}, sig)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "u1", body["user"])
}

func TestAddonActionTaskRoundTripOverHTTP(t *testing.T) {
	a := addon.NewBasic("demo", addon.TypeWorker).
		HandleFunc(addon.ActionResolve, func(ctx context.Context, _ any, rc *addon.Context) (any, error) {
			if err := rc.Toast(ctx, "working"); err != nil {
				return nil, err
			}
			return map[string]any{"done": true}, nil
		})
	srv := testServer(t, []addon.Addon{a})

	// The first request suspends on the toast and answers with a task
	// envelope. Its connection must stay open until the callback lands,
	// so the body is closed only at the end.
	envelopeCh := make(chan map[string]any, 1)
	release := make(chan struct{})
	defer close(release)
	go func() {
		resp, err := srv.Client().Post(srv.URL+"/addons/demo/resolve", "application/json",
			bytes.NewBufferString(`{"url":"x"}`))
		if err != nil {
			envelopeCh <- map[string]any{"error": err.Error()}
			return
		}
		var env map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&env)
		envelopeCh <- env
		<-release
		resp.Body.Close()
	}()

	var envelope map[string]any
	select {
	case envelope = <-envelopeCh:
	case <-time.After(10 * time.Second):
		t.Fatal("no task envelope received")
	}
	require.Equal(t, "task", envelope["kind"])
	require.Equal(t, "toast", envelope["type"])
	id, _ := envelope["id"].(string)
	require.NotEmpty(t, id)

	// The callback resumes the suspended request; its final response
	// arrives on the callback's connection.
	resp, body := postAction(t, srv, "demo", "task", map[string]any{"id": id}, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"done": true}, body)
}
