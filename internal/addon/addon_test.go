package addon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/addongw/internal/cache"
)

func newTestContext() *Context {
	return &Context{
		Cache: cache.New(cache.NewMemoryEngine(), cache.Options{Prefix: "test"}),
	}
}

func TestRequestCacheMissThenReplay(t *testing.T) {
	ctx := context.Background()
	rc := newTestContext()

	require.NoError(t, rc.RequestCache(ctx, "key"))
	handle := rc.CacheHandle()
	require.NotNil(t, handle)
	require.NoError(t, handle.Set(ctx, map[string]any{"v": 1}))

	// A second request for the same key observes the replay signal.
	rc2 := &Context{Cache: rc.Cache}
	err := rc2.RequestCache(ctx, "key")
	var replay *cache.ReplayError
	require.ErrorAs(t, err, &replay)
	assert.True(t, replay.Replayed())
	assert.JSONEq(t, `{"v":1}`, string(replay.Value))
}

func TestRequestCacheDoubleSetup(t *testing.T) {
	ctx := context.Background()
	rc := newTestContext()

	require.NoError(t, rc.RequestCache(ctx, "one"))
	err := rc.RequestCache(ctx, "two")
	assert.ErrorIs(t, err, ErrRequestCacheSet)

	rc.CacheHandle().Cancel()
}

func TestBasicValidate(t *testing.T) {
	handler := func(context.Context, any, *Context) (any, error) { return nil, nil }

	tests := []struct {
		name    string
		addon   *Basic
		wantErr string
	}{
		{
			name:  "valid worker",
			addon: NewBasic("my-addon", TypeWorker).HandleFunc(ActionResolve, handler),
		},
		{
			name:    "empty id",
			addon:   NewBasic("", TypeWorker).HandleFunc(ActionResolve, handler),
			wantErr: "id is empty",
		},
		{
			name:    "bad slug",
			addon:   NewBasic("My Addon!", TypeWorker).HandleFunc(ActionResolve, handler),
			wantErr: "not a valid slug",
		},
		{
			name:    "unknown type",
			addon:   NewBasic("my-addon", "weird").HandleFunc(ActionResolve, handler),
			wantErr: "is unknown",
		},
		{
			name:    "no handlers",
			addon:   NewBasic("my-addon", TypeWorker),
			wantErr: "no action handlers",
		},
		{
			name:    "repository without repository action",
			addon:   NewBasic("repo", TypeRepository).HandleFunc(ActionAddon, handler),
			wantErr: "does not handle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.addon.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBasicBuiltinSelftest(t *testing.T) {
	b := NewBasic("a", TypeWorker).HandleFunc(ActionResolve,
		func(context.Context, any, *Context) (any, error) { return nil, nil })

	fn, ok := b.Handler(ActionSelftest)
	require.True(t, ok)
	out, err := fn(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	_, ok = b.Handler(ActionCaptcha)
	assert.False(t, ok)
}

func TestDeepCopyIsolation(t *testing.T) {
	in := map[string]any{"a": map[string]any{"b": 1}}
	snap, err := DeepCopy(in)
	require.NoError(t, err)

	in["a"].(map[string]any)["b"] = 2
	assert.Equal(t, float64(1), snap.(map[string]any)["a"].(map[string]any)["b"])

	nilSnap, err := DeepCopy(nil)
	require.NoError(t, err)
	assert.Nil(t, nilSnap)

	_, err = DeepCopy(func() {})
	assert.Error(t, err, "non-serializable input must fail")
}
