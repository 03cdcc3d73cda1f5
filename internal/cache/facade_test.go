package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacadeSetGet(t *testing.T) {
	f := New(NewMemoryEngine(), Options{})
	ctx := context.Background()

	require.NoError(t, f.Set(ctx, "greeting", map[string]any{"hello": "world"}))

	var out map[string]any
	ok, err := f.GetJSON(ctx, "greeting", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "world", out["hello"])

	require.NoError(t, f.Delete(ctx, "greeting"))
	_, ok = f.Get(ctx, "greeting")
	assert.False(t, ok)
}

func TestFacadeStructuredKeys(t *testing.T) {
	f := New(NewMemoryEngine(), Options{})
	ctx := context.Background()

	key1 := map[string]any{"action": "resolve", "url": "http://example.com"}
	key2 := map[string]any{"url": "http://example.com", "action": "resolve"}

	require.NoError(t, f.Set(ctx, key1, "value"))

	// Equal maps digest equally regardless of insertion order.
	raw, ok := f.Get(ctx, key2)
	require.True(t, ok)
	assert.JSONEq(t, `"value"`, string(raw))
}

func TestClonePrefixScoping(t *testing.T) {
	f := New(NewMemoryEngine(), Options{Prefix: "root"})
	ctx := context.Background()

	a := f.Clone(Options{Prefix: "addon-a"})
	b := f.Clone(Options{Prefix: "addon-b"})

	require.NoError(t, a.Set(ctx, "k", 1))
	require.NoError(t, b.Set(ctx, "k", 2))

	var va, vb int
	ok, err := a.GetJSON(ctx, "k", &va)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = b.GetJSON(ctx, "k", &vb)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 1, va)
	assert.Equal(t, 2, vb)
	assert.Equal(t, "root:addon-a", a.Options().Prefix)
}

func TestCloneOptionInheritance(t *testing.T) {
	f := New(NewMemoryEngine(), Options{TTL: time.Hour, ErrorTTL: time.Minute})

	c := f.Clone(Options{TTL: 2 * time.Hour})
	assert.Equal(t, 2*time.Hour, c.Options().TTL)
	assert.Equal(t, time.Minute, c.Options().ErrorTTL, "zero fields inherit")
	assert.Same(t, f.Engine(), c.Engine())
}

func TestWait(t *testing.T) {
	f := New(NewMemoryEngine(), Options{})
	ctx := context.Background()

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = f.Set(ctx, "slow", "done")
	}()

	raw, err := f.Wait(ctx, "slow", 5*time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `"done"`, string(raw))
}

func TestWaitTimeout(t *testing.T) {
	f := New(NewMemoryEngine(), Options{})

	_, err := f.Wait(context.Background(), "never", 5*time.Millisecond, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrWaitTimeout)
}
