package record

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.jsonl")

	r, err := New(path)
	require.NoError(t, err)

	require.NoError(t, r.Write(Record{
		Addon:      "example",
		Action:     "resolve",
		Input:      map[string]any{"url": "http://example.com"},
		Output:     map[string]any{"resolved": true},
		StatusCode: 200,
	}))
	require.NoError(t, r.Write(Record{
		Addon:      "example",
		Action:     "captcha",
		StatusCode: 500,
		Output:     map[string]any{"error": "nothing found"},
	}))
	require.NoError(t, r.Close())

	recs, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.NotEmpty(t, recs[0].ID)
	assert.False(t, recs[0].RecordedAt.IsZero())
	assert.Equal(t, "resolve", recs[0].Action)
	assert.Equal(t, 200, recs[0].StatusCode)
	assert.Equal(t, map[string]any{"url": "http://example.com"}, recs[0].Input)
	assert.Equal(t, 500, recs[1].StatusCode)
}

func TestWriteAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.jsonl")
	r, err := New(path)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close(), "close is idempotent")

	err = r.Write(Record{Addon: "a", Action: "resolve"})
	assert.ErrorContains(t, err, "closed")
}

func TestReadSince(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.jsonl")
	r, err := New(path)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Write(Record{Addon: "a", Action: "resolve", StatusCode: 200}))

	recs, offset, err := ReadSince(path, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Greater(t, offset, int64(0))

	// No new data.
	recs, offset2, err := ReadSince(path, offset)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, offset, offset2)

	require.NoError(t, r.Write(Record{Addon: "a", Action: "selftest", StatusCode: 200}))
	recs, _, err = ReadSince(path, offset)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "selftest", recs[0].Action)
}

func TestReadSinceTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.jsonl")
	r, err := New(path)
	require.NoError(t, err)
	require.NoError(t, r.Write(Record{Addon: "a", Action: "resolve"}))
	require.NoError(t, r.Close())

	_, offset, err := ReadSince(path, 0)
	require.NoError(t, err)

	// Simulate rotation.
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	recs, newOffset, err := ReadSince(path, offset)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, int64(0), newOffset)
}

func TestNewRejectsEmptyPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
