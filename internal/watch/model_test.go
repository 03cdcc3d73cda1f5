package watch

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/addongw/internal/record"
)

func sampleRecords() []record.Record {
	now := time.Now()
	return []record.Record{
		{ID: "1", Addon: "demo", Action: "resolve", StatusCode: 200, Output: map[string]any{"ok": true}, RecordedAt: now},
		{ID: "2", Addon: "demo", Action: "resolve", StatusCode: 500, Output: map[string]any{"error": "boom"}, RecordedAt: now},
		{ID: "3", Addon: "other", Action: "captcha", StatusCode: 200, RecordedAt: now},
	}
}

func TestIngestUpdatesStats(t *testing.T) {
	m := New("/tmp/requests.jsonl")

	updated, _ := m.Update(recordsMsg{records: sampleRecords(), offset: 100})
	got := updated.(Model)

	assert.Equal(t, 3, got.stats.Total)
	assert.Equal(t, 2, got.stats.OK)
	assert.Equal(t, 1, got.stats.Failed)
	assert.Equal(t, 2, got.stats.PerAddon["demo"])
	assert.Equal(t, int64(100), got.offset)
	assert.Len(t, got.recordTable.Rows(), 3)
}

func TestNewestRecordFirst(t *testing.T) {
	m := New("/tmp/requests.jsonl")

	updated, _ := m.Update(recordsMsg{records: sampleRecords(), offset: 100})
	got := updated.(Model)

	rows := got.recordTable.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, "other", rows[0][2])
	assert.Equal(t, "demo", rows[2][2])
}

func TestTailIsCapped(t *testing.T) {
	m := New("/tmp/requests.jsonl")

	records := make([]record.Record, maxRows+50)
	for i := range records {
		records[i] = record.Record{ID: "r", Addon: "demo", Action: "resolve", StatusCode: 200, RecordedAt: time.Now()}
	}
	updated, _ := m.Update(recordsMsg{records: records, offset: 1})
	got := updated.(Model)

	assert.Len(t, got.records, maxRows)
	assert.Equal(t, maxRows+50, got.stats.Total)
}

func TestQuitKey(t *testing.T) {
	m := New("/tmp/requests.jsonl")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestPauseStopsPolling(t *testing.T) {
	m := New("/tmp/requests.jsonl")

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'p'}})
	paused := updated.(Model)
	assert.True(t, paused.paused)

	_, cmd := paused.Update(tickMsg(time.Now()))
	assert.Nil(t, cmd)
}

func TestErrorSurfacedAndRetried(t *testing.T) {
	m := New("/tmp/requests.jsonl")

	updated, cmd := m.Update(errMsg(assert.AnError))
	got := updated.(Model)
	assert.Equal(t, assert.AnError.Error(), got.lastError)
	assert.NotNil(t, cmd)
}

func TestCompactJSON(t *testing.T) {
	assert.Equal(t, "", compactJSON(nil))
	assert.Equal(t, `{"a":1}`, compactJSON(map[string]any{"a": 1}))

	long := make([]int, 200)
	assert.LessOrEqual(t, len(compactJSON(long)), 120)
}
