// Package watch implements the addongw-watch TUI: a live tail of the
// request recorder's JSONL stream with per-addon counters.
package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/addongw/internal/record"
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusFailed = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

// pollInterval is how often the recorder file is re-read for new records.
const pollInterval = time.Second

// maxRows caps the in-memory tail.
const maxRows = 200

// --- Messages ---

type recordsMsg struct {
	records []record.Record
	offset  int64
}

type tickMsg time.Time

type errMsg error

// Stats aggregates what has been seen so far.
type Stats struct {
	Total    int
	OK       int
	Failed   int
	PerAddon map[string]int
}

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	path string

	width  int
	height int

	offset  int64
	records []record.Record // newest first
	stats   Stats

	recordTable table.Model
	paused      bool
	lastError   string
}

// New creates a watch model tailing the recorder file at path.
func New(path string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Time", Width: 8},
			{Title: "St", Width: 3},
			{Title: "Addon", Width: 18},
			{Title: "Action", Width: 12},
			{Title: "Output", Width: 48},
		}),
		table.WithFocused(true),
		table.WithHeight(14),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		path:        path,
		stats:       Stats{PerAddon: make(map[string]int)},
		recordTable: t,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		pollRecords(m.path, 0),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "p":
			m.paused = !m.paused
			if !m.paused {
				return m, pollRecords(m.path, m.offset)
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recordTable.SetWidth(msg.Width - 6)

	case tickMsg:
		if m.paused {
			return m, nil
		}
		return m, pollRecords(m.path, m.offset)

	case recordsMsg:
		m.offset = msg.offset
		m.ingest(msg.records)
		m.lastError = ""
		return m, scheduleTick()

	case errMsg:
		m.lastError = msg.Error()
		return m, scheduleTick()
	}

	m.recordTable, cmd = m.recordTable.Update(msg)
	return m, cmd
}

// ingest folds newly read records into the tail and the counters.
func (m *Model) ingest(records []record.Record) {
	for _, r := range records {
		m.stats.Total++
		if r.StatusCode >= 400 {
			m.stats.Failed++
		} else {
			m.stats.OK++
		}
		m.stats.PerAddon[r.Addon]++
	}

	for i := len(records) - 1; i >= 0; i-- {
		m.records = append([]record.Record{records[i]}, m.records...)
	}
	if len(m.records) > maxRows {
		m.records = m.records[:maxRows]
	}

	rows := make([]table.Row, 0, len(m.records))
	for _, r := range m.records {
		rows = append(rows, table.Row{
			r.RecordedAt.Format("15:04:05"),
			fmt.Sprintf("%d", r.StatusCode),
			r.Addon,
			r.Action,
			compactJSON(r.Output),
		})
	}
	m.recordTable.SetRows(rows)
}

func (m Model) View() string {
	if m.width == 0 {
		return "Loading recorder stream..."
	}

	header := m.renderHeader()
	body := borderStyle.Render(m.recordTable.View())

	var errBar string
	if m.lastError != "" {
		errBar = statusFailed.Render(" ⚠ " + m.lastError)
	}

	help := dimStyle.Render(" [q] Quit • [p] Pause • [↑/↓] Scroll")
	if m.paused {
		help = dimStyle.Render(" [q] Quit • [p] Resume (paused) • [↑/↓] Scroll")
	}

	parts := []string{header, body}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Model) renderHeader() string {
	title := titleStyle.Render("ADDONGW WATCH")
	file := dimStyle.Render(m.path)
	counts := fmt.Sprintf(" %s %d  %s %d  Addons: %d",
		statusOK.Render("✔"), m.stats.OK,
		statusFailed.Render("✘"), m.stats.Failed,
		len(m.stats.PerAddon),
	)
	clock := dimStyle.Render(time.Now().Format("15:04:05"))

	line := lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", file)
	stats := lipgloss.JoinHorizontal(lipgloss.Top, counts, "  ", clock)

	return borderStyle.Width(m.width - 6).Render(
		lipgloss.JoinVertical(lipgloss.Left, line, stats),
	)
}

// --- Commands ---

func pollRecords(path string, offset int64) tea.Cmd {
	return func() tea.Msg {
		records, next, err := record.ReadSince(path, offset)
		if err != nil {
			return errMsg(err)
		}
		return recordsMsg{records: records, offset: next}
	}
}

func scheduleTick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// compactJSON renders an output value as a single-line JSON snippet.
func compactJSON(v any) string {
	if v == nil {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	s := string(raw)
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}
