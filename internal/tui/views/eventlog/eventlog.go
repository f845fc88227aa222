// Package eventlog provides a scrollable event log overlay.
package eventlog

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kuntur/kuntur/internal/tui/theme"
)

const maxEntries = 200

// Entry is a single event log line.
type Entry struct {
	Time    time.Time
	Kind    string // "ws", "arm", "vid", "aud", "err"
	Message string
}

// Model holds the log buffer and the viewport that scrolls it.
type Model struct {
	Entries []Entry
	vp      viewport.Model
	now     func() time.Time
}

func New() Model {
	vp := viewport.New(60, 10)
	vp.MouseWheelEnabled = true
	return Model{vp: vp, now: time.Now}
}

// Add appends a log entry, caps the buffer and scrolls to the bottom.
func (m *Model) Add(kind, message string) {
	m.Entries = append(m.Entries, Entry{
		Time:    m.now(),
		Kind:    kind,
		Message: message,
	})
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
	m.refresh()
	m.vp.GotoBottom()
}

// SetSize fits the viewport inside a panel of the given outer size.
func (m *Model) SetSize(width, height int) {
	m.vp.Width = max(20, width-6)
	m.vp.Height = max(3, height-8)
	m.refresh()
}

func (m *Model) refresh() {
	var lines []string
	for _, e := range m.Entries {
		ts := theme.StyleDimmed.Render(e.Time.Format("15:04:05.000"))
		kind := lipgloss.NewStyle().Foreground(kindToColor(e.Kind)).Width(4).Render(e.Kind)
		lines = append(lines, fmt.Sprintf("%s %s %s", ts, kind, e.Message))
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
}

// Update forwards scroll keys and mouse events to the viewport.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

// View renders the log as an overlay panel.
func (m Model) View() string {
	title := theme.StyleHeader.Render(" EVENT LOG ")
	help := theme.StyleDimmed.Render(fmt.Sprintf("j/k:scroll  esc:close  %d entries", len(m.Entries)))

	body := m.vp.View()
	if len(m.Entries) == 0 {
		body = theme.StyleDimmed.Render("  No events recorded yet.")
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", help)
	return lipgloss.NewStyle().
		Width(m.vp.Width+4).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}

func kindToColor(kind string) lipgloss.Color {
	switch kind {
	case "ws":
		return theme.ColorConnecting
	case "arm":
		return theme.ColorTransition
	case "vid", "aud":
		return theme.ColorLive
	case "err":
		return theme.ColorError
	default:
		return theme.ColorDimmed
	}
}
