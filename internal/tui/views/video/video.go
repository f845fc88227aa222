// Package video renders the video session panel.
package video

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/kuntur/kuntur/internal/stream"
	"github.com/kuntur/kuntur/internal/tui/theme"
)

// Model renders the video session and the last downloaded frame.
type Model struct {
	Session stream.VideoSession
	Known   bool
	Width   int
	Spinner string

	// Frame bookkeeping from the last /api/video/frame request.
	FrameBytes int
	FrameErr   string
	FrameAt    time.Time

	now func() time.Time
}

// New returns an empty video view.
func New() Model {
	return Model{now: time.Now}
}

// Busy reports whether a spinner should be running.
func (m Model) Busy() bool {
	return m.Known && m.Session.Connecting
}

// FrameLoaded records a successful frame download.
func (m *Model) FrameLoaded(n int, at time.Time) {
	m.FrameBytes, m.FrameErr, m.FrameAt = n, "", at
}

// FrameFailed records a failed frame download.
func (m *Model) FrameFailed(err error) {
	m.FrameErr = err.Error()
}

func (m Model) View() string {
	if !m.Known {
		return theme.Panel("VIDEO", theme.StyleDimmed.Render("no camera"), m.Width)
	}
	v := m.Session
	phase := v.Phase()

	var b strings.Builder
	head := lipgloss.NewStyle().Foreground(theme.PhaseColor(phase)).Render(theme.PhaseGlyph(phase) + " " + phase)
	if m.Busy() && m.Spinner != "" {
		head = m.Spinner + " " + head
	}
	b.WriteString(head)
	b.WriteString(theme.StyleDimmed.Render(fmt.Sprintf("  quality %s", v.Quality)))
	if v.ProbedPath != "" {
		b.WriteString(theme.StyleDimmed.Render("  via " + v.ProbedPath))
	}

	if v.Active {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("snapshot %s", age(m.now(), v.LastSnapshotAt)))
		if m.FrameBytes > 0 {
			b.WriteString(fmt.Sprintf("  last frame %s (%s)", formatBytes(m.FrameBytes), age(m.now(), m.FrameAt)))
		}
	}
	if v.LastError != "" {
		b.WriteString("\n" + theme.StyleError.Render(v.LastError))
		b.WriteString("\n" + theme.StyleDimmed.Render("r: retry  c: clear"))
	} else if m.FrameErr != "" && v.Active {
		b.WriteString("\n" + lipgloss.NewStyle().Foreground(theme.ColorWarning).Render(m.FrameErr))
	}

	return theme.Panel("VIDEO", b.String(), m.Width)
}

func age(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	default:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
}

func formatBytes(n int) string {
	if n >= 1024 {
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	}
	return fmt.Sprintf("%d B", n)
}
