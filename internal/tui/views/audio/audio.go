// Package audio renders the audio session panel with a spring-animated
// level meter.
package audio

import (
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"

	"github.com/kuntur/kuntur/internal/stream"
	"github.com/kuntur/kuntur/internal/tui/theme"
)

const fps = 30

// FrameMsg advances the meter animation.
type FrameMsg struct{}

// Model renders the audio session with a spring-animated level meter.
type Model struct {
	Session stream.AudioSession
	Known   bool
	Width   int
	Spinner string

	spring   harmonica.Spring
	pos      float64
	vel      float64
	animated bool
}

// New returns an empty audio view.
func New() Model {
	return Model{
		spring: harmonica.NewSpring(harmonica.FPS(fps), 8.0, 0.6),
	}
}

// Busy reports whether a spinner should be running.
func (m Model) Busy() bool {
	return m.Known && m.Session.Connecting
}

// Animating reports whether the meter still needs frames.
func (m Model) Animating() bool {
	return m.animated
}

// SetSession updates the target level and returns a frame command when the
// animation needs to (re)start.
func (m *Model) SetSession(s stream.AudioSession) tea.Cmd {
	m.Session = s
	m.Known = true
	if m.settled() || m.animated {
		return nil
	}
	m.animated = true
	return frame()
}

func (m Model) target() float64 {
	if !m.Session.Live() {
		return 0
	}
	return m.Session.Level
}

func (m Model) settled() bool {
	return math.Abs(m.pos-m.target()) < 0.5 && math.Abs(m.vel) < 0.5
}

func frame() tea.Cmd {
	return tea.Tick(time.Second/fps, func(time.Time) tea.Msg { return FrameMsg{} })
}

// Update steps the spring on FrameMsg and stops once the meter settles.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if _, ok := msg.(FrameMsg); !ok {
		return m, nil
	}
	m.pos, m.vel = m.spring.Update(m.pos, m.vel, m.target())
	if m.settled() {
		m.pos, m.vel = m.target(), 0
		m.animated = false
		return m, nil
	}
	return m, frame()
}

// Level is the displayed (animated) level.
func (m Model) Level() float64 {
	return math.Max(0, math.Min(100, m.pos))
}

func (m Model) View() string {
	if !m.Known {
		return theme.Panel("AUDIO", theme.StyleDimmed.Render("no camera"), m.Width)
	}
	a := m.Session
	phase := a.Phase()

	var b strings.Builder
	head := lipgloss.NewStyle().Foreground(theme.PhaseColor(phase)).Render(theme.PhaseGlyph(phase) + " " + phase)
	if m.Busy() && m.Spinner != "" {
		head = m.Spinner + " " + head
	}
	b.WriteString(head + "\n")
	b.WriteString(m.meter(max(10, m.Width-8)))
	if a.LastError != "" {
		b.WriteString("\n" + theme.StyleError.Render(a.LastError))
	}
	return theme.Panel("AUDIO", b.String(), m.Width)
}

func (m Model) meter(width int) string {
	level := m.Level()
	filled := int(math.Round(level / 100 * float64(width)))
	bar := lipgloss.NewStyle().Foreground(theme.MeterColor(level)).Render(strings.Repeat("█", filled))
	trough := lipgloss.NewStyle().Foreground(theme.ColorMeterTrough).Render(strings.Repeat("░", width-filled))
	return bar + trough
}
