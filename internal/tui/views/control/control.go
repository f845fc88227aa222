// Package control renders the Kuntur on/off panel.
package control

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kuntur/kuntur/internal/armed"
	"github.com/kuntur/kuntur/internal/tui/theme"
)

var labels = map[armed.Phase]string{
	armed.PhaseOff:          "OFF",
	armed.PhaseActivating:   "ACTIVATING",
	armed.PhaseOn:           "ON",
	armed.PhaseDeactivating: "DEACTIVATING",
}

// Model renders the armed status panel.
type Model struct {
	State armed.State
	Known bool
	Width int
	// Spinner is the current spinner frame, shown while Busy.
	Spinner string
}

func New() Model {
	return Model{}
}

// Busy reports whether a spinner should be running.
func (m Model) Busy() bool {
	return m.Known && (m.State.Transitioning || m.State.Refreshing)
}

func (m Model) View() string {
	var b strings.Builder

	if !m.Known {
		b.WriteString(theme.StyleDimmed.Render("waiting for the camera..."))
		return theme.Panel("KUNTUR", b.String(), m.Width)
	}

	phase := m.State.Phase.String()
	badge := lipgloss.NewStyle().Bold(true).Foreground(theme.ArmedColor(phase)).Render(labels[m.State.Phase])

	if m.Busy() && m.Spinner != "" {
		b.WriteString(m.Spinner + " ")
	}
	b.WriteString(badge)
	if m.State.Refreshing && !m.State.Transitioning {
		b.WriteString(theme.StyleDimmed.Render("  checking status"))
	}
	if !m.State.ChangedAt.IsZero() {
		b.WriteString(theme.StyleDimmed.Render("  since " + m.State.ChangedAt.Local().Format("15:04:05")))
	}
	if m.State.LastError != "" {
		b.WriteString("\n" + theme.StyleError.Render(m.State.LastError))
	}

	return theme.Panel("KUNTUR", b.String(), m.Width)
}
