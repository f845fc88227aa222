// Package help renders the key reference overlay from markdown.
package help

import (
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/kuntur/kuntur/internal/tui/theme"
)

const Markdown = `# Kuntur

| key | action |
|---|---|
| space | turn Kuntur on or off |
| v | start or stop video |
| a | start or stop audio |
| q | cycle video quality (HD, SD, LOW) |
| r | retry the camera connection |
| c | clear video and audio errors |
| u | refresh the armed status |
| l | event log |
| ? | this help |
| esc | close overlay |
| ctrl+c | quit |

Turning Kuntur on arms the system first and then starts the streams.
Turning it off stops the streams before disarming.
`

// Render returns the help panel for the given width. If the markdown
// renderer fails the raw text is shown.
func Render(width int) string {
	inner := max(30, width-8)
	out := Markdown
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(inner),
	)
	if err == nil {
		if rendered, err := r.Render(Markdown); err == nil {
			out = rendered
		}
	}
	return lipgloss.NewStyle().
		Width(inner+4).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(out)
}
