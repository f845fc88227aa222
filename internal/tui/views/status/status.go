package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/kuntur/kuntur/internal/health"
	"github.com/kuntur/kuntur/internal/tui/theme"
)

// Model holds the status bar state.
type Model struct {
	Connected  bool
	Registered bool
	Camera     string
	Storefront string
	Host       *health.Report
	Width      int
}

func New() Model {
	return Model{}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	if m.Connected {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	} else {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}

	var camStr string
	switch {
	case !m.Registered && m.Camera == "":
		camStr = lipgloss.NewStyle().Foreground(theme.ColorWarning).Render("not registered")
	case m.Storefront != "":
		camStr = fmt.Sprintf("%s  %s", m.Storefront, theme.StyleDimmed.Render(m.Camera))
	default:
		camStr = m.Camera
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + camStr
	if m.Host != nil {
		content += sep + hostString(*m.Host)
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}

func hostString(h health.Report) string {
	color := theme.ColorHealthy
	switch {
	case h.CPUPercent > 90 || h.MemPercent > 90:
		color = theme.ColorDanger
	case h.CPUPercent > 70 || h.MemPercent > 75:
		color = theme.ColorWarning
	}
	return lipgloss.NewStyle().Foreground(color).Render(
		fmt.Sprintf("cpu %.0f%%  mem %.0f%%  load %.2f", h.CPUPercent, h.MemPercent, h.Load1),
	)
}
