// Package theme provides the Lip Gloss color palette and reusable styles
// for the Kuntur TUI. It is a leaf package with no internal imports to avoid
// import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Phase colors.
var (
	ColorLive       = lipgloss.Color("#22c55e")
	ColorConnecting = lipgloss.Color("#2563eb")
	ColorDegraded   = lipgloss.Color("#d97706")
	ColorError      = lipgloss.Color("#dc2626")
	ColorIdle       = lipgloss.Color("#4b5563")
)

// Armed colors.
var (
	ColorArmed       = lipgloss.Color("#16a34a")
	ColorDisarmed    = lipgloss.Color("#6b7280")
	ColorTransition  = lipgloss.Color("#7c3aed")
	ColorMeterLow    = lipgloss.Color("#22c55e") // <50
	ColorMeterMid    = lipgloss.Color("#d97706") // 50-80
	ColorMeterHigh   = lipgloss.Color("#dc2626") // >80
	ColorMeterTrough = lipgloss.Color("#1f2937")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorBg      = lipgloss.Color("#111827")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// PhaseColor returns the color for a session phase label (idle,
// connecting, live, degraded, error).
func PhaseColor(phase string) lipgloss.Color {
	switch phase {
	case "live":
		return ColorLive
	case "connecting":
		return ColorConnecting
	case "degraded":
		return ColorDegraded
	case "error":
		return ColorError
	default:
		return ColorIdle
	}
}

// PhaseGlyph returns a glyph for a session phase label.
func PhaseGlyph(phase string) string {
	switch phase {
	case "live":
		return "●"
	case "connecting":
		return "◎"
	case "degraded":
		return "◐"
	case "error":
		return "✗"
	default:
		return "○"
	}
}

// ArmedColor returns the color for an armed phase (off, activating, on,
// deactivating).
func ArmedColor(phase string) lipgloss.Color {
	switch phase {
	case "on":
		return ColorArmed
	case "activating", "deactivating":
		return ColorTransition
	default:
		return ColorDisarmed
	}
}

// MeterColor returns the color for an audio level in [0,100].
func MeterColor(level float64) lipgloss.Color {
	switch {
	case level > 80:
		return ColorMeterHigh
	case level > 50:
		return ColorMeterMid
	default:
		return ColorMeterLow
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorError)
)

// Panel renders content in a rounded panel of the given outer width.
func Panel(title, content string, width int) string {
	if width < 20 {
		width = 20
	}
	body := StyleHeader.Render(title) + "\n" + content
	return StyleBorder.Width(width-2).Padding(0, 1).Render(body)
}
