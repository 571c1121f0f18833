package ui

import "github.com/charmbracelet/lipgloss"

// 256-color palette. One teal accent; everything else is grayscale so
// the progress view reads cleanly on both dark and light terminals.
const (
	colorAccent    = "43"  // teal, active elements
	colorAccentDim = "30"  // dimmed teal, completed stages
	colorMuted     = "245" // labels and secondary text
	colorFaint     = "238" // borders and dividers
	colorErr       = "196"
	colorWarn      = "220"
)

// Styles holds the lipgloss styles shared by the TUI and status views.
type Styles struct {
	Header   lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Dim      lipgloss.Style
	Stage    lipgloss.Style
	Active   lipgloss.Style
	Progress lipgloss.Style

	Border    lipgloss.Style
	Panel     lipgloss.Style
	Sparkline lipgloss.Style
	Speed     lipgloss.Style
	Label     lipgloss.Style
}

// DefaultStyles returns the colored style set.
func DefaultStyles() Styles {
	accent := lipgloss.Color(colorAccent)
	muted := lipgloss.Color(colorMuted)
	faint := lipgloss.Color(colorFaint)

	return Styles{
		Header:   lipgloss.NewStyle().Bold(true).Foreground(accent),
		Success:  lipgloss.NewStyle().Foreground(accent),
		Warning:  lipgloss.NewStyle().Foreground(lipgloss.Color(colorWarn)),
		Error:    lipgloss.NewStyle().Foreground(lipgloss.Color(colorErr)),
		Dim:      lipgloss.NewStyle().Foreground(faint),
		Stage:    lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccentDim)),
		Active:   lipgloss.NewStyle().Bold(true).Foreground(accent),
		Progress: lipgloss.NewStyle().Foreground(accent),

		Border: lipgloss.NewStyle().Foreground(faint),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(faint).
			Padding(0, 1),
		Sparkline: lipgloss.NewStyle().Foreground(accent),
		Speed:     lipgloss.NewStyle().Foreground(muted),
		Label:     lipgloss.NewStyle().Foreground(muted),
	}
}

// NoColorStyles returns a style set with no attributes, for NO_COLOR
// and plain terminals.
func NoColorStyles() Styles {
	return Styles{}
}

// GetStyles picks the style set for the color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
