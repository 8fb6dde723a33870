// Package style provides consistent terminal styling using Lipgloss.
package style

import "github.com/charmbracelet/lipgloss"

var (
	Bold = lipgloss.NewStyle().Bold(true)
	Dim  = lipgloss.NewStyle().Faint(true)

	Red    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	Green  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	Yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	Gray   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// ForSummaryColor maps a fleet summary color to its render style.
func ForSummaryColor(color string) lipgloss.Style {
	switch color {
	case "red":
		return Red
	case "green":
		return Green
	case "yellow":
		return Yellow
	default:
		return Gray
	}
}

// ForActivity maps an agent activity to its render style.
func ForActivity(activity string) lipgloss.Style {
	switch activity {
	case "running":
		return Red
	case "waiting_input":
		return Green
	default:
		return Gray
	}
}
