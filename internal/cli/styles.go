package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/specforge/specforge/internal/batch"
)

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

func passMark() string { return passStyle.Render("✓") }
func failMark() string { return failStyle.Render("✗") }

// renderState colors a unit state: green in sync, yellow drifted, dim
// inactive.
func renderState(state batch.State) string {
	switch state {
	case batch.StateInSync:
		return passStyle.Render(string(state))
	case batch.StateDrifted:
		return warnStyle.Render(string(state))
	default:
		return dimStyle.Render(string(state))
	}
}
