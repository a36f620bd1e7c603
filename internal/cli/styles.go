package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/julianstephens/habitsync/internal/habitlog"
)

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	MutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	DangerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Italic(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	doneStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	deferredStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	clearedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Strikethrough(true)
)

// StatusMark renders the one-character mark of an instance status.
func StatusMark(s habitlog.Status, cleared bool) string {
	switch {
	case s == habitlog.StatusDone:
		return doneStyle.Render("x")
	case s == habitlog.StatusDeferred:
		return deferredStyle.Render("~")
	case cleared:
		return clearedStyle.Render("-")
	default:
		return MutedStyle.Render(".")
	}
}
