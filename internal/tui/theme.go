package tui

import "github.com/charmbracelet/lipgloss"

type uiTheme struct {
	header     lipgloss.Style
	title      lipgloss.Style
	status     lipgloss.Style
	warn       lipgloss.Style
	panel      lipgloss.Style
	inputPanel lipgloss.Style
	footer     lipgloss.Style
	greeting   lipgloss.Style
	you        lipgloss.Style
	kula       lipgloss.Style
	pending    lipgloss.Style
	analysis   lipgloss.Style
	apology    lipgloss.Style
	chip       lipgloss.Style
	listening  lipgloss.Style
	muted      lipgloss.Style
}

func newTheme() uiTheme {
	rose := lipgloss.Color("#e86a92")
	teal := lipgloss.Color("#2ec4b6")
	amber := lipgloss.Color("#f7b32b")
	text := lipgloss.Color("#f5f5f5")
	muted := lipgloss.Color("#9aa0a6")

	return uiTheme{
		header: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(rose).
			Padding(0, 1),
		title:  lipgloss.NewStyle().Foreground(rose).Bold(true),
		status: lipgloss.NewStyle().Foreground(teal),
		warn:   lipgloss.NewStyle().Foreground(amber).Bold(true),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1),
		inputPanel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(teal).
			Padding(0, 1),
		footer:    lipgloss.NewStyle().Foreground(muted),
		greeting:  lipgloss.NewStyle().Foreground(text).Italic(true),
		you:       lipgloss.NewStyle().Foreground(teal).Bold(true),
		kula:      lipgloss.NewStyle().Foreground(rose).Bold(true),
		pending:   lipgloss.NewStyle().Foreground(muted).Italic(true),
		analysis:  lipgloss.NewStyle().Foreground(amber).Bold(true),
		apology:   lipgloss.NewStyle().Foreground(amber),
		chip:      lipgloss.NewStyle().Foreground(text).Background(lipgloss.Color("#3a3f4b")).Padding(0, 1),
		listening: lipgloss.NewStyle().Foreground(rose).Bold(true).Blink(true),
		muted:     lipgloss.NewStyle().Foreground(muted),
	}
}
