package ui

import "github.com/charmbracelet/lipgloss"

type Style struct {
	UserMessage      lipgloss.Style
	AssistantMessage lipgloss.Style
	Reasoning        lipgloss.Style
	Error            lipgloss.Style
	Status           lipgloss.Style
}

func DefaultStyles() *Style {
	return &Style{
		UserMessage: lipgloss.NewStyle().Border(lipgloss.NormalBorder()).
			Padding(0, 1).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"}),
		AssistantMessage: lipgloss.NewStyle().Border(lipgloss.NormalBorder()).
			Padding(0, 1).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#CCCCCC", Dark: "#444444"}),
		Reasoning: lipgloss.NewStyle().
			Faint(true).
			Italic(true),
		Error: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#C53030", Dark: "#F56565"}),
		Status: lipgloss.NewStyle().
			Faint(true),
	}
}
