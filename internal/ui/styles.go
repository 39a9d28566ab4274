// Package ui renders the chat to a terminal: styles, the spinner and the
// per-action status lines.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	TitleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	PromptStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	AssistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	LabelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(10)
	ValueStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	SuccessStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	WarnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	ErrorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	DimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	OutputStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("7")).PaddingLeft(2)

	BannerStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("14")).
		Padding(0, 1)
)
