package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var inputFrameStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	Padding(0, 1)

// renderHeader stacks a title over an optional muted subtitle, each cut to
// the view width.
func renderHeader(title, subtitle string, width int) string {
	out := HeaderStyle.Render(truncateEnd(title, width-2))
	if subtitle == "" {
		return out
	}
	return lipgloss.JoinVertical(lipgloss.Left, out, renderMuted(truncateEnd(subtitle, width-2)))
}

// renderInputFrame borders a text input. The accent color marks focus.
func renderInputFrame(input string, focused bool, inputWidth int) string {
	color := MutedColor
	if focused {
		color = AccentColor
	}
	return inputFrameStyle.BorderForeground(color).Width(inputWidth + 4).Render(input)
}

func renderCentered(width, height int, content string) string {
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, content)
}

func renderMuted(text string) string {
	return lipgloss.NewStyle().Foreground(MutedColor).Render(text)
}

func renderHelp(text string) string { return HelpStyle.Render(text) }
