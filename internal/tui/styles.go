package tui

import (
	"github.com/charmbracelet/lipgloss"

	"quicinterop/internal/color"
	"quicinterop/internal/outcome"
)

var (
	titleStyle = color.HeaderStyle.Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#D0D7DE", Dark: "#30363D"}).
			Padding(0, 1)

	labelStyle = color.MutedStyle

	logDebugStyle = color.MutedStyle
	logWarnStyle  = color.UnsupportedStyle
	logErrorStyle = color.FailedStyle
)

func outcomeStyle(o outcome.Outcome) lipgloss.Style {
	switch o {
	case outcome.Succeeded:
		return color.SucceededStyle
	case outcome.Failed:
		return color.FailedStyle
	default:
		return color.UnsupportedStyle
	}
}
