package color

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	fatih "github.com/fatih/color"
)

var (
	SucceededStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#3FB950"})
	FailedStyle      = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"}).Bold(true)
	UnsupportedStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#D29922"})
	HeaderStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#0550AE", Dark: "#79C0FF"})
	MutedStyle       = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"})
	HighlightStyle   = lipgloss.NewStyle().Reverse(true)
)

// Initialize selects the dark or light variant of every style and honours
// NO_COLOR for both lipgloss and plain console output.
func Initialize(isDarkMode bool) {
	lipgloss.SetHasDarkBackground(isDarkMode)
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		fatih.NoColor = true
	}
}

// Banner prints a bold cyan line, used for run and cell headers.
var Banner = fatih.New(fatih.FgCyan, fatih.Bold).SprintFunc()

// Command prints operator instructions in manual mode.
var Command = fatih.New(fatih.FgYellow).SprintFunc()

// Warning marks skipped implementations and other degraded states.
var Warning = fatih.New(fatih.FgRed, fatih.Bold).SprintFunc()
