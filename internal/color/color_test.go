package color

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	fatih "github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		isDarkMode bool
		expected   bool
	}{
		{"set dark mode", true, true},
		{"set light mode", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Initialize(tt.isDarkMode)
			assert.Equal(t, tt.expected, lipgloss.HasDarkBackground())
		})
	}
}

func TestNoColorDisablesConsoleColour(t *testing.T) {
	prev := fatih.NoColor
	t.Cleanup(func() { fatih.NoColor = prev })

	t.Setenv("NO_COLOR", "1")
	Initialize(true)
	assert.True(t, fatih.NoColor)
	assert.Equal(t, "server", Banner("server"))
}
