package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"quicinterop/pkg/logging"
)

// NewProgram creates the progress view. Reporter messages arrive on updates,
// log entries on logChannel.
func NewProgram(cfg Config, logChannel <-chan logging.LogEntry, updates <-chan tea.Msg) *tea.Program {
	return tea.NewProgram(newModel(cfg, logChannel, updates), tea.WithAltScreen())
}
