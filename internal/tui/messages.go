package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"quicinterop/pkg/logging"
)

// NewLogEntryMsg carries one entry from the logging channel.
type NewLogEntryMsg struct {
	Entry logging.LogEntry
}

// RunFinishedMsg tells the view that the matrix is complete.
type RunFinishedMsg struct {
	Summary string
}

type channelClosedMsg struct{ name string }

// listenForLogs waits for the next log entry.
func listenForLogs(ch <-chan logging.LogEntry) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		entry, ok := <-ch
		if !ok {
			return channelClosedMsg{name: "logs"}
		}
		return NewLogEntryMsg{Entry: entry}
	}
}

// listenForUpdates waits for the next reporter message.
func listenForUpdates(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return channelClosedMsg{name: "updates"}
		}
		return msg
	}
}
