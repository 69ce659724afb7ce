package reporting

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"quicinterop/pkg/logging"
)

// TUIReporter forwards cell updates to the progress view.
type TUIReporter struct {
	updates chan<- tea.Msg
}

// NewTUIReporter wraps updates. A nil channel discards every update.
func NewTUIReporter(updates chan<- tea.Msg) *TUIReporter {
	if updates == nil {
		logging.Warn("TUIReporter", "No update channel, progress will not be shown")
	}
	return &TUIReporter{updates: updates}
}

// Report hands the update to the TUI. Started and finished cells are never
// dropped; repetition progress is dropped when the channel is full.
func (t *TUIReporter) Report(update CellUpdate) {
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now()
	}
	if t.updates == nil {
		return
	}
	msg := ReporterUpdateMsg{Update: update}
	if update.Repetition == 0 {
		t.updates <- msg
		return
	}
	select {
	case t.updates <- msg:
	default:
		logging.Warn("TUIReporter", "TUI channel full, dropping update for %s repetition %d", update.Test, update.Repetition)
	}
}
