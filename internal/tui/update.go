package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"quicinterop/internal/reporting"
	"quicinterop/pkg/logging"
)

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.progress.Width = max(msg.Width-8, 10)
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case reporting.ReporterUpdateMsg:
		m.handleUpdate(msg.Update)
		return m, tea.Batch(m.progress.SetPercent(m.percent()), listenForUpdates(m.updates))

	case NewLogEntryMsg:
		m.handleLogEntry(msg.Entry)
		return m, listenForLogs(m.logChannel)

	case RunFinishedMsg:
		m.done = true
		m.current = nil
		m.repetition = ""
		m.summary = msg.Summary
		return m, m.progress.SetPercent(1)

	case channelClosedMsg:
		logging.Debug("TUI", "%s channel closed", msg.name)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		pm, cmd := m.progress.Update(msg)
		m.progress = pm.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if !m.done && m.cfg.Cancel != nil {
			m.cfg.Cancel()
		}
		return m, tea.Quit
	case key.Matches(msg, m.keys.ToggleLog):
		m.showLog = !m.showLog
	case key.Matches(msg, m.keys.ToggleDebug):
		m.cfg.DebugMode = !m.cfg.DebugMode
	}
	return m, nil
}

// handleUpdate folds one scheduler update into the progress state.
// Measurement repetitions only change the repetition counter.
func (m *model) handleUpdate(u reporting.CellUpdate) {
	if u.Total > 0 {
		m.total = u.Total
	}
	if u.Repetition > 0 {
		if u.Phase == reporting.PhaseStarted {
			m.repetition = fmt.Sprintf("%d/%d", u.Repetition, u.Repetitions)
		}
		return
	}

	switch u.Phase {
	case reporting.PhaseStarted:
		m.current = &u
		m.repetition = ""
	case reporting.PhaseFinished, reporting.PhaseSkipped:
		m.finished = u.Index
		m.counts[u.Outcome]++
		m.recent = append(m.recent, u)
		if len(m.recent) > maxRecentCells {
			m.recent = m.recent[len(m.recent)-maxRecentCells:]
		}
		if m.current != nil && m.current.Index == u.Index {
			m.current = nil
		}
	}
}

func (m *model) handleLogEntry(entry logging.LogEntry) {
	if entry.Level < logging.LevelInfo && !m.cfg.DebugMode {
		return
	}
	line := fmt.Sprintf("%s [%s] [%s] %s",
		entry.Timestamp.Format("15:04:05.000"),
		entry.Level.String(),
		entry.Subsystem,
		entry.Message)
	if entry.Err != nil {
		line = fmt.Sprintf("%s -- Error: %v", line, entry.Err)
	}
	m.appendLogLine(line)
}
