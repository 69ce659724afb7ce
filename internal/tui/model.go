package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"quicinterop/internal/outcome"
	"quicinterop/internal/reporting"
	"quicinterop/pkg/logging"
)

const (
	maxLogLines    = 500
	maxRecentCells = 8
)

// Config tunes the progress view.
type Config struct {
	DebugMode bool
	// Cancel stops the run; it is called when the user quits early
	Cancel context.CancelFunc
}

type model struct {
	cfg  Config
	keys KeyMap
	help help.Model

	logChannel <-chan logging.LogEntry
	updates    <-chan tea.Msg

	progress progress.Model
	spinner  spinner.Model

	width  int
	height int

	total    int
	finished int
	current  *reporting.CellUpdate
	// repetition is the running measurement repetition, "2/5"
	repetition string
	counts     map[outcome.Outcome]int
	recent     []reporting.CellUpdate

	logLines []string
	showLog  bool

	done    bool
	summary string
}

func newModel(cfg Config, logChannel <-chan logging.LogEntry, updates <-chan tea.Msg) *model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return &model{
		cfg:        cfg,
		keys:       DefaultKeyMap(),
		help:       help.New(),
		logChannel: logChannel,
		updates:    updates,
		progress:   progress.New(progress.WithDefaultGradient()),
		spinner:    s,
		counts:     make(map[outcome.Outcome]int),
		showLog:    true,
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		listenForLogs(m.logChannel),
		listenForUpdates(m.updates),
	)
}

// percent is the completed share of the matrix.
func (m *model) percent() float64 {
	if m.done {
		return 1
	}
	if m.total == 0 {
		return 0
	}
	return float64(m.finished) / float64(m.total)
}

func (m *model) appendLogLine(line string) {
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > maxLogLines {
		m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
	}
}
