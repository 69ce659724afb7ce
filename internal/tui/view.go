package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"quicinterop/internal/outcome"
	"quicinterop/internal/reporting"
)

const defaultWidth = 100

func (m *model) View() string {
	width := m.width
	if width <= 0 {
		width = defaultWidth
	}

	sections := []string{
		titleStyle.Render("QUIC interop run"),
		m.renderProgress(),
		m.renderCurrent(),
		m.renderRecent(),
	}
	if m.showLog {
		sections = append(sections, m.renderLog(width))
	}
	sections = append(sections, m.help.View(m.keys))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *model) renderProgress() string {
	counts := fmt.Sprintf("%s  %s  %s",
		outcomeStyle(outcome.Succeeded).Render(fmt.Sprintf("%s %d", outcome.Succeeded.Symbol(), m.counts[outcome.Succeeded])),
		outcomeStyle(outcome.Failed).Render(fmt.Sprintf("%s %d", outcome.Failed.Symbol(), m.counts[outcome.Failed])),
		outcomeStyle(outcome.Unsupported).Render(fmt.Sprintf("%s %d", outcome.Unsupported.Symbol(), m.counts[outcome.Unsupported])),
	)
	line := fmt.Sprintf("%d/%d cells  %s", m.finished, m.total, counts)
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, m.progress.View(), line))
}

func (m *model) renderCurrent() string {
	if m.done {
		return panelStyle.Render("Done: " + m.summary + "  (q to exit)")
	}
	if m.current == nil {
		return panelStyle.Render(m.spinner.View() + " waiting for the next cell")
	}
	u := m.current
	kind := "Test"
	if u.Kind == reporting.KindMeasurement {
		kind = "Measurement"
	}
	text := fmt.Sprintf("%s %s: %s  %s %s  %s %s",
		m.spinner.View(), kind, u.Test,
		labelStyle.Render("server"), u.Server,
		labelStyle.Render("client"), u.Client)
	if m.repetition != "" {
		text += "  " + labelStyle.Render("run") + " " + m.repetition
	}
	return panelStyle.Render(text)
}

func (m *model) renderRecent() string {
	if len(m.recent) == 0 {
		return ""
	}
	lines := make([]string, 0, len(m.recent))
	for _, u := range m.recent {
		line := fmt.Sprintf("%s %s_%s %s", u.Outcome.Symbol(), u.Server, u.Client, u.Test)
		if u.Details != "" {
			line += ": " + u.Details
		}
		if u.Reason != "" {
			line += " (" + u.Reason + ")"
		}
		lines = append(lines, outcomeStyle(u.Outcome).Render(line))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

// logPanelHeight leaves room for the panels above the log.
func (m *model) logPanelHeight() int {
	if m.height <= 0 {
		return 10
	}
	return max(m.height-20, 3)
}

func (m *model) renderLog(width int) string {
	inner := width - panelStyle.GetHorizontalFrameSize()
	lines := m.logLines
	if h := m.logPanelHeight(); len(lines) > h {
		lines = lines[len(lines)-h:]
	}
	return panelStyle.Render(prepareLogContent(lines, inner))
}

// prepareLogContent truncates long lines to avoid wrapping and applies
// colour by level.
func prepareLogContent(lines []string, maxWidth int) string {
	out := make([]string, len(lines))
	for i, line := range lines {
		if maxWidth > 0 && runewidth.StringWidth(line) > maxWidth {
			line = runewidth.Truncate(line, maxWidth-1, "") + "…"
		}
		out[i] = styleLogLine(line)
	}
	return strings.Join(out, "\n")
}

func styleLogLine(l string) string {
	switch {
	case strings.Contains(l, "[ERROR]"):
		return logErrorStyle.Render(l)
	case strings.Contains(l, "[WARN]"):
		return logWarnStyle.Render(l)
	case strings.Contains(l, "[DEBUG]"):
		return logDebugStyle.Render(l)
	}
	return l
}
