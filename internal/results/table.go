package results

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"quicinterop/internal/color"
	"quicinterop/internal/outcome"
)

// RenderTable draws the test matrix and, when measurements ran, the
// measurement matrix. Columns are servers, rows are clients.
func RenderTable(m *Matrix) string {
	var b strings.Builder
	if len(m.Tests) > 0 {
		b.WriteString("↓clients/servers→\n")
		b.WriteString(newTable(m, m.testCell).String())
		b.WriteString("\n")
	}
	if len(m.Measurements) > 0 {
		b.WriteString(newTable(m, m.measurementCell).String())
		b.WriteString("\n")
	}
	return b.String()
}

func newTable(m *Matrix, cell func(Pair) string) *table.Table {
	rows := make([][]string, 0, len(m.Clients))
	for _, client := range m.Clients {
		row := []string{client}
		for _, server := range m.Servers {
			row = append(row, cell(Pair{Server: server, Client: client}))
		}
		rows = append(rows, row)
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderRow(true).
		Headers(append([]string{""}, m.Servers...)...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow || col == 0 {
				return color.HeaderStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

// testCell lists test abbreviations by outcome, one line each.
func (m *Matrix) testCell(p Pair) string {
	letters := func(want outcome.Outcome) string {
		var abbrs []string
		for _, t := range m.Tests {
			if o, ok := m.Test(p, t.Name()); ok && o == want {
				abbrs = append(abbrs, t.Abbreviation())
			}
		}
		return strings.Join(abbrs, ",")
	}
	return strings.Join([]string{
		color.SucceededStyle.Render(letters(outcome.Succeeded)),
		color.UnsupportedStyle.Render(letters(outcome.Unsupported)),
		color.FailedStyle.Render(letters(outcome.Failed)),
	}, "\n")
}

// measurementCell shows "abbr: details" for successful measurements and the
// bare abbreviation otherwise.
func (m *Matrix) measurementCell(p Pair) string {
	var lines []string
	for _, meas := range m.Measurements {
		r, ok := m.Measurement(p, meas.Name())
		if !ok {
			continue
		}
		switch r.Outcome {
		case outcome.Succeeded:
			lines = append(lines, color.SucceededStyle.Render(meas.Abbreviation()+": "+r.Details))
		case outcome.Unsupported:
			lines = append(lines, color.UnsupportedStyle.Render(meas.Abbreviation()))
		default:
			lines = append(lines, color.FailedStyle.Render(meas.Abbreviation()))
		}
	}
	return strings.Join(lines, "\n")
}
