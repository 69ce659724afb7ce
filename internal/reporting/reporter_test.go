package reporting

import (
	"bytes"
	"io"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quicinterop/internal/outcome"
	"quicinterop/pkg/logging"
)

func TestConsoleReporter_Banner(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
	logging.InitForCLI(logging.LevelError, io.Discard)

	var out bytes.Buffer
	r := NewConsoleReporter(&out)
	r.Report(CellUpdate{Phase: PhaseStarted, Kind: KindTest, Index: 3, Total: 12, Test: "handshake", Server: "quiche", Client: "picoquic"})
	r.Report(CellUpdate{Phase: PhaseStarted, Kind: KindMeasurement, Index: 4, Total: 12, Test: "goodput", Server: "quiche", Client: "picoquic"})
	r.Report(CellUpdate{Phase: PhaseStarted, Kind: KindMeasurement, Index: 4, Total: 12, Test: "goodput", Repetition: 1, Repetitions: 5})

	assert.Equal(t,
		"---\n3/12\nTest: handshake\nServer: quiche  Client: picoquic\n---\n"+
			"---\n4/12\nMeasurement: goodput\nServer: quiche\nClient: picoquic\n---\n",
		out.String())
}

func TestMulti(t *testing.T) {
	ch := make(chan tea.Msg, 4)
	var out bytes.Buffer
	logging.InitForCLI(logging.LevelError, io.Discard)

	m := Multi{NewConsoleReporter(&out), nil, NewTUIReporter(ch)}
	m.Report(CellUpdate{Phase: PhaseFinished, Kind: KindTest, Test: "handshake", Outcome: outcome.Succeeded})

	require.Len(t, ch, 1)
	msg := (<-ch).(ReporterUpdateMsg)
	assert.Equal(t, "handshake", msg.Update.Test)
	assert.False(t, msg.Update.Timestamp.IsZero())
}

func TestTUIReporter_DropsRepetitionsWhenFull(t *testing.T) {
	logging.InitForCLI(logging.LevelError, io.Discard)
	ch := make(chan tea.Msg, 1)
	r := NewTUIReporter(ch)

	r.Report(CellUpdate{Phase: PhaseStarted, Test: "goodput", Repetition: 1})
	r.Report(CellUpdate{Phase: PhaseStarted, Test: "goodput", Repetition: 2})
	require.Len(t, ch, 1)
	assert.Equal(t, 1, (<-ch).(ReporterUpdateMsg).Update.Repetition)
}
