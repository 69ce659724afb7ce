package reporting

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"quicinterop/internal/outcome"
	"quicinterop/pkg/logging"
)

// ConsoleReporter prints a banner when a cell starts and logs its outcome.
type ConsoleReporter struct {
	out         io.Writer
	test        *color.Color
	measurement *color.Color
}

// NewConsoleReporter creates a reporter writing banners to out, os.Stdout when nil.
func NewConsoleReporter(out io.Writer) *ConsoleReporter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleReporter{
		out:         out,
		test:        color.New(color.FgCyan, color.Bold),
		measurement: color.New(color.FgMagenta, color.Bold),
	}
}

// Report processes an update by printing or logging it.
func (c *ConsoleReporter) Report(update CellUpdate) {
	switch update.Phase {
	case PhaseStarted:
		c.banner(update)
	case PhaseSkipped:
		logging.Info("Scheduler", "%d/%d %s %s-%s skipped: %s", update.Index, update.Total, update.Test, update.Server, update.Client, update.Reason)
	case PhaseFinished:
		switch {
		case update.Kind == KindMeasurement && update.Repetition > 0:
			logging.Debug("Scheduler", "Repetition %d/%d of %s: %s", update.Repetition, update.Repetitions, update.Test, update.Outcome)
		case update.Outcome == outcome.Failed && update.Reason != "":
			logging.Warn("Scheduler", "%s %s %s-%s: %s", update.Outcome.Symbol(), update.Test, update.Server, update.Client, update.Reason)
		case update.Details != "":
			logging.Info("Scheduler", "%s %s %s-%s: %s", update.Outcome.Symbol(), update.Test, update.Server, update.Client, update.Details)
		default:
			logging.Info("Scheduler", "%s %s %s-%s", update.Outcome.Symbol(), update.Test, update.Server, update.Client)
		}
	}
}

func (c *ConsoleReporter) banner(update CellUpdate) {
	if update.Kind == KindMeasurement && update.Repetition > 0 {
		logging.Info("Scheduler", "Run measurement %d/%d", update.Repetition, update.Repetitions)
		return
	}

	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "%d/%d\n", update.Index, update.Total)
	col := c.test
	if update.Kind == KindMeasurement {
		col = c.measurement
		fmt.Fprintf(&b, "Measurement: %s\n", update.Test)
		fmt.Fprintf(&b, "Server: %s\nClient: %s\n", update.Server, update.Client)
	} else {
		fmt.Fprintf(&b, "Test: %s\n", update.Test)
		fmt.Fprintf(&b, "Server: %s  Client: %s\n", update.Server, update.Client)
	}
	b.WriteString("---")
	fmt.Fprintln(c.out, col.Sprint(b.String()))
}
