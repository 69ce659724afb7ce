// Package reporting turns scheduler progress into console banners or TUI
// messages.
package reporting

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"quicinterop/internal/outcome"
)

// Kind distinguishes interop tests from measurements.
type Kind string

const (
	KindTest        Kind = "test"
	KindMeasurement Kind = "measurement"
)

// Phase is the point in a cell's life an update reports.
type Phase string

const (
	PhaseStarted  Phase = "started"
	PhaseFinished Phase = "finished"
	// PhaseSkipped is reported for cells the scheduler never launches.
	PhaseSkipped Phase = "skipped"
)

// CellUpdate carries the progress of one matrix cell. It is the
// standardized way for the scheduler to report to the console or the TUI.
type CellUpdate struct {
	// Timestamp of when the event occurred.
	Timestamp time.Time

	Phase Phase
	Kind  Kind

	// Index is the 1-based position of the cell in the matrix, Total the
	// number of cells.
	Index int
	Total int

	Server string
	Client string
	Test   string

	// Repetition is the 1-based repetition of a measurement, 0 for tests.
	Repetition  int
	Repetitions int

	// Outcome is set for finished and skipped cells.
	Outcome outcome.Outcome
	// Details is the aggregated measurement summary, if any.
	Details string
	// Reason explains a skipped cell or a failed one.
	Reason string
}

func (u CellUpdate) String() string {
	return fmt.Sprintf("Update(%s %s %d/%d %s %s->%s outcome=%s)",
		u.Phase, u.Kind, u.Index, u.Total, u.Test, u.Client, u.Server, u.Outcome)
}

// Reporter receives cell updates. Implementations must be safe for use by a
// single goroutine; the scheduler never reports concurrently.
type Reporter interface {
	Report(update CellUpdate)
}

// Multi fans an update out to several reporters.
type Multi []Reporter

func (m Multi) Report(update CellUpdate) {
	for _, r := range m {
		if r != nil {
			r.Report(update)
		}
	}
}

// Discard drops every update.
type Discard struct{}

func (Discard) Report(CellUpdate) {}

// ReporterUpdateMsg is the tea.Msg used by TUIReporter to send updates to the TUI.
type ReporterUpdateMsg struct {
	Update CellUpdate
}

var _ tea.Msg = ReporterUpdateMsg{}
