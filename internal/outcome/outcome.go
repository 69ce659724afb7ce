// Package outcome defines the terminal result of a matrix cell and the
// classifier that turns a finished process into one.
package outcome

import (
	"fmt"
	"strings"
)

// Outcome is the terminal result of one cell.
type Outcome string

const (
	Succeeded   Outcome = "succeeded"
	Failed      Outcome = "failed"
	Unsupported Outcome = "unsupported"
)

// Symbol is the single glyph used in console output.
func (o Outcome) Symbol() string {
	switch o {
	case Succeeded:
		return "✓"
	case Failed:
		return "☠"
	default:
		return "?"
	}
}

// UnsupportedExitCode is the status an implementation uses for a test it does
// not recognise.
const UnsupportedExitCode = 127

// unsupportedMarkers are matched anywhere in combined output. The match is a
// plain substring check, so unrelated text containing a marker is also
// treated as unsupported.
var unsupportedMarkers = []string{
	"exited with code 127",
	"exit status 127",
}

// cleanExitMarker is printed by wrapper scripts that report the client's own
// exit code. It counts as a clean exit even when the wrapper exits non-zero.
const cleanExitMarker = "client exited with code 0"

// Verdict is what the classifier concludes from exit status and output alone.
type Verdict int

const (
	// VerdictFailed covers every non-zero status other than the reserved one,
	// including processes killed after a timeout.
	VerdictFailed Verdict = iota
	// VerdictUnsupported means the reserved status or a marker was seen.
	VerdictUnsupported
	// VerdictClean means exit status 0; the caller runs the result check.
	VerdictClean
)

func (v Verdict) String() string {
	switch v {
	case VerdictUnsupported:
		return "unsupported"
	case VerdictClean:
		return "clean"
	default:
		return "failed"
	}
}

// ExitStatus describes how a process ended.
type ExitStatus struct {
	Code     int
	TimedOut bool
}

func (e ExitStatus) String() string {
	if e.TimedOut {
		return "timed out"
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// HasUnsupportedMarker reports whether output contains an unsupported marker.
func HasUnsupportedMarker(output string) bool {
	for _, marker := range unsupportedMarkers {
		if strings.Contains(output, marker) {
			return true
		}
	}
	return false
}

// Classify maps exit status and combined output onto a verdict:
//
//	status 127, or a marker in output  -> VerdictUnsupported
//	status 0, or the clean exit marker -> VerdictClean
//	anything else, timeout included    -> VerdictFailed
//
// A timed out process is never unsupported, whatever it printed.
func Classify(status ExitStatus, output string) Verdict {
	if status.TimedOut {
		return VerdictFailed
	}
	if status.Code == UnsupportedExitCode || HasUnsupportedMarker(output) {
		return VerdictUnsupported
	}
	if status.Code == 0 || strings.Contains(output, cleanExitMarker) {
		return VerdictClean
	}
	return VerdictFailed
}
