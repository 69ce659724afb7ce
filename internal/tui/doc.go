// Package tui renders the live progress of an interop run with Bubble Tea.
//
// The view consumes two streams: reporting.ReporterUpdateMsg values sent by
// the scheduler's TUI reporter, and log entries from pkg/logging in TUI mode.
// Both are read by long-lived commands that re-arm themselves after every
// message, so the scheduler never talks to the model directly.
//
// Keys:
//
//	q, ctrl+c  stop the run after the current cell and quit
//	l          toggle the log panel
//	z          toggle debug log lines
package tui
