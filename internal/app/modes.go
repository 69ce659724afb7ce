package app

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"quicinterop/internal/color"
	"quicinterop/internal/reporting"
	"quicinterop/internal/results"
	"quicinterop/internal/scheduler"
	"quicinterop/internal/tui"
	"quicinterop/pkg/logging"
)

const tuiUpdateBufferSize = 256

type schedulerFactory func(reporting.Reporter) *scheduler.Scheduler

// runCLIMode executes the matrix with console banners
func runCLIMode(ctx context.Context, config *Config, newScheduler schedulerFactory) *results.Matrix {
	logging.Info("CLI", "Running in CLI mode.")
	return newScheduler(reporting.NewConsoleReporter(config.Out)).Run(ctx)
}

// runTUIMode executes the matrix behind the live progress view. Quitting the
// view stops the matrix after the current cell.
func runTUIMode(ctx context.Context, config *Config, newScheduler schedulerFactory) *results.Matrix {
	logging.Info("CLI", "Starting TUI mode...")

	color.Initialize(true)

	// Switch logging to channel-based system for TUI integration
	logChan := logging.InitForTUI(logLevel(config.Run.Debug))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan tea.Msg, tuiUpdateBufferSize)
	p := tui.NewProgram(tui.Config{DebugMode: config.Run.Debug, Cancel: cancel}, logChan, updates)

	var matrix *results.Matrix
	done := make(chan struct{})
	go func() {
		defer close(done)
		matrix = newScheduler(reporting.NewTUIReporter(updates)).Run(ctx)
		p.Send(tui.RunFinishedMsg{Summary: scheduler.Summary(matrix)})
	}()

	if _, err := p.Run(); err != nil {
		logging.Error("TUI-Lifecycle", err, "Error running TUI program")
	}
	logging.InitForCLI(logLevel(config.Run.Debug), config.LogOutput)
	logging.Info("TUI-Lifecycle", "TUI exited.")

	cancel()
	for {
		select {
		case <-updates:
		case <-done:
			return matrix
		}
	}
}
