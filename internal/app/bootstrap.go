package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"quicinterop/internal/config"
	"quicinterop/internal/metrics"
	"quicinterop/internal/reporting"
	"quicinterop/internal/results"
	"quicinterop/internal/scheduler"
	"quicinterop/pkg/logging"
)

// Application is the main application structure that bootstraps and runs one
// interop matrix
type Application struct {
	config   *Config
	services *Services
	runID    string
	logDir   string

	// schedule replaces newScheduler in tests
	schedule schedulerFactory
}

// Report is what a finished run produced.
type Report struct {
	Matrix   *results.Matrix
	Document results.Document
	// Failed is the number of failed test cells
	Failed int
}

// NewApplication creates and initializes a new application instance
func NewApplication(cfg *Config) (*Application, error) {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.LogOutput == nil {
		cfg.LogOutput = os.Stdout
	}

	// Initialize logging for CLI output (will be replaced for TUI mode)
	logging.InitForCLI(logLevel(cfg.Run.Debug), cfg.LogOutput)

	if err := cfg.Run.Validate(); err != nil {
		return nil, err
	}

	logDir := cfg.Run.RunDir(time.Now())
	if err := config.CheckRunDir(logDir); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	services, err := InitializeServices(cfg, runID, logDir)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
		runID:    runID,
		logDir:   logDir,
	}, nil
}

func logLevel(debug bool) logging.LogLevel {
	if debug {
		return logging.LevelDebug
	}
	return logging.LevelInfo
}

// LogDir is the directory the run writes into.
func (a *Application) LogDir() string { return a.logDir }

// Run executes the matrix in the configured mode, prints the results table
// and writes the result document. The table and the document are produced
// even when the run was interrupted.
func (a *Application) Run(ctx context.Context) (*Report, error) {
	rc := a.config.Run
	s := a.services

	if err := os.MkdirAll(a.logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	logging.Info("Bootstrap", "Run %s logging to %s", a.runID, a.logDir)

	if err := copyScripts(a.logDir, rc.Scripts); err != nil {
		logging.Warn("Bootstrap", "Could not copy hook scripts: %v", err)
	}

	if rc.MetricsListen != "" {
		metricsCtx, stop := context.WithCancel(ctx)
		defer stop()
		go func() {
			if err := metrics.Serve(metricsCtx, rc.MetricsListen); err != nil {
				logging.Error("Bootstrap", err, "Metrics endpoint stopped")
			}
		}()
	}

	if err := scheduler.Stage(ctx, s.Strategy, s.Registry, s.staging(rc)); err != nil {
		logging.Error("Bootstrap", err, "Staging the testbed was interrupted")
	}

	schedule := a.schedule
	if schedule == nil {
		schedule = a.newScheduler
	}

	start := time.Now()
	var matrix *results.Matrix
	if rc.TUI {
		matrix = runTUIMode(ctx, a.config, schedule)
	} else {
		matrix = runCLIMode(ctx, a.config, schedule)
	}
	end := time.Now()

	fmt.Fprintln(a.config.Out, results.RenderTable(matrix))
	logging.Info("Bootstrap", "%s", scheduler.Summary(matrix))

	doc := results.BuildDocument(matrix, a.meta(start, end))
	path := rc.JSON
	if path == "" {
		path = filepath.Join(a.logDir, "result.json")
	}
	if err := doc.Write(path); err != nil {
		return nil, fmt.Errorf("failed to write results: %w", err)
	}
	logging.Info("Bootstrap", "Results written to %s", path)

	return &Report{Matrix: matrix, Document: doc, Failed: matrix.Failed()}, nil
}

// newScheduler builds the matrix scheduler around reporter.
func (a *Application) newScheduler(reporter reporting.Reporter) *scheduler.Scheduler {
	s := a.services
	return scheduler.New(s.Registry, s.Provisioner, s.Prober, s.Machine, reporter, scheduler.Config{
		Servers:                s.Servers,
		Clients:                s.Clients,
		Tests:                  s.Tests,
		Measurements:           s.Measurements,
		OnlySameImplementation: a.config.Run.OnlySameImplementation,
		ContinueOnError:        a.config.Run.ContinueOnError,
	})
}

func (a *Application) meta(start, end time.Time) results.Meta {
	s := a.services
	m := results.Meta{
		RunID:              a.runID,
		CommitHash:         metrics.Commit(),
		Start:              start,
		End:                end,
		LogDir:             a.logDir,
		ImplementationsDir: a.config.Run.ImplementationsDir,
		Registry:           s.Registry,
		Rule:               a.config.Run.Emulation.Rule(),
		Args:               a.config.Args,
	}
	if s.Testbed != nil {
		m.ServerNode = s.Testbed.Server.Host
		m.ClientNode = s.Testbed.Client.Host
		m.NodeImage = s.Testbed.NodeImage
	}
	return m
}
