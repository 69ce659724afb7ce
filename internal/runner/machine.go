// Package runner executes a single matrix cell: it launches one server and
// one client, applies link conditions, classifies the outcome and persists
// the artifacts.
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"quicinterop/internal/execution"
	"quicinterop/internal/implementations"
	"quicinterop/internal/metrics"
	"quicinterop/internal/netem"
	"quicinterop/internal/outcome"
	"quicinterop/internal/state"
	"quicinterop/internal/testcases"
	"quicinterop/pkg/logging"
)

// ErrProcessTimeout marks a client that outlived its test's timeout.
var ErrProcessTimeout = errors.New("client timed out")

// AESOffloadMask disables AES-NI in OpenSSL based implementations.
const AESOffloadMask = "~0x200000200000000"

// Environments provides the activation prelude of a provisioned pair.
type Environments interface {
	Prelude(name string, role implementations.Role) string
}

// Cell is one (server, client, test) combination. Repetition is 1-based for
// measurements and 0 for tests.
type Cell struct {
	Server     string
	Client     string
	Test       testcases.TestCase
	Repetition int
}

// LogPath is where the cell's artifacts are persisted below root.
func (c Cell) LogPath(root string) string {
	dir := filepath.Join(root, c.Server+"_"+c.Client, c.Test.Name())
	if c.Repetition > 0 {
		dir = filepath.Join(dir, strconv.Itoa(c.Repetition))
	}
	return dir
}

func (c Cell) kind() string {
	if _, ok := c.Test.(testcases.Measurement); ok {
		return "measurement"
	}
	return "test"
}

// CellResult is the terminal state of one cell.
type CellResult struct {
	Outcome outcome.Outcome
	// Value is the measurement sample when HasValue is set
	Value    float64
	HasValue bool
	// Err explains a Failed or Unsupported outcome
	Err      error
	Duration time.Duration
}

// Machine runs cells one at a time against a run context.
type Machine struct {
	strategy execution.Strategy
	registry *implementations.Registry
	run      *state.Run
	envs     Environments
	netem    netem.Controller
	cfg      Config
}

// NewMachine creates a state machine. nc may be nil when no link conditions
// are ever applied.
func NewMachine(strategy execution.Strategy, registry *implementations.Registry, run *state.Run, envs Environments, nc netem.Controller, cfg Config) *Machine {
	if nc == nil {
		nc = netem.Noop{}
	}
	if cfg.BarrierCommand == "" {
		cfg.BarrierCommand = "interop barrier"
	}
	return &Machine{
		strategy: strategy,
		registry: registry,
		run:      run,
		envs:     envs,
		netem:    nc,
		cfg:      cfg,
	}
}

// launched tracks the processes of a running cell.
type launched struct {
	server       *execution.Process
	client       *execution.Process
	daemons      []*execution.Process
	clientStatus outcome.ExitStatus
	expired      bool
	barrierErr   error
}

// Run drives Setup, Launch, Monitor, Classify and Persist. Teardown runs
// on every path.
func (m *Machine) Run(ctx context.Context, cell Cell) (res CellResult) {
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		metrics.CellsTotal.WithLabelValues(cell.kind(), string(res.Outcome)).Inc()
		metrics.CellDuration.WithLabelValues(cell.kind()).Observe(res.Duration.Seconds())
		logging.Debug("Runner", "Test took %.2fs", res.Duration.Seconds())
	}()

	if skip, ok := m.fastSkip(cell); ok {
		return skip
	}

	cleanup := &cleanupList{}
	teardownCtx := context.WithoutCancel(ctx)
	defer cleanup.run(teardownCtx)

	ec, err := m.setup(ctx, cell, cleanup)
	if err != nil {
		logging.Error("Runner", err, "Setup failed")
		return CellResult{Outcome: outcome.Failed, Err: err}
	}

	mark := cleanup.mark()
	l, err := m.launch(ctx, cell, ec, cleanup)
	if err != nil {
		logging.Error("Runner", err, "Launch failed")
		cleanup.unwind(teardownCtx, mark)
		return CellResult{Outcome: outcome.Failed, Err: err}
	}
	if m.cfg.Manual.Enabled {
		cleanup.unwind(teardownCtx, mark)
		return CellResult{Outcome: outcome.Unsupported, Err: errors.New("manual mode")}
	}

	m.monitor(ctx, cell, ec, l)
	cleanup.unwind(teardownCtx, mark)
	m.collect(teardownCtx, ec)

	res = m.classify(cell, ec, l)
	switch res.Outcome {
	case outcome.Succeeded:
		logging.Info("Runner", "%s Test successful", res.Outcome.Symbol())
	case outcome.Failed:
		logging.Info("Runner", "%s Test failed", res.Outcome.Symbol())
	default:
		logging.Info("Runner", "%s Test unsupported", res.Outcome.Symbol())
	}

	if res.Outcome != outcome.Unsupported {
		if err := m.persist(cell, ec, res.Outcome); err != nil {
			logging.Error("Runner", err, "Failed to save logs of %s", cell.Test.Name())
		}
	}
	return res
}

// fastSkip answers from the unsupported record without launching anything.
// The client is consulted first.
func (m *Machine) fastSkip(cell Cell) (CellResult, bool) {
	name := cell.Test.Name()
	if m.run.IsUnsupported(state.Key{Implementation: cell.Client, Role: implementations.RoleClient}, name) {
		logging.Info("Runner", "Client %s does not support %s", cell.Client, name)
		return CellResult{Outcome: outcome.Unsupported, Err: fmt.Errorf("client %s does not support %s", cell.Client, name)}, true
	}
	if m.run.IsUnsupported(state.Key{Implementation: cell.Server, Role: implementations.RoleServer}, name) {
		logging.Info("Runner", "Server %s does not support %s", cell.Server, name)
		return CellResult{Outcome: outcome.Unsupported, Err: fmt.Errorf("server %s does not support %s", cell.Server, name)}, true
	}
	return CellResult{}, false
}

// classify turns exit statuses, output and checks into an outcome. An
// unsupported server takes precedence, even over an expired client.
func (m *Machine) classify(cell Cell, ec *ExecutionContext, l *launched) CellResult {
	name := cell.Test.Name()

	serverStatus, _ := l.server.Wait(context.Background())
	if outcome.Classify(serverStatus, l.server.Logs().Combined) == outcome.VerdictUnsupported {
		logging.Warn("Runner", "Server %s does not support %s", cell.Server, name)
		m.run.MarkUnsupported(state.Key{Implementation: cell.Server, Role: implementations.RoleServer}, name)
		return CellResult{Outcome: outcome.Unsupported, Err: fmt.Errorf("server %s does not support %s", cell.Server, name)}
	}
	if l.expired {
		logging.Error("Runner", ErrProcessTimeout, "Client or server expired")
		return CellResult{Outcome: outcome.Failed, Err: ErrProcessTimeout}
	}

	switch outcome.Classify(l.clientStatus, l.client.Logs().Combined) {
	case outcome.VerdictUnsupported:
		logging.Warn("Runner", "Client %s does not support %s", cell.Client, name)
		m.run.MarkUnsupported(state.Key{Implementation: cell.Client, Role: implementations.RoleClient}, name)
		return CellResult{Outcome: outcome.Unsupported, Err: fmt.Errorf("client %s does not support %s", cell.Client, name)}
	case outcome.VerdictFailed:
		err := fmt.Errorf("client %s", l.clientStatus)
		logging.Error("Runner", err, "Client or server failed")
		return CellResult{Outcome: outcome.Failed, Err: err}
	}

	if l.barrierErr != nil {
		logging.Error("Runner", l.barrierErr, "Hot scripts did not complete")
		return CellResult{Outcome: outcome.Failed, Err: l.barrierErr}
	}
	if err := guard("check", func() error { return cell.Test.Check(&ec.Env) }); err != nil {
		logging.Error("Runner", err, "Check of %s failed", name)
		return CellResult{Outcome: outcome.Failed, Err: err}
	}

	res := CellResult{Outcome: outcome.Succeeded}
	if meas, ok := cell.Test.(testcases.Measurement); ok {
		err := guard("result", func() error {
			v, err := meas.Result(&ec.Env)
			res.Value = v
			return err
		})
		if err != nil {
			logging.Error("Runner", err, "Result of %s unavailable", name)
			return CellResult{Outcome: outcome.Failed, Err: err}
		}
		res.HasValue = true
		metrics.MeasurementSamples.WithLabelValues(name, cell.Server, cell.Client).Set(res.Value)
	}
	return res
}

// guard runs a test's own code, converting a panic into an error.
func guard(what string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", what, r)
		}
	}()
	return fn()
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
