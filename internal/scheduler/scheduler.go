// Package scheduler walks the server × client × test matrix, applies the
// skip rules and aggregates measurement repetitions.
package scheduler

import (
	"context"
	"fmt"

	"quicinterop/internal/implementations"
	"quicinterop/internal/outcome"
	"quicinterop/internal/reporting"
	"quicinterop/internal/results"
	"quicinterop/internal/runner"
	"quicinterop/internal/testcases"
	"quicinterop/pkg/logging"
)

// Provisioner prepares the environment of an implementation in one role.
type Provisioner interface {
	Ensure(ctx context.Context, name string, role implementations.Role) error
}

// Prober answers whether an implementation follows the unsupported-test
// convention.
type Prober interface {
	Check(ctx context.Context, name string, role implementations.Role) bool
}

// CellRunner executes one cell.
type CellRunner interface {
	Run(ctx context.Context, cell runner.Cell) runner.CellResult
}

// Config is the matrix of a run and its policies.
type Config struct {
	Servers      []string
	Clients      []string
	Tests        []testcases.TestCase
	Measurements []testcases.Measurement

	// OnlySameImplementation restricts every pairing to identical names
	OnlySameImplementation bool
	// ContinueOnError skips failed measurement repetitions instead of
	// aborting the measurement
	ContinueOnError bool
}

// Scheduler runs a matrix strictly sequentially.
type Scheduler struct {
	registry    *implementations.Registry
	provisioner Provisioner
	prober      Prober
	runner      CellRunner
	reporter    reporting.Reporter
	cfg         Config

	total    int
	finished int
}

// New creates a scheduler. A nil reporter discards progress.
func New(registry *implementations.Registry, provisioner Provisioner, prober Prober, cells CellRunner, reporter reporting.Reporter, cfg Config) *Scheduler {
	if reporter == nil {
		reporter = reporting.Discard{}
	}
	return &Scheduler{
		registry:    registry,
		provisioner: provisioner,
		prober:      prober,
		runner:      cells,
		reporter:    reporter,
		cfg:         cfg,
	}
}

// Run executes the whole matrix and returns its results. Cancelling ctx
// stops the matrix after the current cell; cells not reached stay
// unrecorded.
func (s *Scheduler) Run(ctx context.Context) *results.Matrix {
	m := results.NewMatrix(s.cfg.Servers, s.cfg.Clients, s.cfg.Tests, s.cfg.Measurements)
	s.total = m.Total()
	s.finished = 0
	perPair := len(s.cfg.Tests) + len(s.cfg.Measurements)

	for _, server := range s.cfg.Servers {
		if ctx.Err() != nil {
			break
		}
		if reason := s.unavailable(ctx, server, implementations.RoleServer); reason != "" {
			logging.Warn("Scheduler", "Server %s %s, skipping", server, reason)
			for _, client := range s.cfg.Clients {
				s.skipPair(m, server, client, reason)
			}
			continue
		}

		for _, client := range s.cfg.Clients {
			if ctx.Err() != nil {
				break
			}
			if client != server && (s.cfg.OnlySameImplementation || s.registry.Exclusive(server, client)) {
				s.finished += perPair
				continue
			}
			if reason := s.unavailable(ctx, client, implementations.RoleClient); reason != "" {
				logging.Warn("Scheduler", "Client %s %s, skipping", client, reason)
				s.skipPair(m, server, client, reason)
				continue
			}

			if impl, ok := s.registry.Get(server); ok {
				clientImpl, _ := s.registry.Get(client)
				logging.Debug("Scheduler", "Running with server %s (%s) and client %s (%s)", server, impl.Path, client, clientImpl.Path)
			}
			s.runPair(ctx, m, server, client)
		}
	}
	return m
}

// unavailable returns why name cannot take role in this run, or "".
func (s *Scheduler) unavailable(ctx context.Context, name string, role implementations.Role) string {
	if err := s.provisioner.Ensure(ctx, name, role); err != nil {
		logging.Error("Scheduler", err, "Provisioning %s (%s) failed", name, role)
		return "could not be provisioned"
	}
	if !s.prober.Check(ctx, name, role) {
		return "is not compliant"
	}
	return ""
}

// skipPair records every cell of a pair as unsupported without running it.
func (s *Scheduler) skipPair(m *results.Matrix, server, client, reason string) {
	p := results.Pair{Server: server, Client: client}
	for _, t := range s.cfg.Tests {
		s.finished++
		m.SetTest(p, t.Name(), outcome.Unsupported)
		s.report(reporting.CellUpdate{Phase: reporting.PhaseSkipped, Kind: reporting.KindTest, Test: t.Name(), Server: server, Client: client, Outcome: outcome.Unsupported, Reason: reason})
	}
	for _, meas := range s.cfg.Measurements {
		s.finished++
		m.SetMeasurement(p, meas.Name(), results.Aborted(outcome.Unsupported, meas.Unit()))
		s.report(reporting.CellUpdate{Phase: reporting.PhaseSkipped, Kind: reporting.KindMeasurement, Test: meas.Name(), Server: server, Client: client, Outcome: outcome.Unsupported, Reason: reason})
	}
}

func (s *Scheduler) runPair(ctx context.Context, m *results.Matrix, server, client string) {
	p := results.Pair{Server: server, Client: client}

	for _, t := range s.cfg.Tests {
		if ctx.Err() != nil {
			return
		}
		s.finished++
		base := reporting.CellUpdate{Kind: reporting.KindTest, Test: t.Name(), Server: server, Client: client}
		s.report(with(base, reporting.PhaseStarted))

		res := s.runner.Run(ctx, runner.Cell{Server: server, Client: client, Test: t})
		m.SetTest(p, t.Name(), res.Outcome)

		done := with(base, reporting.PhaseFinished)
		done.Outcome = res.Outcome
		if res.Err != nil {
			done.Reason = res.Err.Error()
		}
		s.report(done)
	}

	for _, meas := range s.cfg.Measurements {
		if ctx.Err() != nil {
			return
		}
		s.finished++
		base := reporting.CellUpdate{Kind: reporting.KindMeasurement, Test: meas.Name(), Server: server, Client: client}
		s.report(with(base, reporting.PhaseStarted))

		r := s.measure(ctx, server, client, meas, base)
		m.SetMeasurement(p, meas.Name(), r)

		done := with(base, reporting.PhaseFinished)
		done.Outcome = r.Outcome
		done.Details = r.Details
		s.report(done)
	}
}

// measure repeats a measurement and aggregates its samples. A repetition
// that does not succeed aborts the measurement unless ContinueOnError is set.
func (s *Scheduler) measure(ctx context.Context, server, client string, meas testcases.Measurement, base reporting.CellUpdate) results.MeasurementResult {
	reps := meas.Repetitions()
	var values []float64
	for i := 1; i <= reps; i++ {
		if ctx.Err() != nil {
			break
		}
		rep := base
		rep.Repetition, rep.Repetitions = i, reps
		s.report(with(rep, reporting.PhaseStarted))

		res := s.runner.Run(ctx, runner.Cell{Server: server, Client: client, Test: meas, Repetition: i})

		done := with(rep, reporting.PhaseFinished)
		done.Outcome = res.Outcome
		s.report(done)

		if res.Outcome != outcome.Succeeded || !res.HasValue {
			if s.cfg.ContinueOnError {
				logging.Warn("Scheduler", "Repetition %d/%d of %s failed, continuing", i, reps, meas.Name())
				continue
			}
			o := res.Outcome
			if o == outcome.Succeeded {
				o = outcome.Failed
			}
			return results.Aborted(o, meas.Unit())
		}
		values = append(values, res.Value)
	}

	logging.Debug("Scheduler", "%s samples: %v", meas.Name(), values)
	return results.Aggregate(values, meas.Unit())
}

func with(u reporting.CellUpdate, phase reporting.Phase) reporting.CellUpdate {
	u.Phase = phase
	return u
}

func (s *Scheduler) report(u reporting.CellUpdate) {
	u.Index, u.Total = s.finished, s.total
	s.reporter.Report(u)
}

// Summary is a one-line digest of a finished matrix.
func Summary(m *results.Matrix) string {
	c := m.Counts()
	return fmt.Sprintf("%d succeeded, %d failed, %d unsupported", c[outcome.Succeeded], c[outcome.Failed], c[outcome.Unsupported])
}
