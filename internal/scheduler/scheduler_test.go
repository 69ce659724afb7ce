package scheduler

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quicinterop/internal/implementations"
	"quicinterop/internal/outcome"
	"quicinterop/internal/reporting"
	"quicinterop/internal/results"
	"quicinterop/internal/runner"
	"quicinterop/internal/testcases"
	"quicinterop/pkg/logging"
)

type roleKey struct {
	name string
	role implementations.Role
}

type fakeProvisioner struct {
	failing map[roleKey]bool
	calls   []roleKey
}

func (f *fakeProvisioner) Ensure(ctx context.Context, name string, role implementations.Role) error {
	f.calls = append(f.calls, roleKey{name, role})
	if f.failing[roleKey{name, role}] {
		return errors.New("setup-env.sh: exit status 1")
	}
	return nil
}

type fakeProber struct {
	nonCompliant map[roleKey]bool
}

func (f *fakeProber) Check(ctx context.Context, name string, role implementations.Role) bool {
	return !f.nonCompliant[roleKey{name, role}]
}

// fakeRunner answers cells from a script keyed by repetition.
type fakeRunner struct {
	cells   []runner.Cell
	results map[int]runner.CellResult
	def     runner.CellResult
}

func (f *fakeRunner) Run(ctx context.Context, cell runner.Cell) runner.CellResult {
	f.cells = append(f.cells, cell)
	if r, ok := f.results[cell.Repetition]; ok {
		return r
	}
	return f.def
}

type recordingReporter struct {
	updates []reporting.CellUpdate
}

func (r *recordingReporter) Report(u reporting.CellUpdate) { r.updates = append(r.updates, u) }

func selectCatalog(t *testing.T, names ...string) ([]testcases.TestCase, []testcases.Measurement) {
	t.Helper()
	tests, measurements, err := testcases.Select(names, 3, 0)
	require.NoError(t, err)
	return tests, measurements
}

type harness struct {
	registry    *implementations.Registry
	provisioner *fakeProvisioner
	prober      *fakeProber
	runner      *fakeRunner
	reporter    *recordingReporter
}

func newHarness(impls ...implementations.Implementation) *harness {
	logging.InitForCLI(logging.LevelError, io.Discard)
	if len(impls) == 0 {
		impls = []implementations.Implementation{
			{Name: "quiche", Path: "quiche"},
			{Name: "picoquic", Path: "picoquic"},
		}
	}
	return &harness{
		registry:    implementations.New(impls...),
		provisioner: &fakeProvisioner{failing: map[roleKey]bool{}},
		prober:      &fakeProber{nonCompliant: map[roleKey]bool{}},
		runner:      &fakeRunner{def: runner.CellResult{Outcome: outcome.Succeeded, Value: 1, HasValue: true}},
		reporter:    &recordingReporter{},
	}
}

func (h *harness) run(cfg Config) *results.Matrix {
	return New(h.registry, h.provisioner, h.prober, h.runner, h.reporter, cfg).Run(context.Background())
}

func servers(cells []runner.Cell) map[string]int {
	out := map[string]int{}
	for _, c := range cells {
		out[c.Server]++
	}
	return out
}

func TestRun_ServerProvisioningFailureSkipsPairings(t *testing.T) {
	h := newHarness()
	h.provisioner.failing[roleKey{"quiche", implementations.RoleServer}] = true
	tests, _ := selectCatalog(t, "handshake", "transfer")

	m := h.run(Config{Servers: []string{"quiche", "picoquic"}, Clients: []string{"quiche", "picoquic"}, Tests: tests})

	assert.Equal(t, 0, servers(h.runner.cells)["quiche"], "no cell with the failed server is launched")
	assert.Equal(t, 4, servers(h.runner.cells)["picoquic"])
	for _, client := range []string{"quiche", "picoquic"} {
		for _, tc := range tests {
			o, ok := m.Test(results.Pair{Server: "quiche", Client: client}, tc.Name())
			require.True(t, ok)
			assert.Equal(t, outcome.Unsupported, o)
		}
	}
	assert.Equal(t, 0, m.Failed())
}

func TestRun_NonCompliantClientSkipsOnlyItsPairings(t *testing.T) {
	h := newHarness()
	h.prober.nonCompliant[roleKey{"picoquic", implementations.RoleClient}] = true
	tests, measurements := selectCatalog(t, "handshake", "goodput")

	m := h.run(Config{Servers: []string{"quiche", "picoquic"}, Clients: []string{"quiche", "picoquic"}, Tests: tests, Measurements: measurements})

	for _, c := range h.runner.cells {
		assert.NotEqual(t, "picoquic", c.Client)
	}
	r, ok := m.Measurement(results.Pair{Server: "quiche", Client: "picoquic"}, "goodput")
	require.True(t, ok)
	assert.Equal(t, outcome.Unsupported, r.Outcome)

	var skipped int
	for _, u := range h.reporter.updates {
		if u.Phase == reporting.PhaseSkipped {
			skipped++
			assert.Equal(t, "is not compliant", u.Reason)
		}
	}
	assert.Equal(t, 4, skipped)
}

func TestRun_ExclusivePairing(t *testing.T) {
	tests := []struct {
		name     string
		impls    []implementations.Implementation
		onlySame bool
	}{
		{"solo implementation", []implementations.Implementation{{Name: "quiche", Solo: true}, {Name: "picoquic"}}, false},
		{"only same implementation", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(tt.impls...)
			hs, _ := selectCatalog(t, "handshake")
			m := h.run(Config{
				Servers:                []string{"quiche", "picoquic"},
				Clients:                []string{"quiche", "picoquic"},
				Tests:                  hs,
				OnlySameImplementation: tt.onlySame,
			})

			for _, c := range h.runner.cells {
				if c.Server == "quiche" || c.Client == "quiche" {
					assert.Equal(t, c.Server, c.Client)
				}
			}
			_, ok := m.Test(results.Pair{Server: "quiche", Client: "picoquic"}, "handshake")
			assert.False(t, ok, "excluded pairings are not part of the matrix")

			last := h.reporter.updates[len(h.reporter.updates)-1]
			assert.Equal(t, 4, last.Total)
		})
	}
}

func TestRun_MeasurementAggregation(t *testing.T) {
	h := newHarness()
	h.runner.results = map[int]runner.CellResult{
		1: {Outcome: outcome.Succeeded, Value: 100, HasValue: true},
		2: {Outcome: outcome.Succeeded, Value: 102, HasValue: true},
		3: {Outcome: outcome.Succeeded, Value: 98, HasValue: true},
	}
	_, measurements := selectCatalog(t, "goodput")

	m := h.run(Config{Servers: []string{"quiche"}, Clients: []string{"picoquic"}, Measurements: measurements})

	r, ok := m.Measurement(results.Pair{Server: "quiche", Client: "picoquic"}, "goodput")
	require.True(t, ok)
	assert.Equal(t, outcome.Succeeded, r.Outcome)
	assert.InDelta(t, 100, r.Mean, 1e-9)
	assert.InDelta(t, 2, r.Stdev, 1e-9)
	assert.Equal(t, []float64{100, 102, 98}, r.Values)

	require.Len(t, h.runner.cells, 3)
	for i, c := range h.runner.cells {
		assert.Equal(t, i+1, c.Repetition)
	}
}

func TestRun_MeasurementAbort(t *testing.T) {
	h := newHarness()
	h.runner.results = map[int]runner.CellResult{
		1: {Outcome: outcome.Succeeded, Value: 100, HasValue: true},
		2: {Outcome: outcome.Failed, Err: errors.New("client exit status 1")},
	}
	_, measurements := selectCatalog(t, "goodput")

	m := h.run(Config{Servers: []string{"quiche"}, Clients: []string{"picoquic"}, Measurements: measurements})

	r, _ := m.Measurement(results.Pair{Server: "quiche", Client: "picoquic"}, "goodput")
	assert.Equal(t, outcome.Failed, r.Outcome)
	assert.Empty(t, r.Values)
	assert.Len(t, h.runner.cells, 2, "the third repetition never runs")
}

func TestRun_MeasurementUnsupportedRepetition(t *testing.T) {
	h := newHarness()
	h.runner.def = runner.CellResult{Outcome: outcome.Unsupported}
	_, measurements := selectCatalog(t, "goodput")

	m := h.run(Config{Servers: []string{"quiche"}, Clients: []string{"picoquic"}, Measurements: measurements})
	r, _ := m.Measurement(results.Pair{Server: "quiche", Client: "picoquic"}, "goodput")
	assert.Equal(t, outcome.Unsupported, r.Outcome)
}

func TestRun_ContinueOnError(t *testing.T) {
	tests := []struct {
		name    string
		results map[int]runner.CellResult
		def     runner.CellResult
		want    outcome.Outcome
		samples int
	}{
		{
			name:    "failed repetition skipped",
			results: map[int]runner.CellResult{2: {Outcome: outcome.Failed}},
			def:     runner.CellResult{Outcome: outcome.Succeeded, Value: 5, HasValue: true},
			want:    outcome.Succeeded,
			samples: 2,
		},
		{
			name:    "no successful sample",
			def:     runner.CellResult{Outcome: outcome.Failed},
			want:    outcome.Failed,
			samples: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.runner.results = tt.results
			h.runner.def = tt.def
			_, measurements := selectCatalog(t, "goodput")

			m := h.run(Config{Servers: []string{"quiche"}, Clients: []string{"picoquic"}, Measurements: measurements, ContinueOnError: true})
			r, _ := m.Measurement(results.Pair{Server: "quiche", Client: "picoquic"}, "goodput")
			assert.Equal(t, tt.want, r.Outcome)
			assert.Len(t, r.Values, tt.samples)
			assert.Len(t, h.runner.cells, 3)
		})
	}
}

func TestRun_FailedCountAndProgress(t *testing.T) {
	h := newHarness()
	h.runner.def = runner.CellResult{Outcome: outcome.Failed, Err: errors.New("boom")}
	tests, _ := selectCatalog(t, "handshake", "transfer")

	m := h.run(Config{Servers: []string{"quiche", "picoquic"}, Clients: []string{"picoquic"}, Tests: tests})
	assert.Equal(t, 4, m.Failed())
	assert.Equal(t, "0 succeeded, 4 failed, 0 unsupported", Summary(m))

	var started []int
	for _, u := range h.reporter.updates {
		if u.Phase == reporting.PhaseStarted {
			started = append(started, u.Index)
			assert.Equal(t, 4, u.Total)
		}
		if u.Phase == reporting.PhaseFinished {
			assert.Equal(t, "boom", u.Reason)
		}
	}
	assert.Equal(t, []int{1, 2, 3, 4}, started)
}

func TestRun_CancelledStopsMatrix(t *testing.T) {
	h := newHarness()
	tests, _ := selectCatalog(t, "handshake")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := New(h.registry, h.provisioner, h.prober, h.runner, nil, Config{Servers: []string{"quiche"}, Clients: []string{"quiche"}, Tests: tests}).Run(ctx)
	assert.Empty(t, h.runner.cells)
	_, ok := m.Test(results.Pair{Server: "quiche", Client: "quiche"}, "handshake")
	assert.False(t, ok)
}
