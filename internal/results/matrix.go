// Package results collects the outcomes of a matrix run and renders them as
// the result document and the console tables.
package results

import (
	"quicinterop/internal/outcome"
	"quicinterop/internal/testcases"
)

// Pair is one (server, client) combination.
type Pair struct {
	Server string
	Client string
}

// Matrix holds every recorded outcome of a run. Cells without a record were
// never reached.
type Matrix struct {
	Servers      []string
	Clients      []string
	Tests        []testcases.TestCase
	Measurements []testcases.Measurement

	tests        map[Pair]map[string]outcome.Outcome
	measurements map[Pair]map[string]MeasurementResult
}

// NewMatrix creates an empty matrix over the given axes.
func NewMatrix(servers, clients []string, tests []testcases.TestCase, measurements []testcases.Measurement) *Matrix {
	return &Matrix{
		Servers:      servers,
		Clients:      clients,
		Tests:        tests,
		Measurements: measurements,
		tests:        make(map[Pair]map[string]outcome.Outcome),
		measurements: make(map[Pair]map[string]MeasurementResult),
	}
}

// Total is the number of cells in the matrix.
func (m *Matrix) Total() int {
	return len(m.Servers) * len(m.Clients) * (len(m.Tests) + len(m.Measurements))
}

func (m *Matrix) SetTest(p Pair, test string, o outcome.Outcome) {
	if m.tests[p] == nil {
		m.tests[p] = make(map[string]outcome.Outcome)
	}
	m.tests[p][test] = o
}

func (m *Matrix) Test(p Pair, test string) (outcome.Outcome, bool) {
	o, ok := m.tests[p][test]
	return o, ok
}

func (m *Matrix) SetMeasurement(p Pair, name string, r MeasurementResult) {
	if m.measurements[p] == nil {
		m.measurements[p] = make(map[string]MeasurementResult)
	}
	m.measurements[p][name] = r
}

func (m *Matrix) Measurement(p Pair, name string) (MeasurementResult, bool) {
	r, ok := m.measurements[p][name]
	return r, ok
}

// Failed counts failed test cells. Measurements are not counted.
func (m *Matrix) Failed() int {
	n := 0
	for _, byTest := range m.tests {
		for _, o := range byTest {
			if o == outcome.Failed {
				n++
			}
		}
	}
	return n
}

// Counts tallies test and measurement outcomes.
func (m *Matrix) Counts() map[outcome.Outcome]int {
	counts := map[outcome.Outcome]int{}
	for _, byTest := range m.tests {
		for _, o := range byTest {
			counts[o]++
		}
	}
	for _, byName := range m.measurements {
		for _, r := range byName {
			counts[r.Outcome]++
		}
	}
	return counts
}
