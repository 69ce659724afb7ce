// Package testcases is the catalog of interoperability tests and
// measurements together with the checks run on their artifacts.
package testcases

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Protocol identifiers recorded in the result document.
const (
	QUICDraft   = 34
	QUICVersion = "0x1"
)

// Selection keywords accepted in place of test names.
const (
	OnlyTests        = "onlyTests"
	OnlyMeasurements = "onlyMeasurements"
)

// testCase is a catalog entry described by data.
type testCase struct {
	name        string
	abbr        string
	desc        string
	serverTest  string
	timeout     time.Duration
	req         Requirements
	sizes       []int64
	extraChecks []func(env *Env) error
}

func (t *testCase) Name() string               { return t.name }
func (t *testCase) Abbreviation() string       { return t.abbr }
func (t *testCase) Description() string        { return t.desc }
func (t *testCase) Timeout() time.Duration     { return t.timeout }
func (t *testCase) Requirements() Requirements { return t.req }
func (t *testCase) String() string             { return t.name }

func (t *testCase) TestName(p Perspective) string {
	if p == PerspectiveServer && t.serverTest != "" {
		return t.serverTest
	}
	return t.name
}

func (t *testCase) Prepare(env *Env) ([]string, error) {
	return generateFiles(env.WWW, env.MaxFileSize, t.sizes...)
}

func (t *testCase) Check(env *Env) error {
	if err := checkDownloads(env); err != nil {
		return err
	}
	for _, check := range t.extraChecks {
		if err := check(env); err != nil {
			return err
		}
	}
	return nil
}

// measurement repeats a transfer and reports goodput.
type measurement struct {
	testCase
	repetitions int
	fileSize    int64
	unit        string
}

func (m *measurement) Repetitions() int { return m.repetitions }
func (m *measurement) FileSize() int64  { return m.fileSize }
func (m *measurement) Unit() string     { return m.unit }

func (m *measurement) Prepare(env *Env) ([]string, error) {
	return generateFiles(env.WWW, env.MaxFileSize, m.fileSize)
}

// Result is the goodput of the transfer in kbit/s.
func (m *measurement) Result(env *Env) (float64, error) {
	entries, err := os.ReadDir(env.WWW)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	seconds := env.Duration().Seconds()
	if seconds <= 0 {
		return 0, fmt.Errorf("invalid transfer duration %s", env.Duration())
	}
	return float64(total) * 8 / seconds / 1000, nil
}

func (m *measurement) withOverrides(repetitions int, fileSize int64) *measurement {
	c := *m
	if repetitions > 0 {
		c.repetitions = repetitions
	}
	if fileSize > 0 {
		c.fileSize = fileSize
	}
	return &c
}

func multiplexSizes() []int64 {
	sizes := make([]int64, 200)
	for i := range sizes {
		sizes[i] = 32
	}
	return sizes
}

func keyLogsWritten(env *Env) error {
	if err := checkNonEmptyFile(env.ServerKeyLog); err != nil {
		return fmt.Errorf("server key log: %w", err)
	}
	return checkNonEmptyFile(env.ClientKeyLog)
}

func qlogsWritten(env *Env) error {
	if err := checkNonEmptyDir(env.ServerQlog); err != nil {
		return fmt.Errorf("server qlog: %w", err)
	}
	if err := checkNonEmptyDir(env.ClientQlog); err != nil {
		return fmt.Errorf("client qlog: %w", err)
	}
	return nil
}

// Tests returns the test catalog in execution order.
func Tests() []TestCase {
	return []TestCase{
		&testCase{
			name:    "handshake",
			abbr:    "H",
			desc:    "Handshake completes successfully",
			timeout: 60 * time.Second,
			req:     Requirements{PacketCapture: true},
			sizes:   []int64{KiB},
		},
		&testCase{
			name:    "transfer",
			abbr:    "DC",
			desc:    "Stream data is being sent and received correctly",
			timeout: 60 * time.Second,
			sizes:   []int64{2 * MiB, 3 * MiB, 5 * MiB},
		},
		&testCase{
			name:       "multiplexing",
			abbr:       "M",
			desc:       "Many small files are transferred over a single connection",
			serverTest: "transfer",
			timeout:    60 * time.Second,
			sizes:      multiplexSizes(),
		},
		&testCase{
			name:        "keylog",
			abbr:        "K",
			desc:        "Both endpoints export TLS secrets to SSLKEYLOGFILE",
			timeout:     60 * time.Second,
			req:         Requirements{KeyLog: true},
			sizes:       []int64{KiB},
			extraChecks: []func(*Env) error{keyLogsWritten},
		},
		&testCase{
			name:        "qlog",
			abbr:        "Q",
			desc:        "Both endpoints write qlog files to QLOGDIR",
			timeout:     60 * time.Second,
			req:         Requirements{QLog: true},
			sizes:       []int64{KiB},
			extraChecks: []func(*Env) error{qlogsWritten},
		},
	}
}

// Measurements returns the measurement catalog in execution order.
func Measurements() []Measurement {
	return []Measurement{
		&measurement{
			testCase: testCase{
				name:       "goodput",
				abbr:       "G",
				desc:       "Measures connection goodput over a single large transfer",
				serverTest: "transfer",
				timeout:    3 * time.Minute,
				req:        Requirements{InterfaceStats: true},
			},
			repetitions: 5,
			fileSize:    10 * MiB,
			unit:        "kbps",
		},
	}
}

// Names lists every test and measurement name.
func Names() []string {
	var names []string
	for _, t := range Tests() {
		names = append(names, t.Name())
	}
	for _, m := range Measurements() {
		names = append(names, m.Name())
	}
	return names
}

// Select resolves a user selection. An empty selection means everything;
// the keywords OnlyTests and OnlyMeasurements pick one half of the catalog.
// Positive repetitions and fileSize override the selected measurements.
func Select(selection []string, repetitions int, fileSize int64) ([]TestCase, []Measurement, error) {
	allTests, allMeasurements := Tests(), Measurements()

	var tests []TestCase
	var measurements []Measurement
	switch {
	case len(selection) == 0:
		tests, measurements = allTests, allMeasurements
	case len(selection) == 1 && selection[0] == OnlyTests:
		tests = allTests
	case len(selection) == 1 && selection[0] == OnlyMeasurements:
		measurements = allMeasurements
	default:
	names:
		for _, name := range selection {
			for _, t := range allTests {
				if t.Name() == name {
					tests = append(tests, t)
					continue names
				}
			}
			for _, m := range allMeasurements {
				if m.Name() == name {
					measurements = append(measurements, m)
					continue names
				}
			}
			return nil, nil, fmt.Errorf("test case %s not found, available: %s", name, strings.Join(Names(), ", "))
		}
	}

	for i, m := range measurements {
		if mm, ok := m.(*measurement); ok {
			measurements[i] = mm.withOverrides(repetitions, fileSize)
		}
	}
	return tests, measurements, nil
}
