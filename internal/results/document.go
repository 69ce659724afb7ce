package results

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quicinterop/internal/implementations"
	"quicinterop/internal/netem"
	"quicinterop/internal/testcases"
)

// TestInfo describes a test in the document's legend.
type TestInfo struct {
	Name string `json:"name"`
	Desc string `json:"desc"`
}

// TestEntry is one test outcome of a pair. Result is null for cells that
// were never reached.
type TestEntry struct {
	Abbr   string  `json:"abbr"`
	Name   string  `json:"name"`
	Result *string `json:"result"`
}

// MeasurementEntry is one measurement of a pair.
type MeasurementEntry struct {
	Name     string    `json:"name"`
	Abbr     string    `json:"abbr"`
	FileSize int64     `json:"filesize"`
	Result   string    `json:"result"`
	Average  float64   `json:"average"`
	Details  string    `json:"details"`
	Values   []float64 `json:"values"`
	Server   string    `json:"server"`
	Client   string    `json:"client"`
}

// Document is the JSON result document of a run.
type Document struct {
	RunID                 string               `json:"run_id"`
	CommitHash            string               `json:"interop_commit_hash"`
	StartTime             float64              `json:"interop_start_time_unix_timestamp"`
	EndTime               float64              `json:"interop_end_time_unix_timestamp"`
	LogDir                string               `json:"log_dir"`
	ServerNodeName        *string              `json:"server_node_name"`
	ClientNodeName        *string              `json:"client_node_name"`
	NodeImage             *string              `json:"node_image"`
	ServerImplementations map[string]*string   `json:"server_implementations"`
	ClientImplementations map[string]*string   `json:"client_implementations"`
	BandwidthLimit        string               `json:"bandwidth_limit"`
	Delay                 string               `json:"delay"`
	Loss                  string               `json:"loss"`
	ReorderPackets        string               `json:"reorder_packets"`
	Corruption            string               `json:"corruption"`
	Tests                 map[string]TestInfo  `json:"tests"`
	QUICDraft             int                  `json:"quic_draft"`
	QUICVersion           string               `json:"quic_version"`
	Results               [][]TestEntry        `json:"results"`
	Measurements          [][]MeasurementEntry `json:"measurements"`
	Args                  map[string]any       `json:"args"`
}

// Meta is the run information recorded next to the outcomes.
type Meta struct {
	RunID      string
	CommitHash string
	Start      time.Time
	End        time.Time
	LogDir     string
	// ServerNode, ClientNode and NodeImage are only set on a testbed
	ServerNode string
	ClientNode string
	NodeImage  string
	// ImplementationsDir is searched for VERSION files
	ImplementationsDir string
	Registry           *implementations.Registry
	Rule               netem.Rule
	Args               map[string]any
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// BuildDocument renders m into the result document. Rows are ordered by
// client, then server.
func BuildDocument(m *Matrix, meta Meta) Document {
	doc := Document{
		RunID:                 meta.RunID,
		CommitHash:            meta.CommitHash,
		StartTime:             unixSeconds(meta.Start),
		EndTime:               unixSeconds(meta.End),
		LogDir:                meta.LogDir,
		ServerNodeName:        optional(meta.ServerNode),
		ClientNodeName:        optional(meta.ClientNode),
		NodeImage:             optional(meta.NodeImage),
		ServerImplementations: Versions(meta.ImplementationsDir, meta.Registry, m.Servers),
		ClientImplementations: Versions(meta.ImplementationsDir, meta.Registry, m.Clients),
		BandwidthLimit:        meta.Rule.Bandwidth,
		Delay:                 meta.Rule.Delay,
		Loss:                  meta.Rule.Loss,
		Corruption:            meta.Rule.Corruption,
		Tests:                 make(map[string]TestInfo),
		QUICDraft:             testcases.QUICDraft,
		QUICVersion:           testcases.QUICVersion,
		Results:               [][]TestEntry{},
		Measurements:          [][]MeasurementEntry{},
		Args:                  meta.Args,
	}
	if r := meta.Rule.Reorder; r != nil {
		doc.ReorderPackets = r.Percent + " " + r.Correlation
	}
	for _, t := range m.Tests {
		doc.Tests[t.Abbreviation()] = TestInfo{Name: t.Name(), Desc: t.Description()}
	}
	for _, t := range m.Measurements {
		doc.Tests[t.Abbreviation()] = TestInfo{Name: t.Name(), Desc: t.Description()}
	}

	for _, client := range m.Clients {
		for _, server := range m.Servers {
			p := Pair{Server: server, Client: client}

			tests := make([]TestEntry, 0, len(m.Tests))
			for _, t := range m.Tests {
				e := TestEntry{Abbr: t.Abbreviation(), Name: t.Name()}
				if o, ok := m.Test(p, t.Name()); ok {
					s := string(o)
					e.Result = &s
				}
				tests = append(tests, e)
			}
			doc.Results = append(doc.Results, tests)

			var limit int64
			if meta.Registry != nil {
				limit = meta.Registry.MaxFileSize(server, client)
			}
			measurements := make([]MeasurementEntry, 0, len(m.Measurements))
			for _, meas := range m.Measurements {
				r, ok := m.Measurement(p, meas.Name())
				if !ok {
					continue
				}
				size := meas.FileSize()
				if limit > 0 && limit < size {
					size = limit
				}
				measurements = append(measurements, MeasurementEntry{
					Name:     meas.Name(),
					Abbr:     meas.Abbreviation(),
					FileSize: size,
					Result:   string(r.Outcome),
					Average:  r.Mean,
					Details:  r.Details,
					Values:   append([]float64{}, r.Values...),
					Server:   server,
					Client:   client,
				})
			}
			doc.Measurements = append(doc.Measurements, measurements)
		}
	}
	return doc
}

// Write stores the document as JSON at path, creating parent directories.
func (d Document) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Versions reads the first line of each implementation's VERSION file.
// Missing files yield null.
func Versions(dir string, reg *implementations.Registry, names []string) map[string]*string {
	out := make(map[string]*string, len(names))
	for _, name := range names {
		out[name] = nil
		if reg == nil {
			continue
		}
		impl, ok := reg.Get(name)
		if !ok {
			continue
		}
		f, err := os.Open(filepath.Join(dir, impl.Path, "VERSION"))
		if err != nil {
			continue
		}
		sc := bufio.NewScanner(f)
		if sc.Scan() {
			v := strings.TrimRight(sc.Text(), "\r")
			out[name] = &v
		}
		f.Close()
	}
	return out
}
