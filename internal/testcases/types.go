package testcases

import (
	"fmt"
	"strings"
	"time"
)

// Perspective is the side a TESTCASE value is rendered for.
type Perspective string

const (
	// PerspectiveServer is the value passed to the server process
	PerspectiveServer Perspective = "server"
	// PerspectiveClient is the value passed to the client process
	PerspectiveClient Perspective = "client"
)

// DefaultPort is the UDP port every server listens on
const DefaultPort = 4433

// Requirements declares the phases a test case needs besides server and client
type Requirements struct {
	// PacketCapture starts a packet capture on the client interface
	PacketCapture bool
	// InterfaceStats records interface counters during the cell
	InterfaceStats bool
	// KeyLog expects both endpoints to write TLS key logs
	KeyLog bool
	// QLog passes QLOGDIR to both endpoints
	QLog bool
}

// Env is the view of a cell's execution context a test case works on.
// Directories are local paths; on a two-host testbed they are pushed before
// launch and pulled back before the result check.
type Env struct {
	WWW        string
	Downloads  string
	Certs      string
	ServerLogs string
	ClientLogs string
	Sim        string

	ServerKeyLog string
	ClientKeyLog string
	ServerQlog   string
	ClientQlog   string

	ServerName string
	Port       int

	// MaxFileSize is the effective ceiling for generated files, 0 for none
	MaxFileSize int64

	// Start and End bracket the client's run
	Start time.Time
	End   time.Time
}

// URLPrefix is prepended to every generated file to form a request.
func (e *Env) URLPrefix() string {
	port := e.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("https://%s:%d/", e.ServerName, port)
}

// Requests renders the REQUESTS value for the given file names.
func (e *Env) Requests(files []string) string {
	urls := make([]string, 0, len(files))
	for _, f := range files {
		urls = append(urls, e.URLPrefix()+f)
	}
	return strings.Join(urls, " ")
}

// Duration is the client's run time.
func (e *Env) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// TestCase is one interoperability test.
type TestCase interface {
	// Name is the identifier used on the command line and in log paths
	Name() string
	// Abbreviation is the short form shown in the results table
	Abbreviation() string
	// Description is the human readable summary stored in the result document
	Description() string
	// TestName is the TESTCASE value the given side receives
	TestName(p Perspective) string
	// Timeout bounds the client's run
	Timeout() time.Duration
	// Requirements declares the optional phases the test needs
	Requirements() Requirements
	// Prepare generates the served files and returns the requested names
	Prepare(env *Env) ([]string, error)
	// Check inspects the artifacts of a clean run
	Check(env *Env) error
}

// Measurement is a TestCase repeated to collect numeric samples.
type Measurement interface {
	TestCase
	// Repetitions is the number of trials
	Repetitions() int
	// FileSize is the payload size before the ceiling is applied
	FileSize() int64
	// Unit labels the value returned by Result
	Unit() string
	// Result extracts the sample of one successful repetition
	Result(env *Env) (float64, error)
}
