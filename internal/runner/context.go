package runner

import (
	"fmt"
	"os"
	"path/filepath"

	"quicinterop/internal/testcases"
)

// ExecutionContext is the per-cell scratch space: temporary directories,
// key log and qlog locations, addressing and timing. It is owned by one
// state machine run and released in teardown.
type ExecutionContext struct {
	testcases.Env

	// SnifferLogs is set when a sniffer host takes part
	SnifferLogs string
	ServerIP    string
	Repetition  int
	// Requests is the client's REQUESTS value
	Requests string
	// Transcript receives the cell's debug log
	Transcript *os.File

	dirs []string
}

type dirTarget struct {
	dst    *string
	prefix string
}

// newExecutionContext creates every directory of a cell under base.
func newExecutionContext(base string, sniffer bool) (*ExecutionContext, error) {
	ec := &ExecutionContext{}
	mk := func(prefix string) (string, error) {
		dir, err := os.MkdirTemp(base, prefix)
		if err != nil {
			return "", fmt.Errorf("failed to create %s directory: %w", prefix, err)
		}
		ec.dirs = append(ec.dirs, dir)
		return dir, nil
	}

	targets := []dirTarget{
		{&ec.Sim, "logs_sim_"},
		{&ec.ServerLogs, "logs_server_"},
		{&ec.ClientLogs, "logs_client_"},
		{&ec.WWW, "www_"},
		{&ec.Certs, "certs_"},
		{&ec.Downloads, "downloads_"},
	}
	if sniffer {
		targets = append(targets, dirTarget{&ec.SnifferLogs, "logs_sniffer_"})
	}
	for _, t := range targets {
		dir, err := mk(t.prefix)
		if err != nil {
			ec.Close()
			return nil, err
		}
		*t.dst = dir
	}

	transcript, err := os.CreateTemp(base, "output_log_")
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("failed to create transcript: %w", err)
	}
	ec.Transcript = transcript

	ec.ServerKeyLog = filepath.Join(ec.ServerLogs, "keys.log")
	ec.ClientKeyLog = filepath.Join(ec.ClientLogs, "keys.log")
	ec.ServerQlog = filepath.Join(ec.ServerLogs, "server_qlog") + "/"
	ec.ClientQlog = filepath.Join(ec.ClientLogs, "client_qlog") + "/"
	ec.Port = testcases.DefaultPort
	return ec, nil
}

// serverDirs are mirrored onto the server host.
func (ec *ExecutionContext) serverDirs() []string {
	return []string{ec.ServerLogs, ec.WWW, ec.Certs}
}

// clientDirs are mirrored onto the client host.
func (ec *ExecutionContext) clientDirs() []string {
	return []string{ec.Sim, ec.ClientLogs, ec.Downloads, ec.Certs}
}

// Close deletes every directory and the transcript.
func (ec *ExecutionContext) Close() error {
	var firstErr error
	for _, dir := range ec.dirs {
		if err := os.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	ec.dirs = nil
	if ec.Transcript != nil {
		ec.Transcript.Close()
		if err := os.Remove(ec.Transcript.Name()); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
		ec.Transcript = nil
	}
	return firstErr
}
