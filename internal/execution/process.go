package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"quicinterop/internal/outcome"
	"quicinterop/pkg/logging"
)

// DefaultGracePeriod is how long a terminated process tree may take to exit
// before it is killed.
const DefaultGracePeriod = 3 * time.Second

// Logs is the captured output of a process.
type Logs struct {
	Stdout   string
	Stderr   string
	Combined string
}

// logCapture collects stdout and stderr of a process.
type logCapture struct {
	stdoutBuf    *bytes.Buffer
	stderrBuf    *bytes.Buffer
	stdoutReader *io.PipeReader
	stderrReader *io.PipeReader
	stdoutWriter *io.PipeWriter
	stderrWriter *io.PipeWriter
	wg           sync.WaitGroup
	mu           sync.RWMutex
}

func newLogCapture() *logCapture {
	lc := &logCapture{
		stdoutBuf: &bytes.Buffer{},
		stderrBuf: &bytes.Buffer{},
	}

	lc.stdoutReader, lc.stdoutWriter = io.Pipe()
	lc.stderrReader, lc.stderrWriter = io.Pipe()

	lc.wg.Add(2)
	go lc.captureOutput(lc.stdoutReader, lc.stdoutBuf)
	go lc.captureOutput(lc.stderrReader, lc.stderrBuf)

	return lc
}

type lockedWriter struct {
	mu  *sync.RWMutex
	buf *bytes.Buffer
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (lc *logCapture) captureOutput(reader io.Reader, buffer *bytes.Buffer) {
	defer lc.wg.Done()
	_, _ = io.Copy(lockedWriter{mu: &lc.mu, buf: buffer}, reader)
}

func (lc *logCapture) close() {
	lc.stdoutWriter.Close()
	lc.stderrWriter.Close()
	lc.wg.Wait()
}

func (lc *logCapture) getLogs() Logs {
	lc.mu.RLock()
	defer lc.mu.RUnlock()

	stdout := lc.stdoutBuf.String()
	stderr := lc.stderrBuf.String()

	combined := ""
	if stdout != "" {
		combined += "=== STDOUT ===\n" + stdout
	}
	if stderr != "" {
		if combined != "" {
			combined += "\n"
		}
		combined += "=== STDERR ===\n" + stderr
	}

	return Logs{
		Stdout:   stdout,
		Stderr:   stderr,
		Combined: combined,
	}
}

// Process is a started process tree. It runs in its own process group so that
// termination reaches every descendant.
type Process struct {
	name       string
	cmd        *exec.Cmd
	logCapture *logCapture

	done   chan struct{}
	status outcome.ExitStatus
	err    error
}

// startProcess launches cmd in a new process group and begins capturing its
// output.
func startProcess(name string, cmd *exec.Cmd) (*Process, error) {
	lc := newLogCapture()
	if cmd.Stdout == nil {
		cmd.Stdout = lc.stdoutWriter
	}
	if cmd.Stderr == nil {
		cmd.Stderr = lc.stderrWriter
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = DefaultGracePeriod

	logging.Debug("Execution", "Starting %s: %s", name, cmd.String())
	if err := cmd.Start(); err != nil {
		lc.close()
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	p := &Process{
		name:       name,
		cmd:        cmd,
		logCapture: lc,
		done:       make(chan struct{}),
	}
	go p.reap()
	return p, nil
}

func (p *Process) reap() {
	err := p.cmd.Wait()
	p.logCapture.close()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		p.status = outcome.ExitStatus{Code: 0}
	case errors.As(err, &exitErr):
		p.status = outcome.ExitStatus{Code: exitErr.ExitCode()}
	default:
		p.status = outcome.ExitStatus{Code: -1}
		p.err = err
	}
	close(p.done)
}

// Name identifies the process in logs.
func (p *Process) Name() string { return p.name }

// Wait blocks until the process exits or ctx is done. On ctx expiry the
// process keeps running; callers decide whether to Stop it.
func (p *Process) Wait(ctx context.Context) (outcome.ExitStatus, error) {
	select {
	case <-p.done:
		return p.status, p.err
	case <-ctx.Done():
		return outcome.ExitStatus{TimedOut: true}, ctx.Err()
	}
}

// Exited reports whether the process has finished.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Stop sends SIGTERM to the process group and SIGKILL once grace expires.
// It returns after the process has been reaped.
func (p *Process) Stop(grace time.Duration) {
	if p.Exited() {
		return
	}
	pgid := p.cmd.Process.Pid
	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		logging.Debug("Execution", "SIGTERM failed for %s: %v", p.name, err)
	}

	select {
	case <-p.done:
		return
	case <-time.After(grace):
		logging.Debug("Execution", "Grace period expired for %s, killing process group %d", p.name, pgid)
		_ = unix.Kill(-pgid, unix.SIGKILL)
	}
	<-p.done
}

// Logs returns output captured so far. It is complete once the process
// has exited.
func (p *Process) Logs() Logs {
	return p.logCapture.getLogs()
}

// LogOutput writes captured output to the debug log, the way every
// finished process of a cell is recorded in its transcript.
func (p *Process) LogOutput() {
	l := p.Logs()
	if l.Stdout != "" {
		logging.Debug("Execution", "%s stdout\n%s", p.name, l.Stdout)
	}
	if l.Stderr != "" {
		logging.Debug("Execution", "%s stderr\n%s", p.name, l.Stderr)
	}
}
