// Package barrier implements the rendezvous between a running endpoint and
// the hot scripts of its host. Both sides exchange single bytes over unix
// datagram sockets: the participant (the endpoint) signals that it is about
// to start and about to finish, the controller runs the pre and post scripts
// at those points and releases it.
package barrier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"quicinterop/pkg/logging"
)

// Default channel paths. The controller binds ServerPath, the participant
// binds ClientPath.
const (
	DefaultClientPath = "/tmp/client"
	DefaultServerPath = "/tmp/server"
	DefaultTimeout    = 60 * time.Second
)

// ErrSyncTimeout is returned when an expected byte never arrived.
var ErrSyncTimeout = errors.New("synchronization timeout")

// State is the controller's position in the exchange.
type State int

const (
	WaitingForPeerReady State = iota
	Connected
	PreDone
	PostDone
)

func (s State) String() string {
	switch s {
	case WaitingForPeerReady:
		return "WaitingForPeerReady"
	case Connected:
		return "Connected"
	case PreDone:
		return "PreDone"
	case PostDone:
		return "PostDone"
	default:
		return "Unknown"
	}
}

// ScriptFunc runs one hot script.
type ScriptFunc func(ctx context.Context, script string) error

// ShellScript runs script with sh -c, logging its output.
func ShellScript(ctx context.Context, script string) error {
	logging.Info("Barrier", "Executing script: %s", script)
	out, err := exec.CommandContext(ctx, "sh", "-c", script).CombinedOutput()
	if len(out) > 0 {
		logging.Debug("Barrier", "%s\n%s", script, out)
	}
	return err
}

// ControllerConfig configures one controller.
type ControllerConfig struct {
	ServerPath string
	ClientPath string
	Timeout    time.Duration
	Pre        []string
	Post       []string
	Exec       ScriptFunc
}

// Controller drives WaitingForPeerReady -> Connected -> PreDone -> PostDone.
type Controller struct {
	cfg ControllerConfig

	mu    sync.Mutex
	state State
	conn  *net.UnixConn
}

// NewController applies defaults to cfg.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.ServerPath == "" {
		cfg.ServerPath = DefaultServerPath
	}
	if cfg.ClientPath == "" {
		cfg.ClientPath = DefaultClientPath
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Exec == nil {
		cfg.Exec = ShellScript
	}
	return &Controller{cfg: cfg}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	logging.Debug("Barrier", "Controller state %s", s)
}

// Listen unlinks and binds the controller path. Run calls it when needed.
func (c *Controller) Listen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	if err := os.Remove(c.cfg.ServerPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to unlink %s: %w", c.cfg.ServerPath, err)
	}
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: c.cfg.ServerPath, Net: "unixgram"})
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", c.cfg.ServerPath, err)
	}
	c.conn = conn
	return nil
}

// Run performs the whole exchange. It returns ErrSyncTimeout when the peer
// misses a checkpoint.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Listen(); err != nil {
		return err
	}
	defer c.close()

	if err := readByte(ctx, c.conn, c.cfg.Timeout); err != nil {
		return fmt.Errorf("waiting for peer ready: %w", err)
	}
	peer := &net.UnixAddr{Name: c.cfg.ClientPath, Net: "unixgram"}
	c.setState(Connected)

	c.runScripts(ctx, "pre", c.cfg.Pre)
	c.setState(PreDone)
	if _, err := c.conn.WriteToUnix([]byte{1}, peer); err != nil {
		return fmt.Errorf("failed to release peer: %w", err)
	}

	if err := readByte(ctx, c.conn, c.cfg.Timeout); err != nil {
		return fmt.Errorf("waiting for peer finish: %w", err)
	}
	c.runScripts(ctx, "post", c.cfg.Post)
	c.setState(PostDone)
	if _, err := c.conn.WriteToUnix([]byte{1}, peer); err != nil {
		return fmt.Errorf("failed to acknowledge peer: %w", err)
	}
	return nil
}

// runScripts executes scripts in order. A failing script is logged and does
// not stop the exchange.
func (c *Controller) runScripts(ctx context.Context, phase string, scripts []string) {
	if len(scripts) == 0 {
		return
	}
	logging.Info("Barrier", "Executing %s scripts", phase)
	for _, script := range scripts {
		if err := c.cfg.Exec(ctx, script); err != nil {
			logging.Warn("Barrier", "%s script %s failed: %v", phase, script, err)
		}
	}
}

func (c *Controller) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	os.Remove(c.cfg.ServerPath)
}

// readByte waits for one datagram, bounded by timeout and ctx.
func readByte(ctx context.Context, conn *net.UnixConn, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, 1)
	if _, _, err := conn.ReadFromUnix(buf); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrSyncTimeout
		}
		return err
	}
	return nil
}
