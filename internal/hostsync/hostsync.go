// Package hostsync lets two testbed hosts wait for each other over TCP
// before a script continues.
package hostsync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"quicinterop/pkg/logging"
)

const (
	DefaultPort    = 11111
	DefaultTimeout = 40 * time.Second
)

// ErrTimeout is returned when the other host did not show up in time.
var ErrTimeout = errors.New("host rendezvous timed out")

// Address joins host with the rendezvous port.
func Address(host string, port int) string {
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Listen accepts a single connection on addr and returns once it arrived.
func Listen(ctx context.Context, addr string, timeout time.Duration) error {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	defer l.Close()

	tl := l.(*net.TCPListener)
	if err := tl.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { tl.SetDeadline(time.Now()) })
	defer stop()

	logging.Debug("Hostsync", "Waiting for peer on %s", addr)
	conn, err := tl.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return ErrTimeout
		}
		return err
	}
	logging.Debug("Hostsync", "Peer %s arrived", conn.RemoteAddr())
	return conn.Close()
}

// Connect dials addr once per second until the listener accepts.
func Connect(ctx context.Context, addr string, timeout time.Duration) error {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			logging.Debug("Hostsync", "Connected to %s", addr)
			return conn.Close()
		}
		logging.Debug("Hostsync", "Peer %s not ready: %v", addr, err)
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrTimeout
			}
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
