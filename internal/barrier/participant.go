package barrier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"
)

// Timestamps is the content of the client timestamp file, in nanoseconds
// since the epoch.
type Timestamps struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// ReadTimestamps loads a timestamp file written by a participant.
func ReadTimestamps(path string) (start, end time.Time, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	var ts Timestamps
	if err := json.Unmarshal(data, &ts); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if ts.End < ts.Start {
		return time.Time{}, time.Time{}, fmt.Errorf("%s: end before start", path)
	}
	return time.Unix(0, ts.Start), time.Unix(0, ts.End), nil
}

// Participant is the endpoint side of the exchange.
type Participant struct {
	ClientPath string
	ServerPath string
	Timeout    time.Duration
	// TimestampFile, if set, receives the start and end times on End
	TimestampFile string

	conn  *net.UnixConn
	start time.Time
	end   time.Time
}

// NewParticipant creates a participant on the default paths.
func NewParticipant() *Participant {
	return &Participant{
		ClientPath: DefaultClientPath,
		ServerPath: DefaultServerPath,
		Timeout:    DefaultTimeout,
	}
}

// dial binds ClientPath and connects to ServerPath, retrying until the
// controller has bound its path.
func (p *Participant) dial(ctx context.Context) error {
	deadline := time.Now().Add(p.Timeout)
	laddr := &net.UnixAddr{Name: p.ClientPath, Net: "unixgram"}
	raddr := &net.UnixAddr{Name: p.ServerPath, Net: "unixgram"}
	for {
		if err := os.Remove(p.ClientPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to unlink %s: %w", p.ClientPath, err)
		}
		conn, err := net.DialUnix("unixgram", laddr, raddr)
		if err == nil {
			p.conn = conn
			return nil
		}
		if !errors.Is(err, syscall.ENOENT) && !errors.Is(err, syscall.ECONNREFUSED) {
			return fmt.Errorf("failed to connect to %s: %w", p.ServerPath, err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("controller at %s: %w", p.ServerPath, ErrSyncTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (p *Participant) notifyWait(ctx context.Context) error {
	if _, err := p.conn.Write([]byte{1}); err != nil {
		return fmt.Errorf("failed to notify controller: %w", err)
	}
	return readByte(ctx, p.conn, p.Timeout)
}

// Begin announces readiness and blocks until the pre scripts finished.
func (p *Participant) Begin(ctx context.Context) error {
	if p.Timeout == 0 {
		p.Timeout = DefaultTimeout
	}
	if err := p.dial(ctx); err != nil {
		return err
	}
	if err := p.notifyWait(ctx); err != nil {
		return err
	}
	p.start = time.Now()
	return nil
}

// End announces completion and blocks until the post scripts finished.
func (p *Participant) End(ctx context.Context) error {
	p.end = time.Now()
	if p.conn == nil {
		return errors.New("End called without Begin")
	}
	if err := p.notifyWait(ctx); err != nil {
		return err
	}
	if p.TimestampFile == "" {
		return nil
	}
	data, err := json.Marshal(Timestamps{Start: p.start.UnixNano(), End: p.end.UnixNano()})
	if err != nil {
		return err
	}
	return os.WriteFile(p.TimestampFile, append(data, '\n'), 0o644)
}

// Times returns the recorded start and end.
func (p *Participant) Times() (start, end time.Time) { return p.start, p.end }

// Close releases the socket and unlinks ClientPath.
func (p *Participant) Close() error {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	if err := os.Remove(p.ClientPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
