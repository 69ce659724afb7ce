package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"

	"quicinterop/internal/color"
	"quicinterop/internal/execution"
	"quicinterop/pkg/logging"
)

// manual prints the launch commands of both endpoints and waits for the
// operator to confirm they are done.
func (m *Machine) manual(ctx context.Context, server, client execution.Command, cleanup *cleanupList) error {
	out := m.cfg.Manual.Out
	if out == nil {
		out = os.Stdout
	}
	in := m.cfg.Manual.In
	if in == nil {
		in = os.Stdin
	}

	var blocks []string
	for _, side := range []struct {
		host execution.Host
		cmd  execution.Command
	}{
		{execution.HostServer, server},
		{execution.HostClient, client},
	} {
		lines, err := m.strategy.PrepareManual(ctx, side.host, side.cmd)
		if err != nil {
			return fmt.Errorf("failed to prepare %s: %w", side.host, err)
		}
		host := side.host
		cleanup.push("manual "+string(host), func(ctx context.Context) error {
			return m.strategy.CleanupManual(ctx, host)
		})
		if len(lines) == 0 {
			lines = []string{side.cmd.ShellLine()}
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
		fmt.Fprintf(out, "%s\n%s\n\n", color.Banner("Run "+string(host)+":"), color.Command(strings.Join(lines, "\n")))
	}

	if m.cfg.Manual.Clipboard {
		if err := clipboard.WriteAll(strings.Join(blocks, "\n")); err != nil {
			logging.Warn("Runner", "Could not copy commands to clipboard: %v", err)
		}
	}

	fmt.Fprintln(out, "Press Enter when both sides have finished.")
	return waitForEnter(ctx, in)
}

// waitForEnter returns once a line is read from in or ctx is done.
func waitForEnter(ctx context.Context, in io.Reader) error {
	done := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(in).ReadString('\n')
		if err == io.EOF {
			err = nil
		}
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
