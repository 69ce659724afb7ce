// Package observer runs the passive recorders of a cell: packet capture and
// interface statistics on the client host.
package observer

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/alessio/shellescape"

	"quicinterop/internal/execution"
	"quicinterop/internal/testcases"
	"quicinterop/pkg/logging"
)

// Artifact names inside the sim directory.
const (
	TraceFile           = "trace.pcap"
	InterfaceStatusFile = "interface_status.txt"
)

// Observer records something for the lifetime of a cell.
type Observer interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context)
}

// ForTest returns the observers a test requires. Their artifacts are written
// to simDir on the client host.
func ForTest(strategy execution.Strategy, req testcases.Requirements, simDir string) []Observer {
	iface := strategy.Host(execution.HostClient).Interface
	var observers []Observer
	if req.PacketCapture {
		observers = append(observers, &processObserver{
			name:     "tcpdump",
			strategy: strategy,
			script: shellescape.QuoteCommand([]string{
				"tcpdump", "-i", iface, "-U", "-w", filepath.Join(simDir, TraceFile),
			}),
		})
	}
	if req.InterfaceStats {
		if strategy.Remote() {
			observers = append(observers, &processObserver{
				name:     "ifstat",
				strategy: strategy,
				script: shellescape.QuoteCommand([]string{"ifstat", "-i", iface, "-bn", "-t"}) +
					" > " + shellescape.Quote(filepath.Join(simDir, InterfaceStatusFile)),
			})
		} else {
			observers = append(observers, NewSampler(iface, filepath.Join(simDir, InterfaceStatusFile)))
		}
	}
	return observers
}

// processObserver is a long running command on the client host.
type processObserver struct {
	name     string
	strategy execution.Strategy
	script   string
	proc     *execution.Process
}

func (o *processObserver) Name() string { return o.name }

func (o *processObserver) Start(ctx context.Context) error {
	logging.Debug("Observer", "Starting %s: %s", o.name, o.script)
	p, err := o.strategy.Start(ctx, execution.HostClient, execution.Command{Name: o.name, Script: o.script})
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", o.name, err)
	}
	o.proc = p
	return nil
}

func (o *processObserver) Stop(ctx context.Context) {
	if o.proc == nil {
		return
	}
	if o.strategy.Remote() {
		if err := o.strategy.Terminate(ctx, execution.HostClient, o.name); err != nil {
			logging.Warn("Observer", "Failed to terminate %s: %v", o.name, err)
		}
	}
	o.proc.Stop(execution.DefaultGracePeriod)
	o.proc.LogOutput()
	o.proc = nil
}
