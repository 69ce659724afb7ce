// Package netem shapes the testbed links with tc. Impairment is applied on
// the client host in both directions, bandwidth limits on the server host.
package netem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/alessio/shellescape"

	"quicinterop/internal/execution"
	"quicinterop/internal/metrics"
	"quicinterop/pkg/logging"
)

// IFBDevice receives the client's redirected ingress traffic.
const IFBDevice = "ifb0"

// Reorder is the netem reorder clause: percentage and correlation.
type Reorder struct {
	Percent     string
	Correlation string
}

// Rule is one set of link conditions. Values use tc syntax ("10ms", "1%",
// "100mbit"); empty values are not applied.
type Rule struct {
	Bandwidth  string
	Delay      string
	Loss       string
	Corruption string
	Reorder    *Reorder
}

// BandwidthLimited reports whether the rule limits the server's egress.
func (r Rule) BandwidthLimited() bool { return r.Bandwidth != "" }

// Impaired reports whether the rule adds any netem clause.
func (r Rule) Impaired() bool {
	return r.Delay != "" || r.Loss != "" || r.Corruption != "" || r.Reorder != nil
}

// Empty reports whether the rule changes nothing.
func (r Rule) Empty() bool { return !r.BandwidthLimited() && !r.Impaired() }

// String renders the rule for logs.
func (r Rule) String() string {
	var parts []string
	if r.Bandwidth != "" {
		parts = append(parts, "bandwidth="+r.Bandwidth)
	}
	if r.Delay != "" {
		parts = append(parts, "delay="+r.Delay)
	}
	if r.Reorder != nil {
		parts = append(parts, "reorder="+r.Reorder.Percent+"/"+r.Reorder.Correlation)
	}
	if r.Corruption != "" {
		parts = append(parts, "corrupt="+r.Corruption)
	}
	if r.Loss != "" {
		parts = append(parts, "loss="+r.Loss)
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}

// BuildNetem renders the netem qdisc for dev. Clause order is fixed: limit,
// delay, reorder, corrupt, loss.
func BuildNetem(dev string, r Rule) []string {
	cmd := []string{"tc", "qdisc", "add", "dev", dev, "root", "netem", "limit", "100000"}
	if r.Delay != "" {
		cmd = append(cmd, "delay", r.Delay)
	}
	if r.Reorder != nil {
		cmd = append(cmd, "reorder", r.Reorder.Percent, r.Reorder.Correlation)
	}
	if r.Corruption != "" {
		cmd = append(cmd, "corrupt", r.Corruption)
	}
	if r.Loss != "" {
		cmd = append(cmd, "loss", r.Loss)
	}
	return cmd
}

// EmulationError is a failed traffic control command.
type EmulationError struct {
	Op   string
	Host execution.Host
	Cmd  string
	Err  error
}

func (e *EmulationError) Error() string {
	return fmt.Sprintf("emulation %s on %s: %s: %v", e.Op, e.Host, e.Cmd, e.Err)
}

func (e *EmulationError) Unwrap() error { return e.Err }

// Controller brackets a cell with link conditions.
type Controller interface {
	Apply(ctx context.Context, r Rule) error
	Remove(ctx context.Context) error
}

// Noop is the controller of the local topology.
type Noop struct{}

func (Noop) Apply(ctx context.Context, r Rule) error {
	if !r.Empty() {
		logging.Debug("Netem", "Ignoring link conditions %s outside a testbed", r)
	}
	return nil
}

func (Noop) Remove(ctx context.Context) error { return nil }

// TC shapes the testbed interfaces over the execution strategy.
type TC struct {
	strategy execution.Strategy

	mu     sync.Mutex
	active *Rule
}

// NewTC creates a controller for the hosts known to strategy.
func NewTC(strategy execution.Strategy) *TC {
	return &TC{strategy: strategy}
}

// New picks the controller for the topology of strategy.
func New(strategy execution.Strategy) Controller {
	if strategy.Remote() {
		return NewTC(strategy)
	}
	return Noop{}
}

type step struct {
	host execution.Host
	argv []string
}

// applySteps lists the commands installing r, in order.
func (t *TC) applySteps(r Rule) []step {
	var steps []step
	if r.BandwidthLimited() {
		dev := t.strategy.Host(execution.HostServer).Interface
		steps = append(steps, step{execution.HostServer, []string{
			"tc", "qdisc", "add", "dev", dev, "root", "tbf", "rate", r.Bandwidth, "latency", "50ms", "burst", "1540",
		}})
	}
	if r.Impaired() {
		dev := t.strategy.Host(execution.HostClient).Interface
		steps = append(steps,
			step{execution.HostClient, []string{"modprobe", "ifb", "numifbs=1"}},
			step{execution.HostClient, []string{"ip", "link", "set", "dev", IFBDevice, "up"}},
			step{execution.HostClient, []string{"tc", "qdisc", "add", "dev", dev, "ingress"}},
			step{execution.HostClient, []string{
				"tc", "filter", "add", "dev", dev, "parent", "ffff:", "protocol", "ip",
				"u32", "match", "u32", "0", "0", "flowid", "1:1",
				"action", "mirred", "egress", "redirect", "dev", IFBDevice,
			}},
			step{execution.HostClient, BuildNetem(IFBDevice, r)},
			step{execution.HostClient, BuildNetem(dev, r)},
		)
	}
	return steps
}

// removeSteps lists the commands undoing r, in order.
func (t *TC) removeSteps(r Rule) []step {
	var steps []step
	if r.BandwidthLimited() {
		dev := t.strategy.Host(execution.HostServer).Interface
		steps = append(steps, step{execution.HostServer, []string{"tc", "qdisc", "del", "dev", dev, "root"}})
	}
	if r.Impaired() {
		dev := t.strategy.Host(execution.HostClient).Interface
		steps = append(steps,
			step{execution.HostClient, []string{"modprobe", "-r", "ifb"}},
			step{execution.HostClient, []string{"tc", "qdisc", "del", "dev", dev, "ingress"}},
			step{execution.HostClient, []string{"tc", "qdisc", "del", "dev", dev, "root"}},
		)
	}
	return steps
}

func (t *TC) exec(ctx context.Context, op string, s step) error {
	line := shellescape.QuoteCommand(s.argv)
	logging.Debug("Netem", "%s on %s: %s", op, s.host, line)
	err := execution.RunChecked(ctx, t.strategy, s.host, execution.Command{Name: "tc", Script: line})
	if err != nil {
		metrics.EmulationErrors.WithLabelValues(op).Inc()
		return &EmulationError{Op: op, Host: s.host, Cmd: line, Err: err}
	}
	return nil
}

// Apply installs r. The rule is recorded before the first command so a
// Remove issued after a partial Apply still cleans up.
func (t *TC) Apply(ctx context.Context, r Rule) error {
	if r.Empty() {
		return nil
	}
	t.mu.Lock()
	t.active = &r
	t.mu.Unlock()

	logging.Info("Netem", "Applying link conditions %s", r)
	for _, s := range t.applySteps(r) {
		if err := t.exec(ctx, "apply", s); err != nil {
			return err
		}
	}
	return nil
}

// Remove undoes the active rule. Every removal command is attempted even if
// earlier ones fail; the failures are joined.
func (t *TC) Remove(ctx context.Context) error {
	t.mu.Lock()
	active := t.active
	t.active = nil
	t.mu.Unlock()
	if active == nil {
		return nil
	}

	logging.Debug("Netem", "Removing link conditions %s", active)
	var errs []error
	for _, s := range t.removeSteps(*active) {
		if err := t.exec(ctx, "remove", s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
