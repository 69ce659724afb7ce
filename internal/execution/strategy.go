// Package execution runs implementation, observer and helper processes on
// the hosts of a topology. A Strategy is chosen once per run: Local runs
// everything on this machine, Remote drives a server and a client host (and
// optionally a sniffer host) over ssh.
package execution

import (
	"context"

	"quicinterop/internal/implementations"
)

// Host names a machine role in the topology.
type Host string

const (
	HostServer  Host = "server"
	HostClient  Host = "client"
	HostSniffer Host = "sniffer"
)

// HostFor maps an implementation role to the host running it.
func HostFor(role implementations.Role) Host {
	if role == implementations.RoleServer {
		return HostServer
	}
	return HostClient
}

// HostInfo describes a machine of the topology.
type HostInfo struct {
	Name      string
	Interface string
	IP        string
	IPv6      string
	PCIID     string
	MAC       string
}

// Strategy hides the topology from the engine.
type Strategy interface {
	// Remote reports whether commands cross a host boundary.
	Remote() bool
	// HasHost reports whether the topology includes host.
	HasHost(host Host) bool
	Host(host Host) HostInfo
	// ImplementationDir is the working directory of impl on its host.
	ImplementationDir(impl implementations.Implementation) string

	Start(ctx context.Context, host Host, c Command) (*Process, error)
	Run(ctx context.Context, host Host, c Command) (Result, error)
	FileExists(ctx context.Context, host Host, path string) bool

	// Push copies a local directory to the same path on host.
	Push(ctx context.Context, host Host, dir string) error
	// PushTo copies the contents of src into dst on host.
	PushTo(ctx context.Context, host Host, src, dst string) error
	// Pull copies dir from host back to the same local path.
	Pull(ctx context.Context, host Host, dir string) error
	// RemoveDir deletes dir on host. Local directories are left to their owner.
	RemoveDir(ctx context.Context, host Host, dir string) error

	// SetVariables publishes coordination variables for hook scripts on host.
	SetVariables(ctx context.Context, host Host, vars map[string]string) error
	// Terminate kills processes matching pattern on host.
	Terminate(ctx context.Context, host Host, pattern string) error

	// PrepareManual returns instructions for launching c by hand.
	PrepareManual(ctx context.Context, host Host, c Command) ([]string, error)
	CleanupManual(ctx context.Context, host Host) error
}
