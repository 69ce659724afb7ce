package scheduler

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/alessio/shellescape"
	"golang.org/x/sync/errgroup"

	"quicinterop/internal/execution"
	"quicinterop/internal/implementations"
	"quicinterop/internal/provision"
	"quicinterop/internal/state"
	"quicinterop/pkg/logging"
)

// RemoteBinary is where the interop binary is placed on testbed hosts,
// relative to the remote login directory.
const RemoteBinary = "interop"

// Staging lists what a testbed host needs before the first cell.
type Staging struct {
	// ImplementationsDir is the local root of the implementation catalog
	ImplementationsDir string
	Servers            []string
	Clients            []string
	// Scripts are hook scripts copied to the same path on each host
	Scripts map[execution.Host][]string
	// Binary is copied to RemoteBinary on both endpoint hosts when set
	Binary string
	// Run receives a provisioning failure for every implementation that
	// could not be copied, so the matrix skips only that implementation
	Run *state.Run
}

// Stage copies implementations, hook scripts and the interop binary to the
// testbed hosts, one goroutine per host. It is a no-op on a single host.
//
// A failed copy never aborts staging: it is logged and, for an
// implementation, recorded in st.Run. Stage only returns an error when ctx
// ends first.
func Stage(ctx context.Context, strategy execution.Strategy, registry *implementations.Registry, st Staging) error {
	if !strategy.Remote() {
		return nil
	}

	perHost := []struct {
		host  execution.Host
		role  implementations.Role
		names []string
	}{
		{execution.HostServer, implementations.RoleServer, st.Servers},
		{execution.HostClient, implementations.RoleClient, st.Clients},
	}
	var g errgroup.Group
	for _, h := range perHost {
		g.Go(func() error {
			for _, name := range h.names {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if err := pushImplementation(ctx, strategy, registry, st.ImplementationsDir, h.host, name); err != nil {
					logging.Error("Scheduler", err, "Staging %s on %s failed, disabling it as %s", name, h.host, h.role)
					if st.Run != nil {
						st.Run.SetProvisioned(state.Key{Implementation: name, Role: h.role},
							fmt.Errorf("%w for %s (%s): %v", provision.ErrProvisioning, name, h.role, err))
					}
				}
			}
			stageFiles(ctx, strategy, h.host, st.Scripts[h.host], st.Binary)
			return ctx.Err()
		})
	}
	if st.Scripts[execution.HostSniffer] != nil && strategy.HasHost(execution.HostSniffer) {
		g.Go(func() error {
			stageFiles(ctx, strategy, execution.HostSniffer, st.Scripts[execution.HostSniffer], "")
			return ctx.Err()
		})
	}
	return g.Wait()
}

func pushImplementation(ctx context.Context, strategy execution.Strategy, registry *implementations.Registry, root string, host execution.Host, name string) error {
	impl, ok := registry.Get(name)
	if !ok {
		return fmt.Errorf("implementation %s not found", name)
	}
	// The trailing separator copies the directory's contents.
	src := filepath.Join(root, impl.Path) + string(filepath.Separator)
	logging.Info("Scheduler", "Copying %s to %s", name, host)
	return strategy.PushTo(ctx, host, src, impl.Path)
}

// stageFiles copies hook scripts and the binary. Failures are logged; the
// cells that need a missing file fail on their own.
func stageFiles(ctx context.Context, strategy execution.Strategy, host execution.Host, scripts []string, binary string) {
	for _, script := range scripts {
		dir := path.Dir(script)
		mkdir := execution.Command{Name: "mkdir", Script: "mkdir -p " + shellescape.Quote(dir)}
		if err := execution.RunChecked(ctx, strategy, host, mkdir); err != nil {
			logging.Error("Scheduler", err, "Failed to create %s on %s", dir, host)
			continue
		}
		if err := strategy.PushTo(ctx, host, script, dir); err != nil {
			logging.Error("Scheduler", err, "Failed to copy %s to %s", script, host)
		}
	}
	if binary != "" {
		if err := strategy.PushTo(ctx, host, binary, RemoteBinary); err != nil {
			logging.Error("Scheduler", err, "Failed to copy interop binary to %s", host)
		}
	}
}
