// Package provision prepares an isolated runtime environment for every
// (implementation, role) pair before it takes part in a cell.
package provision

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/alessio/shellescape"

	"quicinterop/internal/execution"
	"quicinterop/internal/implementations"
	"quicinterop/internal/metrics"
	"quicinterop/internal/state"
	"quicinterop/pkg/logging"
)

// DefaultSetupTimeout bounds an implementation's setup action.
const DefaultSetupTimeout = 900 * time.Second

// ErrProvisioning marks a failed or timed out setup action.
var ErrProvisioning = errors.New("provisioning failed")

// Config controls where environments live and how they are created.
type Config struct {
	// EnvDir holds one environment per pair, named <impl>-<role>. Relative
	// paths are resolved against the remote login directory.
	EnvDir string
	// EnvCommand creates an environment at the path appended to it.
	EnvCommand   string
	SetupScript  string
	SetupTimeout time.Duration
}

// Provisioner runs each pair's setup action at most once per run.
type Provisioner struct {
	strategy execution.Strategy
	registry *implementations.Registry
	run      *state.Run
	cfg      Config
}

// New creates a provisioner bound to a run context.
func New(strategy execution.Strategy, registry *implementations.Registry, run *state.Run, cfg Config) *Provisioner {
	if cfg.EnvCommand == "" {
		cfg.EnvCommand = "python3 -m venv"
	}
	if cfg.SetupScript == "" {
		cfg.SetupScript = "./setup-env.sh"
	}
	if cfg.SetupTimeout == 0 {
		cfg.SetupTimeout = DefaultSetupTimeout
	}
	return &Provisioner{strategy: strategy, registry: registry, run: run, cfg: cfg}
}

// EnvPath is the environment directory of a pair on its host. Local paths
// are absolute; relative remote paths are relative to the login directory.
func (p *Provisioner) EnvPath(name string, role implementations.Role) string {
	dir := path.Join(p.cfg.EnvDir, name+"-"+string(role))
	if !p.strategy.Remote() && !filepath.IsAbs(dir) {
		if abs, err := filepath.Abs(dir); err == nil {
			return abs
		}
	}
	return dir
}

// Prelude activates the pair's environment in a shell whose working
// directory is the implementation directory.
func (p *Provisioner) Prelude(name string, role implementations.Role) string {
	dir := p.EnvPath(name, role)
	if !path.IsAbs(dir) {
		dir = "$HOME/" + dir
	}
	return ". " + dir + "/bin/activate"
}

// Ensure prepares the environment of name in role. Subsequent calls return
// the recorded result without doing any work.
func (p *Provisioner) Ensure(ctx context.Context, name string, role implementations.Role) error {
	key := state.Key{Implementation: name, Role: role}
	if err, attempted := p.run.Provisioned(key); attempted {
		return err
	}

	err := p.provision(ctx, name, role)
	if err != nil {
		err = fmt.Errorf("%w for %s (%s): %v", ErrProvisioning, name, role, err)
		logging.Error("Provision", err, "Setup environment failed for %s (%s)", name, role)
	}
	metrics.ProvisionsTotal.WithLabelValues(string(role), metrics.Result(err == nil)).Inc()
	p.run.SetProvisioned(key, err)
	return err
}

func (p *Provisioner) provision(ctx context.Context, name string, role implementations.Role) error {
	impl, ok := p.registry.Get(name)
	if !ok {
		return fmt.Errorf("unknown implementation %s", name)
	}
	host := execution.HostFor(role)
	envPath := p.EnvPath(name, role)

	if !p.strategy.FileExists(ctx, host, path.Join(envPath, "bin/activate")) {
		logging.Debug("Provision", "Creating environment %s on %s", envPath, host)
		create := execution.Command{
			Name:   "create-env",
			Script: p.cfg.EnvCommand + " " + shellescape.Quote(envPath),
		}
		if err := execution.RunChecked(ctx, p.strategy, host, create); err != nil {
			return err
		}
	}

	dir := p.strategy.ImplementationDir(impl)
	script := path.Join(dir, p.cfg.SetupScript)
	if !p.strategy.FileExists(ctx, host, script) {
		logging.Debug("Provision", "No setup action for %s (%s)", name, role)
		return nil
	}

	setupCtx, cancel := context.WithTimeout(ctx, p.cfg.SetupTimeout)
	defer cancel()

	res, err := p.strategy.Run(setupCtx, host, execution.Command{
		Name:    "setup-env",
		Dir:     dir,
		Prelude: p.Prelude(name, role),
		Script:  p.cfg.SetupScript,
	})
	if err != nil {
		return err
	}
	logging.Debug("Provision", "setup_env output for %s (%s)\n%s", name, role, res.Logs.Combined)
	if res.Status.TimedOut {
		return fmt.Errorf("setup timed out after %s", p.cfg.SetupTimeout)
	}
	return res.Err()
}
