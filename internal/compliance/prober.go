// Package compliance checks that an implementation reports unknown test
// cases as unsupported before it takes part in the matrix.
package compliance

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"quicinterop/internal/execution"
	"quicinterop/internal/implementations"
	"quicinterop/internal/metrics"
	"quicinterop/internal/outcome"
	"quicinterop/internal/state"
	"quicinterop/internal/testcases"
	"quicinterop/pkg/logging"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 10 * time.Second

// Environments provides the activation prelude of a provisioned pair.
type Environments interface {
	Prelude(name string, role implementations.Role) string
}

// Config tunes the prober.
type Config struct {
	// TempDir is where probe directories are created, os.TempDir by default
	TempDir string
	Timeout time.Duration
}

// Prober runs each pair's probe at most once per run.
type Prober struct {
	strategy execution.Strategy
	registry *implementations.Registry
	envs     Environments
	run      *state.Run
	cfg      Config
}

// NewProber creates a prober bound to a run context.
func NewProber(strategy execution.Strategy, registry *implementations.Registry, envs Environments, run *state.Run, cfg Config) *Prober {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Prober{strategy: strategy, registry: registry, envs: envs, run: run, cfg: cfg}
}

// Check reports whether name behaves compliantly in role, probing on first use.
func (p *Prober) Check(ctx context.Context, name string, role implementations.Role) bool {
	key := state.Key{Implementation: name, Role: role}
	if compliant, known := p.run.Compliance(key); known {
		logging.Debug("Compliance", "%s (%s) already tested for compliance: %t", name, role, compliant)
		return compliant
	}

	compliant, err := p.probe(ctx, name, role)
	if err != nil {
		logging.Error("Compliance", err, "%s (%s) not compliant", name, role)
	} else if !compliant {
		logging.Warn("Compliance", "%s (%s) not compliant", name, role)
	} else {
		logging.Debug("Compliance", "%s (%s) compliant", name, role)
	}
	metrics.ProbesTotal.WithLabelValues(string(role), strconv.FormatBool(compliant)).Inc()
	p.run.SetCompliance(key, compliant)
	return compliant
}

// probeDirs are the directories one probe hands to the implementation.
type probeDirs struct {
	root, logs, www, certs, downloads string
}

func newProbeDirs(base string) (probeDirs, error) {
	root, err := os.MkdirTemp(base, "compliance_")
	if err != nil {
		return probeDirs{}, fmt.Errorf("failed to create probe directory: %w", err)
	}
	d := probeDirs{
		root:      root,
		logs:      filepath.Join(root, "logs"),
		www:       filepath.Join(root, "www"),
		certs:     filepath.Join(root, "certs"),
		downloads: filepath.Join(root, "downloads"),
	}
	for _, dir := range []string{d.logs, d.www, d.certs, d.downloads} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			os.RemoveAll(root)
			return probeDirs{}, err
		}
	}
	return d, nil
}

func (p *Prober) probe(ctx context.Context, name string, role implementations.Role) (bool, error) {
	impl, ok := p.registry.Get(name)
	if !ok {
		return false, fmt.Errorf("unknown implementation %s", name)
	}
	host := execution.HostFor(role)
	dir := p.strategy.ImplementationDir(impl)
	runScript := "./run-" + string(role) + ".sh"

	if !p.strategy.FileExists(ctx, host, path.Join(dir, runScript)) {
		return false, fmt.Errorf("%s does not exist", path.Join(dir, runScript))
	}

	dirs, err := newProbeDirs(p.cfg.TempDir)
	if err != nil {
		return false, err
	}
	defer func() {
		if p.strategy.Remote() {
			if err := p.strategy.RemoveDir(context.WithoutCancel(ctx), host, dirs.root); err != nil {
				logging.Warn("Compliance", "Failed to remove %s on %s: %v", dirs.root, host, err)
			}
		}
		os.RemoveAll(dirs.root)
	}()

	if err := testcases.GenerateCertificates(dirs.certs); err != nil {
		return false, err
	}
	if err := p.strategy.Push(ctx, host, dirs.root); err != nil {
		return false, fmt.Errorf("failed to push probe directory: %w", err)
	}

	env := execution.Env{}.
		Set("TESTCASE", testcases.RandomString(6)).
		Set("DOWNLOADS", dirs.downloads).
		Set("LOGS", dirs.logs).
		Set("QLOGDIR", dirs.logs).
		Set("SSLKEYLOGFILE", filepath.Join(dirs.logs, "keys.log")).
		Set("IP", "localhost").
		Set("PORT", strconv.Itoa(testcases.DefaultPort)).
		Set("CERTS", dirs.certs).
		Set("WWW", dirs.www)

	var prelude string
	if p.envs != nil {
		prelude = p.envs.Prelude(name, role)
	}
	cmd := execution.Command{
		Name:    "compliance-" + string(role),
		Dir:     dir,
		Prelude: prelude,
		Env:     env,
		Script:  runScript,
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	res, err := p.strategy.Run(probeCtx, host, cmd)
	if err != nil {
		return false, err
	}
	logging.Debug("Compliance", "Probe output of %s (%s)\n%s", name, role, res.Logs.Combined)

	if res.Status.TimedOut {
		return false, fmt.Errorf("compliance check timed out after %s", p.cfg.Timeout)
	}
	return outcome.Classify(res.Status, res.Logs.Combined) == outcome.VerdictUnsupported, nil
}
