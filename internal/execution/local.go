package execution

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/alessio/shellescape"

	"quicinterop/internal/implementations"
	"quicinterop/pkg/logging"
)

// LocalConfig configures the single-host topology.
type LocalConfig struct {
	ImplementationsDir string
	VariablesDir       string
	Shell              string
}

// Local runs every role on this machine. Directory transfers are no-ops.
type Local struct {
	cfg LocalConfig
}

// NewLocal creates the single-host strategy.
func NewLocal(cfg LocalConfig) *Local {
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	return &Local{cfg: cfg}
}

func loopbackInterface() string {
	if runtime.GOOS == "darwin" {
		return "lo0"
	}
	return "lo"
}

func (l *Local) Remote() bool { return false }

func (l *Local) HasHost(host Host) bool { return host != HostSniffer }

func (l *Local) Host(host Host) HostInfo {
	return HostInfo{
		Name:      "local",
		Interface: loopbackInterface(),
		IP:        "127.0.0.1",
		IPv6:      "::1",
	}
}

func (l *Local) ImplementationDir(impl implementations.Implementation) string {
	return filepath.Join(l.cfg.ImplementationsDir, impl.Path)
}

func (l *Local) command(c Command) *exec.Cmd {
	cmd := exec.Command(l.cfg.Shell, "-c", c.localLine())
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env.Strings()...)
	cmd.Stdin = c.Stdin
	return cmd
}

func (l *Local) Start(ctx context.Context, host Host, c Command) (*Process, error) {
	return startProcess(c.Name, l.command(c))
}

func (l *Local) Run(ctx context.Context, host Host, c Command) (Result, error) {
	p, err := l.Start(ctx, host, c)
	if err != nil {
		return Result{}, err
	}
	return runProcess(ctx, p), nil
}

func (l *Local) FileExists(ctx context.Context, host Host, path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (l *Local) Push(ctx context.Context, host Host, dir string) error { return nil }

func (l *Local) PushTo(ctx context.Context, host Host, src, dst string) error { return nil }

func (l *Local) Pull(ctx context.Context, host Host, dir string) error { return nil }

func (l *Local) RemoveDir(ctx context.Context, host Host, dir string) error { return nil }

func (l *Local) SetVariables(ctx context.Context, host Host, vars map[string]string) error {
	if l.cfg.VariablesDir == "" {
		return nil
	}
	if err := os.MkdirAll(l.cfg.VariablesDir, 0755); err != nil {
		return fmt.Errorf("failed to create variables directory: %w", err)
	}
	jsonData, envData, err := renderVariables(vars)
	if err != nil {
		return err
	}
	jsonPath, envPath := variableFiles(l.cfg.VariablesDir, host)
	if err := os.WriteFile(jsonPath, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", jsonPath, err)
	}
	if err := os.WriteFile(envPath, envData, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", envPath, err)
	}
	logging.Debug("Execution", "Published %d variables for %s", len(vars), host)
	return nil
}

func (l *Local) Terminate(ctx context.Context, host Host, pattern string) error {
	// Local processes are owned by Process handles and stopped through them.
	return nil
}

func (l *Local) PrepareManual(ctx context.Context, host Host, c Command) ([]string, error) {
	return manualLines(c), nil
}

func manualLines(c Command) []string {
	var lines []string
	if c.Dir != "" {
		lines = append(lines, "cd "+shellescape.Quote(c.Dir))
	}
	if c.Prelude != "" {
		lines = append(lines, c.Prelude)
	}
	if exports := c.Env.Exports(); exports != "" {
		lines = append(lines, exports)
	}
	return append(lines, c.Script)
}

func (l *Local) CleanupManual(ctx context.Context, host Host) error { return nil }
