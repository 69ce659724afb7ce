package execution

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/alessio/shellescape"

	"quicinterop/internal/implementations"
	"quicinterop/pkg/logging"
)

// DefaultTransferTimeout bounds a single rsync invocation.
const DefaultTransferTimeout = 2000 * time.Second

// RemoteConfig configures the multi-host topology.
type RemoteConfig struct {
	Hosts           map[Host]HostInfo
	SSHBinary       string
	SSHOptions      []string
	RsyncBinary     string
	VariablesDir    string
	TransferTimeout time.Duration
}

// Remote runs each role on its own host over ssh and moves directories with
// rsync. Implementation paths are relative to the remote login directory.
type Remote struct {
	cfg RemoteConfig
}

// NewRemote creates the multi-host strategy.
func NewRemote(cfg RemoteConfig) *Remote {
	if cfg.SSHBinary == "" {
		cfg.SSHBinary = "ssh"
	}
	if cfg.RsyncBinary == "" {
		cfg.RsyncBinary = "rsync"
	}
	if cfg.TransferTimeout == 0 {
		cfg.TransferTimeout = DefaultTransferTimeout
	}
	return &Remote{cfg: cfg}
}

func (r *Remote) Remote() bool { return true }

func (r *Remote) HasHost(host Host) bool {
	info, ok := r.cfg.Hosts[host]
	return ok && info.Name != ""
}

func (r *Remote) Host(host Host) HostInfo { return r.cfg.Hosts[host] }

func (r *Remote) ImplementationDir(impl implementations.Implementation) string {
	return impl.Path
}

func (r *Remote) hostname(host Host) (string, error) {
	info, ok := r.cfg.Hosts[host]
	if !ok || info.Name == "" {
		return "", fmt.Errorf("no %s host configured", host)
	}
	return info.Name, nil
}

// sshArgs builds the argument vector for running line on hostname.
func (r *Remote) sshArgs(hostname, line string) []string {
	args := append([]string{}, r.cfg.SSHOptions...)
	return append(args, hostname, line)
}

func (r *Remote) Start(ctx context.Context, host Host, c Command) (*Process, error) {
	hostname, err := r.hostname(host)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(r.cfg.SSHBinary, r.sshArgs(hostname, c.ShellLine())...)
	cmd.Stdin = c.Stdin
	return startProcess(c.Name, cmd)
}

func (r *Remote) Run(ctx context.Context, host Host, c Command) (Result, error) {
	p, err := r.Start(ctx, host, c)
	if err != nil {
		return Result{}, err
	}
	return runProcess(ctx, p), nil
}

func (r *Remote) FileExists(ctx context.Context, host Host, path string) bool {
	res, err := r.Run(ctx, host, Command{Name: "test", Script: "test -f " + shellescape.Quote(path)})
	return err == nil && res.Status.Code == 0 && !res.Status.TimedOut
}

func (r *Remote) rsync(ctx context.Context, src, dst string) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.TransferTimeout)
	defer cancel()

	p, err := startProcess("rsync", exec.Command(r.cfg.RsyncBinary, "-r", src, dst))
	if err != nil {
		return err
	}
	res := runProcess(ctx, p)
	if err := res.Err(); err != nil {
		return fmt.Errorf("rsync %s to %s: %w", src, dst, err)
	}
	return nil
}

func (r *Remote) Push(ctx context.Context, host Host, dir string) error {
	src := filepath.Clean(dir)
	return r.PushTo(ctx, host, src, filepath.Dir(src))
}

func (r *Remote) PushTo(ctx context.Context, host Host, src, dst string) error {
	hostname, err := r.hostname(host)
	if err != nil {
		return err
	}
	logging.Debug("Execution", "Copy %s to %s:%s", src, hostname, dst)
	return r.rsync(ctx, src, hostname+":"+dst)
}

func (r *Remote) Pull(ctx context.Context, host Host, dir string) error {
	hostname, err := r.hostname(host)
	if err != nil {
		return err
	}
	src := filepath.Clean(dir)
	logging.Debug("Execution", "Copy %s:%s to %s", hostname, src, filepath.Dir(src))
	return r.rsync(ctx, hostname+":"+src, filepath.Dir(src))
}

func (r *Remote) RemoveDir(ctx context.Context, host Host, dir string) error {
	logging.Debug("Execution", "Deleting %s:%s", host, dir)
	return RunChecked(ctx, r, host, Command{Name: "rm", Script: "rm -rf " + shellescape.Quote(dir)})
}

func (r *Remote) writeFile(ctx context.Context, host Host, path string, data []byte) error {
	script := fmt.Sprintf("mkdir -p %s && cat > %s",
		shellescape.Quote(filepath.Dir(path)), shellescape.Quote(path))
	return RunChecked(ctx, r, host, Command{Name: "write " + path, Script: script, Stdin: bytes.NewReader(data)})
}

func (r *Remote) SetVariables(ctx context.Context, host Host, vars map[string]string) error {
	if r.cfg.VariablesDir == "" {
		return nil
	}
	jsonData, envData, err := renderVariables(vars)
	if err != nil {
		return err
	}
	jsonPath, envPath := variableFiles(r.cfg.VariablesDir, host)
	if err := r.writeFile(ctx, host, jsonPath, jsonData); err != nil {
		return err
	}
	return r.writeFile(ctx, host, envPath, envData)
}

func (r *Remote) Terminate(ctx context.Context, host Host, pattern string) error {
	res, err := r.Run(ctx, host, Command{Name: "pkill", Script: "pkill -f " + shellescape.Quote(pattern)})
	if err != nil {
		return err
	}
	// pkill exits 1 when nothing matched.
	if res.Status.Code > 1 || res.Status.TimedOut {
		return fmt.Errorf("pkill %s on %s: %w", pattern, host, res.Err())
	}
	return nil
}

const profileFile = "~/.profile-interop"

func (r *Remote) PrepareManual(ctx context.Context, host Host, c Command) ([]string, error) {
	hostname, err := r.hostname(host)
	if err != nil {
		return nil, err
	}

	var prep []string
	if c.Prelude != "" {
		prep = append(prep, c.Prelude)
	}
	if exports := c.Env.Exports(); exports != "" {
		prep = append(prep, exports)
	}
	for _, line := range prep {
		script := fmt.Sprintf("echo %s >> %s; grep -qxF '. %s' .profile || echo '. %s' >> .profile",
			shellescape.Quote(line), profileFile, profileFile, profileFile)
		if err := RunChecked(ctx, r, host, Command{Name: "shell config", Script: script}); err != nil {
			return nil, err
		}
	}

	login := "exec $SHELL -l"
	if c.Dir != "" {
		login = "cd " + shellescape.Quote(c.Dir) + "; " + login
	}
	return []string{
		fmt.Sprintf("ssh -t %s %s", hostname, shellescape.Quote(login)),
		c.Script,
	}, nil
}

func (r *Remote) CleanupManual(ctx context.Context, host Host) error {
	return RunChecked(ctx, r, host, Command{Name: "shell config", Script: "echo '' > " + profileFile})
}
