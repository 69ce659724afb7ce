package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/alessio/shellescape"

	"quicinterop/internal/compliance"
	"quicinterop/internal/config"
	"quicinterop/internal/execution"
	"quicinterop/internal/implementations"
	"quicinterop/internal/netem"
	"quicinterop/internal/provision"
	"quicinterop/internal/runner"
	"quicinterop/internal/scheduler"
	"quicinterop/internal/state"
	"quicinterop/internal/testcases"
)

// Services holds the engine components of one run
type Services struct {
	Registry    *implementations.Registry
	Testbed     *config.Testbed
	Strategy    execution.Strategy
	Run         *state.Run
	Provisioner *provision.Provisioner
	Prober      *compliance.Prober
	Machine     *runner.Machine

	Servers      []string
	Clients      []string
	Tests        []testcases.TestCase
	Measurements []testcases.Measurement
}

// executable is replaced in tests
var executable = os.Executable

// InitializeServices resolves the matrix and wires the engine for logDir.
func InitializeServices(cfg *Config, runID, logDir string) (*Services, error) {
	rc := cfg.Run

	registry, err := implementations.LoadFile(rc.Implementations)
	if err != nil {
		return nil, err
	}
	servers, err := registry.Resolve(rc.Servers, implementations.RoleServer)
	if err != nil {
		return nil, err
	}
	clients, err := registry.Resolve(rc.Clients, implementations.RoleClient)
	if err != nil {
		return nil, err
	}

	var fileSize int64
	if rc.FileSize != "" {
		fileSize, err = implementations.ParseFileSize(rc.FileSize, "MiB")
		if err != nil {
			return nil, fmt.Errorf("invalid filesize: %w", err)
		}
	}
	tests, measurements, err := testcases.Select(rc.Tests, rc.Repetitions, fileSize)
	if err != nil {
		return nil, err
	}

	s := &Services{
		Registry:     registry,
		Run:          state.NewRun(runID),
		Servers:      servers,
		Clients:      clients,
		Tests:        tests,
		Measurements: measurements,
	}

	if rc.Testbed != "" {
		s.Testbed, err = config.LoadTestbed(rc.Testbed)
		if err != nil {
			return nil, err
		}
		s.Strategy = execution.NewRemote(execution.RemoteConfig{
			Hosts:        s.Testbed.Hosts(),
			SSHBinary:    rc.SSH.Binary,
			SSHOptions:   rc.SSH.Options,
			VariablesDir: rc.VariablesDir,
		})
	} else {
		s.Strategy = execution.NewLocal(execution.LocalConfig{
			ImplementationsDir: rc.ImplementationsDir,
			VariablesDir:       rc.VariablesDir,
		})
	}

	s.Provisioner = provision.New(s.Strategy, registry, s.Run, provision.Config{
		EnvDir:       rc.EnvDir,
		SetupTimeout: rc.Timeouts.Setup,
	})
	s.Prober = compliance.NewProber(s.Strategy, registry, s.Provisioner, s.Run, compliance.Config{
		TempDir: rc.TempDir,
		Timeout: rc.Timeouts.Probe,
	})

	barrierCommand, err := barrierCommand(s.Strategy)
	if err != nil {
		return nil, err
	}
	s.Machine = runner.NewMachine(s.Strategy, registry, s.Run, s.Provisioner, netem.New(s.Strategy), runner.Config{
		LogDir:                  logDir,
		TempDir:                 rc.TempDir,
		SaveFiles:               rc.SaveFiles,
		IPv6:                    rc.IPv6,
		UseClientTimestamps:     rc.UseClientTimestamps,
		DisableServerAESOffload: rc.DisableServerAESOffload,
		DisableClientAESOffload: rc.DisableClientAESOffload,
		Rule:                    rc.Emulation.Rule(),
		Scripts:                 runner.Scripts(rc.Scripts),
		ServerParams:            rc.Params.Server,
		ClientParams:            rc.Params.Client,
		SnifferParams:           rc.Params.Sniffer,
		BarrierCommand:          barrierCommand,
		BarrierTimeout:          rc.Timeouts.Barrier,
		Timing:                  runner.DefaultTiming(),
		Manual: runner.Manual{
			Enabled:   rc.Manual,
			In:        cfg.In,
			Out:       cfg.Out,
			Clipboard: rc.Clipboard,
		},
	})
	return s, nil
}

// barrierCommand is how the runner starts this binary's barrier command on a
// host. Testbed hosts get a staged copy.
func barrierCommand(strategy execution.Strategy) (string, error) {
	if strategy.Remote() {
		return "./" + scheduler.RemoteBinary + " barrier", nil
	}
	exe, err := executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate the interop binary: %w", err)
	}
	return shellescape.Quote(exe) + " barrier", nil
}

// staging lists what testbed hosts need before the first cell.
func (s *Services) staging(rc config.RunConfig) scheduler.Staging {
	st := scheduler.Staging{
		ImplementationsDir: rc.ImplementationsDir,
		Servers:            s.Servers,
		Clients:            s.Clients,
		Run:                s.Run,
		Scripts: map[execution.Host][]string{
			execution.HostServer:  concat(rc.Scripts.ServerPre, rc.Scripts.ServerPreHot, rc.Scripts.ServerPostHot, rc.Scripts.ServerPost),
			execution.HostClient:  concat(rc.Scripts.ClientPre, rc.Scripts.ClientPreHot, rc.Scripts.ClientPostHot, rc.Scripts.ClientPost),
			execution.HostSniffer: concat(rc.Scripts.SnifferPre, rc.Scripts.SnifferPost),
		},
	}
	if exe, err := executable(); err == nil {
		st.Binary = filepath.Clean(exe)
	}
	return st
}

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
