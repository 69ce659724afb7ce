package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"quicinterop/internal/app"
	"quicinterop/internal/config"
	"quicinterop/internal/testcases"
)

// runOptions are the flags of the run command. Only flags the user set
// override the configuration files.
type runOptions struct {
	configPath string
	cfg        config.RunConfig
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the server × client × test matrix",
		Long: `Runs every selected test and measurement between every selected server and
client, prints the results table and writes the result document.

Logs of each cell are kept in <log-dir>/<server>_<client>/<test>[/<repetition>].
The exit code is the number of failed tests.`,
		Example: `  interop run -s quiche -c picoquic -t handshake,transfer
  interop run --testbed testbed.json --delay 10ms --loss 1% -t goodput
  interop run -t ` + testcases.OnlyMeasurements + ` --repetitions 3 --filesize 50MiB`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, opts)
		},
	}
	addRunFlags(cmd.Flags(), opts)
	return cmd
}

func addRunFlags(f *pflag.FlagSet, opts *runOptions) {
	c := &opts.cfg
	f.StringVar(&opts.configPath, "config", "", "Configuration file layered over the user and project configuration")

	f.StringSliceVarP(&c.Servers, "server", "s", nil, "Server implementations (default all)")
	f.StringSliceVarP(&c.Clients, "client", "c", nil, "Client implementations (default all)")
	f.StringSliceVarP(&c.Tests, "test", "t", nil, fmt.Sprintf("Tests and measurements, or %s / %s (default all)", testcases.OnlyTests, testcases.OnlyMeasurements))
	f.BoolVarP(&c.Debug, "debug", "d", false, "Enable debug logging")
	f.StringVarP(&c.LogDir, "log-dir", "l", "", "Run directory (default logs_<timestamp>)")
	f.BoolVarP(&c.SaveFiles, "save-files", "f", false, "Keep served and downloaded files of failed cells")
	f.StringVarP(&c.JSON, "json", "j", "", "Result document path (default <log-dir>/result.json)")
	f.StringVarP(&c.ImplementationsDir, "implementation-directory", "i", "", "Root of the implementation directories")
	f.StringVar(&c.Implementations, "implementations", "", "Implementation catalog file")
	f.StringVar(&c.EnvDir, "env-dir", "", "Directory of provisioned environments")
	f.StringVar(&c.TempDir, "temp-dir", "", "Directory for per-cell scratch directories")
	f.BoolVarP(&c.Manual, "manual-mode", "m", false, "Print launch commands instead of running the endpoints")
	f.BoolVar(&c.Clipboard, "clipboard", false, "Copy manual-mode commands to the clipboard")
	f.StringVar(&c.Testbed, "testbed", "", "Testbed description; runs on this machine when empty")

	f.StringVarP(&c.Emulation.Bandwidth, "bandwidth", "b", "", "Server egress limit, e.g. 100mbit")
	f.StringVar(&c.Emulation.Delay, "delay", "", "Added delay, e.g. 10ms")
	f.StringVar(&c.Emulation.Loss, "loss", "", "Packet loss, e.g. 1%")
	f.StringVar(&c.Emulation.Corruption, "corruption", "", "Packet corruption, e.g. 0.1%")
	f.StringSliceVar(&c.Emulation.ReorderPackets, "reorder-packets", nil, "Reordering percentage and correlation, e.g. 25%,50%")

	f.StringSliceVar(&c.Scripts.ServerPre, "server-pre-scripts", nil, "Scripts run on the server host before each cell")
	f.StringSliceVar(&c.Scripts.ServerPreHot, "server-pre-hot-scripts", nil, "Scripts run when the server is about to start")
	f.StringSliceVar(&c.Scripts.ServerPostHot, "server-post-hot-scripts", nil, "Scripts run when the server is about to finish")
	f.StringSliceVar(&c.Scripts.ServerPost, "server-post-scripts", nil, "Scripts run on the server host after each cell")
	f.StringSliceVar(&c.Scripts.ClientPre, "client-pre-scripts", nil, "Scripts run on the client host before each cell")
	f.StringSliceVar(&c.Scripts.ClientPreHot, "client-pre-hot-scripts", nil, "Scripts run when the client is about to start")
	f.StringSliceVar(&c.Scripts.ClientPostHot, "client-post-hot-scripts", nil, "Scripts run when the client is about to finish")
	f.StringSliceVar(&c.Scripts.ClientPost, "client-post-scripts", nil, "Scripts run on the client host after each cell")
	f.StringSliceVar(&c.Scripts.SnifferPre, "sniffer-pre-scripts", nil, "Scripts run on the sniffer host before each cell")
	f.StringSliceVar(&c.Scripts.SnifferPost, "sniffer-post-scripts", nil, "Scripts run on the sniffer host after each cell")

	f.StringToStringVar(&c.Params.Server, "server-implementation-params", nil, "Extra server variables, KEY=VALUE")
	f.StringToStringVar(&c.Params.Client, "client-implementation-params", nil, "Extra client variables, KEY=VALUE")
	f.StringToStringVar(&c.Params.Sniffer, "sniffer-implementation-params", nil, "Extra sniffer variables, KEY=VALUE")

	f.BoolVar(&c.DisableServerAESOffload, "disable-server-aes-offload", false, "Disable AES-NI for the server")
	f.BoolVar(&c.DisableClientAESOffload, "disable-client-aes-offload", false, "Disable AES-NI for the client")
	f.StringVar(&c.FileSize, "filesize", "", "Measurement payload size, MiB when unit-less")
	f.IntVar(&c.Repetitions, "repetitions", 0, "Measurement repetitions")
	f.BoolVar(&c.ContinueOnError, "continue-on-error", false, "Skip failed measurement repetitions instead of aborting")
	f.BoolVar(&c.UseClientTimestamps, "use-client-timestamps", false, "Take measurement times from the client's time.json")
	f.BoolVar(&c.OnlySameImplementation, "only-same-implementation", false, "Only pair an implementation with itself")
	f.BoolVarP(&c.IPv6, "ipv6", "6", false, "Use the server's IPv6 address")
	f.BoolVar(&c.TUI, "tui", false, "Show a live progress view")
	f.StringVar(&c.MetricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address")
}

// mergeFlags copies the explicitly set flags of f from flags onto cfg.
func mergeFlags(f *pflag.FlagSet, flags, cfg *config.RunConfig) {
	set := map[string]func(){
		"server":                        func() { cfg.Servers = flags.Servers },
		"client":                        func() { cfg.Clients = flags.Clients },
		"test":                          func() { cfg.Tests = flags.Tests },
		"debug":                         func() { cfg.Debug = flags.Debug },
		"log-dir":                       func() { cfg.LogDir = flags.LogDir },
		"save-files":                    func() { cfg.SaveFiles = flags.SaveFiles },
		"json":                          func() { cfg.JSON = flags.JSON },
		"implementation-directory":      func() { cfg.ImplementationsDir = flags.ImplementationsDir },
		"implementations":               func() { cfg.Implementations = flags.Implementations },
		"env-dir":                       func() { cfg.EnvDir = flags.EnvDir },
		"temp-dir":                      func() { cfg.TempDir = flags.TempDir },
		"manual-mode":                   func() { cfg.Manual = flags.Manual },
		"clipboard":                     func() { cfg.Clipboard = flags.Clipboard },
		"testbed":                       func() { cfg.Testbed = flags.Testbed },
		"bandwidth":                     func() { cfg.Emulation.Bandwidth = flags.Emulation.Bandwidth },
		"delay":                         func() { cfg.Emulation.Delay = flags.Emulation.Delay },
		"loss":                          func() { cfg.Emulation.Loss = flags.Emulation.Loss },
		"corruption":                    func() { cfg.Emulation.Corruption = flags.Emulation.Corruption },
		"reorder-packets":               func() { cfg.Emulation.ReorderPackets = flags.Emulation.ReorderPackets },
		"server-pre-scripts":            func() { cfg.Scripts.ServerPre = flags.Scripts.ServerPre },
		"server-pre-hot-scripts":        func() { cfg.Scripts.ServerPreHot = flags.Scripts.ServerPreHot },
		"server-post-hot-scripts":       func() { cfg.Scripts.ServerPostHot = flags.Scripts.ServerPostHot },
		"server-post-scripts":           func() { cfg.Scripts.ServerPost = flags.Scripts.ServerPost },
		"client-pre-scripts":            func() { cfg.Scripts.ClientPre = flags.Scripts.ClientPre },
		"client-pre-hot-scripts":        func() { cfg.Scripts.ClientPreHot = flags.Scripts.ClientPreHot },
		"client-post-hot-scripts":       func() { cfg.Scripts.ClientPostHot = flags.Scripts.ClientPostHot },
		"client-post-scripts":           func() { cfg.Scripts.ClientPost = flags.Scripts.ClientPost },
		"sniffer-pre-scripts":           func() { cfg.Scripts.SnifferPre = flags.Scripts.SnifferPre },
		"sniffer-post-scripts":          func() { cfg.Scripts.SnifferPost = flags.Scripts.SnifferPost },
		"server-implementation-params":  func() { cfg.Params.Server = mergeParams(cfg.Params.Server, flags.Params.Server) },
		"client-implementation-params":  func() { cfg.Params.Client = mergeParams(cfg.Params.Client, flags.Params.Client) },
		"sniffer-implementation-params": func() { cfg.Params.Sniffer = mergeParams(cfg.Params.Sniffer, flags.Params.Sniffer) },
		"disable-server-aes-offload":    func() { cfg.DisableServerAESOffload = flags.DisableServerAESOffload },
		"disable-client-aes-offload":    func() { cfg.DisableClientAESOffload = flags.DisableClientAESOffload },
		"filesize":                      func() { cfg.FileSize = flags.FileSize },
		"repetitions":                   func() { cfg.Repetitions = flags.Repetitions },
		"continue-on-error":             func() { cfg.ContinueOnError = flags.ContinueOnError },
		"use-client-timestamps":         func() { cfg.UseClientTimestamps = flags.UseClientTimestamps },
		"only-same-implementation":      func() { cfg.OnlySameImplementation = flags.OnlySameImplementation },
		"ipv6":                          func() { cfg.IPv6 = flags.IPv6 },
		"tui":                           func() { cfg.TUI = flags.TUI },
		"metrics-listen":                func() { cfg.MetricsListen = flags.MetricsListen },
	}
	f.Visit(func(fl *pflag.Flag) {
		if apply, ok := set[fl.Name]; ok {
			apply()
		}
	})
}

func mergeParams(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// flagArgs records the explicitly set flags for the result document.
func flagArgs(f *pflag.FlagSet) map[string]any {
	args := map[string]any{}
	f.Visit(func(fl *pflag.Flag) {
		if sv, ok := fl.Value.(pflag.SliceValue); ok {
			args[fl.Name] = sv.GetSlice()
			return
		}
		args[fl.Name] = fl.Value.String()
	})
	return args
}

// loadRunConfig layers the configuration files and the set flags.
func loadRunConfig(f *pflag.FlagSet, opts *runOptions) (config.RunConfig, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return config.RunConfig{}, err
	}
	mergeFlags(f, &opts.cfg, &cfg)
	return cfg, nil
}

func runRun(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := loadRunConfig(cmd.Flags(), opts)
	if err != nil {
		return err
	}

	appCfg := app.NewConfig(cfg, flagArgs(cmd.Flags()))
	appCfg.Out = cmd.OutOrStdout()
	appCfg.In = cmd.InOrStdin()

	application, err := app.NewApplication(appCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	report, err := application.Run(ctx)
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		return &exitError{code: min(report.Failed, 255)}
	}
	return nil
}
