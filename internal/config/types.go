package config

import (
	"time"

	"quicinterop/internal/netem"
)

// RunConfig is the configuration of an interop run. Every field can come
// from a config file layer; CLI flags that were set explicitly win.
type RunConfig struct {
	// ImplementationsDir is the local root of the implementation catalog
	ImplementationsDir string `yaml:"implementationsDirectory,omitempty"`
	// Implementations is the catalog file, JSON or YAML
	Implementations string `yaml:"implementations,omitempty"`
	// EnvDir holds provisioned environments, relative to $HOME on testbed hosts
	EnvDir string `yaml:"envDir,omitempty"`
	// LogDir is the run directory, logs_<timestamp> when empty
	LogDir string `yaml:"logDir,omitempty"`
	// TempDir holds per-cell scratch directories
	TempDir string `yaml:"tempDir,omitempty"`
	// JSON is the result document path, <LogDir>/result.json when empty
	JSON string `yaml:"json,omitempty"`
	// Testbed is the testbed description file; empty runs on this machine
	Testbed string `yaml:"testbed,omitempty"`
	// VariablesDir receives the coordination variables on every host
	VariablesDir string `yaml:"variablesDir,omitempty"`

	Servers []string `yaml:"servers,omitempty"`
	Clients []string `yaml:"clients,omitempty"`
	Tests   []string `yaml:"tests,omitempty"`

	Debug     bool `yaml:"debug,omitempty"`
	SaveFiles bool `yaml:"saveFiles,omitempty"`
	Manual    bool `yaml:"manualMode,omitempty"`
	Clipboard bool `yaml:"clipboard,omitempty"`
	TUI       bool `yaml:"tui,omitempty"`
	IPv6      bool `yaml:"ipv6,omitempty"`

	// FileSize overrides the measurement file size, MiB when unit-less
	FileSize    string `yaml:"filesize,omitempty"`
	Repetitions int    `yaml:"repetitions,omitempty"`

	ContinueOnError         bool `yaml:"continueOnError,omitempty"`
	UseClientTimestamps     bool `yaml:"useClientTimestamps,omitempty"`
	OnlySameImplementation  bool `yaml:"onlySameImplementation,omitempty"`
	DisableServerAESOffload bool `yaml:"disableServerAESOffload,omitempty"`
	DisableClientAESOffload bool `yaml:"disableClientAESOffload,omitempty"`

	Emulation EmulationConfig `yaml:"emulation,omitempty"`
	Scripts   ScriptsConfig   `yaml:"scripts,omitempty"`
	Params    ParamsConfig    `yaml:"params,omitempty"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts,omitempty"`
	SSH       SSHConfig       `yaml:"ssh,omitempty"`

	// MetricsListen serves Prometheus metrics on this address when set
	MetricsListen string `yaml:"metricsListen,omitempty"`
}

// EmulationConfig holds link conditions in tc syntax.
type EmulationConfig struct {
	Bandwidth  string `yaml:"bandwidth,omitempty"`
	Delay      string `yaml:"delay,omitempty"`
	Loss       string `yaml:"loss,omitempty"`
	Corruption string `yaml:"corruption,omitempty"`
	// ReorderPackets is the percentage and correlation pair
	ReorderPackets []string `yaml:"reorderPackets,omitempty"`
}

// Empty reports whether no link condition is configured.
func (e EmulationConfig) Empty() bool {
	return e.Bandwidth == "" && e.Delay == "" && e.Loss == "" && e.Corruption == "" && len(e.ReorderPackets) == 0
}

// Rule converts the emulation settings into a netem rule.
func (e EmulationConfig) Rule() netem.Rule {
	r := netem.Rule{
		Bandwidth:  e.Bandwidth,
		Delay:      e.Delay,
		Loss:       e.Loss,
		Corruption: e.Corruption,
	}
	if len(e.ReorderPackets) == 2 {
		r.Reorder = &netem.Reorder{Percent: e.ReorderPackets[0], Correlation: e.ReorderPackets[1]}
	}
	return r
}

// ScriptsConfig lists hook scripts per host and checkpoint. It converts
// directly to runner.Scripts.
type ScriptsConfig struct {
	ServerPre     []string `yaml:"serverPre,omitempty"`
	ServerPreHot  []string `yaml:"serverPreHot,omitempty"`
	ServerPostHot []string `yaml:"serverPostHot,omitempty"`
	ServerPost    []string `yaml:"serverPost,omitempty"`
	ClientPre     []string `yaml:"clientPre,omitempty"`
	ClientPreHot  []string `yaml:"clientPreHot,omitempty"`
	ClientPostHot []string `yaml:"clientPostHot,omitempty"`
	ClientPost    []string `yaml:"clientPost,omitempty"`
	SnifferPre    []string `yaml:"snifferPre,omitempty"`
	SnifferPost   []string `yaml:"snifferPost,omitempty"`
}

// ParamsConfig are extra coordination variables per host.
type ParamsConfig struct {
	Server  map[string]string `yaml:"server,omitempty"`
	Client  map[string]string `yaml:"client,omitempty"`
	Sniffer map[string]string `yaml:"sniffer,omitempty"`
}

// TimeoutsConfig bounds the blocking steps outside a test's own timeout.
type TimeoutsConfig struct {
	Setup   time.Duration `yaml:"setup,omitempty"`
	Probe   time.Duration `yaml:"probe,omitempty"`
	Barrier time.Duration `yaml:"barrier,omitempty"`
}

// SSHConfig configures how testbed hosts are reached.
type SSHConfig struct {
	Binary  string   `yaml:"binary,omitempty"`
	Options []string `yaml:"options,omitempty"`
}
