package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quicinterop/internal/config"
	"quicinterop/internal/execution"
	"quicinterop/internal/execution/executiontest"
	"quicinterop/internal/implementations"
	"quicinterop/internal/outcome"
	"quicinterop/internal/provision"
	"quicinterop/internal/reporting"
	"quicinterop/internal/results"
	"quicinterop/internal/runner"
	"quicinterop/internal/scheduler"
	"quicinterop/internal/testcases"
	"quicinterop/pkg/logging"
)

const catalogJSON = `{
  "quiche": {"path": "quiche", "role": "both"},
  "picoquic": {"path": "picoquic", "role": "server"},
  "msquic": {"path": "msquic", "role": "client", "max_filesize": "20MiB"}
}`

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

func mockExecutable(t *testing.T, path string) {
	t.Helper()
	original := executable
	t.Cleanup(func() { executable = original })
	executable = func() (string, error) { return path, nil }
}

func baseConfig(t *testing.T) config.RunConfig {
	t.Helper()
	dir := t.TempDir()
	rc := config.Default()
	rc.Implementations = writeFile(t, filepath.Join(dir, "implementations.json"), catalogJSON)
	rc.ImplementationsDir = dir
	rc.TempDir = t.TempDir()
	rc.VariablesDir = ""
	rc.LogDir = filepath.Join(dir, "logs")
	return rc
}

func TestInitializeServices_Local(t *testing.T) {
	logging.InitForCLI(logging.LevelError, io.Discard)
	mockExecutable(t, "/opt/my tools/interop")

	rc := baseConfig(t)
	rc.Clients = []string{"msquic"}
	rc.Tests = []string{"handshake", "goodput"}
	rc.FileSize = "5"

	s, err := InitializeServices(NewConfig(rc, nil), "run-1", rc.LogDir)
	require.NoError(t, err)

	assert.False(t, s.Strategy.Remote())
	assert.Nil(t, s.Testbed)
	assert.Equal(t, "run-1", s.Run.ID)
	assert.Equal(t, []string{"picoquic", "quiche"}, s.Servers)
	assert.Equal(t, []string{"msquic"}, s.Clients)
	require.Len(t, s.Tests, 1)
	require.Len(t, s.Measurements, 1)
	assert.Equal(t, 5*testcases.MiB, s.Measurements[0].FileSize())
	assert.NotNil(t, s.Machine)

	cmd, err := barrierCommand(s.Strategy)
	require.NoError(t, err)
	assert.Equal(t, `'/opt/my tools/interop' barrier`, cmd)
}

func TestInitializeServices_Testbed(t *testing.T) {
	logging.InitForCLI(logging.LevelError, io.Discard)
	mockExecutable(t, "/usr/local/bin/interop")

	rc := baseConfig(t)
	rc.Testbed = writeFile(t, filepath.Join(t.TempDir(), "testbed.json"), `{
  "server": {"host": "s1", "ip": "10.0.0.1", "interface": {"name": "eth1"}},
  "client": {"host": "c1", "ip": "10.0.0.2", "interface": {"name": "eth1"}},
  "node_image": "ubuntu-24.04"
}`)
	rc.Scripts.ServerPre = []string{"scripts/pin.sh"}
	rc.Scripts.ClientPostHot = []string{"scripts/perf.sh"}

	s, err := InitializeServices(NewConfig(rc, nil), "run-2", rc.LogDir)
	require.NoError(t, err)

	assert.True(t, s.Strategy.Remote())
	assert.Equal(t, "s1", s.Strategy.Host(execution.HostServer).Name)
	assert.False(t, s.Strategy.HasHost(execution.HostSniffer))

	cmd, err := barrierCommand(s.Strategy)
	require.NoError(t, err)
	assert.Equal(t, "./interop barrier", cmd)

	st := s.staging(rc)
	assert.Equal(t, "/usr/local/bin/interop", st.Binary)
	assert.Equal(t, []string{"scripts/pin.sh"}, st.Scripts[execution.HostServer])
	assert.Equal(t, []string{"scripts/perf.sh"}, st.Scripts[execution.HostClient])
	assert.Empty(t, st.Scripts[execution.HostSniffer])
}

func TestInitializeServices_Errors(t *testing.T) {
	logging.InitForCLI(logging.LevelError, io.Discard)

	tests := []struct {
		name   string
		modify func(rc *config.RunConfig)
	}{
		{"missing catalog", func(rc *config.RunConfig) { rc.Implementations = "/nonexistent.json" }},
		{"unknown server", func(rc *config.RunConfig) { rc.Servers = []string{"ngtcp2"} }},
		{"client only server", func(rc *config.RunConfig) { rc.Servers = []string{"msquic"} }},
		{"unknown test", func(rc *config.RunConfig) { rc.Tests = []string{"zerortt"} }},
		{"bad filesize", func(rc *config.RunConfig) { rc.FileSize = "lots" }},
		{"missing testbed", func(rc *config.RunConfig) { rc.Testbed = "/nonexistent/testbed.json" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := baseConfig(t)
			tt.modify(&rc)
			_, err := InitializeServices(NewConfig(rc, nil), "run", rc.LogDir)
			assert.Error(t, err)
		})
	}
}

func TestNewApplication_RefusesExistingLogDir(t *testing.T) {
	rc := baseConfig(t)
	require.NoError(t, os.MkdirAll(rc.LogDir, 0o755))

	cfg := NewConfig(rc, nil)
	cfg.LogOutput = io.Discard
	_, err := NewApplication(cfg)
	assert.ErrorContains(t, err, "already exists")
}

func TestNewApplication_Validates(t *testing.T) {
	rc := baseConfig(t)
	rc.Emulation.Loss = "1%"

	cfg := NewConfig(rc, nil)
	cfg.LogOutput = io.Discard
	_, err := NewApplication(cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestCopyScripts(t *testing.T) {
	dir := t.TempDir()
	pre := writeFile(t, filepath.Join(dir, "scripts", "pin.sh"), "#!/bin/sh\n")
	post := writeFile(t, filepath.Join(dir, "scripts", "collect.sh"), "#!/bin/sh\necho done\n")

	logDir := t.TempDir()
	require.NoError(t, copyScripts(logDir, config.ScriptsConfig{
		ServerPre:     []string{pre},
		ClientPostHot: []string{post},
		SnifferPost:   []string{post},
	}))

	for _, name := range []string{"spre_pin.sh", "cposthot_collect.sh", "sniffer_post_collect.sh"} {
		assert.FileExists(t, filepath.Join(logDir, name))
	}
	data, err := os.ReadFile(filepath.Join(logDir, "cposthot_collect.sh"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho done\n", string(data))

	assert.Error(t, copyScripts(logDir, config.ScriptsConfig{ServerPost: []string{filepath.Join(dir, "missing.sh")}}))
}

type alwaysReady struct{}

func (alwaysReady) Ensure(ctx context.Context, name string, role implementations.Role) error {
	return nil
}

func (alwaysReady) Check(ctx context.Context, name string, role implementations.Role) bool {
	return true
}

type fixedCells struct {
	failClient string
}

func (f fixedCells) Run(ctx context.Context, cell runner.Cell) runner.CellResult {
	if cell.Client == f.failClient {
		return runner.CellResult{Outcome: outcome.Failed}
	}
	return runner.CellResult{Outcome: outcome.Succeeded}
}

func TestApplicationRun_WritesTableAndDocument(t *testing.T) {
	logging.InitForCLI(logging.LevelError, io.Discard)
	mockExecutable(t, "/usr/local/bin/interop")

	rc := baseConfig(t)
	rc.Servers = []string{"quiche"}
	rc.Tests = []string{"handshake"}
	script := writeFile(t, filepath.Join(t.TempDir(), "pre.sh"), "#!/bin/sh\n")
	rc.Scripts.ClientPre = []string{script}

	var out bytes.Buffer
	cfg := NewConfig(rc, map[string]any{"server": "quiche"})
	cfg.Out = &out
	cfg.LogOutput = io.Discard

	services, err := InitializeServices(cfg, "run-3", rc.LogDir)
	require.NoError(t, err)

	a := &Application{config: cfg, services: services, runID: "run-3", logDir: rc.LogDir}
	a.schedule = func(r reporting.Reporter) *scheduler.Scheduler {
		return scheduler.New(services.Registry, alwaysReady{}, alwaysReady{}, fixedCells{failClient: "msquic"}, r, scheduler.Config{
			Servers: services.Servers,
			Clients: services.Clients,
			Tests:   services.Tests,
		})
	}

	report, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, out.String(), "Test: handshake")
	assert.Contains(t, out.String(), "↓clients/servers→")
	assert.FileExists(t, filepath.Join(rc.LogDir, "cpre_pre.sh"))

	data, err := os.ReadFile(filepath.Join(rc.LogDir, "result.json"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "run-3", doc["run_id"])
	assert.Equal(t, rc.LogDir, doc["log_dir"])
	assert.Equal(t, map[string]any{"server": "quiche"}, doc["args"])
	assert.Nil(t, doc["server_node_name"])
}

func TestApplicationRun_FailedStagingSkipsOnlyThatImplementation(t *testing.T) {
	logging.InitForCLI(logging.LevelError, io.Discard)
	mockExecutable(t, "/usr/local/bin/interop")

	rc := baseConfig(t)
	rc.Tests = []string{"handshake"}

	var out bytes.Buffer
	cfg := NewConfig(rc, nil)
	cfg.Out = &out
	cfg.LogOutput = io.Discard

	services, err := InitializeServices(cfg, "run-4", rc.LogDir)
	require.NoError(t, err)

	fake := executiontest.New()
	fake.IsRemote = true
	fake.PushErr = func(host execution.Host, src string) error {
		if host == execution.HostClient && strings.Contains(src, "msquic") {
			return errors.New("rsync: connection unexpectedly closed")
		}
		return nil
	}
	services.Strategy = fake
	provisioner := provision.New(fake, services.Registry, services.Run, provision.Config{EnvDir: "envs"})

	a := &Application{config: cfg, services: services, runID: "run-4", logDir: rc.LogDir}
	a.schedule = func(r reporting.Reporter) *scheduler.Scheduler {
		return scheduler.New(services.Registry, provisioner, alwaysReady{}, fixedCells{}, r, scheduler.Config{
			Servers: services.Servers,
			Clients: services.Clients,
			Tests:   services.Tests,
		})
	}

	report, err := a.Run(context.Background())
	require.NoError(t, err)

	got, ok := report.Matrix.Test(results.Pair{Server: "quiche", Client: "msquic"}, "handshake")
	require.True(t, ok)
	assert.Equal(t, outcome.Unsupported, got)
	got, ok = report.Matrix.Test(results.Pair{Server: "quiche", Client: "quiche"}, "handshake")
	require.True(t, ok)
	assert.Equal(t, outcome.Succeeded, got)
	assert.Zero(t, report.Failed)

	assert.Contains(t, out.String(), "↓clients/servers→")
	assert.FileExists(t, filepath.Join(rc.LogDir, "result.json"))
}
