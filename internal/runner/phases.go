package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/alessio/shellescape"
	"golang.org/x/sync/errgroup"

	"quicinterop/internal/barrier"
	"quicinterop/internal/execution"
	"quicinterop/internal/implementations"
	"quicinterop/internal/observer"
	"quicinterop/internal/outcome"
	"quicinterop/internal/testcases"
	"quicinterop/pkg/logging"
)

// setup allocates the execution context and prepares served files.
func (m *Machine) setup(ctx context.Context, cell Cell, cleanup *cleanupList) (*ExecutionContext, error) {
	ec, err := newExecutionContext(m.cfg.TempDir, m.strategy.HasHost(execution.HostSniffer))
	if err != nil {
		return nil, err
	}
	cleanup.push("temporary directories", func(context.Context) error { return ec.Close() })

	detach := logging.AddSink(ec.Transcript)
	cleanup.push("transcript", func(context.Context) error {
		detach()
		return nil
	})

	ec.Repetition = cell.Repetition
	ec.ServerName = "server"
	serverHost := m.strategy.Host(execution.HostServer)
	ec.ServerIP = serverHost.IP
	if m.cfg.IPv6 {
		ec.ServerName = "server6"
		ec.ServerIP = serverHost.IPv6
	}
	ec.MaxFileSize = m.registry.MaxFileSize(cell.Server, cell.Client)

	files, err := cell.Test.Prepare(&ec.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to generate files: %w", err)
	}
	ec.Requests = ec.Env.Requests(files)
	logging.Debug("Runner", "Requests: %s", ec.Requests)

	if err := testcases.GenerateCertificates(ec.Certs); err != nil {
		return nil, err
	}

	if m.strategy.Remote() {
		cleanup.push("remote directories", func(ctx context.Context) error {
			m.forEachRemoteDir(ec, func(host execution.Host, dir string) error {
				return m.strategy.RemoveDir(ctx, host, dir)
			})
			return nil
		})
		err := m.forEachRemoteDir(ec, func(host execution.Host, dir string) error {
			return m.strategy.Push(ctx, host, dir)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to push directories: %w", err)
		}
	}
	return ec, nil
}

// forEachRemoteDir applies fn to every directory mirrored on a host. Hosts
// are handled concurrently, directories of one host in order.
func (m *Machine) forEachRemoteDir(ec *ExecutionContext, fn func(host execution.Host, dir string) error) error {
	perHost := map[execution.Host][]string{
		execution.HostServer: ec.serverDirs(),
		execution.HostClient: ec.clientDirs(),
	}
	if ec.SnifferLogs != "" {
		perHost[execution.HostSniffer] = []string{ec.SnifferLogs}
	}

	var g errgroup.Group
	for host, dirs := range perHost {
		g.Go(func() error {
			for _, dir := range dirs {
				if err := fn(host, dir); err != nil {
					logging.Warn("Runner", "%s on %s: %v", dir, host, err)
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// launch starts observers, link conditions, cold scripts, barrier daemons
// and finally the server and client. Every acquisition is pushed onto
// cleanup before the next one starts.
func (m *Machine) launch(ctx context.Context, cell Cell, ec *ExecutionContext, cleanup *cleanupList) (*launched, error) {
	l := &launched{}
	req := cell.Test.Requirements()

	observers := observer.ForTest(m.strategy, req, ec.Sim)
	for _, o := range observers {
		if err := o.Start(ctx); err != nil {
			return nil, err
		}
		cleanup.push("observer "+o.Name(), func(ctx context.Context) error {
			o.Stop(ctx)
			return nil
		})
	}
	if len(observers) > 0 {
		cleanup.push("observer cooldown", func(ctx context.Context) error {
			return sleep(ctx, m.cfg.Timing.ObserverCooldown)
		})
		if err := sleep(ctx, m.cfg.Timing.ObserverWarmup); err != nil {
			return nil, err
		}
	}

	if !m.cfg.Rule.Empty() {
		cleanup.push("link conditions", m.netem.Remove)
		if err := m.netem.Apply(ctx, m.cfg.Rule); err != nil {
			logging.Error("Runner", err, "Failed to apply link conditions")
		}
	}

	if err := m.publishVariables(ctx, cell, ec, cleanup); err != nil {
		return nil, err
	}

	cleanup.push("post scripts", func(ctx context.Context) error {
		m.runColdScripts(ctx, "post", m.cfg.Scripts.ServerPost, m.cfg.Scripts.ClientPost, m.cfg.Scripts.SnifferPost)
		return nil
	})
	m.runColdScripts(ctx, "pre", m.cfg.Scripts.ServerPre, m.cfg.Scripts.ClientPre, m.cfg.Scripts.SnifferPre)

	if m.cfg.Scripts.Hot() {
		if err := m.startBarriers(ctx, l, cleanup); err != nil {
			return nil, err
		}
	}

	serverCmd := m.endpointCommand(cell, ec, implementations.RoleServer)
	clientCmd := m.endpointCommand(cell, ec, implementations.RoleClient)

	if m.cfg.Manual.Enabled {
		return l, m.manual(ctx, serverCmd, clientCmd, cleanup)
	}

	logging.Debug("Runner", "Starting server: %s", serverCmd.ShellLine())
	server, err := m.strategy.Start(ctx, execution.HostServer, serverCmd)
	if err != nil {
		return nil, err
	}
	l.server = server
	cleanup.push("server", m.stopEndpoint(execution.HostServer, server, "run-server.sh"))

	if err := sleep(ctx, m.cfg.Timing.ServerStartDelay); err != nil {
		return nil, err
	}

	logging.Debug("Runner", "Starting client: %s", clientCmd.ShellLine())
	ec.Start = time.Now()
	client, err := m.strategy.Start(ctx, execution.HostClient, clientCmd)
	if err != nil {
		return nil, err
	}
	l.client = client
	cleanup.push("client", m.stopEndpoint(execution.HostClient, client, "run-client.sh"))
	return l, nil
}

// stopEndpoint terminates an endpoint's process tree and records its output.
func (m *Machine) stopEndpoint(host execution.Host, p *execution.Process, pattern string) func(context.Context) error {
	return func(ctx context.Context) error {
		if m.strategy.Remote() && !p.Exited() {
			if err := m.strategy.Terminate(ctx, host, pattern); err != nil {
				logging.Warn("Runner", "Failed to terminate %s on %s: %v", pattern, host, err)
			}
		}
		p.Stop(execution.DefaultGracePeriod)
		p.LogOutput()
		return nil
	}
}

// endpointCommand builds the launch command of one side of the cell.
func (m *Machine) endpointCommand(cell Cell, ec *ExecutionContext, role implementations.Role) execution.Command {
	name := cell.Server
	if role == implementations.RoleClient {
		name = cell.Client
	}
	impl, _ := m.registry.Get(name)
	req := cell.Test.Requirements()

	var env execution.Env
	var aesOffload bool
	if role == implementations.RoleServer {
		aesOffload = m.cfg.DisableServerAESOffload
	} else {
		aesOffload = m.cfg.DisableClientAESOffload
	}
	if aesOffload {
		env = env.Set("OPENSSL_ia32cap", AESOffloadMask)
	}

	if role == implementations.RoleServer {
		env = env.Set("SSLKEYLOGFILE", ec.ServerKeyLog)
		if req.QLog {
			env = env.Set("QLOGDIR", ec.ServerQlog)
		}
		env = env.
			Set("LOGS", ec.ServerLogs).
			Set("TESTCASE", cell.Test.TestName(testcases.PerspectiveServer)).
			Set("WWW", ec.WWW).
			Set("CERTS", ec.Certs).
			Set("IP", ec.ServerIP).
			Set("PORT", strconv.Itoa(ec.Port)).
			Set("SERVERNAME", ec.ServerName)
	} else {
		env = env.Set("SSLKEYLOGFILE", ec.ClientKeyLog)
		if req.QLog {
			env = env.Set("QLOGDIR", ec.ClientQlog)
		}
		env = env.
			Set("LOGS", ec.ClientLogs).
			Set("TESTCASE", cell.Test.TestName(testcases.PerspectiveClient)).
			Set("DOWNLOADS", ec.Downloads).
			Set("CERTS", ec.Certs).
			Set("REQUESTS", ec.Requests)
	}

	var prelude string
	if m.envs != nil {
		prelude = m.envs.Prelude(name, role)
	}
	return execution.Command{
		Name:    string(role),
		Dir:     m.strategy.ImplementationDir(impl),
		Prelude: prelude,
		Env:     env,
		Script:  "./run-" + string(role) + ".sh",
	}
}

// socketPaths returns the barrier channel paths used on host. On a single
// machine both daemons share the file system, so each role gets its own pair.
func (m *Machine) socketPaths(host execution.Host) (client, server string) {
	client, server = m.cfg.ClientSocket, m.cfg.ServerSocket
	if client == "" {
		client = barrier.DefaultClientPath
	}
	if server == "" {
		server = barrier.DefaultServerPath
	}
	if !m.strategy.Remote() {
		client += "-" + string(host)
		server += "-" + string(host)
	}
	return client, server
}

// publishVariables hands the cell's coordination variables to every host
// and blanks them again in teardown.
func (m *Machine) publishVariables(ctx context.Context, cell Cell, ec *ExecutionContext, cleanup *cleanupList) error {
	for _, hv := range m.variables(cell, ec) {
		if err := m.strategy.SetVariables(ctx, hv.host, hv.vars); err != nil {
			return fmt.Errorf("failed to set variables on %s: %w", hv.host, err)
		}
		blank := make(map[string]string, len(hv.vars))
		for k := range hv.vars {
			blank[k] = ""
		}
		cleanup.push("variables "+string(hv.host), func(ctx context.Context) error {
			return m.strategy.SetVariables(ctx, hv.host, blank)
		})
	}
	return nil
}

type hostVariables struct {
	host execution.Host
	vars map[string]string
}

func (m *Machine) variables(cell Cell, ec *ExecutionContext) []hostVariables {
	serverInfo := m.strategy.Host(execution.HostServer)
	clientInfo := m.strategy.Host(execution.HostClient)

	server := map[string]string{
		"implementation": cell.Server,
		"interface":      serverInfo.Interface,
		"hostname":       serverInfo.Name,
		"log_dir":        ec.ServerLogs,
		"www_dir":        ec.WWW,
		"certs_dir":      ec.Certs,
		"role":           string(implementations.RoleServer),
	}
	client := map[string]string{
		"implementation": cell.Client,
		"interface":      clientInfo.Interface,
		"hostname":       clientInfo.Name,
		"log_dir":        ec.ClientLogs,
		"sim_log_dir":    ec.Sim,
		"download_dir":   ec.Downloads,
		"certs_dir":      ec.Certs,
		"role":           string(implementations.RoleClient),
		"ip":             clientInfo.IP,
	}
	if serverInfo.PCIID != "" {
		server["pci_id"] = serverInfo.PCIID
	}
	if clientInfo.PCIID != "" {
		client["pci_id"] = clientInfo.PCIID
	}
	if serverInfo.MAC != "" {
		client["server_mac"] = serverInfo.MAC
	}
	if m.cfg.Scripts.Hot() {
		server["client_socket"], server["server_socket"] = m.socketPaths(execution.HostServer)
		client["client_socket"], client["server_socket"] = m.socketPaths(execution.HostClient)
	}
	for k, v := range m.cfg.ServerParams {
		server[k] = v
	}
	for k, v := range m.cfg.ClientParams {
		client[k] = v
	}

	out := []hostVariables{
		{execution.HostServer, server},
		{execution.HostClient, client},
	}
	if m.strategy.HasHost(execution.HostSniffer) {
		sniffer := map[string]string{"log_dir": ec.SnifferLogs}
		for k, v := range m.cfg.SnifferParams {
			sniffer[k] = v
		}
		out = append(out, hostVariables{execution.HostSniffer, sniffer})
	}
	return out
}

// runColdScripts runs the scripts of one checkpoint: server host first,
// then client, then sniffer. Failures are logged only.
func (m *Machine) runColdScripts(ctx context.Context, phase string, server, client, sniffer []string) {
	for _, hs := range []struct {
		host    execution.Host
		scripts []string
	}{
		{execution.HostServer, server},
		{execution.HostClient, client},
		{execution.HostSniffer, sniffer},
	} {
		if len(hs.scripts) == 0 || !m.strategy.HasHost(hs.host) {
			continue
		}
		for _, script := range hs.scripts {
			logging.Debug("Runner", "Running %s script %s on %s", phase, script, hs.host)
			res, err := m.strategy.Run(ctx, hs.host, execution.Command{Name: phase + " script", Script: shellescape.Quote(script)})
			if err == nil {
				err = res.Err()
			}
			if err != nil {
				logging.Warn("Runner", "%s script %s on %s failed: %v", phase, script, hs.host, err)
			}
			if out := res.Logs.Combined; out != "" {
				logging.Debug("Runner", "%s\n%s", script, out)
			}
		}
	}
}

// barrierCommand renders the daemon invocation for host.
func (m *Machine) barrierCommand(host execution.Host, pre, post []string) string {
	clientPath, serverPath := m.socketPaths(host)
	timeout := m.cfg.BarrierTimeout
	if timeout == 0 {
		timeout = barrier.DefaultTimeout
	}
	args := []string{
		"--client-socket", clientPath,
		"--server-socket", serverPath,
		"--timeout", timeout.String(),
	}
	for _, s := range pre {
		args = append(args, "--pre", s)
	}
	for _, s := range post {
		args = append(args, "--post", s)
	}
	return m.cfg.BarrierCommand + " " + shellescape.QuoteCommand(args)
}

// startBarriers launches one barrier daemon per endpoint host.
func (m *Machine) startBarriers(ctx context.Context, l *launched, cleanup *cleanupList) error {
	s := m.cfg.Scripts
	for _, hs := range []struct {
		host      execution.Host
		pre, post []string
	}{
		{execution.HostServer, s.ServerPreHot, s.ServerPostHot},
		{execution.HostClient, s.ClientPreHot, s.ClientPostHot},
	} {
		host := hs.host
		clientPath, serverPath := m.socketPaths(host)
		cleanup.push("barrier channels "+string(host), func(ctx context.Context) error {
			rm := "rm -f " + shellescape.QuoteCommand([]string{clientPath, serverPath})
			return execution.RunChecked(ctx, m.strategy, host, execution.Command{Name: "rm", Script: rm})
		})

		script := m.barrierCommand(host, hs.pre, hs.post)
		logging.Debug("Runner", "Starting barrier on %s: %s", host, script)
		p, err := m.strategy.Start(ctx, host, execution.Command{Name: "barrier-" + string(host), Script: script})
		if err != nil {
			return fmt.Errorf("failed to start barrier on %s: %w", host, err)
		}
		l.daemons = append(l.daemons, p)
		cleanup.push("barrier "+string(host), func(ctx context.Context) error {
			if m.strategy.Remote() && !p.Exited() {
				if err := m.strategy.Terminate(ctx, host, "barrier --client-socket"); err != nil {
					logging.Warn("Runner", "Failed to terminate barrier on %s: %v", host, err)
				}
			}
			p.Stop(execution.DefaultGracePeriod)
			p.LogOutput()
			return nil
		})
	}
	return nil
}

// monitor waits for the client within the test's timeout, then gives the
// barrier daemons a short grace period.
func (m *Machine) monitor(ctx context.Context, cell Cell, ec *ExecutionContext, l *launched) {
	clientCtx, cancel := context.WithTimeout(ctx, cell.Test.Timeout())
	status, _ := l.client.Wait(clientCtx)
	cancel()
	ec.End = time.Now()

	if status.TimedOut {
		l.expired = true
		logging.Error("Runner", ErrProcessTimeout, "Client expired after %s", cell.Test.Timeout())
		l.client.Stop(execution.DefaultGracePeriod)
	}
	l.clientStatus = status

	for _, d := range l.daemons {
		graceCtx, cancel := context.WithTimeout(ctx, m.cfg.Timing.BarrierGrace)
		st, _ := d.Wait(graceCtx)
		cancel()
		switch {
		case st.TimedOut:
			l.barrierErr = fmt.Errorf("%s still waiting: %w", d.Name(), barrier.ErrSyncTimeout)
		case st.Code != 0:
			l.barrierErr = fmt.Errorf("%s %s: %w", d.Name(), st, barrier.ErrSyncTimeout)
		}
	}
}

// collect pulls remote artifacts and applies client reported timestamps.
func (m *Machine) collect(ctx context.Context, ec *ExecutionContext) {
	if m.strategy.Remote() {
		pulls := map[execution.Host][]string{
			execution.HostServer: {ec.ServerLogs},
			execution.HostClient: {ec.Sim, ec.ClientLogs, ec.Downloads},
		}
		if ec.SnifferLogs != "" {
			pulls[execution.HostSniffer] = []string{ec.SnifferLogs}
		}
		var g errgroup.Group
		for host, dirs := range pulls {
			g.Go(func() error {
				for _, dir := range dirs {
					if err := m.strategy.Pull(ctx, host, dir); err != nil {
						logging.Warn("Runner", "Failed to pull %s from %s: %v", dir, host, err)
					}
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	if !m.cfg.UseClientTimestamps {
		return
	}
	start, end, err := barrier.ReadTimestamps(filepath.Join(ec.ClientLogs, "time.json"))
	if err != nil {
		logging.Error("Runner", err, "Failed to read time.json")
		return
	}
	logging.Debug("Runner", "Interop duration: %s", ec.End.Sub(ec.Start))
	logging.Debug("Runner", "Client  duration: %s", end.Sub(start))
	ec.Start, ec.End = start, end
}

// persist copies the cell's artifacts into the run directory.
func (m *Machine) persist(cell Cell, ec *ExecutionContext, o outcome.Outcome) error {
	dest := cell.LogPath(m.cfg.LogDir)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	copies := []struct{ src, name string }{
		{ec.ServerLogs, "server"},
		{ec.ClientLogs, "client"},
		{ec.Sim, "sim"},
	}
	if ec.SnifferLogs != "" {
		copies = append(copies, struct{ src, name string }{ec.SnifferLogs, "sniffer"})
	}
	if m.cfg.SaveFiles && o == outcome.Failed {
		copies = append(copies,
			struct{ src, name string }{ec.WWW, "www"},
			struct{ src, name string }{ec.Downloads, "downloads"},
		)
	}
	for _, c := range copies {
		if err := os.CopyFS(filepath.Join(dest, c.name), os.DirFS(c.src)); err != nil {
			logging.Warn("Runner", "Could not copy %s: %v", c.name, err)
		}
	}

	if err := ec.Transcript.Sync(); err != nil {
		return err
	}
	data, err := os.ReadFile(ec.Transcript.Name())
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dest, "output.txt"), data, 0o644)
}
