// Package executiontest provides a recording execution.Strategy for tests.
package executiontest

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"quicinterop/internal/execution"
	"quicinterop/internal/implementations"
)

// Call is one recorded strategy invocation.
type Call struct {
	Kind    string
	Host    execution.Host
	Command execution.Command
	Path    string
	Vars    map[string]string
}

// Fake records every call. Started processes are real local shell processes
// whose script is chosen by StartFunc, so waiting, timeouts and termination
// behave as they do in production.
type Fake struct {
	IsRemote  bool
	Hosts     map[execution.Host]execution.HostInfo
	ImplDir   string
	StartFunc func(host execution.Host, c execution.Command) execution.Command
	RunFunc   func(host execution.Host, c execution.Command) execution.Result
	// Missing lists paths FileExists reports as absent.
	Missing map[string]bool
	// PushErr, if set, decides the error of Push and PushTo calls
	PushErr func(host execution.Host, src string) error

	local *execution.Local
	mu    sync.Mutex
	calls []Call
}

// New creates a fake in the local topology.
func New() *Fake {
	return &Fake{
		Hosts: map[execution.Host]execution.HostInfo{
			execution.HostServer: {Name: "local", Interface: "lo", IP: "127.0.0.1", IPv6: "::1"},
			execution.HostClient: {Name: "local", Interface: "lo", IP: "127.0.0.1", IPv6: "::1"},
		},
		ImplDir: "/impls",
		Missing: map[string]bool{},
		local:   execution.NewLocal(execution.LocalConfig{}),
	}
}

func (f *Fake) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

// Calls returns every recorded call, optionally filtered by kind.
func (f *Fake) Calls(kinds ...string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(kinds) == 0 {
		return append([]Call(nil), f.calls...)
	}
	var out []Call
	for _, c := range f.calls {
		for _, k := range kinds {
			if c.Kind == k {
				out = append(out, c)
			}
		}
	}
	return out
}

// Scripts returns the scripts of recorded run and start calls, in order.
func (f *Fake) Scripts() []string {
	var out []string
	for _, c := range f.Calls("run", "start") {
		out = append(out, c.Command.Script)
	}
	return out
}

// CountScript counts run and start calls whose script contains substr.
func (f *Fake) CountScript(substr string) int {
	n := 0
	for _, s := range f.Scripts() {
		if strings.Contains(s, substr) {
			n++
		}
	}
	return n
}

func (f *Fake) Remote() bool { return f.IsRemote }

func (f *Fake) HasHost(host execution.Host) bool {
	_, ok := f.Hosts[host]
	return ok
}

func (f *Fake) Host(host execution.Host) execution.HostInfo { return f.Hosts[host] }

func (f *Fake) ImplementationDir(impl implementations.Implementation) string {
	return filepath.Join(f.ImplDir, impl.Path)
}

func (f *Fake) Start(ctx context.Context, host execution.Host, c execution.Command) (*execution.Process, error) {
	f.record(Call{Kind: "start", Host: host, Command: c})
	run := execution.Command{Name: c.Name, Env: c.Env, Script: "exit 0"}
	if f.StartFunc != nil {
		run = f.StartFunc(host, c)
		if run.Name == "" {
			run.Name = c.Name
		}
	}
	return f.local.Start(ctx, host, run)
}

func (f *Fake) Run(ctx context.Context, host execution.Host, c execution.Command) (execution.Result, error) {
	f.record(Call{Kind: "run", Host: host, Command: c})
	if f.RunFunc != nil {
		return f.RunFunc(host, c), nil
	}
	return execution.Result{}, nil
}

func (f *Fake) FileExists(ctx context.Context, host execution.Host, path string) bool {
	f.record(Call{Kind: "exists", Host: host, Path: path})
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.Missing[path]
}

func (f *Fake) Push(ctx context.Context, host execution.Host, dir string) error {
	f.record(Call{Kind: "push", Host: host, Path: dir})
	return f.pushErr(host, dir)
}

func (f *Fake) PushTo(ctx context.Context, host execution.Host, src, dst string) error {
	f.record(Call{Kind: "push", Host: host, Path: src})
	return f.pushErr(host, src)
}

func (f *Fake) pushErr(host execution.Host, src string) error {
	if f.PushErr == nil {
		return nil
	}
	return f.PushErr(host, src)
}

func (f *Fake) Pull(ctx context.Context, host execution.Host, dir string) error {
	f.record(Call{Kind: "pull", Host: host, Path: dir})
	return nil
}

func (f *Fake) RemoveDir(ctx context.Context, host execution.Host, dir string) error {
	f.record(Call{Kind: "remove", Host: host, Path: dir})
	return nil
}

func (f *Fake) SetVariables(ctx context.Context, host execution.Host, vars map[string]string) error {
	f.record(Call{Kind: "vars", Host: host, Vars: vars})
	return nil
}

func (f *Fake) Terminate(ctx context.Context, host execution.Host, pattern string) error {
	f.record(Call{Kind: "terminate", Host: host, Path: pattern})
	return nil
}

func (f *Fake) PrepareManual(ctx context.Context, host execution.Host, c execution.Command) ([]string, error) {
	f.record(Call{Kind: "manual", Host: host, Command: c})
	return []string{c.Script}, nil
}

func (f *Fake) CleanupManual(ctx context.Context, host execution.Host) error {
	f.record(Call{Kind: "manual-cleanup", Host: host})
	return nil
}

var _ execution.Strategy = (*Fake)(nil)
