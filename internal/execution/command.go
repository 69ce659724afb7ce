package execution

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/alessio/shellescape"

	"quicinterop/internal/outcome"
)

// Env is an ordered set of environment assignments.
type Env []EnvVar

// EnvVar is a single KEY=VALUE assignment.
type EnvVar struct {
	Key   string
	Value string
}

// Set appends or replaces key.
func (e Env) Set(key, value string) Env {
	for i := range e {
		if e[i].Key == key {
			e[i].Value = value
			return e
		}
	}
	return append(e, EnvVar{Key: key, Value: value})
}

// Get returns the value of key.
func (e Env) Get(key string) (string, bool) {
	for _, v := range e {
		if v.Key == key {
			return v.Value, true
		}
	}
	return "", false
}

// Strings renders KEY=VALUE pairs for exec.Cmd.Env.
func (e Env) Strings() []string {
	out := make([]string, 0, len(e))
	for _, v := range e {
		out = append(out, v.Key+"="+v.Value)
	}
	return out
}

// Exports renders a shell fragment exporting every variable.
func (e Env) Exports() string {
	if len(e) == 0 {
		return ""
	}
	parts := make([]string, 0, len(e))
	for _, v := range e {
		parts = append(parts, v.Key+"="+shellescape.Quote(v.Value))
	}
	return "export " + strings.Join(parts, " ")
}

// EnvFromMap builds a sorted Env from a map.
func EnvFromMap(m map[string]string) Env {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make(Env, 0, len(keys))
	for _, k := range keys {
		env = append(env, EnvVar{Key: k, Value: m[k]})
	}
	return env
}

// Command is a shell command line to run on one of the hosts.
type Command struct {
	// Name identifies the command in logs.
	Name string
	// Dir is the working directory. Empty means the strategy default.
	Dir string
	// Prelude runs before the environment is exported, typically the
	// activation of a provisioned environment.
	Prelude string
	Env     Env
	// Script is passed to the shell verbatim.
	Script string
	Stdin  io.Reader
}

// ShellLine renders the command, including directory change and exports, as a
// single POSIX shell line.
func (c Command) ShellLine() string {
	var parts []string
	if c.Dir != "" {
		parts = append(parts, "cd "+shellescape.Quote(c.Dir))
	}
	if c.Prelude != "" {
		parts = append(parts, c.Prelude)
	}
	if exports := c.Env.Exports(); exports != "" {
		parts = append(parts, exports)
	}
	parts = append(parts, c.Script)
	return strings.Join(parts, "; ")
}

// localLine is ShellLine without the directory change, which exec.Cmd.Dir
// handles locally.
func (c Command) localLine() string {
	c.Dir = ""
	return c.ShellLine()
}

// Result is the outcome of a blocking command.
type Result struct {
	Status outcome.ExitStatus
	Logs   Logs
}

// Output returns stdout followed by stderr.
func (r Result) Output() string {
	return r.Logs.Stdout + r.Logs.Stderr
}

// Err converts a non-successful result into an error.
func (r Result) Err() error {
	if r.Status.TimedOut {
		return fmt.Errorf("command timed out")
	}
	if r.Status.Code != 0 {
		out := strings.TrimSpace(r.Output())
		if out != "" {
			return fmt.Errorf("%s: %s", r.Status, out)
		}
		return fmt.Errorf("%s", r.Status)
	}
	return nil
}

// RunChecked runs c and turns a start failure, timeout or non-zero exit into
// an error.
func RunChecked(ctx context.Context, s Strategy, host Host, c Command) error {
	res, err := s.Run(ctx, host, c)
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("%s on %s: %w", c.Name, host, err)
	}
	return nil
}

// runProcess waits for p, stopping it on ctx expiry.
func runProcess(ctx context.Context, p *Process) Result {
	status, _ := p.Wait(ctx)
	if status.TimedOut {
		p.Stop(DefaultGracePeriod)
	}
	return Result{Status: status, Logs: p.Logs()}
}
