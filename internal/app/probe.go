package app

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"quicinterop/internal/implementations"
	"quicinterop/internal/scheduler"
	"quicinterop/pkg/logging"
)

// ProbeResult is the compliance verdict of one implementation in one role.
type ProbeResult struct {
	Name      string
	Role      implementations.Role
	Compliant bool
	// Reason is set when the implementation could not be probed
	Reason string
}

// Probe provisions and probes every selected server and client without
// running the matrix.
func Probe(ctx context.Context, cfg *Config) ([]ProbeResult, error) {
	if cfg.LogOutput == nil {
		cfg.LogOutput = os.Stderr
	}
	logging.InitForCLI(logLevel(cfg.Run.Debug), cfg.LogOutput)

	if err := cfg.Run.Validate(); err != nil {
		return nil, err
	}
	s, err := InitializeServices(cfg, uuid.NewString(), cfg.Run.TempDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	if err := scheduler.Stage(ctx, s.Strategy, s.Registry, s.staging(cfg.Run)); err != nil {
		return nil, fmt.Errorf("failed to stage testbed: %w", err)
	}
	return probeAll(ctx, s.Provisioner, s.Prober, s.Servers, s.Clients), nil
}

func probeAll(ctx context.Context, p scheduler.Provisioner, c scheduler.Prober, servers, clients []string) []ProbeResult {
	var out []ProbeResult
	for _, sel := range []struct {
		role  implementations.Role
		names []string
	}{
		{implementations.RoleServer, servers},
		{implementations.RoleClient, clients},
	} {
		for _, name := range sel.names {
			if ctx.Err() != nil {
				return out
			}
			r := ProbeResult{Name: name, Role: sel.role}
			if err := p.Ensure(ctx, name, sel.role); err != nil {
				logging.Error("Probe", err, "Provisioning %s (%s) failed", name, sel.role)
				r.Reason = "could not be provisioned"
			} else {
				r.Compliant = c.Check(ctx, name, sel.role)
			}
			out = append(out, r)
		}
	}
	return out
}
