package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"quicinterop/internal/implementations"
)

type fakeProvisioner struct{ broken map[string]bool }

func (f fakeProvisioner) Ensure(_ context.Context, name string, _ implementations.Role) error {
	if f.broken[name] {
		return errors.New("setup failed")
	}
	return nil
}

type fakeProber struct {
	compliant map[string]bool
	calls     []string
}

func (f *fakeProber) Check(_ context.Context, name string, role implementations.Role) bool {
	f.calls = append(f.calls, name+"/"+string(role))
	return f.compliant[name]
}

func TestProbeAll(t *testing.T) {
	prober := &fakeProber{compliant: map[string]bool{"quiche": true}}
	got := probeAll(context.Background(),
		fakeProvisioner{broken: map[string]bool{"msquic": true}},
		prober,
		[]string{"quiche", "msquic"},
		[]string{"picoquic"},
	)

	assert.Equal(t, []ProbeResult{
		{Name: "quiche", Role: implementations.RoleServer, Compliant: true},
		{Name: "msquic", Role: implementations.RoleServer, Reason: "could not be provisioned"},
		{Name: "picoquic", Role: implementations.RoleClient},
	}, got)
	assert.Equal(t, []string{"quiche/server", "picoquic/client"}, prober.calls, "unprovisioned implementations are not probed")
}

func TestProbeAll_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := probeAll(ctx, fakeProvisioner{}, &fakeProber{}, []string{"quiche"}, []string{"quiche"})
	assert.Empty(t, got)
}
