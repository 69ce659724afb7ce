package state

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"quicinterop/internal/implementations"
)

func TestCompliance_FirstResultWins(t *testing.T) {
	r := NewRun("run")
	k := Key{Implementation: "quiche", Role: implementations.RoleServer}

	_, known := r.Compliance(k)
	assert.False(t, known)

	r.SetCompliance(k, true)
	r.SetCompliance(k, false)
	compliant, known := r.Compliance(k)
	assert.True(t, known)
	assert.True(t, compliant)
}

func TestUnsupported(t *testing.T) {
	r := NewRun("run")
	server := Key{Implementation: "quiche", Role: implementations.RoleServer}
	client := Key{Implementation: "quiche", Role: implementations.RoleClient}

	r.MarkUnsupported(server, "multiplexing")
	r.MarkUnsupported(server, "handshake")
	r.MarkUnsupported(server, "handshake")

	assert.True(t, r.IsUnsupported(server, "handshake"))
	assert.False(t, r.IsUnsupported(client, "handshake"))
	assert.Equal(t, []string{"handshake", "multiplexing"}, r.UnsupportedTests(server))
	assert.Empty(t, r.UnsupportedTests(client))
}

func TestProvisioned(t *testing.T) {
	r := NewRun("run")
	k := Key{Implementation: "msquic", Role: implementations.RoleClient}

	_, attempted := r.Provisioned(k)
	assert.False(t, attempted)

	failure := errors.New("setup-env.sh exited 1")
	r.SetProvisioned(k, failure)
	r.SetProvisioned(k, nil)
	err, attempted := r.Provisioned(k)
	assert.True(t, attempted)
	assert.Equal(t, failure, err)
}
