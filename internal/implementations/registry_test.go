package implementations

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFileSize(t *testing.T) {
	tests := []struct {
		input       string
		defaultUnit string
		want        int64
		wantErr     bool
	}{
		{"100", "B", 100, false},
		{"10KB", "B", 10_000, false},
		{"1.5 MB", "B", 1_500_000, false},
		{"20MiB", "B", 20 << 20, false},
		{"2 GiB", "B", 2 << 30, false},
		{"1TB", "B", 1_000_000_000_000, false},
		{"3", "MiB", 3 << 20, false},
		{"abc", "B", 0, true},
		{"10 XB", "B", 0, true},
		{"-5MB", "B", 0, true},
		{"0", "MiB", 0, true},
		{"0.5", "B", 0, true},
		{"8388607TiB", "B", 8388607 << 40, false},
		{"8388608TiB", "B", 0, true},
		{"99999999TiB", "B", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFileSize(tt.input, tt.defaultUnit)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEffectiveMaxFileSize(t *testing.T) {
	assert.Equal(t, int64(20<<20), EffectiveMaxFileSize(50<<20, 20<<20))
	assert.Equal(t, int64(20<<20), EffectiveMaxFileSize(20<<20, 50<<20))
	assert.Equal(t, int64(50<<20), EffectiveMaxFileSize(50<<20, 0))
	assert.Equal(t, int64(7), EffectiveMaxFileSize(0, 7))
	assert.Equal(t, int64(0), EffectiveMaxFileSize(0, 0))
}

const catalogJSON = `{
  "quiche": {"path": "quiche", "role": "both", "max_filesize": "50MiB"},
  "picoquic": {"path": "picoquic", "role": "server"},
  "msquic": {"path": "msquic", "role": "client", "max_filesize": "20MiB", "solo": true},
  "lsquic": {"path": "lsquic", "project_id": 42, "branch": "main"}
}`

func TestParse(t *testing.T) {
	r, err := Parse([]byte(catalogJSON))
	require.NoError(t, err)

	assert.Equal(t, []string{"lsquic", "msquic", "picoquic", "quiche"}, r.Names())
	assert.Equal(t, []string{"lsquic", "picoquic", "quiche"}, r.WithRole(RoleServer))
	assert.Equal(t, []string{"lsquic", "msquic", "quiche"}, r.WithRole(RoleClient))

	lsquic, ok := r.Get("lsquic")
	require.True(t, ok)
	assert.Equal(t, RoleBoth, lsquic.Role)
	require.NotNil(t, lsquic.Build)
	assert.Equal(t, 42, lsquic.Build.ProjectID)

	assert.Equal(t, int64(20<<20), r.MaxFileSize("quiche", "msquic"))
	assert.Equal(t, int64(50<<20), r.MaxFileSize("quiche", "lsquic"))
	assert.Equal(t, int64(0), r.MaxFileSize("picoquic", "lsquic"))

	assert.True(t, r.Exclusive("quiche", "msquic"))
	assert.False(t, r.Exclusive("quiche", "lsquic"))
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte(`{"x": {"role": "both"}}`))
	assert.ErrorContains(t, err, "path is required")

	_, err = Parse([]byte(`{"x": {"path": "x", "role": "proxy"}}`))
	assert.ErrorContains(t, err, "unknown role")

	_, err = Parse([]byte(`{"x": {"path": "x", "max_filesize": "lots"}}`))
	assert.ErrorContains(t, err, "invalid file size")
}

func TestResolve(t *testing.T) {
	r, err := Parse([]byte(catalogJSON))
	require.NoError(t, err)

	got, err := r.Resolve(nil, RoleServer)
	require.NoError(t, err)
	assert.Equal(t, []string{"lsquic", "picoquic", "quiche"}, got)

	_, err = r.Resolve([]string{"msquic"}, RoleServer)
	assert.ErrorContains(t, err, "does not support role server")

	_, err = r.Resolve([]string{"nope"}, RoleClient)
	assert.ErrorContains(t, err, "not found")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "implementations.yaml")
	require.NoError(t, os.WriteFile(path, []byte("quinn:\n  path: quinn\n  role: client\n"), 0644))

	r, err := LoadFile(path)
	require.NoError(t, err)
	impl, ok := r.Get("quinn")
	require.True(t, ok)
	assert.Equal(t, RoleClient, impl.Role)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
