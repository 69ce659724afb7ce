package testcases

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnv(t *testing.T) *Env {
	t.Helper()
	root := t.TempDir()
	env := &Env{
		WWW:        filepath.Join(root, "www"),
		Downloads:  filepath.Join(root, "downloads"),
		Certs:      filepath.Join(root, "certs"),
		ServerLogs: filepath.Join(root, "server"),
		ClientLogs: filepath.Join(root, "client"),
		ServerName: "server",
	}
	for _, dir := range []string{env.WWW, env.Downloads, env.Certs, env.ServerLogs, env.ClientLogs} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
	env.ServerKeyLog = filepath.Join(env.ServerLogs, "keys.log")
	env.ClientKeyLog = filepath.Join(env.ClientLogs, "keys.log")
	env.ServerQlog = filepath.Join(env.ServerLogs, "server_qlog")
	env.ClientQlog = filepath.Join(env.ClientLogs, "client_qlog")
	return env
}

func copyServed(t *testing.T, env *Env) {
	t.Helper()
	entries, err := os.ReadDir(env.WWW)
	require.NoError(t, err)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(env.WWW, e.Name()))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(env.Downloads, e.Name()), data, 0o644))
	}
}

func find(t *testing.T, name string) TestCase {
	t.Helper()
	for _, tc := range Tests() {
		if tc.Name() == name {
			return tc
		}
	}
	t.Fatalf("test %s not in catalog", name)
	return nil
}

func TestSelect(t *testing.T) {
	tests, measurements, err := Select(nil, 0, 0)
	require.NoError(t, err)
	assert.Len(t, tests, len(Tests()))
	assert.Len(t, measurements, len(Measurements()))

	tests, measurements, err = Select([]string{OnlyTests}, 0, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, tests)
	assert.Empty(t, measurements)

	tests, measurements, err = Select([]string{OnlyMeasurements}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, tests)
	assert.NotEmpty(t, measurements)

	tests, measurements, err = Select([]string{"goodput", "handshake"}, 3, 20*MiB)
	require.NoError(t, err)
	require.Len(t, tests, 1)
	assert.Equal(t, "H", tests[0].Abbreviation())
	require.Len(t, measurements, 1)
	assert.Equal(t, 3, measurements[0].Repetitions())
	assert.Equal(t, 20*MiB, measurements[0].FileSize())

	// Overrides never leak into the catalog.
	assert.Equal(t, 5, Measurements()[0].Repetitions())

	_, _, err = Select([]string{"zerortt"}, 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zerortt")
}

func TestTestName(t *testing.T) {
	m := find(t, "multiplexing")
	assert.Equal(t, "transfer", m.TestName(PerspectiveServer))
	assert.Equal(t, "multiplexing", m.TestName(PerspectiveClient))
	assert.Equal(t, "handshake", find(t, "handshake").TestName(PerspectiveServer))
}

func TestRequests(t *testing.T) {
	env := &Env{ServerName: "server6"}
	assert.Equal(t, "https://server6:4433/a https://server6:4433/b", env.Requests([]string{"a", "b"}))
}

func TestPrepareRespectsCeiling(t *testing.T) {
	env := newEnv(t)
	env.MaxFileSize = 1000

	files, err := find(t, "transfer").Prepare(env)
	require.NoError(t, err)
	require.Len(t, files, 3)
	for _, f := range files {
		info, err := os.Stat(filepath.Join(env.WWW, f))
		require.NoError(t, err)
		assert.Equal(t, int64(1000), info.Size())
		assert.Len(t, f, 10)
	}
}

func TestCheckDownloads(t *testing.T) {
	tc := find(t, "handshake")
	env := newEnv(t)
	_, err := tc.Prepare(env)
	require.NoError(t, err)

	assert.Error(t, tc.Check(env), "nothing downloaded")

	copyServed(t, env)
	assert.NoError(t, tc.Check(env))

	entries, err := os.ReadDir(env.Downloads)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(env.Downloads, entries[0].Name()), []byte("corrupted"), 0o644))
	err = tc.Check(env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 1024")
}

func TestKeyLogAndQlogChecks(t *testing.T) {
	env := newEnv(t)
	keylog := find(t, "keylog")
	_, err := keylog.Prepare(env)
	require.NoError(t, err)
	copyServed(t, env)

	assert.Error(t, keylog.Check(env))
	require.NoError(t, os.WriteFile(env.ServerKeyLog, []byte("CLIENT_RANDOM x y\n"), 0o644))
	require.NoError(t, os.WriteFile(env.ClientKeyLog, []byte("CLIENT_RANDOM x y\n"), 0o644))
	assert.NoError(t, keylog.Check(env))

	qlog := find(t, "qlog")
	assert.True(t, qlog.Requirements().QLog)
	assert.Error(t, qlog.Check(env))
	for _, dir := range []string{env.ServerQlog, env.ClientQlog} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "conn.qlog"), []byte("{}"), 0o644))
	}
	assert.NoError(t, qlog.Check(env))
}

func TestGoodputResult(t *testing.T) {
	env := newEnv(t)
	m := Measurements()[0]
	env.MaxFileSize = 125000

	_, err := m.Prepare(env)
	require.NoError(t, err)
	copyServed(t, env)
	require.NoError(t, m.Check(env))

	env.Start = time.Unix(100, 0)
	env.End = env.Start.Add(2 * time.Second)
	got, err := m.Result(env)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, got, 0.001)
	assert.Equal(t, "kbps", m.Unit())

	env.End = env.Start
	_, err = m.Result(env)
	assert.Error(t, err)
}

func TestGenerateCertificates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, GenerateCertificates(dir))

	caPEM, err := os.ReadFile(filepath.Join(dir, CAFile))
	require.NoError(t, err)
	chainPEM, err := os.ReadFile(filepath.Join(dir, CertFile))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, KeyFile))
	require.NoError(t, err)

	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(caPEM))
	block, rest := pem.Decode(chainPEM)
	require.NotNil(t, block)
	assert.NotEmpty(t, rest, "chain carries the CA")

	leaf, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	_, err = leaf.Verify(x509.VerifyOptions{DNSName: "server", Roots: pool})
	assert.NoError(t, err)
}

func TestRandomString(t *testing.T) {
	s := RandomString(6)
	assert.Regexp(t, `^[a-z]{6}$`, s)
}
