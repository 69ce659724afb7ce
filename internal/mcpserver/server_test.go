package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quicinterop/internal/implementations"
	"quicinterop/internal/results"
	"quicinterop/pkg/logging"
)

func newRegistry() *implementations.Registry {
	return implementations.New(
		implementations.Implementation{Name: "quiche", Path: "quiche", Role: implementations.RoleBoth},
		implementations.Implementation{Name: "msquic", Path: "msquic", Role: implementations.RoleClient, Solo: true, MaxFileSize: 20 << 20},
	)
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text
}

func TestListImplementations(t *testing.T) {
	s := New(newRegistry(), nil, "test")

	res, err := s.handleListImplementations(context.Background(), call(nil))
	require.NoError(t, err)

	var got []implementationInfo
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &got))
	assert.Equal(t, []implementationInfo{
		{Name: "msquic", Role: "client", Solo: true, MaxFileSize: 20 << 20},
		{Name: "quiche", Role: "both"},
	}, got)
}

func TestListTests(t *testing.T) {
	s := New(newRegistry(), nil, "test")

	res, err := s.handleListTests(context.Background(), call(nil))
	require.NoError(t, err)

	var got []testInfo
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &got))
	byName := map[string]testInfo{}
	for _, ti := range got {
		byName[ti.Name] = ti
	}
	require.Contains(t, byName, "handshake")
	assert.Equal(t, "H", byName["handshake"].Abbreviation)
	require.Contains(t, byName, "goodput")
	assert.True(t, byName["goodput"].Measurement)
	assert.Equal(t, 5, byName["goodput"].Repetitions)
}

func TestReadResults(t *testing.T) {
	logging.InitForCLI(logging.LevelError, io.Discard)
	s := New(newRegistry(), nil, "test")
	dir := t.TempDir()

	path := filepath.Join(dir, "result.json")
	require.NoError(t, results.Document{RunID: "abc", QUICVersion: "0x1"}.Write(path))

	res, err := s.handleReadResults(context.Background(), call(map[string]any{"path": path}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), `"run_id": "abc"`)

	res, err = s.handleReadResults(context.Background(), call(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("not json"), 0o644))
	res, err = s.handleReadResults(context.Background(), call(map[string]any{"path": garbage}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestRunMatrix(t *testing.T) {
	logging.InitForCLI(logging.LevelError, io.Discard)

	var got RunRequest
	s := New(newRegistry(), func(ctx context.Context, req RunRequest) (*results.Document, error) {
		got = req
		return &results.Document{RunID: "run-7"}, nil
	}, "test")

	res, err := s.handleRunMatrix(context.Background(), call(map[string]any{
		"servers": []any{"quiche"},
		"tests":   "handshake",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), "run-7")
	assert.Equal(t, RunRequest{Servers: []string{"quiche"}, Tests: []string{"handshake"}}, got)
}

func TestRunMatrix_Errors(t *testing.T) {
	logging.InitForCLI(logging.LevelError, io.Discard)

	release := make(chan struct{})
	started := make(chan struct{})
	s := New(newRegistry(), func(ctx context.Context, req RunRequest) (*results.Document, error) {
		if len(req.Tests) == 1 && req.Tests[0] == "block" {
			close(started)
			<-release
		}
		return nil, errors.New("log directory exists")
	}, "test")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.handleRunMatrix(context.Background(), call(map[string]any{"tests": "block"}))
	}()
	<-started

	res, err := s.handleRunMatrix(context.Background(), call(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "already in progress")

	close(release)
	wg.Wait()

	res, err = s.handleRunMatrix(context.Background(), call(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "log directory exists")
}

func TestStringList(t *testing.T) {
	assert.Nil(t, stringList(nil))
	assert.Nil(t, stringList(""))
	assert.Equal(t, []string{"a"}, stringList("a"))
	assert.Equal(t, []string{"a", "b"}, stringList([]any{"a", 3, "b", ""}))
}
