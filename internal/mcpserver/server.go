// Package mcpserver exposes the implementation catalog, the test catalog and
// matrix runs as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"quicinterop/internal/implementations"
	"quicinterop/internal/results"
	"quicinterop/internal/testcases"
	"quicinterop/pkg/logging"
)

// RunRequest selects the matrix of a run started over MCP. Empty lists mean
// everything.
type RunRequest struct {
	Servers []string
	Clients []string
	Tests   []string
}

// RunFunc executes one matrix and returns its result document.
type RunFunc func(ctx context.Context, req RunRequest) (*results.Document, error)

// Server serves the interop tools. Runs are serialized.
type Server struct {
	registry *implementations.Registry
	run      RunFunc
	server   *server.MCPServer

	running sync.Mutex
}

// New creates the MCP server. run may be nil, in which case run_matrix is
// not offered.
func New(registry *implementations.Registry, run RunFunc, version string) *Server {
	s := &Server{
		registry: registry,
		run:      run,
		server: server.NewMCPServer(
			"interop",
			version,
			server.WithToolCapabilities(false),
		),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.server.AddTool(mcp.NewTool("list_implementations",
		mcp.WithDescription("List the QUIC implementations of the catalog with their roles"),
	), s.handleListImplementations)

	s.server.AddTool(mcp.NewTool("list_tests",
		mcp.WithDescription("List the available test cases and measurements"),
	), s.handleListTests)

	s.server.AddTool(mcp.NewTool("read_results",
		mcp.WithDescription("Read a result document written by a previous run"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path of the result JSON file"),
		),
	), s.handleReadResults)

	if s.run == nil {
		return
	}
	s.server.AddTool(mcp.NewTool("run_matrix",
		mcp.WithDescription("Run a server x client x test matrix and return the result document"),
		mcp.WithArray("servers", mcp.Description("Server implementations, all when omitted")),
		mcp.WithArray("clients", mcp.Description("Client implementations, all when omitted")),
		mcp.WithArray("tests", mcp.Description("Test and measurement names, all when omitted")),
	), s.handleRunMatrix)
}

// Serve answers requests on in and out until ctx is done or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	logging.Info("MCP", "Serving interop tools on stdio")
	stdio := server.NewStdioServer(s.server)
	return stdio.Listen(ctx, in, out)
}

type implementationInfo struct {
	Name        string `json:"name"`
	Role        string `json:"role"`
	Solo        bool   `json:"solo,omitempty"`
	MaxFileSize int64  `json:"max_filesize,omitempty"`
}

func (s *Server) handleListImplementations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var out []implementationInfo
	for _, name := range s.registry.Names() {
		impl, _ := s.registry.Get(name)
		out = append(out, implementationInfo{
			Name:        name,
			Role:        string(impl.Role),
			Solo:        impl.Solo,
			MaxFileSize: impl.MaxFileSize,
		})
	}
	return jsonResult(out)
}

type testInfo struct {
	Name         string `json:"name"`
	Abbreviation string `json:"abbr"`
	Description  string `json:"desc"`
	Timeout      string `json:"timeout"`
	Measurement  bool   `json:"measurement,omitempty"`
	Repetitions  int    `json:"repetitions,omitempty"`
	FileSize     int64  `json:"filesize,omitempty"`
}

func (s *Server) handleListTests(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var out []testInfo
	for _, t := range testcases.Tests() {
		out = append(out, testInfo{
			Name:         t.Name(),
			Abbreviation: t.Abbreviation(),
			Description:  t.Description(),
			Timeout:      t.Timeout().String(),
		})
	}
	for _, m := range testcases.Measurements() {
		out = append(out, testInfo{
			Name:         m.Name(),
			Abbreviation: m.Abbreviation(),
			Description:  m.Description(),
			Timeout:      m.Timeout().String(),
			Measurement:  true,
			Repetitions:  m.Repetitions(),
			FileSize:     m.FileSize(),
		})
	}
	return jsonResult(out)
}

func (s *Server) handleReadResults(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return mcp.NewToolResultError("path is required"), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read %s: %v", path, err)), nil
	}
	var doc results.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s is not a result document: %v", path, err)), nil
	}
	return jsonResult(doc)
}

func (s *Server) handleRunMatrix(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.running.TryLock() {
		return mcp.NewToolResultError("A run is already in progress"), nil
	}
	defer s.running.Unlock()

	args := request.GetArguments()
	req := RunRequest{
		Servers: stringList(args["servers"]),
		Clients: stringList(args["clients"]),
		Tests:   stringList(args["tests"]),
	}
	logging.Info("MCP", "Starting run: servers=%v clients=%v tests=%v", req.Servers, req.Clients, req.Tests)

	doc, err := s.run(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Run failed: %v", err)), nil
	}
	return jsonResult(doc)
}

// stringList accepts a JSON array of strings or a single string.
func stringList(v any) []string {
	switch v := v.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
