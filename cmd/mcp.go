package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"quicinterop/internal/app"
	"quicinterop/internal/config"
	"quicinterop/internal/implementations"
	"quicinterop/internal/mcpserver"
	"quicinterop/internal/results"
	"quicinterop/pkg/logging"
)

func newMCPCmd() *cobra.Command {
	var configPath string
	var readOnly bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the catalogs and matrix runs as MCP tools on stdio",
		Long: `Starts a Model Context Protocol server on stdin/stdout. Tools list the
implementations and tests, read result documents and, unless --read-only
is set, run a matrix with the configuration of this directory.

Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.InitForCLI(logging.LevelInfo, os.Stderr)
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			registry, err := implementations.LoadFile(cfg.Implementations)
			if err != nil {
				return err
			}
			var run mcpserver.RunFunc
			if !readOnly {
				run = mcpRunFunc(cfg)
			}
			s := mcpserver.New(registry, run, rootCmd.Version)
			return s.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Configuration file layered over the user and project configuration")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Do not offer the run_matrix tool")
	return cmd
}

// mcpRunFunc runs a matrix with base narrowed to the request. Nothing may be
// written to stdout, which carries the protocol.
func mcpRunFunc(base config.RunConfig) mcpserver.RunFunc {
	return func(ctx context.Context, req mcpserver.RunRequest) (*results.Document, error) {
		rc := base
		rc.TUI = false
		rc.Manual = false
		rc.LogDir = ""
		if len(req.Servers) > 0 {
			rc.Servers = req.Servers
		}
		if len(req.Clients) > 0 {
			rc.Clients = req.Clients
		}
		if len(req.Tests) > 0 {
			rc.Tests = req.Tests
		}
		appCfg := app.NewConfig(rc, map[string]any{
			"server": rc.Servers,
			"client": rc.Clients,
			"test":   rc.Tests,
		})
		appCfg.Out = os.Stderr
		appCfg.LogOutput = os.Stderr

		a, err := app.NewApplication(appCfg)
		if err != nil {
			return nil, err
		}
		report, err := a.Run(ctx)
		if err != nil {
			return nil, err
		}
		return &report.Document, nil
	}
}
