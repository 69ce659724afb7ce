package cmd

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"quicinterop/internal/config"
	"quicinterop/internal/implementations"
	"quicinterop/internal/testcases"
)

func newListCmd() *cobra.Command {
	var configPath, catalog string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the implementations and tests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("implementations") {
				cfg.Implementations = catalog
			}
			registry, err := implementations.LoadFile(cfg.Implementations)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderImplementations(registry))
			fmt.Fprintln(out, renderTestCatalog())
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Configuration file layered over the user and project configuration")
	cmd.Flags().StringVar(&catalog, "implementations", "", "Implementation catalog file")
	return cmd
}

func renderImplementations(r *implementations.Registry) string {
	t := table.New().Headers("implementation", "role", "path", "solo", "max filesize")
	for _, name := range r.Names() {
		impl, _ := r.Get(name)
		limit := "-"
		if impl.MaxFileSize > 0 {
			limit = strconv.FormatInt(impl.MaxFileSize/testcases.MiB, 10) + " MiB"
		}
		t.Row(name, string(impl.Role), impl.Path, strconv.FormatBool(impl.Solo), limit)
	}
	return t.Render()
}

func renderTestCatalog() string {
	t := table.New().Headers("test", "abbr", "kind", "description")
	for _, tc := range testcases.Tests() {
		t.Row(tc.Name(), tc.Abbreviation(), "test", tc.Description())
	}
	for _, m := range testcases.Measurements() {
		t.Row(m.Name(), m.Abbreviation(), fmt.Sprintf("measurement ×%d", m.Repetitions()), m.Description())
	}
	return t.Render()
}
