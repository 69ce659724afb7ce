package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"quicinterop/internal/app"
	"quicinterop/internal/color"
)

func newProbeCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check which implementations follow the unsupported-test convention",
		Long: `Provisions every selected implementation and runs the compliance probe
against it, without running any test. The exit code is the number of
implementations that failed the probe.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunConfig(cmd.Flags(), opts)
			if err != nil {
				return err
			}
			appCfg := app.NewConfig(cfg, flagArgs(cmd.Flags()))
			appCfg.LogOutput = os.Stderr
			res, err := app.Probe(cmd.Context(), appCfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderProbe(res))
			failed := 0
			for _, r := range res {
				if !r.Compliant {
					failed++
				}
			}
			if failed > 0 {
				return &exitError{code: min(failed, 255)}
			}
			return nil
		},
	}
	addProbeFlags(cmd.Flags(), opts)
	return cmd
}

func addProbeFlags(f *pflag.FlagSet, opts *runOptions) {
	c := &opts.cfg
	f.StringVar(&opts.configPath, "config", "", "Configuration file layered over the user and project configuration")
	f.StringSliceVarP(&c.Servers, "server", "s", nil, "Server implementations (default all)")
	f.StringSliceVarP(&c.Clients, "client", "c", nil, "Client implementations (default all)")
	f.BoolVarP(&c.Debug, "debug", "d", false, "Enable debug logging")
	f.StringVarP(&c.ImplementationsDir, "implementation-directory", "i", "", "Root of the implementation directories")
	f.StringVar(&c.Implementations, "implementations", "", "Implementation catalog file")
	f.StringVar(&c.EnvDir, "env-dir", "", "Directory of provisioned environments")
	f.StringVar(&c.TempDir, "temp-dir", "", "Directory for probe scratch directories")
	f.StringVar(&c.Testbed, "testbed", "", "Testbed description; probes on this machine when empty")
	f.BoolVarP(&c.IPv6, "ipv6", "6", false, "Use the server's IPv6 address")
}

func renderProbe(res []app.ProbeResult) string {
	t := table.New().Headers("implementation", "role", "compliant")
	for _, r := range res {
		verdict := color.SucceededStyle.Render("yes")
		switch {
		case r.Reason != "":
			verdict = color.UnsupportedStyle.Render(r.Reason)
		case !r.Compliant:
			verdict = color.FailedStyle.Render("no")
		}
		t.Row(r.Name, string(r.Role), verdict)
	}
	return t.Render()
}
