package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"quicinterop/internal/metrics"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of interop",
		Long:  `All software has versions. This is interop's.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "interop version %s\n", rootCmd.Version)
			if commit := metrics.Commit(); commit != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "commit %s\n", commit)
			}
		},
	}
}
