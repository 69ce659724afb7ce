package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"quicinterop/internal/hostsync"
	"quicinterop/pkg/logging"
)

type hostsyncOptions struct {
	host    string
	port    int
	timeout string
}

func newHostsyncCmd() *cobra.Command {
	opts := &hostsyncOptions{}
	cmd := &cobra.Command{
		Use:   "hostsync",
		Short: "Wait until the other testbed host reaches the same point",
		Long: `Lets scripts on two testbed hosts meet before they continue: one side
listens, the other connects. Both return once the connection was made.`,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.host, "host", "", "Address to listen on or connect to")
	pf.IntVar(&opts.port, "port", hostsync.DefaultPort, "Rendezvous port")
	pf.StringVar(&opts.timeout, "timeout", hostsync.DefaultTimeout.String(), "Give up after this long")

	cmd.AddCommand(&cobra.Command{
		Use:   "listen",
		Short: "Wait for the other host to connect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, err := parseTimeout(opts.timeout, hostsync.DefaultTimeout)
			if err != nil {
				return err
			}
			logging.InitForCLI(logging.LevelInfo, os.Stderr)
			return hostsync.Listen(cmd.Context(), hostsync.Address(opts.host, opts.port), timeout)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "connect",
		Short: "Connect to the listening host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, err := parseTimeout(opts.timeout, hostsync.DefaultTimeout)
			if err != nil {
				return err
			}
			logging.InitForCLI(logging.LevelInfo, os.Stderr)
			return hostsync.Connect(cmd.Context(), hostsync.Address(opts.host, opts.port), timeout)
		},
	})
	return cmd
}

// parseTimeout accepts Go durations and plain seconds.
func parseTimeout(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := time.ParseDuration(s + "s")
	if err != nil {
		return 0, err
	}
	return secs, nil
}

func logLevel(debug bool) logging.LogLevel {
	if debug {
		return logging.LevelDebug
	}
	return logging.LevelInfo
}
