package cmd

import (
	"errors"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"quicinterop/internal/barrier"
	"quicinterop/pkg/logging"
)

type barrierOptions struct {
	clientSocket string
	serverSocket string
	timeout      string
	pre          []string
	post         []string
	debug        bool
}

func newBarrierCmd() *cobra.Command {
	opts := &barrierOptions{}
	cmd := &cobra.Command{
		Use:   "barrier",
		Short: "Run the hot-script barrier for one endpoint",
		Long: `Binds the server socket, waits for the endpoint to announce that it is
about to start, runs the pre scripts, releases it, and does the same with
the post scripts once the endpoint announces that it is about to finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.InitForCLI(logLevel(opts.debug), os.Stderr)
			timeout, err := parseTimeout(opts.timeout, barrier.DefaultTimeout)
			if err != nil {
				return err
			}
			c := barrier.NewController(barrier.ControllerConfig{
				ServerPath: opts.serverSocket,
				ClientPath: opts.clientSocket,
				Timeout:    timeout,
				Pre:        opts.pre,
				Post:       opts.post,
			})
			return c.Run(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.clientSocket, "client-socket", barrier.DefaultClientPath, "Socket bound by the endpoint")
	f.StringVar(&opts.serverSocket, "server-socket", barrier.DefaultServerPath, "Socket bound by the barrier")
	f.StringVar(&opts.timeout, "timeout", barrier.DefaultTimeout.String(), "Maximum wait per checkpoint")
	f.StringArrayVar(&opts.pre, "pre", nil, "Script run before the endpoint starts (repeatable)")
	f.StringArrayVar(&opts.post, "post", nil, "Script run before the endpoint finishes (repeatable)")
	f.BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")

	cmd.AddCommand(newParticipantCmd())
	return cmd
}

type participantOptions struct {
	clientSocket string
	serverSocket string
	timeout      string
	timestamps   string
}

func newParticipantCmd() *cobra.Command {
	opts := &participantOptions{}
	cmd := &cobra.Command{
		Use:   "participant -- COMMAND [ARG...]",
		Short: "Wrap a command with the barrier checkpoints",
		Long: `Announces the start to the barrier, runs COMMAND once the pre scripts are
done, and announces the end when it exits. With --timestamps the start and
end times are written as JSON for client-side measurement timing.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, err := parseTimeout(opts.timeout, barrier.DefaultTimeout)
			if err != nil {
				return err
			}
			p := barrier.NewParticipant()
			p.ClientPath = opts.clientSocket
			p.ServerPath = opts.serverSocket
			p.Timeout = timeout
			p.TimestampFile = opts.timestamps
			defer p.Close()

			ctx := cmd.Context()
			if err := p.Begin(ctx); err != nil {
				return err
			}
			child := exec.CommandContext(ctx, args[0], args[1:]...)
			child.Stdin = cmd.InOrStdin()
			child.Stdout = cmd.OutOrStdout()
			child.Stderr = cmd.ErrOrStderr()
			runErr := child.Run()
			if err := p.End(ctx); err != nil {
				return err
			}
			var exitErr *exec.ExitError
			if errors.As(runErr, &exitErr) {
				return &exitError{code: exitErr.ExitCode()}
			}
			return runErr
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.clientSocket, "client-socket", barrier.DefaultClientPath, "Socket bound by the endpoint")
	f.StringVar(&opts.serverSocket, "server-socket", barrier.DefaultServerPath, "Socket bound by the barrier")
	f.StringVar(&opts.timeout, "timeout", barrier.DefaultTimeout.String(), "Maximum wait per checkpoint")
	f.StringVar(&opts.timestamps, "timestamps", "", "Write start and end times to this file")
	return cmd
}
