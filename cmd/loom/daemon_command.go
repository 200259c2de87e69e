package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/daemonrun"
)

// newDaemonRunCommand returns the hidden foreground daemon process command.
// `loom start` launches this in a detached child; running it directly keeps
// the daemon in the foreground for debugging.
func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool

	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Run the loom daemon in the foreground",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts := daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			}
			if ctx.socketFlag != nil {
				opts.SocketPath = *ctx.socketFlag
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&development, "dev", false, "Enable development logging output")
	return cmd
}
