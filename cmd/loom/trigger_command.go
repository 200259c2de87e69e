package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/ipc"
)

func newTriggerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <stage> <id>",
		Short: "Run one stage synchronously for a run",
		Long: "Trigger executes a single stage (acquisition, training, evaluation) for the\n" +
			"given run immediately, bypassing the scheduler. The run must be in the phase\n" +
			"the stage expects.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage := args[0]
			id, err := parseRunID(args[1])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Trigger(stage, id)
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Run #%d is now %s\n", id, formatPhaseLabel(resp.Phase))
				return nil
			})
		},
	}
}
