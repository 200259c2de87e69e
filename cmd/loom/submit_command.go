package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/ipc"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var name string
	var owner string

	cmd := &cobra.Command{
		Use:   "submit <intent>",
		Short: "Submit a training intent and plan a new run",
		Long: "Submit sends a natural-language training intent to the daemon. The planner\n" +
			"turns the intent into a run plan and the run enters the pipeline at dataset\n" +
			"acquisition.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			intent := strings.TrimSpace(strings.Join(args, " "))
			if intent == "" {
				return fmt.Errorf("intent must not be empty")
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Submit(intent, name, owner)
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, resp.Run)
				}
				stdout := cmd.OutOrStdout()
				fmt.Fprintf(stdout, "Run #%d created\n", resp.Run.ID)
				if resp.Run.Name != "" {
					fmt.Fprintf(stdout, "Name: %s\n", resp.Run.Name)
				}
				fmt.Fprintf(stdout, "Phase: %s\n", formatPhaseLabel(resp.Run.Phase))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name for the run")
	cmd.Flags().StringVar(&owner, "owner", "", "Owner recorded on the run")
	return cmd
}
