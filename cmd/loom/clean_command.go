package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"loom/internal/logging"
	"loom/internal/workspace"
)

func newCleanCommand(ctx *commandContext) *cobra.Command {
	var maxAgeHours int

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove stale run directories from the staging area",
		Long: "Clean deletes run-<id> directories under the staging area whose last\n" +
			"modification is older than the retention window. The daemon performs the\n" +
			"same sweep at startup; this command runs it on demand.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			if cfg == nil {
				return fmt.Errorf("configuration unavailable")
			}

			hours := maxAgeHours
			if hours <= 0 {
				hours = cfg.Workflow.StagingRetentionHours
			}

			result := workspace.CleanStale(
				cmd.Context(),
				cfg.Paths.StagingDir,
				time.Duration(hours)*time.Hour,
				logging.NewNop(),
			)

			if ctx.jsonMode() {
				return writeJSON(cmd, result)
			}

			stdout := cmd.OutOrStdout()
			if len(result.Removed) == 0 && len(result.Errors) == 0 {
				fmt.Fprintln(stdout, "No stale run directories found")
				return nil
			}
			for _, dir := range result.Removed {
				fmt.Fprintf(stdout, "Removed %s\n", dir)
			}
			for _, cleanupErr := range result.Errors {
				fmt.Fprintf(stdout, "Failed to remove %s: %v\n", cleanupErr.Path, cleanupErr.Error)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxAgeHours, "max-age-hours", 0, "Override the configured retention window")
	return cmd
}
