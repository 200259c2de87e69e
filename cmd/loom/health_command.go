package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/runaccess"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check run store health",
		Long: "Health inspects the SQLite run store: file accessibility, schema version,\n" +
			"expected columns, and a PRAGMA integrity check. Works without a running\n" +
			"daemon.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(func(access runaccess.Access) error {
				health, err := access.DatabaseHealth(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, health)
				}

				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				for _, line := range renderSectionHeader("Store Health", colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, renderStatusLine("Database", statusInfo, health.DBPath, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Exists", boolKind(health.DatabaseExists), yesNo(health.DatabaseExists), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Readable", boolKind(health.DatabaseReadable), yesNo(health.DatabaseReadable), colorize))
				if health.SchemaVersion != "" {
					fmt.Fprintln(stdout, renderStatusLine("Schema version", statusInfo, health.SchemaVersion, colorize))
				}
				fmt.Fprintln(stdout, renderStatusLine("Runs table", boolKind(health.TableExists), yesNo(health.TableExists), colorize))
				if len(health.MissingColumns) > 0 {
					fmt.Fprintln(stdout, renderStatusLine("Missing columns", statusError, strings.Join(health.MissingColumns, ", "), colorize))
				}
				fmt.Fprintln(stdout, renderStatusLine("Integrity check", boolKind(health.IntegrityCheck), yesNo(health.IntegrityCheck), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Total records", statusInfo, fmt.Sprintf("%d", health.TotalRecords), colorize))
				if health.Error != "" {
					fmt.Fprintln(stdout, renderStatusLine("Error", statusError, health.Error, colorize))
				}
				return nil
			})
		},
	}
}

func boolKind(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}
