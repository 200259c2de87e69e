package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/runaccess"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and manage pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	runsCmd.AddCommand(
		newRunsListCommand(ctx),
		newRunsShowCommand(ctx),
		newRunsRetryCommand(ctx),
		newRunsClearCommand(ctx),
		newRunsResetCommand(ctx),
		newRunsReconcileCommand(ctx),
		newRunsHealthCommand(ctx),
	)
	return runsCmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var phases []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, optionally filtered by phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(func(access runaccess.Access) error {
				runs, err := access.List(cmd.Context(), phases)
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, runs)
				}
				stdout := cmd.OutOrStdout()
				rows := buildRunListRows(runs)
				if len(rows) == 0 {
					fmt.Fprintln(stdout, "No runs found")
					return nil
				}
				table := renderTable(
					[]string{"ID", "Name", "Phase", "Progress", "Created"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
				)
				fmt.Fprint(stdout, table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&phases, "phase", nil, "Filter by phase (repeatable, e.g. --phase failed)")
	return cmd
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a run with its dataset, model, and recent activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			return ctx.withAccess(func(access runaccess.Access) error {
				detail, err := access.Describe(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, detail)
				}
				stdout := cmd.OutOrStdout()
				for _, line := range renderRunDetail(detail, shouldColorize(stdout)) {
					fmt.Fprintln(stdout, line)
				}
				return nil
			})
		},
	}
}

func newRunsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Retry failed runs (all failed runs when no ids are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseRunID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return ctx.withAccess(func(access runaccess.Access) error {
				var updated int64
				var err error
				if len(ids) == 0 {
					updated, err = access.RetryAll(cmd.Context())
				} else {
					updated, err = access.Retry(cmd.Context(), ids)
				}
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, map[string]int64{"updated": updated})
				}
				if updated == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No failed runs to retry")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retrying %d run(s)\n", updated)
				return nil
			})
		},
	}
}

func newRunsClearCommand(ctx *commandContext) *cobra.Command {
	var completedOnly bool
	var failedOnly bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove runs from the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if completedOnly && failedOnly {
				return fmt.Errorf("--completed and --failed are mutually exclusive")
			}
			return ctx.withAccess(func(access runaccess.Access) error {
				var removed int64
				var err error
				var what string
				switch {
				case completedOnly:
					removed, err = access.ClearCompleted(cmd.Context())
					what = "completed run(s)"
				case failedOnly:
					removed, err = access.ClearFailed(cmd.Context())
					what = "failed run(s)"
				default:
					removed, err = access.ClearAll(cmd.Context())
					what = "run(s)"
				}
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, map[string]int64{"removed": removed})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d %s\n", removed, what)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&completedOnly, "completed", false, "Remove only completed runs")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Remove only failed runs")
	return cmd
}

func newRunsResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-stuck",
		Short: "Reset claimed runs back to their pending phase",
		Long: "Reset-stuck returns runs stuck in a processing phase (training, evaluating)\n" +
			"to the matching pending phase so the scheduler picks them up again. Use after\n" +
			"a daemon crash left runs claimed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(func(access runaccess.Access) error {
				updated, err := access.ResetStuck(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, map[string]int64{"updated": updated})
				}
				if updated == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No stuck runs found")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d run(s)\n", updated)
				return nil
			})
		},
	}
}

func newRunsReconcileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Repair failed runs whose dataset already landed in storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(func(access runaccess.Access) error {
				repaired, err := access.Reconcile(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, map[string][]int64{"repaired": repaired})
				}
				stdout := cmd.OutOrStdout()
				if len(repaired) == 0 {
					fmt.Fprintln(stdout, "No runs needed repair")
					return nil
				}
				labels := make([]string, 0, len(repaired))
				for _, id := range repaired {
					labels = append(labels, strconv.FormatInt(id, 10))
				}
				fmt.Fprintf(stdout, "Repaired %d run(s): %s\n", len(repaired), strings.Join(labels, ", "))
				return nil
			})
		},
	}
}

func newRunsHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show aggregate run counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(func(access runaccess.Access) error {
				summary, err := access.RunHealth(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, summary)
				}
				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				for _, line := range renderSectionHeader("Run Health", colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, renderStatusLine("Total", statusInfo, fmt.Sprintf("%d", summary.Total), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Pending", statusInfo, fmt.Sprintf("%d", summary.Pending), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Processing", statusInfo, fmt.Sprintf("%d", summary.Processing), colorize))
				failedKind := statusOK
				if summary.Failed > 0 {
					failedKind = statusWarn
				}
				fmt.Fprintln(stdout, renderStatusLine("Failed", failedKind, fmt.Sprintf("%d", summary.Failed), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Completed", statusOK, fmt.Sprintf("%d", summary.Completed), colorize))
				return nil
			})
		},
	}
}

func parseRunID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run id %q", arg)
	}
	return id, nil
}
