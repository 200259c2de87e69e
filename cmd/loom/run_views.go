package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"loom/internal/api"
)

func buildRunStatusRows(stats map[string]int) [][]string {
	if len(stats) == 0 {
		return nil
	}
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{formatPhaseLabel(key), fmt.Sprintf("%d", stats[key])})
	}
	return rows
}

func buildRunListRows(runs []api.Run) [][]string {
	if len(runs) == 0 {
		return nil
	}
	sorted := make([]api.Run, len(runs))
	copy(sorted, runs)

	sort.Slice(sorted, func(i, j int) bool {
		ti := parseRunTime(sorted[i].CreatedAt)
		tj := parseRunTime(sorted[j].CreatedAt)
		if ti.Equal(tj) {
			return sorted[i].ID > sorted[j].ID
		}
		return ti.After(tj)
	})

	rows := make([][]string, 0, len(sorted))
	for _, run := range sorted {
		name := strings.TrimSpace(run.Name)
		if name == "" {
			name = "Unnamed"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", run.ID),
			name,
			formatPhaseLabel(run.Phase),
			formatProgress(run.Progress),
			formatDisplayTime(run.CreatedAt),
		})
	}
	return rows
}

func formatPhaseLabel(phase string) string {
	phase = strings.TrimSpace(phase)
	if phase == "" {
		return ""
	}
	parts := strings.Split(phase, "_")
	for i, part := range parts {
		lower := strings.ToLower(part)
		if lower == "" {
			continue
		}
		parts[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(parts, " ")
}

func formatProgress(progress api.Progress) string {
	stage := strings.TrimSpace(progress.Stage)
	if stage == "" {
		return "-"
	}
	if progress.Percent > 0 {
		return fmt.Sprintf("%s (%.0f%%)", stage, progress.Percent)
	}
	return stage
}

func formatDisplayTime(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC().Format("2006-01-02 15:04")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC().Format("2006-01-02 15:04")
	}
	return value
}

func parseRunTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

func renderRunDetail(detail *api.RunDetail, colorize bool) []string {
	if detail == nil {
		return nil
	}
	run := detail.Run
	lines := make([]string, 0, 16)
	lines = append(lines, fmt.Sprintf("Run #%d: %s", run.ID, strings.TrimSpace(run.Name)))
	if owner := strings.TrimSpace(run.Owner); owner != "" {
		lines = append(lines, fmt.Sprintf("Owner: %s", owner))
	}
	lines = append(lines, fmt.Sprintf("Intent: %s", strings.TrimSpace(run.Intent)))
	lines = append(lines, fmt.Sprintf("Phase: %s (%s lane)", formatPhaseLabel(run.Phase), run.Lane))
	if progress := formatProgress(run.Progress); progress != "-" {
		line := fmt.Sprintf("Progress: %s", progress)
		if message := strings.TrimSpace(run.Progress.Message); message != "" {
			line += " - " + message
		}
		lines = append(lines, line)
	}
	if run.ErrorMessage != "" {
		lines = append(lines, renderStatusLine("Error", statusError, run.ErrorMessage, colorize))
	}
	if run.Warning != "" {
		lines = append(lines, renderStatusLine("Warning", statusWarn, run.Warning, colorize))
	}
	if run.RunLogPath != "" {
		lines = append(lines, fmt.Sprintf("Run log: %s", run.RunLogPath))
	}
	if created := formatDisplayTime(run.CreatedAt); created != "" {
		lines = append(lines, fmt.Sprintf("Created: %s", created))
	}

	if detail.Dataset != nil {
		lines = append(lines, "", "Dataset:")
		if detail.Dataset.Name != "" {
			lines = append(lines, fmt.Sprintf("  Name: %s", detail.Dataset.Name))
		}
		lines = append(lines, fmt.Sprintf("  Storage: %s", detail.Dataset.StorageRef))
		if detail.Dataset.SizeBytes > 0 {
			lines = append(lines, fmt.Sprintf("  Size: %s", formatByteSize(detail.Dataset.SizeBytes)))
		}
		if detail.Dataset.ClassCount > 0 {
			lines = append(lines, fmt.Sprintf("  Classes: %d", detail.Dataset.ClassCount))
		}
	}

	if detail.Model != nil {
		lines = append(lines, "", "Model:")
		if detail.Model.Architecture != "" {
			lines = append(lines, fmt.Sprintf("  Architecture: %s", detail.Model.Architecture))
		}
		lines = append(lines, fmt.Sprintf("  Storage: %s", detail.Model.StorageRef))
		if detail.Model.ExportRef != "" {
			lines = append(lines, fmt.Sprintf("  Export: %s", detail.Model.ExportRef))
		}
		if len(detail.Model.Metrics) > 0 {
			lines = append(lines, fmt.Sprintf("  Metrics: %s", string(detail.Model.Metrics)))
		}
	}

	if len(detail.Audit) > 0 {
		lines = append(lines, "", "Recent activity:")
		for _, entry := range detail.Audit {
			ts := formatDisplayTime(entry.CreatedAt)
			severity := strings.ToUpper(strings.TrimSpace(entry.Severity))
			if severity == "" {
				severity = "INFO"
			}
			lines = append(lines, fmt.Sprintf("  %s %s [%s] %s", ts, severity, entry.Stage, entry.Message))
		}
	}

	return lines
}

func formatByteSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
