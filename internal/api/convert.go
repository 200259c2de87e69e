package api

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"loom/internal/queue"
	"loom/internal/stage"
	"loom/internal/workflow"
)

// FromRecord converts a queue record to its API representation.
func FromRecord(record *queue.Record) Run {
	if record == nil {
		return Run{}
	}

	dto := Run{
		ID:     record.ID,
		Name:   record.Name,
		Owner:  record.Owner,
		Intent: record.Intent,
		Phase:  string(record.Phase),
		Lane:   string(queue.LaneForPhase(record.Phase)),
		Progress: Progress{
			Stage:   record.ProgressStage,
			Percent: record.ProgressPercent,
			Message: record.ProgressMessage,
		},
		ErrorMessage: record.ErrorMessage,
		Warning:      record.Warning,
		RunLogPath:   record.RunLogPath,
	}
	if raw := strings.TrimSpace(record.PlanJSON); raw != "" {
		dto.Plan = json.RawMessage(raw)
	}
	dto.CreatedAt = FormatTime(record.CreatedAt)
	dto.UpdatedAt = FormatTime(record.UpdatedAt)
	if record.LastHeartbeat != nil {
		dto.LastHeartbeat = FormatTime(*record.LastHeartbeat)
	}
	return dto
}

// FromRecords converts a slice of queue records into API DTOs.
func FromRecords(records []*queue.Record) []Run {
	if len(records) == 0 {
		return nil
	}
	out := make([]Run, 0, len(records))
	for _, record := range records {
		out = append(out, FromRecord(record))
	}
	return out
}

// FromManifest converts a dataset manifest to its API representation.
func FromManifest(manifest *queue.Manifest) *Dataset {
	if manifest == nil {
		return nil
	}
	return &Dataset{
		Name:       manifest.Name,
		SourceRef:  manifest.SourceRef,
		StorageRef: manifest.StorageRef,
		SizeBytes:  manifest.SizeBytes,
		ClassCount: manifest.ClassCount,
		CreatedAt:  FormatTime(manifest.CreatedAt),
	}
}

// FromArtifact converts a model artifact to its API representation.
func FromArtifact(artifact *queue.Artifact) *ModelArtifact {
	if artifact == nil {
		return nil
	}
	dto := &ModelArtifact{
		StorageRef:   artifact.StorageRef,
		Architecture: artifact.Architecture,
		ExportRef:    artifact.ExportRef,
		CreatedAt:    FormatTime(artifact.CreatedAt),
		UpdatedAt:    FormatTime(artifact.UpdatedAt),
	}
	if raw := strings.TrimSpace(artifact.MetricsJSON); raw != "" {
		dto.Metrics = json.RawMessage(raw)
	}
	return dto
}

// FromAuditEntries converts audit rows into API lines.
func FromAuditEntries(entries []queue.AuditEntry) []AuditLine {
	if len(entries) == 0 {
		return nil
	}
	out := make([]AuditLine, 0, len(entries))
	for _, entry := range entries {
		out = append(out, AuditLine{
			Stage:     entry.Stage,
			Severity:  entry.Severity,
			Message:   entry.Message,
			CreatedAt: FormatTime(entry.CreatedAt),
		})
	}
	return out
}

// FromStatusSummary converts a workflow status summary to an API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	wf := WorkflowStatus{
		Running:     summary.Running,
		QueueStats:  MergePhaseStats(summary.QueueStats),
		StageHealth: StageHealthSlice(summary.StageHealth),
		InFlight:    summary.InFlight,
	}
	if summary.LastError != "" {
		wf.LastError = summary.LastError
	}
	if summary.LastRecord != nil {
		last := FromRecord(summary.LastRecord)
		wf.LastRun = &last
	}
	return wf
}

// MergePhaseStats produces a string-keyed representation of phase counts.
func MergePhaseStats(stats map[queue.Phase]int) map[string]int {
	out := make(map[string]int, len(stats))
	for phase, count := range stats {
		out[string(phase)] = count
	}
	return out
}

// StageHealthSlice converts a stage health map into a deterministic slice.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]StageHealth, 0, len(names))
	for _, name := range names {
		h := health[name]
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
