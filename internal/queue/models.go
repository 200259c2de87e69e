package queue

import (
	"strings"
	"time"
)

// Phase represents the lifecycle of a pipeline record.
type Phase string

const (
	PhasePendingDataset    Phase = "pending_dataset"
	PhasePendingTraining   Phase = "pending_training"
	PhaseTraining          Phase = "training"
	PhasePendingEvaluation Phase = "pending_evaluation"
	PhaseEvaluating        Phase = "evaluating"
	PhaseCompleted         Phase = "completed"
	PhaseFailed            Phase = "failed"
)

var allPhases = []Phase{
	PhasePendingDataset,
	PhasePendingTraining,
	PhaseTraining,
	PhasePendingEvaluation,
	PhaseEvaluating,
	PhaseCompleted,
	PhaseFailed,
}

var phaseSet = func() map[Phase]struct{} {
	set := make(map[Phase]struct{}, len(allPhases))
	for _, phase := range allPhases {
		set[phase] = struct{}{}
	}
	return set
}()

// processingPhases are the claim phases written while a stage goroutine owns
// a record. Dataset acquisition claims nothing; its only duplicate guard is
// the manager's in-flight set.
var processingPhases = map[Phase]struct{}{
	PhaseTraining:   {},
	PhaseEvaluating: {},
}

type phaseTransition struct {
	from Phase
	to   Phase
}

// stageRollbackTransitions return a claimed record to the pending phase the
// claim was taken from, used when a claim owner dies without finishing.
var stageRollbackTransitions = []phaseTransition{
	{from: PhaseTraining, to: PhasePendingTraining},
	{from: PhaseEvaluating, to: PhasePendingEvaluation},
}

// DatabaseHealth captures diagnostic information about the record database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    string
	TableExists      bool
	ColumnsPresent   []string
	MissingColumns   []string
	IntegrityCheck   bool
	TotalRecords     int
	Error            string
}

// HealthSummary describes aggregated record counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Completed  int
}

// Record represents a training run persisted in SQLite. Phase is the single
// source of truth for scheduling; no other field gates dispatch.
type Record struct {
	ID              int64
	Name            string
	Owner           string
	Intent          string
	Phase           Phase
	PlanJSON        string
	ErrorMessage    string
	Warning         string
	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string
	RunLogPath      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastHeartbeat   *time.Time
}

// Manifest describes the dataset acquired for a record. Written once by the
// acquisition stage and immutable afterwards.
type Manifest struct {
	ID         int64
	RecordID   int64
	Name       string
	SourceRef  string
	StorageRef string
	SizeBytes  int64
	ClassCount int
	CreatedAt  time.Time
}

// Artifact describes the trained model for a record. Created by the training
// stage; evaluation may only attach metrics and the export ref afterwards.
type Artifact struct {
	ID           int64
	RecordID     int64
	StorageRef   string
	Architecture string
	MetricsJSON  string
	ExtraJSON    string
	ExportRef    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasMetrics reports whether evaluation results have been attached.
func (a *Artifact) HasMetrics() bool {
	return a != nil && strings.TrimSpace(a.MetricsJSON) != ""
}

// AuditEntry is one row of the append-only audit log. RecordID is zero for
// daemon-level entries. The pipeline never reads entries back for control
// flow; the status surfaces display a recent tail.
type AuditEntry struct {
	ID        int64
	RecordID  int64
	Stage     string
	Severity  string
	Message   string
	CreatedAt time.Time
}

// AllPhases returns the ordered list of known phases.
func AllPhases() []Phase {
	cp := make([]Phase, len(allPhases))
	copy(cp, allPhases)
	return cp
}

// ParsePhase converts a string into a known Phase.
func ParsePhase(value string) (Phase, bool) {
	normalized := Phase(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := phaseSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a phase can never transition again.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// IsProcessing returns true when the record is claimed by a running stage.
func (r Record) IsProcessing() bool {
	_, ok := processingPhases[r.Phase]
	return ok
}

// IsProcessingPhase reports whether a phase reflects a claimed record.
func IsProcessingPhase(phase Phase) bool {
	_, ok := processingPhases[phase]
	return ok
}

// InitProgress resets progress fields at the start of a stage. The error
// message is cleared so a retried record does not display a stale failure.
func (r *Record) InitProgress(stage, message string) {
	r.ProgressStage = stage
	r.ProgressMessage = message
	r.ProgressPercent = 0
	r.ErrorMessage = ""
}

// SetProgress updates all three progress fields together.
func (r *Record) SetProgress(stage, message string, percent float64) {
	r.ProgressStage = stage
	r.ProgressMessage = message
	r.ProgressPercent = percent
}

// SetProgressComplete sets progress to 100% with the given stage and message.
func (r *Record) SetProgressComplete(stage, message string) {
	r.SetProgress(stage, message, 100)
}

// SetFailed marks the record as failed with the given error message.
// Clears the heartbeat and sets progress fields appropriately.
func (r *Record) SetFailed(message string) {
	r.Phase = PhaseFailed
	r.ErrorMessage = message
	r.ProgressPercent = 0
	r.ProgressMessage = message
	r.LastHeartbeat = nil
	r.ProgressStage = "Failed"
}

// StageKey returns the normalized stage identifier used in API/CLI presentation.
func (p Phase) StageKey() string {
	switch p {
	case "":
		return ""
	case PhasePendingDataset:
		return "planned"
	case PhaseCompleted:
		return "final"
	case PhasePendingTraining,
		PhaseTraining,
		PhasePendingEvaluation,
		PhaseEvaluating,
		PhaseFailed:
		return string(p)
	default:
		return ""
	}
}

// Lane partitions the workflow into the dataset acquisition loop and the
// compute-bound processing loop.
type Lane string

const (
	LaneAcquisition Lane = "acquisition"
	LaneProcessing  Lane = "processing"
)

// LaneForPhase maps a phase to the lane that services it, for observability.
func LaneForPhase(phase Phase) Lane {
	if phase == PhasePendingDataset {
		return LaneAcquisition
	}
	return LaneProcessing
}
