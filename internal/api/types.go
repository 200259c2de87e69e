package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Run describes a training run in a transport-friendly format.
type Run struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Owner         string          `json:"owner,omitempty"`
	Intent        string          `json:"intent"`
	Phase         string          `json:"phase"`
	Lane          string          `json:"lane"`
	Progress      Progress        `json:"progress"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	Warning       string          `json:"warning,omitempty"`
	RunLogPath    string          `json:"runLogPath,omitempty"`
	Plan          json.RawMessage `json:"plan,omitempty"`
	CreatedAt     string          `json:"createdAt,omitempty"`
	UpdatedAt     string          `json:"updatedAt,omitempty"`
	LastHeartbeat string          `json:"lastHeartbeat,omitempty"`
}

// Progress captures stage progress information for a run.
type Progress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// Dataset describes the acquired dataset attached to a run.
type Dataset struct {
	Name       string `json:"name,omitempty"`
	SourceRef  string `json:"sourceRef,omitempty"`
	StorageRef string `json:"storageRef"`
	SizeBytes  int64  `json:"sizeBytes"`
	ClassCount int    `json:"classCount"`
	CreatedAt  string `json:"createdAt,omitempty"`
}

// ModelArtifact describes the trained model attached to a run.
type ModelArtifact struct {
	StorageRef   string          `json:"storageRef"`
	Architecture string          `json:"architecture,omitempty"`
	Metrics      json.RawMessage `json:"metrics,omitempty"`
	ExportRef    string          `json:"exportRef,omitempty"`
	CreatedAt    string          `json:"createdAt,omitempty"`
	UpdatedAt    string          `json:"updatedAt,omitempty"`
}

// AuditLine is one row of a run's audit tail.
type AuditLine struct {
	Stage     string `json:"stage"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// RunDetail aggregates a run with its durable outputs and audit tail.
type RunDetail struct {
	Run     Run            `json:"run"`
	Dataset *Dataset       `json:"dataset,omitempty"`
	Model   *ModelArtifact `json:"model,omitempty"`
	Audit   []AuditLine    `json:"audit,omitempty"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	QueueStats  map[string]int `json:"queueStats"`
	LastError   string         `json:"lastError,omitempty"`
	LastRun     *Run           `json:"lastRun,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
	InFlight    []int64        `json:"inFlight,omitempty"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name      string `json:"name"`
	Command   string `json:"command"`
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
}

// PreflightResult mirrors one readiness check result.
type PreflightResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	StoreDBPath  string             `json:"storeDbPath"`
	LockFilePath string             `json:"lockFilePath"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Dependencies []DependencyStatus `json:"dependencies"`
	Preflight    []PreflightResult  `json:"preflight,omitempty"`
}

// RunStatsResponse provides a normalized run-count payload.
type RunStatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// RunListResponse wraps a collection of runs for API responses.
type RunListResponse struct {
	Runs []Run `json:"runs"`
}
