package ipc

import "loom/internal/api"

// Run mirrors the API run DTO for IPC callers.
type Run = api.Run

// RunDetail mirrors the API run detail DTO.
type RunDetail = api.RunDetail

// StageHealth describes readiness of a workflow stage.
type StageHealth = api.StageHealth

// DependencyStatus describes availability of an external dependency.
type DependencyStatus = api.DependencyStatus

// StartRequest triggers daemon workflow startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops daemon workflow.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon/workflow status information.
type StatusResponse struct {
	Running      bool               `json:"running"`
	RunStats     map[string]int     `json:"run_stats"`
	LastError    string             `json:"last_error"`
	LastRun      *Run               `json:"last_run"`
	InFlight     []int64            `json:"in_flight"`
	LockPath     string             `json:"lock_path"`
	StoreDBPath  string             `json:"store_db_path"`
	StageHealth  []StageHealth      `json:"stage_health"`
	Dependencies []DependencyStatus `json:"dependencies"`
	PID          int                `json:"pid"`
}

// SubmitRequest plans a new run from an intent.
type SubmitRequest struct {
	Intent string `json:"intent"`
	Name   string `json:"name"`
	Owner  string `json:"owner"`
}

// SubmitResponse returns the created run.
type SubmitResponse struct {
	Run Run `json:"run"`
}

// TriggerRequest runs one stage synchronously for a record.
type TriggerRequest struct {
	Stage string `json:"stage"`
	ID    int64  `json:"id"`
}

// TriggerResponse reports the record's phase after the stage ran.
type TriggerResponse struct {
	Phase string `json:"phase"`
}

// RunListRequest filters run listing by phase.
type RunListRequest struct {
	Phases []string `json:"phases"`
}

// RunListResponse contains run entries.
type RunListResponse struct {
	Runs []Run `json:"runs"`
}

// RunDescribeRequest fetches a single run by id.
type RunDescribeRequest struct {
	ID int64 `json:"id"`
}

// RunDescribeResponse contains a run with dataset, model, and audit tail.
type RunDescribeResponse struct {
	Detail RunDetail `json:"detail"`
}

// RunClearRequest removes all runs.
type RunClearRequest struct{}

// RunClearResponse reports number of removed runs.
type RunClearResponse struct {
	Removed int64 `json:"removed"`
}

// RunClearCompletedRequest removes completed runs.
type RunClearCompletedRequest struct{}

// RunClearCompletedResponse reports number of removed runs.
type RunClearCompletedResponse struct {
	Removed int64 `json:"removed"`
}

// RunClearFailedRequest removes failed runs.
type RunClearFailedRequest struct{}

// RunClearFailedResponse reports number of removed runs.
type RunClearFailedResponse struct {
	Removed int64 `json:"removed"`
}

// RunResetRequest resets claimed runs back to their pending phase.
type RunResetRequest struct{}

// RunResetResponse reports number of runs reset.
type RunResetResponse struct {
	Updated int64 `json:"updated"`
}

// RunRetryRequest retries failed runs. Empty list means all failed runs.
type RunRetryRequest struct {
	IDs []int64 `json:"ids"`
}

// RunRetryResponse reports number of retried runs.
type RunRetryResponse struct {
	Updated int64 `json:"updated"`
}

// ReconcileRequest repairs failed runs that already have a dataset.
type ReconcileRequest struct{}

// ReconcileResponse reports the repaired run ids.
type ReconcileResponse struct {
	Repaired []int64 `json:"repaired"`
}

// LogTailRequest fetches log lines based on offset and follow semantics.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"wait_millis"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// RunHealthRequest fetches aggregate diagnostics.
type RunHealthRequest struct{}

// RunHealthResponse reports record-count health information.
type RunHealthResponse struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Completed  int `json:"completed"`
}

// DatabaseHealthRequest fetches detailed database diagnostics.
type DatabaseHealthRequest struct{}

// DatabaseHealthResponse reports database health information.
type DatabaseHealthResponse struct {
	DBPath           string   `json:"db_path"`
	DatabaseExists   bool     `json:"database_exists"`
	DatabaseReadable bool     `json:"database_readable"`
	SchemaVersion    string   `json:"schema_version"`
	TableExists      bool     `json:"table_exists"`
	ColumnsPresent   []string `json:"columns_present"`
	MissingColumns   []string `json:"missing_columns"`
	IntegrityCheck   bool     `json:"integrity_check"`
	TotalRecords     int      `json:"total_records"`
	Error            string   `json:"error"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
