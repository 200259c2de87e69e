// Package audit appends pipeline events to the record store's audit log.
//
// The log is a best-effort sink: Record drops failed inserts after a debug
// line so a full disk or a locked database can never stall a stage.
// Nothing reads the log back for control flow; the status surfaces show a
// recent tail.
package audit

import (
	"context"
	"log/slog"

	"loom/internal/logging"
	"loom/internal/queue"
)

const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Recorder writes append-only audit entries for records and daemon events.
type Recorder struct {
	store  *queue.Store
	logger *slog.Logger
}

// NewRecorder wires a recorder to the store. A nil logger discards the
// debug line for dropped entries.
func NewRecorder(store *queue.Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Recorder{store: store, logger: logger}
}

// Record appends one entry. A recordID of zero marks a daemon-level entry.
func (r *Recorder) Record(ctx context.Context, recordID int64, stage, severity, message string) {
	if r == nil || r.store == nil {
		return
	}
	entry := &queue.AuditEntry{
		RecordID: recordID,
		Stage:    stage,
		Severity: severity,
		Message:  message,
	}
	if err := r.store.InsertLog(ctx, entry); err != nil {
		r.logger.Debug("audit entry dropped",
			logging.Int64(logging.FieldRecordID, recordID),
			logging.String(logging.FieldStage, stage),
			logging.Error(err),
		)
	}
}

// Info appends an info entry.
func (r *Recorder) Info(ctx context.Context, recordID int64, stage, message string) {
	r.Record(ctx, recordID, stage, SeverityInfo, message)
}

// Warn appends a warning entry.
func (r *Recorder) Warn(ctx context.Context, recordID int64, stage, message string) {
	r.Record(ctx, recordID, stage, SeverityWarning, message)
}

// Error appends an error entry.
func (r *Recorder) Error(ctx context.Context, recordID int64, stage, message string) {
	r.Record(ctx, recordID, stage, SeverityError, message)
}
