package logging

import (
	"context"
	"log/slog"

	"loom/internal/services"
)

// Shared structured-field names. Using the constants keeps console output,
// JSON output, and log queries consistent across services.
const (
	FieldComponent     = "component"
	FieldRecordID      = "record_id"
	FieldStage         = "stage"
	FieldLane          = "lane"
	FieldCorrelationID = "correlation_id"
	FieldEventType     = "event_type"
	FieldErrorKind     = "error_kind"
	FieldErrorHint     = "error_hint"
	FieldImpact        = "impact"
	FieldAlert         = "alert"
	FieldDuration      = "duration"
	FieldAttempt       = "attempt"
	FieldOperation     = "operation"
	FieldTarget        = "target"
)

// ContextFields extracts workflow identity fields from ctx as attrs.
func ContextFields(ctx context.Context) []Attr {
	if ctx == nil {
		return nil
	}
	var attrs []Attr
	if recordID, ok := services.RecordIDFromContext(ctx); ok {
		attrs = append(attrs, Int64(FieldRecordID, recordID))
	}
	if stage, ok := services.StageFromContext(ctx); ok && stage != "" {
		attrs = append(attrs, String(FieldStage, stage))
	}
	if lane, ok := services.LaneFromContext(ctx); ok && lane != "" {
		attrs = append(attrs, String(FieldLane, lane))
	}
	if requestID, ok := services.RequestIDFromContext(ctx); ok && requestID != "" {
		attrs = append(attrs, String(FieldCorrelationID, requestID))
	}
	return attrs
}

// WithContext returns a logger pre-tagged with whatever workflow identity
// the context carries. The logger is returned unchanged when the context
// has nothing to add.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return NewNop()
	}
	attrs := ContextFields(ctx)
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(Args(attrs...)...)
}
