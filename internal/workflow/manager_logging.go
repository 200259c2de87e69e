package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/services"
)

func (m *Manager) laneLogger(lane *laneState) *slog.Logger {
	if m.logger == nil {
		return logging.NewNop()
	}
	name := lane.name
	if name == "" {
		name = string(lane.kind)
	}
	return m.logger.With(
		logging.String(logging.FieldComponent, fmt.Sprintf("workflow-%s-runner", name)),
		logging.String(logging.FieldLane, name),
	)
}

// dispatchLogger routes a dispatch's output to the record's run log file,
// creating and persisting the path on first use. One file covers the whole
// run: later stages append to the file acquisition opened.
func (m *Manager) dispatchLogger(ctx context.Context, lane *laneState, record *queue.Record) *slog.Logger {
	base := lane.logger
	if base == nil {
		base = m.logger
	}
	if base == nil {
		base = logging.NewNop()
	}

	path, created, err := m.runLogs.Ensure(record)
	if err != nil {
		base.Warn("run log unavailable", logging.Error(err))
	} else {
		handler, handlerErr := m.runLogs.CreateHandler(path)
		if handlerErr != nil {
			base.Warn("failed to create run log writer", logging.Error(handlerErr))
		} else {
			base = slog.New(handler).With(logging.Int64(logging.FieldRecordID, record.ID))
		}
		if created {
			if err := m.store.Update(ctx, record); err != nil {
				base.Warn("failed to persist run log path", logging.Error(err))
			}
		}
	}

	return logging.WithContext(ctx, base)
}

func withDispatchContext(ctx context.Context, lane *laneState, stageName string, recordID int64, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = services.WithRecordID(ctx, recordID)
	if stageName != "" {
		ctx = services.WithStage(ctx, stageName)
	}
	if lane != nil {
		laneLabel := strings.TrimSpace(lane.name)
		if laneLabel == "" {
			laneLabel = string(lane.kind)
		}
		ctx = services.WithLane(ctx, laneLabel)
	}
	if requestID != "" {
		ctx = services.WithRequestID(ctx, requestID)
	}
	return ctx
}
