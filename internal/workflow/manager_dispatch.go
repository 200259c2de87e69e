package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"loom/internal/logging"
	"loom/internal/notifications"
	"loom/internal/queue"
	"loom/internal/services"
	"loom/internal/stageexec"
)

// dispatchRecord launches one record through one stage as an independent
// goroutine. The record enters the in-flight set before the goroutine starts
// and leaves when the dispatch returns, whatever the outcome; that ordering
// is the at-most-once guarantee across overlapping poll cycles. Returns
// false when the record already has a live dispatch.
func (m *Manager) dispatchRecord(ctx context.Context, lane *laneState, def stageexec.Definition, record *queue.Record) bool {
	if !m.inflight.TryAdd(record.ID) {
		return false
	}

	requestID := uuid.NewString()
	dispatchCtx := withDispatchContext(ctx, lane, def.Name, record.ID, requestID)
	logger := m.dispatchLogger(dispatchCtx, lane, record)

	executor := stageexec.New(m.store, m.statusWrite,
		stageexec.WithRecorder(m.recorder),
		stageexec.WithLogger(logger),
		stageexec.WithHeartbeatInterval(m.heartbeatInterval),
	)

	m.dispatchWG.Add(1)
	go func() {
		started := time.Now()
		defer m.dispatchWG.Done()
		defer m.inflight.Remove(record.ID)
		err := executor.Run(dispatchCtx, def, record.ID)
		m.finishDispatch(dispatchCtx, logger, def, record.ID, started, err)
	}()
	return true
}

// finishDispatch classifies the dispatch outcome. Precondition and not-found
// results are expected noise from overlapping polls; anything else already
// failed the record inside the stage executor, so the manager's job is
// bookkeeping and the failure notification.
func (m *Manager) finishDispatch(ctx context.Context, logger *slog.Logger, def stageexec.Definition, recordID int64, started time.Time, err error) {
	switch {
	case err == nil:
		m.refreshLastRecord(ctx, recordID)
	case errors.Is(err, context.Canceled):
		logger.Debug("stage dispatch interrupted by shutdown",
			logging.Duration(logging.FieldDuration, time.Since(started)),
		)
	case errors.Is(err, services.ErrInvalidPrecondition):
		logger.Debug("duplicate dispatch skipped", logging.Error(err))
	case errors.Is(err, services.ErrNotFound):
		logger.Warn("record vanished before dispatch", logging.Error(err))
	default:
		m.setLastError(err)
		m.refreshLastRecord(ctx, recordID)
		m.notifyRunFailure(ctx, logger, recordID, err)
	}
}

func (m *Manager) notifyRunFailure(ctx context.Context, logger *slog.Logger, recordID int64, stageErr error) {
	if m.notifier == nil {
		return
	}
	runName := ""
	if record, err := m.store.GetByID(ctx, recordID); err == nil && record != nil {
		runName = record.Name
	}
	err := m.notifier.Publish(ctx, notifications.EventRunFailed, notifications.Payload{
		"runName": runName,
		"error":   stageErr,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not send failure notification")
		} else {
			logger.Debug("run failure notification failed", logging.Error(err))
		}
	}
}

func (m *Manager) refreshLastRecord(ctx context.Context, recordID int64) {
	record, err := m.store.GetByID(ctx, recordID)
	if err != nil || record == nil {
		return
	}
	m.setLastRecord(record)
}
