package workflow

import (
	"context"
	"log/slog"
	"time"

	"loom/internal/logging"
	"loom/internal/queue"
)

// HeartbeatMonitor reclaims claimed records whose owner stopped refreshing
// the heartbeat. The heartbeat writes themselves happen inside the stage
// executor while a claimed body runs; this side only handles the recovery.
type HeartbeatMonitor struct {
	store   *queue.Store
	timeout time.Duration
}

// NewHeartbeatMonitor creates a monitor with the given staleness timeout.
// A non-positive timeout disables reclamation.
func NewHeartbeatMonitor(store *queue.Store, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{store: store, timeout: timeout}
}

// ReclaimStale returns records in the given claim phases whose heartbeat is
// older than the timeout to their pending phase, making them eligible for
// redispatch. The rerun short-circuits on whatever durable output the dead
// claim left behind.
func (h *HeartbeatMonitor) ReclaimStale(ctx context.Context, logger *slog.Logger, phases []queue.Phase) error {
	if h.timeout <= 0 || len(phases) == 0 {
		return nil
	}
	cutoff := time.Now().Add(-h.timeout)
	reclaimed, err := h.store.ReclaimStaleProcessing(ctx, cutoff, phases...)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		logger.Info("reclaimed stale runs",
			logging.Int64("count", reclaimed),
			logging.String(logging.FieldEventType, "heartbeat_reclaimed"),
		)
	}
	return nil
}
