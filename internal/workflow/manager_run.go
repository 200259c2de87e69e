package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"loom/internal/logging"
)

// Start begins background processing. Preflight checks run once before the
// lanes take their first poll.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	lanes := make([]*laneState, 0, len(m.laneOrder))
	for _, kind := range m.laneOrder {
		lane := m.lanes[kind]
		if lane == nil || len(lane.startPhases) == 0 {
			continue
		}
		lanes = append(lanes, lane)
	}
	if len(lanes) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	for _, lane := range lanes {
		lane.logger = m.laneLogger(lane)
	}
	m.mu.Unlock()

	ready := make(chan struct{})
	m.loopWG.Add(1)
	go func() {
		defer m.loopWG.Done()
		defer close(ready)
		m.preflightOnce.Do(func() { m.runPreflightChecks(runCtx) })
	}()

	m.loopWG.Add(len(lanes))
	for _, lane := range lanes {
		go m.runLane(runCtx, lane, ready)
	}

	return nil
}

// Stop terminates polling and waits for the lane loops and every in-flight
// dispatch to return. Dispatches observe the cancellation through their
// context; claimed records interrupted mid-body are reclaimed on the next
// start via the heartbeat timeout.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.loopWG.Wait()
	m.dispatchWG.Wait()
}

func (m *Manager) runLane(ctx context.Context, lane *laneState, ready <-chan struct{}) {
	defer m.loopWG.Done()
	logger := lane.logger
	if logger == nil {
		logger = m.logger
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	select {
	case <-ctx.Done():
		return
	case <-ready:
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if lane.runReclaimer {
			if err := m.reclaimer.ReclaimStale(ctx, logger, lane.claimPhases); err != nil {
				logger.Warn("reclaim stale claims failed; stuck runs may remain",
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
					logging.String(logging.FieldErrorHint, "check record database access"),
				)
			}
		}

		records, err := m.store.RecordsByPhase(ctx, lane.startPhases...)
		if err != nil {
			m.handlePollError(ctx, logger, err)
			continue
		}
		for _, record := range records {
			if ctx.Err() != nil {
				return
			}
			def, ok := lane.stageForPhase(record.Phase)
			if !ok {
				continue
			}
			m.dispatchRecord(ctx, lane, def, record)
		}

		m.waitForNextCycle(ctx)
	}
}

func (m *Manager) handlePollError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logger.Error("failed to poll record store",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_poll_failed"),
		logging.String(logging.FieldErrorHint, "check record database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(m.errorRetry):
	}
}

func (m *Manager) waitForNextCycle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}
