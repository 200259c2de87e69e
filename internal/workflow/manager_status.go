package workflow

import (
	"context"

	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool
	LastError   string
	LastRecord  *queue.Record
	QueueStats  map[queue.Phase]int
	StageHealth map[string]stage.Health
	InFlight    []int64
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	lastRecord := m.lastRecord
	handlers := make(map[string]stage.Handler)
	for _, kind := range m.laneOrder {
		lane := m.lanes[kind]
		if lane == nil {
			continue
		}
		for _, def := range lane.stages {
			handlers[def.Name] = def.Handler
		}
	}
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil && m.logger != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}

	health := make(map[string]stage.Health, len(handlers))
	for name, handler := range handlers {
		if handler == nil {
			continue
		}
		health[name] = handler.HealthCheck(ctx)
	}

	summary := StatusSummary{
		Running:     running,
		QueueStats:  stats,
		StageHealth: health,
		InFlight:    m.inflight.Snapshot(),
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastRecord != nil {
		copied := *lastRecord
		summary.LastRecord = &copied
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastRecord(record *queue.Record) {
	m.mu.Lock()
	if record != nil {
		copied := *record
		m.lastRecord = &copied
	} else {
		m.lastRecord = nil
	}
	m.mu.Unlock()
}
