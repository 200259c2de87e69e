package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"loom/internal/queue"
	"loom/internal/services"
	"loom/internal/stageexec"
)

// RunStage executes the named stage synchronously for one record. Triggers
// share the in-flight set with the polling lanes, so a trigger never races a
// poll cycle for the same record; the caller gets the stage outcome directly.
func (m *Manager) RunStage(ctx context.Context, stageName string, recordID int64) error {
	lane, def, ok := m.lookupStage(stageName)
	if !ok {
		return services.Wrap(services.ErrValidation, "workflow", "trigger",
			fmt.Sprintf("unknown stage %q", stageName), nil)
	}
	if recordID <= 0 {
		return services.Wrap(services.ErrValidation, def.Name, "trigger",
			fmt.Sprintf("invalid record id %d", recordID), nil)
	}

	record, err := m.store.GetByID(ctx, recordID)
	if err != nil {
		return services.Wrap(services.ErrTransient, def.Name, "trigger",
			fmt.Sprintf("load record %d", recordID), err)
	}
	if record == nil {
		return services.Wrap(services.ErrNotFound, def.Name, "trigger",
			fmt.Sprintf("record %d does not exist", recordID), nil)
	}

	if !m.inflight.TryAdd(recordID) {
		return services.Wrap(services.ErrInvalidPrecondition, def.Name, "trigger",
			fmt.Sprintf("record %d already has a live dispatch", recordID), nil)
	}
	defer m.inflight.Remove(recordID)

	triggerCtx := withDispatchContext(ctx, lane, def.Name, recordID, uuid.NewString())
	logger := m.dispatchLogger(triggerCtx, lane, record)

	executor := stageexec.New(m.store, m.statusWrite,
		stageexec.WithRecorder(m.recorder),
		stageexec.WithLogger(logger),
		stageexec.WithHeartbeatInterval(m.heartbeatInterval),
	)
	runErr := executor.Run(triggerCtx, def, recordID)
	if runErr == nil {
		m.refreshLastRecord(triggerCtx, recordID)
	}
	return runErr
}

// StageNames returns the configured stage names in lane order.
func (m *Manager) StageNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for _, kind := range m.laneOrder {
		lane := m.lanes[kind]
		if lane == nil {
			continue
		}
		for _, def := range lane.stages {
			names = append(names, def.Name)
		}
	}
	return names
}

// StageForPhase maps a record phase to the stage definition that starts from
// it, so callers can trigger "whatever comes next" for a record.
func (m *Manager) StageForPhase(phase queue.Phase) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, kind := range m.laneOrder {
		lane := m.lanes[kind]
		if lane == nil {
			continue
		}
		if def, ok := lane.stageForPhase(phase); ok {
			return def.Name, true
		}
	}
	return "", false
}

func (m *Manager) lookupStage(name string) (*laneState, stageexec.Definition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, kind := range m.laneOrder {
		lane := m.lanes[kind]
		if lane == nil {
			continue
		}
		for _, def := range lane.stages {
			if def.Name == name {
				return lane, def, true
			}
		}
	}
	return nil, stageexec.Definition{}, false
}
