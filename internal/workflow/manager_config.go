package workflow

import (
	"loom/internal/queue"
	"loom/internal/stageexec"
)

// ConfigureStages registers the concrete stage handlers the workflow will run.
// Dataset acquisition declares no in-progress phase; the in-flight set is its
// only duplicate-dispatch guard. Training and evaluation claim their records
// so a crashed process can be detected by heartbeat and reclaimed.
func (m *Manager) ConfigureStages(set StageSet) {
	acquisition := &laneState{kind: laneAcquisition, name: "acquisition"}
	processing := &laneState{kind: laneProcessing, name: "processing"}

	if set.Acquisition != nil {
		acquisition.stages = append(acquisition.stages, stageexec.Definition{
			Name:         "acquisition",
			Precondition: queue.PhasePendingDataset,
			Success:      queue.PhasePendingTraining,
			Handler:      set.Acquisition,
		})
	}
	if set.Training != nil {
		processing.stages = append(processing.stages, stageexec.Definition{
			Name:         "training",
			Precondition: queue.PhasePendingTraining,
			InProgress:   queue.PhaseTraining,
			Success:      queue.PhasePendingEvaluation,
			Handler:      set.Training,
		})
	}
	if set.Evaluation != nil {
		processing.stages = append(processing.stages, stageexec.Definition{
			Name:         "evaluation",
			Precondition: queue.PhasePendingEvaluation,
			InProgress:   queue.PhaseEvaluating,
			Success:      queue.PhaseCompleted,
			Handler:      set.Evaluation,
		})
	}

	lanes := make(map[laneKind]*laneState)
	order := make([]laneKind, 0, 2)
	if len(acquisition.stages) > 0 {
		acquisition.finalize()
		lanes[acquisition.kind] = acquisition
		order = append(order, acquisition.kind)
	}
	if len(processing.stages) > 0 {
		processing.finalize()
		lanes[processing.kind] = processing
		order = append(order, processing.kind)
	}

	m.mu.Lock()
	m.lanes = lanes
	m.laneOrder = order
	m.mu.Unlock()
}
