package workflow

import (
	"log/slog"

	"loom/internal/queue"
	"loom/internal/stage"
	"loom/internal/stageexec"
)

// StageSet bundles the concrete pipeline handlers the manager orchestrates.
type StageSet struct {
	Acquisition stage.Handler
	Training    stage.Handler
	Evaluation  stage.Handler
}

type laneKind string

const (
	laneAcquisition laneKind = "acquisition"
	laneProcessing  laneKind = "processing"
)

// laneState groups the stage definitions one poll loop services. startPhases
// are the phases the loop queries; claimPhases are the in-progress phases the
// loop reclaims when their heartbeat goes stale.
type laneState struct {
	kind         laneKind
	name         string
	stages       []stageexec.Definition
	startPhases  []queue.Phase
	claimPhases  []queue.Phase
	stageByStart map[queue.Phase]stageexec.Definition
	logger       *slog.Logger
	runReclaimer bool
}

func (l *laneState) finalize() {
	if l == nil {
		return
	}
	l.stageByStart = make(map[queue.Phase]stageexec.Definition, len(l.stages))
	l.startPhases = make([]queue.Phase, 0, len(l.stages))
	seenClaims := make(map[queue.Phase]struct{})
	for _, def := range l.stages {
		l.stageByStart[def.Precondition] = def
		l.startPhases = append(l.startPhases, def.Precondition)
		if def.InProgress != "" {
			if _, ok := seenClaims[def.InProgress]; !ok {
				l.claimPhases = append(l.claimPhases, def.InProgress)
				seenClaims[def.InProgress] = struct{}{}
			}
		}
	}
	l.runReclaimer = len(l.claimPhases) > 0
}

func (l *laneState) stageForPhase(phase queue.Phase) (stageexec.Definition, bool) {
	if l == nil {
		return stageexec.Definition{}, false
	}
	def, ok := l.stageByStart[phase]
	return def, ok
}
