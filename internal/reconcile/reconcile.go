// Package reconcile repairs failed runs whose dataset work already finished.
//
// A run that failed during training or evaluation still owns its dataset
// manifest; re-running acquisition for it would be wasted work. The sweep
// returns every such record to pending_training with the error cleared, and
// leaves records that failed before acquisition alone (retry restarts those
// from the top). The sweep only runs when an operator asks for it.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"loom/internal/audit"
	"loom/internal/logging"
	"loom/internal/queue"
)

// Reconciler repairs failed records against the durable outputs they left.
type Reconciler struct {
	store    *queue.Store
	recorder *audit.Recorder
	logger   *slog.Logger
}

// New wires a reconciler to the record store.
func New(store *queue.Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reconciler{
		store:    store,
		recorder: audit.NewRecorder(store, logger),
		logger:   logger,
	}
}

// RepairFailed returns every failed record that already has a dataset
// manifest to pending_training and reports the repaired IDs. Records without
// a manifest are skipped; a read or write error aborts the sweep so the
// operator sees a partial repair rather than a silent one.
func (r *Reconciler) RepairFailed(ctx context.Context) ([]int64, error) {
	failed, err := r.store.RecordsByPhase(ctx, queue.PhaseFailed)
	if err != nil {
		return nil, fmt.Errorf("list failed records: %w", err)
	}

	var repaired []int64
	for _, record := range failed {
		manifest, err := r.store.ManifestForRecord(ctx, record.ID)
		if err != nil {
			return repaired, fmt.Errorf("load manifest for record %d: %w", record.ID, err)
		}
		if manifest == nil {
			continue
		}

		record.Phase = queue.PhasePendingTraining
		record.LastHeartbeat = nil
		record.Warning = ""
		record.InitProgress("Reconciled", "Dataset present; returned to training")
		if err := r.store.Update(ctx, record); err != nil {
			return repaired, fmt.Errorf("repair record %d: %w", record.ID, err)
		}

		r.logger.Info("repaired failed run",
			logging.Int64(logging.FieldRecordID, record.ID),
			logging.String("dataset", manifest.StorageRef),
			logging.String(logging.FieldEventType, "reconcile_repaired"),
		)
		r.recorder.Info(ctx, record.ID, "reconcile",
			fmt.Sprintf("returned to pending_training; dataset %s already acquired", manifest.StorageRef))
		repaired = append(repaired, record.ID)
	}
	return repaired, nil
}
