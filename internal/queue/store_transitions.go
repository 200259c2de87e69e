package queue

import (
	"context"
	"fmt"
	"time"
)

// ResetStuckProcessing returns every claimed record to the pending phase its
// claim was taken from, regardless of heartbeat age. Operator surface for
// recovering from a daemon that died without releasing its claims.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE records
         SET phase = CASE phase
             WHEN ? THEN ?
             WHEN ? THEN ?
             ELSE phase
         END,
             progress_stage = 'Reset from stuck processing',
             progress_percent = 0, progress_message = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE phase IN (?, ?)`,
		PhaseTraining, PhasePendingTraining,
		PhaseEvaluating, PhasePendingEvaluation,
		time.Now().UTC().Format(time.RFC3339Nano),
		PhaseTraining,
		PhaseEvaluating,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck records: %w", err)
	}
	return res.RowsAffected()
}

// UpdateHeartbeat updates the last heartbeat timestamp for a claimed record.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE records SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleProcessing returns claimed records whose heartbeat predates
// cutoff to the pending phase their claim was taken from. With no phases the
// sweep covers every claim phase; otherwise only the listed ones.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time, phases ...Phase) (int64, error) {
	targets := make([]any, 0, len(processingPhases))
	if len(phases) == 0 {
		for _, transition := range stageRollbackTransitions {
			targets = append(targets, transition.from)
		}
	} else {
		for _, phase := range phases {
			if IsProcessingPhase(phase) {
				targets = append(targets, phase)
			}
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	args := []any{
		PhaseTraining, PhasePendingTraining,
		PhaseEvaluating, PhasePendingEvaluation,
		now.Format(time.RFC3339Nano),
	}
	args = append(args, targets...)
	args = append(args, cutoff.UTC().Format(time.RFC3339Nano))

	query := `UPDATE records
        SET phase = CASE phase
            WHEN ? THEN ?
            WHEN ? THEN ?
            ELSE phase
        END,
            progress_stage = 'Reclaimed from stale processing',
            progress_percent = 0, progress_message = NULL, last_heartbeat = NULL, updated_at = ?
        WHERE phase IN (` + makePlaceholders(len(targets)) + `) AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`

	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale records: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves failed records back to the start of the pipeline for
// reprocessing, clearing the stored error. Stages that already produced
// their output skip ahead when they find it.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE records
            SET phase = ?, progress_stage = 'Retry requested', progress_percent = 0,
                progress_message = NULL, error_message = NULL, warning = NULL, updated_at = ?
            WHERE phase = ?`,
			PhasePendingDataset,
			time.Now().UTC().Format(time.RFC3339Nano),
			PhaseFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed records: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, PhasePendingDataset, time.Now().UTC().Format(time.RFC3339Nano))
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE records
        SET phase = ?, progress_stage = 'Retry requested', progress_percent = 0,
            progress_message = NULL, error_message = NULL, warning = NULL, updated_at = ?
        WHERE id IN (` + placeholders + `) AND phase = '` + string(PhaseFailed) + `'`
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected records: %w", err)
	}
	return res.RowsAffected()
}
