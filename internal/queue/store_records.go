package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// NewRecord inserts a record awaiting dataset acquisition.
func (s *Store) NewRecord(ctx context.Context, name, owner, intent string) (*Record, error) {
	if name == "" {
		return nil, errors.New("record name is required")
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO records (
            name, owner, intent, phase, created_at, updated_at,
            progress_stage, progress_percent, progress_message
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		name,
		nullableString(owner),
		nullableString(intent),
		PhasePendingDataset,
		timestamp,
		timestamp,
		nil,
		0.0,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a record by identifier. Returns (nil, nil) when absent.
func (s *Store) GetByID(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return record, nil
}

// Update persists changes to an existing record.
func (s *Store) Update(ctx context.Context, record *Record) error {
	if record == nil {
		return errors.New("record is nil")
	}
	record.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE records
         SET name = ?, owner = ?, intent = ?, phase = ?, plan_json = ?,
             error_message = ?, warning = ?, updated_at = ?,
             progress_stage = ?, progress_percent = ?, progress_message = ?,
             run_log_path = ?, last_heartbeat = ?
         WHERE id = ?`,
		record.Name,
		nullableString(record.Owner),
		nullableString(record.Intent),
		record.Phase,
		nullableString(record.PlanJSON),
		nullableString(record.ErrorMessage),
		nullableString(record.Warning),
		record.UpdatedAt.Format(time.RFC3339Nano),
		nullableString(record.ProgressStage),
		record.ProgressPercent,
		nullableString(record.ProgressMessage),
		nullableString(record.RunLogPath),
		nullableTime(record.LastHeartbeat),
		record.ID,
	); err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return nil
}

// UpdateProgress persists only the progress fields, leaving the phase and
// heartbeat columns untouched so a concurrent heartbeat loop is not clobbered.
func (s *Store) UpdateProgress(ctx context.Context, record *Record) error {
	if record == nil {
		return errors.New("record is nil")
	}
	record.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE records
         SET progress_stage = ?, progress_percent = ?, progress_message = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(record.ProgressStage),
		record.ProgressPercent,
		nullableString(record.ProgressMessage),
		record.UpdatedAt.Format(time.RFC3339Nano),
		record.ID,
	); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// RecordsByPhase returns records matching any of the given phases ordered by
// creation time.
func (s *Store) RecordsByPhase(ctx context.Context, phases ...Phase) ([]*Record, error) {
	if len(phases) == 0 {
		return nil, nil
	}
	placeholders := makePlaceholders(len(phases))
	args := make([]any, len(phases))
	for i, phase := range phases {
		args[i] = phase
	}

	query := `SELECT ` + recordColumns + ` FROM records WHERE phase IN (` + placeholders + `) ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query by phase: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// List returns records filtered by phase set (or all records when no phase is provided).
func (s *Store) List(ctx context.Context, phases ...Phase) ([]*Record, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + recordColumns + ` FROM records`
	orderClause := ` ORDER BY created_at`

	if len(phases) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(phases))
		args := make([]any, len(phases))
		for i, phase := range phases {
			args[i] = phase
		}
		query := baseQuery + ` WHERE phase IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Remove deletes a record by identifier.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearCompleted removes only completed records.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM records WHERE phase = ?`, PhaseCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes only failed records.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM records WHERE phase = ?`, PhaseFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all records.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM records`)
	if err != nil {
		return 0, fmt.Errorf("clear records: %w", err)
	}
	return res.RowsAffected()
}
