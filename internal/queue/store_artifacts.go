package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const artifactColumns = "id, record_id, storage_ref, architecture, metrics_json, extra_json, export_ref, created_at, updated_at"

// InsertArtifact records the trained model for a record. At most one row per
// record; a second insert fails on the unique constraint, which callers treat
// as "already trained".
func (s *Store) InsertArtifact(ctx context.Context, artifact *Artifact) error {
	if artifact == nil {
		return errors.New("artifact is nil")
	}
	if artifact.RecordID == 0 {
		return errors.New("artifact record id is required")
	}
	if artifact.StorageRef == "" {
		return errors.New("artifact storage ref is required")
	}
	now := time.Now().UTC()
	artifact.CreatedAt = now
	artifact.UpdatedAt = now

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO artifacts (record_id, storage_ref, architecture, metrics_json, extra_json, export_ref, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		artifact.RecordID,
		artifact.StorageRef,
		nullableString(artifact.Architecture),
		nullableString(artifact.MetricsJSON),
		nullableString(artifact.ExtraJSON),
		nullableString(artifact.ExportRef),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	artifact.ID = id
	return nil
}

// ArtifactForRecord fetches the model artifact for a record.
// Returns (nil, nil) when none has been written.
func (s *Store) ArtifactForRecord(ctx context.Context, recordID int64) (*Artifact, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE record_id = ?`,
		recordID,
	)
	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return artifact, nil
}

// AttachEvaluation writes evaluation metrics and the export ref onto an
// existing artifact. These are the only artifact columns evaluation may
// touch; the stored model ref and architecture stay as training wrote them.
func (s *Store) AttachEvaluation(ctx context.Context, recordID int64, metricsJSON, exportRef string) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE artifacts SET metrics_json = ?, export_ref = ?, updated_at = ? WHERE record_id = ?`,
		nullableString(metricsJSON),
		nullableString(exportRef),
		time.Now().UTC().Format(time.RFC3339Nano),
		recordID,
	)
	if err != nil {
		return fmt.Errorf("attach evaluation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("attach evaluation: no artifact for record %d", recordID)
	}
	return nil
}

func scanArtifact(scanner interface{ Scan(dest ...any) error }) (*Artifact, error) {
	var (
		id           int64
		recordID     int64
		storageRef   string
		architecture sql.NullString
		metricsJSON  sql.NullString
		extraJSON    sql.NullString
		exportRef    sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&recordID,
		&storageRef,
		&architecture,
		&metricsJSON,
		&extraJSON,
		&exportRef,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	artifact := &Artifact{
		ID:           id,
		RecordID:     recordID,
		StorageRef:   storageRef,
		Architecture: architecture.String,
		MetricsJSON:  metricsJSON.String,
		ExtraJSON:    extraJSON.String,
		ExportRef:    exportRef.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		artifact.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		artifact.UpdatedAt = updated
	}
	return artifact, nil
}
