package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const manifestColumns = "id, record_id, name, source_ref, storage_ref, size_bytes, class_count, created_at"

// InsertManifest records the dataset acquired for a record. The manifests
// table holds at most one row per record; a second insert fails on the unique
// constraint, which callers treat as "already acquired".
func (s *Store) InsertManifest(ctx context.Context, manifest *Manifest) error {
	if manifest == nil {
		return errors.New("manifest is nil")
	}
	if manifest.RecordID == 0 {
		return errors.New("manifest record id is required")
	}
	if manifest.StorageRef == "" {
		return errors.New("manifest storage ref is required")
	}
	manifest.CreatedAt = time.Now().UTC()

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO manifests (record_id, name, source_ref, storage_ref, size_bytes, class_count, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		manifest.RecordID,
		manifest.Name,
		nullableString(manifest.SourceRef),
		manifest.StorageRef,
		manifest.SizeBytes,
		manifest.ClassCount,
		manifest.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert manifest: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	manifest.ID = id
	return nil
}

// ManifestForRecord fetches the dataset manifest for a record.
// Returns (nil, nil) when none has been written.
func (s *Store) ManifestForRecord(ctx context.Context, recordID int64) (*Manifest, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+manifestColumns+` FROM manifests WHERE record_id = ?`,
		recordID,
	)
	manifest, err := scanManifest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get manifest: %w", err)
	}
	return manifest, nil
}

func scanManifest(scanner interface{ Scan(dest ...any) error }) (*Manifest, error) {
	var (
		id         int64
		recordID   int64
		name       sql.NullString
		sourceRef  sql.NullString
		storageRef string
		sizeBytes  sql.NullInt64
		classCount sql.NullInt64
		createdRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&recordID,
		&name,
		&sourceRef,
		&storageRef,
		&sizeBytes,
		&classCount,
		&createdRaw,
	); err != nil {
		return nil, err
	}

	manifest := &Manifest{
		ID:         id,
		RecordID:   recordID,
		Name:       name.String,
		SourceRef:  sourceRef.String,
		StorageRef: storageRef,
		SizeBytes:  sizeBytes.Int64,
		ClassCount: int(classCount.Int64),
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		manifest.CreatedAt = created
	}
	return manifest, nil
}
