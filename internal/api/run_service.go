package api

import (
	"context"

	"loom/internal/queue"
)

// auditTailLimit caps the audit lines attached to a run description.
const auditTailLimit = 25

// RunReader abstracts store interactions needed for read-only API queries.
type RunReader interface {
	List(ctx context.Context, phases ...queue.Phase) ([]*queue.Record, error)
	Stats(ctx context.Context) (map[queue.Phase]int, error)
	GetByID(ctx context.Context, id int64) (*queue.Record, error)
	ManifestForRecord(ctx context.Context, recordID int64) (*queue.Manifest, error)
	ArtifactForRecord(ctx context.Context, recordID int64) (*queue.Artifact, error)
	RecordLogs(ctx context.Context, recordID int64, limit int) ([]queue.AuditEntry, error)
}

// RunService exposes read-only run operations returning API DTOs.
type RunService struct {
	store RunReader
}

// NewRunService constructs a RunService around the provided reader.
func NewRunService(store RunReader) *RunService {
	if store == nil {
		return nil
	}
	return &RunService{store: store}
}

// List returns runs filtered by phase.
func (s *RunService) List(ctx context.Context, phases ...queue.Phase) ([]Run, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	records, err := s.store.List(ctx, phases...)
	if err != nil {
		return nil, err
	}
	return FromRecords(records), nil
}

// Stats returns run summary counts keyed by phase string.
func (s *RunService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergePhaseStats(stats), nil
}

// Describe fetches a single run with its dataset, model, and audit tail.
// Returns (nil, nil) when the run does not exist.
func (s *RunService) Describe(ctx context.Context, id int64) (*RunDetail, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	record, err := s.store.GetByID(ctx, id)
	if err != nil || record == nil {
		return nil, err
	}
	detail := &RunDetail{Run: FromRecord(record)}

	manifest, err := s.store.ManifestForRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	detail.Dataset = FromManifest(manifest)

	artifact, err := s.store.ArtifactForRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	detail.Model = FromArtifact(artifact)

	entries, err := s.store.RecordLogs(ctx, id, auditTailLimit)
	if err != nil {
		return nil, err
	}
	detail.Audit = FromAuditEntries(entries)
	return detail, nil
}
