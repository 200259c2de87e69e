package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const auditColumns = "id, record_id, stage, severity, message, created_at"

const defaultAuditTail = 20

// InsertLog appends an audit entry. This is a best-effort sink: pipeline
// callers are allowed to ignore the returned error, and nothing reads the
// log back for control flow.
func (s *Store) InsertLog(ctx context.Context, entry *AuditEntry) error {
	if entry == nil {
		return fmt.Errorf("audit entry is nil")
	}
	if entry.Message == "" {
		return fmt.Errorf("audit entry message is required")
	}
	if entry.Severity == "" {
		entry.Severity = "info"
	}
	entry.CreatedAt = time.Now().UTC()

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO audit_log (record_id, stage, severity, message, created_at)
         VALUES (?, ?, ?, ?, ?)`,
		nullableID(entry.RecordID),
		nullableString(entry.Stage),
		entry.Severity,
		entry.Message,
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

// RecentLogs returns the newest audit entries across all records, newest
// first. A non-positive limit applies the default tail length.
func (s *Store) RecentLogs(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = defaultAuditTail
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+auditColumns+` FROM audit_log ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent audit entries: %w", err)
	}
	defer rows.Close()
	return collectAuditEntries(rows)
}

// RecordLogs returns the newest audit entries for one record, newest first.
// A non-positive limit applies the default tail length.
func (s *Store) RecordLogs(ctx context.Context, recordID int64, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = defaultAuditTail
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+auditColumns+` FROM audit_log WHERE record_id = ? ORDER BY id DESC LIMIT ?`,
		recordID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("record audit entries: %w", err)
	}
	defer rows.Close()
	return collectAuditEntries(rows)
}

func collectAuditEntries(rows *sql.Rows) ([]AuditEntry, error) {
	var entries []AuditEntry
	for rows.Next() {
		var (
			entry      AuditEntry
			recordID   sql.NullInt64
			stage      sql.NullString
			createdRaw sql.NullString
		)
		if err := rows.Scan(&entry.ID, &recordID, &stage, &entry.Severity, &entry.Message, &createdRaw); err != nil {
			return nil, err
		}
		entry.RecordID = recordID.Int64
		entry.Stage = stage.String
		if created, err := parseTimeString(createdRaw.String); err == nil {
			entry.CreatedAt = created
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
