package queue

import (
	"database/sql"
	"errors"
	"time"
)

const recordColumns = "id, name, owner, intent, phase, plan_json, error_message, warning, progress_stage, progress_percent, progress_message, run_log_path, created_at, updated_at, last_heartbeat"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		id               int64
		name             sql.NullString
		owner            sql.NullString
		intent           sql.NullString
		phaseStr         string
		planJSON         sql.NullString
		errorMessage     sql.NullString
		warning          sql.NullString
		progressStage    sql.NullString
		progressPercent  sql.NullFloat64
		progressMessage  sql.NullString
		runLogPath       sql.NullString
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
		lastHeartbeatRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&name,
		&owner,
		&intent,
		&phaseStr,
		&planJSON,
		&errorMessage,
		&warning,
		&progressStage,
		&progressPercent,
		&progressMessage,
		&runLogPath,
		&createdRaw,
		&updatedRaw,
		&lastHeartbeatRaw,
	); err != nil {
		return nil, err
	}

	record := &Record{
		ID:              id,
		Name:            name.String,
		Owner:           owner.String,
		Intent:          intent.String,
		Phase:           Phase(phaseStr),
		PlanJSON:        planJSON.String,
		ErrorMessage:    errorMessage.String,
		Warning:         warning.String,
		ProgressStage:   progressStage.String,
		ProgressPercent: progressPercent.Float64,
		ProgressMessage: progressMessage.String,
		RunLogPath:      runLogPath.String,
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		record.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		record.UpdatedAt = updated
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			record.LastHeartbeat = &heartbeat
		}
	}
	return record, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	v := value.UTC().Format(time.RFC3339Nano)
	return v
}

func nullableID(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
