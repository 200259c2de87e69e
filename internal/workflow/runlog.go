package workflow

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/queue"
)

// RunLogger manages the dedicated log file each run accumulates across its
// stages. The path is assigned on first dispatch and persisted on the record
// so the CLI can tail it later.
type RunLogger struct {
	baseDir string
	cfg     *config.Config
}

// NewRunLogger creates a run logger writing under <log_dir>/runs.
func NewRunLogger(cfg *config.Config) *RunLogger {
	dir := ""
	if cfg != nil && cfg.Paths.LogDir != "" {
		dir = filepath.Join(cfg.Paths.LogDir, "runs")
	}
	return &RunLogger{baseDir: dir, cfg: cfg}
}

// Ensure prepares the log directory and file path for a record. The boolean
// reports whether the path was newly assigned and needs persisting.
func (r *RunLogger) Ensure(record *queue.Record) (string, bool, error) {
	if record == nil {
		return "", false, fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.baseDir) == "" {
		return "", false, fmt.Errorf("run log directory not configured")
	}
	created := false
	if strings.TrimSpace(record.RunLogPath) == "" {
		record.RunLogPath = filepath.Join(r.baseDir, r.filename(record))
		created = true
	}
	if err := os.MkdirAll(filepath.Dir(record.RunLogPath), 0o755); err != nil {
		return "", false, fmt.Errorf("ensure run log directory: %w", err)
	}
	return record.RunLogPath, created, nil
}

// CreateHandler builds a slog.Handler appending to the given path.
func (r *RunLogger) CreateHandler(path string) (slog.Handler, error) {
	level := "info"
	format := "json"
	if r.cfg != nil {
		if strings.TrimSpace(r.cfg.Logging.Level) != "" {
			level = r.cfg.Logging.Level
		}
		if strings.TrimSpace(r.cfg.Logging.Format) != "" {
			format = r.cfg.Logging.Format
		}
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           format,
		OutputPaths:      []string{path},
		ErrorOutputPaths: []string{path},
	})
	if err != nil {
		return nil, err
	}
	return logger.Handler(), nil
}

func (r *RunLogger) filename(record *queue.Record) string {
	timestamp := time.Now().UTC().Format("20060102T150405")
	slug := sanitizeSlug(record.Name)
	if slug == "" {
		slug = "unnamed"
	}
	return fmt.Sprintf("%s-run-%d-%s.log", timestamp, record.ID, slug)
}

func sanitizeSlug(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	var builder strings.Builder
	builder.Grow(len(value))
	lastDash := false
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
			lastDash = false
		case r >= 'A' && r <= 'Z':
			builder.WriteRune(unicode.ToLower(r))
			lastDash = false
		default:
			if !lastDash {
				builder.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(builder.String(), "-")
	return slug
}
