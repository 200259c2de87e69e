package workflow

import (
	"context"
	"fmt"
	"strings"

	"loom/internal/logging"
	"loom/internal/preflight"
)

// runPreflightChecks validates external readiness once before the lanes take
// their first poll. Failures are recorded and logged, not fatal: the stage
// health checks and per-stage errors carry the same information with more
// context once processing starts.
func (m *Manager) runPreflightChecks(ctx context.Context) {
	logger := m.logger
	if logger == nil {
		logger = logging.NewNop()
	}

	results := preflight.RunAll(ctx, m.cfg)
	var failures []string
	for _, r := range results {
		if r.Passed {
			logger.Info("preflight check passed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
				logging.String(logging.FieldEventType, "preflight_passed"),
			)
			continue
		}
		logger.Error("preflight check failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldEventType, "preflight_failed"),
			logging.String(logging.FieldErrorHint, "fix the reported issue and restart the daemon"),
		)
		failures = append(failures, fmt.Sprintf("%s: %s", r.Name, r.Detail))
	}

	if len(failures) > 0 {
		m.setLastError(fmt.Errorf("preflight checks failed: %s", strings.Join(failures, "; ")))
	}
}
