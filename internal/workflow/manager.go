package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"loom/internal/audit"
	"loom/internal/config"
	"loom/internal/notifications"
	"loom/internal/queue"
	"loom/internal/services/retry"
)

// Manager coordinates record processing across the configured lanes. All
// state is struct-scoped; multiple managers can coexist in tests.
type Manager struct {
	cfg               *config.Config
	store             *queue.Store
	logger            *slog.Logger
	notifier          notifications.Service
	recorder          *audit.Recorder
	pollInterval      time.Duration
	errorRetry        time.Duration
	heartbeatInterval time.Duration
	statusWrite       retry.Policy

	reclaimer *HeartbeatMonitor
	runLogs   *RunLogger
	inflight  *inflightSet

	lanes     map[laneKind]*laneState
	laneOrder []laneKind

	preflightOnce sync.Once

	mu         sync.RWMutex
	running    bool
	cancel     context.CancelFunc
	loopWG     sync.WaitGroup
	dispatchWG sync.WaitGroup
	lastErr    error
	lastRecord *queue.Record
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithPollInterval overrides the configured poll interval (used in tests).
func WithPollInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		if interval > 0 {
			m.pollInterval = interval
		}
	}
}

// WithErrorRetryInterval overrides the pause after a failed poll cycle.
func WithErrorRetryInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		if interval > 0 {
			m.errorRetry = interval
		}
	}
}

// NewManager constructs a workflow manager with the default notifier.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Manager {
	return NewManagerWithOptions(cfg, store, logger, notifications.NewService(cfg))
}

// NewManagerWithNotifier constructs a workflow manager with a custom notifier
// (used in tests).
func NewManagerWithNotifier(cfg *config.Config, store *queue.Store, logger *slog.Logger, notifier notifications.Service) *Manager {
	return NewManagerWithOptions(cfg, store, logger, notifier)
}

// NewManagerWithOptions constructs a workflow manager with full configuration.
func NewManagerWithOptions(cfg *config.Config, store *queue.Store, logger *slog.Logger, notifier notifications.Service, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:               cfg,
		store:             store,
		logger:            logger,
		notifier:          notifier,
		recorder:          audit.NewRecorder(store, logger),
		pollInterval:      time.Duration(cfg.Workflow.PollInterval) * time.Second,
		errorRetry:        time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		heartbeatInterval: time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second,
		statusWrite: retry.Policy{
			MaxAttempts:  cfg.Retry.StatusWrite.MaxAttempts,
			InitialDelay: time.Duration(cfg.Retry.StatusWrite.Delay) * time.Second,
			Multiplier:   1.0,
		},
		reclaimer: NewHeartbeatMonitor(store, time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second),
		runLogs:   NewRunLogger(cfg),
		inflight:  newInflightSet(),
		lanes:     make(map[laneKind]*laneState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}
