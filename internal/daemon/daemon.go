package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"loom/internal/api"
	"loom/internal/config"
	"loom/internal/deps"
	"loom/internal/logging"
	"loom/internal/notifications"
	"loom/internal/planner"
	"loom/internal/queue"
	"loom/internal/reconcile"
	"loom/internal/services/llm"
	"loom/internal/workflow"
)

// Daemon owns the processing services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager
	planner  *planner.Planner
	runs     *api.RunService
	logPath  string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Workflow     workflow.StatusSummary
	StoreDBPath  string
	LockFilePath string
	Dependencies []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "loomd.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		workflow: wf,
		planner:  planner.New(store, plannerCompleter(cfg), nil, logger),
		runs:     api.NewRunService(store),
		logPath:  filepath.Join(cfg.Paths.LogDir, "loom.log"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// plannerCompleter selects the LLM completer when the planner is configured;
// a nil completer falls back to the keyword heuristic.
func plannerCompleter(cfg *config.Config) planner.Completer {
	if !cfg.Planner.Enabled {
		return nil
	}
	llmCfg := cfg.PlannerLLM()
	if llmCfg.APIKey == "" {
		return nil
	}
	return llm.NewClient(llm.Config{
		APIKey:         llmCfg.APIKey,
		BaseURL:        llmCfg.BaseURL,
		Model:          llmCfg.Model,
		Referer:        llmCfg.Referer,
		Title:          llmCfg.Title,
		TimeoutSeconds: llmCfg.TimeoutSeconds,
	})
}

// Start launches the workflow manager and acquires the daemon lock.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another loom daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.workflow.Start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start workflow: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("loom daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("loom daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Submit plans a run from an intent and enqueues it for dataset acquisition.
func (d *Daemon) Submit(ctx context.Context, intent, name, owner string) (*queue.Record, error) {
	record, err := d.planner.Submit(ctx, intent, name, owner)
	if err != nil {
		return nil, err
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.Publish(ctx, notifications.EventRunSubmitted, notifications.Payload{
		"runName": record.Name,
	}); err != nil {
		d.logger.Debug("run submitted notification failed", logging.Error(err))
	}
	return record, nil
}

// TriggerStage runs one stage synchronously for a record.
func (d *Daemon) TriggerStage(ctx context.Context, stage string, id int64) error {
	return d.workflow.RunStage(ctx, stage, id)
}

// StageForPhase resolves which stage a record's current phase feeds.
func (d *Daemon) StageForPhase(phase queue.Phase) (string, bool) {
	return d.workflow.StageForPhase(phase)
}

// ListRuns returns runs filtered by optional phases.
func (d *Daemon) ListRuns(ctx context.Context, phases []queue.Phase) ([]api.Run, error) {
	return d.runs.List(ctx, phases...)
}

// DescribeRun returns a run with its dataset, model, and audit tail.
// Returns (nil, nil) when the run does not exist.
func (d *Daemon) DescribeRun(ctx context.Context, id int64) (*api.RunDetail, error) {
	return d.runs.Describe(ctx, id)
}

// ClearRuns removes all run records.
func (d *Daemon) ClearRuns(ctx context.Context) (int64, error) {
	return d.store.Clear(ctx)
}

// ClearCompleted removes only completed run records.
func (d *Daemon) ClearCompleted(ctx context.Context) (int64, error) {
	return d.store.ClearCompleted(ctx)
}

// ClearFailed removes only failed run records.
func (d *Daemon) ClearFailed(ctx context.Context) (int64, error) {
	return d.store.ClearFailed(ctx)
}

// ResetStuck returns claimed records to their pending phase regardless of
// heartbeat age.
func (d *Daemon) ResetStuck(ctx context.Context) (int64, error) {
	return d.store.ResetStuckProcessing(ctx)
}

// RetryFailed resets failed runs (optionally a subset) back to the start of
// the pipeline.
func (d *Daemon) RetryFailed(ctx context.Context, ids []int64) (int64, error) {
	return d.store.RetryFailed(ctx, ids...)
}

// Reconcile returns failed runs that already have a dataset manifest to
// pending_training.
func (d *Daemon) Reconcile(ctx context.Context) ([]int64, error) {
	return reconcile.New(d.store, d.logger).RepairFailed(ctx)
}

// RunHealth returns aggregate record diagnostics.
func (d *Daemon) RunHealth(ctx context.Context) (queue.HealthSummary, error) {
	return d.store.Health(ctx)
}

// DatabaseHealth returns detailed database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	return d.store.CheckHealth(ctx)
}

// TestNotification sends a test message using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		Workflow:     d.workflow.Status(ctx),
		StoreDBPath:  d.cfg.Database.Path,
		LockFilePath: d.lockPath,
		Dependencies: deps.CheckBinaries([]deps.Requirement{{
			Name:        "Trainer",
			Command:     d.cfg.TrainerBinary(),
			Description: "model training and evaluation command",
		}}),
	}
}
