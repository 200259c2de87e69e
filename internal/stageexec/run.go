// Package stageexec dispatches one record through one pipeline stage and owns
// the phase transition semantics around the stage body: the precondition
// check, the optimistic claim, failure handling with a durable-output check,
// and the retried success-phase write.
package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"loom/internal/audit"
	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/services"
	"loom/internal/services/retry"
	"loom/internal/stage"
)

// Definition binds a stage handler to the phases it operates between.
// InProgress is empty for stages that claim nothing; dataset acquisition
// relies on the manager's in-flight set as its only duplicate guard.
type Definition struct {
	Name         string
	Precondition queue.Phase
	InProgress   queue.Phase
	Success      queue.Phase
	Handler      stage.Handler
}

func (d Definition) claims() bool { return d.InProgress != "" }

// Executor runs stage definitions against the record store.
type Executor struct {
	store        *queue.Store
	recorder     *audit.Recorder
	logger       *slog.Logger
	statusPolicy retry.Policy
	statusSleep  func(time.Duration)
	heartbeat    time.Duration
}

// Option customizes an Executor.
type Option func(*Executor)

// WithRecorder attaches the audit sink.
func WithRecorder(recorder *audit.Recorder) Option {
	return func(e *Executor) { e.recorder = recorder }
}

// WithLogger sets the base logger used for stage dispatches.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithHeartbeatInterval enables heartbeat writes at the given cadence while a
// claimed stage body runs. Zero disables the loop.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(e *Executor) { e.heartbeat = interval }
}

// WithStatusSleeper overrides the sleep between success-phase write retries
// (useful for tests).
func WithStatusSleeper(sleeper func(time.Duration)) Option {
	return func(e *Executor) { e.statusSleep = sleeper }
}

// New builds an Executor. statusWrite bounds the independent retry loop
// around the phase write that follows a successful stage body.
func New(store *queue.Store, statusWrite retry.Policy, opts ...Option) *Executor {
	exec := &Executor{
		store:        store,
		logger:       logging.NewNop(),
		statusPolicy: statusWrite,
	}
	for _, opt := range opts {
		opt(exec)
	}
	return exec
}

// Run loads the record, verifies the stage precondition, claims the record
// when the definition has an in-progress phase, and executes the handler.
//
// Error classification matters to callers: services.ErrNotFound means the
// record vanished, services.ErrInvalidPrecondition means another dispatch got
// there first, and neither touches the store. Any other error marks the
// record failed, except when the stage's durable output already exists.
func (e *Executor) Run(ctx context.Context, def Definition, recordID int64) error {
	if def.Handler == nil {
		return services.Wrap(services.ErrConfiguration, def.Name, "dispatch", "stage handler unavailable", nil)
	}
	if e.store == nil {
		return services.Wrap(services.ErrConfiguration, def.Name, "dispatch", "record store unavailable", nil)
	}

	record, err := e.store.GetByID(ctx, recordID)
	if err != nil {
		return services.Wrap(services.ErrTransient, def.Name, "load record", fmt.Sprintf("record %d", recordID), err)
	}
	if record == nil {
		return services.Wrap(services.ErrNotFound, def.Name, "load record", fmt.Sprintf("record %d does not exist", recordID), nil)
	}
	if record.Phase != def.Precondition {
		return services.Wrap(services.ErrInvalidPrecondition, def.Name, "claim",
			fmt.Sprintf("record %d is %s, expected %s", recordID, record.Phase, def.Precondition), nil)
	}

	stageCtx := services.WithStage(services.WithRecordID(ctx, record.ID), def.Name)
	stageLogger := logging.WithContext(stageCtx, e.logger)
	if aware, ok := def.Handler.(stage.LoggerAware); ok {
		aware.SetLogger(stageLogger)
	}

	stageLogger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("run_name", strings.TrimSpace(record.Name)),
		logging.String("phase", string(record.Phase)),
	)

	label := stageLabel(def.Name)
	if def.claims() {
		now := time.Now().UTC()
		record.Phase = def.InProgress
		record.InitProgress(label, label+" started")
		record.LastHeartbeat = &now
		if err := e.store.Update(stageCtx, record); err != nil {
			return services.Wrap(services.ErrTransient, def.Name, "claim", "persist in-progress phase", err)
		}
	} else {
		record.InitProgress(label, label+" started")
		if err := e.store.UpdateProgress(stageCtx, record); err != nil {
			return services.Wrap(services.ErrTransient, def.Name, "claim", "persist stage progress", err)
		}
	}

	if err := def.Handler.Prepare(stageCtx, record); err != nil {
		return e.handleFailure(stageCtx, stageLogger, def, record, err)
	}
	if err := e.store.Update(stageCtx, record); err != nil {
		return services.Wrap(services.ErrTransient, def.Name, "prepare", "persist stage preparation", err)
	}

	stopHeartbeat := e.startHeartbeat(stageCtx, stageLogger, def, record.ID)
	execErr := def.Handler.Execute(stageCtx, record)
	stopHeartbeat()

	if execErr != nil {
		if errors.Is(execErr, context.Canceled) {
			// Shutdown, not failure. A claimed record keeps its in-progress
			// phase until the stale-claim reclaim returns it to pending.
			return execErr
		}
		return e.handleFailure(stageCtx, stageLogger, def, record, execErr)
	}

	return e.finishSuccess(stageCtx, stageLogger, def, record)
}

// startHeartbeat refreshes the record's claim timestamp while a claimed stage
// body runs, so a live long training run is never reclaimed. The returned
// stop function blocks until the loop has exited.
func (e *Executor) startHeartbeat(ctx context.Context, logger *slog.Logger, def Definition, recordID int64) func() {
	if !def.claims() || e.heartbeat <= 0 {
		return func() {}
	}
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(e.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := e.store.UpdateHeartbeat(hbCtx, recordID); err != nil && !errors.Is(err, context.Canceled) {
					logger.Debug("heartbeat update failed", logging.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// handleFailure resolves a stage body error. Before failing the record it
// asks the handler whether the stage's durable output already exists: a body
// that died after its artifact write did the work, and failing the record
// would strand a usable result.
func (e *Executor) handleFailure(ctx context.Context, logger *slog.Logger, def Definition, record *queue.Record, stageErr error) error {
	if exists, ref := e.artifactSurvived(ctx, logger, def, record.ID); exists {
		logging.WarnWithContext(logger, "stage error ignored, output already present", "stage_failure_output_present",
			logging.String(logging.FieldTarget, ref),
			logging.String(logging.FieldImpact, "record continues through the pipeline"),
			logging.Error(stageErr),
		)
		e.recorder.Warn(ctx, record.ID, def.Name,
			fmt.Sprintf("stage error ignored: output already present (%s): %s", ref, failureMessage(stageErr)))
		if !def.claims() {
			// No claim phase to park in; advance so the scheduler moves on.
			return e.finishSuccess(ctx, logger, def, record)
		}
		// Keep the in-progress phase. The stale-claim reclaim returns the
		// record to its pending phase and the rerun short-circuits on the
		// existing output.
		return nil
	}

	message := failureMessage(stageErr)
	record.SetFailed(message)
	if err := e.store.Update(ctx, record); err != nil {
		logging.ErrorWithContext(logger, "failed to persist stage failure", "stage_failure_write",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "record phase is stale until the next reclaim or reconcile"),
		)
	}
	e.recorder.Error(ctx, record.ID, def.Name, message)
	logging.ErrorWithContext(logger, "stage failed", "stage_failure",
		logging.String(logging.FieldErrorKind, services.Kind(stageErr)),
		logging.Error(stageErr),
	)
	return stageErr
}

func (e *Executor) artifactSurvived(ctx context.Context, logger *slog.Logger, def Definition, recordID int64) (bool, string) {
	checker, ok := def.Handler.(stage.ArtifactChecker)
	if !ok {
		return false, ""
	}
	exists, ref, err := checker.ArtifactExists(ctx, recordID)
	if err != nil {
		logger.Debug("artifact existence check failed", logging.Error(err))
		return false, ""
	}
	return exists, ref
}

// finishSuccess advances the record to the stage's success phase. The write
// is retried on its own schedule: the stage work is durable at this point and
// a flaky database must not erase a finished training run. When every
// attempt fails the dispatch still reports success; the audit entry flags the
// record for reconcile.
func (e *Executor) finishSuccess(ctx context.Context, logger *slog.Logger, def Definition, record *queue.Record) error {
	if record.Phase == def.Precondition || record.Phase == def.InProgress {
		record.Phase = def.Success
	}
	record.LastHeartbeat = nil
	if record.ProgressPercent < 100 {
		record.SetProgressComplete(record.ProgressStage, stageLabel(def.Name)+" complete")
	}

	writer := retry.New(e.statusPolicy,
		retry.WithClassifier(func(error) bool { return true }),
		retry.WithSleeper(e.statusSleep),
		retry.WithLogger(logger),
	)
	err := writer.Execute(ctx, "status write", fmt.Sprintf("record %d", record.ID), func(ctx context.Context) error {
		return e.store.Update(ctx, record)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		logging.ErrorWithContext(logger, "success phase write failed after retries", "status_write_exhausted",
			logging.String("phase", string(def.Success)),
			logging.String(logging.FieldErrorHint, "run `loom reconcile` to repair the record phase"),
			logging.Error(err),
		)
		e.recorder.Warn(ctx, record.ID, def.Name,
			fmt.Sprintf("stage succeeded but the %s phase write failed; reconcile required", def.Success))
		return nil
	}

	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_phase", string(record.Phase)),
		logging.String("progress_message", strings.TrimSpace(record.ProgressMessage)),
	)
	return nil
}

func failureMessage(err error) string {
	if err == nil {
		return "stage failed"
	}
	if message := strings.TrimSpace(err.Error()); message != "" {
		return message
	}
	return "stage failed"
}

// stageLabel renders a stage name for progress fields, e.g. "dataset
// acquisition" becomes "Dataset Acquisition".
func stageLabel(name string) string {
	parts := strings.Fields(strings.ReplaceAll(name, "_", " "))
	for i, part := range parts {
		runes := []rune(strings.ToLower(part))
		if len(runes) == 0 {
			continue
		}
		runes[0] = unicode.ToUpper(runes[0])
		parts[i] = string(runes)
	}
	return strings.Join(parts, " ")
}
