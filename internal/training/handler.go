// Package training implements the model training stage: pull the acquired
// dataset archive from the object store, normalize its structure, run the
// external trainer, and store the resulting model artifact.
package training

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"loom/internal/audit"
	"loom/internal/config"
	"loom/internal/dataset"
	"loom/internal/logging"
	"loom/internal/notifications"
	"loom/internal/objectstore"
	"loom/internal/queue"
	"loom/internal/services"
	"loom/internal/services/retry"
	"loom/internal/stage"
	"loom/internal/trainer"
	"loom/internal/workspace"
)

// ObjectStore is the storage surface the stage needs.
type ObjectStore interface {
	Download(ctx context.Context, ref, localPath string) error
	Upload(ctx context.Context, localPath, ref string) error
	Exists(ctx context.Context, ref string) (bool, error)
	ModelBucket() string
}

// Handler trains models for records in the pending_training phase.
type Handler struct {
	cfg      *config.Config
	store    *queue.Store
	objects  ObjectStore
	runner   trainer.Runner
	ws       *workspace.Workspace
	retrier  *retry.Executor
	recorder *audit.Recorder
	notifier notifications.Service
	logger   *slog.Logger
}

// New wires the training handler.
func New(cfg *config.Config, store *queue.Store, objects ObjectStore, runner trainer.Runner, ws *workspace.Workspace, recorder *audit.Recorder, notifier notifications.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	policy := retry.Policy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: time.Duration(cfg.Retry.InitialDelay) * time.Second,
		Multiplier:   cfg.Retry.Multiplier,
	}
	return &Handler{
		cfg:      cfg,
		store:    store,
		objects:  objects,
		runner:   runner,
		ws:       ws,
		retrier:  retry.New(policy, retry.WithLogger(logger)),
		recorder: recorder,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "training"),
	}
}

// SetLogger swaps in the per-dispatch logger.
func (h *Handler) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logging.NewComponentLogger(logger, "training")
	}
}

// Prepare validates the record's plan and the stage's dependencies.
func (h *Handler) Prepare(_ context.Context, record *queue.Record) error {
	if h.runner == nil {
		return services.Wrap(services.ErrConfiguration, "training", "prepare", "trainer is not configured", nil)
	}
	if h.objects == nil {
		return services.Wrap(services.ErrConfiguration, "training", "prepare", "object store is not configured", nil)
	}
	_, err := stage.RequirePlan(record)
	return err
}

// Execute trains the model. A record that already has an artifact is a rerun
// after a crash or reclaim; it completes without training again.
func (h *Handler) Execute(ctx context.Context, record *queue.Record) error {
	existing, err := h.store.ArtifactForRecord(ctx, record.ID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "training", "artifact lookup", "", err)
	}
	if existing != nil {
		h.logger.Info("model already trained", logging.String(logging.FieldTarget, existing.StorageRef))
		record.SetProgressComplete("Training", "model already trained")
		return nil
	}

	manifest, err := h.store.ManifestForRecord(ctx, record.ID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "training", "manifest lookup", "", err)
	}
	if manifest == nil {
		return services.Wrap(services.ErrValidation, "training", "manifest lookup",
			"record has no dataset manifest; rerun acquisition", nil)
	}

	plan, err := stage.RequirePlan(record)
	if err != nil {
		return err
	}

	if _, err := h.ws.EnsureRunDir(record.ID); err != nil {
		return services.Wrap(services.ErrTransient, "training", "workspace", "", err)
	}

	h.progress(ctx, record, "downloading dataset", 5)
	archivePath := h.ws.ArchivePath(record.ID)
	err = h.retrier.Execute(ctx, "download dataset", manifest.StorageRef, func(ctx context.Context) error {
		return h.objects.Download(ctx, manifest.StorageRef, archivePath)
	})
	if err != nil {
		return err
	}

	h.progress(ctx, record, "normalizing dataset structure", 12)
	datasetDir := h.ws.DatasetDir(record.ID)
	if err := dataset.ExtractZip(archivePath, datasetDir); err != nil {
		return services.Wrap(services.ErrValidation, "training", "extract archive",
			"dataset archive is not a usable zip", err)
	}
	report, err := dataset.Normalize(datasetDir, dataset.Options{
		TrainRatio:   h.cfg.Dataset.TrainRatio,
		ValRatio:     h.cfg.Dataset.ValRatio,
		ValFromTrain: h.cfg.Dataset.ValFromTrain,
		Seed:         h.cfg.Dataset.Seed,
	})
	if err != nil {
		return err
	}
	h.logger.Info("dataset normalized", logging.String("summary", report.Summary()))
	h.recorder.Info(ctx, record.ID, "training", "dataset normalized: "+report.Summary())
	for _, warning := range report.Warnings {
		h.recorder.Warn(ctx, record.ID, "training", warning)
	}

	classes, err := dataset.ClassNames(datasetDir)
	if err != nil {
		return err
	}

	h.progress(ctx, record, fmt.Sprintf("training %s for %d epochs", plan.PreferredModel, h.cfg.Trainer.Epochs), 20)
	result, err := h.runner.Train(ctx, trainer.TrainSpec{
		DatasetDir:   datasetDir,
		Architecture: plan.PreferredModel,
		Epochs:       h.cfg.Trainer.Epochs,
		Device:       h.cfg.Trainer.Device,
		OutputPath:   h.ws.ModelPath(record.ID),
	})
	if err != nil {
		return err
	}
	h.logger.Info("training finished",
		logging.Int("epochs", result.Epochs),
		logging.Int("classes", len(classes)),
		logging.Float64("final_loss", result.FinalLoss),
	)

	storageRef := objectstore.BuildRef(h.objects.ModelBucket(), "models", fmt.Sprintf("run-%d", record.ID), "model.pt")
	h.progress(ctx, record, "uploading model to object store", 85)
	err = h.retrier.Execute(ctx, "upload model", storageRef, func(ctx context.Context) error {
		return h.objects.Upload(ctx, result.ModelPath, storageRef)
	})
	if err != nil {
		return err
	}
	exists, err := h.objects.Exists(ctx, storageRef)
	if err != nil {
		return err
	}
	if !exists {
		return services.Wrap(services.ErrTransient, "training", "verify upload",
			fmt.Sprintf("uploaded object %s not found", storageRef), nil)
	}

	extra, err := json.Marshal(map[string]any{
		"epochs":     result.Epochs,
		"classes":    len(classes),
		"final_loss": result.FinalLoss,
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, "training", "encode artifact metadata", "", err)
	}
	artifact := &queue.Artifact{
		RecordID:     record.ID,
		StorageRef:   storageRef,
		Architecture: plan.PreferredModel,
		ExtraJSON:    string(extra),
	}
	if err := h.store.InsertArtifact(ctx, artifact); err != nil {
		return services.Wrap(services.ErrTransient, "training", "insert artifact", "", err)
	}

	record.SetProgressComplete("Training", fmt.Sprintf("model trained (%s, %d classes)", plan.PreferredModel, len(classes)))
	h.recorder.Info(ctx, record.ID, "training",
		fmt.Sprintf("model stored at %s (%s, %d epochs)", storageRef, plan.PreferredModel, result.Epochs))
	if err := h.notifier.Publish(ctx, notifications.EventTrainingCompleted, notifications.Payload{
		"runName":      record.Name,
		"architecture": plan.PreferredModel,
	}); err != nil {
		h.logger.Debug("training complete notification failed", logging.Error(err))
	}
	return nil
}

// ArtifactExists reports whether the stage's durable output, the model
// artifact, already exists for the record.
func (h *Handler) ArtifactExists(ctx context.Context, recordID int64) (bool, string, error) {
	artifact, err := h.store.ArtifactForRecord(ctx, recordID)
	if err != nil {
		return false, "", err
	}
	if artifact == nil {
		return false, "", nil
	}
	return true, artifact.StorageRef, nil
}

// HealthCheck reports readiness of the stage's external dependencies.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	if h.runner == nil {
		return stage.Unhealthy("training", "trainer is not configured")
	}
	if h.objects == nil {
		return stage.Unhealthy("training", "object store is not configured")
	}
	return stage.Healthy("training")
}

func (h *Handler) progress(ctx context.Context, record *queue.Record, message string, percent float64) {
	record.SetProgress("Training", message, percent)
	if err := h.store.UpdateProgress(ctx, record); err != nil {
		h.logger.Debug("progress update failed", logging.Error(err))
	}
}
