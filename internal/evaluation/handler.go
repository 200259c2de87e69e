// Package evaluation implements the final pipeline stage: evaluate the
// trained model on the held-out test split, attach the metrics to the
// artifact, and publish an export bundle with the model, its labels, and a
// usage README.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"loom/internal/audit"
	"loom/internal/config"
	"loom/internal/dataset"
	"loom/internal/fileutil"
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

// Handler evaluates and exports models for records in the pending_evaluation
// phase.
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

// New wires the evaluation handler.
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
		logger:   logging.NewComponentLogger(logger, "evaluation"),
	}
}

// SetLogger swaps in the per-dispatch logger.
func (h *Handler) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logging.NewComponentLogger(logger, "evaluation")
	}
}

// Prepare validates the stage's dependencies.
func (h *Handler) Prepare(_ context.Context, record *queue.Record) error {
	if h.runner == nil {
		return services.Wrap(services.ErrConfiguration, "evaluation", "prepare", "trainer is not configured", nil)
	}
	if h.objects == nil {
		return services.Wrap(services.ErrConfiguration, "evaluation", "prepare", "object store is not configured", nil)
	}
	_, err := stage.RequirePlan(record)
	return err
}

// Execute evaluates the model and builds the export bundle. A record whose
// artifact already carries metrics and an export ref is a rerun; it completes
// without re-evaluating.
func (h *Handler) Execute(ctx context.Context, record *queue.Record) error {
	artifact, err := h.store.ArtifactForRecord(ctx, record.ID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "evaluation", "artifact lookup", "", err)
	}
	if artifact == nil {
		return services.Wrap(services.ErrValidation, "evaluation", "artifact lookup",
			"record has no trained model; rerun training", nil)
	}
	if artifact.HasMetrics() && strings.TrimSpace(artifact.ExportRef) != "" {
		h.logger.Info("model already evaluated", logging.String(logging.FieldTarget, artifact.ExportRef))
		record.SetProgressComplete("Evaluation", "model already evaluated and exported")
		return nil
	}

	manifest, err := h.store.ManifestForRecord(ctx, record.ID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "evaluation", "manifest lookup", "", err)
	}
	if manifest == nil {
		return services.Wrap(services.ErrValidation, "evaluation", "manifest lookup",
			"record has no dataset manifest; rerun acquisition", nil)
	}

	if _, err := h.ws.EnsureRunDir(record.ID); err != nil {
		return services.Wrap(services.ErrTransient, "evaluation", "workspace", "", err)
	}

	h.progress(ctx, record, "downloading model and dataset", 5)
	modelPath := h.ws.ModelPath(record.ID)
	err = h.retrier.Execute(ctx, "download model", artifact.StorageRef, func(ctx context.Context) error {
		return h.objects.Download(ctx, artifact.StorageRef, modelPath)
	})
	if err != nil {
		return err
	}

	datasetDir, classes, err := h.stageDataset(ctx, record.ID, manifest.StorageRef)
	if err != nil {
		return err
	}

	h.progress(ctx, record, "evaluating on the test split", 40)
	metrics, err := h.runner.Evaluate(ctx, trainer.EvalSpec{
		ModelPath:  modelPath,
		DatasetDir: datasetDir,
	})
	if err != nil {
		return err
	}
	h.logger.Info("evaluation finished",
		logging.Float64("accuracy", metrics.Accuracy),
		logging.Int("samples", metrics.Samples),
	)
	h.recorder.Info(ctx, record.ID, "evaluation",
		fmt.Sprintf("accuracy %.4f over %d samples", metrics.Accuracy, metrics.Samples))
	h.reportTarget(ctx, record, metrics.Accuracy)

	h.progress(ctx, record, "building export bundle", 70)
	exportRef, err := h.export(ctx, record, artifact, modelPath, classes, metrics)
	if err != nil {
		return err
	}

	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return services.Wrap(services.ErrTransient, "evaluation", "encode metrics", "", err)
	}
	if err := h.store.AttachEvaluation(ctx, record.ID, string(metricsJSON), exportRef); err != nil {
		return services.Wrap(services.ErrTransient, "evaluation", "attach metrics", "", err)
	}

	record.SetProgressComplete("Evaluation", fmt.Sprintf("accuracy %.1f%%, exported to %s", metrics.Accuracy*100, exportRef))
	h.recorder.Info(ctx, record.ID, "evaluation", "export bundle published at "+exportRef)
	if err := h.notifier.Publish(ctx, notifications.EventRunCompleted, notifications.Payload{
		"runName":  record.Name,
		"accuracy": metrics.Accuracy,
	}); err != nil {
		h.logger.Debug("run complete notification failed", logging.Error(err))
	}
	return nil
}

// stageDataset pulls the raw archive and normalizes it again. Normalization
// is deterministic for a given archive and seed, so the test split matches
// the one training held out.
func (h *Handler) stageDataset(ctx context.Context, recordID int64, storageRef string) (string, []string, error) {
	archivePath := h.ws.ArchivePath(recordID)
	err := h.retrier.Execute(ctx, "download dataset", storageRef, func(ctx context.Context) error {
		return h.objects.Download(ctx, storageRef, archivePath)
	})
	if err != nil {
		return "", nil, err
	}

	datasetDir := h.ws.DatasetDir(recordID)
	if err := dataset.ExtractZip(archivePath, datasetDir); err != nil {
		return "", nil, services.Wrap(services.ErrValidation, "evaluation", "extract archive",
			"dataset archive is not a usable zip", err)
	}
	if _, err := dataset.Normalize(datasetDir, dataset.Options{
		TrainRatio:   h.cfg.Dataset.TrainRatio,
		ValRatio:     h.cfg.Dataset.ValRatio,
		ValFromTrain: h.cfg.Dataset.ValFromTrain,
		Seed:         h.cfg.Dataset.Seed,
	}); err != nil {
		return "", nil, err
	}
	classes, err := dataset.ClassNames(datasetDir)
	if err != nil {
		return "", nil, err
	}
	return datasetDir, classes, nil
}

// reportTarget compares the measured accuracy against the plan's target. A
// miss is a warning on the record, never a failure; the model may still be
// useful.
func (h *Handler) reportTarget(ctx context.Context, record *queue.Record, accuracy float64) {
	plan, err := record.Plan()
	if err != nil || plan.TargetMetric != "accuracy" || plan.TargetValue <= 0 {
		return
	}
	if accuracy >= plan.TargetValue {
		return
	}
	warning := fmt.Sprintf("accuracy %.4f below target %.4f", accuracy, plan.TargetValue)
	record.Warning = warning
	h.recorder.Warn(ctx, record.ID, "evaluation", warning)
	logging.WarnWithContext(h.logger, "accuracy target missed", "target_missed",
		logging.Float64("accuracy", accuracy),
		logging.Float64("target", plan.TargetValue),
		logging.String(logging.FieldImpact, "run completes with a warning"),
	)
}

// export assembles the bundle on disk and uploads every file under the
// record's export prefix in the model bucket.
func (h *Handler) export(ctx context.Context, record *queue.Record, artifact *queue.Artifact, modelPath string, classes []string, metrics trainer.Metrics) (string, error) {
	exportDir := h.ws.ExportDir(record.ID)
	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransient, "evaluation", "create export directory", exportDir, err)
	}

	bundledModel := filepath.Join(exportDir, "model.pt")
	if err := fileutil.CopyFileVerified(modelPath, bundledModel); err != nil {
		return "", services.Wrap(services.ErrTransient, "evaluation", "copy model", bundledModel, err)
	}
	labelsPath := filepath.Join(exportDir, "labels.json")
	if err := fileutil.WriteJSONAtomic(labelsPath, classes); err != nil {
		return "", services.Wrap(services.ErrTransient, "evaluation", "write labels", labelsPath, err)
	}
	readmePath := filepath.Join(exportDir, "README.md")
	readme := renderReadme(record, artifact, classes, metrics)
	if err := os.WriteFile(readmePath, []byte(readme), 0o644); err != nil {
		return "", services.Wrap(services.ErrTransient, "evaluation", "write readme", readmePath, err)
	}

	exportRef := objectstore.BuildRef(h.objects.ModelBucket(), "exports", fmt.Sprintf("run-%d", record.ID))
	for _, file := range []string{bundledModel, labelsPath, readmePath} {
		ref := exportRef + "/" + filepath.Base(file)
		err := h.retrier.Execute(ctx, "upload export", ref, func(ctx context.Context) error {
			return h.objects.Upload(ctx, file, ref)
		})
		if err != nil {
			return "", err
		}
	}
	return exportRef, nil
}

func renderReadme(record *queue.Record, artifact *queue.Artifact, classes []string, metrics trainer.Metrics) string {
	caser := cases.Title(language.English)
	title := strings.TrimSpace(record.Name)
	if title == "" {
		title = caser.String("training run")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(record.Intent))
	fmt.Fprintf(&b, "- Architecture: %s\n", artifact.Architecture)
	fmt.Fprintf(&b, "- Classes: %d\n", len(classes))
	fmt.Fprintf(&b, "- Test accuracy: %.2f%% (%d samples)\n\n", metrics.Accuracy*100, metrics.Samples)
	b.WriteString("## Files\n\n")
	b.WriteString("- `model.pt` — trained model weights\n")
	b.WriteString("- `labels.json` — class names in output-index order\n\n")
	b.WriteString("## Usage\n\n")
	b.WriteString("Load the weights with the matching architecture, apply the\n")
	b.WriteString("standard ImageNet preprocessing, and map output indices through\n")
	b.WriteString("`labels.json`.\n")
	return b.String()
}

// ArtifactExists reports whether the stage's durable output, the attached
// metrics, already exists for the record.
func (h *Handler) ArtifactExists(ctx context.Context, recordID int64) (bool, string, error) {
	artifact, err := h.store.ArtifactForRecord(ctx, recordID)
	if err != nil {
		return false, "", err
	}
	if !artifact.HasMetrics() {
		return false, "", nil
	}
	ref := artifact.ExportRef
	if strings.TrimSpace(ref) == "" {
		ref = artifact.StorageRef
	}
	return true, ref, nil
}

// HealthCheck reports readiness of the stage's external dependencies.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	if h.runner == nil {
		return stage.Unhealthy("evaluation", "trainer is not configured")
	}
	if h.objects == nil {
		return stage.Unhealthy("evaluation", "object store is not configured")
	}
	return stage.Healthy("evaluation")
}

func (h *Handler) progress(ctx context.Context, record *queue.Record, message string, percent float64) {
	record.SetProgress("Evaluation", message, percent)
	if err := h.store.UpdateProgress(ctx, record); err != nil {
		h.logger.Debug("progress update failed", logging.Error(err))
	}
}
