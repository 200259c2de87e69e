// Package acquisition implements the dataset acquisition stage: search the
// catalog with the plan's keywords, download the best archive, park it in the
// object store, and record the dataset manifest.
package acquisition

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"loom/internal/audit"
	"loom/internal/catalog"
	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/notifications"
	"loom/internal/objectstore"
	"loom/internal/queue"
	"loom/internal/services"
	"loom/internal/services/retry"
	"loom/internal/stage"
	"loom/internal/workspace"
)

// Catalog is the search and download surface the stage needs.
type Catalog interface {
	FindBest(ctx context.Context, keywords []string, maxSizeGB float64) (catalog.Listing, error)
	DownloadArchive(ctx context.Context, ref, destDir string) (string, error)
}

// ObjectStore is the storage surface the stage needs.
type ObjectStore interface {
	Upload(ctx context.Context, localPath, ref string) error
	Exists(ctx context.Context, ref string) (bool, error)
	DatasetBucket() string
}

// Handler acquires datasets for records in the pending_dataset phase.
type Handler struct {
	cfg      *config.Config
	store    *queue.Store
	catalog  Catalog
	objects  ObjectStore
	ws       *workspace.Workspace
	retrier  *retry.Executor
	recorder *audit.Recorder
	notifier notifications.Service
	logger   *slog.Logger
}

// New wires the acquisition handler. catalogClient may be nil when the
// catalog is unconfigured; the handler reports unhealthy and fails records
// with a configuration error instead of panicking.
func New(cfg *config.Config, store *queue.Store, catalogClient Catalog, objects ObjectStore, ws *workspace.Workspace, recorder *audit.Recorder, notifier notifications.Service, logger *slog.Logger) *Handler {
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
		catalog:  catalogClient,
		objects:  objects,
		ws:       ws,
		retrier:  retry.New(policy, retry.WithLogger(logger)),
		recorder: recorder,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "acquisition"),
	}
}

// SetLogger swaps in the per-dispatch logger.
func (h *Handler) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logging.NewComponentLogger(logger, "acquisition")
	}
}

// Prepare validates that the record carries a usable plan and that the stage
// has its external dependencies.
func (h *Handler) Prepare(_ context.Context, record *queue.Record) error {
	if h.catalog == nil {
		return services.Wrap(services.ErrConfiguration, "dataset acquisition", "prepare",
			"catalog credentials are not configured", nil)
	}
	if h.objects == nil {
		return services.Wrap(services.ErrConfiguration, "dataset acquisition", "prepare",
			"object store is not configured", nil)
	}
	plan, err := stage.RequirePlan(record)
	if err != nil {
		return err
	}
	if len(plan.SearchKeywords) == 0 {
		return services.Wrap(services.ErrValidation, "dataset acquisition", "prepare",
			"plan has no search keywords", nil)
	}
	return nil
}

// Execute acquires the dataset. A record that already has a manifest is a
// rerun after a crash or reclaim; it completes without touching the catalog.
func (h *Handler) Execute(ctx context.Context, record *queue.Record) error {
	existing, err := h.store.ManifestForRecord(ctx, record.ID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "dataset acquisition", "manifest lookup", "", err)
	}
	if existing != nil {
		h.logger.Info("dataset already acquired",
			logging.String("dataset", existing.Name),
			logging.String(logging.FieldTarget, existing.StorageRef),
		)
		record.SetProgressComplete("Dataset Acquisition", fmt.Sprintf("dataset %s already acquired", existing.Name))
		return nil
	}

	plan, err := stage.RequirePlan(record)
	if err != nil {
		return err
	}

	h.progress(ctx, record, "searching catalog", 10)
	maxSize := plan.MaxDatasetSizeGB
	if maxSize <= 0 {
		maxSize = float64(h.cfg.Catalog.MaxSizeGB)
	}
	listing, err := h.catalog.FindBest(ctx, plan.SearchKeywords, maxSize)
	if err != nil {
		return err
	}
	h.logger.Info("dataset selected",
		logging.String("dataset", listing.Title),
		logging.String(logging.FieldTarget, listing.Ref),
		logging.Int64("size_bytes", listing.SizeBytes),
	)
	h.recorder.Info(ctx, record.ID, "dataset acquisition",
		fmt.Sprintf("selected %s (%s, %.2f GB)", listing.Title, listing.Ref, listing.SizeGB()))

	if _, err := h.ws.EnsureRunDir(record.ID); err != nil {
		return services.Wrap(services.ErrTransient, "dataset acquisition", "workspace", "", err)
	}

	h.progress(ctx, record, fmt.Sprintf("downloading %s", listing.Title), 25)
	var archivePath string
	err = h.retrier.Execute(ctx, "download dataset", listing.Ref, func(ctx context.Context) error {
		path, err := h.catalog.DownloadArchive(ctx, listing.Ref, h.ws.RunDir(record.ID))
		if err != nil {
			return err
		}
		archivePath = path
		return nil
	})
	if err != nil {
		return err
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return services.Wrap(services.ErrTransient, "dataset acquisition", "stat archive", archivePath, err)
	}

	storageRef := objectstore.BuildRef(h.objects.DatasetBucket(), "raw", flattenRef(listing.Ref)+".zip")
	h.progress(ctx, record, "uploading archive to object store", 60)
	err = h.retrier.Execute(ctx, "upload dataset", storageRef, func(ctx context.Context) error {
		return h.objects.Upload(ctx, archivePath, storageRef)
	})
	if err != nil {
		return err
	}

	exists, err := h.objects.Exists(ctx, storageRef)
	if err != nil {
		return err
	}
	if !exists {
		return services.Wrap(services.ErrTransient, "dataset acquisition", "verify upload",
			fmt.Sprintf("uploaded object %s not found", storageRef), nil)
	}

	manifest := &queue.Manifest{
		RecordID:   record.ID,
		Name:       listing.Title,
		SourceRef:  listing.Ref,
		StorageRef: storageRef,
		SizeBytes:  info.Size(),
	}
	if err := h.store.InsertManifest(ctx, manifest); err != nil {
		return services.Wrap(services.ErrTransient, "dataset acquisition", "insert manifest", "", err)
	}

	record.SetProgressComplete("Dataset Acquisition", fmt.Sprintf("dataset %s ready", listing.Title))
	h.recorder.Info(ctx, record.ID, "dataset acquisition",
		fmt.Sprintf("dataset stored at %s (%d bytes)", storageRef, info.Size()))
	if err := h.notifier.Publish(ctx, notifications.EventDatasetReady, notifications.Payload{
		"runName": record.Name,
		"dataset": listing.Title,
	}); err != nil {
		h.logger.Debug("dataset ready notification failed", logging.Error(err))
	}
	return nil
}

// ArtifactExists reports whether the stage's durable output, the manifest,
// already exists for the record.
func (h *Handler) ArtifactExists(ctx context.Context, recordID int64) (bool, string, error) {
	manifest, err := h.store.ManifestForRecord(ctx, recordID)
	if err != nil {
		return false, "", err
	}
	if manifest == nil {
		return false, "", nil
	}
	return true, manifest.StorageRef, nil
}

// HealthCheck reports readiness of the stage's external dependencies.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	if h.catalog == nil {
		return stage.Unhealthy("dataset acquisition", "catalog credentials are not configured")
	}
	if h.objects == nil {
		return stage.Unhealthy("dataset acquisition", "object store is not configured")
	}
	return stage.Healthy("dataset acquisition")
}

func (h *Handler) progress(ctx context.Context, record *queue.Record, message string, percent float64) {
	record.SetProgress("Dataset Acquisition", message, percent)
	if err := h.store.UpdateProgress(ctx, record); err != nil {
		h.logger.Debug("progress update failed", logging.Error(err))
	}
}

// flattenRef turns an owner/name catalog ref into a flat object key segment.
func flattenRef(ref string) string {
	return strings.ReplaceAll(strings.TrimSpace(ref), "/", "__")
}
