package acquisition_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"loom/internal/acquisition"
	"loom/internal/audit"
	"loom/internal/catalog"
	"loom/internal/notifications"
	"loom/internal/queue"
	"loom/internal/services"
	"loom/internal/testsupport"
	"loom/internal/workspace"
)

type fakeCatalog struct {
	listing    catalog.Listing
	findErr    error
	finds      int
	downloads  int
	archiveErr error
}

func (f *fakeCatalog) FindBest(context.Context, []string, float64) (catalog.Listing, error) {
	f.finds++
	return f.listing, f.findErr
}

func (f *fakeCatalog) DownloadArchive(_ context.Context, ref, destDir string) (string, error) {
	f.downloads++
	if f.archiveErr != nil {
		return "", f.archiveErr
	}
	path := filepath.Join(destDir, strings.ReplaceAll(ref, "/", "__")+".zip")
	if err := os.WriteFile(path, []byte("zip-bytes"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type fakeObjects struct {
	stored  map[string][]byte
	uploads int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{stored: make(map[string][]byte)}
}

func (f *fakeObjects) Upload(_ context.Context, localPath, ref string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.uploads++
	f.stored[ref] = data
	return nil
}

func (f *fakeObjects) Exists(_ context.Context, ref string) (bool, error) {
	_, ok := f.stored[ref]
	return ok, nil
}

func (f *fakeObjects) DatasetBucket() string { return "loom-datasets" }

func seededRecord(t *testing.T, store *queue.Store) *queue.Record {
	t.Helper()
	record := testsupport.NewRecord(t, store, "Birds Classifier", "classify birds")
	if err := record.SetPlan(queue.Plan{
		Name:             "Birds Classifier",
		SearchKeywords:   []string{"birds", "species"},
		PreferredModel:   "resnet18",
		TargetMetric:     "accuracy",
		TargetValue:      0.9,
		MaxDatasetSizeGB: 10,
	}); err != nil {
		t.Fatalf("SetPlan: %v", err)
	}
	if err := store.Update(context.Background(), record); err != nil {
		t.Fatalf("Update: %v", err)
	}
	return record
}

func TestExecuteAcquiresDataset(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	record := seededRecord(t, store)

	cat := &fakeCatalog{listing: catalog.Listing{
		Ref:       "alice/bird-species",
		Title:     "Bird Species Images",
		SizeBytes: 1 << 20,
		Downloads: 500,
	}}
	objects := newFakeObjects()
	handler := acquisition.New(cfg, store, cat, objects, workspace.New(cfg),
		audit.NewRecorder(store, nil), notifications.NewService(cfg), nil)

	if err := handler.Prepare(ctx, record); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := handler.Execute(ctx, record); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	manifest, err := store.ManifestForRecord(ctx, record.ID)
	if err != nil {
		t.Fatalf("ManifestForRecord: %v", err)
	}
	if manifest == nil {
		t.Fatal("expected manifest to be written")
	}
	if manifest.Name != "Bird Species Images" || manifest.SourceRef != "alice/bird-species" {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}
	wantRef := "s3://loom-datasets/raw/alice__bird-species.zip"
	if manifest.StorageRef != wantRef {
		t.Fatalf("unexpected storage ref: %q", manifest.StorageRef)
	}
	if _, ok := objects.stored[wantRef]; !ok {
		t.Fatalf("archive not uploaded, stored: %v", objects.stored)
	}
	if record.ProgressPercent != 100 {
		t.Fatalf("expected complete progress, got %v", record.ProgressPercent)
	}
}

func TestExecuteShortCircuitsOnExistingManifest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	record := seededRecord(t, store)

	if err := store.InsertManifest(ctx, &queue.Manifest{
		RecordID:   record.ID,
		Name:       "Bird Species Images",
		SourceRef:  "alice/bird-species",
		StorageRef: "s3://loom-datasets/raw/alice__bird-species.zip",
		SizeBytes:  42,
	}); err != nil {
		t.Fatalf("InsertManifest: %v", err)
	}

	cat := &fakeCatalog{}
	handler := acquisition.New(cfg, store, cat, newFakeObjects(), workspace.New(cfg),
		audit.NewRecorder(store, nil), notifications.NewService(cfg), nil)

	if err := handler.Execute(ctx, record); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if cat.finds != 0 || cat.downloads != 0 {
		t.Fatalf("catalog must not be touched on rerun: finds=%d downloads=%d", cat.finds, cat.downloads)
	}
}

func TestPrepareRejectsMissingPlan(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	record := testsupport.NewRecord(t, store, "No Plan", "no plan")

	handler := acquisition.New(cfg, store, &fakeCatalog{}, newFakeObjects(), workspace.New(cfg),
		audit.NewRecorder(store, nil), notifications.NewService(cfg), nil)
	err := handler.Prepare(context.Background(), record)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPrepareRejectsMissingCatalog(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	record := seededRecord(t, store)

	handler := acquisition.New(cfg, store, nil, newFakeObjects(), workspace.New(cfg),
		audit.NewRecorder(store, nil), notifications.NewService(cfg), nil)
	err := handler.Prepare(context.Background(), record)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if health := handler.HealthCheck(context.Background()); health.Ready {
		t.Fatal("expected unhealthy stage without catalog")
	}
}

func TestArtifactExistsReflectsManifest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	record := seededRecord(t, store)

	handler := acquisition.New(cfg, store, &fakeCatalog{}, newFakeObjects(), workspace.New(cfg),
		audit.NewRecorder(store, nil), notifications.NewService(cfg), nil)

	exists, _, err := handler.ArtifactExists(ctx, record.ID)
	if err != nil || exists {
		t.Fatalf("expected no manifest yet: exists=%v err=%v", exists, err)
	}

	if err := store.InsertManifest(ctx, &queue.Manifest{
		RecordID:   record.ID,
		Name:       "Bird Species Images",
		SourceRef:  "alice/bird-species",
		StorageRef: "s3://loom-datasets/raw/alice__bird-species.zip",
	}); err != nil {
		t.Fatalf("InsertManifest: %v", err)
	}
	exists, ref, err := handler.ArtifactExists(ctx, record.ID)
	if err != nil || !exists {
		t.Fatalf("expected manifest found: exists=%v err=%v", exists, err)
	}
	if ref != "s3://loom-datasets/raw/alice__bird-species.zip" {
		t.Fatalf("unexpected ref: %q", ref)
	}
}
