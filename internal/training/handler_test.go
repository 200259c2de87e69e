package training_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"

	"loom/internal/audit"
	"loom/internal/notifications"
	"loom/internal/queue"
	"loom/internal/services"
	"loom/internal/testsupport"
	"loom/internal/trainer"
	"loom/internal/training"
	"loom/internal/workspace"
)

type fakeObjects struct {
	stored map[string][]byte
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{stored: make(map[string][]byte)}
}

func (f *fakeObjects) Download(_ context.Context, ref, localPath string) error {
	data, ok := f.stored[ref]
	if !ok {
		return services.Wrap(services.ErrNotFound, "objectstore", "download", ref, nil)
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (f *fakeObjects) Upload(_ context.Context, localPath, ref string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.stored[ref] = data
	return nil
}

func (f *fakeObjects) Exists(_ context.Context, ref string) (bool, error) {
	_, ok := f.stored[ref]
	return ok, nil
}

func (f *fakeObjects) ModelBucket() string { return "loom-models" }

type fakeRunner struct {
	trains  int
	trainFn func(trainer.TrainSpec) (trainer.TrainResult, error)
}

func (f *fakeRunner) Train(_ context.Context, spec trainer.TrainSpec) (trainer.TrainResult, error) {
	f.trains++
	if f.trainFn != nil {
		return f.trainFn(spec)
	}
	if err := os.WriteFile(spec.OutputPath, []byte("weights"), 0o644); err != nil {
		return trainer.TrainResult{}, err
	}
	return trainer.TrainResult{ModelPath: spec.OutputPath, Epochs: spec.Epochs, FinalLoss: 0.3}, nil
}

func (f *fakeRunner) Evaluate(context.Context, trainer.EvalSpec) (trainer.Metrics, error) {
	return trainer.Metrics{}, errors.New("not implemented")
}

// classZip builds an archive with bare class directories; normalization
// auto-splits them into train/val/test.
func classZip(t *testing.T, classes map[string]int) []byte {
	t.Helper()
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for class, count := range classes {
		for i := 0; i < count; i++ {
			entry, err := writer.Create(fmt.Sprintf("%s/%03d.jpg", class, i))
			if err != nil {
				t.Fatalf("create zip entry: %v", err)
			}
			if _, err := entry.Write([]byte{0xff, 0xd8, 0xff}); err != nil {
				t.Fatalf("write zip entry: %v", err)
			}
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

const datasetRef = "s3://loom-datasets/raw/alice__bird-species.zip"

func seededRecord(t *testing.T, store *queue.Store, withManifest bool) *queue.Record {
	t.Helper()
	ctx := context.Background()
	record := testsupport.NewRecord(t, store, "Birds Classifier", "classify birds")
	if err := record.SetPlan(queue.Plan{
		Name:           "Birds Classifier",
		SearchKeywords: []string{"birds"},
		PreferredModel: "resnet18",
		TargetMetric:   "accuracy",
		TargetValue:    0.9,
	}); err != nil {
		t.Fatalf("SetPlan: %v", err)
	}
	record.Phase = queue.PhasePendingTraining
	if err := store.Update(ctx, record); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if withManifest {
		if err := store.InsertManifest(ctx, &queue.Manifest{
			RecordID:   record.ID,
			Name:       "Bird Species Images",
			SourceRef:  "alice/bird-species",
			StorageRef: datasetRef,
		}); err != nil {
			t.Fatalf("InsertManifest: %v", err)
		}
	}
	return record
}

func TestExecuteTrainsAndStoresArtifact(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	record := seededRecord(t, store, true)

	objects := newFakeObjects()
	objects.stored[datasetRef] = classZip(t, map[string]int{"cats": 6, "dogs": 6})
	runner := &fakeRunner{}

	handler := training.New(cfg, store, objects, runner, workspace.New(cfg),
		audit.NewRecorder(store, nil), notifications.NewService(cfg), nil)
	if err := handler.Prepare(ctx, record); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := handler.Execute(ctx, record); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	artifact, err := store.ArtifactForRecord(ctx, record.ID)
	if err != nil {
		t.Fatalf("ArtifactForRecord: %v", err)
	}
	if artifact == nil {
		t.Fatal("expected artifact to be written")
	}
	if artifact.Architecture != "resnet18" {
		t.Fatalf("unexpected architecture: %q", artifact.Architecture)
	}
	wantRef := fmt.Sprintf("s3://loom-models/models/run-%d/model.pt", record.ID)
	if artifact.StorageRef != wantRef {
		t.Fatalf("unexpected storage ref: %q", artifact.StorageRef)
	}
	if _, ok := objects.stored[wantRef]; !ok {
		t.Fatal("model not uploaded")
	}

	var extra map[string]any
	if err := json.Unmarshal([]byte(artifact.ExtraJSON), &extra); err != nil {
		t.Fatalf("decode extra: %v", err)
	}
	if extra["classes"].(float64) != 2 {
		t.Fatalf("unexpected class count: %v", extra["classes"])
	}
	if runner.trains != 1 {
		t.Fatalf("expected one training run, got %d", runner.trains)
	}
}

func TestExecuteShortCircuitsOnExistingArtifact(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	record := seededRecord(t, store, true)

	if err := store.InsertArtifact(ctx, &queue.Artifact{
		RecordID:     record.ID,
		StorageRef:   "s3://loom-models/models/run-1/model.pt",
		Architecture: "resnet18",
	}); err != nil {
		t.Fatalf("InsertArtifact: %v", err)
	}

	runner := &fakeRunner{}
	handler := training.New(cfg, store, newFakeObjects(), runner, workspace.New(cfg),
		audit.NewRecorder(store, nil), notifications.NewService(cfg), nil)
	if err := handler.Execute(ctx, record); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if runner.trains != 0 {
		t.Fatalf("trainer must not run on rerun, got %d", runner.trains)
	}
}

func TestExecuteRequiresManifest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	record := seededRecord(t, store, false)

	handler := training.New(cfg, store, newFakeObjects(), &fakeRunner{}, workspace.New(cfg),
		audit.NewRecorder(store, nil), notifications.NewService(cfg), nil)
	err := handler.Execute(context.Background(), record)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExecutePropagatesTrainerFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	record := seededRecord(t, store, true)

	objects := newFakeObjects()
	objects.stored[datasetRef] = classZip(t, map[string]int{"cats": 6, "dogs": 6})
	runner := &fakeRunner{trainFn: func(trainer.TrainSpec) (trainer.TrainResult, error) {
		return trainer.TrainResult{}, services.Wrap(services.ErrExternalTool, "training", "train", "trainer exited 1", nil)
	}}

	handler := training.New(cfg, store, objects, runner, workspace.New(cfg),
		audit.NewRecorder(store, nil), notifications.NewService(cfg), nil)
	err := handler.Execute(context.Background(), record)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}
