package api_test

import (
	"context"
	"testing"

	"loom/internal/api"
	"loom/internal/queue"
	"loom/internal/testsupport"
)

func TestRunServiceDescribe(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	record := testsupport.NewRecord(t, store, "Described Run", "classify mushrooms")
	manifest := &queue.Manifest{
		RecordID:   record.ID,
		Name:       "mushrooms-v2",
		StorageRef: "s3://datasets/datasets/run-1/dataset.zip",
		ClassCount: 12,
	}
	if err := store.InsertManifest(ctx, manifest); err != nil {
		t.Fatalf("InsertManifest: %v", err)
	}
	if err := store.InsertLog(ctx, &queue.AuditEntry{
		RecordID: record.ID,
		Stage:    "acquisition",
		Severity: "info",
		Message:  "dataset acquired",
	}); err != nil {
		t.Fatalf("InsertLog: %v", err)
	}

	service := api.NewRunService(store)
	detail, err := service.Describe(ctx, record.ID)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if detail == nil || detail.Run.ID != record.ID {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	if detail.Dataset == nil || detail.Dataset.ClassCount != 12 {
		t.Fatalf("dataset missing: %+v", detail.Dataset)
	}
	if detail.Model != nil {
		t.Fatalf("unexpected model before training: %+v", detail.Model)
	}
	if len(detail.Audit) != 1 || detail.Audit[0].Stage != "acquisition" {
		t.Fatalf("unexpected audit tail: %+v", detail.Audit)
	}
}

func TestRunServiceDescribeMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	detail, err := api.NewRunService(store).Describe(context.Background(), 404)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if detail != nil {
		t.Fatalf("expected nil detail for missing run, got %+v", detail)
	}
}

func TestRunServiceListAndStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewRecord(t, store, "First", "intent one")
	second := testsupport.NewRecord(t, store, "Second", "intent two")
	second.Phase = queue.PhaseCompleted
	if err := store.Update(ctx, second); err != nil {
		t.Fatalf("Update: %v", err)
	}

	service := api.NewRunService(store)
	runs, err := service.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}

	completed, err := service.List(ctx, queue.PhaseCompleted)
	if err != nil {
		t.Fatalf("List completed: %v", err)
	}
	if len(completed) != 1 || completed[0].Name != "Second" {
		t.Fatalf("unexpected filtered list: %+v", completed)
	}

	stats, err := service.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats["pending_dataset"] != 1 || stats["completed"] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}
