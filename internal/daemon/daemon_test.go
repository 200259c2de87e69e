package daemon_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"loom/internal/config"
	"loom/internal/daemon"
	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/services"
	"loom/internal/stage"
	"loom/internal/testsupport"
	"loom/internal/workflow"
)

type passHandler struct{}

func (passHandler) Prepare(context.Context, *queue.Record) error { return nil }
func (passHandler) Execute(context.Context, *queue.Record) error { return nil }
func (passHandler) HealthCheck(context.Context) stage.Health     { return stage.Healthy("stub") }

func newTestDaemon(t *testing.T) (*daemon.Daemon, *queue.Store, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)

	manager := workflow.NewManagerWithOptions(cfg, store, logging.NewNop(), nil,
		workflow.WithPollInterval(20*time.Millisecond),
	)
	manager.ConfigureStages(workflow.StageSet{
		Acquisition: passHandler{},
		Training:    passHandler{},
		Evaluation:  passHandler{},
	})

	d, err := daemon.New(cfg, store, logging.NewNop(), manager)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, store, cfg
}

func TestDaemonStartStop(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected error on double start")
	}

	status := d.Status(ctx)
	if !status.Running || !status.Workflow.Running {
		t.Fatalf("unexpected status: %+v", status)
	}
	if len(status.Dependencies) != 1 || !status.Dependencies[0].Available {
		t.Fatalf("unexpected dependencies: %+v", status.Dependencies)
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("daemon still reports running after stop")
	}
}

func TestDaemonSubmitCreatesPendingRun(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	ctx := context.Background()

	record, err := d.Submit(ctx, "classify bird species from photos", "", "tester")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if record.Phase != queue.PhasePendingDataset {
		t.Fatalf("submitted run in phase %s", record.Phase)
	}

	stored, err := store.GetByID(ctx, record.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetByID: %v, %v", stored, err)
	}
	plan, err := stored.Plan()
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.SearchKeywords) == 0 {
		t.Fatalf("plan has no keywords: %+v", plan)
	}
}

func TestDaemonSubmitRequiresIntent(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	if _, err := d.Submit(context.Background(), "   ", "", ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDaemonTriggerStage(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	ctx := context.Background()
	record := testsupport.NewRecord(t, store, "Triggered Run", "manual trigger")

	if err := d.TriggerStage(ctx, "acquisition", record.ID); err != nil {
		t.Fatalf("TriggerStage: %v", err)
	}
	advanced, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if advanced.Phase != queue.PhasePendingTraining {
		t.Fatalf("unexpected phase after trigger: %s", advanced.Phase)
	}

	// Re-triggering out of phase reports a precondition error, not a failure.
	err = d.TriggerStage(ctx, "acquisition", record.ID)
	if !errors.Is(err, services.ErrInvalidPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}

	if err := d.TriggerStage(ctx, "acquisition", 404); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if err := d.TriggerStage(ctx, "mystery", record.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown stage, got %v", err)
	}
}

func TestDaemonReconcileAndRetry(t *testing.T) {
	d, store, _ := newTestDaemon(t)
	ctx := context.Background()

	record := testsupport.NewRecord(t, store, "Broken Run", "fails in training")
	record.SetFailed("trainer exited 1")
	if err := store.Update(ctx, record); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := store.InsertManifest(ctx, &queue.Manifest{
		RecordID:   record.ID,
		StorageRef: "s3://datasets/datasets/run-1/dataset.zip",
	}); err != nil {
		t.Fatalf("InsertManifest: %v", err)
	}

	repaired, err := d.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(repaired) != 1 || repaired[0] != record.ID {
		t.Fatalf("unexpected repairs: %v", repaired)
	}

	// RetryFailed finds nothing now that reconcile repaired the record.
	updated, err := d.RetryFailed(ctx, nil)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if updated != 0 {
		t.Fatalf("expected no retries, got %d", updated)
	}
}

func TestDaemonTestNotificationWithoutTopic(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	sent, message, err := d.TestNotification(context.Background())
	if err != nil {
		t.Fatalf("TestNotification: %v", err)
	}
	if sent || message == "" {
		t.Fatalf("unexpected result: sent=%v message=%q", sent, message)
	}
}
