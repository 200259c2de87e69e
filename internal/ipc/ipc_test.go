package ipc_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"loom/internal/daemon"
	"loom/internal/ipc"
	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/stage"
	"loom/internal/testsupport"
	"loom/internal/workflow"
)

type noopStage struct{}

func (noopStage) Prepare(context.Context, *queue.Record) error { return nil }
func (noopStage) Execute(context.Context, *queue.Record) error { return nil }
func (noopStage) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("noop")
}

func TestIPCServerClient(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()

	mgr := workflow.NewManagerWithOptions(cfg, store, logger, nil,
		workflow.WithPollInterval(50*time.Millisecond),
	)
	mgr.ConfigureStages(workflow.StageSet{
		Acquisition: noopStage{},
		Training:    noopStage{},
		Evaluation:  noopStage{},
	})
	d, err := daemon.New(cfg, store, logger, mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	socket := filepath.Join(cfg.Paths.LogDir, "loom.sock")
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	time.Sleep(50 * time.Millisecond)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	startResp, err := client.Start()
	if err != nil {
		t.Fatalf("Start RPC failed: %v", err)
	}
	if !startResp.Started {
		t.Fatalf("expected Started=true, message=%s", startResp.Message)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running {
		t.Fatal("expected daemon to be running")
	}
	if status.PID <= 0 {
		t.Fatalf("expected a pid, got %d", status.PID)
	}

	submitResp, err := client.Submit("classify bird species from photos", "Bird Run", "tester")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if submitResp.Run.Name != "Bird Run" || submitResp.Run.Phase != string(queue.PhasePendingDataset) {
		t.Fatalf("unexpected submitted run: %+v", submitResp.Run)
	}

	// Stop the workflow before exercising maintenance operations so the
	// poll loop does not advance records mid-assertion.
	stopDuring, err := client.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !stopDuring.Stopped {
		t.Fatalf("expected Stop to report stopped, got %#v", stopDuring)
	}

	failed := testsupport.NewRecord(t, store, "Failed Run", "fails")
	failed.SetFailed("trainer exited 1")
	if err := store.Update(ctx, failed); err != nil {
		t.Fatalf("Update failed record: %v", err)
	}
	if err := store.InsertManifest(ctx, &queue.Manifest{
		RecordID:   failed.ID,
		StorageRef: "s3://datasets/datasets/run-2/dataset.zip",
	}); err != nil {
		t.Fatalf("InsertManifest: %v", err)
	}
	stuck := testsupport.NewRecord(t, store, "Stuck Run", "claim died")
	stuck.Phase = queue.PhaseTraining
	if err := store.Update(ctx, stuck); err != nil {
		t.Fatalf("Update stuck record: %v", err)
	}

	listResp, err := client.RunList(nil)
	if err != nil {
		t.Fatalf("RunList failed: %v", err)
	}
	if len(listResp.Runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(listResp.Runs))
	}

	failedResp, err := client.RunList([]string{string(queue.PhaseFailed)})
	if err != nil {
		t.Fatalf("RunList filter failed: %v", err)
	}
	if len(failedResp.Runs) != 1 || failedResp.Runs[0].ID != failed.ID {
		t.Fatalf("expected failed run %d, got %+v", failed.ID, failedResp.Runs)
	}

	describeResp, err := client.RunDescribe(failed.ID)
	if err != nil {
		t.Fatalf("RunDescribe failed: %v", err)
	}
	if describeResp.Detail.Dataset == nil {
		t.Fatalf("expected dataset in detail: %+v", describeResp.Detail)
	}

	reconcileResp, err := client.RunReconcile()
	if err != nil {
		t.Fatalf("RunReconcile failed: %v", err)
	}
	if len(reconcileResp.Repaired) != 1 || reconcileResp.Repaired[0] != failed.ID {
		t.Fatalf("unexpected reconcile result: %v", reconcileResp.Repaired)
	}

	resetResp, err := client.RunReset()
	if err != nil {
		t.Fatalf("RunReset failed: %v", err)
	}
	if resetResp.Updated != 1 {
		t.Fatalf("expected 1 run reset, got %d", resetResp.Updated)
	}
	updatedStuck, err := store.GetByID(ctx, stuck.ID)
	if err != nil {
		t.Fatalf("GetByID stuck: %v", err)
	}
	if updatedStuck.Phase != queue.PhasePendingTraining {
		t.Fatalf("expected stuck run back at pending_training, got %s", updatedStuck.Phase)
	}

	retryResp, err := client.RunRetry(nil)
	if err != nil {
		t.Fatalf("RunRetry failed: %v", err)
	}
	if retryResp.Updated != 0 {
		t.Fatalf("expected 0 retried runs, got %d", retryResp.Updated)
	}

	healthResp, err := client.RunHealth()
	if err != nil {
		t.Fatalf("RunHealth failed: %v", err)
	}
	if healthResp.Total != 3 || healthResp.Failed != 0 {
		t.Fatalf("unexpected health response: %#v", healthResp)
	}

	dbHealth, err := client.DatabaseHealth()
	if err != nil {
		t.Fatalf("DatabaseHealth failed: %v", err)
	}
	if dbHealth.DBPath == "" || !dbHealth.TableExists {
		t.Fatalf("unexpected db health: %#v", dbHealth)
	}

	logPath := d.LogPath()
	if err := os.WriteFile(logPath, []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatalf("write log file: %v", err)
	}
	logResp, err := client.LogTail(ipc.LogTailRequest{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("LogTail failed: %v", err)
	}
	if len(logResp.Lines) != 2 || logResp.Lines[0] != "second" || logResp.Lines[1] != "third" {
		t.Fatalf("unexpected log tail response: %#v", logResp.Lines)
	}

	notifyResp, err := client.TestNotification()
	if err != nil {
		t.Fatalf("TestNotification failed: %v", err)
	}
	if notifyResp.Sent || notifyResp.Message == "" {
		t.Fatalf("expected unsent notification with message, got %#v", notifyResp)
	}

	clearCompletedResp, err := client.RunClearCompleted()
	if err != nil {
		t.Fatalf("RunClearCompleted failed: %v", err)
	}
	if clearCompletedResp.Removed != 0 {
		t.Fatalf("expected 0 completed runs removed, got %d", clearCompletedResp.Removed)
	}

	clearResp, err := client.RunClear()
	if err != nil {
		t.Fatalf("RunClear failed: %v", err)
	}
	if clearResp.Removed != 3 {
		t.Fatalf("expected 3 runs cleared, got %d", clearResp.Removed)
	}

	status2, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if status2.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestIPCTriggerStage(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()

	mgr := workflow.NewManagerWithOptions(cfg, store, logger, nil)
	mgr.ConfigureStages(workflow.StageSet{Acquisition: noopStage{}})
	d, err := daemon.New(cfg, store, logger, mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	socket := filepath.Join(cfg.Paths.LogDir, "loom.sock")
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	record := testsupport.NewRecord(t, store, "Trigger Run", "manual trigger")
	resp, err := client.Trigger("acquisition", record.ID)
	if err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	if resp.Phase != string(queue.PhasePendingTraining) {
		t.Fatalf("unexpected phase after trigger: %s", resp.Phase)
	}

	if _, err := client.Trigger("acquisition", record.ID); err == nil {
		t.Fatal("expected error re-triggering out of phase")
	}
	if _, err := client.Trigger("mystery", record.ID); err == nil {
		t.Fatal("expected error for unknown stage")
	}
}
