package runaccess_test

import (
	"context"
	"errors"
	"testing"

	"loom/internal/ipc"
	"loom/internal/queue"
	"loom/internal/runaccess"
	"loom/internal/testsupport"
)

func TestStoreAccessOperations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	access := runaccess.NewStoreAccess(store)

	pending := testsupport.NewRecord(t, store, "Pending Run", "classify birds")
	failed := testsupport.NewRecord(t, store, "Failed Run", "classify flowers")
	failed.SetFailed("trainer exited 1")
	if err := store.Update(ctx, failed); err != nil {
		t.Fatalf("Update: %v", err)
	}

	stats, err := access.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[string(queue.PhasePendingDataset)] != 1 || stats[string(queue.PhaseFailed)] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}

	runs, err := access.List(ctx, []string{string(queue.PhaseFailed), "bogus"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != failed.ID {
		t.Fatalf("unexpected filtered runs: %+v", runs)
	}

	detail, err := access.Describe(ctx, pending.ID)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if detail.Run.Name != "Pending Run" {
		t.Fatalf("unexpected detail: %+v", detail.Run)
	}
	if _, err := access.Describe(ctx, 9999); err == nil {
		t.Fatal("expected error for missing run")
	}

	retried, err := access.RetryAll(ctx)
	if err != nil {
		t.Fatalf("RetryAll: %v", err)
	}
	if retried != 1 {
		t.Fatalf("expected 1 retried run, got %d", retried)
	}

	health, err := access.RunHealth(ctx)
	if err != nil {
		t.Fatalf("RunHealth: %v", err)
	}
	if health.Total != 2 || health.Failed != 0 {
		t.Fatalf("unexpected health: %#v", health)
	}

	removed, err := access.ClearAll(ctx)
	if err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
}

func TestOpenWithFallbackUsesStoreWhenDialFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	session, err := runaccess.OpenWithFallback(
		func() (*ipc.Client, error) { return nil, errors.New("daemon offline") },
		func() (*queue.Store, error) { return queue.Open(cfg) },
	)
	if err != nil {
		t.Fatalf("OpenWithFallback: %v", err)
	}
	t.Cleanup(func() { session.Close() })

	if _, err := session.Access.Stats(context.Background()); err != nil {
		t.Fatalf("Stats via fallback: %v", err)
	}
}
