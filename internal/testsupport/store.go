package testsupport

import (
	"context"
	"testing"

	"loom/internal/config"
	"loom/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewRecord creates a pipeline record for tests using the provided store.
func NewRecord(t testing.TB, store *queue.Store, name, intent string) *queue.Record {
	t.Helper()

	record, err := store.NewRecord(context.Background(), name, "tester", intent)
	if err != nil {
		t.Fatalf("store.NewRecord: %v", err)
	}
	return record
}
