package preflight_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"loom/internal/preflight"
	"loom/internal/testsupport"
)

func TestCheckDirectoryAccessOK(t *testing.T) {
	dir := t.TempDir()
	result := preflight.CheckDirectoryAccess("Staging directory", dir)
	if !result.Passed {
		t.Fatalf("expected pass, got %+v", result)
	}
}

func TestCheckDirectoryAccessNotExist(t *testing.T) {
	result := preflight.CheckDirectoryAccess("Staging directory", filepath.Join(t.TempDir(), "missing"))
	if result.Passed {
		t.Fatalf("expected failure, got %+v", result)
	}
	if !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
}

func TestCheckDirectoryAccessNotDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	result := preflight.CheckDirectoryAccess("Staging directory", file)
	if result.Passed {
		t.Fatalf("expected failure, got %+v", result)
	}
}

func TestCheckTrainerBinaryMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Trainer.Binary = "clearly-not-present-trainer"
	result := preflight.CheckTrainerBinary(cfg)
	if result.Passed {
		t.Fatalf("expected failure, got %+v", result)
	}
}

func TestCheckTrainerBinaryStubbed(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	result := preflight.CheckTrainerBinary(cfg)
	if !result.Passed {
		t.Fatalf("expected pass, got %+v", result)
	}
}

func TestRunAllNilConfig(t *testing.T) {
	if results := preflight.RunAll(context.Background(), nil); results != nil {
		t.Fatalf("expected nil results, got %v", results)
	}
}

func TestRunAllMinimalConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	results := preflight.RunAll(context.Background(), cfg)
	// Directories plus trainer binary; no object store, catalog, or planner
	// credentials are configured in the test environment.
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d: %+v", len(results), results)
	}
	for _, result := range results {
		if !result.Passed {
			t.Fatalf("expected all checks to pass, got %+v", result)
		}
	}
}

func TestRunAllIncludesPlannerWhenEnabled(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(), testsupport.WithPlanner("key", ""))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	cfg.Planner.BaseURL = "http://127.0.0.1:0/unreachable"

	results := preflight.RunAll(context.Background(), cfg)
	found := false
	for _, result := range results {
		if result.Name == "Planner LLM" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected planner check to run when enabled")
	}
}
