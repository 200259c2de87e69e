package dataset

import (
	"archive/zip"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"loom/internal/services"
)

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	w := zip.NewWriter(f)
	for name, content := range entries {
		entry, err := w.Create(name)
		if err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
		if _, err := entry.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
}

func TestExtractZipRoundTrip(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "data.zip")
	entries := map[string]string{
		"cats/img_000.jpg": "cat bytes",
		"dogs/img_000.jpg": "dog bytes",
		"notes.txt":        "not an image",
	}
	writeZip(t, archivePath, entries)

	dest := filepath.Join(dir, "out")
	if err := ExtractZip(archivePath, dest); err != nil {
		t.Fatalf("ExtractZip returned error: %v", err)
	}
	for name, content := range entries {
		data, err := os.ReadFile(filepath.Join(dest, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(data) != content {
			t.Fatalf("content of %s = %q, want %q", name, data, content)
		}
	}
}

func TestExtractZipRejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.zip")
	writeZip(t, archivePath, map[string]string{"../escape.txt": "outside"})

	dest := filepath.Join(dir, "out")
	err := ExtractZip(archivePath, dest)
	if err == nil {
		t.Fatal("ExtractZip accepted an escaping entry")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "escape.txt")); !errors.Is(statErr, fs.ErrNotExist) {
		t.Fatal("escaping entry was written outside the destination")
	}
}

func TestExtractZipMissingArchive(t *testing.T) {
	err := ExtractZip(filepath.Join(t.TempDir(), "absent.zip"), t.TempDir())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
}
