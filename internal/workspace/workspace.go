// Package workspace manages the per-run scratch directories under the
// staging root. Every record gets a run-<id> directory with fixed subpaths
// for the downloaded dataset, the trained model, and the export bundle; the
// layout is deterministic so a rerun after a crash lands in the same place.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"loom/internal/config"
)

// Workspace resolves and manages run directories.
type Workspace struct {
	root      string
	exportDir string
}

// New builds a workspace over the configured staging and export roots.
func New(cfg *config.Config) *Workspace {
	return &Workspace{
		root:      cfg.Paths.StagingDir,
		exportDir: cfg.Paths.ExportDir,
	}
}

// Root returns the staging root directory.
func (w *Workspace) Root() string { return w.root }

// RunDir returns the scratch directory for a record.
func (w *Workspace) RunDir(recordID int64) string {
	return filepath.Join(w.root, fmt.Sprintf("run-%d", recordID))
}

// DatasetDir returns where the record's dataset is extracted and normalized.
func (w *Workspace) DatasetDir(recordID int64) string {
	return filepath.Join(w.RunDir(recordID), "dataset")
}

// ArchivePath returns where the record's raw dataset archive is staged.
func (w *Workspace) ArchivePath(recordID int64) string {
	return filepath.Join(w.RunDir(recordID), "dataset.zip")
}

// ModelDir returns where the record's trained model is written.
func (w *Workspace) ModelDir(recordID int64) string {
	return filepath.Join(w.RunDir(recordID), "model")
}

// ModelPath returns the trained model file path for a record.
func (w *Workspace) ModelPath(recordID int64) string {
	return filepath.Join(w.ModelDir(recordID), "model.pt")
}

// ExportDir returns the record's export bundle directory. Exports live under
// the export root, not the staging root, so staging cleanup never eats a
// finished bundle.
func (w *Workspace) ExportDir(recordID int64) string {
	return filepath.Join(w.exportDir, fmt.Sprintf("run-%d", recordID))
}

// EnsureRunDir creates the record's scratch directory tree.
func (w *Workspace) EnsureRunDir(recordID int64) (string, error) {
	dir := w.RunDir(recordID)
	for _, sub := range []string{dir, w.DatasetDir(recordID), w.ModelDir(recordID)} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return "", fmt.Errorf("create run directory %q: %w", sub, err)
		}
	}
	return dir, nil
}

// CleanRun removes the record's scratch directory. The export bundle is left
// alone.
func (w *Workspace) CleanRun(recordID int64) error {
	dir := w.RunDir(recordID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove run directory %q: %w", dir, err)
	}
	return nil
}

// DirInfo contains metadata about one run directory.
type DirInfo struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
}

// ListRunDirs returns all run directories under the staging root with their
// metadata, for the status surfaces.
func (w *Workspace) ListRunDirs() ([]DirInfo, error) {
	root := strings.TrimSpace(w.root)
	if root == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []DirInfo
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "run-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(root, entry.Name())
		size, _ := dirSize(path)
		dirs = append(dirs, DirInfo{
			Name:    entry.Name(),
			Path:    path,
			ModTime: info.ModTime(),
			Size:    size,
		})
	}
	return dirs, nil
}

// dirSize calculates the total size of a directory recursively, best effort.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
