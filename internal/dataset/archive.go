package dataset

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"loom/internal/services"
)

// ExtractZip unpacks archivePath into destDir, creating it as needed. Entry
// paths are confined to destDir; an entry that would escape it fails the
// whole extraction. A missing or corrupt archive is a validation failure
// because re-reading the same local file cannot heal it.
func ExtractZip(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return services.Wrap(services.ErrValidation, "dataset", "extract", fmt.Sprintf("open archive %s", archivePath), err)
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "dataset", "extract", fmt.Sprintf("create %s", destDir), err)
	}
	cleanDest := filepath.Clean(destDir)

	for _, entry := range reader.File {
		target := filepath.Join(cleanDest, entry.Name)
		if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
			return services.Wrap(services.ErrValidation, "dataset", "extract",
				fmt.Sprintf("archive entry %q escapes the destination directory", entry.Name), nil)
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return services.Wrap(services.ErrTransient, "dataset", "extract", fmt.Sprintf("create %s", target), err)
			}
			continue
		}
		if err := extractFile(entry, target); err != nil {
			return services.Wrap(services.ErrTransient, "dataset", "extract", fmt.Sprintf("write %s", entry.Name), err)
		}
	}
	return nil
}

func extractFile(entry *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
