package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}

	remaining := size
	for remaining > 0 {
		toWrite := int64(chunkSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}

// WriteImageFiles fills dir with count small JPEG-named files, img_000.jpg
// onward, for dataset tree construction in tests.
func WriteImageFiles(t testing.TB, dir string, count int) {
	t.Helper()

	for i := 0; i < count; i++ {
		WriteFile(t, filepath.Join(dir, fmt.Sprintf("img_%03d.jpg", i)), 64)
	}
}

// WriteClassTree builds class directories under root, each populated with the
// requested number of image files.
func WriteClassTree(t testing.TB, root string, classes map[string]int) {
	t.Helper()

	for class, count := range classes {
		WriteImageFiles(t, filepath.Join(root, class), count)
	}
}
