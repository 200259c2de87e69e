package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"loom/internal/services"
)

const (
	trainDirName = "train"
	valDirName   = "val"
	testDirName  = "test"
)

// imageExtensions lists the file types counted as dataset images. Anything
// else is ignored by splitting and left where it is.
var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".bmp":  {},
	".gif":  {},
	".tiff": {},
}

// skipDirNames are top-level directories auto-split never treats as classes.
var skipDirNames = map[string]struct{}{
	trainDirName:  {},
	valDirName:    {},
	testDirName:   {},
	"validation":  {},
	"__pycache__": {},
}

// Normalize mutates root in place until it holds train/, val/, and test/
// directories of per-class image folders. The steps run in a fixed order
// and each is a no-op on a tree it has already shaped, so Normalize is
// safe to rerun after a partial failure.
func Normalize(root string, opts Options) (Report, error) {
	var report Report
	opts = opts.withDefaults()

	info, err := os.Stat(root)
	if err != nil {
		return report, services.Wrap(services.ErrValidation, "dataset", "normalize", fmt.Sprintf("dataset root %s", root), err)
	}
	if !info.IsDir() {
		return report, services.Wrap(services.ErrValidation, "dataset", "normalize", fmt.Sprintf("dataset root %s is not a directory", root), nil)
	}

	if err := flattenWrapper(root, &report); err != nil {
		return report, err
	}
	if err := lowercaseDirs(root, &report); err != nil {
		return report, err
	}
	if err := synthesizeVal(root, opts, &report); err != nil {
		return report, err
	}
	if err := autoSplit(root, opts, &report); err != nil {
		return report, err
	}
	if err := checkLayout(root); err != nil {
		return report, err
	}
	return report, nil
}

// flattenWrapper hoists the contents of a single wrapper directory up one
// level. Runs only when the root holds exactly one subdirectory and no
// files, the shape produced by archives that wrap their payload in a
// folder named after the archive.
func flattenWrapper(root string, report *Report) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return services.Wrap(services.ErrTransient, "dataset", "flatten", fmt.Sprintf("read %s", root), err)
	}
	var dirs []string
	fileCount := 0
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		} else {
			fileCount++
		}
	}
	if len(dirs) != 1 || fileCount > 0 {
		return nil
	}
	wrapper := filepath.Join(root, dirs[0])
	inner, err := os.ReadDir(wrapper)
	if err != nil {
		return services.Wrap(services.ErrTransient, "dataset", "flatten", fmt.Sprintf("read %s", wrapper), err)
	}
	for _, entry := range inner {
		src := filepath.Join(wrapper, entry.Name())
		dst := filepath.Join(root, entry.Name())
		if err := os.Rename(src, dst); err != nil {
			return services.Wrap(services.ErrTransient, "dataset", "flatten", fmt.Sprintf("hoist %s", entry.Name()), err)
		}
	}
	if err := os.Remove(wrapper); err != nil {
		return services.Wrap(services.ErrTransient, "dataset", "flatten", fmt.Sprintf("remove wrapper %s", wrapper), err)
	}
	report.Flattened = true
	return nil
}

// lowercaseDirs renames every top-level directory to its lowercase form so
// Train/ and TEST/ land on the names the rest of the pipeline expects. A
// rename whose target already exists is skipped to avoid merging trees.
func lowercaseDirs(root string, report *Report) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return services.Wrap(services.ErrTransient, "dataset", "case normalize", fmt.Sprintf("read %s", root), err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		lower := strings.ToLower(entry.Name())
		if lower == entry.Name() {
			continue
		}
		target := filepath.Join(root, lower)
		if _, err := os.Stat(target); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return services.Wrap(services.ErrTransient, "dataset", "case normalize", fmt.Sprintf("stat %s", target), err)
		}
		if err := os.Rename(filepath.Join(root, entry.Name()), target); err != nil {
			return services.Wrap(services.ErrTransient, "dataset", "case normalize", fmt.Sprintf("rename %s", entry.Name()), err)
		}
		report.RenamedDirs = append(report.RenamedDirs, entry.Name())
	}
	return nil
}

// synthesizeVal carves a validation split out of train when the archive
// shipped only train and test. Each class moves its deterministic fraction
// of files into val/<class>.
func synthesizeVal(root string, opts Options, report *Report) error {
	trainDir := filepath.Join(root, trainDirName)
	testDir := filepath.Join(root, testDirName)
	valDir := filepath.Join(root, valDirName)
	if !isDir(trainDir) || !isDir(testDir) || pathExists(valDir) {
		return nil
	}
	if err := os.MkdirAll(valDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "dataset", "synthesize val", fmt.Sprintf("create %s", valDir), err)
	}
	classes, err := subdirNames(trainDir)
	if err != nil {
		return services.Wrap(services.ErrTransient, "dataset", "synthesize val", fmt.Sprintf("read %s", trainDir), err)
	}
	for _, class := range classes {
		images, err := imageFileNames(filepath.Join(trainDir, class))
		if err != nil {
			return services.Wrap(services.ErrTransient, "dataset", "synthesize val", fmt.Sprintf("read train/%s", class), err)
		}
		if len(images) == 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("no image files in train/%s, nothing moved to val", class))
			continue
		}
		valClassDir := filepath.Join(valDir, class)
		if err := os.MkdirAll(valClassDir, 0o755); err != nil {
			return services.Wrap(services.ErrTransient, "dataset", "synthesize val", fmt.Sprintf("create %s", valClassDir), err)
		}
		names := shuffledCopy(images, opts.Seed)
		cut := int(float64(len(names)) * opts.ValFromTrain)
		for _, name := range names[:cut] {
			if err := os.Rename(filepath.Join(trainDir, class, name), filepath.Join(valClassDir, name)); err != nil {
				return services.Wrap(services.ErrTransient, "dataset", "synthesize val", fmt.Sprintf("move train/%s/%s", class, name), err)
			}
		}
		report.SynthesizedVal += cut
	}
	return nil
}

// autoSplit builds the full train/val/test layout from a tree of bare
// class directories. Runs only when none of the three split directories
// exist yet; a partial layout is left alone for checkLayout to reject.
func autoSplit(root string, opts Options, report *Report) error {
	trainDir := filepath.Join(root, trainDirName)
	valDir := filepath.Join(root, valDirName)
	testDir := filepath.Join(root, testDirName)
	if pathExists(trainDir) || pathExists(valDir) || pathExists(testDir) {
		return nil
	}
	if opts.TrainRatio <= 0 || opts.ValRatio <= 0 || opts.TrainRatio+opts.ValRatio >= 1.0 {
		return services.Wrap(services.ErrValidation, "dataset", "auto-split",
			fmt.Sprintf("split ratios train=%.2f val=%.2f must be positive and sum below 1.0", opts.TrainRatio, opts.ValRatio), nil)
	}
	classes, err := classDirNames(root)
	if err != nil {
		return services.Wrap(services.ErrTransient, "dataset", "auto-split", fmt.Sprintf("read %s", root), err)
	}
	if len(classes) == 0 {
		return services.Wrap(services.ErrValidation, "dataset", "auto-split", fmt.Sprintf("no class directories found in %s", root), nil)
	}
	for _, dir := range []string{trainDir, valDir, testDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return services.Wrap(services.ErrTransient, "dataset", "auto-split", fmt.Sprintf("create %s", dir), err)
		}
	}
	for _, class := range classes {
		classDir := filepath.Join(root, class)
		files, err := imageFileNames(classDir)
		if err != nil {
			return services.Wrap(services.ErrTransient, "dataset", "auto-split", fmt.Sprintf("read %s", class), err)
		}
		if len(files) == 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("no image files in class %q, skipped", class))
			continue
		}
		names := shuffledCopy(files, opts.Seed)
		n := len(names)
		trainCut := int(opts.TrainRatio * float64(n))
		valCut := int((opts.TrainRatio + opts.ValRatio) * float64(n))
		for _, dir := range []string{filepath.Join(trainDir, class), filepath.Join(valDir, class), filepath.Join(testDir, class)} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return services.Wrap(services.ErrTransient, "dataset", "auto-split", fmt.Sprintf("create %s", dir), err)
			}
		}
		for i, name := range names {
			var destDir string
			switch {
			case i < trainCut:
				destDir = filepath.Join(trainDir, class)
			case i < valCut:
				destDir = filepath.Join(valDir, class)
			default:
				destDir = filepath.Join(testDir, class)
			}
			if err := os.Rename(filepath.Join(classDir, name), filepath.Join(destDir, name)); err != nil {
				return services.Wrap(services.ErrTransient, "dataset", "auto-split", fmt.Sprintf("move %s/%s", class, name), err)
			}
		}
		report.MovedFiles += n
		report.SplitClasses = append(report.SplitClasses, class)
		// Removes the class directory only when nothing was left behind; a
		// leftover non-image file keeps the directory, and its contents, in
		// place.
		_ = os.Remove(classDir)
	}
	return nil
}

// checkLayout confirms the postcondition every downstream caller relies
// on: train/, val/, and test/ all present as directories.
func checkLayout(root string) error {
	for _, name := range []string{trainDirName, valDirName, testDirName} {
		info, err := os.Stat(filepath.Join(root, name))
		if err != nil || !info.IsDir() {
			return services.Wrap(services.ErrValidation, "dataset", "validate",
				fmt.Sprintf("normalized tree is missing %s/", name), nil)
		}
	}
	return nil
}

// ClassNames lists the class directories under train/, sorted.
func ClassNames(root string) ([]string, error) {
	trainDir := filepath.Join(root, trainDirName)
	info, err := os.Stat(trainDir)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "dataset", "count classes", fmt.Sprintf("train directory %s", trainDir), err)
	}
	if !info.IsDir() {
		return nil, services.Wrap(services.ErrValidation, "dataset", "count classes", fmt.Sprintf("%s is not a directory", trainDir), nil)
	}
	names, err := subdirNames(trainDir)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "dataset", "count classes", fmt.Sprintf("read %s", trainDir), err)
	}
	return names, nil
}

// CountClasses counts the class directories under train/.
func CountClasses(root string) (int, error) {
	names, err := ClassNames(root)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func subdirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// classDirNames lists the top-level directories eligible as classes. Split
// directories, "validation", tool directories, and hidden directories are
// never classes.
func classDirNames(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if _, skip := skipDirNames[strings.ToLower(name)]; skip {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// imageFileNames returns the sorted regular image files directly inside dir.
func imageFileNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !entry.Type().IsRegular() {
			continue
		}
		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))]; !ok {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// shuffledCopy returns a seeded permutation of names. Callers pass sorted
// listings, so the same file set always lands in the same order.
func shuffledCopy(names []string, seed int64) []string {
	out := append([]string(nil), names...)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
