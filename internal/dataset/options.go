package dataset

import (
	"fmt"
	"strings"
)

// Split defaults. Config normally supplies these; the zero Options value
// resolves to the same numbers so direct callers behave identically.
const (
	DefaultTrainRatio   = 0.7
	DefaultValRatio     = 0.2
	DefaultValFromTrain = 0.2
	DefaultSeed         = 42
)

// Options controls how Normalize splits a tree that arrives without one.
type Options struct {
	// TrainRatio and ValRatio are the auto-split fractions; the test split
	// takes the remainder.
	TrainRatio float64
	ValRatio   float64
	// ValFromTrain is the fraction of each train class moved out when the
	// tree has train/test but no val.
	ValFromTrain float64
	// Seed feeds the per-class shuffle.
	Seed int64
}

func (o Options) withDefaults() Options {
	if o.TrainRatio == 0 {
		o.TrainRatio = DefaultTrainRatio
	}
	if o.ValRatio == 0 {
		o.ValRatio = DefaultValRatio
	}
	if o.ValFromTrain == 0 {
		o.ValFromTrain = DefaultValFromTrain
	}
	if o.Seed == 0 {
		o.Seed = DefaultSeed
	}
	return o
}

// Report records what Normalize changed, for logging and audit entries.
type Report struct {
	Flattened      bool
	RenamedDirs    []string
	SynthesizedVal int
	SplitClasses   []string
	MovedFiles     int
	Warnings       []string
}

// HasWarnings reports whether any class was skipped during normalization.
func (r Report) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// Summary renders a one-line description of the work performed.
func (r Report) Summary() string {
	parts := make([]string, 0, 4)
	if r.Flattened {
		parts = append(parts, "flattened wrapper directory")
	}
	if len(r.RenamedDirs) > 0 {
		parts = append(parts, fmt.Sprintf("renamed %d directories", len(r.RenamedDirs)))
	}
	if r.SynthesizedVal > 0 {
		parts = append(parts, fmt.Sprintf("moved %d files into val", r.SynthesizedVal))
	}
	if len(r.SplitClasses) > 0 {
		parts = append(parts, fmt.Sprintf("split %d classes into train/val/test (%d files)", len(r.SplitClasses), r.MovedFiles))
	}
	if len(parts) == 0 {
		return "dataset already normalized"
	}
	return strings.Join(parts, "; ")
}
