// Package trainer wraps the external training command used for model
// training and evaluation. The command is expected to expose `train` and
// `evaluate` subcommands and to write its machine-readable result as JSON to
// the path given with --result-json.
package trainer

import "context"

// TrainSpec describes one training invocation.
type TrainSpec struct {
	DatasetDir   string
	Architecture string
	Epochs       int
	Device       string
	OutputPath   string
}

// TrainResult is the JSON payload the trainer writes after a training run.
type TrainResult struct {
	ModelPath       string  `json:"model_path"`
	Epochs          int     `json:"epochs"`
	Classes         int     `json:"classes"`
	FinalLoss       float64 `json:"final_loss"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// EvalSpec describes one evaluation invocation against a held-out test split.
type EvalSpec struct {
	ModelPath  string
	DatasetDir string
}

// Metrics is the JSON payload the trainer writes after an evaluation run.
type Metrics struct {
	Accuracy float64            `json:"accuracy"`
	Loss     float64            `json:"loss"`
	Samples  int                `json:"samples"`
	PerClass map[string]float64 `json:"per_class_accuracy,omitempty"`
}

// Runner is the training surface the pipeline stages depend on.
type Runner interface {
	Train(ctx context.Context, spec TrainSpec) (TrainResult, error)
	Evaluate(ctx context.Context, spec EvalSpec) (Metrics, error)
}
