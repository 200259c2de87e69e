package trainer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"loom/internal/config"
	"loom/internal/services"
)

// ProgressUpdate captures trainer progress output. The trainer reports
// progress on stdout as lines of the form "PROGRESS:<percent>:<message>".
type ProgressUpdate struct {
	Percent float64
	Message string
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onLine func(string)) error
}

// Option configures the command runner.
type Option func(*Command)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Command) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Command runs the external training binary.
type Command struct {
	binary       string
	trainTimeout time.Duration
	evalTimeout  time.Duration
	exec         Executor
	progress     func(ProgressUpdate)
}

// WithProgress forwards trainer progress lines to fn.
func WithProgress(fn func(ProgressUpdate)) Option {
	return func(c *Command) { c.progress = fn }
}

// New constructs a trainer command runner from configuration.
func New(cfg *config.Config, opts ...Option) (*Command, error) {
	binary := strings.TrimSpace(cfg.TrainerBinary())
	if binary == "" {
		return nil, errors.New("trainer binary required")
	}
	cmd := &Command{
		binary:       binary,
		trainTimeout: time.Duration(cfg.Trainer.TrainTimeout) * time.Second,
		evalTimeout:  time.Duration(cfg.Trainer.EvaluateTimeout) * time.Second,
		exec:         commandExecutor{},
	}
	for _, opt := range opts {
		opt(cmd)
	}
	return cmd, nil
}

// Train invokes the trainer's train subcommand and decodes its result file.
func (c *Command) Train(ctx context.Context, spec TrainSpec) (TrainResult, error) {
	if strings.TrimSpace(spec.DatasetDir) == "" {
		return TrainResult{}, services.Wrap(services.ErrValidation, "training", "train", "dataset directory required", nil)
	}
	if strings.TrimSpace(spec.OutputPath) == "" {
		return TrainResult{}, services.Wrap(services.ErrValidation, "training", "train", "model output path required", nil)
	}
	if err := os.MkdirAll(filepath.Dir(spec.OutputPath), 0o755); err != nil {
		return TrainResult{}, services.Wrap(services.ErrTransient, "training", "train", "create model output directory", err)
	}

	resultPath := spec.OutputPath + ".result.json"
	args := []string{
		"train",
		"--dataset", spec.DatasetDir,
		"--arch", spec.Architecture,
		"--epochs", strconv.Itoa(spec.Epochs),
		"--device", spec.Device,
		"--output", spec.OutputPath,
		"--result-json", resultPath,
	}

	if err := c.run(ctx, c.trainTimeout, "train", args); err != nil {
		return TrainResult{}, err
	}

	var result TrainResult
	if err := decodeResult(resultPath, &result); err != nil {
		return TrainResult{}, services.Wrap(services.ErrExternalTool, "training", "train", "trainer result unreadable", err)
	}
	if strings.TrimSpace(result.ModelPath) == "" {
		result.ModelPath = spec.OutputPath
	}
	if _, err := os.Stat(result.ModelPath); err != nil {
		return TrainResult{}, services.Wrap(services.ErrExternalTool, "training", "train", "trainer produced no model file", err)
	}
	return result, nil
}

// Evaluate invokes the trainer's evaluate subcommand against the test split
// and decodes the resulting metrics.
func (c *Command) Evaluate(ctx context.Context, spec EvalSpec) (Metrics, error) {
	if strings.TrimSpace(spec.ModelPath) == "" {
		return Metrics{}, services.Wrap(services.ErrValidation, "evaluation", "evaluate", "model path required", nil)
	}
	if strings.TrimSpace(spec.DatasetDir) == "" {
		return Metrics{}, services.Wrap(services.ErrValidation, "evaluation", "evaluate", "dataset directory required", nil)
	}

	resultPath := spec.ModelPath + ".metrics.json"
	args := []string{
		"evaluate",
		"--model", spec.ModelPath,
		"--dataset", spec.DatasetDir,
		"--result-json", resultPath,
	}

	if err := c.run(ctx, c.evalTimeout, "evaluate", args); err != nil {
		return Metrics{}, err
	}

	var metrics Metrics
	if err := decodeResult(resultPath, &metrics); err != nil {
		return Metrics{}, services.Wrap(services.ErrExternalTool, "evaluation", "evaluate", "metrics result unreadable", err)
	}
	if metrics.Accuracy < 0 || metrics.Accuracy > 1 {
		return Metrics{}, services.Wrap(services.ErrExternalTool, "evaluation", "evaluate",
			fmt.Sprintf("trainer reported accuracy %v outside [0, 1]", metrics.Accuracy), nil)
	}
	return metrics, nil
}

func (c *Command) run(ctx context.Context, timeout time.Duration, subcommand string, args []string) error {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tail := newLineTail(20)
	err := c.exec.Run(runCtx, c.binary, args, func(line string) {
		tail.add(line)
		if update, ok := parseProgress(line); ok && c.progress != nil {
			c.progress(update)
		}
	})
	if err == nil {
		return nil
	}
	stageName := "training"
	if subcommand == "evaluate" {
		stageName = "evaluation"
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, stageName, subcommand,
			fmt.Sprintf("trainer exceeded %s", timeout), err)
	}
	detail := tail.String()
	if detail == "" {
		detail = "trainer failed with no output"
	}
	return services.Wrap(services.ErrExternalTool, stageName, subcommand, detail, err)
}

func decodeResult(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// parseProgress parses a "PROGRESS:<percent>:<message>" line. Anything else
// is trainer chatter and passes through untouched.
func parseProgress(line string) (ProgressUpdate, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "PROGRESS:") {
		return ProgressUpdate{}, false
	}
	payload := strings.TrimPrefix(line, "PROGRESS:")
	parts := strings.SplitN(payload, ":", 2)
	percent, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return ProgressUpdate{}, false
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	update := ProgressUpdate{Percent: percent}
	if len(parts) > 1 {
		update.Message = strings.TrimSpace(parts[1])
	}
	return update, true
}

// lineTail keeps the last n output lines for error reporting.
type lineTail struct {
	lines []string
	limit int
}

func newLineTail(limit int) *lineTail {
	return &lineTail{limit: limit}
}

func (t *lineTail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.limit {
		t.lines = t.lines[len(t.lines)-t.limit:]
	}
}

func (t *lineTail) String() string {
	return strings.Join(t.lines, "; ")
}
