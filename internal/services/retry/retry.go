package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"loom/internal/logging"
	"loom/internal/services"
)

const (
	defaultMaxAttempts  = 2
	defaultInitialDelay = time.Second
	defaultMultiplier   = 2.0
)

// ErrExhausted marks errors returned after every attempt failed. Use
// errors.Is to detect it and errors.As with *ExhaustedError for details.
var ErrExhausted = errors.New("retries exhausted")

// Policy describes a bounded geometric backoff schedule. The zero value is
// not useful; start from Default and override fields as needed.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
}

// Default returns the standard policy: two attempts with a one second pause
// before the second, doubling thereafter.
func Default() Policy {
	return Policy{
		MaxAttempts:  defaultMaxAttempts,
		InitialDelay: defaultInitialDelay,
		Multiplier:   defaultMultiplier,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 1.0
	}
	return p
}

// Delay returns the pause taken after the given 1-based attempt fails. The
// sequence is InitialDelay * Multiplier^(attempt-1), uncapped.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	if p.InitialDelay == 0 {
		return 0
	}
	scaled := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if scaled > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(scaled)
}

// ExhaustedError reports that an operation failed on every attempt. Target
// names the resource the operation addressed (a URL, a storage ref, a record
// id) for diagnostics.
type ExhaustedError struct {
	Operation string
	Target    string
	Attempts  int
	Last      error
}

func (e *ExhaustedError) Error() string {
	op := strings.TrimSpace(e.Operation)
	if op == "" {
		op = "operation"
	}
	if target := strings.TrimSpace(e.Target); target != "" {
		return fmt.Sprintf("%s: retries exhausted after %d attempts (target %s): %v", op, e.Attempts, target, e.Last)
	}
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Executor runs operations under a Policy. The zero value is unusable;
// construct with New.
type Executor struct {
	policy    Policy
	retryable func(error) bool
	sleeper   func(time.Duration)
	logger    *slog.Logger
}

// Option customizes an Executor.
type Option func(*Executor)

// WithSleeper overrides how inter-attempt sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(e *Executor) {
		e.sleeper = sleeper
	}
}

// WithClassifier overrides which errors are considered retryable.
func WithClassifier(fn func(error) bool) Option {
	return func(e *Executor) {
		if fn != nil {
			e.retryable = fn
		}
	}
}

// WithLogger attaches a logger that records each reattempt at warn level.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// New builds an Executor for the given policy.
func New(policy Policy, opts ...Option) *Executor {
	exec := &Executor{
		policy:    policy.normalized(),
		retryable: services.IsRetryable,
	}
	for _, opt := range opts {
		opt(exec)
	}
	return exec
}

// Execute runs fn until it succeeds, a non-retryable error occurs, the
// context is cancelled, or attempts are exhausted. op names the operation
// and target names the resource it addresses; both appear in the exhaustion
// error. Execute blocks the calling goroutine during backoff sleeps.
func (e *Executor) Execute(ctx context.Context, op, target string, fn func(context.Context) error) error {
	if fn == nil {
		return services.Wrap(services.ErrConfiguration, "", op, "nil operation", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	attempts := e.policy.MaxAttempts
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !e.retryable(err) {
			return err
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		delay := e.policy.Delay(attempt)
		if e.logger != nil {
			e.logger.Warn("operation failed, retrying",
				logging.String(logging.FieldOperation, op),
				logging.String(logging.FieldTarget, target),
				logging.Int(logging.FieldAttempt, attempt),
				logging.Duration(logging.FieldDuration, delay),
				logging.Error(err),
			)
		}
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return &ExhaustedError{
		Operation: op,
		Target:    target,
		Attempts:  attempts,
		Last:      lastErr,
	}
}

func (e *Executor) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.sleeper != nil {
		e.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
