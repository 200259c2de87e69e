package retry_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"loom/internal/services"
	"loom/internal/services/retry"
)

func TestExecuteStopsAfterFirstSuccess(t *testing.T) {
	var slept []time.Duration
	exec := retry.New(
		retry.Policy{MaxAttempts: 5, InitialDelay: time.Second, Multiplier: 2},
		retry.WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
	)

	calls := 0
	err := exec.Execute(context.Background(), "download", "s3://bucket/key", func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if len(slept) != 0 {
		t.Fatalf("expected no sleeps, got %v", slept)
	}
}

func TestExecuteRecoversAfterTransientFailure(t *testing.T) {
	var slept []time.Duration
	exec := retry.New(
		retry.Policy{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, Multiplier: 2},
		retry.WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
	)

	calls := 0
	err := exec.Execute(context.Background(), "upload", "s3://bucket/key", func(context.Context) error {
		calls++
		if calls < 2 {
			return services.Wrap(services.ErrTransient, "acquisition", "upload", "flaky", errors.New("io"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if len(slept) != 1 || slept[0] != 10*time.Millisecond {
		t.Fatalf("expected single 10ms sleep, got %v", slept)
	}
}

func TestExecuteExhaustionFollowsGeometricDelays(t *testing.T) {
	var slept []time.Duration
	exec := retry.New(
		retry.Policy{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, Multiplier: 2},
		retry.WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
	)

	base := errors.New("connection reset")
	calls := 0
	err := exec.Execute(context.Background(), "download", "s3://bucket/data.zip", func(context.Context) error {
		calls++
		return services.Wrap(services.ErrTransient, "acquisition", "download", "copy failed", base)
	})
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if len(slept) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), slept)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("sleep %d = %v, want %v", i, slept[i], want[i])
		}
	}

	if !errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected underlying cause retained, got %v", err)
	}

	var exhausted *retry.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *ExhaustedError, got %T", err)
	}
	if exhausted.Operation != "download" || exhausted.Target != "s3://bucket/data.zip" {
		t.Fatalf("unexpected diagnostics: %+v", exhausted)
	}
	if exhausted.Attempts != 3 {
		t.Fatalf("expected 3 recorded attempts, got %d", exhausted.Attempts)
	}
	for _, fragment := range []string{"download", "retries exhausted", "s3://bucket/data.zip"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %q in error %q", fragment, err.Error())
		}
	}
}

func TestExecuteDoesNotRetryValidationErrors(t *testing.T) {
	var slept []time.Duration
	exec := retry.New(
		retry.Policy{MaxAttempts: 4, InitialDelay: time.Second, Multiplier: 2},
		retry.WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
	)

	calls := 0
	wantErr := services.Wrap(services.ErrValidation, "dataset", "split", "train+val ratios reach 1.0", nil)
	err := exec.Execute(context.Background(), "normalize", "/tmp/dataset", func(context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error passthrough, got %v", err)
	}
	if errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("validation failure must not be wrapped as exhaustion: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected single attempt, got %d", calls)
	}
	if len(slept) != 0 {
		t.Fatalf("expected no sleeps, got %v", slept)
	}
}

func TestExecuteConstantDelayWithUnitMultiplier(t *testing.T) {
	var slept []time.Duration
	exec := retry.New(
		retry.Policy{MaxAttempts: 3, InitialDelay: 2 * time.Second, Multiplier: 1},
		retry.WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
	)

	err := exec.Execute(context.Background(), "phase update", "record 7", func(context.Context) error {
		return errors.New("locked")
	})
	if !errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	want := []time.Duration{2 * time.Second, 2 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), slept)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("sleep %d = %v, want %v", i, slept[i], want[i])
		}
	}
}

func TestExecuteHonorsContextCancellation(t *testing.T) {
	exec := retry.New(retry.Policy{MaxAttempts: 5, InitialDelay: time.Minute, Multiplier: 2})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		// Cancel while the executor is in its first backoff sleep.
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := exec.Execute(ctx, "download", "s3://bucket/key", func(context.Context) error {
		calls++
		return errors.New("unreachable host")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt before cancellation, got %d", calls)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("cancellation took too long: %v", elapsed)
	}
}

func TestPolicyDelaySequence(t *testing.T) {
	policy := retry.Policy{MaxAttempts: 4, InitialDelay: time.Second, Multiplier: 2}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, expected := range want {
		if got := policy.Delay(i + 1); got != expected {
			t.Fatalf("Delay(%d) = %v, want %v", i+1, got, expected)
		}
	}

	if got := retry.Default(); got.MaxAttempts != 2 || got.InitialDelay != time.Second || got.Multiplier != 2.0 {
		t.Fatalf("unexpected default policy: %+v", got)
	}
}
