package workflow_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/notifications"
	"loom/internal/queue"
	"loom/internal/services"
	"loom/internal/stage"
	"loom/internal/testsupport"
	"loom/internal/workflow"
)

type stubHandler struct {
	mu         sync.Mutex
	executions int
	prepareErr error
	execErr    error
	onExecute  func(ctx context.Context, record *queue.Record) error
}

func (s *stubHandler) Prepare(context.Context, *queue.Record) error { return s.prepareErr }

func (s *stubHandler) Execute(ctx context.Context, record *queue.Record) error {
	s.mu.Lock()
	s.executions++
	s.mu.Unlock()
	if s.onExecute != nil {
		return s.onExecute(ctx, record)
	}
	return s.execErr
}

func (s *stubHandler) HealthCheck(context.Context) stage.Health { return stage.Healthy("stub") }

func (s *stubHandler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executions
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) seen(event notifications.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return cfg
}

func newRunningManager(t *testing.T, cfg *config.Config, store *queue.Store, notifier notifications.Service, set workflow.StageSet) *workflow.Manager {
	t.Helper()
	manager := workflow.NewManagerWithOptions(cfg, store, logging.NewNop(), notifier,
		workflow.WithPollInterval(20*time.Millisecond),
		workflow.WithErrorRetryInterval(20*time.Millisecond),
	)
	manager.ConfigureStages(set)
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(manager.Stop)
	return manager
}

func waitForPhase(t *testing.T, store *queue.Store, id int64, want queue.Phase) *queue.Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		record, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if record != nil && record.Phase == want {
			return record
		}
		time.Sleep(10 * time.Millisecond)
	}
	record, _ := store.GetByID(context.Background(), id)
	t.Fatalf("record %d never reached %s, last seen %+v", id, want, record)
	return nil
}

func TestManagerAdvancesRecordThroughPipeline(t *testing.T) {
	cfg := newTestConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	record := testsupport.NewRecord(t, store, "Birds Classifier", "classify birds")

	acquisition := &stubHandler{}
	training := &stubHandler{}
	evaluation := &stubHandler{}
	newRunningManager(t, cfg, store, notifications.NewService(cfg), workflow.StageSet{
		Acquisition: acquisition,
		Training:    training,
		Evaluation:  evaluation,
	})

	final := waitForPhase(t, store, record.ID, queue.PhaseCompleted)
	if acquisition.count() != 1 || training.count() != 1 || evaluation.count() != 1 {
		t.Fatalf("expected one execution per stage, got %d/%d/%d",
			acquisition.count(), training.count(), evaluation.count())
	}
	if final.RunLogPath == "" {
		t.Fatal("expected run log path to be persisted")
	}
	if _, err := os.Stat(final.RunLogPath); err != nil {
		t.Fatalf("run log missing: %v", err)
	}
	if final.ErrorMessage != "" {
		t.Fatalf("unexpected error message: %q", final.ErrorMessage)
	}
}

func TestManagerDispatchesAtMostOnceAcrossCycles(t *testing.T) {
	cfg := newTestConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	record := testsupport.NewRecord(t, store, "Slow Run", "slow acquisition")

	release := make(chan struct{})
	acquisition := &stubHandler{onExecute: func(ctx context.Context, _ *queue.Record) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}}
	newRunningManager(t, cfg, store, notifications.NewService(cfg), workflow.StageSet{
		Acquisition: acquisition,
	})

	// Let several poll cycles overlap the blocked stage body.
	time.Sleep(150 * time.Millisecond)
	close(release)

	waitForPhase(t, store, record.ID, queue.PhasePendingTraining)
	if got := acquisition.count(); got != 1 {
		t.Fatalf("record dispatched %d times, want 1", got)
	}
}

func TestManagerFailureNotifiesAndMarksFailed(t *testing.T) {
	cfg := newTestConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	record := testsupport.NewRecord(t, store, "Doomed Run", "fail in training")
	record.Phase = queue.PhasePendingTraining
	if err := store.Update(context.Background(), record); err != nil {
		t.Fatalf("Update: %v", err)
	}

	notifier := &recordingNotifier{}
	training := &stubHandler{
		execErr: services.Wrap(services.ErrExternalTool, "training", "train", "trainer exited 1", nil),
	}
	newRunningManager(t, cfg, store, notifier, workflow.StageSet{Training: training})

	failed := waitForPhase(t, store, record.ID, queue.PhaseFailed)
	if failed.ErrorMessage == "" {
		t.Fatal("expected failure message on record")
	}
	deadline := time.Now().Add(2 * time.Second)
	for !notifier.seen(notifications.EventRunFailed) {
		if time.Now().After(deadline) {
			t.Fatal("run failure notification never published")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestManagerFailureDoesNotStopNextRecord(t *testing.T) {
	cfg := newTestConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	doomed := testsupport.NewRecord(t, store, "Doomed", "fails")
	healthy := testsupport.NewRecord(t, store, "Healthy", "succeeds")

	acquisition := &stubHandler{onExecute: func(_ context.Context, record *queue.Record) error {
		if record.ID == doomed.ID {
			return services.Wrap(services.ErrExternalTool, "acquisition", "search", "no listings", nil)
		}
		return nil
	}}
	newRunningManager(t, cfg, store, notifications.NewService(cfg), workflow.StageSet{
		Acquisition: acquisition,
	})

	waitForPhase(t, store, doomed.ID, queue.PhaseFailed)
	waitForPhase(t, store, healthy.ID, queue.PhasePendingTraining)

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[queue.PhaseFailed] != 1 || stats[queue.PhasePendingTraining] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestManagerReclaimsStaleClaims(t *testing.T) {
	cfg := newTestConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	record := testsupport.NewRecord(t, store, "Orphaned Run", "claim died")
	record.Phase = queue.PhaseTraining
	stale := time.Now().UTC().Add(-time.Hour)
	record.LastHeartbeat = &stale
	if err := store.Update(ctx, record); err != nil {
		t.Fatalf("Update: %v", err)
	}

	training := &stubHandler{}
	newRunningManager(t, cfg, store, notifications.NewService(cfg), workflow.StageSet{Training: training})

	// The claim is reclaimed to pending_training and redispatched.
	waitForPhase(t, store, record.ID, queue.PhasePendingEvaluation)
	if training.count() != 1 {
		t.Fatalf("expected one execution after reclaim, got %d", training.count())
	}
}

func TestManagerStopWaitsForInflightDispatch(t *testing.T) {
	cfg := newTestConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.NewRecord(t, store, "Interrupted Run", "stopped mid-flight")

	started := make(chan struct{})
	var once sync.Once
	acquisition := &stubHandler{onExecute: func(ctx context.Context, _ *queue.Record) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}}
	manager := workflow.NewManagerWithOptions(cfg, store, logging.NewNop(), notifications.NewService(cfg),
		workflow.WithPollInterval(20*time.Millisecond),
	)
	manager.ConfigureStages(workflow.StageSet{Acquisition: acquisition})
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("stage body never started")
	}

	done := make(chan struct{})
	go func() {
		manager.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after cancelling the in-flight dispatch")
	}
}

func TestManagerStartValidation(t *testing.T) {
	cfg := newTestConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	manager := workflow.NewManager(cfg, store, logging.NewNop())
	if err := manager.Start(context.Background()); err == nil {
		t.Fatal("expected error starting without configured stages")
	}

	manager.ConfigureStages(workflow.StageSet{Acquisition: &stubHandler{}})
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(manager.Stop)
	if err := manager.Start(context.Background()); err == nil {
		t.Fatal("expected error starting an already-running manager")
	}
}

func TestManagerStatusSummary(t *testing.T) {
	cfg := newTestConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	record := testsupport.NewRecord(t, store, "Status Run", "status check")

	acquisition := &stubHandler{}
	manager := newRunningManager(t, cfg, store, notifications.NewService(cfg), workflow.StageSet{
		Acquisition: acquisition,
	})
	waitForPhase(t, store, record.ID, queue.PhasePendingTraining)

	summary := manager.Status(context.Background())
	if !summary.Running {
		t.Fatal("expected running manager")
	}
	if summary.LastError != "" {
		t.Fatalf("unexpected last error: %s", summary.LastError)
	}
	if summary.QueueStats[queue.PhasePendingTraining] != 1 {
		t.Fatalf("unexpected stats: %v", summary.QueueStats)
	}
	health, ok := summary.StageHealth["acquisition"]
	if !ok || !health.Ready {
		t.Fatalf("unexpected stage health: %+v", summary.StageHealth)
	}
}

func TestManagerSkipsUnexpectedPoll(t *testing.T) {
	// A record whose phase changed between the poll and the dispatch is an
	// invalid-precondition result, never a failure.
	cfg := newTestConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	record := testsupport.NewRecord(t, store, "Raced Run", "phase raced")

	blocker := make(chan struct{})
	acquisition := &stubHandler{onExecute: func(_ context.Context, rec *queue.Record) error {
		<-blocker
		return nil
	}}
	newRunningManager(t, cfg, store, notifications.NewService(cfg), workflow.StageSet{
		Acquisition: acquisition,
	})

	deadline := time.Now().Add(2 * time.Second)
	for acquisition.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stage never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(blocker)
	waitForPhase(t, store, record.ID, queue.PhasePendingTraining)

	// The completed record never re-enters the pipeline.
	time.Sleep(100 * time.Millisecond)
	if got := acquisition.count(); got != 1 {
		t.Fatalf("expected single dispatch, got %d", got)
	}
	final, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.Phase != queue.PhasePendingTraining {
		t.Fatalf("unexpected phase: %s", final.Phase)
	}
}

func TestInflightGuardBlocksErrorLoopRedispatch(t *testing.T) {
	// A stage error that leaves the phase unchanged (store write failures
	// aside) must not be retried while the original dispatch is live.
	cfg := newTestConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	record := testsupport.NewRecord(t, store, "Sticky Run", "transient store issue")

	var calls int
	var mu sync.Mutex
	acquisition := &stubHandler{onExecute: func(_ context.Context, _ *queue.Record) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return errors.New("flaky backend")
		}
		return nil
	}}
	notifier := &recordingNotifier{}
	newRunningManager(t, cfg, store, notifier, workflow.StageSet{Acquisition: acquisition})

	// First dispatch fails the record; it stays failed (no automatic retry).
	waitForPhase(t, store, record.ID, queue.PhaseFailed)
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	got := calls
	mu.Unlock()
	if got != 1 {
		t.Fatalf("failed record was redispatched %d times", got)
	}
}
