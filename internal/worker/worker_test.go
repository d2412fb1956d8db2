package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"catalogpipe/internal/bus"
	"catalogpipe/internal/catalog"
	"catalogpipe/internal/ledger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testEnv struct {
	store *catalog.Store
	l     *ledger.Ledger
	b     *bus.Bus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := catalog.Open(context.Background(), filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	l := ledger.New(store.DB())
	if err := l.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	b, err := bus.Open(filepath.Join(dir, "bus.db"))
	if err != nil {
		t.Fatalf("bus.Open: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	return &testEnv{store: store, l: l, b: b}
}

func runFor(t *testing.T, c *Consumer, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	c.Run(ctx)
}

func TestConsumerCompletesJobOnSuccess(t *testing.T) {
	env := newTestEnv(t)
	job, err := env.l.Create(context.Background(), ledger.Job{Kind: ledger.KindThumbnail, TargetID: "m1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := env.b.Publish(bus.TopicThumbnail, bus.Message{JobID: job.ID}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var handled atomic.Int32
	c := &Consumer{
		Topic: bus.TopicThumbnail, Bus: env.b, Ledger: env.l, Concurrency: 2,
		PollInterval: 10 * time.Millisecond,
		Handler: func(ctx context.Context, msg bus.Message) error {
			handled.Add(1)
			return nil
		},
	}
	runFor(t, c, 150*time.Millisecond)

	if handled.Load() != 1 {
		t.Fatalf("handled = %d, want 1", handled.Load())
	}
	got, err := env.l.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != ledger.StatusCompleted {
		t.Fatalf("Status = %s, want Completed", got.Status)
	}
	depth, _ := env.b.QueueDepth(bus.TopicThumbnail)
	if depth != 0 {
		t.Fatalf("QueueDepth = %d, want 0", depth)
	}
}

func TestConsumerRetriesThenDeadLettersFailingJob(t *testing.T) {
	env := newTestEnv(t)
	env.b.SetPolicy(bus.TopicCache, bus.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})

	job, err := env.l.Create(context.Background(), ledger.Job{Kind: ledger.KindCache, TargetID: "m1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := env.b.Publish(bus.TopicCache, bus.Message{JobID: job.ID}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	wantErr := errors.New("boom")
	var attempts atomic.Int32
	c := &Consumer{
		Topic: bus.TopicCache, Bus: env.b, Ledger: env.l, Concurrency: 1,
		PollInterval: 5 * time.Millisecond,
		Handler: func(ctx context.Context, msg bus.Message) error {
			attempts.Add(1)
			return wantErr
		},
	}
	runFor(t, c, 300*time.Millisecond)

	if attempts.Load() < 2 {
		t.Fatalf("attempts = %d, want >= 2", attempts.Load())
	}
	got, err := env.l.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != ledger.StatusFailed {
		t.Fatalf("Status = %s, want Failed", got.Status)
	}
	dlqDepth, _ := env.b.DLQDepth(bus.TopicCache)
	if dlqDepth != 1 {
		t.Fatalf("DLQDepth = %d, want 1", dlqDepth)
	}
}

func TestConsumerStopsOnContextCancel(t *testing.T) {
	env := newTestEnv(t)
	c := &Consumer{
		Topic: bus.TopicThumbnail, Bus: env.b, Ledger: env.l, Concurrency: 3,
		PollInterval: 5 * time.Millisecond,
		Handler: func(ctx context.Context, msg bus.Message) error { return nil },
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
