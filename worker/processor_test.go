package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/steadyq/steadyq"
	"github.com/steadyq/steadyq/hook"
	"github.com/steadyq/steadyq/middleware"
	"github.com/steadyq/steadyq/msg"
	"github.com/steadyq/steadyq/retry"
	"github.com/steadyq/steadyq/store/memory"
	"github.com/steadyq/steadyq/worker"
)

func setupProcessor(t *testing.T, opts ...worker.Option) (
	*worker.Processor, *memory.Store, *msg.Registry, *trackingExt,
) {
	t.Helper()
	logger := testLogger()
	s := memory.New()
	reg := msg.NewRegistry()
	hooks := hook.NewRegistry(logger)
	tracker := &trackingExt{}
	hooks.Register(tracker)

	executor := worker.NewExecutor(reg, hooks, logger, middleware.Recover(logger))

	base := []worker.Option{
		worker.WithInterval(10 * time.Millisecond),
		worker.WithBatchSize(5),
	}
	p := worker.NewProcessor(s, executor, hooks, retry.FastRetry(), logger, append(base, opts...)...)
	return p, s, reg, tracker
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func stopProcessor(t *testing.T, p *worker.Processor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestProcessor_StartStop(t *testing.T) {
	p, _, _, _ := setupProcessor(t)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	// Double start is a no-op.
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("double start error: %v", err)
	}
	if !p.Running() {
		t.Error("expected Running() == true after Start")
	}

	stopProcessor(t, p)
	if p.Running() {
		t.Error("expected Running() == false after Stop")
	}

	// Double stop is a no-op.
	stopProcessor(t, p)
}

func TestProcessor_ProcessesMessage(t *testing.T) {
	p, s, reg, tracker := setupProcessor(t)

	type greeting struct {
		Name string `json:"name"`
	}
	msg.RegisterDefinition(reg, msg.NewDefinition("greet", func(_ context.Context, g greeting) error {
		if g.Name != "Alice" {
			t.Errorf("payload.Name = %q, want %q", g.Name, "Alice")
		}
		return nil
	}))

	payload, _ := json.Marshal(greeting{Name: "Alice"})
	m := msg.New("greet", payload)
	if err := s.EnqueueMessage(context.Background(), m); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, func() bool {
		got, err := s.GetMessage(context.Background(), m.ID.String())
		return err == nil && got.Status == msg.StatusCompleted
	}, "message completion")

	stopProcessor(t, p)

	if !tracker.started.Load() || !tracker.completed.Load() {
		t.Error("expected started and completed hooks to fire")
	}

	stats := p.Stats()
	if stats.Succeeded != 1 {
		t.Errorf("Succeeded = %d, want 1", stats.Succeeded)
	}
	if stats.TotalProcessed != 1 {
		t.Errorf("TotalProcessed = %d, want 1", stats.TotalProcessed)
	}
}

func TestProcessor_RetriesFailedMessage(t *testing.T) {
	p, s, reg, tracker := setupProcessor(t)

	reg.RegisterFunc("flaky", func(_ context.Context, _ []byte) error {
		return steadyq.ErrRetry
	})

	m := msg.New("flaky", nil, msg.WithMaxAttempts(3))
	if err := s.EnqueueMessage(context.Background(), m); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, func() bool {
		got, err := s.GetMessage(context.Background(), m.ID.String())
		return err == nil && got.Attempts >= 1
	}, "first failed attempt")

	stopProcessor(t, p)

	got, err := s.GetMessage(context.Background(), m.ID.String())
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got.Status != msg.StatusPending && got.Status != msg.StatusProcessing {
		t.Errorf("status = %q, want pending or processing", got.Status)
	}
	if got.Status == msg.StatusPending && got.NextRetry == nil {
		t.Error("expected NextRetry to be set on a pending retry")
	}
	if got.ErrorMsg == "" {
		t.Error("expected ErrorMsg to be recorded")
	}
	if !tracker.retrying.Load() {
		t.Error("expected OnMessageRetrying to fire")
	}
}

func TestProcessor_DeadLettersExhaustedMessage(t *testing.T) {
	p, s, reg, tracker := setupProcessor(t)

	reg.RegisterFunc("doomed", func(_ context.Context, _ []byte) error {
		return errors.New("schema mismatch")
	})

	m := msg.New("doomed", nil, msg.WithMaxAttempts(1))
	if err := s.EnqueueMessage(context.Background(), m); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, func() bool {
		n, err := s.CountDLQ(context.Background())
		return err == nil && n == 1
	}, "dead letter entry")

	stopProcessor(t, p)

	if _, err := s.GetMessage(context.Background(), m.ID.String()); !errors.Is(err, steadyq.ErrMessageNotFound) {
		t.Errorf("expected message gone from main table, got err %v", err)
	}
	if !tracker.failed.Load() {
		t.Error("expected OnMessageFailed to fire")
	}
	if !tracker.deadLettered.Load() {
		t.Error("expected OnMessageDeadLettered to fire")
	}

	stats := p.Stats()
	if stats.DeadLettered != 1 {
		t.Errorf("DeadLettered = %d, want 1", stats.DeadLettered)
	}
}

func TestProcessor_SkipsUnknownKindWithoutConsumingAttempt(t *testing.T) {
	p, s, _, _ := setupProcessor(t)

	m := msg.New("unregistered", nil)
	if err := s.EnqueueMessage(context.Background(), m); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, func() bool {
		return p.Stats().Skipped >= 1
	}, "skip outcome")

	stopProcessor(t, p)

	got, err := s.GetMessage(context.Background(), m.ID.String())
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0 (skips are attempt-neutral)", got.Attempts)
	}
	if got.Status != msg.StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
}

func TestProcessor_HigherPriorityFirst(t *testing.T) {
	p, s, reg, _ := setupProcessor(t, worker.WithBatchSize(1))

	var mu sync.Mutex
	var order []string
	reg.RegisterFunc("report", func(_ context.Context, payload []byte) error {
		mu.Lock()
		order = append(order, string(payload))
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	low := msg.New("report", []byte("low"), msg.WithPriority(msg.PriorityLow))
	normal := msg.New("report", []byte("normal"), msg.WithPriority(msg.PriorityNormal))
	high := msg.New("report", []byte("high"), msg.WithPriority(msg.PriorityHigh))
	for _, m := range []*msg.Message{low, normal, high} {
		if err := s.EnqueueMessage(ctx, m); err != nil {
			t.Fatalf("enqueue error: %v", err)
		}
	}

	if err := p.Start(ctx); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, "all three messages")

	stopProcessor(t, p)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"high", "normal", "low"}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("processing order = %v, want %v", order, want)
		}
	}
}

func TestProcessor_AdaptiveBatchSizeGrows(t *testing.T) {
	p, s, reg, _ := setupProcessor(t, worker.WithBatchSize(2))

	reg.RegisterFunc("quick", func(_ context.Context, _ []byte) error {
		return nil
	})

	ctx := context.Background()
	const total = 30
	for range total {
		if err := s.EnqueueMessage(ctx, msg.New("quick", nil)); err != nil {
			t.Fatalf("enqueue error: %v", err)
		}
	}

	if err := p.Start(ctx); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, func() bool {
		return p.Stats().Succeeded == total
	}, "all messages processed")

	stopProcessor(t, p)

	// Fast, fully successful batches grow the batch size (+2 per batch).
	if got := p.BatchSize(); got <= 2 {
		t.Errorf("BatchSize = %d, want > 2 after fast successful batches", got)
	}
}

func TestProcessor_StopWaitsForInFlightBatch(t *testing.T) {
	p, s, reg, _ := setupProcessor(t)

	started := make(chan struct{})
	reg.RegisterFunc("slow", func(_ context.Context, _ []byte) error {
		close(started)
		time.Sleep(150 * time.Millisecond)
		return nil
	})

	m := msg.New("slow", nil)
	if err := s.EnqueueMessage(context.Background(), m); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	<-started

	// Graceful stop must wait for the batch and land the write-back.
	stopProcessor(t, p)

	got, err := s.GetMessage(context.Background(), m.ID.String())
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got.Status != msg.StatusCompleted {
		t.Errorf("status after graceful stop = %q, want completed", got.Status)
	}
}

func TestProcessor_HealthCheck(t *testing.T) {
	p, s, _, _ := setupProcessor(t)

	ctx := context.Background()
	if err := s.EnqueueMessage(ctx, msg.New("anything", nil)); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	h, err := p.HealthCheck(ctx)
	if err != nil {
		t.Fatalf("health check error: %v", err)
	}
	if !h.Healthy {
		t.Errorf("expected healthy processor, issues: %v", h.Issues)
	}
	if h.Pending != 1 {
		t.Errorf("Pending = %d, want 1", h.Pending)
	}
}

func TestProcessor_ResetStats(t *testing.T) {
	p, s, reg, _ := setupProcessor(t)

	reg.RegisterFunc("quick", func(_ context.Context, _ []byte) error { return nil })
	if err := s.EnqueueMessage(context.Background(), msg.New("quick", nil)); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, func() bool { return p.Stats().Succeeded == 1 }, "one success")
	stopProcessor(t, p)

	p.ResetStats()
	stats := p.Stats()
	if stats.TotalProcessed != 0 || stats.Succeeded != 0 {
		t.Errorf("expected zeroed stats after reset, got %+v", stats)
	}
}
