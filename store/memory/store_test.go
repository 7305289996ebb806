package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/steadyq/steadyq"
	"github.com/steadyq/steadyq/dlq"
	"github.com/steadyq/steadyq/msg"
	"github.com/steadyq/steadyq/store/memory"
)

func enqueue(t *testing.T, s *memory.Store, kind string, opts ...msg.Option) *msg.Message {
	t.Helper()
	m := msg.New(kind, []byte(`{}`), opts...)
	if err := s.EnqueueMessage(context.Background(), m); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return m
}

// ──────────────────────────────────────────────────
// Queue lifecycle
// ──────────────────────────────────────────────────

func TestEnqueueDequeue_RoundTrip(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	orig := enqueue(t, s, "send_reminder")

	got, err := s.DequeueMessages(ctx, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("dequeued %d messages, want 1", len(got))
	}
	if got[0].ID != orig.ID {
		t.Errorf("ID = %v, want %v", got[0].ID, orig.ID)
	}
	if got[0].Status != msg.StatusProcessing {
		t.Errorf("Status = %q, want %q", got[0].Status, msg.StatusProcessing)
	}
	if got[0].LastAttempt == nil {
		t.Error("dequeued message must carry LastAttempt")
	}
}

func TestEnqueue_DuplicateIDRejected(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	m := msg.New("send_reminder", nil)
	if err := s.EnqueueMessage(ctx, m); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := s.EnqueueMessage(ctx, m); !errors.Is(err, steadyq.ErrMessageAlreadyExists) {
		t.Errorf("second enqueue err = %v, want ErrMessageAlreadyExists", err)
	}
}

func TestDequeue_PriorityThenFIFO(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	// Enqueue out of order: LOW, then HIGH, then NORMAL.
	low := enqueue(t, s, "task", msg.WithPriority(msg.PriorityLow))
	time.Sleep(time.Millisecond)
	high := enqueue(t, s, "task", msg.WithPriority(msg.PriorityHigh))
	time.Sleep(time.Millisecond)
	normal := enqueue(t, s, "task", msg.WithPriority(msg.PriorityNormal))

	got, err := s.DequeueMessages(ctx, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("dequeued %d messages, want 3", len(got))
	}

	want := []string{high.ID.String(), normal.ID.String(), low.ID.String()}
	for i, w := range want {
		if got[i].ID.String() != w {
			t.Errorf("position %d = %s (priority %v), want %s", i, got[i].ID, got[i].Priority, w)
		}
	}
}

func TestDequeue_FIFOWithinPriorityTier(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	first := enqueue(t, s, "task")
	time.Sleep(time.Millisecond)
	second := enqueue(t, s, "task")

	got, _ := s.DequeueMessages(ctx, 10)
	if len(got) != 2 {
		t.Fatalf("dequeued %d, want 2", len(got))
	}
	if got[0].ID != first.ID || got[1].ID != second.ID {
		t.Error("same-priority messages must dequeue in creation order")
	}
}

func TestDequeue_HonorsScheduledAt(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	enqueue(t, s, "task", msg.WithDelay(time.Hour))
	due := enqueue(t, s, "task")

	got, _ := s.DequeueMessages(ctx, 10)
	if len(got) != 1 {
		t.Fatalf("dequeued %d messages, want only the due one", len(got))
	}
	if got[0].ID != due.ID {
		t.Errorf("dequeued %v, want %v", got[0].ID, due.ID)
	}
}

func TestDequeue_RespectsLimit(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	for range 5 {
		enqueue(t, s, "task")
	}

	got, _ := s.DequeueMessages(ctx, 2)
	if len(got) != 2 {
		t.Errorf("dequeued %d messages, want 2", len(got))
	}
}

func TestDequeue_NeverDoubleClaims(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	for range 20 {
		enqueue(t, s, "task")
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	seen := make(map[string]int)

	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch, err := s.DequeueMessages(ctx, 5)
			if err != nil {
				t.Errorf("dequeue: %v", err)
				return
			}
			mu.Lock()
			for _, m := range batch {
				seen[m.ID.String()]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	for msgID, n := range seen {
		if n > 1 {
			t.Errorf("message %s claimed %d times", msgID, n)
		}
	}
}

func TestComplete_MarksCompleted(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	m := enqueue(t, s, "task")
	s.DequeueMessages(ctx, 1)

	if err := s.CompleteMessage(ctx, m.ID.String()); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, _ := s.GetMessage(ctx, m.ID.String())
	if got.Status != msg.StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, msg.StatusCompleted)
	}
}

func TestComplete_RequiresProcessingState(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	m := enqueue(t, s, "task")

	// Still pending: complete must refuse.
	if err := s.CompleteMessage(ctx, m.ID.String()); !errors.Is(err, steadyq.ErrMessageNotFound) {
		t.Errorf("complete on pending err = %v, want ErrMessageNotFound", err)
	}
	if err := s.CompleteMessage(ctx, "msg_nonexistent"); !errors.Is(err, steadyq.ErrMessageNotFound) {
		t.Errorf("complete on missing err = %v, want ErrMessageNotFound", err)
	}
}

func TestFail_ReschedulesWithBudgetLeft(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	m := enqueue(t, s, "task", msg.WithMaxAttempts(3))
	s.DequeueMessages(ctx, 1)

	if err := s.FailMessage(ctx, m.ID.String(), "provider timeout", 30*time.Second); err != nil {
		t.Fatalf("fail: %v", err)
	}

	got, _ := s.GetMessage(ctx, m.ID.String())
	if got.Status != msg.StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, msg.StatusPending)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}
	if got.ErrorMsg != "provider timeout" {
		t.Errorf("ErrorMsg = %q", got.ErrorMsg)
	}
	if got.NextRetry == nil {
		t.Fatal("NextRetry should be set")
	}
	if !got.ScheduledAt.Equal(*got.NextRetry) {
		t.Error("ScheduledAt should match NextRetry so the reschedule is honored")
	}
	if !got.ScheduledAt.After(time.Now().UTC().Add(20 * time.Second)) {
		t.Errorf("ScheduledAt = %v, want ~30s in the future", got.ScheduledAt)
	}
}

func TestFail_MovesToDeadLetterWhenExhausted(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	m := enqueue(t, s, "flaky_task", msg.WithMaxAttempts(2))

	for attempt := range 2 {
		batch, _ := s.DequeueMessages(ctx, 1)
		if len(batch) != 1 {
			t.Fatalf("attempt %d: dequeued %d, want 1", attempt, len(batch))
		}
		if err := s.FailMessage(ctx, m.ID.String(), "boom", time.Millisecond); err != nil {
			t.Fatalf("fail: %v", err)
		}
		// The retry delay is tiny; wait for eligibility.
		time.Sleep(5 * time.Millisecond)
	}

	// Gone from the main table.
	if _, err := s.GetMessage(ctx, m.ID.String()); !errors.Is(err, steadyq.ErrMessageNotFound) {
		t.Errorf("GetMessage after exhaustion err = %v, want ErrMessageNotFound", err)
	}

	count, _ := s.CountDLQ(ctx)
	if count != 1 {
		t.Errorf("dead letter count = %d, want 1", count)
	}

	entries, _ := s.ListDLQ(ctx, dlq.ListOpts{})
	if len(entries) != 1 {
		t.Fatalf("listed %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.MessageID != m.ID {
		t.Errorf("entry MessageID = %v, want %v", e.MessageID, m.ID)
	}
	if e.Kind != "flaky_task" {
		t.Errorf("entry Kind = %q", e.Kind)
	}
	if e.Attempts != 2 {
		t.Errorf("entry Attempts = %d, want 2", e.Attempts)
	}
	if e.FinalError != "boom" {
		t.Errorf("entry FinalError = %q", e.FinalError)
	}

	stats, _ := s.QueueStats(ctx)
	if stats.Pending != 0 {
		t.Errorf("pending = %d after dead-letter move, want 0", stats.Pending)
	}
}

func TestRelease_DoesNotConsumeAttempt(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	m := enqueue(t, s, "unknown_kind")
	s.DequeueMessages(ctx, 1)

	if err := s.ReleaseMessage(ctx, m.ID.String(), 0); err != nil {
		t.Fatalf("release: %v", err)
	}

	got, _ := s.GetMessage(ctx, m.ID.String())
	if got.Status != msg.StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, msg.StatusPending)
	}
	if got.Attempts != 0 {
		t.Errorf("Attempts = %d, release must not consume the budget", got.Attempts)
	}
}

func TestQueueStats(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	enqueue(t, s, "a", msg.WithPriority(msg.PriorityHigh))
	enqueue(t, s, "b")
	enqueue(t, s, "c")
	done := enqueue(t, s, "d", msg.WithPriority(msg.PriorityCritical))

	s.DequeueMessages(ctx, 1) // claims the critical one
	s.CompleteMessage(ctx, done.ID.String())

	stats, err := s.QueueStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 3 {
		t.Errorf("Pending = %d, want 3", stats.Pending)
	}
	if stats.Completed != 1 {
		t.Errorf("Completed = %d, want 1", stats.Completed)
	}
	if stats.PriorityDistribution[msg.PriorityHigh] != 1 {
		t.Errorf("high-priority pending = %d, want 1", stats.PriorityDistribution[msg.PriorityHigh])
	}
	if stats.PriorityDistribution[msg.PriorityNormal] != 2 {
		t.Errorf("normal-priority pending = %d, want 2", stats.PriorityDistribution[msg.PriorityNormal])
	}
}

func TestPendingCount_ExcludesFutureMessages(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	enqueue(t, s, "task")
	enqueue(t, s, "task", msg.WithDelay(time.Hour))

	count, err := s.PendingCount(ctx)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if count != 1 {
		t.Errorf("PendingCount = %d, want 1", count)
	}
}

func TestCleanupCompleted(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	m := enqueue(t, s, "task")
	s.DequeueMessages(ctx, 1)
	s.CompleteMessage(ctx, m.ID.String())

	// Retention of 0 removes everything completed before now.
	time.Sleep(time.Millisecond)
	removed, err := s.CleanupCompleted(ctx, 0)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := s.GetMessage(ctx, m.ID.String()); !errors.Is(err, steadyq.ErrMessageNotFound) {
		t.Error("completed message should be gone")
	}
}

func TestReclaimStuck(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	m := enqueue(t, s, "task")
	s.DequeueMessages(ctx, 1)

	time.Sleep(5 * time.Millisecond)

	reclaimed, err := s.ReclaimStuck(ctx, time.Millisecond)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed != 1 {
		t.Errorf("reclaimed = %d, want 1", reclaimed)
	}

	got, _ := s.GetMessage(ctx, m.ID.String())
	if got.Status != msg.StatusPending {
		t.Errorf("Status = %q, want %q after reclaim", got.Status, msg.StatusPending)
	}
}

func TestReclaimStuck_LeavesFreshProcessingAlone(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	enqueue(t, s, "task")
	s.DequeueMessages(ctx, 1)

	reclaimed, _ := s.ReclaimStuck(ctx, time.Hour)
	if reclaimed != 0 {
		t.Errorf("reclaimed = %d, want 0 for fresh processing rows", reclaimed)
	}
}

// ──────────────────────────────────────────────────
// DLQ store
// ──────────────────────────────────────────────────

func deadLetter(t *testing.T, s *memory.Store, kind string) *msg.Message {
	t.Helper()
	ctx := context.Background()
	m := enqueue(t, s, kind, msg.WithMaxAttempts(1))
	s.DequeueMessages(ctx, 10)
	if err := s.FailMessage(ctx, m.ID.String(), "terminal", time.Second); err != nil {
		t.Fatalf("fail to dead letter: %v", err)
	}
	return m
}

func TestRequeueDLQ_RestoresSameID(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	m := deadLetter(t, s, "task")
	entries, _ := s.ListDLQ(ctx, dlq.ListOpts{})
	if len(entries) != 1 {
		t.Fatalf("listed %d entries, want 1", len(entries))
	}

	restored, err := s.RequeueDLQ(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if restored.ID != m.ID {
		t.Errorf("restored ID = %v, want original %v", restored.ID, m.ID)
	}
	if restored.Status != msg.StatusPending {
		t.Errorf("restored Status = %q, want %q", restored.Status, msg.StatusPending)
	}
	if restored.Attempts != 0 {
		t.Errorf("restored Attempts = %d, want 0", restored.Attempts)
	}

	// Entry is gone; the message is dequeueable again.
	count, _ := s.CountDLQ(ctx)
	if count != 0 {
		t.Errorf("dead letter count = %d after requeue, want 0", count)
	}
	batch, _ := s.DequeueMessages(ctx, 1)
	if len(batch) != 1 || batch[0].ID != m.ID {
		t.Error("restored message should be dequeueable immediately")
	}
}

func TestRequeueDLQ_MissingEntry(t *testing.T) {
	s := memory.New()

	entry, _ := dlq.NewEntry(msg.New("x", nil), "test")
	if _, err := s.RequeueDLQ(context.Background(), entry.ID); !errors.Is(err, steadyq.ErrDeadLetterNotFound) {
		t.Errorf("err = %v, want ErrDeadLetterNotFound", err)
	}
}

func TestListDLQ_FiltersAndPaginates(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	deadLetter(t, s, "alpha")
	deadLetter(t, s, "beta")
	deadLetter(t, s, "beta")

	all, _ := s.ListDLQ(ctx, dlq.ListOpts{})
	if len(all) != 3 {
		t.Fatalf("listed %d, want 3", len(all))
	}

	betas, _ := s.ListDLQ(ctx, dlq.ListOpts{Kind: "beta"})
	if len(betas) != 2 {
		t.Errorf("kind filter returned %d, want 2", len(betas))
	}

	limited, _ := s.ListDLQ(ctx, dlq.ListOpts{Limit: 1, Offset: 1})
	if len(limited) != 1 {
		t.Errorf("limit/offset returned %d, want 1", len(limited))
	}
}

func TestPurgeDLQ(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	deadLetter(t, s, "old")

	removed, err := s.PurgeDLQ(ctx, time.Now().UTC().Add(time.Second))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	count, _ := s.CountDLQ(ctx)
	if count != 0 {
		t.Errorf("count = %d after purge, want 0", count)
	}
}
