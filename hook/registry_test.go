package hook_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/steadyq/steadyq/hook"
	"github.com/steadyq/steadyq/msg"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnMessageEnqueued(_ context.Context, _ *msg.Message) error {
	e.calls = append(e.calls, "OnMessageEnqueued")
	return nil
}

func (e *allHooksExt) OnMessageStarted(_ context.Context, _ *msg.Message) error {
	e.calls = append(e.calls, "OnMessageStarted")
	return nil
}

func (e *allHooksExt) OnMessageCompleted(_ context.Context, _ *msg.Message, _ time.Duration) error {
	e.calls = append(e.calls, "OnMessageCompleted")
	return nil
}

func (e *allHooksExt) OnMessageRetrying(_ context.Context, _ *msg.Message, _ int, _ time.Time) error {
	e.calls = append(e.calls, "OnMessageRetrying")
	return nil
}

func (e *allHooksExt) OnMessageFailed(_ context.Context, _ *msg.Message, _ error) error {
	e.calls = append(e.calls, "OnMessageFailed")
	return nil
}

func (e *allHooksExt) OnMessageDeadLettered(_ context.Context, _ *msg.Message, _ error) error {
	e.calls = append(e.calls, "OnMessageDeadLettered")
	return nil
}

func (e *allHooksExt) OnRateLimited(_ context.Context, _, _, _ string) error {
	e.calls = append(e.calls, "OnRateLimited")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// enqueueOnlyExt only implements the enqueue and complete hooks.
type enqueueOnlyExt struct {
	calls []string
}

func (e *enqueueOnlyExt) Name() string { return "enqueue-only" }

func (e *enqueueOnlyExt) OnMessageEnqueued(_ context.Context, _ *msg.Message) error {
	e.calls = append(e.calls, "OnMessageEnqueued")
	return nil
}

func (e *enqueueOnlyExt) OnMessageCompleted(_ context.Context, _ *msg.Message, _ time.Duration) error {
	e.calls = append(e.calls, "OnMessageCompleted")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnMessageEnqueued(_ context.Context, _ *msg.Message) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allHooksExt{}
	eo := &enqueueOnlyExt{}
	r.Register(all)
	r.Register(eo)

	ctx := context.Background()
	m := msg.New("test-kind", nil)

	// Both implement OnMessageEnqueued → both called.
	r.EmitMessageEnqueued(ctx, m)
	if len(all.calls) != 1 || all.calls[0] != "OnMessageEnqueued" {
		t.Fatalf("all: expected [OnMessageEnqueued], got %v", all.calls)
	}
	if len(eo.calls) != 1 || eo.calls[0] != "OnMessageEnqueued" {
		t.Fatalf("eo: expected [OnMessageEnqueued], got %v", eo.calls)
	}

	// Only all implements OnMessageStarted → eo not called.
	r.EmitMessageStarted(ctx, m)
	if len(all.calls) != 2 || all.calls[1] != "OnMessageStarted" {
		t.Fatalf("all: expected OnMessageStarted as 2nd, got %v", all.calls)
	}
	if len(eo.calls) != 1 {
		t.Fatalf("eo: should still have 1 call, got %v", eo.calls)
	}
}

func TestRegistry_AllMessageHooksFire(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	m := msg.New("test-kind", nil)

	r.EmitMessageEnqueued(ctx, m)
	r.EmitMessageStarted(ctx, m)
	r.EmitMessageCompleted(ctx, m, time.Second)
	r.EmitMessageRetrying(ctx, m, 1, time.Now())
	r.EmitMessageFailed(ctx, m, errors.New("fail"))
	r.EmitMessageDeadLettered(ctx, m, errors.New("dead"))

	expected := []string{
		"OnMessageEnqueued", "OnMessageStarted", "OnMessageCompleted",
		"OnMessageRetrying", "OnMessageFailed", "OnMessageDeadLettered",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_RateLimitedAndShutdownHooksFire(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	r.EmitRateLimited(ctx, "user-1", "generate_image", "rate limit exceeded: 3/3 requests per burst")
	r.EmitShutdown(ctx)

	if len(all.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d: %v", len(all.calls), all.calls)
	}
	if all.calls[0] != "OnRateLimited" {
		t.Errorf("call[0] = %q, want OnRateLimited", all.calls[0])
	}
	if all.calls[1] != "OnShutdown" {
		t.Errorf("call[1] = %q, want OnShutdown", all.calls[1])
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	failing := &failingExt{}
	all := &allHooksExt{}

	// Register failing first, then all-hooks. Both should be called.
	r.Register(failing)
	r.Register(all)

	ctx := context.Background()

	// No panic, no error propagation. allHooksExt should still fire.
	r.EmitMessageEnqueued(ctx, msg.New("test-kind", nil))

	if len(all.calls) != 1 || all.calls[0] != "OnMessageEnqueued" {
		t.Fatalf("all: expected [OnMessageEnqueued] despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := hook.NewRegistry(slog.Default())
	ctx := context.Background()
	m := msg.New("x", nil)

	// None of these should panic or error.
	r.EmitMessageEnqueued(ctx, m)
	r.EmitMessageStarted(ctx, m)
	r.EmitMessageCompleted(ctx, m, time.Second)
	r.EmitMessageRetrying(ctx, m, 1, time.Now())
	r.EmitMessageFailed(ctx, m, errors.New("x"))
	r.EmitMessageDeadLettered(ctx, m, errors.New("x"))
	r.EmitRateLimited(ctx, "u", "op", "reason")
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	ext1 := &allHooksExt{}
	ext2 := &allHooksExt{}
	r.Register(ext1)
	r.Register(ext2)

	ctx := context.Background()
	r.EmitMessageEnqueued(ctx, msg.New("x", nil))

	// Both should be called.
	if len(ext1.calls) != 1 {
		t.Errorf("ext1: expected 1 call, got %d", len(ext1.calls))
	}
	if len(ext2.calls) != 1 {
		t.Errorf("ext2: expected 1 call, got %d", len(ext2.calls))
	}
}
