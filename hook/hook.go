// Package hook defines the extension system for steadyq.
// Extensions are notified of lifecycle events (message enqueued,
// completed, dead-lettered, etc.) and can react to them — logging,
// metrics, alerting, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/steadyq/steadyq/msg"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Message lifecycle hooks
// ──────────────────────────────────────────────────

// MessageEnqueued is called after a message is successfully enqueued.
type MessageEnqueued interface {
	OnMessageEnqueued(ctx context.Context, m *msg.Message) error
}

// MessageStarted is called when the processor begins executing a message.
type MessageStarted interface {
	OnMessageStarted(ctx context.Context, m *msg.Message) error
}

// MessageCompleted is called after a message finishes successfully.
type MessageCompleted interface {
	OnMessageCompleted(ctx context.Context, m *msg.Message, elapsed time.Duration) error
}

// MessageRetrying is called when a message fails but is rescheduled.
type MessageRetrying interface {
	OnMessageRetrying(ctx context.Context, m *msg.Message, attempt int, nextRetry time.Time) error
}

// MessageFailed is called when a message fails terminally.
type MessageFailed interface {
	OnMessageFailed(ctx context.Context, m *msg.Message, err error) error
}

// MessageDeadLettered is called when a message exhausts its retry
// budget and moves to the dead letter queue.
type MessageDeadLettered interface {
	OnMessageDeadLettered(ctx context.Context, m *msg.Message, err error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// RateLimited is called when an admission check denies a request.
type RateLimited interface {
	OnRateLimited(ctx context.Context, userID, operation, reason string) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
