package msg

import (
	"context"
	"time"
)

// DefaultRetryDelay is used by Fail when the caller does not supply a
// retry delay.
const DefaultRetryDelay = 60 * time.Second

// Stats describes the current shape of the queue.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	DeadLetter int `json:"dead_letter"`

	// PriorityDistribution counts pending messages per priority tier.
	PriorityDistribution map[Priority]int `json:"priority_distribution"`

	// AveragePendingAge and OldestPendingAge describe how long pending
	// messages have been waiting.
	AveragePendingAge time.Duration `json:"average_pending_age"`
	OldestPendingAge  time.Duration `json:"oldest_pending_age"`
}

// Store defines the persistence contract for the durable queue.
//
// Implementations must make Dequeue and Fail atomic: a message may never
// be claimed by two concurrent Dequeue calls, and the dead-letter move in
// Fail must delete the main row and insert the dead-letter row in one
// transaction. State survives process restarts.
type Store interface {
	// EnqueueMessage persists a new message in pending state.
	EnqueueMessage(ctx context.Context, m *Message) error

	// DequeueMessages atomically claims up to limit pending messages whose
	// ScheduledAt is due, ordered by priority (descending) then CreatedAt
	// (ascending), marks them processing, and stamps LastAttempt.
	DequeueMessages(ctx context.Context, limit int) ([]*Message, error)

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, msgID string) (*Message, error)

	// CompleteMessage marks a processing message completed. Returns
	// steadyq.ErrMessageNotFound if the ID is not in processing state.
	CompleteMessage(ctx context.Context, msgID string) error

	// FailMessage records a failure for a processing message. If the
	// incremented attempt count reaches MaxAttempts the full record moves
	// to the dead letter store (same transaction); otherwise the message
	// returns to pending with ScheduledAt and NextRetry set now+retryDelay
	// in the future. A non-positive retryDelay falls back to
	// DefaultRetryDelay. Returns steadyq.ErrMessageNotFound if the ID is
	// not in processing state.
	FailMessage(ctx context.Context, msgID string, errMsg string, retryDelay time.Duration) error

	// ReleaseMessage returns a processing message to pending without
	// consuming a retry attempt, rescheduling it delay into the future.
	// Used for messages skipped because no handler is registered.
	ReleaseMessage(ctx context.Context, msgID string, delay time.Duration) error

	// QueueStats returns status counts, the pending priority distribution,
	// the dead letter count, and pending age aggregates.
	QueueStats(ctx context.Context) (*Stats, error)

	// PendingCount returns the number of messages currently eligible for
	// dequeue.
	PendingCount(ctx context.Context) (int, error)

	// CleanupCompleted removes completed messages older than the retention
	// window and returns how many were removed.
	CleanupCompleted(ctx context.Context, olderThan time.Duration) (int64, error)

	// ReclaimStuck returns messages stuck in processing state for longer
	// than age back to pending, reporting how many were reclaimed. This is
	// the crash-recovery escape hatch; callers opt in explicitly.
	ReclaimStuck(ctx context.Context, age time.Duration) (int64, error)
}
