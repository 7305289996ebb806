package msg

import (
	"time"

	"github.com/steadyq/steadyq/id"
)

// Priority determines dequeue ordering. Higher values are dequeued first;
// ties break on creation time (FIFO within a tier).
type Priority int

// Priority levels, lowest to highest.
const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// String returns the priority name in upper case.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Status represents the lifecycle state of a message.
type Status string

const (
	// StatusPending means the message is waiting to be dequeued.
	StatusPending Status = "pending"
	// StatusProcessing means a processor batch currently holds the message.
	StatusProcessing Status = "processing"
	// StatusCompleted means the message was handled successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the message failed and will not be retried.
	StatusFailed Status = "failed"
	// StatusDeadLetter means the message exhausted its retry budget and
	// was moved to the dead letter store.
	StatusDeadLetter Status = "dead_letter"
)

// Message is a unit of work persisted in the durable queue.
//
// Exactly one row per ID exists in either the main messages table or the
// dead letter table, never both. Processing messages always carry a
// non-nil LastAttempt.
type Message struct {
	ID          id.MessageID      `json:"id"`
	Kind        string            `json:"kind"`
	Payload     []byte            `json:"payload"`
	Priority    Priority          `json:"priority"`
	Status      Status            `json:"status"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"max_attempts"`
	LastAttempt *time.Time        `json:"last_attempt,omitempty"`
	NextRetry   *time.Time        `json:"next_retry,omitempty"`
	ErrorMsg    string            `json:"error_message,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
