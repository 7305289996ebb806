package dlq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/steadyq/steadyq/id"
	"github.com/steadyq/steadyq/msg"
)

// Entry represents a message that exhausted its retry budget and was
// moved out of the main queue for inspection or requeue.
type Entry struct {
	ID          id.DLQID     `json:"id"`
	MessageID   id.MessageID `json:"message_id"`
	Kind        string       `json:"kind"`
	Message     []byte       `json:"message"`
	Reason      string       `json:"reason"`
	FinalError  string       `json:"final_error"`
	Attempts    int          `json:"attempts"`
	MaxAttempts int          `json:"max_attempts"`
	FailedAt    time.Time    `json:"failed_at"`
	CreatedAt   time.Time    `json:"created_at"`
}

// NewEntry builds a dead letter entry from a failed message, preserving
// the full serialized record for later requeue.
func NewEntry(m *msg.Message, reason string) (*Entry, error) {
	serialized, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("dlq: serialize message %s: %w", m.ID, err)
	}

	now := time.Now().UTC()
	return &Entry{
		ID:          id.NewDLQID(),
		MessageID:   m.ID,
		Kind:        m.Kind,
		Message:     serialized,
		Reason:      reason,
		FinalError:  m.ErrorMsg,
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		FailedAt:    now,
		CreatedAt:   now,
	}, nil
}

// Restore deserializes the original message and resets it to a fresh
// pending state: same ID, zero attempts, cleared error and retry
// timestamps, eligible for immediate dequeue.
func (e *Entry) Restore() (*msg.Message, error) {
	var m msg.Message
	if err := json.Unmarshal(e.Message, &m); err != nil {
		return nil, fmt.Errorf("dlq: deserialize entry %s: %w", e.ID, err)
	}

	now := time.Now().UTC()
	m.Status = msg.StatusPending
	m.Attempts = 0
	m.LastAttempt = nil
	m.NextRetry = nil
	m.ErrorMsg = ""
	m.ScheduledAt = now
	m.UpdatedAt = now
	return &m, nil
}
