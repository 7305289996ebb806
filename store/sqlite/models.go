package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/steadyq/steadyq/dlq"
	"github.com/steadyq/steadyq/id"
	"github.com/steadyq/steadyq/msg"
)

// Timestamps are stored as unix milliseconds: SQLite has no native
// timestamp type, and integer comparisons keep the dequeue index usable.

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func toMillisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := toMillis(*t)
	return &ms
}

func fromMillisPtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := fromMillis(*ms)
	return &t
}

// ── Message model ─────────────────────────────────────────────────

type messageModel struct {
	bun.BaseModel `bun:"table:steadyq_messages"`

	ID          string `bun:"id,pk"`
	Kind        string `bun:"kind,notnull"`
	Payload     []byte `bun:"payload,type:blob"`
	Priority    int    `bun:"priority,notnull,default:2"`
	Status      string `bun:"status,notnull,default:'pending'"`
	Attempts    int    `bun:"attempts,notnull,default:0"`
	MaxAttempts int    `bun:"max_attempts,notnull,default:3"`
	LastAttempt *int64 `bun:"last_attempt"`
	NextRetry   *int64 `bun:"next_retry"`
	ErrorMsg    string `bun:"error_message"`
	Metadata    []byte `bun:"metadata,type:blob"`
	CreatedAt   int64  `bun:"created_at,notnull"`
	ScheduledAt int64  `bun:"scheduled_at,notnull"`
	UpdatedAt   int64  `bun:"updated_at,notnull"`
}

func toMessageModel(m *msg.Message) (*messageModel, error) {
	var meta []byte
	if len(m.Metadata) > 0 {
		var err error
		meta, err = json.Marshal(m.Metadata)
		if err != nil {
			return nil, fmt.Errorf("steadyq/sqlite: marshal metadata for %s: %w", m.ID, err)
		}
	}

	return &messageModel{
		ID:          m.ID.String(),
		Kind:        m.Kind,
		Payload:     m.Payload,
		Priority:    int(m.Priority),
		Status:      string(m.Status),
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		LastAttempt: toMillisPtr(m.LastAttempt),
		NextRetry:   toMillisPtr(m.NextRetry),
		ErrorMsg:    m.ErrorMsg,
		Metadata:    meta,
		CreatedAt:   toMillis(m.CreatedAt),
		ScheduledAt: toMillis(m.ScheduledAt),
		UpdatedAt:   toMillis(m.UpdatedAt),
	}, nil
}

func fromMessageModel(m *messageModel) (*msg.Message, error) {
	parsedID, err := id.ParseMessageID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("steadyq/sqlite: parse message id %q: %w", m.ID, err)
	}

	var meta map[string]string
	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &meta); err != nil {
			return nil, fmt.Errorf("steadyq/sqlite: unmarshal metadata for %s: %w", m.ID, err)
		}
	}

	return &msg.Message{
		ID:          parsedID,
		Kind:        m.Kind,
		Payload:     m.Payload,
		Priority:    msg.Priority(m.Priority),
		Status:      msg.Status(m.Status),
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		LastAttempt: fromMillisPtr(m.LastAttempt),
		NextRetry:   fromMillisPtr(m.NextRetry),
		ErrorMsg:    m.ErrorMsg,
		Metadata:    meta,
		CreatedAt:   fromMillis(m.CreatedAt),
		ScheduledAt: fromMillis(m.ScheduledAt),
		UpdatedAt:   fromMillis(m.UpdatedAt),
	}, nil
}

// ── Dead letter model ─────────────────────────────────────────────

type deadLetterModel struct {
	bun.BaseModel `bun:"table:steadyq_dead_letters"`

	ID          string `bun:"id,pk"`
	MessageID   string `bun:"message_id,notnull"`
	Kind        string `bun:"kind,notnull"`
	Message     []byte `bun:"message,notnull,type:blob"`
	Reason      string `bun:"reason"`
	FinalError  string `bun:"final_error"`
	Attempts    int    `bun:"attempts,notnull"`
	MaxAttempts int    `bun:"max_attempts,notnull"`
	FailedAt    int64  `bun:"failed_at,notnull"`
	CreatedAt   int64  `bun:"created_at,notnull"`
}

func toDeadLetterModel(e *dlq.Entry) *deadLetterModel {
	return &deadLetterModel{
		ID:          e.ID.String(),
		MessageID:   e.MessageID.String(),
		Kind:        e.Kind,
		Message:     e.Message,
		Reason:      e.Reason,
		FinalError:  e.FinalError,
		Attempts:    e.Attempts,
		MaxAttempts: e.MaxAttempts,
		FailedAt:    toMillis(e.FailedAt),
		CreatedAt:   toMillis(e.CreatedAt),
	}
}

func fromDeadLetterModel(m *deadLetterModel) (*dlq.Entry, error) {
	parsedID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("steadyq/sqlite: parse dead letter id %q: %w", m.ID, err)
	}

	parsedMsgID, err := id.ParseMessageID(m.MessageID)
	if err != nil {
		return nil, fmt.Errorf("steadyq/sqlite: parse message id %q: %w", m.MessageID, err)
	}

	return &dlq.Entry{
		ID:          parsedID,
		MessageID:   parsedMsgID,
		Kind:        m.Kind,
		Message:     m.Message,
		Reason:      m.Reason,
		FinalError:  m.FinalError,
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		FailedAt:    fromMillis(m.FailedAt),
		CreatedAt:   fromMillis(m.CreatedAt),
	}, nil
}
