package dlq

import (
	"context"
	"time"

	"github.com/steadyq/steadyq/id"
	"github.com/steadyq/steadyq/msg"
)

// ListOpts controls pagination and filtering for dead letter listings.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// Kind filters by message kind. Empty means all kinds.
	Kind string
}

// Store defines the persistence contract for the dead letter queue.
//
// There is no push operation here: the queue store's fail path owns the
// atomic move into the dead letter table, so a message row never exists
// in both places.
type Store interface {
	// ListDLQ returns entries matching the given options, newest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves an entry by ID. Returns
	// steadyq.ErrDeadLetterNotFound if absent.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// RequeueDLQ atomically deletes the entry and reinserts its original
	// message as pending with the same message ID and a reset retry
	// budget. Returns the restored message.
	RequeueDLQ(ctx context.Context, entryID id.DLQID) (*msg.Message, error)

	// PurgeDLQ removes entries with FailedAt before the given time.
	// Returns the number of entries removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of dead letter entries.
	CountDLQ(ctx context.Context) (int64, error)
}
