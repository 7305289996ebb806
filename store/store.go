package store

import (
	"context"

	"github.com/steadyq/steadyq/dlq"
	"github.com/steadyq/steadyq/msg"
)

// Store is the aggregate persistence interface. A single backend
// implements both subsystem contracts so the fail path can move a
// message into the dead letter table in one transaction.
type Store interface {
	msg.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks store connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
