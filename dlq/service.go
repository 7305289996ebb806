package dlq

import (
	"context"
	"log/slog"
	"time"

	"github.com/steadyq/steadyq/id"
	"github.com/steadyq/steadyq/msg"
)

// Service provides high-level dead letter operations over a Store.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a dead letter service. A nil logger gets
// slog.Default().
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// List returns entries, newest first.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, opts)
}

// Get retrieves a single entry by ID.
func (s *Service) Get(ctx context.Context, entryID id.DLQID) (*Entry, error) {
	return s.store.GetDLQ(ctx, entryID)
}

// Requeue moves an entry back into the main queue as a fresh pending
// message. The message keeps its original ID; attempts and error state
// are reset, so it gets a full retry budget again.
func (s *Service) Requeue(ctx context.Context, entryID id.DLQID) (*msg.Message, error) {
	m, err := s.store.RequeueDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("requeued dead letter",
		slog.String("entry_id", entryID.String()),
		slog.String("message_id", m.ID.String()),
		slog.String("kind", m.Kind))
	return m, nil
}

// Purge removes entries that failed before the given time and returns
// how many were removed.
func (s *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	removed, err := s.store.PurgeDLQ(ctx, before)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("purged dead letters", slog.Int64("removed", removed))
	}
	return removed, nil
}

// Count returns the number of entries currently in the dead letter
// queue.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountDLQ(ctx)
}
