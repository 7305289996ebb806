package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/steadyq/steadyq"
	"github.com/steadyq/steadyq/dlq"
	"github.com/steadyq/steadyq/id"
	"github.com/steadyq/steadyq/msg"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ msg.Store = (*Store)(nil)
	_ dlq.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development;
// it does not survive process restarts.
type Store struct {
	mu sync.RWMutex

	messages map[string]*msg.Message
	dlqs     map[string]*dlq.Entry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		messages: make(map[string]*msg.Message),
		dlqs:     make(map[string]*dlq.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Queue Store
// ──────────────────────────────────────────────────

// EnqueueMessage persists a new message in pending state.
func (m *Store) EnqueueMessage(_ context.Context, message *msg.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := message.ID.String()
	if _, exists := m.messages[key]; exists {
		return steadyq.ErrMessageAlreadyExists
	}
	cp := copyMessage(message)
	m.messages[key] = cp
	return nil
}

// DequeueMessages atomically claims up to limit due pending messages,
// ordered by priority (descending) then creation time (ascending).
func (m *Store) DequeueMessages(_ context.Context, limit int) ([]*msg.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	candidates := make([]*msg.Message, 0, len(m.messages))
	for _, message := range m.messages {
		if message.Status != msg.StatusPending {
			continue
		}
		if message.ScheduledAt.After(now) {
			continue
		}
		candidates = append(candidates, message)
	}

	// Sort: priority DESC, CreatedAt ASC.
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*msg.Message, len(candidates))
	for i, message := range candidates {
		message.Status = msg.StatusProcessing
		n := now
		message.LastAttempt = &n
		message.UpdatedAt = now
		// Return a copy so callers can mutate without racing with the store.
		result[i] = copyMessage(message)
	}

	return result, nil
}

// GetMessage retrieves a message by ID.
func (m *Store) GetMessage(_ context.Context, msgID string) (*msg.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	message, ok := m.messages[msgID]
	if !ok {
		return nil, steadyq.ErrMessageNotFound
	}
	return copyMessage(message), nil
}

// CompleteMessage marks a processing message completed.
func (m *Store) CompleteMessage(_ context.Context, msgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	message, ok := m.messages[msgID]
	if !ok || message.Status != msg.StatusProcessing {
		return steadyq.ErrMessageNotFound
	}

	message.Status = msg.StatusCompleted
	message.UpdatedAt = time.Now().UTC()
	return nil
}

// FailMessage records a failure: reschedule as pending, or move the
// record to the dead letter map when the retry budget is exhausted.
func (m *Store) FailMessage(_ context.Context, msgID string, errMsg string, retryDelay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	message, ok := m.messages[msgID]
	if !ok || message.Status != msg.StatusProcessing {
		return steadyq.ErrMessageNotFound
	}

	now := time.Now().UTC()
	message.Attempts++
	message.ErrorMsg = errMsg
	message.UpdatedAt = now

	if message.Attempts >= message.MaxAttempts {
		message.Status = msg.StatusDeadLetter
		entry, err := dlq.NewEntry(message, "retry budget exhausted")
		if err != nil {
			return err
		}
		m.dlqs[entry.ID.String()] = entry
		delete(m.messages, msgID)
		return nil
	}

	if retryDelay <= 0 {
		retryDelay = msg.DefaultRetryDelay
	}
	next := now.Add(retryDelay)
	message.Status = msg.StatusPending
	message.ScheduledAt = next
	message.NextRetry = &next
	return nil
}

// ReleaseMessage returns a processing message to pending without
// consuming a retry attempt.
func (m *Store) ReleaseMessage(_ context.Context, msgID string, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	message, ok := m.messages[msgID]
	if !ok || message.Status != msg.StatusProcessing {
		return steadyq.ErrMessageNotFound
	}

	now := time.Now().UTC()
	message.Status = msg.StatusPending
	message.ScheduledAt = now.Add(delay)
	message.UpdatedAt = now
	return nil
}

// QueueStats returns status counts, the pending priority distribution,
// and pending age aggregates.
func (m *Store) QueueStats(_ context.Context) (*msg.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UTC()
	stats := &msg.Stats{
		PriorityDistribution: make(map[msg.Priority]int),
	}

	var pendingAgeSum time.Duration
	for _, message := range m.messages {
		switch message.Status {
		case msg.StatusPending:
			stats.Pending++
			stats.PriorityDistribution[message.Priority]++
			age := now.Sub(message.CreatedAt)
			pendingAgeSum += age
			if age > stats.OldestPendingAge {
				stats.OldestPendingAge = age
			}
		case msg.StatusProcessing:
			stats.Processing++
		case msg.StatusCompleted:
			stats.Completed++
		case msg.StatusFailed:
			stats.Failed++
		}
	}
	if stats.Pending > 0 {
		stats.AveragePendingAge = pendingAgeSum / time.Duration(stats.Pending)
	}
	stats.DeadLetter = len(m.dlqs)

	return stats, nil
}

// PendingCount returns the number of messages currently eligible for
// dequeue.
func (m *Store) PendingCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UTC()
	count := 0
	for _, message := range m.messages {
		if message.Status == msg.StatusPending && !message.ScheduledAt.After(now) {
			count++
		}
	}
	return count, nil
}

// CleanupCompleted removes completed messages older than the retention
// window.
func (m *Store) CleanupCompleted(_ context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var count int64
	for key, message := range m.messages {
		if message.Status == msg.StatusCompleted && message.UpdatedAt.Before(cutoff) {
			delete(m.messages, key)
			count++
		}
	}
	return count, nil
}

// ReclaimStuck returns messages stuck in processing longer than age to
// pending state.
func (m *Store) ReclaimStuck(_ context.Context, age time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	cutoff := now.Add(-age)
	var count int64
	for _, message := range m.messages {
		if message.Status != msg.StatusProcessing {
			continue
		}
		if message.LastAttempt != nil && message.LastAttempt.Before(cutoff) {
			message.Status = msg.StatusPending
			message.ScheduledAt = now
			message.UpdatedAt = now
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// ListDLQ returns dead letter entries matching the given options,
// newest first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Kind != "" && e.Kind != opts.Kind {
			continue
		}
		result = append(result, e)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.After(result[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// GetDLQ retrieves a dead letter entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, steadyq.ErrDeadLetterNotFound
	}
	return e, nil
}

// RequeueDLQ atomically deletes the entry and reinserts its original
// message as pending with the same ID and a reset retry budget.
func (m *Store) RequeueDLQ(_ context.Context, entryID id.DLQID) (*msg.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, steadyq.ErrDeadLetterNotFound
	}

	restored, err := e.Restore()
	if err != nil {
		return nil, err
	}

	m.messages[restored.ID.String()] = copyMessage(restored)
	delete(m.dlqs, entryID.String())
	return restored, nil
}

// PurgeDLQ removes entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of dead letter entries.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.dlqs)), nil
}

// copyMessage returns a deep-enough copy: the metadata map is cloned,
// timestamp pointers are re-pointed, payload bytes are shared
// (callers treat payloads as immutable).
func copyMessage(in *msg.Message) *msg.Message {
	cp := *in
	if in.Metadata != nil {
		cp.Metadata = make(map[string]string, len(in.Metadata))
		for k, v := range in.Metadata {
			cp.Metadata[k] = v
		}
	}
	if in.LastAttempt != nil {
		t := *in.LastAttempt
		cp.LastAttempt = &t
	}
	if in.NextRetry != nil {
		t := *in.NextRetry
		cp.NextRetry = &t
	}
	return &cp
}
