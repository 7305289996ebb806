package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/steadyq/steadyq"
	"github.com/steadyq/steadyq/dlq"
	"github.com/steadyq/steadyq/msg"
)

// EnqueueMessage persists a new message in pending state.
func (s *Store) EnqueueMessage(ctx context.Context, m *msg.Message) error {
	model, err := toMessageModel(m)
	if err != nil {
		return err
	}
	if _, err := s.db.NewInsert().Model(model).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return steadyq.ErrMessageAlreadyExists
		}
		return fmt.Errorf("steadyq/sqlite: enqueue message: %w", err)
	}
	return nil
}

// DequeueMessages atomically claims up to limit due pending messages.
// The select and the status flip run in one transaction; combined with
// SQLite's single-writer model no message can be claimed twice.
func (s *Store) DequeueMessages(ctx context.Context, limit int) ([]*msg.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	var models []messageModel

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := tx.NewSelect().Model(&models).
			Where("status = ?", string(msg.StatusPending)).
			Where("scheduled_at <= ?", toMillis(now)).
			Order("priority DESC", "created_at ASC").
			Limit(limit).
			Scan(ctx); err != nil {
			return err
		}
		if len(models) == 0 {
			return nil
		}

		ids := make([]string, len(models))
		for i := range models {
			ids[i] = models[i].ID
		}

		_, err := tx.NewUpdate().
			Model((*messageModel)(nil)).
			Set("status = ?", string(msg.StatusProcessing)).
			Set("last_attempt = ?", toMillis(now)).
			Set("updated_at = ?", toMillis(now)).
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("steadyq/sqlite: dequeue messages: %w", err)
	}

	out := make([]*msg.Message, 0, len(models))
	for i := range models {
		m, convErr := fromMessageModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("steadyq/sqlite: dequeue convert: %w", convErr)
		}
		m.Status = msg.StatusProcessing
		last := now
		m.LastAttempt = &last
		m.UpdatedAt = now
		out = append(out, m)
	}
	return out, nil
}

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(ctx context.Context, msgID string) (*msg.Message, error) {
	model := new(messageModel)
	err := s.db.NewSelect().Model(model).
		Where("id = ?", msgID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, steadyq.ErrMessageNotFound
		}
		return nil, fmt.Errorf("steadyq/sqlite: get message: %w", err)
	}
	return fromMessageModel(model)
}

// CompleteMessage marks a processing message completed.
func (s *Store) CompleteMessage(ctx context.Context, msgID string) error {
	now := toMillis(time.Now().UTC())
	res, err := s.db.NewUpdate().
		Model((*messageModel)(nil)).
		Set("status = ?", string(msg.StatusCompleted)).
		Set("updated_at = ?", now).
		Where("id = ?", msgID).
		Where("status = ?", string(msg.StatusProcessing)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("steadyq/sqlite: complete message: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return steadyq.ErrMessageNotFound
	}
	return nil
}

// FailMessage records a failure: reschedule as pending, or move the full
// record to the dead letter table when the retry budget is exhausted.
// The dead-letter insert and the main-table delete share one transaction
// so exactly one row per ID exists in either table.
func (s *Store) FailMessage(ctx context.Context, msgID string, errMsg string, retryDelay time.Duration) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		model := new(messageModel)
		err := tx.NewSelect().Model(model).
			Where("id = ?", msgID).
			Where("status = ?", string(msg.StatusProcessing)).
			Limit(1).
			Scan(ctx)
		if err != nil {
			if isNoRows(err) {
				return steadyq.ErrMessageNotFound
			}
			return err
		}

		message, err := fromMessageModel(model)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		message.Attempts++
		message.ErrorMsg = errMsg
		message.UpdatedAt = now

		if message.Attempts >= message.MaxAttempts {
			message.Status = msg.StatusDeadLetter
			entry, entryErr := dlq.NewEntry(message, "retry budget exhausted")
			if entryErr != nil {
				return entryErr
			}
			if _, insErr := tx.NewInsert().Model(toDeadLetterModel(entry)).Exec(ctx); insErr != nil {
				return insErr
			}
			_, delErr := tx.NewDelete().
				Model((*messageModel)(nil)).
				Where("id = ?", msgID).
				Exec(ctx)
			return delErr
		}

		if retryDelay <= 0 {
			retryDelay = msg.DefaultRetryDelay
		}
		next := now.Add(retryDelay)
		message.Status = msg.StatusPending
		message.ScheduledAt = next
		message.NextRetry = &next

		updated, convErr := toMessageModel(message)
		if convErr != nil {
			return convErr
		}
		_, updErr := tx.NewUpdate().Model(updated).WherePK().Exec(ctx)
		return updErr
	})
	if err != nil {
		return wrapStoreErr("fail message", err)
	}
	return nil
}

// ReleaseMessage returns a processing message to pending without
// consuming a retry attempt.
func (s *Store) ReleaseMessage(ctx context.Context, msgID string, delay time.Duration) error {
	now := time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model((*messageModel)(nil)).
		Set("status = ?", string(msg.StatusPending)).
		Set("scheduled_at = ?", toMillis(now.Add(delay))).
		Set("updated_at = ?", toMillis(now)).
		Where("id = ?", msgID).
		Where("status = ?", string(msg.StatusProcessing)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("steadyq/sqlite: release message: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return steadyq.ErrMessageNotFound
	}
	return nil
}

// QueueStats returns status counts, the pending priority distribution,
// the dead letter count, and pending age aggregates.
func (s *Store) QueueStats(ctx context.Context) (*msg.Stats, error) {
	stats := &msg.Stats{PriorityDistribution: make(map[msg.Priority]int)}

	var statusCounts []struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}
	err := s.db.NewSelect().
		Model((*messageModel)(nil)).
		ColumnExpr("status").
		ColumnExpr("count(*) AS count").
		Group("status").
		Scan(ctx, &statusCounts)
	if err != nil {
		return nil, fmt.Errorf("steadyq/sqlite: queue stats: %w", err)
	}

	for _, sc := range statusCounts {
		switch msg.Status(sc.Status) {
		case msg.StatusPending:
			stats.Pending = sc.Count
		case msg.StatusProcessing:
			stats.Processing = sc.Count
		case msg.StatusCompleted:
			stats.Completed = sc.Count
		case msg.StatusFailed:
			stats.Failed = sc.Count
		}
	}

	var prioCounts []struct {
		Priority int `bun:"priority"`
		Count    int `bun:"count"`
	}
	err = s.db.NewSelect().
		Model((*messageModel)(nil)).
		ColumnExpr("priority").
		ColumnExpr("count(*) AS count").
		Where("status = ?", string(msg.StatusPending)).
		Group("priority").
		Scan(ctx, &prioCounts)
	if err != nil {
		return nil, fmt.Errorf("steadyq/sqlite: priority distribution: %w", err)
	}
	for _, pc := range prioCounts {
		stats.PriorityDistribution[msg.Priority(pc.Priority)] = pc.Count
	}

	nowMs := toMillis(time.Now().UTC())
	var avgAge sql.NullFloat64
	var oldest sql.NullInt64
	err = s.db.NewRaw(
		`SELECT AVG(? - created_at), MIN(created_at) FROM steadyq_messages WHERE status = ?`,
		nowMs, string(msg.StatusPending),
	).Scan(ctx, &avgAge, &oldest)
	if err != nil {
		return nil, fmt.Errorf("steadyq/sqlite: pending ages: %w", err)
	}
	if avgAge.Valid {
		stats.AveragePendingAge = time.Duration(avgAge.Float64) * time.Millisecond
	}
	if oldest.Valid {
		stats.OldestPendingAge = time.Duration(nowMs-oldest.Int64) * time.Millisecond
	}

	deadCount, err := s.CountDLQ(ctx)
	if err != nil {
		return nil, err
	}
	stats.DeadLetter = int(deadCount)

	return stats, nil
}

// PendingCount returns the number of messages currently eligible for
// dequeue.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	count, err := s.db.NewSelect().
		Model((*messageModel)(nil)).
		Where("status = ?", string(msg.StatusPending)).
		Where("scheduled_at <= ?", toMillis(time.Now().UTC())).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("steadyq/sqlite: pending count: %w", err)
	}
	return count, nil
}

// CleanupCompleted removes completed messages whose last update is older
// than the retention window.
func (s *Store) CleanupCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := toMillis(time.Now().UTC().Add(-olderThan))
	res, err := s.db.NewDelete().
		Model((*messageModel)(nil)).
		Where("status = ?", string(msg.StatusCompleted)).
		Where("updated_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("steadyq/sqlite: cleanup completed: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// ReclaimStuck returns messages stuck in processing for longer than age
// back to pending, eligible for immediate dequeue.
func (s *Store) ReclaimStuck(ctx context.Context, age time.Duration) (int64, error) {
	now := time.Now().UTC()
	cutoff := toMillis(now.Add(-age))
	res, err := s.db.NewUpdate().
		Model((*messageModel)(nil)).
		Set("status = ?", string(msg.StatusPending)).
		Set("scheduled_at = ?", toMillis(now)).
		Set("updated_at = ?", toMillis(now)).
		Where("status = ?", string(msg.StatusProcessing)).
		Where("last_attempt IS NOT NULL").
		Where("last_attempt < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("steadyq/sqlite: reclaim stuck: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}
