package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/steadyq/steadyq"
	"github.com/steadyq/steadyq/dlq"
	"github.com/steadyq/steadyq/id"
	"github.com/steadyq/steadyq/msg"
)

// ListDLQ returns dead letter entries matching the given options,
// newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []deadLetterModel
	q := s.db.NewSelect().Model(&models)

	if opts.Kind != "" {
		q = q.Where("kind = ?", opts.Kind)
	}

	q = q.Order("failed_at DESC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("steadyq/sqlite: list dead letters: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(models))
	for i := range models {
		e, convErr := fromDeadLetterModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("steadyq/sqlite: list dead letters convert: %w", convErr)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetDLQ retrieves a dead letter entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m := new(deadLetterModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", entryID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, steadyq.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("steadyq/sqlite: get dead letter: %w", err)
	}
	return fromDeadLetterModel(m)
}

// RequeueDLQ atomically deletes the entry and reinserts its original
// message as pending with the same message ID and a reset retry budget.
func (s *Store) RequeueDLQ(ctx context.Context, entryID id.DLQID) (*msg.Message, error) {
	var restored *msg.Message

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		m := new(deadLetterModel)
		err := tx.NewSelect().Model(m).
			Where("id = ?", entryID.String()).
			Limit(1).
			Scan(ctx)
		if err != nil {
			if isNoRows(err) {
				return steadyq.ErrDeadLetterNotFound
			}
			return err
		}

		entry, err := fromDeadLetterModel(m)
		if err != nil {
			return err
		}

		restored, err = entry.Restore()
		if err != nil {
			return err
		}

		model, err := toMessageModel(restored)
		if err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(model).Exec(ctx); err != nil {
			if isDuplicateKey(err) {
				return steadyq.ErrMessageAlreadyExists
			}
			return err
		}

		_, err = tx.NewDelete().
			Model((*deadLetterModel)(nil)).
			Where("id = ?", entryID.String()).
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, wrapStoreErr("requeue dead letter", err)
	}
	return restored, nil
}

// PurgeDLQ removes entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*deadLetterModel)(nil)).
		Where("failed_at < ?", toMillis(before)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("steadyq/sqlite: purge dead letters: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// CountDLQ returns the total number of dead letter entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.db.NewSelect().
		Model((*deadLetterModel)(nil)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("steadyq/sqlite: count dead letters: %w", err)
	}
	return int64(count), nil
}
