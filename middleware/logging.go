package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/steadyq/steadyq/msg"
)

// Logging returns middleware that logs message start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, m *msg.Message, next Handler) error {
		logger.Info("message started",
			slog.String("kind", m.Kind),
			slog.String("message_id", m.ID.String()),
			slog.String("priority", m.Priority.String()),
			slog.Int("attempt", m.Attempts),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("message failed",
				slog.String("kind", m.Kind),
				slog.String("message_id", m.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("message completed",
				slog.String("kind", m.Kind),
				slog.String("message_id", m.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
