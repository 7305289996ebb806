package middleware

import (
	"context"
	"time"

	"github.com/steadyq/steadyq/msg"
)

// Timeout returns middleware that enforces a per-message execution
// deadline. A non-positive duration disables the deadline. When the
// deadline is exceeded the context is cancelled and the handler should
// return context.DeadlineExceeded, which the executor maps to a retry.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *msg.Message, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
