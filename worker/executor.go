package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/steadyq/steadyq"
	"github.com/steadyq/steadyq/hook"
	"github.com/steadyq/steadyq/middleware"
	"github.com/steadyq/steadyq/msg"
	"github.com/steadyq/steadyq/retry"
)

// Executor runs a single message through the middleware chain and the
// registered handler, then classifies the result into an Outcome. It
// never touches the store — the processor owns the write-back.
type Executor struct {
	registry *msg.Registry
	hooks    *hook.Registry
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *msg.Registry,
	hooks *hook.Registry,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if hooks == nil {
		hooks = hook.NewRegistry(logger)
	}
	return &Executor{
		registry: registry,
		hooks:    hooks,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute runs a message through the middleware chain and handler and
// returns the outcome plus the handler error, if any. A message whose
// kind has no registered handler is skipped, not failed: handlers may
// register later (rolling deploys), so the message keeps its attempts.
func (e *Executor) Execute(ctx context.Context, m *msg.Message) (Outcome, error) {
	handler, ok := e.registry.Get(m.Kind)
	if !ok {
		return OutcomeSkip, fmt.Errorf("no handler registered for kind %q", m.Kind)
	}

	e.hooks.EmitMessageStarted(ctx, m)
	start := time.Now()

	terminal := func(ctx context.Context) error {
		return handler(ctx, m.Payload)
	}

	err := e.mw(ctx, m, terminal)
	elapsed := time.Since(start)

	if err != nil {
		e.logger.Debug("message execution failed",
			slog.String("message_id", m.ID.String()),
			slog.String("kind", m.Kind),
			slog.Int("attempt", m.Attempts+1),
			slog.String("error", err.Error()),
		)
		return classify(err), err
	}

	e.hooks.EmitMessageCompleted(ctx, m, elapsed)
	return OutcomeSuccess, nil
}

// classify maps a handler error to an outcome. Explicit sentinels win;
// everything else falls through to the retry policy's error taxonomy.
func classify(err error) Outcome {
	switch {
	case errors.Is(err, context.Canceled):
		// Cancellation is a shutdown signal, not a handler failure; the
		// message is released without consuming an attempt.
		return OutcomeSkip
	case errors.Is(err, steadyq.ErrPermanent):
		return OutcomeFailure
	case errors.Is(err, steadyq.ErrRetry):
		return OutcomeRetry
	case retry.Retryable(err):
		return OutcomeRetry
	default:
		return OutcomeFailure
	}
}
