package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/steadyq/steadyq/msg"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type messageEnqueuedEntry struct {
	name string
	hook MessageEnqueued
}

type messageStartedEntry struct {
	name string
	hook MessageStarted
}

type messageCompletedEntry struct {
	name string
	hook MessageCompleted
}

type messageRetryingEntry struct {
	name string
	hook MessageRetrying
}

type messageFailedEntry struct {
	name string
	hook MessageFailed
}

type messageDeadLetteredEntry struct {
	name string
	hook MessageDeadLettered
}

type rateLimitedEntry struct {
	name string
	hook RateLimited
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	messageEnqueued     []messageEnqueuedEntry
	messageStarted      []messageStartedEntry
	messageCompleted    []messageCompletedEntry
	messageRetrying     []messageRetryingEntry
	messageFailed       []messageFailedEntry
	messageDeadLettered []messageDeadLetteredEntry
	rateLimited         []rateLimitedEntry
	shutdown            []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(MessageEnqueued); ok {
		r.messageEnqueued = append(r.messageEnqueued, messageEnqueuedEntry{name, h})
	}
	if h, ok := e.(MessageStarted); ok {
		r.messageStarted = append(r.messageStarted, messageStartedEntry{name, h})
	}
	if h, ok := e.(MessageCompleted); ok {
		r.messageCompleted = append(r.messageCompleted, messageCompletedEntry{name, h})
	}
	if h, ok := e.(MessageRetrying); ok {
		r.messageRetrying = append(r.messageRetrying, messageRetryingEntry{name, h})
	}
	if h, ok := e.(MessageFailed); ok {
		r.messageFailed = append(r.messageFailed, messageFailedEntry{name, h})
	}
	if h, ok := e.(MessageDeadLettered); ok {
		r.messageDeadLettered = append(r.messageDeadLettered, messageDeadLetteredEntry{name, h})
	}
	if h, ok := e.(RateLimited); ok {
		r.rateLimited = append(r.rateLimited, rateLimitedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Message event emitters
// ──────────────────────────────────────────────────

// EmitMessageEnqueued notifies all extensions that implement MessageEnqueued.
func (r *Registry) EmitMessageEnqueued(ctx context.Context, m *msg.Message) {
	for _, e := range r.messageEnqueued {
		if err := e.hook.OnMessageEnqueued(ctx, m); err != nil {
			r.logHookError("OnMessageEnqueued", e.name, err)
		}
	}
}

// EmitMessageStarted notifies all extensions that implement MessageStarted.
func (r *Registry) EmitMessageStarted(ctx context.Context, m *msg.Message) {
	for _, e := range r.messageStarted {
		if err := e.hook.OnMessageStarted(ctx, m); err != nil {
			r.logHookError("OnMessageStarted", e.name, err)
		}
	}
}

// EmitMessageCompleted notifies all extensions that implement MessageCompleted.
func (r *Registry) EmitMessageCompleted(ctx context.Context, m *msg.Message, elapsed time.Duration) {
	for _, e := range r.messageCompleted {
		if err := e.hook.OnMessageCompleted(ctx, m, elapsed); err != nil {
			r.logHookError("OnMessageCompleted", e.name, err)
		}
	}
}

// EmitMessageRetrying notifies all extensions that implement MessageRetrying.
func (r *Registry) EmitMessageRetrying(ctx context.Context, m *msg.Message, attempt int, nextRetry time.Time) {
	for _, e := range r.messageRetrying {
		if err := e.hook.OnMessageRetrying(ctx, m, attempt, nextRetry); err != nil {
			r.logHookError("OnMessageRetrying", e.name, err)
		}
	}
}

// EmitMessageFailed notifies all extensions that implement MessageFailed.
func (r *Registry) EmitMessageFailed(ctx context.Context, m *msg.Message, msgErr error) {
	for _, e := range r.messageFailed {
		if err := e.hook.OnMessageFailed(ctx, m, msgErr); err != nil {
			r.logHookError("OnMessageFailed", e.name, err)
		}
	}
}

// EmitMessageDeadLettered notifies all extensions that implement MessageDeadLettered.
func (r *Registry) EmitMessageDeadLettered(ctx context.Context, m *msg.Message, msgErr error) {
	for _, e := range r.messageDeadLettered {
		if err := e.hook.OnMessageDeadLettered(ctx, m, msgErr); err != nil {
			r.logHookError("OnMessageDeadLettered", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitRateLimited notifies all extensions that implement RateLimited.
func (r *Registry) EmitRateLimited(ctx context.Context, userID, operation, reason string) {
	for _, e := range r.rateLimited {
		if err := e.hook.OnRateLimited(ctx, userID, operation, reason); err != nil {
			r.logHookError("OnRateLimited", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hookName, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hookName),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
