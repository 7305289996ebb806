package msg

import (
	"time"

	"github.com/steadyq/steadyq/id"
)

// Options configures how a message is enqueued.
type Options struct {
	// Priority determines dequeue ordering. Defaults to PriorityNormal.
	Priority Priority

	// Delay postpones the first dequeue by the given duration.
	// Zero means the message is eligible immediately.
	Delay time.Duration

	// MaxAttempts is the retry budget. Once Attempts reaches this value the
	// message moves to the dead letter store. Defaults to 3.
	MaxAttempts int

	// Metadata carries caller-supplied key/value pairs with the message.
	Metadata map[string]string
}

// DefaultOptions returns the options applied when none are given.
func DefaultOptions() Options {
	return Options{
		Priority:    PriorityNormal,
		MaxAttempts: 3,
	}
}

// Option mutates enqueue options.
type Option func(*Options)

// WithPriority sets the message priority.
func WithPriority(p Priority) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithDelay postpones the first dequeue.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.Delay = d
	}
}

// WithMaxAttempts sets the retry budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithMetadata attaches a metadata key/value pair. May be applied
// multiple times.
func WithMetadata(key, value string) Option {
	return func(o *Options) {
		if o.Metadata == nil {
			o.Metadata = make(map[string]string)
		}
		o.Metadata[key] = value
	}
}

// New builds a pending message for the given kind and payload with the
// supplied options applied.
func New(kind string, payload []byte, opts ...Option) *Message {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	now := time.Now().UTC()

	return &Message{
		ID:          id.NewMessageID(),
		Kind:        kind,
		Payload:     payload,
		Priority:    options.Priority,
		Status:      StatusPending,
		MaxAttempts: options.MaxAttempts,
		Metadata:    options.Metadata,
		CreatedAt:   now,
		ScheduledAt: now.Add(options.Delay),
		UpdatedAt:   now,
	}
}
