package msg

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased message handler that accepts the raw JSON
// payload. The typed Definition[T] is converted to a HandlerFunc at
// registration time by closing over JSON unmarshal + the typed handler.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Registry maps message kinds to type-erased handler functions and the
// per-kind enqueue defaults declared on their definitions.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	defaults map[string][]Option
}

// NewRegistry creates an empty kind registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
		defaults: make(map[string][]Option),
	}
}

// RegisterDefinition registers a typed message definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the payload into T
// before calling the typed handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, payload []byte) error {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return fmt.Errorf("unmarshal payload for kind %q: %w", def.Kind, err)
			}
		}
		return def.Handler(ctx, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Kind] = handler
	r.defaults[def.Kind] = def.opts
}

// RegisterFunc registers a raw handler for a kind. Prefer typed
// definitions; this exists for handlers that want the payload bytes as-is.
func (r *Registry) RegisterFunc(kind string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Get returns the handler for the given kind.
// Returns false if no handler is registered.
func (r *Registry) Get(kind string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// DefaultOpts returns the enqueue defaults declared on the kind's
// definition, in declaration order. Nil when the kind declared none or
// is unregistered.
func (r *Registry) DefaultOpts(kind string) []Option {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults[kind]
}

// Kinds returns all registered message kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Definition is a typed message definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Kind is the unique identifier for this message type.
	Kind string

	// Handler is the function that processes the message payload.
	Handler func(ctx context.Context, payload T) error

	// Opts is the resolved view of the enqueue defaults declared on the
	// definition. Messages enqueued for this kind start from these
	// defaults; per-call options still override them.
	Opts Options

	opts []Option
}

// NewDefinition creates a typed message definition. The options become
// the enqueue defaults for every message of this kind once the
// definition is registered.
func NewDefinition[T any](kind string, handler func(ctx context.Context, payload T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Kind:    kind,
		Handler: handler,
		Opts:    DefaultOptions(),
		opts:    opts,
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
