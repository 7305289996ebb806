// Package steadyq provides a durable, priority-ordered task-processing
// runtime for Go: a persistent message queue with a dead letter store,
// adaptive retry backoff, multi-window per-user rate limiting, and a
// concurrent batch processor.
//
// Steadyq is designed as a library, not a service. Import it, configure a
// store, register message kinds as ordinary Go functions, and start the
// processor.
//
// # Quick Start
//
//	db, _ := sqlitestore.Open("data/steadyq.db")
//	store := sqlitestore.New(db)
//	eng, err := engine.New(
//	    engine.WithStore(store),
//	    engine.WithConfig(steadyq.DefaultConfig()),
//	)
//
// # Architecture
//
// Each subsystem lives in its own package: msg (message entity, store
// interface, typed kind registry), retry (backoff policies), ratelimit
// (sliding-window admission control), dlq (dead letter inspection and
// requeue), worker (executor and batch processor), middleware
// (cross-cutting execution wrappers), and hook (lifecycle extensions).
// A single backend (store/sqlite for production, store/memory for tests)
// implements the msg and dlq store interfaces.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package steadyq
