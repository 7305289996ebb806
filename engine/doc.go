// Package engine wires the steadyq subsystems together — durable
// queue, rate limiter, retry policy, batch processor, hooks — and
// provides the primary application-level API for registering kinds and
// enqueuing messages.
//
// The engine package exists to break an import cycle: the root steadyq
// package defines Config and the sentinel errors (imported by msg, the
// stores, and the worker) and therefore cannot import those packages
// back. Engine sits above all subsystem packages and below the
// application layer.
//
// # Building an Engine
//
//	db, err := sqlite.Open(cfg.StorePath)
//	if err != nil { ... }
//	defer db.Close()
//
//	st := sqlite.New(db)
//	if err := st.Migrate(ctx); err != nil { ... }
//
//	eng, err := engine.New(
//	    engine.WithStore(st),
//	    engine.WithConfig(cfg),
//	    engine.WithLogger(logger),
//	)
//
// # Registering and enqueuing
//
//	engine.RegisterKind(eng, msg.NewDefinition("send-email", sendEmail))
//
//	engine.Enqueue(ctx, eng, "send-email", EmailInput{To: "user@example.com"},
//	    msg.WithPriority(msg.PriorityHigh))
//
//	// Per-user rate-limited enqueue; the kind doubles as the operation.
//	engine.EnqueueFor(ctx, eng, userID, "generate_image", input)
//
// # Options
//
//   - [WithStore] — set the persistence backend (required)
//   - [WithConfig] — engine configuration (batch size, intervals, retries)
//   - [WithPolicy] — set the retry delay strategy
//   - [WithLimiter] — set the per-user rate limiter
//   - [WithMiddleware] — add a middleware to the execution chain
//   - [WithHook] — register a lifecycle extension
//   - [WithTracerProvider] / [WithMeterProvider] — OpenTelemetry providers
package engine
