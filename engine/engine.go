package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steadyq/steadyq"
	"github.com/steadyq/steadyq/dlq"
	"github.com/steadyq/steadyq/hook"
	"github.com/steadyq/steadyq/id"
	mw "github.com/steadyq/steadyq/middleware"
	"github.com/steadyq/steadyq/msg"
	"github.com/steadyq/steadyq/observability"
	"github.com/steadyq/steadyq/ratelimit"
	"github.com/steadyq/steadyq/retry"
	"github.com/steadyq/steadyq/store"
	"github.com/steadyq/steadyq/worker"
)

// Engine wires the queue, rate limiter, retry policy, and batch
// processor into one runtime with Register/Enqueue/Start/Stop
// operations.
type Engine struct {
	cfg      steadyq.Config
	store    store.Store
	logger   *slog.Logger
	hooks    *hook.Registry
	registry *msg.Registry
	policy   worker.DelayStrategy
	limiter  *ratelimit.Limiter
	dlqSvc   *dlq.Service

	processor *worker.Processor

	mws        []mw.Middleware
	extensions []hook.Extension

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the persistence backend. Required.
func WithStore(s store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithConfig sets the engine configuration. Defaults to
// steadyq.DefaultConfig() when unset.
func WithConfig(cfg steadyq.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the logger for the engine and all subsystems it
// creates.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPolicy sets the retry delay strategy. Defaults to an exponential
// policy built from the config's retry settings.
func WithPolicy(p worker.DelayStrategy) Option {
	return func(e *Engine) {
		if p != nil {
			e.policy = p
		}
	}
}

// WithLimiter sets the per-user rate limiter. Defaults to
// ratelimit.New() with the standard limits table.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(e *Engine) {
		if l != nil {
			e.limiter = l
		}
	}
}

// WithMiddleware appends middleware to the execution chain, after the
// default recover/tracing/metrics/logging/timeout stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, m) }
}

// WithHook registers a lifecycle extension.
func WithHook(ext hook.Extension) Option {
	return func(e *Engine) { e.extensions = append(e.extensions, ext) }
}

// WithTracerProvider sets a custom OTel TracerProvider. When unset the
// global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for both the
// metrics middleware and the observability extension. When unset the
// global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// New builds an Engine from options. The store is required; everything
// else has defaults.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:      steadyq.DefaultConfig(),
		logger:   slog.Default(),
		registry: msg.NewRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		return nil, steadyq.ErrNoStore
	}

	e.hooks = hook.NewRegistry(e.logger)

	if e.policy == nil {
		p := retry.NewPolicy()
		if e.cfg.RetryDelay > 0 {
			p.BaseDelay = e.cfg.RetryDelay
		}
		if e.cfg.RetryAttempts > 0 {
			p.MaxAttempts = e.cfg.RetryAttempts
		}
		e.policy = p
	}
	if e.limiter == nil {
		e.limiter = ratelimit.New(ratelimit.WithLogger(e.logger))
	}

	e.dlqSvc = dlq.NewService(e.store, e.logger)

	// Tracing and metrics middleware (custom provider or global).
	var tracingMw mw.Middleware
	if e.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(e.tracerProvider.Tracer("github.com/steadyq/steadyq"))
	} else {
		tracingMw = mw.Tracing()
	}
	var metricsMw mw.Middleware
	if e.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(e.meterProvider.Meter("github.com/steadyq/steadyq"))
	} else {
		metricsMw = mw.Metrics()
	}

	// System-wide lifecycle counters.
	var obsExt *observability.MetricsExtension
	if e.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(
			e.meterProvider.Meter("github.com/steadyq/steadyq/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	e.hooks.Register(obsExt)
	for _, ext := range e.extensions {
		e.hooks.Register(ext)
	}

	// Default middleware stack: recover → tracing → metrics → logging →
	// timeout, then caller middleware.
	allMws := []mw.Middleware{
		mw.Recover(e.logger),
		tracingMw,
		metricsMw,
		mw.Logging(e.logger),
		mw.Timeout(e.cfg.ProcessingTimeout),
	}
	allMws = append(allMws, e.mws...)

	executor := worker.NewExecutor(e.registry, e.hooks, e.logger, allMws...)
	e.processor = worker.NewProcessor(e.store, executor, e.hooks, e.policy, e.logger,
		worker.WithBatchSize(e.cfg.BatchSize),
		worker.WithMaxConcurrentBatches(e.cfg.MaxConcurrentBatches),
		worker.WithInterval(e.cfg.ProcessingInterval),
	)

	return e, nil
}

// ──────────────────────────────────────────────────
// Registration and enqueue
// ──────────────────────────────────────────────────

// RegisterKind registers a typed message definition with the engine.
func RegisterKind[T any](e *Engine, def *msg.Definition[T]) {
	msg.RegisterDefinition(e.registry, def)
}

// Enqueue marshals a typed payload and enqueues a message of the given
// kind.
func Enqueue[T any](ctx context.Context, e *Engine, kind string, payload T, opts ...msg.Option) (*msg.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for kind %q: %w", kind, err)
	}
	return e.EnqueueRaw(ctx, kind, data, opts...)
}

// EnqueueRaw enqueues a message with a pre-serialized payload. Options
// layer as config retry budget, then the kind's definition defaults,
// then per-call options — later layers override earlier ones.
func (e *Engine) EnqueueRaw(ctx context.Context, kind string, payload []byte, opts ...msg.Option) (*msg.Message, error) {
	kindDefaults := e.registry.DefaultOpts(kind)

	withDefaults := make([]msg.Option, 0, len(kindDefaults)+len(opts)+1)
	if e.cfg.RetryAttempts > 0 {
		withDefaults = append(withDefaults, msg.WithMaxAttempts(e.cfg.RetryAttempts))
	}
	withDefaults = append(withDefaults, kindDefaults...)
	withDefaults = append(withDefaults, opts...)

	m := msg.New(kind, payload, withDefaults...)
	if err := e.store.EnqueueMessage(ctx, m); err != nil {
		return nil, err
	}

	e.hooks.EmitMessageEnqueued(ctx, m)
	return m, nil
}

// EnqueueFor enqueues on behalf of a user, checking the rate limiter
// first. The message kind doubles as the rate-limited operation name.
// Denied requests return steadyq.ErrRateLimited with the human-readable
// reason attached.
func EnqueueFor[T any](ctx context.Context, e *Engine, userID, kind string, payload T, opts ...msg.Option) (*msg.Message, error) {
	allowed, reason := e.limiter.Check(userID, kind)
	if !allowed {
		e.hooks.EmitRateLimited(ctx, userID, kind, reason)
		return nil, fmt.Errorf("%w: %s", steadyq.ErrRateLimited, reason)
	}
	return Enqueue(ctx, e, kind, payload, opts...)
}

// CheckRateLimit reports whether a user may perform an operation right
// now, without enqueuing anything. A denial counts as a violation and
// fires the RateLimited hook.
func (e *Engine) CheckRateLimit(ctx context.Context, userID, operation string) (bool, string) {
	allowed, reason := e.limiter.Check(userID, operation)
	if !allowed {
		e.hooks.EmitRateLimited(ctx, userID, operation, reason)
	}
	return allowed, reason
}

// ResetUserLimits clears all rate limit state for a user.
func (e *Engine) ResetUserLimits(userID string) {
	e.limiter.ResetUser(userID)
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start begins message processing and the background maintenance sweep.
// A failed Start leaves the engine stopped, so it can be retried.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("engine start: store ping: %w", err)
	}

	if err := e.processor.Start(ctx); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}

	e.running = true
	e.stopCh = make(chan struct{})
	if e.cfg.CleanupInterval > 0 {
		e.wg.Add(1)
		go e.maintenanceLoop()
	}

	e.logger.Info("engine started",
		slog.Int("batch_size", e.cfg.BatchSize),
		slog.Duration("interval", e.cfg.ProcessingInterval),
		slog.Any("kinds", e.registry.Kinds()),
	)
	return nil
}

// Stop halts the maintenance sweep and drains the processor. The
// context bounds how long in-flight batches may take to finish.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	e.wg.Wait()

	err := e.processor.Stop(ctx)
	e.logger.Info("engine stopped")
	return err
}

// maintenanceLoop periodically removes old completed rows, sweeps idle
// rate limiter state, and optionally reclaims stuck messages.
func (e *Engine) maintenanceLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

func (e *Engine) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if removed, err := e.store.CleanupCompleted(ctx, e.cfg.CompletedRetention); err != nil {
		e.logger.Error("cleanup completed failed", slog.String("error", err.Error()))
	} else if removed > 0 {
		e.logger.Info("removed completed messages", slog.Int64("count", removed))
	}

	if users := e.limiter.CleanupExpired(); users > 0 {
		e.logger.Debug("swept idle rate limiter state", slog.Int("users", users))
	}

	if e.cfg.ReclaimAfter > 0 {
		if reclaimed, err := e.store.ReclaimStuck(ctx, e.cfg.ReclaimAfter); err != nil {
			e.logger.Error("reclaim stuck failed", slog.String("error", err.Error()))
		} else if reclaimed > 0 {
			e.logger.Warn("reclaimed stuck messages", slog.Int64("count", reclaimed))
		}
	}
}

// ──────────────────────────────────────────────────
// Introspection
// ──────────────────────────────────────────────────

// Stats aggregates queue, processor, and rate limiter state.
type Stats struct {
	Queue     *msg.Stats            `json:"queue"`
	Processor worker.Stats          `json:"processor"`
	RateLimit ratelimit.SystemStats `json:"rate_limit"`
}

// Stats returns a combined snapshot of the engine's subsystems.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	qs, err := e.store.QueueStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine stats: %w", err)
	}
	return &Stats{
		Queue:     qs,
		Processor: e.processor.Stats(),
		RateLimit: e.limiter.SystemStats(),
	}, nil
}

// HealthCheck verifies store connectivity and processor behavior.
func (e *Engine) HealthCheck(ctx context.Context) (*worker.Health, error) {
	if err := e.store.Ping(ctx); err != nil {
		return &worker.Health{Healthy: false, Issues: []string{"store unreachable: " + err.Error()}}, nil
	}
	return e.processor.HealthCheck(ctx)
}

// DeadLetters lists dead letter entries, newest first.
func (e *Engine) DeadLetters(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	return e.dlqSvc.List(ctx, opts)
}

// RequeueDeadLetter restores a dead letter entry to the main queue with
// a fresh retry budget and the original message ID.
func (e *Engine) RequeueDeadLetter(ctx context.Context, entryID id.DLQID) (*msg.Message, error) {
	return e.dlqSvc.Requeue(ctx, entryID)
}

// PurgeDeadLetters removes entries that failed before the given time.
func (e *Engine) PurgeDeadLetters(ctx context.Context, before time.Time) (int64, error) {
	return e.dlqSvc.Purge(ctx, before)
}

// Hooks returns the lifecycle hook registry.
func (e *Engine) Hooks() *hook.Registry { return e.hooks }

// Registry returns the message kind registry.
func (e *Engine) Registry() *msg.Registry { return e.registry }

// Limiter returns the rate limiter.
func (e *Engine) Limiter() *ratelimit.Limiter { return e.limiter }

// Processor returns the batch processor.
func (e *Engine) Processor() *worker.Processor { return e.processor }

// DLQ returns the dead letter service.
func (e *Engine) DLQ() *dlq.Service { return e.dlqSvc }

// Store returns the persistence backend.
func (e *Engine) Store() store.Store { return e.store }
