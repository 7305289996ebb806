package worker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/steadyq/steadyq/hook"
	"github.com/steadyq/steadyq/msg"
)

// Processor defaults.
const (
	DefaultBatchSize            = 10
	DefaultInterval             = 5 * time.Second
	DefaultMaxConcurrentBatches = 3

	// MinBatchSize and MaxBatchSize bound adaptive batch sizing.
	MinBatchSize = 1
	MaxBatchSize = 50
)

// Adaptive sizing thresholds over the recent window.
const (
	growLatency   = time.Second
	growRate      = 0.90
	shrinkLatency = 5 * time.Second
	shrinkRate    = 0.70
)

// permanentFailDelay is the reschedule delay for non-retryable failures.
// They are expected to fail again, so the message cycles through its
// remaining attempts quickly and dead-letters.
const permanentFailDelay = time.Second

// DelayStrategy computes the backoff delay for a retry attempt.
// *retry.Policy and *retry.AdaptivePolicy both satisfy it.
type DelayStrategy interface {
	DelayWithJitter(attempt int) time.Duration
}

// outcomeRecorder is implemented by adaptive strategies that tune
// themselves from observed outcomes.
type outcomeRecorder interface {
	RecordSuccess()
	RecordFailure()
}

// Processor polls the store for due messages and processes them in
// concurrent batches. A weighted semaphore bounds the number of batches
// in flight; every execution outcome is written back to the store, even
// during shutdown.
type Processor struct {
	store    msg.Store
	executor *Executor
	hooks    *hook.Registry
	delays   DelayStrategy
	logger   *slog.Logger

	interval   time.Duration
	maxBatches int64
	sem        *semaphore.Weighted
	pacer      *rate.Limiter

	mu        sync.Mutex
	running   bool
	batchSize int

	baseCtx context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	wg      sync.WaitGroup

	stats tracker
}

// Option configures a Processor.
type Option func(*Processor)

// WithBatchSize sets the initial batch size. Adaptive sizing adjusts it
// at runtime within [MinBatchSize, MaxBatchSize].
func WithBatchSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = min(n, MaxBatchSize)
		}
	}
}

// WithInterval sets how often the processor polls for due messages.
func WithInterval(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithMaxConcurrentBatches bounds how many batches may run at once.
func WithMaxConcurrentBatches(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxBatches = int64(n)
		}
	}
}

// WithDelayStrategy sets the backoff strategy for retry outcomes.
func WithDelayStrategy(s DelayStrategy) Option {
	return func(p *Processor) {
		if s != nil {
			p.delays = s
		}
	}
}

// WithDequeueRate paces dequeue polls with a token bucket. Useful when
// several processors share one store. Zero disables pacing.
func WithDequeueRate(perSecond float64, burst int) Option {
	return func(p *Processor) {
		if perSecond > 0 {
			p.pacer = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// NewProcessor creates a batch processor. The executor runs handlers;
// the processor owns polling, concurrency, and outcome write-back.
func NewProcessor(
	store msg.Store,
	executor *Executor,
	hooks *hook.Registry,
	delays DelayStrategy,
	logger *slog.Logger,
	opts ...Option,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if hooks == nil {
		hooks = hook.NewRegistry(logger)
	}
	p := &Processor{
		store:      store,
		executor:   executor,
		hooks:      hooks,
		delays:     delays,
		logger:     logger,
		interval:   DefaultInterval,
		maxBatches: DefaultMaxConcurrentBatches,
		batchSize:  DefaultBatchSize,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.sem = semaphore.NewWeighted(p.maxBatches)
	return p
}

// Start launches the poll loop. It returns immediately.
func (p *Processor) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.baseCtx, p.cancel = context.WithCancel(context.Background())
	p.stats.start()

	p.logger.Info("processor starting",
		slog.Int("batch_size", p.batchSize),
		slog.Int64("max_concurrent_batches", p.maxBatches),
		slog.Duration("interval", p.interval),
	)

	p.wg.Add(1)
	go p.run()
	return nil
}

// Stop halts polling and waits for in-flight batches to finish. The
// admission gate is drained fully before returning, so a nil error
// means no batch is still running. If ctx expires first, in-flight
// handlers are cancelled and Stop returns the context error; outcome
// write-back still runs for every cancelled message.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("processor stopping")
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var stopErr error
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("processor shutdown deadline reached, cancelling in-flight batches")
		p.cancel()
		<-done
		stopErr = ctx.Err()
	}

	// Drain the admission gate: once all permits are reacquired no batch
	// can still hold one.
	if err := p.sem.Acquire(context.Background(), p.maxBatches); err == nil {
		p.sem.Release(p.maxBatches)
	}

	p.hooks.EmitShutdown(context.WithoutCancel(ctx))
	p.cancel()

	if stopErr == nil {
		p.logger.Info("processor stopped gracefully")
	}
	return stopErr
}

// Running reports whether the poll loop is active.
func (p *Processor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// BatchSize returns the current adaptive batch size.
func (p *Processor) BatchSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.batchSize
}

// ──────────────────────────────────────────────────
// Poll loop
// ──────────────────────────────────────────────────

func (p *Processor) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.tick()
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// tick claims one batch slot, dequeues up to batchSize due messages,
// and hands them to a batch goroutine. If all slots are busy the tick
// is skipped; messages stay queued for the next one.
func (p *Processor) tick() {
	if p.pacer != nil {
		if err := p.pacer.Wait(p.baseCtx); err != nil {
			return
		}
	}

	if !p.sem.TryAcquire(1) {
		p.stats.recordSkippedTick()
		return
	}

	batch, err := p.store.DequeueMessages(p.baseCtx, p.BatchSize())
	if err != nil {
		p.sem.Release(1)
		if p.baseCtx.Err() == nil {
			p.logger.Error("dequeue error", slog.String("error", err.Error()))
		}
		return
	}
	if len(batch) == 0 {
		p.sem.Release(1)
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		p.processBatch(p.baseCtx, batch)
	}()
}

// processBatch fans the batch out across goroutines, waits for all of
// them, then adapts the batch size from the recorded outcomes.
func (p *Processor) processBatch(ctx context.Context, batch []*msg.Message) {
	// Stores return dequeue order, but re-sort defensively: priority
	// descending, then oldest first within a tier.
	sort.SliceStable(batch, func(i, j int) bool {
		if batch[i].Priority != batch[j].Priority {
			return batch[i].Priority > batch[j].Priority
		}
		return batch[i].CreatedAt.Before(batch[j].CreatedAt)
	})

	var wg sync.WaitGroup
	for _, m := range batch {
		wg.Add(1)
		go func(m *msg.Message) {
			defer wg.Done()
			p.processOne(ctx, m)
		}(m)
	}
	wg.Wait()

	p.stats.recordBatch(len(batch))
	p.adaptBatchSize()
}

// processOne executes a message and writes its outcome back to the
// store. The write-back uses a detached context so it lands even when
// the batch context was cancelled mid-flight.
func (p *Processor) processOne(ctx context.Context, m *msg.Message) {
	start := time.Now()
	outcome, execErr := p.executor.Execute(ctx, m)
	elapsed := time.Since(start)

	wctx := context.WithoutCancel(ctx)

	switch outcome {
	case OutcomeSuccess:
		if err := p.store.CompleteMessage(wctx, m.ID.String()); err != nil {
			p.logger.Error("failed to complete message",
				slog.String("message_id", m.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		p.recordDelayOutcome(true)

	case OutcomeRetry:
		p.failMessage(wctx, m, execErr, p.delays.DelayWithJitter(m.Attempts))
		p.recordDelayOutcome(false)

	case OutcomeFailure:
		p.hooks.EmitMessageFailed(wctx, m, execErr)
		p.failMessage(wctx, m, execErr, permanentFailDelay)
		p.recordDelayOutcome(false)

	case OutcomeSkip:
		if err := p.store.ReleaseMessage(wctx, m.ID.String(), p.interval); err != nil {
			p.logger.Error("failed to release skipped message",
				slog.String("message_id", m.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		if execErr != nil {
			p.logger.Warn("message skipped",
				slog.String("message_id", m.ID.String()),
				slog.String("kind", m.Kind),
				slog.String("reason", execErr.Error()),
			)
		}
	}

	p.stats.recordOutcome(outcome, elapsed)
}

// failMessage records a failure in the store and emits the matching
// lifecycle hook: retrying while attempts remain, dead-lettered once
// the budget is exhausted.
func (p *Processor) failMessage(ctx context.Context, m *msg.Message, execErr error, delay time.Duration) {
	errMsg := "unknown error"
	if execErr != nil {
		errMsg = execErr.Error()
	}

	if err := p.store.FailMessage(ctx, m.ID.String(), errMsg, delay); err != nil {
		p.logger.Error("failed to record message failure",
			slog.String("message_id", m.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	attempt := m.Attempts + 1
	if attempt >= m.MaxAttempts {
		p.stats.recordDeadLetter()
		p.hooks.EmitMessageDeadLettered(ctx, m, execErr)
		p.logger.Warn("message moved to dead letter queue",
			slog.String("message_id", m.ID.String()),
			slog.String("kind", m.Kind),
			slog.Int("attempts", attempt),
			slog.String("error", errMsg),
		)
		return
	}

	nextRetry := time.Now().UTC().Add(delay)
	p.hooks.EmitMessageRetrying(ctx, m, attempt, nextRetry)
	p.logger.Info("message scheduled for retry",
		slog.String("message_id", m.ID.String()),
		slog.String("kind", m.Kind),
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", m.MaxAttempts),
		slog.Duration("delay", delay),
	)
}

// recordDelayOutcome feeds execution outcomes into the delay strategy
// when it adapts itself (retry.AdaptivePolicy).
func (p *Processor) recordDelayOutcome(success bool) {
	rec, ok := p.delays.(outcomeRecorder)
	if !ok {
		return
	}
	if success {
		rec.RecordSuccess()
	} else {
		rec.RecordFailure()
	}
}

// adaptBatchSize tunes the batch size from the recent window: grow when
// executions are fast and reliable, shrink when they are slow or flaky.
func (p *Processor) adaptBatchSize() {
	avg, successRate, samples := p.stats.recentWindow()
	if samples == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	before := p.batchSize
	switch {
	case avg < growLatency && successRate > growRate:
		p.batchSize = min(p.batchSize+2, MaxBatchSize)
	case avg > shrinkLatency || successRate < shrinkRate:
		p.batchSize = max(p.batchSize-1, MinBatchSize)
	}

	if p.batchSize != before {
		p.logger.Debug("adjusted batch size",
			slog.Int("from", before),
			slog.Int("to", p.batchSize),
			slog.Duration("recent_avg", avg),
			slog.Float64("recent_success_rate", successRate),
		)
	}
}
