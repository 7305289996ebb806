package worker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// historyLimit caps the rolling outcome history.
	historyLimit = 1000
	// recentWindowSize is how many trailing records feed adaptive
	// sizing and health checks.
	recentWindowSize = 100
)

// Stats is a point-in-time snapshot of processor activity.
type Stats struct {
	Running   bool `json:"running"`
	BatchSize int  `json:"batch_size"`

	TotalProcessed int64 `json:"total_processed"`
	Succeeded      int64 `json:"succeeded"`
	Retried        int64 `json:"retried"`
	Failed         int64 `json:"failed"`
	Skipped        int64 `json:"skipped"`
	DeadLettered   int64 `json:"dead_lettered"`
	Batches        int64 `json:"batches"`
	SkippedTicks   int64 `json:"skipped_ticks"`

	// RecentSuccessRate and RecentAvgLatency cover the trailing window
	// of executions.
	RecentSuccessRate float64       `json:"recent_success_rate"`
	RecentAvgLatency  time.Duration `json:"recent_avg_latency"`

	// Throughput is messages processed per second since start.
	Throughput float64       `json:"throughput"`
	Uptime     time.Duration `json:"uptime"`
}

// Health reports whether the processor looks able to keep up, with a
// human-readable issue list when it does not.
type Health struct {
	Healthy bool     `json:"healthy"`
	Issues  []string `json:"issues,omitempty"`
	Pending int      `json:"pending"`
}

// outcomeRecord is one execution in the rolling history.
type outcomeRecord struct {
	ok      bool
	elapsed time.Duration
}

// tracker accumulates processor counters and the rolling history.
type tracker struct {
	mu sync.Mutex

	startTime time.Time

	processed    int64
	succeeded    int64
	retried      int64
	failed       int64
	skipped      int64
	deadLettered int64
	batches      int64
	skippedTicks int64

	history []outcomeRecord
}

func (t *tracker) start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startTime.IsZero() {
		t.startTime = time.Now()
	}
}

func (t *tracker) recordOutcome(o Outcome, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.processed++
	switch o {
	case OutcomeSuccess:
		t.succeeded++
	case OutcomeRetry:
		t.retried++
	case OutcomeFailure:
		t.failed++
	case OutcomeSkip:
		t.skipped++
	}

	// Skips carry no signal about handler speed or reliability.
	if o != OutcomeSkip {
		t.history = append(t.history, outcomeRecord{ok: o == OutcomeSuccess, elapsed: elapsed})
		if len(t.history) > historyLimit {
			t.history = t.history[len(t.history)-historyLimit:]
		}
	}
}

func (t *tracker) recordBatch(int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batches++
}

func (t *tracker) recordDeadLetter() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deadLettered++
}

func (t *tracker) recordSkippedTick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.skippedTicks++
}

// recentWindow returns the average latency and success rate over the
// trailing window, plus the sample count.
func (t *tracker) recentWindow() (avg time.Duration, successRate float64, samples int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	recent := t.history
	if len(recent) > recentWindowSize {
		recent = recent[len(recent)-recentWindowSize:]
	}
	if len(recent) == 0 {
		return 0, 0, 0
	}

	var total time.Duration
	ok := 0
	for _, r := range recent {
		total += r.elapsed
		if r.ok {
			ok++
		}
	}
	return total / time.Duration(len(recent)), float64(ok) / float64(len(recent)), len(recent)
}

func (t *tracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.processed = 0
	t.succeeded = 0
	t.retried = 0
	t.failed = 0
	t.skipped = 0
	t.deadLettered = 0
	t.batches = 0
	t.skippedTicks = 0
	t.history = nil
	t.startTime = time.Now()
}

// ──────────────────────────────────────────────────
// Processor accessors
// ──────────────────────────────────────────────────

// Stats returns a snapshot of processor counters and rolling rates.
func (p *Processor) Stats() Stats {
	avg, rate, _ := p.stats.recentWindow()

	p.stats.mu.Lock()
	s := Stats{
		TotalProcessed:    p.stats.processed,
		Succeeded:         p.stats.succeeded,
		Retried:           p.stats.retried,
		Failed:            p.stats.failed,
		Skipped:           p.stats.skipped,
		DeadLettered:      p.stats.deadLettered,
		Batches:           p.stats.batches,
		SkippedTicks:      p.stats.skippedTicks,
		RecentSuccessRate: rate,
		RecentAvgLatency:  avg,
	}
	if !p.stats.startTime.IsZero() {
		s.Uptime = time.Since(p.stats.startTime)
		if secs := s.Uptime.Seconds(); secs > 0 {
			s.Throughput = float64(s.TotalProcessed) / secs
		}
	}
	p.stats.mu.Unlock()

	s.Running = p.Running()
	s.BatchSize = p.BatchSize()
	return s
}

// ResetStats clears counters and the rolling history. The adaptive
// batch size is left as-is.
func (p *Processor) ResetStats() {
	p.stats.reset()
}

// HealthCheck inspects recent processing behavior and queue depth.
// A processor with no recent samples is considered healthy.
func (p *Processor) HealthCheck(ctx context.Context) (*Health, error) {
	pending, err := p.store.PendingCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}

	h := &Health{Healthy: true, Pending: pending}

	avg, rate, samples := p.stats.recentWindow()
	if samples >= 10 {
		if rate < shrinkRate {
			h.Issues = append(h.Issues, fmt.Sprintf("low recent success rate: %.0f%%", rate*100))
		}
		if avg > shrinkLatency {
			h.Issues = append(h.Issues, fmt.Sprintf("high processing times: %s average", avg.Round(time.Millisecond)))
		}
	}

	if p.sem.TryAcquire(1) {
		p.sem.Release(1)
	} else {
		h.Issues = append(h.Issues, "all batch slots busy")
	}

	h.Healthy = len(h.Issues) == 0
	return h, nil
}
