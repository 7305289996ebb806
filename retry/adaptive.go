package retry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AdaptivePolicy wraps a [Policy] and tunes BaseDelay and MaxAttempts
// from a rolling failure rate over a trailing window (default 5m).
// Sustained failure widens the backoff to avoid retry storms; sustained
// health relaxes it again for faster recovery.
//
// Safe for concurrent use.
type AdaptivePolicy struct {
	mu     sync.Mutex
	policy *Policy
	logger *slog.Logger

	// Window is the trailing span over which the failure rate is
	// computed. Defaults to 5 minutes.
	Window time.Duration

	// HighWaterRate widens parameters when exceeded. Defaults to 0.5.
	HighWaterRate float64

	successCount   int
	failureCount   int
	recentFailures []time.Time

	now func() time.Time
}

// NewAdaptivePolicy wraps the given policy. A nil policy gets
// NewPolicy() defaults; a nil logger gets slog.Default().
func NewAdaptivePolicy(p *Policy, logger *slog.Logger) *AdaptivePolicy {
	if p == nil {
		p = NewPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AdaptivePolicy{
		policy:        p,
		logger:        logger,
		Window:        5 * time.Minute,
		HighWaterRate: 0.5,
		now:           time.Now,
	}
}

// Delay returns the wrapped policy's current delay for the attempt.
func (a *AdaptivePolicy) Delay(attempt int) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.policy.Delay(attempt)
}

// DelayWithJitter returns the wrapped policy's jittered delay.
func (a *AdaptivePolicy) DelayWithJitter(attempt int) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.policy.DelayWithJitter(attempt)
}

// MaxAttempts returns the current retry budget.
func (a *AdaptivePolicy) MaxAttempts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.policy.MaxAttempts
}

// RecordSuccess records one successful operation and re-adapts.
func (a *AdaptivePolicy) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.successCount++
	a.adaptLocked()
}

// RecordFailure records one failed operation and re-adapts.
func (a *AdaptivePolicy) RecordFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.failureCount++
	now := a.now()
	a.recentFailures = append(a.recentFailures, now)
	a.pruneLocked(now)
	a.adaptLocked()
}

// FailureRate returns the failure fraction over the trailing window.
func (a *AdaptivePolicy) FailureRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneLocked(a.now())
	return a.failureRateLocked()
}

// Do runs the wrapped policy's retry loop and records the outcome.
func (a *AdaptivePolicy) Do(ctx context.Context, op Operation, onRetry OnRetry) error {
	// Snapshot the tunable fields into a fresh Policy rather than copying
	// the struct, which carries the fib memo lock.
	a.mu.Lock()
	p := Policy{
		Strategy:     a.policy.Strategy,
		BaseDelay:    a.policy.BaseDelay,
		MaxDelay:     a.policy.MaxDelay,
		Multiplier:   a.policy.Multiplier,
		JitterFactor: a.policy.JitterFactor,
		MaxAttempts:  a.policy.MaxAttempts,
		Classify:     a.policy.Classify,
	}
	a.mu.Unlock()

	err := p.Do(ctx, op, onRetry)
	if err != nil {
		a.RecordFailure()
	} else {
		a.RecordSuccess()
	}
	return err
}

func (a *AdaptivePolicy) pruneLocked(now time.Time) {
	cutoff := now.Add(-a.Window)
	kept := a.recentFailures[:0]
	for _, t := range a.recentFailures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	a.recentFailures = kept
}

func (a *AdaptivePolicy) failureRateLocked() float64 {
	recentTotal := len(a.recentFailures) + a.successCount
	if recentTotal == 0 {
		return 0
	}
	return float64(len(a.recentFailures)) / float64(recentTotal)
}

// adaptLocked widens BaseDelay (x1.5, capped at MaxDelay/4) and
// MaxAttempts (+1, cap 10) under a high failure rate; relaxes them
// (x0.8, floor 500ms; -1, floor 3) once the rate drops below 10% after
// enough failures have been observed to trust the signal.
func (a *AdaptivePolicy) adaptLocked() {
	rate := a.failureRateLocked()

	switch {
	case rate > a.HighWaterRate:
		widened := time.Duration(float64(a.policy.BaseDelay) * 1.5)
		if ceiling := a.policy.MaxDelay / 4; ceiling > 0 && widened > ceiling {
			widened = ceiling
		}
		a.policy.BaseDelay = widened
		if a.policy.MaxAttempts < 10 {
			a.policy.MaxAttempts++
		}
		a.logger.Info("widened retry parameters",
			slog.Float64("failure_rate", rate),
			slog.Duration("base_delay", a.policy.BaseDelay),
			slog.Int("max_attempts", a.policy.MaxAttempts))

	case rate < 0.1 && a.failureCount > 10:
		relaxed := time.Duration(float64(a.policy.BaseDelay) * 0.8)
		if relaxed < 500*time.Millisecond {
			relaxed = 500 * time.Millisecond
		}
		a.policy.BaseDelay = relaxed
		if a.policy.MaxAttempts > 3 {
			a.policy.MaxAttempts--
		}
		a.logger.Info("relaxed retry parameters",
			slog.Float64("failure_rate", rate),
			slog.Duration("base_delay", a.policy.BaseDelay),
			slog.Int("max_attempts", a.policy.MaxAttempts))
	}
}
