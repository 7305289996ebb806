package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/steadyq/steadyq"
)

// Strategy selects the delay growth curve of a [Policy].
type Strategy int

// Available delay strategies.
const (
	// Exponential grows the delay as BaseDelay * Multiplier^attempt.
	Exponential Strategy = iota
	// Linear grows the delay as BaseDelay * (attempt+1).
	Linear
	// Fixed always waits BaseDelay.
	Fixed
	// Fibonacci grows the delay as BaseDelay * fib(attempt+1).
	Fibonacci
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case Exponential:
		return "exponential"
	case Linear:
		return "linear"
	case Fixed:
		return "fixed"
	case Fibonacci:
		return "fibonacci"
	default:
		return "unknown"
	}
}

// ──────────────────────────────────────────────────
// Policy
// ──────────────────────────────────────────────────

// Policy computes retry delays from the attempt number. Delay is
// deterministic given the configuration; DelayWithJitter adds uniform
// noise on top. A Policy value is safe for concurrent use.
type Policy struct {
	// Strategy selects the growth curve. Defaults to Exponential.
	Strategy Strategy

	// BaseDelay is the first-attempt delay. Defaults to 1s.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay. Zero means uncapped.
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor. Defaults to 2.
	Multiplier float64

	// JitterFactor scales the uniform noise added by DelayWithJitter:
	// the result lies in [delay*(1-j), delay*(1+j)], clamped to >= 0.
	JitterFactor float64

	// MaxAttempts bounds the Do loop. Defaults to 3.
	MaxAttempts int

	// Classify overrides the retry classification used by Do. When nil,
	// Do honors the steadyq.ErrRetry / steadyq.ErrPermanent sentinels and
	// falls back to Retryable.
	Classify func(error) bool

	fibMu   sync.Mutex
	fibMemo []int64
}

// NewPolicy returns a policy with the standard defaults: exponential
// growth, 1s base, 1m cap, multiplier 2, jitter 0.1, 3 attempts.
func NewPolicy() *Policy {
	return &Policy{
		Strategy:     Exponential,
		BaseDelay:    time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2,
		JitterFactor: 0.1,
		MaxAttempts:  3,
	}
}

// Delay returns the wait before retry of the given attempt (0-indexed:
// attempt 0 is the delay after the first failure). The result is capped
// at MaxDelay and never negative.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}

	var d time.Duration
	switch p.Strategy {
	case Linear:
		d = base * time.Duration(attempt+1)
	case Fixed:
		d = base
	case Fibonacci:
		d = time.Duration(float64(base) * float64(p.fib(attempt+1)))
	default:
		mult := p.Multiplier
		if mult <= 0 {
			mult = 2
		}
		d = time.Duration(float64(base) * math.Pow(mult, float64(attempt)))
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d < 0 {
		// Overflow from large attempt numbers.
		d = p.MaxDelay
	}
	return d
}

// DelayWithJitter returns Delay(attempt) with uniform noise in
// [-delay*JitterFactor, +delay*JitterFactor] added, clamped to >= 0.
func (p *Policy) DelayWithJitter(attempt int) time.Duration {
	d := p.Delay(attempt)
	if p.JitterFactor <= 0 || d == 0 {
		return d
	}

	noise := (rand.Float64()*2 - 1) * p.JitterFactor * float64(d) //nolint:gosec // jitter intentionally uses non-crypto rand
	jittered := time.Duration(float64(d) + noise)
	if jittered < 0 {
		return 0
	}
	return jittered
}

// Schedule returns the delays for every attempt in the retry budget, in
// order. Useful for logging a policy's shape at startup.
func (p *Policy) Schedule() []time.Duration {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	out := make([]time.Duration, attempts)
	for i := range out {
		out[i] = p.Delay(i)
	}
	return out
}

// fib returns the nth Fibonacci number (fib(1) = fib(2) = 1), memoized.
func (p *Policy) fib(n int) int64 {
	if n <= 0 {
		return 0
	}

	p.fibMu.Lock()
	defer p.fibMu.Unlock()

	if len(p.fibMemo) == 0 {
		p.fibMemo = []int64{0, 1, 1}
	}
	for len(p.fibMemo) <= n {
		next := p.fibMemo[len(p.fibMemo)-1] + p.fibMemo[len(p.fibMemo)-2]
		p.fibMemo = append(p.fibMemo, next)
	}
	return p.fibMemo[n]
}

// ──────────────────────────────────────────────────
// Error classification
// ──────────────────────────────────────────────────

// Retryable reports whether an error looks transient: network errors,
// timeouts, and context deadline expiry are retryable; everything else
// (including context cancellation) is not. Callers remain free to
// override this classification.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return true
	}
	return false
}

// ──────────────────────────────────────────────────
// Do
// ──────────────────────────────────────────────────

// Operation is the unit of work retried by [Policy.Do].
type Operation func(ctx context.Context) error

// OnRetry is invoked before each backoff wait with the failed attempt
// number (0-indexed) and the error. Panics from the callback are
// recovered and logged, never propagated.
type OnRetry func(attempt int, err error)

// Do invokes op up to MaxAttempts times, waiting Delay(attempt) between
// failures. Only errors the policy classifies as retryable are retried
// (see Classify); a non-retryable error returns immediately. The final
// failed attempt propagates its error without waiting. Waits respect
// ctx cancellation.
func (p *Policy) Do(ctx context.Context, op Operation, onRetry OnRetry) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !p.shouldRetry(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		if onRetry != nil {
			invokeOnRetry(onRetry, attempt, lastErr)
		}

		timer := time.NewTimer(p.DelayWithJitter(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// shouldRetry resolves the classification for one failed attempt. The
// sentinel checks run before the transient-error heuristic so handlers
// can force an outcome by wrapping either sentinel.
func (p *Policy) shouldRetry(err error) bool {
	if p.Classify != nil {
		return p.Classify(err)
	}
	if errors.Is(err, steadyq.ErrPermanent) {
		return false
	}
	if errors.Is(err, steadyq.ErrRetry) {
		return true
	}
	return Retryable(err)
}

func invokeOnRetry(onRetry OnRetry, attempt int, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("retry: on-retry callback panicked",
				slog.Int("attempt", attempt),
				slog.Any("panic", r))
		}
	}()
	onRetry(attempt, err)
}

// ──────────────────────────────────────────────────
// Presets
// ──────────────────────────────────────────────────

// FastRetry is tuned for quick transient blips: short delays, few
// attempts.
func FastRetry() *Policy {
	return &Policy{
		Strategy:     Exponential,
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		JitterFactor: 0.1,
		MaxAttempts:  3,
	}
}

// SlowRetry spaces attempts widely for slow-recovering dependencies.
func SlowRetry() *Policy {
	return &Policy{
		Strategy:     Exponential,
		BaseDelay:    5 * time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2,
		JitterFactor: 0.2,
		MaxAttempts:  5,
	}
}

// AggressiveRetry keeps hammering with linear growth. Use only against
// dependencies that tolerate it.
func AggressiveRetry() *Policy {
	return &Policy{
		Strategy:     Linear,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		JitterFactor: 0.1,
		MaxAttempts:  10,
	}
}

// ConservativeRetry backs off hard and gives up early.
func ConservativeRetry() *Policy {
	return &Policy{
		Strategy:     Exponential,
		BaseDelay:    2 * time.Second,
		MaxDelay:     2 * time.Minute,
		Multiplier:   3,
		JitterFactor: 0.25,
		MaxAttempts:  3,
	}
}
