// Package retry provides configurable retry delay policies, transient
// error classification, and a cooperative retry loop.
//
// # Policy
//
// A [Policy] computes the wait before retry attempt n from a selectable
// growth curve (exponential, linear, fixed, or Fibonacci), capped at
// MaxDelay. [Policy.DelayWithJitter] adds uniform noise to spread
// simultaneous retries apart:
//
//	p := retry.NewPolicy() // exponential, 1s base, 1m cap
//	p.Delay(0) // 1s
//	p.Delay(1) // 2s
//	p.Delay(2) // 4s
//
// # Retrying an operation
//
// [Policy.Do] runs an operation up to MaxAttempts times, waiting the
// computed delay between failures. Only transient errors (per
// [Retryable]) are retried; the final failure propagates without
// waiting:
//
//	err := p.Do(ctx, func(ctx context.Context) error {
//	    return client.Fetch(ctx, url)
//	}, func(attempt int, err error) {
//	    logger.Warn("fetch failed", "attempt", attempt, "error", err)
//	})
//
// # Adaptive tuning
//
// [AdaptivePolicy] tracks the failure rate over a trailing window and
// widens the backoff under sustained failure, relaxing it again once
// healthy. This damps retry storms during dependency outages.
//
// Presets [FastRetry], [SlowRetry], [AggressiveRetry], and
// [ConservativeRetry] cover common shapes.
package retry
