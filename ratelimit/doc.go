// Package ratelimit provides in-memory, per-user, per-operation
// admission control with escalating penalties.
//
// # Windows
//
// Every request is checked against three sliding windows — burst (1m),
// sustained (1h), and daily (24h) — each with its own per-operation
// limit and a per-tier "default" fallback. A request is denied if ANY
// window is full:
//
//	limiter := ratelimit.New()
//	allowed, reason := limiter.Check(userID, "generate_image")
//	if !allowed {
//	    return fmt.Errorf("denied: %s", reason)
//	}
//
// # Penalties
//
// Users who keep violating limits accrue a penalty multiplier that
// divides their limits (floored at 1 request). The multiplier follows a
// fixed ladder keyed by violations in the trailing hour — 3→1.5x,
// 5→2x, 10→3x, 15→5x, 20→10x — and is recomputed lazily on each check,
// so it decays on its own once violations age out of the window.
//
// # Housekeeping
//
// [Limiter.CleanupExpired] drops state older than 24h and should run on
// a fixed interval to bound memory; the engine schedules it as a
// background task. [Limiter.ResetUser] is the admin override.
package ratelimit
