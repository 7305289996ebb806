package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// violationRetention bounds how long violation records are kept; the
// penalty window is the trailing hour within that.
const (
	violationRetention = 24 * time.Hour
	penaltyWindow      = time.Hour
)

// Violation records one denied request. Kept in memory only, for
// penalty computation and diagnostics.
type Violation struct {
	UserID       string    `json:"user_id"`
	Operation    string    `json:"operation"`
	LimitType    string    `json:"limit_type"`
	CurrentCount int       `json:"current_count"`
	Limit        int       `json:"limit"`
	WindowStart  time.Time `json:"window_start"`
	Timestamp    time.Time `json:"timestamp"`
}

// Limiter enforces per-user, per-operation admission control across
// three sliding windows (burst, sustained, daily). Users who keep
// hitting limits accrue a penalty multiplier that divides their limits,
// escalating along a fixed ladder and decaying once violations age out
// of the trailing hour.
//
// All methods are safe for concurrent use; each check-and-record runs
// under a single lock so counts never go stale mid-check.
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	// requests holds one timestamp series per (user, operation), pruned
	// to the daily window. Each tier counts only the entries inside its
	// own window, so a shorter tier never truncates a longer one.
	requests   map[string]map[string][]time.Time
	violations map[string][]Violation

	totalRequests   int64
	totalViolations int64
	startTime       time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithConfig replaces the default limits table.
func WithConfig(cfg Config) Option {
	return func(l *Limiter) { l.cfg = cfg }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter with the default limits table.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		cfg:        DefaultConfig(),
		logger:     slog.Default(),
		now:        time.Now,
		requests:   make(map[string]map[string][]time.Time),
		violations: make(map[string][]Violation),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.startTime = l.now()
	return l
}

// Check reports whether the user may perform the operation now. On
// allow, the request is recorded into all windows and reason is empty.
// On deny, a violation is recorded and reason names the breached tier,
// e.g. "rate limit exceeded: 3/3 requests per burst".
func (l *Limiter) Check(userID, operation string) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	penalty := l.penaltyLocked(userID, now)
	series := l.pruneLocked(userID, operation, now)

	for _, tier := range l.tiers() {
		base := tier.limits.limitFor(operation)
		effective := effectiveLimit(base, penalty)

		count := countWithin(series, now, tier.limits.Window)
		if count >= effective {
			v := Violation{
				UserID:       userID,
				Operation:    operation,
				LimitType:    tier.name,
				CurrentCount: count,
				Limit:        effective,
				WindowStart:  now.Add(-tier.limits.Window),
				Timestamp:    now,
			}
			l.violations[userID] = append(l.violations[userID], v)
			l.totalViolations++

			l.logger.Warn("rate limit violation",
				slog.String("user_id", userID),
				slog.String("operation", operation),
				slog.String("limit_type", tier.name),
				slog.Int("count", count),
				slog.Int("limit", effective))

			return false, fmt.Sprintf("rate limit exceeded: %d/%d requests per %s", count, effective, tier.name)
		}
	}

	l.recordLocked(userID, operation, now)
	l.totalRequests++
	return true, ""
}

// PenaltyMultiplier returns the user's current limit divisor (>= 1.0),
// derived from violations in the trailing hour.
func (l *Limiter) PenaltyMultiplier(userID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.penaltyLocked(userID, l.now())
}

// WindowUsage describes occupancy of one window tier.
type WindowUsage struct {
	Current int     `json:"current"`
	Limit   int     `json:"limit"`
	Percent float64 `json:"percent"`
}

// UserStats summarizes one user's rate limit state.
type UserStats struct {
	UserID            string                            `json:"user_id"`
	PenaltyMultiplier float64                           `json:"penalty_multiplier"`
	TotalViolations   int                               `json:"total_violations"`
	RecentViolations  int                               `json:"recent_violations"`
	Usage             map[string]map[string]WindowUsage `json:"usage"`
}

// UserStats returns per-operation window occupancy and the current
// penalty for the user.
func (l *Limiter) UserStats(userID string) UserStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	penalty := l.penaltyLocked(userID, now)

	stats := UserStats{
		UserID:            userID,
		PenaltyMultiplier: penalty,
		TotalViolations:   len(l.violations[userID]),
		RecentViolations:  l.recentViolationsLocked(userID, now),
		Usage:             make(map[string]map[string]WindowUsage),
	}

	for operation := range l.requests[userID] {
		series := l.pruneLocked(userID, operation, now)
		usage := make(map[string]WindowUsage, 3)
		for _, tier := range l.tiers() {
			effective := effectiveLimit(tier.limits.limitFor(operation), penalty)
			count := countWithin(series, now, tier.limits.Window)
			usage[tier.name] = WindowUsage{
				Current: count,
				Limit:   effective,
				Percent: float64(count) / float64(effective) * 100,
			}
		}
		stats.Usage[operation] = usage
	}
	return stats
}

// SystemStats summarizes limiter-wide throughput and violation state.
type SystemStats struct {
	Uptime                   time.Duration `json:"uptime"`
	TotalRequests            int64         `json:"total_requests"`
	TotalViolations          int64         `json:"total_violations"`
	RequestsPerSecond        float64       `json:"requests_per_second"`
	ActiveUsers              int           `json:"active_users"`
	TotalUsers               int           `json:"total_users"`
	RecentViolations         int           `json:"recent_violations"`
	UsersWithPenalties       int           `json:"users_with_penalties"`
	AveragePenaltyMultiplier float64       `json:"average_penalty_multiplier"`
}

// SystemStats returns aggregate counters: throughput, active users
// (any request in the trailing hour), and penalty distribution.
func (l *Limiter) SystemStats() SystemStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	uptime := now.Sub(l.startTime)

	active := 0
	for _, ops := range l.requests {
		for _, series := range ops {
			if countWithin(series, now, time.Hour) > 0 {
				active++
				break
			}
		}
	}

	recent := 0
	penalized := 0
	penaltySum := 0.0
	for userID := range l.violations {
		recent += l.recentViolationsLocked(userID, now)
		if m := l.penaltyLocked(userID, now); m > 1.0 {
			penalized++
			penaltySum += m
		}
	}

	avgPenalty := 1.0
	if penalized > 0 {
		avgPenalty = penaltySum / float64(penalized)
	}

	rps := 0.0
	if uptime > 0 {
		rps = float64(l.totalRequests) / uptime.Seconds()
	}

	return SystemStats{
		Uptime:                   uptime,
		TotalRequests:            l.totalRequests,
		TotalViolations:          l.totalViolations,
		RequestsPerSecond:        rps,
		ActiveUsers:              active,
		TotalUsers:               len(l.requests),
		RecentViolations:         recent,
		UsersWithPenalties:       penalized,
		AveragePenaltyMultiplier: avgPenalty,
	}
}

// ResetUser clears all request history, violations, and penalties for a
// user. Admin override.
func (l *Limiter) ResetUser(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.requests, userID)
	delete(l.violations, userID)
	l.logger.Info("reset rate limits", slog.String("user_id", userID))
}

// CleanupExpired drops request series and violation records older than
// 24h, removing users with no remaining state. Returns how many users
// were fully removed. Intended to run on a fixed interval to bound
// memory growth.
func (l *Limiter) CleanupExpired() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0

	for userID, ops := range l.requests {
		for operation := range ops {
			series := l.pruneLocked(userID, operation, now)
			if len(series) == 0 {
				delete(ops, operation)
			}
		}
		if len(ops) == 0 {
			delete(l.requests, userID)
			removed++
		}
	}

	for userID, vs := range l.violations {
		cutoff := now.Add(-violationRetention)
		kept := vs[:0]
		for _, v := range vs {
			if v.Timestamp.After(cutoff) {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			delete(l.violations, userID)
		} else {
			l.violations[userID] = kept
		}
	}
	return removed
}

// ──────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────

type tier struct {
	name   string
	limits TierLimits
}

func (l *Limiter) tiers() [3]tier {
	return [3]tier{
		{TierBurst, l.cfg.Burst},
		{TierSustained, l.cfg.Sustained},
		{TierDaily, l.cfg.Daily},
	}
}

// penaltyLocked derives the multiplier from the trailing-hour violation
// count. Recomputed on every use, so penalties decay on their own as
// violations age out.
func (l *Limiter) penaltyLocked(userID string, now time.Time) float64 {
	count := l.recentViolationsLocked(userID, now)
	for _, t := range penaltyLadder {
		if count >= t.violations {
			return t.multiplier
		}
	}
	return 1.0
}

func (l *Limiter) recentViolationsLocked(userID string, now time.Time) int {
	cutoff := now.Add(-penaltyWindow)
	n := 0
	for _, v := range l.violations[userID] {
		if v.Timestamp.After(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops entries older than the daily window and returns the
// surviving series.
func (l *Limiter) pruneLocked(userID, operation string, now time.Time) []time.Time {
	ops, ok := l.requests[userID]
	if !ok {
		return nil
	}
	series := ops[operation]
	cutoff := now.Add(-l.cfg.Daily.Window)

	i := 0
	for i < len(series) && !series[i].After(cutoff) {
		i++
	}
	if i > 0 {
		series = series[i:]
		ops[operation] = series
	}
	return series
}

func (l *Limiter) recordLocked(userID, operation string, now time.Time) {
	ops, ok := l.requests[userID]
	if !ok {
		ops = make(map[string][]time.Time)
		l.requests[userID] = ops
	}
	ops[operation] = append(ops[operation], now)
}

func effectiveLimit(base int, penalty float64) int {
	effective := int(float64(base) / penalty)
	if effective < 1 {
		return 1
	}
	return effective
}

func countWithin(series []time.Time, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	n := 0
	for _, t := range series {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
