package ratelimit

import "time"

// Tier names used in denial reasons and stats.
const (
	TierBurst     = "burst"
	TierSustained = "sustained"
	TierDaily     = "daily"
)

// TierLimits configures one sliding window tier: its span and the
// per-operation request limits. The "default" key is the fallback for
// operations without an explicit entry and must be present.
type TierLimits struct {
	Window time.Duration
	Limits map[string]int
}

// Config holds the three window tiers checked on every request.
type Config struct {
	Burst     TierLimits
	Sustained TierLimits
	Daily     TierLimits
}

// DefaultConfig returns the stock limits table. Operations not listed
// fall back to the per-tier "default" entry.
func DefaultConfig() Config {
	return Config{
		Burst: TierLimits{
			Window: time.Minute,
			Limits: map[string]int{
				"generate_image":   3,
				"analyze_image":    3,
				"web_search":       10,
				"company_research": 8,
				"crawling":         5,
				"get_crypto_price": 20,
				"get_stock_price":  15,
				"tip_user":         10,
				"check_balance":    15,
				"send_message":     20,
				"send_dm":          10,
				"default":          30,
			},
		},
		Sustained: TierLimits{
			Window: time.Hour,
			Limits: map[string]int{
				"generate_image":   20,
				"analyze_image":    20,
				"web_search":       100,
				"company_research": 50,
				"crawling":         30,
				"get_crypto_price": 200,
				"get_stock_price":  150,
				"tip_user":         50,
				"check_balance":    100,
				"send_message":     200,
				"send_dm":          50,
				"default":          150,
			},
		},
		Daily: TierLimits{
			Window: 24 * time.Hour,
			Limits: map[string]int{
				"generate_image":   50,
				"analyze_image":    50,
				"web_search":       500,
				"company_research": 200,
				"crawling":         100,
				"get_crypto_price": 1000,
				"get_stock_price":  750,
				"tip_user":         200,
				"check_balance":    500,
				"send_message":     1000,
				"send_dm":          200,
				"default":          750,
			},
		},
	}
}

// limitFor resolves the base limit for an operation within a tier,
// falling back to the "default" entry.
func (t TierLimits) limitFor(operation string) int {
	if limit, ok := t.Limits[operation]; ok {
		return limit
	}
	return t.Limits["default"]
}

// penaltyTier maps a trailing-hour violation count to a limit divisor.
// Thresholds are checked highest first; the first one met wins.
type penaltyTier struct {
	violations int
	multiplier float64
}

// Escalation ladder for repeat offenders.
var penaltyLadder = []penaltyTier{
	{20, 10.0},
	{15, 5.0},
	{10, 3.0},
	{5, 2.0},
	{3, 1.5},
}
