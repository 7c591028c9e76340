// Package middleware contains Telegram bot middlewares for update processing.
package middleware

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER MIDDLEWARE
// Per-user token bucket. Tapping a quest button twice is fine; a flood is not.
// ══════════════════════════════════════════════════════════════════════════════

// RateLimitConfig holds configuration for the rate limiter.
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained rate per user.
	RequestsPerMinute int

	// BurstSize is how many updates a user may send at once.
	BurstSize int

	// IdleTTL is how long an unused bucket is kept.
	IdleTTL time.Duration

	// WhitelistedUsers are exempt (admins).
	WhitelistedUsers []int64
}

// DefaultRateLimitConfig returns sensible defaults for rate limiting.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 20,
		BurstSize:         5,
		IdleTTL:           10 * time.Minute,
	}
}

// RateLimitResult represents the result of a rate limit check.
type RateLimitResult struct {
	Allowed bool

	// RetryAfter is how long the user should wait; zero when allowed.
	RetryAfter time.Duration
}

// Message is the text sent to a throttled user.
func (r RateLimitResult) Message() string {
	seconds := int(r.RetryAfter.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return fmt.Sprintf("⏳ Too many requests. Try again in %d s.", seconds)
}

// RateLimiter implements per-user rate limiting.
type RateLimiter struct {
	config    RateLimitConfig
	limit     rate.Limit
	whitelist map[int64]struct{}
	now       func() time.Time

	mu      sync.Mutex
	buckets map[int64]*bucket
	lastGC  time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	defaults := DefaultRateLimitConfig()
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = defaults.RequestsPerMinute
	}
	if config.BurstSize <= 0 {
		config.BurstSize = defaults.BurstSize
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = defaults.IdleTTL
	}

	whitelist := make(map[int64]struct{}, len(config.WhitelistedUsers))
	for _, id := range config.WhitelistedUsers {
		whitelist[id] = struct{}{}
	}

	return &RateLimiter{
		config:    config,
		limit:     rate.Limit(float64(config.RequestsPerMinute) / 60),
		whitelist: whitelist,
		now:       time.Now,
		buckets:   make(map[int64]*bucket),
		lastGC:    time.Now(),
	}
}

// Check reports whether an update from telegramID may be processed now.
func (rl *RateLimiter) Check(telegramID int64) RateLimitResult {
	if _, ok := rl.whitelist[telegramID]; ok {
		return RateLimitResult{Allowed: true}
	}

	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastGC) > rl.config.IdleTTL {
		for id, b := range rl.buckets {
			if now.Sub(b.lastSeen) > rl.config.IdleTTL {
				delete(rl.buckets, id)
			}
		}
		rl.lastGC = now
	}

	b, ok := rl.buckets[telegramID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.config.BurstSize)}
		rl.buckets[telegramID] = b
	}
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return RateLimitResult{RetryAfter: delay}
	}
	return RateLimitResult{Allowed: true}
}

// Tracked returns the number of users with a live bucket.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}
