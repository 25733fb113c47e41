package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/blocknetdx/eth-payment-processor/internal/httputil"
)

// RateLimiter implements fixed window rate limiting per arbitrary key.
type RateLimiter struct {
	mu          sync.Mutex
	now         func() time.Time
	counters    map[string]*window
	lastCleanup time.Time
}

type window struct {
	count    int
	resetAt  time.Time
	lastSeen time.Time
}

const (
	cleanupInterval    = 5 * time.Minute
	expiredWindowGrace = 10 * time.Minute
	staleEntryTTL      = 24 * time.Hour
)

// NewRateLimiter creates a new in-memory rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		now:         time.Now,
		counters:    make(map[string]*window),
		lastCleanup: time.Now(),
	}
}

// Allow counts one request for key.
// Returns (allowed, remaining, resetAt).
func (rl *RateLimiter) Allow(key string, max int, period time.Duration) (bool, int, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, exists := rl.counters[key]
	if !exists || now.After(w.resetAt) {
		rl.counters[key] = &window{
			count:    1,
			resetAt:  now.Add(period),
			lastSeen: now,
		}
		rl.cleanupLocked(now)
		return true, max - 1, now.Add(period)
	}

	w.lastSeen = now
	if w.count >= max {
		rl.cleanupLocked(now)
		return false, 0, w.resetAt
	}

	w.count++
	rl.cleanupLocked(now)
	return true, max - w.count, w.resetAt
}

// PerIPRateLimit limits requests per client IP. A non-positive max
// disables the limit.
func PerIPRateLimit(rl *RateLimiter, prefix string, max int, period time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if max <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining, resetAt := rl.Allow(clientIPKey(r, prefix), max, period)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				httputil.RespondError(w, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) cleanupLocked(now time.Time) {
	if now.Sub(rl.lastCleanup) < cleanupInterval {
		return
	}

	for key, w := range rl.counters {
		if now.Sub(w.lastSeen) > staleEntryTTL || now.After(w.resetAt.Add(expiredWindowGrace)) {
			delete(rl.counters, key)
		}
	}

	rl.lastCleanup = now
}
