package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────────────
// Token Bucket Rate Limiter
// ──────────────────────────────────────────────────────────────────────────────

const (
	evictEvery = 5 * time.Minute
	idleAfter  = 10 * time.Minute
)

// bucket is an in-memory token bucket for one caller.
type bucket struct {
	tokens    float64
	lastRefil time.Time
	mu        sync.Mutex
}

// rateLimiter holds per-caller buckets.
type rateLimiter struct {
	mu        sync.RWMutex
	buckets   map[string]*bucket
	rate      float64 // tokens per second
	burst     float64 // maximum token capacity
	lastEvict time.Time
	now       func() time.Time
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	b := float64(burst)
	if b < 1 {
		b = rps
	}
	if b < 1 {
		b = 1
	}
	return &rateLimiter{
		buckets:   make(map[string]*bucket),
		rate:      rps,
		burst:     b,
		lastEvict: time.Now(),
		now:       time.Now,
	}
}

// allow returns true when key may proceed and deducts one token.
func (rl *rateLimiter) allow(key string) bool {
	now := rl.now()
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		if b, ok = rl.buckets[key]; !ok {
			b = &bucket{tokens: rl.burst, lastRefil: now}
			rl.buckets[key] = b
		}
		rl.evictLocked(now)
		rl.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += now.Sub(b.lastRefil).Seconds() * rl.rate
	if b.tokens > rl.burst {
		b.tokens = rl.burst
	}
	b.lastRefil = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// evictLocked drops idle buckets so the map does not grow without bound.
// Runs at most once per evictEvery, piggybacking on new-caller inserts.
func (rl *rateLimiter) evictLocked(now time.Time) {
	if now.Sub(rl.lastEvict) < evictEvery {
		return
	}
	rl.lastEvict = now
	cutoff := now.Add(-idleAfter)
	for key, b := range rl.buckets {
		b.mu.Lock()
		if b.lastRefil.Before(cutoff) {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// RateLimitMiddleware enforces a token bucket of rps requests per second with
// the given burst per caller. Authenticated requests are keyed by token
// subject, others by client IP. rps <= 0 disables limiting.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	rl := newRateLimiter(rps, burst)

	return func(c *gin.Context) {
		key := GetSubject(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !rl.allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "too many requests, please slow down",
				"code":    "ERR_RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
