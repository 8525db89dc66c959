// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the edge rate limiter: one golang.org/x/time/rate
// token bucket per caller identity, held in process memory. Register and
// login are keyed by client IP; protected routes are keyed by user id. Idle
// buckets are swept periodically so the map stays bounded.
//
// The limiter is process-local. It caps cost per caller (each send can hit
// the paid generator); it is not an authorization mechanism.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc maps a request to its bucket identity.
type KeyFunc func(*gin.Context) string

// KeyByIP keys buckets by client IP.
func KeyByIP() KeyFunc {
	return func(c *gin.Context) string { return "ip:" + c.ClientIP() }
}

// KeyByUserOrIP keys by the authenticated user, falling back to client IP.
func KeyByUserOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if uid := userIDFromCtx(c); uid != "" {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

const (
	defaultIdleTTL = 10 * time.Minute
	sweepEvery     = 4096 // lookups between idle sweeps
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token-bucket limiter. Safe for concurrent use.
type RateLimiter struct {
	scope string
	limit rate.Limit
	burst int
	key   KeyFunc
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	idleTTL time.Duration
	lookups int
}

// NewRateLimiter returns a limiter refilling rps tokens per second up to
// burst (coerced to at least 1). scope names the limiter in metrics.
// rps <= 0 disables limiting: every request passes and no buckets are kept.
func NewRateLimiter(scope string, rps float64, burst int, key KeyFunc) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		scope:   scope,
		limit:   rate.Limit(rps),
		burst:   burst,
		key:     key,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		idleTTL: defaultIdleTTL,
	}
}

// Disabled reports whether the limiter lets every request through.
func (rl *RateLimiter) Disabled() bool { return rl.limit <= 0 }

// limiter returns the bucket for key, creating it on first use. Every
// sweepEvery lookups, buckets idle for idleTTL are dropped first, so a stale
// bucket is evicted even when it is the one being asked for.
func (rl *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= sweepEvery {
		rl.lookups = 0
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.idleTTL {
				delete(rl.buckets, k)
			}
		}
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim
}

// size reports the number of live buckets.
func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// IsRateBypass reports whether IdempotencyValidator flagged the request as a
// replay. Replays write nothing and call no generator, so they are free.
func IsRateBypass(c *gin.Context) bool { return ctxBool(c, ctxKeyRateBypass) }

// Handler enforces the limit. A rejected request gets
//
//	429 {"request_id":"...","code":"rate_limited","error":"Too many requests, please slow down."}
//
// with Retry-After set to the whole seconds until a token is available.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.Disabled() || IsRateBypass(c) {
			c.Next()
			return
		}

		now := rl.now()
		lim := rl.limiter(rl.key(c), now)
		r := lim.ReserveN(now, 1)
		wait := time.Second
		if r.OK() {
			wait = r.DelayFrom(now)
			if wait == 0 {
				c.Next()
				return
			}
			r.CancelAt(now)
		}
		c.Header("Retry-After", retryAfter(wait))

		rateLimited.WithLabelValues(rl.scope).Inc()
		abortJSON(c, http.StatusTooManyRequests, "rate_limited", "Too many requests, please slow down.")
	}
}

func retryAfter(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
