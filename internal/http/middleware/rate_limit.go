package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/yungbote/questline-backend/internal/platform/ctxutil"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles each caller independently. Callers are keyed by user
// id when authenticated, otherwise by client IP.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = perMinute
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()
	rl.mu.Lock()
	e, ok := rl.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = e
	}
	e.lastSeen = now
	lim := e.limiter
	rl.mu.Unlock()
	return lim.AllowN(now, 1)
}

// Sweep drops limiters idle for longer than the idle window.
func (rl *RateLimiter) Sweep() {
	threshold := rl.now().Add(-rl.idle)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, e := range rl.limiters {
		if e.lastSeen.Before(threshold) {
			delete(rl.limiters, k)
		}
	}
}

// Run sweeps periodically until stop is closed.
func (rl *RateLimiter) Run(stop <-chan struct{}) {
	t := time.NewTicker(rl.idle)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			rl.Sweep()
		case <-stop:
			return
		}
	}
}

// Middleware rejects requests over the limit with 429. Safe methods pass.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		key := ctxutil.UserID(c.Request.Context())
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !rl.Allow(key) {
			c.Header("Retry-After", "1")
			abort(c, http.StatusTooManyRequests, "rate limit exceeded", "rate_limited")
			return
		}
		c.Next()
	}
}
