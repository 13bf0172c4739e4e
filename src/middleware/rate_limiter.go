package middleware

import (
	"math"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hyperio-mc/agent-talk/src/services"
	"golang.org/x/time/rate"
)

// limiterEntry holds a rate limiter with last used timestamp
type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// RateLimitConfig defines configuration for the token bucket limiter
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
	IdleTTL           time.Duration
}

// IPRateLimiter keeps one token bucket per client IP. Idle buckets are
// removed by the cleanup service through Sweep.
type IPRateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	interval time.Duration
	burst    int
	idleTTL  time.Duration
}

// NewIPRateLimiter creates a limiter from cfg
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 3
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}

	return &IPRateLimiter{
		limiters: make(map[string]*limiterEntry),
		interval: time.Minute / time.Duration(cfg.RequestsPerMinute),
		burst:    cfg.Burst,
		idleTTL:  cfg.IdleTTL,
	}
}

// Allow reports whether ip may make a request at now
func (l *IPRateLimiter) Allow(ip string, now time.Time) bool {
	l.mu.Lock()
	entry, ok := l.limiters[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Every(l.interval), l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastUsed = now
	l.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

// RetryAfter is the whole seconds until one token refills
func (l *IPRateLimiter) RetryAfter() int64 {
	return int64(math.Ceil(l.interval.Seconds()))
}

// Name identifies the limiter to the sweeper
func (l *IPRateLimiter) Name() string {
	return "demo_limiter"
}

// Sweep removes buckets not used within the idle TTL
func (l *IPRateLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.idleTTL)
	removed := 0
	for ip, entry := range l.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(l.limiters, ip)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked IPs
func (l *IPRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// DemoRateLimitMiddleware limits the unauthenticated demo endpoint per IP
func DemoRateLimitMiddleware(limiter *IPRateLimiter, now func() time.Time) gin.HandlerFunc {
	if now == nil {
		now = time.Now
	}

	return func(c *gin.Context) {
		if !limiter.Allow(ClientIP(c), now()) {
			RespondError(c, services.RateLimitError(
				"Too many demo requests. Sign up for an API key for higher limits.",
				limiter.RetryAfter(),
			))
			return
		}
		c.Next()
	}
}
