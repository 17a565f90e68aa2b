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

const limiterIdle = 10 * time.Minute

// RateLimitConfig bounds requests per client address. Exempt lists route
// templates that are never limited, such as health probes.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
	Exempt            []string
}

// DefaultRateLimitConfig returns limits generous enough for an interactive
// client polling several sessions.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             200,
		Exempt:            []string{"/health", "/metrics"},
	}
}

type clientLimiters struct {
	mu     sync.Mutex
	every  rate.Limit
	burst  int
	byAddr map[string]*clientLimiter
	swept  time.Time
}

type clientLimiter struct {
	*rate.Limiter
	seen time.Time
}

func (l *clientLimiters) get(addr string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > limiterIdle {
		for k, cl := range l.byAddr {
			if now.Sub(cl.seen) > limiterIdle {
				delete(l.byAddr, k)
			}
		}
		l.swept = now
	}

	cl, ok := l.byAddr[addr]
	if !ok {
		cl = &clientLimiter{Limiter: rate.NewLimiter(l.every, l.burst)}
		l.byAddr[addr] = cl
	}
	cl.seen = now
	return cl.Limiter
}

// RateLimit rejects a client with 429 once it exhausts its token bucket and
// tells it when the next token is due.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	limiters := &clientLimiters{
		every:  rate.Limit(cfg.RequestsPerSecond),
		burst:  cfg.Burst,
		byAddr: make(map[string]*clientLimiter),
		swept:  time.Now(),
	}
	exempt := make(map[string]struct{}, len(cfg.Exempt))
	for _, p := range cfg.Exempt {
		exempt[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := exempt[c.FullPath()]; ok {
			c.Next()
			return
		}

		now := time.Now()
		r := limiters.get(c.ClientIP(), now).ReserveN(now, 1)
		if !r.OK() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		if wait := r.DelayFrom(now); wait > 0 {
			r.CancelAt(now)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		c.Next()
	}
}
