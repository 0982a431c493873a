// Package ratelimit throttles callers of the decision API with a token
// bucket per authenticated service, falling back to client IP.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/riskgate/internal/auth"
	"github.com/mbd888/riskgate/internal/metrics"
)

// Config configures rate limiting
type Config struct {
	// RequestsPerMinute is the sustained rate per caller.
	RequestsPerMinute int
	// BurstSize allows brief bursts above the limit
	BurstSize int
	// CleanupInterval is how often idle buckets are dropped.
	CleanupInterval time.Duration
	// ServiceRPM overrides RequestsPerMinute for named services.
	ServiceRPM map[string]int
}

// DefaultConfig returns defaults sized for a handful of internal services.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 600,
		BurstSize:         50,
		CleanupInterval:   time.Minute,
	}
}

// Limiter tracks rate limits by key
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*bucket
	stop    chan struct{}
	once    sync.Once
	now     func() time.Time
}

type bucket struct {
	tokens    float64
	rate      float64 // tokens per second
	lastCheck time.Time
}

// New creates a limiter and starts its cleanup loop.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go l.cleanup()
	return l
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stop:
			return
		}
	}
}

// evictIdle drops buckets that have refilled completely; a fresh bucket
// behaves identically.
func (l *Limiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, b := range l.buckets {
		refill := now.Sub(b.lastCheck).Seconds() * b.rate
		if b.tokens+refill >= float64(l.cfg.BurstSize) {
			delete(l.buckets, key)
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Allow checks if a request should be allowed
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.take(key, l.cfg.RequestsPerMinute)
	return ok
}

// take consumes one token for key. When the bucket is empty it returns the
// wait until the next token.
func (l *Limiter) take(key string, rpm int) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			tokens:    float64(l.cfg.BurstSize),
			rate:      float64(rpm) / 60.0,
			lastCheck: now,
		}
		l.buckets[key] = b
	}

	b.tokens += now.Sub(b.lastCheck).Seconds() * b.rate
	if b.tokens > float64(l.cfg.BurstSize) {
		b.tokens = float64(l.cfg.BurstSize)
	}
	b.lastCheck = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
	return false, wait
}

// Middleware returns a Gin middleware that rate limits per caller. It must
// run after auth.Middleware so the caller's service is known.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, kind, rpm := "ip:"+c.ClientIP(), "anonymous", l.cfg.RequestsPerMinute
		if svc := auth.GetService(c); svc != "" {
			key, kind = "svc:"+svc, "service"
			if n, ok := l.cfg.ServiceRPM[svc]; ok && n > 0 {
				rpm = n
			}
		}

		ok, wait := l.take(key, rpm)
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			metrics.RateLimitedTotal.WithLabelValues(kind).Inc()
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": secs,
			})
			return
		}

		c.Next()
	}
}
