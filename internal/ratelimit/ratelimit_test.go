package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/riskgate/internal/auth"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestLimiter(cfg Config) (*Limiter, *fakeClock) {
	l := New(cfg)
	clk := &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	l.now = clk.now
	return l, clk
}

func TestLimiterAllow(t *testing.T) {
	limiter, clk := newTestLimiter(Config{RequestsPerMinute: 60, BurstSize: 5})
	defer limiter.Stop()

	for i := 0; i < 5; i++ {
		if !limiter.Allow("order-gateway") {
			t.Errorf("Request %d should be allowed (within burst)", i)
		}
	}
	if limiter.Allow("order-gateway") {
		t.Error("Request after burst should be denied")
	}

	clk.advance(time.Second)
	if !limiter.Allow("order-gateway") {
		t.Error("Request after one second at 60/min should be allowed")
	}
	if limiter.Allow("order-gateway") {
		t.Error("Only one token should have refilled")
	}
}

func TestLimiterMultipleClients(t *testing.T) {
	limiter, _ := newTestLimiter(Config{RequestsPerMinute: 60, BurstSize: 2})
	defer limiter.Stop()

	limiter.Allow("a")
	limiter.Allow("a")
	if limiter.Allow("a") {
		t.Error("Client a should be exhausted")
	}
	if !limiter.Allow("b") {
		t.Error("Client b has its own bucket")
	}
}

func TestLimiterEvictIdle(t *testing.T) {
	limiter, clk := newTestLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})
	defer limiter.Stop()

	limiter.Allow("a")
	limiter.Allow("b")
	limiter.Allow("b")
	limiter.Allow("b")

	clk.advance(time.Second)
	limiter.evictIdle()

	limiter.mu.Lock()
	_, hasA := limiter.buckets["a"]
	_, hasB := limiter.buckets["b"]
	limiter.mu.Unlock()
	if hasA {
		t.Error("Bucket a refilled and should be evicted")
	}
	if !hasB {
		t.Error("Bucket b is still draining and should be kept")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	limiter := New(DefaultConfig())
	limiter.Stop()
	limiter.Stop()
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RequestsPerMinute <= 0 || cfg.BurstSize <= 0 || cfg.CleanupInterval <= 0 {
		t.Errorf("Unexpected defaults %+v", cfg)
	}
}

func setupRouter(l *Limiter, service string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if service != "" {
			c.Set(auth.ContextKeyAPIKey, &auth.APIKey{ID: "ak_1", Service: service})
			c.Set(auth.ContextKeyService, service)
		}
		c.Next()
	})
	r.Use(l.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestMiddleware_RetryAfter(t *testing.T) {
	limiter, _ := newTestLimiter(Config{RequestsPerMinute: 30, BurstSize: 1})
	defer limiter.Stop()
	r := setupRouter(limiter, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("First request should pass, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Expected Retry-After 2 at 30/min, got %q", got)
	}
}

func TestMiddleware_ServiceOverride(t *testing.T) {
	limiter, clk := newTestLimiter(Config{
		RequestsPerMinute: 1,
		BurstSize:         1,
		ServiceRPM:        map[string]int{"order-gateway": 6000},
	})
	defer limiter.Stop()
	r := setupRouter(limiter, "order-gateway")

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i, w.Code)
		}
		clk.advance(20 * time.Millisecond)
	}
}
