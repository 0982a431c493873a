package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/riskgate/internal/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupMiddlewareTest() (*Manager, string, *APIKey) {
	mgr := NewManager(NewMemoryStore(), "")
	rawKey, key, _ := mgr.GenerateKey(context.Background(), "order-gateway", "test-key", 0)
	return mgr, rawKey, key
}

// --- Middleware() ---

func TestMiddleware_ValidKey_SetsContext(t *testing.T) {
	mgr, rawKey, _ := setupMiddlewareTest()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set("Authorization", "Bearer "+rawKey)

	Middleware(mgr)(c)

	if got := GetService(c); got != "order-gateway" {
		t.Errorf("Expected service order-gateway, got %q", got)
	}
	key, ok := GetAPIKey(c)
	if !ok {
		t.Fatal("Expected API key to be set in context")
	}
	if key.Name != "test-key" {
		t.Errorf("Expected key name 'test-key', got %s", key.Name)
	}
	if got := logging.Caller(c.Request.Context()); got != "order-gateway" {
		t.Errorf("Expected caller on request context, got %q", got)
	}
}

func TestMiddleware_ValidKeyViaXAPIKey(t *testing.T) {
	mgr, rawKey, _ := setupMiddlewareTest()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set("X-API-Key", rawKey)

	Middleware(mgr)(c)

	if !IsAuthenticated(c) {
		t.Error("Expected X-API-Key header to authenticate")
	}
}

func TestMiddleware_InvalidKey_PassesThroughUnauthenticated(t *testing.T) {
	mgr, _, _ := setupMiddlewareTest()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set("Authorization", "sk_bogus")

	Middleware(mgr)(c)

	if IsAuthenticated(c) {
		t.Error("Expected invalid key to leave request unauthenticated")
	}
	if c.IsAborted() {
		t.Error("Middleware should not abort by itself")
	}
}

// --- RequireAuth() ---

func TestRequireAuth(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("POST", "/v1/risk/accounts/a/check", nil)

	RequireAuth()(c)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without key, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("POST", "/v1/risk/accounts/a/check", nil)
	c.Set(ContextKeyAPIKey, &APIKey{Service: "order-gateway"})

	RequireAuth()(c)
	if c.IsAborted() {
		t.Error("Expected authenticated request to pass")
	}
}

// --- RequireAdmin() ---

func TestRequireAdmin_NoSecret_AuthenticatedPasses(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("POST", "/admin/restrict", nil)
	c.Set(ContextKeyAPIKey, &APIKey{Service: "ops"})

	RequireAdmin("")(c)

	if c.IsAborted() {
		t.Error("Expected authenticated request to pass without a configured secret")
	}
}

func TestRequireAdmin_NoSecret_UnauthenticatedRejects(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("POST", "/admin/restrict", nil)

	RequireAdmin("")(c)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without auth, got %d", w.Code)
	}
}

func TestRequireAdmin_Secret(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"correct", "supersecret123", http.StatusOK},
		{"wrong", "wrongsecret", http.StatusForbidden},
		{"missing", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request, _ = http.NewRequest("POST", "/admin/restrict", nil)
			if tt.header != "" {
				c.Request.Header.Set("X-Admin-Secret", tt.header)
			}

			RequireAdmin("supersecret123")(c)

			if tt.want == http.StatusOK && c.IsAborted() {
				t.Error("Expected correct admin secret to pass")
			}
			if tt.want != http.StatusOK && w.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

// --- Helper functions ---

func TestGetAPIKey_Missing(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	if _, ok := GetAPIKey(c); ok {
		t.Error("Expected GetAPIKey to return false when no key in context")
	}
	if GetService(c) != "" {
		t.Error("Expected empty service when unauthenticated")
	}
}
