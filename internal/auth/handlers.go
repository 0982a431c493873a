package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for key management
type Handler struct {
	manager *Manager
}

// NewHandler creates a new auth handler
func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

// RegisterRoutes sets up public routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/auth/info", h.Info)
}

// RegisterProtectedRoutes sets up routes for authenticated callers.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/auth/me", h.Me)
}

// RegisterAdminRoutes sets up key management routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/auth/keys", h.CreateKey)
	r.GET("/auth/keys", h.ListKeys)
	r.DELETE("/auth/keys/:keyId", h.RevokeKey)
}

// Info returns auth configuration info
func (h *Handler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"type":      "api_key",
		"header":    "Authorization: Bearer sk_...",
		"altHeader": "X-API-Key: sk_...",
		"admin":     "X-Admin-Secret: <secret>",
		"note":      "Keys are issued per calling service by an administrator.",
	})
}

// Me returns the authenticated caller.
func (h *Handler) Me(c *gin.Context) {
	key, ok := GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"service":   key.Service,
		"keyId":     key.ID,
		"keyName":   key.Name,
		"expiresAt": key.ExpiresAt,
	})
}

// CreateKeyRequest is the request body for creating a key
type CreateKeyRequest struct {
	Service string `json:"service" binding:"required"`
	Name    string `json:"name"`
	TTL     string `json:"ttl"` // Go duration, e.g. "720h"
}

// CreateKey handles POST /v1/admin/auth/keys
func (h *Handler) CreateKey(c *gin.Context) {
	var req CreateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "service is required"})
		return
	}
	if req.Name == "" {
		req.Name = "Service key"
	}
	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "ttl must be a positive duration"})
			return
		}
		ttl = d
	}

	rawKey, key, err := h.manager.GenerateKey(c.Request.Context(), req.Service, req.Name, ttl)
	if errors.Is(err, ErrNoService) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create API key",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"apiKey":    rawKey,
		"keyId":     key.ID,
		"service":   key.Service,
		"name":      key.Name,
		"expiresAt": key.ExpiresAt,
		"warning":   "Store this key securely. It will not be shown again.",
	})
}

// ListKeys handles GET /v1/admin/auth/keys?service=
func (h *Handler) ListKeys(c *gin.Context) {
	service := c.Query("service")
	if service == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "service query parameter is required"})
		return
	}
	keys, err := h.manager.ListKeys(c.Request.Context(), service)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to list keys"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"keys":  keys,
		"count": len(keys),
	})
}

// RevokeKey handles DELETE /v1/admin/auth/keys/:keyId
func (h *Handler) RevokeKey(c *gin.Context) {
	keyID := c.Param("keyId")
	if err := h.manager.RevokeKey(c.Request.Context(), keyID); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "key_not_found",
				"message": "Key not found or already revoked",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to revoke key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Key revoked",
		"keyId":   keyID,
	})
}
