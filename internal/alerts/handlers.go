package alerts

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/riskgate/internal/pagination"
)

// Handler provides HTTP endpoints for alerts.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new alert handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterProtectedRoutes sets up account-scoped alert routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/risk/accounts/:accountId/alerts", h.ListAccountAlerts)
	r.PATCH("/risk/accounts/:accountId/alerts/:alertId/read", h.MarkRead)
}

// RegisterAdminRoutes sets up review-desk routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/alerts", h.ListAlerts)
	r.GET("/alerts/:alertId", h.GetAlert)
	r.POST("/alerts/:alertId/escalate", h.Escalate)
	r.POST("/alerts/:alertId/investigate", h.Investigate)
	r.POST("/alerts/:alertId/resolve", h.Resolve)
	r.POST("/alerts/:alertId/false-positive", h.FalsePositive)
}

// ListAccountAlerts handles GET /v1/risk/accounts/:accountId/alerts
func (h *Handler) ListAccountAlerts(c *gin.Context) {
	f, ok := parseFilter(c)
	if !ok {
		return
	}
	f.AccountID = c.Param("accountId")
	h.list(c, f)
}

// ListAlerts handles GET /v1/admin/alerts
func (h *Handler) ListAlerts(c *gin.Context) {
	f, ok := parseFilter(c)
	if !ok {
		return
	}
	f.AccountID = c.Query("accountId")
	h.list(c, f)
}

func (h *Handler) list(c *gin.Context, f Filter) {
	alerts, total, err := h.manager.List(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	f.Normalize()

	if f.Keyset {
		page, next, more := pagination.ComputePage(alerts, f.Limit, func(a *Alert) (time.Time, string) {
			return a.CreatedAt, a.ID
		})
		c.JSON(http.StatusOK, gin.H{
			"alerts": page,
			"pagination": gin.H{
				"limit":      f.Limit,
				"total":      total,
				"nextCursor": next,
				"hasMore":    more,
			},
		})
		return
	}
	pages := (total + f.Limit - 1) / f.Limit
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"pagination": gin.H{
			"page":  f.Page,
			"limit": f.Limit,
			"total": total,
			"pages": pages,
		},
	})
}

// MarkRead handles PATCH /v1/risk/accounts/:accountId/alerts/:alertId/read
func (h *Handler) MarkRead(c *gin.Context) {
	err := h.manager.MarkRead(c.Request.Context(), c.Param("accountId"), c.Param("alertId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Alert marked as read"})
}

// GetAlert handles GET /v1/admin/alerts/:alertId
func (h *Handler) GetAlert(c *gin.Context) {
	a, err := h.manager.Get(c.Request.Context(), c.Param("alertId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert": a})
}

type escalateRequest struct {
	Target string `json:"target"`
}

// Escalate handles POST /v1/admin/alerts/:alertId/escalate
func (h *Handler) Escalate(c *gin.Context) {
	var req escalateRequest
	_ = c.ShouldBindJSON(&req)

	a, err := h.manager.Escalate(c.Request.Context(), c.Param("alertId"), req.Target)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert": a})
}

type investigateRequest struct {
	Assignee string `json:"assignee" binding:"required"`
}

// Investigate handles POST /v1/admin/alerts/:alertId/investigate
func (h *Handler) Investigate(c *gin.Context) {
	var req investigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "assignee is required"})
		return
	}

	a, err := h.manager.Investigate(c.Request.Context(), c.Param("alertId"), req.Assignee)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert": a})
}

type resolveRequest struct {
	ResolvedBy   string   `json:"resolvedBy" binding:"required"`
	Resolution   string   `json:"resolution" binding:"required"`
	ActionsTaken []string `json:"actionsTaken"`
}

// Resolve handles POST /v1/admin/alerts/:alertId/resolve
func (h *Handler) Resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "resolvedBy and resolution are required"})
		return
	}

	a, err := h.manager.Resolve(c.Request.Context(), c.Param("alertId"), req.ResolvedBy, req.Resolution, req.ActionsTaken)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert": a})
}

type falsePositiveRequest struct {
	ResolvedBy string `json:"resolvedBy" binding:"required"`
	Note       string `json:"note"`
}

// FalsePositive handles POST /v1/admin/alerts/:alertId/false-positive
func (h *Handler) FalsePositive(c *gin.Context) {
	var req falsePositiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "resolvedBy is required"})
		return
	}

	a, err := h.manager.MarkFalsePositive(c.Request.Context(), c.Param("alertId"), req.ResolvedBy, req.Note)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert": a})
}

func parseFilter(c *gin.Context) (Filter, bool) {
	var f Filter
	if v := c.Query("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Page = n
		}
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	if v, ok := c.GetQuery("cursor"); ok {
		cur, err := pagination.Decode(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return f, false
		}
		f.Keyset = true
		f.After = cur
	}
	f.Status = Status(c.Query("status"))
	f.Severity = Severity(c.Query("severity"))
	if v := c.Query("type"); v != "" {
		t, err := ParseType(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return f, false
		}
		f.Type = t
	}
	return f, true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrAlertNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Alert not found"})
	case errors.Is(err, ErrAlertClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "alert_closed", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
