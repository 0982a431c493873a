package risk

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/mbd888/riskgate/internal/txn"
	"github.com/mbd888/riskgate/internal/validation"
)

// Handler provides HTTP endpoints for the decision engine.
type Handler struct {
	service *Service
}

// NewHandler creates a new risk handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up service-token routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	acct := r.Group("/risk/accounts/:accountId", validation.AccountIDParamMiddleware())
	acct.POST("/check", h.CheckOperation)
	acct.POST("/complete", h.CompleteOperation)
	acct.GET("/profile", h.GetProfile)
	acct.POST("/profile", h.UpdateProfile)
	acct.GET("/limits", h.GetLimits)
	acct.POST("/limits/increase", h.RequestLimitIncrease)
	acct.GET("/compliance", h.GetCompliance)
	acct.POST("/kyc/check", h.CheckKYC)
	acct.POST("/kyc/submit", h.SubmitKYC)
	acct.GET("/assessment", h.GetAssessment)
}

// RegisterAdminRoutes sets up review-desk routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	acct := r.Group("/risk/accounts/:accountId", validation.AccountIDParamMiddleware())
	acct.POST("/restrict", h.Restrict)
	acct.POST("/unrestrict", h.Unrestrict)
	acct.POST("/violations", h.AddViolation)
	acct.POST("/violations/:violationId/resolve", h.ResolveViolation)
	acct.POST("/monitoring/clear", h.ClearMonitoring)
	acct.POST("/reassess", h.Reassess)
	acct.POST("/kyc/review", h.ReviewKYC)
}

type checkRequest struct {
	Operation string          `json:"operation" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Context   RequestContext  `json:"context"`
}

// CheckOperation handles POST /v1/risk/accounts/:accountId/check
func (h *Handler) CheckOperation(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "operation and amount are required"})
		return
	}
	op, err := txn.ParseOperation(req.Operation)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_operation", "message": err.Error()})
		return
	}
	if errs := validation.Validate(
		validation.ValidCountry("context.country", req.Context.Country),
		validation.MaxLength("context.userAgent", req.Context.UserAgent, 512),
		validation.MaxLength("context.paymentMethodId", req.Context.PaymentMethodID, 128),
	); len(errs) > 0 {
		writeValidation(c, errs)
		return
	}
	if req.Context.IPAddress == "" {
		req.Context.IPAddress = c.ClientIP()
	}
	if req.Context.UserAgent == "" {
		req.Context.UserAgent = c.Request.UserAgent()
	}

	d, err := h.service.CheckOperation(c.Request.Context(), c.Param("accountId"), op, req.Amount, req.Context)
	if err != nil {
		status, code := errorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error(), "decision": d})
		return
	}
	c.JSON(http.StatusOK, d)
}

// CompleteOperation handles POST /v1/risk/accounts/:accountId/complete
func (h *Handler) CompleteOperation(c *gin.Context) {
	var req Completion
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid completion body"})
		return
	}
	p, err := h.service.CompleteOperation(c.Request.Context(), c.Param("accountId"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

// GetProfile handles GET /v1/risk/accounts/:accountId/profile. A missing
// profile is initialized with defaults.
func (h *Handler) GetProfile(c *gin.Context) {
	p, err := h.service.GetProfile(c.Request.Context(), c.Param("accountId"))
	if errors.Is(err, ErrProfileNotFound) {
		p, err = h.service.InitializeProfile(c.Request.Context(), c.Param("accountId"), ProfileInput{})
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

// UpdateProfile handles POST /v1/risk/accounts/:accountId/profile
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid profile update"})
		return
	}
	p, err := h.service.UpdateProfile(c.Request.Context(), c.Param("accountId"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

// GetLimits handles GET /v1/risk/accounts/:accountId/limits
func (h *Handler) GetLimits(c *gin.Context) {
	v, err := h.service.Limits(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// RequestLimitIncrease handles POST /v1/risk/accounts/:accountId/limits/increase
func (h *Handler) RequestLimitIncrease(c *gin.Context) {
	var req LimitIncreaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "limitType, requestedAmount and justification are required"})
		return
	}
	req.Justification = validation.SanitizeString(req.Justification, validation.MaxStringLength)

	receipt, err := h.service.RequestLimitIncrease(c.Request.Context(), c.Param("accountId"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, receipt)
}

// GetCompliance handles GET /v1/risk/accounts/:accountId/compliance
func (h *Handler) GetCompliance(c *gin.Context) {
	v, err := h.service.ComplianceStatus(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type kycCheckRequest struct {
	Operation string          `json:"operation"`
	Amount    decimal.Decimal `json:"amount"`
}

// CheckKYC handles POST /v1/risk/accounts/:accountId/kyc/check
func (h *Handler) CheckKYC(c *gin.Context) {
	var req kycCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "amount is required"})
		return
	}
	op := txn.OpTrade
	if req.Operation != "" {
		var err error
		if op, err = txn.ParseOperation(req.Operation); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_operation", "message": err.Error()})
			return
		}
	}
	kyc, err := h.service.CheckKYC(c.Request.Context(), c.Param("accountId"), op, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, kyc)
}

// SubmitKYC handles POST /v1/risk/accounts/:accountId/kyc/submit
func (h *Handler) SubmitKYC(c *gin.Context) {
	var req KYCSubmission
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid kyc submission"})
		return
	}
	if errs := validation.Validate(
		validation.Required("documentType", req.DocumentType),
		validation.Required("documentNumber", req.DocumentNumber),
		validation.Required("issuingCountry", req.IssuingCountry),
		validation.ValidCountry("issuingCountry", req.IssuingCountry),
		validation.MaxLength("documentNumber", req.DocumentNumber, 64),
	); len(errs) > 0 {
		writeValidation(c, errs)
		return
	}
	p, err := h.service.SubmitKYC(c.Request.Context(), c.Param("accountId"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":    "submitted",
		"kycStatus": p.RiskFactors.KYCStatus,
		"message":   "KYC documents submitted for review",
	})
}

// GetAssessment handles GET /v1/risk/accounts/:accountId/assessment
func (h *Handler) GetAssessment(c *gin.Context) {
	v, err := h.service.Assessment(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type restrictRequest struct {
	Level  string `json:"level" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// Restrict handles POST /v1/admin/risk/accounts/:accountId/restrict
func (h *Handler) Restrict(c *gin.Context) {
	var req restrictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "level and reason are required"})
		return
	}
	reason := validation.SanitizeString(req.Reason, validation.MaxStringLength)
	p, err := h.service.Restrict(c.Request.Context(), c.Param("accountId"), RestrictionLevel(req.Level), reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

// Unrestrict handles POST /v1/admin/risk/accounts/:accountId/unrestrict
func (h *Handler) Unrestrict(c *gin.Context) {
	p, err := h.service.Unrestrict(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

// AddViolation handles POST /v1/admin/risk/accounts/:accountId/violations
func (h *Handler) AddViolation(c *gin.Context) {
	var req ViolationInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid violation"})
		return
	}
	req.Description = validation.SanitizeString(req.Description, validation.MaxStringLength)

	p, err := h.service.AddViolation(c.Request.Context(), c.Param("accountId"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"profile": p})
}

type resolveViolationRequest struct {
	ResolvedBy string   `json:"resolvedBy" binding:"required"`
	Actions    []string `json:"actions"`
}

// ResolveViolation handles POST /v1/admin/risk/accounts/:accountId/violations/:violationId/resolve
func (h *Handler) ResolveViolation(c *gin.Context) {
	var req resolveViolationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "resolvedBy is required"})
		return
	}
	p, err := h.service.ResolveViolation(c.Request.Context(), c.Param("accountId"), c.Param("violationId"), req.ResolvedBy, req.Actions)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

// ClearMonitoring handles POST /v1/admin/risk/accounts/:accountId/monitoring/clear
func (h *Handler) ClearMonitoring(c *gin.Context) {
	p, err := h.service.ClearMonitoring(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

// Reassess handles POST /v1/admin/risk/accounts/:accountId/reassess
func (h *Handler) Reassess(c *gin.Context) {
	p, err := h.service.Reassess(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

type kycReviewRequest struct {
	Status string `json:"status" binding:"required"`
	Level  string `json:"level"`
}

// ReviewKYC handles POST /v1/admin/risk/accounts/:accountId/kyc/review
func (h *Handler) ReviewKYC(c *gin.Context) {
	var req kycReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "status is required"})
		return
	}
	p, err := h.service.ReviewKYC(c.Request.Context(), c.Param("accountId"), req.Status, req.Level)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ErrInvalidOperation):
		return http.StatusBadRequest, "invalid_operation"
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, ErrProfileNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrViolationNotFound):
		return http.StatusNotFound, "violation_not_found"
	case errors.Is(err, ErrViolationResolved):
		return http.StatusConflict, "violation_resolved"
	case errors.Is(err, ErrVersionConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ErrCorruptProfile):
		return http.StatusUnprocessableEntity, "corrupt_profile"
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "cancelled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusNotFound && code == "not_found" {
		msg = "Risk profile not found"
	}
	c.JSON(status, gin.H{"error": code, "message": msg})
}

func writeValidation(c *gin.Context, errs validation.ValidationErrors) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_failed",
		"message": errs.Error(),
		"details": errs,
	})
}
