package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for reaching the decision API.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	APIKey      string // service key or shared service token
	AdminSecret string // X-Admin-Secret for review-desk tools; optional
}

// RiskClient is a thin HTTP client for the decision API.
type RiskClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewRiskClient creates a new client for the decision API.
func NewRiskClient(cfg Config) *RiskClient {
	return &RiskClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *RiskClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.AdminSecret != "" {
		req.Header.Set("X-Admin-Secret", c.cfg.AdminSecret)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

func accountPath(accountID, suffix string) string {
	return "/v1/risk/accounts/" + url.PathEscape(accountID) + suffix
}

// CheckOperation asks for a decision on a proposed operation.
func (c *RiskClient) CheckOperation(ctx context.Context, accountID, operation, amount string, reqCtx map[string]any) (json.RawMessage, error) {
	body := map[string]any{
		"operation": operation,
		"amount":    amount,
	}
	if len(reqCtx) > 0 {
		body["context"] = reqCtx
	}
	return c.doRequest(ctx, http.MethodPost, accountPath(accountID, "/check"), nil, body)
}

// GetAssessment returns the factor breakdown for an account.
func (c *RiskClient) GetAssessment(ctx context.Context, accountID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, accountPath(accountID, "/assessment"), nil, nil)
}

// GetLimits returns limits, usage and headroom for an account.
func (c *RiskClient) GetLimits(ctx context.Context, accountID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, accountPath(accountID, "/limits"), nil, nil)
}

// GetCompliance returns KYC, AML and violation state for an account.
func (c *RiskClient) GetCompliance(ctx context.Context, accountID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, accountPath(accountID, "/compliance"), nil, nil)
}

// ListAlerts lists alerts on the review desk.
func (c *RiskClient) ListAlerts(ctx context.Context, accountID, status, severity string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if accountID != "" {
		q.Set("accountId", accountID)
	}
	if status != "" {
		q.Set("status", status)
	}
	if severity != "" {
		q.Set("severity", severity)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/admin/alerts", q, nil)
}

// ResolveAlert closes an alert as resolved.
func (c *RiskClient) ResolveAlert(ctx context.Context, alertID, resolvedBy, resolution string) (json.RawMessage, error) {
	path := "/v1/admin/alerts/" + url.PathEscape(alertID) + "/resolve"
	body := map[string]string{
		"resolvedBy": resolvedBy,
		"resolution": resolution,
	}
	return c.doRequest(ctx, http.MethodPost, path, nil, body)
}

// MarkFalsePositive closes an alert as a false positive.
func (c *RiskClient) MarkFalsePositive(ctx context.Context, alertID, resolvedBy, note string) (json.RawMessage, error) {
	path := "/v1/admin/alerts/" + url.PathEscape(alertID) + "/false-positive"
	body := map[string]string{
		"resolvedBy": resolvedBy,
		"note":       note,
	}
	return c.doRequest(ctx, http.MethodPost, path, nil, body)
}
