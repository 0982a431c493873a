package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := NewRiskClient(Config{
		APIURL:      ts.URL,
		APIKey:      "sk_test_key",
		AdminSecret: "desk-secret",
	})
	return NewHandlers(client), ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ============================================================
// Client tests
// ============================================================

func TestClient_Headers(t *testing.T) {
	var gotAuth, gotAdmin string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAdmin = r.Header.Get("X-Admin-Secret")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewRiskClient(Config{APIURL: ts.URL, APIKey: "sk_secret123", AdminSecret: "s3"})
	_, err := client.GetLimits(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk_secret123", gotAuth)
	assert.Equal(t, "s3", gotAdmin)
}

func TestClient_NoAdminHeaderWhenUnset(t *testing.T) {
	var present bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present = r.Header["X-Admin-Secret"]
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewRiskClient(Config{APIURL: ts.URL, APIKey: "k"})
	_, err := client.GetAssessment(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestClient_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":   "not_found",
			"message": "Risk profile not found",
		})
	}))
	defer ts.Close()

	client := NewRiskClient(Config{APIURL: ts.URL, APIKey: "k"})
	_, err := client.GetLimits(context.Background(), "acct-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "Risk profile not found")
}

func TestClient_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewRiskClient(Config{APIURL: ts.URL, APIKey: "k"})
	_, err := client.GetCompliance(context.Background(), "acct-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_ConnectionRefused(t *testing.T) {
	client := NewRiskClient(Config{APIURL: "http://127.0.0.1:1", APIKey: "k"})
	_, err := client.GetAssessment(context.Background(), "acct-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_EscapesAccountID(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewRiskClient(Config{APIURL: ts.URL, APIKey: "k"})
	_, _ = client.GetLimits(context.Background(), "a/b")
	assert.Equal(t, "/v1/risk/accounts/a%2Fb/limits", gotPath)
}

func TestClient_ListAlertsQuery(t *testing.T) {
	var got map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/admin/alerts", r.URL.Path)
		got = map[string]string{}
		for k := range r.URL.Query() {
			got[k] = r.URL.Query().Get(k)
		}
		_, _ = w.Write([]byte(`{"alerts":[]}`))
	}))
	defer ts.Close()

	client := NewRiskClient(Config{APIURL: ts.URL, APIKey: "k"})
	_, err := client.ListAlerts(context.Background(), "acct-1", "open", "", 5)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"accountId": "acct-1", "status": "open", "limit": "5"}, got)
}

// ============================================================
// check_operation
// ============================================================

func TestHandleCheckOperation_Success(t *testing.T) {
	var body map[string]any
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/risk/accounts/acct-1/check", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusOK, map[string]any{
			"decisionId":       "dec_123",
			"operation":        "withdrawal",
			"amount":           "2500",
			"allowed":          false,
			"outcome":          "escalate",
			"riskScore":        64,
			"requiresApproval": true,
			"violations":       []string{},
			"limitBreaches":    []string{},
			"warnings":         []string{"large_transaction", "off_hours_activity"},
			"factors":          []string{"high_velocity"},
		})
	}))
	defer cleanup()

	result, err := h.HandleCheckOperation(context.Background(), makeRequest(map[string]any{
		"account_id": "acct-1",
		"operation":  "withdrawal",
		"amount":     "2500.00",
		"country":    "de",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Decision dec_123")
	assert.Contains(t, text, "Outcome: escalate (allowed: false)")
	assert.Contains(t, text, "Risk score: 64")
	assert.Contains(t, text, "Requires manual approval")
	assert.Contains(t, text, "Warnings: large_transaction, off_hours_activity")
	assert.NotContains(t, text, "Violations:")

	assert.Equal(t, "2500", body["amount"])
	assert.Equal(t, "withdrawal", body["operation"])
	reqCtx, ok := body["context"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "DE", reqCtx["country"])
}

func TestHandleCheckOperation_Validation(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called for invalid input")
	}))
	defer cleanup()

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing account", map[string]any{"operation": "trade", "amount": "1"}, "account_id is required"},
		{"missing operation", map[string]any{"account_id": "a", "amount": "1"}, "operation is required"},
		{"bad amount", map[string]any{"account_id": "a", "operation": "trade", "amount": "lots"}, "positive decimal"},
		{"zero amount", map[string]any{"account_id": "a", "operation": "trade", "amount": "0"}, "positive decimal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleCheckOperation(context.Background(), makeRequest(tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tt.want)
		})
	}
}

func TestHandleCheckOperation_APIError(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":   "service_unavailable",
			"message": "risk store unavailable",
		})
	}))
	defer cleanup()

	result, err := h.HandleCheckOperation(context.Background(), makeRequest(map[string]any{
		"account_id": "acct-1", "operation": "trade", "amount": "10",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "risk store unavailable")
}

// ============================================================
// get_risk_profile
// ============================================================

func TestHandleGetRiskProfile(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/risk/accounts/acct-1/assessment":
			writeJSON(w, http.StatusOK, map[string]any{
				"accountId":      "acct-1",
				"riskScore":      71,
				"riskLevel":      "high",
				"canTradeFreely": false,
				"breakdown":      map[string]any{"accountAge": 20, "geographic": 10},
				"recommendations": []map[string]any{
					{"category": "verification", "priority": "high", "message": "Complete identity verification"},
				},
			})
		case "/v1/risk/accounts/acct-1/limits":
			writeJSON(w, http.StatusOK, map[string]any{
				"limits":       map[string]any{"dailyTradingLimit": "10000"},
				"currentUsage": map[string]any{"dailyTrading": "2500"},
				"remaining":    map[string]any{"dailyTrading": "7500"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer cleanup()

	result, err := h.HandleGetRiskProfile(context.Background(), makeRequest(map[string]any{"account_id": "acct-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Score: 71 (high)")
	assert.Contains(t, text, "accountAge:")
	assert.Contains(t, text, "[high/verification] Complete identity verification")
	assert.Contains(t, text, "2500 / 10000, 7500 left")
}

func TestHandleGetRiskProfile_LimitsFailureStillReturnsAssessment(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/risk/accounts/acct-1/assessment" {
			writeJSON(w, http.StatusOK, map[string]any{"accountId": "acct-1", "riskScore": 10, "riskLevel": "very_low"})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer cleanup()

	result, err := h.HandleGetRiskProfile(context.Background(), makeRequest(map[string]any{"account_id": "acct-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "Score: 10 (very_low)")
	assert.NotContains(t, text, "Limits")
}

func TestHandleGetRiskProfile_NotFound(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not_found", "message": "Risk profile not found"})
	}))
	defer cleanup()

	result, err := h.HandleGetRiskProfile(context.Background(), makeRequest(map[string]any{"account_id": "ghost"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Risk profile not found")
}

// ============================================================
// get_compliance_status
// ============================================================

func TestHandleGetCompliance(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"accountId":  "acct-1",
			"kyc":        map[string]any{"status": "pending", "level": "basic", "nextStep": "submit_documents"},
			"aml":        map[string]any{"status": "high_risk", "riskScore": 80, "sanctionsHit": true},
			"monitoring": map[string]any{"isRestricted": true, "restrictionLevel": "account_frozen", "restrictionReason": "sanctions"},
			"violations": map[string]any{"total": 3, "open": 1, "recent": 2},
		})
	}))
	defer cleanup()

	result, err := h.HandleGetCompliance(context.Background(), makeRequest(map[string]any{"account_id": "acct-1"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "KYC: pending (level basic)")
	assert.Contains(t, text, "Next step: submit_documents")
	assert.Contains(t, text, "AML: high_risk, score 80")
	assert.Contains(t, text, "Sanctions hit recorded")
	assert.Contains(t, text, "Restricted (account_frozen): sanctions")
	assert.Contains(t, text, "3 total, 1 open, 2 in last 30 days")
}

// ============================================================
// list_alerts / resolve_alert
// ============================================================

func TestHandleListAlerts(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "critical", r.URL.Query().Get("severity"))
		writeJSON(w, http.StatusOK, map[string]any{
			"alerts": []map[string]any{
				{"alertId": "alert_1", "accountId": "acct-1", "type": "compliance_issue", "severity": "critical", "status": "open", "title": "Compliance issue detected", "escalatedTo": "compliance_team"},
			},
			"pagination": map[string]any{"page": 1, "limit": 20, "total": 7, "pages": 1},
		})
	}))
	defer cleanup()

	result, err := h.HandleListAlerts(context.Background(), makeRequest(map[string]any{"severity": "critical"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Showing 1 of 7 alert(s)")
	assert.Contains(t, text, "[CRITICAL] Compliance issue detected (alert_1)")
	assert.Contains(t, text, "Escalated to: compliance_team")
}

func TestHandleListAlerts_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"alerts": []any{}, "pagination": map[string]any{"total": 0}})
	}))
	defer cleanup()

	result, err := h.HandleListAlerts(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No alerts found.", resultText(t, result))
}

func TestHandleResolveAlert(t *testing.T) {
	var gotPath string
	var body map[string]string
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		status := "resolved"
		if body["note"] != "" {
			status = "false_positive"
		}
		writeJSON(w, http.StatusOK, map[string]any{"alert": map[string]any{"alertId": "alert_1", "status": status}})
	}))
	defer cleanup()

	result, err := h.HandleResolveAlert(context.Background(), makeRequest(map[string]any{
		"alert_id":   "alert_1",
		"resolution": "customer confirmed travel",
	}))
	require.NoError(t, err)
	assert.Equal(t, "/v1/admin/alerts/alert_1/resolve", gotPath)
	assert.Equal(t, "mcp-operator", body["resolvedBy"])
	assert.Contains(t, resultText(t, result), "Status: resolved")

	result, err = h.HandleResolveAlert(context.Background(), makeRequest(map[string]any{
		"alert_id":       "alert_1",
		"resolution":     "known batch job",
		"resolved_by":    "analyst-7",
		"false_positive": true,
	}))
	require.NoError(t, err)
	assert.Equal(t, "/v1/admin/alerts/alert_1/false-positive", gotPath)
	assert.Equal(t, "known batch job", body["note"])
	text := resultText(t, result)
	assert.Contains(t, text, "closed as false positive by analyst-7")
	assert.Contains(t, text, "Status: false_positive")
}

func TestHandleResolveAlert_Conflict(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "alert_closed", "message": "alert is already closed"})
	}))
	defer cleanup()

	result, err := h.HandleResolveAlert(context.Background(), makeRequest(map[string]any{
		"alert_id": "alert_1", "resolution": "dup",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "already closed")
}

func TestHandleResolveAlert_Validation(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called")
	}))
	defer cleanup()

	result, _ := h.HandleResolveAlert(context.Background(), makeRequest(map[string]any{"resolution": "x"}))
	assert.True(t, result.IsError)
	result, _ = h.HandleResolveAlert(context.Background(), makeRequest(map[string]any{"alert_id": "alert_1"}))
	assert.True(t, result.IsError)
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:0", APIKey: "k"}, "test")
	require.NotNil(t, s)
}
