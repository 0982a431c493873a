package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *RiskClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *RiskClient) *Handlers {
	return &Handlers{client: client}
}

// HandleCheckOperation asks for a read-only decision.
func (h *Handlers) HandleCheckOperation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	accountID := req.GetString("account_id", "")
	if accountID == "" {
		return mcp.NewToolResultError("account_id is required"), nil
	}
	operation := req.GetString("operation", "")
	if operation == "" {
		return mcp.NewToolResultError("operation is required"), nil
	}
	amount, err := decimal.NewFromString(req.GetString("amount", ""))
	if err != nil || !amount.IsPositive() {
		return mcp.NewToolResultError("amount must be a positive decimal (e.g. '250.00')"), nil
	}

	reqCtx := map[string]any{}
	if v := req.GetString("ip_address", ""); v != "" {
		reqCtx["ipAddress"] = v
	}
	if v := req.GetString("country", ""); v != "" {
		reqCtx["country"] = strings.ToUpper(v)
	}

	raw, err := h.client.CheckOperation(ctx, accountID, operation, amount.String(), reqCtx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Check failed: %v", err)), nil
	}

	text, err := formatDecision(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse decision: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetRiskProfile combines the assessment and limits views.
func (h *Handlers) HandleGetRiskProfile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	accountID := req.GetString("account_id", "")
	if accountID == "" {
		return mcp.NewToolResultError("account_id is required"), nil
	}

	assessment, err := h.client.GetAssessment(ctx, accountID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get assessment: %v", err)), nil
	}
	text, err := formatAssessment(assessment)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessment: %v", err)), nil
	}

	// Limits are supplementary; a failure here still returns the assessment.
	if limits, err := h.client.GetLimits(ctx, accountID); err == nil {
		if lt, err := formatLimits(limits); err == nil {
			text += "\n" + lt
		}
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetCompliance returns KYC, AML and violation state.
func (h *Handlers) HandleGetCompliance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	accountID := req.GetString("account_id", "")
	if accountID == "" {
		return mcp.NewToolResultError("account_id is required"), nil
	}

	raw, err := h.client.GetCompliance(ctx, accountID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get compliance status: %v", err)), nil
	}
	text, err := formatCompliance(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse compliance status: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListAlerts lists review-desk alerts.
func (h *Handlers) HandleListAlerts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListAlerts(ctx,
		req.GetString("account_id", ""),
		req.GetString("status", ""),
		req.GetString("severity", ""),
		req.GetInt("limit", 20),
	)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list alerts: %v", err)), nil
	}

	text, err := formatAlertList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse alerts: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleResolveAlert closes an alert as resolved or false positive.
func (h *Handlers) HandleResolveAlert(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	alertID := req.GetString("alert_id", "")
	if alertID == "" {
		return mcp.NewToolResultError("alert_id is required"), nil
	}
	resolution := req.GetString("resolution", "")
	if resolution == "" {
		return mcp.NewToolResultError("resolution is required"), nil
	}
	resolvedBy := req.GetString("resolved_by", "mcp-operator")

	var (
		raw   json.RawMessage
		err   error
		label = "resolved"
	)
	if req.GetBool("false_positive", false) {
		label = "closed as false positive"
		raw, err = h.client.MarkFalsePositive(ctx, alertID, resolvedBy, resolution)
	} else {
		raw, err = h.client.ResolveAlert(ctx, alertID, resolvedBy, resolution)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to close alert: %v", err)), nil
	}

	a := unwrap(raw, "alert")
	return mcp.NewToolResultText(fmt.Sprintf(
		"Alert %s %s by %s.\nStatus: %s",
		alertID, label, resolvedBy, getString(a, "status"))), nil
}

// --- Formatting helpers ---

func formatDecision(raw json.RawMessage) (string, error) {
	var d map[string]any
	if err := json.Unmarshal(raw, &d); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Decision %s\n", getString(d, "decisionId"))
	fmt.Fprintf(&sb, "  Operation: %s %s USD\n", getString(d, "operation"), getString(d, "amount"))
	fmt.Fprintf(&sb, "  Outcome: %s (allowed: %t)\n", getString(d, "outcome"), getBool(d, "allowed"))
	if v, ok := getFloat(d, "riskScore"); ok {
		fmt.Fprintf(&sb, "  Risk score: %.0f\n", v)
	}
	if getBool(d, "requiresApproval") {
		sb.WriteString("  Requires manual approval\n")
	}
	writeList(&sb, "Violations", getStrings(d, "violations"))
	writeList(&sb, "Limit breaches", getStrings(d, "limitBreaches"))
	writeList(&sb, "Warnings", getStrings(d, "warnings"))
	writeList(&sb, "Factors", getStrings(d, "factors"))
	return sb.String(), nil
}

func formatAssessment(raw json.RawMessage) (string, error) {
	var a map[string]any
	if err := json.Unmarshal(raw, &a); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Risk profile for %s\n", getString(a, "accountId"))
	if v, ok := getFloat(a, "riskScore"); ok {
		fmt.Fprintf(&sb, "  Score: %.0f (%s)\n", v, getString(a, "riskLevel"))
	}
	fmt.Fprintf(&sb, "  Can trade freely: %t\n", getBool(a, "canTradeFreely"))
	if getBool(a, "requiresMonitoring") {
		sb.WriteString("  Under enhanced monitoring\n")
	}
	if v := getString(a, "nextReview"); v != "" {
		fmt.Fprintf(&sb, "  Next review: %s\n", v)
	}

	if b, ok := a["breakdown"].(map[string]any); ok {
		sb.WriteString("  Breakdown:\n")
		for _, k := range []string{"accountAge", "experience", "verification", "ipReputation", "deviceTrust", "geographic", "behavioral", "compliance"} {
			if v, ok := getFloat(b, k); ok {
				fmt.Fprintf(&sb, "    %-13s %.1f\n", k+":", v)
			}
		}
	}

	if recs, ok := a["recommendations"].([]any); ok && len(recs) > 0 {
		sb.WriteString("  Recommendations:\n")
		for _, r := range recs {
			if m, ok := r.(map[string]any); ok {
				fmt.Fprintf(&sb, "    [%s/%s] %s\n", getString(m, "priority"), getString(m, "category"), getString(m, "message"))
			}
		}
	}
	return sb.String(), nil
}

func formatLimits(raw json.RawMessage) (string, error) {
	var v struct {
		Limits    map[string]any `json:"limits"`
		Usage     map[string]any `json:"currentUsage"`
		Remaining map[string]any `json:"remaining"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}

	rows := []struct{ label, limit, usage, remaining string }{
		{"Daily trading", "dailyTradingLimit", "dailyTrading", "dailyTrading"},
		{"Daily withdrawal", "dailyWithdrawalLimit", "dailyWithdrawals", "dailyWithdrawal"},
		{"Daily deposit", "dailyDepositLimit", "dailyDeposits", "dailyDeposit"},
		{"Daily loss", "maxDailyLoss", "dailyLoss", "dailyLoss"},
	}

	var sb strings.Builder
	sb.WriteString("Limits (used / limit, remaining):\n")
	for _, r := range rows {
		fmt.Fprintf(&sb, "  %-17s %s / %s, %s left\n", r.label+":",
			getString(v.Usage, r.usage), getString(v.Limits, r.limit), getString(v.Remaining, r.remaining))
	}
	return sb.String(), nil
}

func formatCompliance(raw json.RawMessage) (string, error) {
	var c map[string]any
	if err := json.Unmarshal(raw, &c); err != nil {
		return "", err
	}
	kyc := unwrapMap(c, "kyc")
	aml := unwrapMap(c, "aml")
	mon := unwrapMap(c, "monitoring")
	vio := unwrapMap(c, "violations")

	var sb strings.Builder
	fmt.Fprintf(&sb, "Compliance for %s\n", getString(c, "accountId"))
	fmt.Fprintf(&sb, "  KYC: %s (level %s)\n", getString(kyc, "status"), getString(kyc, "level"))
	if v := getString(kyc, "nextStep"); v != "" {
		fmt.Fprintf(&sb, "    Next step: %s\n", v)
	}
	fmt.Fprintf(&sb, "  AML: %s, score %s\n", getString(aml, "status"), getString(aml, "riskScore"))
	if getBool(aml, "sanctionsHit") {
		sb.WriteString("    Sanctions hit recorded\n")
	}
	if getBool(aml, "pep") {
		sb.WriteString("    Politically exposed person\n")
	}
	if getBool(mon, "isRestricted") {
		fmt.Fprintf(&sb, "  Restricted (%s): %s\n", getString(mon, "restrictionLevel"), getString(mon, "restrictionReason"))
	}
	if getBool(mon, "isMonitored") {
		fmt.Fprintf(&sb, "  Monitored: %s\n", getString(mon, "monitoringReason"))
	}
	fmt.Fprintf(&sb, "  Violations: %s total, %s open, %s in last 30 days\n",
		getString(vio, "total"), getString(vio, "open"), getString(vio, "recent"))
	return sb.String(), nil
}

func formatAlertList(raw json.RawMessage) (string, error) {
	var resp struct {
		Alerts     []map[string]any `json:"alerts"`
		Pagination map[string]any   `json:"pagination"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected alerts response format")
	}
	if len(resp.Alerts) == 0 {
		return "No alerts found.", nil
	}

	var sb strings.Builder
	total := getString(resp.Pagination, "total")
	if total == "" {
		total = fmt.Sprint(len(resp.Alerts))
	}
	fmt.Fprintf(&sb, "Showing %d of %s alert(s):\n\n", len(resp.Alerts), total)
	for i, a := range resp.Alerts {
		fmt.Fprintf(&sb, "%d. [%s] %s (%s)\n", i+1, strings.ToUpper(getString(a, "severity")), getString(a, "title"), getString(a, "alertId"))
		fmt.Fprintf(&sb, "   Account: %s | Type: %s | Status: %s\n", getString(a, "accountId"), getString(a, "type"), getString(a, "status"))
		if v := getString(a, "escalatedTo"); v != "" {
			fmt.Fprintf(&sb, "   Escalated to: %s\n", v)
		}
	}
	return sb.String(), nil
}

func writeList(sb *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "  %s: %s\n", label, strings.Join(items, ", "))
}

// unwrap decodes raw and returns the object under key, or the top level.
func unwrap(raw json.RawMessage, key string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	if inner, ok := m[key].(map[string]any); ok {
		return inner
	}
	return m
}

func unwrapMap(m map[string]any, key string) map[string]any {
	if inner, ok := m[key].(map[string]any); ok {
		return inner
	}
	return map[string]any{}
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func getBool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func getStrings(m map[string]any, key string) []string {
	arr, _ := m[key].([]any)
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
