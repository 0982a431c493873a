package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the risk operator MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolCheckOperation = mcp.NewTool("check_operation",
	mcp.WithDescription(
		"Ask the risk engine whether an account may perform a deposit, withdrawal or trade. "+
			"Returns the verdict (allow, warn, block, escalate), risk score, violations and warnings. "+
			"Read-only: usage counters are not updated."),
	mcp.WithString("account_id",
		mcp.Required(),
		mcp.Description("Account identifier")),
	mcp.WithString("operation",
		mcp.Required(),
		mcp.Description("Operation to evaluate"),
		mcp.Enum("deposit", "withdrawal", "trade")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount in USD as a decimal string (e.g. '2500.00')")),
	mcp.WithString("ip_address",
		mcp.Description("Client IP address, if known")),
	mcp.WithString("country",
		mcp.Description("ISO country code of the request origin (e.g. 'DE')")),
)

var ToolGetRiskProfile = mcp.NewTool("get_risk_profile",
	mcp.WithDescription(
		"Explain an account's current risk score factor by factor, with recommendations "+
			"and its limits, usage and remaining headroom."),
	mcp.WithString("account_id",
		mcp.Required(),
		mcp.Description("Account identifier")),
)

var ToolGetCompliance = mcp.NewTool("get_compliance_status",
	mcp.WithDescription(
		"Show KYC verification level, AML screening state, enhanced monitoring and violation counts for an account."),
	mcp.WithString("account_id",
		mcp.Required(),
		mcp.Description("Account identifier")),
)

var ToolListAlerts = mcp.NewTool("list_alerts",
	mcp.WithDescription(
		"List risk alerts on the review desk, newest first. Requires review-desk credentials."),
	mcp.WithString("account_id",
		mcp.Description("Only alerts for this account")),
	mcp.WithString("status",
		mcp.Description("Filter by status"),
		mcp.Enum("open", "investigating", "resolved", "false_positive")),
	mcp.WithString("severity",
		mcp.Description("Filter by severity"),
		mcp.Enum("info", "warning", "high", "critical")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of alerts to return (default 20, max 100)")),
)

var ToolResolveAlert = mcp.NewTool("resolve_alert",
	mcp.WithDescription(
		"Close an open or investigating alert. Set false_positive to true when the alert "+
			"should not have fired. Closed alerts cannot be reopened."),
	mcp.WithString("alert_id",
		mcp.Required(),
		mcp.Description("The alert ID from list_alerts")),
	mcp.WithString("resolution",
		mcp.Required(),
		mcp.Description("What was found and what was done")),
	mcp.WithString("resolved_by",
		mcp.Description("Analyst name recorded on the alert (default 'mcp-operator')")),
	mcp.WithBoolean("false_positive",
		mcp.Description("Close as false positive instead of resolved")),
)
