package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates an MCP server exposing the risk operator tools.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("riskgate", version)
	h := NewHandlers(NewRiskClient(cfg))

	s.AddTool(ToolCheckOperation, h.HandleCheckOperation)
	s.AddTool(ToolGetRiskProfile, h.HandleGetRiskProfile)
	s.AddTool(ToolGetCompliance, h.HandleGetCompliance)
	s.AddTool(ToolListAlerts, h.HandleListAlerts)
	s.AddTool(ToolResolveAlert, h.HandleResolveAlert)

	return s
}
