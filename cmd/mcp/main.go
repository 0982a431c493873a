// riskgate MCP server: exposes risk decisions and the alert review desk as
// MCP tools for LLM operators over stdio.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/riskgate/internal/mcpserver"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg := mcpserver.Config{
		APIURL:      envOrDefault("RISKGATE_API_URL", "http://localhost:8080"),
		APIKey:      os.Getenv("RISKGATE_API_KEY"),
		AdminSecret: os.Getenv("RISKGATE_ADMIN_SECRET"),
	}

	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "RISKGATE_API_KEY is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg, version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
