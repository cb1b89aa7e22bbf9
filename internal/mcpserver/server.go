package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all fraud scoring tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("fraudswarm", "1.0.0")
	h := NewHandlers(NewFraudClient(cfg))

	s.AddTool(ToolAnalyzeTransaction, h.HandleAnalyzeTransaction)
	s.AddTool(ToolScorePattern, h.HandleScorePattern)
	s.AddTool(ToolListAnalyses, h.HandleListAnalyses)

	return s
}
