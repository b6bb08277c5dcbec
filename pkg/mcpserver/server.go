// Package mcpserver exposes testmux operations as MCP tools so AI
// agents can validate and run scenario suites.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server with testmux tools registered.
func NewServer(version string) *server.MCPServer {
	s := server.NewMCPServer(
		"testmux",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("testmux/validate",
			mcp.WithDescription("Validate a testmux scenario suite YAML file"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the suite YAML file")),
		),
		HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("testmux/run",
			mcp.WithDescription("Run a testmux scenario suite and return the session document"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the suite YAML file")),
			mcp.WithString("config", mcp.Description("Path to a testmux.yaml config file (optional)")),
			mcp.WithString("tag", mcp.Description("Run only scenarios carrying this tag (optional)")),
		),
		HandleRun,
	)

	s.AddTool(
		mcp.NewTool("testmux/schema",
			mcp.WithDescription("Export the testmux suite JSON Schema"),
		),
		HandleSchema,
	)

	return s
}
