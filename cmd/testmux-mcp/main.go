// Package main provides the testmux-mcp binary — MCP server exposing
// suite validation and execution to AI agents.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/testmux/testmux/pkg/mcpserver"
)

var version = "dev"

func main() {
	s := mcpserver.NewServer(version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
