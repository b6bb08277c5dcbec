package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/testmux/testmux/pkg/agent"
	"github.com/testmux/testmux/pkg/backend"
	"github.com/testmux/testmux/pkg/config"
	"github.com/testmux/testmux/pkg/orchestrator"
	"github.com/testmux/testmux/pkg/schema"
	"github.com/testmux/testmux/pkg/triage"
)

// HandleValidate implements the testmux/validate MCP tool.
func HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	suite, errs := schema.ValidateFile(path)
	if schema.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	return textResult(fmt.Sprintf("✓ %s is valid (%d scenarios)", suite.Meta.Name, len(suite.Scenarios))), nil
}

// HandleSchema implements the testmux/schema MCP tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := schema.GenerateJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleRun implements the testmux/run MCP tool.
func HandleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	configPath, _ := args["config"].(string)
	tag, _ := args["tag"].(string)

	suite, errs := schema.ValidateFile(path)
	if schema.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}

	if configPath == "" {
		configPath = "testmux.yaml"
	}
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return errorResult(fmt.Sprintf("load config: %v", err)), nil
	}

	scenarios := make([]*schema.Scenario, 0, len(suite.Scenarios))
	for i := range suite.Scenarios {
		sc := &suite.Scenarios[i]
		if tag != "" && !sc.HasTag(tag) {
			continue
		}
		scenarios = append(scenarios, sc)
	}

	registry := backend.DefaultRegistry(cfg.Backends.Shell, cfg.Backends.BaseURL, cfg.Backends.WorkDir, cfg.Backends.Headless)
	orch := orchestrator.New(cfg, registry, triage.NewAnalyzer(), nil)

	sess, _, err := orch.Run(ctx, scenarios, suite.Meta.Vars)
	if err != nil {
		return errorResult(fmt.Sprintf("run suite: %v", err)), nil
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("encode session: %v", err)), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: sess.Status == agent.StatusFailed || sess.Status == agent.StatusError,
	}, nil
}

func formatErrors(errs []*schema.ValidationError) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == "error" {
			msgs = append(msgs, fmt.Sprintf("[%s] %s", e.Phase, e.Message))
		}
	}
	return strings.Join(msgs, "; ")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
