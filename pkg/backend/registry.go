package backend

import (
	"github.com/testmux/testmux/pkg/agent"
	"github.com/testmux/testmux/pkg/schema"
)

// DefaultRegistry assembles a registry with every shipped back-end
// bound to its interface type.
func DefaultRegistry(shell, baseURL, workDir string, headless bool) *agent.Registry {
	r := agent.NewRegistry()
	r.Register(schema.InterfaceProcess, NewProcessAgent(workDir))
	r.Register(schema.InterfaceTerminal, NewTerminalAgent(shell))
	r.Register(schema.InterfaceAPI, NewAPIAgent(baseURL))
	r.Register(schema.InterfaceGUI, NewBrowserAgent(headless, ""))
	return r
}
