// Package agent defines the three-operation back-end lifecycle contract,
// the registry that maps interface types to back-end instances, and the
// uniform result types produced by scenario execution.
package agent

import (
	"context"

	"github.com/testmux/testmux/pkg/schema"
)

// Agent is an execution back-end. The dispatch core treats every back-end
// polymorphically through this contract; it never branches on concrete
// back-end identity except via the registry key.
//
// Concurrency-safe back-ends (process, terminal, api) must tolerate
// overlapping Execute calls up to the configured parallelism. The GUI
// back-end is guaranteed never to receive overlapping Execute calls.
type Agent interface {
	// Initialize prepares the back-end for a run.
	Initialize(ctx context.Context) error

	// Execute runs one scenario and returns its result. Implementations
	// MUST return a result for every invocation that does not error, and
	// are responsible for honoring step and scenario timeouts themselves.
	Execute(ctx context.Context, sc *schema.Scenario) (*TestResult, error)

	// Cleanup releases back-end resources. It must not fail the caller;
	// internal errors are swallowed and logged by the back-end.
	Cleanup(ctx context.Context)
}

// Registry maps interface types to the back-end instance that handles
// them. The mapping is partial: absence is a valid, handled state, not an
// error in the data itself.
type Registry struct {
	agents map[schema.InterfaceType]Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[schema.InterfaceType]Agent)}
}

// Register binds an agent to an interface type, replacing any previous
// binding.
func (r *Registry) Register(t schema.InterfaceType, a Agent) {
	r.agents[t] = a
}

// Lookup returns the agent registered for t, if any.
func (r *Registry) Lookup(t schema.InterfaceType) (Agent, bool) {
	a, ok := r.agents[t]
	return a, ok
}

// Interfaces returns the interface types with a registered agent.
func (r *Registry) Interfaces() []schema.InterfaceType {
	types := make([]schema.InterfaceType, 0, len(r.agents))
	for t := range r.agents {
		types = append(types, t)
	}
	return types
}
