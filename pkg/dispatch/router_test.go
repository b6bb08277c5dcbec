package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testmux/testmux/pkg/agent"
	"github.com/testmux/testmux/pkg/schema"
)

func newRouter(reg *agent.Registry) *Router {
	return &Router{
		Registry:    reg,
		Policy:      Policy{BackoffUnit: time.Millisecond},
		MaxParallel: 4,
	}
}

func outcomeByID(outcomes []*Outcome, id string) *Outcome {
	for _, o := range outcomes {
		if o.ScenarioID == id {
			return o
		}
	}
	return nil
}

func TestDispatchOneOutcomePerScenario(t *testing.T) {
	reg := agent.NewRegistry()
	reg.Register(schema.InterfaceProcess, &stubAgent{})

	disabled := false
	scenarios := []*schema.Scenario{
		{ID: "a", Interface: schema.InterfaceProcess},
		{ID: "b", Interface: schema.InterfaceProcess, Enabled: &disabled},
		{ID: "c", Interface: "quantum"},
		{ID: "d", Interface: schema.InterfaceProcess},
	}

	r := newRouter(reg)
	outcomes := r.Dispatch(context.Background(), scenarios)

	if len(outcomes) != len(scenarios) {
		t.Fatalf("got %d outcomes, want %d", len(outcomes), len(scenarios))
	}
	seen := make(map[string]int)
	for _, o := range outcomes {
		seen[o.ScenarioID]++
		if o.Result != nil && o.FailureMessage != "" {
			t.Errorf("%s: outcome carries both a result and a bare failure", o.ScenarioID)
		}
		if o.Result == nil && o.FailureMessage == "" {
			t.Errorf("%s: outcome carries neither a result nor a bare failure", o.ScenarioID)
		}
	}
	for _, sc := range scenarios {
		if seen[sc.ID] != 1 {
			t.Errorf("%s settled %d times, want exactly 1", sc.ID, seen[sc.ID])
		}
	}

	if o := outcomeByID(outcomes, "b"); o.Result == nil || o.Result.Status != agent.StatusSkipped {
		t.Error("disabled scenario should settle as skipped")
	}
	if o := outcomeByID(outcomes, "c"); o.FailureMessage == "" || !strings.Contains(o.FailureMessage, "quantum") {
		t.Errorf("unroutable scenario should settle as a bare failure, got %+v", o)
	}
}

func TestDispatchUnregisteredBucket(t *testing.T) {
	reg := agent.NewRegistry() // nothing registered
	scenarios := []*schema.Scenario{
		{ID: "t1", Interface: schema.InterfaceTerminal},
		{ID: "t2", Interface: schema.InterfaceTerminal},
	}

	r := newRouter(reg)
	outcomes := r.Dispatch(context.Background(), scenarios)

	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}
	for _, o := range outcomes {
		if o.FailureMessage == "" {
			t.Errorf("%s: want a bare failure for the unregistered bucket", o.ScenarioID)
		}
		if !strings.Contains(o.FailureMessage, string(schema.InterfaceTerminal)) {
			t.Errorf("%s: failure message %q does not name the interface", o.ScenarioID, o.FailureMessage)
		}
	}
}

func TestDispatchInitFailureFailsBucket(t *testing.T) {
	reg := agent.NewRegistry()
	a := &stubAgent{initErr: errors.New("driver missing")}
	reg.Register(schema.InterfaceAPI, a)

	scenarios := []*schema.Scenario{
		{ID: "api-1", Interface: schema.InterfaceAPI},
		{ID: "api-2", Interface: schema.InterfaceAPI},
	}

	r := newRouter(reg)
	outcomes := r.Dispatch(context.Background(), scenarios)

	for _, o := range outcomes {
		if !strings.Contains(o.FailureMessage, "driver missing") {
			t.Errorf("%s: failure = %q, want the init error", o.ScenarioID, o.FailureMessage)
		}
	}
	if got := atomic.LoadInt32(&a.execCalls); got != 0 {
		t.Errorf("execute ran %d times after failed init", got)
	}
	if got := atomic.LoadInt32(&a.cleanupCalls); got != 0 {
		t.Errorf("cleanup ran %d times for an agent that never initialized", got)
	}
}

func TestDispatchGUIFailFast(t *testing.T) {
	reg := agent.NewRegistry()
	gui := &stubAgent{exec: func(ctx context.Context, sc *schema.Scenario) (*agent.TestResult, error) {
		return &agent.TestResult{Status: agent.StatusFailed, Error: "element not found"}, nil
	}}
	reg.Register(schema.InterfaceGUI, gui)

	scenarios := []*schema.Scenario{
		{ID: "g1", Interface: schema.InterfaceGUI},
		{ID: "g2", Interface: schema.InterfaceGUI},
		{ID: "g3", Interface: schema.InterfaceGUI},
	}

	r := newRouter(reg)
	r.FailFast = true
	outcomes := r.Dispatch(context.Background(), scenarios)

	if got := atomic.LoadInt32(&gui.execCalls); got != 1 {
		t.Errorf("execute calls = %d, want 1 (fail-fast stops the bucket)", got)
	}
	if got := atomic.LoadInt32(&gui.cleanupCalls); got != 1 {
		t.Errorf("cleanup calls = %d, want exactly 1", got)
	}

	if o := outcomeByID(outcomes, "g1"); o.Result == nil || o.Result.Status != agent.StatusFailed {
		t.Error("g1 should settle as failed")
	}
	for _, id := range []string{"g2", "g3"} {
		o := outcomeByID(outcomes, id)
		if o == nil || o.Result == nil || o.Result.Status != agent.StatusSkipped {
			t.Errorf("%s should settle as skipped after fail-fast", id)
		}
	}
}

func TestDispatchGUISequential(t *testing.T) {
	reg := agent.NewRegistry()
	var inFlight, peak int32
	gui := &stubAgent{exec: func(ctx context.Context, sc *schema.Scenario) (*agent.TestResult, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		if cur > atomic.LoadInt32(&peak) {
			atomic.StoreInt32(&peak, cur)
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &agent.TestResult{Status: agent.StatusPassed}, nil
	}}
	reg.Register(schema.InterfaceGUI, gui)

	scenarios := []*schema.Scenario{
		{ID: "g1", Interface: schema.InterfaceGUI},
		{ID: "g2", Interface: schema.InterfaceGUI},
		{ID: "g3", Interface: schema.InterfaceGUI},
	}

	r := newRouter(reg)
	r.MaxParallel = 8 // must not apply to the GUI bucket
	r.Dispatch(context.Background(), scenarios)

	if got := atomic.LoadInt32(&peak); got != 1 {
		t.Errorf("peak GUI concurrency = %d, want 1", got)
	}
	if got := atomic.LoadInt32(&gui.initCalls); got != 1 {
		t.Errorf("init calls = %d, want 1", got)
	}
	if got := atomic.LoadInt32(&gui.cleanupCalls); got != 1 {
		t.Errorf("cleanup calls = %d, want 1", got)
	}
}

func TestDispatchFailFastCrossesPhases(t *testing.T) {
	reg := agent.NewRegistry()
	proc := &stubAgent{exec: func(ctx context.Context, sc *schema.Scenario) (*agent.TestResult, error) {
		return &agent.TestResult{Status: agent.StatusFailed, Error: "exit 1"}, nil
	}}
	gui := &stubAgent{}
	reg.Register(schema.InterfaceProcess, proc)
	reg.Register(schema.InterfaceGUI, gui)

	scenarios := []*schema.Scenario{
		{ID: "p1", Interface: schema.InterfaceProcess},
		{ID: "g1", Interface: schema.InterfaceGUI},
	}

	r := newRouter(reg)
	r.FailFast = true
	outcomes := r.Dispatch(context.Background(), scenarios)

	if got := atomic.LoadInt32(&gui.execCalls); got != 0 {
		t.Errorf("GUI executed %d times after an earlier-phase failure", got)
	}
	if o := outcomeByID(outcomes, "g1"); o == nil || o.Result == nil || o.Result.Status != agent.StatusSkipped {
		t.Error("g1 should settle as skipped after cross-phase fail-fast")
	}
}

func TestDispatchWhenGuard(t *testing.T) {
	reg := agent.NewRegistry()
	proc := &stubAgent{}
	reg.Register(schema.InterfaceProcess, proc)

	scenarios := []*schema.Scenario{
		{ID: "runs", Interface: schema.InterfaceProcess, When: `env == "prod"`},
		{ID: "gated", Interface: schema.InterfaceProcess, When: `env == "dev"`},
		{ID: "broken", Interface: schema.InterfaceProcess, When: `env ==`},
	}

	r := newRouter(reg)
	r.Vars = map[string]string{"env": "prod"}
	outcomes := r.Dispatch(context.Background(), scenarios)

	if o := outcomeByID(outcomes, "runs"); o.Result == nil || o.Result.Status != agent.StatusPassed {
		t.Error("satisfied guard should run the scenario")
	}
	if o := outcomeByID(outcomes, "gated"); o.Result == nil || o.Result.Status != agent.StatusSkipped {
		t.Error("unsatisfied guard should skip the scenario")
	}
	if o := outcomeByID(outcomes, "broken"); o.FailureMessage == "" {
		t.Error("malformed guard should settle as a bare failure")
	}
}

func TestDispatchMixedResolution(t *testing.T) {
	reg := agent.NewRegistry()
	proc := &stubAgent{}
	gui := &stubAgent{}
	reg.Register(schema.InterfaceProcess, proc)
	reg.Register(schema.InterfaceGUI, gui)

	scenarios := []*schema.Scenario{
		{ID: "mostly-gui", Interface: schema.InterfaceMixed, Steps: []schema.Step{
			{Action: "navigate", Target: "https://example.test"},
			{Action: "click", Target: "#go"},
			{Action: "run", Target: "true"},
		}},
		{ID: "mostly-proc", Interface: schema.InterfaceMixed, Steps: []schema.Step{
			{Action: "run", Target: "make"},
			{Action: "exec", Target: "ls"},
			{Action: "click", Target: "#ok"},
		}},
		{ID: "tied", Interface: schema.InterfaceMixed, Steps: []schema.Step{
			{Action: "run", Target: "true"},
			{Action: "click", Target: "#x"},
		}},
	}

	r := newRouter(reg)
	r.Dispatch(context.Background(), scenarios)

	if got := atomic.LoadInt32(&gui.execCalls); got != 1 {
		t.Errorf("gui execute calls = %d, want 1 (only the GUI-heavy scenario)", got)
	}
	// The process agent takes the process-heavy scenario and the tie.
	if got := atomic.LoadInt32(&proc.execCalls); got != 2 {
		t.Errorf("process execute calls = %d, want 2", got)
	}
}

func TestDispatchMixedWithoutAgents(t *testing.T) {
	reg := agent.NewRegistry()
	scenarios := []*schema.Scenario{
		{ID: "m1", Interface: schema.InterfaceMixed, Steps: []schema.Step{{Action: "run", Target: "true"}}},
	}

	r := newRouter(reg)
	outcomes := r.Dispatch(context.Background(), scenarios)

	o := outcomeByID(outcomes, "m1")
	if o == nil || o.FailureMessage == "" {
		t.Fatal("mixed scenario with no agents should settle as a bare failure")
	}
}
