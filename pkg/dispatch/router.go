package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/testmux/testmux/pkg/agent"
	"github.com/testmux/testmux/pkg/event"
	"github.com/testmux/testmux/pkg/schema"
)

// concurrencySafe is the fixed phase order for interface types whose
// back-ends tolerate overlapping Execute calls. These buckets run before
// the stateful GUI bucket, which runs before mixed scenarios.
var concurrencySafe = []schema.InterfaceType{
	schema.InterfaceProcess,
	schema.InterfaceTerminal,
	schema.InterfaceAPI,
}

// Outcome is the settled fate of one dispatched scenario: exactly one of
// Result (the scenario was executed or skipped) or FailureMessage (a bare
// failure — the scenario never reached execution) is set.
type Outcome struct {
	ScenarioID     string
	Result         *agent.TestResult
	FailureMessage string
}

// Router produces a result or bare failure for every scenario in a
// batch, honoring concurrency limits, retries, fail-fast, and
// cooperative cancellation.
type Router struct {
	Registry    *agent.Registry
	Policy      Policy
	MaxParallel int
	FailFast    bool
	Vars        map[string]string // environment for scenario when-guards
	Bus         *event.Bus        // optional lifecycle notifications
}

// Dispatch routes the batch. Every scenario settles as exactly one
// outcome; unroutable scenarios surface as bare failures, never as
// dropped work or as errors thrown to the caller.
func (r *Router) Dispatch(ctx context.Context, scenarios []*schema.Scenario) []*Outcome {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rec := newRecorder(r.Bus)

	buckets := make(map[schema.InterfaceType][]*schema.Scenario)
	var unroutable []*schema.Scenario

	for _, sc := range scenarios {
		if !sc.IsEnabled() {
			rec.result(skippedResult(sc.ID, "scenario disabled"))
			continue
		}
		if sc.When != "" {
			ok, err := r.evalWhen(sc.When)
			if err != nil {
				rec.failure(sc.ID, fmt.Sprintf("when condition: %v", err))
				continue
			}
			if !ok {
				rec.result(skippedResult(sc.ID, "when condition not met"))
				continue
			}
		}

		switch {
		case sc.Interface == schema.InterfaceMixed || isConcurrencySafe(sc.Interface) || sc.Interface == schema.InterfaceGUI:
			buckets[sc.Interface] = append(buckets[sc.Interface], sc)
		default:
			unroutable = append(unroutable, sc)
		}
	}

	lc := newLifecycle()
	defer lc.cleanupAll(ctx)

	// Phase 1: concurrency-safe buckets, fixed order.
	for _, t := range concurrencySafe {
		bucket := buckets[t]
		if len(bucket) == 0 {
			continue
		}
		r.publishPhase(event.PhaseStart, t)
		r.runConcurrent(runCtx, cancel, t, bucket, lc, rec)
		r.publishPhase(event.PhaseEnd, t)
	}

	// Phase 2: stateful GUI bucket, strictly sequential.
	if bucket := buckets[schema.InterfaceGUI]; len(bucket) > 0 {
		r.publishPhase(event.PhaseStart, schema.InterfaceGUI)
		r.runSequentialGUI(runCtx, cancel, bucket, lc, rec)
		r.publishPhase(event.PhaseEnd, schema.InterfaceGUI)
	}

	// Phase 3: mixed scenarios, one at a time.
	if bucket := buckets[schema.InterfaceMixed]; len(bucket) > 0 {
		r.publishPhase(event.PhaseStart, schema.InterfaceMixed)
		r.runMixed(runCtx, cancel, bucket, lc, rec)
		r.publishPhase(event.PhaseEnd, schema.InterfaceMixed)
	}

	// Phase 4: anything not covered above is a routing failure, reported
	// per scenario.
	for _, sc := range unroutable {
		rec.failure(sc.ID, fmt.Sprintf("no agent registered for interface %q", sc.Interface))
	}

	return rec.outcomes
}

// runConcurrent dispatches one concurrency-safe bucket through the
// bounded executor with the single shared agent instance.
func (r *Router) runConcurrent(ctx context.Context, cancel context.CancelFunc, t schema.InterfaceType, bucket []*schema.Scenario, lc *lifecycle, rec *recorder) {
	a, ok := r.Registry.Lookup(t)
	if !ok {
		rec.bucketFailure(bucket, fmt.Sprintf("no agent registered for interface %q", t))
		return
	}
	if err := lc.ensureInit(ctx, a); err != nil {
		rec.bucketFailure(bucket, fmt.Sprintf("initialize %s agent: %v", t, err))
		return
	}

	results := RunBounded(ctx, bucket, r.MaxParallel, func(ctx context.Context, sc *schema.Scenario) *agent.TestResult {
		res := r.Policy.Execute(ctx, a, sc)
		if r.FailFast && res.Status == agent.StatusFailed {
			cancel()
		}
		return res
	})

	// Flush in bucket order; association is by scenario id, not by the
	// position outcomes happened to settle in.
	for _, sc := range bucket {
		res, ok := results[sc.ID]
		if !ok {
			// Executor guarantees one settled outcome per admitted item;
			// a hole here is a bug, surfaced as data rather than dropped.
			rec.failure(sc.ID, "executor produced no outcome")
			continue
		}
		rec.result(res)
	}
}

// runSequentialGUI runs the GUI bucket one Execute at a time. The agent
// is initialized once before the loop and cleaned up exactly once
// afterward (via the dispatch-wide lifecycle), regardless of how the
// loop ended.
func (r *Router) runSequentialGUI(ctx context.Context, cancel context.CancelFunc, bucket []*schema.Scenario, lc *lifecycle, rec *recorder) {
	a, ok := r.Registry.Lookup(schema.InterfaceGUI)
	if !ok {
		rec.bucketFailure(bucket, fmt.Sprintf("no agent registered for interface %q", schema.InterfaceGUI))
		return
	}
	if err := lc.ensureInit(ctx, a); err != nil {
		rec.bucketFailure(bucket, fmt.Sprintf("initialize gui agent: %v", err))
		return
	}

	priorFailed := false
	for _, sc := range bucket {
		if ctx.Err() != nil || (r.FailFast && priorFailed) {
			rec.result(skippedResult(sc.ID, "cancelled before execution"))
			continue
		}

		res := r.Policy.Execute(ctx, a, sc)
		priorFailed = res.Status == agent.StatusFailed
		if r.FailFast && priorFailed {
			cancel()
		}
		rec.result(res)
	}
}

// runMixed resolves each mixed scenario to a concrete agent and runs it
// sequentially.
func (r *Router) runMixed(ctx context.Context, cancel context.CancelFunc, bucket []*schema.Scenario, lc *lifecycle, rec *recorder) {
	for _, sc := range bucket {
		if ctx.Err() != nil {
			rec.result(skippedResult(sc.ID, "cancelled before execution"))
			continue
		}

		a, err := r.resolveMixed(sc)
		if err != nil {
			rec.failure(sc.ID, err.Error())
			continue
		}
		if err := lc.ensureInit(ctx, a); err != nil {
			rec.failure(sc.ID, fmt.Sprintf("initialize agent for mixed scenario: %v", err))
			continue
		}

		res := r.Policy.Execute(ctx, a, sc)
		if r.FailFast && res.Status == agent.StatusFailed {
			cancel()
		}
		rec.result(res)
	}
}

// resolveMixed selects a concrete agent for a mixed scenario by
// comparing counts of process-style and GUI-style step actions: the GUI
// agent wins only when GUI-style actions strictly outnumber
// process-style ones and a GUI agent exists; otherwise the process
// agent; otherwise any registered agent.
func (r *Router) resolveMixed(sc *schema.Scenario) (agent.Agent, error) {
	guiCount, procCount := 0, 0
	for _, st := range sc.Steps {
		switch {
		case isGUIAction(st.Action):
			guiCount++
		case isProcessAction(st.Action):
			procCount++
		}
	}

	if guiCount > procCount {
		if a, ok := r.Registry.Lookup(schema.InterfaceGUI); ok {
			return a, nil
		}
	}
	if a, ok := r.Registry.Lookup(schema.InterfaceProcess); ok {
		return a, nil
	}
	for _, t := range []schema.InterfaceType{schema.InterfaceTerminal, schema.InterfaceAPI, schema.InterfaceGUI} {
		if a, ok := r.Registry.Lookup(t); ok {
			return a, nil
		}
	}
	return nil, fmt.Errorf("no agent available for mixed scenario %q", sc.ID)
}

func isGUIAction(action string) bool {
	switch strings.ToLower(action) {
	case "navigate", "click", "type", "hover", "select", "screenshot", "wait_visible":
		return true
	}
	return false
}

func isProcessAction(action string) bool {
	switch strings.ToLower(action) {
	case "run", "exec", "command", "shell", "spawn", "kill":
		return true
	}
	return false
}

func isConcurrencySafe(t schema.InterfaceType) bool {
	for _, s := range concurrencySafe {
		if t == s {
			return true
		}
	}
	return false
}

// evalWhen evaluates a scenario guard against the router's variable
// environment.
func (r *Router) evalWhen(cond string) (bool, error) {
	env := make(map[string]interface{}, len(r.Vars))
	for k, v := range r.Vars {
		env[k] = v
	}

	prog, err := expr.Compile(cond, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile: %w", err)
	}
	out, err := expr.Run(prog, env)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a boolean", cond)
	}
	return b, nil
}

func (r *Router) publishPhase(t event.Type, phase schema.InterfaceType) {
	if r.Bus == nil {
		return
	}
	r.Bus.Publish(event.Event{Type: t, Phase: string(phase)})
}

// ─── Outcome recording ──────────────────────────────────────────────

// recorder accumulates outcomes in settlement order and mirrors them to
// the event bus.
type recorder struct {
	bus      *event.Bus
	outcomes []*Outcome
}

func newRecorder(bus *event.Bus) *recorder {
	return &recorder{bus: bus}
}

func (rc *recorder) result(res *agent.TestResult) {
	rc.outcomes = append(rc.outcomes, &Outcome{ScenarioID: res.ScenarioID, Result: res})
	if rc.bus != nil {
		rc.bus.Publish(event.Event{
			Type:       event.ScenarioEnd,
			ScenarioID: res.ScenarioID,
			Status:     string(res.Status),
		})
	}
}

func (rc *recorder) failure(scenarioID, message string) {
	rc.outcomes = append(rc.outcomes, &Outcome{ScenarioID: scenarioID, FailureMessage: message})
	if rc.bus != nil {
		rc.bus.Publish(event.Event{
			Type:       event.Error,
			ScenarioID: scenarioID,
			Message:    message,
		})
	}
}

func (rc *recorder) bucketFailure(bucket []*schema.Scenario, message string) {
	for _, sc := range bucket {
		rc.failure(sc.ID, message)
	}
}

// ─── Agent lifecycle ────────────────────────────────────────────────

// lifecycle tracks which shared agent instances were initialized during
// one dispatch so each is cleaned up exactly once at the end.
type lifecycle struct {
	state       map[agent.Agent]error
	initialized []agent.Agent
}

func newLifecycle() *lifecycle {
	return &lifecycle{state: make(map[agent.Agent]error)}
}

// ensureInit initializes a at most once per dispatch and returns the
// (possibly cached) initialization outcome.
func (l *lifecycle) ensureInit(ctx context.Context, a agent.Agent) error {
	if err, done := l.state[a]; done {
		return err
	}
	err := a.Initialize(ctx)
	l.state[a] = err
	if err == nil {
		l.initialized = append(l.initialized, a)
	}
	return err
}

func (l *lifecycle) cleanupAll(ctx context.Context) {
	for _, a := range l.initialized {
		a.Cleanup(ctx)
	}
}
