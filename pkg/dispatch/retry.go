package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/testmux/testmux/pkg/agent"
	"github.com/testmux/testmux/pkg/schema"
)

// DefaultBackoffUnit is the base delay multiplied by 2^attempt between
// retries.
const DefaultBackoffUnit = 100 * time.Millisecond

// Policy wraps a single scenario's execution attempt with bounded,
// exponentially-delayed retries. The zero value retries nothing and
// waits with DefaultBackoffUnit.
type Policy struct {
	Retries     int           // additional attempts after the first
	BackoffUnit time.Duration // base delay; 2^attempt units, no jitter
}

func (p Policy) unit() time.Duration {
	if p.BackoffUnit > 0 {
		return p.BackoffUnit
	}
	return DefaultBackoffUnit
}

// retriesFor returns the retry budget for a scenario: the per-scenario
// override when declared, otherwise the policy default.
func (p Policy) retriesFor(sc *schema.Scenario) int {
	if sc.Retries != nil && *sc.Retries >= 0 {
		return *sc.Retries
	}
	return p.Retries
}

// Execute runs the scenario through a, retrying on error until the
// budget is exhausted. It always returns a terminal result; execution
// errors are never re-thrown past the router. Duration is measured from
// the first attempt's start, regardless of which attempt settles.
func (p Policy) Execute(ctx context.Context, a agent.Agent, sc *schema.Scenario) *agent.TestResult {
	start := time.Now()
	retries := p.retriesFor(sc)

	var lastErr error
	var lastStack string

	for attempt := 1; ; attempt++ {
		res, stack, err := p.attempt(ctx, a, sc)
		if err == nil {
			return finalize(res, sc.ID, start)
		}
		lastErr = err
		lastStack = stack

		if attempt > retries {
			break
		}

		// Exponential backoff: 2^attempt units, no jitter. The wait is a
		// suspension point and honors cancellation.
		delay := p.unit() * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			// Retries aborted; the last error stands as terminal.
			return failedResult(sc.ID, start, lastErr, lastStack)
		case <-time.After(delay):
		}
	}

	return failedResult(sc.ID, start, lastErr, lastStack)
}

// attempt invokes Execute once, converting panics into errors with a
// captured stack so a misbehaving back-end cannot take down the run.
func (p Policy) attempt(ctx context.Context, a agent.Agent, sc *schema.Scenario) (res *agent.TestResult, stack string, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			stack = string(debug.Stack())
			err = fmt.Errorf("back-end panic: %v", r)
		}
	}()

	res, err = a.Execute(ctx, sc)
	if err == nil && res == nil {
		err = fmt.Errorf("back-end returned no result")
	}
	return res, "", err
}

// finalize stamps identity and the first-attempt duration convention
// onto a back-end result.
func finalize(res *agent.TestResult, scenarioID string, start time.Time) *agent.TestResult {
	out := *res
	out.ScenarioID = scenarioID
	out.StartedAt = start
	if out.EndedAt.IsZero() {
		out.EndedAt = time.Now()
	}
	out.DurationMs = out.EndedAt.Sub(start).Milliseconds()
	return &out
}

func failedResult(scenarioID string, start time.Time, err error, stack string) *agent.TestResult {
	end := time.Now()
	return &agent.TestResult{
		ScenarioID: scenarioID,
		Status:     agent.StatusFailed,
		StartedAt:  start,
		EndedAt:    end,
		DurationMs: end.Sub(start).Milliseconds(),
		Error:      err.Error(),
		StackTrace: stack,
	}
}

func skippedResult(scenarioID, reason string) *agent.TestResult {
	now := time.Now()
	return &agent.TestResult{
		ScenarioID: scenarioID,
		Status:     agent.StatusSkipped,
		StartedAt:  now,
		EndedAt:    now,
		Error:      reason,
	}
}
