// Package dispatch implements the scenario dispatch and execution-control
// engine: bucket routing by interface type, bounded concurrent execution,
// retries with exponential backoff, fail-fast and cooperative
// cancellation.
package dispatch

import (
	"context"
	"sync"

	"github.com/testmux/testmux/pkg/agent"
	"github.com/testmux/testmux/pkg/schema"
)

// Handler executes one scenario and always returns a terminal result.
// Error conversion happens inside the handler (see Policy.Execute), so
// the executor itself never sees an error value.
type Handler func(ctx context.Context, sc *schema.Scenario) *agent.TestResult

// RunBounded runs handler over scenarios with at most maxParallel
// invocations in flight at any point in time. Admission is
// admission-controlled and cooperative: the shared cancellation context
// is checked before starting each item, and already-admitted work is
// never forcibly terminated. Scenarios that are refused admission after
// cancellation settle as skipped results.
//
// Outcomes are keyed by scenario id, never by position: completion order
// can differ from submission order under concurrency.
func RunBounded(ctx context.Context, scenarios []*schema.Scenario, maxParallel int, handler Handler) map[string]*agent.TestResult {
	if maxParallel < 1 {
		maxParallel = 1
	}

	sem := make(chan struct{}, maxParallel)
	results := make(map[string]*agent.TestResult, len(scenarios))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for i := range scenarios {
		sc := scenarios[i]

		// Admission: wait for a free slot unless the run is cancelled.
		var admitted bool
		if ctx.Err() == nil {
			select {
			case sem <- struct{}{}:
				admitted = true
			case <-ctx.Done():
			}
		}
		if !admitted {
			mu.Lock()
			results[sc.ID] = skippedResult(sc.ID, "cancelled before execution")
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			res := handler(ctx, sc)
			mu.Lock()
			results[sc.ID] = res
			mu.Unlock()
		}()
	}

	wg.Wait()
	return results
}
