// Package aggregate classifies completed results into successes and
// failures, accumulates bare failures that never produced a result, and
// drives the external triage and issue-reporting collaborators.
package aggregate

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/testmux/testmux/pkg/agent"
)

// PriorityAssignment is the triage verdict for a single failure.
type PriorityAssignment struct {
	ScenarioID string  `json:"scenario_id"`
	Priority   string  `json:"priority"` // critical, high, medium, low
	Score      float64 `json:"score"`
	Reason     string  `json:"reason,omitempty"`
}

// PriorityReport is the consolidated triage report over all failures and
// results of one run.
type PriorityReport struct {
	GeneratedAt time.Time             `json:"generated_at"`
	Assignments []*PriorityAssignment `json:"assignments"`
	Summary     string                `json:"summary,omitempty"`
}

// PriorityAnalyzer is the external priority-analysis collaborator. The
// aggregator calls it; it contains no scoring logic itself.
type PriorityAnalyzer interface {
	AnalyzePriority(ctx context.Context, f *agent.TestFailure) (*PriorityAssignment, error)
	GeneratePriorityReport(ctx context.Context, failures []*agent.TestFailure, results []*agent.TestResult) (*PriorityReport, error)
}

// Issue identifies a created tracker issue.
type Issue struct {
	IssueID string `json:"issue_id"`
	URL     string `json:"url"`
}

// IssueReporter is the external issue-reporting collaborator.
type IssueReporter interface {
	Initialize(ctx context.Context) error
	CreateIssue(ctx context.Context, f *agent.TestFailure) (*Issue, error)
	Cleanup(ctx context.Context)
}

// Aggregator accumulates results and failures for one run.
type Aggregator struct {
	mu       sync.Mutex
	results  []*agent.TestResult
	failures []*agent.TestFailure

	analyzer         PriorityAnalyzer
	reporter         IssueReporter
	reportingEnabled bool
}

// New creates an aggregator. analyzer and reporter may be nil, in which
// case Analyze and Report are no-ops.
func New(analyzer PriorityAnalyzer, reporter IssueReporter, reportingEnabled bool) *Aggregator {
	return &Aggregator{
		analyzer:         analyzer,
		reporter:         reporter,
		reportingEnabled: reportingEnabled,
	}
}

// Record appends a completed result. A failed result with a non-empty
// error additionally synthesizes a failure record with category
// "execution"; a failed result with no error message intentionally does
// not, and stays outside failure analysis.
func (a *Aggregator) Record(res *agent.TestResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.results = append(a.results, res)
	if res.Status == agent.StatusFailed && res.Error != "" {
		a.failures = append(a.failures, &agent.TestFailure{
			ScenarioID: res.ScenarioID,
			Timestamp:  time.Now(),
			Message:    res.Error,
			Category:   "execution",
			StackTrace: res.StackTrace,
		})
	}
}

// RecordFailure appends a bare failure for a scenario that never
// produced a result. This is additive to, and independent from, failures
// synthesized by Record.
func (a *Aggregator) RecordFailure(scenarioID, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.failures = append(a.failures, &agent.TestFailure{
		ScenarioID: scenarioID,
		Timestamp:  time.Now(),
		Message:    message,
		Category:   "execution",
	})
}

// Results returns the recorded results.
func (a *Aggregator) Results() []*agent.TestResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*agent.TestResult, len(a.results))
	copy(out, a.results)
	return out
}

// Failures returns the accumulated failures.
func (a *Aggregator) Failures() []*agent.TestFailure {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*agent.TestFailure, len(a.failures))
	copy(out, a.failures)
	return out
}

// Analyze drives the priority-analysis collaborator: one AnalyzePriority
// call per failure, then one consolidated report over all failures and
// results. It is a no-op when there are no failures or no analyzer is
// wired. Individual analysis errors are logged and skipped.
func (a *Aggregator) Analyze(ctx context.Context) *PriorityReport {
	failures := a.Failures()
	if len(failures) == 0 || a.analyzer == nil {
		return nil
	}

	for _, f := range failures {
		if _, err := a.analyzer.AnalyzePriority(ctx, f); err != nil {
			fmt.Fprintf(os.Stderr, "aggregate: analyze priority for %s: %v\n", f.ScenarioID, err)
		}
	}

	report, err := a.analyzer.GeneratePriorityReport(ctx, failures, a.Results())
	if err != nil {
		fmt.Fprintf(os.Stderr, "aggregate: generate priority report: %v\n", err)
		return nil
	}
	return report
}

// Report submits accumulated failures to the issue-reporting
// collaborator. It is a no-op when there are no failures or reporting is
// disabled. An initialization failure is logged and aborts only the
// reporting phase; an individual creation failure is logged and does not
// stop the remaining submissions. Cleanup runs exactly once, even if
// submission panicked.
func (a *Aggregator) Report(ctx context.Context) {
	failures := a.Failures()
	if len(failures) == 0 || !a.reportingEnabled || a.reporter == nil {
		return
	}

	defer a.reporter.Cleanup(ctx)

	if err := a.reporter.Initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "aggregate: initialize issue reporter: %v\n", err)
		return
	}

	for _, f := range failures {
		issue, err := a.reporter.CreateIssue(ctx, f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "aggregate: create issue for %s: %v\n", f.ScenarioID, err)
			continue
		}
		fmt.Printf("  → issue %s created for %s (%s)\n", issue.IssueID, f.ScenarioID, issue.URL)
	}
}
