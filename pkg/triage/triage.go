// Package triage implements the priority-analysis collaborator: a
// deterministic heuristic scorer over failure messages and categories,
// with an optional LLM assist for priority reasoning.
package triage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/testmux/testmux/pkg/agent"
	"github.com/testmux/testmux/pkg/aggregate"
)

// Analyzer assigns priorities to failures. Scoring is keyword and
// category driven; when an LLM client is wired, its one-line reasoning
// is attached to each assignment but never changes the score.
type Analyzer struct {
	LLM LLMClient // optional

	assignments map[string]*aggregate.PriorityAssignment
}

// NewAnalyzer creates an analyzer without LLM assist.
func NewAnalyzer() *Analyzer {
	return &Analyzer{assignments: make(map[string]*aggregate.PriorityAssignment)}
}

// NewAnalyzerWithLLM creates an analyzer that asks llm for reasoning.
func NewAnalyzerWithLLM(llm LLMClient) *Analyzer {
	a := NewAnalyzer()
	a.LLM = llm
	return a
}

// severityKeywords maps failure-message markers to score weights.
// Matching is case-insensitive substring search.
var severityKeywords = []struct {
	marker string
	weight float64
}{
	{"panic", 40},
	{"data loss", 40},
	{"timeout", 25},
	{"connection refused", 25},
	{"segmentation", 35},
	{"permission denied", 20},
	{"no agent registered", 15},
	{"assertion", 10},
}

// AnalyzePriority scores one failure and caches the assignment for the
// consolidated report.
func (a *Analyzer) AnalyzePriority(ctx context.Context, f *agent.TestFailure) (*aggregate.PriorityAssignment, error) {
	score := 10.0
	msg := strings.ToLower(f.Message)
	for _, kw := range severityKeywords {
		if strings.Contains(msg, kw.marker) {
			score += kw.weight
		}
	}
	if f.StackTrace != "" {
		score += 15
	}
	if f.Category == "execution" && strings.Contains(msg, "initialize") {
		// An agent that cannot even initialize blocks a whole bucket.
		score += 20
	}

	assignment := &aggregate.PriorityAssignment{
		ScenarioID: f.ScenarioID,
		Priority:   priorityFor(score),
		Score:      score,
	}

	if a.LLM != nil {
		reason, err := a.reasonWithLLM(ctx, f)
		if err != nil {
			// LLM assist is best effort; the heuristic verdict stands.
			assignment.Reason = fmt.Sprintf("heuristic only (llm: %v)", err)
		} else {
			assignment.Reason = reason
		}
	}

	if a.assignments == nil {
		a.assignments = make(map[string]*aggregate.PriorityAssignment)
	}
	a.assignments[assignmentKey(f)] = assignment
	return assignment, nil
}

// GeneratePriorityReport consolidates all prior assignments into a
// single report, ordered by descending score. Failures never seen by
// AnalyzePriority are scored on the fly.
func (a *Analyzer) GeneratePriorityReport(ctx context.Context, failures []*agent.TestFailure, results []*agent.TestResult) (*aggregate.PriorityReport, error) {
	report := &aggregate.PriorityReport{GeneratedAt: time.Now()}

	for _, f := range failures {
		assignment, ok := a.assignments[assignmentKey(f)]
		if !ok {
			var err error
			assignment, err = a.AnalyzePriority(ctx, f)
			if err != nil {
				return nil, fmt.Errorf("score failure %s: %w", f.ScenarioID, err)
			}
		}
		report.Assignments = append(report.Assignments, assignment)
	}

	sort.SliceStable(report.Assignments, func(i, j int) bool {
		return report.Assignments[i].Score > report.Assignments[j].Score
	})

	passed := 0
	for _, r := range results {
		if r.Status == agent.StatusPassed {
			passed++
		}
	}
	report.Summary = fmt.Sprintf("%d failure(s) across %d result(s), %d passed", len(failures), len(results), passed)

	return report, nil
}

func (a *Analyzer) reasonWithLLM(ctx context.Context, f *agent.TestFailure) (string, error) {
	system := "You triage automated test failures. Reply with one short sentence explaining the likely impact. No preamble."
	user := fmt.Sprintf("Scenario %s failed in category %q with message: %s", f.ScenarioID, f.Category, f.Message)
	return a.LLM.Complete(ctx, system, user)
}

func priorityFor(score float64) string {
	switch {
	case score >= 60:
		return "critical"
	case score >= 40:
		return "high"
	case score >= 20:
		return "medium"
	default:
		return "low"
	}
}

// assignmentKey distinguishes multiple failures for the same scenario
// (a bare failure plus a synthesized one is legal).
func assignmentKey(f *agent.TestFailure) string {
	return f.ScenarioID + "\x00" + f.Message
}
