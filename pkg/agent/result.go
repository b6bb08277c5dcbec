package agent

import "time"

// Status is the terminal (or in-flight) state of a scenario or session.
type Status string

// Status values. StatusRunning is never a terminal value stored in a
// persisted session.
const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
	StatusRunning Status = "running"
)

// IsTerminal reports whether the status ends a scenario.
func (s Status) IsTerminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusError || s == StatusSkipped
}

// TestResult is the uniform outcome envelope for one executed scenario.
// Results are never mutated after creation.
type TestResult struct {
	ScenarioID string    `json:"scenario_id"`
	Status     Status    `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	Error      string    `json:"error,omitempty"`
	StackTrace string    `json:"stack_trace,omitempty"`
}

// TestFailure describes a failure forwarded to triage and reporting.
// It is either derived from a failed TestResult with a non-empty error,
// or synthesized directly ("bare failure") when a scenario never produced
// a TestResult.
type TestFailure struct {
	ScenarioID string    `json:"scenario_id"`
	Timestamp  time.Time `json:"timestamp"`
	Message    string    `json:"message"`
	Category   string    `json:"category"`
	StackTrace string    `json:"stack_trace,omitempty"`
	Logs       []string  `json:"logs,omitempty"`
}
