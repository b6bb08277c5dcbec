package tracker

import (
	"context"
	"fmt"
	"strings"

	"github.com/testmux/testmux/pkg/agent"
	"github.com/testmux/testmux/pkg/aggregate"
)

// Reporter submits test failures to the tracker, one issue per failure.
// It implements the aggregate.IssueReporter contract.
type Reporter struct {
	client *Client
	labels []string
	ready  bool
}

// NewReporter creates a reporter against one tracker project.
func NewReporter(baseURL, project string, labels []string) *Reporter {
	return &Reporter{client: NewClient(baseURL, project), labels: labels}
}

// Initialize verifies connectivity and credentials before any
// submissions.
func (r *Reporter) Initialize(ctx context.Context) error {
	if err := r.client.Ping(); err != nil {
		return fmt.Errorf("tracker unavailable: %w", err)
	}
	r.ready = true
	return nil
}

// CreateIssue files one issue for a failure.
func (r *Reporter) CreateIssue(ctx context.Context, f *agent.TestFailure) (*aggregate.Issue, error) {
	if !r.ready {
		return nil, fmt.Errorf("reporter not initialized")
	}

	title := fmt.Sprintf("[testmux] scenario %s failed: %s", f.ScenarioID, firstLine(f.Message))

	var body strings.Builder
	fmt.Fprintf(&body, "Scenario: %s\n", f.ScenarioID)
	fmt.Fprintf(&body, "Category: %s\n", f.Category)
	fmt.Fprintf(&body, "Detected: %s\n\n", f.Timestamp.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&body, "Message:\n%s\n", f.Message)
	if f.StackTrace != "" {
		fmt.Fprintf(&body, "\nStack trace:\n```\n%s\n```\n", f.StackTrace)
	}
	if len(f.Logs) > 0 {
		fmt.Fprintf(&body, "\nLogs:\n```\n%s\n```\n", strings.Join(f.Logs, "\n"))
	}

	id, url, err := r.client.CreateIssue(title, body.String(), r.labels)
	if err != nil {
		return nil, err
	}
	return &aggregate.Issue{IssueID: id, URL: url}, nil
}

// Cleanup releases the reporter's connections. It never fails the
// caller.
func (r *Reporter) Cleanup(ctx context.Context) {
	r.ready = false
	r.client.HTTPClient.CloseIdleConnections()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}
