package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/testmux/testmux/pkg/agent"
	"github.com/testmux/testmux/pkg/schema"
)

// APIAgent executes scenarios as sequences of HTTP calls. Request steps
// use the HTTP method as the action (get, post, put, patch, delete);
// check steps (expect_status, expect_body, assert) apply to the last
// response. State is local to each Execute call, so overlapping calls
// are safe.
type APIAgent struct {
	BaseURL string
	Client  *http.Client
	Headers map[string]string // applied to every request
}

// NewAPIAgent creates an API agent rooted at baseURL.
func NewAPIAgent(baseURL string) *APIAgent {
	return &APIAgent{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: DefaultStepTimeout},
	}
}

// Initialize is a no-op; connections are pooled lazily.
func (a *APIAgent) Initialize(ctx context.Context) error {
	return nil
}

// lastResponse is the per-Execute check target.
type lastResponse struct {
	status int
	body   string
}

// Execute runs the scenario's steps in order, stopping at the first
// failing step.
func (a *APIAgent) Execute(ctx context.Context, sc *schema.Scenario) (*agent.TestResult, error) {
	var last *lastResponse
	for i, step := range sc.Steps {
		next, err := a.runStep(ctx, step, last)
		if err != nil {
			return &agent.TestResult{
				ScenarioID: sc.ID,
				Status:     agent.StatusFailed,
				Error:      fmt.Sprintf("step %d (%s): %v", i, step.Action, err),
			}, nil
		}
		if next != nil {
			last = next
		}
	}
	return &agent.TestResult{ScenarioID: sc.ID, Status: agent.StatusPassed}, nil
}

// Cleanup drops pooled connections. It never fails the caller.
func (a *APIAgent) Cleanup(ctx context.Context) {
	a.Client.CloseIdleConnections()
}

func (a *APIAgent) runStep(ctx context.Context, step schema.Step, last *lastResponse) (*lastResponse, error) {
	action := strings.ToLower(step.Action)
	switch action {
	case "get", "post", "put", "patch", "delete", "head":
		return a.request(ctx, strings.ToUpper(action), step)
	case "expect_status":
		return nil, expectStatus(step, last)
	case "expect_body":
		return nil, expectBody(step, last)
	case "assert":
		return nil, assertExpr(step, last)
	default:
		return nil, fmt.Errorf("unsupported api action %q", step.Action)
	}
}

func (a *APIAgent) request(ctx context.Context, method string, step schema.Step) (*lastResponse, error) {
	timeout := step.Timeout()
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := step.Target
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = a.BaseURL + "/" + strings.TrimLeft(url, "/")
	}

	var body io.Reader
	if step.Value != "" && method != http.MethodGet && method != http.MethodHead {
		body = strings.NewReader(step.Value)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &lastResponse{status: resp.StatusCode, body: string(data)}, nil
}

func expectStatus(step schema.Step, last *lastResponse) error {
	if last == nil {
		return fmt.Errorf("no prior request to check")
	}
	want, err := strconv.Atoi(strings.TrimSpace(step.Value))
	if err != nil {
		return fmt.Errorf("expected status %q is not a number", step.Value)
	}
	if last.status != want {
		return fmt.Errorf("status %d, want %d", last.status, want)
	}
	return nil
}

func expectBody(step schema.Step, last *lastResponse) error {
	if last == nil {
		return fmt.Errorf("no prior request to check")
	}
	if !strings.Contains(last.body, step.Value) {
		return fmt.Errorf("response body does not contain %q", step.Value)
	}
	return nil
}

// assertExpr evaluates a boolean expression over the last response, with
// `status` (int) and `body` (string) in scope.
func assertExpr(step schema.Step, last *lastResponse) error {
	if last == nil {
		return fmt.Errorf("no prior request to check")
	}
	env := map[string]interface{}{
		"status": last.status,
		"body":   last.body,
	}
	prog, err := expr.Compile(step.Value, expr.Env(env), expr.AsBool())
	if err != nil {
		return fmt.Errorf("compile assertion: %w", err)
	}
	out, err := expr.Run(prog, env)
	if err != nil {
		return fmt.Errorf("eval assertion: %w", err)
	}
	if ok, _ := out.(bool); !ok {
		return fmt.Errorf("assertion %q is false (status %d)", step.Value, last.status)
	}
	return nil
}
