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

// stubAgent is a scriptable back-end for dispatch tests.
type stubAgent struct {
	initErr      error
	initCalls    int32
	cleanupCalls int32
	execCalls    int32
	exec         func(ctx context.Context, sc *schema.Scenario) (*agent.TestResult, error)
}

func (s *stubAgent) Initialize(ctx context.Context) error {
	atomic.AddInt32(&s.initCalls, 1)
	return s.initErr
}

func (s *stubAgent) Execute(ctx context.Context, sc *schema.Scenario) (*agent.TestResult, error) {
	atomic.AddInt32(&s.execCalls, 1)
	if s.exec != nil {
		return s.exec(ctx, sc)
	}
	return &agent.TestResult{Status: agent.StatusPassed}, nil
}

func (s *stubAgent) Cleanup(ctx context.Context) {
	atomic.AddInt32(&s.cleanupCalls, 1)
}

func passingAfter(failures int) *stubAgent {
	var n int32
	a := &stubAgent{}
	a.exec = func(ctx context.Context, sc *schema.Scenario) (*agent.TestResult, error) {
		if int(atomic.AddInt32(&n, 1)) <= failures {
			return nil, errors.New("transient fault")
		}
		return &agent.TestResult{Status: agent.StatusPassed}, nil
	}
	return a
}

func TestExecuteSucceedsAfterRetries(t *testing.T) {
	a := passingAfter(2)
	p := Policy{Retries: 3, BackoffUnit: time.Millisecond}
	sc := &schema.Scenario{ID: "flaky", Interface: schema.InterfaceProcess}

	res := p.Execute(context.Background(), a, sc)
	if res.Status != agent.StatusPassed {
		t.Fatalf("status = %s, want passed (error: %s)", res.Status, res.Error)
	}
	if got := atomic.LoadInt32(&a.execCalls); got != 3 {
		t.Errorf("execute calls = %d, want 3", got)
	}
	if res.ScenarioID != "flaky" {
		t.Errorf("scenario id = %q", res.ScenarioID)
	}
}

func TestExecuteExhaustsRetries(t *testing.T) {
	a := &stubAgent{exec: func(ctx context.Context, sc *schema.Scenario) (*agent.TestResult, error) {
		return nil, errors.New("persistent fault")
	}}
	p := Policy{Retries: 2, BackoffUnit: time.Millisecond}
	sc := &schema.Scenario{ID: "doomed", Interface: schema.InterfaceProcess}

	res := p.Execute(context.Background(), a, sc)
	if res.Status != agent.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if got := atomic.LoadInt32(&a.execCalls); got != 3 {
		t.Errorf("execute calls = %d, want 3 (1 + 2 retries)", got)
	}
	if !strings.Contains(res.Error, "persistent fault") {
		t.Errorf("error = %q, want the last attempt's fault", res.Error)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	a := &stubAgent{exec: func(ctx context.Context, sc *schema.Scenario) (*agent.TestResult, error) {
		panic("boom")
	}}
	p := Policy{Retries: 0, BackoffUnit: time.Millisecond}
	sc := &schema.Scenario{ID: "panics", Interface: schema.InterfaceProcess}

	res := p.Execute(context.Background(), a, sc)
	if res.Status != agent.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if !strings.Contains(res.Error, "back-end panic: boom") {
		t.Errorf("error = %q", res.Error)
	}
	if res.StackTrace == "" {
		t.Error("expected a captured stack trace")
	}
}

func TestExecuteScenarioRetryOverride(t *testing.T) {
	a := &stubAgent{exec: func(ctx context.Context, sc *schema.Scenario) (*agent.TestResult, error) {
		return nil, errors.New("fault")
	}}
	zero := 0
	p := Policy{Retries: 5, BackoffUnit: time.Millisecond}
	sc := &schema.Scenario{ID: "no-retry", Interface: schema.InterfaceProcess, Retries: &zero}

	p.Execute(context.Background(), a, sc)
	if got := atomic.LoadInt32(&a.execCalls); got != 1 {
		t.Errorf("execute calls = %d, want 1 (scenario override wins)", got)
	}
}

func TestExecuteNilResultIsError(t *testing.T) {
	a := &stubAgent{exec: func(ctx context.Context, sc *schema.Scenario) (*agent.TestResult, error) {
		return nil, nil
	}}
	p := Policy{BackoffUnit: time.Millisecond}
	sc := &schema.Scenario{ID: "hollow", Interface: schema.InterfaceProcess}

	res := p.Execute(context.Background(), a, sc)
	if res.Status != agent.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if !strings.Contains(res.Error, "no result") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestExecuteDurationSpansAllAttempts(t *testing.T) {
	a := passingAfter(1)
	p := Policy{Retries: 1, BackoffUnit: 20 * time.Millisecond}
	sc := &schema.Scenario{ID: "timed", Interface: schema.InterfaceProcess}

	res := p.Execute(context.Background(), a, sc)
	if res.Status != agent.StatusPassed {
		t.Fatalf("status = %s, want passed", res.Status)
	}
	// First retry waits 2^1 backoff units = 40ms, so the duration must
	// cover the first attempt plus the backoff.
	if res.DurationMs < 40 {
		t.Errorf("duration = %dms, want >= 40ms (measured from first attempt)", res.DurationMs)
	}
}

func TestExecuteCancelDuringBackoff(t *testing.T) {
	a := &stubAgent{exec: func(ctx context.Context, sc *schema.Scenario) (*agent.TestResult, error) {
		return nil, errors.New("fault")
	}}
	p := Policy{Retries: 5, BackoffUnit: time.Hour}
	sc := &schema.Scenario{ID: "aborted", Interface: schema.InterfaceProcess}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan *agent.TestResult, 1)
	go func() { done <- p.Execute(ctx, a, sc) }()

	select {
	case res := <-done:
		if res.Status != agent.StatusFailed {
			t.Errorf("status = %s, want failed", res.Status)
		}
		if !strings.Contains(res.Error, "fault") {
			t.Errorf("error = %q, want the last attempt's fault", res.Error)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not honor cancellation during backoff")
	}
}
