package backend

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/testmux/testmux/pkg/agent"
	"github.com/testmux/testmux/pkg/schema"
)

// TerminalAgent drives an interactive shell through a pseudo-terminal.
// Each Execute call gets its own PTY, so overlapping calls are safe.
type TerminalAgent struct {
	Shell        string        // defaults to /bin/sh
	PollInterval time.Duration // transcript poll cadence for expect steps
}

// NewTerminalAgent creates a terminal agent using the given shell.
func NewTerminalAgent(shell string) *TerminalAgent {
	if shell == "" {
		shell = "/bin/sh"
	}
	return &TerminalAgent{Shell: shell, PollInterval: 50 * time.Millisecond}
}

// Initialize verifies the shell binary is resolvable.
func (t *TerminalAgent) Initialize(ctx context.Context) error {
	if _, err := exec.LookPath(t.Shell); err != nil {
		return fmt.Errorf("shell %q not found: %w", t.Shell, err)
	}
	return nil
}

// Execute starts a shell session on a PTY and feeds the scenario's steps
// through it: "send"/"type" write a line, "expect" polls the transcript
// for a substring.
func (t *TerminalAgent) Execute(ctx context.Context, sc *schema.Scenario) (*agent.TestResult, error) {
	sess, err := startPTYSession(ctx, t.Shell)
	if err != nil {
		return nil, fmt.Errorf("start terminal session: %w", err)
	}
	defer sess.close()

	for i, step := range sc.Steps {
		if err := t.runStep(ctx, sess, step); err != nil {
			return &agent.TestResult{
				ScenarioID: sc.ID,
				Status:     agent.StatusFailed,
				Error:      fmt.Sprintf("step %d (%s): %v", i, step.Action, err),
			}, nil
		}
	}
	return &agent.TestResult{ScenarioID: sc.ID, Status: agent.StatusPassed}, nil
}

// Cleanup is a no-op; sessions are scoped to Execute calls.
func (t *TerminalAgent) Cleanup(ctx context.Context) {}

func (t *TerminalAgent) runStep(ctx context.Context, sess *ptySession, step schema.Step) error {
	switch strings.ToLower(step.Action) {
	case "send", "type":
		return sess.sendLine(step.Target)
	case "expect":
		timeout := step.Timeout()
		if timeout <= 0 {
			timeout = DefaultStepTimeout
		}
		return t.waitFor(ctx, sess, step.Target, timeout)
	default:
		return fmt.Errorf("unsupported terminal action %q", step.Action)
	}
}

// waitFor polls the session transcript until the wanted substring shows
// up, the timeout elapses, or the run is cancelled.
func (t *TerminalAgent) waitFor(ctx context.Context, sess *ptySession, want string, timeout time.Duration) error {
	interval := t.PollInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if strings.Contains(sess.transcript(), want) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for %q in transcript", want)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ptySession is one shell attached to a pseudo-terminal, with a reader
// goroutine accumulating the transcript.
type ptySession struct {
	pty io.ReadWriteCloser
	cmd *exec.Cmd

	mu  sync.Mutex
	buf strings.Builder

	readerDone chan struct{}
}

func (s *ptySession) sendLine(line string) error {
	if _, err := io.WriteString(s.pty, line+"\n"); err != nil {
		return fmt.Errorf("write to terminal: %w", err)
	}
	return nil
}

func (s *ptySession) transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (s *ptySession) append(p []byte) {
	s.mu.Lock()
	s.buf.Write(p)
	s.mu.Unlock()
}

// close tears the session down: the PTY is closed first so the shell
// sees EOF, then the process is reaped.
func (s *ptySession) close() {
	_ = s.pty.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_, _ = s.cmd.Process.Wait()
	}

	select {
	case <-s.readerDone:
	case <-time.After(400 * time.Millisecond):
	}
}
