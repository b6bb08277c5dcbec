// Package backend provides the concrete execution back-ends: process
// command runner, terminal/PTY runner, HTTP API runner, and browser
// (GUI) runner. Every back-end satisfies the agent.Agent lifecycle
// contract and honors its own step timeouts.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/testmux/testmux/pkg/agent"
	"github.com/testmux/testmux/pkg/schema"
)

// DefaultStepTimeout bounds a step that declares no timeout of its own.
const DefaultStepTimeout = 30 * time.Second

// ProcessAgent executes scenarios by spawning one OS process per step.
// It is stateless and tolerates overlapping Execute calls.
type ProcessAgent struct {
	WorkDir string   // working directory for spawned commands
	Env     []string // extra environment, KEY=VALUE
}

// NewProcessAgent creates a process agent running in workDir.
func NewProcessAgent(workDir string) *ProcessAgent {
	return &ProcessAgent{WorkDir: workDir}
}

// Initialize is a no-op; processes are spawned per step.
func (p *ProcessAgent) Initialize(ctx context.Context) error {
	return nil
}

// Execute runs the scenario's steps in order, stopping at the first
// failing step.
func (p *ProcessAgent) Execute(ctx context.Context, sc *schema.Scenario) (*agent.TestResult, error) {
	for i, step := range sc.Steps {
		if err := p.runStep(ctx, step); err != nil {
			return &agent.TestResult{
				ScenarioID: sc.ID,
				Status:     agent.StatusFailed,
				Error:      fmt.Sprintf("step %d (%s): %v", i, step.Action, err),
			}, nil
		}
	}
	return &agent.TestResult{ScenarioID: sc.ID, Status: agent.StatusPassed}, nil
}

// Cleanup is a no-op; every spawned process has already exited or been
// killed by its step context.
func (p *ProcessAgent) Cleanup(ctx context.Context) {}

func (p *ProcessAgent) runStep(ctx context.Context, step schema.Step) error {
	switch strings.ToLower(step.Action) {
	case "run", "exec", "command", "shell", "spawn":
	default:
		return fmt.Errorf("unsupported process action %q", step.Action)
	}

	argv, err := shellquote.Split(step.Target)
	if err != nil {
		return fmt.Errorf("parse command: %w", err)
	}
	if len(argv) == 0 {
		return fmt.Errorf("empty command")
	}

	timeout := step.Timeout()
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(stepCtx, argv[0], argv[1:]...)
	cmd.Dir = p.WorkDir
	if len(p.Env) > 0 {
		cmd.Env = append(cmd.Environ(), p.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("exit code %d: %s", exitErr.ExitCode(), firstLine(stderr.String()))
		}
		return fmt.Errorf("run %q: %w", argv[0], err)
	}

	// A step value is an expected stdout substring.
	if step.Value != "" && !strings.Contains(stdout.String(), step.Value) {
		return fmt.Errorf("stdout does not contain %q", step.Value)
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
