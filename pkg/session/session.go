// Package session owns the lifecycle of one active test session:
// create, accumulate results, complete with a derived terminal status,
// and persist the session document as JSON.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/testmux/testmux/pkg/agent"
)

// ErrNoActiveSession is returned by Complete when no session was
// created. This is the only error callers of the documented API must be
// prepared to handle; all other failure modes surface as data.
var ErrNoActiveSession = errors.New("no active session")

// Summary holds the result counts recomputed at completion time.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Session is one test session document. After Complete it is immutable
// and persisted.
type Session struct {
	ID        string              `json:"id"`
	StartedAt time.Time           `json:"startTime"`
	EndedAt   *time.Time          `json:"endTime"`
	Status    agent.Status        `json:"status"`
	Summary   Summary             `json:"summary"`
	Results   []*agent.TestResult `json:"results"`
}

// Manager owns at most one active session at a time.
type Manager struct {
	mu        sync.Mutex
	outputDir string
	active    *Session
	results   []*agent.TestResult
}

// NewManager creates a manager persisting sessions under
// <outputDir>/sessions. An empty outputDir defaults to "outputs".
func NewManager(outputDir string) *Manager {
	if outputDir == "" {
		outputDir = "outputs"
	}
	return &Manager{outputDir: outputDir}
}

// Create allocates a new session with an opaque id, status running, and
// an empty result accumulator. Calling Create again before Complete
// silently replaces the active session; the prior session's accumulator
// is discarded but nothing already persisted is deleted.
func (m *Manager) Create() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active = &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Status:    agent.StatusRunning,
	}
	m.results = nil
	return m.active
}

// Active returns the current session, or nil when none was created.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// AddResult appends a result to the active accumulator. Results are
// append-only during a session.
func (m *Manager) AddResult(res *agent.TestResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, res)
}

// Results returns the accumulated results so far.
func (m *Manager) Results() []*agent.TestResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*agent.TestResult, len(m.results))
	copy(out, m.results)
	return out
}

// Complete finalizes the active session: sets the end time, derives the
// terminal status (an explicit non-empty override takes precedence),
// recomputes the summary from the accumulator, persists the document,
// and returns it. Completing without a prior Create fails with
// ErrNoActiveSession.
func (m *Manager) Complete(override agent.Status) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil, ErrNoActiveSession
	}

	s := m.active
	now := time.Now()
	s.EndedAt = &now
	s.Results = m.results
	s.Summary = summarize(m.results)
	if override != "" {
		s.Status = override
	} else {
		s.Status = DeriveStatus(m.results)
	}

	if err := m.persist(s); err != nil {
		return nil, err
	}

	m.active = nil
	m.results = nil
	return s, nil
}

// DeriveStatus computes the session status from a result set: passed
// iff every result passed (vacuously true for an empty set); else
// failed if any failed; else error if any errored; else skipped.
func DeriveStatus(results []*agent.TestResult) agent.Status {
	allPassed := true
	anyFailed := false
	anyError := false
	for _, r := range results {
		switch r.Status {
		case agent.StatusPassed:
		case agent.StatusFailed:
			allPassed = false
			anyFailed = true
		case agent.StatusError:
			allPassed = false
			anyError = true
		default:
			allPassed = false
		}
	}

	switch {
	case allPassed:
		return agent.StatusPassed
	case anyFailed:
		return agent.StatusFailed
	case anyError:
		return agent.StatusError
	default:
		return agent.StatusSkipped
	}
}

// summarize recomputes the summary counts from scratch. The summary is
// never incrementally mutated during a session.
func summarize(results []*agent.TestResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case agent.StatusPassed:
			s.Passed++
		case agent.StatusFailed:
			s.Failed++
		case agent.StatusSkipped:
			s.Skipped++
		}
	}
	return s
}

// persist writes the full session document to
// <outputDir>/sessions/session_<id>_<timestamp>.json, creating parent
// directories idempotently. The timestamp has ":" and "." replaced with
// "-" so the name is safe on every filesystem.
func (m *Manager) persist(s *Session) error {
	dir := filepath.Join(m.outputDir, "sessions")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create sessions directory: %w", err)
	}

	stamp := sanitizeTimestamp(s.EndedAt.Format(time.RFC3339Nano))
	path := filepath.Join(dir, fmt.Sprintf("session_%s_%s.json", s.ID, stamp))

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func sanitizeTimestamp(ts string) string {
	return strings.NewReplacer(":", "-", ".", "-").Replace(ts)
}

// LoadFile reads a persisted session document.
func LoadFile(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	return &s, nil
}
