// Package event provides the one-directional lifecycle notification
// surface of the orchestrator. Subscribers receive discrete push
// notifications; there is no request/response path back into the core.
package event

import (
	"sync"
	"time"
)

// Type identifies a lifecycle notification.
type Type string

// Lifecycle event types emitted by the orchestrator.
const (
	SessionStart Type = "session-start"
	SessionEnd   Type = "session-end"
	ScenarioEnd  Type = "scenario-end"
	PhaseStart   Type = "phase-start"
	PhaseEnd     Type = "phase-end"
	Error        Type = "error"
)

// Event is a single lifecycle notification.
type Event struct {
	Type       Type      `json:"type"`
	Time       time.Time `json:"time"`
	SessionID  string    `json:"session_id,omitempty"`
	ScenarioID string    `json:"scenario_id,omitempty"`
	Phase      string    `json:"phase,omitempty"`  // interface bucket name for phase events
	Status     string    `json:"status,omitempty"` // terminal status for scenario/session-end
	Message    string    `json:"message,omitempty"`
}

// Handler receives published events. Handlers are invoked synchronously
// from the publishing goroutine and must be goroutine-safe.
type Handler func(Event)

// Bus is a subscription registry with synchronous fan-out.
// The zero value is not usable; call NewBus.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers a handler and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish delivers e to every subscriber. Delivery order among
// subscribers is unspecified.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
