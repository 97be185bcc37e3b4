package history

import (
	"context"
	"time"
)

// EventType defines the kind of agent lifecycle event.
type EventType string

const (
	EventDeployed EventType = "deployed"
	EventStopped  EventType = "stopped"
	EventExited   EventType = "exited"
)

// Event is one agent lifecycle transition exported to audit/analytics sinks.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	AgentID    string    `json:"agent_id"`
	PID        int       `json:"pid"`
	Port       int       `json:"port"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for lifecycle events. Implementations must be safe
// for concurrent use; send failures are logged by the caller, never fatal.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
