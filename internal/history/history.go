package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart EventType = "start"
	EventStop  EventType = "stop"
	EventKill  EventType = "kill"
)

// Event is one service lifecycle transition.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Name       string    `json:"name"`
	PID        int       `json:"pid"`
	StartTime  int64     `json:"starttime"`
	// Version is the JSON encoded version descriptor at the time of the event.
	Version string `json:"version,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }
