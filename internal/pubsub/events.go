// Package pubsub fans out registry lifecycle and log events to in-process subscribers.
package pubsub

import (
	"context"
	"time"
)

// EventType names what happened to the payload.
type EventType string

const (
	RegisteredEvent EventType = "registered"
	UpdatedEvent    EventType = "updated"
	RemovedEvent    EventType = "removed"
	StatusEvent     EventType = "status"
	BoundEvent      EventType = "bound"
	LoggedEvent     EventType = "logged"
)

// Event is a single published notification.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber hands out event channels that close when ctx is done.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher accepts events for fan-out.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
