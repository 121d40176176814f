package order

import "context"

// EventType identifies what happened to an order.
type EventType string

const (
	EventCreated       EventType = "created"
	EventStatusChanged EventType = "status_changed"
)

// Event is emitted after an order write has been committed.
type Event struct {
	Type     EventType
	Order    *Order
	Previous Status
}

// Publisher fans committed order changes out to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
