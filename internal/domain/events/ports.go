// Package events provides the contracts for moving domain events through the
// system: the inbound queue carrying status changes and the in-process bus
// fanning published updates out to live subscribers.
package events

import (
	"context"
)

// DomainEventPublisher publishes domain events to whoever is listening. It
// keeps producers independent of the bus implementation.
type DomainEventPublisher interface {
	// PublishDomainEvent wraps event in an envelope and publishes it.
	PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error
}

// EventBus enables publishing and subscribing to events in process.
type EventBus interface {
	// Publish delivers the envelope to every handler currently subscribed to
	// its type. Handlers attached later never see it.
	Publish(ctx context.Context, event EventEnvelope, opts ...PublishOption) error

	// Subscribe registers handler for the given event types until ctx is done.
	Subscribe(ctx context.Context, eventTypes []EventType, handler HandlerFunc) error

	// Close detaches every subscriber and rejects further publishes.
	Close() error
}

// Stream is a live, unbounded sequence of events for a single subscriber.
// The channel is closed once the subscriber detaches.
type Stream interface {
	// ID uniquely identifies the subscription.
	ID() string

	// Events yields envelopes in publish order.
	Events() <-chan EventEnvelope

	// Close detaches the subscriber. It is safe to call more than once.
	Close()
}

// StreamSubscriber opens pull-style subscriptions on the bus.
type StreamSubscriber interface {
	// Stream attaches a new subscriber to eventType. The stream ends when ctx
	// is done or Close is called.
	Stream(ctx context.Context, eventType EventType) (Stream, error)
}

// MessageSource is a durable inbound queue with per-message acknowledgment.
type MessageSource interface {
	// Consume binds to the queue and invokes handler for every message until
	// ctx is canceled or the connection fails. It blocks.
	Consume(ctx context.Context, handler MessageHandler) error

	// Close releases the broker connection.
	Close() error
}
