package events

import "time"

// DomainEvent is implemented by every event payload the system publishes.
type DomainEvent interface {
	EventType() EventType
	OccurredAt() time.Time
}

// EventEnvelope wraps a payload with the routing data the bus needs.
type EventEnvelope struct {
	// Type identifies the topic this event is published under.
	Type EventType

	// Key identifies the entity the event concerns.
	Key string

	// Timestamp records when the event was created.
	Timestamp time.Time

	// Payload contains the topic-specific event data.
	Payload any
}

// Message is a raw message received from an inbound queue.
type Message struct {
	// ID is a transport-specific identifier (delivery tag, partition/offset).
	ID string

	// Body is the undecoded message payload.
	Body []byte

	// ReceivedAt is when the transport handed the message over.
	ReceivedAt time.Time
}
