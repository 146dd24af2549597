package memory

import (
	"context"

	"github.com/METASPACE2020/sm-graphql/internal/domain/events"
)

var _ events.DomainEventPublisher = (*DomainEventPublisher)(nil)

// DomainEventPublisher adapts an EventBus to events.DomainEventPublisher by
// wrapping domain events in envelopes.
type DomainEventPublisher struct{ eventBus events.EventBus }

// NewDomainEventPublisher creates a publisher backed by eventBus.
func NewDomainEventPublisher(eventBus events.EventBus) *DomainEventPublisher {
	return &DomainEventPublisher{eventBus: eventBus}
}

// PublishDomainEvent publishes event under its own event type.
func (p *DomainEventPublisher) PublishDomainEvent(
	ctx context.Context,
	event events.DomainEvent,
	opts ...events.PublishOption,
) error {
	envelope := events.EventEnvelope{
		Type:      event.EventType(),
		Timestamp: event.OccurredAt(),
		Payload:   event,
	}

	return p.eventBus.Publish(ctx, envelope, opts...)
}
