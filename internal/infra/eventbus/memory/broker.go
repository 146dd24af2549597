// Package memory provides an in-memory, topic-based event bus. It offers
// fire-and-forget fan-out to the subscribers attached at publish time; there
// is no persistence, buffering for late subscribers, or replay.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/METASPACE2020/sm-graphql/internal/domain/events"
	"github.com/METASPACE2020/sm-graphql/pkg/common/logger"
)

var (
	// ErrUnknownTopic is returned when publishing or subscribing to an event
	// type the bus was not configured with.
	ErrUnknownTopic = errors.New("unknown topic")

	// ErrBusClosed is returned once Close has been called.
	ErrBusClosed = errors.New("event bus closed")
)

var (
	_ events.EventBus         = (*Broker)(nil)
	_ events.StreamSubscriber = (*Broker)(nil)
)

type handlerEntry struct {
	id      string
	handler events.HandlerFunc
}

// Broker delivers published envelopes synchronously to every handler attached
// to the envelope's topic at the time of the call.
type Broker struct {
	mu       sync.RWMutex
	handlers map[events.EventType][]handlerEntry
	closed   bool
	streams  map[string]*subscription

	logger *logger.Logger
	tracer trace.Tracer
}

// NewBroker creates a broker that accepts the given topics.
func NewBroker(logger *logger.Logger, tracer trace.Tracer, topics ...events.EventType) *Broker {
	handlers := make(map[events.EventType][]handlerEntry, len(topics))
	for _, t := range topics {
		handlers[t] = nil
	}

	return &Broker{
		handlers: handlers,
		streams:  make(map[string]*subscription),
		logger:   logger.With("component", "memory_event_bus"),
		tracer:   tracer,
	}
}

// Publish delivers event to all handlers currently subscribed to its type.
// Every handler is invoked even if an earlier one fails; handler errors are
// joined into the returned error.
func (b *Broker) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	var params events.PublishParams
	for _, opt := range opts {
		opt(&params)
	}
	if params.Key != "" {
		event.Key = params.Key
	}

	ctx, span := b.tracer.Start(ctx, "memory_event_bus.publish",
		trace.WithAttributes(
			attribute.String("event.type", event.Type.String()),
			attribute.String("event.key", event.Key),
		))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	entries, ok := b.handlers[event.Type]
	if !ok {
		b.mu.RUnlock()
		span.SetStatus(codes.Error, "unknown topic")
		return fmt.Errorf("%w: %s", ErrUnknownTopic, event.Type)
	}
	// Copy handlers to avoid holding the lock while executing them.
	handlersCopy := make([]handlerEntry, len(entries))
	copy(handlersCopy, entries)
	b.mu.RUnlock()

	span.SetAttributes(attribute.Int("subscriber_count", len(handlersCopy)))

	var errs []error
	for _, entry := range handlersCopy {
		if err := entry.handler(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("subscriber %s: %w", entry.id, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "subscriber failed")
		return err
	}

	b.logger.Debug(ctx, "Published event",
		"event_type", event.Type,
		"key", event.Key,
		"subscribers", len(handlersCopy),
	)

	return nil
}

// Subscribe attaches handler to every type in eventTypes until ctx is done.
func (b *Broker) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	id := uuid.NewString()
	if err := b.attach(id, eventTypes, handler); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		b.detach(id, eventTypes)
	}()

	return nil
}

// Stream attaches a pull-style subscriber to eventType. Publishing never
// blocks on the stream's consumer; envelopes queue in memory until read.
func (b *Broker) Stream(ctx context.Context, eventType events.EventType) (events.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := newSubscription(uuid.NewString(), eventType)
	types := []events.EventType{eventType}
	sub.onClose = func() {
		b.detach(sub.id, types)
		b.mu.Lock()
		delete(b.streams, sub.id)
		b.mu.Unlock()
	}

	b.mu.Lock()
	if err := b.attachLocked(sub.id, types, sub.enqueue); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	b.streams[sub.id] = sub
	b.mu.Unlock()

	go sub.pump()
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	b.logger.Debug(ctx, "Stream attached", "subscription_id", sub.id, "event_type", eventType)

	return sub, nil
}

// SubscriberCount returns the number of handlers attached to eventType.
func (b *Broker) SubscriberCount(eventType events.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// Close detaches all subscribers and ends every open stream.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for t := range b.handlers {
		b.handlers[t] = nil
	}
	streams := make([]*subscription, 0, len(b.streams))
	for _, s := range b.streams {
		streams = append(streams, s)
	}
	b.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}

	return nil
}

func (b *Broker) attach(id string, eventTypes []events.EventType, handler events.HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attachLocked(id, eventTypes, handler)
}

// attachLocked requires b.mu to be held for writing.
func (b *Broker) attachLocked(id string, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if b.closed {
		return ErrBusClosed
	}
	for _, t := range eventTypes {
		if _, ok := b.handlers[t]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownTopic, t)
		}
	}
	for _, t := range eventTypes {
		b.handlers[t] = append(b.handlers[t], handlerEntry{id: id, handler: handler})
	}

	return nil
}

func (b *Broker) detach(id string, eventTypes []events.EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range eventTypes {
		entries := b.handlers[t]
		for i, e := range entries {
			if e.id == id {
				// Build a fresh slice; publishers may still hold the old one.
				kept := make([]handlerEntry, 0, len(entries)-1)
				kept = append(kept, entries[:i]...)
				kept = append(kept, entries[i+1:]...)
				b.handlers[t] = kept
				break
			}
		}
	}
}
