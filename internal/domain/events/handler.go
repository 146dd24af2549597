package events

import "context"

// AckFunc acknowledges an inbound message so the broker will not redeliver it.
type AckFunc func() error

// HandlerFunc processes an event delivered by the bus.
type HandlerFunc func(ctx context.Context, evt EventEnvelope) error

// MessageHandler processes a raw inbound message. The handler owns the
// acknowledgment decision and must call ack exactly once.
type MessageHandler func(ctx context.Context, msg Message, ack AckFunc)
