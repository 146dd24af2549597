package events

// EventType identifies a topic on the event bus. Subscribers attach to one or
// more event types and only receive events published under them.
type EventType string

func (t EventType) String() string { return string(t) }

// PublishOption is a function type that modifies PublishParams.
// It enables flexible configuration of event publishing behavior through functional options.
type PublishOption func(*PublishParams)

// PublishParams contains configuration options for publishing domain events.
type PublishParams struct {
	// Key identifies the business entity the event is about, e.g. a dataset id.
	// It is carried on the envelope for logging and tracing.
	Key string
}

// WithKey returns a PublishOption that sets the event key.
func WithKey(key string) PublishOption {
	return func(p *PublishParams) { p.Key = key }
}
