package propagation

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GateMetrics records the outcome of consistency gate chains.
type GateMetrics interface {
	IncGatesStarted(ctx context.Context)
	IncConsistent(ctx context.Context, eventType string, attempts int)
	IncRetries(ctx context.Context)
	IncExhausted(ctx context.Context)
	IncSuperseded(ctx context.Context)
	IncProbeErrors(ctx context.Context)
	IncPublishErrors(ctx context.Context)
}

// ConsumerMetrics records what the queue consumer did with each message.
type ConsumerMetrics interface {
	IncMessagesReceived(ctx context.Context)
	IncMessagesDiscarded(ctx context.Context, reason string)
	IncMessagesDispatched(ctx context.Context)
	IncAckErrors(ctx context.Context)
}

// Metrics implements GateMetrics and ConsumerMetrics on OpenTelemetry instruments.
type Metrics struct {
	// Consumer metrics.
	messagesReceived   metric.Int64Counter
	messagesDiscarded  metric.Int64Counter
	messagesDispatched metric.Int64Counter
	ackErrors          metric.Int64Counter

	// Gate metrics.
	gatesStarted  metric.Int64Counter
	consistent    metric.Int64Counter
	retries       metric.Int64Counter
	exhausted     metric.Int64Counter
	superseded    metric.Int64Counter
	probeErrors   metric.Int64Counter
	publishErrors metric.Int64Counter
	attempts      metric.Int64Histogram
}

var (
	_ GateMetrics     = (*Metrics)(nil)
	_ ConsumerMetrics = (*Metrics)(nil)
)

const namespace = "status_relay"

// NewMetrics creates the propagation instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(Metrics)
	var err error

	if m.messagesReceived, err = meter.Int64Counter(
		"status_messages_received_total",
		metric.WithDescription("Total number of status messages read from the queue"),
	); err != nil {
		return nil, err
	}

	if m.messagesDiscarded, err = meter.Int64Counter(
		"status_messages_discarded_total",
		metric.WithDescription("Total number of status messages acknowledged and dropped"),
	); err != nil {
		return nil, err
	}

	if m.messagesDispatched, err = meter.Int64Counter(
		"status_messages_dispatched_total",
		metric.WithDescription("Total number of status events handed to the consistency gate"),
	); err != nil {
		return nil, err
	}

	if m.ackErrors, err = meter.Int64Counter(
		"status_message_ack_errors_total",
		metric.WithDescription("Total number of failed message acknowledgments"),
	); err != nil {
		return nil, err
	}

	if m.gatesStarted, err = meter.Int64Counter(
		"consistency_gates_started_total",
		metric.WithDescription("Total number of consistency gate chains started"),
	); err != nil {
		return nil, err
	}

	if m.consistent, err = meter.Int64Counter(
		"consistency_gates_consistent_total",
		metric.WithDescription("Total number of chains that observed a consistent read model"),
	); err != nil {
		return nil, err
	}

	if m.retries, err = meter.Int64Counter(
		"consistency_gate_retries_total",
		metric.WithDescription("Total number of re-checks scheduled"),
	); err != nil {
		return nil, err
	}

	if m.exhausted, err = meter.Int64Counter(
		"consistency_gates_exhausted_total",
		metric.WithDescription("Total number of chains that gave up without publishing"),
	); err != nil {
		return nil, err
	}

	if m.superseded, err = meter.Int64Counter(
		"consistency_gates_superseded_total",
		metric.WithDescription("Total number of chains dropped because a newer event arrived"),
	); err != nil {
		return nil, err
	}

	if m.probeErrors, err = meter.Int64Counter(
		"read_model_probe_errors_total",
		metric.WithDescription("Total number of failed read model lookups"),
	); err != nil {
		return nil, err
	}

	if m.publishErrors, err = meter.Int64Counter(
		"status_publish_errors_total",
		metric.WithDescription("Total number of publishes rejected by the event bus"),
	); err != nil {
		return nil, err
	}

	if m.attempts, err = meter.Int64Histogram(
		"consistency_gate_attempts",
		metric.WithDescription("Number of checks needed before the read model was consistent"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) IncMessagesReceived(ctx context.Context) { m.messagesReceived.Add(ctx, 1) }

func (m *Metrics) IncMessagesDiscarded(ctx context.Context, reason string) {
	m.messagesDiscarded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) IncMessagesDispatched(ctx context.Context) { m.messagesDispatched.Add(ctx, 1) }
func (m *Metrics) IncAckErrors(ctx context.Context)          { m.ackErrors.Add(ctx, 1) }
func (m *Metrics) IncGatesStarted(ctx context.Context)       { m.gatesStarted.Add(ctx, 1) }

func (m *Metrics) IncConsistent(ctx context.Context, eventType string, attempts int) {
	attrs := metric.WithAttributes(attribute.String("event_type", eventType))
	m.consistent.Add(ctx, 1, attrs)
	m.attempts.Record(ctx, int64(attempts), attrs)
}

func (m *Metrics) IncRetries(ctx context.Context)       { m.retries.Add(ctx, 1) }
func (m *Metrics) IncExhausted(ctx context.Context)     { m.exhausted.Add(ctx, 1) }
func (m *Metrics) IncSuperseded(ctx context.Context)    { m.superseded.Add(ctx, 1) }
func (m *Metrics) IncProbeErrors(ctx context.Context)   { m.probeErrors.Add(ctx, 1) }
func (m *Metrics) IncPublishErrors(ctx context.Context) { m.publishErrors.Add(ctx, 1) }
