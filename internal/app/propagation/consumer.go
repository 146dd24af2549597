package propagation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/METASPACE2020/sm-graphql/internal/domain/datasets"
	"github.com/METASPACE2020/sm-graphql/internal/domain/events"
	"github.com/METASPACE2020/sm-graphql/pkg/common/logger"
)

// Submitter accepts status events for propagation without blocking.
type Submitter interface {
	Submit(ctx context.Context, evt datasets.StatusEvent)
}

// statusMessage is the queue body. Unknown fields are ignored.
type statusMessage struct {
	DatasetID string `json:"ds_id"`
	Status    string `json:"status"`
}

// timeProvider abstracts time operations for testing.
type timeProvider interface {
	Now() time.Time
}

type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time { return time.Now().UTC() }

// ErrConsumerRunning is returned by Start on a consumer that is already running.
var ErrConsumerRunning = errors.New("status consumer already running")

// StatusConsumer reads dataset status messages from a MessageSource,
// acknowledges every one of them and forwards the valid ones to the gate.
// Acknowledgment never waits for propagation.
type StatusConsumer struct {
	source  events.MessageSource
	gate    Submitter
	metrics ConsumerMetrics
	clock   timeProvider

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	running bool

	logger *logger.Logger
	tracer trace.Tracer
}

// NewStatusConsumer wires a consumer between source and gate.
func NewStatusConsumer(
	source events.MessageSource,
	gate Submitter,
	metrics ConsumerMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *StatusConsumer {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &StatusConsumer{
		source:  source,
		gate:    gate,
		metrics: metrics,
		clock:   realTimeProvider{},
		logger:  logger.With("component", "status_consumer"),
		tracer:  tracer,
	}
}

// Start launches the consume loop. It returns once the loop is running; use
// Done and Err to observe its termination.
func (c *StatusConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrConsumerRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.err = nil
	c.running = true

	go c.run(ctx, c.done)

	c.logger.Info(ctx, "Status consumer started")
	return nil
}

func (c *StatusConsumer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	err := c.source.Consume(ctx, c.HandleMessage)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		c.logger.Error(ctx, "Status consume loop ended", "error", err)
	}

	c.mu.Lock()
	c.err = err
	c.running = false
	c.mu.Unlock()
}

// Stop cancels the consume loop, waits for it to exit and closes the source.
func (c *StatusConsumer) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	if err := c.source.Close(); err != nil {
		return fmt.Errorf("closing message source: %w", err)
	}
	c.logger.Info(context.Background(), "Status consumer stopped")
	return nil
}

// Running reports whether the consume loop is active.
func (c *StatusConsumer) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Done is closed when the consume loop exits. It is nil before Start.
func (c *StatusConsumer) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns the error that ended the consume loop, if any.
func (c *StatusConsumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// HandleMessage acknowledges msg and, when it carries a recognized status,
// submits it to the gate.
func (c *StatusConsumer) HandleMessage(ctx context.Context, msg events.Message, ack events.AckFunc) {
	ctx, span := c.tracer.Start(ctx, "status_consumer.handle_message",
		trace.WithAttributes(attribute.String("message_id", msg.ID)))
	defer span.End()

	c.metrics.IncMessagesReceived(ctx)

	evt, decodeErr := c.decode(msg)

	if err := ack(); err != nil {
		c.metrics.IncAckErrors(ctx)
		span.RecordError(err)
		c.logger.Error(ctx, "Failed to acknowledge status message", "message_id", msg.ID, "error", err)
	}

	if decodeErr != nil {
		var msgErr *MessageError
		reason := ReasonMalformed
		if errors.As(decodeErr, &msgErr) {
			reason = msgErr.Reason
		}
		c.metrics.IncMessagesDiscarded(ctx, reason)
		span.SetAttributes(attribute.String("discard_reason", reason))
		c.logger.Debug(ctx, "Discarded status message", "message_id", msg.ID, "error", decodeErr)
		return
	}

	span.SetAttributes(
		attribute.String("dataset_id", evt.DatasetID),
		attribute.String("status", evt.Status.String()),
	)
	c.gate.Submit(ctx, evt)
	c.metrics.IncMessagesDispatched(ctx)
}

func (c *StatusConsumer) decode(msg events.Message) (datasets.StatusEvent, error) {
	var body statusMessage
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return datasets.StatusEvent{}, &MessageError{Reason: ReasonMalformed, Err: err}
	}

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = c.clock.Now()
	}

	evt, err := datasets.NewStatusEvent(body.DatasetID, body.Status, receivedAt)
	switch {
	case errors.Is(err, datasets.ErrEmptyDatasetID):
		return datasets.StatusEvent{}, &MessageError{Reason: ReasonMissingDataset, Err: err}
	case err != nil:
		return datasets.StatusEvent{}, &MessageError{Reason: ReasonInvalidStatus, Err: err}
	}

	return evt, nil
}
