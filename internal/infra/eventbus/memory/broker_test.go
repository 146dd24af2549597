package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/METASPACE2020/sm-graphql/internal/domain/datasets"
	"github.com/METASPACE2020/sm-graphql/internal/domain/events"
	"github.com/METASPACE2020/sm-graphql/pkg/common/logger"
)

func newTestBroker() *Broker {
	return NewBroker(logger.Noop(), noop.NewTracerProvider().Tracer("test"), datasets.EventTypes()...)
}

func deletedEnvelope(id string) events.EventEnvelope {
	return events.EventEnvelope{
		Type:    datasets.EventTypeDatasetDeleted,
		Key:     id,
		Payload: datasets.NewDatasetDeletedEvent(id),
	}
}

func receive(t *testing.T, s events.Stream) events.EventEnvelope {
	t.Helper()
	select {
	case evt, ok := <-s.Events():
		require.True(t, ok, "stream closed unexpectedly")
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return events.EventEnvelope{}
	}
}

func TestPublishAndSubscribe(t *testing.T) {
	t.Parallel()

	broker := newTestBroker()
	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(1)

	expected := deletedEnvelope("ds-1")

	err := broker.Subscribe(ctx, []events.EventType{datasets.EventTypeDatasetDeleted}, func(_ context.Context, evt events.EventEnvelope) error {
		defer wg.Done()
		assert.Equal(t, expected, evt)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, expected))
	wg.Wait()
}

func TestMultipleSubscribers(t *testing.T) {
	t.Parallel()

	broker := newTestBroker()
	ctx := context.Background()
	var wg sync.WaitGroup
	subscriberCount := 3
	wg.Add(subscriberCount)

	for i := 0; i < subscriberCount; i++ {
		err := broker.Subscribe(ctx, []events.EventType{datasets.EventTypeDatasetDeleted}, func(_ context.Context, evt events.EventEnvelope) error {
			defer wg.Done()
			assert.Equal(t, "ds-multi", evt.Key)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, broker.Publish(ctx, deletedEnvelope("ds-multi")))
	wg.Wait()
	assert.Equal(t, subscriberCount, broker.SubscriberCount(datasets.EventTypeDatasetDeleted))
}

func TestTopicsAreIsolated(t *testing.T) {
	t.Parallel()

	broker := newTestBroker()
	ctx := context.Background()

	called := false
	err := broker.Subscribe(ctx, []events.EventType{datasets.EventTypeDatasetStatusUpdated}, func(context.Context, events.EventEnvelope) error {
		called = true
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, deletedEnvelope("ds-1")))
	assert.False(t, called)
}

func TestHandlerErrorDoesNotStopFanout(t *testing.T) {
	t.Parallel()

	broker := newTestBroker()
	ctx := context.Background()
	expectedErr := errors.New("handler error")
	topics := []events.EventType{datasets.EventTypeDatasetDeleted}

	require.NoError(t, broker.Subscribe(ctx, topics, func(context.Context, events.EventEnvelope) error {
		return expectedErr
	}))

	delivered := false
	require.NoError(t, broker.Subscribe(ctx, topics, func(context.Context, events.EventEnvelope) error {
		delivered = true
		return nil
	}))

	err := broker.Publish(ctx, deletedEnvelope("ds-err"))
	assert.ErrorIs(t, err, expectedErr)
	assert.True(t, delivered, "second subscriber must still receive the event")
}

func TestUnknownTopic(t *testing.T) {
	t.Parallel()

	broker := newTestBroker()
	ctx := context.Background()

	err := broker.Publish(ctx, events.EventEnvelope{Type: "bogus"})
	assert.ErrorIs(t, err, ErrUnknownTopic)

	_, err = broker.Stream(ctx, "bogus")
	assert.ErrorIs(t, err, ErrUnknownTopic)
}

func TestContextCancellation(t *testing.T) {
	t.Parallel()

	broker := newTestBroker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := broker.Publish(ctx, deletedEnvelope("ds-1"))
	assert.ErrorIs(t, err, context.Canceled)

	err = broker.Subscribe(ctx, []events.EventType{datasets.EventTypeDatasetDeleted}, func(context.Context, events.EventEnvelope) error {
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStreamPreservesPublishOrder(t *testing.T) {
	t.Parallel()

	broker := newTestBroker()
	ctx := context.Background()

	stream, err := broker.Stream(ctx, datasets.EventTypeDatasetDeleted)
	require.NoError(t, err)
	defer stream.Close()

	// Publishing must not block even though nobody reads yet.
	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, broker.Publish(ctx, deletedEnvelope(fmt.Sprintf("ds-%d", i))))
	}

	for i := 0; i < n; i++ {
		evt := receive(t, stream)
		assert.Equal(t, fmt.Sprintf("ds-%d", i), evt.Key)
	}
}

func TestLateSubscriberSeesNoPastEvents(t *testing.T) {
	t.Parallel()

	broker := newTestBroker()
	ctx := context.Background()

	require.NoError(t, broker.Publish(ctx, deletedEnvelope("before")))

	stream, err := broker.Stream(ctx, datasets.EventTypeDatasetDeleted)
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, broker.Publish(ctx, deletedEnvelope("after")))
	assert.Equal(t, "after", receive(t, stream).Key)
}

func TestStreamDetachesOnContextCancel(t *testing.T) {
	t.Parallel()

	broker := newTestBroker()
	ctx, cancel := context.WithCancel(context.Background())

	stream, err := broker.Stream(ctx, datasets.EventTypeDatasetStatusUpdated)
	require.NoError(t, err)
	assert.Equal(t, 1, broker.SubscriberCount(datasets.EventTypeDatasetStatusUpdated))

	cancel()

	select {
	case _, ok := <-stream.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not closed")
	}
	assert.Eventually(t, func() bool {
		return broker.SubscriberCount(datasets.EventTypeDatasetStatusUpdated) == 0
	}, time.Second, 10*time.Millisecond)

	stream.Close() // idempotent
}

func TestCloseEndsStreams(t *testing.T) {
	t.Parallel()

	broker := newTestBroker()
	ctx := context.Background()

	stream, err := broker.Stream(ctx, datasets.EventTypeDatasetDeleted)
	require.NoError(t, err)

	require.NoError(t, broker.Close())

	select {
	case _, ok := <-stream.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not closed")
	}

	assert.ErrorIs(t, broker.Publish(ctx, deletedEnvelope("ds-1")), ErrBusClosed)
	_, err = broker.Stream(ctx, datasets.EventTypeDatasetDeleted)
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestConcurrentPublishStream(t *testing.T) {
	t.Parallel()

	broker := newTestBroker()
	ctx := context.Background()
	const publishers, perPublisher = 10, 20

	stream, err := broker.Stream(ctx, datasets.EventTypeDatasetDeleted)
	require.NoError(t, err)
	defer stream.Close()

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				assert.NoError(t, broker.Publish(ctx, deletedEnvelope(fmt.Sprintf("p%d-%d", p, i))))
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[string]struct{})
	for i := 0; i < publishers*perPublisher; i++ {
		seen[receive(t, stream).Key] = struct{}{}
	}
	assert.Len(t, seen, publishers*perPublisher)
}

func TestDomainEventPublisher(t *testing.T) {
	t.Parallel()

	broker := newTestBroker()
	publisher := NewDomainEventPublisher(broker)
	ctx := context.Background()

	stream, err := broker.Stream(ctx, datasets.EventTypeDatasetStatusUpdated)
	require.NoError(t, err)
	defer stream.Close()

	rec := datasets.NewRecord("ds-7", map[string]any{"name": "liver"})
	evt := datasets.NewDatasetStatusUpdatedEvent(rec, datasets.StatusFinished)
	require.NoError(t, publisher.PublishDomainEvent(ctx, evt, events.WithKey("ds-7")))

	got := receive(t, stream)
	assert.Equal(t, datasets.EventTypeDatasetStatusUpdated, got.Type)
	assert.Equal(t, "ds-7", got.Key)
	assert.Equal(t, evt, got.Payload)
}
