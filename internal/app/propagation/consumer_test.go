package propagation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/METASPACE2020/sm-graphql/internal/domain/datasets"
	"github.com/METASPACE2020/sm-graphql/internal/domain/events"
	"github.com/METASPACE2020/sm-graphql/pkg/common/logger"
)

type mockSubmitter struct {
	mock.Mock
}

func (m *mockSubmitter) Submit(ctx context.Context, evt datasets.StatusEvent) {
	m.Called(ctx, evt)
}

type mockConsumerMetrics struct {
	mock.Mock
}

func (m *mockConsumerMetrics) IncMessagesReceived(ctx context.Context) { m.Called(ctx) }
func (m *mockConsumerMetrics) IncMessagesDiscarded(ctx context.Context, reason string) {
	m.Called(ctx, reason)
}
func (m *mockConsumerMetrics) IncMessagesDispatched(ctx context.Context) { m.Called(ctx) }
func (m *mockConsumerMetrics) IncAckErrors(ctx context.Context)          { m.Called(ctx) }

// chanSource delivers messages pushed onto msgs until ctx is cancelled.
type chanSource struct {
	msgs   chan events.Message
	mu     sync.Mutex
	acks   []string
	closed bool
	err    error
}

func newChanSource() *chanSource { return &chanSource{msgs: make(chan events.Message, 16)} }

func (s *chanSource) Consume(ctx context.Context, handler events.MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-s.msgs:
			if !ok {
				return s.err
			}
			handler(ctx, msg, func() error {
				s.mu.Lock()
				defer s.mu.Unlock()
				s.acks = append(s.acks, msg.ID)
				return nil
			})
		}
	}
}

func (s *chanSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *chanSource) acked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.acks...)
}

func newTestConsumer(source events.MessageSource, gate Submitter, metrics ConsumerMetrics) *StatusConsumer {
	return NewStatusConsumer(source, gate, metrics, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
}

func TestHandleMessage(t *testing.T) {
	t.Parallel()

	receivedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		body       string
		wantEvent  *datasets.StatusEvent
		wantReason string
	}{
		{
			name: "valid status",
			body: `{"ds_id":"2024-03-01_12h00m00s","status":"FINISHED"}`,
			wantEvent: &datasets.StatusEvent{
				DatasetID:  "2024-03-01_12h00m00s",
				Status:     datasets.StatusFinished,
				ReceivedAt: receivedAt,
			},
		},
		{
			name: "unknown fields ignored",
			body: `{"ds_id":"ds-1","status":"DELETED","action":"delete","stage":"annotate"}`,
			wantEvent: &datasets.StatusEvent{
				DatasetID:  "ds-1",
				Status:     datasets.StatusDeleted,
				ReceivedAt: receivedAt,
			},
		},
		{
			name:       "unrecognized status",
			body:       `{"ds_id":"ds-1","status":"BOGUS"}`,
			wantReason: ReasonInvalidStatus,
		},
		{
			name:       "lowercase status",
			body:       `{"ds_id":"ds-1","status":"finished"}`,
			wantReason: ReasonInvalidStatus,
		},
		{
			name:       "missing dataset id",
			body:       `{"status":"QUEUED"}`,
			wantReason: ReasonMissingDataset,
		},
		{
			name:       "malformed json",
			body:       `{"ds_id":`,
			wantReason: ReasonMalformed,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gate := new(mockSubmitter)
			metrics := new(mockConsumerMetrics)
			metrics.On("IncMessagesReceived", mock.Anything).Once()
			if tt.wantEvent != nil {
				gate.On("Submit", mock.Anything, *tt.wantEvent).Once()
				metrics.On("IncMessagesDispatched", mock.Anything).Once()
			} else {
				metrics.On("IncMessagesDiscarded", mock.Anything, tt.wantReason).Once()
			}

			acked := 0
			c := newTestConsumer(newChanSource(), gate, metrics)
			c.HandleMessage(context.Background(),
				events.Message{ID: "m-1", Body: []byte(tt.body), ReceivedAt: receivedAt},
				func() error { acked++; return nil },
			)

			assert.Equal(t, 1, acked, "every message is acknowledged exactly once")
			gate.AssertExpectations(t)
			metrics.AssertExpectations(t)
			if tt.wantEvent == nil {
				gate.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestHandleMessageAckFailureStillDispatches(t *testing.T) {
	t.Parallel()

	gate := new(mockSubmitter)
	gate.On("Submit", mock.Anything, mock.MatchedBy(func(evt datasets.StatusEvent) bool {
		return evt.DatasetID == "ds-1" && evt.Status == datasets.StatusQueued
	})).Once()

	metrics := new(mockConsumerMetrics)
	metrics.On("IncMessagesReceived", mock.Anything).Once()
	metrics.On("IncAckErrors", mock.Anything).Once()
	metrics.On("IncMessagesDispatched", mock.Anything).Once()

	c := newTestConsumer(newChanSource(), gate, metrics)
	c.HandleMessage(context.Background(),
		events.Message{ID: "m-1", Body: []byte(`{"ds_id":"ds-1","status":"QUEUED"}`)},
		func() error { return errors.New("channel closed") },
	)

	gate.AssertExpectations(t)
	metrics.AssertExpectations(t)
}

func TestHandleMessageStampsReceiveTime(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 5, 5, 5, 5, 0, time.UTC)
	gate := new(mockSubmitter)
	gate.On("Submit", mock.Anything, datasets.StatusEvent{
		DatasetID:  "ds-1",
		Status:     datasets.StatusStarted,
		ReceivedAt: now,
	}).Once()

	c := newTestConsumer(newChanSource(), gate, nil)
	c.clock = fixedClock{now}
	c.HandleMessage(context.Background(),
		events.Message{ID: "m-1", Body: []byte(`{"ds_id":"ds-1","status":"STARTED"}`)},
		func() error { return nil },
	)

	gate.AssertExpectations(t)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestStatusConsumerLifecycle(t *testing.T) {
	t.Parallel()

	source := newChanSource()
	gate := new(mockSubmitter)
	submitted := make(chan datasets.StatusEvent, 1)
	gate.On("Submit", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		submitted <- args.Get(1).(datasets.StatusEvent)
	})

	c := newTestConsumer(source, gate, nil)
	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrConsumerRunning)
	assert.True(t, c.Running())

	source.msgs <- events.Message{ID: "m-bogus", Body: []byte(`{"ds_id":"ds-1","status":"BOGUS"}`)}
	source.msgs <- events.Message{ID: "m-ok", Body: []byte(`{"ds_id":"ds-1","status":"FAILED"}`)}

	select {
	case evt := <-submitted:
		assert.Equal(t, "ds-1", evt.DatasetID)
		assert.Equal(t, datasets.StatusFailed, evt.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not submitted")
	}
	assert.Equal(t, []string{"m-bogus", "m-ok"}, source.acked())

	require.NoError(t, c.Stop())
	assert.False(t, c.Running())
	assert.NoError(t, c.Err())
	source.mu.Lock()
	assert.True(t, source.closed)
	source.mu.Unlock()
	gate.AssertNumberOfCalls(t, "Submit", 1)
}

func TestStatusConsumerReportsSourceFailure(t *testing.T) {
	t.Parallel()

	source := newChanSource()
	source.err = errors.New("connection reset")
	c := newTestConsumer(source, new(mockSubmitter), nil)

	require.NoError(t, c.Start(context.Background()))
	close(source.msgs)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("consume loop did not exit")
	}
	assert.EqualError(t, c.Err(), "connection reset")
	assert.False(t, c.Running())
}
