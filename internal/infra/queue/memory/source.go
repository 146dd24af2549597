// Package memory is an in-process status queue for local runs and tests.
package memory

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/METASPACE2020/sm-graphql/internal/domain/events"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("memory queue closed")

var _ events.MessageSource = (*Queue)(nil)

// Queue is a buffered FIFO of raw message bodies. Messages that are never
// acknowledged are not redelivered.
type Queue struct {
	msgs chan events.Message
	seq  atomic.Uint64

	mu     sync.Mutex
	acked  []string
	closed bool
	done   chan struct{}
}

// NewQueue creates a queue holding up to capacity undelivered messages.
func NewQueue(capacity int) *Queue {
	return &Queue{
		msgs: make(chan events.Message, capacity),
		done: make(chan struct{}),
	}
}

// Send enqueues body, blocking while the queue is full.
func (q *Queue) Send(ctx context.Context, body []byte) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}

	msg := events.Message{
		ID:         strconv.FormatUint(q.seq.Add(1), 10),
		Body:       body,
		ReceivedAt: time.Now().UTC(),
	}

	select {
	case q.msgs <- msg:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume delivers queued messages to handler until ctx is done or the
// queue is closed.
func (q *Queue) Consume(ctx context.Context, handler events.MessageHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
			return nil
		case msg := <-q.msgs:
			handler(ctx, msg, func() error { return q.ack(msg.ID) })
		}
	}
}

func (q *Queue) ack(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, id)
	return nil
}

// Acked returns the ids of acknowledged messages in ack order.
func (q *Queue) Acked() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.acked...)
}

// Close stops delivery. It is safe to call more than once.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}
