package memory

import (
	"context"
	"sync"

	"github.com/METASPACE2020/sm-graphql/internal/domain/events"
)

var _ events.Stream = (*subscription)(nil)

// subscription is an unbounded FIFO between synchronous publishers and a
// single reader. enqueue never blocks; pump hands items to the reader.
type subscription struct {
	id        string
	eventType events.EventType

	mu     sync.Mutex
	queue  []events.EventEnvelope
	notify chan struct{}

	out       chan events.EventEnvelope
	done      chan struct{}
	closeOnce sync.Once
	onClose   func()
}

func newSubscription(id string, eventType events.EventType) *subscription {
	return &subscription{
		id:        id,
		eventType: eventType,
		notify:    make(chan struct{}, 1),
		out:       make(chan events.EventEnvelope),
		done:      make(chan struct{}),
	}
}

func (s *subscription) ID() string { return s.id }

func (s *subscription) Events() <-chan events.EventEnvelope { return s.out }

func (s *subscription) Close() {
	s.closeOnce.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
		close(s.done)
	})
}

func (s *subscription) enqueue(_ context.Context, evt events.EventEnvelope) error {
	select {
	case <-s.done:
		return nil
	default:
	}

	s.mu.Lock()
	s.queue = append(s.queue, evt)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

func (s *subscription) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		evt := s.queue[0]
		s.queue[0] = events.EventEnvelope{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- evt:
		case <-s.done:
			return
		}
	}
}
