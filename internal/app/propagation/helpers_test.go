package propagation

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/METASPACE2020/sm-graphql/internal/domain/datasets"
	"github.com/METASPACE2020/sm-graphql/internal/domain/events"
	"github.com/METASPACE2020/sm-graphql/pkg/common/logger"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// manualScheduler is a Scheduler whose clock only moves when Advance is
// called. Due tasks run synchronously on the caller's goroutine.
type manualScheduler struct {
	mu    sync.Mutex
	now   time.Time
	seq   int
	tasks []*manualTask
}

type manualTask struct {
	at  time.Time
	seq int
	fn  func()
}

func newManualScheduler() *manualScheduler { return &manualScheduler{now: epoch} }

func (s *manualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *manualScheduler) Schedule(at time.Time, fn func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	t := &manualTask{at: at, seq: s.seq, fn: fn}
	s.tasks = append(s.tasks, t)

	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.remove(t)
	}
}

// Advance moves the clock forward by d, running every task that falls due,
// including tasks scheduled by tasks that ran, in time order.
func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		sort.SliceStable(s.tasks, func(i, j int) bool {
			if s.tasks[i].at.Equal(s.tasks[j].at) {
				return s.tasks[i].seq < s.tasks[j].seq
			}
			return s.tasks[i].at.Before(s.tasks[j].at)
		})
		if len(s.tasks) == 0 || s.tasks[0].at.After(target) {
			s.now = target
			s.mu.Unlock()
			return
		}
		next := s.tasks[0]
		s.tasks = s.tasks[1:]
		if next.at.After(s.now) {
			s.now = next.at
		}
		s.mu.Unlock()

		next.fn()
	}
}

func (s *manualScheduler) remove(t *manualTask) bool {
	for i, c := range s.tasks {
		if c == t {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return true
		}
	}
	return false
}

// mockProbe records the scheduler time of every lookup.
type mockProbe struct {
	mock.Mock

	mu    sync.Mutex
	clock *manualScheduler
	calls []time.Time
}

func (m *mockProbe) Lookup(ctx context.Context, id string) (*datasets.Record, error) {
	m.mu.Lock()
	m.calls = append(m.calls, m.clock.Now())
	m.mu.Unlock()

	args := m.Called(ctx, id)
	if rec := args.Get(0); rec != nil {
		return rec.(*datasets.Record), args.Error(1)
	}
	return nil, args.Error(1)
}

// lookupGaps returns the time between consecutive lookups.
func (m *mockProbe) lookupGaps() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	var gaps []time.Duration
	for i := 1; i < len(m.calls); i++ {
		gaps = append(gaps, m.calls[i].Sub(m.calls[i-1]))
	}
	return gaps
}

// probeFunc adapts a function to datasets.ReadModelProbe.
type probeFunc func(ctx context.Context, id string) (*datasets.Record, error)

func (f probeFunc) Lookup(ctx context.Context, id string) (*datasets.Record, error) { return f(ctx, id) }

type published struct {
	at    time.Time
	key   string
	event events.DomainEvent
}

// recordingPublisher captures every domain event handed to it.
type recordingPublisher struct {
	mu    sync.Mutex
	clock *manualScheduler
	got   []published
	err   error
}

func (p *recordingPublisher) PublishDomainEvent(_ context.Context, evt events.DomainEvent, opts ...events.PublishOption) error {
	var params events.PublishParams
	for _, opt := range opts {
		opt(&params)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.got = append(p.got, published{at: p.clock.Now(), key: params.Key, event: evt})
	return nil
}

func (p *recordingPublisher) events() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.got...)
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type gateFixture struct {
	gate      *ConsistencyGate
	clock     *manualScheduler
	publisher *recordingPublisher
	logs      *syncBuffer
}

func newGateFixture(t *testing.T, probe datasets.ReadModelProbe, cfg GateConfig, opts ...GateOption) *gateFixture {
	t.Helper()

	clock := newManualScheduler()
	if mp, ok := probe.(*mockProbe); ok {
		mp.clock = clock
	}
	pub := &recordingPublisher{clock: clock}
	logs := new(syncBuffer)
	log := logger.New(logs, logger.LevelDebug, "test", nil)

	opts = append([]GateOption{WithScheduler(clock)}, opts...)
	gate, err := NewConsistencyGate(probe, pub, cfg, log, noop.NewTracerProvider().Tracer("test"), opts...)
	require.NoError(t, err)
	t.Cleanup(gate.Stop)

	return &gateFixture{gate: gate, clock: clock, publisher: pub, logs: logs}
}

func (f *gateFixture) submit(id string, status datasets.Status) {
	f.gate.Submit(context.Background(), datasets.StatusEvent{
		DatasetID:  id,
		Status:     status,
		ReceivedAt: f.clock.Now(),
	})
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
