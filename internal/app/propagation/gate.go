// Package propagation turns dataset status messages into live updates. The
// consumer acknowledges each message and hands it to the consistency gate,
// which waits for the read model to reflect the new status before publishing.
package propagation

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/METASPACE2020/sm-graphql/internal/domain/datasets"
	"github.com/METASPACE2020/sm-graphql/internal/domain/events"
	"github.com/METASPACE2020/sm-graphql/pkg/common/logger"
)

// Limiter throttles read model lookups.
type Limiter interface {
	Wait(ctx context.Context) error
}

// GateConfig tunes a ConsistencyGate.
type GateConfig struct {
	Policy RetryPolicy

	// Supersede drops a chain once a newer event for the same dataset has
	// been accepted. When false, chains for one dataset run independently and
	// may publish in any order.
	Supersede bool
}

// DefaultGateConfig returns the default policy with supersession enabled.
func DefaultGateConfig() GateConfig {
	return GateConfig{Policy: DefaultRetryPolicy(), Supersede: true}
}

// GateOption configures optional gate collaborators.
type GateOption func(*ConsistencyGate)

// WithScheduler replaces the wall-clock scheduler.
func WithScheduler(s Scheduler) GateOption {
	return func(g *ConsistencyGate) { g.scheduler = s }
}

// WithLimiter throttles probe lookups across every chain.
func WithLimiter(l Limiter) GateOption {
	return func(g *ConsistencyGate) { g.limiter = l }
}

// WithGateMetrics sets the metrics sink.
func WithGateMetrics(m GateMetrics) GateOption {
	return func(g *ConsistencyGate) { g.metrics = m }
}

type pendingTask struct {
	task   RetryTask
	cancel func() bool
}

// ConsistencyGate publishes a status event only after the read model agrees
// with it, re-checking on a quadratic schedule until the attempts run out.
// Each event runs as its own chain of scheduled tasks; Submit never blocks.
type ConsistencyGate struct {
	probe     datasets.ReadModelProbe
	publisher events.DomainEventPublisher
	scheduler Scheduler
	limiter   Limiter
	metrics   GateMetrics
	cfg       GateConfig

	generations *generations

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	nextID  uint64
	pending map[uint64]pendingTask

	logger *logger.Logger
	tracer trace.Tracer
}

// NewConsistencyGate wires a gate over probe and publisher.
func NewConsistencyGate(
	probe datasets.ReadModelProbe,
	publisher events.DomainEventPublisher,
	cfg GateConfig,
	logger *logger.Logger,
	tracer trace.Tracer,
	opts ...GateOption,
) (*ConsistencyGate, error) {
	if probe == nil {
		return nil, errors.New("read model probe is required")
	}
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &ConsistencyGate{
		probe:       probe,
		publisher:   publisher,
		scheduler:   NewTimerScheduler(),
		metrics:     noopMetrics{},
		cfg:         cfg,
		generations: newGenerations(),
		ctx:         ctx,
		cancel:      cancel,
		pending:     make(map[uint64]pendingTask),
		logger:      logger.With("component", "consistency_gate"),
		tracer:      tracer,
	}
	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// Submit starts a chain for evt. The first check is scheduled immediately and
// runs off the caller's goroutine.
func (g *ConsistencyGate) Submit(ctx context.Context, evt datasets.StatusEvent) {
	var gen uint64
	if g.cfg.Supersede {
		gen = g.generations.advance(evt.DatasetID)
	}

	task := RetryTask{
		DatasetID:  evt.DatasetID,
		Status:     evt.Status,
		Attempt:    1,
		NotBefore:  g.scheduler.Now(),
		Generation: gen,
	}

	if !g.schedule(task, g.check) {
		g.logger.Debug(ctx, "Gate stopped, dropping status event", "dataset_id", evt.DatasetID)
		return
	}
	g.metrics.IncGatesStarted(ctx)
}

// Pending returns the number of scheduled tasks that have not fired.
func (g *ConsistencyGate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Stop cancels every pending task and abandons in-flight chains. Calling
// Submit afterwards is a no-op.
func (g *ConsistencyGate) Stop() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	pending := g.pending
	g.pending = make(map[uint64]pendingTask)
	g.mu.Unlock()

	for _, p := range pending {
		p.cancel()
	}
	g.cancel()

	g.logger.Info(context.Background(), "Consistency gate stopped", "abandoned_tasks", len(pending))
}

// schedule registers task to run fn at task.NotBefore. It reports false once
// the gate is stopped.
func (g *ConsistencyGate) schedule(task RetryTask, fn func(RetryTask)) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped {
		return false
	}

	g.nextID++
	id := g.nextID
	cancel := g.scheduler.Schedule(task.NotBefore, func() {
		g.mu.Lock()
		_, live := g.pending[id]
		delete(g.pending, id)
		g.mu.Unlock()
		if !live {
			return
		}
		fn(task)
	})
	g.pending[id] = pendingTask{task: task, cancel: cancel}

	return true
}

func (g *ConsistencyGate) check(task RetryTask) {
	ctx, span := g.tracer.Start(g.ctx, "consistency_gate.check",
		trace.WithAttributes(
			attribute.String("dataset_id", task.DatasetID),
			attribute.String("status", task.Status.String()),
			attribute.Int("attempt", task.Attempt),
		))
	defer span.End()

	log := g.logger.With("dataset_id", task.DatasetID, "status", task.Status.String(), "attempt", task.Attempt)

	if g.superseded(ctx, task) {
		span.AddEvent("superseded")
		return
	}

	if g.cfg.Policy.Exhausted(task.Attempt) {
		log.Warn(ctx, "Failed to propagate dataset status update, read model never became consistent",
			"max_attempts", g.cfg.Policy.MaxAttempts)
		g.metrics.IncExhausted(ctx)
		span.SetStatus(codes.Error, "retries exhausted")
		g.finish(task)
		return
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			log.Debug(ctx, "Probe rate limiter wait aborted", "error", err)
			g.finish(task)
			return
		}
	}

	record, err := g.probe.Lookup(ctx, task.DatasetID)
	if err != nil {
		log.Error(ctx, "Failed to look up dataset in read model", "error", err)
		g.metrics.IncProbeErrors(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "probe failed")
		g.finish(task)
		return
	}

	decision := datasets.Decide(record != nil, task.Status)
	span.SetAttributes(
		attribute.Bool("record_present", record != nil),
		attribute.String("decision", decision.String()),
	)

	switch decision {
	case datasets.DecisionPublishUpdate:
		g.publish(ctx, task, datasets.NewDatasetStatusUpdatedEvent(record, task.Status))

	case datasets.DecisionPublishDeleted:
		settle := task
		settle.NotBefore = g.scheduler.Now().Add(g.cfg.Policy.SettleDelay)
		if !g.schedule(settle, g.publishDeletion) {
			g.finish(task)
		}
		log.Debug(ctx, "Dataset absent from read model, waiting before announcing deletion",
			"settle_delay", g.cfg.Policy.SettleDelay)

	default:
		next := task
		next.Attempt++
		next.NotBefore = g.scheduler.Now().Add(g.cfg.Policy.Delay(task.Attempt))
		if !g.schedule(next, g.check) {
			g.finish(task)
			return
		}
		g.metrics.IncRetries(ctx)
		log.Debug(ctx, "Read model not yet consistent, scheduling re-check",
			"delay", g.cfg.Policy.Delay(task.Attempt))
	}
}

func (g *ConsistencyGate) publishDeletion(task RetryTask) {
	ctx, span := g.tracer.Start(g.ctx, "consistency_gate.publish_deletion",
		trace.WithAttributes(attribute.String("dataset_id", task.DatasetID)))
	defer span.End()

	if g.superseded(ctx, task) {
		span.AddEvent("superseded")
		return
	}
	g.publish(ctx, task, datasets.NewDatasetDeletedEvent(task.DatasetID))
}

func (g *ConsistencyGate) publish(ctx context.Context, task RetryTask, evt events.DomainEvent) {
	defer g.finish(task)

	if g.superseded(ctx, task) {
		return
	}

	eventType := evt.EventType().String()
	if err := g.publisher.PublishDomainEvent(ctx, evt, events.WithKey(task.DatasetID)); err != nil {
		g.logger.Error(ctx, "Failed to publish dataset update",
			"dataset_id", task.DatasetID,
			"event_type", eventType,
			"error", err,
		)
		g.metrics.IncPublishErrors(ctx)
		trace.SpanFromContext(ctx).RecordError(err)
		return
	}

	g.metrics.IncConsistent(ctx, eventType, task.Attempt)
	g.logger.Debug(ctx, "Published dataset update",
		"dataset_id", task.DatasetID,
		"event_type", eventType,
		"attempt", task.Attempt,
	)
}

func (g *ConsistencyGate) superseded(ctx context.Context, task RetryTask) bool {
	if !g.cfg.Supersede || g.generations.isCurrent(task.DatasetID, task.Generation) {
		return false
	}
	g.metrics.IncSuperseded(ctx)
	g.logger.Debug(ctx, "Newer status event accepted, dropping chain",
		"dataset_id", task.DatasetID,
		"status", task.Status.String(),
		"attempt", task.Attempt,
	)
	return true
}

// finish ends task's chain.
func (g *ConsistencyGate) finish(task RetryTask) {
	if g.cfg.Supersede {
		g.generations.release(task.DatasetID, task.Generation)
	}
}

type noopMetrics struct{}

func (noopMetrics) IncGatesStarted(context.Context)              {}
func (noopMetrics) IncConsistent(context.Context, string, int)   {}
func (noopMetrics) IncRetries(context.Context)                   {}
func (noopMetrics) IncExhausted(context.Context)                 {}
func (noopMetrics) IncSuperseded(context.Context)                {}
func (noopMetrics) IncProbeErrors(context.Context)               {}
func (noopMetrics) IncPublishErrors(context.Context)             {}
func (noopMetrics) IncMessagesReceived(context.Context)          {}
func (noopMetrics) IncMessagesDiscarded(context.Context, string) {}
func (noopMetrics) IncMessagesDispatched(context.Context)        {}
func (noopMetrics) IncAckErrors(context.Context)                 {}
