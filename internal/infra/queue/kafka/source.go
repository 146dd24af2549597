// Package kafka reads dataset status messages from a Kafka topic through a
// consumer group. Acknowledging a message marks its offset on the session.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/METASPACE2020/sm-graphql/internal/domain/events"
	"github.com/METASPACE2020/sm-graphql/internal/infra/queue/kafka/tracing"
	"github.com/METASPACE2020/sm-graphql/pkg/common"
	"github.com/METASPACE2020/sm-graphql/pkg/common/logger"
)

// Config contains settings for consuming the status topic.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string
	// Topic carries the status messages.
	Topic string
	// GroupID identifies the consumer group.
	GroupID string
	// ClientID identifies this client to the cluster.
	ClientID string
}

// commitInterval bounds how often marked offsets are flushed synchronously.
const commitInterval = time.Second

var _ events.MessageSource = (*Source)(nil)

// Source implements events.MessageSource on a sarama consumer group.
type Source struct {
	group  sarama.ConsumerGroup
	topic  string
	closed sync.Once

	logger *logger.Logger
	tracer trace.Tracer
}

// NewSource wraps an existing consumer group.
func NewSource(group sarama.ConsumerGroup, topic string, logger *logger.Logger, tracer trace.Tracer) *Source {
	return &Source{
		group:  group,
		topic:  topic,
		logger: logger.With("component", "kafka_status_source", "topic", topic),
		tracer: tracer,
	}
}

// NewSaramaConfig returns the consumer settings used for status messages.
// Offsets are committed manually after acknowledgment.
func NewSaramaConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID

	config.Consumer.Return.Errors = true
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Group.Session.Timeout = 20 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 6 * time.Second
	config.Consumer.Group.Member.UserData = []byte(clientID)
	config.Consumer.Offsets.AutoCommit.Enable = false

	config.Version = sarama.V3_6_0_0

	return config
}

// ConnectWithRetry joins the consumer group, retrying with exponential
// backoff for up to five minutes while the cluster is unavailable.
func ConnectWithRetry(ctx context.Context, cfg *Config, logger *logger.Logger, tracer trace.Tracer) (*Source, error) {
	var group sarama.ConsumerGroup
	err := common.ConnectWithRetry(ctx, logger, "Kafka", common.DefaultRetryConfig(), func() error {
		var err error
		group, err = sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, NewSaramaConfig(cfg.ClientID))
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "Connected to Kafka", "brokers", cfg.Brokers, "group_id", cfg.GroupID)
	return NewSource(group, cfg.Topic, logger, tracer), nil
}

// Consume joins the group on the status topic and delivers messages to
// handler until ctx is done. Sessions are re-established after rebalances.
func (s *Source) Consume(ctx context.Context, handler events.MessageHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	go s.drainErrors(ctx)

	cgHandler := &statusHandler{handler: handler, logger: s.logger, tracer: s.tracer}
	for {
		if err := s.group.Consume(ctx, []string{s.topic}, cgHandler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			s.logger.Error(ctx, "Error from consumer group", "error", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (s *Source) drainErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-s.group.Errors():
			if !ok {
				return
			}
			s.logger.Error(ctx, "Kafka consumer error", "error", err)
		}
	}
}

// Close leaves the consumer group.
func (s *Source) Close() error {
	var err error
	s.closed.Do(func() {
		err = s.group.Close()
	})
	return err
}

// statusHandler implements sarama.ConsumerGroupHandler.
type statusHandler struct {
	handler events.MessageHandler
	logger  *logger.Logger
	tracer  trace.Tracer
}

func (h *statusHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(sess.Context(), "Consumer group session setup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

func (h *statusHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(sess.Context(), "Consumer group session cleanup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

// ConsumeClaim hands each message of a partition to the handler in order.
func (h *statusHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	log := h.logger.With("partition", claim.Partition())
	log.Info(sess.Context(), "Starting to consume from partition", "member_id", sess.MemberID())

	lastCommit := time.Now()

	for msg := range claim.Messages() {
		func() {
			msgCtx := tracing.ExtractTraceContext(sess.Context(), msg)
			msgCtx, span := tracing.StartConsumerSpan(msgCtx, msg, h.tracer)
			defer span.End()

			ack := func() error {
				sess.MarkMessage(msg, "")
				if time.Since(lastCommit) > commitInterval {
					sess.Commit()
					lastCommit = time.Now()
				}
				return nil
			}

			received := msg.Timestamp
			if received.IsZero() {
				received = time.Now().UTC()
			}

			h.handler(msgCtx, events.Message{
				ID:         fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
				Body:       msg.Value,
				ReceivedAt: received,
			}, ack)

			span.SetStatus(codes.Ok, "")
		}()
	}

	sess.Commit()
	return nil
}
