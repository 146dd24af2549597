package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/METASPACE2020/sm-graphql/internal/app/propagation"
	"github.com/METASPACE2020/sm-graphql/internal/config"
	"github.com/METASPACE2020/sm-graphql/internal/domain/datasets"
	"github.com/METASPACE2020/sm-graphql/internal/domain/events"
	"github.com/METASPACE2020/sm-graphql/internal/infra/queue/amqp"
	"github.com/METASPACE2020/sm-graphql/internal/infra/queue/kafka"
	memqueue "github.com/METASPACE2020/sm-graphql/internal/infra/queue/memory"
	"github.com/METASPACE2020/sm-graphql/internal/infra/readmodel/elasticsearch"
	memprobe "github.com/METASPACE2020/sm-graphql/internal/infra/readmodel/memory"
	pgprobe "github.com/METASPACE2020/sm-graphql/internal/infra/readmodel/postgres"
	"github.com/METASPACE2020/sm-graphql/internal/infra/storage"
	"github.com/METASPACE2020/sm-graphql/pkg/common/logger"
)

func buildSource(ctx context.Context, cfg config.BrokerConfig, log *logger.Logger, tracer trace.Tracer) (events.MessageSource, error) {
	switch cfg.Kind {
	case config.BrokerAMQP:
		src, err := amqp.ConnectWithRetry(ctx, amqp.Config{
			URL:         cfg.URL,
			Queue:       cfg.Queue,
			ConsumerTag: fmt.Sprintf("%s-%s", cfg.ClientID, uuid.NewString()),
			Prefetch:    cfg.Prefetch,
		}, log, tracer)
		if err != nil {
			return nil, err
		}
		return src, nil

	case config.BrokerKafka:
		src, err := kafka.ConnectWithRetry(ctx, &kafka.Config{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			ClientID: cfg.ClientID,
		}, log, tracer)
		if err != nil {
			return nil, err
		}
		return src, nil

	case config.BrokerMemory:
		return memqueue.NewQueue(cfg.Capacity), nil

	default:
		return nil, fmt.Errorf("unsupported broker kind %q", cfg.Kind)
	}
}

func buildProbe(ctx context.Context, cfg config.ReadModelConfig, tracer trace.Tracer) (datasets.ReadModelProbe, func(), error) {
	noop := func() {}

	switch cfg.Kind {
	case config.ReadModelElasticsearch:
		probe, err := elasticsearch.NewProbe(elasticsearch.Config{
			Addresses: cfg.Addresses,
			Index:     cfg.Index,
			Username:  cfg.Username,
			Password:  cfg.Password,
		}, tracer)
		if err != nil {
			return nil, noop, err
		}
		return probe, noop, nil

	case config.ReadModelPostgres:
		pool, err := storage.NewPool(ctx, cfg.DSN, storage.PoolConfig{MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, noop, err
		}
		return pgprobe.NewProbe(pool, tracer), pool.Close, nil

	case config.ReadModelMemory:
		return memprobe.NewProbe(), noop, nil

	default:
		return nil, noop, fmt.Errorf("unsupported read model kind %q", cfg.Kind)
	}
}

func gateConfig(cfg config.PropagationConfig) propagation.GateConfig {
	return propagation.GateConfig{
		Policy: propagation.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BaseDelay,
			SettleDelay: cfg.SettleDelay,
		},
		Supersede: cfg.Supersede,
	}
}
