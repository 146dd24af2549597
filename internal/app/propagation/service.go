package propagation

import (
	"context"
	"errors"

	"github.com/METASPACE2020/sm-graphql/pkg/common/logger"
)

// Service owns the propagation pipeline: one consumer feeding one gate.
type Service struct {
	consumer *StatusConsumer
	gate     *ConsistencyGate
	logger   *logger.Logger
}

// NewService assembles a Service from already constructed parts.
func NewService(consumer *StatusConsumer, gate *ConsistencyGate, logger *logger.Logger) *Service {
	return &Service{consumer: consumer, gate: gate, logger: logger.With("component", "propagation_service")}
}

// Start begins consuming status messages.
func (s *Service) Start(ctx context.Context) error {
	if err := s.consumer.Start(ctx); err != nil {
		return err
	}
	s.logger.Info(ctx, "Propagation service started")
	return nil
}

// Stop stops consuming, then cancels every pending re-check.
func (s *Service) Stop() error {
	err := s.consumer.Stop()
	s.gate.Stop()
	s.logger.Info(context.Background(), "Propagation service stopped")
	return err
}

// Wait blocks until the consume loop exits or ctx is done, returning the
// loop's error.
func (s *Service) Wait(ctx context.Context) error {
	done := s.consumer.Done()
	if done == nil {
		return errors.New("propagation service not started")
	}
	select {
	case <-done:
		return s.consumer.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether messages are being consumed.
func (s *Service) Ready() bool { return s.consumer.Running() }

// Pending returns the number of scheduled re-checks.
func (s *Service) Pending() int { return s.gate.Pending() }
