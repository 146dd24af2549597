package common

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/METASPACE2020/sm-graphql/pkg/common/logger"
)

// RetryConfig bounds ConnectWithRetry.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryConfig retries for up to 5 minutes, starting with 5 second
// intervals.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{InitialInterval: 5 * time.Second, MaxElapsedTime: 5 * time.Minute}
}

// ConnectWithRetry attempts to establish a connection to target with
// exponential backoff. This helps handle temporary network issues or broker
// unavailability during startup. It gives up as soon as ctx is done.
func ConnectWithRetry(ctx context.Context, log *logger.Logger, target string, cfg RetryConfig, connect func() error) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = cfg.MaxElapsedTime
	expBackoff.InitialInterval = cfg.InitialInterval

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		if err := connect(); err != nil {
			log.Warn(ctx, fmt.Sprintf("Failed to connect to %s, will retry", target), "error", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return fmt.Errorf("failed to connect to %s after retries: %w", target, err)
	}
	return nil
}
