package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/METASPACE2020/sm-graphql/pkg/common/logger"
)

var fastRetry = RetryConfig{InitialInterval: time.Millisecond, MaxElapsedTime: time.Second}

func TestConnectWithRetryEventuallySucceeds(t *testing.T) {
	t.Parallel()

	calls := 0
	err := ConnectWithRetry(context.Background(), logger.Noop(), "broker", fastRetry, func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestConnectWithRetryGivesUp(t *testing.T) {
	t.Parallel()

	dialErr := errors.New("connection refused")
	cfg := RetryConfig{InitialInterval: time.Millisecond, MaxElapsedTime: 20 * time.Millisecond}
	err := ConnectWithRetry(context.Background(), logger.Noop(), "broker", cfg, func() error {
		return dialErr
	})
	assert.ErrorIs(t, err, dialErr)
	assert.Contains(t, err.Error(), "failed to connect to broker")
}

func TestConnectWithRetryStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := ConnectWithRetry(ctx, logger.Noop(), "broker", DefaultRetryConfig(), func() error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}
