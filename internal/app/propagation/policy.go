package propagation

import (
	"fmt"
	"time"

	"github.com/METASPACE2020/sm-graphql/internal/domain/datasets"
)

// RetryPolicy bounds how long a gate waits for the read model to catch up.
type RetryPolicy struct {
	// MaxAttempts is the number of checks that may schedule a follow-up.
	MaxAttempts int

	// BaseDelay scales the quadratic backoff between checks.
	BaseDelay time.Duration

	// SettleDelay is the wait before a confirmed deletion is announced.
	SettleDelay time.Duration
}

// DefaultRetryPolicy waits 50, 200, 450, 800 and 1250 ms between checks and
// one second before announcing deletions.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   50 * time.Millisecond,
		SettleDelay: datasets.DeletionSettleDelay,
	}
}

// Delay returns the wait after a failed check at attempt: base * attempt².
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(attempt*attempt)
}

// Exhausted reports whether a chain reaching attempt must give up.
func (p RetryPolicy) Exhausted(attempt int) bool { return attempt > p.MaxAttempts }

// Validate rejects policies that would never check or never wait.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be positive, got %s", p.BaseDelay)
	}
	if p.SettleDelay < 0 {
		return fmt.Errorf("settle delay must not be negative, got %s", p.SettleDelay)
	}
	return nil
}
