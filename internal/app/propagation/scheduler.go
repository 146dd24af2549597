package propagation

import (
	"time"

	"github.com/METASPACE2020/sm-graphql/internal/domain/datasets"
)

// RetryTask is a scheduled check of the read model for one status event.
// It is owned by the gate chain that created it and never persisted.
type RetryTask struct {
	DatasetID string
	Status    datasets.Status

	// Attempt is the 1-based number of this check within its chain.
	Attempt int

	// NotBefore is the earliest time the task may run.
	NotBefore time.Time

	// Generation identifies the event that started the chain; a newer event
	// for the same dataset makes it stale.
	Generation uint64
}

// Scheduler runs functions at a point in time. Implementations must run each
// function on its own goroutine or otherwise never block the caller of
// Schedule.
type Scheduler interface {
	// Now returns the scheduler's current time.
	Now() time.Time

	// Schedule arranges for fn to run once at or after at. The returned func
	// cancels the run and reports whether it was still pending.
	Schedule(at time.Time, fn func()) (cancel func() bool)
}

// timerScheduler is the wall-clock Scheduler backed by time.AfterFunc.
type timerScheduler struct{}

// NewTimerScheduler returns a Scheduler driven by the real clock.
func NewTimerScheduler() Scheduler { return timerScheduler{} }

func (timerScheduler) Now() time.Time { return time.Now().UTC() }

func (timerScheduler) Schedule(at time.Time, fn func()) func() bool {
	t := time.AfterFunc(time.Until(at), fn)
	return t.Stop
}
