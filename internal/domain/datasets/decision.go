package datasets

import "time"

// DeletionSettleDelay is the wait inserted before trusting a missing record as
// a true deletion, giving downstream caches time to catch up.
const DeletionSettleDelay = 1000 * time.Millisecond

// Decision is the outcome of comparing the read model against a target status.
type Decision int

const (
	// DecisionRetry means the read model has not caught up yet.
	DecisionRetry Decision = iota

	// DecisionPublishUpdate means the record is indexed and the status update
	// can be published.
	DecisionPublishUpdate

	// DecisionPublishDeleted means the record is gone and the deletion notice
	// can be published once the settle delay has elapsed.
	DecisionPublishDeleted
)

func (d Decision) String() string {
	switch d {
	case DecisionRetry:
		return "RETRY"
	case DecisionPublishUpdate:
		return "PUBLISH_UPDATE"
	case DecisionPublishDeleted:
		return "PUBLISH_DELETED"
	default:
		return "UNKNOWN"
	}
}

// Consistent reports whether the read model reflects the target status.
func (d Decision) Consistent() bool { return d != DecisionRetry }

// Decide compares record presence in the read model with the target status.
// Presence is the only observable proxy for deletion; every other field may
// lag and is ignored here.
//
//	present  deleted   decision
//	false    true      publish deleted (after settle delay)
//	true     false     publish update
//	false    false     retry
//	true     true      retry
func Decide(recordPresent bool, target Status) Decision {
	switch {
	case !recordPresent && target.IsDeletion():
		return DecisionPublishDeleted
	case recordPresent && !target.IsDeletion():
		return DecisionPublishUpdate
	default:
		return DecisionRetry
	}
}
