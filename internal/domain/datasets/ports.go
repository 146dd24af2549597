// Package datasets holds the domain model for dataset status propagation:
// the recognized statuses, the read model's view of a dataset and the rule
// deciding when that view is consistent with a status change.
package datasets

import "context"

// ReadModelProbe looks datasets up in the eventually-consistent read model.
// Implementations must be idempotent and safe for concurrent use.
type ReadModelProbe interface {
	// Lookup returns the current record for id, or nil when the read model
	// has no such dataset (not indexed yet, or deleted).
	Lookup(ctx context.Context, id string) (*Record, error)
}
