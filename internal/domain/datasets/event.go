package datasets

import (
	"errors"
	"maps"
	"time"
)

// ErrEmptyDatasetID is returned when an event does not name a dataset.
var ErrEmptyDatasetID = errors.New("dataset id is required")

// StatusEvent announces that a dataset transitioned to a new status. Several
// events for the same dataset may be in flight at once; there is no dedup key.
type StatusEvent struct {
	DatasetID  string
	Status     Status
	ReceivedAt time.Time
}

// NewStatusEvent validates and constructs a StatusEvent.
func NewStatusEvent(datasetID string, rawStatus string, receivedAt time.Time) (StatusEvent, error) {
	if datasetID == "" {
		return StatusEvent{}, ErrEmptyDatasetID
	}

	status, err := ParseStatus(rawStatus)
	if err != nil {
		return StatusEvent{}, err
	}

	return StatusEvent{DatasetID: datasetID, Status: status, ReceivedAt: receivedAt}, nil
}

// Record is the read model's current view of a dataset. Fields other than the
// id may lag the event source and are passed through untouched.
type Record struct {
	ID     string
	Fields map[string]any
}

// NewRecord builds a Record, copying fields so callers can't mutate it later.
func NewRecord(id string, fields map[string]any) *Record {
	return &Record{ID: id, Fields: maps.Clone(fields)}
}

// WithStatus returns the record flattened into a map with "id" and "status"
// set, leaving the receiver untouched.
func (r *Record) WithStatus(status Status) map[string]any {
	out := make(map[string]any, len(r.Fields)+2)
	maps.Copy(out, r.Fields)
	out["id"] = r.ID
	out["status"] = string(status)
	return out
}
