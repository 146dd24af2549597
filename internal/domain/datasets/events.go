package datasets

import (
	"time"

	"github.com/METASPACE2020/sm-graphql/internal/domain/events"
)

// Event types published to live subscribers.
const (
	EventTypeDatasetStatusUpdated events.EventType = "datasetStatusUpdated"
	EventTypeDatasetDeleted       events.EventType = "datasetDeleted"
)

// EventTypes lists every topic a subscriber may attach to.
func EventTypes() []events.EventType {
	return []events.EventType{EventTypeDatasetStatusUpdated, EventTypeDatasetDeleted}
}

// DatasetStatusUpdatedEvent carries the indexed record merged with the status
// it was confirmed for.
type DatasetStatusUpdatedEvent struct {
	occurredAt time.Time
	Dataset    map[string]any `json:"dataset"`
}

// NewDatasetStatusUpdatedEvent merges status into record.
func NewDatasetStatusUpdatedEvent(record *Record, status Status) DatasetStatusUpdatedEvent {
	return DatasetStatusUpdatedEvent{
		occurredAt: time.Now(),
		Dataset:    record.WithStatus(status),
	}
}

func (e DatasetStatusUpdatedEvent) EventType() events.EventType { return EventTypeDatasetStatusUpdated }
func (e DatasetStatusUpdatedEvent) OccurredAt() time.Time       { return e.occurredAt }

// DatasetDeletedEvent announces that a dataset disappeared from the read model.
type DatasetDeletedEvent struct {
	occurredAt time.Time
	DatasetID  string `json:"datasetId"`
}

// NewDatasetDeletedEvent creates a deletion notice for datasetID.
func NewDatasetDeletedEvent(datasetID string) DatasetDeletedEvent {
	return DatasetDeletedEvent{occurredAt: time.Now(), DatasetID: datasetID}
}

func (e DatasetDeletedEvent) EventType() events.EventType { return EventTypeDatasetDeleted }
func (e DatasetDeletedEvent) OccurredAt() time.Time       { return e.occurredAt }
