package datasets

import (
	"errors"
	"fmt"
)

// Status is the processing state of a dataset as reported by the processing
// pipeline. Values are matched exactly and case-sensitively.
type Status string

const (
	// StatusQueued indicates the dataset is waiting for a worker.
	StatusQueued Status = "QUEUED"

	// StatusStarted indicates a worker picked the dataset up.
	StatusStarted Status = "STARTED"

	// StatusFinished indicates processing completed successfully.
	StatusFinished Status = "FINISHED"

	// StatusFailed indicates processing ended with an error.
	StatusFailed Status = "FAILED"

	// StatusDeleted indicates the dataset was removed.
	StatusDeleted Status = "DELETED"
)

// ErrInvalidStatus is returned when a status string is not one of the
// recognized values.
var ErrInvalidStatus = errors.New("invalid dataset status")

func (s Status) String() string { return string(s) }

// Valid reports whether s is one of the recognized statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusStarted, StatusFinished, StatusFailed, StatusDeleted:
		return true
	default:
		return false
	}
}

// IsDeletion reports whether the status signals removal of the dataset.
func (s Status) IsDeletion() bool { return s == StatusDeleted }

// ParseStatus converts raw into a Status, rejecting anything unrecognized.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}
