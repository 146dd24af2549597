package propagation

import "fmt"

// Reasons a status message is discarded.
const (
	ReasonMalformed      = "malformed_json"
	ReasonMissingDataset = "missing_dataset_id"
	ReasonInvalidStatus  = "invalid_status"
)

// MessageError describes why a queue message could not become a status event.
type MessageError struct {
	Reason string
	Err    error
}

func (e *MessageError) Error() string {
	return fmt.Sprintf("discarding status message (%s): %v", e.Reason, e.Err)
}

func (e *MessageError) Unwrap() error { return e.Err }
