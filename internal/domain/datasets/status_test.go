package datasets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"QUEUED", "STARTED", "FINISHED", "FAILED", "DELETED"} {
		s, err := ParseStatus(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, s.String())
	}

	for _, raw := range []string{"", "BOGUS", "finished", "Deleted", " QUEUED"} {
		_, err := ParseStatus(raw)
		assert.ErrorIs(t, err, ErrInvalidStatus, "status %q", raw)
	}
}

func TestNewStatusEvent(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	evt, err := NewStatusEvent("ds-1", "FINISHED", now)
	require.NoError(t, err)
	assert.Equal(t, StatusEvent{DatasetID: "ds-1", Status: StatusFinished, ReceivedAt: now}, evt)

	_, err = NewStatusEvent("", "FINISHED", now)
	assert.ErrorIs(t, err, ErrEmptyDatasetID)

	_, err = NewStatusEvent("ds-1", "BOGUS", now)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestRecordWithStatus(t *testing.T) {
	t.Parallel()

	fields := map[string]any{"name": "brain", "status": "STARTED"}
	rec := NewRecord("ds-1", fields)
	fields["name"] = "mutated"

	out := rec.WithStatus(StatusFinished)
	assert.Equal(t, map[string]any{"id": "ds-1", "name": "brain", "status": "FINISHED"}, out)
	assert.Equal(t, "STARTED", rec.Fields["status"], "receiver must stay untouched")
}
