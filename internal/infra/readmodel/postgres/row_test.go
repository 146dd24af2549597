package postgres

import (
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasetRowFields(t *testing.T) {
	t.Parallel()

	row := datasetRow{
		ID:       "ds-1",
		Name:     pgtype.Text{String: "kidney", Valid: true},
		Status:   "STARTED",
		Metadata: []byte(`{"Sample_Information": {"Organism": "Mus musculus"}}`),
	}

	fields, err := row.fields()
	require.NoError(t, err)
	assert.Equal(t, "kidney", fields["name"])
	assert.Equal(t, "STARTED", fields["status"])
	assert.NotContains(t, fields, "config")
	assert.NotContains(t, fields, "input_path")
	assert.Equal(t, map[string]any{"Organism": "Mus musculus"},
		fields["metadata"].(map[string]any)["Sample_Information"])

	row.Config = []byte(`{`)
	_, err = row.fields()
	assert.Error(t, err)
}
