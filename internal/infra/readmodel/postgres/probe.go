// Package postgres looks datasets up in the relational store that backs the
// search index.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/METASPACE2020/sm-graphql/internal/domain/datasets"
	"github.com/METASPACE2020/sm-graphql/internal/infra/storage"
)

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const lookupDatasetSQL = `
SELECT id, name, status, metadata, config, input_path, upload_dt
FROM dataset
WHERE id = $1`

var _ datasets.ReadModelProbe = (*Probe)(nil)

// Probe implements datasets.ReadModelProbe over the dataset table.
type Probe struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewProbe creates a Postgres-backed probe.
func NewProbe(pool *pgxpool.Pool, tracer trace.Tracer) *Probe {
	return &Probe{db: pool, tracer: tracer}
}

type datasetRow struct {
	ID        string
	Name      pgtype.Text
	Status    string
	Metadata  []byte
	Config    []byte
	InputPath pgtype.Text
	UploadDT  pgtype.Timestamp
}

// Lookup returns the dataset row as a record, or nil when no row exists.
func (p *Probe) Lookup(ctx context.Context, id string) (*datasets.Record, error) {
	dbAttrs := append(
		append([]attribute.KeyValue(nil), defaultDBAttributes...),
		attribute.String("dataset_id", id),
	)

	var record *datasets.Record
	err := storage.ExecuteAndTrace(ctx, p.tracer, "postgres.lookup_dataset", dbAttrs, func(ctx context.Context) error {
		var row datasetRow
		err := p.db.QueryRow(ctx, lookupDatasetSQL, id).Scan(
			&row.ID,
			&row.Name,
			&row.Status,
			&row.Metadata,
			&row.Config,
			&row.InputPath,
			&row.UploadDT,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to query dataset %s: %w", id, err)
		}

		fields, err := row.fields()
		if err != nil {
			return err
		}
		record = datasets.NewRecord(row.ID, fields)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (r datasetRow) fields() (map[string]any, error) {
	fields := map[string]any{"status": r.Status}

	if r.Name.Valid {
		fields["name"] = r.Name.String
	}
	if r.InputPath.Valid {
		fields["input_path"] = r.InputPath.String
	}
	if r.UploadDT.Valid {
		fields["upload_dt"] = r.UploadDT.Time.Format(time.RFC3339)
	}

	for key, raw := range map[string][]byte{"metadata": r.Metadata, "config": r.Config} {
		if len(raw) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to decode dataset %s %s: %w", r.ID, key, err)
		}
		fields[key] = v
	}

	return fields, nil
}
