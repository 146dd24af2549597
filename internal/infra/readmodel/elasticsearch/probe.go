// Package elasticsearch looks datasets up in the search index that serves
// client queries.
package elasticsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/METASPACE2020/sm-graphql/internal/domain/datasets"
)

// DefaultIndex is the dataset index name.
const DefaultIndex = "dataset"

// Config contains settings for reaching the cluster.
type Config struct {
	Addresses []string
	Index     string
	Username  string
	Password  string
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

var _ datasets.ReadModelProbe = (*Probe)(nil)

// Probe implements datasets.ReadModelProbe with document GETs, which are
// realtime and see writes before the next index refresh.
type Probe struct {
	client *elasticsearch.Client
	index  string
	tracer trace.Tracer
}

// NewProbe creates a client for cfg.
func NewProbe(cfg Config, tracer trace.Tracer) (*Probe, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	index := cfg.Index
	if index == "" {
		index = DefaultIndex
	}

	return &Probe{client: client, index: index, tracer: tracer}, nil
}

type getResponse struct {
	ID     string         `json:"_id"`
	Found  bool           `json:"found"`
	Source map[string]any `json:"_source"`
}

// Lookup fetches the dataset document. A missing document yields nil.
func (p *Probe) Lookup(ctx context.Context, id string) (*datasets.Record, error) {
	ctx, span := p.tracer.Start(ctx, "elasticsearch.get_dataset",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "elasticsearch"),
			attribute.String("db.elasticsearch.index", p.index),
			attribute.String("dataset_id", id),
		))
	defer span.End()

	res, err := p.client.Get(p.index, id, p.client.Get.WithContext(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("getting dataset %s: %w", id, err)
	}
	defer res.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode))

	if res.StatusCode == http.StatusNotFound {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, res.Body)
		return nil, nil
	}
	if res.IsError() {
		err := fmt.Errorf("getting dataset %s: %s", id, res.String())
		span.RecordError(err)
		span.SetStatus(codes.Error, "error response")
		return nil, err
	}

	var doc getResponse
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decoding dataset %s: %w", id, err)
	}
	if !doc.Found {
		return nil, nil
	}

	recID := doc.ID
	if recID == "" {
		recID = id
	}
	return datasets.NewRecord(recID, doc.Source), nil
}
