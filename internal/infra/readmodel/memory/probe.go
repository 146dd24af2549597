// Package memory is an in-process read model for local runs and tests.
package memory

import (
	"context"
	"sync"

	"github.com/METASPACE2020/sm-graphql/internal/domain/datasets"
)

// Response is one scripted lookup result.
type Response struct {
	Record *datasets.Record
	Err    error
}

var _ datasets.ReadModelProbe = (*Probe)(nil)

// Probe serves lookups from an in-memory map. Scripted responses for an id
// take precedence and are consumed in order, which lets callers simulate an
// index that lags behind the event source.
type Probe struct {
	mu      sync.Mutex
	records map[string]*datasets.Record
	scripts map[string][]Response
	lookups map[string]int
}

// NewProbe returns an empty probe.
func NewProbe() *Probe {
	return &Probe{
		records: make(map[string]*datasets.Record),
		scripts: make(map[string][]Response),
		lookups: make(map[string]int),
	}
}

// Put stores rec, replacing any previous record with the same id.
func (p *Probe) Put(rec *datasets.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records[rec.ID] = rec
}

// Delete removes the record for id.
func (p *Probe) Delete(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.records, id)
}

// Script queues responses for id that are returned before the stored record.
func (p *Probe) Script(id string, responses ...Response) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[id] = append(p.scripts[id], responses...)
}

// Lookups returns how many times id was looked up.
func (p *Probe) Lookups(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lookups[id]
}

func (p *Probe) Lookup(ctx context.Context, id string) (*datasets.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.lookups[id]++

	if script := p.scripts[id]; len(script) > 0 {
		next := script[0]
		p.scripts[id] = script[1:]
		return next.Record, next.Err
	}

	rec, ok := p.records[id]
	if !ok {
		return nil, nil
	}
	return datasets.NewRecord(rec.ID, rec.Fields), nil
}
