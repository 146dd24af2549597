package propagation

import "sync"

// generations tracks, per dataset, the most recent event accepted by the gate.
// A chain whose generation no longer matches has been superseded and must not
// publish.
type generations struct {
	mu      sync.Mutex
	seq     uint64
	current map[string]uint64
}

func newGenerations() *generations {
	return &generations{current: make(map[string]uint64)}
}

// advance records a new event for datasetID and returns its generation.
// Generations are unique across datasets and never reused.
func (g *generations) advance(datasetID string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	g.current[datasetID] = g.seq
	return g.seq
}

// isCurrent reports whether gen is still the latest event for datasetID.
// A missing entry means a newer chain already finished, so gen is stale.
func (g *generations) isCurrent(datasetID string, gen uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.current[datasetID] == gen
}

// release forgets datasetID if gen is still its latest event.
func (g *generations) release(datasetID string, gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.current[datasetID] == gen {
		delete(g.current, datasetID)
	}
}

// len returns the number of datasets with a live chain.
func (g *generations) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.current)
}
