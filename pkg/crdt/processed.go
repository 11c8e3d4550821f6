package crdt

import (
	"sync"

	"github.com/meshkv/meshkv/pkg/cid"
)

// processedSet is the bounded dedup set of CIDs that have already been
// merged. Entries evict FIFO past the bound, except CIDs whose jobs are
// still in flight: those stay pinned until the job finishes. The DAG
// store's own HasBlock backs this set up, so an evicted entry costs at
// most one redundant lookup.
type processedSet struct {
	mu       sync.Mutex
	done     map[cid.CID]struct{}
	order    []cid.CID
	inflight map[cid.CID]struct{}
	bound    int
}

func newProcessedSet(bound int) *processedSet {
	return &processedSet{
		done:     make(map[cid.CID]struct{}),
		inflight: make(map[cid.CID]struct{}),
		bound:    bound,
	}
}

// contains reports whether c has been processed.
func (p *processedSet) contains(c cid.CID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.done[c]
	return ok
}

// tryPin claims c for an in-flight job. It fails when c is already
// processed or claimed.
func (p *processedSet) tryPin(c cid.CID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.done[c]; ok {
		return false
	}
	if _, ok := p.inflight[c]; ok {
		return false
	}
	p.inflight[c] = struct{}{}
	return true
}

// unpin releases an in-flight claim.
func (p *processedSet) unpin(c cid.CID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, c)
}

// mark records c as processed and evicts the oldest unpinned entries
// past the bound.
func (p *processedSet) mark(c cid.CID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.done[c]; ok {
		return
	}
	p.done[c] = struct{}{}
	p.order = append(p.order, c)

	for len(p.done) > p.bound {
		evicted := false
		for i, old := range p.order {
			if _, pinned := p.inflight[old]; pinned {
				continue
			}
			delete(p.done, old)
			p.order = append(p.order[:i], p.order[i+1:]...)
			evicted = true
			break
		}
		if !evicted {
			// Everything is pinned; let the set exceed its bound
			// rather than evict an in-flight CID.
			break
		}
	}
}
