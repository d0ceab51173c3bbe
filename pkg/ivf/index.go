// Package ivf composes a coarse quantizer with an inverted-lists
// backend into the searchable index: assign-and-append on the write
// path, probe-and-scan on the read path.
package ivf

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/imsearch/retrieval/pkg/invlists"
	"github.com/imsearch/retrieval/pkg/quantizer"
)

// Index is an IVF index: a coarse quantizer over centroids paired with
// an inverted-lists backend holding one posting list per centroid.
type Index struct {
	mu    sync.RWMutex
	quant *quantizer.Index
	lists invlists.InvertedLists
}

// New composes a quantizer and an inverted-lists backend. Their
// centroid counts must match.
func New(quant *quantizer.Index, lists invlists.InvertedLists) (*Index, error) {
	if quant.NList() != lists.NList() {
		return nil, fmt.Errorf("ivf: invariant violated, quantizer nlist %d does not match inverted-lists nlist %d", quant.NList(), lists.NList())
	}
	return &Index{quant: quant, lists: lists}, nil
}

// NList returns the number of posting lists.
func (idx *Index) NList() int { return idx.lists.NList() }

// Imbalance returns the clustering imbalance factor over the current
// posting-list sizes; values above ~3 signal the quantizer should be
// retrained.
func (idx *Index) Imbalance() float64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return invlists.Imbalance(idx.lists)
}

func numWorkers() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}

// SearchResult is the outcome of a query batch plus the per-stage
// timings used to diagnose where time is spent.
type SearchResult struct {
	Neighbors     []Neighbor
	QuantizerTime time.Duration
	IOTime        time.Duration
	ComputeTime   time.Duration
}
