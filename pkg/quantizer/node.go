// Package quantizer implements an HNSW coarse quantizer over a fixed
// set of 256-bit centroids, used by the IVF index to pick which
// posting lists to probe at query time.
package quantizer

import (
	"sync"

	"github.com/imsearch/retrieval/pkg/hamming"
)

// node is one centroid in the HNSW graph.
type node struct {
	id    uint64
	code  hamming.Code
	level int

	// neighbors[layer] holds neighbor ids at that layer; layer 0 is
	// the base layer containing every node.
	neighbors [][]uint64

	mu sync.RWMutex
}

func newNode(id uint64, code hamming.Code, level int) *node {
	neighbors := make([][]uint64, level+1)
	for i := range neighbors {
		neighbors[i] = make([]uint64, 0)
	}
	return &node{id: id, code: code, level: level, neighbors: neighbors}
}

func (n *node) AddNeighbor(layer int, id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if layer < 0 || layer > n.level {
		return
	}
	for _, existing := range n.neighbors[layer] {
		if existing == id {
			return
		}
	}
	n.neighbors[layer] = append(n.neighbors[layer], id)
}

func (n *node) GetNeighbors(layer int) []uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if layer < 0 || layer > n.level {
		return nil
	}
	out := make([]uint64, len(n.neighbors[layer]))
	copy(out, n.neighbors[layer])
	return out
}

func (n *node) SetNeighbors(layer int, ids []uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if layer < 0 || layer > n.level {
		return
	}
	n.neighbors[layer] = append([]uint64(nil), ids...)
}
