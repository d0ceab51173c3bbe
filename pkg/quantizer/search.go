package quantizer

import (
	"fmt"
	"sync"

	"github.com/imsearch/retrieval/pkg/hamming"
)

// Search returns, for each query, the ids of its k nearest centroids
// under Hamming distance. Parallelism is over queries.
func (idx *Index) Search(queries []hamming.Code, k int) ([][]uint64, error) {
	idx.mu.RLock()
	entryPoint := idx.entryPoint
	maxLayer := idx.maxLayer
	idx.mu.RUnlock()

	if entryPoint == nil {
		return nil, fmt.Errorf("quantizer: index is empty")
	}

	results := make([][]uint64, len(queries))
	var wg sync.WaitGroup
	sem := make(chan struct{}, numWorkers())
	for i := range queries {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			ids := idx.searchOne(queries[i], k, entryPoint, maxLayer)
			if len(ids) == 0 {
				panic("quantizer: invariant violated, search returned no centroid for a non-empty index")
			}
			results[i] = ids
		}(i)
	}
	wg.Wait()

	return results, nil
}

func (idx *Index) searchOne(query hamming.Code, k int, entryPoint *node, maxLayer int) []uint64 {
	ef := idx.efSearch
	if ef < k {
		ef = k
	}

	ep := entryPoint
	currentDist := idx.distanceToNode(query, ep)

	for lc := maxLayer; lc > 0; lc-- {
		changed := true
		for changed {
			changed = false
			for _, neighborID := range ep.GetNeighbors(lc) {
				nn := idx.getNode(neighborID)
				if nn == nil {
					continue
				}
				d := idx.distanceToNode(query, nn)
				if d < currentDist {
					currentDist = d
					ep = nn
					changed = true
				}
			}
		}
	}

	candidates := idx.searchLayer(query, ep, ef, 0)

	n := k
	if n > len(candidates) {
		n = len(candidates)
	}
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i] = candidates[i].id
	}
	return out
}
