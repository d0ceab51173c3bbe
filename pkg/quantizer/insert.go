package quantizer

import (
	"container/heap"

	"github.com/imsearch/retrieval/pkg/hamming"
)

// insert adds one centroid to the graph under the given id. Callers
// building a quantizer from a fixed centroid slice must pass the
// centroid's own index as id, so that the id a search returns can be
// used directly to address that centroid and its posting list.
func (idx *Index) insert(id uint64, code hamming.Code) error {
	level := idx.randomLevel()
	newN := newNode(id, code, level)

	idx.mu.Lock()
	if idx.entryPoint == nil {
		idx.nodes[id] = newN
		idx.entryPoint = newN
		idx.maxLayer = level
		idx.mu.Unlock()
		return nil
	}
	entryPoint := idx.entryPoint
	currentMaxLayer := idx.maxLayer
	idx.mu.Unlock()

	ep := entryPoint
	currentDist := idx.distanceToNode(code, ep)

	for lc := currentMaxLayer; lc > level; lc-- {
		changed := true
		for changed {
			changed = false
			for _, neighborID := range ep.GetNeighbors(lc) {
				nn := idx.getNode(neighborID)
				if nn == nil {
					continue
				}
				d := idx.distanceToNode(code, nn)
				if d < currentDist {
					currentDist = d
					ep = nn
					changed = true
				}
			}
		}
	}

	for lc := minInt(level, currentMaxLayer); lc >= 0; lc-- {
		candidates := idx.searchLayer(code, ep, idx.efConstruction, lc)

		m := idx.m
		if lc == 0 {
			m = idx.m0
		}
		neighbors := selectNeighbors(candidates, m)

		for _, nb := range neighbors {
			nbNode := idx.getNode(nb)
			if nbNode == nil {
				continue
			}
			newN.AddNeighbor(lc, nb)
			nbNode.AddNeighbor(lc, id)
			idx.pruneNeighbors(nbNode, lc)
		}

		if len(candidates) > 0 {
			if n := idx.getNode(candidates[0].id); n != nil {
				ep = n
			}
		}
	}

	idx.mu.Lock()
	idx.nodes[id] = newN
	if level > idx.maxLayer {
		idx.maxLayer = level
		idx.entryPoint = newN
	}
	idx.mu.Unlock()

	return nil
}

// searchLayer performs a greedy search for the ef nearest neighbors of
// code at the given layer, returning candidates closest-first.
func (idx *Index) searchLayer(code hamming.Code, entryPoint *node, ef int, layer int) []heapItem {
	visited := make(map[uint64]bool)
	candidates := &minHeap{}
	results := &maxHeap{}

	d := idx.distanceToNode(code, entryPoint)
	heap.Push(candidates, heapItem{id: entryPoint.id, distance: d})
	heap.Push(results, heapItem{id: entryPoint.id, distance: d})
	visited[entryPoint.id] = true

	for candidates.Len() > 0 {
		current := heap.Pop(candidates).(heapItem)
		if current.distance > results.Peek().distance {
			break
		}

		currentNode := idx.getNode(current.id)
		if currentNode == nil {
			continue
		}

		for _, neighborID := range currentNode.GetNeighbors(layer) {
			if visited[neighborID] {
				continue
			}
			visited[neighborID] = true

			nn := idx.getNode(neighborID)
			if nn == nil {
				continue
			}

			nd := idx.distanceToNode(code, nn)
			if nd < results.Peek().distance || results.Len() < ef {
				heap.Push(candidates, heapItem{id: neighborID, distance: nd})
				heap.Push(results, heapItem{id: neighborID, distance: nd})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]heapItem, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(heapItem)
	}
	return out
}

func selectNeighbors(candidates []heapItem, m int) []uint64 {
	n := len(candidates)
	if n > m {
		n = m
	}
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i] = candidates[i].id
	}
	return out
}

// pruneNeighbors trims n's neighbor list at layer down to the M
// closest once it grows past the cap.
func (idx *Index) pruneNeighbors(n *node, layer int) {
	m := idx.m
	if layer == 0 {
		m = idx.m0
	}

	neighbors := n.GetNeighbors(layer)
	if len(neighbors) <= m {
		return
	}

	type nd struct {
		id   uint64
		dist uint32
	}
	distances := make([]nd, 0, len(neighbors))
	for _, id := range neighbors {
		nn := idx.getNode(id)
		if nn == nil {
			continue
		}
		distances = append(distances, nd{id: id, dist: hamming.Distance(n.code[:], nn.code[:])})
	}

	selected := make([]uint64, 0, m)
	for len(selected) < m && len(distances) > 0 {
		minIdx := 0
		for i := 1; i < len(distances); i++ {
			if distances[i].dist < distances[minIdx].dist {
				minIdx = i
			}
		}
		selected = append(selected, distances[minIdx].id)
		distances[minIdx] = distances[len(distances)-1]
		distances = distances[:len(distances)-1]
	}

	n.SetNeighbors(layer, selected)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
