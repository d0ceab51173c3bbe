package ivf

import (
	"container/heap"
	"sync"
)

// Neighbor is one hit from an IVF search: the query it belongs to, the
// matched descriptor id, and its Hamming distance.
type Neighbor struct {
	QueryIndex int
	ID         uint64
	Dist       uint32
}

type topKEntry struct {
	id   uint64
	dist uint32
}

// topKHeap is a bounded max-heap keyed by distance: the root is always
// the current worst of the k best seen so far, so a new candidate only
// needs comparing against the root to decide whether it belongs.
type topKHeap []topKEntry

func (h topKHeap) Len() int            { return len(h) }
func (h topKHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h topKHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *topKHeap) Push(x interface{}) { *h = append(*h, x.(topKEntry)) }
func (h *topKHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// topK accumulates the k closest hits for a single query under its own
// lock, so concurrent compute workers touching different queries never
// contend with each other.
type topK struct {
	mu   sync.Mutex
	k    int
	heap topKHeap
}

func newTopK(k int) *topK {
	return &topK{k: k}
}

func (t *topK) add(id uint64, dist uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.heap.Len() < t.k {
		heap.Push(&t.heap, topKEntry{id: id, dist: dist})
		return
	}
	if t.heap.Len() > 0 && dist < t.heap[0].dist {
		heap.Pop(&t.heap)
		heap.Push(&t.heap, topKEntry{id: id, dist: dist})
	}
}

func (t *topK) entries() []topKEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]topKEntry, len(t.heap))
	copy(out, t.heap)
	return out
}
