package hamming

import "container/heap"

// Neighbor is one entry of a Top-K scan result.
type Neighbor struct {
	Index int
	Dist  uint32
}

// maxArrayK is the largest k for which the fixed-array selector is
// used; above it the heap takes over. The array wins on cache locality
// and branch prediction for small k, the heap once the result set no
// longer fits a few cache lines.
const maxArrayK = 8

// KNNScan scans corpus linearly against query and returns at most k
// nearest neighbors by Hamming distance, unsorted. Ties are broken by
// smaller index. corpus holds one N-byte code per element; query must
// be N bytes.
func KNNScan(query []byte, corpus [][]byte, k int) []Neighbor {
	if k <= 0 || len(corpus) == 0 {
		return nil
	}
	if k <= maxArrayK {
		return knnScanArray(query, corpus, k)
	}
	return knnScanHeap(query, corpus, k)
}

// knnScanArray maintains a stack-sized monotone array of the k best
// results seen so far. Insertion is O(k) worst case but k is small.
func knnScanArray(query []byte, corpus [][]byte, k int) []Neighbor {
	var dist [maxArrayK]uint32
	var idx [maxArrayK]int
	for i := range dist[:k] {
		dist[i] = ^uint32(0)
	}

	n := 0
	for i, code := range corpus {
		d := Distance(query, code)
		if n == k && d >= dist[k-1] {
			continue
		}
		pos := n
		if pos > k-1 {
			pos = k - 1
		}
		for pos > 0 && dist[pos-1] > d {
			dist[pos] = dist[pos-1]
			idx[pos] = idx[pos-1]
			pos--
		}
		dist[pos] = d
		idx[pos] = i
		if n < k {
			n++
		}
	}

	result := make([]Neighbor, n)
	for i := 0; i < n; i++ {
		result[i] = Neighbor{Index: idx[i], Dist: dist[i]}
	}
	return result
}

type knnHeapItem struct {
	Neighbor
}

type knnMaxHeap []knnHeapItem

func (h knnMaxHeap) Len() int { return len(h) }
// Less keeps the worst candidate at the root: farthest first, and the
// larger index among equal distances, so evicting the root always
// prefers keeping the smaller index.
func (h knnMaxHeap) Less(i, j int) bool {
	if h[i].Dist != h[j].Dist {
		return h[i].Dist > h[j].Dist
	}
	return h[i].Index > h[j].Index
}
func (h knnMaxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *knnMaxHeap) Push(x interface{}) { *h = append(*h, x.(knnHeapItem)) }
func (h *knnMaxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// knnScanHeap maintains a bounded max-heap keyed by Reverse(dist),
// popping the current worst whenever a closer candidate arrives.
func knnScanHeap(query []byte, corpus [][]byte, k int) []Neighbor {
	h := make(knnMaxHeap, 0, k)
	for i, code := range corpus {
		d := Distance(query, code)
		if h.Len() < k {
			heap.Push(&h, knnHeapItem{Neighbor{Index: i, Dist: d}})
			continue
		}
		if d < h[0].Dist {
			heap.Pop(&h)
			heap.Push(&h, knnHeapItem{Neighbor{Index: i, Dist: d}})
		}
	}

	result := make([]Neighbor, len(h))
	for i, item := range h {
		result[i] = item.Neighbor
	}
	return result
}
