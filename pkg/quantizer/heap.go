package quantizer

// heapItem is a candidate during a layer search, keyed by distance.
type heapItem struct {
	id       uint64
	distance uint32
}

// minHeap keeps the smallest distance at the top; used for the
// candidate frontier during greedy layer search.
type minHeap []heapItem

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].distance < h[j].distance }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) {
	*h = append(*h, x.(heapItem))
}
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
func (h *minHeap) Peek() heapItem {
	if len(*h) == 0 {
		return heapItem{distance: ^uint32(0)}
	}
	return (*h)[0]
}

// maxHeap keeps the largest distance at the top, used to cap the
// result set to the ef closest candidates.
type maxHeap []heapItem

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i].distance > h[j].distance }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) {
	*h = append(*h, x.(heapItem))
}
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
func (h *maxHeap) Peek() heapItem {
	if len(*h) == 0 {
		return heapItem{distance: ^uint32(0)}
	}
	return (*h)[0]
}
