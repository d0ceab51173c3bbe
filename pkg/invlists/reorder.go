package invlists

import "sort"

// Offsetter is implemented by backends that can report where a list
// lives in an underlying file, letting callers sequence IO instead of
// touching lists in arbitrary probe order.
type Offsetter interface {
	ListOffset(i int) uint64
}

func (o *OnDisk) ListOffset(i int) uint64 { return o.header.listOffset[i] }

// Probe identifies one list to visit on behalf of one query.
type Probe struct {
	QueryIndex int
	ListIndex  int
}

// ReorderLists takes, for each query, the list ids its quantizer probe
// returned and flattens them into a single plan sorted by each list's
// on-disk offset. Visiting lists in this order turns the random mmap
// accesses a naive per-query loop would produce into sequential ones,
// which matters far more than any ordering semantics for the result.
// Backends without a meaningful offset (e.g. an in-memory Array) sort
// by list index instead.
func ReorderLists(probes [][]int, backend InvertedLists) []Probe {
	offsetter, hasOffsets := backend.(Offsetter)

	var plan []Probe
	for qi, lists := range probes {
		for _, li := range lists {
			plan = append(plan, Probe{QueryIndex: qi, ListIndex: li})
		}
	}

	offsetOf := func(listIdx int) uint64 {
		if hasOffsets {
			return offsetter.ListOffset(listIdx)
		}
		return uint64(listIdx)
	}

	sort.SliceStable(plan, func(i, j int) bool {
		return offsetOf(plan[i].ListIndex) < offsetOf(plan[j].ListIndex)
	})
	return plan
}
