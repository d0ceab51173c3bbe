// Package invlists implements the inverted-lists storage backends used
// by the IVF index: an in-memory writable Array, a read-only VStack
// union used for merging, and a zstd-compressed mmap-backed on-disk
// format.
package invlists

import "github.com/imsearch/retrieval/pkg/hamming"

// InvertedLists is the common read/write surface every backend
// implements: nlist lists of (id, code) pairs keyed by centroid
// number. Write operations are optional — read-only backends return an
// error from AddEntry/AddEntries.
type InvertedLists interface {
	// NList returns the number of posting lists.
	NList() int

	// ListLen returns the number of entries stored in list i.
	ListLen(i int) int

	// GetList returns the ids and codes stored in list i. Callers must
	// not mutate the returned slices.
	GetList(i int) (ids []uint64, codes []hamming.Code, err error)

	// AddEntry appends a single (id, code) pair to list i.
	AddEntry(i int, id uint64, code hamming.Code) error

	// AddEntries appends multiple (id, code) pairs to list i.
	AddEntries(i int, ids []uint64, codes []hamming.Code) error
}

// Imbalance computes the clustering imbalance factor over list sizes:
// nlist * sum(len_i^2) / sum(len_i)^2. 1.0 is perfectly balanced.
func Imbalance(il InvertedLists) float64 {
	n := il.NList()
	hist := make([]int, n)
	for i := 0; i < n; i++ {
		hist[i] = il.ListLen(i)
	}
	var total, sumSquares float64
	for _, h := range hist {
		f := float64(h)
		total += f
		sumSquares += f * f
	}
	if total == 0 {
		return 0
	}
	return sumSquares * float64(n) / (total * total)
}
