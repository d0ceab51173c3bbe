package invlists

import (
	"fmt"

	"github.com/imsearch/retrieval/pkg/hamming"
)

// Array is an in-memory, fully writable InvertedLists backend: the
// natural target for online inserts and for the training/build phase
// before a collection is flushed to an on-disk file.
type Array struct {
	nlist int
	ids   [][]uint64
	codes [][]hamming.Code
}

// NewArray allocates an empty Array with nlist posting lists.
func NewArray(nlist int) *Array {
	return &Array{
		nlist: nlist,
		ids:   make([][]uint64, nlist),
		codes: make([][]hamming.Code, nlist),
	}
}

func (a *Array) NList() int { return a.nlist }

func (a *Array) ListLen(i int) int { return len(a.ids[i]) }

func (a *Array) GetList(i int) ([]uint64, []hamming.Code, error) {
	if i < 0 || i >= a.nlist {
		return nil, nil, fmt.Errorf("invlists: list index %d out of range [0,%d)", i, a.nlist)
	}
	return a.ids[i], a.codes[i], nil
}

func (a *Array) AddEntry(i int, id uint64, code hamming.Code) error {
	if i < 0 || i >= a.nlist {
		return fmt.Errorf("invlists: list index %d out of range [0,%d)", i, a.nlist)
	}
	a.ids[i] = append(a.ids[i], id)
	a.codes[i] = append(a.codes[i], code)
	return nil
}

func (a *Array) AddEntries(i int, ids []uint64, codes []hamming.Code) error {
	if len(ids) != len(codes) {
		return fmt.Errorf("invlists: ids/codes length mismatch: %d vs %d", len(ids), len(codes))
	}
	for j, id := range ids {
		if err := a.AddEntry(i, id, codes[j]); err != nil {
			return err
		}
	}
	return nil
}
