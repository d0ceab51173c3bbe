package invlists

import (
	"fmt"

	"github.com/imsearch/retrieval/pkg/hamming"
)

// VStack vertically stacks a set of backends with matching nlist into
// a single read-only view, used to build a merged on-disk file from
// several sources without copying them into memory up front.
type VStack struct {
	nlist int
	lists []InvertedLists
}

// NewVStack builds a VStack over the given backends, which must all
// report the same NList.
func NewVStack(lists []InvertedLists) (*VStack, error) {
	if len(lists) == 0 {
		return nil, fmt.Errorf("invlists: VStack requires at least one backend")
	}
	nlist := lists[0].NList()
	for _, l := range lists {
		if l.NList() != nlist {
			return nil, fmt.Errorf("invlists: VStack nlist mismatch: %d vs %d", l.NList(), nlist)
		}
	}
	return &VStack{nlist: nlist, lists: lists}, nil
}

func (v *VStack) NList() int { return v.nlist }

func (v *VStack) ListLen(i int) int {
	total := 0
	for _, l := range v.lists {
		total += l.ListLen(i)
	}
	return total
}

func (v *VStack) GetList(i int) ([]uint64, []hamming.Code, error) {
	var ids []uint64
	var codes []hamming.Code
	for _, l := range v.lists {
		subIDs, subCodes, err := l.GetList(i)
		if err != nil {
			return nil, nil, err
		}
		ids = append(ids, subIDs...)
		codes = append(codes, subCodes...)
	}
	return ids, codes, nil
}

func (v *VStack) AddEntry(i int, id uint64, code hamming.Code) error {
	return fmt.Errorf("invlists: VStack is read-only")
}

func (v *VStack) AddEntries(i int, ids []uint64, codes []hamming.Code) error {
	return fmt.Errorf("invlists: VStack is read-only")
}
