package ivf

import (
	"fmt"

	"github.com/imsearch/retrieval/pkg/hamming"
)

func xorFold(code, centroid hamming.Code) hamming.Code {
	var out hamming.Code
	for i := range out {
		out[i] = code[i] ^ centroid[i]
	}
	return out
}

// Add assigns each code to its nearest centroid, XOR-folds it against
// that centroid to concentrate entropy near zero for storage, and
// appends the (id, folded code) pair to the centroid's posting list.
// codes and ids must be the same length.
func (idx *Index) Add(codes []hamming.Code, ids []uint64) error {
	if len(codes) != len(ids) {
		return fmt.Errorf("ivf: codes/ids length mismatch: %d vs %d", len(codes), len(ids))
	}
	if len(codes) == 0 {
		return nil
	}

	assignments, err := idx.quant.Search(codes, 1)
	if err != nil {
		return fmt.Errorf("ivf: assign codes to centroids: %w", err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	centroids := idx.quant.Centroids()
	for i, code := range codes {
		if len(assignments[i]) == 0 {
			panic("ivf: invariant violated, quantizer returned no assignment for a code")
		}
		listIdx := int(assignments[i][0])
		folded := xorFold(code, centroids[listIdx])
		if err := idx.lists.AddEntry(listIdx, ids[i], folded); err != nil {
			return fmt.Errorf("ivf: append to list %d: %w", listIdx, err)
		}
	}
	return nil
}
