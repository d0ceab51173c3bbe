package scoring

import (
	"testing"

	"github.com/imsearch/retrieval/pkg/ivf"
	"github.com/imsearch/retrieval/pkg/metastore"
)

func TestWilsonLowerBoundMonotonicInMean(t *testing.T) {
	low := WilsonLowerBound([]float64{0.3, 0.3, 0.3, 0.3})
	high := WilsonLowerBound([]float64{0.9, 0.9, 0.9, 0.9})
	if !(high > low) {
		t.Fatalf("expected higher mean score to yield higher lower bound: low=%f high=%f", low, high)
	}
}

func TestWilsonLowerBoundMonotonicInN(t *testing.T) {
	few := WilsonLowerBound([]float64{0.9, 0.9})
	many := make([]float64, 50)
	for i := range many {
		many[i] = 0.9
	}
	manyScore := WilsonLowerBound(many)
	if !(manyScore > few) {
		t.Fatalf("expected larger sample at same mean to yield higher lower bound: few=%f many=%f", few, manyScore)
	}
}

func TestWilsonLowerBoundEmptyIsZero(t *testing.T) {
	if got := WilsonLowerBound(nil); got != 0 {
		t.Fatalf("expected 0 for empty sample, got %f", got)
	}
}

func TestWilsonLowerBoundPenalizesVariance(t *testing.T) {
	stable := WilsonLowerBound([]float64{0.7, 0.7, 0.7, 0.7})
	noisy := WilsonLowerBound([]float64{1.0, 0.4, 1.0, 0.4})
	if !(stable > noisy) {
		t.Fatalf("expected stable scores to beat same-mean noisy scores: stable=%f noisy=%f", stable, noisy)
	}
}

func TestRankDiscardsBeyondMaxDistanceAndSorts(t *testing.T) {
	store := metastore.NewInMemory()
	imgA, _, _ := store.InsertImage([]byte("a"), "/a.jpg", 10) // descriptors 0..9
	imgB, _, _ := store.InsertImage([]byte("b"), "/b.jpg", 10) // descriptors 10..19

	neighbors := []ivf.Neighbor{
		{ID: 0, Dist: 0},  // image A, perfect hit
		{ID: 1, Dist: 2},  // image A
		{ID: 10, Dist: 40}, // image B, weaker hit
		{ID: 11, Dist: 200}, // image B, beyond max distance, discarded
	}

	results, err := Rank(neighbors, store, 64)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 ranked images, got %d", len(results))
	}
	if results[0].ImageID != imgA {
		t.Fatalf("expected image A to rank first, got image %d", results[0].ImageID)
	}
	if results[1].ImageID != imgB {
		t.Fatalf("expected image B second, got image %d", results[1].ImageID)
	}
	if results[1].Hits != 1 {
		t.Fatalf("expected image B to retain exactly 1 hit after distance filtering, got %d", results[1].Hits)
	}
}
