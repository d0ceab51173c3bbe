// Package kmodes trains binary k-modes centroids (mode = bitwise
// majority vote) over 256-bit codes, with a hierarchical two-level
// scheme for large cluster counts.
package kmodes

import (
	"fmt"
	"math/rand"
	"runtime"
	"sync"

	"github.com/imsearch/retrieval/pkg/hamming"
)

// State is the result of a k-modes training run.
type State struct {
	DistSum     uint64
	Centroids   []hamming.Code
	Frequencies []int
}

// ImbalanceFactor computes nc * sum(n_i^2) / sum(n_i)^2 over cluster
// sizes; 1.0 is perfectly balanced.
func ImbalanceFactor(frequencies []int) float64 {
	var total, sumSquares float64
	for _, n := range frequencies {
		f := float64(n)
		total += f
		sumSquares += f * f
	}
	if total == 0 {
		return 0
	}
	return sumSquares * float64(len(frequencies)) / (total * total)
}

// Binary trains k centroids on data using binary k-modes: assign each
// code to its nearest centroid by Hamming distance, then recompute
// each centroid as the bitwise majority of its assigned members.
// Iterates until the total assignment distance stops decreasing or
// maxIter is reached.
func Binary(data []hamming.Code, k int, maxIter int) State {
	if len(data) == 0 || k == 0 {
		return State{}
	}

	r := rand.New(rand.NewSource(rand.Int63()))
	centroids := chooseDistinct(data, k, r)

	var (
		assignments []int
		distance    = ^uint64(0)
		frequencies = make([]int, k)
	)

	for iter := 0; iter < maxIter; iter++ {
		newAssignments, newDistance := updateAssignments(data, centroids)
		if newDistance >= distance {
			break
		}
		assignments = newAssignments
		distance = newDistance

		centroids, frequencies = updateCentroids(data, assignments, k)
	}

	return State{DistSum: distance, Centroids: centroids, Frequencies: frequencies}
}

// TwoLevel trains nc centroids via a hierarchical two-level scheme,
// required when nc is large: it first clusters a prefix of the data
// into sqrt(nc) first-level centroids, buckets every point by its
// nearest first-level centroid, then trains a proportional number of
// second-level centroids independently within each bucket.
//
// Requires len(data) >= 30*nc; returns an error otherwise so callers
// abort training instead of fitting nc centroids to too little data.
func TwoLevel(data []hamming.Code, nc int, maxIter int) (State, error) {
	n := len(data)
	if n < 30*nc {
		return State{}, fmt.Errorf("kmodes: not enough training data: need >= %d codes for nc=%d, got %d", 30*nc, nc, n)
	}

	nc1 := isqrt(nc)
	if nc1 == 0 {
		nc1 = 1
	}

	n1 := nc1 * 1024
	if n1 > n {
		n1 = n
	}
	level1 := Binary(data[:n1], nc1, maxIter)

	assignments, _ := updateAssignments(data, level1.Centroids)
	buckets := make([][]hamming.Code, nc1)
	for i, a := range assignments {
		buckets[a] = append(buckets[a], data[i])
	}

	bucketSizes := make([]int, nc1)
	for i, b := range buckets {
		bucketSizes[i] = len(b)
	}

	nc2 := proportionalAllocation(bucketSizes, nc)

	final := State{
		Centroids:   make([]hamming.Code, 0, nc),
		Frequencies: make([]int, 0, nc),
	}
	for i := 0; i < nc1; i++ {
		if nc2[i] == 0 {
			continue
		}
		sub := Binary(buckets[i], nc2[i], maxIter)
		final.DistSum += sub.DistSum
		final.Centroids = append(final.Centroids, sub.Centroids...)
		final.Frequencies = append(final.Frequencies, sub.Frequencies...)
	}

	if len(final.Centroids) != nc {
		return State{}, fmt.Errorf("kmodes: invariant violated, expected %d centroids, got %d", nc, len(final.Centroids))
	}

	return final, nil
}

// proportionalAllocation derives per-bucket second-level cluster
// counts from bucket sizes so that the counts sum to exactly nc: it
// cumulative-sums the sizes, scales by nc/total, truncates to an
// integer, and takes adjacent differences. This avoids per-step
// rounding drift that an independent per-bucket rounding would cause.
func proportionalAllocation(bucketSizes []int, nc int) []int {
	total := 0
	for _, s := range bucketSizes {
		total += s
	}

	cum := make([]int, len(bucketSizes))
	running := 0
	for i, s := range bucketSizes {
		running += s
		cum[i] = running
	}

	scaled := make([]int, len(cum))
	for i, c := range cum {
		scaled[i] = c * nc / total
	}

	nc2 := make([]int, len(scaled))
	nc2[0] = scaled[0]
	for i := 1; i < len(scaled); i++ {
		nc2[i] = scaled[i] - scaled[i-1]
	}
	return nc2
}

func chooseDistinct(data []hamming.Code, k int, r *rand.Rand) []hamming.Code {
	idxs := r.Perm(len(data))
	if k > len(idxs) {
		k = len(idxs)
	}
	out := make([]hamming.Code, k)
	for i := 0; i < k; i++ {
		out[i] = data[idxs[i]]
	}
	return out
}

// updateAssignments assigns each code to its nearest centroid in
// parallel and returns the assignment vector plus the total distance.
func updateAssignments(data []hamming.Code, centroids []hamming.Code) ([]int, uint64) {
	assignments := make([]int, len(data))
	distances := make([]uint32, len(data))

	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	if workers > len(data) {
		workers = len(data)
	}
	if workers == 0 {
		return assignments, 0
	}

	chunk := (len(data) + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > len(data) {
			end = len(data)
		}
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				best := 0
				bestDist := uint32(^uint32(0))
				for j, c := range centroids {
					d := hamming.Distance(data[i][:], c[:])
					if d < bestDist {
						bestDist = d
						best = j
					}
				}
				assignments[i] = best
				distances[i] = bestDist
			}
		}(start, end)
	}
	wg.Wait()

	var total uint64
	for _, d := range distances {
		total += uint64(d)
	}
	return assignments, total
}

// updateCentroids recomputes each cluster's centroid as the bitwise
// majority vote of its assigned members; empty clusters keep the
// all-zero code.
func updateCentroids(data []hamming.Code, assignments []int, k int) ([]hamming.Code, []int) {
	centroids := make([]hamming.Code, k)
	frequencies := make([]int, k)

	var wg sync.WaitGroup
	for cluster := 0; cluster < k; cluster++ {
		wg.Add(1)
		go func(cluster int) {
			defer wg.Done()
			var bitCounts [hamming.Size][8]int
			n := 0
			for i, a := range assignments {
				if a != cluster {
					continue
				}
				n++
				code := data[i]
				for byteIdx := 0; byteIdx < hamming.Size; byteIdx++ {
					b := code[byteIdx]
					for bit := 0; bit < 8; bit++ {
						if (b>>uint(bit))&1 == 1 {
							bitCounts[byteIdx][bit]++
						}
					}
				}
			}
			frequencies[cluster] = n
			if n == 0 {
				return
			}
			half := n / 2
			var out hamming.Code
			for byteIdx := 0; byteIdx < hamming.Size; byteIdx++ {
				var b byte
				for bit := 0; bit < 8; bit++ {
					if bitCounts[byteIdx][bit] > half {
						b |= 1 << uint(bit)
					}
				}
				out[byteIdx] = b
			}
			centroids[cluster] = out
		}(cluster)
	}
	wg.Wait()

	return centroids, frequencies
}

func isqrt(n int) int {
	if n <= 0 {
		return 0
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}
