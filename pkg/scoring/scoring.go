// Package scoring aggregates flat IVF neighbor lists into ranked
// per-image results using a Wilson score lower bound, which is far
// more robust to small sample sizes and high per-hit variance than a
// raw hit count or mean score would be.
package scoring

import (
	"math"
	"sort"

	"github.com/imsearch/retrieval/pkg/ivf"
	"github.com/imsearch/retrieval/pkg/metastore"
)

// wilsonZ is the z-score for a 98% confidence interval.
const wilsonZ = 2.326

// ImageScore is one ranked result: an image id and its Wilson lower
// bound score, scaled by 100 to keep results human-readable.
type ImageScore struct {
	ImageID uint64
	Score   float64
	Hits    int
}

// WilsonLowerBound computes the lower bound of the Wilson score
// interval at 98% confidence over a sample of per-hit scores in
// [0, 1]. mean and var are the sample mean and (biased) variance of
// scores; n is the sample size.
func WilsonLowerBound(scores []float64) float64 {
	n := float64(len(scores))
	if n == 0 {
		return 0
	}

	var mean float64
	for _, s := range scores {
		mean += s
	}
	mean /= n

	var variance float64
	for _, s := range scores {
		d := mean - s
		variance += d * d
	}
	variance /= n

	z2 := wilsonZ * wilsonZ
	return (mean + z2/(2*n) - (wilsonZ/(2*n))*math.Sqrt(4*n*variance+z2)) / (1 + z2/n)
}

// Rank groups a flat, possibly duplicate-containing neighbor list by
// owning image id via store's cumulative descriptor count, discards
// neighbors farther than maxDistance, and ranks the remaining images
// by 100 * WilsonLowerBound(hit scores) descending.
func Rank(neighbors []ivf.Neighbor, store metastore.Store, maxDistance uint32) ([]ImageScore, error) {
	byImage := make(map[uint64][]float64)
	order := make([]uint64, 0)

	for _, n := range neighbors {
		if n.Dist > maxDistance {
			continue
		}
		imageID, err := store.ImageIDForDescriptorID(n.ID)
		if err != nil {
			return nil, err
		}
		if _, seen := byImage[imageID]; !seen {
			order = append(order, imageID)
		}
		score := 1 - float64(n.Dist)/256
		byImage[imageID] = append(byImage[imageID], score)
	}

	results := make([]ImageScore, 0, len(order))
	for _, imageID := range order {
		scores := byImage[imageID]
		results = append(results, ImageScore{
			ImageID: imageID,
			Score:   100 * WilsonLowerBound(scores),
			Hits:    len(scores),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}
