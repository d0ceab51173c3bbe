package ivf

import (
	"fmt"
	"sync"
	"time"

	"github.com/imsearch/retrieval/pkg/hamming"
	"github.com/imsearch/retrieval/pkg/invlists"
)

// fetchedList is one posting list fetched by the IO stage, ready for
// the compute stage to scan against a set of queries.
type fetchedList struct {
	probe invlists.Probe
	ids   []uint64
	codes []hamming.Code
}

// Search quantizes each query to its nprobe nearest centroids, builds
// an offset-ordered probe plan, then fetches and scans posting lists
// through a two-stage pipeline: one IO stage walking the plan in
// sequential-offset order, and a worker pool of compute stages scoring
// each fetched list against the query that requested it. Results are
// flattened into a single unordered, possibly duplicate-containing
// slice — the caller's scorer aggregates by image id and does not
// care about either property.
func (idx *Index) Search(queries []hamming.Code, k int, nprobe int) (SearchResult, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(queries) == 0 {
		return SearchResult{}, nil
	}

	t0 := time.Now()
	probeLists, err := idx.quant.Search(queries, nprobe)
	if err != nil {
		return SearchResult{}, fmt.Errorf("ivf: quantize queries: %w", err)
	}
	quantizerTime := time.Since(t0)

	probesInt := make([][]int, len(probeLists))
	for i, ids := range probeLists {
		row := make([]int, len(ids))
		for j, id := range ids {
			row[j] = int(id)
		}
		probesInt[i] = row
	}
	plan := invlists.ReorderLists(probesInt, idx.lists)

	centroids := idx.quant.Centroids()
	topKs := make([]*topK, len(queries))
	for i := range topKs {
		topKs[i] = newTopK(k)
	}

	fetched := make(chan fetchedList, numWorkers())

	var ioTime, computeTime time.Duration
	var ioMu, computeMu sync.Mutex

	var ioWG sync.WaitGroup
	ioWG.Add(1)
	go func() {
		defer ioWG.Done()
		defer close(fetched)
		for _, p := range plan {
			start := time.Now()
			ids, codes, err := idx.lists.GetList(p.ListIndex)
			ioMu.Lock()
			ioTime += time.Since(start)
			ioMu.Unlock()
			if err != nil {
				continue
			}
			fetched <- fetchedList{probe: p, ids: ids, codes: codes}
		}
	}()

	var computeWG sync.WaitGroup
	for w := 0; w < numWorkers(); w++ {
		computeWG.Add(1)
		go func() {
			defer computeWG.Done()
			for item := range fetched {
				start := time.Now()
				query := queries[item.probe.QueryIndex]
				centroid := centroids[item.probe.ListIndex]
				folded := xorFold(query, centroid)

				scores := hamming.KNNScan(folded[:], codesToSlices(item.codes), k)
				dest := topKs[item.probe.QueryIndex]
				for _, s := range scores {
					dest.add(item.ids[s.Index], s.Dist)
				}

				computeMu.Lock()
				computeTime += time.Since(start)
				computeMu.Unlock()
			}
		}()
	}

	ioWG.Wait()
	computeWG.Wait()

	var neighbors []Neighbor
	for qi, tk := range topKs {
		for _, e := range tk.entries() {
			neighbors = append(neighbors, Neighbor{QueryIndex: qi, ID: e.id, Dist: e.dist})
		}
	}

	return SearchResult{
		Neighbors:     neighbors,
		QuantizerTime: quantizerTime,
		IOTime:        ioTime,
		ComputeTime:   computeTime,
	}, nil
}

func codesToSlices(codes []hamming.Code) [][]byte {
	out := make([][]byte, len(codes))
	for i := range codes {
		out[i] = codes[i][:]
	}
	return out
}
