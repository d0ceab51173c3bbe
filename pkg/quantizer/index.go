package quantizer

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/imsearch/retrieval/pkg/hamming"
)

// Config holds the parameters of the HNSW coarse quantizer.
type Config struct {
	M              int
	EfConstruction int
	EfSearch       int
}

// DefaultConfig returns the quantizer parameters used throughout the
// system unless overridden.
func DefaultConfig() Config {
	return Config{M: 32, EfConstruction: 128, EfSearch: 16}
}

// Index is an HNSW graph over a fixed set of 256-bit centroids,
// searched by Hamming distance. It is built once via Init and is
// read-only thereafter during IVF search.
type Index struct {
	m              int
	m0             int
	efConstruction int
	efSearch       int
	ml             float64

	mu          sync.RWMutex
	nodes       map[uint64]*node
	entryPoint  *node
	maxLayer    int
	nodeCounter uint64

	centroids []hamming.Code

	rand   *rand.Rand
	randMu sync.Mutex

	loader *persistLoader // non-nil only for an index reloaded from disk
}

// New creates an empty quantizer ready for Init.
func New(cfg Config) *Index {
	if cfg.M == 0 {
		cfg.M = 32
	}
	if cfg.EfConstruction == 0 {
		cfg.EfConstruction = 128
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 16
	}
	return &Index{
		m:              cfg.M,
		m0:             cfg.M * 2,
		efConstruction: cfg.EfConstruction,
		efSearch:       cfg.EfSearch,
		ml:             1.0 / math.Log(float64(cfg.M)),
		nodes:          make(map[uint64]*node),
		maxLayer:       -1,
		rand:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Init builds the quantizer over the given centroids. Centroids are
// inserted in parallel; each node's own neighbor list is protected by
// its own mutex, so concurrent inserts only contend when two workers
// happen to touch the same node.
func Init(centroids []hamming.Code, cfg Config) (*Index, error) {
	if len(centroids) == 0 {
		return nil, fmt.Errorf("quantizer: no centroids provided")
	}
	idx := New(cfg)
	idx.centroids = append([]hamming.Code(nil), centroids...)
	idx.nodeCounter = uint64(len(centroids))

	workers := numWorkers()
	jobs := make(chan int, len(centroids))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := idx.insert(uint64(i), centroids[i]); err != nil {
					panic(fmt.Sprintf("quantizer: invariant violated inserting centroid %d: %v", i, err))
				}
			}
		}()
	}
	for i := range centroids {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return idx, nil
}

func numWorkers() int {
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	return n
}

// Centroids returns direct access to the trained centroids, in
// insertion order, for the IVF XOR fold.
func (idx *Index) Centroids() []hamming.Code {
	return idx.centroids
}

// NList returns the number of centroids (lists) the quantizer holds.
func (idx *Index) NList() int {
	return len(idx.centroids)
}

func (idx *Index) randomLevel() int {
	idx.randMu.Lock()
	r := idx.rand.Float64()
	idx.randMu.Unlock()
	if r <= 0 {
		r = 1e-12
	}
	return int(math.Floor(-math.Log(r) * idx.ml))
}

func (idx *Index) getNode(id uint64) *node {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.nodes[id]
}

func (idx *Index) distanceToNode(q hamming.Code, n *node) uint32 {
	return hamming.Distance(q[:], n.code[:])
}
