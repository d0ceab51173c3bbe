// Package pipeline runs the ingestion path from raw image bytes to a
// descriptor set appended to the index, as a bounded-channel multi-
// stage pipeline: hash, dedup, detect, add.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/time/rate"

	"github.com/imsearch/retrieval/pkg/hamming"
	"github.com/imsearch/retrieval/pkg/metastore"
	"github.com/imsearch/retrieval/pkg/observability"
)

// Logger is the narrow logging surface the pipeline needs; satisfied
// by the observability package's structured logger or by any adapter
// a caller supplies.
type Logger interface {
	Warn(msg string, kv ...any)
}

// Adder receives the descriptors the add stage persists. *ivf.Index
// satisfies it directly; callers that need to persist descriptors
// somewhere besides the index wrap it.
type Adder interface {
	Add(codes []hamming.Code, ids []uint64) error
}

// HashFunc computes a content hash for an image's raw bytes.
type HashFunc func(data []byte) ([]byte, error)

// DetectFunc runs feature extraction over an image's raw bytes,
// returning its ORB descriptors.
type DetectFunc func(data []byte) ([]hamming.Code, error)

// Item is one unit of ingestion work entering the pipeline.
type Item struct {
	Path string
	Data []byte
}

// Config holds the pipeline's tunables.
type Config struct {
	// Workers sizes the hash and detect stages' worker pools; 0 means
	// one per CPU.
	Workers int

	// QueueCapacity bounds each inter-stage channel; 0 means one slot
	// per CPU. Smaller values tighten backpressure, larger ones smooth
	// out bursty stages.
	QueueCapacity int

	// MinKeypoints is the minimum descriptor count an image must
	// produce to be added; images with fewer are dropped.
	MinKeypoints int

	// AdmitRPS caps how many items per second enter the pipeline; 0
	// disables admission control and lets channel backpressure alone
	// govern intake.
	AdmitRPS float64

	// AdmitBurst is the admission limiter's burst size.
	AdmitBurst int
}

// DefaultConfig matches the system's default ingestion limits.
func DefaultConfig() Config {
	return Config{
		Workers:       runtime.NumCPU(),
		QueueCapacity: runtime.NumCPU(),
		MinKeypoints:  250,
	}
}

// Pipeline wires the four ingestion stages together over bounded
// channels, so a slow downstream stage applies backpressure all the
// way to the source instead of buffering unboundedly.
type Pipeline struct {
	cfg     Config
	hash    HashFunc
	detect  DetectFunc
	store   metastore.Store
	index   Adder
	log     Logger
	metrics *observability.Metrics
}

// New builds a pipeline over the given hash/detect functions, backing
// metadata store, and target index. log and metrics may be nil.
func New(cfg Config, hash HashFunc, detect DetectFunc, store metastore.Store, index Adder, log Logger, metrics *observability.Metrics) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = runtime.NumCPU()
	}
	if cfg.MinKeypoints == 0 {
		cfg.MinKeypoints = 250
	}
	return &Pipeline{cfg: cfg, hash: hash, detect: detect, store: store, index: index, log: log, metrics: metrics}
}

// Stats summarizes one Run.
type Stats struct {
	Scanned      int
	Deduplicated int
	HashFailed   int
	DetectFailed int
	TooFewPoints int
	Added        int
}

type hashedItem struct {
	Item
	hash []byte
}

type detectedItem struct {
	hashedItem
	descriptors []hamming.Code
}

func (p *Pipeline) recordDrop(stage, reason string) {
	if p.metrics != nil {
		p.metrics.RecordDropped(stage, reason)
	}
}

func (p *Pipeline) recordDepth(stage string, depth int) {
	if p.metrics != nil {
		p.metrics.SetQueueDepth(stage, depth)
	}
}

// Run drains items through hash -> dedup -> detect -> add and returns
// aggregate stats. It terminates once items is closed and every stage
// has drained; ctx cancellation stops new work from starting but lets
// in-flight items complete, matching the no-mid-flight-cancellation
// contract of the rest of the engine.
func (p *Pipeline) Run(ctx context.Context, items <-chan Item) (Stats, error) {
	hashed := make(chan hashedItem, p.cfg.QueueCapacity)
	deduped := make(chan hashedItem, p.cfg.QueueCapacity)
	detected := make(chan detectedItem, p.cfg.QueueCapacity)

	var admit *rate.Limiter
	if p.cfg.AdmitRPS > 0 {
		burst := p.cfg.AdmitBurst
		if burst < 1 {
			burst = 1
		}
		admit = rate.NewLimiter(rate.Limit(p.cfg.AdmitRPS), burst)
	}

	var stats Stats
	var statsMu sync.Mutex
	incr := func(f func(*Stats)) {
		statsMu.Lock()
		f(&stats)
		statsMu.Unlock()
	}

	var wg sync.WaitGroup

	// Stage 1: admission + hash, worker pool.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(hashed)
		var stageWG sync.WaitGroup
		sem := make(chan struct{}, p.cfg.Workers)
		for item := range items {
			if ctx.Err() != nil {
				continue
			}
			if admit != nil {
				if err := admit.Wait(ctx); err != nil {
					continue
				}
			}
			incr(func(s *Stats) { s.Scanned++ })
			stageWG.Add(1)
			sem <- struct{}{}
			go func(item Item) {
				defer stageWG.Done()
				defer func() { <-sem }()
				h, err := p.hash(item.Data)
				if err != nil {
					incr(func(s *Stats) { s.HashFailed++ })
					p.recordDrop("hash", "hash_failed")
					if p.log != nil {
						p.log.Warn("hash failed", "path", item.Path, "err", err)
					}
					return
				}
				hashed <- hashedItem{Item: item, hash: h}
			}(item)
		}
		stageWG.Wait()
	}()

	// Stage 2: dedup against the metadata store.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(deduped)
		for item := range hashed {
			p.recordDepth("dedup", len(hashed))
			if p.store.HashExists(item.hash) {
				incr(func(s *Stats) { s.Deduplicated++ })
				p.recordDrop("dedup", "duplicate_hash")
				continue
			}
			deduped <- item
		}
	}()

	// Stage 3: ORB detection, worker pool.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(detected)
		var stageWG sync.WaitGroup
		sem := make(chan struct{}, p.cfg.Workers)
		for item := range deduped {
			p.recordDepth("detect", len(deduped))
			stageWG.Add(1)
			sem <- struct{}{}
			go func(item hashedItem) {
				defer stageWG.Done()
				defer func() { <-sem }()
				descriptors, err := p.detect(item.Data)
				if err != nil {
					incr(func(s *Stats) { s.DetectFailed++ })
					p.recordDrop("detect", "detect_failed")
					if p.log != nil {
						p.log.Warn("detect failed", "path", item.Path, "err", err)
					}
					return
				}
				detected <- detectedItem{hashedItem: item, descriptors: descriptors}
			}(item)
		}
		stageWG.Wait()
	}()

	// Stage 4: add, serial — the index's own locking already allows
	// concurrent adds, but a single consumer keeps per-image metadata
	// insert ordered with the descriptor append it accompanies. A hard
	// store error here still drains the rest of detected so upstream
	// stages, which may be blocked sending into it, can finish and let
	// wg.Wait below return instead of deadlocking.
	var addErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		for item := range detected {
			p.recordDepth("add", len(detected))
			if addErr != nil {
				continue
			}
			if len(item.descriptors) < p.cfg.MinKeypoints {
				incr(func(s *Stats) { s.TooFewPoints++ })
				p.recordDrop("add", "too_few_points")
				continue
			}

			// Re-check under the store's own lock: two images sharing a
			// hash can both have made it past the dedup stage while
			// detection ran concurrently.
			if p.store.HashExists(item.hash) {
				incr(func(s *Stats) { s.Deduplicated++ })
				p.recordDrop("add", "duplicate_hash")
				continue
			}

			_, firstDescriptorID, err := p.store.InsertImage(item.hash, item.Path, len(item.descriptors))
			if err != nil {
				addErr = fmt.Errorf("pipeline: insert image metadata: %w", err)
				continue
			}

			ids := make([]uint64, len(item.descriptors))
			for i := range ids {
				ids[i] = firstDescriptorID + uint64(i)
			}
			if err := p.index.Add(item.descriptors, ids); err != nil {
				if p.log != nil {
					p.log.Warn("add to index failed", "path", item.Path, "err", err)
				}
				continue
			}
			incr(func(s *Stats) { s.Added++ })
			if p.metrics != nil {
				p.metrics.RecordAdd("ok", len(item.descriptors))
			}
		}
	}()

	wg.Wait()

	if addErr != nil {
		return stats, addErr
	}
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("pipeline: %w", err)
	}
	return stats, nil
}
