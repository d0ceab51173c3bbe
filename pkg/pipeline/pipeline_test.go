package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/imsearch/retrieval/pkg/hamming"
	"github.com/imsearch/retrieval/pkg/invlists"
	"github.com/imsearch/retrieval/pkg/ivf"
	"github.com/imsearch/retrieval/pkg/metastore"
	"github.com/imsearch/retrieval/pkg/observability"
	"github.com/imsearch/retrieval/pkg/quantizer"
)

func buildTestIndex(t *testing.T) *ivf.Index {
	t.Helper()
	r := rand.New(rand.NewSource(1))
	centroids := make([]hamming.Code, 16)
	for i := range centroids {
		r.Read(centroids[i][:])
	}
	quant, err := quantizer.Init(centroids, quantizer.DefaultConfig())
	if err != nil {
		t.Fatalf("quantizer.Init failed: %v", err)
	}
	idx, err := ivf.New(quant, invlists.NewArray(16))
	if err != nil {
		t.Fatalf("ivf.New failed: %v", err)
	}
	return idx
}

func randomDescriptors(n int, seed int64) []hamming.Code {
	r := rand.New(rand.NewSource(seed))
	codes := make([]hamming.Code, n)
	for i := range codes {
		r.Read(codes[i][:])
	}
	return codes
}

// testMetrics is shared across tests because promauto registers
// against the default Prometheus registry, which rejects a second
// registration of the same collectors.
var testMetrics = observability.NewMetrics()

func TestPipelineDedupDropsSharedHash(t *testing.T) {
	store := metastore.NewInMemory()
	idx := buildTestIndex(t)

	hashFn := func(data []byte) ([]byte, error) { return data, nil }
	detectFn := func(data []byte) ([]hamming.Code, error) {
		return randomDescriptors(300, int64(len(data))+int64(data[0])), nil
	}

	p := New(DefaultConfig(), hashFn, detectFn, store, idx, nil, testMetrics)

	items := make(chan Item, 10)
	// 10 images, two of which (index 3 and 7) share a hash.
	sharedHash := []byte{0xAA}
	for i := 0; i < 10; i++ {
		data := []byte{byte(i)}
		if i == 3 || i == 7 {
			data = sharedHash
		}
		items <- Item{Path: fmt.Sprintf("/img/%d.jpg", i), Data: data}
	}
	close(items)

	stats, err := p.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if stats.Scanned != 10 {
		t.Fatalf("expected 10 scanned, got %d", stats.Scanned)
	}
	if stats.Added != 9 {
		t.Fatalf("expected 9 distinct images added, got %d (stats=%+v)", stats.Added, stats)
	}
	if stats.Deduplicated != 1 {
		t.Fatalf("expected exactly 1 dedup drop, got %d", stats.Deduplicated)
	}
}

func TestPipelineDropsBelowMinKeypoints(t *testing.T) {
	store := metastore.NewInMemory()
	idx := buildTestIndex(t)

	hashFn := func(data []byte) ([]byte, error) { return data, nil }
	detectFn := func(data []byte) ([]hamming.Code, error) {
		return randomDescriptors(10, int64(data[0])), nil // below default 250
	}

	p := New(DefaultConfig(), hashFn, detectFn, store, idx, nil, testMetrics)

	items := make(chan Item, 1)
	items <- Item{Path: "/a.jpg", Data: []byte{1}}
	close(items)

	stats, err := p.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Added != 0 || stats.TooFewPoints != 1 {
		t.Fatalf("expected the image to be dropped for too few keypoints, got %+v", stats)
	}
}

func TestPipelineDropsOnDetectFailure(t *testing.T) {
	store := metastore.NewInMemory()
	idx := buildTestIndex(t)

	hashFn := func(data []byte) ([]byte, error) { return data, nil }
	detectFn := func(data []byte) ([]hamming.Code, error) {
		return nil, fmt.Errorf("detect failed")
	}

	p := New(DefaultConfig(), hashFn, detectFn, store, idx, nil, nil)

	items := make(chan Item, 1)
	items <- Item{Path: "/broken.jpg", Data: []byte{1}}
	close(items)

	stats, err := p.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.DetectFailed != 1 || stats.Added != 0 {
		t.Fatalf("expected the image to be dropped on detect failure, got %+v", stats)
	}
}

func TestPipelineDropsOnHashFailure(t *testing.T) {
	store := metastore.NewInMemory()
	idx := buildTestIndex(t)

	hashFn := func(data []byte) ([]byte, error) { return nil, fmt.Errorf("hash failed") }
	detectFn := func(data []byte) ([]hamming.Code, error) {
		return randomDescriptors(300, 1), nil
	}

	p := New(DefaultConfig(), hashFn, detectFn, store, idx, nil, nil)

	items := make(chan Item, 1)
	items <- Item{Path: "/corrupt.jpg", Data: []byte{1}}
	close(items)

	stats, err := p.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.HashFailed != 1 || stats.Added != 0 {
		t.Fatalf("expected the image to be dropped on hash failure, got %+v", stats)
	}
}

func TestPipelineAdmissionControlStillDrainsEverything(t *testing.T) {
	store := metastore.NewInMemory()
	idx := buildTestIndex(t)

	hashFn := func(data []byte) ([]byte, error) { return data, nil }
	detectFn := func(data []byte) ([]hamming.Code, error) {
		return randomDescriptors(300, int64(data[0])), nil
	}

	cfg := DefaultConfig()
	cfg.AdmitRPS = 10000 // high enough not to slow the test, but exercises the limiter path
	cfg.AdmitBurst = 1
	p := New(cfg, hashFn, detectFn, store, idx, nil, nil)

	items := make(chan Item, 5)
	for i := 0; i < 5; i++ {
		items <- Item{Path: fmt.Sprintf("/img/%d.jpg", i), Data: []byte{byte(i)}}
	}
	close(items)

	stats, err := p.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Added != 5 {
		t.Fatalf("expected all 5 images added under admission control, got %+v", stats)
	}
}

// rawSink records what the add stage hands it, standing in for callers
// that persist descriptors somewhere besides the index.
type rawSink struct {
	codes []hamming.Code
	ids   []uint64
}

func (r *rawSink) Add(codes []hamming.Code, ids []uint64) error {
	r.codes = append(r.codes, codes...)
	r.ids = append(r.ids, ids...)
	return nil
}

func TestPipelineAddStageAssignsContiguousIDs(t *testing.T) {
	store := metastore.NewInMemory()
	sink := &rawSink{}

	hashFn := func(data []byte) ([]byte, error) { return data, nil }
	detectFn := func(data []byte) ([]hamming.Code, error) {
		return randomDescriptors(300, int64(data[0])), nil
	}

	p := New(DefaultConfig(), hashFn, detectFn, store, sink, nil, nil)

	items := make(chan Item, 3)
	for i := 0; i < 3; i++ {
		items <- Item{Path: fmt.Sprintf("/img/%d.jpg", i), Data: []byte{byte(i)}}
	}
	close(items)

	stats, err := p.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Added != 3 {
		t.Fatalf("expected 3 images added, got %+v", stats)
	}
	if len(sink.ids) != 900 {
		t.Fatalf("expected 900 descriptor ids, got %d", len(sink.ids))
	}
	seen := make(map[uint64]bool, len(sink.ids))
	for _, id := range sink.ids {
		if id >= 900 || seen[id] {
			t.Fatalf("descriptor ids are not a contiguous unique range: %d", id)
		}
		seen[id] = true
	}
}
