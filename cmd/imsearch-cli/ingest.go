package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/imsearch/retrieval/pkg/config"
	"github.com/imsearch/retrieval/pkg/hamming"
	"github.com/imsearch/retrieval/pkg/invlists"
	"github.com/imsearch/retrieval/pkg/ivf"
	"github.com/imsearch/retrieval/pkg/metastore"
	"github.com/imsearch/retrieval/pkg/observability"
	"github.com/imsearch/retrieval/pkg/pipeline"
	"github.com/imsearch/retrieval/pkg/quantizer"
)

// rawAppendingIndex persists descriptors to the raw store before
// appending them to the index. The pipeline's add stage is a single
// serial consumer, so the raw file stays in global descriptor-id
// order.
type rawAppendingIndex struct {
	idx     *ivf.Index
	rawPath string
}

func (r *rawAppendingIndex) Add(codes []hamming.Code, ids []uint64) error {
	if err := appendCodes(r.rawPath, codes); err != nil {
		return err
	}
	return r.idx.Add(codes, ids)
}

// runIngest batch-ingests a directory of descriptor files through the
// hash -> dedup -> detect -> add pipeline and writes a fresh on-disk
// index covering the whole collection afterwards.
func runIngest(args []string) {
	flags := flag.NewFlagSet("ingest", flag.ExitOnError)
	flags.StringVar(&confDir, "conf-dir", confDir, "data directory")
	dir := flags.String("dir", "", "directory scanned recursively for .desc descriptor files (required)")
	admitRate := flags.Float64("rate", 0, "max images admitted per second (0 disables admission control)")
	flags.Parse(args)

	if *dir == "" {
		fmt.Println("Error: -dir is required")
		flags.Usage()
		os.Exit(1)
	}

	if err := os.MkdirAll(confDir, 0o755); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Default()
	log := observability.NewDefault()
	metrics := observability.NewMetrics()

	quant, err := quantizer.Open(quantizerPath(confDir), quantizer.Config{
		M:              cfg.Quantizer.M,
		EfConstruction: cfg.Quantizer.EfConstruction,
		EfSearch:       cfg.Quantizer.EfSearch,
	})
	if err != nil {
		fmt.Printf("Error opening quantizer (run 'train' first): %v\n", err)
		os.Exit(1)
	}
	defer quant.Close()

	lists := invlists.NewArray(quant.NList())
	idx, err := ivf.New(quant, lists)
	if err != nil {
		fmt.Printf("Error constructing index: %v\n", err)
		os.Exit(1)
	}

	store, err := metastore.Load(metastorePath(confDir))
	if err != nil {
		fmt.Printf("Error loading metadata store: %v\n", err)
		os.Exit(1)
	}

	// Re-add everything ingested previously so the flushed index covers
	// the whole collection, not just this run's additions.
	existing, existingIDs, err := allCodesWithIDs(rawStorePath(confDir))
	if err != nil {
		fmt.Printf("Error reading existing descriptors: %v\n", err)
		os.Exit(1)
	}
	if len(existing) > 0 {
		if err := idx.Add(existing, existingIDs); err != nil {
			fmt.Printf("Error re-adding existing descriptors: %v\n", err)
			os.Exit(1)
		}
	}

	hashFn := func(data []byte) ([]byte, error) {
		sum := sha256.Sum256(data)
		return sum[:], nil
	}
	detectFn := func(data []byte) ([]hamming.Code, error) {
		return parseDescriptors(bytes.NewReader(data))
	}

	p := pipeline.New(pipeline.Config{
		Workers:       cfg.Pipeline.Workers,
		QueueCapacity: cfg.Pipeline.QueueCapacity,
		MinKeypoints:  cfg.Pipeline.MinKeypoints,
		AdmitRPS:      *admitRate,
		AdmitBurst:    cfg.Pipeline.Workers,
	}, hashFn, detectFn, store, &rawAppendingIndex{idx: idx, rawPath: rawStorePath(confDir)}, log, metrics)

	items := make(chan pipeline.Item, cfg.Pipeline.QueueCapacity)
	var walkErr error
	go func() {
		defer close(items)
		walkErr = filepath.WalkDir(*dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".desc") {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				log.Warn("skipping unreadable file", "path", path, "err", err)
				return nil
			}
			items <- pipeline.Item{Path: strings.TrimSuffix(path, ".desc"), Data: data}
			return nil
		})
	}()

	stats, err := p.Run(context.Background(), items)
	if err != nil {
		fmt.Printf("Error ingesting: %v\n", err)
		os.Exit(1)
	}
	if walkErr != nil {
		fmt.Printf("Error scanning %s: %v\n", *dir, walkErr)
		os.Exit(1)
	}

	if err := store.Save(metastorePath(confDir)); err != nil {
		fmt.Printf("Error saving metadata store: %v\n", err)
		os.Exit(1)
	}
	if err := invlists.Save(invlistsPath(confDir), lists); err != nil {
		fmt.Printf("Error saving index: %v\n", err)
		os.Exit(1)
	}

	metrics.SetImbalanceFactor(idx.Imbalance())
	fmt.Printf("Ingested %d files: %d added, %d duplicates, %d hash failures, %d detect failures, %d below min keypoints (imbalance factor %.3f)\n",
		stats.Scanned, stats.Added, stats.Deduplicated, stats.HashFailed, stats.DetectFailed, stats.TooFewPoints, idx.Imbalance())
}
