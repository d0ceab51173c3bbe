package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/imsearch/retrieval/pkg/config"
	"github.com/imsearch/retrieval/pkg/invlists"
	"github.com/imsearch/retrieval/pkg/ivf"
	"github.com/imsearch/retrieval/pkg/quantizer"
)

func quantizerPath(dir string) string {
	return dir + "/quantizer"
}

func invlistsPath(dir string) string {
	return dir + "/invlists.bin"
}

func runBuild(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	fs.StringVar(&confDir, "conf-dir", confDir, "data directory")
	onDisk := fs.Bool("on-disk", false, "accepted for compatibility; has no effect (the index is always built in memory and saved once)")
	batchSize := fs.Int("batch-size", 100000, "how many descriptors to add to the index per batch")
	fs.Parse(args)

	cfg := config.Default()
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

	codes, ids, err := allCodesWithIDs(rawStorePath(confDir))
	if err != nil {
		fmt.Printf("Error reading descriptors: %v\n", err)
		os.Exit(1)
	}
	if len(codes) == 0 {
		fmt.Println("Error: no descriptors found, add images first")
		os.Exit(1)
	}

	// -on-disk has no effect: the whole collection is accumulated in an
	// Array and saved once, so memory use grows with the collection.
	_ = onDisk

	for start := 0; start < len(codes); start += *batchSize {
		end := start + *batchSize
		if end > len(codes) {
			end = len(codes)
		}
		if err := idx.Add(codes[start:end], ids[start:end]); err != nil {
			fmt.Printf("Error adding batch [%d,%d): %v\n", start, end, err)
			os.Exit(1)
		}
	}

	if err := invlists.Save(invlistsPath(confDir), lists); err != nil {
		fmt.Printf("Error saving index: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Built index: %d descriptors across %d lists (imbalance factor %.3f)\n",
		len(codes), idx.NList(), idx.Imbalance())
}
