package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/imsearch/retrieval/pkg/config"
	"github.com/imsearch/retrieval/pkg/kmodes"
	"github.com/imsearch/retrieval/pkg/quantizer"
)

func runTrain(args []string) {
	cfg := config.Default()

	fs := flag.NewFlagSet("train", flag.ExitOnError)
	fs.StringVar(&confDir, "conf-dir", confDir, "data directory")
	centers := fs.Int("centers", 0, "number of cluster centroids (required)")
	images := fs.Int("images", 0, "maximum number of training descriptors to read; two-level training needs at least 30x -centers (required)")
	maxIter := fs.Int("max-iter", cfg.KModes.MaxIter, "maximum k-modes iterations")
	no2Level := fs.Bool("no-2level", false, "disable hierarchical two-level training")
	fs.Parse(args)

	if *centers <= 0 {
		fmt.Println("Error: -centers is required and must be positive")
		fs.Usage()
		os.Exit(1)
	}
	if *images <= 0 {
		fmt.Println("Error: -images is required and must be positive")
		fs.Usage()
		os.Exit(1)
	}

	if err := os.MkdirAll(confDir, 0o755); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	data, err := readCodesLimit(rawStorePath(confDir), *images)
	if err != nil {
		fmt.Printf("Error reading training data: %v\n", err)
		os.Exit(1)
	}
	if len(data) == 0 {
		fmt.Println("Error: no descriptors found, add images first")
		os.Exit(1)
	}

	// Hierarchical training only pays for itself at large centroid
	// counts; below the threshold a single-level run is both faster and
	// better balanced.
	var state kmodes.State
	if *no2Level || *centers < cfg.KModes.Level2Threshold {
		state = kmodes.Binary(data, *centers, *maxIter)
	} else {
		state, err = kmodes.TwoLevel(data, *centers, *maxIter)
		if err != nil {
			fmt.Printf("Error training: %v\n", err)
			os.Exit(1)
		}
	}

	quant, err := quantizer.Init(state.Centroids, quantizer.Config{
		M:              cfg.Quantizer.M,
		EfConstruction: cfg.Quantizer.EfConstruction,
		EfSearch:       cfg.Quantizer.EfSearch,
	})
	if err != nil {
		fmt.Printf("Error building quantizer: %v\n", err)
		os.Exit(1)
	}

	if err := quant.Save(confDir + "/quantizer"); err != nil {
		fmt.Printf("Error saving quantizer: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Trained %d centroids from %d descriptors (imbalance factor %.3f)\n",
		len(state.Centroids), len(data), kmodes.ImbalanceFactor(state.Frequencies))
}
