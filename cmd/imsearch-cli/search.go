package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/imsearch/retrieval/pkg/config"
	"github.com/imsearch/retrieval/pkg/invlists"
	"github.com/imsearch/retrieval/pkg/ivf"
	"github.com/imsearch/retrieval/pkg/metastore"
	"github.com/imsearch/retrieval/pkg/quantizer"
	"github.com/imsearch/retrieval/pkg/scoring"
)

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	fs.StringVar(&confDir, "conf-dir", confDir, "data directory")
	descriptorsFile := fs.String("descriptors", "", "path to the query's newline-delimited hex descriptor file (required)")
	k := fs.Int("k", 10, "nearest neighbours kept per query descriptor; every matching image is printed")
	nprobe := fs.Int("nprobe", 0, "number of posting lists to probe per query descriptor (0 uses the configured default)")
	maxDistance := fs.Uint("distance", 0, "maximum Hamming distance to accept a match (0 uses the configured default)")
	outputFormat := fs.String("output-format", "table", "output format: table or json")
	fs.Parse(args)

	if *descriptorsFile == "" {
		fmt.Println("Error: -descriptors is required")
		fs.Usage()
		os.Exit(1)
	}
	if *outputFormat != "table" && *outputFormat != "json" {
		fmt.Println("Error: -output-format must be table or json")
		os.Exit(1)
	}

	cfg := config.Default()
	if *nprobe <= 0 {
		*nprobe = cfg.IVF.NProbe
	}
	maxDist := uint32(*maxDistance)
	if maxDist == 0 {
		maxDist = cfg.IVF.MaxDistance
	}

	queries, err := readDescriptorFile(*descriptorsFile)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

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

	lists, err := invlists.Open(invlistsPath(confDir))
	if err != nil {
		fmt.Printf("Error opening index (run 'build' first): %v\n", err)
		os.Exit(1)
	}
	defer lists.Close()

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

	result, err := idx.Search(queries, *k, *nprobe)
	if err != nil {
		fmt.Printf("Error searching: %v\n", err)
		os.Exit(1)
	}

	ranked, err := scoring.Rank(result.Neighbors, store, maxDist)
	if err != nil {
		fmt.Printf("Error ranking: %v\n", err)
		os.Exit(1)
	}

	printSearchResults(ranked, store, *outputFormat)
}

type searchRow struct {
	Score float64 `json:"score"`
	Path  string  `json:"path"`
}

func printSearchResults(ranked []scoring.ImageScore, store metastore.Store, format string) {
	rows := make([]searchRow, len(ranked))
	for i, r := range ranked {
		path, _ := store.Path(r.ImageID)
		rows[i] = searchRow{Score: r.Score, Path: path}
	}

	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(rows)
	default:
		for _, row := range rows {
			fmt.Printf("%.2f\t%s\n", row.Score, row.Path)
		}
	}
}
