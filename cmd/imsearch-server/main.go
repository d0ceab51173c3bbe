// Command imsearch-server runs the admin HTTP surface over a
// previously built index: add descriptors, search, and inspect index
// health.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/imsearch/retrieval/pkg/apiserver"
	"github.com/imsearch/retrieval/pkg/config"
	"github.com/imsearch/retrieval/pkg/invlists"
	"github.com/imsearch/retrieval/pkg/ivf"
	"github.com/imsearch/retrieval/pkg/metastore"
	"github.com/imsearch/retrieval/pkg/observability"
	"github.com/imsearch/retrieval/pkg/quantizer"
)

const version = "1.0.0"

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version and exit")
		showHelp    = flag.Bool("help", false, "show help and exit")
		dataDir     = flag.String("data-dir", "./data", "data directory holding the quantizer, index, and metadata files")
		host        = flag.String("host", "", "server host (overrides config/env)")
		port        = flag.Int("port", 0, "server port (overrides config/env)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("imsearch-server v%s\n", version)
		os.Exit(0)
	}
	if *showHelp {
		showUsage()
		os.Exit(0)
	}

	printBanner()

	cfg := config.LoadFromEnv()
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := observability.NewDefault()
	metrics := observability.NewMetrics()

	log.Info("opening quantizer", "path", *dataDir+"/quantizer")
	quant, err := quantizer.Open(*dataDir+"/quantizer", quantizer.Config{
		M:              cfg.Quantizer.M,
		EfConstruction: cfg.Quantizer.EfConstruction,
		EfSearch:       cfg.Quantizer.EfSearch,
	})
	if err != nil {
		log.Fatal("failed to open quantizer, run imsearch-cli train and build first", "error", err)
	}
	defer quant.Close()

	log.Info("opening inverted-lists index", "path", *dataDir+"/invlists.bin")
	lists, err := invlists.Open(*dataDir + "/invlists.bin")
	if err != nil {
		log.Fatal("failed to open index, run imsearch-cli build first", "error", err)
	}
	defer lists.Close()

	index, err := ivf.New(quant, lists)
	if err != nil {
		log.Fatal("failed to construct index", "error", err)
	}

	log.Info("loading metadata store", "path", *dataDir+"/images.bin")
	store, err := metastore.Load(*dataDir + "/images.bin")
	if err != nil {
		log.Fatal("failed to load metadata store", "error", err)
	}

	printStartupInfo(cfg, index)

	server := apiserver.NewServer(cfg, index, store, log, metrics)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	log.Info("server is ready")
	select {
	case sig := <-sigChan:
		log.Info("received signal", "signal", sig.String())
	case err := <-errChan:
		log.Error("server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Error("error stopping server", "error", err)
	}
	log.Info("server stopped")
}

func printBanner() {
	fmt.Print(`
  ___                            _
 |_ _|_ __ ___  ___  __ _ _ __ ___| |__
  | || '_ ` + "`" + ` _ \/ __|/ _` + "`" + ` | '__/ __| '_ \
  | || | | | | \__ \ (_| | |  \__ \ | | |
 |___|_| |_| |_|___/\__,_|_|  |___/_| |_|

  Binary-vector content-based image retrieval
`)
	fmt.Printf("Version: %s\n\n", version)
}

func printStartupInfo(cfg *config.Config, index *ivf.Index) {
	fmt.Println("Configuration:")
	fmt.Printf("  Address:          %s\n", cfg.Server.Address())
	fmt.Printf("  NList:            %d\n", index.NList())
	fmt.Printf("  NProbe (default): %d\n", cfg.IVF.NProbe)
	fmt.Printf("  Max distance:     %d\n", cfg.IVF.MaxDistance)
	fmt.Printf("  Rate limit:       %.1f req/s (burst %d)\n", cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	fmt.Printf("  Auth enabled:     %v\n", cfg.Server.JWTSecret != "")
	fmt.Println()
}

func showUsage() {
	fmt.Println(`imsearch-server - admin HTTP surface for the binary-vector retrieval engine

Usage:
  imsearch-server [options]

Options:
  -help              Show this help message
  -version           Show version information
  -data-dir DIR      Data directory (default: ./data)
  -host HOST         Server host (overrides config/env)
  -port PORT         Server port (overrides config/env)

Environment Variables:
  IMSEARCH_SERVER_HOST           Server host
  IMSEARCH_SERVER_PORT           Server port
  IMSEARCH_SERVER_REQUEST_TIMEOUT Request timeout (e.g. 30s)
  IMSEARCH_SERVER_RATE_LIMIT_RPS  Requests/sec per client
  IMSEARCH_SERVER_RATE_LIMIT_BURST Burst size per client
  IMSEARCH_SERVER_JWT_SECRET     Bearer-token secret (empty disables auth)
  IMSEARCH_QUANTIZER_M           HNSW quantizer M
  IMSEARCH_QUANTIZER_EF_CONSTRUCTION HNSW quantizer efConstruction
  IMSEARCH_QUANTIZER_EF_SEARCH   HNSW quantizer efSearch
  IMSEARCH_IVF_NPROBE            Default posting lists probed per query
  IMSEARCH_IVF_MAX_DISTANCE      Maximum accepted Hamming distance

Examples:
  imsearch-server -data-dir ./data -port 8080
  IMSEARCH_SERVER_PORT=9090 imsearch-server`)
}
