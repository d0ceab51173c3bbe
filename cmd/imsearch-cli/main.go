// Command imsearch-cli drives the retrieval engine directly against a
// local data directory: train a quantizer, add images, build the
// on-disk index, and search it, without a running admin server.
package main

import (
	"flag"
	"fmt"
	"os"
)

const version = "1.0.0"

var confDir string

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	flag.StringVar(&confDir, "conf-dir", "./data", "data directory holding the quantizer, index, and metadata files")

	command := os.Args[1]
	switch command {
	case "train":
		runTrain(os.Args[2:])
	case "add":
		runAdd(os.Args[2:])
	case "ingest":
		runIngest(os.Args[2:])
	case "build":
		runBuild(os.Args[2:])
	case "search":
		runSearch(os.Args[2:])
	case "show":
		runShow(os.Args[2:])
	case "version":
		fmt.Printf("imsearch-cli version %s\n", version)
	case "help", "-h", "--help":
		showUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		showUsage()
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`imsearch-cli - local driver for the binary-vector image retrieval engine

Usage:
  imsearch-cli <command> [options]

Commands:
  train   Train a quantizer from previously added descriptors
  add     Record an image and its ORB descriptors
  ingest  Batch-ingest a directory of descriptor files through the pipeline
  build   Build the on-disk inverted-lists index from added images
  search  Search the index with a query image's descriptors
  show    Inspect a descriptor file without running a search
  version Show version
  help    Show this help message

Global Options:
  -conf-dir DIR   Data directory (default: ./data)

Examples:

  imsearch-cli add -path photo1.jpg -hash a1b2c3 -descriptors photo1.desc
  imsearch-cli ingest -dir ./photos -rate 200
  imsearch-cli train -centers 1024 -images 200000
  imsearch-cli build -batch-size 100000
  imsearch-cli search -descriptors query.desc -k 10 -nprobe 8

Descriptor files are newline-delimited hex strings, one 256-bit ORB
descriptor per line (ORB extraction itself is outside this engine's
scope; see the admin HTTP surface for the same constraint).`)
}
