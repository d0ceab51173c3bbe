package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/imsearch/retrieval/pkg/config"
	"github.com/imsearch/retrieval/pkg/metastore"
)

func metastorePath(dir string) string {
	return dir + "/images.bin"
}

func runAdd(args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	fs.StringVar(&confDir, "conf-dir", confDir, "data directory")
	path := fs.String("path", "", "source image path, stored as metadata (required)")
	hashHex := fs.String("hash", "", "hex-encoded content hash (required)")
	descriptorsFile := fs.String("descriptors", "", "path to a newline-delimited hex descriptor file (required)")
	fs.Parse(args)

	if *path == "" || *hashHex == "" || *descriptorsFile == "" {
		fmt.Println("Error: -path, -hash, and -descriptors are all required")
		fs.Usage()
		os.Exit(1)
	}

	hash, err := hex.DecodeString(*hashHex)
	if err != nil {
		fmt.Printf("Error: invalid -hash encoding: %v\n", err)
		os.Exit(1)
	}

	codes, err := readDescriptorFile(*descriptorsFile)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Default()
	if len(codes) < cfg.Pipeline.MinKeypoints {
		fmt.Printf("Error: too few descriptors: %d (minimum %d)\n", len(codes), cfg.Pipeline.MinKeypoints)
		os.Exit(1)
	}

	if err := os.MkdirAll(confDir, 0o755); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	store, err := metastore.Load(metastorePath(confDir))
	if err != nil {
		fmt.Printf("Error loading metadata store: %v\n", err)
		os.Exit(1)
	}

	if store.HashExists(hash) {
		fmt.Println("Image already recorded, skipping")
		return
	}

	imageID, _, err := store.InsertImage(hash, *path, len(codes))
	if err != nil {
		fmt.Printf("Error inserting image: %v\n", err)
		os.Exit(1)
	}

	if err := appendCodes(rawStorePath(confDir), codes); err != nil {
		fmt.Printf("Error appending descriptors: %v\n", err)
		os.Exit(1)
	}

	if err := store.Save(metastorePath(confDir)); err != nil {
		fmt.Printf("Error saving metadata store: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Recorded image %d (%s) with %d descriptors\n", imageID, *path, len(codes))
}
