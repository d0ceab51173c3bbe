package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/imsearch/retrieval/pkg/hamming"
)

// runShow inspects a descriptor file before it is added or searched.
// ORB extraction happens outside this module, so there is no decoded
// image to draw keypoints over; show instead reports summary statistics
// of the pre-extracted descriptors themselves.
func runShow(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	descriptorsFile := fs.String("descriptors", "", "path to a newline-delimited hex descriptor file (required)")
	fs.Parse(args)

	if *descriptorsFile == "" {
		fmt.Println("Error: -descriptors is required")
		fs.Usage()
		os.Exit(1)
	}

	codes, err := readDescriptorFile(*descriptorsFile)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Descriptor count: %d\n", len(codes))
	if len(codes) == 0 {
		return
	}

	var minDist, maxDist, sumDist uint64
	minDist = ^uint64(0)
	pairs := 0
	for i := 0; i < len(codes) && i < 64; i++ {
		for j := i + 1; j < len(codes) && j < 64; j++ {
			d := uint64(hamming.Distance(codes[i][:], codes[j][:]))
			if d < minDist {
				minDist = d
			}
			if d > maxDist {
				maxDist = d
			}
			sumDist += d
			pairs++
		}
	}
	if pairs > 0 {
		fmt.Printf("Pairwise Hamming distance over first %d descriptors: min=%d max=%d mean=%.1f\n",
			min(len(codes), 64), minDist, maxDist, float64(sumDist)/float64(pairs))
	}
}
