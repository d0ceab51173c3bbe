package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/imsearch/retrieval/pkg/hamming"
)

// readDescriptorFile parses a newline-delimited hex descriptor file,
// the stand-in for a real ORB detector's output (out of scope here).
func readDescriptorFile(path string) ([]hamming.Code, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open descriptor file: %w", err)
	}
	defer f.Close()
	codes, err := parseDescriptors(f)
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// parseDescriptors decodes newline-delimited hex descriptors from r.
func parseDescriptors(r io.Reader) ([]hamming.Code, error) {
	var codes []hamming.Code
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		raw, err := hex.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("descriptor file line %d: invalid hex: %w", line, err)
		}
		if len(raw) != hamming.Size {
			return nil, fmt.Errorf("descriptor file line %d: expected %d bytes, got %d", line, hamming.Size, len(raw))
		}
		var code hamming.Code
		copy(code[:], raw)
		codes = append(codes, code)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read descriptors: %w", err)
	}
	return codes, nil
}

// rawStorePath is the append-only file of every descriptor ever added,
// in global descriptor-id order. train and build draw their samples
// from here rather than re-deriving them from the metadata store.
func rawStorePath(dir string) string {
	return dir + "/descriptors.raw"
}

func appendCodes(path string, codes []hamming.Code) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open raw descriptor store: %w", err)
	}
	defer f.Close()
	for _, c := range codes {
		if _, err := f.Write(c[:]); err != nil {
			return fmt.Errorf("append to raw descriptor store: %w", err)
		}
	}
	return f.Sync()
}

// readCodesLimit reads up to limit codes (0 means all) from the raw
// descriptor store, in insertion order.
func readCodesLimit(path string, limit int) ([]hamming.Code, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read raw descriptor store: %w", err)
	}
	n := len(data) / hamming.Size
	if limit > 0 && limit < n {
		n = limit
	}
	codes := make([]hamming.Code, n)
	for i := 0; i < n; i++ {
		copy(codes[i][:], data[i*hamming.Size:(i+1)*hamming.Size])
	}
	return codes, nil
}

// allCodesWithIDs reads every descriptor in the raw store, paired with
// its global descriptor id (its position in the file).
func allCodesWithIDs(path string) ([]hamming.Code, []uint64, error) {
	codes, err := readCodesLimit(path, 0)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]uint64, len(codes))
	for i := range ids {
		ids[i] = uint64(i)
	}
	return codes, ids, nil
}
