package metastore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
)

// Save dumps the store to a single file: a row per image, in insertion
// order, so ImageIDForDescriptorID's cumulative-count invariant can be
// rebuilt on load without re-deriving it from the pipeline.
func (s *InMemory) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("metastore: create snapshot: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s.images))); err != nil {
		return fmt.Errorf("metastore: write snapshot header: %w", err)
	}
	for _, img := range s.images {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(img.Hash))); err != nil {
			return err
		}
		if _, err := w.Write(img.Hash); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(img.Path))); err != nil {
			return err
		}
		if _, err := w.WriteString(img.Path); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(img.FeatureCount)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, img.CumulativeCount); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("metastore: flush snapshot: %w", err)
	}
	return f.Sync()
}

// Load rebuilds a store previously written by Save. A missing file is
// not an error: it is treated as an empty store, so a fresh data
// directory needs no separate initialization step.
func Load(path string) (*InMemory, error) {
	s := NewInMemory()

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metastore: open snapshot: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("metastore: read snapshot header: %w", err)
	}

	s.images = make([]Image, 0, count)
	for i := uint64(0); i < count; i++ {
		var hashLen uint32
		if err := binary.Read(r, binary.LittleEndian, &hashLen); err != nil {
			return nil, fmt.Errorf("metastore: read hash length: %w", err)
		}
		hash := make([]byte, hashLen)
		if _, err := readFull(r, hash); err != nil {
			return nil, fmt.Errorf("metastore: read hash: %w", err)
		}

		var pathLen uint32
		if err := binary.Read(r, binary.LittleEndian, &pathLen); err != nil {
			return nil, fmt.Errorf("metastore: read path length: %w", err)
		}
		pathBytes := make([]byte, pathLen)
		if _, err := readFull(r, pathBytes); err != nil {
			return nil, fmt.Errorf("metastore: read path: %w", err)
		}

		var featureCount uint64
		if err := binary.Read(r, binary.LittleEndian, &featureCount); err != nil {
			return nil, fmt.Errorf("metastore: read feature count: %w", err)
		}
		var cumulative uint64
		if err := binary.Read(r, binary.LittleEndian, &cumulative); err != nil {
			return nil, fmt.Errorf("metastore: read cumulative count: %w", err)
		}

		img := Image{
			ID:              i,
			Hash:            hash,
			Path:            string(pathBytes),
			FeatureCount:    int(featureCount),
			CumulativeCount: cumulative,
		}
		s.images = append(s.images, img)
		s.byHash[string(hash)] = i
		s.total = cumulative
	}
	return s, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
