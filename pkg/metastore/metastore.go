// Package metastore defines the external metadata store contract the
// engine depends on — image records and their cumulative descriptor
// counts — plus an in-memory reference implementation.
package metastore

import (
	"fmt"
	"sort"
	"sync"
)

// Image is one row of image metadata: its content hash, source path,
// and how many descriptors it contributed.
type Image struct {
	ID              uint64
	Hash            []byte
	Path            string
	FeatureCount    int
	CumulativeCount uint64 // total descriptor count across all images up to and including this one
}

// Store is the metadata surface the pipeline and scorer depend on.
type Store interface {
	// InsertImage records a new image and its descriptor count,
	// returning its assigned id and the first global descriptor id its
	// features should be appended under (firstDescriptorID,
	// firstDescriptorID+featureCount) forms its range. It is idempotent
	// on hash: a second insert with an already-seen hash returns the
	// existing id and a zero descriptor range instead of creating a
	// duplicate row or double-counting descriptors.
	InsertImage(hash []byte, path string, featureCount int) (imageID uint64, firstDescriptorID uint64, err error)

	// HashExists reports whether an image with this hash has already
	// been recorded, for the ingestion pipeline's dedup stage.
	HashExists(hash []byte) bool

	// ImageIDForDescriptorID maps a global descriptor id to the image
	// that contributed it, via the cumulative descriptor count.
	ImageIDForDescriptorID(descriptorID uint64) (imageID uint64, err error)

	// Path returns the stored path for an image id.
	Path(imageID uint64) (string, error)
}

// InMemory is a reference Store implementation backed by a mutex and
// plain slices; suitable for tests and single-process deployments.
type InMemory struct {
	mu     sync.RWMutex
	images []Image
	byHash map[string]uint64
	total  uint64
}

// NewInMemory creates an empty in-memory metadata store.
func NewInMemory() *InMemory {
	return &InMemory{byHash: make(map[string]uint64)}
}

func (s *InMemory) InsertImage(hash []byte, path string, featureCount int) (uint64, uint64, error) {
	key := string(hash)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byHash[key]; ok {
		return id, 0, nil
	}

	firstDescriptorID := s.total
	id := uint64(len(s.images))
	s.total += uint64(featureCount)
	s.images = append(s.images, Image{
		ID:              id,
		Hash:            append([]byte(nil), hash...),
		Path:            path,
		FeatureCount:    featureCount,
		CumulativeCount: s.total,
	})
	s.byHash[key] = id
	return id, firstDescriptorID, nil
}

func (s *InMemory) HashExists(hash []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byHash[string(hash)]
	return ok
}

// ImageIDForDescriptorID binary-searches the cumulative-count column
// for the first image whose running total is at least descriptorID+1,
// mirroring a "total_count >= id ORDER BY total_count ASC LIMIT 1"
// query over an append-only table.
func (s *InMemory) ImageIDForDescriptorID(descriptorID uint64) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	target := descriptorID + 1
	i := sort.Search(len(s.images), func(i int) bool {
		return s.images[i].CumulativeCount >= target
	})
	if i == len(s.images) {
		return 0, fmt.Errorf("metastore: no image found for descriptor id %d", descriptorID)
	}
	return s.images[i].ID, nil
}

func (s *InMemory) Path(imageID uint64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if imageID >= uint64(len(s.images)) {
		return "", fmt.Errorf("metastore: no image with id %d", imageID)
	}
	return s.images[imageID].Path, nil
}
