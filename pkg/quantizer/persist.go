package quantizer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/imsearch/retrieval/internal/mmfile"
	"github.com/imsearch/retrieval/pkg/hamming"
)

// Save dumps the quantizer to a pair of files under the given base
// path: "<base>.graph" holds the adjacency structure and "<base>.data"
// holds the raw centroid codes.
func (idx *Index) Save(base string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	dataFile, err := os.Create(base + ".data")
	if err != nil {
		return fmt.Errorf("quantizer: create data file: %w", err)
	}
	defer dataFile.Close()
	for _, c := range idx.centroids {
		if _, err := dataFile.Write(c[:]); err != nil {
			return fmt.Errorf("quantizer: write data file: %w", err)
		}
	}
	if err := dataFile.Sync(); err != nil {
		return fmt.Errorf("quantizer: sync data file: %w", err)
	}

	graphFile, err := os.Create(base + ".graph")
	if err != nil {
		return fmt.Errorf("quantizer: create graph file: %w", err)
	}
	defer graphFile.Close()

	w := bufio.NewWriter(graphFile)
	header := []uint64{
		uint64(len(idx.centroids)),
		uint64(idx.m),
		uint64(idx.m0),
		uint64(idx.efConstruction),
		uint64(idx.efSearch),
		uint64(int64(idx.maxLayer)),
		entryID(idx.entryPoint),
		idx.nodeCounter,
	}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("quantizer: write graph header: %w", err)
		}
	}

	for id := uint64(0); id < idx.nodeCounter; id++ {
		n := idx.nodes[id]
		if n == nil {
			return fmt.Errorf("quantizer: invariant violated, missing node %d on save", id)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(n.level)); err != nil {
			return err
		}
		for layer := 0; layer <= n.level; layer++ {
			neighbors := n.GetNeighbors(layer)
			if err := binary.Write(w, binary.LittleEndian, uint32(len(neighbors))); err != nil {
				return err
			}
			for _, nb := range neighbors {
				if err := binary.Write(w, binary.LittleEndian, nb); err != nil {
					return err
				}
			}
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("quantizer: flush graph file: %w", err)
	}
	return graphFile.Sync()
}

func entryID(n *node) uint64 {
	if n == nil {
		return ^uint64(0)
	}
	return n.id
}

// persistLoader owns the mmap of the .data file a reloaded Index was
// read from. The Index holds the only reference, so the mapping lives
// exactly as long as the quantizer does and is released by Close.
type persistLoader struct {
	cleanup func() error
}

// Open loads a quantizer previously written by Save. The returned
// Index keeps the backing mmap open until Close is called.
func Open(base string, cfg Config) (*Index, error) {
	raw, cleanup, err := mmfile.Map(base + ".data")
	if err != nil {
		return nil, fmt.Errorf("quantizer: open data file: %w", err)
	}

	graphFile, err := os.Open(base + ".graph")
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("quantizer: open graph file: %w", err)
	}
	defer graphFile.Close()

	r := bufio.NewReader(graphFile)
	header := make([]uint64, 8)
	for i := range header {
		if err := binary.Read(r, binary.LittleEndian, &header[i]); err != nil {
			cleanup()
			return nil, fmt.Errorf("quantizer: read graph header: %w", err)
		}
	}
	nlist := int(header[0])
	if len(raw) != nlist*hamming.Size {
		cleanup()
		return nil, fmt.Errorf("quantizer: invariant violated, data file size %d does not match nlist %d", len(raw), nlist)
	}

	idx := New(Config{M: int(header[1]), EfConstruction: int(header[3]), EfSearch: int(header[4])})
	idx.m0 = int(header[2])
	idx.maxLayer = int(int64(header[5]))
	idx.nodeCounter = header[7]
	idx.loader = &persistLoader{cleanup: cleanup}

	idx.centroids = make([]hamming.Code, nlist)
	for i := 0; i < nlist; i++ {
		copy(idx.centroids[i][:], raw[i*hamming.Size:(i+1)*hamming.Size])
	}

	for id := uint64(0); id < idx.nodeCounter; id++ {
		var level uint32
		if err := binary.Read(r, binary.LittleEndian, &level); err != nil {
			cleanup()
			return nil, fmt.Errorf("quantizer: read node level: %w", err)
		}
		n := newNode(id, idx.centroids[id], int(level))
		for layer := 0; layer <= int(level); layer++ {
			var count uint32
			if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
				cleanup()
				return nil, err
			}
			neighbors := make([]uint64, count)
			for i := range neighbors {
				if err := binary.Read(r, binary.LittleEndian, &neighbors[i]); err != nil {
					cleanup()
					return nil, err
				}
			}
			n.neighbors[layer] = neighbors
		}
		idx.nodes[id] = n
	}

	entry := header[6]
	if entry != ^uint64(0) {
		idx.entryPoint = idx.nodes[entry]
	}

	return idx, nil
}

// Close releases the backing mmap for an index returned by Open. It is
// a no-op for an in-memory (never persisted) index.
func (idx *Index) Close() error {
	if idx.loader == nil {
		return nil
	}
	return idx.loader.cleanup()
}
