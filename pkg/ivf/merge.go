package ivf

import (
	"fmt"
	"os"

	"github.com/imsearch/retrieval/pkg/invlists"
)

// MergeOnDisk combines several inverted-lists backends (typically one
// in-memory Array per ingestion shard) into a single on-disk file at
// path. It stacks the sources with a VStack, writes the merged result
// to a temporary file next to path, fsyncs it, then renames it into
// place — so a crash mid-merge never leaves a half-written file where
// callers expect a finished one. Inputs are never modified or deleted;
// callers are responsible for removing shard files only after this
// call returns successfully.
func MergeOnDisk(path string, sources []invlists.InvertedLists) error {
	stacked, err := invlists.NewVStack(sources)
	if err != nil {
		return fmt.Errorf("ivf: merge: %w", err)
	}

	tmpPath := path + ".merging"
	if err := invlists.Save(tmpPath, stacked); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ivf: merge: write merged file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ivf: merge: rename into place: %w", err)
	}
	return nil
}
