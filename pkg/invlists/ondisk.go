package invlists

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/imsearch/retrieval/internal/mmfile"
	"github.com/imsearch/retrieval/pkg/hamming"
)

// header holds the fixed-layout index that precedes the compressed
// payload in an on-disk inverted-lists file.
type header struct {
	nlist      uint64
	codeSize   uint64
	listLen    []uint64
	listOffset []uint64
	listSize   []uint64
	listSplit  []uint64
}

func (h *header) byteSize() int {
	return 8*2 + 8*4*int(h.nlist)
}

func writeHeader(w *bufio.Writer, h *header) error {
	fields := []uint64{h.nlist, h.codeSize}
	for _, v := range fields {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	for _, s := range [][]uint64{h.listLen, h.listOffset, h.listSize, h.listSplit} {
		for _, v := range s {
			if err := binary.Write(w, binary.LittleEndian, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func readHeader(data []byte) (*header, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("invlists: invariant violated, on-disk file too small for header")
	}
	nlist := binary.LittleEndian.Uint64(data[0:8])
	codeSize := binary.LittleEndian.Uint64(data[8:16])
	if codeSize != uint64(hamming.Size) {
		return nil, fmt.Errorf("invlists: invariant violated, code_size %d does not match %d", codeSize, hamming.Size)
	}

	h := &header{nlist: nlist, codeSize: codeSize}
	need := 16 + 8*4*int(nlist)
	if len(data) < need {
		return nil, fmt.Errorf("invlists: invariant violated, on-disk file truncated")
	}

	readSlice := func(start int) []uint64 {
		out := make([]uint64, nlist)
		for i := range out {
			out[i] = binary.LittleEndian.Uint64(data[start+8*i : start+8*i+8])
		}
		return out
	}

	off := 16
	h.listLen = readSlice(off)
	off += 8 * int(nlist)
	h.listOffset = readSlice(off)
	off += 8 * int(nlist)
	h.listSize = readSlice(off)
	off += 8 * int(nlist)
	h.listSplit = readSlice(off)

	return h, nil
}

// Save writes the contents of src to an on-disk file at path: each
// list's ids and codes are zstd-compressed independently and laid out
// back to back after a fixed header recording per-list length, byte
// offset, byte size, and the ids/codes split point.
func Save(path string, src InvertedLists) error {
	nlist := src.NList()
	h := &header{
		nlist:      uint64(nlist),
		codeSize:   uint64(hamming.Size),
		listLen:    make([]uint64, nlist),
		listOffset: make([]uint64, nlist),
		listSize:   make([]uint64, nlist),
		listSplit:  make([]uint64, nlist),
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("invlists: create zstd encoder: %w", err)
	}
	defer enc.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("invlists: create on-disk file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeHeader(w, h); err != nil {
		return fmt.Errorf("invlists: write header placeholder: %w", err)
	}

	var offset uint64
	for i := 0; i < nlist; i++ {
		ids, codes, err := src.GetList(i)
		if err != nil {
			return fmt.Errorf("invlists: read list %d: %w", i, err)
		}

		idBytes := make([]byte, 8*len(ids))
		for j, id := range ids {
			binary.LittleEndian.PutUint64(idBytes[8*j:], id)
		}
		codeBytes := make([]byte, hamming.Size*len(codes))
		for j, c := range codes {
			copy(codeBytes[hamming.Size*j:], c[:])
		}

		compressedIDs := enc.EncodeAll(idBytes, nil)
		compressedCodes := enc.EncodeAll(codeBytes, nil)

		h.listLen[i] = uint64(len(ids))
		h.listOffset[i] = offset
		h.listSplit[i] = uint64(len(compressedIDs))
		h.listSize[i] = uint64(len(compressedIDs) + len(compressedCodes))
		offset += h.listSize[i]

		if _, err := w.Write(compressedIDs); err != nil {
			return fmt.Errorf("invlists: write list %d ids: %w", i, err)
		}
		if _, err := w.Write(compressedCodes); err != nil {
			return fmt.Errorf("invlists: write list %d codes: %w", i, err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("invlists: flush on-disk file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("invlists: sync on-disk file: %w", err)
	}

	// Overwrite the placeholder header now that every list's offset and
	// size is known.
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("invlists: seek to header: %w", err)
	}
	headerWriter := bufio.NewWriter(f)
	if err := writeHeader(headerWriter, h); err != nil {
		return fmt.Errorf("invlists: rewrite header: %w", err)
	}
	if err := headerWriter.Flush(); err != nil {
		return fmt.Errorf("invlists: flush rewritten header: %w", err)
	}
	return f.Sync()
}

// OnDisk is a read-only, mmap-backed InvertedLists view over a file
// written by Save. Lists are decompressed on demand.
type OnDisk struct {
	data       []byte
	cleanup    func() error
	header     *header
	payloadOff int

	dec *zstd.Decoder
}

// Open memory-maps path and parses its header. The returned OnDisk
// keeps the mapping open until Close is called.
func Open(path string) (*OnDisk, error) {
	data, cleanup, err := mmfile.Map(path)
	if err != nil {
		return nil, fmt.Errorf("invlists: open on-disk file: %w", err)
	}

	h, err := readHeader(data)
	if err != nil {
		cleanup()
		return nil, err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("invlists: create zstd decoder: %w", err)
	}

	return &OnDisk{
		data:       data,
		cleanup:    cleanup,
		header:     h,
		payloadOff: h.byteSize(),
		dec:        dec,
	}, nil
}

// Close releases the backing mmap and decoder resources.
func (o *OnDisk) Close() error {
	o.dec.Close()
	return o.cleanup()
}

func (o *OnDisk) NList() int { return int(o.header.nlist) }

func (o *OnDisk) ListLen(i int) int { return int(o.header.listLen[i]) }

func (o *OnDisk) GetList(i int) ([]uint64, []hamming.Code, error) {
	if i < 0 || i >= int(o.header.nlist) {
		return nil, nil, fmt.Errorf("invlists: list index %d out of range [0,%d)", i, o.header.nlist)
	}

	start := o.payloadOff + int(o.header.listOffset[i])
	size := int(o.header.listSize[i])
	split := int(o.header.listSplit[i])
	if start+size > len(o.data) {
		return nil, nil, fmt.Errorf("invlists: invariant violated, list %d extends past end of file", i)
	}

	idsCompressed := o.data[start : start+split]
	codesCompressed := o.data[start+split : start+size]

	// DecodeAll is safe to call concurrently on a shared *zstd.Decoder,
	// so list fetches from different workers never block each other here.
	idBytes, err := o.dec.DecodeAll(idsCompressed, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("invlists: decode list %d ids: %w", i, err)
	}
	codeBytes, err := o.dec.DecodeAll(codesCompressed, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("invlists: decode list %d codes: %w", i, err)
	}

	n := int(o.header.listLen[i])
	ids := make([]uint64, n)
	for j := 0; j < n; j++ {
		ids[j] = binary.LittleEndian.Uint64(idBytes[8*j : 8*j+8])
	}
	codes := make([]hamming.Code, n)
	for j := 0; j < n; j++ {
		copy(codes[j][:], codeBytes[hamming.Size*j:hamming.Size*(j+1)])
	}
	return ids, codes, nil
}

func (o *OnDisk) AddEntry(i int, id uint64, code hamming.Code) error {
	return fmt.Errorf("invlists: on-disk backend is read-only")
}

func (o *OnDisk) AddEntries(i int, ids []uint64, codes []hamming.Code) error {
	return fmt.Errorf("invlists: on-disk backend is read-only")
}
