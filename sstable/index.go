package sstable

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"sort"
)

// IndexEntry locates one data block.
type IndexEntry struct {
	FirstKey    []byte
	BlockOffset int64
	BlockLength uint32
}

// IndexBuilder collects block entries while a segment is written.
type IndexBuilder struct {
	entries []IndexEntry
}

func (ib *IndexBuilder) Add(firstKey []byte, offset int64, length uint32) {
	k := make([]byte, len(firstKey))
	copy(k, firstKey)
	ib.entries = append(ib.entries, IndexEntry{FirstKey: k, BlockOffset: offset, BlockLength: length})
}

// Build serializes the index as
// [crc32][count] then per entry [keyLen uint32][key][offset int64][length uint32].
func (ib *IndexBuilder) Build() []byte {
	var body bytes.Buffer
	var tmp [8]byte
	binary.LittleEndian.PutUint32(tmp[:4], uint32(len(ib.entries)))
	body.Write(tmp[:4])
	for _, e := range ib.entries {
		binary.LittleEndian.PutUint32(tmp[:4], uint32(len(e.FirstKey)))
		body.Write(tmp[:4])
		body.Write(e.FirstKey)
		binary.LittleEndian.PutUint64(tmp[:8], uint64(e.BlockOffset))
		body.Write(tmp[:8])
		binary.LittleEndian.PutUint32(tmp[:4], e.BlockLength)
		body.Write(tmp[:4])
	}
	out := make([]byte, 4+body.Len())
	binary.LittleEndian.PutUint32(out, crc32.ChecksumIEEE(body.Bytes()))
	copy(out[4:], body.Bytes())
	return out
}

// Index is the decoded block index of a segment.
type Index struct {
	entries []IndexEntry
}

var errIndexCorrupt = errors.New("sstable: corrupt index")

// DeserializeIndex validates and decodes data produced by IndexBuilder.Build.
func DeserializeIndex(data []byte) (*Index, error) {
	if len(data) < 8 {
		return nil, errIndexCorrupt
	}
	body := data[4:]
	if want, got := binary.LittleEndian.Uint32(data), crc32.ChecksumIEEE(body); want != got {
		return nil, fmt.Errorf("%w: checksum mismatch (stored %08x, computed %08x)", errIndexCorrupt, want, got)
	}
	count := int(binary.LittleEndian.Uint32(body))
	body = body[4:]
	idx := &Index{entries: make([]IndexEntry, 0, count)}
	for i := 0; i < count; i++ {
		if len(body) < 4 {
			return nil, errIndexCorrupt
		}
		kl := int(binary.LittleEndian.Uint32(body))
		body = body[4:]
		if len(body) < kl+12 {
			return nil, errIndexCorrupt
		}
		e := IndexEntry{FirstKey: body[:kl:kl]}
		body = body[kl:]
		e.BlockOffset = int64(binary.LittleEndian.Uint64(body))
		e.BlockLength = binary.LittleEndian.Uint32(body[8:])
		body = body[12:]
		idx.entries = append(idx.entries, e)
	}
	return idx, nil
}

// Find returns the block that may contain key.
func (idx *Index) Find(key []byte) (IndexEntry, bool) {
	i := sort.Search(len(idx.entries), func(i int) bool {
		return bytes.Compare(idx.entries[i].FirstKey, key) > 0
	})
	if i == 0 {
		return IndexEntry{}, false
	}
	return idx.entries[i-1], true
}

func (idx *Index) Len() int { return len(idx.entries) }

func (idx *Index) Entry(i int) IndexEntry { return idx.entries[i] }
