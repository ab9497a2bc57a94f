package sstable

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

var errBlockCorrupt = errors.New("sstable: corrupt block")

// blockBuilder accumulates prefix-compressed entries for one data block.
//
// Entry layout:
//
//	shared   uvarint  bytes shared with the previous key
//	unshared uvarint  length of the key suffix
//	valueLen uvarint
//	seq      uvarint
//	key suffix, value
//
// The block ends with the restart offsets (uint32 LE each) and their count.
type blockBuilder struct {
	buf             bytes.Buffer
	restartInterval int
	restarts        []uint32
	lastKey         []byte
	firstKey        []byte
	entries         int
	scratch         [binary.MaxVarintLen64]byte
}

func newBlockBuilder(restartInterval int) *blockBuilder {
	if restartInterval <= 0 {
		restartInterval = DefaultRestartPointInterval
	}
	return &blockBuilder{restartInterval: restartInterval}
}

func (b *blockBuilder) putUvarint(v uint64) {
	n := binary.PutUvarint(b.scratch[:], v)
	b.buf.Write(b.scratch[:n])
}

func (b *blockBuilder) add(key, value []byte, seq uint64) {
	shared := 0
	if b.entries%b.restartInterval == 0 {
		b.restarts = append(b.restarts, uint32(b.buf.Len()))
	} else {
		limit := min(len(key), len(b.lastKey))
		for shared < limit && key[shared] == b.lastKey[shared] {
			shared++
		}
	}
	if b.entries == 0 {
		b.firstKey = append(b.firstKey[:0], key...)
	}
	b.putUvarint(uint64(shared))
	b.putUvarint(uint64(len(key) - shared))
	b.putUvarint(uint64(len(value)))
	b.putUvarint(seq)
	b.buf.Write(key[shared:])
	b.buf.Write(value)
	b.lastKey = append(b.lastKey[:0], key...)
	b.entries++
}

// finish appends the restart trailer and returns the raw block.
func (b *blockBuilder) finish() []byte {
	var tmp [4]byte
	for _, off := range b.restarts {
		binary.LittleEndian.PutUint32(tmp[:], off)
		b.buf.Write(tmp[:])
	}
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(b.restarts)))
	b.buf.Write(tmp[:])
	return b.buf.Bytes()
}

func (b *blockBuilder) reset() {
	b.buf.Reset()
	b.restarts = b.restarts[:0]
	b.lastKey = b.lastKey[:0]
	b.firstKey = b.firstKey[:0]
	b.entries = 0
}

func (b *blockBuilder) estimatedSize() int {
	return b.buf.Len() + 4*len(b.restarts) + 4
}

// Block is a decoded, uncompressed data block.
type Block struct {
	data     []byte // entries only, trailer stripped
	restarts []uint32
}

// NewBlock parses the restart trailer of raw.
func NewBlock(raw []byte) (*Block, error) {
	if len(raw) < 4 {
		return nil, errBlockCorrupt
	}
	n := int(binary.LittleEndian.Uint32(raw[len(raw)-4:]))
	trailer := 4 + 4*n
	if n < 0 || trailer > len(raw) {
		return nil, fmt.Errorf("%w: %d restart points in %d bytes", errBlockCorrupt, n, len(raw))
	}
	blk := &Block{data: raw[:len(raw)-trailer], restarts: make([]uint32, n)}
	base := len(raw) - trailer
	for i := 0; i < n; i++ {
		blk.restarts[i] = binary.LittleEndian.Uint32(raw[base+4*i:])
	}
	return blk, nil
}

// Find returns the value and sequence of the newest entry for key in the block.
func (b *Block) Find(key []byte) ([]byte, uint64, bool, error) {
	// The last restart whose key is <= key is where the linear scan starts.
	idx := sort.Search(len(b.restarts), func(i int) bool {
		it := b.iteratorAt(int(b.restarts[i]))
		if !it.Next() {
			return true
		}
		return bytes.Compare(it.Key(), key) > 0
	})
	start := 0
	if idx > 0 {
		start = int(b.restarts[idx-1])
	}
	it := b.iteratorAt(start)
	for it.Next() {
		switch c := bytes.Compare(it.Key(), key); {
		case c == 0:
			// Entries are ordered by sequence descending, the first hit is the newest.
			return it.Value(), it.Seq(), true, nil
		case c > 0:
			return nil, 0, false, nil
		}
	}
	return nil, 0, false, it.Error()
}

// NewIterator returns an iterator over all entries of the block.
func (b *Block) NewIterator() *BlockIterator {
	return b.iteratorAt(0)
}

func (b *Block) iteratorAt(offset int) *BlockIterator {
	return &BlockIterator{data: b.data, offset: offset}
}

// BlockIterator walks the entries of one block in order.
type BlockIterator struct {
	data   []byte
	offset int
	key    []byte
	value  []byte
	seq    uint64
	err    error
}

func (it *BlockIterator) readUvarint() (uint64, bool) {
	v, n := binary.Uvarint(it.data[it.offset:])
	if n <= 0 {
		it.err = errBlockCorrupt
		return 0, false
	}
	it.offset += n
	return v, true
}

func (it *BlockIterator) Next() bool {
	if it.err != nil || it.offset >= len(it.data) {
		return false
	}
	shared, ok := it.readUvarint()
	if !ok {
		return false
	}
	unshared, ok := it.readUvarint()
	if !ok {
		return false
	}
	valueLen, ok := it.readUvarint()
	if !ok {
		return false
	}
	seq, ok := it.readUvarint()
	if !ok {
		return false
	}
	end := it.offset + int(unshared) + int(valueLen)
	if int(shared) > len(it.key) || end > len(it.data) {
		it.err = errBlockCorrupt
		return false
	}
	it.key = append(it.key[:shared], it.data[it.offset:it.offset+int(unshared)]...)
	it.offset += int(unshared)
	it.value = it.data[it.offset:end]
	it.offset = end
	it.seq = seq
	return true
}

func (it *BlockIterator) Key() []byte   { return it.key }
func (it *BlockIterator) Value() []byte { return it.value }
func (it *BlockIterator) Seq() uint64   { return it.seq }
func (it *BlockIterator) Error() error  { return it.err }
