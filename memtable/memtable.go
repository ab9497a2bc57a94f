// Package memtable holds the in-memory sort buffer used to order one staging
// writer's records before they are written out as a segment.
package memtable

import (
	"bytes"
	"sync"

	"github.com/INLOpen/skiplist"
)

// Key orders records by key ascending, then by sequence descending, so the
// newest version of a key is visited first.
type Key struct {
	Key []byte
	Seq uint64
}

// Entry locates a staged value in a writer's value stream.
type Entry struct {
	Key      []byte
	Seq      uint64
	Offset   int64
	Length   uint32
	RawLen   uint32
	Checksum uint32

	// Compression is the core.CompressionType of the stored value.
	Compression uint8
}

func (e *Entry) size() int64 {
	return int64(len(e.Key)) + 8 + 8 + 4 + 4 + 4 + 1
}

func comparator(a, b *Key) int {
	if cmp := bytes.Compare(a.Key, b.Key); cmp != 0 {
		return cmp
	}
	if a.Seq > b.Seq {
		return -1
	}
	if a.Seq < b.Seq {
		return 1
	}
	return 0
}

// SortBuffer is a skiplist of staged record locations.
type SortBuffer struct {
	mu        sync.RWMutex
	data      *skiplist.SkipList[*Key, *Entry]
	sizeBytes int64
}

func New() *SortBuffer {
	return &SortBuffer{
		data: skiplist.NewWithComparator[*Key, *Entry](comparator),
	}
}

// Put inserts e. Re-inserting the same key and sequence replaces the entry.
func (b *SortBuffer) Put(e *Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old := b.data.Insert(&Key{Key: e.Key, Seq: e.Seq}, e); old == nil {
		b.sizeBytes += e.size()
	}
}

// Latest returns the newest entry for key.
func (b *SortBuffer) Latest(key []byte) (*Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	node, ok := b.data.Seek(&Key{Key: key, Seq: ^uint64(0)})
	if !ok || !bytes.Equal(node.Key().Key, key) {
		return nil, false
	}
	return node.Value(), true
}

// Ascend visits every entry in (key asc, seq desc) order until fn returns
// an error.
func (b *SortBuffer) Ascend(fn func(e *Entry) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	iter := b.data.NewIterator()
	for iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func (b *SortBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data.Len()
}

// Size is the estimated memory held by the buffer.
func (b *SortBuffer) Size() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sizeBytes
}
