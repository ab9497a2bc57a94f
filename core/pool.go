package core

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// BufferPool holds the encode and decompression scratch buffers shared by
// staging writers, segment writers and compressors. Unlike sync.Pool its
// contents survive garbage collection, so a long compaction keeps reusing
// the same buffers.
type BufferPool struct {
	mu       sync.Mutex
	items    []*bytes.Buffer
	capacity int
	// maxRetained bounds len(items); maxBufferCap drops buffers that grew
	// past it on Put, so one oversized chunk does not pin memory.
	maxRetained  int
	maxBufferCap int

	hits    atomic.Uint64
	misses  atomic.Uint64
	dropped atomic.Uint64
}

// PoolStats is a snapshot of BufferPool counters.
type PoolStats struct {
	Hits     uint64
	Misses   uint64
	Dropped  uint64
	Retained int
}

const (
	// DefaultBufferCapacity is the initial capacity of pooled buffers.
	DefaultBufferCapacity = 4 * 1024
	defaultPrewarm        = 64
	defaultMaxRetained    = 1024
	defaultMaxBufferCap   = 4 << 20
)

// Buffers is the process-wide pool.
var Buffers = NewBufferPool(DefaultBufferCapacity)

// NewBufferPool returns a pool of buffers with the given initial capacity,
// pre-warmed with a few of them.
func NewBufferPool(capacity int) *BufferPool {
	if capacity < 0 {
		capacity = 0
	}
	bp := &BufferPool{
		items:        make([]*bytes.Buffer, 0, defaultPrewarm),
		capacity:     capacity,
		maxRetained:  defaultMaxRetained,
		maxBufferCap: defaultMaxBufferCap,
	}
	for i := 0; i < defaultPrewarm; i++ {
		bp.items = append(bp.items, bp.newBuffer())
	}
	return bp
}

func (bp *BufferPool) newBuffer() *bytes.Buffer {
	return bytes.NewBuffer(make([]byte, 0, bp.capacity))
}

// Get returns an empty buffer.
func (bp *BufferPool) Get() *bytes.Buffer {
	bp.mu.Lock()
	n := len(bp.items)
	if n == 0 {
		bp.mu.Unlock()
		bp.misses.Add(1)
		return bp.newBuffer()
	}
	buf := bp.items[n-1]
	bp.items[n-1] = nil
	bp.items = bp.items[:n-1]
	bp.mu.Unlock()
	bp.hits.Add(1)
	return buf
}

// Put resets buf and keeps it unless the pool is full or buf grew too big.
func (bp *BufferPool) Put(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() > bp.maxBufferCap {
		bp.dropped.Add(1)
		return
	}
	buf.Reset()
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if len(bp.items) >= bp.maxRetained {
		bp.dropped.Add(1)
		return
	}
	bp.items = append(bp.items, buf)
}

// Stats returns the pool counters.
func (bp *BufferPool) Stats() PoolStats {
	bp.mu.Lock()
	retained := len(bp.items)
	bp.mu.Unlock()
	return PoolStats{
		Hits:     bp.hits.Load(),
		Misses:   bp.misses.Load(),
		Dropped:  bp.dropped.Load(),
		Retained: retained,
	}
}
