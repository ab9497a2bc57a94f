package source

import (
	"fmt"
	"sort"
	"sync"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/world"
)

// MemoryWorld is a World held in memory. Chunks handed out are copies, so
// converters may modify them.
type MemoryWorld struct {
	mu      sync.Mutex
	level   world.Tag
	chunks  map[core.Dimension]map[core.ChunkPos]*world.Chunk
	corrupt map[core.DimChunk]string
	broken  map[core.Dimension]map[core.RegionPos]error
	reads   map[core.DimChunk]int
}

// NewMemoryWorld returns an empty world with the given level.dat Data compound.
func NewMemoryWorld(level world.Tag) *MemoryWorld {
	if level == nil {
		level = world.Tag{"LevelName": "memory", "Time": int64(0)}
	}
	return &MemoryWorld{
		level:   level,
		chunks:  make(map[core.Dimension]map[core.ChunkPos]*world.Chunk),
		corrupt: make(map[core.DimChunk]string),
		broken:  make(map[core.Dimension]map[core.RegionPos]error),
		reads:   make(map[core.DimChunk]int),
	}
}

// AddChunk stores c in dim.
func (m *MemoryWorld) AddChunk(dim core.Dimension, c *world.Chunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chunks[dim] == nil {
		m.chunks[dim] = make(map[core.ChunkPos]*world.Chunk)
	}
	m.chunks[dim][c.Pos] = c
}

// CorruptChunk makes ReadChunk fail for an existing chunk position.
func (m *MemoryWorld) CorruptChunk(dim core.Dimension, pos core.ChunkPos, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrupt[core.DimChunk{Dimension: dim, Pos: pos}] = reason
	if m.chunks[dim] == nil {
		m.chunks[dim] = make(map[core.ChunkPos]*world.Chunk)
	}
	if _, ok := m.chunks[dim][pos]; !ok {
		m.chunks[dim][pos] = &world.Chunk{Pos: pos}
	}
}

// BreakRegion makes OpenRegion fail with err.
func (m *MemoryWorld) BreakRegion(dim core.Dimension, pos core.RegionPos, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.broken[dim] == nil {
		m.broken[dim] = make(map[core.RegionPos]error)
	}
	m.broken[dim][pos] = err
}

// Reads is how many times a chunk was read.
func (m *MemoryWorld) Reads(dim core.Dimension, pos core.ChunkPos) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[core.DimChunk{Dimension: dim, Pos: pos}]
}

func (m *MemoryWorld) LevelData() (world.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return world.Clone(m.level), nil
}

func (m *MemoryWorld) Regions(dim core.Dimension) ([]core.RegionPos, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[core.RegionPos]bool)
	for pos := range m.chunks[dim] {
		seen[pos.Region()] = true
	}
	for pos := range m.broken[dim] {
		seen[pos] = true
	}
	out := make([]core.RegionPos, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Z < out[j].Z
	})
	return out, nil
}

func (m *MemoryWorld) OpenRegion(dim core.Dimension, pos core.RegionPos) (Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.broken[dim][pos]; err != nil {
		return nil, err
	}
	var chunks []core.ChunkPos
	for lz := 0; lz < 32; lz++ {
		for lx := 0; lx < 32; lx++ {
			c := pos.Chunk(lx, lz)
			if _, ok := m.chunks[dim][c]; ok {
				chunks = append(chunks, c)
			}
		}
	}
	return &memoryRegion{world: m, dim: dim, chunks: chunks}, nil
}

func (m *MemoryWorld) Close() error { return nil }

type memoryRegion struct {
	world  *MemoryWorld
	dim    core.Dimension
	chunks []core.ChunkPos
}

func (r *memoryRegion) Chunks() []core.ChunkPos { return r.chunks }

func (r *memoryRegion) ReadChunk(pos core.ChunkPos) (*world.Chunk, error) {
	m := r.world
	m.mu.Lock()
	defer m.mu.Unlock()
	key := core.DimChunk{Dimension: r.dim, Pos: pos}
	m.reads[key]++
	if reason, ok := m.corrupt[key]; ok {
		return nil, fmt.Errorf("%w: chunk %s: %s", ErrCorruptChunk, pos, reason)
	}
	c, ok := m.chunks[r.dim][pos]
	if !ok {
		return nil, fmt.Errorf("%w: chunk %s not present", ErrCorruptChunk, pos)
	}
	return cloneChunk(c), nil
}

func (r *memoryRegion) Close() error { return nil }

func cloneChunk(c *world.Chunk) *world.Chunk {
	out := &world.Chunk{Pos: c.Pos, DataVersion: c.DataVersion, LastUpdate: c.LastUpdate}
	for _, s := range c.Sections {
		out.Sections = append(out.Sections, &world.Section{
			Y:       s.Y,
			Palette: append([]world.Block(nil), s.Palette...),
			Indices: append([]uint16(nil), s.Indices...),
		})
	}
	for _, t := range c.TileEntities {
		out.TileEntities = append(out.TileEntities, world.Clone(t))
	}
	for _, t := range c.Entities {
		out.Entities = append(out.Entities, world.Clone(t))
	}
	return out
}
