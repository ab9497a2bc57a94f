package world

import (
	"sort"

	"github.com/INLOpen/chunkbridge/core"
)

// SectionVolume is the number of blocks in a 16x16x16 section.
const SectionVolume = 4096

// sectionIndex orders blocks y, then z, then x, as Java stores them.
func sectionIndex(x, y, z int) int { return y<<8 | z<<4 | x }

// Section is a 16-block tall slice of a source chunk.
type Section struct {
	Y       int8
	Palette []Block
	// Indices holds one palette index per block, ordered by sectionIndex.
	Indices []uint16
}

// NewSection returns a section filled with one block.
func NewSection(y int8, fill Block) *Section {
	return &Section{Y: y, Palette: []Block{fill}, Indices: make([]uint16, SectionVolume)}
}

// Block returns the block at section-local coordinates.
func (s *Section) Block(x, y, z int) Block {
	if len(s.Indices) != SectionVolume {
		if len(s.Palette) > 0 {
			return s.Palette[0]
		}
		return Air
	}
	return s.Palette[s.Indices[sectionIndex(x, y, z)]]
}

// Set replaces the block at section-local coordinates, growing the palette
// when needed.
func (s *Section) Set(x, y, z int, b Block) {
	if len(s.Indices) != SectionVolume {
		s.Indices = make([]uint16, SectionVolume)
	}
	key := b.Key()
	idx := -1
	for i := range s.Palette {
		if s.Palette[i].Key() == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.Palette = append(s.Palette, b)
		idx = len(s.Palette) - 1
	}
	s.Indices[sectionIndex(x, y, z)] = uint16(idx)
}

// Chunk is a chunk column as read from the source world.
type Chunk struct {
	Pos          core.ChunkPos
	DataVersion  int32
	LastUpdate   int64
	Sections     []*Section
	TileEntities []Tag
	Entities     []Tag
}

// Section returns the section at index y, or nil.
func (c *Chunk) Section(y int8) *Section {
	for _, s := range c.Sections {
		if s.Y == y {
			return s
		}
	}
	return nil
}

// Block returns the block at chunk-local x, z and absolute y.
func (c *Chunk) Block(x, y, z int) Block {
	s := c.Section(int8(y >> 4))
	if s == nil {
		return Air
	}
	return s.Block(x, y&15, z)
}

// SetBlock sets the block at chunk-local x, z and absolute y, creating an
// air-filled section if needed.
func (c *Chunk) SetBlock(x, y, z int, b Block) {
	sy := int8(y >> 4)
	s := c.Section(sy)
	if s == nil {
		s = NewSection(sy, Air)
		c.Sections = append(c.Sections, s)
		sort.Slice(c.Sections, func(i, j int) bool { return c.Sections[i].Y < c.Sections[j].Y })
	}
	s.Set(x, y&15, z, b)
}

// Empty reports whether the chunk has no blocks, tiles or entities.
func (c *Chunk) Empty() bool {
	if len(c.TileEntities) > 0 || len(c.Entities) > 0 {
		return false
	}
	for _, s := range c.Sections {
		for _, b := range s.Palette {
			if !b.IsAir() {
				return false
			}
		}
	}
	return true
}

// TargetSection is a converted section. Indices use the same ordering as
// Section; the encoder reorders them for Bedrock.
type TargetSection struct {
	Y       int8
	Palette []BlockData
	Indices []uint16
}

// Block returns the block at section-local coordinates.
func (s *TargetSection) Block(x, y, z int) BlockData {
	if len(s.Indices) != SectionVolume {
		if len(s.Palette) > 0 {
			return s.Palette[0]
		}
		return BedrockAir
	}
	return s.Palette[s.Indices[sectionIndex(x, y, z)]]
}

// TargetChunk is a converted chunk ready to be encoded.
type TargetChunk struct {
	Dimension     core.Dimension
	Pos           core.ChunkPos
	Sections      []*TargetSection
	HeightMap     [256]int16
	BlockEntities []Tag
	Entities      []*Entity
}

// ComputeHeightMap stores, per column, the height above the dimension floor
// of the first air block above the highest solid block.
func (c *TargetChunk) ComputeHeightMap() {
	minY, _ := c.Dimension.Range()
	for i := range c.HeightMap {
		c.HeightMap[i] = 0
	}
	for x := 0; x < 16; x++ {
		for z := 0; z < 16; z++ {
			c.HeightMap[z<<4|x] = c.columnHeight(x, z, minY)
		}
	}
}

func (c *TargetChunk) columnHeight(x, z int, minY int32) int16 {
	for i := len(c.Sections) - 1; i >= 0; i-- {
		s := c.Sections[i]
		for y := 15; y >= 0; y-- {
			if !s.Block(x, y, z).IsAir() {
				top := int32(s.Y)*16 + int32(y) + 1 - minY
				if top < 0 {
					return 0
				}
				return int16(top)
			}
		}
	}
	return 0
}

// Entity is a converted entity ready to be staged.
type Entity struct {
	UniqueID   int64
	Identifier string
	Pos        [3]float64
	// Chunk is the chunk the entity belongs to in the target world. It may
	// differ from the chunk it was read from.
	Chunk core.ChunkPos
	Tag   Tag
}

// OwningChunk derives the chunk from the entity position.
func (e *Entity) OwningChunk() core.ChunkPos { return core.ChunkAt(e.Pos[0], e.Pos[2]) }

// Set replaces the block at section-local coordinates.
func (s *TargetSection) Set(x, y, z int, b BlockData) {
	if len(s.Indices) != SectionVolume {
		s.Indices = make([]uint16, SectionVolume)
	}
	key := b.Key()
	for i := range s.Palette {
		if s.Palette[i].Key() == key {
			s.Indices[sectionIndex(x, y, z)] = uint16(i)
			return
		}
	}
	s.Palette = append(s.Palette, b)
	s.Indices[sectionIndex(x, y, z)] = uint16(len(s.Palette) - 1)
}

// Section returns the section at index y, or nil.
func (c *TargetChunk) Section(y int8) *TargetSection {
	for _, s := range c.Sections {
		if s.Y == y {
			return s
		}
	}
	return nil
}

// Block returns the block at chunk-local x, z and absolute y.
func (c *TargetChunk) Block(x, y, z int) BlockData {
	s := c.Section(int8(y >> 4))
	if s == nil {
		return BedrockAir
	}
	return s.Block(x, y&15, z)
}
