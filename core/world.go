package core

import (
	"fmt"
	"math"
	"strings"
)

// Dimension identifies one of the three vanilla dimensions. The numeric
// values match the Bedrock on-disk dimension ids.
type Dimension int32

const (
	Overworld Dimension = 0
	Nether    Dimension = 1
	End       Dimension = 2
)

// AllDimensions lists the dimensions in conversion order.
var AllDimensions = []Dimension{Overworld, Nether, End}

func (d Dimension) String() string {
	switch d {
	case Overworld:
		return "overworld"
	case Nether:
		return "nether"
	case End:
		return "end"
	default:
		return fmt.Sprintf("dimension(%d)", int32(d))
	}
}

// ParseDimension accepts the short names used in configuration files as well
// as the namespaced Java identifiers.
func ParseDimension(s string) (Dimension, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "minecraft:")) {
	case "overworld", "0":
		return Overworld, nil
	case "nether", "the_nether", "-1", "1":
		return Nether, nil
	case "end", "the_end", "2":
		return End, nil
	}
	return Overworld, fmt.Errorf("unknown dimension %q", s)
}

// JavaID returns the legacy numeric id Java Edition uses for the dimension.
func (d Dimension) JavaID() int32 {
	switch d {
	case Nether:
		return -1
	case End:
		return 1
	default:
		return 0
	}
}

// Range returns the lowest and one past the highest buildable y level.
func (d Dimension) Range() (int32, int32) {
	switch d {
	case Nether:
		return 0, 128
	case End:
		return 0, 256
	default:
		return -64, 320
	}
}

// ChunkPos is the position of a 16x16 chunk column.
type ChunkPos struct {
	X, Z int32
}

func (c ChunkPos) String() string { return fmt.Sprintf("(%d, %d)", c.X, c.Z) }

// Add offsets the chunk position.
func (c ChunkPos) Add(dx, dz int32) ChunkPos { return ChunkPos{X: c.X + dx, Z: c.Z + dz} }

// Region returns the 32x32 region that contains the chunk.
func (c ChunkPos) Region() RegionPos { return RegionPos{X: c.X >> 5, Z: c.Z >> 5} }

// Pack encodes the position as a uint64 suitable for bitmaps and sort keys.
func (c ChunkPos) Pack() uint64 {
	return uint64(uint32(c.X))<<32 | uint64(uint32(c.Z))
}

// UnpackChunkPos reverses Pack.
func UnpackChunkPos(v uint64) ChunkPos {
	return ChunkPos{X: int32(uint32(v >> 32)), Z: int32(uint32(v))}
}

// Neighborhood returns the 3x3 block of chunks centred on c in scan order:
// z outer from -1 to 1, x inner from -1 to 1.
func (c ChunkPos) Neighborhood() [9]ChunkPos {
	var out [9]ChunkPos
	i := 0
	for dz := int32(-1); dz <= 1; dz++ {
		for dx := int32(-1); dx <= 1; dx++ {
			out[i] = c.Add(dx, dz)
			i++
		}
	}
	return out
}

// ChunkAt returns the chunk containing the absolute coordinates x, z.
func ChunkAt(x, z float64) ChunkPos {
	return ChunkPos{X: int32(math.Floor(x)) >> 4, Z: int32(math.Floor(z)) >> 4}
}

// BlockPos is an absolute block position.
type BlockPos struct {
	X, Y, Z int32
}

func (b BlockPos) String() string { return fmt.Sprintf("(%d, %d, %d)", b.X, b.Y, b.Z) }

// Chunk returns the chunk column that contains the block.
func (b BlockPos) Chunk() ChunkPos { return ChunkPos{X: b.X >> 4, Z: b.Z >> 4} }

// Add offsets the block position.
func (b BlockPos) Add(dx, dy, dz int32) BlockPos {
	return BlockPos{X: b.X + dx, Y: b.Y + dy, Z: b.Z + dz}
}

// Less orders block positions by x, then z, then y.
func (b BlockPos) Less(o BlockPos) bool {
	if b.X != o.X {
		return b.X < o.X
	}
	if b.Z != o.Z {
		return b.Z < o.Z
	}
	return b.Y < o.Y
}

// RegionPos is the position of a 32x32 chunk region file.
type RegionPos struct {
	X, Z int32
}

func (r RegionPos) String() string { return fmt.Sprintf("r.%d.%d", r.X, r.Z) }

// Contains reports whether the chunk lies inside the region.
func (r RegionPos) Contains(c ChunkPos) bool { return c.Region() == r }

// Chunk returns the absolute position of the chunk at local index (lx, lz).
func (r RegionPos) Chunk(lx, lz int) ChunkPos {
	return ChunkPos{X: r.X<<5 + int32(lx), Z: r.Z<<5 + int32(lz)}
}

// DimChunk identifies a chunk within a dimension.
type DimChunk struct {
	Dimension Dimension
	Pos       ChunkPos
}

func (d DimChunk) String() string { return fmt.Sprintf("%s%s", d.Dimension, d.Pos) }
