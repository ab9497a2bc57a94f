// Package source reads the world being converted. JavaWorld reads an Anvil
// save directory; MemoryWorld serves chunks built in memory.
package source

import (
	"errors"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/world"
)

// ErrCorruptChunk marks a chunk that exists but could not be decoded.
var ErrCorruptChunk = errors.New("corrupt chunk")

// World is a source world. Implementations must allow regions to be opened
// concurrently from different goroutines.
type World interface {
	// LevelData returns the Data compound of level.dat.
	LevelData() (world.Tag, error)
	// Regions lists the region files of a dimension.
	Regions(dim core.Dimension) ([]core.RegionPos, error)
	// OpenRegion opens one region for exclusive use by the caller.
	OpenRegion(dim core.Dimension, pos core.RegionPos) (Region, error)
	Close() error
}

// Region is one open region. It is used by a single goroutine.
type Region interface {
	// Chunks lists the chunks stored in the region, z-major.
	Chunks() []core.ChunkPos
	// ReadChunk decodes one chunk. Decoding failures wrap ErrCorruptChunk.
	ReadChunk(pos core.ChunkPos) (*world.Chunk, error)
	Close() error
}
