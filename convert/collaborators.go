// Package convert turns the chunks of one source region into staged Bedrock
// records. Block, entity and tile entity mappings come from a Collaborators
// implementation; the converter owns everything that spans more than one
// block: placeholders, chest pairing, entity ownership and the attachment
// index.
package convert

import (
	"fmt"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/identity"
	"github.com/INLOpen/chunkbridge/world"
)

// Placeholder block names the converter substitutes for Java piston heads
// and moving pistons before block conversion. Tables map them to their
// Bedrock counterparts.
const (
	PistonArmPlaceholder   = "chunkbridge:piston_arm_collision"
	MovingBlockPlaceholder = "chunkbridge:moving_block"
)

// EntityContext is handed to ConvertEntity.
type EntityContext struct {
	Dimension core.Dimension
	// Chunk is the chunk the entity was read from.
	Chunk     core.ChunkPos
	Registrar *identity.Registrar
}

// EntityResult holds the entities produced from one source entity. It may be
// empty. The converter sets each entity's Chunk from its position.
type EntityResult struct {
	Entities []*world.Entity
	// Autonomous marks entities the target world tracks outside any chunk.
	Autonomous bool
}

// TileContext is handed to ConvertTileEntity.
type TileContext struct {
	Dimension core.Dimension
	// Chunk is the source chunk holding the block, after preprocessing.
	Chunk     *world.Chunk
	Registrar *identity.Registrar
}

// TileResult is the outcome of converting one tile entity position. Both
// fields are optional.
type TileResult struct {
	Tag world.Tag
	// Block replaces the converted block at the position.
	Block *world.BlockData
}

// Collaborators supplies the per-item mappings.
type Collaborators interface {
	ConvertBlock(b world.Block) world.BlockData
	// HasTileEntity reports whether the block needs a tile entity even when
	// the source has none at its position.
	HasTileEntity(b world.Block) bool
	ConvertEntity(tag world.Tag, ctx *EntityContext) EntityResult
	// ConvertTileEntity receives a nil tag when the source has no tile
	// entity at pos.
	ConvertTileEntity(pos core.BlockPos, b world.Block, tag world.Tag, ctx *TileContext) TileResult
}

// SafeConvertEntity calls c.ConvertEntity and reports a panic as an error,
// so one malformed entity never takes down a worker.
func SafeConvertEntity(c Collaborators, tag world.Tag, ctx *EntityContext) (res EntityResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = EntityResult{}, fmt.Errorf("convert entity %q: %v", world.String(tag, "id"), p)
		}
	}()
	return c.ConvertEntity(tag, ctx), nil
}

// IdentityBlock is the fallback mapping: same name, properties as string
// states.
func IdentityBlock(b world.Block) world.BlockData {
	states := make(map[string]any, len(b.Properties))
	for k, v := range b.Properties {
		states[k] = v
	}
	return world.BlockData{Name: b.Name, States: states, Version: world.CurrentBlockVersion}
}
