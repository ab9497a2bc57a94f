package convert

import (
	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/identity"
	"github.com/INLOpen/chunkbridge/world"
	"github.com/google/uuid"
)

// LeashKnotIdentifier is the Bedrock identifier of a fence knot.
const LeashKnotIdentifier = "minecraft:leash_knot"

// ConvertEntity implements Collaborators. A vehicle comes first, followed
// by its passengers depth first. A mob tied to a fence brings a synthetic
// knot; Java knot entities themselves are dropped, as are item frames,
// which Bedrock stores as blocks.
func (t *Tables) ConvertEntity(tag world.Tag, ctx *EntityContext) EntityResult {
	id := world.String(tag, "id")
	switch id {
	case "", "minecraft:item_frame", "minecraft:glow_item_frame", LeashKnotIdentifier:
		return EntityResult{}
	}
	var out []*world.Entity
	if t.convertOne(tag, ctx, &out) == nil {
		return EntityResult{}
	}
	return EntityResult{Entities: out, Autonomous: t.Autonomous[id]}
}

func (t *Tables) convertOne(tag world.Tag, ctx *EntityContext, out *[]*world.Entity) *world.Entity {
	id := world.String(tag, "id")
	pos, ok := world.Doubles(tag, "Pos")
	if id == "" || !ok {
		return nil
	}
	e := &world.Entity{Identifier: id, Pos: pos, Tag: world.Tag{
		"definitions": []any{"+" + id},
		"Persistent":  uint8(1),
	}}
	if u, ok := identity.FromTag(tag); ok {
		e.UniqueID = ctx.Registrar.ToID(u)
	} else {
		e.UniqueID = ctx.Registrar.ToID(uuid.New())
	}
	if rot, ok := rotation(tag); ok {
		e.Tag["Rotation"] = rot
	}
	copyCustomName(e.Tag, tag)
	*out = append(*out, e)

	if fence, holder, ok := leashOf(tag); ok {
		if holder != uuid.Nil {
			e.Tag["LeasherID"] = ctx.Registrar.ToID(holder)
		} else {
			knot := LeashKnot(ctx.Dimension, fence)
			e.Tag["LeasherID"] = knot.UniqueID
			*out = append(*out, knot)
		}
	}

	var links []any
	for _, p := range world.List(tag, "Passengers") {
		pt, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if rider := t.convertOne(pt, ctx, out); rider != nil {
			links = append(links, world.Tag{"entityID": rider.UniqueID, "LinkID": int32(len(links))})
		}
	}
	if len(links) > 0 {
		e.Tag["LinksTag"] = links
	}
	return e
}

// LeashKnot returns the knot on the fence at pos. Every mob tied to the
// same fence gets the same knot id.
func LeashKnot(dim core.Dimension, fence core.BlockPos) *world.Entity {
	id := identity.LeashKnotID(identity.PositionSeed(dim, fence, LeashKnotIdentifier))
	return &world.Entity{
		UniqueID:   id,
		Identifier: LeashKnotIdentifier,
		Pos:        [3]float64{float64(fence.X) + 0.5, float64(fence.Y) + 0.25, float64(fence.Z) + 0.5},
		Tag: world.Tag{
			"definitions": []any{"+" + LeashKnotIdentifier},
			"Persistent":  uint8(1),
		},
	}
}

// leashOf reads where an entity is leashed. Java 1.20.5 and later store
// "leash" as either a position int array or a compound with the holder
// UUID; older versions store "Leash" with X, Y, Z or the holder UUID.
func leashOf(tag world.Tag) (core.BlockPos, uuid.UUID, bool) {
	switch v := tag["leash"].(type) {
	case []int32:
		if len(v) == 3 {
			return core.BlockPos{X: v[0], Y: v[1], Z: v[2]}, uuid.Nil, true
		}
	case map[string]any:
		if u, ok := identity.FromTag(v); ok {
			return core.BlockPos{}, u, true
		}
	}
	l, ok := world.Compound(tag, "Leash")
	if !ok {
		return core.BlockPos{}, uuid.Nil, false
	}
	if u, ok := identity.FromTag(l); ok {
		return core.BlockPos{}, u, true
	}
	x, okX := world.Int(l, "X")
	y, okY := world.Int(l, "Y")
	z, okZ := world.Int(l, "Z")
	if okX && okY && okZ {
		return core.BlockPos{X: int32(x), Y: int32(y), Z: int32(z)}, uuid.Nil, true
	}
	return core.BlockPos{}, uuid.Nil, false
}

func rotation(tag world.Tag) ([]any, bool) {
	switch v := tag["Rotation"].(type) {
	case []float32:
		if len(v) == 2 {
			return []any{v[0], v[1]}, true
		}
	case []any:
		if len(v) == 2 {
			out := make([]any, 2)
			for i, f := range v {
				switch f := f.(type) {
				case float32:
					out[i] = f
				case float64:
					out[i] = float32(f)
				default:
					return nil, false
				}
			}
			return out, true
		}
	}
	return nil, false
}
