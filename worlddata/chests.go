package worlddata

import (
	"sort"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/world"
)

// PairChests links two converted chest halves. Both get the partner's x and
// z; the Java left half becomes the lead. Bedrock shows the lead's items
// first while Java shows the right half's first, so the item lists are
// swapped to keep the displayed order. left and right are modified in place.
func PairChests(left, right world.Tag, leftPos, rightPos core.BlockPos) {
	left["pairx"] = rightPos.X
	left["pairz"] = rightPos.Z
	left["pairlead"] = uint8(1)
	right["pairx"] = leftPos.X
	right["pairz"] = leftPos.Z
	right["pairlead"] = uint8(0)

	li, lok := left["Items"]
	ri, rok := right["Items"]
	delete(left, "Items")
	delete(right, "Items")
	if rok {
		left["Items"] = ri
	}
	if lok {
		right["Items"] = li
	}
}

// ChestResolution is the outcome of ResolveChests.
type ChestResolution struct {
	// Chunks maps every chunk that held a pending chest to its rewritten
	// block entity list.
	Chunks map[core.ChunkPos][]world.Tag
	Paired int
	// Unpaired lists halves whose partner never appeared, in position order.
	Unpaired []core.BlockPos
}

// ResolveChests pairs every pending chest with its partner. It must run
// after all regions of the dimension have been drained into a. The pending
// records are consumed.
func (a *Accumulator) ResolveChests() ChestResolution {
	res := ChestResolution{Chunks: make(map[core.ChunkPos][]world.Tag)}
	positions := make([]core.BlockPos, 0, len(a.PendingChests))
	for p := range a.PendingChests {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Less(positions[j]) })

	done := make(map[core.BlockPos]bool, len(positions))
	for _, p := range positions {
		if done[p] {
			continue
		}
		c := a.PendingChests[p]
		partner, ok := a.PendingChests[c.Partner]
		done[p] = true
		if !ok || partner.Partner != p || c.Left == partner.Left {
			res.Unpaired = append(res.Unpaired, p)
			continue
		}
		done[c.Partner] = true
		l, r := c, partner
		if !l.Left {
			l, r = r, l
		}
		l.Tag["Items"], r.Tag["Items"] = l.Items, r.Items
		if l.Items == nil {
			delete(l.Tag, "Items")
		}
		if r.Items == nil {
			delete(r.Tag, "Items")
		}
		PairChests(l.Tag, r.Tag, l.Pos, r.Pos)
		res.Paired++
	}

	for _, c := range a.PendingChests {
		tiles, ok := res.Chunks[c.Chunk]
		if !ok {
			tiles = a.PendingTiles[c.Chunk]
		}
		res.Chunks[c.Chunk] = replaceTile(tiles, c.Pos, c.Tag)
	}
	a.PendingChests = make(map[core.BlockPos]PendingChest)
	a.PendingTiles = make(map[core.ChunkPos][]world.Tag)
	return res
}

// replaceTile swaps the block entity at pos, appending it if absent.
func replaceTile(tiles []world.Tag, pos core.BlockPos, tag world.Tag) []world.Tag {
	for i, t := range tiles {
		if TilePos(t) == pos {
			tiles[i] = tag
			return tiles
		}
	}
	return append(tiles, tag)
}

// TilePos reads the x, y, z fields of a block entity.
func TilePos(t world.Tag) core.BlockPos {
	x, _ := world.Int(t, "x")
	y, _ := world.Int(t, "y")
	z, _ := world.Int(t, "z")
	return core.BlockPos{X: int32(x), Y: int32(y), Z: int32(z)}
}
