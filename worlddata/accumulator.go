// Package worlddata holds the per-dimension aggregates every region
// conversion produces and the level-wide data they drain into. Every field
// merges associatively and commutatively, so regions may finish in any order.
package worlddata

import (
	"sort"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/world"
	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/caio/go-tdigest/v4"
)

// Portal is a nether portal recorded for the Bedrock portal table.
type Portal struct {
	// Pos is the lowest corner of the portal's interior.
	Pos  core.BlockPos
	Axis string
	Span int32
}

// PendingChest is one half of a double chest whose partner lies in another
// region. Both halves record themselves; ResolveChests pairs them.
type PendingChest struct {
	Pos     core.BlockPos
	Partner core.BlockPos
	Chunk   core.ChunkPos
	// Tag is the converted block entity of this half.
	Tag   world.Tag
	Items []any
	// Left is true for the Java half whose type property is "left".
	Left bool
}

// Accumulator is the aggregate of one dimension. The zero value is not
// usable; call New.
type Accumulator struct {
	Dimension core.Dimension

	Regions      uint64
	Chunks       uint64
	Attempts     uint64
	Entities     uint64
	TileEntities uint64
	Fallbacks    uint64
	MaxTick      int64

	// Coverage holds every chunk (ChunkPos.Pack) a conversion was attempted for.
	Coverage *roaring64.Bitmap
	// Latency is the distribution of per-chunk conversion times in milliseconds.
	Latency *tdigest.TDigest

	PendingChests map[core.BlockPos]PendingChest
	// PendingTiles is the complete block entity list of every chunk that
	// holds a pending chest.
	PendingTiles map[core.ChunkPos][]world.Tag
	Autonomous   []*world.Entity
	Portals      map[core.BlockPos]Portal
	// StillValid is false once any chunk came from an unsupported data version.
	StillValid bool
	Skipped    []core.SkippedUnit
}

// New returns an empty accumulator for dim.
func New(dim core.Dimension) *Accumulator {
	a := &Accumulator{Dimension: dim}
	a.reset()
	return a
}

func (a *Accumulator) reset() {
	dim := a.Dimension
	td, err := tdigest.New()
	if err != nil {
		// tdigest.New only fails on invalid options.
		panic(err)
	}
	*a = Accumulator{
		Dimension:     dim,
		Coverage:      roaring64.New(),
		Latency:       td,
		PendingChests: make(map[core.BlockPos]PendingChest),
		PendingTiles:  make(map[core.ChunkPos][]world.Tag),
		Portals:       make(map[core.BlockPos]Portal),
		StillValid:    true,
	}
}

// RecordAttempt marks a conversion attempt for pos. It reports false if the
// chunk had already been attempted.
func (a *Accumulator) RecordAttempt(pos core.ChunkPos) bool {
	a.Attempts++
	return a.Coverage.CheckedAdd(pos.Pack())
}

// ObserveLatency adds one per-chunk timing in milliseconds.
func (a *Accumulator) ObserveLatency(ms float64) {
	_ = a.Latency.Add(ms)
}

// Skip records a unit left out of the output.
func (a *Accumulator) Skip(u core.SkippedUnit) {
	a.Skipped = append(a.Skipped, u)
}

// AddAutonomous records an entity that is not owned by any chunk.
func (a *Accumulator) AddAutonomous(e *world.Entity) {
	a.Autonomous = append(a.Autonomous, e)
}

// Drain absorbs src into a and leaves src empty. Draining nil or a itself is
// a no-op.
func (a *Accumulator) Drain(src *Accumulator) {
	if src == nil || src == a {
		return
	}
	a.Regions += src.Regions
	a.Chunks += src.Chunks
	a.Attempts += src.Attempts
	a.Entities += src.Entities
	a.TileEntities += src.TileEntities
	a.Fallbacks += src.Fallbacks
	if src.MaxTick > a.MaxTick {
		a.MaxTick = src.MaxTick
	}
	a.Coverage.Or(src.Coverage)
	if src.Latency.Count() > 0 {
		_ = a.Latency.Merge(src.Latency)
	}
	for k, v := range src.PendingChests {
		a.PendingChests[k] = v
	}
	for k, v := range src.PendingTiles {
		a.PendingTiles[k] = v
	}
	a.Autonomous = append(a.Autonomous, src.Autonomous...)
	for k, v := range src.Portals {
		a.Portals[k] = v
	}
	a.StillValid = a.StillValid && src.StillValid
	a.Skipped = append(a.Skipped, src.Skipped...)
	src.reset()
}

// AutonomousSorted returns the autonomous entities ordered by unique id.
func (a *Accumulator) AutonomousSorted() []*world.Entity {
	out := append([]*world.Entity(nil), a.Autonomous...)
	sort.Slice(out, func(i, j int) bool { return out[i].UniqueID < out[j].UniqueID })
	return out
}

// SkippedSorted returns the skipped units in a deterministic order.
func (a *Accumulator) SkippedSorted() []core.SkippedUnit {
	out := append([]core.SkippedUnit(nil), a.Skipped...)
	core.SortSkipped(out)
	return out
}

// PortalList returns the portals ordered by position.
func (a *Accumulator) PortalList() []Portal {
	out := make([]Portal, 0, len(a.Portals))
	for _, p := range a.Portals {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pos.Less(out[j].Pos) })
	return out
}

// Duplicates is the number of attempts beyond one per chunk.
func (a *Accumulator) Duplicates() uint64 {
	return a.Attempts - a.Coverage.GetCardinality()
}

// Equal reports field-wise equivalence. The latency digests are compared by
// sample count since their centroids depend on merge order.
func Equal(a, b *Accumulator) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Dimension != b.Dimension || a.Regions != b.Regions || a.Chunks != b.Chunks ||
		a.Attempts != b.Attempts || a.Entities != b.Entities || a.TileEntities != b.TileEntities ||
		a.Fallbacks != b.Fallbacks || a.MaxTick != b.MaxTick || a.StillValid != b.StillValid {
		return false
	}
	if !a.Coverage.Equals(b.Coverage) || a.Latency.Count() != b.Latency.Count() {
		return false
	}
	if len(a.PendingChests) != len(b.PendingChests) || len(a.PendingTiles) != len(b.PendingTiles) || len(a.Portals) != len(b.Portals) {
		return false
	}
	for k, v := range a.PendingChests {
		w, ok := b.PendingChests[k]
		if !ok || v.Partner != w.Partner || v.Left != w.Left || v.Chunk != w.Chunk {
			return false
		}
	}
	for k, v := range a.PendingTiles {
		if w, ok := b.PendingTiles[k]; !ok || len(v) != len(w) {
			return false
		}
	}
	for k, v := range a.Portals {
		if b.Portals[k] != v {
			return false
		}
	}
	ae, be := a.AutonomousSorted(), b.AutonomousSorted()
	if len(ae) != len(be) {
		return false
	}
	for i := range ae {
		if ae[i].UniqueID != be[i].UniqueID {
			return false
		}
	}
	as, bs := a.SkippedSorted(), b.SkippedSorted()
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i].String() != bs[i].String() {
			return false
		}
	}
	return true
}
