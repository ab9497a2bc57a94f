package worlddata

import (
	"sort"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/world"
)

// Player is the converted local player with the entities travelling with it.
type Player struct {
	Dimension core.Dimension
	Tag       world.Tag
	// Vehicle is the entity the player rides, if any.
	Vehicle *world.Entity
	// Riders are the shoulder entities and the vehicle's other passengers.
	Riders []*world.Entity
}

// Entities lists the vehicle, if any, followed by the riders.
func (p *Player) Entities() []*world.Entity {
	if p == nil {
		return nil
	}
	out := make([]*world.Entity, 0, len(p.Riders)+1)
	if p.Vehicle != nil {
		out = append(out, p.Vehicle)
	}
	return append(out, p.Riders...)
}

// LevelData is the level-wide aggregate: one accumulator per dimension plus
// the source metadata and the local player. It is not safe for concurrent
// use; the scheduler merges into it under its own lock.
type LevelData struct {
	dims map[core.Dimension]*Accumulator
	// Source is the Data compound of the source level.dat.
	Source     world.Tag
	SourceTick int64
	Player     *Player
}

// NewLevelData returns empty level data.
func NewLevelData() *LevelData {
	return &LevelData{dims: make(map[core.Dimension]*Accumulator)}
}

// Dimension returns the accumulator of dim, creating it on first use.
func (l *LevelData) Dimension(dim core.Dimension) *Accumulator {
	a, ok := l.dims[dim]
	if !ok {
		a = New(dim)
		l.dims[dim] = a
	}
	return a
}

// Dimensions lists the dimensions that have data, in id order.
func (l *LevelData) Dimensions() []core.Dimension {
	out := make([]core.Dimension, 0, len(l.dims))
	for d := range l.dims {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Drain routes a into the accumulator of its dimension.
func (l *LevelData) Drain(a *Accumulator) {
	if a == nil {
		return
	}
	l.Dimension(a.Dimension).Drain(a)
}

// Absorb drains every dimension of src into l. Metadata and the player are
// taken from src when l has none.
func (l *LevelData) Absorb(src *LevelData) {
	if src == nil || src == l {
		return
	}
	for _, a := range src.dims {
		l.Drain(a)
	}
	if l.Source == nil {
		l.Source = src.Source
	}
	if src.SourceTick > l.SourceTick {
		l.SourceTick = src.SourceTick
	}
	if l.Player == nil {
		l.Player = src.Player
	}
	src.dims = make(map[core.Dimension]*Accumulator)
	src.Player = nil
}

// SetLocalPlayer records the converted local player.
func (l *LevelData) SetLocalPlayer(p *Player) { l.Player = p }

// MaxTick is the larger of the source tick and every tick observed while
// converting chunks.
func (l *LevelData) MaxTick() int64 {
	tick := l.SourceTick
	for _, a := range l.dims {
		if a.MaxTick > tick {
			tick = a.MaxTick
		}
	}
	return tick
}

// Skipped returns every skipped unit of every dimension, sorted.
func (l *LevelData) Skipped() []core.SkippedUnit {
	var out []core.SkippedUnit
	for _, a := range l.dims {
		out = append(out, a.Skipped...)
	}
	core.SortSkipped(out)
	return out
}

// Totals sums the counters of every dimension.
func (l *LevelData) Totals() (regions, chunks, entities, tiles uint64) {
	for _, a := range l.dims {
		regions += a.Regions
		chunks += a.Chunks
		entities += a.Entities
		tiles += a.TileEntities
	}
	return
}
