package convert

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/INLOpen/chunkbridge/attach"
	"github.com/INLOpen/chunkbridge/bedrock"
	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/hooks"
	"github.com/INLOpen/chunkbridge/identity"
	"github.com/INLOpen/chunkbridge/source"
	"github.com/INLOpen/chunkbridge/staging"
	"github.com/INLOpen/chunkbridge/world"
	"github.com/INLOpen/chunkbridge/worlddata"
	"github.com/RoaringBitmap/roaring/roaring64"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attempt statuses passed to a Recorder.
const (
	StatusConverted = "converted"
	StatusSkipped   = "skipped"
)

// Attempt describes one chunk conversion attempt.
type Attempt struct {
	Dimension core.Dimension
	Chunk     core.ChunkPos
	Status    string
	Entities  int
	Tiles     int
	Fallbacks int
	Duration  time.Duration
	Reason    string
}

// Recorder receives every chunk attempt. It is called from worker
// goroutines concurrently.
type Recorder interface {
	RecordAttempt(a Attempt) error
}

// WorkUnit is one region of one dimension.
type WorkUnit struct {
	Dimension core.Dimension
	Region    core.RegionPos
}

func (u WorkUnit) String() string { return fmt.Sprintf("%s %s", u.Dimension, u.Region) }

// Options configures a Converter.
type Options struct {
	// ChunkFilter limits conversion to the listed chunks (ChunkPos.Pack) in
	// every dimension. Nil converts everything.
	ChunkFilter *roaring64.Bitmap
	// MinDataVersion is the oldest chunk format converted faithfully. Older
	// chunks are still converted but clear the accumulator's StillValid.
	MinDataVersion int32
	Logger         *slog.Logger
	Tracer         trace.Tracer
	Hooks          hooks.HookManager
	Recorder       Recorder
}

// Converter converts regions. It is safe for concurrent use as long as each
// call gets its own writer and accumulator.
type Converter struct {
	Source    source.World
	Tables    Collaborators
	Registrar *identity.Registrar
	Options
}

// New returns a Converter with defaults filled in.
func New(src source.World, tables Collaborators, registrar *identity.Registrar, opts Options) *Converter {
	if tables == nil {
		tables = DefaultTables()
	}
	if registrar == nil {
		registrar = identity.NewRegistrar()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("chunkbridge/convert")
	}
	if opts.Hooks == nil {
		opts.Hooks = hooks.Nop
	}
	opts.Logger = opts.Logger.With("component", "convert")
	return &Converter{Source: src, Tables: tables, Registrar: registrar, Options: opts}
}

// regionRun is the state of one ConvertRegion call.
type regionRun struct {
	c      *Converter
	ctx    context.Context
	unit   WorkUnit
	w      *staging.Writer
	index  *attach.Index
	acc    *worlddata.Accumulator
	logger *slog.Logger

	blocks map[string]world.BlockData
	chests map[core.BlockPos]worlddata.PendingChest
	tiles  map[core.ChunkPos][]world.Tag

	converted int
	skipped   int
}

// ConvertRegion converts every present chunk of the unit's region, in
// order, staging the results through w. Unreadable regions and chunks are
// recorded in acc as skipped units; only staging and index failures are
// returned.
func (c *Converter) ConvertRegion(ctx context.Context, unit WorkUnit, w *staging.Writer, index *attach.Index, acc *worlddata.Accumulator) (err error) {
	ctx, span := c.Tracer.Start(ctx, "Converter.ConvertRegion")
	span.SetAttributes(
		attribute.String("region.dimension", unit.Dimension.String()),
		attribute.String("region.pos", unit.Region.String()),
	)
	start := time.Now()
	r := &regionRun{
		c:      c,
		ctx:    ctx,
		unit:   unit,
		w:      w,
		index:  index,
		acc:    acc,
		logger: c.Logger.With("dimension", unit.Dimension.String(), "region", unit.Region.String()),
		blocks: make(map[string]world.BlockData),
		chests: make(map[core.BlockPos]worlddata.PendingChest),
		tiles:  make(map[core.ChunkPos][]world.Tag),
	}
	defer func() {
		span.SetAttributes(attribute.Int("region.chunks", r.converted), attribute.Int("region.skipped", r.skipped))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "region_conversion_failed")
		}
		span.End()
		_ = c.Hooks.Trigger(ctx, hooks.NewPostRegionConvertEvent(hooks.RegionPayload{
			Dimension: unit.Dimension,
			Region:    unit.Region,
			Chunks:    r.converted,
			Skipped:   r.skipped,
			Duration:  time.Since(start),
			Error:     err,
		}))
	}()

	region, err := c.Source.OpenRegion(unit.Dimension, unit.Region)
	if err != nil {
		r.skip(nil, err.Error())
		return nil
	}
	defer region.Close()
	acc.Regions++

	for _, pos := range region.Chunks() {
		if c.ChunkFilter != nil && !c.ChunkFilter.Contains(pos.Pack()) {
			continue
		}
		if err := r.chunk(region, pos); err != nil {
			return err
		}
	}
	if err := r.resolveChests(); err != nil {
		return err
	}
	r.logger.Debug("Region converted", "chunks", r.converted, "skipped", r.skipped, "duration", time.Since(start))
	return nil
}

func (r *regionRun) skip(pos *core.ChunkPos, reason string) {
	u := core.SkippedUnit{Dimension: r.unit.Dimension, Region: r.unit.Region, Chunk: pos, Reason: reason}
	r.acc.Skip(u)
	r.skipped++
	r.logger.Warn("Skipping unreadable data", "unit", u.String())
	_ = r.c.Hooks.Trigger(r.ctx, hooks.NewUnitSkippedEvent(hooks.UnitSkippedPayload{Unit: u}))
}

func (r *regionRun) record(a Attempt) {
	if r.c.Recorder == nil {
		return
	}
	a.Dimension = r.unit.Dimension
	if err := r.c.Recorder.RecordAttempt(a); err != nil {
		r.logger.Warn("Failed to record chunk attempt", "chunk", a.Chunk.String(), "error", err)
	}
}

func (r *regionRun) chunk(region source.Region, pos core.ChunkPos) error {
	start := time.Now()
	r.acc.RecordAttempt(pos)
	chunk, err := region.ReadChunk(pos)
	if err != nil {
		p := pos
		r.skip(&p, err.Error())
		r.record(Attempt{Chunk: pos, Status: StatusSkipped, Duration: time.Since(start), Reason: err.Error()})
		return nil
	}
	fallbacks := r.acc.Fallbacks

	preprocess(chunk)
	tc := r.convertBlocks(chunk)
	r.convertTiles(chunk, tc)
	entities, err := r.convertEntities(chunk, tc)
	if err != nil {
		return err
	}
	tc.ComputeHeightMap()

	recs, err := bedrock.EncodeChunk(tc)
	if err != nil {
		return core.NewError("convert.ConvertRegion", fmt.Sprintf("encode chunk %s", pos), err)
	}
	for _, rec := range recs {
		if err := r.w.Put(rec.Key, rec.Value); err != nil {
			return core.NewError("convert.ConvertRegion", fmt.Sprintf("stage chunk %s", pos), err)
		}
	}
	r.tiles[pos] = tc.BlockEntities

	if chunk.LastUpdate > r.acc.MaxTick {
		r.acc.MaxTick = chunk.LastUpdate
	}
	if chunk.DataVersion > 0 && chunk.DataVersion < r.c.MinDataVersion {
		r.acc.StillValid = false
	}
	r.acc.Chunks++
	r.converted++
	elapsed := time.Since(start)
	r.acc.ObserveLatency(float64(elapsed.Microseconds()) / 1000)
	r.record(Attempt{
		Chunk:     pos,
		Status:    StatusConverted,
		Entities:  entities,
		Tiles:     len(tc.BlockEntities),
		Fallbacks: int(r.acc.Fallbacks - fallbacks),
		Duration:  elapsed,
	})
	return nil
}

// preprocess swaps Java piston heads and moving pistons for placeholder
// names so the tables can give them their Bedrock shape.
func preprocess(chunk *world.Chunk) {
	for _, s := range chunk.Sections {
		for i, b := range s.Palette {
			switch b.Name {
			case "minecraft:piston_head":
				s.Palette[i] = world.Block{Name: PistonArmPlaceholder, Properties: b.Properties}
			case "minecraft:moving_piston":
				s.Palette[i] = world.Block{Name: MovingBlockPlaceholder, Properties: b.Properties}
			}
		}
	}
}

func (r *regionRun) convertBlocks(chunk *world.Chunk) *world.TargetChunk {
	tc := &world.TargetChunk{Dimension: r.unit.Dimension, Pos: chunk.Pos}
	for _, s := range chunk.Sections {
		ts := &world.TargetSection{Y: s.Y, Palette: make([]world.BlockData, len(s.Palette)), Indices: slices.Clone(s.Indices)}
		for i, b := range s.Palette {
			ts.Palette[i] = r.block(b)
		}
		tc.Sections = append(tc.Sections, ts)
		r.portals(chunk, s)
	}
	return tc
}

// block converts one palette entry. A panicking or empty mapping falls back
// to the source block.
func (r *regionRun) block(b world.Block) world.BlockData {
	key := b.Key()
	if out, ok := r.blocks[key]; ok {
		return out
	}
	out, ok := r.tryBlock(b)
	if !ok || out.Name == "" {
		r.acc.Fallbacks++
		r.logger.Debug("No block mapping, keeping source block", "block", key)
		out = IdentityBlock(b)
	}
	r.blocks[key] = out
	return out
}

func (r *regionRun) tryBlock(b world.Block) (out world.BlockData, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Debug("Block conversion panicked", "block", b.Key(), "panic", p)
			ok = false
		}
	}()
	return r.c.Tables.ConvertBlock(b), true
}

// portals records the lower corner of every nether portal column run that
// starts in the section.
func (r *regionRun) portals(chunk *world.Chunk, s *world.Section) {
	if !slices.ContainsFunc(s.Palette, isPortal) {
		return
	}
	for i := 0; i < world.SectionVolume; i++ {
		x, z, y := i&15, (i>>4)&15, int(s.Y)*16+i>>8
		b := chunk.Block(x, y, z)
		if !isPortal(b) || isPortal(chunk.Block(x, y-1, z)) {
			continue
		}
		axis := b.Prop("axis")
		dx, dz := 1, 0
		if axis == "z" {
			dx, dz = 0, 1
		}
		if x-dx >= 0 && z-dz >= 0 && isPortal(chunk.Block(x-dx, y, z-dz)) {
			continue
		}
		span := int32(0)
		for px, pz := x, z; px < 16 && pz < 16 && isPortal(chunk.Block(px, y, pz)); px, pz = px+dx, pz+dz {
			span++
		}
		pos := core.BlockPos{X: chunk.Pos.X<<4 + int32(x), Y: int32(y), Z: chunk.Pos.Z<<4 + int32(z)}
		r.acc.Portals[pos] = worlddata.Portal{Pos: pos, Axis: axis, Span: span}
	}
}

func isPortal(b world.Block) bool { return b.Name == "minecraft:nether_portal" }

// convertTiles visits every position that is tile-entity bearing or has a
// source tile entity, in section order, then any source tile entities left.
func (r *regionRun) convertTiles(chunk *world.Chunk, tc *world.TargetChunk) {
	src := make(map[core.BlockPos]world.Tag, len(chunk.TileEntities))
	for _, t := range chunk.TileEntities {
		src[worlddata.TilePos(t)] = t
	}
	ctx := &TileContext{Dimension: r.unit.Dimension, Chunk: chunk, Registrar: r.c.Registrar}
	base := core.BlockPos{X: chunk.Pos.X << 4, Z: chunk.Pos.Z << 4}

	for _, s := range chunk.Sections {
		flagged := make([]bool, len(s.Palette))
		bearing := false
		for i, b := range s.Palette {
			flagged[i] = r.c.Tables.HasTileEntity(b)
			bearing = bearing || flagged[i]
		}
		for i := 0; i < world.SectionVolume; i++ {
			x, z, y := i&15, (i>>4)&15, int(s.Y)*16+i>>8
			pos := base.Add(int32(x), int32(y), int32(z))
			idx := 0
			if len(s.Indices) == world.SectionVolume {
				idx = int(s.Indices[i])
			}
			tag, hasSrc := src[pos]
			if !(bearing && flagged[idx]) && !hasSrc {
				continue
			}
			delete(src, pos)
			r.tile(tc, pos, s.Palette[idx], tag, ctx)
		}
	}

	if len(src) == 0 {
		return
	}
	rest := make([]core.BlockPos, 0, len(src))
	for p := range src {
		rest = append(rest, p)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].Less(rest[j]) })
	for _, p := range rest {
		r.tile(tc, p, chunk.Block(int(p.X-base.X), int(p.Y), int(p.Z-base.Z)), src[p], ctx)
	}
}

func (r *regionRun) tile(tc *world.TargetChunk, pos core.BlockPos, b world.Block, tag world.Tag, ctx *TileContext) {
	res, ok := r.tryTile(pos, b, tag, ctx)
	if !ok {
		r.acc.Fallbacks++
		return
	}
	if res.Block != nil {
		lx, lz := int(pos.X&15), int(pos.Z&15)
		sy := int8(pos.Y >> 4)
		s := tc.Section(sy)
		if s == nil {
			s = &world.TargetSection{Y: sy, Palette: []world.BlockData{world.BedrockAir}}
			tc.Sections = append(tc.Sections, s)
			sort.Slice(tc.Sections, func(i, j int) bool { return tc.Sections[i].Y < tc.Sections[j].Y })
		}
		s.Set(lx, int(pos.Y&15), lz, *res.Block)
	}
	if res.Tag == nil {
		return
	}
	tc.BlockEntities = append(tc.BlockEntities, res.Tag)
	r.acc.TileEntities++
	if partner, left, ok := chestPartner(pos, b); ok {
		items, _ := res.Tag["Items"].([]any)
		r.chests[pos] = worlddata.PendingChest{Pos: pos, Partner: partner, Chunk: tc.Pos, Tag: res.Tag, Items: items, Left: left}
	}
}

func (r *regionRun) tryTile(pos core.BlockPos, b world.Block, tag world.Tag, ctx *TileContext) (res TileResult, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Debug("Tile entity conversion panicked", "pos", pos.String(), "block", b.Key(), "panic", p)
			ok = false
		}
	}()
	return r.c.Tables.ConvertTileEntity(pos, b, tag, ctx), true
}

var horizontal = []string{"north", "east", "south", "west"}

// chestPartner returns the position of the other half of a double chest.
// The partner of a left half lies clockwise of its facing.
func chestPartner(pos core.BlockPos, b world.Block) (core.BlockPos, bool, bool) {
	if b.Name != "minecraft:chest" && b.Name != "minecraft:trapped_chest" {
		return pos, false, false
	}
	typ := b.Prop("type")
	i := slices.Index(horizontal, b.Prop("facing"))
	if i < 0 || (typ != "left" && typ != "right") {
		return pos, false, false
	}
	dir := horizontal[(i+3)%4]
	if typ == "left" {
		dir = horizontal[(i+1)%4]
	}
	d, _ := facingOffset(dir)
	return pos.Add(d.X, d.Y, d.Z), typ == "left", true
}

// resolveChests pairs the double chests whose halves both lie in this
// region and restages the affected block entity lists. Halves whose partner
// lies in another region are handed to the accumulator.
func (r *regionRun) resolveChests() error {
	if len(r.chests) == 0 {
		return nil
	}
	positions := make([]core.BlockPos, 0, len(r.chests))
	for p := range r.chests {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Less(positions[j]) })

	done := make(map[core.BlockPos]bool, len(positions))
	dirty := make(map[core.ChunkPos]bool)
	for _, p := range positions {
		if done[p] {
			continue
		}
		done[p] = true
		c := r.chests[p]
		if !r.unit.Region.Contains(c.Partner.Chunk()) {
			r.acc.PendingChests[p] = c
			r.acc.PendingTiles[c.Chunk] = r.tiles[c.Chunk]
			continue
		}
		partner, ok := r.chests[c.Partner]
		if !ok || partner.Partner != p || partner.Left == c.Left {
			r.logger.Debug("Chest half has no partner", "pos", p.String())
			continue
		}
		done[c.Partner] = true
		l, rt := c, partner
		if !l.Left {
			l, rt = rt, l
		}
		worlddata.PairChests(l.Tag, rt.Tag, l.Pos, rt.Pos)
		dirty[l.Chunk] = true
		dirty[rt.Chunk] = true
	}

	chunks := make([]core.ChunkPos, 0, len(dirty))
	for c := range dirty {
		chunks = append(chunks, c)
	}
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].X != chunks[j].X {
			return chunks[i].X < chunks[j].X
		}
		return chunks[i].Z < chunks[j].Z
	})
	for _, c := range chunks {
		rec, err := bedrock.EncodeBlockEntities(r.unit.Dimension, c, r.tiles[c])
		if err != nil {
			return core.NewError("convert.ConvertRegion", "encode paired chests", err)
		}
		if err := r.w.Put(rec.Key, rec.Value); err != nil {
			return core.NewError("convert.ConvertRegion", fmt.Sprintf("stage paired chests of %s", c), err)
		}
	}
	return nil
}

// convertEntities stages every entity of the chunk and records each one in
// the attachment index under the chunk that owns it. It returns the number
// of entities staged.
func (r *regionRun) convertEntities(chunk *world.Chunk, tc *world.TargetChunk) (int, error) {
	ctx := &EntityContext{Dimension: r.unit.Dimension, Chunk: chunk.Pos, Registrar: r.c.Registrar}
	refs := make(map[core.ChunkPos][]int64)
	var targets []core.ChunkPos
	staged := 0
	for _, src := range chunk.Entities {
		res, ok := r.tryEntity(src, ctx)
		if !ok {
			r.acc.Fallbacks++
			continue
		}
		for _, e := range res.Entities {
			e.Chunk = e.OwningChunk()
			rec, err := bedrock.EncodeEntity(e)
			if err != nil {
				r.logger.Warn("Dropping entity that cannot be encoded", "entity", e.Identifier, "error", err)
				continue
			}
			if err := r.w.Put(rec.Key, rec.Value); err != nil {
				return staged, core.NewError("convert.ConvertRegion", fmt.Sprintf("stage entity %d", e.UniqueID), err)
			}
			staged++
			r.acc.Entities++
			if res.Autonomous {
				r.acc.AddAutonomous(e)
				continue
			}
			tc.Entities = append(tc.Entities, e)
			if _, seen := refs[e.Chunk]; !seen {
				targets = append(targets, e.Chunk)
			}
			refs[e.Chunk] = append(refs[e.Chunk], e.UniqueID)
		}
	}
	for _, target := range targets {
		if err := r.index.Add(refs[target], target, AttachSource(target, chunk.Pos)); err != nil {
			return staged, err
		}
	}
	return staged, nil
}

// AttachSource is the source chunk recorded for an entity owned by target
// and read from src. Owners further than one chunk away are recorded as
// their own source so the neighbourhood lookup still finds them.
func AttachSource(target, src core.ChunkPos) core.ChunkPos {
	dx, dz := target.X-src.X, target.Z-src.Z
	if dx < -1 || dx > 1 || dz < -1 || dz > 1 {
		return target
	}
	return src
}

func (r *regionRun) tryEntity(tag world.Tag, ctx *EntityContext) (EntityResult, bool) {
	res, err := SafeConvertEntity(r.c.Tables, tag, ctx)
	if err != nil {
		r.logger.Debug("Entity conversion panicked", "error", err)
		return res, false
	}
	return res, true
}
