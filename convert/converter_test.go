package convert

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/INLOpen/chunkbridge/attach"
	"github.com/INLOpen/chunkbridge/bedrock"
	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/identity"
	"github.com/INLOpen/chunkbridge/source"
	"github.com/INLOpen/chunkbridge/staging"
	"github.com/INLOpen/chunkbridge/world"
	"github.com/INLOpen/chunkbridge/worlddata"
	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memSink) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *memSink) Flush() error { return nil }

type harness struct {
	src   *source.MemoryWorld
	conv  *Converter
	store *staging.Store
	index *attach.Index
	acc   *worlddata.Accumulator
}

func newHarness(t *testing.T, tables Collaborators, mod func(*Options)) *harness {
	t.Helper()
	src := source.NewMemoryWorld(nil)
	var opts Options
	if mod != nil {
		mod(&opts)
	}
	store, err := staging.New(staging.Options{Dir: t.TempDir(), Sequencer: &staging.Sequencer{}})
	require.NoError(t, err)
	t.Cleanup(func() { store.Abandon() })
	index, err := attach.Open(t.TempDir()+"/attach", nil)
	require.NoError(t, err)
	t.Cleanup(func() { index.Destroy() })
	return &harness{
		src:   src,
		conv:  New(src, tables, nil, opts),
		store: store,
		index: index,
		acc:   worlddata.New(core.Overworld),
	}
}

func (h *harness) convert(t *testing.T, region core.RegionPos) {
	t.Helper()
	w, err := h.store.AcquireWriter()
	require.NoError(t, err)
	defer h.store.ReleaseWriter(w)
	require.NoError(t, h.conv.ConvertRegion(context.Background(), WorkUnit{Dimension: core.Overworld, Region: region}, w, h.index, h.acc))
}

func (h *harness) commit(t *testing.T) map[string][]byte {
	t.Helper()
	sink := &memSink{data: map[string][]byte{}}
	require.NoError(t, h.store.Close(context.Background(), nil, sink))
	return sink.data
}

func references(t *testing.T, x *attach.Index, target core.ChunkPos) []int64 {
	t.Helper()
	var out []int64
	require.NoError(t, x.EntityReferences(target, func(ref int64) error {
		out = append(out, ref)
		return nil
	}))
	return out
}

func uuidInts(u uuid.UUID) []int32 {
	out := make([]int32, 4)
	for i := range out {
		out[i] = int32(binary.BigEndian.Uint32(u[i*4:]))
	}
	return out
}

func entityTag(id string, x, y, z float64, u uuid.UUID) world.Tag {
	return world.Tag{"id": id, "Pos": []any{x, y, z}, "UUID": uuidInts(u)}
}

func stoneChunk(pos core.ChunkPos) *world.Chunk {
	c := &world.Chunk{Pos: pos, DataVersion: 3700}
	c.SetBlock(0, 0, 0, world.NewBlock("minecraft:stone"))
	return c
}

func TestConvertRegion_LeashedMobAcrossChunkBoundary(t *testing.T) {
	h := newHarness(t, nil, nil)
	mobUUID := uuid.New()
	c := stoneChunk(core.ChunkPos{X: 0, Z: 0})
	mob := entityTag("minecraft:cow", 15.5, 64, 8.5, mobUUID)
	mob["leash"] = []int32{16, 64, 8}
	c.Entities = append(c.Entities, mob)
	h.src.AddChunk(core.Overworld, c)

	h.convert(t, core.RegionPos{})

	mobID, ok := h.conv.Registrar.Lookup(mobUUID)
	require.True(t, ok)
	knot := LeashKnot(core.Overworld, core.BlockPos{X: 16, Y: 64, Z: 8})

	assert.Equal(t, []int64{mobID}, references(t, h.index, core.ChunkPos{X: 0, Z: 0}))
	assert.Equal(t, []int64{knot.UniqueID}, references(t, h.index, core.ChunkPos{X: 1, Z: 0}))
	assert.EqualValues(t, 2, h.acc.Entities)

	data := h.commit(t)
	require.Contains(t, data, string(bedrock.ActorKey(knot.UniqueID)))
	raw, ok := data[string(bedrock.ActorKey(mobID))]
	require.True(t, ok)
	tag, err := bedrock.Unmarshal(raw)
	require.NoError(t, err)
	leasher, ok := world.Int(tag, "LeasherID")
	require.True(t, ok)
	assert.Equal(t, knot.UniqueID, leasher)
	assert.Equal(t, "minecraft:cow", world.String(tag, "identifier"))
}

func TestConvertRegion_SharedFenceSharesKnot(t *testing.T) {
	h := newHarness(t, nil, nil)
	a := stoneChunk(core.ChunkPos{X: 0, Z: 0})
	m1 := entityTag("minecraft:horse", 14, 64, 8, uuid.New())
	m1["Leash"] = map[string]any{"X": int32(16), "Y": int32(64), "Z": int32(8)}
	a.Entities = append(a.Entities, m1)
	b := stoneChunk(core.ChunkPos{X: 1, Z: 1})
	m2 := entityTag("minecraft:horse", 18, 64, 18, uuid.New())
	m2["leash"] = []int32{16, 64, 8}
	b.Entities = append(b.Entities, m2)
	h.src.AddChunk(core.Overworld, a)
	h.src.AddChunk(core.Overworld, b)

	h.convert(t, core.RegionPos{})

	knot := LeashKnot(core.Overworld, core.BlockPos{X: 16, Y: 64, Z: 8})
	assert.Equal(t, []int64{knot.UniqueID, knot.UniqueID}, references(t, h.index, core.ChunkPos{X: 1, Z: 0}))
}

func TestConvertRegion_PassengersAndAutonomous(t *testing.T) {
	h := newHarness(t, nil, nil)
	c := stoneChunk(core.ChunkPos{X: 2, Z: 3})
	riderUUID := uuid.New()
	boat := entityTag("minecraft:boat", 40, 63, 50, uuid.New())
	boat["Passengers"] = []any{entityTag("minecraft:villager", 40, 63.5, 50, riderUUID)}
	c.Entities = append(c.Entities,
		boat,
		entityTag("minecraft:ender_dragon", 0, 100, 0, uuid.New()),
		entityTag("minecraft:item_frame", 41, 64, 50, uuid.New()),
	)
	h.src.AddChunk(core.Overworld, c)

	h.convert(t, core.RegionPos{})

	riderID, ok := h.conv.Registrar.Lookup(riderUUID)
	require.True(t, ok)
	refs := references(t, h.index, core.ChunkPos{X: 2, Z: 3})
	assert.Len(t, refs, 2)
	assert.Contains(t, refs, riderID)
	require.Len(t, h.acc.Autonomous, 1)
	assert.Equal(t, "minecraft:ender_dragon", h.acc.Autonomous[0].Identifier)
	assert.Empty(t, references(t, h.index, core.ChunkPos{X: 0, Z: 0}))
	assert.EqualValues(t, 3, h.acc.Entities)
}

func TestConvertRegion_PistonPlaceholders(t *testing.T) {
	h := newHarness(t, nil, nil)
	c := &world.Chunk{Pos: core.ChunkPos{}}
	c.SetBlock(1, 64, 1, world.NewBlock("minecraft:piston_head", "facing", "north", "type", "sticky"))
	c.SetBlock(2, 64, 1, world.NewBlock("minecraft:moving_piston", "facing", "east", "type", "normal"))
	c.TileEntities = append(c.TileEntities, world.Tag{
		"id": "minecraft:piston", "x": int32(2), "y": int32(64), "z": int32(1),
		"blockState": map[string]any{"Name": "minecraft:stone"},
		"extending":  uint8(1),
	})
	h.src.AddChunk(core.Overworld, c)

	h.convert(t, core.RegionPos{})
	data := h.commit(t)

	sub, err := bedrock.DecodeSubChunk(data[string(bedrock.SubChunkKey(core.Overworld, core.ChunkPos{}, 4))])
	require.NoError(t, err)
	assert.Equal(t, "minecraft:sticky_piston_arm_collision", sub.Block(1, 0, 1).Name)
	assert.Equal(t, "minecraft:moving_block", sub.Block(2, 0, 1).Name)

	tiles, err := bedrock.DecodeTags(data[string(bedrock.ChunkKey(core.Overworld, core.ChunkPos{}, bedrock.TagBlockEntity))])
	require.NoError(t, err)
	require.Len(t, tiles, 1)
	assert.Equal(t, "MovingBlock", world.String(tiles[0], "id"))
	moving, ok := world.Compound(tiles[0], "movingBlock")
	require.True(t, ok)
	assert.Equal(t, "minecraft:stone", world.String(moving, "name"))
	px, _ := world.Int(tiles[0], "pistonPosX")
	assert.EqualValues(t, 1, px)
}

type panickyTables struct {
	*Tables
}

func (p panickyTables) ConvertBlock(b world.Block) world.BlockData {
	if b.Name == "test:explode" {
		panic("no mapping")
	}
	return p.Tables.ConvertBlock(b)
}

func (p panickyTables) ConvertEntity(tag world.Tag, ctx *EntityContext) EntityResult {
	if world.String(tag, "id") == "test:explode" {
		panic("no mapping")
	}
	return p.Tables.ConvertEntity(tag, ctx)
}

func TestConvertRegion_FallbackOnPanic(t *testing.T) {
	h := newHarness(t, panickyTables{DefaultTables()}, nil)
	c := &world.Chunk{Pos: core.ChunkPos{}}
	c.SetBlock(0, 0, 0, world.NewBlock("test:explode", "power", "9"))
	c.SetBlock(1, 0, 0, world.NewBlock("test:custom"))
	c.Entities = append(c.Entities, entityTag("test:explode", 1, 1, 1, uuid.New()))
	h.src.AddChunk(core.Overworld, c)

	h.convert(t, core.RegionPos{})
	assert.EqualValues(t, 2, h.acc.Fallbacks)
	assert.EqualValues(t, 1, h.acc.Chunks)
	assert.Zero(t, h.acc.Entities)

	data := h.commit(t)
	sub, err := bedrock.DecodeSubChunk(data[string(bedrock.SubChunkKey(core.Overworld, core.ChunkPos{}, 0))])
	require.NoError(t, err)
	assert.Equal(t, "test:explode", sub.Block(0, 0, 0).Name)
	assert.Equal(t, "9", sub.Block(0, 0, 0).States["power"])
	assert.Equal(t, "test:custom", sub.Block(1, 0, 0).Name)
}

func TestSafeConvertEntity(t *testing.T) {
	tables := panickyTables{DefaultTables()}
	ctx := &EntityContext{Dimension: core.Overworld, Registrar: identity.NewRegistrar()}

	res, err := SafeConvertEntity(tables, entityTag("test:explode", 1, 1, 1, uuid.New()), ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test:explode")
	assert.Empty(t, res.Entities)

	res, err = SafeConvertEntity(tables, entityTag("minecraft:cow", 1, 1, 1, uuid.New()), ctx)
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)
	assert.Equal(t, "minecraft:cow", res.Entities[0].Identifier)
}

func TestConvertItems_Counts(t *testing.T) {
	assert.Nil(t, ConvertItems(nil))

	out := ConvertItems([]any{
		map[string]any{"Slot": uint8(0), "id": "minecraft:stone", "Count": uint8(3)},
		map[string]any{"Slot": uint8(1), "id": "minecraft:dirt", "count": int32(12)},
		map[string]any{"Slot": uint8(2), "id": "minecraft:diamond_sword"},
		"not an item",
	})
	require.Len(t, out, 3)
	counts := make(map[string]uint8)
	for _, it := range out {
		tag := it.(world.Tag)
		counts[world.String(tag, "Name")] = tag["Count"].(uint8)
	}
	assert.Equal(t, map[string]uint8{
		"minecraft:stone":         3,
		"minecraft:dirt":          12,
		"minecraft:diamond_sword": 1,
	}, counts)
}

func chestItems(id string) []any {
	return []any{map[string]any{"Slot": uint8(0), "id": id, "Count": uint8(3)}}
}

func firstItem(t *testing.T, tile world.Tag) string {
	t.Helper()
	items := world.List(tile, "Items")
	require.NotEmpty(t, items)
	return world.String(items[0].(map[string]any), "Name")
}

func TestConvertRegion_PairsChestsAcrossChunks(t *testing.T) {
	h := newHarness(t, nil, nil)
	left := &world.Chunk{Pos: core.ChunkPos{X: 0, Z: 0}}
	left.SetBlock(15, 64, 0, world.NewBlock("minecraft:chest", "facing", "north", "type", "left"))
	left.TileEntities = append(left.TileEntities, world.Tag{"id": "minecraft:chest", "x": int32(15), "y": int32(64), "z": int32(0), "Items": chestItems("minecraft:diamond")})
	right := &world.Chunk{Pos: core.ChunkPos{X: 1, Z: 0}}
	right.SetBlock(0, 64, 0, world.NewBlock("minecraft:chest", "facing", "north", "type", "right"))
	right.TileEntities = append(right.TileEntities, world.Tag{"id": "minecraft:chest", "x": int32(16), "y": int32(64), "z": int32(0), "Items": chestItems("minecraft:dirt")})
	h.src.AddChunk(core.Overworld, left)
	h.src.AddChunk(core.Overworld, right)

	h.convert(t, core.RegionPos{})
	assert.Empty(t, h.acc.PendingChests)
	data := h.commit(t)

	lt, err := bedrock.DecodeTags(data[string(bedrock.ChunkKey(core.Overworld, core.ChunkPos{X: 0, Z: 0}, bedrock.TagBlockEntity))])
	require.NoError(t, err)
	require.Len(t, lt, 1)
	lead, _ := world.Int(lt[0], "pairlead")
	px, _ := world.Int(lt[0], "pairx")
	assert.EqualValues(t, 1, lead)
	assert.EqualValues(t, 16, px)
	assert.Equal(t, "minecraft:dirt", firstItem(t, lt[0]))

	rt, err := bedrock.DecodeTags(data[string(bedrock.ChunkKey(core.Overworld, core.ChunkPos{X: 1, Z: 0}, bedrock.TagBlockEntity))])
	require.NoError(t, err)
	require.Len(t, rt, 1)
	lead, _ = world.Int(rt[0], "pairlead")
	px, _ = world.Int(rt[0], "pairx")
	assert.EqualValues(t, 0, lead)
	assert.EqualValues(t, 15, px)
	assert.Equal(t, "minecraft:diamond", firstItem(t, rt[0]))
}

func TestConvertRegion_ChestPartnerInOtherRegionIsPending(t *testing.T) {
	h := newHarness(t, nil, nil)
	c := &world.Chunk{Pos: core.ChunkPos{X: 31, Z: 0}}
	c.SetBlock(15, 64, 0, world.NewBlock("minecraft:chest", "facing", "north", "type", "left"))
	h.src.AddChunk(core.Overworld, c)

	h.convert(t, core.RegionPos{})

	pos := core.BlockPos{X: 511, Y: 64, Z: 0}
	require.Contains(t, h.acc.PendingChests, pos)
	pc := h.acc.PendingChests[pos]
	assert.True(t, pc.Left)
	assert.Equal(t, core.BlockPos{X: 512, Y: 64, Z: 0}, pc.Partner)
	assert.Len(t, h.acc.PendingTiles[core.ChunkPos{X: 31, Z: 0}], 1)
}

func TestConvertRegion_SkipsUnreadableUnits(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.src.AddChunk(core.Overworld, stoneChunk(core.ChunkPos{X: 0, Z: 0}))
	h.src.CorruptChunk(core.Overworld, core.ChunkPos{X: 1, Z: 1}, "bad nbt")
	h.src.BreakRegion(core.Overworld, core.RegionPos{X: 2, Z: 2}, errors.New("truncated header"))

	h.convert(t, core.RegionPos{})
	h.convert(t, core.RegionPos{X: 2, Z: 2})

	assert.EqualValues(t, 1, h.acc.Chunks)
	assert.EqualValues(t, 1, h.acc.Regions)
	assert.EqualValues(t, 2, h.acc.Coverage.GetCardinality())
	skipped := h.acc.SkippedSorted()
	require.Len(t, skipped, 2)
	require.NotNil(t, skipped[0].Chunk)
	assert.Equal(t, core.ChunkPos{X: 1, Z: 1}, *skipped[0].Chunk)
	assert.Nil(t, skipped[1].Chunk)
	assert.Contains(t, skipped[1].Reason, "truncated header")
}

type recorder struct {
	mu       sync.Mutex
	attempts []Attempt
}

func (r *recorder) RecordAttempt(a Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	return nil
}

func TestConvertRegion_ChunkFilterAndRecorder(t *testing.T) {
	rec := &recorder{}
	filter := roaring64.New()
	filter.Add(core.ChunkPos{X: 3, Z: 4}.Pack())
	h := newHarness(t, nil, func(o *Options) {
		o.ChunkFilter = filter
		o.Recorder = rec
		o.MinDataVersion = 3000
	})
	h.src.AddChunk(core.Overworld, stoneChunk(core.ChunkPos{X: 0, Z: 0}))
	old := stoneChunk(core.ChunkPos{X: 3, Z: 4})
	old.DataVersion = 1976
	old.LastUpdate = 4242
	h.src.AddChunk(core.Overworld, old)

	h.convert(t, core.RegionPos{})

	assert.Zero(t, h.src.Reads(core.Overworld, core.ChunkPos{X: 0, Z: 0}))
	assert.EqualValues(t, 1, h.acc.Chunks)
	assert.EqualValues(t, 4242, h.acc.MaxTick)
	assert.False(t, h.acc.StillValid)
	require.Len(t, rec.attempts, 1)
	assert.Equal(t, StatusConverted, rec.attempts[0].Status)
	assert.Equal(t, core.ChunkPos{X: 3, Z: 4}, rec.attempts[0].Chunk)
}

func TestConvertRegion_RecordsPortals(t *testing.T) {
	h := newHarness(t, nil, nil)
	c := stoneChunk(core.ChunkPos{})
	for x := 4; x < 6; x++ {
		for y := 70; y < 73; y++ {
			c.SetBlock(x, y, 2, world.NewBlock("minecraft:nether_portal", "axis", "x"))
		}
	}
	h.src.AddChunk(core.Overworld, c)

	h.convert(t, core.RegionPos{})

	portals := h.acc.PortalList()
	require.Len(t, portals, 1)
	assert.Equal(t, core.BlockPos{X: 4, Y: 70, Z: 2}, portals[0].Pos)
	assert.EqualValues(t, 2, portals[0].Span)
	assert.Equal(t, "x", portals[0].Axis)
}

func TestConvertRegion_StagingFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.src.AddChunk(core.Overworld, stoneChunk(core.ChunkPos{}))
	w, err := h.store.AcquireWriter()
	require.NoError(t, err)
	h.store.ReleaseWriter(w)
	require.NoError(t, h.store.Abandon())

	err = h.conv.ConvertRegion(context.Background(), WorkUnit{Dimension: core.Overworld}, w, h.index, h.acc)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStoreClosed)
}

func TestAttachSource(t *testing.T) {
	src := core.ChunkPos{X: 4, Z: 4}
	assert.Equal(t, src, AttachSource(src.Add(1, -1), src))
	assert.Equal(t, src, AttachSource(src, src))
	far := src.Add(3, 0)
	assert.Equal(t, far, AttachSource(far, src))
}

func TestChestPartner(t *testing.T) {
	pos := core.BlockPos{X: 10, Y: 64, Z: 10}
	cases := []struct {
		facing, typ string
		want        core.BlockPos
		left        bool
	}{
		{"north", "left", pos.Add(1, 0, 0), true},
		{"north", "right", pos.Add(-1, 0, 0), false},
		{"south", "left", pos.Add(-1, 0, 0), true},
		{"east", "left", pos.Add(0, 0, 1), true},
		{"west", "right", pos.Add(0, 0, 1), false},
	}
	for _, tc := range cases {
		got, left, ok := chestPartner(pos, world.NewBlock("minecraft:chest", "facing", tc.facing, "type", tc.typ))
		require.True(t, ok, "%s %s", tc.facing, tc.typ)
		assert.Equal(t, tc.want, got, "%s %s", tc.facing, tc.typ)
		assert.Equal(t, tc.left, left)
	}
	_, _, ok := chestPartner(pos, world.NewBlock("minecraft:chest", "facing", "north", "type", "single"))
	assert.False(t, ok)
	_, _, ok = chestPartner(pos, world.NewBlock("minecraft:barrel", "facing", "north", "type", "left"))
	assert.False(t, ok)
}
