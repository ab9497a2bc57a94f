package source

import (
	"fmt"
	"math/bits"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/world"
)

// dataVersionTightPacking is the first data version (1.16) whose block state
// arrays do not let entries span two longs.
const dataVersionTightPacking = 2529

// DecodeChunk builds a chunk from its decoded Anvil compound. It accepts the
// 1.18+ layout (fields at the root) and the older one nested under "Level".
func DecodeChunk(pos core.ChunkPos, root world.Tag) (*world.Chunk, error) {
	dv, _ := world.Int(root, "DataVersion")
	c := &world.Chunk{Pos: pos, DataVersion: int32(dv)}

	level := root
	sectionsKey, paletteKey, statesKey, tilesKey := "sections", "palette", "block_states", "block_entities"
	if l, ok := world.Compound(root, "Level"); ok {
		level = l
		sectionsKey, paletteKey, statesKey, tilesKey = "Sections", "Palette", "BlockStates", "TileEntities"
	}
	if v, ok := world.Int(level, "LastUpdate"); ok {
		c.LastUpdate = v
	}

	for i, raw := range world.List(level, sectionsKey) {
		st, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: section %d is %T", ErrCorruptChunk, i, raw)
		}
		sec, err := decodeSection(st, paletteKey, statesKey, c.DataVersion)
		if err != nil {
			return nil, fmt.Errorf("%w: section %d: %v", ErrCorruptChunk, i, err)
		}
		if sec != nil {
			c.Sections = append(c.Sections, sec)
		}
	}
	for _, raw := range world.List(level, tilesKey) {
		if t, ok := raw.(map[string]any); ok {
			c.TileEntities = append(c.TileEntities, t)
		}
	}
	for _, raw := range world.List(level, "Entities") {
		if t, ok := raw.(map[string]any); ok {
			c.Entities = append(c.Entities, t)
		}
	}
	return c, nil
}

func decodeSection(st world.Tag, paletteKey, statesKey string, dataVersion int32) (*world.Section, error) {
	y, _ := world.Int(st, "Y")
	var palette []any
	var data []int64
	if paletteKey == "palette" {
		states, ok := world.Compound(st, statesKey)
		if !ok {
			return nil, nil
		}
		palette = world.List(states, paletteKey)
		data, _ = states["data"].([]int64)
	} else {
		palette = world.List(st, paletteKey)
		data, _ = st[statesKey].([]int64)
	}
	if len(palette) == 0 {
		return nil, nil
	}

	sec := &world.Section{Y: int8(y), Palette: make([]world.Block, len(palette)), Indices: make([]uint16, world.SectionVolume)}
	for i, raw := range palette {
		e, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("palette entry %d is %T", i, raw)
		}
		b := world.Block{Name: world.String(e, "Name")}
		if props, ok := world.Compound(e, "Properties"); ok && len(props) > 0 {
			b.Properties = make(map[string]string, len(props))
			for k, v := range props {
				s, _ := v.(string)
				b.Properties[k] = s
			}
		}
		sec.Palette[i] = b
	}
	if len(palette) == 1 {
		return sec, nil
	}
	if err := unpackIndices(sec.Indices, data, len(palette), dataVersion >= dataVersionTightPacking); err != nil {
		return nil, err
	}
	return sec, nil
}

// unpackIndices expands a packed block state array. Entries use at least 4
// bits; tight packing leaves the spare high bits of each long unused.
func unpackIndices(dst []uint16, data []int64, paletteLen int, tight bool) error {
	width := bits.Len(uint(paletteLen - 1))
	if width < 4 {
		width = 4
	}
	mask := uint64(1)<<uint(width) - 1
	if tight {
		perLong := 64 / width
		if need := (len(dst) + perLong - 1) / perLong; len(data) < need {
			return fmt.Errorf("block states: %d longs, need %d", len(data), need)
		}
		for i := range dst {
			v := uint64(data[i/perLong]) >> uint((i%perLong)*width) & mask
			if int(v) >= paletteLen {
				return fmt.Errorf("block state index %d outside palette of %d", v, paletteLen)
			}
			dst[i] = uint16(v)
		}
		return nil
	}
	if need := (len(dst)*width + 63) / 64; len(data) < need {
		return fmt.Errorf("block states: %d longs, need %d", len(data), need)
	}
	for i := range dst {
		bit := i * width
		word, off := bit/64, uint(bit%64)
		v := uint64(data[word]) >> off
		if off+uint(width) > 64 {
			v |= uint64(data[word+1]) << (64 - off)
		}
		v &= mask
		if int(v) >= paletteLen {
			return fmt.Errorf("block state index %d outside palette of %d", v, paletteLen)
		}
		dst[i] = uint16(v)
	}
	return nil
}

// PackIndices is the inverse of unpackIndices with tight packing. Test
// fixtures and the in-memory world use it to build Anvil-shaped data.
func PackIndices(indices []uint16, paletteLen int) []int64 {
	width := bits.Len(uint(paletteLen - 1))
	if width < 4 {
		width = 4
	}
	perLong := 64 / width
	out := make([]int64, (len(indices)+perLong-1)/perLong)
	for i, v := range indices {
		out[i/perLong] |= int64(uint64(v) << uint((i%perLong)*width))
	}
	return out
}
