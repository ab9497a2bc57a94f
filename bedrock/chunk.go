package bedrock

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/world"
)

// Record is one key/value pair of the target database.
type Record struct {
	Key   []byte
	Value []byte
}

// EncodeChunk returns the terrain records of a converted chunk: version,
// finalized state, height map, every non-empty sub-chunk and the block
// entities. Entities are encoded separately with EncodeEntity.
func EncodeChunk(c *world.TargetChunk) ([]Record, error) {
	recs := make([]Record, 0, len(c.Sections)+4)
	recs = append(recs,
		Record{Key: ChunkKey(c.Dimension, c.Pos, TagVersion), Value: []byte{ChunkVersion}},
		Record{Key: ChunkKey(c.Dimension, c.Pos, TagFinalizedState), Value: binary.LittleEndian.AppendUint32(nil, finalizedPopulated)},
		Record{Key: ChunkKey(c.Dimension, c.Pos, TagData2D), Value: encodeData2D(c)},
	)
	for _, s := range c.Sections {
		if sectionEmpty(s) {
			continue
		}
		v, err := EncodeSubChunk(s)
		if err != nil {
			return nil, fmt.Errorf("chunk %s sub-chunk %d: %w", c.Pos, s.Y, err)
		}
		recs = append(recs, Record{Key: SubChunkKey(c.Dimension, c.Pos, s.Y), Value: v})
	}
	if len(c.BlockEntities) > 0 {
		rec, err := EncodeBlockEntities(c.Dimension, c.Pos, c.BlockEntities)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// EncodeBlockEntities builds the block entity record of one chunk.
func EncodeBlockEntities(dim core.Dimension, pos core.ChunkPos, tiles []world.Tag) (Record, error) {
	v, err := EncodeTags(tiles)
	if err != nil {
		return Record{}, fmt.Errorf("chunk %s block entities: %w", pos, err)
	}
	return Record{Key: ChunkKey(dim, pos, TagBlockEntity), Value: v}, nil
}

func sectionEmpty(s *world.TargetSection) bool {
	for _, b := range s.Palette {
		if !b.IsAir() {
			return false
		}
	}
	return true
}

// encodeData2D writes the 256 int16 height map followed by 256 biome ids.
func encodeData2D(c *world.TargetChunk) []byte {
	b := make([]byte, 0, 512+256)
	for _, h := range c.HeightMap {
		b = binary.LittleEndian.AppendUint16(b, uint16(h))
	}
	for i := 0; i < 256; i++ {
		b = append(b, 1) // plains
	}
	return b
}

// HeightMapFromData2D reads the height map back from a Data2D record.
func HeightMapFromData2D(v []byte) ([256]int16, error) {
	var out [256]int16
	if len(v) < 512 {
		return out, fmt.Errorf("bedrock: Data2D record of %d bytes", len(v))
	}
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(v[i*2:]))
	}
	return out, nil
}

// EncodeEntity fills the fields every actor record needs and returns the
// record keyed by its unique id.
func EncodeEntity(e *world.Entity) (Record, error) {
	t := world.Clone(e.Tag)
	if t == nil {
		t = world.Tag{}
	}
	t["UniqueID"] = e.UniqueID
	if e.Identifier != "" {
		t["identifier"] = e.Identifier
	}
	t["Pos"] = []any{float32(e.Pos[0]), float32(e.Pos[1]), float32(e.Pos[2])}
	if _, ok := t["Rotation"]; !ok {
		t["Rotation"] = []any{float32(0), float32(0)}
	}
	v, err := Marshal(t)
	if err != nil {
		return Record{}, fmt.Errorf("entity %d (%s): %w", e.UniqueID, e.Identifier, err)
	}
	return Record{Key: ActorKey(e.UniqueID), Value: v}, nil
}

// EntityPosition reads the position of an encoded actor record.
func EntityPosition(t world.Tag) ([3]float64, bool) {
	pos, ok := world.Doubles(t, "Pos")
	if !ok {
		return pos, false
	}
	for _, v := range pos {
		if math.IsNaN(v) {
			return pos, false
		}
	}
	return pos, true
}
