package bedrock

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/INLOpen/chunkbridge/world"
	"github.com/sandertv/gophertunnel/minecraft/nbt"
)

// SubChunkVersion is the sub-chunk format written: one block storage per
// layer with an explicit y index.
const SubChunkVersion = 9

var errBadSubChunk = errors.New("bedrock: malformed sub-chunk")

// bedrockIndex orders blocks x, then z, then y.
func bedrockIndex(x, y, z int) int { return x<<8 | z<<4 | y }

var storageWidths = []int{0, 1, 2, 3, 4, 5, 6, 8, 16}

func bitsFor(paletteLen int) int {
	for _, b := range storageWidths {
		if 1<<b >= paletteLen {
			return b
		}
	}
	return 16
}

// EncodeSubChunk serializes a converted section as a single-layer sub-chunk.
func EncodeSubChunk(s *world.TargetSection) ([]byte, error) {
	palette := s.Palette
	if len(palette) == 0 {
		palette = []world.BlockData{world.BedrockAir}
	}
	bits := bitsFor(len(palette))

	var buf bytes.Buffer
	buf.WriteByte(SubChunkVersion)
	buf.WriteByte(1)
	buf.WriteByte(byte(s.Y))
	buf.WriteByte(byte(bits << 1))

	if bits > 0 {
		perWord := 32 / bits
		words := make([]uint32, (world.SectionVolume+perWord-1)/perWord)
		for x := 0; x < 16; x++ {
			for z := 0; z < 16; z++ {
				for y := 0; y < 16; y++ {
					var idx uint32
					if len(s.Indices) == world.SectionVolume {
						idx = uint32(s.Indices[y<<8|z<<4|x])
					}
					i := bedrockIndex(x, y, z)
					words[i/perWord] |= idx << uint((i%perWord)*bits)
				}
			}
		}
		if err := binary.Write(&buf, binary.LittleEndian, words); err != nil {
			return nil, err
		}
	}

	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(palette)))
	buf.Write(n[:])
	enc := nbt.NewEncoderWithEncoding(&buf, nbt.LittleEndian)
	for i, b := range palette {
		if err := enc.Encode(Normalize(b.Tag())); err != nil {
			return nil, fmt.Errorf("encode palette entry %d (%s): %w", i, b.Name, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeSubChunk reads the first block storage of a sub-chunk written by
// EncodeSubChunk.
func DecodeSubChunk(data []byte) (*world.TargetSection, error) {
	if len(data) < 4 || data[0] != SubChunkVersion || data[1] == 0 {
		return nil, errBadSubChunk
	}
	s := &world.TargetSection{Y: int8(data[2])}
	bits := int(data[3] >> 1)
	r := bytes.NewReader(data[4:])

	var bedrockIdx []uint16
	if bits > 0 {
		perWord := 32 / bits
		words := make([]uint32, (world.SectionVolume+perWord-1)/perWord)
		if err := binary.Read(r, binary.LittleEndian, words); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadSubChunk, err)
		}
		mask := uint32(1)<<uint(bits) - 1
		bedrockIdx = make([]uint16, world.SectionVolume)
		for i := range bedrockIdx {
			bedrockIdx[i] = uint16(words[i/perWord] >> uint((i%perWord)*bits) & mask)
		}
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadSubChunk, err)
	}
	dec := nbt.NewDecoderWithEncoding(r, nbt.LittleEndian)
	for i := uint32(0); i < count; i++ {
		var t map[string]any
		if err := dec.Decode(&t); err != nil {
			return nil, fmt.Errorf("%w: palette entry %d: %v", errBadSubChunk, i, err)
		}
		b := world.BlockData{Name: world.String(t, "name")}
		b.States, _ = world.Compound(t, "states")
		if v, ok := world.Int(t, "version"); ok {
			b.Version = int32(v)
		}
		s.Palette = append(s.Palette, b)
	}

	s.Indices = make([]uint16, world.SectionVolume)
	if bedrockIdx != nil {
		for x := 0; x < 16; x++ {
			for z := 0; z < 16; z++ {
				for y := 0; y < 16; y++ {
					idx := bedrockIdx[bedrockIndex(x, y, z)]
					if int(idx) >= len(s.Palette) {
						return nil, fmt.Errorf("%w: index %d outside palette of %d", errBadSubChunk, idx, len(s.Palette))
					}
					s.Indices[y<<8|z<<4|x] = idx
				}
			}
		}
	}
	return s, nil
}
