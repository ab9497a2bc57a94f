package bedrock

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/INLOpen/chunkbridge/sys"
	"github.com/INLOpen/chunkbridge/world"
)

// LevelDatVersion is the storage version written into the level.dat header.
const LevelDatVersion = 10

// levelDatHeaderSize is version(4) + payload length(4).
const levelDatHeaderSize = 8

// DefaultLevelDat returns the fields a Bedrock client requires to open a
// world, for the caller to override from the source metadata.
func DefaultLevelDat(name string) world.Tag {
	t := world.Tag{
		"LevelName":       name,
		"StorageVersion":  int32(LevelDatVersion),
		"NetworkVersion":  int32(685),
		"Generator":       int32(1),
		"GameType":        int32(0),
		"Difficulty":      int32(2),
		"SpawnX":          int32(0),
		"SpawnY":          int32(64),
		"SpawnZ":          int32(0),
		"RandomSeed":      int64(0),
		"currentTick":     int64(0),
		"Time":            int64(0),
		"LastPlayed":      time.Now().Unix(),
		"commandsEnabled": uint8(0),
		"spawnMobs":       uint8(1),
	}
	version := []any{int32(1), int32(21), int32(0), int32(0), int32(0)}
	t["lastOpenedWithVersion"] = version
	t["MinimumCompatibleClientVersion"] = version
	return t
}

// EncodeLevelDat serializes the header and little-endian compound.
func EncodeLevelDat(t world.Tag) ([]byte, error) {
	payload, err := Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode level.dat: %w", err)
	}
	b := make([]byte, levelDatHeaderSize, levelDatHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(b, LevelDatVersion)
	binary.LittleEndian.PutUint32(b[4:], uint32(len(payload)))
	return append(b, payload...), nil
}

// WriteLevelDat writes level.dat atomically.
func WriteLevelDat(path string, t world.Tag) error {
	b, err := EncodeLevelDat(t)
	if err != nil {
		return err
	}
	return sys.WriteFileAtomic(path, b, 0o644)
}

// ReadLevelDat reads a level.dat written by WriteLevelDat.
func ReadLevelDat(path string) (world.Tag, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(b) < levelDatHeaderSize {
		return nil, fmt.Errorf("level.dat: short header")
	}
	n := binary.LittleEndian.Uint32(b[4:])
	if int(n) != len(b)-levelDatHeaderSize {
		return nil, fmt.Errorf("level.dat: header says %d bytes, file has %d", n, len(b)-levelDatHeaderSize)
	}
	return Unmarshal(b[levelDatHeaderSize:])
}
