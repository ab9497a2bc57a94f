// Package bedrock writes Bedrock Edition worlds: the LevelDB key scheme,
// little-endian NBT, sub-chunk encoding and level.dat.
package bedrock

import (
	"encoding/binary"

	"github.com/INLOpen/chunkbridge/core"
)

// Keys on a per-chunk basis. These are prefixed by the chunk index.
const (
	TagData3D         byte = '+' // 2b
	TagVersion        byte = ',' // 2c
	TagData2D         byte = '-' // 2d
	TagSubChunk       byte = '/' // 2f
	TagBlockEntity    byte = '1' // 31
	TagEntity         byte = '2' // 32, legacy, read only by old clients
	TagFinalizedState byte = '6' // 36
)

// ChunkVersion is the value stored under TagVersion.
const ChunkVersion = 40

// finalizedPopulated marks a chunk as fully generated.
const finalizedPopulated = 2

const (
	keyDigestPrefix = "digp"
	keyActorPrefix  = "actorprefix"
	// KeyPortals holds the portal records of every dimension.
	KeyPortals = "portals"
	// KeyLocalPlayer holds the single-player's player compound.
	KeyLocalPlayer = "~local_player"
)

// ChunkIndex returns the key prefix of a chunk: x and z little-endian, then
// the dimension id unless the chunk is in the overworld.
func ChunkIndex(dim core.Dimension, pos core.ChunkPos) []byte {
	b := make([]byte, 12, 14)
	binary.LittleEndian.PutUint32(b, uint32(pos.X))
	binary.LittleEndian.PutUint32(b[4:], uint32(pos.Z))
	if dim == core.Overworld {
		return b[:8]
	}
	binary.LittleEndian.PutUint32(b[8:], uint32(dim))
	return b
}

// ChunkKey returns the key of a per-chunk record.
func ChunkKey(dim core.Dimension, pos core.ChunkPos, tag byte) []byte {
	return append(ChunkIndex(dim, pos), tag)
}

// SubChunkKey returns the key of the sub-chunk at section index y.
func SubChunkKey(dim core.Dimension, pos core.ChunkPos, y int8) []byte {
	return append(ChunkIndex(dim, pos), TagSubChunk, byte(y))
}

// ParseChunkKey splits a per-chunk key. ok is false for keys that are not
// chunk records, such as actor or digest keys.
func ParseChunkKey(key []byte) (dim core.Dimension, pos core.ChunkPos, tag byte, ok bool) {
	var rest []byte
	switch len(key) {
	case 9, 10:
		rest = key[8:]
	case 13, 14:
		dim = core.Dimension(int32(binary.LittleEndian.Uint32(key[8:])))
		if dim != core.Nether && dim != core.End {
			return 0, pos, 0, false
		}
		rest = key[12:]
	default:
		return 0, pos, 0, false
	}
	tag = rest[0]
	switch tag {
	case TagData3D, TagVersion, TagData2D, TagBlockEntity, TagEntity, TagFinalizedState:
		if len(rest) != 1 {
			return 0, pos, 0, false
		}
	case TagSubChunk:
		if len(rest) != 2 {
			return 0, pos, 0, false
		}
	default:
		return 0, pos, 0, false
	}
	pos.X = int32(binary.LittleEndian.Uint32(key))
	pos.Z = int32(binary.LittleEndian.Uint32(key[4:]))
	return dim, pos, tag, true
}

// DigestKey returns the key of the chunk's entity digest, the list of actor
// storage ids that live in it.
func DigestKey(dim core.Dimension, pos core.ChunkPos) []byte {
	return append([]byte(keyDigestPrefix), ChunkIndex(dim, pos)...)
}

// ActorStorageID is the 8-byte id that links a digest entry to its actor record.
func ActorStorageID(uniqueID int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(uniqueID))
	return b
}

// ActorKey returns the key of an entity record.
func ActorKey(uniqueID int64) []byte {
	return append([]byte(keyActorPrefix), ActorStorageID(uniqueID)...)
}

// DigestValue concatenates the storage ids of the given entities.
func DigestValue(ids []int64) []byte {
	b := make([]byte, 0, 8*len(ids))
	for _, id := range ids {
		b = binary.LittleEndian.AppendUint64(b, uint64(id))
	}
	return b
}

// ParseDigest reverses DigestValue.
func ParseDigest(v []byte) []int64 {
	out := make([]int64, 0, len(v)/8)
	for len(v) >= 8 {
		out = append(out, int64(binary.LittleEndian.Uint64(v)))
		v = v[8:]
	}
	return out
}
