// Package identity maps Java entity UUIDs to the 64-bit unique ids Bedrock
// uses, and derives deterministic ids for synthetic entities.
package identity

import (
	"encoding/binary"
	"math/rand/v2"
	"sync"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/world"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// NoID is the id Bedrock uses for "no entity".
const NoID int64 = -1

// Registrar is the run-scoped UUID table. One Registrar is created per run
// and shared by every converter; entries are never removed.
type Registrar struct {
	mu     sync.Mutex
	ids    map[uuid.UUID]int64
	issued map[int64]uuid.UUID
	rand   func() int64
}

// NewRegistrar returns an empty registrar minting random ids.
func NewRegistrar() *Registrar {
	return newRegistrar(rand.Int64)
}

func newRegistrar(src func() int64) *Registrar {
	return &Registrar{
		ids:    make(map[uuid.UUID]int64),
		issued: make(map[int64]uuid.UUID),
		rand:   src,
	}
}

func valid(id int64) bool { return id != 0 && id != NoID }

// ToID returns the id registered for u, minting a random one on first use.
func (r *Registrar) ToID(u uuid.UUID) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[u]; ok {
		return id
	}
	id := r.rand()
	for !r.freeLocked(id) {
		id = r.rand()
	}
	r.registerLocked(u, id)
	return id
}

// ToIDSeeded registers a content-derived id for u so separate runs over the
// same input agree on it. A collision with an already issued id is resolved
// by rehashing, which is also deterministic.
func (r *Registrar) ToIDSeeded(u uuid.UUID) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[u]; ok {
		return id
	}
	seed := u[:]
	id := GenWithSeed(seed)
	for !r.freeLocked(id) {
		seed = binary.LittleEndian.AppendUint64(seed[:len(seed):len(seed)], uint64(id))
		id = GenWithSeed(seed)
	}
	r.registerLocked(u, id)
	return id
}

// Lookup returns the id registered for u without minting one.
func (r *Registrar) Lookup(u uuid.UUID) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.ids[u]
	return id, ok
}

// Reverse returns the UUID an id was minted for.
func (r *Registrar) Reverse(id int64) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.issued[id]
	return u, ok
}

// Len is the number of registered UUIDs.
func (r *Registrar) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

func (r *Registrar) freeLocked(id int64) bool {
	if !valid(id) {
		return false
	}
	_, taken := r.issued[id]
	return !taken
}

func (r *Registrar) registerLocked(u uuid.UUID, id int64) {
	r.ids[u] = id
	r.issued[id] = u
}

// GenWithSeed derives an id from arbitrary seed bytes.
func GenWithSeed(seed []byte) int64 {
	sum := blake2b.Sum256(seed)
	id := int64(binary.LittleEndian.Uint64(sum[:8]))
	if !valid(id) {
		id = int64(binary.LittleEndian.Uint64(sum[8:16])) | 1
	}
	return id
}

// GenWithU64Seed derives an id from a 64-bit seed.
func GenWithU64Seed(seed uint64) int64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], seed)
	return GenWithSeed(b[:])
}

// PositionSeed derives the id of a synthetic entity that has no id of its
// own, from where it is and what it is.
func PositionSeed(dim core.Dimension, pos core.BlockPos, kind string) int64 {
	b := make([]byte, 0, 16+len(kind))
	b = binary.LittleEndian.AppendUint32(b, uint32(dim))
	b = binary.LittleEndian.AppendUint32(b, uint32(pos.X))
	b = binary.LittleEndian.AppendUint32(b, uint32(pos.Y))
	b = binary.LittleEndian.AppendUint32(b, uint32(pos.Z))
	b = append(b, kind...)
	return GenWithSeed(b)
}

const leashKnotSalt = 0x6c65617368_6b6e6f // "leashkno"

// LeashKnotID is the id of the knot a leashed entity with id owner is tied
// to. It is a pure function of owner.
func LeashKnotID(owner int64) int64 {
	return GenWithU64Seed(uint64(owner) ^ leashKnotSalt)
}

// FromTag reads a Java entity UUID: the 1.16+ four-int array "UUID", or the
// older UUIDMost/UUIDLeast pair.
func FromTag(t world.Tag) (uuid.UUID, bool) {
	var u uuid.UUID
	switch v := t["UUID"].(type) {
	case []int32:
		if len(v) == 4 {
			for i, w := range v {
				binary.BigEndian.PutUint32(u[i*4:], uint32(w))
			}
			return u, true
		}
	case [4]int32:
		for i, w := range v {
			binary.BigEndian.PutUint32(u[i*4:], uint32(w))
		}
		return u, true
	}
	most, okM := world.Int(t, "UUIDMost")
	least, okL := world.Int(t, "UUIDLeast")
	if okM && okL {
		binary.BigEndian.PutUint64(u[:8], uint64(most))
		binary.BigEndian.PutUint64(u[8:], uint64(least))
		return u, true
	}
	return u, false
}

// FromInts builds a UUID from the four-int form used in references such as
// a leash holder or an owner.
func FromInts(v []int32) (uuid.UUID, bool) {
	if len(v) != 4 {
		return uuid.Nil, false
	}
	var u uuid.UUID
	for i, w := range v {
		binary.BigEndian.PutUint32(u[i*4:], uint32(w))
	}
	return u, true
}
