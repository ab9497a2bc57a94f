package identity

import (
	"sync"
	"testing"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/world"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrar_ToIDIsIdempotent(t *testing.T) {
	r := NewRegistrar()
	seen := make(map[int64]uuid.UUID)
	for i := 0; i < 1000; i++ {
		u := uuid.New()
		id := r.ToID(u)
		assert.True(t, valid(id))
		assert.Equal(t, id, r.ToID(u), "second lookup must return the same id")
		prev, dup := seen[id]
		require.False(t, dup, "id %d issued for %s and %s", id, prev, u)
		seen[id] = u
		back, ok := r.Reverse(id)
		require.True(t, ok)
		assert.Equal(t, u, back)
	}
	assert.Equal(t, 1000, r.Len())
}

func TestRegistrar_ConcurrentLookups(t *testing.T) {
	r := NewRegistrar()
	uuids := make([]uuid.UUID, 64)
	for i := range uuids {
		uuids[i] = uuid.New()
	}
	results := make([][]int64, 8)
	var wg sync.WaitGroup
	for g := range results {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for _, u := range uuids {
				results[g] = append(results[g], r.ToID(u))
			}
		}(g)
	}
	wg.Wait()
	for g := 1; g < len(results); g++ {
		assert.Equal(t, results[0], results[g])
	}
}

func TestRegistrar_SkipsReservedAndTakenIDs(t *testing.T) {
	seq := []int64{0, NoID, 7, 7, 9}
	i := 0
	r := newRegistrar(func() int64 {
		v := seq[i]
		i++
		return v
	})
	a, b := uuid.New(), uuid.New()
	assert.Equal(t, int64(7), r.ToID(a))
	assert.Equal(t, int64(9), r.ToID(b))
}

func TestRegistrar_SeededIsStableAcrossRegistrars(t *testing.T) {
	u := uuid.MustParse("0f0e0d0c-0b0a-0908-0706-050403020100")
	r1, r2 := NewRegistrar(), NewRegistrar()
	r2.ToID(uuid.New())
	assert.Equal(t, r1.ToIDSeeded(u), r2.ToIDSeeded(u))
	assert.Equal(t, r1.ToIDSeeded(u), r1.ToID(u), "a seeded entry is returned by later lookups")
}

func TestDeterministicSeeds(t *testing.T) {
	assert.Equal(t, GenWithSeed([]byte("abc")), GenWithSeed([]byte("abc")))
	assert.NotEqual(t, GenWithSeed([]byte("abc")), GenWithSeed([]byte("abd")))
	assert.Equal(t, GenWithU64Seed(42), GenWithU64Seed(42))

	p := core.BlockPos{X: 10, Y: 64, Z: -3}
	assert.Equal(t, PositionSeed(core.Overworld, p, "leash_knot"), PositionSeed(core.Overworld, p, "leash_knot"))
	assert.NotEqual(t, PositionSeed(core.Overworld, p, "leash_knot"), PositionSeed(core.Nether, p, "leash_knot"))

	assert.Equal(t, LeashKnotID(123), LeashKnotID(123))
	assert.NotEqual(t, LeashKnotID(123), LeashKnotID(124))
	assert.True(t, valid(LeashKnotID(0)))
}

func TestFromTag(t *testing.T) {
	u := uuid.MustParse("00000001-0000-0002-0000-000300000004")
	got, ok := FromTag(world.Tag{"UUID": []int32{1, 2, 3, 4}})
	require.True(t, ok)
	assert.Equal(t, u, got)

	got, ok = FromTag(world.Tag{"UUIDMost": int64(1<<32 | 2), "UUIDLeast": int64(3<<32 | 4)})
	require.True(t, ok)
	assert.Equal(t, u, got)

	_, ok = FromTag(world.Tag{"id": "minecraft:cow"})
	assert.False(t, ok)

	got, ok = FromInts([]int32{1, 2, 3, 4})
	require.True(t, ok)
	assert.Equal(t, u, got)
}
