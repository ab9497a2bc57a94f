package attach

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Index {
	t.Helper()
	x, err := Open(filepath.Join(t.TempDir(), "attach"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { x.Destroy() })
	return x
}

func collect(t *testing.T, x *Index, target core.ChunkPos) []int64 {
	t.Helper()
	var out []int64
	require.NoError(t, x.EntityReferences(target, func(ref int64) error {
		out = append(out, ref)
		return nil
	}))
	return out
}

func TestIndex_LookupFindsAllNeighbours(t *testing.T) {
	x := openTest(t)
	target := core.ChunkPos{X: -1, Z: 0}
	// Added out of scan order to check the lookup order does not depend on it.
	require.NoError(t, x.Add([]int64{9}, target, target.Add(1, 1)))
	require.NoError(t, x.Add([]int64{1, 2}, target, target.Add(-1, -1)))
	require.NoError(t, x.Add([]int64{5}, target, target))
	require.NoError(t, x.Add([]int64{3}, target, target.Add(1, -1)))
	require.NoError(t, x.Add([]int64{6}, target, target))
	// Two chunks away: outside the lookup.
	require.NoError(t, x.Add([]int64{100}, target, target.Add(2, 0)))

	assert.Equal(t, []int64{1, 2, 3, 5, 6, 9}, collect(t, x, target))
	assert.Empty(t, collect(t, x, core.ChunkPos{X: 40, Z: 40}))
}

func TestIndex_ReattachmentAcrossBoundary(t *testing.T) {
	x := openTest(t)
	for dz := int32(-1); dz <= 1; dz++ {
		for dx := int32(-1); dx <= 1; dx++ {
			source := core.ChunkPos{X: 10, Z: 10}
			target := source.Add(dx, dz)
			ref := int64(1000 + 10*dz + dx)
			require.NoError(t, x.Add([]int64{ref}, target, source))
			assert.Contains(t, collect(t, x, target), ref, "entity moved by (%d,%d)", dx, dz)
		}
	}
}

func TestIndex_CallbackErrorStopsLookup(t *testing.T) {
	x := openTest(t)
	target := core.ChunkPos{}
	require.NoError(t, x.Add([]int64{1, 2, 3}, target, target))
	boom := errors.New("boom")
	calls := 0
	err := x.EntityReferences(target, func(ref int64) error {
		calls++
		if ref == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestIndex_ConcurrentAddsAndTargets(t *testing.T) {
	x := openTest(t)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				target := core.ChunkPos{X: int32(i%5) - 2, Z: int32(i % 3)}
				assert.NoError(t, x.Add([]int64{int64(g*1000 + i)}, target, target))
			}
		}(g)
	}
	wg.Wait()

	targets, err := x.TargetList()
	require.NoError(t, err)
	assert.Len(t, targets, 15)
	for i := 1; i < len(targets); i++ {
		a, b := targets[i-1], targets[i]
		assert.True(t, a.X < b.X || (a.X == b.X && a.Z < b.Z), "targets ordered: %v before %v", a, b)
	}
	n, err := x.Count()
	require.NoError(t, err)
	assert.Equal(t, 15, n)
	assert.Equal(t, uint64(400), x.References())

	total := 0
	for _, tg := range targets {
		total += len(collect(t, x, tg))
	}
	assert.Equal(t, 400, total, "every reference is reachable from its own target exactly once")
}

func TestIndex_KeyOrderHandlesNegatives(t *testing.T) {
	a := encodeKey(core.ChunkPos{X: -1, Z: 0}, core.ChunkPos{})
	b := encodeKey(core.ChunkPos{X: 0, Z: 0}, core.ChunkPos{})
	assert.Less(t, string(a), string(b))
	assert.Equal(t, core.ChunkPos{X: -5, Z: 7}, decodeTarget(encodeKey(core.ChunkPos{X: -5, Z: 7}, core.ChunkPos{})))
	assert.Less(t, stripe(core.ChunkPos{X: 1}, core.ChunkPos{Z: -9}), stripes)
}
