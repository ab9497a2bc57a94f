package listeners

import (
	"context"
	"testing"
	"time"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/hooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlowRegionListener(t *testing.T) {
	l := NewSlowRegionListener(nil, SlowRegionRule{MaxDuration: time.Second, MaxSkipRatio: 0.25})
	ctx := context.Background()

	events := []hooks.RegionPayload{
		{Dimension: core.Overworld, Region: core.RegionPos{X: 0, Z: 0}, Chunks: 1024, Duration: 200 * time.Millisecond},
		{Dimension: core.Overworld, Region: core.RegionPos{X: 1, Z: 0}, Chunks: 1024, Duration: 3 * time.Second},
		{Dimension: core.End, Region: core.RegionPos{X: 0, Z: -1}, Chunks: 8, Skipped: 4, Duration: time.Millisecond},
	}
	for _, p := range events {
		require.NoError(t, l.OnEvent(ctx, hooks.NewPostRegionConvertEvent(p)))
	}
	require.NoError(t, l.OnEvent(ctx, hooks.NewPostRunEvent(hooks.PostRunPayload{})))

	out := l.Outliers()
	require.Len(t, out, 2)
	assert.Equal(t, core.RegionPos{X: 1, Z: 0}, out[0].Region)
	assert.Contains(t, out[1].Reason, "skipped 4 of 8")
}

func TestSkipAlerterListener(t *testing.T) {
	l := NewSkipAlerterListener(nil)
	c := core.ChunkPos{X: 3, Z: 4}
	manager := hooks.NewHookManager(nil)
	manager.Register(hooks.EventOnUnitSkipped, l)

	for i := 0; i < 3; i++ {
		require.NoError(t, manager.Trigger(context.Background(), hooks.NewUnitSkippedEvent(hooks.UnitSkippedPayload{
			Unit: core.SkippedUnit{Dimension: core.Overworld, Chunk: &c, Reason: "truncated sector"},
		})))
	}
	assert.Equal(t, int64(3), l.Count())
}
