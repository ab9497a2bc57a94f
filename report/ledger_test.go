package report

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/INLOpen/chunkbridge/convert"
	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/hooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reports", "run.db")
	l, err := Open(path, "/worlds/in", "/worlds/out", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func TestLedger_RecordsAttemptsConcurrently(t *testing.T) {
	l, _ := openTestLedger(t)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				status := convert.StatusConverted
				if i%10 == 0 {
					status = convert.StatusSkipped
				}
				assert.NoError(t, l.RecordAttempt(convert.Attempt{
					Dimension: core.Overworld,
					Chunk:     core.ChunkPos{X: int32(w), Z: int32(i)},
					Status:    status,
					Duration:  time.Millisecond,
				}))
			}
		}(w)
	}
	wg.Wait()

	require.NoError(t, l.Finish(800, 0, nil))
	s, err := l.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 800, s.Attempts)
	assert.Equal(t, 720, s.Converted)
	assert.Equal(t, "done", s.Status)
}

func TestLedger_ListenerRecordsRegionsAndSkips(t *testing.T) {
	l, _ := openTestLedger(t)
	hm := hooks.NewHookManager(nil)
	l.Register(hm)
	ctx := context.Background()

	require.NoError(t, hm.Trigger(ctx, hooks.NewPostRegionConvertEvent(hooks.RegionPayload{
		Dimension: core.Nether,
		Region:    core.RegionPos{X: -1, Z: 2},
		Chunks:    10,
		Skipped:   1,
		Duration:  time.Second,
	})))
	chunk := core.ChunkPos{X: -20, Z: 70}
	require.NoError(t, hm.Trigger(ctx, hooks.NewUnitSkippedEvent(hooks.UnitSkippedPayload{
		Unit: core.SkippedUnit{Dimension: core.Nether, Region: core.RegionPos{X: -1, Z: 2}, Chunk: &chunk, Reason: "bad nbt"},
	})))
	require.NoError(t, hm.Trigger(ctx, hooks.NewUnitSkippedEvent(hooks.UnitSkippedPayload{
		Unit: core.SkippedUnit{Dimension: core.End, Region: core.RegionPos{}, Reason: "truncated header"},
	})))

	skipErr := &core.DataLossError{Skipped: []core.SkippedUnit{{Reason: "x"}, {Reason: "y"}}}
	require.NoError(t, l.Finish(42, 2, skipErr))

	s, err := l.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Regions)
	assert.Equal(t, 2, s.Skipped)
	assert.Equal(t, "data_loss", s.Status)

	var cx sql.NullInt32
	require.NoError(t, l.db.QueryRow(`SELECT cx FROM skipped WHERE run_id = ? AND dimension = ?`, l.RunID(), int32(core.End)).Scan(&cx))
	assert.False(t, cx.Valid, "region-level skips carry no chunk")
}

func TestLedger_RejectsAfterFinish(t *testing.T) {
	l, _ := openTestLedger(t)
	require.NoError(t, l.Finish(0, 0, errors.New("disk full")))

	err := l.RecordAttempt(convert.Attempt{Status: convert.StatusConverted})
	assert.ErrorIs(t, err, ErrClosed)

	// Late hook events are dropped silently.
	lis := l.Listener()
	assert.NoError(t, lis.OnEvent(context.Background(), hooks.NewPostRegionConvertEvent(hooks.RegionPayload{})))

	s, err := l.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "failed", s.Status)
}

func TestLedger_RunsAccumulateInOneFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.db")

	first, err := Open(path, "a", "b", nil)
	require.NoError(t, err)
	require.NoError(t, first.Finish(1, 0, nil))
	require.NoError(t, first.Close())

	second, err := Open(path, "a", "c", nil)
	require.NoError(t, err)
	defer second.Close()
	assert.Greater(t, second.RunID(), first.RunID())

	var runs int
	require.NoError(t, second.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&runs))
	assert.Equal(t, 2, runs)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("", "a", "b", nil)
	assert.Error(t, err)
}
