package monitor

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/INLOpen/chunkbridge/config"
	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/hooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func histCount(t *testing.T, h *expvar.Map, key string) int64 {
	t.Helper()
	v, ok := h.Get(key).(*expvar.Int)
	require.True(t, ok, "missing bucket %s", key)
	return v.Value()
}

func TestMetrics_ListenerTracksRun(t *testing.T) {
	m := NewMetrics(false, "")
	hm := hooks.NewHookManager(nil)
	m.Register(hm)
	ctx := context.Background()

	require.NoError(t, hm.Trigger(ctx, hooks.NewPreRunEvent(hooks.RunPayload{Input: "in", Output: "out"})))
	require.NoError(t, hm.Trigger(ctx, hooks.NewStateChangeEvent(hooks.StateChangePayload{From: "Locking", To: "Scheduling"})))
	require.NoError(t, hm.Trigger(ctx, hooks.NewPostRegionConvertEvent(hooks.RegionPayload{Dimension: core.Overworld, Chunks: 30, Duration: 200 * time.Millisecond})))
	require.NoError(t, hm.Trigger(ctx, hooks.NewPostRegionConvertEvent(hooks.RegionPayload{Dimension: core.Overworld, Chunks: 2, Duration: 90 * time.Second, Error: errors.New("boom")})))
	require.NoError(t, hm.Trigger(ctx, hooks.NewUnitSkippedEvent(hooks.UnitSkippedPayload{})))
	require.NoError(t, hm.Trigger(ctx, hooks.NewPostStagingCompactEvent(hooks.CompactPayload{Records: 1234, Duration: time.Second})))
	require.NoError(t, hm.Trigger(ctx, hooks.NewPostRunEvent(hooks.PostRunPayload{Error: errors.New("failed")})))
	hm.Stop()

	assert.Equal(t, int64(1), m.RunsTotal.Value())
	assert.Equal(t, int64(1), m.RunErrorsTotal.Value())
	assert.Equal(t, "Scheduling", m.State.Value())
	assert.Equal(t, int64(2), m.RegionsTotal.Value())
	assert.Equal(t, int64(1), m.RegionErrorsTotal.Value())
	assert.Equal(t, int64(32), m.ChunksTotal.Value())
	assert.Equal(t, int64(1), m.UnitsSkippedTotal.Value())
	assert.Equal(t, int64(1234), m.RecordsCompacted.Value())

	assert.Equal(t, int64(2), histCount(t, m.RegionLatencyHist, "count"))
	assert.Equal(t, int64(1), histCount(t, m.RegionLatencyHist, "le_0.250"))
	assert.Equal(t, int64(1), histCount(t, m.RegionLatencyHist, "le_60.000"))
	assert.Equal(t, int64(2), histCount(t, m.RegionLatencyHist, "le_inf"))
}

func TestMetrics_PublishGloballyReuses(t *testing.T) {
	first := NewMetrics(true, "monitor_test_")
	first.RegionsTotal.Add(5)

	second := NewMetrics(true, "monitor_test_")
	assert.Same(t, first.RegionsTotal, second.RegionsTotal)
	assert.Equal(t, int64(0), second.RegionsTotal.Value())
	assert.NotNil(t, expvar.Get("monitor_test_regions_total"))
}

func TestSystemCollector_Collect(t *testing.T) {
	sc := NewSystemCollector(t.TempDir(), time.Hour, false, nil)
	sc.Collect(0)
	assert.Greater(t, sc.MemUsagePercent.Value(), 0.0)
	assert.Greater(t, sc.DiskFreeBytes.Value(), int64(0))

	sc.Start()
	sc.Stop()
	sc.Stop()
}

func TestDebugServer_Routes(t *testing.T) {
	srv := NewDebugServer(config.DebugConfig{
		ListenAddress:    "127.0.0.1:0",
		PProfEnabled:     true,
		MetricsEnabled:   true,
		MonitorUIEnabled: true,
	}, nil)

	for _, path := range []string{"/metrics", "/debug/pprof/", "/viz/"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestDebugServer_DisabledEndpoints(t *testing.T) {
	srv := NewDebugServer(config.DebugConfig{ListenAddress: "127.0.0.1:0"}, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebugServer_StartStop(t *testing.T) {
	srv := NewDebugServer(config.DebugConfig{ListenAddress: "127.0.0.1:0", MetricsEnabled: true}, nil)
	addr, err := srv.Start()
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	srv.Stop()
	srv.Stop()
}
