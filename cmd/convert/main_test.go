package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/INLOpen/chunkbridge/config"
	"github.com/INLOpen/chunkbridge/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildOptions(t *testing.T) {
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	cfg.Conversion.Dimensions = []string{"nether", "overworld"}
	cfg.Conversion.Chunks = []string{"0,0:1,1"}
	cfg.Conversion.LockTimeout = "250ms"
	cfg.Report.Enabled = true
	cfg.Report.Path = "run.db"
	cfg.SelfMonitoring.Enabled = true
	cfg.SelfMonitoring.Interval = "2s"

	opts, err := buildOptions(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []core.Dimension{core.Nether, core.Overworld}, opts.DimensionFilter)
	require.NotNil(t, opts.ChunkFilter)
	assert.EqualValues(t, 4, opts.ChunkFilter.GetCardinality())
	assert.Equal(t, 250*time.Millisecond, opts.LockTimeout)
	assert.Equal(t, "run.db", opts.ReportPath)
	assert.Equal(t, 2*time.Second, opts.MonitorInterval)
	assert.Equal(t, "flate", opts.RecordCompression)

	cfg.Conversion.Dimensions = []string{"aether"}
	_, err = buildOptions(cfg, nil)
	assert.Error(t, err)
}

func TestBuildOptions_Defaults(t *testing.T) {
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	opts, err := buildOptions(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, opts.DimensionFilter)
	assert.Nil(t, opts.ChunkFilter)
	assert.Empty(t, opts.ReportPath)
	assert.Zero(t, opts.MonitorInterval)
}

func TestFlagsOverrideConfig(t *testing.T) {
	cmd := newRootCommand()
	require.NoError(t, cmd.Flags().Parse([]string{"-j", "3", "--dimension", "end", "--report", "out.db"}))
	cfg, err := config.Load(nil)
	require.NoError(t, err)

	var f flags
	f.concurrency, _ = cmd.Flags().GetInt("concurrency")
	f.dimensions, _ = cmd.Flags().GetStringSlice("dimension")
	f.report, _ = cmd.Flags().GetString("report")
	f.apply(cmd, cfg)

	assert.Equal(t, 3, cfg.Conversion.Concurrency)
	assert.Equal(t, []string{"end"}, cfg.Conversion.Dimensions)
	assert.True(t, cfg.Report.Enabled)
	assert.Equal(t, "out.db", cfg.Report.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitDataLoss, exitCode(&core.DataLossError{Skipped: []core.SkippedUnit{{Reason: "x"}}}))
	assert.Equal(t, exitCancelled, exitCode(core.NewError("pipeline.Run", "cancelled", core.ErrCancelled)))
	assert.Equal(t, exitFatal, exitCode(fmt.Errorf("wrapped: %w", errors.New("disk full"))))
}

func TestConcurrency(t *testing.T) {
	assert.Equal(t, uint(5), concurrency(5))
	assert.Greater(t, concurrency(0), uint(0))
}

func TestProgressBars_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressBars(&buf, true)
	assert.True(t, p.Report(core.PhaseRegions, 0, 3))
	assert.True(t, p.Report(core.PhaseRegions, 3, 3))
	assert.True(t, p.Report(core.PhaseCompaction, 1, 10))
	p.Close()

	assert.Equal(t, "Converting regions: 3 items\nConverting regions: done\nCommitting records: 10 items\nCommitting records: done\n", buf.String())

	buf.Reset()
	off := newProgressBars(&buf, false)
	assert.True(t, off.Report(core.PhaseRegions, 1, 1))
	off.Close()
	assert.Empty(t, buf.String())
}
