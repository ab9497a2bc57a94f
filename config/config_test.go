package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	yamlContent := `
conversion:
  concurrency: 6
  dimensions: ["overworld", "the_nether"]
staging:
  record_compression: zstd
  flush_every: 128
`
	cfg, err := Load(strings.NewReader(yamlContent))
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Check overridden values
	assert.Equal(t, 6, cfg.Conversion.Concurrency)
	assert.Equal(t, "zstd", cfg.Staging.RecordCompression)
	assert.Equal(t, 128, cfg.Staging.FlushEvery)

	// Check a default value that was not overridden
	assert.Equal(t, "snappy", cfg.Staging.SegmentCompression)
	assert.Equal(t, 4096, cfg.Output.BatchSize)

	dims, err := cfg.DimensionList()
	require.NoError(t, err)
	assert.Equal(t, []core.Dimension{core.Overworld, core.Nether}, dims)
}

func TestLoad_EmptyReader(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "flate", cfg.Staging.RecordCompression)

	cfg, err = Load(strings.NewReader(""))
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "5s", cfg.Conversion.LockTimeout)

	dims, err := cfg.DimensionList()
	require.NoError(t, err)
	assert.Nil(t, dims)
	filter, err := cfg.ChunkFilter()
	require.NoError(t, err)
	assert.Nil(t, filter)
}

func TestLoad_InvalidYAML(t *testing.T) {
	yamlContent := `
conversion:
  concurrency: 2
  this: is: invalid: yaml
`
	_, err := Load(strings.NewReader(yamlContent))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config yaml")
}

func TestLoad_UnknownCompression(t *testing.T) {
	_, err := Load(strings.NewReader("staging:\n  segment_compression: brotli\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "staging.segment_compression")
}

func TestConfig_ChunkFilter(t *testing.T) {
	cfg, err := Load(strings.NewReader(`
conversion:
  chunks: ["1,1:-1,-1", "10, 20"]
`))
	require.NoError(t, err)
	bm, err := cfg.ChunkFilter()
	require.NoError(t, err)
	assert.EqualValues(t, 10, bm.GetCardinality())
	assert.True(t, bm.Contains(core.ChunkPos{X: -1, Z: 1}.Pack()))
	assert.True(t, bm.Contains(core.ChunkPos{X: 10, Z: 20}.Pack()))
	assert.False(t, bm.Contains(core.ChunkPos{X: 2, Z: 0}.Pack()))

	cfg.Conversion.Chunks = []string{"1;2"}
	_, err = cfg.ChunkFilter()
	assert.Error(t, err)
}

func TestConfig_DimensionListRejectsUnknown(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	cfg.Conversion.Dimensions = []string{"aether"}
	_, err = cfg.DimensionList()
	assert.Error(t, err)
}

// TestLoadConfig_FileIntegration checks LoadConfig against the filesystem.
func TestLoadConfig_FileIntegration(t *testing.T) {
	t.Run("FileExists", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("output:\n  batch_size: 12345\n"), 0644))

		cfg, err := LoadConfig(configPath)
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, 12345, cfg.Output.BatchSize)
	})

	t.Run("FileDoesNotExist", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "non_existent_config.yaml"))
		require.NoError(t, err)
		require.NotNil(t, cfg)
		// Should return default value
		assert.Equal(t, 4096, cfg.Output.BatchSize)
	})
}

func TestParseDuration(t *testing.T) {
	// Use a logger that discards output for this test
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	defaultDuration := 10 * time.Second

	testCases := []struct {
		name     string
		input    string
		expected time.Duration
	}{
		{"ValidSeconds", "5s", 5 * time.Second},
		{"ValidMilliseconds", "500ms", 500 * time.Millisecond},
		{"ValidMinutes", "2m", 2 * time.Minute},
		{"EmptyString", "", defaultDuration},
		{"ZeroString", "0", defaultDuration},
		{"InvalidString", "5x", defaultDuration},
		{"JustNumber", "10", defaultDuration},
		{"NilLogger", "5x", defaultDuration}, // Should not panic with nil logger
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var testLogger *slog.Logger
			if tc.name != "NilLogger" {
				testLogger = logger
			}
			result := ParseDuration(tc.input, defaultDuration, testLogger)
			assert.Equal(t, tc.expected, result)
		})
	}
}
