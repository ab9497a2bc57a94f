package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/RoaringBitmap/roaring/roaring64"
	"gopkg.in/yaml.v3"
)

// ConversionConfig controls what is converted and how wide the run fans out.
type ConversionConfig struct {
	// Concurrency is the number of region workers. 0 means one per CPU.
	Concurrency int `yaml:"concurrency"`
	// Dimensions limits the run, e.g. ["overworld", "nether"]. Empty means all.
	Dimensions []string `yaml:"dimensions"`
	// Chunks limits the run to chunk rectangles "x1,z1:x2,z2" (inclusive).
	Chunks         []string `yaml:"chunks"`
	TempDir        string   `yaml:"temp_dir"`
	MinDataVersion int32    `yaml:"min_data_version"`
	LockTimeout    string   `yaml:"lock_timeout"`
	// LevelName overrides the name copied from the source level.dat.
	LevelName string `yaml:"level_name"`
}

// StagingConfig holds staging-store specific configurations.
type StagingConfig struct {
	RecordCompression  string `yaml:"record_compression"`
	SegmentCompression string `yaml:"segment_compression"`
	SegmentConcurrency int    `yaml:"segment_concurrency"`
	FlushEvery         int    `yaml:"flush_every"`
}

// OutputConfig holds target database configurations.
type OutputConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// ReportConfig controls the SQLite conversion ledger.
type ReportConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	// SlowRegion is the duration above which a region conversion is logged.
	SlowRegion string `yaml:"slow_region"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// DebugConfig holds debugging-related configurations.
type DebugConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ListenAddress    string `yaml:"listen_address"`
	PProfEnabled     bool   `yaml:"pprof_enabled"`
	MetricsEnabled   bool   `yaml:"metrics_enabled"`
	MonitorUIEnabled bool   `yaml:"monitor_ui_enabled"`
}

type SelfMonitoringConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"`
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// Config is the top-level configuration struct.
type Config struct {
	Conversion     ConversionConfig     `yaml:"conversion"`
	Staging        StagingConfig        `yaml:"staging"`
	Output         OutputConfig         `yaml:"output"`
	Report         ReportConfig         `yaml:"report"`
	Logging        LoggingConfig        `yaml:"logging"`
	Debug          DebugConfig          `yaml:"debug"`
	SelfMonitoring SelfMonitoringConfig `yaml:"self_monitoring"`
	Tracing        TracingConfig        `yaml:"tracing"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// DimensionList resolves Conversion.Dimensions. An empty list yields nil,
// meaning every dimension.
func (c *Config) DimensionList() ([]core.Dimension, error) {
	if len(c.Conversion.Dimensions) == 0 {
		return nil, nil
	}
	seen := make(map[core.Dimension]bool)
	var out []core.Dimension
	for _, name := range c.Conversion.Dimensions {
		d, err := core.ParseDimension(name)
		if err != nil {
			return nil, err
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out, nil
}

// maxFilterChunks bounds how many chunks one rectangle may select.
const maxFilterChunks = 1 << 24

// ChunkFilter resolves Conversion.Chunks into a bitmap of ChunkPos.Pack
// values. No rectangles yields nil, meaning every chunk.
func (c *Config) ChunkFilter() (*roaring64.Bitmap, error) {
	if len(c.Conversion.Chunks) == 0 {
		return nil, nil
	}
	bm := roaring64.New()
	for _, spec := range c.Conversion.Chunks {
		a, b, err := parseRect(spec)
		if err != nil {
			return nil, err
		}
		if int64(b.X-a.X+1)*int64(b.Z-a.Z+1) > maxFilterChunks {
			return nil, fmt.Errorf("chunk rectangle %q selects too many chunks", spec)
		}
		for x := a.X; x <= b.X; x++ {
			for z := a.Z; z <= b.Z; z++ {
				bm.Add(core.ChunkPos{X: x, Z: z}.Pack())
			}
		}
	}
	return bm, nil
}

// parseRect parses "x1,z1:x2,z2" or a single chunk "x,z".
func parseRect(spec string) (core.ChunkPos, core.ChunkPos, error) {
	from, to, isRange := strings.Cut(strings.TrimSpace(spec), ":")
	a, err := parseChunk(from)
	if err != nil {
		return a, a, fmt.Errorf("chunk rectangle %q: %w", spec, err)
	}
	b := a
	if isRange {
		if b, err = parseChunk(to); err != nil {
			return a, b, fmt.Errorf("chunk rectangle %q: %w", spec, err)
		}
	}
	if a.X > b.X {
		a.X, b.X = b.X, a.X
	}
	if a.Z > b.Z {
		a.Z, b.Z = b.Z, a.Z
	}
	return a, b, nil
}

func parseChunk(s string) (core.ChunkPos, error) {
	xs, zs, ok := strings.Cut(s, ",")
	if !ok {
		return core.ChunkPos{}, fmt.Errorf("want x,z, got %q", s)
	}
	x, err := strconv.ParseInt(strings.TrimSpace(xs), 10, 32)
	if err != nil {
		return core.ChunkPos{}, err
	}
	z, err := strconv.ParseInt(strings.TrimSpace(zs), 10, 32)
	if err != nil {
		return core.ChunkPos{}, err
	}
	return core.ChunkPos{X: int32(x), Z: int32(z)}, nil
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	// Set default values
	cfg := &Config{
		Conversion: ConversionConfig{
			Concurrency:    0,
			MinDataVersion: 2860, // 1.18
			LockTimeout:    "5s",
		},
		Staging: StagingConfig{
			RecordCompression:  "flate",
			SegmentCompression: "snappy",
			SegmentConcurrency: 4,
			FlushEvery:         4096,
		},
		Output: OutputConfig{
			BatchSize: 4096,
		},
		Report: ReportConfig{
			Enabled:    false,
			Path:       "chunkbridge-report.db",
			SlowRegion: "30s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "chunkbridge.log",
		},
		SelfMonitoring: SelfMonitoringConfig{
			Enabled:  false,
			Interval: "15s",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
		Debug: DebugConfig{
			Enabled:          false,
			ListenAddress:    "127.0.0.1:6060",
			PProfEnabled:     true,
			MetricsEnabled:   true,
			MonitorUIEnabled: true,
		},
	}

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	if _, err := core.ParseCompressionType(cfg.Staging.RecordCompression); err != nil {
		return nil, fmt.Errorf("staging.record_compression: %w", err)
	}
	if _, err := core.ParseCompressionType(cfg.Staging.SegmentCompression); err != nil {
		return nil, fmt.Errorf("staging.segment_compression: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}
