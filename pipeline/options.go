// Package pipeline runs a whole world conversion: it locks the source,
// converts every region in parallel, attaches entities to their chunks,
// resolves cross-region structures and commits the Bedrock output.
package pipeline

import (
	"log/slog"
	"os"
	"time"

	"github.com/INLOpen/chunkbridge/compressors"
	"github.com/INLOpen/chunkbridge/convert"
	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/hooks"
	"github.com/INLOpen/chunkbridge/source"
	"github.com/INLOpen/chunkbridge/sys"
	"github.com/RoaringBitmap/roaring/roaring64"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Options configures Run. The zero value converts every dimension and every
// chunk with the default tables.
type Options struct {
	// DimensionFilter limits the run to these dimensions. Empty means all.
	DimensionFilter []core.Dimension
	// ChunkFilter limits the run to these chunks (ChunkPos.Pack) in every
	// converted dimension. Nil means all.
	ChunkFilter *roaring64.Bitmap
	// TempDirectory holds the staging store and the attachment indexes.
	// Empty means os.TempDir.
	TempDirectory string

	Tables convert.Collaborators
	Logger *slog.Logger
	Tracer trace.Tracer
	Hooks  hooks.HookManager

	// ReportPath enables the SQLite ledger at this path.
	ReportPath string
	// CreateFile overrides file creation for staging scratch files.
	CreateFile sys.CreateHandler

	RecordCompression  string
	SegmentCompression string
	SegmentConcurrency int
	FlushEvery         int
	// BatchSize is the number of records per target database write batch.
	BatchSize int

	// MonitorInterval enables system resource sampling into expvar.
	MonitorInterval time.Duration
	LockTimeout     time.Duration
	MinDataVersion  int32
	// LevelName overrides the level name read from the source.
	LevelName string

	// Source replaces the Java reader opened on the input directory.
	Source source.World
}

func (o *Options) applyDefaults() error {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer("chunkbridge/pipeline")
	}
	if o.Hooks == nil {
		o.Hooks = hooks.Nop
	}
	if o.Tables == nil {
		o.Tables = convert.DefaultTables()
	}
	if len(o.DimensionFilter) == 0 {
		o.DimensionFilter = core.AllDimensions
	}
	if o.TempDirectory == "" {
		o.TempDirectory = os.TempDir()
	}
	if o.RecordCompression == "" {
		o.RecordCompression = "flate"
	}
	if o.SegmentCompression == "" {
		o.SegmentCompression = "snappy"
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = 5 * time.Second
	}
	for _, name := range []string{o.RecordCompression, o.SegmentCompression} {
		if _, err := compressors.ByName(name); err != nil {
			return err
		}
	}
	return nil
}
