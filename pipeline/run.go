package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/INLOpen/chunkbridge/attach"
	"github.com/INLOpen/chunkbridge/compressors"
	"github.com/INLOpen/chunkbridge/convert"
	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/hooks"
	"github.com/INLOpen/chunkbridge/identity"
	"github.com/INLOpen/chunkbridge/monitor"
	"github.com/INLOpen/chunkbridge/report"
	"github.com/INLOpen/chunkbridge/scheduler"
	"github.com/INLOpen/chunkbridge/source"
	"github.com/INLOpen/chunkbridge/staging"
	"github.com/INLOpen/chunkbridge/sys"
	"github.com/INLOpen/chunkbridge/world"
	"github.com/INLOpen/chunkbridge/worlddata"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// run is the state of one Run call.
type run struct {
	input       string
	output      string
	concurrency int
	opts        Options
	progress    core.ProgressSink
	logger      *slog.Logger
	tracer      trace.Tracer
	hooks       hooks.HookManager

	state     State
	abort     *scheduler.Abort
	src       source.World
	ownSource bool
	unlock    func() error
	store     *staging.Store
	indexDir  string
	indexes   map[core.Dimension]*attach.Index
	ledger    *report.Ledger
	collector *monitor.SystemCollector
	registrar *identity.Registrar

	level   *worlddata.LevelData
	reduced *worlddata.LevelData

	// outputReady is set once the output directory has been claimed;
	// outputCreated when Run itself created it.
	outputReady   bool
	outputCreated bool
	committed     bool
}

// Run converts the Java world in input into a Bedrock world in output using
// up to concurrency region workers (0 means one per CPU).
//
// It returns nil on success, a *core.DataLossError when the output was
// committed but some regions or chunks could not be read, and a *core.Error
// otherwise. On any error other than data loss the output directory is left
// as it was before the call.
func Run(ctx context.Context, input, output string, concurrency uint, opts Options, progress core.ProgressSink) (err error) {
	if err := opts.applyDefaults(); err != nil {
		return core.NewError("pipeline.Run", "invalid options", err)
	}
	if progress == nil {
		progress = core.NopProgress
	}
	r := &run{
		input:       input,
		output:      output,
		concurrency: int(concurrency),
		opts:        opts,
		progress:    progress,
		logger:      opts.Logger.With("component", "pipeline"),
		tracer:      opts.Tracer,
		hooks:       opts.Hooks,
		state:       StateIdle,
		abort:       &scheduler.Abort{},
		indexes:     make(map[core.Dimension]*attach.Index),
		registrar:   identity.NewRegistrar(),
	}

	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("input", input),
		attribute.String("output", output),
		attribute.Int("concurrency", r.concurrency),
	))
	defer span.End()

	if err := r.hooks.Trigger(ctx, hooks.NewPreRunEvent(hooks.RunPayload{Input: input, Output: output, Concurrency: r.concurrency})); err != nil {
		return core.NewError("pipeline.Run", "pre-run hook", err)
	}

	defer func() {
		err = r.finish(normalize(err))
		skipped := 0
		var dl *core.DataLossError
		if errors.As(err, &dl) {
			skipped = len(dl.Skipped)
		}
		if core.IsFatal(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "conversion_failed")
		}
		_ = r.hooks.Trigger(context.WithoutCancel(ctx), hooks.NewPostRunEvent(hooks.PostRunPayload{
			Input:    input,
			Output:   output,
			Duration: time.Since(start),
			Skipped:  skipped,
			Error:    err,
		}))
		r.hooks.Stop()
	}()

	steps := []struct {
		state State
		fn    func(context.Context) error
	}{
		{StateLocking, r.lock},
		{StateReadingMetadata, r.readMetadata},
		{StateScheduling, r.schedule},
		{StateDraining, r.drain},
		{StateEntityAttachmentPass, r.attachPass},
		{StateFinalizing, r.finalize},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.transition(ctx, step.state)
		if err := r.phase(ctx, step.state, step.fn); err != nil {
			return err
		}
	}
	r.transition(ctx, StateDone)

	regions, chunks, entities, tiles := r.level.Totals()
	r.logger.Info("Conversion finished",
		"duration", time.Since(start),
		"regions", regions,
		"chunks", chunks,
		"entities", entities,
		"tile_entities", tiles,
		"records", r.store.Records())
	if skipped := r.level.Skipped(); len(skipped) > 0 {
		return &core.DataLossError{Skipped: skipped}
	}
	return nil
}

func (r *run) phase(ctx context.Context, state State, fn func(context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, "pipeline."+string(state))
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(state)+"_failed")
		return err
	}
	return nil
}

// normalize maps cancellation to core.ErrCancelled and gives every fatal
// error a core.Error at the top.
func normalize(err error) error {
	if err == nil || core.IsDataLoss(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if !errors.Is(err, core.ErrCancelled) {
			err = fmt.Errorf("%w: %w", core.ErrCancelled, err)
		}
		return core.NewError("pipeline.Run", "cancelled", err)
	}
	if errors.Is(err, core.ErrCancelled) {
		return core.NewError("pipeline.Run", "cancelled", err)
	}
	var ce *core.Error
	if errors.As(err, &ce) {
		return err
	}
	return core.NewError("pipeline.Run", "", err)
}

// finish releases everything the run holds. A failed run discards the
// staged data and the output directory.
func (r *run) finish(err error) error {
	if core.IsFatal(err) && !r.committed {
		r.transition(context.Background(), StateFailed)
		r.logger.Error("Conversion failed", "error", err, "chain", core.Chain(err))
		if r.store != nil {
			if aerr := r.store.Abandon(); aerr != nil {
				r.logger.Warn("Failed to discard staged data", "error", aerr)
			}
		}
		r.discardOutput()
	}
	for dim, idx := range r.indexes {
		if derr := idx.Destroy(); derr != nil {
			r.logger.Warn("Failed to remove attachment index", "dimension", dim.String(), "error", derr)
		}
	}
	if r.indexDir != "" {
		_ = os.RemoveAll(r.indexDir)
	}
	if r.collector != nil {
		r.collector.Stop()
	}
	if r.ledger != nil {
		var records uint64
		if r.store != nil {
			records = r.store.Records()
		}
		skipped := 0
		if r.level != nil {
			skipped = len(r.level.Skipped())
		}
		if lerr := r.ledger.Finish(records, skipped, err); lerr != nil {
			r.logger.Warn("Report ledger incomplete", "error", lerr)
		}
		_ = r.ledger.Close()
	}
	if r.ownSource && r.src != nil {
		_ = r.src.Close()
	}
	if r.unlock != nil {
		if uerr := r.unlock(); uerr != nil {
			r.logger.Warn("Failed to release session lock", "error", uerr)
		}
	}
	return err
}

// discardOutput restores the output directory to its pre-run state.
func (r *run) discardOutput() {
	if !r.outputReady {
		return
	}
	if r.outputCreated {
		if err := os.RemoveAll(r.output); err != nil {
			r.logger.Warn("Failed to remove output directory", "dir", r.output, "error", err)
		}
		return
	}
	entries, err := os.ReadDir(r.output)
	if err != nil {
		return
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(r.output, e.Name())); err != nil {
			r.logger.Warn("Failed to remove partial output", "path", e.Name(), "error", err)
		}
	}
}

func (r *run) lock(_ context.Context) error {
	unlock, err := sys.LockSession(r.input, r.opts.LockTimeout)
	if err != nil {
		return core.NewError("pipeline.Lock", r.input, err)
	}
	r.unlock = unlock
	return nil
}

func (r *run) readMetadata(_ context.Context) error {
	const op = "pipeline.ReadMetadata"
	r.src = r.opts.Source
	if r.src == nil {
		src, err := source.OpenJava(r.input, r.opts.Logger)
		if err != nil {
			return core.NewError(op, "open source world", err)
		}
		r.src, r.ownSource = src, true
	}
	level, err := r.src.LevelData()
	if err != nil {
		return core.NewError(op, "read level.dat", err)
	}
	if err := r.claimOutput(); err != nil {
		return err
	}

	r.level = worlddata.NewLevelData()
	r.level.Source = level
	if t, ok := world.Int(level, "Time"); ok {
		r.level.SourceTick = t
	}

	recordComp, _ := compressors.ByName(r.opts.RecordCompression)
	segmentComp, _ := compressors.ByName(r.opts.SegmentCompression)
	r.store, err = staging.New(staging.Options{
		Dir:                r.opts.TempDirectory,
		Compressor:         recordComp,
		SegmentCompressor:  segmentComp,
		Sequencer:          &staging.Sequencer{},
		SegmentConcurrency: r.opts.SegmentConcurrency,
		FlushEvery:         r.opts.FlushEvery,
		Logger:             r.opts.Logger,
		Tracer:             r.tracer,
		Hooks:              r.hooks,
		Create:             r.opts.CreateFile,
	})
	if err != nil {
		return err
	}

	r.indexDir, err = os.MkdirTemp(r.opts.TempDirectory, "chunkbridge-attach-")
	if err != nil {
		return core.NewError(op, "create attachment index directory", err)
	}
	for _, dim := range r.opts.DimensionFilter {
		idx, err := attach.Open(filepath.Join(r.indexDir, dim.String()), r.opts.Logger)
		if err != nil {
			return err
		}
		r.indexes[dim] = idx
	}

	if r.opts.ReportPath != "" {
		r.ledger, err = report.Open(r.opts.ReportPath, r.input, r.output, r.opts.Logger)
		if err != nil {
			return core.NewError(op, "open report ledger", err)
		}
		r.ledger.Register(r.hooks)
	}
	if r.opts.MonitorInterval > 0 {
		r.collector = monitor.NewSystemCollector(r.opts.TempDirectory, r.opts.MonitorInterval, true, r.opts.Logger)
		r.collector.Start()
	}
	r.logger.Info("Source world opened",
		"level_name", world.String(level, "LevelName"),
		"data_version", level["DataVersion"],
		"dimensions", len(r.opts.DimensionFilter))
	return nil
}

// claimOutput requires output to be absent or empty and creates it.
func (r *run) claimOutput() error {
	const op = "pipeline.ReadMetadata"
	entries, err := os.ReadDir(r.output)
	switch {
	case err == nil && len(entries) > 0:
		return core.NewError(op, r.output, core.ErrOutputExists)
	case err == nil:
		r.outputReady = true
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return core.NewError(op, "inspect output directory", err)
	}
	if err := os.MkdirAll(r.output, 0o755); err != nil {
		return core.NewError(op, "create output directory", err)
	}
	r.outputReady, r.outputCreated = true, true
	return nil
}

// regionSelected reports whether any chunk of pos passes the chunk filter.
func (r *run) regionSelected(pos core.RegionPos) bool {
	if r.opts.ChunkFilter == nil {
		return true
	}
	for lz := 0; lz < 32; lz++ {
		for lx := 0; lx < 32; lx++ {
			if r.opts.ChunkFilter.Contains(pos.Chunk(lx, lz).Pack()) {
				return true
			}
		}
	}
	return false
}

func (r *run) schedule(ctx context.Context) error {
	var units []convert.WorkUnit
	for _, dim := range r.opts.DimensionFilter {
		regions, err := r.src.Regions(dim)
		if err != nil {
			return core.NewError("pipeline.Schedule", "list regions of "+dim.String(), err)
		}
		for _, pos := range regions {
			if r.regionSelected(pos) {
				units = append(units, convert.WorkUnit{Dimension: dim, Region: pos})
			}
		}
	}
	r.logger.Info("Scheduling regions", "units", len(units), "concurrency", r.concurrency)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("units", len(units)))

	copts := convert.Options{
		ChunkFilter:    r.opts.ChunkFilter,
		MinDataVersion: r.opts.MinDataVersion,
		Logger:         r.opts.Logger,
		Tracer:         r.tracer,
		Hooks:          r.hooks,
	}
	if r.ledger != nil {
		copts.Recorder = r.ledger
	}
	conv := convert.New(r.src, r.opts.Tables, r.registrar, copts)

	reduced, err := scheduler.Reduce(ctx, units, r.concurrency, worlddata.NewLevelData,
		func(acc *worlddata.LevelData, u convert.WorkUnit, _ int) (*worlddata.LevelData, error) {
			w, err := r.store.AcquireWriter()
			if err != nil {
				return acc, err
			}
			defer r.store.ReleaseWriter(w)
			return acc, conv.ConvertRegion(ctx, u, w, r.indexes[u.Dimension], acc.Dimension(u.Dimension))
		},
		func(dst, src *worlddata.LevelData) *worlddata.LevelData {
			dst.Absorb(src)
			return dst
		},
		scheduler.Options{Progress: r.report(core.PhaseRegions), Abort: r.abort, Logger: r.opts.Logger},
	)
	r.reduced = reduced
	return err
}

func (r *run) report(phase core.Phase) func(done, total int) bool {
	return func(done, total int) bool { return r.progress.Report(phase, done, total) }
}
