// Package staging decouples the parallel chunk converters from the single
// writer of the target database. Workers append records to private
// streams; Close sorts every stream into a segment and merges the segments
// into the sink, keeping the newest record for each key.
package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/INLOpen/chunkbridge/compressors"
	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/hooks"
	"github.com/INLOpen/chunkbridge/sys"

	"go.opentelemetry.io/otel/trace"
)

// Sink receives the merged records at Close. bedrock.DB implements it.
// Put must not retain key or value after it returns.
type Sink interface {
	Put(key, value []byte) error
	// Flush makes the records written so far durable.
	Flush() error
}

// Sequencer hands out strictly increasing sequence numbers. Records staged
// later win over records staged earlier under the same key.
type Sequencer struct {
	n atomic.Uint64
}

func (s *Sequencer) Next() uint64 { return s.n.Add(1) }

// DefaultSequencer is shared by stores that do not bring their own.
var DefaultSequencer = &Sequencer{}

const (
	stateOpen int32 = iota
	stateClosing
	stateClosed
	stateAbandoned
)

// Options configures a Store.
type Options struct {
	// Dir is the parent directory of the scratch directory. Empty means os.TempDir.
	Dir string
	// Compressor compresses each record at Put time. Default: flate.
	Compressor core.Compressor
	// SegmentCompressor compresses segment blocks. Default: snappy.
	SegmentCompressor core.Compressor
	Sequencer         *Sequencer
	// SegmentConcurrency bounds how many segments are built at once.
	SegmentConcurrency int
	// FlushEvery is how many merged records go to the sink between progress
	// reports and sink flushes.
	FlushEvery int
	Logger     *slog.Logger
	Tracer     trace.Tracer
	Hooks      hooks.HookManager
	// Create overrides sys.Create for every scratch file.
	Create sys.CreateHandler
}

// Store is the staging store. AcquireWriter and ReleaseWriter are safe for
// concurrent use; Close and Abandon must be called once, after every writer
// has been released.
type Store struct {
	dir        string
	compressor core.Compressor
	segComp    core.Compressor
	seq        *Sequencer
	opts       Options
	logger     *slog.Logger
	tracer     trace.Tracer
	hooks      hooks.HookManager
	create     sys.CreateHandler

	mu       sync.Mutex
	writers  []*Writer
	idle     []*Writer
	poisonEr error

	state   atomic.Int32
	records atomic.Uint64
}

// New creates the scratch directory and returns an open store.
func New(opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Compressor == nil {
		opts.Compressor = compressors.NewFlateCompressor(-1)
	}
	if opts.SegmentCompressor == nil {
		opts.SegmentCompressor = compressors.NewSnappyCompressor()
	}
	if opts.Sequencer == nil {
		opts.Sequencer = DefaultSequencer
	}
	if opts.SegmentConcurrency <= 0 {
		opts.SegmentConcurrency = 4
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = 4096
	}
	if opts.Hooks == nil {
		opts.Hooks = hooks.Nop
	}
	if opts.Create == nil {
		opts.Create = sys.Create
	}
	dir, err := os.MkdirTemp(opts.Dir, "chunkbridge-staging-")
	if err != nil {
		return nil, core.NewError("staging.New", "create scratch directory", err)
	}
	s := &Store{
		dir:        dir,
		compressor: opts.Compressor,
		segComp:    opts.SegmentCompressor,
		seq:        opts.Sequencer,
		opts:       opts,
		logger:     opts.Logger.With("component", "staging"),
		tracer:     opts.Tracer,
		hooks:      opts.Hooks,
		create:     opts.Create,
	}
	s.logger.Debug("Staging store opened", "dir", dir, "record_compression", s.compressor.Type())
	return s, nil
}

// Dir is the scratch directory.
func (s *Store) Dir() string { return s.dir }

// Records returns the number of records staged so far.
func (s *Store) Records() uint64 { return s.records.Load() }

// Err returns the error that poisoned the store, if any.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poisonEr
}

// AcquireWriter returns an idle writer or registers a new one. Files are
// created on the writer's first Put.
func (s *Store) AcquireWriter() (*Writer, error) {
	if s.state.Load() != stateOpen {
		return nil, core.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poisonEr != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrWriterPoisoned, s.poisonEr)
	}
	if n := len(s.idle); n > 0 {
		w := s.idle[n-1]
		s.idle = s.idle[:n-1]
		return w, nil
	}
	w := newWriter(s, uint64(len(s.writers)))
	s.writers = append(s.writers, w)
	return w, nil
}

// ReleaseWriter returns w to the idle pool. Poisoned writers stay registered
// but are not reused.
func (s *Store) ReleaseWriter(w *Writer) {
	if w == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.err == nil && !w.closed {
		s.idle = append(s.idle, w)
	}
}

func (s *Store) poison(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poisonEr == nil {
		s.poisonEr = err
		s.logger.Error("Staging writer poisoned", "error", err)
	}
}

// Close flushes every writer, compacts the staged records and writes the
// newest record for each key into sink. It fails if any writer was ever
// poisoned. The scratch directory is removed in every case.
func (s *Store) Close(ctx context.Context, progress core.ProgressSink, sink Sink) (err error) {
	if !s.state.CompareAndSwap(stateOpen, stateClosing) {
		return core.NewError("staging.Close", "store already closed", core.ErrStoreClosed)
	}
	if progress == nil {
		progress = core.NopProgress
	}
	defer func() {
		s.removeScratch()
		s.state.Store(stateClosed)
	}()

	s.mu.Lock()
	writers := append([]*Writer(nil), s.writers...)
	s.mu.Unlock()

	for _, w := range writers {
		w.finish()
	}
	if perr := s.Err(); perr != nil {
		return core.NewError("staging.Close", "staged data is incomplete", fmt.Errorf("%w: %w", core.ErrWriterPoisoned, perr))
	}

	if err := s.compact(ctx, writers, progress, sink); err != nil {
		if errors.Is(err, core.ErrCancelled) {
			return err
		}
		return core.NewError("staging.Close", "compaction", fmt.Errorf("%w: %w", core.ErrCompaction, err))
	}
	return nil
}

// Abandon discards everything that was staged. The sink is never touched.
func (s *Store) Abandon() error {
	prev := s.state.Swap(stateAbandoned)
	if prev == stateClosed || prev == stateAbandoned {
		return nil
	}
	s.mu.Lock()
	writers := append([]*Writer(nil), s.writers...)
	s.mu.Unlock()

	_ = s.hooks.Trigger(context.Background(), hooks.NewPreStagingAbandonEvent(hooks.AbandonPayload{Dir: s.dir, Writers: len(writers)}))
	for _, w := range writers {
		w.discard()
	}
	s.logger.Info("Staging store abandoned", "writers", len(writers), "records", s.records.Load())
	return s.removeScratch()
}

func (s *Store) removeScratch() error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = os.RemoveAll(s.dir); err == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt+1) * 20 * time.Millisecond)
	}
	s.logger.Warn("Failed to remove staging directory", "dir", s.dir, "error", err)
	return err
}
