package staging

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"path/filepath"
	"time"

	"github.com/INLOpen/chunkbridge/compressors"
	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/hooks"
	"github.com/INLOpen/chunkbridge/iterator"
	"github.com/INLOpen/chunkbridge/memtable"
	"github.com/INLOpen/chunkbridge/sstable"
	"github.com/INLOpen/chunkbridge/sys"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// segmentValueHeader prefixes every segment value: compression(1) rawLen(4).
const segmentValueHeader = 1 + 4

func (s *Store) compact(ctx context.Context, writers []*Writer, progress core.ProgressSink, sink Sink) (err error) {
	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "staging.Compact")
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}
	start := time.Now()

	active := make([]*Writer, 0, len(writers))
	for _, w := range writers {
		if w.records > 0 {
			active = append(active, w)
		}
	}
	payload := hooks.CompactPayload{Writers: len(writers), Segments: len(active), Records: s.records.Load()}
	if err := s.hooks.Trigger(ctx, hooks.NewPreStagingCompactEvent(payload)); err != nil {
		return err
	}

	paths := make([]string, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.SegmentConcurrency)
	for i, w := range active {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := s.buildSegment(gctx, w)
			paths[i] = p
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	merged, err := s.merge(ctx, paths, progress, sink)
	if err != nil {
		return err
	}

	payload.Records = merged
	payload.Duration = time.Since(start)
	if span != nil {
		span.SetAttributes(
			attribute.Int("staging.segments", len(paths)),
			attribute.Int64("staging.records_merged", int64(merged)),
		)
	}
	_ = s.hooks.Trigger(ctx, hooks.NewPostStagingCompactEvent(payload))
	s.logger.Info("Staging compaction finished",
		"writers", len(writers), "segments", len(paths),
		"records_staged", s.records.Load(), "records_merged", merged,
		"duration", payload.Duration)
	return nil
}

// loadKeyIndex reads a writer's key stream into a sort buffer.
func (s *Store) loadKeyIndex(w *Writer) (*memtable.SortBuffer, error) {
	f, err := sys.Open(w.keysPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReaderSize(f, 64<<10)

	if _, err := core.ReadScratchHeader(r, core.KeyStreamMagicNumber); err != nil {
		return nil, fmt.Errorf("%w: key stream: %v", core.ErrCorruptRecord, err)
	}

	buf := memtable.New()
	var fixed [keyRecordFixed]byte
	for {
		if _, err := io.ReadFull(r, fixed[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return buf, nil
			}
			return nil, fmt.Errorf("%w: truncated key record: %v", core.ErrCorruptRecord, err)
		}
		key := make([]byte, binary.LittleEndian.Uint32(fixed[8:]))
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("%w: truncated key: %v", core.ErrCorruptRecord, err)
		}
		buf.Put(&memtable.Entry{
			Key:         key,
			Seq:         binary.LittleEndian.Uint64(fixed[0:]),
			Offset:      int64(binary.LittleEndian.Uint64(fixed[12:])),
			Length:      binary.LittleEndian.Uint32(fixed[20:]),
			RawLen:      binary.LittleEndian.Uint32(fixed[24:]),
			Checksum:    binary.LittleEndian.Uint32(fixed[28:]),
			Compression: fixed[32],
		})
	}
}

// buildSegment sorts one writer's records into a segment and removes the
// writer's streams.
func (s *Store) buildSegment(ctx context.Context, w *Writer) (string, error) {
	sorted, err := s.loadKeyIndex(w)
	if err != nil {
		return "", fmt.Errorf("writer %d: %w", w.id, err)
	}
	vals, err := sys.Open(w.valsPath)
	if err != nil {
		return "", fmt.Errorf("writer %d: %w", w.id, err)
	}
	defer vals.Close()

	seg, err := sstable.NewWriter(sstable.WriterOptions{
		Dir:        s.dir,
		ID:         w.id,
		Compressor: s.segComp,
		Tracer:     s.tracer,
		Logger:     s.logger,
		Create:     s.create,
	})
	if err != nil {
		return "", fmt.Errorf("writer %d: %w", w.id, err)
	}

	var value []byte
	err = sorted.Ascend(func(e *memtable.Entry) error {
		need := segmentValueHeader + int(e.Length)
		if cap(value) < need {
			value = make([]byte, need)
		}
		value = value[:need]
		value[0] = e.Compression
		binary.LittleEndian.PutUint32(value[1:], e.RawLen)
		blob := value[segmentValueHeader:]
		if _, err := vals.ReadAt(blob, e.Offset); err != nil {
			return fmt.Errorf("read value at %d: %w", e.Offset, err)
		}
		if crc32.ChecksumIEEE(blob) != e.Checksum {
			return fmt.Errorf("%w: key %x seq %d", core.ErrCorruptRecord, e.Key, e.Seq)
		}
		return seg.Add(e.Key, value, e.Seq)
	})
	if err == nil {
		err = seg.Finish()
	} else {
		seg.Abort()
	}
	if err != nil {
		return "", fmt.Errorf("writer %d: %w", w.id, err)
	}

	sys.Remove(w.keysPath)
	sys.Remove(w.valsPath)
	_ = s.hooks.Trigger(ctx, hooks.NewPostSegmentCreateEvent(hooks.SegmentPayload{ID: w.id, Path: seg.FilePath(), Entries: seg.Entries()}))
	s.logger.Debug("Segment built", "writer", w.id, "records", w.records, "entries", seg.Entries(), "path", filepath.Base(seg.FilePath()))
	return seg.FilePath(), nil
}

// merge k-way merges the segments into sink.
func (s *Store) merge(ctx context.Context, paths []string, progress core.ProgressSink, sink Sink) (uint64, error) {
	iters := make([]iterator.Interface, 0, len(paths))
	var total uint64
	for _, p := range paths {
		r, err := sstable.Open(p, s.logger)
		if err != nil {
			for _, it := range iters {
				it.Close()
			}
			return 0, err
		}
		total += r.Entries()
		iters = append(iters, r.NewIterator())
	}
	mi := iterator.NewMergingIterator(iters)
	defer mi.Close()

	decoders := map[core.CompressionType]core.Compressor{s.compressor.Type(): s.compressor}
	var raw []byte
	var done uint64
	for mi.Next() {
		v := mi.Value()
		if len(v) < segmentValueHeader {
			return done, fmt.Errorf("%w: short segment value for key %x", core.ErrCorruptRecord, mi.Key())
		}
		ct := core.CompressionType(v[0])
		rawLen := binary.LittleEndian.Uint32(v[1:])
		payload := v[segmentValueHeader:]
		if ct == core.CompressionNone {
			raw = append(raw[:0], payload...)
		} else {
			dec, ok := decoders[ct]
			if !ok {
				var err error
				if dec, err = compressors.ForType(ct); err != nil {
					return done, err
				}
				decoders[ct] = dec
			}
			var err error
			if raw, err = compressors.DecompressAll(dec, payload, raw); err != nil {
				return done, fmt.Errorf("key %x: %w", mi.Key(), err)
			}
		}
		if uint32(len(raw)) != rawLen {
			return done, fmt.Errorf("%w: key %x decoded to %d bytes, want %d", core.ErrCorruptRecord, mi.Key(), len(raw), rawLen)
		}
		if err := sink.Put(mi.Key(), raw); err != nil {
			return done, fmt.Errorf("sink put: %w", err)
		}
		done++
		if done%uint64(s.opts.FlushEvery) == 0 {
			if err := sink.Flush(); err != nil {
				return done, fmt.Errorf("sink flush: %w", err)
			}
			if !progress.Report(core.PhaseCompaction, int(done), int(total)) {
				return done, core.ErrCancelled
			}
			if err := ctx.Err(); err != nil {
				return done, err
			}
		}
	}
	if err := mi.Error(); err != nil {
		return done, err
	}
	if err := sink.Flush(); err != nil {
		return done, fmt.Errorf("sink flush: %w", err)
	}
	progress.Report(core.PhaseCompaction, int(done), int(done))
	return done, nil
}
