package sstable

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"log/slog"
	"path/filepath"

	"github.com/INLOpen/chunkbridge/compressors"
	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/sys"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WriterOptions configures a segment writer.
type WriterOptions struct {
	Dir             string
	ID              uint64
	Compressor      core.Compressor
	BlockSize       int
	RestartInterval int
	Tracer          trace.Tracer
	Logger          *slog.Logger
	// Create overrides sys.Create, mainly for fault injection in tests.
	Create sys.CreateHandler
}

// Writer builds one sorted segment file. Keys must be added in ascending
// order; for a repeated key only the first (newest) version is kept.
type Writer struct {
	tmpPath   string
	finalPath string
	file      sys.FileHandle
	offset    int64

	compressor core.Compressor
	blockSize  int
	block      *blockBuilder
	index      IndexBuilder
	entries    uint64
	lastKey    []byte
	hasLast    bool

	tracer trace.Tracer
	logger *slog.Logger
}

// FileName returns the segment file name for id.
func FileName(id uint64) string {
	return fmt.Sprintf("%06d%s", id, core.SegmentSuffix)
}

// NewWriter creates <id>.tmp in opts.Dir and writes the file header.
func NewWriter(opts WriterOptions) (*Writer, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Compressor == nil {
		opts.Compressor = compressors.NewSnappyCompressor()
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	create := opts.Create
	if create == nil {
		create = sys.Create
	}

	tmpPath := filepath.Join(opts.Dir, fmt.Sprintf("%06d%s", opts.ID, core.TempFileSuffix))
	file, err := create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary segment file %s: %w", tmpPath, err)
	}

	header := core.NewScratchHeader(core.SegmentMagicNumber, opts.Compressor.Type())
	if _, err := header.WriteTo(file); err != nil {
		file.Close()
		sys.Remove(tmpPath)
		return nil, fmt.Errorf("failed to write segment header: %w", err)
	}

	return &Writer{
		tmpPath:    tmpPath,
		finalPath:  filepath.Join(opts.Dir, FileName(opts.ID)),
		file:       file,
		offset:     int64(header.Size()),
		compressor: opts.Compressor,
		blockSize:  opts.BlockSize,
		block:      newBlockBuilder(opts.RestartInterval),
		tracer:     opts.Tracer,
		logger:     opts.Logger.With("component", "segment_writer", "segment_id", opts.ID),
	}, nil
}

// FilePath returns the final path of the segment once Finish succeeds.
func (w *Writer) FilePath() string { return w.finalPath }

// Entries returns the number of entries added so far.
func (w *Writer) Entries() uint64 { return w.entries }

// Add appends an entry. An older version of the previous key is dropped.
func (w *Writer) Add(key, value []byte, seq uint64) error {
	if w.hasLast {
		switch c := bytes.Compare(key, w.lastKey); {
		case c == 0:
			return nil
		case c < 0:
			return fmt.Errorf("segment keys out of order: %q after %q", key, w.lastKey)
		}
	}
	if w.block.entries > 0 && w.block.estimatedSize()+len(key)+len(value) > w.blockSize {
		if err := w.flushBlock(); err != nil {
			return err
		}
	}
	w.block.add(key, value, seq)
	w.lastKey = append(w.lastKey[:0], key...)
	w.hasLast = true
	w.entries++
	return nil
}

func (w *Writer) flushBlock() error {
	if w.block.entries == 0 {
		return nil
	}
	raw := w.block.finish()

	buf := core.Buffers.Get()
	defer core.Buffers.Put(buf)

	ct := w.compressor.Type()
	payload := raw
	if err := w.compressor.CompressTo(buf, raw); err == nil && buf.Len() < len(raw) {
		payload = buf.Bytes()
	} else if err != nil && !compressors.IsIncompressible(err) {
		return fmt.Errorf("failed to compress block: %w", err)
	} else {
		ct = core.CompressionNone
	}

	var hdr [blockHeaderSize]byte
	hdr[0] = byte(ct)
	binary.LittleEndian.PutUint32(hdr[1:], crc32.ChecksumIEEE(payload))
	if _, err := w.file.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to write block header at offset %d: %w", w.offset, err)
	}
	if _, err := w.file.Write(payload); err != nil {
		return fmt.Errorf("failed to write data block at offset %d: %w", w.offset, err)
	}
	length := uint32(blockHeaderSize + len(payload))
	w.index.Add(w.block.firstKey, w.offset, length)
	w.logger.Debug("Flushed block", "offset", w.offset, "raw_len", len(raw), "disk_len", length, "compression", ct)
	w.offset += int64(length)
	w.block.reset()
	return nil
}

// Finish flushes the last block, writes index and footer, syncs and renames
// the temporary file to its final name. On error the temporary file is removed.
func (w *Writer) Finish() (err error) {
	var span trace.Span
	if w.tracer != nil {
		_, span = w.tracer.Start(context.Background(), "sstable.Writer.Finish")
		defer span.End()
	}
	defer func() {
		if err != nil {
			w.Abort()
			if span != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
		}
	}()

	if err := w.flushBlock(); err != nil {
		return fmt.Errorf("failed to flush final block: %w", err)
	}
	indexData := w.index.Build()
	indexOffset := w.offset
	if _, err := w.file.Write(indexData); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	w.offset += int64(len(indexData))

	footer := make([]byte, footerSize+core.SegmentMagicStringLen)
	binary.LittleEndian.PutUint64(footer[0:], uint64(indexOffset))
	binary.LittleEndian.PutUint32(footer[8:], uint32(len(indexData)))
	binary.LittleEndian.PutUint64(footer[12:], w.entries)
	copy(footer[footerSize:], core.SegmentMagicString)
	if _, err := w.file.Write(footer); err != nil {
		return fmt.Errorf("failed to write footer: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync segment: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close segment: %w", err)
	}
	w.file = nil
	if err := sys.Rename(w.tmpPath, w.finalPath); err != nil {
		return fmt.Errorf("failed to rename segment %s: %w", w.tmpPath, err)
	}
	if span != nil {
		span.SetAttributes(
			attribute.Int64("segment.entries", int64(w.entries)),
			attribute.Int("segment.blocks", len(w.index.entries)),
			attribute.Int64("segment.bytes", w.offset+int64(len(footer))),
		)
	}
	w.logger.Debug("Segment finished", "path", w.finalPath, "entries", w.entries, "blocks", len(w.index.entries))
	return nil
}

// Abort closes and removes the temporary file.
func (w *Writer) Abort() error {
	var err error
	if w.file != nil {
		err = w.file.Close()
		w.file = nil
	}
	if rerr := sys.Remove(w.tmpPath); rerr != nil && err == nil {
		err = rerr
	}
	return err
}
