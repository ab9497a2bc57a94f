package staging

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"path/filepath"

	"github.com/INLOpen/chunkbridge/compressors"
	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/sys"
)

// keyRecordFixed is the fixed part of a key-index record:
// seq(8) keyLen(4) offset(8) length(4) rawLen(4) crc(4) compression(1).
const keyRecordFixed = 8 + 4 + 8 + 4 + 4 + 4 + 1

// Writer appends records to its own key-index and value-blob streams. A
// Writer is used by one goroutine at a time; Store.AcquireWriter hands it out
// and Store.ReleaseWriter returns it for reuse.
type Writer struct {
	id    uint64
	store *Store

	keysPath string
	valsPath string
	keys     sys.FileHandle
	vals     sys.FileHandle
	keysBuf  *bufio.Writer
	valsBuf  *bufio.Writer

	valOffset int64
	records   uint64
	rawBytes  uint64
	err       error
	closed    bool
	scratch   [keyRecordFixed]byte
}

func newWriter(s *Store, id uint64) *Writer {
	base := filepath.Join(s.dir, fmt.Sprintf("w%04d", id))
	return &Writer{
		id:       id,
		store:    s,
		keysPath: base + core.KeyStreamSuffix,
		valsPath: base + core.ValueStreamSuffix,
	}
}

// ID is the store-assigned writer id.
func (w *Writer) ID() uint64 { return w.id }

// Records returns the number of records written so far.
func (w *Writer) Records() uint64 { return w.records }

// Err returns the error that poisoned the writer, if any.
func (w *Writer) Err() error { return w.err }

func (w *Writer) open() error {
	keys, err := w.store.create(w.keysPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(w.keysPath), err)
	}
	vals, err := w.store.create(w.valsPath)
	if err != nil {
		keys.Close()
		return fmt.Errorf("create %s: %w", filepath.Base(w.valsPath), err)
	}
	w.keys, w.vals = keys, vals
	w.keysBuf = bufio.NewWriterSize(keys, 64<<10)
	w.valsBuf = bufio.NewWriterSize(vals, 256<<10)

	kh := core.NewScratchHeader(core.KeyStreamMagicNumber, core.CompressionNone)
	if _, err := kh.WriteTo(w.keysBuf); err != nil {
		return fmt.Errorf("write key stream header: %w", err)
	}
	vh := core.NewScratchHeader(core.ValueStreamMagicNumber, w.store.compressor.Type())
	if _, err := vh.WriteTo(w.valsBuf); err != nil {
		return fmt.Errorf("write value stream header: %w", err)
	}
	w.valOffset = int64(vh.Size())
	return nil
}

// Put stages value under key. The value is compressed immediately and both
// streams are appended; nothing is shared with other writers. Any failure
// poisons the writer and the store.
func (w *Writer) Put(key, value []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.closed || w.store.state.Load() != stateOpen {
		return core.ErrStoreClosed
	}
	if w.keys == nil {
		if err := w.open(); err != nil {
			return w.poison(err)
		}
	}

	buf := core.Buffers.Get()
	defer core.Buffers.Put(buf)

	ct := w.store.compressor.Type()
	payload := value
	if err := w.store.compressor.CompressTo(buf, value); err == nil {
		payload = buf.Bytes()
	} else if compressors.IsIncompressible(err) {
		ct = core.CompressionNone
	} else {
		return w.poison(fmt.Errorf("compress record: %w", err))
	}

	seq := w.store.seq.Next()
	if _, err := w.valsBuf.Write(payload); err != nil {
		return w.poison(fmt.Errorf("write %s: %w", filepath.Base(w.valsPath), err))
	}

	rec := w.scratch[:]
	binary.LittleEndian.PutUint64(rec[0:], seq)
	binary.LittleEndian.PutUint32(rec[8:], uint32(len(key)))
	binary.LittleEndian.PutUint64(rec[12:], uint64(w.valOffset))
	binary.LittleEndian.PutUint32(rec[20:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(rec[24:], uint32(len(value)))
	binary.LittleEndian.PutUint32(rec[28:], crc32.ChecksumIEEE(payload))
	rec[32] = byte(ct)
	if _, err := w.keysBuf.Write(rec); err != nil {
		return w.poison(fmt.Errorf("write %s: %w", filepath.Base(w.keysPath), err))
	}
	if _, err := w.keysBuf.Write(key); err != nil {
		return w.poison(fmt.Errorf("write %s: %w", filepath.Base(w.keysPath), err))
	}

	w.valOffset += int64(len(payload))
	w.records++
	w.rawBytes += uint64(len(value))
	w.store.records.Add(1)
	return nil
}

func (w *Writer) poison(err error) error {
	w.err = fmt.Errorf("writer %d: %w", w.id, err)
	w.store.poison(w.err)
	return w.err
}

// finish flushes and closes both streams. It is safe to call more than once.
func (w *Writer) finish() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	if w.keys == nil {
		return w.err
	}
	var errs []error
	if w.err == nil {
		for _, step := range []func() error{w.keysBuf.Flush, w.valsBuf.Flush, w.keys.Sync, w.vals.Sync} {
			if err := step(); err != nil {
				errs = append(errs, err)
				break
			}
		}
	}
	for _, f := range []io.Closer{w.keys, w.vals} {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 && w.err == nil {
		w.poison(fmt.Errorf("flush streams: %w", errs[0]))
	}
	return w.err
}

// discard closes the streams without flushing and removes them.
func (w *Writer) discard() {
	w.closed = true
	if w.keys != nil {
		w.keys.Close()
		w.vals.Close()
	}
	sys.Remove(w.keysPath)
	sys.Remove(w.valsPath)
}
