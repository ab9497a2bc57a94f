package sstable

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"

	"github.com/INLOpen/chunkbridge/compressors"
	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/sys"
)

var ErrBadSegment = errors.New("sstable: invalid segment file")

// Reader gives random and sequential access to a finished segment.
type Reader struct {
	file    sys.FileHandle
	path    string
	index   *Index
	entries uint64
	logger  *slog.Logger
}

// Open loads the header, footer and index of the segment at path.
func Open(path string, logger *slog.Logger) (*Reader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := sys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment %s: %w", path, err)
	}
	r := &Reader{file: f, path: path, logger: logger}
	if err := r.load(); err != nil {
		f.Close()
		return nil, fmt.Errorf("load segment %s: %w", path, err)
	}
	return r, nil
}

func (r *Reader) load() error {
	hdr := make([]byte, core.ScratchHeaderSize)
	if _, err := r.file.ReadAt(hdr, 0); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if _, err := core.ParseScratchHeader(hdr, core.SegmentMagicNumber); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSegment, err)
	}

	st, err := r.file.Stat()
	if err != nil {
		return err
	}
	tail := int64(footerSize + core.SegmentMagicStringLen)
	if st.Size() < int64(len(hdr))+tail {
		return fmt.Errorf("%w: file too small (%d bytes)", ErrBadSegment, st.Size())
	}
	footer := make([]byte, tail)
	if _, err := r.file.ReadAt(footer, st.Size()-tail); err != nil {
		return fmt.Errorf("read footer: %w", err)
	}
	if string(footer[footerSize:]) != core.SegmentMagicString {
		return fmt.Errorf("%w: bad footer magic", ErrBadSegment)
	}
	indexOffset := int64(binary.LittleEndian.Uint64(footer[0:]))
	indexLen := binary.LittleEndian.Uint32(footer[8:])
	r.entries = binary.LittleEndian.Uint64(footer[12:])

	indexData := make([]byte, indexLen)
	if _, err := r.file.ReadAt(indexData, indexOffset); err != nil {
		return fmt.Errorf("read index: %w", err)
	}
	r.index, err = DeserializeIndex(indexData)
	return err
}

// Entries returns the number of entries recorded in the footer.
func (r *Reader) Entries() uint64 { return r.entries }

func (r *Reader) Path() string { return r.path }

// readBlock reads, verifies and decompresses one block.
func (r *Reader) readBlock(e IndexEntry) (*Block, error) {
	if e.BlockLength < blockHeaderSize {
		return nil, fmt.Errorf("%w: block at %d too short", errBlockCorrupt, e.BlockOffset)
	}
	buf := make([]byte, e.BlockLength)
	if _, err := r.file.ReadAt(buf, e.BlockOffset); err != nil {
		return nil, fmt.Errorf("read block at %d: %w", e.BlockOffset, err)
	}
	ct := core.CompressionType(buf[0])
	payload := buf[blockHeaderSize:]
	if want, got := binary.LittleEndian.Uint32(buf[1:]), crc32.ChecksumIEEE(payload); want != got {
		return nil, fmt.Errorf("%w: checksum mismatch at %d", errBlockCorrupt, e.BlockOffset)
	}
	raw := payload
	if ct != core.CompressionNone {
		c, err := compressors.ForType(ct)
		if err != nil {
			return nil, err
		}
		if raw, err = compressors.DecompressAll(c, payload, nil); err != nil {
			return nil, fmt.Errorf("decompress block at %d: %w", e.BlockOffset, err)
		}
	}
	return NewBlock(raw)
}

// Get returns the value stored for key.
func (r *Reader) Get(key []byte) ([]byte, uint64, bool, error) {
	e, ok := r.index.Find(key)
	if !ok {
		return nil, 0, false, nil
	}
	blk, err := r.readBlock(e)
	if err != nil {
		return nil, 0, false, err
	}
	return blk.Find(key)
}

// NewIterator returns an iterator over every entry of the segment.
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{r: r}
}

func (r *Reader) Close() error {
	return r.file.Close()
}
