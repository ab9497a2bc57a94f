package core

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// ScratchHeaderSize is the encoded size of a ScratchHeader.
const ScratchHeaderSize = 16

// ScratchHeader opens every file staging writes under the temp directory:
// key streams, value streams and sorted segments. Scratch files never
// outlive a run, so a header from another build or another kind of file is
// rejected outright rather than migrated.
//
// Layout, little endian:
//
//	magic u32 | version u8 | compressor u8 | reserved u16 | written u64 (unix ms)
type ScratchHeader struct {
	Magic      uint32
	Version    uint8
	Compressor CompressionType
	Written    time.Time
}

// NewScratchHeader stamps a header for the current format version.
func NewScratchHeader(magic uint32, compressor CompressionType) ScratchHeader {
	return ScratchHeader{Magic: magic, Version: FormatVersion, Compressor: compressor, Written: time.Now()}
}

// Size returns ScratchHeaderSize.
func (h ScratchHeader) Size() int { return ScratchHeaderSize }

// AppendBinary appends the encoded header to b.
func (h ScratchHeader) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint32(b, h.Magic)
	b = append(b, h.Version, byte(h.Compressor), 0, 0)
	var ms int64
	if !h.Written.IsZero() {
		ms = h.Written.UnixMilli()
	}
	return binary.LittleEndian.AppendUint64(b, uint64(ms)), nil
}

// WriteTo writes the encoded header to w.
func (h ScratchHeader) WriteTo(w io.Writer) (int64, error) {
	var buf [ScratchHeaderSize]byte
	b, _ := h.AppendBinary(buf[:0])
	n, err := w.Write(b)
	return int64(n), err
}

// ParseScratchHeader decodes b and checks it against the expected magic and
// the current format version.
func ParseScratchHeader(b []byte, magic uint32) (ScratchHeader, error) {
	if len(b) < ScratchHeaderSize {
		return ScratchHeader{}, fmt.Errorf("scratch header: %d bytes, want %d", len(b), ScratchHeaderSize)
	}
	h := ScratchHeader{
		Magic:      binary.LittleEndian.Uint32(b),
		Version:    b[4],
		Compressor: CompressionType(b[5]),
	}
	if ms := int64(binary.LittleEndian.Uint64(b[8:])); ms != 0 {
		h.Written = time.UnixMilli(ms)
	}
	if h.Magic != magic {
		return h, fmt.Errorf("scratch header: magic %08x, want %08x", h.Magic, magic)
	}
	if h.Version != FormatVersion {
		return h, fmt.Errorf("scratch header: version %d, want %d", h.Version, FormatVersion)
	}
	return h, nil
}

// ReadScratchHeader reads and parses a header from r.
func ReadScratchHeader(r io.Reader, magic uint32) (ScratchHeader, error) {
	var buf [ScratchHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return ScratchHeader{}, fmt.Errorf("scratch header: %w", err)
	}
	return ParseScratchHeader(buf[:], magic)
}
