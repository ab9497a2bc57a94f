package compressors

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/INLOpen/chunkbridge/core"
	lz4 "github.com/pierrec/lz4/v4"
)

// LZ4Compressor uses the LZ4 block format.
type LZ4Compressor struct{}

var _ core.Compressor = (*LZ4Compressor)(nil)

func NewLz4Compressor() *LZ4Compressor {
	return &LZ4Compressor{}
}

func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.CompressTo(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *LZ4Compressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	tmp := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, tmp, nil)
	if err != nil {
		return fmt.Errorf("lz4 compress error: %w", err)
	}
	if n == 0 && len(src) > 0 {
		// Incompressible input: CompressBlock reports 0 and the caller falls
		// back to storing the block uncompressed.
		return errIncompressible
	}
	dst.Write(tmp[:n])
	return nil
}

// Decompress grows the destination until the block fits, since the LZ4 block
// format does not record the uncompressed size.
func (c *LZ4Compressor) Decompress(data []byte) (io.ReadCloser, error) {
	if len(data) == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	size := len(data) * 3
	if size < 1024 {
		size = 1024
	}
	dst := make([]byte, size)
	for {
		n, err := lz4.UncompressBlock(data, dst)
		if err == nil {
			return io.NopCloser(bytes.NewReader(dst[:n])), nil
		}
		if !errors.Is(err, lz4.ErrInvalidSourceShortBuffer) {
			return nil, fmt.Errorf("lz4 decompress error: %w", err)
		}
		if len(dst) > 64<<20 {
			return nil, fmt.Errorf("lz4 decompression buffer grew too large (>64MB)")
		}
		dst = make([]byte, len(dst)*2)
	}
}

func (c *LZ4Compressor) Type() core.CompressionType {
	return core.CompressionLZ4
}
