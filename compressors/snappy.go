package compressors

import (
	"bytes"
	"fmt"
	"io"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/golang/snappy"
)

// SnappyCompressor uses the snappy block format. It is the default for
// segment blocks, where decode speed matters more than ratio.
type SnappyCompressor struct{}

var _ core.Compressor = (*SnappyCompressor)(nil)

func NewSnappyCompressor() *SnappyCompressor {
	return &SnappyCompressor{}
}

func (c *SnappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

// CompressTo encodes src into dst. The block format must match Decompress, so
// the streaming writer is not used here.
func (c *SnappyCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	dst.Grow(snappy.MaxEncodedLen(len(src)))
	dst.Write(snappy.Encode(nil, src))
	return nil
}

func (c *SnappyCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress error: %w", err)
	}
	return io.NopCloser(bytes.NewReader(out)), nil
}

func (c *SnappyCompressor) Type() core.CompressionType {
	return core.CompressionSnappy
}
