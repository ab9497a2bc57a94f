package compressors

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/klauspost/compress/flate"
)

// FlateCompressor produces raw deflate streams. Staged records use it by
// default: chunk payloads are dominated by repetitive palette indices and
// NBT names, which deflate handles well.
type FlateCompressor struct {
	level      int
	writerPool sync.Pool
	readerPool sync.Pool
}

type flateReadCloser struct {
	io.ReadCloser
	pool *sync.Pool
}

func (f *flateReadCloser) Close() error {
	err := f.ReadCloser.Close()
	f.pool.Put(f.ReadCloser)
	return err
}

var _ core.Compressor = (*FlateCompressor)(nil)

// NewFlateCompressor returns a compressor at the given flate level. Levels
// outside the valid range fall back to flate.DefaultCompression.
func NewFlateCompressor(level int) *FlateCompressor {
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		level = flate.DefaultCompression
	}
	c := &FlateCompressor{level: level}
	c.writerPool.New = func() interface{} {
		w, err := flate.NewWriter(nil, c.level)
		if err != nil {
			panic(fmt.Sprintf("flate: new writer: %v", err))
		}
		return w
	}
	return c
}

func (c *FlateCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.CompressTo(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *FlateCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	w := c.writerPool.Get().(*flate.Writer)
	defer c.writerPool.Put(w)

	dst.Reset()
	w.Reset(dst)
	if _, err := w.Write(src); err != nil {
		return fmt.Errorf("flate compress write error: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("flate compress close error: %w", err)
	}
	return nil
}

func (c *FlateCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	src := bytes.NewReader(data)
	if r, ok := c.readerPool.Get().(io.ReadCloser); ok {
		if err := r.(flate.Resetter).Reset(src, nil); err != nil {
			return nil, fmt.Errorf("flate reader reset error: %w", err)
		}
		return &flateReadCloser{ReadCloser: r, pool: &c.readerPool}, nil
	}
	return &flateReadCloser{ReadCloser: flate.NewReader(src), pool: &c.readerPool}, nil
}

func (c *FlateCompressor) Type() core.CompressionType {
	return core.CompressionFlate
}
