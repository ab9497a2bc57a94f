package compressors

import (
	"errors"
	"fmt"
	"io"

	"github.com/INLOpen/chunkbridge/core"
)

var errIncompressible = errors.New("input is incompressible")

// IsIncompressible reports whether CompressTo refused the input because the
// output would not be smaller. Callers store such data uncompressed.
func IsIncompressible(err error) bool {
	return errors.Is(err, errIncompressible)
}

// ForType returns a fresh compressor for ct.
func ForType(ct core.CompressionType) (core.Compressor, error) {
	switch ct {
	case core.CompressionNone:
		return NewNoCompressionCompressor(), nil
	case core.CompressionSnappy:
		return NewSnappyCompressor(), nil
	case core.CompressionLZ4:
		return NewLz4Compressor(), nil
	case core.CompressionZSTD:
		return NewZstdCompressor(), nil
	case core.CompressionFlate:
		return NewFlateCompressor(-1), nil
	}
	return nil, fmt.Errorf("unsupported compression type %d", ct)
}

// ByName resolves a configuration name such as "deflate" or "snappy".
func ByName(name string) (core.Compressor, error) {
	ct, err := core.ParseCompressionType(name)
	if err != nil {
		return nil, err
	}
	return ForType(ct)
}

// DecompressAll decompresses data fully into dst, reusing its capacity.
func DecompressAll(c core.Compressor, data []byte, dst []byte) ([]byte, error) {
	rc, err := c.Decompress(data)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	out := dst[:0]
	buf := make([]byte, 4096)
	for {
		n, err := rc.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s decompress: %w", c.Type(), err)
		}
	}
}
