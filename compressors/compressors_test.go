package compressors

import (
	"bytes"
	"io"
	"testing"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allCompressors() []core.Compressor {
	return []core.Compressor{
		NewNoCompressionCompressor(),
		NewSnappyCompressor(),
		NewLz4Compressor(),
		NewZstdCompressor(),
		NewFlateCompressor(-1),
	}
}

func TestCompressors_RoundTrip(t *testing.T) {
	payloads := map[string][]byte{
		"sub-chunk palette": bytes.Repeat([]byte{0x0a, 0x00, 0x00, 0x08, 'n', 'a', 'm', 'e'}, 512),
		"short":             []byte("minecraft:chest"),
		"empty":             {},
	}
	for _, c := range allCompressors() {
		for name, data := range payloads {
			t.Run(c.Type().String()+"/"+name, func(t *testing.T) {
				var buf bytes.Buffer
				err := c.CompressTo(&buf, data)
				if IsIncompressible(err) {
					t.Skip("input refused as incompressible")
				}
				require.NoError(t, err)

				rc, err := c.Decompress(buf.Bytes())
				require.NoError(t, err)
				got, err := io.ReadAll(rc)
				require.NoError(t, err)
				require.NoError(t, rc.Close())
				assert.Equal(t, len(data), len(got))
				assert.True(t, bytes.Equal(data, got))
			})
		}
	}
}

func TestCompressors_PooledReuse(t *testing.T) {
	c := NewFlateCompressor(6)
	for i := 0; i < 5; i++ {
		data := bytes.Repeat([]byte{byte(i)}, 1000+i)
		packed, err := c.Compress(data)
		require.NoError(t, err)
		got, err := DecompressAll(c, packed, nil)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	}
}

func TestByName(t *testing.T) {
	c, err := ByName("deflate")
	require.NoError(t, err)
	assert.Equal(t, core.CompressionFlate, c.Type())

	c, err = ByName("zstd")
	require.NoError(t, err)
	assert.Equal(t, core.CompressionZSTD, c.Type())

	_, err = ByName("xz")
	assert.Error(t, err)

	_, err = ForType(core.CompressionType(99))
	assert.Error(t, err)
}

func BenchmarkFlateCompressTo(b *testing.B) {
	c := NewFlateCompressor(-1)
	data := bytes.Repeat([]byte(`{"name":"minecraft:stone","states":{}}`), 100)
	var buf bytes.Buffer
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := c.CompressTo(&buf, data); err != nil {
			b.Fatal(err)
		}
	}
}
