package source

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lz4BlockStream frames data the way lz4-java's LZ4BlockOutputStream does,
// one block per blockSize bytes, followed by the end marker.
func lz4BlockStream(t *testing.T, data []byte, blockSize int) []byte {
	t.Helper()
	var out bytes.Buffer
	header := func(method byte, compressed, raw int) {
		out.WriteString(lz4BlockMagic)
		out.WriteByte(method | 0x06)
		var b [12]byte
		binary.LittleEndian.PutUint32(b[0:], uint32(compressed))
		binary.LittleEndian.PutUint32(b[4:], uint32(raw))
		out.Write(b[:])
	}
	for len(data) > 0 {
		n := min(blockSize, len(data))
		block := data[:n]
		data = data[n:]
		dst := make([]byte, lz4.CompressBlockBound(n))
		c, err := lz4.CompressBlock(block, dst, nil)
		require.NoError(t, err)
		if c == 0 || c >= n {
			header(lz4MethodRaw, n, n)
			out.Write(block)
			continue
		}
		header(lz4MethodLZ4, c, n)
		out.Write(dst[:c])
	}
	header(lz4MethodRaw, 0, 0)
	return out.Bytes()
}

func TestInflateLZ4Block(t *testing.T) {
	data := bytes.Repeat([]byte("minecraft:stone minecraft:dirt "), 400)
	data = append(data, 0x01, 0x7f, 0x33)

	stream := lz4BlockStream(t, data, 4096)
	got, err := inflate(compressionLZ4, stream)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestInflateLZ4Block_RawBlocks(t *testing.T) {
	data := []byte{9, 1, 4, 7}
	got, err := inflate(compressionLZ4, lz4BlockStream(t, data, 2))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestInflateLZ4Block_Corrupt(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 512)
	stream := lz4BlockStream(t, data, len(data))

	_, err := inflate(compressionLZ4, stream[:10])
	assert.ErrorContains(t, err, "truncated")

	bad := append([]byte(nil), stream...)
	copy(bad, "LZ4Blokk")
	_, err = inflate(compressionLZ4, bad)
	assert.ErrorContains(t, err, "magic")

	short := append([]byte(nil), stream...)
	binary.LittleEndian.PutUint32(short[len(lz4BlockMagic)+5:], uint32(len(data)+100))
	_, err = inflate(compressionLZ4, short)
	assert.Error(t, err)
}
