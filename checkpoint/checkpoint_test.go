package checkpoint

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarker_WriteAndRead_Successful(t *testing.T) {
	tempDir := t.TempDir()
	m := Marker{Records: 123, Skipped: 2, Tick: 99000, Completed: time.Unix(1700000000, 5)}

	require.NoError(t, Write(tempDir, m))

	_, err := os.Stat(filepath.Join(tempDir, FileName))
	require.NoError(t, err, "marker should exist after write")
	_, err = os.Stat(filepath.Join(tempDir, TempFileName))
	require.True(t, os.IsNotExist(err), "temp marker should not exist after a successful write")

	got, found, err := Read(tempDir)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, m.Records, got.Records)
	assert.Equal(t, m.Skipped, got.Skipped)
	assert.Equal(t, m.Tick, got.Tick)
	assert.True(t, m.Completed.Equal(got.Completed))
	assert.True(t, Exists(tempDir))
}

func TestMarker_Read_NonExistent(t *testing.T) {
	tempDir := t.TempDir()

	m, found, err := Read(tempDir)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, m.Records)
	assert.False(t, Exists(tempDir))
}

func TestMarker_Write_Overwrite(t *testing.T) {
	tempDir := t.TempDir()
	require.NoError(t, Write(tempDir, Marker{Records: 10}))
	require.NoError(t, Write(tempDir, Marker{Records: 20}))

	got, found, err := Read(tempDir)
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 20, got.Records)
}

func TestMarker_Read_Corrupted(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, FileName)

	t.Run("BadMagicNumber", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01}, 0644))

		_, found, err := Read(tempDir)
		require.Error(t, err)
		assert.True(t, found)
		assert.Contains(t, err.Error(), "invalid marker magic number")
		assert.False(t, Exists(tempDir))
	})

	t.Run("TruncatedFile", func(t *testing.T) {
		b := binary.LittleEndian.AppendUint32(nil, MagicNumber)
		b = append(b, 1, 0x01, 0x00)
		require.NoError(t, os.WriteFile(path, b, 0644))

		_, found, err := Read(tempDir)
		require.Error(t, err)
		assert.True(t, found)
	})
}

func TestMarker_DanglingTempFileIsIgnored(t *testing.T) {
	tempDir := t.TempDir()
	require.NoError(t, Write(tempDir, Marker{Records: 99}))

	// A crash between create and rename leaves only the temp file behind.
	f, err := os.Create(filepath.Join(tempDir, TempFileName))
	require.NoError(t, err)
	require.NoError(t, binary.Write(f, binary.LittleEndian, MagicNumber))
	f.Close()

	got, found, err := Read(tempDir)
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 99, got.Records)
}
