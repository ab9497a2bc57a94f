package sys

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireOSFileLock_Exclusive(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "lck.lock")

	rel1, err := AcquireOSFileLock(lockPath, 500*time.Millisecond, true)
	if err == ErrOSFileLockNotSupported {
		t.Skip("OS file locking not supported on this platform")
	}
	require.NoError(t, err)

	_, err = AcquireOSFileLock(lockPath, 50*time.Millisecond, true)
	require.Error(t, err, "second acquisition must fail while the lock is held")

	require.NoError(t, rel1())
	_, err = os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err), "release with remove must delete the lock file")

	rel2, err := AcquireOSFileLock(lockPath, 200*time.Millisecond, true)
	require.NoError(t, err)
	require.NoError(t, rel2())
}

func TestLockSession(t *testing.T) {
	dir := t.TempDir()

	release, err := LockSession(dir, 100*time.Millisecond)
	require.NoError(t, err)

	_, err = LockSession(dir, 30*time.Millisecond)
	require.ErrorIs(t, err, core.ErrLocked)

	require.NoError(t, release())
	data, err := os.ReadFile(filepath.Join(dir, core.SessionLockFileName))
	require.NoError(t, err, "session.lock must survive release")
	assert.Equal(t, snowman, data)

	again, err := LockSession(dir, 100*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, again())
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "levelname.txt")

	require.NoError(t, WriteFileAtomic(name, []byte("first"), 0o644))
	require.NoError(t, WriteFileAtomic(name, []byte("second"), 0o644))

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	_, err = os.Stat(name + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
