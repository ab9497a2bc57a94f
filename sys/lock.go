package sys

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/INLOpen/chunkbridge/core"
)

// snowman is the payload Java Edition writes into session.lock.
var snowman = []byte("\xe2\x98\x83")

// LockSession takes the exclusive session lock of the world directory dir.
// It retries until timeout elapses and wraps core.ErrLocked when another
// process keeps holding the lock. The returned release function unlocks the
// file but leaves it in place, since the game expects it to exist.
func LockSession(dir string, timeout time.Duration) (func() error, error) {
	lockPath := filepath.Join(dir, core.SessionLockFileName)
	release, err := AcquireOSFileLock(lockPath, timeout, false)
	if err != nil {
		if errors.Is(err, ErrOSFileLockNotSupported) {
			return func() error { return nil }, nil
		}
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("open %s: %w", lockPath, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", core.ErrLocked, lockPath, err)
	}
	return release, nil
}

var ErrOSFileLockNotSupported = errors.New("OS file locking not supported on this platform")
