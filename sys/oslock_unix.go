//go:build unix

package sys

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// AcquireOSFileLock acquires an advisory exclusive flock on lockPath,
// creating the file if needed. It retries until timeout elapses. The release
// function unlocks and closes the file, and removes it when remove is set.
func AcquireOSFileLock(lockPath string, timeout time.Duration, remove bool) (func() error, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	fd := int(f.Fd())
	deadline := time.Now().Add(timeout)
	for {
		err = unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			if st, serr := f.Stat(); serr == nil && st.Size() == 0 {
				_, _ = f.Write(snowman)
			}
			return func() error {
				uerr := unix.Flock(fd, unix.LOCK_UN)
				cerr := f.Close()
				if remove {
					_ = os.Remove(lockPath)
				}
				if uerr != nil {
					return uerr
				}
				return cerr
			}, nil
		}
		if time.Now().After(deadline) {
			_ = f.Close()
			return nil, err
		}
		time.Sleep(25 * time.Millisecond)
	}
}
