//go:build !unix && !windows

package sys

import "time"

func AcquireOSFileLock(lockPath string, timeout time.Duration, remove bool) (func() error, error) {
	return nil, ErrOSFileLockNotSupported
}
