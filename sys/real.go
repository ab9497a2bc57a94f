package sys

import (
	"os"
)

var _ FileHandle = (*RealFile)(nil)

// RealFile is the os-backed FileHandle.
type RealFile struct {
	f *os.File
}

func (rf *RealFile) Write(p []byte) (n int, err error) {
	return rf.f.Write(p)
}

func (rf *RealFile) Read(p []byte) (n int, err error) {
	return rf.f.Read(p)
}

func (rf *RealFile) Seek(offset int64, whence int) (int64, error) {
	return rf.f.Seek(offset, whence)
}

func (rf *RealFile) Stat() (os.FileInfo, error) {
	return rf.f.Stat()
}

func (rf *RealFile) Sync() error {
	return rf.f.Sync()
}

func (rf *RealFile) Truncate(size int64) error {
	return rf.f.Truncate(size)
}

func (rf *RealFile) Name() string {
	return rf.f.Name()
}

func (rf *RealFile) WriteAt(p []byte, off int64) (n int, err error) {
	return rf.f.WriteAt(p, off)
}

func (rf *RealFile) ReadAt(p []byte, off int64) (n int, err error) {
	return rf.f.ReadAt(p, off)
}

func (rf *RealFile) Close() error {
	return rf.f.Close()
}
