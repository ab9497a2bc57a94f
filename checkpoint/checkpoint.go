// Package checkpoint writes and reads the completion marker of a converted
// world. The marker is the last file written into the output directory; a
// directory without one holds no finished conversion.
package checkpoint

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/sys"
)

const (
	FileName     = core.MarkerFileName
	TempFileName = core.MarkerFileName + core.TempFileSuffix
	MagicNumber  = core.MarkerMagicNumber
)

// Marker summarizes a finished conversion.
type Marker struct {
	// Records is the number of records committed to the target database.
	Records uint64
	// Skipped is the number of regions and chunks left out.
	Skipped uint32
	// Tick is the game time written to level.dat.
	Tick      int64
	Completed time.Time
}

// Write atomically writes the marker into dir using write-and-rename.
func Write(dir string, m Marker) error {
	tempPath := filepath.Join(dir, TempFileName)
	file, err := sys.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp marker file: %w", err)
	}

	fields := []any{MagicNumber, core.FormatVersion, m.Records, m.Skipped, m.Tick, m.Completed.UnixNano()}
	for _, f := range fields {
		if err := binary.Write(file, binary.LittleEndian, f); err != nil {
			file.Close()
			sys.Remove(tempPath)
			return fmt.Errorf("failed to write marker: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		sys.Remove(tempPath)
		return fmt.Errorf("failed to sync temp marker file: %w", err)
	}
	// Close before renaming for Windows.
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp marker file before rename: %w", err)
	}

	if err := sys.Rename(tempPath, filepath.Join(dir, FileName)); err != nil {
		return fmt.Errorf("failed to rename temp marker file to final name: %w", err)
	}
	return nil
}

// Read reads the marker in dir. A missing marker is not an error; found is
// false in that case.
func Read(dir string) (m Marker, found bool, err error) {
	file, err := sys.Open(filepath.Join(dir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return Marker{}, false, nil
		}
		return Marker{}, false, fmt.Errorf("failed to open marker file: %w", err)
	}
	defer file.Close()

	var magic uint32
	if err := binary.Read(file, binary.LittleEndian, &magic); err != nil {
		return Marker{}, true, fmt.Errorf("failed to read marker magic number: %w", err)
	}
	if magic != MagicNumber {
		return Marker{}, true, fmt.Errorf("invalid marker magic number: got %x, want %x", magic, MagicNumber)
	}
	var version uint8
	if err := binary.Read(file, binary.LittleEndian, &version); err != nil {
		return Marker{}, true, fmt.Errorf("failed to read marker version: %w", err)
	}
	if version != core.FormatVersion {
		return Marker{}, true, fmt.Errorf("unsupported marker version %d", version)
	}
	var nanos int64
	for _, f := range []any{&m.Records, &m.Skipped, &m.Tick, &nanos} {
		if err := binary.Read(file, binary.LittleEndian, f); err != nil {
			return Marker{}, true, fmt.Errorf("failed to read marker: %w", err)
		}
	}
	m.Completed = time.Unix(0, nanos)
	return m, true, nil
}

// Exists reports whether dir holds a completed conversion.
func Exists(dir string) bool {
	_, found, err := Read(dir)
	return found && err == nil
}
