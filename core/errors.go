package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrLocked is returned when the source world's session lock is held elsewhere.
	ErrLocked = errors.New("world is locked by another process")
	// ErrOutputExists is returned when the output directory is not empty.
	ErrOutputExists = errors.New("output directory already exists and is not empty")
	// ErrWriterPoisoned is returned by staging once any writer hit an I/O error.
	ErrWriterPoisoned = errors.New("staging writer poisoned")
	// ErrStoreClosed is returned by staging operations after Close or Abandon.
	ErrStoreClosed = errors.New("staging store closed")
	// ErrEntityIndex wraps storage failures of the entity attachment index.
	ErrEntityIndex = errors.New("entity attachment index failure")
	// ErrCompaction wraps failures while merging staged records into the target database.
	ErrCompaction = errors.New("staging compaction failed")
	// ErrCancelled is returned when the progress sink requested cancellation.
	ErrCancelled = errors.New("conversion cancelled")
	// ErrCorruptRecord is returned when a staged record fails its checksum.
	ErrCorruptRecord = errors.New("corrupt staged record")
)

// Error is the structured status of a failed operation. Msg is human readable,
// Cause carries the underlying error chain.
type Error struct {
	Op    string
	Msg   string
	Cause error
}

// NewError builds an Error wrapping cause.
func NewError(op, msg string, cause error) *Error {
	return &Error{Op: op, Msg: msg, Cause: cause}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Chain flattens an error into its messages, outermost first.
func Chain(err error) []string {
	var out []string
	for err != nil {
		if ce, ok := err.(*Error); ok {
			msg := ce.Op
			if ce.Msg != "" {
				msg += ": " + ce.Msg
			}
			out = append(out, msg)
			err = ce.Cause
			continue
		}
		out = append(out, err.Error())
		err = errors.Unwrap(err)
	}
	return out
}

// SkippedUnit records a region or chunk that could not be read and was left
// out of the output.
type SkippedUnit struct {
	Dimension Dimension
	Region    RegionPos
	// Chunk is nil when the whole region was skipped.
	Chunk  *ChunkPos
	Reason string
}

func (s SkippedUnit) String() string {
	if s.Chunk != nil {
		return fmt.Sprintf("%s chunk %s: %s", s.Dimension, s.Chunk, s.Reason)
	}
	return fmt.Sprintf("%s region %s: %s", s.Dimension, s.Region, s.Reason)
}

// SortSkipped orders skipped units deterministically.
func SortSkipped(units []SkippedUnit) {
	sort.SliceStable(units, func(i, j int) bool {
		a, b := units[i], units[j]
		if a.Dimension != b.Dimension {
			return a.Dimension < b.Dimension
		}
		if a.Region != b.Region {
			if a.Region.X != b.Region.X {
				return a.Region.X < b.Region.X
			}
			return a.Region.Z < b.Region.Z
		}
		if (a.Chunk == nil) != (b.Chunk == nil) {
			return a.Chunk == nil
		}
		if a.Chunk != nil && *a.Chunk != *b.Chunk {
			if a.Chunk.X != b.Chunk.X {
				return a.Chunk.X < b.Chunk.X
			}
			return a.Chunk.Z < b.Chunk.Z
		}
		return a.Reason < b.Reason
	})
}

// DataLossError reports a run that committed its output but had to leave out
// some regions or chunks.
type DataLossError struct {
	Skipped []SkippedUnit
}

func (e *DataLossError) Error() string {
	if len(e.Skipped) == 1 {
		return "conversion completed with data loss: " + e.Skipped[0].String()
	}
	return fmt.Sprintf("conversion completed with data loss: %d units skipped", len(e.Skipped))
}

// IsDataLoss reports whether err is a DataLossError.
func IsDataLoss(err error) bool {
	var dl *DataLossError
	return errors.As(err, &dl)
}

// IsFatal reports whether err aborted a run without committing output.
func IsFatal(err error) bool {
	return err != nil && !IsDataLoss(err)
}
