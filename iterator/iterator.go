// Package iterator merges sorted record streams.
package iterator

import (
	"bytes"
	"errors"
)

// Interface is a forward iterator over (key, seq, value) records ordered by
// key ascending and, within a key, by seq descending. Key and Value may be
// reused by the next call to Next.
type Interface interface {
	Next() bool
	Key() []byte
	Value() []byte
	Seq() uint64
	Error() error
	Close() error
}

// MergingIterator yields, for each distinct key across all inputs, the record
// with the highest sequence number. Older versions are skipped.
type MergingIterator struct {
	h     *minHeap
	all   []Interface
	key   []byte
	value []byte
	seq   uint64
	err   error
}

// NewMergingIterator primes every input and builds the heap.
func NewMergingIterator(iters []Interface) *MergingIterator {
	return &MergingIterator{h: newMinHeap(iters), all: iters}
}

func (mi *MergingIterator) Next() bool {
	if mi.err != nil {
		return false
	}
	if err := mi.h.firstErr(); err != nil {
		mi.err = err
		return false
	}
	if mi.h.Len() == 0 {
		return false
	}
	top := (*mi.h)[0]
	mi.key = append(mi.key[:0], top.Key()...)
	mi.value = append(mi.value[:0], top.Value()...)
	mi.seq = top.Seq()

	// Drop every remaining version of this key, from any input.
	for mi.h.Len() > 0 && bytes.Equal((*mi.h)[0].Key(), mi.key) {
		mi.h.advance()
		if err := mi.h.firstErr(); err != nil {
			mi.err = err
			return false
		}
	}
	return true
}

func (mi *MergingIterator) Key() []byte   { return mi.key }
func (mi *MergingIterator) Value() []byte { return mi.value }
func (mi *MergingIterator) Seq() uint64   { return mi.seq }
func (mi *MergingIterator) Error() error  { return mi.err }

// Close closes every input, including those already exhausted.
func (mi *MergingIterator) Close() error {
	var errs []error
	for _, it := range mi.all {
		if err := it.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	mi.all = nil
	return errors.Join(errs...)
}
