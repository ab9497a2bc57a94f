package iterator

import (
	"bytes"
	"container/heap"
)

// minHeap orders iterators by their current record: key ascending, then seq
// descending so that the newest version of a key surfaces first.
type minHeap []Interface

func (h minHeap) Len() int { return len(h) }

func (h minHeap) Less(i, j int) bool {
	if c := bytes.Compare(h[i].Key(), h[j].Key()); c != 0 {
		return c < 0
	}
	return h[i].Seq() > h[j].Seq()
}

func (h minHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *minHeap) Push(x interface{}) {
	*h = append(*h, x.(Interface))
}

func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// newMinHeap advances every iterator to its first record and drops the empty
// ones. Iterators that failed are kept aside so firstErr can report them.
func newMinHeap(iters []Interface) *minHeap {
	valid := make(minHeap, 0, len(iters))
	for _, it := range iters {
		if it.Next() || it.Error() != nil {
			valid = append(valid, it)
		}
	}
	h := &valid
	if h.firstErr() == nil {
		heap.Init(h)
	}
	return h
}

// advance moves the top iterator forward, removing it once exhausted.
func (h *minHeap) advance() {
	top := (*h)[0]
	if top.Next() {
		heap.Fix(h, 0)
		return
	}
	if top.Error() != nil {
		return
	}
	heap.Pop(h)
}

func (h minHeap) firstErr() error {
	for _, it := range h {
		if err := it.Error(); err != nil {
			return err
		}
	}
	return nil
}
