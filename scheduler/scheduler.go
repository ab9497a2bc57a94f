// Package scheduler runs work lists on a fixed number of goroutines.
// Map preserves input order; Reduce folds privately per worker and merges
// once per worker. Both stop claiming new items once the shared Abort is set;
// items already running finish.
package scheduler

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/INLOpen/chunkbridge/core"
)

// Abort is the cancellation flag shared by the workers of one run. The first
// error recorded wins.
type Abort struct {
	set  atomic.Bool
	once sync.Once
	err  error
}

// Set raises the flag with cause err. It reports whether this call was the
// first.
func (a *Abort) Set(err error) bool {
	first := false
	a.once.Do(func() {
		a.err = err
		first = true
		a.set.Store(true)
	})
	return first
}

// Aborted reports whether the flag is raised.
func (a *Abort) Aborted() bool { return a.set.Load() }

// Err returns the first recorded cause, or nil.
func (a *Abort) Err() error {
	if !a.set.Load() {
		return nil
	}
	return a.err
}

// Options tunes Map and Reduce.
type Options struct {
	// Progress is called after every finished item with the number of items
	// done so far. Calls are serialized. Returning false aborts the run with
	// core.ErrCancelled.
	Progress func(done, total int) bool
	// Abort shares a flag between several Map/Reduce calls. A fresh one is
	// used when nil.
	Abort  *Abort
	Logger *slog.Logger
}

type pool struct {
	total    int
	workers  int
	abort    *Abort
	progress func(done, total int) bool
	logger   *slog.Logger

	progressMu sync.Mutex
	done       int
}

func newPool(total, concurrency int, opts Options) *pool {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	if concurrency > total {
		concurrency = total
	}
	p := &pool{total: total, workers: concurrency, abort: opts.Abort, progress: opts.Progress, logger: opts.Logger}
	if p.abort == nil {
		p.abort = &Abort{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// stopped checks the shared flag and the context between items.
func (p *pool) stopped(ctx context.Context) bool {
	if p.abort.Aborted() {
		return true
	}
	if err := ctx.Err(); err != nil {
		p.abort.Set(err)
		return true
	}
	return false
}

func (p *pool) finished() {
	p.progressMu.Lock()
	defer p.progressMu.Unlock()
	p.done++
	if p.progress != nil && !p.progress(p.done, p.total) {
		if p.abort.Set(core.ErrCancelled) {
			p.logger.Info("Cancellation requested by progress callback", "done", p.done, "total", p.total)
		}
	}
}

// run launches the workers behind a latch so they begin claiming together,
// and waits for all of them.
func (p *pool) run(worker func(id int)) {
	var wg sync.WaitGroup
	latch := make(chan struct{})
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			<-latch
			worker(id)
		}(i)
	}
	close(latch)
	wg.Wait()
}

// Map applies fn to every item on up to concurrency goroutines and returns
// the results in input order. On error the partially filled results are
// returned with the first error.
func Map[T, R any](ctx context.Context, items []T, concurrency int, fn func(item T, index int) (R, error), opts Options) ([]R, error) {
	out := make([]R, len(items))
	if len(items) == 0 {
		return out, nil
	}
	p := newPool(len(items), concurrency, opts)

	var mu sync.Mutex
	next := 0
	claim := func() int {
		mu.Lock()
		defer mu.Unlock()
		i := next
		next++
		return i
	}

	p.run(func(id int) {
		for !p.stopped(ctx) {
			i := claim()
			if i >= len(items) {
				return
			}
			r, err := fn(items[i], i)
			if err != nil {
				if p.abort.Set(err) {
					p.logger.Debug("Worker aborting run", "worker", id, "item", i, "error", err)
				}
				return
			}
			out[i] = r
			p.finished()
		}
	})
	return out, p.abort.Err()
}

// Reduce folds every item into a per-worker accumulator created by zero,
// then merges each worker's accumulator into the result under one lock
// acquisition per worker. merge returns the combined value, so A may be a
// plain value type; it must be associative and commutative.
func Reduce[T, A any](ctx context.Context, items []T, concurrency int, zero func() A, fn func(acc A, item T, index int) (A, error), merge func(dst, src A) A, opts Options) (A, error) {
	total := zero()
	if len(items) == 0 {
		return total, nil
	}
	p := newPool(len(items), concurrency, opts)

	var cursor atomic.Int64
	var mu sync.Mutex
	p.run(func(id int) {
		acc := zero()
		defer func() {
			mu.Lock()
			total = merge(total, acc)
			mu.Unlock()
		}()
		for !p.stopped(ctx) {
			i := int(cursor.Add(1) - 1)
			if i >= len(items) {
				return
			}
			var err error
			if acc, err = fn(acc, items[i], i); err != nil {
				if p.abort.Set(err) {
					p.logger.Debug("Worker aborting run", "worker", id, "item", i, "error", err)
				}
				return
			}
			p.finished()
		}
	})
	return total, p.abort.Err()
}
