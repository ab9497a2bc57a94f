package staging

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/INLOpen/chunkbridge/compressors"
	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu      sync.Mutex
	data    map[string]string
	order   []string
	flushes int
}

func newMemSink() *memSink { return &memSink{data: map[string]string{}} }

func (m *memSink) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = string(value)
	m.order = append(m.order, string(key))
	return nil
}

func (m *memSink) Flush() error {
	m.mu.Lock()
	m.flushes++
	m.mu.Unlock()
	return nil
}

func newTestStore(t *testing.T, mod func(*Options)) *Store {
	t.Helper()
	opts := Options{Dir: t.TempDir(), Sequencer: &Sequencer{}, FlushEvery: 16}
	if mod != nil {
		mod(&opts)
	}
	s, err := New(opts)
	require.NoError(t, err)
	return s
}

func TestStore_LastWriterWinsAcrossWriters(t *testing.T) {
	s := newTestStore(t, nil)
	w1, err := s.AcquireWriter()
	require.NoError(t, err)
	w2, err := s.AcquireWriter()
	require.NoError(t, err)
	require.NotEqual(t, w1.ID(), w2.ID())

	require.NoError(t, w1.Put([]byte("digp-0-0"), []byte("first")))
	require.NoError(t, w2.Put([]byte("digp-0-0"), []byte("second")))
	require.NoError(t, w1.Put([]byte("chunk-1-1"), []byte("only")))
	require.NoError(t, w1.Put([]byte("digp-0-0"), []byte("third")))
	s.ReleaseWriter(w1)
	s.ReleaseWriter(w2)

	sink := newMemSink()
	require.NoError(t, s.Close(context.Background(), nil, sink))
	assert.Equal(t, map[string]string{"digp-0-0": "third", "chunk-1-1": "only"}, sink.data)
	assert.Equal(t, []string{"chunk-1-1", "digp-0-0"}, sink.order, "records reach the sink in key order")

	_, err = os.Stat(s.Dir())
	assert.True(t, os.IsNotExist(err), "scratch directory must be removed after Close")
}

func TestStore_RandomizedLastWriteWins(t *testing.T) {
	for _, name := range []string{"deflate", "zstd", "lz4", "none"} {
		t.Run(name, func(t *testing.T) {
			c, err := compressors.ByName(name)
			require.NoError(t, err)
			s := newTestStore(t, func(o *Options) { o.Compressor = c })

			want := map[string]string{}
			var mu sync.Mutex
			var wg sync.WaitGroup
			for g := 0; g < 4; g++ {
				wg.Add(1)
				go func(g int) {
					defer wg.Done()
					rng := rand.New(rand.NewSource(int64(g)))
					w, err := s.AcquireWriter()
					if !assert.NoError(t, err) {
						return
					}
					defer s.ReleaseWriter(w)
					for i := 0; i < 200; i++ {
						key := fmt.Sprintf("key-%03d", rng.Intn(50))
						val := strings.Repeat(fmt.Sprintf("g%d-i%d;", g, i), 1+rng.Intn(20))
						// The lock orders the Put with the bookkeeping, so the
						// reference map sees the same last write as the store.
						mu.Lock()
						assert.NoError(t, w.Put([]byte(key), []byte(val)))
						want[key] = val
						mu.Unlock()
					}
				}(g)
			}
			wg.Wait()

			sink := newMemSink()
			require.NoError(t, s.Close(context.Background(), nil, sink))
			assert.Equal(t, want, sink.data)
		})
	}
}

func TestStore_WriterReuse(t *testing.T) {
	s := newTestStore(t, nil)
	w, err := s.AcquireWriter()
	require.NoError(t, err)
	require.NoError(t, w.Put([]byte("a"), []byte("1")))
	s.ReleaseWriter(w)

	again, err := s.AcquireWriter()
	require.NoError(t, err)
	assert.Same(t, w, again)
	require.NoError(t, again.Put([]byte("b"), []byte("2")))
	s.ReleaseWriter(again)

	sink := newMemSink()
	require.NoError(t, s.Close(context.Background(), nil, sink))
	assert.Len(t, sink.data, 2)
	assert.Equal(t, uint64(2), s.Records())
}

func TestStore_AbandonRemovesEverything(t *testing.T) {
	s := newTestStore(t, nil)
	w, err := s.AcquireWriter()
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, w.Put([]byte(fmt.Sprintf("k%d", i)), []byte("v")))
	}
	s.ReleaseWriter(w)

	require.NoError(t, s.Abandon())
	_, err = os.Stat(s.Dir())
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, w.Put([]byte("late"), []byte("v")), core.ErrStoreClosed)
	_, err = s.AcquireWriter()
	assert.ErrorIs(t, err, core.ErrStoreClosed)
	assert.ErrorIs(t, s.Close(context.Background(), nil, newMemSink()), core.ErrStoreClosed)
	assert.NoError(t, s.Abandon(), "Abandon is idempotent")
}

var errNoSpace = errors.New("no space left on device")

type fullDisk struct {
	sys.FileHandle
}

func (f *fullDisk) Write(p []byte) (int, error) { return 0, errNoSpace }

func TestStore_PoisonedWriterFailsClose(t *testing.T) {
	var mu sync.Mutex
	created := 0
	s := newTestStore(t, func(o *Options) {
		o.Create = func(name string) (sys.FileHandle, error) {
			f, err := sys.Create(name)
			if err != nil {
				return nil, err
			}
			mu.Lock()
			defer mu.Unlock()
			created++
			// The second writer's value stream sits on a full disk.
			if created == 4 {
				return &fullDisk{FileHandle: f}, nil
			}
			return f, nil
		}
	})

	good, err := s.AcquireWriter()
	require.NoError(t, err)
	bad, err := s.AcquireWriter()
	require.NoError(t, err)
	require.NoError(t, good.Put([]byte("a"), []byte("1")))
	require.NoError(t, bad.Put([]byte("b"), []byte("2")), "the failure surfaces when buffered data is flushed")
	s.ReleaseWriter(good)
	s.ReleaseWriter(bad)

	sink := newMemSink()
	err = s.Close(context.Background(), nil, sink)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrWriterPoisoned)
	assert.ErrorIs(t, err, errNoSpace)
	assert.Empty(t, sink.data, "a poisoned store must not write to the sink")
	_, statErr := os.Stat(s.Dir())
	assert.True(t, os.IsNotExist(statErr))
}

func TestStore_CreateFailurePoisonsImmediately(t *testing.T) {
	s := newTestStore(t, func(o *Options) {
		o.Create = func(name string) (sys.FileHandle, error) { return nil, errNoSpace }
	})
	w, err := s.AcquireWriter()
	require.NoError(t, err)
	err = w.Put([]byte("k"), []byte("v"))
	require.ErrorIs(t, err, errNoSpace)
	assert.ErrorIs(t, w.Put([]byte("k2"), []byte("v")), errNoSpace, "poisoning is sticky")
	s.ReleaseWriter(w)

	_, err = s.AcquireWriter()
	assert.ErrorIs(t, err, core.ErrWriterPoisoned)
	require.NoError(t, s.Abandon())
}

func TestStore_ProgressCancel(t *testing.T) {
	s := newTestStore(t, nil)
	w, err := s.AcquireWriter()
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, w.Put([]byte(fmt.Sprintf("k%03d", i)), []byte("v")))
	}
	s.ReleaseWriter(w)

	calls := 0
	progress := core.ProgressFunc(func(phase core.Phase, done, total int) bool {
		assert.Equal(t, core.PhaseCompaction, phase)
		calls++
		return false
	})
	err = s.Close(context.Background(), progress, newMemSink())
	assert.ErrorIs(t, err, core.ErrCancelled)
	assert.Equal(t, 1, calls)
}

func TestStore_EmptyClose(t *testing.T) {
	s := newTestStore(t, nil)
	w, err := s.AcquireWriter()
	require.NoError(t, err)
	s.ReleaseWriter(w)
	sink := newMemSink()
	require.NoError(t, s.Close(context.Background(), nil, sink))
	assert.Empty(t, sink.data)
	assert.Equal(t, 1, sink.flushes)
}
