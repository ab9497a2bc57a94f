// Package attach records which entities must be reattached to which target
// chunk, keyed by the pair (target chunk, source chunk). It is conversion
// bookkeeping only and is deleted when the run ends.
package attach

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"
)

const (
	keySize = 16
	stripes = 64
)

// Index is the on-disk attachment index of one dimension. Add is safe for
// concurrent use; updates to one key are serialized, different keys proceed
// independently.
type Index struct {
	dir    string
	db     *leveldb.DB
	logger *slog.Logger

	locks [stripes]sync.Mutex
	adds  atomic.Uint64
}

// Open creates an empty index in dir.
func Open(dir string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := leveldb.OpenFile(dir, &opt.Options{
		Compression: opt.NoCompression,
		WriteBuffer: 8 * opt.MiB,
	})
	if err != nil {
		return nil, core.NewError("attach.Open", dir, fmt.Errorf("%w: %w", core.ErrEntityIndex, err))
	}
	return &Index{dir: dir, db: db, logger: logger.With("component", "attach_index")}, nil
}

// ordered maps a signed coordinate to an unsigned one with the same order.
func ordered(v int32) uint32 { return uint32(v) ^ 1<<31 }

func unordered(v uint32) int32 { return int32(v ^ 1<<31) }

// encodeKey lays out target then source so that all sources of one target
// are adjacent and targets iterate in (x, z) order.
func encodeKey(target, source core.ChunkPos) []byte {
	k := make([]byte, keySize)
	binary.BigEndian.PutUint32(k[0:], ordered(target.X))
	binary.BigEndian.PutUint32(k[4:], ordered(target.Z))
	binary.BigEndian.PutUint32(k[8:], ordered(source.X))
	binary.BigEndian.PutUint32(k[12:], ordered(source.Z))
	return k
}

func decodeTarget(k []byte) core.ChunkPos {
	return core.ChunkPos{X: unordered(binary.BigEndian.Uint32(k[0:])), Z: unordered(binary.BigEndian.Uint32(k[4:]))}
}

func stripe(target, source core.ChunkPos) int {
	h := target.Pack()*0x9e3779b97f4a7c15 ^ source.Pack()
	return int(h>>58) % stripes
}

// Add appends refs to the list stored under (target, source).
func (x *Index) Add(refs []int64, target, source core.ChunkPos) error {
	if len(refs) == 0 {
		return nil
	}
	key := encodeKey(target, source)
	mu := &x.locks[stripe(target, source)]
	mu.Lock()
	defer mu.Unlock()

	old, err := x.db.Get(key, nil)
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return x.fail("read", target, source, err)
	}
	val := make([]byte, len(old), len(old)+8*len(refs))
	copy(val, old)
	for _, r := range refs {
		val = binary.LittleEndian.AppendUint64(val, uint64(r))
	}
	if err := x.db.Put(key, val, nil); err != nil {
		return x.fail("write", target, source, err)
	}
	x.adds.Add(uint64(len(refs)))
	return nil
}

func (x *Index) fail(op string, target, source core.ChunkPos, err error) error {
	return core.NewError("attach."+op, fmt.Sprintf("target %s source %s", target, source), fmt.Errorf("%w: %w", core.ErrEntityIndex, err))
}

// EntityReferences calls fn for every reference recorded for target from
// any source chunk within one chunk of it. Sources are visited z-major from
// (-1,-1) to (1,1); references in the order they were added. The first
// error from fn stops the lookup and is returned.
func (x *Index) EntityReferences(target core.ChunkPos, fn func(ref int64) error) error {
	for _, source := range target.Neighborhood() {
		v, err := x.db.Get(encodeKey(target, source), nil)
		if errors.Is(err, leveldb.ErrNotFound) {
			continue
		}
		if err != nil {
			return x.fail("read", target, source, err)
		}
		for len(v) >= 8 {
			if err := fn(int64(binary.LittleEndian.Uint64(v))); err != nil {
				return err
			}
			v = v[8:]
		}
	}
	return nil
}

// Targets calls fn once per distinct target chunk, in (x, z) order.
func (x *Index) Targets(fn func(core.ChunkPos) error) error {
	it := x.db.NewIterator(nil, nil)
	defer it.Release()
	var last []byte
	for it.Next() {
		k := it.Key()
		if len(k) != keySize {
			continue
		}
		if last != nil && string(last) == string(k[:8]) {
			continue
		}
		last = append(last[:0], k[:8]...)
		if err := fn(decodeTarget(k)); err != nil {
			return err
		}
	}
	if err := it.Error(); err != nil {
		return core.NewError("attach.Targets", "iterate", fmt.Errorf("%w: %w", core.ErrEntityIndex, err))
	}
	return nil
}

// TargetList collects Targets into a slice.
func (x *Index) TargetList() ([]core.ChunkPos, error) {
	var out []core.ChunkPos
	err := x.Targets(func(c core.ChunkPos) error {
		out = append(out, c)
		return nil
	})
	return out, err
}

// Count is the number of distinct target chunks.
func (x *Index) Count() (int, error) {
	n := 0
	err := x.Targets(func(core.ChunkPos) error {
		n++
		return nil
	})
	return n, err
}

// References is the total number of references added.
func (x *Index) References() uint64 { return x.adds.Load() }

// Destroy closes the index and deletes its directory.
func (x *Index) Destroy() error {
	cerr := x.db.Close()
	rerr := os.RemoveAll(x.dir)
	if err := errors.Join(cerr, rerr); err != nil {
		x.logger.Warn("Failed to remove attachment index", "dir", x.dir, "error", err)
		return err
	}
	return nil
}
