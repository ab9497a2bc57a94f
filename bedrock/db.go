package bedrock

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"
	"github.com/df-mc/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = leveldb.ErrNotFound

// DBOptions configures the target database.
type DBOptions struct {
	// BatchSize is the number of puts buffered before they are written.
	BatchSize int
	// ReadOnly opens an existing database for inspection.
	ReadOnly bool
	Logger   *slog.Logger
}

// DB is the Bedrock world database. It implements the staging sink: Put
// buffers into a write batch and Flush commits it.
type DB struct {
	path   string
	ldb    *leveldb.DB
	logger *slog.Logger

	mu        sync.Mutex
	batch     *leveldb.Batch
	batchSize int
	written   uint64
}

// OpenDB opens or creates the database at path with the compression and
// block size Bedrock clients expect.
func OpenDB(path string, opts DBOptions) (*DB, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 4096
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ldb, err := leveldb.OpenFile(path, &opt.Options{
		Compression:    opt.FlateCompression,
		BlockSize:      16 * opt.KiB,
		WriteBuffer:    16 * opt.MiB,
		ReadOnly:       opts.ReadOnly,
		ErrorIfMissing: opts.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &DB{
		path:      path,
		ldb:       ldb,
		logger:    opts.Logger.With("component", "bedrock_db"),
		batch:     new(leveldb.Batch),
		batchSize: opts.BatchSize,
	}, nil
}

// Path is the database directory.
func (db *DB) Path() string { return db.path }

// Put buffers one record. The key and value are copied.
func (db *DB) Put(key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.batch.Put(key, value)
	if db.batch.Len() >= db.batchSize {
		return db.flushLocked()
	}
	return nil
}

// Flush writes the buffered batch.
func (db *DB) Flush() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.flushLocked()
}

func (db *DB) flushLocked() error {
	n := db.batch.Len()
	if n == 0 {
		return nil
	}
	if err := db.ldb.Write(db.batch, nil); err != nil {
		return fmt.Errorf("write batch of %d records: %w", n, err)
	}
	db.written += uint64(n)
	db.batch.Reset()
	return nil
}

// Written is the number of records committed so far.
func (db *DB) Written() uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.written
}

// Get reads a committed record.
func (db *DB) Get(key []byte) ([]byte, error) {
	return db.ldb.Get(key, nil)
}

// Has reports whether key is committed.
func (db *DB) Has(key []byte) (bool, error) {
	return db.ldb.Has(key, nil)
}

// Iterate calls fn for every committed record whose key starts with prefix,
// in key order. key and value are only valid during the call.
func (db *DB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	var rng *util.Range
	if len(prefix) > 0 {
		rng = util.BytesPrefix(prefix)
	}
	it := db.ldb.NewIterator(rng, nil)
	defer it.Release()
	for it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

// Close flushes pending records and closes the database.
func (db *DB) Close() error {
	ferr := db.Flush()
	cerr := db.ldb.Close()
	if err := errors.Join(ferr, cerr); err != nil {
		return err
	}
	db.logger.Debug("Database closed", "path", db.path, "records", db.written)
	return nil
}
