// Package report keeps a SQLite ledger of a conversion run: every chunk
// attempt, every region and every skipped unit, plus one row per run.
package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/INLOpen/chunkbridge/convert"
	"github.com/INLOpen/chunkbridge/core"
)

// ErrClosed is returned by RecordAttempt after Close.
var ErrClosed = errors.New("report ledger closed")

// batchSize bounds how many rows one transaction carries.
const batchSize = 512

type rowKind int

const (
	rowAttempt rowKind = iota + 1
	rowRegion
	rowSkipped
)

type row struct {
	kind    rowKind
	attempt convert.Attempt
	region  regionRow
	skipped core.SkippedUnit
}

type regionRow struct {
	Dimension core.Dimension
	Region    core.RegionPos
	Chunks    int
	Skipped   int
	Duration  time.Duration
	Error     string
}

// Ledger writes rows from a single goroutine so workers never wait on
// SQLite.
type Ledger struct {
	db     *sql.DB
	runID  int64
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan row
	wg     sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// Open creates or opens the ledger at path and starts a run row for input
// and output.
func Open(path, input, output string, logger *slog.Logger) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("empty report path")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	res, err := db.Exec(`INSERT INTO runs (input, output, started_at, status) VALUES (?, ?, ?, 'running')`,
		input, output, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	l := &Ledger{
		db:     db,
		runID:  runID,
		logger: logger.With("component", "report"),
		ch:     make(chan row, 65536),
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.loop()
	}()
	return l, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			input TEXT NOT NULL,
			output TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			status TEXT NOT NULL,
			error TEXT,
			records INTEGER,
			skipped INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS attempts (
			run_id INTEGER NOT NULL,
			dimension INTEGER NOT NULL,
			x INTEGER NOT NULL,
			z INTEGER NOT NULL,
			status TEXT NOT NULL,
			entities INTEGER NOT NULL,
			tiles INTEGER NOT NULL,
			fallbacks INTEGER NOT NULL,
			duration_us INTEGER NOT NULL,
			reason TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_run_pos ON attempts(run_id, dimension, x, z);`,
		`CREATE TABLE IF NOT EXISTS regions (
			run_id INTEGER NOT NULL,
			dimension INTEGER NOT NULL,
			rx INTEGER NOT NULL,
			rz INTEGER NOT NULL,
			chunks INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			duration_us INTEGER NOT NULL,
			error TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS skipped (
			run_id INTEGER NOT NULL,
			dimension INTEGER NOT NULL,
			rx INTEGER NOT NULL,
			rz INTEGER NOT NULL,
			cx INTEGER,
			cz INTEGER,
			reason TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// RunID is the id of this run's row.
func (l *Ledger) RunID() int64 { return l.runID }

func (l *Ledger) enqueue(r row) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	l.ch <- r
	return nil
}

// RecordAttempt implements convert.Recorder.
func (l *Ledger) RecordAttempt(a convert.Attempt) error {
	return l.enqueue(row{kind: rowAttempt, attempt: a})
}

func (l *Ledger) recordRegion(r regionRow) error {
	return l.enqueue(row{kind: rowRegion, region: r})
}

func (l *Ledger) recordSkipped(u core.SkippedUnit) error {
	return l.enqueue(row{kind: rowSkipped, skipped: u})
}

func (l *Ledger) loop() {
	batch := make([]row, 0, batchSize)
	for r := range l.ch {
		batch = append(batch, r)
	drain:
		for len(batch) < batchSize {
			select {
			case r, ok := <-l.ch:
				if !ok {
					break drain
				}
				batch = append(batch, r)
			default:
				break drain
			}
		}
		if err := l.writeBatch(batch); err != nil {
			l.setErr(err)
			l.logger.Error("Failed to write report rows", "rows", len(batch), "error", err)
		}
		batch = batch[:0]
	}
}

func (l *Ledger) setErr(err error) {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	if l.err == nil {
		l.err = err
	}
}

func (l *Ledger) writeBatch(batch []row) error {
	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, r := range batch {
		switch r.kind {
		case rowAttempt:
			a := r.attempt
			_, err = tx.Exec(`INSERT INTO attempts (run_id, dimension, x, z, status, entities, tiles, fallbacks, duration_us, reason) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				l.runID, int32(a.Dimension), a.Chunk.X, a.Chunk.Z, a.Status, a.Entities, a.Tiles, a.Fallbacks, a.Duration.Microseconds(), nullString(a.Reason))
		case rowRegion:
			g := r.region
			_, err = tx.Exec(`INSERT INTO regions (run_id, dimension, rx, rz, chunks, skipped, duration_us, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				l.runID, int32(g.Dimension), g.Region.X, g.Region.Z, g.Chunks, g.Skipped, g.Duration.Microseconds(), nullString(g.Error))
		case rowSkipped:
			u := r.skipped
			var cx, cz sql.NullInt32
			if u.Chunk != nil {
				cx = sql.NullInt32{Int32: u.Chunk.X, Valid: true}
				cz = sql.NullInt32{Int32: u.Chunk.Z, Valid: true}
			}
			_, err = tx.Exec(`INSERT INTO skipped (run_id, dimension, rx, rz, cx, cz, reason) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				l.runID, int32(u.Dimension), u.Region.X, u.Region.Z, cx, cz, u.Reason)
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Finish stops accepting rows, waits for the queue to drain and closes the
// run row with the outcome of the run.
func (l *Ledger) Finish(records uint64, skipped int, runErr error) error {
	l.stop()
	status := "done"
	var msg sql.NullString
	switch {
	case runErr == nil:
	case core.IsDataLoss(runErr):
		status = "data_loss"
		msg = nullString(runErr.Error())
	default:
		status = "failed"
		msg = nullString(runErr.Error())
	}
	_, err := l.db.Exec(`UPDATE runs SET finished_at = ?, status = ?, error = ?, records = ?, skipped = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), status, msg, int64(records), skipped, l.runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return l.Err()
}

func (l *Ledger) stop() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
	l.mu.Unlock()
	l.wg.Wait()
}

// Err returns the first write error, if any.
func (l *Ledger) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

// Close drains pending rows and closes the database.
func (l *Ledger) Close() error {
	l.stop()
	return l.db.Close()
}

// Summary counts the rows of this run.
type Summary struct {
	Attempts  int
	Converted int
	Skipped   int
	Regions   int
	Status    string
}

// Summary reads back this run's counts. Call it after Finish.
func (l *Ledger) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	err := l.db.QueryRowContext(ctx, `SELECT
			(SELECT COUNT(*) FROM attempts WHERE run_id = ?1),
			(SELECT COUNT(*) FROM attempts WHERE run_id = ?1 AND status = ?2),
			(SELECT COUNT(*) FROM skipped WHERE run_id = ?1),
			(SELECT COUNT(*) FROM regions WHERE run_id = ?1),
			(SELECT status FROM runs WHERE id = ?1)`,
		l.runID, convert.StatusConverted).Scan(&s.Attempts, &s.Converted, &s.Skipped, &s.Regions, &s.Status)
	return s, err
}
