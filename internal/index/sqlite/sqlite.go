// Package sqlite implements the Index layer of the cache's hybrid storage
// engine (spec.md §4.2): a single-file SQLite manifest holding one row per
// cached entry, with a prepared-statement cache and a capped backoff policy
// around database open failures. Grounded on
// internal/store/sqlite.Index from the teacher repo, generalized from a
// single-consume secret ledger to a repeatable-read, LRU-evictable cache
// manifest with the richer query surface spec.md §4.2 names.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Import SQLite3 driver for database/sql.
	_ "github.com/mattn/go-sqlite3"

	"github.com/haukened/kvcache/internal/cacheerr"
)

const (
	manifestFile = "manifest.sqlite"

	schemaDDL = `CREATE TABLE IF NOT EXISTS manifest (
key TEXT,
filename TEXT,
size INTEGER,
inline_data BLOB,
modification_time INTEGER,
last_access_time INTEGER,
extended_data BLOB,
PRIMARY KEY(key)
);`
	indexDDL  = `CREATE INDEX IF NOT EXISTS last_access_time_idx ON manifest(last_access_time);`
	pragmaDDL = `PRAGMA journal_mode=wal; PRAGMA synchronous=normal;`
)

// maxOpenFailures and minRetryInterval implement the capped backoff policy
// from spec.md §4.2 / §4.3's "State machine: database availability".
const (
	maxOpenFailures  = 8
	minRetryInterval = 2 * time.Second
)

// FileStore is the subset of filestore.Store the Index needs to perform a
// reset: move the current data/ subtree out of the way and schedule its
// asynchronous deletion. Declared as a narrow port here so this package does
// not import internal/filestore directly, mirroring the teacher's
// hexagonal internal/store/ports.go pattern.
type FileStore interface {
	MoveAllToTrash() bool
	EmptyTrashAsync()
}

// Row is the persistent projection of an Entry into the manifest table
// (spec.md §3's "Index Row").
type Row struct {
	Key          string
	FileName     string
	Size         int64
	InlineData   []byte
	ModTime      time.Time
	AccessTime   time.Time
	ExtendedData []byte
}

// SizeInfo is the projection returned by the LRU eviction cursor query.
type SizeInfo struct {
	Key      string
	FileName string
	Size     int64
}

// Index wraps a single embedded SQLite database holding the manifest table.
// It presumes single-threaded access per instance (spec.md §5).
type Index struct {
	root string
	dsn  string
	db   *sql.DB

	files FileStore

	logger           *slog.Logger
	errorLogsEnabled bool

	stmts map[string]*sql.Stmt

	open        bool
	failures    int
	lastFailure time.Time
}

// Option configures an Index at construction time.
type Option func(*Index)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Index) { i.logger = l }
}

// WithErrorLogsEnabled toggles diagnostic logging of query failures. Default on.
func WithErrorLogsEnabled(enabled bool) Option {
	return func(i *Index) { i.errorLogsEnabled = enabled }
}

// Open constructs an Index rooted at root (the cache root directory, not the
// manifest file itself) and opens the manifest, bootstrapping its schema if
// necessary. files is used by reset (and therefore by removeAll) to stage
// data/ for asynchronous deletion. If the initial open fails (e.g. a
// corrupt manifest left over from a crash), Open self-heals by resetting
// on-disk state and retrying once before reporting failure (spec.md §3,
// §4.3: "Any state may transit to Reset on init failure at construction
// time").
func Open(root string, files FileStore, opts ...Option) (*Index, error) {
	ix := &Index{
		root:             root,
		dsn:              dsnFor(root),
		files:            files,
		logger:           slog.Default(),
		errorLogsEnabled: true,
		stmts:            make(map[string]*sql.Stmt),
	}
	for _, opt := range opts {
		opt(ix)
	}
	if err := ix.open2(); err != nil {
		ix.logErr("open_fatal", err)
		// spec.md §3/§4.3: a fatal init failure (e.g. a corrupt manifest)
		// resets on-disk state and retries once before giving up.
		if rerr := ix.Reset(); rerr != nil {
			return nil, rerr
		}
		return ix, nil
	}
	return ix, nil
}

func dsnFor(root string) string {
	return filepath.Join(root, manifestFile)
}

func (ix *Index) log() *slog.Logger { return ix.logger.With("domain", "index") }

func (ix *Index) logErr(action string, err error) {
	if ix.errorLogsEnabled && err != nil {
		ix.log().Error(action, "error", err)
	}
}

// open2 performs the actual database open + schema bootstrap. Named with a
// trailing "2" to avoid colliding with the exported Open constructor while
// keeping the verb "open" for the operation spec.md §4.2 describes.
func (ix *Index) open2() error {
	db, err := sql.Open("sqlite3", ix.dsn)
	if err != nil {
		ix.recordFailure()
		return err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		ix.recordFailure()
		return err
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		ix.recordFailure()
		return err
	}
	if _, err := db.Exec(indexDDL); err != nil {
		db.Close()
		ix.recordFailure()
		return err
	}
	if _, err := db.Exec(pragmaDDL); err != nil {
		db.Close()
		ix.recordFailure()
		return err
	}
	ix.db = db
	ix.stmts = make(map[string]*sql.Stmt)
	ix.failures = 0
	ix.open = true
	return nil
}

func (ix *Index) recordFailure() {
	ix.open = false
	ix.failures++
	ix.lastFailure = time.Now()
}

// check implements the backoff policy documented in spec.md §4.2: if the
// database is open, proceed; else, if fewer than maxOpenFailures prior
// failures and at least minRetryInterval has elapsed since the last one,
// retry open; else report unavailable.
func (ix *Index) check() error {
	if ix.open {
		return nil
	}
	if ix.failures < maxOpenFailures && time.Since(ix.lastFailure) >= minRetryInterval {
		if err := ix.open2(); err != nil {
			return fmt.Errorf("%w: %v", cacheerr.ErrUnavailable, err)
		}
		return nil
	}
	return cacheerr.ErrUnavailable
}

// Close finalizes all cached statements and closes the database, retrying
// once if busy/locked by finalizing any leaked statements first.
func (ix *Index) Close() error {
	if ix.db == nil {
		return nil
	}
	ix.finalizeAll()
	err := ix.db.Close()
	if err != nil && isBusy(err) {
		ix.finalizeAll()
		err = ix.db.Close()
	}
	ix.open = false
	return err
}

func (ix *Index) finalizeAll() {
	for k, stmt := range ix.stmts {
		_ = stmt.Close()
		delete(ix.stmts, k)
	}
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}

// Reset deletes the manifest triad, delegates moveAllToTrash + emptyTrash to
// the File Store, then reopens. This is the Storage Engine's removeAll
// primitive (spec.md §4.3).
func (ix *Index) Reset() error {
	if err := ix.Close(); err != nil {
		ix.logErr("reset_close", err)
	}
	for _, suffix := range []string{"", "-shm", "-wal"} {
		p := ix.dsn + suffix
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			ix.logErr("reset_remove_manifest", err)
		}
	}
	if ix.files != nil {
		if !ix.files.MoveAllToTrash() {
			ix.logErr("reset_move_to_trash", errors.New("move to trash reported failure"))
		}
		ix.files.EmptyTrashAsync()
	}
	if err := ix.open2(); err != nil {
		return fmt.Errorf("%w: %v", cacheerr.ErrResetFailure, err)
	}
	return nil
}
