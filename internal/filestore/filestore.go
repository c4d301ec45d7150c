// Package filestore implements the File Store layer of the cache's hybrid
// storage engine (spec.md §4.1): a data/ directory holding blob files named
// by opaque caller-chosen file names, and a trash/ directory holding
// subtrees staged for asynchronous deletion. Grounded on
// internal/store/filesystem.BlobStore from the teacher repo, generalized
// from fixed-format secret IDs to arbitrary opaque file names and from
// delete-on-close single-consume reads to repeatable reads.
package filestore

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	dataDirName  = "data"
	trashDirName = "trash"
)

// Store owns the data/ and trash/ subdirectories under a cache root.
// It presumes single-threaded access per instance (spec.md §5); concurrent
// safety is the caller's job.
type Store struct {
	root     string
	dataDir  string
	trashDir string

	logger           *slog.Logger
	errorLogsEnabled bool

	trashSignal chan struct{}
	stopCh      chan struct{}
	doneCh      chan struct{}
	started     bool
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithErrorLogsEnabled toggles diagnostic logging of I/O failures. Default on.
func WithErrorLogsEnabled(enabled bool) Option {
	return func(s *Store) { s.errorLogsEnabled = enabled }
}

// New creates data/ and trash/ under root if they do not already exist.
func New(root string, opts ...Option) (*Store, error) {
	s := &Store{
		root:             root,
		dataDir:          filepath.Join(root, dataDirName),
		trashDir:         filepath.Join(root, trashDirName),
		logger:           slog.Default(),
		errorLogsEnabled: true,
		trashSignal:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(s.dataDir, 0o700); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.trashDir, 0o700); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) log() *slog.Logger { return s.logger.With("domain", "filestore") }

func (s *Store) logErr(action string, err error) {
	if s.errorLogsEnabled && err != nil {
		s.log().Error(action, "error", err)
	}
}

// path returns the path to fileName within data/, after validating it.
func (s *Store) path(fileName string) (string, error) {
	if err := validateFileName(fileName); err != nil {
		return "", err
	}
	return filepath.Join(s.dataDir, fileName), nil
}

// Write writes data to data/<fileName>, creating or truncating it.
// Durability is best-effort; no fsync is performed (spec.md §4.1).
func (s *Store) Write(fileName string, data []byte) bool {
	p, err := s.path(fileName)
	if err != nil {
		s.logErr("write", err)
		return false
	}
	// #nosec G304: p is joined from a fixed root and a validated file name.
	if err := os.WriteFile(p, data, 0o600); err != nil {
		s.logErr("write", err)
		return false
	}
	return true
}

// Read reads data/<fileName>. Returns ok=false on any error, including a
// missing file.
func (s *Store) Read(fileName string) ([]byte, bool) {
	p, err := s.path(fileName)
	if err != nil {
		s.logErr("read", err)
		return nil, false
	}
	b, err := os.ReadFile(p) // #nosec G304: see Write
	if err != nil {
		s.logErr("read", err)
		return nil, false
	}
	return b, true
}

// Delete removes data/<fileName>. A missing file is reported as failure by
// this primitive; callers that treat "already gone" as success (e.g. the
// Storage Engine's best-effort cleanup) should ignore the return value.
func (s *Store) Delete(fileName string) bool {
	p, err := s.path(fileName)
	if err != nil {
		s.logErr("delete", err)
		return false
	}
	if err := os.Remove(p); err != nil {
		s.logErr("delete", err)
		return false
	}
	return true
}

// MoveAllToTrash atomically renames data/ into a fresh UUID-named subtree of
// trash/, then recreates an empty data/. Used by Index.reset (spec.md §4.2)
// to implement removeAll's atomic wipe.
func (s *Store) MoveAllToTrash() bool {
	dest := filepath.Join(s.trashDir, uuid.NewString())
	if err := os.Rename(s.dataDir, dest); err != nil {
		s.logErr("move_to_trash", err)
		return false
	}
	if err := os.MkdirAll(s.dataDir, 0o700); err != nil {
		s.logErr("move_to_trash_recreate", err)
		return false
	}
	return true
}

// EmptyTrashAsync schedules deletion of every entry currently in trash/ on
// the dedicated serial worker started by StartTrashWorker. If the worker has
// not been started yet, the signal stays buffered and the worker drains
// trash/ as soon as StartTrashWorker runs; without a worker nothing is
// deleted. Concurrent calls coalesce naturally because trashSignal has
// capacity 1.
func (s *Store) EmptyTrashAsync() {
	select {
	case s.trashSignal <- struct{}{}:
	default:
	}
}

// validateFileName enforces that fileName is non-empty and contains no path
// separators and no ".." anywhere in it, preventing traversal outside data/.
func validateFileName(fileName string) error {
	if fileName == "" {
		return errors.New("filestore: empty file name")
	}
	if strings.ContainsAny(fileName, `/\`) {
		return errors.New("filestore: file name contains a path separator")
	}
	if fileName == "." || fileName == ".." || strings.Contains(fileName, "..") {
		return errors.New("filestore: file name contains '..'")
	}
	return nil
}
