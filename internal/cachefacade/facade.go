// Package cachefacade is a demonstration wrapper over internal/engine that
// accepts raw values by key, hashes a file name when one is needed, and
// runs a periodic trim loop to keep the cache under configured limits
// (spec.md §6, ADDED). It intentionally does not encode or decode
// application objects — callers hand it []byte and get []byte back — and
// it does not probe free disk space or dedup across processes, matching
// spec.md §1's non-goals. Grounded on internal/app/service.go (the
// request-facing facade composing a Store) and internal/janitor.Janitor
// (the ticker-driven background loop), generalized from single-consume
// secret retrieval and a fixed expiry+orphan cycle to repeatable reads and
// a cost/count/age trim cycle.
package cachefacade

import (
	"context"
	"crypto/md5" //nolint:gosec // used only to derive opaque file names, not for security
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/haukened/kvcache/internal/engine"
)

const (
	defaultInlineThreshold = 20 * 1024 // 20 KiB
	defaultTrimInterval    = 60 * time.Second
)

// TrashWorker is the narrow port the façade uses to own the File Store's
// background trash-emptier alongside its own trim loop, implemented by
// *filestore.Store. Declared here rather than importing internal/filestore
// directly, mirroring the hexagonal ports style used by internal/engine.
type TrashWorker interface {
	StartTrashWorker(ctx context.Context)
	StopTrashWorker()
}

// Limits bounds what the background trim loop enforces. A zero field
// disables that dimension.
type Limits struct {
	MaxCount int64
	MaxCost  int64
	MaxAge   time.Duration
}

// Cache wraps an Engine with raw-bytes ergonomics and a background trimmer.
// It serializes all access with a single mutex: callers needing higher
// throughput should shard across multiple Cache instances (spec.md §5
// presumes single-threaded engine access per instance).
type Cache struct {
	mu     sync.Mutex
	engine *engine.Engine
	files  TrashWorker

	inlineThreshold int64
	limits          Limits
	trimInterval    time.Duration

	logger           *slog.Logger
	errorLogsEnabled bool

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithInlineThreshold overrides the byte size above which Set stores a
// value externally rather than inline. Default 20 KiB.
func WithInlineThreshold(n int64) Option {
	return func(c *Cache) {
		if n > 0 {
			c.inlineThreshold = n
		}
	}
}

// WithLimits sets the bounds the background trim loop enforces.
func WithLimits(l Limits) Option {
	return func(c *Cache) { c.limits = l }
}

// WithTrimInterval overrides the trim loop cadence. Default 60s.
func WithTrimInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.trimInterval = d
		}
	}
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithErrorLogsEnabled toggles diagnostic logging. Default on.
func WithErrorLogsEnabled(enabled bool) Option {
	return func(c *Cache) { c.errorLogsEnabled = enabled }
}

// New wraps eng with raw-bytes ergonomics and a configurable trim loop.
// files is the File Store backing eng; the façade starts and stops its
// dedicated trash-emptier worker alongside its own trim loop (spec.md §4.1,
// §5) so async-trash semantics are realized without every caller having to
// remember to start a second background worker by hand. Pass nil if eng was
// constructed in a mode with no File Store (e.g. a pure ModeSQL engine).
func New(eng *engine.Engine, files TrashWorker, opts ...Option) *Cache {
	c := &Cache{
		engine:           eng,
		files:            files,
		inlineThreshold:  defaultInlineThreshold,
		trimInterval:     defaultTrimInterval,
		logger:           slog.Default(),
		errorLogsEnabled: true,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) log() *slog.Logger { return c.logger.With("domain", "cachefacade") }

func (c *Cache) logErr(action string, err error) {
	if c.errorLogsEnabled && err != nil {
		c.log().Error(action, "error", err)
	}
}

// fileNameFor derives an opaque, collision-resistant file name for a key
// deterministically, so repeated Sets of the same key reuse (and thus
// overwrite) the same Blob File rather than leaking one per write.
func fileNameFor(key string) string {
	sum := md5.Sum([]byte(key)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// Set stores value under key, choosing inline vs. external storage by
// comparing len(value) against the configured inline threshold. In the
// underlying engine's ModeSQL, Set always stores inline regardless of size
// (the engine itself enforces this per spec.md §9).
func (c *Cache) Set(key string, value []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	fileName := ""
	if int64(len(value)) > c.inlineThreshold {
		fileName = fileNameFor(key)
	}
	return c.engine.Save(key, value, fileName, nil)
}

// Get returns the value stored under key, refreshing its access time.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.ItemValue(key)
}

// Contains reports whether key has an entry, without affecting its access
// time or reading its value.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.ItemExists(key)
}

// Remove deletes the entry for key.
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Remove(key)
}

// RemoveAll wipes the entire cache.
func (c *Cache) RemoveAll() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.RemoveAll()
}

// TotalCount returns the number of cached entries.
func (c *Cache) TotalCount() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.ItemsCount()
}

// TotalCost returns the total byte size of all cached entries.
func (c *Cache) TotalCost() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.ItemsSize()
}

// TrimToCount evicts least-recently-used entries until at most target
// remain.
func (c *Cache) TrimToCount(target int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.RemoveToFitCount(target)
}

// TrimToCost evicts least-recently-used entries until total size is at most
// target bytes.
func (c *Cache) TrimToCost(target int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.RemoveToFitSize(target)
}

// TrimToAge evicts entries whose last access time precedes the cutoff
// implied by maxAge.
func (c *Cache) TrimToAge(maxAge time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.RemoveEarlierThan(time.Now().Add(-maxAge))
}
