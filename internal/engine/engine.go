package engine

import (
	"log/slog"
	"math"
	"time"

	"github.com/haukened/kvcache/internal/cacheerr"
)

const (
	defaultEvictionBatchSize = 16
	defaultProgressBatchSize = 32
)

// TimeUnbounded is the sentinel RemoveEarlierThan treats as "delegate to
// RemoveAll" (spec.md §4.3: "if time == MAX, delegate to removeAll").
var TimeUnbounded = time.Unix(math.MaxInt64, 0)

// Engine is the Storage Engine layer combining an Index and a File Store
// (spec.md §4.3). It is not internally synchronized: it presumes
// single-threaded access per instance (spec.md §5); the Cache Façade is
// responsible for mutual exclusion.
type Engine struct {
	index IndexStore
	files FileStorePort
	mode  Mode

	evictionBatchSize int
	progressBatchSize int

	logger           *slog.Logger
	errorLogsEnabled bool
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithErrorLogsEnabled toggles diagnostic logging. Default on, per spec.md
// §7's errorLogsEnabled flag.
func WithErrorLogsEnabled(enabled bool) Option {
	return func(e *Engine) { e.errorLogsEnabled = enabled }
}

// WithEvictionBatchSize overrides the batch size used by RemoveToFitSize and
// RemoveToFitCount. Default 16, per spec.md §4.3.
func WithEvictionBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.evictionBatchSize = n
		}
	}
}

// WithProgressBatchSize overrides the batch size used by
// RemoveAllWithProgress. Default 32, per spec.md §4.3.
func WithProgressBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.progressBatchSize = n
		}
	}
}

// New constructs an Engine in the given Mode over index and files.
func New(index IndexStore, files FileStorePort, mode Mode, opts ...Option) *Engine {
	e := &Engine{
		index:             index,
		files:             files,
		mode:              mode,
		evictionBatchSize: defaultEvictionBatchSize,
		progressBatchSize: defaultProgressBatchSize,
		logger:            slog.Default(),
		errorLogsEnabled:  true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mode returns the engine's fixed storage mode.
func (e *Engine) Mode() Mode { return e.mode }

func (e *Engine) log() *slog.Logger { return e.logger.With("domain", "engine", "mode", e.mode.String()) }

func (e *Engine) logErr(action string, err error) {
	if e.errorLogsEnabled && err != nil {
		e.log().Error(action, "error", err)
	}
}

// Save persists key/value, choosing inline vs. external storage per the
// engine's Mode (spec.md §4.3). Preconditions: key and value non-empty; in
// ModeFile, fileName must be non-empty.
func (e *Engine) Save(key string, value []byte, fileName string, extended []byte) bool {
	if key == "" || len(value) == 0 {
		e.logErr("save", cacheerr.ErrBadArgument)
		return false
	}
	effectiveFileName := fileName
	switch e.mode {
	case ModeFile:
		if fileName == "" {
			e.logErr("save", cacheerr.ErrBadArgument)
			return false
		}
	case ModeSQL:
		// Resolved open question (spec.md §9): SQL mode ignores any
		// caller-supplied file name and stores inline.
		effectiveFileName = ""
	case ModeMix:
		// effectiveFileName already set to the caller's choice.
	}

	if effectiveFileName != "" {
		return e.saveExternal(key, value, effectiveFileName, extended)
	}
	return e.saveInline(key, value, extended)
}

// saveExternal writes the Blob File first, then the index row. On index
// failure the Blob File just written is deleted as a compensating action
// (spec.md §4.3 ordering rule).
func (e *Engine) saveExternal(key string, value []byte, fileName string, extended []byte) bool {
	if !e.files.Write(fileName, value) {
		e.logErr("save_write_file", cacheerr.ErrIOFailure)
		return false
	}
	if !e.index.Save(key, value, fileName, extended) {
		e.files.Delete(fileName)
		e.logErr("save_index", cacheerr.ErrIndexFailure)
		return false
	}
	return true
}

// saveInline writes the index row inline. If a prior external Blob File
// existed for this key, it is discovered before the overwrite and deleted
// after the index INSERT OR REPLACE succeeds (spec.md §4.3).
func (e *Engine) saveInline(key string, value []byte, extended []byte) bool {
	var oldFileName string
	var hadOld bool
	if e.mode != ModeSQL {
		oldFileName, hadOld = e.index.GetFileName(key)
	}
	if !e.index.Save(key, value, "", extended) {
		e.logErr("save_index", cacheerr.ErrIndexFailure)
		return false
	}
	if e.mode != ModeSQL && hadOld && oldFileName != "" {
		e.files.Delete(oldFileName)
	}
	return true
}

// Remove deletes the entry for key.
func (e *Engine) Remove(key string) bool {
	if e.mode == ModeSQL {
		return e.index.Delete(key)
	}
	fileName, hadFile := e.index.GetFileName(key)
	ok := e.index.Delete(key)
	if hadFile && fileName != "" {
		e.files.Delete(fileName)
	}
	return ok
}

// RemoveMany is the bulk form of Remove.
func (e *Engine) RemoveMany(keys []string) bool {
	if len(keys) == 0 {
		return true
	}
	if e.mode == ModeSQL {
		return e.index.DeleteMany(keys)
	}
	fileNames, _ := e.index.GetFileNames(keys)
	ok := e.index.DeleteMany(keys)
	for _, fn := range fileNames {
		e.files.Delete(fn)
	}
	return ok
}

// RemoveLargerThanSize evicts all entries whose size exceeds bound.
func (e *Engine) RemoveLargerThanSize(bound int64) bool {
	if bound == math.MaxInt64 {
		return true
	}
	if bound <= 0 {
		return e.RemoveAll()
	}
	if e.mode != ModeSQL {
		names, ok := e.index.GetFileNamesLargerThan(bound)
		if !ok {
			return false
		}
		if !e.index.DeleteLargerThan(bound) {
			return false
		}
		for _, n := range names {
			e.files.Delete(n)
		}
	} else if !e.index.DeleteLargerThan(bound) {
		return false
	}
	e.index.Checkpoint()
	return true
}

// RemoveEarlierThan evicts all entries whose last access time precedes t.
func (e *Engine) RemoveEarlierThan(t time.Time) bool {
	if t.Unix() <= 0 {
		return true
	}
	if t.Equal(TimeUnbounded) {
		return e.RemoveAll()
	}
	if e.mode != ModeSQL {
		names, ok := e.index.GetFileNamesEarlierThan(t)
		if !ok {
			return false
		}
		if !e.index.DeleteEarlierThan(t) {
			return false
		}
		for _, n := range names {
			e.files.Delete(n)
		}
	} else if !e.index.DeleteEarlierThan(t) {
		return false
	}
	e.index.Checkpoint()
	return true
}

// RemoveToFitSize evicts least-recently-accessed entries until the total
// cached size is at most target.
func (e *Engine) RemoveToFitSize(target int64) bool {
	ok := e.removeToFit(func() (int64, bool) { return e.index.TotalItemSize() }, target, func(sz int64) int64 { return sz })
	if ok {
		e.index.Checkpoint()
	}
	return ok
}

// RemoveToFitCount evicts least-recently-accessed entries until the total
// entry count is at most target.
func (e *Engine) RemoveToFitCount(target int64) bool {
	ok := e.removeToFit(func() (int64, bool) { return e.index.TotalItemCount() }, target, func(int64) int64 { return 1 })
	if ok {
		e.index.Checkpoint()
	}
	return ok
}

// removeToFit implements the LRU eviction loop shared by RemoveToFitSize and
// RemoveToFitCount (spec.md §4.3): while total > target, fetch the next
// batch of evictionBatchSize entries ordered by last_access_time ascending;
// delete each one's Blob File (if any) and row, subtracting its weight from
// the running total. Stops when target is reached, a batch is empty, or the
// first row-delete failure.
func (e *Engine) removeToFit(totalFn func() (int64, bool), target int64, weight func(size int64) int64) bool {
	for {
		total, ok := totalFn()
		if !ok {
			return false
		}
		if total <= target {
			return true
		}
		batch, ok := e.index.GetItemSizeInfoOrderByTimeAsc(e.evictionBatchSize)
		if !ok {
			return false
		}
		if len(batch) == 0 {
			return true
		}
		for _, item := range batch {
			if total <= target {
				return true
			}
			if item.FileName != "" {
				e.files.Delete(item.FileName)
			}
			if !e.index.Delete(item.Key) {
				return false
			}
			total -= weight(item.Size)
		}
	}
}

// RemoveAll atomically wipes the cache: close the database, move data/ to
// trash, delete the manifest triad, and reopen (spec.md §4.3).
func (e *Engine) RemoveAll() bool {
	if err := e.index.Reset(); err != nil {
		e.logErr("remove_all", err)
		return false
	}
	return true
}

// RemoveAllWithProgress streams the wipe in batches of progressBatchSize,
// invoking progressCb after each batch and completionCb at the end with the
// true success flag (spec.md §9 resolves the source's inverted-flag defect
// in favor of the correct one).
func (e *Engine) RemoveAllWithProgress(progressCb func(removed, total int64), completionCb func(success bool)) {
	total, ok := e.index.TotalItemCount()
	if !ok {
		completionCb(false)
		return
	}
	var removed int64
	for {
		batch, ok := e.index.GetItemSizeInfoOrderByTimeAsc(e.progressBatchSize)
		if !ok {
			completionCb(false)
			return
		}
		if len(batch) == 0 {
			break
		}
		for _, item := range batch {
			if item.FileName != "" {
				e.files.Delete(item.FileName)
			}
			e.index.Delete(item.Key)
			removed++
		}
		if progressCb != nil {
			progressCb(removed, total)
		}
	}
	e.index.Checkpoint()
	if completionCb != nil {
		completionCb(true)
	}
}

// Item reads the full entry (including its value) and updates its access
// time. If the row names a Blob File that cannot be read, the row is
// deleted (the file was lost) and absent is reported (spec.md §4.3,
// IntegrityLoss).
func (e *Engine) Item(key string) (Entry, bool) {
	row, ok := e.index.GetItem(key, false)
	if !ok {
		return Entry{}, false
	}
	e.index.UpdateAccessTime(key)
	entry := entryFromRow(row)
	if row.FileName != "" {
		data, ok := e.files.Read(row.FileName)
		if !ok {
			e.logErr("item_integrity", cacheerr.ErrIntegrityLoss)
			e.index.Delete(key)
			return Entry{}, false
		}
		entry.Value = data
		return entry, true
	}
	entry.Value = row.InlineData
	return entry, true
}

// ItemInfo reads the entry's metadata without its value and without
// updating its access time (spec.md §4.3).
func (e *Engine) ItemInfo(key string) (Entry, bool) {
	row, ok := e.index.GetItem(key, true)
	if !ok {
		return Entry{}, false
	}
	return entryFromRow(row), true
}

// ItemValue returns only the entry's value bytes, following the engine's
// Mode: ModeFile reads the Blob File, ModeSQL reads inline_data, ModeMix
// prefers the Blob File when one is referenced. Updates access time on
// success; on a file-read failure, removes the row.
func (e *Engine) ItemValue(key string) ([]byte, bool) {
	switch e.mode {
	case ModeSQL:
		v, ok := e.index.GetValue(key)
		if !ok {
			return nil, false
		}
		e.index.UpdateAccessTime(key)
		return v, true
	case ModeFile:
		fileName, ok := e.index.GetFileName(key)
		if !ok {
			return nil, false
		}
		data, ok := e.files.Read(fileName)
		if !ok {
			e.logErr("item_value_integrity", cacheerr.ErrIntegrityLoss)
			e.index.Delete(key)
			return nil, false
		}
		e.index.UpdateAccessTime(key)
		return data, true
	default: // ModeMix
		row, ok := e.index.GetItem(key, false)
		if !ok {
			return nil, false
		}
		if row.FileName != "" {
			data, ok := e.files.Read(row.FileName)
			if !ok {
				e.logErr("item_value_integrity", cacheerr.ErrIntegrityLoss)
				e.index.Delete(key)
				return nil, false
			}
			e.index.UpdateAccessTime(key)
			return data, true
		}
		e.index.UpdateAccessTime(key)
		return row.InlineData, true
	}
}

// Items is the bulk form of Item. In non-SQL modes, file-backed entries
// whose Blob File read fails are removed from the result and from the
// index. On any non-empty result, access time is refreshed for the
// original query set.
func (e *Engine) Items(keys []string) ([]Entry, bool) {
	rows, ok := e.index.GetItems(keys, false)
	if !ok {
		return nil, false
	}
	out := make([]Entry, 0, len(rows))
	var lostKeys []string
	for _, row := range rows {
		entry := entryFromRow(row)
		if row.FileName != "" {
			data, ok := e.files.Read(row.FileName)
			if !ok {
				lostKeys = append(lostKeys, row.Key)
				continue
			}
			entry.Value = data
		} else {
			entry.Value = row.InlineData
		}
		out = append(out, entry)
	}
	if len(lostKeys) > 0 {
		e.logErr("items_integrity", cacheerr.ErrIntegrityLoss)
		e.index.DeleteMany(lostKeys)
	}
	if len(out) > 0 {
		e.index.UpdateAccessTimes(keys)
	}
	return out, true
}

// ItemInfos is the bulk form of ItemInfo. Does not update access times.
func (e *Engine) ItemInfos(keys []string) ([]Entry, bool) {
	rows, ok := e.index.GetItems(keys, true)
	if !ok {
		return nil, false
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, entryFromRow(row))
	}
	return out, true
}

// ItemValues is the bulk form of ItemValue, returning a map keyed by the
// cache key.
func (e *Engine) ItemValues(keys []string) (map[string][]byte, bool) {
	rows, ok := e.index.GetItems(keys, false)
	if !ok {
		return nil, false
	}
	out := make(map[string][]byte, len(rows))
	var lostKeys []string
	for _, row := range rows {
		if row.FileName != "" {
			data, ok := e.files.Read(row.FileName)
			if !ok {
				lostKeys = append(lostKeys, row.Key)
				continue
			}
			out[row.Key] = data
			continue
		}
		out[row.Key] = row.InlineData
	}
	if len(lostKeys) > 0 {
		e.logErr("item_values_integrity", cacheerr.ErrIntegrityLoss)
		e.index.DeleteMany(lostKeys)
	}
	if len(out) > 0 {
		e.index.UpdateAccessTimes(keys)
	}
	return out, true
}

// ItemExists reports whether key has a row in the index.
func (e *Engine) ItemExists(key string) bool {
	n, ok := e.index.ItemCount(key)
	return ok && n > 0
}

// ItemsCount returns the total number of cached entries.
func (e *Engine) ItemsCount() (int64, bool) {
	return e.index.TotalItemCount()
}

// ItemsSize returns the total byte size of all cached entries.
func (e *Engine) ItemsSize() (int64, bool) {
	return e.index.TotalItemSize()
}
