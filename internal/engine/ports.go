// Package engine implements the Storage Engine layer of the cache (spec.md
// §4.3): it combines an Index and a File Store, chooses between inline and
// external storage per write according to its Mode, and guarantees the
// Index remains the single source of truth. Grounded on
// internal/store/store.go from the teacher repo (which composes an Index
// and BlobStorage behind app.SecretStore), generalized from single-consume
// secret retrieval to repeatable-read cache semantics with LRU eviction.
package engine

import (
	"time"

	"github.com/haukened/kvcache/internal/index/sqlite"
)

// IndexStore is the narrow port the engine depends on, implemented by
// *sqlite.Index. Declaring it here (rather than depending on the concrete
// type) mirrors the teacher's internal/store/ports.go hexagonal style.
type IndexStore interface {
	Save(key string, value []byte, fileName string, extended []byte) bool
	UpdateAccessTime(key string) bool
	UpdateAccessTimes(keys []string) bool
	Delete(key string) bool
	DeleteMany(keys []string) bool
	DeleteLargerThan(bound int64) bool
	DeleteEarlierThan(t time.Time) bool
	GetItem(key string, excludeInline bool) (sqlite.Row, bool)
	GetItems(keys []string, excludeInline bool) ([]sqlite.Row, bool)
	GetValue(key string) ([]byte, bool)
	GetFileName(key string) (string, bool)
	GetFileNames(keys []string) ([]string, bool)
	GetFileNamesLargerThan(bound int64) ([]string, bool)
	GetFileNamesEarlierThan(t time.Time) ([]string, bool)
	GetItemSizeInfoOrderByTimeAsc(limit int) ([]sqlite.SizeInfo, bool)
	ItemCount(key string) (int, bool)
	TotalItemCount() (int64, bool)
	TotalItemSize() (int64, bool)
	Checkpoint() bool
	Reset() error
}

// FileStorePort is the narrow port the engine depends on for blob storage,
// implemented by *filestore.Store.
type FileStorePort interface {
	Write(fileName string, data []byte) bool
	Read(fileName string) ([]byte, bool)
	Delete(fileName string) bool
}
