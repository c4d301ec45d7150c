package engine

import (
	"time"

	"github.com/haukened/kvcache/internal/index/sqlite"
)

// Entry is the logical cached item returned by item/itemInfo (spec.md §3).
type Entry struct {
	Key          string
	Value        []byte
	FileName     string
	Size         int64
	ModTime      time.Time
	AccessTime   time.Time
	ExtendedData []byte
}

func entryFromRow(row sqlite.Row) Entry {
	return Entry{
		Key:          row.Key,
		FileName:     row.FileName,
		Size:         row.Size,
		ModTime:      row.ModTime,
		AccessTime:   row.AccessTime,
		ExtendedData: row.ExtendedData,
	}
}
