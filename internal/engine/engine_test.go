package engine

import (
	"testing"
	"time"

	"github.com/haukened/kvcache/internal/filestore"
	"github.com/haukened/kvcache/internal/index/sqlite"
)

func newTestEngine(t *testing.T, mode Mode) (*Engine, *sqlite.Index, *filestore.Store) {
	t.Helper()
	dir := t.TempDir()
	fs, err := filestore.New(dir)
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	ix, err := sqlite.Open(dir, fs)
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return New(ix, fs, mode), ix, fs
}

func allModes() []Mode { return []Mode{ModeFile, ModeSQL, ModeMix} }

// P1: a saved entry can be read back byte-identical.
func TestSaveThenItemRoundTrips(t *testing.T) {
	for _, mode := range allModes() {
		t.Run(mode.String(), func(t *testing.T) {
			e, _, _ := newTestEngine(t, mode)
			fileName := ""
			if mode != ModeSQL {
				fileName = "blob-1"
			}
			if !e.Save("k1", []byte("hello world"), fileName, []byte("ext")) {
				t.Fatalf("Save failed")
			}
			entry, ok := e.Item("k1")
			if !ok {
				t.Fatalf("Item failed")
			}
			if string(entry.Value) != "hello world" {
				t.Fatalf("value mismatch: %q", entry.Value)
			}
			if string(entry.ExtendedData) != "ext" {
				t.Fatalf("extended data mismatch: %q", entry.ExtendedData)
			}
		})
	}
}

// S4, P9: ModeSQL ignores a caller-supplied file name and stores inline
// (spec.md §9 resolution).
func TestSaveModeSQLIgnoresFileName(t *testing.T) {
	e, ix, _ := newTestEngine(t, ModeSQL)
	if !e.Save("k1", []byte("v"), "ignored-name", nil) {
		t.Fatalf("Save failed")
	}
	row, ok := ix.GetItem("k1", false)
	if !ok {
		t.Fatalf("GetItem failed")
	}
	if row.FileName != "" {
		t.Fatalf("expected SQL mode to ignore file name, got %q", row.FileName)
	}
}

// P9: ModeFile requires a non-empty file name.
func TestSaveModeFileRequiresFileName(t *testing.T) {
	e, _, _ := newTestEngine(t, ModeFile)
	if e.Save("k1", []byte("v"), "", nil) {
		t.Fatalf("expected Save to fail without a file name in ModeFile")
	}
}

// P2: overwriting an externally-stored entry with an inline save in ModeMix
// deletes the old Blob File only after the index replace succeeds.
func TestSaveOverwriteExternalWithInlineDeletesOldFile(t *testing.T) {
	e, _, fs := newTestEngine(t, ModeMix)
	if !e.Save("k1", []byte("v1"), "old-blob", nil) {
		t.Fatalf("initial Save failed")
	}
	if !e.Save("k1", []byte("v2"), "", nil) {
		t.Fatalf("overwrite Save failed")
	}
	if _, ok := fs.Read("old-blob"); ok {
		t.Fatalf("expected old blob file to be deleted")
	}
	entry, ok := e.Item("k1")
	if !ok || string(entry.Value) != "v2" {
		t.Fatalf("expected v2, got %+v ok=%v", entry, ok)
	}
}

// Remove deletes both the row and any external Blob File.
func TestRemoveDeletesFileAndRow(t *testing.T) {
	e, ix, fs := newTestEngine(t, ModeMix)
	e.Save("k1", []byte("v"), "blob-1", nil)
	if !e.Remove("k1") {
		t.Fatalf("Remove failed")
	}
	if _, ok := ix.GetItem("k1", false); ok {
		t.Fatalf("expected row removed")
	}
	if _, ok := fs.Read("blob-1"); ok {
		t.Fatalf("expected blob file removed")
	}
}

// RemoveMany is the bulk form of Remove.
func TestRemoveMany(t *testing.T) {
	e, ix, _ := newTestEngine(t, ModeFile)
	e.Save("a", []byte("1"), "fa", nil)
	e.Save("b", []byte("2"), "fb", nil)
	e.Save("c", []byte("3"), "fc", nil)
	if !e.RemoveMany([]string{"a", "b"}) {
		t.Fatalf("RemoveMany failed")
	}
	total, _ := ix.TotalItemCount()
	if total != 1 {
		t.Fatalf("expected 1 row remaining, got %d", total)
	}
}

// RemoveLargerThanSize evicts entries over the bound and leaves smaller
// ones untouched, across modes.
func TestRemoveLargerThanSize(t *testing.T) {
	for _, mode := range allModes() {
		t.Run(mode.String(), func(t *testing.T) {
			e, _, _ := newTestEngine(t, mode)
			fn := func(name string) string {
				if mode == ModeSQL {
					return ""
				}
				return name
			}
			e.Save("small", make([]byte, 10), fn("fsmall"), nil)
			e.Save("big", make([]byte, 1000), fn("fbig"), nil)
			if !e.RemoveLargerThanSize(100) {
				t.Fatalf("RemoveLargerThanSize failed")
			}
			if _, ok := e.Item("big"); ok {
				t.Fatalf("expected big removed")
			}
			if _, ok := e.Item("small"); !ok {
				t.Fatalf("expected small to survive")
			}
		})
	}
}

func TestRemoveLargerThanSizeSentinels(t *testing.T) {
	e, ix, _ := newTestEngine(t, ModeSQL)
	e.Save("k", []byte("v"), "", nil)
	if !e.RemoveLargerThanSize(1<<63 - 1) {
		t.Fatalf("expected MaxInt64 bound to be a no-op success")
	}
	if total, _ := ix.TotalItemCount(); total != 1 {
		t.Fatalf("expected entry to survive no-op bound, got %d", total)
	}
	if !e.RemoveLargerThanSize(0) {
		t.Fatalf("expected non-positive bound to delegate to RemoveAll")
	}
	if total, _ := ix.TotalItemCount(); total != 0 {
		t.Fatalf("expected RemoveAll delegation to empty the cache, got %d", total)
	}
}

// RemoveEarlierThan evicts stale entries.
func TestRemoveEarlierThan(t *testing.T) {
	e, _, _ := newTestEngine(t, ModeMix)
	e.Save("old", []byte("1"), "", nil)
	cutoff := time.Now().Add(1 * time.Second)
	time.Sleep(1100 * time.Millisecond)
	e.Save("new", []byte("2"), "", nil)
	if !e.RemoveEarlierThan(cutoff) {
		t.Fatalf("RemoveEarlierThan failed")
	}
	if _, ok := e.Item("old"); ok {
		t.Fatalf("expected old removed")
	}
	if _, ok := e.Item("new"); !ok {
		t.Fatalf("expected new to survive")
	}
}

func TestRemoveEarlierThanSentinels(t *testing.T) {
	e, ix, _ := newTestEngine(t, ModeSQL)
	e.Save("k", []byte("v"), "", nil)
	if !e.RemoveEarlierThan(time.Unix(0, 0)) {
		t.Fatalf("expected zero time to be a no-op success")
	}
	if total, _ := ix.TotalItemCount(); total != 1 {
		t.Fatalf("expected entry to survive zero-time no-op, got %d", total)
	}
	if !e.RemoveEarlierThan(TimeUnbounded) {
		t.Fatalf("expected TimeUnbounded to delegate to RemoveAll")
	}
	if total, _ := ix.TotalItemCount(); total != 0 {
		t.Fatalf("expected RemoveAll delegation to empty the cache, got %d", total)
	}
}

// P5: RemoveToFitSize evicts least-recently-accessed entries first.
func TestRemoveToFitSizeEvictsLRUFirst(t *testing.T) {
	e, _, _ := newTestEngine(t, ModeSQL)
	e.Save("first", make([]byte, 100), "", nil)
	time.Sleep(1100 * time.Millisecond)
	e.Save("second", make([]byte, 100), "", nil)
	if !e.RemoveToFitSize(100) {
		t.Fatalf("RemoveToFitSize failed")
	}
	if _, ok := e.Item("first"); ok {
		t.Fatalf("expected first (least recently accessed) to be evicted")
	}
	if _, ok := e.Item("second"); !ok {
		t.Fatalf("expected second to survive")
	}
}

// S3, P5: RemoveToFitCount evicts down to a target entry count.
func TestRemoveToFitCount(t *testing.T) {
	e, ix, _ := newTestEngine(t, ModeSQL)
	for _, k := range []string{"a", "b", "c"} {
		e.Save(k, []byte("v"), "", nil)
		time.Sleep(1100 * time.Millisecond)
	}
	if !e.RemoveToFitCount(1) {
		t.Fatalf("RemoveToFitCount failed")
	}
	total, _ := ix.TotalItemCount()
	if total != 1 {
		t.Fatalf("expected 1 entry remaining, got %d", total)
	}
	if _, ok := e.Item("c"); !ok {
		t.Fatalf("expected most recently accessed entry c to survive")
	}
}

// S6: RemoveAll wipes the cache entirely and leaves it usable.
func TestRemoveAll(t *testing.T) {
	e, ix, _ := newTestEngine(t, ModeMix)
	e.Save("a", []byte("1"), "fa", nil)
	e.Save("b", []byte("2"), "", nil)
	if !e.RemoveAll() {
		t.Fatalf("RemoveAll failed")
	}
	total, ok := ix.TotalItemCount()
	if !ok || total != 0 {
		t.Fatalf("expected empty cache, got %d ok=%v", total, ok)
	}
	if !e.Save("c", []byte("3"), "", nil) {
		t.Fatalf("expected engine usable after RemoveAll")
	}
}

// RemoveAllWithProgress must report the true success flag on completion
// (spec.md §9 resolves the source's inverted-flag defect).
func TestRemoveAllWithProgressReportsTrueSuccess(t *testing.T) {
	e, _, _ := newTestEngine(t, ModeSQL)
	for i := 0; i < 40; i++ {
		e.Save(string(rune('a'+i%26))+string(rune(i)), []byte("v"), "", nil)
	}
	var progressCalls int
	var lastRemoved, lastTotal int64
	var completed bool
	var success bool
	e.RemoveAllWithProgress(func(removed, total int64) {
		progressCalls++
		lastRemoved = removed
		lastTotal = total
	}, func(ok bool) {
		completed = true
		success = ok
	})
	if !completed {
		t.Fatalf("expected completion callback to be invoked")
	}
	if !success {
		t.Fatalf("expected true success flag on completion")
	}
	if progressCalls == 0 {
		t.Fatalf("expected at least one progress callback")
	}
	if lastRemoved != lastTotal {
		t.Fatalf("expected final progress removed==total, got %d/%d", lastRemoved, lastTotal)
	}
}

// ItemInfo does not update access time; Item does.
func TestItemInfoDoesNotUpdateAccessTime(t *testing.T) {
	e, ix, _ := newTestEngine(t, ModeSQL)
	e.Save("k1", []byte("v"), "", nil)
	row1, _ := ix.GetItem("k1", false)
	time.Sleep(1100 * time.Millisecond)
	if _, ok := e.ItemInfo("k1"); !ok {
		t.Fatalf("ItemInfo failed")
	}
	row2, _ := ix.GetItem("k1", false)
	if !row1.AccessTime.Equal(row2.AccessTime) {
		t.Fatalf("expected ItemInfo to leave access time unchanged: %v -> %v", row1.AccessTime, row2.AccessTime)
	}
}

func TestItemValueAcrossModes(t *testing.T) {
	for _, mode := range allModes() {
		t.Run(mode.String(), func(t *testing.T) {
			e, _, _ := newTestEngine(t, mode)
			fileName := ""
			if mode != ModeSQL {
				fileName = "blob-x"
			}
			e.Save("k1", []byte("payload"), fileName, nil)
			v, ok := e.ItemValue("k1")
			if !ok {
				t.Fatalf("ItemValue failed")
			}
			if string(v) != "payload" {
				t.Fatalf("value mismatch: %q", v)
			}
		})
	}
}

// P7, S5: integrity loss: if the Blob File underlying a row disappears out from
// under the engine, Item/ItemValue report absent and delete the row.
func TestItemDetectsIntegrityLossAndRemovesRow(t *testing.T) {
	e, ix, fs := newTestEngine(t, ModeFile)
	e.Save("k1", []byte("v"), "blob-1", nil)
	fs.Delete("blob-1")
	if _, ok := e.Item("k1"); ok {
		t.Fatalf("expected Item to report absent after file loss")
	}
	if _, ok := ix.GetItem("k1", false); ok {
		t.Fatalf("expected row to be removed after integrity loss")
	}
}

func TestItemsBulkRoundTrip(t *testing.T) {
	e, _, _ := newTestEngine(t, ModeMix)
	e.Save("a", []byte("1"), "fa", nil)
	e.Save("b", []byte("2"), "", nil)
	entries, ok := e.Items([]string{"a", "b", "missing"})
	if !ok {
		t.Fatalf("Items failed")
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestItemValuesBulkRoundTrip(t *testing.T) {
	e, _, _ := newTestEngine(t, ModeMix)
	e.Save("a", []byte("1"), "fa", nil)
	e.Save("b", []byte("2"), "", nil)
	values, ok := e.ItemValues([]string{"a", "b"})
	if !ok {
		t.Fatalf("ItemValues failed")
	}
	if string(values["a"]) != "1" || string(values["b"]) != "2" {
		t.Fatalf("unexpected values: %+v", values)
	}
}

func TestItemExistsAndCounts(t *testing.T) {
	e, _, _ := newTestEngine(t, ModeSQL)
	if e.ItemExists("k1") {
		t.Fatalf("expected k1 to not exist yet")
	}
	e.Save("k1", []byte("12345"), "", nil)
	if !e.ItemExists("k1") {
		t.Fatalf("expected k1 to exist")
	}
	count, ok := e.ItemsCount()
	if !ok || count != 1 {
		t.Fatalf("expected count 1, got %d ok=%v", count, ok)
	}
	size, ok := e.ItemsSize()
	if !ok || size != 5 {
		t.Fatalf("expected size 5, got %d ok=%v", size, ok)
	}
}

func TestModeAccessor(t *testing.T) {
	e, _, _ := newTestEngine(t, ModeMix)
	if e.Mode() != ModeMix {
		t.Fatalf("expected ModeMix, got %v", e.Mode())
	}
}

func TestParseModeRoundTrip(t *testing.T) {
	for _, m := range allModes() {
		parsed, err := ParseMode(m.String())
		if err != nil {
			t.Fatalf("ParseMode(%q): %v", m.String(), err)
		}
		if parsed != m {
			t.Fatalf("expected %v, got %v", m, parsed)
		}
	}
	if _, err := ParseMode("bogus"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
