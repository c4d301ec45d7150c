package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// prepare returns a cached prepared statement for query, preparing and
// caching it on first use. Statements whose SQL text depends on a variable
// argument count (IN-lists) must not go through this path; they run directly
// on ix.db (see GetItems). Grounded on spec.md §4.2's "Prepared-statement cache".
func (ix *Index) prepare(query string) (*sql.Stmt, error) {
	if stmt, ok := ix.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := ix.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	ix.stmts[query] = stmt
	return stmt, nil
}

// inPlaceholders returns "?,?,...,?" for n items.
func inPlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(keys []string) []any {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return args
}

const (
	qSave = `INSERT OR REPLACE INTO manifest
(key, filename, size, inline_data, modification_time, last_access_time, extended_data)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	qUpdateAccessTime = `UPDATE manifest SET last_access_time = ? WHERE key = ?`
	qDelete           = `DELETE FROM manifest WHERE key = ?`
	qDeleteLargerThan = `DELETE FROM manifest WHERE size > ?`
	qDeleteEarlierThan = `DELETE FROM manifest WHERE last_access_time < ?`

	qGetItem         = `SELECT filename, size, inline_data, modification_time, last_access_time, extended_data FROM manifest WHERE key = ?`
	qGetItemNoInline = `SELECT filename, size, modification_time, last_access_time, extended_data FROM manifest WHERE key = ?`
	qGetValue        = `SELECT inline_data FROM manifest WHERE key = ?`
	qGetFileName     = `SELECT filename FROM manifest WHERE key = ?`

	qGetFileNamesLargerThan  = `SELECT filename FROM manifest WHERE size > ? AND filename != ''`
	qGetFileNamesEarlierThan = `SELECT filename FROM manifest WHERE last_access_time < ? AND filename != ''`

	qItemSizeInfoOrderByTimeAsc = `SELECT key, filename, size FROM manifest ORDER BY last_access_time ASC LIMIT ?`

	qItemCount  = `SELECT COUNT(*) FROM manifest WHERE key = ?`
	qTotalCount = `SELECT COUNT(*) FROM manifest`
	qTotalSize  = `SELECT COALESCE(SUM(size), 0) FROM manifest`

	qCheckpoint = `PRAGMA wal_checkpoint(PASSIVE)`
)

// Save inserts or replaces a row. inline_data is value when fileName is
// empty, otherwise an empty blob; both timestamps are set to now.
func (ix *Index) Save(key string, value []byte, fileName string, extended []byte) bool {
	if err := ix.check(); err != nil {
		ix.logErr("save", err)
		return false
	}
	stmt, err := ix.prepare(qSave)
	if err != nil {
		ix.logErr("save_prepare", err)
		return false
	}
	inline := value
	if fileName != "" {
		inline = []byte{}
	}
	now := time.Now().Unix()
	if _, err := stmt.Exec(key, fileName, int64(len(value)), inline, now, now, extended); err != nil {
		ix.logErr("save_exec", err)
		return false
	}
	return true
}

// UpdateAccessTime sets last_access_time = now for key.
func (ix *Index) UpdateAccessTime(key string) bool {
	if err := ix.check(); err != nil {
		ix.logErr("update_access_time", err)
		return false
	}
	stmt, err := ix.prepare(qUpdateAccessTime)
	if err != nil {
		ix.logErr("update_access_time_prepare", err)
		return false
	}
	if _, err := stmt.Exec(time.Now().Unix(), key); err != nil {
		ix.logErr("update_access_time_exec", err)
		return false
	}
	return true
}

// UpdateAccessTimes is the bulk form of UpdateAccessTime.
func (ix *Index) UpdateAccessTimes(keys []string) bool {
	if len(keys) == 0 {
		return true
	}
	if err := ix.check(); err != nil {
		ix.logErr("update_access_times", err)
		return false
	}
	now := time.Now().Unix()
	q := fmt.Sprintf(`UPDATE manifest SET last_access_time = ? WHERE key IN (%s)`, inPlaceholders(len(keys)))
	args := append([]any{now}, toArgs(keys)...)
	if _, err := ix.db.Exec(q, args...); err != nil {
		ix.logErr("update_access_times_exec", err)
		return false
	}
	return true
}

// Delete removes the row for key.
func (ix *Index) Delete(key string) bool {
	if err := ix.check(); err != nil {
		ix.logErr("delete", err)
		return false
	}
	stmt, err := ix.prepare(qDelete)
	if err != nil {
		ix.logErr("delete_prepare", err)
		return false
	}
	if _, err := stmt.Exec(key); err != nil {
		ix.logErr("delete_exec", err)
		return false
	}
	return true
}

// DeleteMany is the bulk form of Delete.
func (ix *Index) DeleteMany(keys []string) bool {
	if len(keys) == 0 {
		return true
	}
	if err := ix.check(); err != nil {
		ix.logErr("delete_many", err)
		return false
	}
	q := fmt.Sprintf(`DELETE FROM manifest WHERE key IN (%s)`, inPlaceholders(len(keys)))
	if _, err := ix.db.Exec(q, toArgs(keys)...); err != nil {
		ix.logErr("delete_many_exec", err)
		return false
	}
	return true
}

// DeleteLargerThan removes rows whose size > bound.
func (ix *Index) DeleteLargerThan(bound int64) bool {
	if err := ix.check(); err != nil {
		ix.logErr("delete_larger_than", err)
		return false
	}
	stmt, err := ix.prepare(qDeleteLargerThan)
	if err != nil {
		ix.logErr("delete_larger_than_prepare", err)
		return false
	}
	if _, err := stmt.Exec(bound); err != nil {
		ix.logErr("delete_larger_than_exec", err)
		return false
	}
	return true
}

// DeleteEarlierThan removes rows whose last_access_time < t.
func (ix *Index) DeleteEarlierThan(t time.Time) bool {
	if err := ix.check(); err != nil {
		ix.logErr("delete_earlier_than", err)
		return false
	}
	stmt, err := ix.prepare(qDeleteEarlierThan)
	if err != nil {
		ix.logErr("delete_earlier_than_prepare", err)
		return false
	}
	if _, err := stmt.Exec(t.Unix()); err != nil {
		ix.logErr("delete_earlier_than_exec", err)
		return false
	}
	return true
}

// GetItem returns one row. When excludeInline is true, inline_data is not
// projected (the returned Row's InlineData is nil).
func (ix *Index) GetItem(key string, excludeInline bool) (Row, bool) {
	if err := ix.check(); err != nil {
		ix.logErr("get_item", err)
		return Row{}, false
	}
	if excludeInline {
		stmt, err := ix.prepare(qGetItemNoInline)
		if err != nil {
			ix.logErr("get_item_prepare", err)
			return Row{}, false
		}
		var r Row
		var modUnix, accUnix int64
		r.Key = key
		if err := stmt.QueryRow(key).Scan(&r.FileName, &r.Size, &modUnix, &accUnix, &r.ExtendedData); err != nil {
			if err != sql.ErrNoRows {
				ix.logErr("get_item_scan", err)
			}
			return Row{}, false
		}
		r.ModTime = time.Unix(modUnix, 0)
		r.AccessTime = time.Unix(accUnix, 0)
		return r, true
	}
	stmt, err := ix.prepare(qGetItem)
	if err != nil {
		ix.logErr("get_item_prepare", err)
		return Row{}, false
	}
	var r Row
	var modUnix, accUnix int64
	r.Key = key
	if err := stmt.QueryRow(key).Scan(&r.FileName, &r.Size, &r.InlineData, &modUnix, &accUnix, &r.ExtendedData); err != nil {
		if err != sql.ErrNoRows {
			ix.logErr("get_item_scan", err)
		}
		return Row{}, false
	}
	r.ModTime = time.Unix(modUnix, 0)
	r.AccessTime = time.Unix(accUnix, 0)
	return r, true
}

// GetItems is the bulk form of GetItem. Returns an empty (non-nil) slice
// when no keys match, and false only on an actual query error.
func (ix *Index) GetItems(keys []string, excludeInline bool) ([]Row, bool) {
	if len(keys) == 0 {
		return []Row{}, true
	}
	if err := ix.check(); err != nil {
		ix.logErr("get_items", err)
		return nil, false
	}
	cols := "filename, size, inline_data, modification_time, last_access_time, extended_data"
	if excludeInline {
		cols = "filename, size, modification_time, last_access_time, extended_data"
	}
	q := fmt.Sprintf(`SELECT key, %s FROM manifest WHERE key IN (%s)`, cols, inPlaceholders(len(keys)))
	rows, err := ix.db.Query(q, toArgs(keys)...)
	if err != nil {
		ix.logErr("get_items_query", err)
		return nil, false
	}
	defer rows.Close()
	out := []Row{}
	for rows.Next() {
		var r Row
		var modUnix, accUnix int64
		if excludeInline {
			if err := rows.Scan(&r.Key, &r.FileName, &r.Size, &modUnix, &accUnix, &r.ExtendedData); err != nil {
				ix.logErr("get_items_scan", err)
				return nil, false
			}
		} else {
			if err := rows.Scan(&r.Key, &r.FileName, &r.Size, &r.InlineData, &modUnix, &accUnix, &r.ExtendedData); err != nil {
				ix.logErr("get_items_scan", err)
				return nil, false
			}
		}
		r.ModTime = time.Unix(modUnix, 0)
		r.AccessTime = time.Unix(accUnix, 0)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		ix.logErr("get_items_rows", err)
		return nil, false
	}
	return out, true
}

// GetValue returns only inline_data for key.
func (ix *Index) GetValue(key string) ([]byte, bool) {
	if err := ix.check(); err != nil {
		ix.logErr("get_value", err)
		return nil, false
	}
	stmt, err := ix.prepare(qGetValue)
	if err != nil {
		ix.logErr("get_value_prepare", err)
		return nil, false
	}
	var v []byte
	if err := stmt.QueryRow(key).Scan(&v); err != nil {
		if err != sql.ErrNoRows {
			ix.logErr("get_value_scan", err)
		}
		return nil, false
	}
	return v, true
}

// GetFileName returns the filename column for key.
func (ix *Index) GetFileName(key string) (string, bool) {
	if err := ix.check(); err != nil {
		ix.logErr("get_file_name", err)
		return "", false
	}
	stmt, err := ix.prepare(qGetFileName)
	if err != nil {
		ix.logErr("get_file_name_prepare", err)
		return "", false
	}
	var fn string
	if err := stmt.QueryRow(key).Scan(&fn); err != nil {
		if err != sql.ErrNoRows {
			ix.logErr("get_file_name_scan", err)
		}
		return "", false
	}
	return fn, true
}

// GetFileNames is the bulk form of GetFileName, returning only non-empty
// file names among the matched keys.
func (ix *Index) GetFileNames(keys []string) ([]string, bool) {
	if len(keys) == 0 {
		return nil, true
	}
	if err := ix.check(); err != nil {
		ix.logErr("get_file_names", err)
		return nil, false
	}
	q := fmt.Sprintf(`SELECT filename FROM manifest WHERE key IN (%s) AND filename != ''`, inPlaceholders(len(keys)))
	rows, err := ix.db.Query(q, toArgs(keys)...)
	if err != nil {
		ix.logErr("get_file_names_query", err)
		return nil, false
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var fn string
		if err := rows.Scan(&fn); err != nil {
			ix.logErr("get_file_names_scan", err)
			return nil, false
		}
		names = append(names, fn)
	}
	if err := rows.Err(); err != nil {
		ix.logErr("get_file_names_rows", err)
		return nil, false
	}
	return names, true
}

// GetFileNamesLargerThan returns file names of rows whose size > bound, used
// to locate Blob Files to delete before DeleteLargerThan.
func (ix *Index) GetFileNamesLargerThan(bound int64) ([]string, bool) {
	return ix.queryFileNames(qGetFileNamesLargerThan, bound)
}

// GetFileNamesEarlierThan returns file names of rows whose last_access_time
// < t, used to locate Blob Files to delete before DeleteEarlierThan.
func (ix *Index) GetFileNamesEarlierThan(t time.Time) ([]string, bool) {
	return ix.queryFileNames(qGetFileNamesEarlierThan, t.Unix())
}

func (ix *Index) queryFileNames(query string, arg any) ([]string, bool) {
	if err := ix.check(); err != nil {
		ix.logErr("query_file_names", err)
		return nil, false
	}
	stmt, err := ix.prepare(query)
	if err != nil {
		ix.logErr("query_file_names_prepare", err)
		return nil, false
	}
	rows, err := stmt.Query(arg)
	if err != nil {
		ix.logErr("query_file_names_exec", err)
		return nil, false
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var fn string
		if err := rows.Scan(&fn); err != nil {
			ix.logErr("query_file_names_scan", err)
			return nil, false
		}
		names = append(names, fn)
	}
	if err := rows.Err(); err != nil {
		ix.logErr("query_file_names_rows", err)
		return nil, false
	}
	return names, true
}

// GetItemSizeInfoOrderByTimeAsc returns up to limit rows projected to
// (key, fileName, size) ordered by last_access_time ascending: the LRU
// eviction cursor.
func (ix *Index) GetItemSizeInfoOrderByTimeAsc(limit int) ([]SizeInfo, bool) {
	if err := ix.check(); err != nil {
		ix.logErr("size_info_cursor", err)
		return nil, false
	}
	stmt, err := ix.prepare(qItemSizeInfoOrderByTimeAsc)
	if err != nil {
		ix.logErr("size_info_cursor_prepare", err)
		return nil, false
	}
	rows, err := stmt.Query(limit)
	if err != nil {
		ix.logErr("size_info_cursor_exec", err)
		return nil, false
	}
	defer rows.Close()
	out := []SizeInfo{}
	for rows.Next() {
		var si SizeInfo
		if err := rows.Scan(&si.Key, &si.FileName, &si.Size); err != nil {
			ix.logErr("size_info_cursor_scan", err)
			return nil, false
		}
		out = append(out, si)
	}
	if err := rows.Err(); err != nil {
		ix.logErr("size_info_cursor_rows", err)
		return nil, false
	}
	return out, true
}

// ItemCount returns 1 if key exists, else 0 (spec.md's getItemCount(key)).
func (ix *Index) ItemCount(key string) (int, bool) {
	if err := ix.check(); err != nil {
		ix.logErr("item_count", err)
		return 0, false
	}
	stmt, err := ix.prepare(qItemCount)
	if err != nil {
		ix.logErr("item_count_prepare", err)
		return 0, false
	}
	var n int
	if err := stmt.QueryRow(key).Scan(&n); err != nil {
		ix.logErr("item_count_scan", err)
		return 0, false
	}
	return n, true
}

// TotalItemCount returns the total row count.
func (ix *Index) TotalItemCount() (int64, bool) {
	if err := ix.check(); err != nil {
		ix.logErr("total_item_count", err)
		return 0, false
	}
	stmt, err := ix.prepare(qTotalCount)
	if err != nil {
		ix.logErr("total_item_count_prepare", err)
		return 0, false
	}
	var n int64
	if err := stmt.QueryRow().Scan(&n); err != nil {
		ix.logErr("total_item_count_scan", err)
		return 0, false
	}
	return n, true
}

// TotalItemSize returns the 64-bit sum of the size column across all rows
// (spec.md §9 flags the source's 32-bit projection as a defect; this
// implementation never truncates).
func (ix *Index) TotalItemSize() (int64, bool) {
	if err := ix.check(); err != nil {
		ix.logErr("total_item_size", err)
		return 0, false
	}
	stmt, err := ix.prepare(qTotalSize)
	if err != nil {
		ix.logErr("total_item_size_prepare", err)
		return 0, false
	}
	var n int64
	if err := stmt.QueryRow().Scan(&n); err != nil {
		ix.logErr("total_item_size_scan", err)
		return 0, false
	}
	return n, true
}

// Checkpoint issues a WAL checkpoint.
func (ix *Index) Checkpoint() bool {
	if err := ix.check(); err != nil {
		ix.logErr("checkpoint", err)
		return false
	}
	if _, err := ix.db.Exec(qCheckpoint); err != nil {
		ix.logErr("checkpoint_exec", err)
		return false
	}
	return true
}
