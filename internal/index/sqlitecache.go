package index

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wikireader/wikireader/internal/wiki"
)

// sqliteCacheSizeMegabytes matches build.go's own SQLite page-cache size;
// this cache is written and read once per process, not held open, so a
// generous page cache just speeds up the one bulk load/store.
const sqliteCacheSizeMegabytes = 256

// openSQLiteIndexCache opens (creating if necessary) path with the same
// pragma set build.go uses for its bulk sqlite3 ingestion: no journal, no
// sync, exclusive locking. A cold-start index cache is rebuilt wholesale on
// staleness, never updated incrementally, so durability on crash doesn't
// matter — only bulk throughput does.
func openSQLiteIndexCache(path string) (*sql.DB, error) {
	cacheBytes := strconv.Itoa(sqliteCacheSizeMegabytes * 1024 * 1024)
	dsn := "file:" + path + "?_journal=OFF&_sync=OFF&_locking=EXCLUSIVE&_cache_size=" + cacheBytes
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS entries (
			namespace INTEGER NOT NULL,
			title TEXT NOT NULL,
			offset INTEGER NOT NULL,
			page_id INTEGER NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// cacheFingerprint identifies the source index.txt version a cache was
// built from: size and modification time are the two cheap-to-check
// signals that change whenever the file is regenerated, without hashing
// the whole (often multi-gigabyte) file.
func cacheFingerprint(info os.FileInfo) string {
	return fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano())
}

// loadCachedEntries returns the cached entries for indexPath if the cache
// carries a matching fingerprint, or ok=false if the cache is missing,
// stale, or unreadable (any of which fall back to a full parse).
func loadCachedEntries(db *sql.DB, indexPath string, info os.FileInfo) (entries []Entry, ok bool) {
	var stored string
	row := db.QueryRow("SELECT value FROM metadata WHERE key = 'fingerprint'")
	if err := row.Scan(&stored); err != nil {
		return nil, false
	}
	if stored != cacheFingerprint(info) {
		return nil, false
	}

	rows, err := db.Query("SELECT namespace, title, offset, page_id FROM entries")
	if err != nil {
		return nil, false
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var ns int
		var title string
		var offset, pageID int64
		if err := rows.Scan(&ns, &title, &offset, &pageID); err != nil {
			return nil, false
		}
		out = append(out, Entry{
			Offset: offset,
			PageID: pageID,
			Title:  wiki.Title{Namespace: wiki.Namespace(ns), Text: title},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, false
	}
	return out, true
}

// storeCachedEntries rewrites the cache with entries under a fresh
// fingerprint, replacing any prior contents in one transaction — the same
// "truncate, bulk-insert, commit" shape build.go uses, just without the
// redirect/link tables this reader has no use for.
func storeCachedEntries(db *sql.DB, indexPath string, info os.FileInfo, entries []Entry) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM entries"); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec("DELETE FROM metadata"); err != nil {
		tx.Rollback()
		return err
	}

	insert, err := tx.Prepare("INSERT INTO entries (namespace, title, offset, page_id) VALUES (?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	for _, e := range entries {
		if _, err := insert.Exec(int(e.Title.Namespace), e.Title.Text, e.Offset, e.PageID); err != nil {
			tx.Rollback()
			return err
		}
	}

	if _, err := tx.Exec("INSERT INTO metadata (key, value) VALUES ('fingerprint', ?)", cacheFingerprint(info)); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec("INSERT INTO metadata (key, value) VALUES ('source_path', ?)", indexPath); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// defaultCachePath derives the cold-start cache's location from the index
// file's own path, so callers don't need a separate flag just to say
// "cache it somewhere".
func defaultCachePath(indexPath string) string {
	if strings.HasSuffix(indexPath, ".txt") {
		return strings.TrimSuffix(indexPath, ".txt") + ".index-cache.sqlite3"
	}
	return indexPath + ".index-cache.sqlite3"
}
