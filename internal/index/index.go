// Package index builds and serves the title→offset index (C1) over a
// multistream dump: construction from the plaintext index file, O(1) exact
// lookup, ranked prefix/substring search, and on-demand block decompression
// through a shared cache.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/wikireader/wikireader/internal/bzstream"
	"github.com/wikireader/wikireader/internal/cache"
	"github.com/wikireader/wikireader/internal/logging"
	"github.com/wikireader/wikireader/internal/metrics"
	"github.com/wikireader/wikireader/internal/wiki"
)

var (
	ErrIndexMalformed  = errors.New("index: malformed line")
	ErrTitleNotFound    = errors.New("index: title not found")
	ErrDecompressFailed = errors.New("index: decompress failed")
)

// Entry is one title's location in the dump, per the data model.
type Entry struct {
	Offset int64
	PageID int64
	Title  wiki.Title
}

// key is the map/sort key for an Entry: namespace-qualified, case-folded.
func (e Entry) key() string {
	return fmt.Sprintf("%d\x00%s", e.Title.Namespace, strings.ToLower(e.Title.Text))
}

// Store is the in-memory index: the sole source of truth for title→offset
// lookups, built once at startup and read-only thereafter.
type Store struct {
	nsmap   *wiki.NamespaceMap
	byKey   map[string]Entry
	sorted  []Entry // sorted by key, for prefix/substring search
	archive io.ReaderAt
	blocks  *cache.Cache[int64, []byte]
	// archiveSize bounds how much of the archive a single stream read may
	// span; it is the archive's total length, since a stream never reads
	// past end of file.
	archiveSize int64
}

// Options configures Store construction.
type Options struct {
	NamespaceMap  *wiki.NamespaceMap
	BlockCacheMB  int
	OnWarning     func(line int, err error)
	OnProgress    func(linesParsed int)
	// DisableDiskCache skips the SQLite cold-start cache (§10.1) entirely,
	// always doing a full parse of indexPath. Useful for tests and for a
	// one-off index that will never be reopened.
	DisableDiskCache bool
}

// Open builds a Store from a plaintext index file and opens (without fully
// reading) the companion multistream archive for on-demand block fetch.
func Open(indexPath, archivePath string, opts Options) (*Store, error) {
	if opts.NamespaceMap == nil {
		opts.NamespaceMap = wiki.DefaultNamespaceMap()
	}
	if opts.OnWarning == nil {
		opts.OnWarning = func(line int, err error) {
			logging.Warnf("index: skipping malformed line %d: %v", line, err)
		}
	}

	indexFile, err := os.Open(indexPath)
	if err != nil {
		return nil, fmt.Errorf("index: opening %s: %w", indexPath, err)
	}
	defer indexFile.Close()
	indexInfo, err := indexFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("index: stat %s: %w", indexPath, err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("index: opening %s: %w", archivePath, err)
	}
	info, err := archive.Stat()
	if err != nil {
		archive.Close()
		return nil, fmt.Errorf("index: stat %s: %w", archivePath, err)
	}

	s := &Store{
		nsmap:       opts.NamespaceMap,
		byKey:       make(map[string]Entry),
		archive:     archive,
		archiveSize: info.Size(),
	}

	blockCacheBytes := opts.BlockCacheMB * 1 << 20
	if blockCacheBytes <= 0 {
		blockCacheBytes = 256 << 20
	}
	s.blocks = cache.New[int64, []byte](blockCacheBytes, func(b []byte) int { return len(b) }).Named("block")

	var cacheDB *sql.DB
	if !opts.DisableDiskCache {
		cacheDB, err = openSQLiteIndexCache(defaultCachePath(indexPath))
		if err != nil {
			logging.Warnf("index: disk cache unavailable, parsing without it: %v", err)
			cacheDB = nil
		}
	}
	if cacheDB != nil {
		defer cacheDB.Close()
		if cached, ok := loadCachedEntries(cacheDB, indexPath, indexInfo); ok {
			for _, e := range cached {
				s.byKey[e.key()] = e
			}
			s.sorted = cached
			sort.Slice(s.sorted, func(i, j int) bool { return s.sorted[i].key() < s.sorted[j].key() })
			return s, nil
		}
	}

	linesParsed := 0
	err = parseIndexFile(indexFile, s.nsmap, func(e Entry) {
		s.byKey[e.key()] = e
		s.sorted = append(s.sorted, e)
		linesParsed++
		if opts.OnProgress != nil && linesParsed%1_000_000 == 0 {
			opts.OnProgress(linesParsed)
		}
	}, opts.OnWarning)
	if err != nil {
		archive.Close()
		return nil, err
	}

	sort.Slice(s.sorted, func(i, j int) bool { return s.sorted[i].key() < s.sorted[j].key() })

	if cacheDB != nil {
		if err := storeCachedEntries(cacheDB, indexPath, indexInfo, s.sorted); err != nil {
			logging.Warnf("index: failed to write disk cache: %v", err)
		}
	}

	return s, nil
}

// Close releases the archive file handle. The in-memory index itself holds
// no other resources.
func (s *Store) Close() error {
	if closer, ok := s.archive.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Len reports how many titles are indexed.
func (s *Store) Len() int { return len(s.sorted) }

// NamespaceMap returns the namespace map the store was built with, so
// callers resolving titles elsewhere (the expander resolving a template
// name, for instance) stay consistent with the index.
func (s *Store) NamespaceMap() *wiki.NamespaceMap { return s.nsmap }

// Lookup resolves a normalized title to its Entry.
func (s *Store) Lookup(title wiki.Title) (Entry, error) {
	e, ok := s.byKey[Entry{Title: title}.key()]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrTitleNotFound, title.StringIn(s.nsmap))
	}
	return e, nil
}

// Exists reports whether a title is present in the index, for the
// renderer's red/blue link coloring and the #ifexist parser function —
// both are purely local, dump-derived facts, per the Non-goals' exclusion
// of live network calls.
func (s *Store) Exists(title wiki.Title) bool {
	_, ok := s.byKey[Entry{Title: title}.key()]
	return ok
}

// Block returns the decompressed bytes of the bz2 stream at offset,
// fetching and caching it if necessary. Concurrent callers requesting the
// same offset coalesce onto one decompression via the block cache's
// single-flight path.
func (s *Store) Block(ctx context.Context, offset int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.blocks.Get(offset, func() ([]byte, error) {
		start := time.Now()
		data, err := bzstream.ReadAll(s.archive, offset, s.archiveSize-offset)
		if err != nil {
			return nil, fmt.Errorf("%w: offset %d: %v", ErrDecompressFailed, offset, err)
		}
		metrics.ObserveBlockDecompress(time.Since(start))
		return data, nil
	})
}

// MatchKind ranks a search result per §4.1: exact beats prefix beats
// substring, ties broken by title order.
type MatchKind int

const (
	MatchExact MatchKind = iota
	MatchPrefix
	MatchSubstring
)

// SearchResult is one ranked title match.
type SearchResult struct {
	Entry Entry
	Kind  MatchKind
}

// Search returns titles matching q, ranked first by exact case-insensitive
// equality, then by prefix match, then by substring match, with ties broken
// by title order. limit bounds the number of results returned (0 means
// unbounded).
func (s *Store) Search(q string, limit int) []SearchResult {
	needle := strings.ToLower(strings.TrimSpace(q))
	if needle == "" {
		return nil
	}

	var exact, prefix, substring []SearchResult

	// s.sorted is ordered by "namespace\x00lowertitle" (Entry.key), grouped
	// by namespace first — not globally monotonic by title text alone — so
	// a single binary search over title text can't find the start of the
	// prefix-match run across namespace boundaries. A plain linear
	// classification pass has no such assumption to get wrong.
	lowerText := func(e Entry) string { return strings.ToLower(e.Title.Text) }

	for _, e := range s.sorted {
		t := lowerText(e)
		switch {
		case t == needle:
			exact = append(exact, SearchResult{Entry: e, Kind: MatchExact})
		case strings.HasPrefix(t, needle):
			prefix = append(prefix, SearchResult{Entry: e, Kind: MatchPrefix})
		case strings.Contains(t, needle):
			substring = append(substring, SearchResult{Entry: e, Kind: MatchSubstring})
		}
	}

	results := append(exact, append(prefix, substring...)...)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
