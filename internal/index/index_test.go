package index

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dsnet/compress/bzip2"

	"github.com/wikireader/wikireader/internal/wiki"
)

// writeFixture packs pages into a single bz2 stream and writes a matching
// index.txt next to it, mirroring how internal/luabridge and
// internal/server build their own test fixtures (same index.txt:database.xml.bz2
// shape real multistream dumps use).
func writeFixture(t *testing.T, dir string, pages map[string]string) (indexPath, archivePath string) {
	t.Helper()

	var xmlBody bytes.Buffer
	for title, body := range pages {
		xmlBody.WriteString("<page><title>")
		xmlBody.WriteString(title)
		xmlBody.WriteString("</title><revision><text>")
		xmlBody.WriteString(body)
		xmlBody.WriteString("</text></revision></page>")
	}

	var compressed bytes.Buffer
	w, err := bzip2.NewWriter(&compressed, &bzip2.WriterConfig{Level: 9})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(xmlBody.Bytes()); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	archivePath = filepath.Join(dir, "database.xml.bz2")
	if err := os.WriteFile(archivePath, compressed.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	var idxText bytes.Buffer
	id := 1
	for title := range pages {
		idxText.WriteString("0:")
		idxText.WriteString(string(rune('0' + id)))
		idxText.WriteString(":")
		idxText.WriteString(title)
		idxText.WriteString("\n")
		id++
	}
	indexPath = filepath.Join(dir, "index.txt")
	if err := os.WriteFile(indexPath, idxText.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return indexPath, archivePath
}

func TestOpenLookupAndBlock(t *testing.T) {
	dir := t.TempDir()
	indexPath, archivePath := writeFixture(t, dir, map[string]string{
		"Main Page": "hello",
	})

	store, err := Open(indexPath, archivePath, Options{DisableDiskCache: true})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if store.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", store.Len())
	}

	title := wiki.Normalize("Main Page", wiki.DefaultNamespaceMap())
	entry, err := store.Lookup(title)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Offset != 0 {
		t.Errorf("Offset = %d, want 0", entry.Offset)
	}

	block, err := store.Block(context.Background(), entry.Offset)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(block, []byte("hello")) {
		t.Errorf("block does not contain page body: %q", block)
	}
}

func TestLookupMissingTitle(t *testing.T) {
	dir := t.TempDir()
	indexPath, archivePath := writeFixture(t, dir, map[string]string{"Main Page": "hi"})

	store, err := Open(indexPath, archivePath, Options{DisableDiskCache: true})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	_, err = store.Lookup(wiki.Normalize("Nope", wiki.DefaultNamespaceMap()))
	if err == nil {
		t.Fatal("expected an error for a missing title")
	}
}

func TestSearchRanking(t *testing.T) {
	dir := t.TempDir()
	indexPath, archivePath := writeFixture(t, dir, map[string]string{
		"Go":          "a",
		"Go language": "b",
		"Gopher":      "c",
		"Something":   "d",
	})

	store, err := Open(indexPath, archivePath, Options{DisableDiskCache: true})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	results := store.Search("go", 0)
	if len(results) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(results))
	}
	if results[0].Kind != MatchExact || results[0].Entry.Title.Text != "Go" {
		t.Errorf("expected exact match first, got %+v", results[0])
	}
}

// TestSearchRankingAcrossNamespaces guards against classifying matches by
// scanning only a contiguous run of s.sorted: entries are grouped by
// namespace first, so a query matching titles in more than one namespace
// must still find all of them.
func TestSearchRankingAcrossNamespaces(t *testing.T) {
	dir := t.TempDir()
	indexPath, archivePath := writeFixture(t, dir, map[string]string{
		"Apple":          "a",
		"Appliance":      "b",
		"Banana":         "c",
		"Talk:Apple":     "d",
		"Talk:Appliance": "e",
	})

	store, err := Open(indexPath, archivePath, Options{DisableDiskCache: true})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	results := store.Search("appl", 0)
	if len(results) != 4 {
		t.Fatalf("expected 4 matches across both namespaces, got %d: %+v", len(results), results)
	}

	var gotMain, gotTalk int
	for _, r := range results {
		if r.Kind != MatchPrefix {
			t.Errorf("expected all matches to be prefix matches, got %+v", r)
		}
		switch r.Entry.Title.Namespace {
		case wiki.NSMain:
			gotMain++
		case wiki.NSTalk:
			gotTalk++
		}
	}
	if gotMain != 2 || gotTalk != 2 {
		t.Errorf("expected 2 main-namespace and 2 talk-namespace matches, got main=%d talk=%d", gotMain, gotTalk)
	}
}

func TestSQLiteDiskCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	indexPath, archivePath := writeFixture(t, dir, map[string]string{
		"Main Page": "hello",
		"Other":     "world",
	})

	first, err := Open(indexPath, archivePath, Options{})
	if err != nil {
		t.Fatal(err)
	}
	firstLen := first.Len()
	first.Close()

	if _, err := os.Stat(defaultCachePath(indexPath)); err != nil {
		t.Fatalf("expected a disk cache file to be written: %v", err)
	}

	second, err := Open(indexPath, archivePath, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	if second.Len() != firstLen {
		t.Errorf("Len() after cache reload = %d, want %d", second.Len(), firstLen)
	}
	entry, err := second.Lookup(wiki.Normalize("Main Page", wiki.DefaultNamespaceMap()))
	if err != nil {
		t.Fatal(err)
	}
	if entry.Offset != 0 {
		t.Errorf("Offset = %d, want 0", entry.Offset)
	}
}
