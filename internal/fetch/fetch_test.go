package fetch

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestManifestFind(t *testing.T) {
	m := manifest{raw: "" +
		"d41d8cd98f00b204e9800998ecf8427e12345678  enwiki-20260701-pages-articles-multistream.xml.bz2\n" +
		"abababababababababababababababababababab  enwiki-20260701-pages-articles-multistream-index.txt.bz2\n",
	}

	entry, err := m.find("-pages-articles-multistream.xml.bz2")
	if err != nil {
		t.Fatal(err)
	}
	if entry.name != "enwiki-20260701-pages-articles-multistream.xml.bz2" {
		t.Errorf("got %q", entry.name)
	}
	if entry.sha1 != "d41d8cd98f00b204e9800998ecf8427e12345678" {
		t.Errorf("got %q", entry.sha1)
	}

	indexEntry, err := m.find("-pages-articles-multistream-index.txt.bz2")
	if err != nil {
		t.Fatal(err)
	}
	if indexEntry.name != "enwiki-20260701-pages-articles-multistream-index.txt.bz2" {
		t.Errorf("got %q", indexEntry.name)
	}
}

func TestManifestFindMissing(t *testing.T) {
	m := manifest{raw: "d41d8cd98f00b204e9800998ecf8427e12345678  enwiki-20260701-other.sql.gz\n"}
	if _, err := m.find("-pages-articles-multistream.xml.bz2"); err == nil {
		t.Fatal("expected an error for a missing manifest entry")
	}
}

func TestDownloadVerifiedSkipsMatchingLocalFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "database.xml.bz2")
	content := []byte("already downloaded content")
	if err := os.WriteFile(target, content, 0o644); err != nil {
		t.Fatal(err)
	}
	sum := sha1.Sum(content)
	sha1Hex := hex.EncodeToString(sum[:])

	// No mirror reachable from this URL; downloadVerified must never reach
	// the network because the local file's hash already matches.
	err := downloadVerified(context.Background(), target, "http://example.invalid/nope.bz2", sha1Hex)
	if err != nil {
		t.Fatalf("expected the matching local file to short-circuit the download, got %v", err)
	}
}
