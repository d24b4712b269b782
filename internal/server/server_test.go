package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/dsnet/compress/bzip2"

	"github.com/wikireader/wikireader/internal/expand"
	"github.com/wikireader/wikireader/internal/index"
	"github.com/wikireader/wikireader/internal/render"
	"github.com/wikireader/wikireader/internal/wiki"
)

// buildFixture packs the given title→body pairs into a single bz2 stream
// and opens them as an index.Store, the same shape internal/luabridge's
// test fixture uses.
func buildFixture(t *testing.T, pages map[string]string) *index.Store {
	t.Helper()
	nsmap := wiki.DefaultNamespaceMap()

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

	dir := t.TempDir()
	archivePath := filepath.Join(dir, "database.xml.bz2")
	if err := os.WriteFile(archivePath, compressed.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	var idxText bytes.Buffer
	id := 1
	for title := range pages {
		idxText.WriteString("0:")
		idxText.WriteString(strconv.Itoa(id))
		idxText.WriteString(":")
		idxText.WriteString(title)
		idxText.WriteString("\n")
		id++
	}
	indexPath := filepath.Join(dir, "index.txt")
	if err := os.WriteFile(indexPath, idxText.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := index.Open(indexPath, archivePath, index.Options{NamespaceMap: nsmap})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestServer(t *testing.T, pages map[string]string) *Server {
	nsmap := wiki.DefaultNamespaceMap()
	store := buildFixture(t, pages)
	e := expand.New(expand.Options{Index: store, NamespaceMap: nsmap})
	r := render.New(render.Options{NamespaceMap: nsmap, Exists: store.Exists})
	return New(Options{Index: store, Expander: e, Renderer: r, NSMap: nsmap})
}

func TestHandleWikiRendersArticle(t *testing.T) {
	s := newTestServer(t, map[string]string{
		"Main Page": "Hello, '''world'''!",
	})
	req := httptest.NewRequest(http.MethodGet, "/wiki/Main%20Page", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "<b>world</b>") {
		t.Errorf("got %q", rec.Body.String())
	}
}

func TestHandleWikiMissingPageIs404(t *testing.T) {
	s := newTestServer(t, map[string]string{"Main Page": "hi"})
	req := httptest.NewRequest(http.MethodGet, "/wiki/Nope", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleSearchRanksExactFirst(t *testing.T) {
	s := newTestServer(t, map[string]string{
		"Go":           "a",
		"Go language":  "b",
		"Gopher":       "c",
	})
	req := httptest.NewRequest(http.MethodGet, "/search?q=Go", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Index(body, `"Go"`) > strings.Index(body, `"Go language"`) {
		t.Errorf("exact match should rank first: %s", body)
	}
}

func TestHandleSearchRequiresQuery(t *testing.T) {
	s := newTestServer(t, map[string]string{"Go": "a"})
	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleSourceRawHasThreeColumns(t *testing.T) {
	s := newTestServer(t, map[string]string{"Main Page": "line one\nline two"})
	req := httptest.NewRequest(http.MethodGet, "/source/Main%20Page?mode=raw", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	lines := strings.Split(strings.TrimRight(rec.Body.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
	cols := strings.Split(lines[0], "\t")
	if len(cols) != 3 || cols[2] != "line one" {
		t.Errorf("got %v", cols)
	}
}

func TestHandleSourceTreeShowsNodeKinds(t *testing.T) {
	s := newTestServer(t, map[string]string{"Main Page": "'''bold'''"})
	req := httptest.NewRequest(http.MethodGet, "/source/Main%20Page?mode=tree", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), "Bold") {
		t.Errorf("got %q", rec.Body.String())
	}
}

func TestHandleEvalRenderPostsWikitext(t *testing.T) {
	s := newTestServer(t, map[string]string{"Main Page": "hi"})
	form := url.Values{"wikitext": {"''italic''"}}
	req := httptest.NewRequest(http.MethodPost, "/eval", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), "<i>italic</i>") {
		t.Errorf("got %q", rec.Body.String())
	}
}

func TestHandleEvalFormServesForm(t *testing.T) {
	s := newTestServer(t, map[string]string{"Main Page": "hi"})
	req := httptest.NewRequest(http.MethodGet, "/eval", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), "<textarea") {
		t.Errorf("got %q", rec.Body.String())
	}
}
