package expand

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/dsnet/compress/bzip2"

	"github.com/wikireader/wikireader/internal/index"
	"github.com/wikireader/wikireader/internal/wiki"
	"github.com/wikireader/wikireader/internal/wikitext"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestExpandParamRefDefault(t *testing.T) {
	nsmap := wiki.DefaultNamespaceMap()
	e := New(Options{NamespaceMap: nsmap})
	tree := wikitext.Parse("Hello, {{{1|friend}}}!", wikitext.Include)
	out, err := e.ExpandPage(context.Background(), wiki.Normalize("Test", nsmap), tree)
	if err != nil {
		t.Fatal(err)
	}
	if got := flattenText(out.Nodes); got != "Hello, friend!" {
		t.Errorf("got %q", got)
	}
}

func TestExpandMagicWordPagename(t *testing.T) {
	nsmap := wiki.DefaultNamespaceMap()
	e := New(Options{NamespaceMap: nsmap})
	tree := wikitext.Parse("{{PAGENAME}}", wikitext.NoInclude)
	title := wiki.Normalize("Example Page", nsmap)
	out, err := e.ExpandPage(context.Background(), title, tree)
	if err != nil {
		t.Fatal(err)
	}
	if got := flattenText(out.Nodes); got != "Example Page" {
		t.Errorf("got %q", got)
	}
}

func TestExpandMagicWordCurrentYear(t *testing.T) {
	nsmap := wiki.DefaultNamespaceMap()
	e := New(Options{NamespaceMap: nsmap, Now: fixedClock(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))})
	tree := wikitext.Parse("{{CURRENTYEAR}}", wikitext.NoInclude)
	out, err := e.ExpandPage(context.Background(), wiki.Normalize("X", nsmap), tree)
	if err != nil {
		t.Fatal(err)
	}
	if got := flattenText(out.Nodes); got != "2030" {
		t.Errorf("got %q", got)
	}
}

func TestExpandParserFunctionIf(t *testing.T) {
	nsmap := wiki.DefaultNamespaceMap()
	e := New(Options{NamespaceMap: nsmap})
	tree := wikitext.Parse("{{#if:yes|A|B}}", wikitext.Include)
	out, err := e.ExpandPage(context.Background(), wiki.Normalize("X", nsmap), tree)
	if err != nil {
		t.Fatal(err)
	}
	if got := flattenText(out.Nodes); got != "A" {
		t.Errorf("got %q", got)
	}
}

func TestExpandParserFunctionSwitch(t *testing.T) {
	nsmap := wiki.DefaultNamespaceMap()
	e := New(Options{NamespaceMap: nsmap})
	tree := wikitext.Parse("{{#switch:b|a=1|b|c=2|#default=3}}", wikitext.Include)
	out, err := e.ExpandPage(context.Background(), wiki.Normalize("X", nsmap), tree)
	if err != nil {
		t.Fatal(err)
	}
	if got := flattenText(out.Nodes); got != "2" {
		t.Errorf("expected fallthrough case 'b' to resolve to '2', got %q", got)
	}
}

func TestEvalExprArithmetic(t *testing.T) {
	cases := map[string]float64{
		"2+3*4":     14,
		"(2+3)*4":   20,
		"10 mod 3":  1,
		"2 == 2":    1,
		"2 > 3":     0,
		"round(2.6)": 3,
	}
	for expr, want := range cases {
		got, err := evalExpr(expr)
		if err != nil {
			t.Fatalf("%q: %v", expr, err)
		}
		if got != want {
			t.Errorf("%q: got %v, want %v", expr, got, want)
		}
	}
}

func TestParserFunctionTitleparts(t *testing.T) {
	pc := &pfContext{}
	got, err := pfTitleparts(pc, []string{"A/B/C", "2"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "A/B" {
		t.Errorf("got %q", got)
	}
}

// buildFixture writes a minimal index.txt + database.xml.bz2 pair with the
// given page titles/bodies all packed into a single bz2 stream at offset 0,
// and opens it as an index.Store.
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

func TestExpandTemplateCallWithArgument(t *testing.T) {
	store := buildFixture(t, map[string]string{
		"Template:Greet": "Hello, {{{1|friend}}}!",
	})
	nsmap := wiki.DefaultNamespaceMap()
	e := New(Options{Index: store, NamespaceMap: nsmap})

	tree := wikitext.Parse("See {{Greet|1=World}}.", wikitext.NoInclude)
	out, err := e.ExpandPage(context.Background(), wiki.Normalize("Main Page", nsmap), tree)
	if err != nil {
		t.Fatal(err)
	}
	got := flattenText(out.Nodes)
	if got != "See Hello, World!." {
		t.Errorf("got %q", got)
	}
}

func TestExpandTemplateCycleDetection(t *testing.T) {
	store := buildFixture(t, map[string]string{
		"Template:Loop": "{{Loop}}",
	})
	nsmap := wiki.DefaultNamespaceMap()
	e := New(Options{Index: store, NamespaceMap: nsmap})

	tree := wikitext.Parse("{{Loop}}", wikitext.NoInclude)
	out, err := e.ExpandPage(context.Background(), wiki.Normalize("Main Page", nsmap), tree)
	if err != nil {
		t.Fatal(err)
	}
	got := flattenText(out.Nodes)
	if !contains(got, "loop") {
		t.Errorf("expected a cycle error marker, got %q", got)
	}
}

func contains(s, sub string) bool {
	return bytes.Contains([]byte(s), []byte(sub))
}
