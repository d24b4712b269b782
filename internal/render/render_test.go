package render

import (
	"strings"
	"testing"

	"github.com/wikireader/wikireader/internal/wiki"
	"github.com/wikireader/wikireader/internal/wikitext"
)

func newRenderer(exists func(wiki.Title) bool) *Renderer {
	return New(Options{NamespaceMap: wiki.DefaultNamespaceMap(), Exists: exists})
}

func TestRenderParagraphWithFormatting(t *testing.T) {
	r := newRenderer(nil)
	tree := wikitext.Parse("Hello, '''world'''! This is ''great''.", wikitext.NoInclude)
	out := r.Render(tree)
	if !strings.Contains(out, "<p>") || !strings.Contains(out, "<b>world</b>") || !strings.Contains(out, "<i>great</i>") {
		t.Errorf("got %q", out)
	}
}

func TestRenderParagraphBreak(t *testing.T) {
	r := newRenderer(nil)
	tree := wikitext.Parse("First paragraph.\n\nSecond paragraph.", wikitext.NoInclude)
	out := r.Render(tree)
	if strings.Count(out, "<p>") != 2 {
		t.Errorf("expected two paragraphs, got %q", out)
	}
}

func TestRenderHeadingHasID(t *testing.T) {
	r := newRenderer(nil)
	tree := wikitext.Parse("== Section One ==\nbody", wikitext.NoInclude)
	out := r.Render(tree)
	if !strings.Contains(out, `<h2 id="Section_One">Section One</h2>`) {
		t.Errorf("got %q", out)
	}
}

func TestRenderInternalLinkColoring(t *testing.T) {
	exists := func(title wiki.Title) bool { return title.Text == "Existing Page" }
	r := newRenderer(exists)

	tree := wikitext.Parse("See [[Existing Page]] and [[Missing Page]].", wikitext.NoInclude)
	out := r.Render(tree)
	if !strings.Contains(out, `<a href="/wiki/Existing_Page">Existing Page</a>`) {
		t.Errorf("existing link not rendered correctly: %q", out)
	}
	if !strings.Contains(out, `class="new"`) {
		t.Errorf("missing page should carry the new-page class: %q", out)
	}
}

func TestRenderListNesting(t *testing.T) {
	r := newRenderer(nil)
	tree := wikitext.Parse("*one\n*two\n**nested\n*three", wikitext.NoInclude)
	out := r.Render(tree)
	if !strings.Contains(out, "<ul>") || !strings.Contains(out, "<li>one</li>") {
		t.Errorf("got %q", out)
	}
	if strings.Count(out, "<ul>") != 2 || strings.Count(out, "</ul>") != 2 {
		t.Errorf("expected one nested <ul> pair, got %q", out)
	}
}

func TestRenderTableBasic(t *testing.T) {
	r := newRenderer(nil)
	tree := wikitext.Parse("{|\n! Header\n|-\n| Cell\n|}", wikitext.NoInclude)
	out := r.Render(tree)
	if !strings.Contains(out, "<table") || !strings.Contains(out, "<th>Header</th>") || !strings.Contains(out, "<td>Cell</td>") {
		t.Errorf("got %q", out)
	}
}

func TestRenderRefAndReferences(t *testing.T) {
	r := newRenderer(nil)
	tree := wikitext.Parse("Claim.<ref>Source A</ref> <references/>", wikitext.NoInclude)
	out := r.Render(tree)
	if !strings.Contains(out, `class="reference"`) {
		t.Errorf("missing inline citation marker: %q", out)
	}
	if !strings.Contains(out, `class="references"`) || !strings.Contains(out, "Source A") {
		t.Errorf("missing references list: %q", out)
	}
}

func TestRenderUnsupportedTagStub(t *testing.T) {
	r := newRenderer(nil)
	tree := wikitext.Parse("<gallery>File:A.jpg</gallery>", wikitext.NoInclude)
	out := r.Render(tree)
	if !strings.Contains(out, "mw-unsupported-tag") || !strings.Contains(out, "gallery") {
		t.Errorf("expected a visible stub for an unsupported tag, got %q", out)
	}
}

func TestRenderNowikiEscapesMarkup(t *testing.T) {
	r := newRenderer(nil)
	tree := wikitext.Parse("<nowiki>'''not bold'''</nowiki>", wikitext.NoInclude)
	out := r.Render(tree)
	if strings.Contains(out, "<b>") {
		t.Errorf("nowiki content should not be parsed as markup: %q", out)
	}
	if !strings.Contains(out, "&#39;&#39;&#39;not bold&#39;&#39;&#39;") {
		t.Errorf("got %q", out)
	}
}
