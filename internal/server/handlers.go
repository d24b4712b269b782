package server

import (
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/wikireader/wikireader/internal/dumpxml"
	"github.com/wikireader/wikireader/internal/index"
	"github.com/wikireader/wikireader/internal/metrics"
	"github.com/wikireader/wikireader/internal/wiki"
	"github.com/wikireader/wikireader/internal/wikitext"
)

// article is one resolved page: its title, its raw wikitext body (redirect
// stubs get a synthetic "#REDIRECT [[target]]" body, matching what a real
// dump's raw source actually contains), and the entry used to reach it.
type article struct {
	title wiki.Title
	entry index.Entry
	body  string
}

// fetchArticle resolves title to its stored record, following at most one
// redirect hop so /wiki and /source always land on real content.
func (s *Server) fetchArticle(r *http.Request, title wiki.Title) (article, error) {
	entry, err := s.idx.Lookup(title)
	if err != nil {
		return article{}, err
	}
	block, err := s.idx.Block(r.Context(), entry.Offset)
	if err != nil {
		return article{}, err
	}
	rec, err := dumpxml.Extract(block, title, s.nsmap)
	if err != nil {
		return article{}, err
	}
	if !rec.IsRedirect() {
		return article{title: title, entry: entry, body: rec.WikitextBody}, nil
	}
	target := wiki.Normalize(rec.RedirectTarget, s.nsmap)
	tentry, err := s.idx.Lookup(target)
	if err != nil {
		return article{}, err
	}
	tblock, err := s.idx.Block(r.Context(), tentry.Offset)
	if err != nil {
		return article{}, err
	}
	trec, err := dumpxml.Extract(tblock, target, s.nsmap)
	if err != nil {
		return article{}, err
	}
	if trec.IsRedirect() {
		// A double redirect: stop following (at most one hop) and render
		// the second hop's own stub as a link, per its synthetic body.
		body := "#REDIRECT [[" + trec.RedirectTarget + "]]"
		return article{title: target, entry: tentry, body: body}, nil
	}
	return article{title: target, entry: tentry, body: trec.WikitextBody}, nil
}

// handleWiki renders GET /wiki/:title end to end: parse, expand, render.
func (s *Server) handleWiki(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	title := wiki.Normalize(ps.ByName("title"), s.nsmap)

	art, err := s.fetchArticle(r, title)
	if err != nil {
		http.Error(w, fmt.Sprintf("page not found: %s", title.StringIn(s.nsmap)), http.StatusNotFound)
		return
	}

	start := time.Now()
	tree := wikitext.Parse(art.body, wikitext.NoInclude)
	expanded, err := s.expander.ExpandPage(r.Context(), art.title, tree)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	out := s.renderer.Render(expanded)
	metrics.ObserveRender(time.Since(start))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>%s</title></head><body>\n",
		html.EscapeString(art.title.StringIn(s.nsmap)))
	w.Write([]byte(out))
	w.Write([]byte("\n</body></html>\n"))
}

// handleSearch serves GET /search?q=…: ranked title matches, as JSON.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, "no query specified", http.StatusBadRequest)
		return
	}
	results := s.idx.Search(q, s.searchLimit)

	w.Header().Set("Content-Type", "application/json")
	var b strings.Builder
	b.WriteByte('[')
	for i, res := range results {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `{"title":%q,"namespace":%d}`, res.Entry.Title.Text, int(res.Entry.Title.Namespace))
	}
	b.WriteByte(']')
	w.Write([]byte(b.String()))
}

// handleSource serves GET /source/:title?mode={raw|tree}&include.
func (s *Server) handleSource(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	title := wiki.Normalize(ps.ByName("title"), s.nsmap)
	art, err := s.fetchArticle(r, title)
	if err != nil {
		http.Error(w, fmt.Sprintf("page not found: %s", title.StringIn(s.nsmap)), http.StatusNotFound)
		return
	}

	mode := r.URL.Query().Get("mode")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	switch mode {
	case "tree":
		parseMode := wikitext.NoInclude
		if _, ok := r.URL.Query()["include"]; ok {
			parseMode = wikitext.Include
		}
		tree := wikitext.Parse(art.body, parseMode)
		w.Write([]byte(formatTree(tree)))
	default:
		w.Write([]byte(formatRawColumns(art.body)))
	}
}

// formatRawColumns renders raw wikitext as three tab-separated columns:
// byte offset, line number, text, per §6.
func formatRawColumns(body string) string {
	var b strings.Builder
	offset := 0
	line := 1
	for _, l := range strings.Split(body, "\n") {
		fmt.Fprintf(&b, "%d\t%d\t%s\n", offset, line, l)
		offset += len(l) + 1
		line++
	}
	return b.String()
}

// handleEvalForm serves GET /eval: a minimal HTML form for arbitrary
// wikitext input, rendered by a POST to the same path.
func (s *Server) handleEvalForm(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!doctype html><html><body>
<form method="post" action="/eval">
<textarea name="wikitext" rows="20" cols="80"></textarea><br>
<input type="submit" value="Render">
</form>
</body></html>
`))
}

// handleEvalRender serves POST /eval: parses the submitted wikitext,
// expands it as a main-namespace page titled "Eval" (so templates and
// modules are expanded), and renders the result.
func (s *Server) handleEvalRender(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form", http.StatusBadRequest)
		return
	}
	src := r.FormValue("wikitext")

	home := wiki.Title{Namespace: wiki.NSMain, Text: "Eval"}
	tree := wikitext.Parse(src, wikitext.NoInclude)
	expanded, err := s.expander.ExpandPage(r.Context(), home, tree)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	out := s.renderer.Render(expanded)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(out))
}
