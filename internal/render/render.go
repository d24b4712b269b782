// Package render implements the HTML renderer (C7): it lowers a fully
// expanded TokenTree to an HTML fragment. Text is escaped by hand with
// strings.Builder and html.EscapeString, matching the corpus's own texture
// for emitting HTML (no templating engine anywhere in the retrieved pack).
package render

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/wikireader/wikireader/internal/wiki"
	"github.com/wikireader/wikireader/internal/wikitext"
)

// blankLineSplitter marks a paragraph break: two or more consecutive
// newlines, optionally with trailing whitespace on the blank line(s).
var blankLineSplitter = regexp.MustCompile(`\n[ \t]*\n+`)

// Options configures one Renderer.
type Options struct {
	NamespaceMap *wiki.NamespaceMap
	// Exists reports whether a title is present in the index, for
	// red/blue internal-link coloring.
	Exists func(wiki.Title) bool
	// FetchStyle resolves a <templatestyles src="..."/> reference to the
	// referenced page's raw CSS text. Nil means styles are skipped with a
	// visible comment instead of inlined.
	FetchStyle func(src string) (css string, ok bool)
}

// Renderer holds the shared dependencies for lowering a TokenTree to HTML.
// A Renderer is safe for concurrent use; per-call state (reference list,
// external-link numbering, heading-id collisions) lives on a render pass
// value created fresh by each Render call.
type Renderer struct {
	nsmap      *wiki.NamespaceMap
	exists     func(wiki.Title) bool
	fetchStyle func(string) (string, bool)
}

func New(opts Options) *Renderer {
	exists := opts.Exists
	if exists == nil {
		exists = func(wiki.Title) bool { return false }
	}
	return &Renderer{
		nsmap:      opts.NamespaceMap,
		exists:     exists,
		fetchStyle: opts.FetchStyle,
	}
}

// pass carries the mutable state of one Render call: reference accumulation
// for <ref>/<references>, external-link auto-numbering, and heading-id
// collision counts.
type pass struct {
	r          *Renderer
	refs       []string
	extLinkNum int
	headingIDs map[string]int
}

// Render lowers an expanded TokenTree to a standalone HTML fragment (no
// <html>/<body> wrapper — that's the HTTP handler's job, per §4.7's "emits
// HTML fragments" framing).
func (r *Renderer) Render(tree *wikitext.TokenTree) string {
	p := &pass{r: r, headingIDs: map[string]int{}}
	return p.renderBlocks(tree.Nodes)
}

// renderBlocks walks top-level nodes, accumulating inline runs into <p>
// paragraphs and grouping consecutive list items into nested <ul>/<ol>/<dl>
// structures, the way MediaWiki's own block-level pass does (simplified:
// real paragraph detection also considers surrounding HTML block context,
// which this offline reader has no need to replicate byte-exactly).
func (p *pass) renderBlocks(nodes []*wikitext.Node) string {
	var out strings.Builder
	var para strings.Builder
	var listRun []*wikitext.Node

	flushPara := func() {
		if strings.TrimSpace(para.String()) != "" {
			out.WriteString("<p>")
			out.WriteString(para.String())
			out.WriteString("</p>\n")
		}
		para.Reset()
	}
	flushList := func() {
		if len(listRun) > 0 {
			out.WriteString(p.renderListGroup(listRun))
			listRun = nil
		}
	}

	for _, n := range nodes {
		switch n.Kind {
		case wikitext.KindListItem:
			flushPara()
			listRun = append(listRun, n)
			continue
		default:
			// The newline that ends one list line separates it from the
			// next item; it does not end the list.
			if len(listRun) > 0 && n.Kind == wikitext.KindText && n.Text == "\n" {
				continue
			}
			flushList()
		}

		switch n.Kind {
		case wikitext.KindHeading:
			flushPara()
			out.WriteString(p.renderHeading(n))
		case wikitext.KindTable:
			flushPara()
			out.WriteString(p.renderTable(n))
		case wikitext.KindHorizontalRule:
			flushPara()
			out.WriteString("<hr/>\n")
		case wikitext.KindText:
			// A blank line (two-or-more newlines) is a paragraph break;
			// everything else is inline content accumulated into the
			// current paragraph.
			parts := blankLineSplitter.Split(n.Text, -1)
			for i, part := range parts {
				if i > 0 {
					flushPara()
				}
				para.WriteString(html.EscapeString(part))
			}
		default:
			para.WriteString(p.renderInlineOne(n))
		}
	}
	flushList()
	flushPara()
	return out.String()
}

func (p *pass) renderInline(nodes []*wikitext.Node) string {
	var b strings.Builder
	for _, n := range nodes {
		b.WriteString(p.renderInlineOne(n))
	}
	return b.String()
}

func (p *pass) renderInlineOne(n *wikitext.Node) string {
	switch n.Kind {
	case wikitext.KindText:
		return html.EscapeString(n.Text)
	case wikitext.KindComment:
		return ""
	case wikitext.KindBreak:
		return "<br/>\n"
	case wikitext.KindHorizontalRule:
		return "<hr/>\n"
	case wikitext.KindBold:
		return "<b>" + p.renderInline(n.Children) + "</b>"
	case wikitext.KindItalic:
		return "<i>" + p.renderInline(n.Children) + "</i>"
	case wikitext.KindBoldItalic:
		return "<b><i>" + p.renderInline(n.Children) + "</i></b>"
	case wikitext.KindInternalLink:
		return p.renderInternalLink(n)
	case wikitext.KindExternalLink:
		return p.renderExternalLink(n)
	case wikitext.KindTable:
		return p.renderTable(n)
	case wikitext.KindHeading:
		return p.renderHeading(n)
	case wikitext.KindListItem:
		return p.renderListGroup([]*wikitext.Node{n})
	case wikitext.KindExtensionTag:
		return p.renderExtensionTag(n)
	case wikitext.KindHTML:
		// A self-closed extension tag (e.g. "<references/>") is tokenized
		// by C4 as a generic self-closed KindHTML node rather than
		// KindExtensionTag, since self-closing is a syntactic property
		// the tokenizer checks before it knows which tags are
		// extensions; route the handful that matter here.
		if n.SelfClosed {
			switch strings.ToLower(n.TagName) {
			case "references":
				return p.renderReferences()
			case "ref":
				return ""
			}
		}
		return p.renderHTMLPassthrough(n)
	default:
		// Template/ParserFunction/ParamRef/MagicWord nodes should never
		// survive into the renderer's input (C5 resolves them); if one
		// does (e.g. a render called directly on an unexpanded tree for
		// /source?mode=tree debugging), fall back to its flattened text
		// rather than panicking.
		return html.EscapeString(flattenFallback(n))
	}
}

func flattenFallback(n *wikitext.Node) string {
	var b strings.Builder
	var walk func(*wikitext.Node)
	walk = func(n *wikitext.Node) {
		if n.Text != "" {
			b.WriteString(n.Text)
		}
		for _, c := range n.Children {
			walk(c)
		}
		for _, c := range n.Content {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func (p *pass) renderHeading(n *wikitext.Node) string {
	children := trimHeadingWhitespace(n.Children)
	text := p.renderInline(children)
	id := p.uniqueHeadingID(flattenFallback(&wikitext.Node{Children: children}))
	level := n.Level
	if level < 1 {
		level = 1
	}
	if level > 6 {
		level = 6
	}
	return fmt.Sprintf("<h%d id=%q>%s</h%d>\n", level, id, text, level)
}

// trimHeadingWhitespace strips the leading/trailing whitespace that "==
// Heading ==" always leaves inside the inner text node, the way MediaWiki's
// own heading pass does, without disturbing any inline markup in between.
func trimHeadingWhitespace(children []*wikitext.Node) []*wikitext.Node {
	if len(children) == 0 {
		return children
	}
	out := make([]*wikitext.Node, len(children))
	copy(out, children)
	if out[0].Kind == wikitext.KindText {
		first := *out[0]
		first.Text = strings.TrimLeft(first.Text, " \t")
		out[0] = &first
	}
	last := len(out) - 1
	if out[last].Kind == wikitext.KindText {
		l := *out[last]
		l.Text = strings.TrimRight(l.Text, " \t")
		out[last] = &l
	}
	return out
}

func (p *pass) uniqueHeadingID(text string) string {
	id := anchorID(text)
	if id == "" {
		id = "section"
	}
	n := p.headingIDs[id]
	p.headingIDs[id] = n + 1
	if n == 0 {
		return id
	}
	return fmt.Sprintf("%s_%d", id, n+1)
}

// anchorID mirrors MediaWiki's coarse anchor-encoding rule closely enough
// for internal use: spaces become underscores, everything else passes
// through as-is (real MediaWiki percent-encodes a much larger character
// set; this is the documented simplification).
func anchorID(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), " ", "_")
}

func (p *pass) renderInternalLink(n *wikitext.Node) string {
	title := wiki.Normalize(n.Target, p.r.nsmap)
	href := "/wiki/" + url.PathEscape(strings.ReplaceAll(title.StringIn(p.r.nsmap), " ", "_"))
	class := ""
	if !p.r.exists(title) {
		class = ` class="new"`
	}
	label := n.Target
	if len(n.Label) > 0 {
		label = p.renderInline(n.Label)
	} else {
		label = html.EscapeString(label)
	}
	return fmt.Sprintf(`<a href="%s"%s>%s</a>`, href, class, label)
}

func (p *pass) renderExternalLink(n *wikitext.Node) string {
	href := html.EscapeString(n.Target)
	var label string
	if len(n.Label) > 0 {
		label = p.renderInline(n.Label)
	} else {
		p.extLinkNum++
		label = fmt.Sprintf("[%d]", p.extLinkNum)
	}
	return fmt.Sprintf(`<a href="%s" class="external" rel="nofollow">%s</a>`, href, label)
}

func (p *pass) renderTable(n *wikitext.Node) string {
	var b strings.Builder
	b.WriteString("<table")
	writeAttrs(&b, n.Attrs)
	b.WriteString(">\n")
	for _, row := range n.Children {
		if row.Kind != wikitext.KindTableRow {
			continue
		}
		b.WriteString("<tr>")
		for _, cell := range row.Children {
			if cell.Kind != wikitext.KindTableCell {
				continue
			}
			tag := "td"
			if cell.Text == "header" {
				tag = "th"
			}
			b.WriteString("<" + tag)
			writeAttrs(&b, cell.Attrs)
			b.WriteString(">")
			b.WriteString(strings.TrimSpace(p.renderInline(cell.Children)))
			b.WriteString("</" + tag + ">")
		}
		b.WriteString("</tr>\n")
	}
	b.WriteString("</table>\n")
	return b.String()
}

func writeAttrs(b *strings.Builder, attrs map[string]string) {
	for k, v := range attrs {
		fmt.Fprintf(b, ` %s=%q`, k, html.EscapeString(v))
	}
}

// renderListGroup turns a run of consecutive KindListItem siblings (each
// carrying its own flat prefix like "*", "**", ";", ":") into properly
// nested <ul>/<ol>/<dl> markup, opening and closing levels as the prefix
// changes between items — the same job MediaWiki's block-level list pass
// does, simplified to not special-case every dt/dd transition (a run of
// ";"/" :" pairs at the same depth closes and reopens its <dl> once per
// transition rather than being merged into one list).
func (p *pass) renderListGroup(items []*wikitext.Node) string {
	var b strings.Builder
	var stack []byte

	closeFrom := func(n int) {
		for len(stack) > n {
			b.WriteString(closeListTag(stack[len(stack)-1]))
			stack = stack[:len(stack)-1]
		}
	}

	for _, item := range items {
		prefix := item.Prefix
		common := 0
		for common < len(stack) && common < len(prefix) && stack[common] == prefix[common] {
			common++
		}
		closeFrom(common)
		for i := common; i < len(prefix); i++ {
			b.WriteString(openListTag(prefix[i]))
			stack = append(stack, prefix[i])
		}
		leaf := "li"
		if len(prefix) > 0 {
			switch prefix[len(prefix)-1] {
			case ';':
				leaf = "dt"
			case ':':
				leaf = "dd"
			}
		}
		b.WriteString("<" + leaf + ">")
		b.WriteString(p.renderInline(item.Children))
		b.WriteString("</" + leaf + ">\n")
	}
	closeFrom(0)
	return b.String()
}

func openListTag(c byte) string {
	switch c {
	case '*':
		return "<ul>\n"
	case '#':
		return "<ol>\n"
	default:
		return "<dl>\n"
	}
}

func closeListTag(c byte) string {
	switch c {
	case '*':
		return "</ul>\n"
	case '#':
		return "</ol>\n"
	default:
		return "</dl>\n"
	}
}
