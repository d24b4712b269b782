package render

import (
	"fmt"
	"html"
	"strings"

	"github.com/wikireader/wikireader/internal/wikitext"
)

// renderExtensionTag covers the extension tag set named in §6. math and
// timeline show their raw source in a labeled element instead of a real
// rendering; templatedata and indicator render nothing.
func (p *pass) renderExtensionTag(n *wikitext.Node) string {
	switch strings.ToLower(n.TagName) {
	case "nowiki":
		return html.EscapeString(n.Raw)
	case "pre":
		return "<pre>" + html.EscapeString(n.Raw) + "</pre>\n"
	case "syntaxhighlight":
		lang := n.Attrs["lang"]
		return fmt.Sprintf("<pre class=\"mw-highlight\" data-mw-highlight-lang=%q>%s</pre>\n", lang, html.EscapeString(n.Raw))
	case "math":
		// Partial support per §6: the raw TeX source is shown, not
		// rendered to MathML/an image.
		return `<code class="mwe-math-fallback-source-inline">` + html.EscapeString(n.Raw) + "</code>"
	case "timeline":
		return `<pre class="mw-timeline-source">` + html.EscapeString(n.Raw) + "</pre>\n"
	case "templatedata":
		// JSON metadata describing a template's parameters; nothing to
		// display inline.
		return ""
	case "indicator":
		// Floating page indicators sit outside the normal content flow;
		// this reader has no overlay surface to place them in.
		return ""
	case "section":
		// A structural marker used for template-inclusion slicing; its
		// content still renders, the tag itself is invisible.
		return p.renderInline(n.Content)
	case "poem":
		inner := p.renderInline(n.Content)
		inner = strings.ReplaceAll(inner, "\n", "<br/>\n")
		return `<div class="poem">` + inner + "</div>\n"
	case "ref":
		text := p.renderInline(n.Content)
		p.refs = append(p.refs, text)
		return fmt.Sprintf(`<sup class="reference"><a href="#cite_note-%d">[%d]</a></sup>`, len(p.refs), len(p.refs))
	case "references":
		return p.renderReferences()
	case "templatestyles":
		return p.renderTemplateStyles(n)
	default:
		// Unsupported tag: round-trip the original source faithfully
		// inside a visible block rather than dropping it.
		return `<pre class="mw-unsupported-tag">` + html.EscapeString(n.Raw) + "</pre>\n"
	}
}

func (p *pass) renderReferences() string {
	if len(p.refs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(`<ol class="references">` + "\n")
	for i, ref := range p.refs {
		fmt.Fprintf(&b, `<li id="cite_note-%d">%s</li>`+"\n", i+1, ref)
	}
	b.WriteString("</ol>\n")
	p.refs = nil
	return b.String()
}

func (p *pass) renderTemplateStyles(n *wikitext.Node) string {
	src := n.Attrs["src"]
	if src == "" || p.r.fetchStyle == nil {
		return fmt.Sprintf("<!-- templatestyles src=%q skipped -->\n", src)
	}
	css, ok := p.r.fetchStyle(src)
	if !ok {
		return fmt.Sprintf("<!-- templatestyles src=%q not found -->\n", src)
	}
	return "<style scoped>\n" + css + "\n</style>\n"
}

// renderHTMLPassthrough covers the safe-listed plain HTML tags
// (htmlPassthrough in internal/wikitext) plus the zero-width include-control
// splice wrapper (empty TagName), which just renders its children with no
// surrounding element.
func (p *pass) renderHTMLPassthrough(n *wikitext.Node) string {
	if n.TagName == "" {
		return p.renderInline(n.Children)
	}
	if n.SelfClosed {
		return fmt.Sprintf("<%s%s/>", n.TagName, attrsString(n.Attrs))
	}
	return fmt.Sprintf("<%s%s>%s</%s>", n.TagName, attrsString(n.Attrs), p.renderInline(n.Children), n.TagName)
}

func attrsString(attrs map[string]string) string {
	var b strings.Builder
	writeAttrs(&b, attrs)
	return b.String()
}
