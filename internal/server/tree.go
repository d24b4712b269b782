package server

import (
	"fmt"
	"strings"

	"github.com/wikireader/wikireader/internal/wikitext"
)

// formatTree pretty-prints a TokenTree for GET /source?mode=tree: one line
// per node, indented by nesting depth, naming the node's Kind and the
// handful of fields relevant to that kind.
func formatTree(tree *wikitext.TokenTree) string {
	var b strings.Builder
	for _, n := range tree.Nodes {
		writeNode(&b, n, 0)
	}
	return b.String()
}

func writeNode(b *strings.Builder, n *wikitext.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(b, "%s%s%s\n", indent, kindName(n.Kind), nodeDetail(n))

	for _, c := range n.Children {
		writeNode(b, c, depth+1)
	}
	for _, c := range n.Content {
		writeNode(b, c, depth+1)
	}
	for _, c := range n.Name {
		writeNode(b, c, depth+1)
	}
	for _, a := range n.Args {
		fmt.Fprintf(b, "%s  Arg[%s]:\n", indent, a.Name)
		for _, c := range a.Value {
			writeNode(b, c, depth+2)
		}
	}
	for _, c := range n.Label {
		writeNode(b, c, depth+1)
	}
	for _, c := range n.ParamDefault {
		writeNode(b, c, depth+1)
	}
}

func kindName(k wikitext.Kind) string {
	switch k {
	case wikitext.KindText:
		return "Text"
	case wikitext.KindBold:
		return "Bold"
	case wikitext.KindItalic:
		return "Italic"
	case wikitext.KindBoldItalic:
		return "BoldItalic"
	case wikitext.KindHeading:
		return "Heading"
	case wikitext.KindListItem:
		return "ListItem"
	case wikitext.KindTable:
		return "Table"
	case wikitext.KindTableRow:
		return "TableRow"
	case wikitext.KindTableCell:
		return "TableCell"
	case wikitext.KindInternalLink:
		return "InternalLink"
	case wikitext.KindExternalLink:
		return "ExternalLink"
	case wikitext.KindTemplate:
		return "Template"
	case wikitext.KindParserFunction:
		return "ParserFunction"
	case wikitext.KindParamRef:
		return "ParamRef"
	case wikitext.KindMagicWord:
		return "MagicWord"
	case wikitext.KindExtensionTag:
		return "ExtensionTag"
	case wikitext.KindHTML:
		return "HTML"
	case wikitext.KindComment:
		return "Comment"
	case wikitext.KindHorizontalRule:
		return "HorizontalRule"
	case wikitext.KindBreak:
		return "Break"
	default:
		return "Unknown"
	}
}

// nodeDetail renders the handful of scalar fields worth showing inline,
// varying by kind so the dump stays readable rather than printing every
// zero-valued field on every node.
func nodeDetail(n *wikitext.Node) string {
	switch n.Kind {
	case wikitext.KindText, wikitext.KindComment:
		return fmt.Sprintf(" %q", n.Text)
	case wikitext.KindHeading:
		return fmt.Sprintf(" level=%d", n.Level)
	case wikitext.KindListItem:
		return fmt.Sprintf(" prefix=%q", n.Prefix)
	case wikitext.KindInternalLink, wikitext.KindExternalLink:
		return fmt.Sprintf(" target=%q", n.Target)
	case wikitext.KindTemplate:
		return ""
	case wikitext.KindParserFunction:
		return fmt.Sprintf(" func=%q", n.FuncName)
	case wikitext.KindParamRef:
		return fmt.Sprintf(" param=%q hasDefault=%v", n.ParamName, n.HasDefault)
	case wikitext.KindMagicWord:
		return fmt.Sprintf(" %q", n.Text)
	case wikitext.KindExtensionTag, wikitext.KindHTML:
		return fmt.Sprintf(" tag=%q selfClosed=%v", n.TagName, n.SelfClosed)
	default:
		return ""
	}
}
