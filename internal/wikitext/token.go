// Package wikitext implements the wikitext grammar (C4): a total,
// backing-off parser that turns page source into a TokenTree, in either
// include or noinclude mode.
package wikitext

// Kind enumerates the TokenTree's fixed, exhaustive set of node kinds. The
// design notes call for a tagged-variant tree rather than open-class
// polymorphism specifically so the expander and renderer can exhaustively
// switch over Kind without a default case swallowing a forgotten node type.
type Kind int

const (
	KindText Kind = iota
	KindBold
	KindItalic
	KindBoldItalic
	KindHeading
	KindListItem
	KindTable
	KindTableRow
	KindTableCell
	KindInternalLink
	KindExternalLink
	KindTemplate
	KindParserFunction
	KindParamRef
	KindMagicWord
	KindExtensionTag
	KindHTML
	KindComment
	KindHorizontalRule
	KindBreak
)

// Arg is one template/parser-function argument. Name is empty for
// positional arguments.
type Arg struct {
	Name  string
	Value []*Node
}

// Node is one TokenTree element. Only the fields relevant to Kind are
// populated; callers switch on Kind before reading the rest.
type Node struct {
	Kind Kind

	// Position: every node records its source byte range, per the data
	// model invariant, so diagnostics and the /source?mode=tree inspector
	// can always point back at the original bytes. Text/Raw/Target are
	// substrings of the source string and share its memory; they are not
	// copied.
	ByteStart, ByteEnd int
	Line               int

	Text     string  // KindText, KindComment (comment body), KindMagicWord (word name)
	Children []*Node // KindBold/Italic/BoldItalic/ListItem/TableCell/HTML content

	// Headings
	Level int // KindHeading

	// Lists
	Prefix string // KindListItem: the raw bullet prefix, e.g. "**", "#:"

	// Tables
	Attrs map[string]string // KindTable/TableRow/TableCell/HTML/ExtensionTag

	// Links
	Target string  // KindInternalLink/ExternalLink: the raw target/URL
	Label  []*Node // KindInternalLink/ExternalLink: the display text, if any

	// Templates / parser functions / magic words / invoke
	Name      []*Node // KindTemplate: the (possibly itself templated) name; unset for KindParserFunction, which uses FuncName
	Args      []Arg
	FuncName  string // KindParserFunction: "if", "switch", etc. (the leading # is removed)

	// Parameter references {{{n|default}}}
	ParamName    string // numeric or named
	ParamDefault []*Node
	HasDefault   bool

	// Extension tags
	TagName string // KindExtensionTag/HTML
	Raw     string // KindExtensionTag: raw inner text for tags whose content is not re-parsed
	Content []*Node // KindExtensionTag: parsed inner nodes for tags whose content is wikitext
	RawMode bool    // true if Raw is authoritative (Content is empty/unused)
	SelfClosed bool
}

// TokenTree is a parsed page (or template body) in one mode.
type TokenTree struct {
	Nodes []*Node
	Mode  Mode
}

// Mode selects which of the three include-control tags are honored.
type Mode int

const (
	// NoInclude is used when a page is viewed directly: <noinclude> content
	// is kept, <includeonly> content is dropped.
	NoInclude Mode = iota
	// Include is used when a page is being transcluded: <includeonly>
	// content is kept, <noinclude> content is dropped. If any
	// <onlyinclude> exists anywhere on the page, include-mode output is
	// exactly the concatenation of its contents and nothing else.
	Include
)
