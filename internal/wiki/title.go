// Package wiki implements title and namespace normalization shared by every
// other component that resolves a page name to dump content.
package wiki

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Namespace is a MediaWiki namespace id. 0 is the main (article) namespace.
type Namespace int

const (
	NSMain     Namespace = 0
	NSTalk     Namespace = 1
	NSUser     Namespace = 2
	NSTemplate Namespace = 10
	NSModule   Namespace = 828
	NSCategory Namespace = 14
)

// NamespaceMap resolves a namespace alias (as it appears before the first
// colon in a raw title) to its namespace id. Lookups are case-insensitive.
type NamespaceMap struct {
	byAlias map[string]Namespace
	byID    map[Namespace]string
}

// DefaultNamespaceMap returns the namespace set used by the English
// Wikipedia dumps; callers building a reader for another project can supply
// their own via NewNamespaceMap.
func DefaultNamespaceMap() *NamespaceMap {
	return NewNamespaceMap(map[Namespace][]string{
		NSMain:     {""},
		NSTalk:     {"Talk"},
		NSUser:     {"User"},
		NSTemplate: {"Template"},
		NSModule:   {"Module"},
		NSCategory: {"Category"},
	})
}

// NewNamespaceMap builds a NamespaceMap from a set of namespace ids to their
// canonical name plus any aliases. The first name in each slice is the
// canonical name returned by Name.
func NewNamespaceMap(names map[Namespace][]string) *NamespaceMap {
	nm := &NamespaceMap{
		byAlias: make(map[string]Namespace),
		byID:    make(map[Namespace]string),
	}
	for id, aliases := range names {
		if len(aliases) > 0 {
			nm.byID[id] = aliases[0]
		}
		for _, alias := range aliases {
			nm.byAlias[foldKey(alias)] = id
		}
	}
	return nm
}

func foldKey(s string) string {
	return cases.Fold().String(s)
}

// Resolve looks up a namespace alias (without a trailing colon). ok is false
// if the alias isn't known, in which case the text should be treated as part
// of the title rather than a namespace prefix.
func (nm *NamespaceMap) Resolve(alias string) (Namespace, bool) {
	id, ok := nm.byAlias[foldKey(alias)]
	return id, ok
}

// Name returns the canonical name for a namespace id, or "" for the main
// namespace or an unknown id.
func (nm *NamespaceMap) Name(id Namespace) string {
	return nm.byID[id]
}

// Title is a normalized (namespace, canonical text) pair. Two Titles compare
// equal with == once both have passed through Normalize.
type Title struct {
	Namespace Namespace
	Text      string
}

// StringIn renders the title the way it would appear in wikitext under the
// given namespace map, e.g. "Template:Foo bar".
func (t Title) StringIn(nsmap *NamespaceMap) string {
	if t.Namespace == NSMain {
		return t.Text
	}
	name := nsmap.Name(t.Namespace)
	if name == "" {
		return t.Text
	}
	return name + ":" + t.Text
}

// Key returns the case/whitespace-normalized, namespace-qualified form of a
// title, for use as a map key. It assumes the text has already been passed
// through Normalize.
func (t Title) Key() string {
	return strconv.Itoa(int(t.Namespace)) + "\x00" + strings.ToLower(t.Text)
}

var wsCollapser = strings.NewReplacer("_", " ")

// Normalize implements MediaWiki's title canonicalization rules:
// trim outer whitespace, collapse internal whitespace, convert underscores to
// spaces, strip a leading colon, split on the first colon to detect a
// namespace alias, and uppercase the first code point of the remainder.
// Magic suffixes like "/doc" are left untouched since they are just more
// title text. Normalize is idempotent and order-independent with namespace
// resolution per the data-model invariant.
func Normalize(raw string, nsmap *NamespaceMap) Title {
	s := strings.TrimSpace(raw)
	s = wsCollapser.Replace(s)
	s = collapseSpaces(s)

	// A leading colon is stripped before namespace detection, so
	// ":Category:Foo" refers to the category page itself.
	if strings.HasPrefix(s, ":") {
		s = strings.TrimPrefix(s, ":")
		s = strings.TrimSpace(s)
	}

	ns := NSMain
	if idx := strings.IndexByte(s, ':'); idx > 0 {
		alias := s[:idx]
		if id, ok := nsmap.Resolve(alias); ok {
			ns = id
			s = strings.TrimSpace(s[idx+1:])
		}
	}

	s = upperFirstRune(s)

	return Title{Namespace: ns, Text: s}
}

func collapseSpaces(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if prevSpace {
				continue
			}
			prevSpace = true
			r = ' '
		} else {
			prevSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// upperFirstRune uppercases the title's first code point using full Unicode
// case-folding rules (not an ASCII-only 'A'-'Z' check), so titles beginning
// with e.g. an Turkish dotless/dotted i or a German eszett fold the same way
// MediaWiki's own Unicode-aware uppercasing does.
func upperFirstRune(s string) string {
	if s == "" {
		return s
	}
	s = norm.NFC.String(s)
	r, size := utf8.DecodeRuneInString(s)
	upper := cases.Upper(language.Und).String(string(r))
	return upper + s[size:]
}
