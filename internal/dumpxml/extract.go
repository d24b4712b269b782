// Package dumpxml extracts a single <page> record from a decompressed
// multistream block (C2), without parsing the block as a whole XML
// document.
package dumpxml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/wikireader/wikireader/internal/wiki"
)

var (
	ErrPageNotInBlock = errors.New("dumpxml: page not in block")
	ErrMalformedXML   = errors.New("dumpxml: malformed xml")
)

// PageRecord is one extracted page, per the data model. A redirect record
// carries only RedirectTarget; WikitextBody is empty in that case.
type PageRecord struct {
	Title           wiki.Title
	RedirectTarget  string
	WikitextBody    string
}

// IsRedirect reports whether this record is a redirect stub.
func (p PageRecord) IsRedirect() bool { return p.RedirectTarget != "" }

// xmlRedirect and xmlPage mirror the dump's page element shape. The tag
// names and nesting follow the same <page><title>/<redirect>/<revision><text>
// schema miku-wikikit's Page/Redirect structs describe for a regular
// Wikipedia XML dump; decoding with encoding/xml keeps entity references
// (numeric and named) and CDATA handling correct for free, which a
// byte-oriented scan would otherwise have to special-case.
type xmlRedirect struct {
	Title string `xml:"title,attr"`
}

type xmlPage struct {
	Title    string      `xml:"title"`
	Redirect xmlRedirect `xml:"redirect"`
	Text     string      `xml:"revision>text"`
}

// Extract scans block for the <page> whose title equals want after
// normalization, and returns its PageRecord. It decodes each <page>
// element in turn with encoding/xml.Decoder (title, redirect and text
// alike) and stops at the first whose normalized title matches, so pages
// after the wanted one in the block's ~100 articles are never decoded.
func Extract(block []byte, want wiki.Title, nsmap *wiki.NamespaceMap) (PageRecord, error) {
	dec := xml.NewDecoder(bytes.NewReader(wrapContainer(block)))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return PageRecord{}, fmt.Errorf("%w: %v", ErrMalformedXML, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "page" {
			continue
		}

		var page xmlPage
		if err := dec.DecodeElement(&page, &start); err != nil {
			return PageRecord{}, fmt.Errorf("%w: %v", ErrMalformedXML, err)
		}

		gotTitle := wiki.Normalize(page.Title, nsmap)
		if gotTitle != want {
			continue
		}

		if page.Redirect.Title != "" {
			return PageRecord{Title: gotTitle, RedirectTarget: strings.TrimSpace(page.Redirect.Title)}, nil
		}
		return PageRecord{Title: gotTitle, WikitextBody: page.Text}, nil
	}
	return PageRecord{}, fmt.Errorf("%w: %s", ErrPageNotInBlock, want.StringIn(nsmap))
}

// wrapContainer wraps a block's concatenated <page>...</page> elements in a
// synthetic root so encoding/xml (which requires exactly one top-level
// element) can stream them. Real dumps nest pages under <mediawiki>; a
// multistream block is just the pages themselves, by design, so the
// container is implicit and supplied here instead.
func wrapContainer(block []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(block) + 32)
	buf.WriteString("<root>")
	buf.Write(block)
	buf.WriteString("</root>")
	return buf.Bytes()
}
