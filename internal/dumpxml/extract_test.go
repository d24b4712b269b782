package dumpxml

import (
	"strings"
	"testing"

	"github.com/wikireader/wikireader/internal/wiki"
)

func TestExtractFindsMatchingPage(t *testing.T) {
	nsmap := wiki.DefaultNamespaceMap()
	block := []byte(`<page><title>Bar</title><revision><text>Bar body</text></revision></page>` +
		`<page><title>Foo</title><revision><text>Hello</text></revision></page>`)

	rec, err := Extract(block, wiki.Normalize("Foo", nsmap), nsmap)
	if err != nil {
		t.Fatal(err)
	}
	if rec.WikitextBody != "Hello" {
		t.Errorf("expected 'Hello', got %q", rec.WikitextBody)
	}
	if rec.IsRedirect() {
		t.Error("expected non-redirect record")
	}
}

func TestExtractRedirect(t *testing.T) {
	nsmap := wiki.DefaultNamespaceMap()
	block := []byte(`<page><title>Source</title><redirect title="Target" /><revision><text></text></revision></page>`)

	rec, err := Extract(block, wiki.Normalize("Source", nsmap), nsmap)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.IsRedirect() || rec.RedirectTarget != "Target" {
		t.Errorf("expected redirect to Target, got %+v", rec)
	}
}

func TestExtractPageNotInBlock(t *testing.T) {
	nsmap := wiki.DefaultNamespaceMap()
	block := []byte(`<page><title>Bar</title><revision><text>x</text></revision></page>`)

	_, err := Extract(block, wiki.Normalize("Missing", nsmap), nsmap)
	if err == nil || !strings.Contains(err.Error(), "not in block") {
		t.Errorf("expected PageNotInBlock error, got %v", err)
	}
}

func TestExtractEntitiesAndCDATA(t *testing.T) {
	nsmap := wiki.DefaultNamespaceMap()
	block := []byte(`<page><title>Caf&#233;</title><revision><text><![CDATA[A & B]]></text></revision></page>`)

	rec, err := Extract(block, wiki.Normalize("Café", nsmap), nsmap)
	if err != nil {
		t.Fatal(err)
	}
	if rec.WikitextBody != "A & B" {
		t.Errorf("expected decoded CDATA text, got %q", rec.WikitextBody)
	}
}
