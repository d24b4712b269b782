package luabridge

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/dsnet/compress/bzip2"

	"github.com/wikireader/wikireader/internal/expand"
	"github.com/wikireader/wikireader/internal/index"
	"github.com/wikireader/wikireader/internal/wiki"
)

// buildFixture writes a minimal index.txt + database.xml.bz2 pair with the
// given page titles/bodies packed into a single bz2 stream at offset 0, and
// opens it as an index.Store. Module pages carry raw Lua source as their
// <text> body, same as any other page.
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

func TestInvokeReturnsFunctionResult(t *testing.T) {
	nsmap := wiki.DefaultNamespaceMap()
	store := buildFixture(t, map[string]string{
		"Module:Hello": `
local p = {}
function p.greet(frame)
	return "Hello, " .. frame.args[1] .. "!"
end
return p
`,
	})
	e := expand.New(expand.Options{Index: store, NamespaceMap: nsmap})
	b := New(Options{Index: store, NamespaceMap: nsmap, Expander: e})

	frame := &expand.Frame{Title: wiki.Normalize("Main Page", nsmap), Args: map[string]string{"1": "World"}}
	out, err := b.Invoke(context.Background(), wiki.Normalize("Module:Hello", nsmap), "greet", frame)
	if err != nil {
		t.Fatal(err)
	}
	if out != "Hello, World!" {
		t.Errorf("got %q", out)
	}
}

func TestInvokeUsesMWText(t *testing.T) {
	nsmap := wiki.DefaultNamespaceMap()
	store := buildFixture(t, map[string]string{
		"Module:Trim": `
local p = {}
function p.run(frame)
	return mw.text.trim("  padded  ")
end
return p
`,
	})
	e := expand.New(expand.Options{Index: store, NamespaceMap: nsmap})
	b := New(Options{Index: store, NamespaceMap: nsmap, Expander: e})

	out, err := b.Invoke(context.Background(), wiki.Normalize("Module:Trim", nsmap), "run", &expand.Frame{})
	if err != nil {
		t.Fatal(err)
	}
	if out != "padded" {
		t.Errorf("got %q", out)
	}
}

func TestInvokeGetParentArgument(t *testing.T) {
	nsmap := wiki.DefaultNamespaceMap()
	store := buildFixture(t, map[string]string{
		"Module:Parent": `
local p = {}
function p.run(frame)
	local parent = frame:getParent()
	return parent:getArgument("x")
end
return p
`,
	})
	e := expand.New(expand.Options{Index: store, NamespaceMap: nsmap})
	b := New(Options{Index: store, NamespaceMap: nsmap, Expander: e})

	parent := &expand.Frame{Title: wiki.Normalize("Main Page", nsmap), Args: map[string]string{"x": "parent-value"}}
	child := &expand.Frame{Parent: parent, Title: wiki.Normalize("Module:Parent", nsmap)}
	out, err := b.Invoke(context.Background(), wiki.Normalize("Module:Parent", nsmap), "run", child)
	if err != nil {
		t.Fatal(err)
	}
	if out != "parent-value" {
		t.Errorf("got %q", out)
	}
}

func TestInvokeSandboxHasNoIO(t *testing.T) {
	nsmap := wiki.DefaultNamespaceMap()
	store := buildFixture(t, map[string]string{
		"Module:Unsafe": `
local p = {}
function p.run(frame)
	if io ~= nil then
		return "io leaked"
	end
	if os.execute ~= nil then
		return "os.execute leaked"
	end
	return "safe"
end
return p
`,
	})
	e := expand.New(expand.Options{Index: store, NamespaceMap: nsmap})
	b := New(Options{Index: store, NamespaceMap: nsmap, Expander: e})

	out, err := b.Invoke(context.Background(), wiki.Normalize("Module:Unsafe", nsmap), "run", &expand.Frame{})
	if err != nil {
		t.Fatal(err)
	}
	if out != "safe" {
		t.Errorf("got %q", out)
	}
}

func TestInvokeMissingFunctionErrors(t *testing.T) {
	nsmap := wiki.DefaultNamespaceMap()
	store := buildFixture(t, map[string]string{
		"Module:Empty": "local p = {}\nreturn p\n",
	})
	e := expand.New(expand.Options{Index: store, NamespaceMap: nsmap})
	b := New(Options{Index: store, NamespaceMap: nsmap, Expander: e})

	_, err := b.Invoke(context.Background(), wiki.Normalize("Module:Empty", nsmap), "missing", &expand.Frame{})
	if err == nil {
		t.Fatal("expected an error for a missing module function")
	}
}
