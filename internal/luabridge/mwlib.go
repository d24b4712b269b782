package luabridge

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"
	"unicode/utf8"

	lua "github.com/yuin/gopher-lua"

	"github.com/wikireader/wikireader/internal/wiki"
)

// installMW sets the mw global table, the one entry point every Scribunto
// module reaches the host environment through. It covers the representative
// subset of the mw.* API modules actually exercise: mw.text, mw.title,
// mw.ustring, mw.html, mw.uri, mw.language and mw.message, each a narrow
// slice of upstream's (mw.site, mw.smw and friends are out of scope — there
// is no corresponding dump data to back them with).
func installMW(L *lua.LState, b *Bridge, ctx context.Context, frameTable *lua.LTable, budget *stepBudget) {
	mw := L.NewTable()
	mw.RawSetString("getCurrentFrame", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		L.Push(frameTable)
		return 1
	}))
	mw.RawSetString("text", buildMWText(L, budget))
	mw.RawSetString("title", buildMWTitle(L, b, budget))
	mw.RawSetString("ustring", buildMWUstring(L, budget))
	mw.RawSetString("html", buildMWHTML(L, budget))
	mw.RawSetString("uri", buildMWURI(L, budget))
	mw.RawSetString("language", buildMWLanguage(L, budget))
	mw.RawSetString("message", buildMWMessage(L, budget))
	L.SetGlobal("mw", mw)
}

func buildMWText(L *lua.LState, budget *stepBudget) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("trim", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		L.Push(lua.LString(strings.TrimSpace(L.CheckString(1))))
		return 1
	}))
	// nowiki is a no-op here: C7's renderer is what decides how literal
	// text is HTML-escaped, so the bridge just passes the string through.
	t.RawSetString("nowiki", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		L.Push(lua.LString(L.CheckString(1)))
		return 1
	}))
	t.RawSetString("split", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		s := L.CheckString(1)
		sep := L.CheckString(2)
		out := L.NewTable()
		for i, part := range strings.Split(s, sep) {
			out.RawSetInt(i+1, lua.LString(part))
		}
		L.Push(out)
		return 1
	}))
	t.RawSetString("truncate", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		s := L.CheckString(1)
		n := int(L.CheckNumber(2))
		ellipsis := L.OptString(3, "...")
		r := []rune(s)
		if n < 0 || len(r) <= n {
			L.Push(lua.LString(s))
			return 1
		}
		L.Push(lua.LString(string(r[:n]) + ellipsis))
		return 1
	}))
	t.RawSetString("listToText", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		list := L.CheckTable(1)
		sep := L.OptString(2, ", ")
		conjunction := L.OptString(3, sep)
		n := list.Len()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, list.RawGetInt(i).String())
		}
		switch len(parts) {
		case 0:
			L.Push(lua.LString(""))
		case 1:
			L.Push(lua.LString(parts[0]))
		default:
			L.Push(lua.LString(strings.Join(parts[:len(parts)-1], sep) + conjunction + parts[len(parts)-1]))
		}
		return 1
	}))
	return t
}

func buildMWTitle(L *lua.LState, b *Bridge, budget *stepBudget) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("new", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		name := L.CheckString(1)
		title := wiki.Normalize(name, b.nsmap)
		L.Push(titleObject(L, b, title))
		return 1
	}))
	t.RawSetString("getCurrentTitle", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		L.Push(titleObject(L, b, wiki.Title{}))
		return 1
	}))
	return t
}

func titleObject(L *lua.LState, b *Bridge, title wiki.Title) *lua.LTable {
	obj := L.NewTable()
	obj.RawSetString("text", lua.LString(title.Text))
	obj.RawSetString("namespace", lua.LNumber(title.Namespace))
	obj.RawSetString("fullText", lua.LString(title.StringIn(b.nsmap)))
	obj.RawSetString("exists", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(b.idx.Exists(title)))
		return 1
	}))
	return obj
}

// buildMWUstring covers the Unicode-aware subset of the string library
// Scribunto modules lean on most: rune-accurate len/sub plus plain (not
// Lua-pattern) find/gsub. Full Lua pattern matching over arbitrary unicode
// text is a large undertaking on its own and no corpus example implements
// one; literal substring semantics is the documented simplification here.
func buildMWUstring(L *lua.LState, budget *stepBudget) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("len", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		L.Push(lua.LNumber(utf8.RuneCountInString(L.CheckString(1))))
		return 1
	}))
	t.RawSetString("sub", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		r := []rune(L.CheckString(1))
		i := luaStringIndex(int(L.CheckNumber(2)), len(r))
		j := len(r)
		if L.GetTop() >= 3 {
			j = luaStringIndex(int(L.CheckNumber(3)), len(r))
		}
		if i < 0 {
			i = 0
		}
		if j > len(r) {
			j = len(r)
		}
		if i >= j {
			L.Push(lua.LString(""))
			return 1
		}
		L.Push(lua.LString(string(r[i:j])))
		return 1
	}))
	t.RawSetString("upper", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		L.Push(lua.LString(strings.ToUpper(L.CheckString(1))))
		return 1
	}))
	t.RawSetString("lower", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		L.Push(lua.LString(strings.ToLower(L.CheckString(1))))
		return 1
	}))
	t.RawSetString("find", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		haystack := L.CheckString(1)
		needle := L.CheckString(2)
		idx := strings.Index(haystack, needle)
		if idx < 0 {
			L.Push(lua.LNil)
			return 1
		}
		start := utf8.RuneCountInString(haystack[:idx]) + 1
		end := start + utf8.RuneCountInString(needle) - 1
		L.Push(lua.LNumber(start))
		L.Push(lua.LNumber(end))
		return 2
	}))
	t.RawSetString("gsub", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		s := L.CheckString(1)
		pattern := L.CheckString(2)
		repl := L.CheckString(3)
		out := strings.ReplaceAll(s, pattern, repl)
		L.Push(lua.LString(out))
		L.Push(lua.LNumber(strings.Count(s, pattern)))
		return 2
	}))
	return t
}

// luaStringIndex converts a 1-based (possibly negative, counting from the
// end) Lua string index to a 0-based Go slice index.
func luaStringIndex(i, length int) int {
	if i > 0 {
		return i - 1
	}
	if i == 0 {
		return 0
	}
	return length + i
}

// htmlNode is the Go-side accumulator behind mw.html's builder object. Only
// :tag/:attr/:wikitext/:newline/:done are wired; the rest of upstream's
// fluent surface (addClass, css, cssText, …) is absent.
type htmlNode struct {
	tag      string
	attrs    map[string]string
	text     strings.Builder
	children []*htmlNode
	parent   *htmlNode
}

func buildMWHTML(L *lua.LState, budget *stepBudget) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("create", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		tag := L.OptString(1, "div")
		node := &htmlNode{tag: tag, attrs: map[string]string{}}
		L.Push(htmlNodeTable(L, budget, node))
		return 1
	}))
	return t
}

func htmlNodeTable(L *lua.LState, budget *stepBudget, node *htmlNode) *lua.LTable {
	obj := L.NewTable()
	obj.RawSetString("tag", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		child := &htmlNode{tag: L.CheckString(2), attrs: map[string]string{}, parent: node}
		node.children = append(node.children, child)
		L.Push(htmlNodeTable(L, budget, child))
		return 1
	}))
	obj.RawSetString("attr", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		node.attrs[L.CheckString(2)] = L.CheckString(3)
		L.Push(obj)
		return 1
	}))
	obj.RawSetString("wikitext", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		node.text.WriteString(L.CheckString(2))
		L.Push(obj)
		return 1
	}))
	obj.RawSetString("newline", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		node.text.WriteByte('\n')
		L.Push(obj)
		return 1
	}))
	obj.RawSetString("done", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		root := node
		for root.parent != nil {
			root = root.parent
		}
		L.Push(lua.LString(renderHTMLNode(root)))
		return 1
	}))
	return obj
}

func renderHTMLNode(n *htmlNode) string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(n.tag)
	for k, v := range n.attrs {
		fmt.Fprintf(&b, " %s=%q", k, html.EscapeString(v))
	}
	b.WriteByte('>')
	b.WriteString(n.text.String())
	for _, c := range n.children {
		b.WriteString(renderHTMLNode(c))
	}
	fmt.Fprintf(&b, "</%s>", n.tag)
	return b.String()
}

func buildMWURI(L *lua.LState, budget *stepBudget) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("encode", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		L.Push(lua.LString(url.QueryEscape(L.CheckString(1))))
		return 1
	}))
	t.RawSetString("decode", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		s, err := url.QueryUnescape(L.CheckString(1))
		if err != nil {
			L.RaiseError("uri.decode: %v", err)
		}
		L.Push(lua.LString(s))
		return 1
	}))
	return t
}

func buildMWLanguage(L *lua.LState, budget *stepBudget) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("getContLang", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		lang := L.NewTable()
		lang.RawSetString("getCode", L.NewFunction(func(L *lua.LState) int {
			L.Push(lua.LString("en"))
			return 1
		}))
		lang.RawSetString("isRTL", L.NewFunction(func(L *lua.LState) int {
			L.Push(lua.LBool(false))
			return 1
		}))
		L.Push(lang)
		return 1
	}))
	return t
}

// buildMWMessage is a stub: there is no message/i18n database in a raw dump,
// so every message resolves to empty/non-existent rather than looking
// anything up.
func buildMWMessage(L *lua.LState, budget *stepBudget) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("new", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		key := L.CheckString(1)
		obj := L.NewTable()
		obj.RawSetString("plain", L.NewFunction(func(L *lua.LState) int {
			L.Push(lua.LString(""))
			return 1
		}))
		obj.RawSetString("exists", L.NewFunction(func(L *lua.LState) int {
			L.Push(lua.LBool(false))
			return 1
		}))
		obj.RawSetString("params", L.NewFunction(func(L *lua.LState) int {
			L.Push(obj)
			return 1
		}))
		_ = key
		L.Push(obj)
		return 1
	}))
	return t
}
