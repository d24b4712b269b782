// Package expand implements the template/parser-function expansion engine
// (C5): it walks a TokenTree produced by internal/wikitext and produces an
// expanded TokenTree with template calls, parser functions, parameter
// references and magic words resolved.
package expand

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wikireader/wikireader/internal/cache"
	"github.com/wikireader/wikireader/internal/dumpxml"
	"github.com/wikireader/wikireader/internal/index"
	"github.com/wikireader/wikireader/internal/wiki"
	"github.com/wikireader/wikireader/internal/wikitext"
)

// ModuleInvoker is the narrow boundary through which #invoke calls reach
// the Lua sandbox (C6). internal/luabridge implements this interface;
// internal/expand never imports internal/luabridge, so the dependency runs
// one way and Lua's "preprocess"/"expandTemplate" callbacks come back in
// through the Expander itself, not the other way around.
type ModuleInvoker interface {
	Invoke(ctx context.Context, module wiki.Title, funcName string, frame *Frame) (string, error)
}

// Frame is a TemplateFrame: one level of the argument-substitution stack.
type Frame struct {
	Parent  *Frame
	Title   wiki.Title
	Args    map[string]string // both positional ("1", "2", …) and named
	CallKey string            // (title, argument fingerprint); empty at the root
}

// Arg looks up a parameter by name, matching frame semantics: named and
// positional arguments share one namespace.
func (f *Frame) Arg(name string) (string, bool) {
	if f == nil {
		return "", false
	}
	v, ok := f.Args[name]
	return v, ok
}

// AllArgs returns a defensive copy, for the Lua frame object's
// getAllArguments().
func (f *Frame) AllArgs() map[string]string {
	out := make(map[string]string, len(f.Args))
	for k, v := range f.Args {
		out[k] = v
	}
	return out
}

func (f *Frame) isCycle(key string) bool {
	for a := f; a != nil; a = a.Parent {
		if a.CallKey == key {
			return true
		}
	}
	return false
}

type pageCacheKey struct {
	title string
	mode  wikitext.Mode
}

// Options configures one Expander.
type Options struct {
	Index           *index.Store
	NamespaceMap    *wiki.NamespaceMap
	PageCacheBytes  int
	Now             func() time.Time // defaults to time.Now; overridable for deterministic tests
	MaxDepth        int
	MaxNodeBudget   int
	MaxIncludeBytes int
}

const (
	DefaultMaxDepth        = 40
	DefaultMaxNodeBudget   = 200_000
	DefaultMaxIncludeBytes = 8 << 20
)

// Expander holds the shared, read-mostly dependencies (index, caches) an
// expansion pass needs. It is safe for concurrent use by multiple renders;
// per-render mutable state (budgets, node counts) lives in renderState.
type Expander struct {
	idx      *index.Store
	nsmap    *wiki.NamespaceMap
	pages    *cache.Cache[pageCacheKey, *wikitext.TokenTree]
	now      func() time.Time
	maxDepth int
	maxNodes int
	maxBytes int

	invoker ModuleInvoker
}

func New(opts Options) *Expander {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	maxDepth := opts.MaxDepth
	if maxDepth == 0 {
		maxDepth = DefaultMaxDepth
	}
	maxNodes := opts.MaxNodeBudget
	if maxNodes == 0 {
		maxNodes = DefaultMaxNodeBudget
	}
	maxBytes := opts.MaxIncludeBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxIncludeBytes
	}
	pageCacheBytes := opts.PageCacheBytes
	if pageCacheBytes == 0 {
		pageCacheBytes = 64 << 20
	}
	return &Expander{
		idx:      opts.Index,
		nsmap:    opts.NamespaceMap,
		pages:    cache.New[pageCacheKey, *wikitext.TokenTree](pageCacheBytes, weighTree).Named("parsed-page"),
		now:      now,
		maxDepth: maxDepth,
		maxNodes: maxNodes,
		maxBytes: maxBytes,
	}
}

// SetInvoker wires the Lua bridge in after construction, breaking the
// expand↔luabridge construction cycle (luabridge depends on *Expander to
// implement preprocess/expandTemplate; Expander depends on luabridge only
// through this interface).
func (e *Expander) SetInvoker(inv ModuleInvoker) { e.invoker = inv }

// weighTree approximates a parsed tree's cache weight by its node count;
// exact byte accounting isn't worth the bookkeeping for an in-memory tree.
func weighTree(t *wikitext.TokenTree) int {
	var count func([]*wikitext.Node) int
	count = func(ns []*wikitext.Node) int {
		n := len(ns) * 64
		for _, c := range ns {
			n += count(c.Children) + count(c.Content) + count(c.Label) + count(c.Name) + count(c.ParamDefault)
			for _, a := range c.Args {
				n += count(a.Value)
			}
		}
		return n
	}
	return count(t.Nodes) + 64
}

// renderState is the mutable, shared-by-pointer budget tracker for one
// top-level ExpandPage call. Node/byte counters are touched concurrently by
// the argument fan-out (§10.2), hence the plain int+mutex instead of a
// per-call-stack value.
type renderState struct {
	mu           sync.Mutex
	nodeCount    int
	includeBytes int
	maxNodes     int
	maxBytes     int
}

func newRenderState(maxNodes, maxBytes int) *renderState {
	return &renderState{maxNodes: maxNodes, maxBytes: maxBytes}
}

func (s *renderState) addNodes(n int) (overBudget bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeCount += n
	return s.nodeCount > s.maxNodes
}

func (s *renderState) addIncludeBytes(n int) (overBudget bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.includeBytes += n
	return s.includeBytes > s.maxBytes
}

// ExpandPage is the top-level entry point: expand title's own TokenTree
// (already parsed in NoInclude mode by the caller) in the root frame.
func (e *Expander) ExpandPage(ctx context.Context, title wiki.Title, tree *wikitext.TokenTree) (*wikitext.TokenTree, error) {
	root := &Frame{Title: title}
	st := newRenderState(e.maxNodes, e.maxBytes)
	nodes, err := e.expandNodes(ctx, tree.Nodes, root, 0, st)
	if err != nil {
		return nil, err
	}
	return &wikitext.TokenTree{Nodes: nodes, Mode: tree.Mode}, nil
}

func errorMarker(format string, args ...any) *wikitext.Node {
	msg := fmt.Sprintf(format, args...)
	return &wikitext.Node{
		Kind:    wikitext.KindHTML,
		TagName: "strong",
		Attrs:   map[string]string{"class": "error"},
		Children: []*wikitext.Node{
			{Kind: wikitext.KindText, Text: msg},
		},
	}
}

// expandNodes is the core recursive walk. It never returns an error for a
// single bad node — budget/cycle/missing-template failures become inline
// error markers so the rest of the page still renders (§7).
func (e *Expander) expandNodes(ctx context.Context, nodes []*wikitext.Node, frame *Frame, depth int, st *renderState) ([]*wikitext.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if st.addNodes(len(nodes)) {
		return []*wikitext.Node{errorMarker("node budget exceeded")}, nil
	}

	out := make([]*wikitext.Node, 0, len(nodes))
	for _, n := range nodes {
		expanded, err := e.expandOne(ctx, n, frame, depth, st)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

func (e *Expander) expandOne(ctx context.Context, n *wikitext.Node, frame *Frame, depth int, st *renderState) ([]*wikitext.Node, error) {
	switch n.Kind {
	case wikitext.KindText, wikitext.KindComment, wikitext.KindHorizontalRule, wikitext.KindBreak:
		return []*wikitext.Node{n}, nil

	case wikitext.KindTemplate:
		return e.expandTemplateNode(ctx, n, frame, depth, st)

	case wikitext.KindParserFunction:
		return e.expandParserFunctionNode(ctx, n, frame, depth, st)

	case wikitext.KindParamRef:
		return e.expandParamRef(ctx, n, frame, depth, st)

	case wikitext.KindMagicWord:
		return []*wikitext.Node{{Kind: wikitext.KindText, Text: e.magicWordValue(n.Text, frame)}}, nil

	case wikitext.KindExtensionTag:
		// Extension tag content is not re-expanded unless the tag's own
		// handler (C7-side) chooses to; C5 passes it through untouched.
		return []*wikitext.Node{n}, nil

	default:
		clone := *n
		var err error
		if clone.Children, err = e.expandNodes(ctx, n.Children, frame, depth, st); err != nil {
			return nil, err
		}
		if clone.Label, err = e.expandNodes(ctx, n.Label, frame, depth, st); err != nil {
			return nil, err
		}
		if clone.Content, err = e.expandNodes(ctx, n.Content, frame, depth, st); err != nil {
			return nil, err
		}
		return []*wikitext.Node{&clone}, nil
	}
}

func (e *Expander) magicWordValue(word string, frame *Frame) string {
	now := e.now()
	switch strings.ToUpper(word) {
	case "PAGENAME", "FULLPAGENAME":
		return frame.Title.StringIn(e.nsmap)
	case "BASEPAGENAME":
		t := frame.Title.Text
		if i := strings.LastIndexByte(t, '/'); i >= 0 {
			return t[:i]
		}
		return t
	case "SUBPAGENAME":
		t := frame.Title.Text
		if i := strings.LastIndexByte(t, '/'); i >= 0 {
			return t[i+1:]
		}
		return t
	case "NAMESPACE":
		return e.nsmap.Name(frame.Title.Namespace)
	case "NAMESPACENUMBER":
		return strconv.Itoa(int(frame.Title.Namespace))
	case "SITENAME":
		return "Wikipedia"
	case "CURRENTYEAR":
		return strconv.Itoa(now.Year())
	case "CURRENTMONTH":
		return fmt.Sprintf("%02d", int(now.Month()))
	case "CURRENTDAY":
		return strconv.Itoa(now.Day())
	case "CURRENTDOW":
		return strconv.Itoa(int(now.Weekday()))
	case "CURRENTTIME":
		return now.UTC().Format("15:04")
	case "CURRENTHOUR":
		return now.UTC().Format("15")
	case "CURRENTTIMESTAMP":
		return now.UTC().Format("20060102150405")
	case "__NOTOC__", "__TOC__", "__FORCETOC__", "__NOEDITSECTION__":
		return ""
	default:
		return ""
	}
}

func (e *Expander) expandParamRef(ctx context.Context, n *wikitext.Node, frame *Frame, depth int, st *renderState) ([]*wikitext.Node, error) {
	if v, ok := frame.Arg(n.ParamName); ok {
		return []*wikitext.Node{{Kind: wikitext.KindText, Text: v}}, nil
	}
	if n.HasDefault {
		return e.expandNodes(ctx, n.ParamDefault, frame, depth, st)
	}
	// Unbound with no default: MediaWiki shows the literal triple-brace
	// reference, whether at the article's own root frame or a deeper one
	// that simply never received this argument.
	lit := "{{{" + n.ParamName + "}}}"
	return []*wikitext.Node{{Kind: wikitext.KindText, Text: lit}}, nil
}

// expandToString expands nodes and flattens the result to plain text, for
// contexts (parser-function arguments, template/module names) that need a
// scalar string rather than a node list.
func (e *Expander) expandToString(ctx context.Context, nodes []*wikitext.Node, frame *Frame, depth int, st *renderState) (string, error) {
	expanded, err := e.expandNodes(ctx, nodes, frame, depth, st)
	if err != nil {
		return "", err
	}
	return flattenText(expanded), nil
}

func flattenText(nodes []*wikitext.Node) string {
	var b strings.Builder
	var walk func([]*wikitext.Node)
	walk = func(ns []*wikitext.Node) {
		for _, n := range ns {
			switch n.Kind {
			case wikitext.KindText:
				b.WriteString(n.Text)
			case wikitext.KindExtensionTag:
				if n.RawMode {
					b.WriteString(n.Raw)
				} else {
					walk(n.Content)
				}
			case wikitext.KindInternalLink, wikitext.KindExternalLink:
				if len(n.Label) > 0 {
					walk(n.Label)
				} else {
					b.WriteString(n.Target)
				}
			default:
				walk(n.Children)
			}
		}
	}
	walk(nodes)
	return b.String()
}

// --- templates ---------------------------------------------------------

func (e *Expander) expandTemplateNode(ctx context.Context, n *wikitext.Node, frame *Frame, depth int, st *renderState) ([]*wikitext.Node, error) {
	name, err := e.expandToString(ctx, n.Name, frame, depth, st)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	target, err := e.resolveTemplateTitle(name)
	if err != nil {
		return []*wikitext.Node{errorMarker("invalid template title %q", name)}, nil
	}

	args, err := e.evalArgs(ctx, n.Args, frame, depth, st)
	if err != nil {
		return nil, err
	}

	if depth+1 > e.maxDepth {
		return []*wikitext.Node{errorMarker("expansion depth exceeded at %s", target.StringIn(e.nsmap))}, nil
	}

	callKey := target.Key() + "|" + argFingerprint(args)
	if frame.isCycle(callKey) {
		return []*wikitext.Node{errorMarker("template loop detected: %s", target.StringIn(e.nsmap))}, nil
	}

	body, rawLen, err := e.fetchTemplateTree(ctx, target)
	if err != nil {
		return []*wikitext.Node{errorMarker("template not found: %s", target.StringIn(e.nsmap))}, nil
	}
	if st.addIncludeBytes(rawLen) {
		return []*wikitext.Node{errorMarker("include size budget exceeded at %s", target.StringIn(e.nsmap))}, nil
	}

	child := &Frame{Parent: frame, Title: target, Args: args, CallKey: callKey}
	return e.expandNodes(ctx, body.Nodes, child, depth+1, st)
}

// evalArgs strictly evaluates each argument in the caller's frame before
// binding, per §4.5; independent arguments fan out concurrently (§10.2).
func (e *Expander) evalArgs(ctx context.Context, rawArgs []wikitext.Arg, frame *Frame, depth int, st *renderState) (map[string]string, error) {
	if len(rawArgs) == 0 {
		return map[string]string{}, nil
	}
	values := make([]string, len(rawArgs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range rawArgs {
		i := i
		g.Go(func() error {
			v, err := e.expandToString(gctx, rawArgs[i].Value, frame, depth, st)
			if err != nil {
				return err
			}
			values[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	args := make(map[string]string, len(rawArgs))
	positional := 1
	for i, a := range rawArgs {
		if a.Name != "" {
			args[a.Name] = values[i]
			continue
		}
		args[strconv.Itoa(positional)] = values[i]
		positional++
	}
	return args, nil
}

func argFingerprint(args map[string]string) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(args[k])
		b.WriteByte('\x1f')
	}
	return b.String()
}

// resolveTemplateTitle applies §4.5's namespace rule: bare names get
// Template: prepended; a leading colon forces the given namespace;
// Module: is disallowed here (that's C6's #invoke path instead).
func (e *Expander) resolveTemplateTitle(name string) (wiki.Title, error) {
	raw := name
	if strings.HasPrefix(raw, ":") {
		t := wiki.Normalize(strings.TrimPrefix(raw, ":"), e.nsmap)
		return t, nil
	}
	if idx := strings.IndexByte(raw, ':'); idx > 0 {
		if ns, ok := e.nsmap.Resolve(strings.TrimSpace(raw[:idx])); ok {
			if ns == wiki.NSModule {
				return wiki.Title{}, fmt.Errorf("expand: Module: not valid as a template call")
			}
			return wiki.Normalize(raw, e.nsmap), nil
		}
	}
	return wiki.Normalize("Template:"+raw, e.nsmap), nil
}

// fetchTemplateTree resolves, decompresses, extracts and parses (in
// Include mode) a template body, coalesced through the parsed-page cache.
func (e *Expander) fetchTemplateTree(ctx context.Context, title wiki.Title) (*wikitext.TokenTree, int, error) {
	key := pageCacheKey{title: title.Key(), mode: wikitext.Include}
	var rawLen int
	tree, err := e.pages.Get(key, func() (*wikitext.TokenTree, error) {
		entry, err := e.idx.Lookup(title)
		if err != nil {
			return nil, err
		}
		block, err := e.idx.Block(ctx, entry.Offset)
		if err != nil {
			return nil, err
		}
		rec, err := dumpxml.Extract(block, title, e.nsmap)
		if err != nil {
			return nil, err
		}
		body := rec.WikitextBody
		if rec.IsRedirect() {
			redirectTarget := wiki.Normalize(rec.RedirectTarget, e.nsmap)
			redirected, rerr := e.idx.Lookup(redirectTarget)
			if rerr != nil {
				return nil, rerr
			}
			rblock, rerr := e.idx.Block(ctx, redirected.Offset)
			if rerr != nil {
				return nil, rerr
			}
			rrec, rerr := dumpxml.Extract(rblock, redirectTarget, e.nsmap)
			if rerr != nil {
				return nil, rerr
			}
			body = rrec.WikitextBody
		}
		rawLen = len(body)
		return wikitext.Parse(body, wikitext.Include), nil
	})
	if err != nil {
		return nil, 0, err
	}
	// rawLen is only populated on a cache miss; charge the budget against
	// the cached tree's approximate size on a hit instead of re-fetching.
	if rawLen == 0 {
		rawLen = weighTree(tree)
	}
	return tree, rawLen, nil
}

// --- parser functions ----------------------------------------------------

func (e *Expander) expandParserFunctionNode(ctx context.Context, n *wikitext.Node, frame *Frame, depth int, st *renderState) ([]*wikitext.Node, error) {
	if strings.EqualFold(n.FuncName, "invoke") {
		return e.expandInvoke(ctx, n, frame, depth, st)
	}

	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		v, err := e.expandToString(ctx, a.Value, frame, depth, st)
		if err != nil {
			return nil, err
		}
		if a.Name != "" {
			v = a.Name + "=" + v
		}
		args[i] = v
	}

	fn, ok := parserFuncs[strings.ToLower(n.FuncName)]
	if !ok {
		return []*wikitext.Node{errorMarker("unknown parser function #%s", n.FuncName)}, nil
	}
	out, err := fn(&pfContext{ctx: ctx, e: e, frame: frame}, args)
	if err != nil {
		return []*wikitext.Node{errorMarker("#%s: %v", n.FuncName, err)}, nil
	}
	return []*wikitext.Node{{Kind: wikitext.KindText, Text: out}}, nil
}

func (e *Expander) expandInvoke(ctx context.Context, n *wikitext.Node, frame *Frame, depth int, st *renderState) ([]*wikitext.Node, error) {
	if e.invoker == nil {
		return []*wikitext.Node{errorMarker("#invoke: Lua sandbox unavailable")}, nil
	}
	if len(n.Args) < 1 {
		return []*wikitext.Node{errorMarker("#invoke: missing module name")}, nil
	}
	moduleName, err := e.expandToString(ctx, n.Args[0].Value, frame, depth, st)
	if err != nil {
		return nil, err
	}
	funcName := ""
	var rest []wikitext.Arg
	if len(n.Args) >= 2 {
		funcName, err = e.expandToString(ctx, n.Args[1].Value, frame, depth, st)
		if err != nil {
			return nil, err
		}
		rest = n.Args[2:]
	}

	moduleTitle := wiki.Normalize("Module:"+strings.TrimSpace(moduleName), e.nsmap)
	args, err := e.evalArgs(ctx, rest, frame, depth, st)
	if err != nil {
		return nil, err
	}
	callFrame := &Frame{Parent: frame, Title: moduleTitle, Args: args}

	result, err := e.invoker.Invoke(ctx, moduleTitle, strings.TrimSpace(funcName), callFrame)
	if err != nil {
		return []*wikitext.Node{errorMarker("Lua error in Module:%s: %v", moduleName, err)}, nil
	}
	return []*wikitext.Node{{Kind: wikitext.KindText, Text: result}}, nil
}

// Preprocess re-enters C5 as raw wikitext, exactly as the frame object's
// preprocess(str) callback requires (§4.6 step 2). It parses str in
// Include mode and expands it in the given frame.
func (e *Expander) Preprocess(ctx context.Context, str string, frame *Frame) (string, error) {
	tree := wikitext.Parse(str, wikitext.Include)
	st := newRenderState(e.maxNodes, e.maxBytes)
	nodes, err := e.expandNodes(ctx, tree.Nodes, frame, 0, st)
	if err != nil {
		return "", err
	}
	return flattenText(nodes), nil
}

// ExpandTemplateCall implements the frame object's expandTemplate{title,
// args} callback: it resolves title as an ordinary {{title|args}} call
// would and expands the template body with args bound in a fresh frame.
// That frame has no parent, so expansion starts at depth 0 with its own
// budgets and the cycle check sees only calls made beneath it.
func (e *Expander) ExpandTemplateCall(ctx context.Context, title string, args map[string]string) (string, error) {
	target, err := e.resolveTemplateTitle(title)
	if err != nil {
		return "", err
	}
	body, _, err := e.fetchTemplateTree(ctx, target)
	if err != nil {
		return "", err
	}
	callKey := target.Key() + "|" + argFingerprint(args)
	child := &Frame{Title: target, Args: args, CallKey: callKey}
	st := newRenderState(e.maxNodes, e.maxBytes)
	nodes, err := e.expandNodes(ctx, body.Nodes, child, 0, st)
	if err != nil {
		return "", err
	}
	return flattenText(nodes), nil
}

// Exists reports whether title is present in the index, for #ifexist and
// the renderer's link coloring.
func (e *Expander) Exists(title wiki.Title) bool { return e.idx.Exists(title) }
