// Package luabridge implements the Scribunto-style sandboxed Lua execution
// environment (C6): compiling Module: pages with gopher-lua, exposing a
// restricted standard library plus the mw.* bridge, and answering #invoke
// calls routed in through internal/expand's ModuleInvoker interface.
package luabridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/wikireader/wikireader/internal/cache"
	"github.com/wikireader/wikireader/internal/dumpxml"
	"github.com/wikireader/wikireader/internal/expand"
	"github.com/wikireader/wikireader/internal/index"
	"github.com/wikireader/wikireader/internal/metrics"
	"github.com/wikireader/wikireader/internal/wiki"
)

const (
	DefaultModuleCacheBytes = 16 << 20
	DefaultMaxSteps         = 200_000
	DefaultTimeout          = 5 * time.Second
)

// Options configures one Bridge.
type Options struct {
	Index            *index.Store
	NamespaceMap     *wiki.NamespaceMap
	Expander         *expand.Expander // for frame:preprocess / frame:expandTemplate / mw.title exists checks
	ModuleCacheBytes int
	MaxSteps         int           // bridge-call step budget (§10.3); approximates an instruction count
	Timeout          time.Duration // wall-clock budget per top-level #invoke
}

// Bridge holds the shared, read-mostly dependencies an #invoke call needs.
// It implements expand.ModuleInvoker; wiring it back into an *expand.Expander
// happens through Expander.SetInvoker once both are constructed, avoiding an
// import cycle between the two packages.
type Bridge struct {
	idx      *index.Store
	nsmap    *wiki.NamespaceMap
	expander *expand.Expander
	modules  *cache.Cache[string, *lua.FunctionProto]
	maxSteps int
	timeout  time.Duration
}

func New(opts Options) *Bridge {
	cacheBytes := opts.ModuleCacheBytes
	if cacheBytes == 0 {
		cacheBytes = DefaultModuleCacheBytes
	}
	maxSteps := opts.MaxSteps
	if maxSteps == 0 {
		maxSteps = DefaultMaxSteps
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Bridge{
		idx:      opts.Index,
		nsmap:    opts.NamespaceMap,
		expander: opts.Expander,
		modules:  cache.New[string, *lua.FunctionProto](cacheBytes, weighProto).Named("compiled-module"),
		maxSteps: maxSteps,
		timeout:  timeout,
	}
}

// weighProto approximates a compiled chunk's cache weight by its bytecode
// length; exact accounting (constants, nested prototypes) isn't worth the
// bookkeeping for what is, in practice, a small cache of a few hundred
// modules.
func weighProto(p *lua.FunctionProto) int {
	return len(p.Code)*4 + 512
}

// Invoke implements expand.ModuleInvoker: it compiles (or reuses a cached
// compile of) module, runs its chunk body to obtain the exported table, and
// calls funcName on it with a frame object bound to the given call frame.
func (b *Bridge) Invoke(ctx context.Context, module wiki.Title, funcName string, frame *expand.Frame) (result string, err error) {
	defer func() {
		switch {
		case err == nil:
			metrics.RecordLuaInvoke("ok")
		case errors.Is(err, context.DeadlineExceeded):
			metrics.RecordLuaInvoke("budget")
		default:
			metrics.RecordLuaInvoke("error")
		}
	}()

	if funcName == "" {
		return "", fmt.Errorf("luabridge: #invoke requires a function name")
	}
	proto, err := b.getOrCompile(ctx, module)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(runCtx)
	openSandboxLibs(L)

	budget := &stepBudget{max: b.maxSteps}
	frameTable := b.newFrameTable(L, runCtx, frame, budget)
	installMW(L, b, runCtx, frameTable, budget)

	fn := L.NewFunctionFromProto(proto)
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return "", fmt.Errorf("luabridge: running %s: %w", module.StringIn(b.nsmap), err)
	}
	modTable, ok := L.Get(-1).(*lua.LTable)
	L.Pop(1)
	if !ok {
		return "", fmt.Errorf("luabridge: %s did not return a table of exports", module.StringIn(b.nsmap))
	}

	fnVal := modTable.RawGetString(funcName)
	luaFn, ok := fnVal.(*lua.LFunction)
	if !ok {
		return "", fmt.Errorf("luabridge: %s has no function %q", module.StringIn(b.nsmap), funcName)
	}

	L.Push(luaFn)
	L.Push(frameTable)
	if err := L.PCall(1, 1, nil); err != nil {
		return "", fmt.Errorf("luabridge: calling %s.%s: %w", module.StringIn(b.nsmap), funcName, err)
	}
	retVal := L.Get(-1)
	L.Pop(1)
	return luaValueToString(retVal)
}

func luaValueToString(v lua.LValue) (string, error) {
	switch v.Type() {
	case lua.LTNil:
		return "", nil
	case lua.LTString, lua.LTNumber, lua.LTBool:
		return v.String(), nil
	default:
		return "", fmt.Errorf("luabridge: module function returned a %s, not a scalar", v.Type().String())
	}
}

// getOrCompile parses and compiles a Module: page's Lua source to a
// FunctionProto, coalesced through the compiled-module cache. Reusing a
// FunctionProto across invocations is why module compilation is kept
// separate from the per-invocation *lua.LState: a proto is safely shared,
// an LState is not.
func (b *Bridge) getOrCompile(ctx context.Context, title wiki.Title) (*lua.FunctionProto, error) {
	return b.modules.Get(title.Key(), func() (*lua.FunctionProto, error) {
		src, err := b.fetchModuleSource(ctx, title)
		if err != nil {
			return nil, err
		}
		name := title.StringIn(b.nsmap)
		chunk, err := parse.Parse(strings.NewReader(src), name)
		if err != nil {
			return nil, fmt.Errorf("luabridge: parsing %s: %w", name, err)
		}
		proto, err := lua.Compile(chunk, name)
		if err != nil {
			return nil, fmt.Errorf("luabridge: compiling %s: %w", name, err)
		}
		return proto, nil
	})
}

// fetchModuleSource resolves, decompresses and extracts a Module: page's raw
// source, following at most one redirect hop (module pages are essentially
// never redirects, but the dump format doesn't rule it out).
func (b *Bridge) fetchModuleSource(ctx context.Context, title wiki.Title) (string, error) {
	entry, err := b.idx.Lookup(title)
	if err != nil {
		return "", err
	}
	block, err := b.idx.Block(ctx, entry.Offset)
	if err != nil {
		return "", err
	}
	rec, err := dumpxml.Extract(block, title, b.nsmap)
	if err != nil {
		return "", err
	}
	if !rec.IsRedirect() {
		return rec.WikitextBody, nil
	}
	target := wiki.Normalize(rec.RedirectTarget, b.nsmap)
	rentry, err := b.idx.Lookup(target)
	if err != nil {
		return "", err
	}
	rblock, err := b.idx.Block(ctx, rentry.Offset)
	if err != nil {
		return "", err
	}
	rrec, err := dumpxml.Extract(rblock, target, b.nsmap)
	if err != nil {
		return "", err
	}
	return rrec.WikitextBody, nil
}

// stepBudget is the bridge-call instruction-budget approximation from
// §10.3: every Go-backed mw.*/frame:* function call ticks it, and the
// periodic context check from L.SetContext covers the budget between bridge
// calls (pure-Lua loops with no bridge calls don't tick it, but are bounded
// by the wall-clock timeout instead).
type stepBudget struct {
	count int
	max   int
}

func (s *stepBudget) tick(L *lua.LState) {
	s.count++
	if s.count > s.max {
		L.RaiseError("luabridge: step budget exceeded")
	}
}

// openSandboxLibs opens only the library tables a Scribunto module is
// allowed to see (base, string, table, math, plus a hand-built minimal os),
// then strips the handful of base-library entries that would otherwise let
// a module load or execute arbitrary new code (loadstring/load/dofile/
// loadfile/require). io, os.*file*, debug and package are simply never
// opened, so they're absent rather than merely hidden.
func openSandboxLibs(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range []string{"loadstring", "load", "dofile", "loadfile", "require", "collectgarbage", "module"} {
		L.SetGlobal(name, lua.LNil)
	}

	L.SetGlobal("os", buildMinimalOS(L))
}

func buildMinimalOS(L *lua.LState) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("time", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	t.RawSetString("clock", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(float64(time.Now().UnixNano()) / 1e9))
		return 1
	}))
	t.RawSetString("difftime", L.NewFunction(func(L *lua.LState) int {
		t2 := L.CheckNumber(1)
		t1 := L.CheckNumber(2)
		L.Push(lua.LNumber(float64(t2 - t1)))
		return 1
	}))
	t.RawSetString("date", L.NewFunction(func(L *lua.LState) int {
		format := L.OptString(1, "%c")
		L.Push(lua.LString(strftimeApprox(format, time.Now().UTC())))
		return 1
	}))
	return t
}

// strftimeApprox covers the handful of conversion specifiers Scribunto
// modules actually use (%Y %m %d %H %M %S); it is not a full strftime.
func strftimeApprox(format string, t time.Time) string {
	r := strings.NewReplacer(
		"%Y", fmt.Sprintf("%04d", t.Year()),
		"%m", fmt.Sprintf("%02d", int(t.Month())),
		"%d", fmt.Sprintf("%02d", t.Day()),
		"%H", fmt.Sprintf("%02d", t.Hour()),
		"%M", fmt.Sprintf("%02d", t.Minute()),
		"%S", fmt.Sprintf("%02d", t.Second()),
	)
	return r.Replace(format)
}
