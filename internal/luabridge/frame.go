package luabridge

import (
	"context"
	"strconv"

	lua "github.com/yuin/gopher-lua"

	"github.com/wikireader/wikireader/internal/expand"
)

// newFrameTable builds a Lua table implementing Scribunto's frame object:
// direct field access via frame.args, plus the getArgument/getAllArguments/
// getParent/getTitle/expandTemplate/preprocess methods. getParent builds the
// ancestor's table lazily and recursively, mirroring how real frame objects
// chain.
func (b *Bridge) newFrameTable(L *lua.LState, ctx context.Context, frame *expand.Frame, budget *stepBudget) *lua.LTable {
	t := L.NewTable()
	if frame == nil {
		return t
	}

	// Positional arguments get integer keys so frame.args[1] works as in
	// Scribunto; named arguments keep their string keys.
	setArg := func(t *lua.LTable, k, v string) {
		if n, err := strconv.Atoi(k); err == nil {
			t.RawSetInt(n, lua.LString(v))
		} else {
			t.RawSetString(k, lua.LString(v))
		}
	}
	args := L.NewTable()
	for k, v := range frame.AllArgs() {
		setArg(args, k, v)
	}
	t.RawSetString("args", args)

	t.RawSetString("getArgument", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		key := argKey(L.Get(2))
		v, ok := frame.Arg(key)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(v))
		return 1
	}))

	t.RawSetString("getAllArguments", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		out := L.NewTable()
		for k, v := range frame.AllArgs() {
			setArg(out, k, v)
		}
		L.Push(out)
		return 1
	}))

	t.RawSetString("getTitle", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		L.Push(lua.LString(frame.Title.StringIn(b.nsmap)))
		return 1
	}))

	t.RawSetString("getParent", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		if frame.Parent == nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(b.newFrameTable(L, ctx, frame.Parent, budget))
		return 1
	}))

	t.RawSetString("expandTemplate", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		opts := L.CheckTable(2)
		title, _ := opts.RawGetString("title").(lua.LString)
		args := map[string]string{}
		if argsVal, ok := opts.RawGetString("args").(*lua.LTable); ok {
			argsVal.ForEach(func(k, v lua.LValue) {
				args[argKey(k)] = v.String()
			})
		}
		out, err := b.expander.ExpandTemplateCall(ctx, string(title), args)
		if err != nil {
			L.RaiseError("expandTemplate: %v", err)
		}
		L.Push(lua.LString(out))
		return 1
	}))

	t.RawSetString("preprocess", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		s := L.CheckString(2)
		out, err := b.expander.Preprocess(ctx, s, frame)
		if err != nil {
			L.RaiseError("preprocess: %v", err)
		}
		L.Push(lua.LString(out))
		return 1
	}))

	t.RawSetString("newChild", L.NewFunction(func(L *lua.LState) int {
		budget.tick(L)
		opts, ok := L.Get(2).(*lua.LTable)
		child := &expand.Frame{Parent: frame, Title: frame.Title, Args: map[string]string{}}
		if ok {
			if argsVal, ok := opts.RawGetString("args").(*lua.LTable); ok {
				argsVal.ForEach(func(k, v lua.LValue) {
					child.Args[argKey(k)] = v.String()
				})
			}
		}
		L.Push(b.newFrameTable(L, ctx, child, budget))
		return 1
	}))

	return t
}

// argKey normalizes a Lua argument key (string or 1-based number) to the
// string key frame.Arg expects.
func argKey(v lua.LValue) string {
	if n, ok := v.(lua.LNumber); ok {
		return strconv.Itoa(int(n))
	}
	return v.String()
}
