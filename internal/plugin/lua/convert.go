// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Alexandria Contributors

package lua

import (
	"encoding/json"

	lua "github.com/yuin/gopher-lua"
)

// maxConvertDepth bounds recursion when converting nested tables, which
// may be self-referential.
const maxConvertDepth = 32

func decodeJSON(L *lua.LState, data []byte) (lua.LValue, bool) {
	if len(data) == 0 || !json.Valid(data) {
		return lua.LNil, false
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return lua.LNil, false
	}
	return toLua(L, v), true
}

func encodeJSON(v lua.LValue) ([]byte, error) {
	return json.Marshal(fromLua(v, 0))
}

// toLua converts a decoded JSON value into a Lua value.
func toLua(L *lua.LState, v any) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case float64:
		return lua.LNumber(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case []any:
		t := L.CreateTable(len(v), 0)
		for _, item := range v {
			t.Append(toLua(L, item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(v))
		for k, item := range v {
			t.RawSetString(k, toLua(L, item))
		}
		return t
	default:
		return lua.LNil
	}
}

// fromLua converts a Lua value into something encoding/json and slog can
// render. A table with only consecutive integer keys starting at 1 becomes
// a slice; any other table becomes a map with string keys.
func fromLua(v lua.LValue, depth int) any {
	switch v := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if depth >= maxConvertDepth {
			return nil
		}
		if n := v.Len(); n > 0 && countKeys(v) == n {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fromLua(v.RawGetInt(i), depth+1))
			}
			return out
		}
		out := make(map[string]any)
		v.ForEach(func(k, item lua.LValue) {
			out[k.String()] = fromLua(item, depth+1)
		})
		return out
	default:
		return v.String()
	}
}

func countKeys(t *lua.LTable) int {
	n := 0
	t.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}

// fieldsFromLua converts a Lua table into log fields.
func fieldsFromLua(t *lua.LTable) map[string]any {
	if t == nil {
		return nil
	}
	fields := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		fields[k.String()] = fromLua(v, 0)
	})
	return fields
}
