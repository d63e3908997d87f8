package scripting

import (
	"encoding/json"

	lua "github.com/yuin/gopher-lua"
)

func (h *Host) luaFromJSON(L *lua.LState) int {
	str := L.CheckString(1)
	var decoded interface{}
	if err := json.Unmarshal([]byte(str), &decoded); err != nil {
		L.RaiseError("from_json: %s", err)
		return 0
	}
	L.Push(goToLua(L, decoded))
	return 1
}

// goToLua converts a decoded JSON value (map[string]interface{},
// []interface{}, string, float64, bool, nil) into the equivalent Lua
// value.
func goToLua(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []interface{}:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, goToLua(L, item))
		}
		return tbl
	case map[string]interface{}:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LNil
	}
}

// luaToStringSlice reads a Lua array-like table into a []string,
// stopping at the first nil entry.
func luaToStringSlice(tbl *lua.LTable) []string {
	var out []string
	n := tbl.Len()
	for i := 1; i <= n; i++ {
		out = append(out, tbl.RawGetInt(i).String())
	}
	return out
}

// luaToStringMap reads a Lua string-keyed table into a map[string]string.
func luaToStringMap(tbl *lua.LTable) map[string]string {
	out := make(map[string]string)
	tbl.ForEach(func(k, v lua.LValue) {
		out[k.String()] = v.String()
	})
	return out
}

