package luabind

import (
	"reflect"

	lua "github.com/yuin/gopher-lua"
)

// Container converters are derived from the element converters, recursively.
// A container whose element type has no converter fails when the container
// converter is first requested, naming the element type.

// sliceConverter maps []T to a Lua sequence (1-based) and back.
func (b *Binding) sliceConverter(t reflect.Type) (*converter, error) {
	elem, err := b.converterFor(t.Elem())
	if err != nil {
		return nil, signatureError("slice type %s: element type %s has no conversion", t, t.Elem())
	}
	return &converter{
		typ: t,
		push: func(L *lua.LState, v reflect.Value) (lua.LValue, error) {
			if v.IsNil() {
				return lua.LNil, nil
			}
			tbl := L.NewTable()
			for i := 0; i < v.Len(); i++ {
				lv, err := elem.push(L, v.Index(i))
				if err != nil {
					return lua.LNil, err
				}
				tbl.RawSetInt(i+1, lv)
			}
			return tbl, nil
		},
		get: func(L *lua.LState, lv lua.LValue) (reflect.Value, error) {
			if lv == lua.LNil {
				return reflect.Zero(t), nil
			}
			tbl, ok := lv.(*lua.LTable)
			if !ok {
				return reflect.Value{}, conversionError("table", lv.Type().String())
			}
			n := tbl.Len()
			out := reflect.MakeSlice(t, n, n)
			for i := 1; i <= n; i++ {
				ev, err := elem.get(L, tbl.RawGetInt(i))
				if err != nil {
					return reflect.Value{}, err
				}
				out.Index(i - 1).Set(ev)
			}
			return out, nil
		},
	}, nil
}

// mapConverter maps map[string]V to a Lua table with string keys and back.
// Non-string-keyed maps are rejected; the engine's table keys are not
// ordered and only string keys translate faithfully.
func (b *Binding) mapConverter(t reflect.Type) (*converter, error) {
	if t.Key().Kind() != reflect.String {
		return nil, signatureError("map type %s: only string keys are supported", t)
	}
	elem, err := b.converterFor(t.Elem())
	if err != nil {
		return nil, signatureError("map type %s: element type %s has no conversion", t, t.Elem())
	}
	return &converter{
		typ: t,
		push: func(L *lua.LState, v reflect.Value) (lua.LValue, error) {
			if v.IsNil() {
				return lua.LNil, nil
			}
			tbl := L.NewTable()
			iter := v.MapRange()
			for iter.Next() {
				ev, err := elem.push(L, iter.Value())
				if err != nil {
					return lua.LNil, err
				}
				tbl.RawSetString(iter.Key().String(), ev)
			}
			return tbl, nil
		},
		get: func(L *lua.LState, lv lua.LValue) (reflect.Value, error) {
			if lv == lua.LNil {
				return reflect.Zero(t), nil
			}
			tbl, ok := lv.(*lua.LTable)
			if !ok {
				return reflect.Value{}, conversionError("table", lv.Type().String())
			}
			out := reflect.MakeMap(t)
			var convErr error
			tbl.ForEach(func(k, v lua.LValue) {
				if convErr != nil {
					return
				}
				ks, ok := k.(lua.LString)
				if !ok {
					convErr = conversionError("string key", k.Type().String())
					return
				}
				ev, err := elem.get(L, v)
				if err != nil {
					convErr = err
					return
				}
				key := reflect.New(t.Key()).Elem()
				key.SetString(string(ks))
				out.SetMapIndex(key, ev)
			})
			if convErr != nil {
				return reflect.Value{}, convErr
			}
			return out, nil
		},
	}, nil
}
