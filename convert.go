package luabind

import (
	"fmt"
	"math"
	"reflect"
	"weak"

	lua "github.com/yuin/gopher-lua"
)

// converter moves one Go type across the boundary in both directions. push
// and get report failures as values; raising is the adapter's job.
type converter struct {
	typ  reflect.Type
	push func(L *lua.LState, v reflect.Value) (lua.LValue, error)
	get  func(L *lua.LState, lv lua.LValue) (reflect.Value, error)
}

// converterFor resolves the converter for t, deriving container and function
// converters on demand. Unregistered types are an error, never a silent
// fallback.
func (b *Binding) converterFor(t reflect.Type) (*converter, error) {
	if c, ok := b.convs[t]; ok {
		return c, nil
	}
	var c *converter
	var err error
	switch t.Kind() {
	case reflect.Slice:
		c, err = b.sliceConverter(t)
	case reflect.Map:
		c, err = b.mapConverter(t)
	case reflect.Func:
		c, err = b.funcConverter(t)
	default:
		return nil, signatureError("no conversion registered for type %s", t)
	}
	if err != nil {
		return nil, err
	}
	b.convs[t] = c
	return c, nil
}

// Push converts a Go value to a Lua value through b's registry.
func Push[T any](b *Binding, v T) (lua.LValue, error) {
	c, err := b.converterFor(reflect.TypeFor[T]())
	if err != nil {
		return lua.LNil, err
	}
	return c.push(b.state, reflect.ValueOf(&v).Elem())
}

// Get converts a Lua value to a Go value through b's registry.
func Get[T any](b *Binding, lv lua.LValue) (T, error) {
	var zero T
	c, err := b.converterFor(reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	rv, err := c.get(b.state, lv)
	if err != nil {
		return zero, err
	}
	return rv.Interface().(T), nil
}

// Opt converts a Lua value, substituting def when the value is nil or
// absent.
func Opt[T any](b *Binding, lv lua.LValue, def T) (T, error) {
	if lv == nil || lv == lua.LNil {
		return def, nil
	}
	return Get[T](b, lv)
}

// maxExactInt is the largest integer magnitude the engine's float64 numbers
// represent exactly.
const maxExactInt = int64(1) << 53

func (b *Binding) registerBuiltinConverters() {
	b.register(boolConverter())
	for _, k := range []reflect.Kind{
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
	} {
		b.register(b.intConverter(k))
	}
	for _, k := range []reflect.Kind{
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
	} {
		b.register(b.uintConverter(k))
	}
	b.register(floatConverter(reflect.TypeFor[float32]()))
	b.register(floatConverter(reflect.TypeFor[float64]()))
	b.register(stringConverter())
	b.register(bytesConverter())
	b.register(b.anyConverter())
	b.register(lvalueConverter())
}

func (b *Binding) register(c *converter) {
	b.convs[c.typ] = c
}

func boolConverter() *converter {
	t := reflect.TypeFor[bool]()
	return &converter{
		typ: t,
		push: func(L *lua.LState, v reflect.Value) (lua.LValue, error) {
			return lua.LBool(v.Bool()), nil
		},
		get: func(L *lua.LState, lv lua.LValue) (reflect.Value, error) {
			bv, ok := lv.(lua.LBool)
			if !ok {
				return reflect.Value{}, conversionError("boolean", lv.Type().String())
			}
			return reflect.ValueOf(bool(bv)), nil
		},
	}
}

// intConverter builds the converter for a signed integer kind. Wide kinds
// (int, int64) apply the round-trip check unless UnsafeInt64 is set; narrow
// kinds range-check on get.
func (b *Binding) intConverter(k reflect.Kind) *converter {
	var t reflect.Type
	switch k {
	case reflect.Int:
		t = reflect.TypeFor[int]()
	case reflect.Int8:
		t = reflect.TypeFor[int8]()
	case reflect.Int16:
		t = reflect.TypeFor[int16]()
	case reflect.Int32:
		t = reflect.TypeFor[int32]()
	case reflect.Int64:
		t = reflect.TypeFor[int64]()
	}
	wide := k == reflect.Int || k == reflect.Int64
	return &converter{
		typ: t,
		push: func(L *lua.LState, v reflect.Value) (lua.LValue, error) {
			n := v.Int()
			if wide && !b.opts.UnsafeInt64 && (n > maxExactInt || n < -maxExactInt) {
				return lua.LNil, conversionError("number", "unsafe cast from 64-bit int")
			}
			return lua.LNumber(n), nil
		},
		get: func(L *lua.LState, lv lua.LValue) (reflect.Value, error) {
			num, ok := lv.(lua.LNumber)
			if !ok {
				return reflect.Value{}, conversionError("number", lv.Type().String())
			}
			f := float64(num)
			n := int64(f)
			if float64(n) != f && !(wide && b.opts.UnsafeInt64) {
				return reflect.Value{}, conversionError("integer", fmt.Sprintf("number %v", f))
			}
			rv := reflect.New(t).Elem()
			if rv.OverflowInt(n) {
				return reflect.Value{}, conversionError(t.String(), fmt.Sprintf("out-of-range number %v", f))
			}
			rv.SetInt(n)
			return rv, nil
		},
	}
}

func (b *Binding) uintConverter(k reflect.Kind) *converter {
	var t reflect.Type
	switch k {
	case reflect.Uint:
		t = reflect.TypeFor[uint]()
	case reflect.Uint8:
		t = reflect.TypeFor[uint8]()
	case reflect.Uint16:
		t = reflect.TypeFor[uint16]()
	case reflect.Uint32:
		t = reflect.TypeFor[uint32]()
	case reflect.Uint64:
		t = reflect.TypeFor[uint64]()
	}
	wide := k == reflect.Uint || k == reflect.Uint64
	return &converter{
		typ: t,
		push: func(L *lua.LState, v reflect.Value) (lua.LValue, error) {
			n := v.Uint()
			if wide && !b.opts.UnsafeInt64 && n > uint64(maxExactInt) {
				return lua.LNil, conversionError("number", "unsafe cast from 64-bit int")
			}
			return lua.LNumber(n), nil
		},
		get: func(L *lua.LState, lv lua.LValue) (reflect.Value, error) {
			num, ok := lv.(lua.LNumber)
			if !ok {
				return reflect.Value{}, conversionError("number", lv.Type().String())
			}
			f := float64(num)
			if f < 0 {
				return reflect.Value{}, conversionError(t.String(), fmt.Sprintf("negative number %v", f))
			}
			n := uint64(f)
			if float64(n) != f && !(wide && b.opts.UnsafeInt64) {
				return reflect.Value{}, conversionError("integer", fmt.Sprintf("number %v", f))
			}
			rv := reflect.New(t).Elem()
			if rv.OverflowUint(n) {
				return reflect.Value{}, conversionError(t.String(), fmt.Sprintf("out-of-range number %v", f))
			}
			rv.SetUint(n)
			return rv, nil
		},
	}
}

func floatConverter(t reflect.Type) *converter {
	return &converter{
		typ: t,
		push: func(L *lua.LState, v reflect.Value) (lua.LValue, error) {
			return lua.LNumber(v.Float()), nil
		},
		get: func(L *lua.LState, lv lua.LValue) (reflect.Value, error) {
			num, ok := lv.(lua.LNumber)
			if !ok {
				return reflect.Value{}, conversionError("number", lv.Type().String())
			}
			rv := reflect.New(t).Elem()
			rv.SetFloat(float64(num))
			return rv, nil
		},
	}
}

// stringConverter preserves bytes exactly in both directions, including
// embedded NULs and empty strings. Numbers coerce to their string form, as
// the engine does.
func stringConverter() *converter {
	t := reflect.TypeFor[string]()
	return &converter{
		typ: t,
		push: func(L *lua.LState, v reflect.Value) (lua.LValue, error) {
			return lua.LString(v.String()), nil
		},
		get: func(L *lua.LState, lv lua.LValue) (reflect.Value, error) {
			switch lv.(type) {
			case lua.LString, lua.LNumber:
				return reflect.ValueOf(lua.LVAsString(lv)), nil
			}
			return reflect.Value{}, conversionError("string", lv.Type().String())
		},
	}
}

func bytesConverter() *converter {
	t := reflect.TypeFor[[]byte]()
	return &converter{
		typ: t,
		push: func(L *lua.LState, v reflect.Value) (lua.LValue, error) {
			return lua.LString(v.Bytes()), nil
		},
		get: func(L *lua.LState, lv lua.LValue) (reflect.Value, error) {
			s, ok := lv.(lua.LString)
			if !ok {
				return reflect.Value{}, conversionError("string", lv.Type().String())
			}
			return reflect.ValueOf([]byte(s)), nil
		},
	}
}

// lvalueConverter passes raw engine values through untouched, for host code
// that wants to handle a slot itself.
func lvalueConverter() *converter {
	t := reflect.TypeFor[lua.LValue]()
	return &converter{
		typ: t,
		push: func(L *lua.LState, v reflect.Value) (lua.LValue, error) {
			if v.IsNil() {
				return lua.LNil, nil
			}
			return v.Interface().(lua.LValue), nil
		},
		get: func(L *lua.LState, lv lua.LValue) (reflect.Value, error) {
			return reflect.ValueOf(&lv).Elem(), nil
		},
	}
}

// anyConverter handles the empty interface by dispatching on the dynamic
// type when pushing and producing natural Go values when getting.
func (b *Binding) anyConverter() *converter {
	t := reflect.TypeFor[any]()
	return &converter{
		typ: t,
		push: func(L *lua.LState, v reflect.Value) (lua.LValue, error) {
			if v.IsNil() {
				return lua.LNil, nil
			}
			elem := v.Elem()
			if lv, ok := elem.Interface().(lua.LValue); ok {
				return lv, nil
			}
			c, err := b.converterFor(elem.Type())
			if err != nil {
				return lua.LNil, err
			}
			return c.push(L, elem)
		},
		get: func(L *lua.LState, lv lua.LValue) (reflect.Value, error) {
			v, err := b.luaToAny(lv)
			if err != nil {
				return reflect.Value{}, err
			}
			rv := reflect.New(t).Elem()
			if v != nil {
				rv.Set(reflect.ValueOf(v))
			}
			return rv, nil
		},
	}
}

// luaToAny maps an engine value to the closest natural Go value. Tables with
// only positive integer keys become []any, other tables become
// map[string]any; bound objects yield the wrapped host value.
func (b *Binding) luaToAny(lv lua.LValue) (any, error) {
	switch v := lv.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(v), nil
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && math.Abs(f) <= float64(maxExactInt) {
			return int64(f), nil
		}
		return f, nil
	case lua.LString:
		return string(v), nil
	case *lua.LUserData:
		if h, ok := v.Value.(objectHandle); ok {
			if h.released() {
				return nil, releasedError(b.typeNameOf(lv))
			}
			return h.object(), nil
		}
		return v.Value, nil
	case *lua.LTable:
		return b.tableToAny(v)
	default:
		return lv, nil
	}
}

// tableToAny applies the sequence-or-record split: a table with a non-empty
// array part converts to []any from that part alone, so string keys in a
// mixed table are dropped; only a table with no array part converts to
// map[string]any.
func (b *Binding) tableToAny(tbl *lua.LTable) (any, error) {
	if n := tbl.Len(); n > 0 {
		seq := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			item, err := b.luaToAny(tbl.RawGetInt(i))
			if err != nil {
				return nil, err
			}
			seq = append(seq, item)
		}
		return seq, nil
	}
	m := make(map[string]any)
	var convErr error
	tbl.ForEach(func(k, v lua.LValue) {
		if convErr != nil {
			return
		}
		ks, ok := k.(lua.LString)
		if !ok {
			return
		}
		item, err := b.luaToAny(v)
		if err != nil {
			convErr = err
			return
		}
		m[string(ks)] = item
	})
	if convErr != nil {
		return nil, convErr
	}
	return m, nil
}

// funcConverter moves function values across the boundary. Pushing wraps the
// Go func with the invocation adapter and remembers the wrapper; getting
// either recovers a previously pushed func of the same type or wraps the Lua
// function in a Go-callable adapter performing a protected call.
func (b *Binding) funcConverter(t reflect.Type) (*converter, error) {
	if t.IsVariadic() {
		return nil, signatureError("cannot convert variadic function type %s", t)
	}
	// Validate parameter and result converters up front so failures surface
	// at registration, not mid-call.
	for i := 0; i < t.NumIn(); i++ {
		if _, err := b.converterFor(t.In(i)); err != nil {
			return nil, signatureError("function type %s: parameter %d: %s", t, i+1, err)
		}
	}
	nres := t.NumOut()
	hasErr := nres > 0 && t.Out(nres-1) == reflect.TypeFor[error]()
	if hasErr {
		nres--
	}
	for i := 0; i < nres; i++ {
		if _, err := b.converterFor(t.Out(i)); err != nil {
			return nil, signatureError("function type %s: result %d: %s", t, i+1, err)
		}
	}

	return &converter{
		typ: t,
		push: func(L *lua.LState, v reflect.Value) (lua.LValue, error) {
			if v.IsNil() {
				return lua.LNil, nil
			}
			lf, err := b.buildAdapter(v, nil, adapterOpts{name: t.String()})
			if err != nil {
				return lua.LNil, err
			}
			b.pushedFuncs[weak.Make(lf)] = v
			return lf, nil
		},
		get: func(L *lua.LState, lv lua.LValue) (reflect.Value, error) {
			lf, ok := lv.(*lua.LFunction)
			if !ok {
				return reflect.Value{}, conversionError("function", lv.Type().String())
			}
			if orig, ok := b.pushedFuncs[weak.Make(lf)]; ok && orig.Type() == t {
				return orig, nil
			}
			return b.wrapLuaFunc(t, lf, nres, hasErr), nil
		},
	}, nil
}

// wrapLuaFunc builds a Go func of type t that calls lf in the bound state.
// The call is protected; a Lua error goes to the trailing error result when
// t declares one and panics otherwise (recovered by the adapter when the
// call originated across the boundary).
func (b *Binding) wrapLuaFunc(t reflect.Type, lf *lua.LFunction, nres int, hasErr bool) reflect.Value {
	return reflect.MakeFunc(t, func(args []reflect.Value) []reflect.Value {
		fail := func(err error) []reflect.Value {
			if !hasErr {
				panic(err)
			}
			out := make([]reflect.Value, t.NumOut())
			for i := 0; i < nres; i++ {
				out[i] = reflect.Zero(t.Out(i))
			}
			out[nres] = reflect.ValueOf(&err).Elem()
			return out
		}

		largs := make([]lua.LValue, len(args))
		for i, a := range args {
			c, err := b.converterFor(a.Type())
			if err != nil {
				return fail(err)
			}
			lv, err := c.push(b.state, a)
			if err != nil {
				return fail(err)
			}
			largs[i] = lv
		}

		top := b.state.GetTop()
		err := b.state.CallByParam(lua.P{Fn: lf, NRet: nres, Protect: true}, largs...)
		if err != nil {
			return fail(hostError(err))
		}

		out := make([]reflect.Value, t.NumOut())
		for i := 0; i < nres; i++ {
			c, cerr := b.converterFor(t.Out(i))
			if cerr != nil {
				b.state.SetTop(top)
				return fail(cerr)
			}
			rv, gerr := c.get(b.state, b.state.Get(top+1+i))
			if gerr != nil {
				b.state.SetTop(top)
				return fail(gerr)
			}
			out[i] = rv
		}
		b.state.SetTop(top)
		if hasErr {
			out[nres] = reflect.Zero(reflect.TypeFor[error]())
		}
		return out
	})
}
