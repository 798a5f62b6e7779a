package luabind

import (
	"fmt"
	"reflect"

	lua "github.com/yuin/gopher-lua"
)

// The invocation adapter turns any Go callable plus an optional argument
// spec list into an engine function. Reflection runs once, at registration:
// the spec list is validated against the callable's signature, converters
// and defaults are resolved, and the built plan is captured in the closure.
// At call time the plan only moves values.
//
// All call-time failures, receiver verification, argument conversion, a
// non-nil trailing error result, and panics recovered from host code, are
// aggregated into one error value and surfaced through a single RaiseError
// at the closure boundary, message preserved verbatim.

type ctorStorage int

const (
	ctorNone ctorStorage = iota
	ctorEmbedded
	ctorPointer
	ctorShared
	ctorConstPointer
)

type adapterOpts struct {
	name string
	// receiver, when set, resolves the callable's first parameter from Lua
	// slot 1 via the identity walk.
	receiver  *classInfo
	constRecv bool
	// firstArg is the first Lua slot consumed by ordinary parameters.
	// 1 for free and static functions, 2 for methods (slot 1 is self) and
	// constructors (slot 1 is the static table, pushed by the call
	// metamethod).
	firstArg int
	// ctor selects constructor mode: the single result is wrapped and
	// stamped per its storage variant instead of converted.
	ctor *classInfo
}

type paramPlan struct {
	spec ArgSpec
	typ  reflect.Type
	conv *converter
	def  reflect.Value
}

type adapter struct {
	b       *Binding
	name    string
	fn      reflect.Value
	opts    adapterOpts
	params  []paramPlan
	results []*converter
	hasErr  bool
	storage ctorStorage
}

// buildAdapter validates fn against specs and opts and returns the engine
// function. Any error aborts the registration.
func (b *Binding) buildAdapter(fn reflect.Value, specs []ArgSpec, opts adapterOpts) (*lua.LFunction, error) {
	if opts.name == "" {
		opts.name = "?"
	}
	if opts.firstArg == 0 {
		opts.firstArg = 1
	}
	if !fn.IsValid() || fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, signatureError("'%s' is not a function", opts.name)
	}
	ft := fn.Type()
	if ft.IsVariadic() {
		return nil, signatureError("cannot bind variadic function '%s'", opts.name)
	}

	first := 0
	if opts.receiver != nil {
		if ft.NumIn() == 0 || ft.In(0) != opts.receiver.ptrType {
			return nil, signatureError("method '%s' must take %s as its first parameter",
				opts.name, opts.receiver.ptrType)
		}
		first = 1
	}
	nparams := ft.NumIn() - first
	if specs == nil {
		specs = make([]ArgSpec, nparams)
	}
	if len(specs) != nparams {
		return nil, signatureError("'%s': %d argument specs for %d parameters",
			opts.name, len(specs), nparams)
	}

	a := &adapter{b: b, name: opts.name, fn: fn, opts: opts}

	for i := 0; i < nparams; i++ {
		pt := ft.In(first + i)
		spec := specs[i]
		plan := paramPlan{spec: spec, typ: pt}
		ct := pt
		if spec.isOutput() {
			if pt.Kind() != reflect.Pointer {
				return nil, signatureError("'%s': output parameter %d must be a pointer, have %s",
					opts.name, i+1, pt)
			}
			ct = pt.Elem()
		}
		c, err := b.converterFor(ct)
		if err != nil {
			return nil, signatureError("'%s': parameter %d: %s", opts.name, i+1, err)
		}
		plan.conv = c
		if spec.hasDefault() {
			dv, err := convertDefault(spec.def, ct)
			if err != nil {
				return nil, signatureError("'%s': parameter %d default: %s", opts.name, i+1, err)
			}
			plan.def = dv
		}
		a.params = append(a.params, plan)
	}

	nres := ft.NumOut()
	a.hasErr = nres > 0 && ft.Out(nres-1) == reflect.TypeFor[error]()
	if a.hasErr {
		nres--
	}

	if opts.ctor != nil {
		ci := opts.ctor
		if nres != 1 {
			return nil, signatureError("constructor for '%s' must return one value", ci.name)
		}
		switch ft.Out(0) {
		case ci.goType:
			a.storage = ctorEmbedded
		case ci.ptrType:
			a.storage = ctorPointer
		case ci.refType:
			a.storage = ctorShared
		case ci.constType:
			a.storage = ctorConstPointer
		default:
			return nil, signatureError("constructor for '%s' must return %s, %s, %s or %s, have %s",
				ci.name, ci.goType, ci.ptrType, ci.refType, ci.constType, ft.Out(0))
		}
	} else {
		for i := 0; i < nres; i++ {
			rt := ft.Out(i)
			if ci := b.classForRefType(rt); ci != nil {
				a.results = append(a.results, b.refTransferConverter(ci))
				continue
			}
			c, err := b.converterFor(rt)
			if err != nil {
				return nil, signatureError("'%s': result %d: %s", opts.name, i+1, err)
			}
			a.results = append(a.results, c)
		}
	}

	return b.state.NewFunction(func(L *lua.LState) int {
		n, err := a.call(L)
		if err != nil {
			b.raise(err)
		}
		return n
	}), nil
}

// call executes the plan: receiver, arguments, invoke, pushes.
func (a *adapter) call(L *lua.LState) (int, error) {
	// A script may have captured the class table before its registration
	// failed; the constructor must not run for a withdrawn class.
	if a.opts.ctor != nil && a.opts.ctor.broken {
		return 0, registrationFailedError(a.opts.ctor.name)
	}
	ft := a.fn.Type()
	args := make([]reflect.Value, ft.NumIn())
	first := 0
	if a.opts.receiver != nil {
		recv, err := a.b.objectArg(L.Get(1), a.opts.receiver, a.opts.constRecv)
		if err != nil {
			return 0, err
		}
		args[0] = recv
		first = 1
	}

	slot := a.opts.firstArg
	for i, p := range a.params {
		var val reflect.Value
		if !p.spec.isInput() {
			val = reflect.Zero(p.typ.Elem())
		} else {
			lv := L.Get(slot)
			slot++
			if lv == lua.LNil && p.spec.hasDefault() {
				val = p.def
			} else {
				v, err := p.conv.get(L, lv)
				if err != nil {
					return 0, argError(i+1, a.name, err)
				}
				val = v
			}
		}
		if p.spec.isOutput() {
			ptr := reflect.New(p.typ.Elem())
			ptr.Elem().Set(val)
			args[first+i] = ptr
		} else {
			args[first+i] = val
		}
	}

	results, err := a.safeCall(args)
	if err != nil {
		return 0, err
	}
	if a.hasErr {
		last := results[len(results)-1]
		if !last.IsNil() {
			return 0, hostError(last.Interface().(error))
		}
		results = results[:len(results)-1]
	}

	n := 0
	if a.opts.ctor != nil {
		ud, err := a.pushConstructed(results[0])
		if err != nil {
			return 0, err
		}
		L.Push(ud)
		n++
	} else {
		for i, c := range a.results {
			lv, err := c.push(L, results[i])
			if err != nil {
				return n, err
			}
			L.Push(lv)
			n++
		}
	}
	for i, p := range a.params {
		if !p.spec.isOutput() {
			continue
		}
		lv, err := p.conv.push(L, args[first+i].Elem())
		if err != nil {
			return n, err
		}
		L.Push(lv)
		n++
	}
	return n, nil
}

// safeCall invokes the callable, converting a panic in host code into an
// error with the message preserved.
func (a *adapter) safeCall(args []reflect.Value) (results []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			switch e := r.(type) {
			case *Error:
				err = e
			case error:
				err = hostError(e)
			default:
				err = hostError(fmt.Errorf("%v", r))
			}
		}
	}()
	return a.fn.Call(args), nil
}

// refHolder gives the adapter type-erased access to a Ref's counter.
type refHolder interface {
	counter() refCounter
}

func (r Ref[T]) counter() refCounter { return r.core }

// classForRefType resolves the class whose shared-handle type is t.
func (b *Binding) classForRefType(t reflect.Type) *classInfo {
	for _, ci := range b.classes {
		if ci.refType == t {
			return ci
		}
	}
	return nil
}

// refTransferConverter pushes a returned Ref by adopting its count: the
// callable's own reference moves to the engine handle instead of being
// retained a second time, which would leave the object unreleasable.
func (b *Binding) refTransferConverter(ci *classInfo) *converter {
	return &converter{
		typ: ci.refType,
		push: func(L *lua.LState, v reflect.Value) (lua.LValue, error) {
			if ci.broken {
				return lua.LNil, registrationFailedError(ci.name)
			}
			r, ok := v.Interface().(refHolder)
			if !ok || r.counter() == nil {
				return lua.LNil, nil
			}
			return b.pushShared(ci, r.counter(), false, true), nil
		},
	}
}

// pushConstructed wraps a constructor result per its storage variant.
func (a *adapter) pushConstructed(rv reflect.Value) (*lua.LUserData, error) {
	ci := a.opts.ctor
	switch a.storage {
	case ctorEmbedded:
		p := reflect.New(ci.goType)
		p.Elem().Set(rv)
		return a.b.pushEmbedded(ci, p.Interface(), false), nil
	case ctorPointer:
		if rv.IsNil() {
			return nil, hostError(fmt.Errorf("constructor for '%s' returned nil", ci.name))
		}
		return a.b.pushPointer(ci, rv.Interface(), false), nil
	case ctorShared:
		ref, ok := rv.Interface().(refHolder)
		if !ok || ref.counter() == nil {
			return nil, hostError(fmt.Errorf("constructor for '%s' returned an empty Ref", ci.name))
		}
		// The factory's count moves to the engine handle.
		return a.b.pushShared(ci, ref.counter(), false, true), nil
	case ctorConstPointer:
		cv, ok := rv.Interface().(constHolder)
		if !ok || cv.pointer() == nil {
			return nil, hostError(fmt.Errorf("constructor for '%s' returned nil", ci.name))
		}
		return a.b.pushPointer(ci, cv.pointer(), true), nil
	}
	return nil, signatureError("constructor for '%s' has no storage variant", ci.name)
}

// convertDefault coerces a registration-time default into the parameter
// type, allowing the usual Go numeric conversions.
func convertDefault(def any, t reflect.Type) (reflect.Value, error) {
	if def == nil {
		return reflect.Zero(t), nil
	}
	dv := reflect.ValueOf(def)
	if dv.Type() == t {
		return dv, nil
	}
	if dv.Type().ConvertibleTo(t) {
		k := t.Kind()
		dk := dv.Type().Kind()
		numeric := func(k reflect.Kind) bool {
			return k >= reflect.Int && k <= reflect.Float64
		}
		if numeric(k) && numeric(dk) || k == dk {
			return dv.Convert(t), nil
		}
	}
	return reflect.Value{}, conversionError(t.String(), dv.Type().String())
}
