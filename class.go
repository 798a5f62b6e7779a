package luabind

import (
	"reflect"

	lua "github.com/yuin/gopher-lua"
)

// Class registration and member dispatch.
//
// Every registered class owns three views: static (the script-facing class
// table, carrying constructors, static functions and constants), instance,
// and const-instance. Each view is a proxyTable: the script-facing table and
// instance userdata carry the view's metatable, whose __index/__newindex
// closures walk the view's own members, then its getters or setters, then
// the same view of the superclass. Members live in Go maps, never in the
// script-facing tables, so every access funnels through dispatch and
// read-only or const-mismatch stubs installed at registration fire with the
// precise member name.
//
// The const view shares the instance view's getter map and keeps its own
// setters, so reads behave identically through either view while writes
// through the const view hit const-mismatch stubs.

// proxyTable is one dispatch view of a class or module.
type proxyTable struct {
	// meta carries the dispatch closures; instance userdata and the outer
	// table are stamped with it. The proxies registry is keyed by meta, so
	// it doubles as the view's identity signature.
	meta  *lua.LTable
	outer *lua.LTable // script-facing table; nil for instance views

	class *classInfo // nil for module views
	mod   *Module    // nil for class views

	constQ   bool
	static   bool
	typeName string
	super    *proxyTable

	members map[string]lua.LValue
	getters map[string]*lua.LFunction
	setters map[string]*lua.LFunction

	// rawFallback marks the root module: unknown reads yield nil and
	// unknown writes store raw, preserving ordinary global semantics.
	rawFallback bool
}

// classInfo is the per-class registration record.
type classInfo struct {
	name     string // registration name within its module
	typeName string // diagnostic name, e.g. class<demo.Counter>

	goType    reflect.Type // T
	ptrType   reflect.Type // *T
	refType   reflect.Type // Ref[T]
	constType reflect.Type // Const[T]

	super *classInfo

	static    *proxyTable
	instance  *proxyTable
	constInst *proxyTable

	tag       *TypeTag
	constTag  *TypeTag
	staticTag *TypeTag

	dtor   func(any)
	broken bool
}

// newProxy creates a view, installs its dispatch closures, and registers it
// in the proxy signature map. withOuter adds a script-facing table stamped
// with the view's metatable.
func (b *Binding) newProxy(typeName string, withOuter bool) *proxyTable {
	pt := &proxyTable{
		meta:     b.state.NewTable(),
		typeName: typeName,
		members:  make(map[string]lua.LValue),
		getters:  make(map[string]*lua.LFunction),
		setters:  make(map[string]*lua.LFunction),
	}
	if withOuter {
		pt.outer = b.state.NewTable()
		b.state.SetMetatable(pt.outer, pt.meta)
	}
	b.proxies[pt.meta] = pt
	b.installDispatch(pt)
	return pt
}

// installDispatch wires __index and __newindex for one view.
func (b *Binding) installDispatch(pt *proxyTable) {
	pt.meta.RawSetString("__index", b.state.NewFunction(func(L *lua.LState) int {
		if pt.class != nil && pt.class.broken {
			b.raise(registrationFailedError(pt.class.name))
			return 0
		}
		self := L.Get(1)
		key := L.Get(2)
		ks, isStr := key.(lua.LString)
		if isStr {
			name := string(ks)
			for cur := pt; cur != nil; cur = cur.super {
				if v, ok := cur.members[name]; ok {
					L.Push(v)
					return 1
				}
				if g, ok := cur.getters[name]; ok {
					L.CallByParam(lua.P{Fn: g, NRet: 1}, self)
					return 1
				}
			}
		}
		L.Push(lua.LNil)
		return 1
	}))
	pt.meta.RawSetString("__newindex", b.state.NewFunction(func(L *lua.LState) int {
		if pt.class != nil && pt.class.broken {
			b.raise(registrationFailedError(pt.class.name))
			return 0
		}
		self := L.Get(1)
		key := L.Get(2)
		val := L.Get(3)
		if ks, ok := key.(lua.LString); ok {
			name := string(ks)
			for cur := pt; cur != nil; cur = cur.super {
				if s, ok := cur.setters[name]; ok {
					L.CallByParam(lua.P{Fn: s, NRet: 0}, self, val)
					return 0
				}
			}
		}
		if pt.rawFallback {
			L.RawSet(pt.outer, key, val)
			return 0
		}
		b.raise(newError(ErrReadOnly, "no writable member '%s'", lua.LVAsString(key)))
		return 0
	}))
}

// errorStub builds a function that raises err when dispatched to. Installed
// at registration so failures name the member precisely.
func (b *Binding) errorStub(err *Error) *lua.LFunction {
	return b.state.NewFunction(func(L *lua.LState) int {
		b.raise(err)
		return 0
	})
}

// ClassBuilder registers the members of one class. The first failed
// operation records its error, withdraws the class from its module, and
// turns later operations into no-ops; Err reports it.
type ClassBuilder[T any] struct {
	m   *Module
	ci  *classInfo
	err error
}

// Class begins (or resumes) registration of T as a class named name in mod.
// Repeat calls for the same T return the existing registration.
func Class[T any](mod *Module, name string) *ClassBuilder[T] {
	t := reflect.TypeFor[T]()
	cb := &ClassBuilder[T]{m: mod}
	if t.Kind() == reflect.Func {
		cb.err = signatureError("cannot bind function type %s as class '%s'", t, name)
		return cb
	}
	if ci, ok := mod.b.classes[t]; ok {
		cb.ci = ci
		return cb
	}
	cb.ci = newClass[T](mod, name, nil)
	return cb
}

// Extend begins registration of T as a class deriving from Base, which must
// already be registered. T must embed Base as its first field so base
// methods can receive derived instances.
func Extend[T any, Base any](mod *Module, name string) *ClassBuilder[T] {
	t := reflect.TypeFor[T]()
	bt := reflect.TypeFor[Base]()
	cb := &ClassBuilder[T]{m: mod}
	if ci, ok := mod.b.classes[t]; ok {
		cb.ci = ci
		return cb
	}
	super, ok := mod.b.classes[bt]
	if !ok {
		cb.err = signatureError("base class %s of '%s' is not registered", bt, name)
		return cb
	}
	if t.Kind() != reflect.Struct || t.NumField() == 0 ||
		!t.Field(0).Anonymous || t.Field(0).Type != bt {
		cb.err = signatureError("class '%s' must embed %s as its first field", name, bt)
		return cb
	}
	cb.ci = newClass[T](mod, name, super)
	return cb
}

// newClass creates the registration record, the three views, and the
// class-type converters, and publishes the static table in the module.
func newClass[T any](mod *Module, name string, super *classInfo) *classInfo {
	b := mod.b
	t := reflect.TypeFor[T]()
	ci := &classInfo{
		name:      name,
		typeName:  "class<" + t.String() + ">",
		goType:    t,
		ptrType:   reflect.TypeFor[*T](),
		refType:   reflect.TypeFor[Ref[T]](),
		constType: reflect.TypeFor[Const[T]](),
		super:     super,
	}
	ci.mintTags()

	ci.static = b.newProxy("static "+ci.typeName, true)
	ci.instance = b.newProxy(ci.typeName, false)
	ci.constInst = b.newProxy("const "+ci.typeName, false)
	ci.static.class, ci.instance.class, ci.constInst.class = ci, ci, ci
	ci.static.static = true
	ci.constInst.constQ = true
	// Const reads resolve through the same getters as mutable reads.
	ci.constInst.getters = ci.instance.getters
	if super != nil {
		ci.static.super = super.static
		ci.instance.super = super.instance
		ci.constInst.super = super.constInst
	}

	registerClassConverters[T](b, ci)
	b.classes[t] = ci
	mod.set(name, ci.static.outer)
	b.Logf(1, "luabind: registered class %s as %s", t, name)
	return ci
}

// registerClassConverters installs the four converters a registered class
// contributes: *T (pointer variant), T (embedded copy), Ref[T] (shared),
// and Const[T] (const view).
func registerClassConverters[T any](b *Binding, ci *classInfo) {
	b.register(&converter{
		typ: ci.ptrType,
		push: func(L *lua.LState, v reflect.Value) (lua.LValue, error) {
			if ci.broken {
				return lua.LNil, registrationFailedError(ci.name)
			}
			if v.IsNil() {
				return lua.LNil, nil
			}
			return b.pushPointer(ci, v.Interface(), false), nil
		},
		get: func(L *lua.LState, lv lua.LValue) (reflect.Value, error) {
			return b.objectArg(lv, ci, false)
		},
	})
	b.register(&converter{
		typ: ci.goType,
		push: func(L *lua.LState, v reflect.Value) (lua.LValue, error) {
			if ci.broken {
				return lua.LNil, registrationFailedError(ci.name)
			}
			p := reflect.New(ci.goType)
			p.Elem().Set(v)
			return b.pushEmbedded(ci, p.Interface(), false), nil
		},
		get: func(L *lua.LState, lv lua.LValue) (reflect.Value, error) {
			p, err := b.objectArg(lv, ci, true)
			if err != nil {
				return reflect.Value{}, err
			}
			out := reflect.New(ci.goType).Elem()
			out.Set(p.Elem())
			return out, nil
		},
	})
	b.register(&converter{
		typ: ci.refType,
		push: func(L *lua.LState, v reflect.Value) (lua.LValue, error) {
			if ci.broken {
				return lua.LNil, registrationFailedError(ci.name)
			}
			r := v.Interface().(Ref[T])
			if r.core == nil {
				return lua.LNil, nil
			}
			return b.pushShared(ci, r.core, false, false), nil
		},
		get: func(L *lua.LState, lv lua.LValue) (reflect.Value, error) {
			h, err := b.assignableObject(lv, ci, false)
			if err != nil {
				return reflect.Value{}, err
			}
			core, ok := h.sharedRef().(*refCore[T])
			if !ok {
				return reflect.Value{}, conversionError("shared "+ci.typeName, b.typeNameOf(lv))
			}
			// Aliases the engine's count; the caller retains to keep it.
			return reflect.ValueOf(Ref[T]{core: core}), nil
		},
	})
	b.register(&converter{
		typ: ci.constType,
		push: func(L *lua.LState, v reflect.Value) (lua.LValue, error) {
			if ci.broken {
				return lua.LNil, registrationFailedError(ci.name)
			}
			c := v.Interface().(Const[T])
			if c.p == nil {
				return lua.LNil, nil
			}
			return b.pushPointer(ci, c.p, true), nil
		},
		get: func(L *lua.LState, lv lua.LValue) (reflect.Value, error) {
			p, err := b.objectArg(lv, ci, true)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(AsConst(p.Interface().(*T))), nil
		},
	})
}

// fail records the first error and withdraws the class entirely: the module
// entry, the registration record, and the four class converters go away,
// and the broken mark makes dispatch and verification raise for any
// instance or adapter created before the failure. Nothing of a failed
// registration stays usable.
func (cb *ClassBuilder[T]) fail(err error) *ClassBuilder[T] {
	if cb.err != nil {
		return cb
	}
	cb.err = err
	if cb.ci != nil {
		ci := cb.ci
		ci.broken = true
		cb.m.unset(ci.name)
		b := cb.m.b
		delete(b.classes, ci.goType)
		delete(b.convs, ci.goType)
		delete(b.convs, ci.ptrType)
		delete(b.convs, ci.refType)
		delete(b.convs, ci.constType)
	}
	return cb
}

func (cb *ClassBuilder[T]) ok() bool {
	return cb.err == nil && cb.ci != nil && !cb.ci.broken
}

// Err returns the first registration error, nil when the class is sound.
func (cb *ClassBuilder[T]) Err() error { return cb.err }

// EndClass finishes the registration and returns the enclosing module.
func (cb *ClassBuilder[T]) EndClass() *Module { return cb.m }

// WithDestructor sets the destructor run when a binding-owned copy is
// collected. It does not affect the pointer variant.
func (cb *ClassBuilder[T]) WithDestructor(fn func(*T)) *ClassBuilder[T] {
	if !cb.ok() {
		return cb
	}
	cb.ci.dtor = func(obj any) { fn(obj.(*T)) }
	return cb
}

// AddConstructor makes the class callable. The factory's return type selects
// the storage variant: T is copied into a binding-owned handle, *T is
// exposed without ownership, Ref[T] is retained as a shared handle. A
// trailing error result aborts construction with the error raised.
func (cb *ClassBuilder[T]) AddConstructor(fn any, specs ...ArgSpec) *ClassBuilder[T] {
	if !cb.ok() {
		return cb
	}
	lf, err := cb.m.b.buildAdapter(reflect.ValueOf(fn), orNil(specs), adapterOpts{
		name:     cb.ci.name,
		firstArg: 2, // slot 1 is the class table, pushed by __call
		ctor:     cb.ci,
	})
	if err != nil {
		return cb.fail(err)
	}
	cb.ci.static.meta.RawSetString("__call", lf)
	return cb
}

// AddMethod registers a mutable method, fn's first parameter being *T. The
// const view receives a stub raising a const-violation naming the method.
func (cb *ClassBuilder[T]) AddMethod(name string, fn any, specs ...ArgSpec) *ClassBuilder[T] {
	if !cb.ok() {
		return cb
	}
	b := cb.m.b
	lf, err := b.buildAdapter(reflect.ValueOf(fn), orNil(specs), adapterOpts{
		name:     name,
		receiver: cb.ci,
		firstArg: 2,
	})
	if err != nil {
		return cb.fail(err)
	}
	cb.ci.instance.members[name] = lf
	cb.ci.constInst.members[name] = b.errorStub(constMethodError(name))
	return cb
}

// AddConstMethod registers a method callable through both views.
func (cb *ClassBuilder[T]) AddConstMethod(name string, fn any, specs ...ArgSpec) *ClassBuilder[T] {
	if !cb.ok() {
		return cb
	}
	lf, err := cb.m.b.buildAdapter(reflect.ValueOf(fn), orNil(specs), adapterOpts{
		name:      name,
		receiver:  cb.ci,
		constRecv: true,
		firstArg:  2,
	})
	if err != nil {
		return cb.fail(err)
	}
	cb.ci.instance.members[name] = lf
	cb.ci.constInst.members[name] = lf
	return cb
}

// AddField exposes an exported struct field under name. Reads go through
// both views; writes require the mutable view, and writable=false installs
// read-only stubs on both.
func (cb *ClassBuilder[T]) AddField(name, goField string, writable bool) *ClassBuilder[T] {
	if !cb.ok() {
		return cb
	}
	b := cb.m.b
	ci := cb.ci
	if ci.goType.Kind() != reflect.Struct {
		return cb.fail(signatureError("'%s': %s is not a struct", name, ci.goType))
	}
	sf, ok := ci.goType.FieldByName(goField)
	if !ok || sf.PkgPath != "" {
		return cb.fail(signatureError("'%s': %s has no exported field %s", name, ci.goType, goField))
	}

	getFn := reflect.MakeFunc(
		reflect.FuncOf([]reflect.Type{ci.ptrType}, []reflect.Type{sf.Type}, false),
		func(args []reflect.Value) []reflect.Value {
			return []reflect.Value{args[0].Elem().FieldByIndex(sf.Index)}
		})
	getter, err := b.buildAdapter(getFn, []ArgSpec{}, adapterOpts{
		name:      name,
		receiver:  ci,
		constRecv: true,
		firstArg:  2,
	})
	if err != nil {
		return cb.fail(err)
	}
	ci.instance.getters[name] = getter

	if !writable {
		stub := b.errorStub(readOnlyError(name))
		ci.instance.setters[name] = stub
		ci.constInst.setters[name] = stub
		return cb
	}
	setFn := reflect.MakeFunc(
		reflect.FuncOf([]reflect.Type{ci.ptrType, sf.Type}, nil, false),
		func(args []reflect.Value) []reflect.Value {
			args[0].Elem().FieldByIndex(sf.Index).Set(args[1])
			return nil
		})
	setter, err := b.buildAdapter(setFn, []ArgSpec{Required()}, adapterOpts{
		name:     name,
		receiver: ci,
		firstArg: 2,
	})
	if err != nil {
		return cb.fail(err)
	}
	ci.instance.setters[name] = setter
	ci.constInst.setters[name] = b.errorStub(constViolationError(ci.typeName))
	return cb
}

// AddProperty registers a computed member. getter takes *T and returns the
// value; setter takes *T and the value, nil for a read-only property.
func (cb *ClassBuilder[T]) AddProperty(name string, getter, setter any) *ClassBuilder[T] {
	if !cb.ok() {
		return cb
	}
	b := cb.m.b
	ci := cb.ci
	g, err := b.buildAdapter(reflect.ValueOf(getter), []ArgSpec{}, adapterOpts{
		name:      name,
		receiver:  ci,
		constRecv: true,
		firstArg:  2,
	})
	if err != nil {
		return cb.fail(err)
	}
	ci.instance.getters[name] = g

	if setter == nil {
		stub := b.errorStub(readOnlyError(name))
		ci.instance.setters[name] = stub
		ci.constInst.setters[name] = stub
		return cb
	}
	s, err := b.buildAdapter(reflect.ValueOf(setter), []ArgSpec{Required()}, adapterOpts{
		name:     name,
		receiver: ci,
		firstArg: 2,
	})
	if err != nil {
		return cb.fail(err)
	}
	ci.instance.setters[name] = s
	ci.constInst.setters[name] = b.errorStub(constViolationError(ci.typeName))
	return cb
}

// AddStaticFunction registers a plain function on the class table.
func (cb *ClassBuilder[T]) AddStaticFunction(name string, fn any, specs ...ArgSpec) *ClassBuilder[T] {
	if !cb.ok() {
		return cb
	}
	lf, err := cb.m.b.buildAdapter(reflect.ValueOf(fn), orNil(specs), adapterOpts{name: name})
	if err != nil {
		return cb.fail(err)
	}
	cb.ci.static.members[name] = lf
	return cb
}

// AddStaticVariable exposes *ptr as a class-table member.
func (cb *ClassBuilder[T]) AddStaticVariable(name string, ptr any, writable bool) *ClassBuilder[T] {
	if !cb.ok() {
		return cb
	}
	g, s, err := cb.m.b.variableAccessors(name, ptr, writable)
	if err != nil {
		return cb.fail(err)
	}
	cb.ci.static.getters[name] = g
	cb.ci.static.setters[name] = s
	return cb
}

// AddConstant converts value once and stores it read-only on the class
// table.
func (cb *ClassBuilder[T]) AddConstant(name string, value any) *ClassBuilder[T] {
	if !cb.ok() {
		return cb
	}
	b := cb.m.b
	lv, err := b.pushAny(value)
	if err != nil {
		return cb.fail(signatureError("constant '%s': %s", name, err))
	}
	cb.ci.static.members[name] = lv
	return cb
}

// variableAccessors builds the getter and setter pair for a pointer-backed
// variable, shared by class statics and module variables.
func (b *Binding) variableAccessors(name string, ptr any, writable bool) (getter, setter *lua.LFunction, err error) {
	pv := reflect.ValueOf(ptr)
	if !pv.IsValid() || pv.Kind() != reflect.Pointer || pv.IsNil() {
		return nil, nil, signatureError("variable '%s' requires a non-nil pointer", name)
	}
	vt := pv.Type().Elem()

	getFn := reflect.MakeFunc(
		reflect.FuncOf(nil, []reflect.Type{vt}, false),
		func([]reflect.Value) []reflect.Value {
			return []reflect.Value{pv.Elem()}
		})
	getter, err = b.buildAdapter(getFn, nil, adapterOpts{name: name})
	if err != nil {
		return nil, nil, err
	}
	if !writable {
		return getter, b.errorStub(readOnlyError(name)), nil
	}
	setFn := reflect.MakeFunc(
		reflect.FuncOf([]reflect.Type{vt}, nil, false),
		func(args []reflect.Value) []reflect.Value {
			pv.Elem().Set(args[0])
			return nil
		})
	setter, err = b.buildAdapter(setFn, nil, adapterOpts{name: name, firstArg: 2})
	if err != nil {
		return nil, nil, err
	}
	return getter, setter, nil
}

// pushAny converts an arbitrary host value through the empty-interface
// converter.
func (b *Binding) pushAny(value any) (lua.LValue, error) {
	c := b.convs[reflect.TypeFor[any]()]
	return c.push(b.state, reflect.ValueOf(&value).Elem())
}

func orNil(specs []ArgSpec) []ArgSpec {
	if len(specs) == 0 {
		return nil
	}
	return specs
}
