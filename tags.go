package luabind

import (
	"reflect"

	lua "github.com/yuin/gopher-lua"
)

// Type identity is established by pointer-unique tags, one per (class,
// constness) pair per Binding. An exposed object's userdata metatable is the
// class proxy table, which carries the tag; verification compares tags by
// identity and never inspects names. Tags live until the Binding closes, so
// independent Bindings in one process never share them.

// TypeTag is the identity token for one registered class view.
type TypeTag struct {
	class  *classInfo
	constQ bool
	name   string
}

// Name returns the human-readable type name used in diagnostics.
func (t *TypeTag) Name() string { return t.name }

// IsConst reports whether this is the const-qualified view's tag.
func (t *TypeTag) IsConst() bool { return t.constQ }

// mintTags creates the class's tags once. Repeat calls are no-ops.
func (ci *classInfo) mintTags() {
	if ci.tag != nil {
		return
	}
	ci.tag = &TypeTag{class: ci, name: ci.typeName}
	ci.constTag = &TypeTag{class: ci, constQ: true, name: "const " + ci.typeName}
	ci.staticTag = &TypeTag{class: ci, name: "static " + ci.typeName}
}

// TagOf returns the identity tag of a bound object, or nil for anything
// else.
func (b *Binding) TagOf(lv lua.LValue) *TypeTag {
	pt := b.proxyOf(lv)
	if pt == nil || pt.static {
		return nil
	}
	if pt.constQ {
		return pt.class.constTag
	}
	return pt.class.tag
}

// proxyOf resolves the proxy table a value is stamped with, nil for
// non-userdata or foreign metatables.
func (b *Binding) proxyOf(lv lua.LValue) *proxyTable {
	ud, ok := lv.(*lua.LUserData)
	if !ok {
		return nil
	}
	mt, ok := ud.Metatable.(*lua.LTable)
	if !ok {
		return nil
	}
	return b.proxies[mt]
}

// assignableObject verifies that lv wraps an instance of want or one of its
// descendants and returns its handle. wantConst selects the view being
// requested: non-const access through a const-stamped handle is a
// const-violation error, distinct from a type mismatch. Failure messages
// carry both type names.
func (b *Binding) assignableObject(lv lua.LValue, want *classInfo, wantConst bool) (objectHandle, error) {
	wantName := want.typeName
	if wantConst {
		wantName = "const " + wantName
	}
	ud, ok := lv.(*lua.LUserData)
	if !ok {
		return nil, typeMismatchError(wantName, lv.Type().String())
	}
	mt, ok := ud.Metatable.(*lua.LTable)
	if !ok {
		return nil, signatureError("access '%s' : metatable is invalid", want.name)
	}
	pt, ok := b.proxies[mt]
	if !ok || pt.static {
		return nil, signatureError("access '%s' : metatable is invalid", want.name)
	}
	if pt.class.broken || want.broken {
		return nil, registrationFailedError(pt.class.name)
	}
	h, ok := ud.Value.(objectHandle)
	if !ok {
		return nil, typeMismatchError(wantName, pt.typeName)
	}
	if h.released() {
		return nil, releasedError(pt.typeName)
	}
	for c := pt.class; c != nil; c = c.super {
		if c == want {
			if !wantConst && pt.constQ {
				return nil, constViolationError(want.typeName)
			}
			return h, nil
		}
	}
	return nil, typeMismatchError(wantName, pt.typeName)
}

// exactObject is assignableObject without the ancestor walk: the value must
// be stamped with exactly this class and constness. Destruction paths use
// it; a base tag never matches a derived instance there.
func (b *Binding) exactObject(lv lua.LValue, want *classInfo, wantConst bool) (objectHandle, error) {
	wantName := want.typeName
	if wantConst {
		wantName = "const " + wantName
	}
	pt := b.proxyOf(lv)
	if pt == nil || pt.static || pt.class != want || pt.constQ != wantConst {
		got := lv.Type().String()
		if pt != nil {
			got = pt.typeName
		}
		return nil, typeMismatchError(wantName, got)
	}
	if want.broken {
		return nil, registrationFailedError(want.name)
	}
	h, ok := lv.(*lua.LUserData).Value.(objectHandle)
	if !ok {
		return nil, typeMismatchError(wantName, pt.typeName)
	}
	if h.released() {
		return nil, releasedError(pt.typeName)
	}
	return h, nil
}

// GetExact resolves lv into *T only when lv is stamped with exactly T's
// mutable view. Unlike Get, an instance of a derived class does not satisfy
// its base here; use it where substitutability must not apply.
func GetExact[T any](b *Binding, lv lua.LValue) (*T, error) {
	ci, ok := b.classes[reflect.TypeFor[T]()]
	if !ok {
		return nil, signatureError("no conversion registered for type %s", reflect.TypeFor[T]())
	}
	h, err := b.exactObject(lv, ci, false)
	if err != nil {
		return nil, err
	}
	return h.object().(*T), nil
}

// objectArg resolves lv into a typed pointer value for the reflect caller.
func (b *Binding) objectArg(lv lua.LValue, want *classInfo, wantConst bool) (reflect.Value, error) {
	h, err := b.assignableObject(lv, want, wantConst)
	if err != nil {
		return reflect.Value{}, err
	}
	p := reflect.ValueOf(h.object())
	if p.Type() != want.ptrType {
		// Derived instance: the host pointer is the derived type. Callers
		// registered on this class expect its own pointer type; the
		// registration layer guarantees derived classes embed the base as
		// their first field, so convert through unsafe-free field access.
		base, err := derivedToBase(p, want.ptrType)
		if err != nil {
			return reflect.Value{}, err
		}
		return base, nil
	}
	return p, nil
}

// derivedToBase converts *Derived to *Base when Derived embeds Base.
func derivedToBase(p reflect.Value, basePtr reflect.Type) (reflect.Value, error) {
	elem := p.Elem()
	baseType := basePtr.Elem()
	for elem.Kind() == reflect.Struct {
		if elem.Type() == baseType {
			return elem.Addr(), nil
		}
		if elem.NumField() == 0 || !elem.Type().Field(0).Anonymous {
			break
		}
		elem = elem.Field(0)
	}
	return reflect.Value{}, typeMismatchError(basePtr.String(), p.Type().String())
}
