package luabind

import (
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// Host objects cross into the engine through one of three wrapper variants,
// all implementing objectHandle and stored as the userdata's Value:
//
//   - embedded: the binding owns a copy; the class destructor runs exactly
//     once when the handle is collected.
//   - pointer: non-owning; release only tombstones the handle, the host
//     object is untouched and no path re-derives ownership from it.
//   - shared: a reference-counted Ref; the engine's handle holds one count,
//     the destructor runs when the count reaches zero from either side.
//
// Constness is not part of the handle; it lives in the proxy table the
// userdata is stamped with, so a const view of a shared object still
// participates in the same count.

type objectHandle interface {
	// object returns the host value, always as a pointer to the wrapped type.
	object() any
	// sharedRef returns the underlying counted reference, nil for the
	// embedded and pointer variants.
	sharedRef() refCounter
	release()
	released() bool
}

type embeddedHandle struct {
	obj  any
	dtor func(any)
	done bool
}

func (h *embeddedHandle) object() any           { return h.obj }
func (h *embeddedHandle) sharedRef() refCounter { return nil }
func (h *embeddedHandle) released() bool        { return h.done }

func (h *embeddedHandle) release() {
	if h.done {
		return
	}
	h.done = true
	if h.dtor != nil {
		h.dtor(h.obj)
	}
}

type pointerHandle struct {
	obj  any
	done bool
}

func (h *pointerHandle) object() any           { return h.obj }
func (h *pointerHandle) sharedRef() refCounter { return nil }
func (h *pointerHandle) released() bool        { return h.done }
func (h *pointerHandle) release()              { h.done = true }

type sharedHandle struct {
	ref  refCounter
	done bool
}

func (h *sharedHandle) object() any           { return h.ref.object() }
func (h *sharedHandle) sharedRef() refCounter { return h.ref }
func (h *sharedHandle) released() bool        { return h.done }

func (h *sharedHandle) release() {
	if h.done {
		return
	}
	h.done = true
	h.ref.decref()
}

// refCounter is the type-erased face of Ref[T].
type refCounter interface {
	object() any
	incref()
	decref()
	count() int64
}

// Ref is a reference-counted shared handle to a host object. Host code and
// the engine each hold counts; the destructor runs exactly once, when the
// count reaches zero from either side. The count is atomic; everything else
// about a Binding is single-threaded.
type Ref[T any] struct {
	core *refCore[T]
}

type refCore[T any] struct {
	n    atomic.Int64
	obj  *T
	dtor func(*T)
}

// NewRef creates a shared handle holding one count. dtor may be nil.
func NewRef[T any](obj *T, dtor func(*T)) Ref[T] {
	c := &refCore[T]{obj: obj, dtor: dtor}
	c.n.Store(1)
	return Ref[T]{core: c}
}

// Get returns the referenced object, or nil after the count reached zero.
func (r Ref[T]) Get() *T {
	if r.core == nil || r.core.n.Load() <= 0 {
		return nil
	}
	return r.core.obj
}

// Count returns the current reference count.
func (r Ref[T]) Count() int64 {
	if r.core == nil {
		return 0
	}
	return r.core.n.Load()
}

// Retain adds a count.
func (r Ref[T]) Retain() Ref[T] {
	r.core.n.Add(1)
	return r
}

// Release drops a count, running the destructor when it reaches zero.
func (r Ref[T]) Release() {
	r.core.decref()
}

func (c *refCore[T]) object() any { return c.obj }
func (c *refCore[T]) incref()     { c.n.Add(1) }
func (c *refCore[T]) count() int64 {
	return c.n.Load()
}

func (c *refCore[T]) decref() {
	if c.n.Add(-1) == 0 && c.dtor != nil {
		c.dtor(c.obj)
	}
}

// Const marks a pointer as const-qualified when pushed: the engine receives
// a const view of the object, through which only const members are
// reachable.
type Const[T any] struct {
	p *T
}

// AsConst wraps p in a const-qualified view.
func AsConst[T any](p *T) Const[T] {
	return Const[T]{p: p}
}

// Get returns the underlying pointer. Host code is trusted with it; the
// const contract binds the engine side only.
func (c Const[T]) Get() *T { return c.p }

// constHolder gives the adapter type-erased access to the wrapped pointer.
type constHolder interface {
	pointer() any
}

func (c Const[T]) pointer() any {
	if c.p == nil {
		return nil
	}
	return c.p
}

// IsShared reports whether lv wraps a shared (reference-counted) object.
// Only the shared variant answers true; the other variants never coerce.
func (b *Binding) IsShared(lv lua.LValue) bool {
	ud, ok := lv.(*lua.LUserData)
	if !ok {
		return false
	}
	h, ok := ud.Value.(objectHandle)
	return ok && !h.released() && h.sharedRef() != nil
}

// pushHandle stamps a handle with the class proxy table and, for owning
// variants, tracks it for collection.
func (b *Binding) pushHandle(ci *classInfo, h objectHandle, constQ, owning bool) *lua.LUserData {
	ud := b.state.NewUserData()
	ud.Value = h
	if constQ {
		ud.Metatable = ci.constInst.meta
	} else {
		ud.Metatable = ci.instance.meta
	}
	if owning {
		b.trackOwned(ud, h)
	}
	return ud
}

// pushEmbedded copies obj into a binding-owned handle.
func (b *Binding) pushEmbedded(ci *classInfo, obj any, constQ bool) *lua.LUserData {
	return b.pushHandle(ci, &embeddedHandle{obj: obj, dtor: ci.dtor}, constQ, true)
}

// pushPointer exposes obj without taking ownership.
func (b *Binding) pushPointer(ci *classInfo, obj any, constQ bool) *lua.LUserData {
	return b.pushHandle(ci, &pointerHandle{obj: obj}, constQ, false)
}

// pushShared exposes ref as a shared handle; the handle's release drops the
// engine's count. With transfer the engine adopts the caller's count, for
// constructor and result paths whose Ref would otherwise have no one left
// to release it. Without transfer the ref is retained, for the push front
// door where the host keeps holding its own count.
func (b *Binding) pushShared(ci *classInfo, ref refCounter, constQ, transfer bool) *lua.LUserData {
	if !transfer {
		ref.incref()
	}
	return b.pushHandle(ci, &sharedHandle{ref: ref}, constQ, true)
}
