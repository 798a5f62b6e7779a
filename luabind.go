// Package luabind lets Go code register functions, classes, and data with an
// embedded Lua state (github.com/yuin/gopher-lua) and lets Lua code call back
// into Go with automatic type conversion, object lifetime management, and
// error translation across the call boundary.
//
// A Binding wraps one Lua state. Registration happens through builders
// reachable from Global():
//
//	b := luabind.New(nil)
//	defer b.Close()
//	mod := b.Global().Module("demo")
//	mod.AddFunction("add", func(a, b int) int { return a + b })
//	cls := luabind.Class[Counter](mod, "Counter")
//	cls.AddConstructor(func() Counter { return Counter{} }).
//		AddMethod("increment", (*Counter).Increment).
//		AddField("count", "Count", false).
//		EndClass()
//	b.DoString(`local c = demo.Counter(); c:increment()`)
//
// A Binding is single-threaded: one instance must not be driven from multiple
// goroutines without external serialization. Registration is append-only;
// once registration is complete the class records are safe to read from the
// one goroutine driving the state.
package luabind

import (
	"reflect"
	"runtime"
	"weak"

	lua "github.com/yuin/gopher-lua"
)

// Binding owns one Lua state together with the conversion registry, the
// class/type-tag records, and the registry of owning object handles. All
// cross-boundary state is keyed by the Binding, never process-global, so
// independent instances in one process do not share tags or classes.
type Binding struct {
	state *lua.LState
	opts  Options

	convs   map[reflect.Type]*converter
	classes map[reflect.Type]*classInfo
	proxies map[*lua.LTable]*proxyTable

	// Go functions pushed into the engine, so get() can recover the
	// original callable instead of wrapping a wrapper. Keyed weakly so a
	// wrapper the engine no longer references is collectible; Collect
	// sweeps the dead entries.
	pushedFuncs map[weak.Pointer[lua.LFunction]]reflect.Value

	// Owning handles (embedded and shared variants) tracked for collection.
	// The engine never runs __gc, so sweeping is driven by Collect, Release
	// and Close.
	handles []handleEntry

	root   *Module
	closed bool
}

// handleEntry pairs an owning handle with a weak reference to its userdata.
// The weak reference lets the Go collector reclaim the engine-side value;
// the sweep then releases the host object.
type handleEntry struct {
	wk weak.Pointer[lua.LUserData]
	h  objectHandle
}

// New creates a Binding around a fresh Lua state. nil opts selects
// DefaultOptions.
func New(opts *Options) *Binding {
	if opts == nil {
		opts = DefaultOptions()
	}
	L := lua.NewState()
	b := &Binding{
		state:       L,
		opts:        *opts,
		convs:       make(map[reflect.Type]*converter),
		classes:     make(map[reflect.Type]*classInfo),
		proxies:     make(map[*lua.LTable]*proxyTable),
		pushedFuncs: make(map[weak.Pointer[lua.LFunction]]reflect.Value),
	}

	if opts.OpenLibraries {
		lua.OpenBase(L)
		lua.OpenTable(L)
		lua.OpenString(L)
		lua.OpenMath(L)
	}

	b.registerBuiltinConverters()
	b.root = newRootModule(b)
	return b
}

// State exposes the underlying Lua state for direct engine access.
func (b *Binding) State() *lua.LState {
	return b.state
}

// Global returns the root module, backed by the engine's globals table.
// Classes and modules registered on it are reachable by name from scripts.
func (b *Binding) Global() *Module {
	return b.root
}

// Logf logs a message gated by the configured verbosity.
func (b *Binding) Logf(level int, format string, args ...any) {
	b.opts.logf(level, format, args...)
}

// DoString runs a chunk of Lua source in the bound state.
func (b *Binding) DoString(source string) error {
	return b.state.DoString(source)
}

// DoFile runs a Lua file in the bound state.
func (b *Binding) DoFile(path string) error {
	return b.state.DoFile(path)
}

// Collect sweeps the owning-handle registry, releasing every handle whose
// engine-side userdata has been garbage collected. Live entries are
// compacted in place. Returns the number of handles released.
func (b *Binding) Collect() int {
	runtime.GC()
	released := 0
	n := 0
	for i := range b.handles {
		if b.handles[i].wk.Value() != nil {
			b.handles[n] = b.handles[i]
			n++
			continue
		}
		b.handles[i].h.release()
		released++
	}
	b.handles = b.handles[:n]
	for k := range b.pushedFuncs {
		if k.Value() == nil {
			delete(b.pushedFuncs, k)
		}
	}
	if released > 0 {
		b.Logf(2, "luabind: collected %d handles", released)
	}
	return released
}

// Release explicitly collects one exposed object. The handle is released
// (running the embedded destructor or decrementing the shared count, a no-op
// for the pointer variant) and left as a tombstone: later access from Lua
// raises a released-object error.
func (b *Binding) Release(lv lua.LValue) error {
	ud, ok := lv.(*lua.LUserData)
	if !ok {
		return conversionError("userdata", lv.Type().String())
	}
	h, ok := ud.Value.(objectHandle)
	if !ok {
		return conversionError("bound object", "foreign userdata")
	}
	if h.released() {
		return nil
	}
	h.release()
	return nil
}

// Close releases every live owning handle exactly once and closes the Lua
// state. Type tags and class records die with the Binding.
func (b *Binding) Close() {
	if b.closed {
		return
	}
	b.closed = true
	for i := range b.handles {
		b.handles[i].h.release()
	}
	b.handles = nil
	b.state.Close()
}

// trackOwned registers an owning handle for collection sweeps.
func (b *Binding) trackOwned(ud *lua.LUserData, h objectHandle) {
	b.handles = append(b.handles, handleEntry{wk: weak.Make(ud), h: h})
}

// typeNameOf returns the human-readable name used in diagnostics for a Lua
// value: the registration-time class name for bound objects, the engine type
// name otherwise.
func (b *Binding) typeNameOf(lv lua.LValue) string {
	if ud, ok := lv.(*lua.LUserData); ok {
		if mt, ok := ud.Metatable.(*lua.LTable); ok {
			if pt, ok := b.proxies[mt]; ok {
				return pt.typeName
			}
		}
	}
	return lv.Type().String()
}

// raise surfaces an error through the engine's error mechanism. This is the
// one sanctioned non-local exit; every marshalling step below it reports
// errors as values.
func (b *Binding) raise(err error) {
	b.state.RaiseError("%s", err.Error())
}
