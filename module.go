package luabind

import (
	"reflect"

	lua "github.com/yuin/gopher-lua"
)

// Module is a registration scope: the root module is the engine's globals
// table, nested modules are tables dispatched through the same proxy
// machinery as class views. Functions and constants registered on the root
// module are ordinary globals; on nested modules every access funnels
// through dispatch, so module members are closed to script mutation.
type Module struct {
	b        *Binding
	name     string
	pt       *proxyTable
	parent   *Module
	children map[string]*Module
	err      error
}

// newRootModule wraps the globals table. Reads and writes of unregistered
// names keep ordinary global semantics via the raw fallback.
func newRootModule(b *Binding) *Module {
	pt := &proxyTable{
		meta:        b.state.NewTable(),
		outer:       b.state.G.Global,
		typeName:    "module<_G>",
		members:     make(map[string]lua.LValue),
		getters:     make(map[string]*lua.LFunction),
		setters:     make(map[string]*lua.LFunction),
		rawFallback: true,
	}
	b.proxies[pt.meta] = pt
	b.installDispatch(pt)
	b.state.SetMetatable(pt.outer, pt.meta)
	m := &Module{b: b, name: "_G", pt: pt, children: make(map[string]*Module)}
	pt.mod = m
	return m
}

// Module begins or returns the nested module called name.
func (m *Module) Module(name string) *Module {
	if sub, ok := m.children[name]; ok {
		return sub
	}
	pt := m.b.newProxy("module<"+name+">", true)
	sub := &Module{b: m.b, name: name, pt: pt, parent: m, children: make(map[string]*Module)}
	pt.mod = sub
	m.set(name, pt.outer)
	m.children[name] = sub
	m.b.Logf(1, "luabind: registered module %s", name)
	return sub
}

// End returns the enclosing module, the root from itself.
func (m *Module) End() *Module {
	if m.parent == nil {
		return m
	}
	return m.parent
}

// Err returns the first registration error on this module.
func (m *Module) Err() error { return m.err }

func (m *Module) fail(err error) *Module {
	if m.err == nil {
		m.err = err
	}
	return m
}

func (m *Module) ok() bool { return m.err == nil }

// AddFunction registers a Go callable under name.
func (m *Module) AddFunction(name string, fn any, specs ...ArgSpec) *Module {
	if !m.ok() {
		return m
	}
	lf, err := m.b.buildAdapter(reflect.ValueOf(fn), orNil(specs), adapterOpts{name: name})
	if err != nil {
		return m.fail(err)
	}
	m.set(name, lf)
	return m
}

// AddConstant converts value once and stores it. On nested modules the
// entry is read-only; assignment raises through dispatch.
func (m *Module) AddConstant(name string, value any) *Module {
	if !m.ok() {
		return m
	}
	lv, err := m.b.pushAny(value)
	if err != nil {
		return m.fail(signatureError("constant '%s': %s", name, err))
	}
	m.set(name, lv)
	return m
}

// AddVariable exposes *ptr as a module member; writable=false installs a
// read-only stub naming the member.
func (m *Module) AddVariable(name string, ptr any, writable bool) *Module {
	if !m.ok() {
		return m
	}
	g, s, err := m.b.variableAccessors(name, ptr, writable)
	if err != nil {
		return m.fail(err)
	}
	m.pt.getters[name] = g
	m.pt.setters[name] = s
	return m
}

// AddProperty registers a computed module member: getter takes no
// parameters, setter takes the value, nil for read-only.
func (m *Module) AddProperty(name string, getter, setter any) *Module {
	if !m.ok() {
		return m
	}
	g, err := m.b.buildAdapter(reflect.ValueOf(getter), []ArgSpec{}, adapterOpts{name: name})
	if err != nil {
		return m.fail(err)
	}
	m.pt.getters[name] = g
	if setter == nil {
		m.pt.setters[name] = m.b.errorStub(readOnlyError(name))
		return m
	}
	s, err := m.b.buildAdapter(reflect.ValueOf(setter), []ArgSpec{Required()}, adapterOpts{name: name, firstArg: 2})
	if err != nil {
		return m.fail(err)
	}
	m.pt.setters[name] = s
	return m
}

// set publishes a member: raw into the globals for the root module, into
// the dispatch map for nested ones.
func (m *Module) set(name string, v lua.LValue) {
	if m.pt.rawFallback {
		m.pt.outer.RawSetString(name, v)
		return
	}
	m.pt.members[name] = v
}

func (m *Module) unset(name string) {
	if m.pt.rawFallback {
		m.pt.outer.RawSetString(name, lua.LNil)
		return
	}
	delete(m.pt.members, name)
}
