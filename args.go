package luabind

// Argument specifications describe how a callable's Go parameters map to
// Lua argument slots. They are consumed entirely at registration time; the
// built adapter keeps only the resolved plan.
//
//   - Required: one input slot, must be present and convertible.
//   - Optional: one input slot, default substituted when nil or absent.
//   - Out: no input slot; the parameter must be a pointer, is
//     zero-initialized, and its final pointee is appended to the returns.
//   - InOut: one input slot into a pointer parameter, final pointee
//     appended to the returns.
//   - InOutOptional: InOut with a default.
//
// A nil spec list means all parameters are Required.

type argKind int

const (
	argRequired argKind = iota
	argOptional
	argOut
	argInOut
	argInOutOptional
)

// ArgSpec describes one parameter of a registered callable.
type ArgSpec struct {
	kind argKind
	def  any
}

// Required marks a mandatory input parameter.
func Required() ArgSpec { return ArgSpec{kind: argRequired} }

// Optional marks an input parameter with a default used when the argument
// is nil or absent. The default must be convertible to the parameter type;
// this is checked at registration.
func Optional(def any) ArgSpec { return ArgSpec{kind: argOptional, def: def} }

// Out marks a pure output parameter. The Go parameter must be a pointer.
func Out() ArgSpec { return ArgSpec{kind: argOut} }

// InOut marks a parameter that consumes an input slot and is also returned.
// The Go parameter must be a pointer.
func InOut() ArgSpec { return ArgSpec{kind: argInOut} }

// InOutOptional is InOut with a default for a nil or absent input.
func InOutOptional(def any) ArgSpec { return ArgSpec{kind: argInOutOptional, def: def} }

func (s ArgSpec) isInput() bool {
	return s.kind != argOut
}

func (s ArgSpec) isOutput() bool {
	return s.kind == argOut || s.kind == argInOut || s.kind == argInOutOptional
}

func (s ArgSpec) hasDefault() bool {
	return s.kind == argOptional || s.kind == argInOutOptional
}
