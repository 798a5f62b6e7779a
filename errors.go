package luabind

import "fmt"

// The binding reports every failure as a plain error value; the invocation
// adapter is the single place where an error becomes a Lua runtime error
// (via RaiseError). Kinds are distinguished so tests and host code can tell
// a type mismatch from a const violation without parsing messages.

// ErrorKind classifies a binding error.
type ErrorKind int

const (
	// ErrConversion - a Lua value cannot satisfy a requested conversion.
	ErrConversion ErrorKind = iota
	// ErrTypeIdentity - an object handle's tag does not match the required
	// class, and no ancestor matches either.
	ErrTypeIdentity
	// ErrConstViolation - mutable access requested through a const view.
	ErrConstViolation
	// ErrReadOnly - assignment to a member with no setter.
	ErrReadOnly
	// ErrSignature - a registration-time mismatch between a callable and
	// its argument specification. Aborts the registration.
	ErrSignature
	// ErrHost - an error or panic escaping host code, message preserved.
	ErrHost
	// ErrReleased - access to an object handle that was already released.
	ErrReleased
)

// Error is the error type produced by the binding core.
type Error struct {
	Kind ErrorKind
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// conversionError reports a failed value conversion.
func conversionError(expected, got string) *Error {
	return newError(ErrConversion, "%s expected, got %s", expected, got)
}

// typeMismatchError reports a failed object identity check. Both names are
// the human-readable registration-time type names.
func typeMismatchError(expected, got string) *Error {
	return newError(ErrTypeIdentity, "%s expected, got %s", expected, got)
}

func constViolationError(typeName string) *Error {
	return newError(ErrConstViolation, "non-const %s required, got const object", typeName)
}

func constMethodError(name string) *Error {
	return newError(ErrConstViolation, "member function '%s' cannot be called on const object", name)
}

func readOnlyError(name string) *Error {
	return newError(ErrReadOnly, "member '%s' is read-only", name)
}

func releasedError(typeName string) *Error {
	return newError(ErrReleased, "attempt to use released object of type %s", typeName)
}

func signatureError(format string, args ...any) *Error {
	return newError(ErrSignature, format, args...)
}

// registrationFailedError marks access to a class whose registration was
// withdrawn after a failed builder operation.
func registrationFailedError(name string) *Error {
	return newError(ErrSignature, "class '%s' registration failed", name)
}

func hostError(cause error) *Error {
	return &Error{Kind: ErrHost, msg: cause.Error()}
}

// argError decorates a conversion failure with the argument position and
// callable name, in the engine's customary format.
func argError(pos int, fname string, cause error) *Error {
	kind := ErrConversion
	if be, ok := cause.(*Error); ok {
		kind = be.Kind
	}
	return newError(kind, "bad argument #%d to '%s' (%s)", pos, fname, cause.Error())
}
