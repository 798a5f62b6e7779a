package luabind

import (
	"errors"
	"strings"
	"testing"
)

func TestFunctionCall(t *testing.T) {
	b := newTestBinding(t)
	b.Global().AddFunction("add", func(a, x int) int { return a + x })

	if err := b.DoString(`result = add(2, 3)`); err != nil {
		t.Fatalf("Failed to call add: %v", err)
	}
	if r, _ := Get[int](b, b.State().GetGlobal("result")); r != 5 {
		t.Errorf("add(2, 3) = %d, want 5", r)
	}
}

func TestOptionalParameterDefault(t *testing.T) {
	b := newTestBinding(t)
	b.Global().AddFunction("greet", func(name string) string {
		return "hello " + name
	}, Optional("world"))

	script := `
		a = greet()
		bb = greet(nil)
		c = greet("go")
	`
	if err := b.DoString(script); err != nil {
		t.Fatalf("Failed to call greet: %v", err)
	}
	for name, want := range map[string]string{"a": "hello world", "bb": "hello world", "c": "hello go"} {
		if got, _ := Get[string](b, b.State().GetGlobal(name)); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestOutParameters(t *testing.T) {
	b := newTestBinding(t)
	b.Global().AddFunction("divmod", func(a, x int, q, r *int) {
		*q = a / x
		*r = a % x
	}, Required(), Required(), Out(), Out())

	if err := b.DoString(`q, r = divmod(17, 5)`); err != nil {
		t.Fatalf("Failed to call divmod: %v", err)
	}
	if q, _ := Get[int](b, b.State().GetGlobal("q")); q != 3 {
		t.Errorf("q = %d, want 3", q)
	}
	if r, _ := Get[int](b, b.State().GetGlobal("r")); r != 2 {
		t.Errorf("r = %d, want 2", r)
	}
}

func TestInOutParameter(t *testing.T) {
	b := newTestBinding(t)
	b.Global().AddFunction("double", func(x *int) {
		*x *= 2
	}, InOut())

	if err := b.DoString(`v = double(21)`); err != nil {
		t.Fatalf("Failed to call double: %v", err)
	}
	if v, _ := Get[int](b, b.State().GetGlobal("v")); v != 42 {
		t.Errorf("v = %d, want 42", v)
	}
}

func TestReturnValuePrecedesOutParameters(t *testing.T) {
	b := newTestBinding(t)
	b.Global().AddFunction("split", func(s string, rest *string) string {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			*rest = ""
			return s
		}
		*rest = s[i+1:]
		return s[:i]
	}, Required(), Out())

	if err := b.DoString(`head, tail = split("one two three")`); err != nil {
		t.Fatalf("Failed to call split: %v", err)
	}
	if h, _ := Get[string](b, b.State().GetGlobal("head")); h != "one" {
		t.Errorf("head = %q, want one", h)
	}
	if tl, _ := Get[string](b, b.State().GetGlobal("tail")); tl != "two three" {
		t.Errorf("tail = %q, want %q", tl, "two three")
	}
}

func TestMissingRequiredArgument(t *testing.T) {
	b := newTestBinding(t)
	b.Global().AddFunction("need", func(x int) int { return x })

	err := b.DoString(`need()`)
	if err == nil {
		t.Fatal("Expected error for missing required argument")
	}
	if !strings.Contains(err.Error(), "bad argument #1 to 'need'") {
		t.Errorf("Error should carry position and name: %v", err)
	}
}

func TestExcessArgumentsIgnored(t *testing.T) {
	b := newTestBinding(t)
	b.Global().AddFunction("one", func(x int) int { return x })

	if err := b.DoString(`r = one(1, 2, 3)`); err != nil {
		t.Fatalf("Excess arguments should be ignored: %v", err)
	}
	if r, _ := Get[int](b, b.State().GetGlobal("r")); r != 1 {
		t.Errorf("r = %d, want 1", r)
	}
}

func TestHostErrorPassthrough(t *testing.T) {
	b := newTestBinding(t)
	b.Global().AddFunction("fail", func() error {
		return errors.New("host says no")
	})

	err := b.DoString(`fail()`)
	if err == nil || !strings.Contains(err.Error(), "host says no") {
		t.Errorf("Expected host error verbatim, got %v", err)
	}
	// Catchable with pcall like any runtime error.
	if err := b.DoString(`ok, msg = pcall(fail)`); err != nil {
		t.Fatalf("pcall should not propagate: %v", err)
	}
	if ok, _ := Get[bool](b, b.State().GetGlobal("ok")); ok {
		t.Error("pcall should report failure")
	}
	if msg, _ := Get[string](b, b.State().GetGlobal("msg")); !strings.Contains(msg, "host says no") {
		t.Errorf("pcall message = %q", msg)
	}
}

func TestHostPanicRecovered(t *testing.T) {
	b := newTestBinding(t)
	b.Global().AddFunction("explode", func() {
		panic("boom in host code")
	})

	err := b.DoString(`explode()`)
	if err == nil || !strings.Contains(err.Error(), "boom in host code") {
		t.Errorf("Expected recovered panic message, got %v", err)
	}
}

func TestTrailingErrorResultNotReturned(t *testing.T) {
	b := newTestBinding(t)
	b.Global().AddFunction("pair", func() (int, error) {
		return 7, nil
	})

	if err := b.DoString(`a, bb = pair()`); err != nil {
		t.Fatalf("Failed to call pair: %v", err)
	}
	if a, _ := Get[int](b, b.State().GetGlobal("a")); a != 7 {
		t.Errorf("a = %d, want 7", a)
	}
	if bv := b.State().GetGlobal("bb"); bv != nil && bv.String() != "nil" {
		t.Errorf("Trailing error should not produce a value, got %v", bv)
	}
}

func TestRegistrationValidation(t *testing.T) {
	b := newTestBinding(t)

	if b.Global().Module("m1").AddFunction("v", func(xs ...int) {}).Err() == nil {
		t.Error("Expected error for variadic callable")
	}
	if b.Global().Module("m2").AddFunction("n", 42).Err() == nil {
		t.Error("Expected error for non-function")
	}
	if b.Global().Module("m3").AddFunction("c", func(x int) {}, Required(), Required()).Err() == nil {
		t.Error("Expected error for spec-count mismatch")
	}
	if b.Global().Module("m4").AddFunction("o", func(x int) {}, Out()).Err() == nil {
		t.Error("Expected error for non-pointer out parameter")
	}
	if b.Global().Module("m5").AddFunction("d", func(x int) {}, Optional("nope")).Err() == nil {
		t.Error("Expected error for unconvertible default")
	}
	type unregistered struct{ ch chan int }
	if b.Global().Module("m6").AddFunction("u", func(x unregistered) {}).Err() == nil {
		t.Error("Expected error for unregistered parameter type")
	}
}
