package cli

import (
	"strings"
	"testing"

	"github.com/zot/luabind"
)

func newHostBinding(t *testing.T) *luabind.Binding {
	t.Helper()
	b := luabind.New(nil)
	t.Cleanup(b.Close)
	if err := registerHostModule(b); err != nil {
		t.Fatalf("Failed to register host module: %v", err)
	}
	return b
}

func TestHostModule(t *testing.T) {
	b := newHostBinding(t)

	script := `
		v = host.version
		missing = host.getenv("LUABIND_TEST_UNSET_VAR", "fallback")
		mins, secs = host.splitTime(125)
	`
	if err := b.DoString(script); err != nil {
		t.Fatalf("Failed to run script: %v", err)
	}
	if v, _ := luabind.Get[string](b, b.State().GetGlobal("v")); v != "1.0" {
		t.Errorf("version = %q, want 1.0", v)
	}
	if m, _ := luabind.Get[string](b, b.State().GetGlobal("missing")); m != "fallback" {
		t.Errorf("getenv default = %q, want fallback", m)
	}
	if mins, _ := luabind.Get[int](b, b.State().GetGlobal("mins")); mins != 2 {
		t.Errorf("mins = %d, want 2", mins)
	}
	if secs, _ := luabind.Get[float64](b, b.State().GetGlobal("secs")); secs != 5 {
		t.Errorf("secs = %v, want 5", secs)
	}
}

func TestHostStopwatch(t *testing.T) {
	b := newHostBinding(t)

	script := `
		w = host.Stopwatch("build")
		label = w.label
		e = w:elapsed()
		w:reset()
	`
	if err := b.DoString(script); err != nil {
		t.Fatalf("Failed to use Stopwatch: %v", err)
	}
	if l, _ := luabind.Get[string](b, b.State().GetGlobal("label")); l != "build" {
		t.Errorf("label = %q, want build", l)
	}
	if e, _ := luabind.Get[float64](b, b.State().GetGlobal("e")); e < 0 {
		t.Errorf("elapsed = %v, want >= 0", e)
	}
}

func TestEvalLine(t *testing.T) {
	b := newHostBinding(t)

	out := evalLine(b, "1 + 2")
	if len(out) != 1 || out[0] != "3" {
		t.Errorf("evalLine expression = %v, want [3]", out)
	}
	// Statements fall back to plain compilation and produce no output.
	if out := evalLine(b, "x = 5"); len(out) != 0 {
		t.Errorf("evalLine statement = %v, want none", out)
	}
	out = evalLine(b, "x")
	if len(out) != 1 || out[0] != "5" {
		t.Errorf("evalLine variable = %v, want [5]", out)
	}
	// Errors report without panicking.
	out = evalLine(b, "error('oops')")
	if len(out) != 1 || !strings.Contains(out[0], "oops") {
		t.Errorf("evalLine error = %v", out)
	}
}
