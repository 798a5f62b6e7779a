package luabind

import (
	"strings"
	"testing"
)

// Resource counts destructor runs for the ownership tests.
type Resource struct {
	Name   string
	closed int
}

func registerResource(t *testing.T, b *Binding, dtorCount *int) {
	t.Helper()
	cls := Class[Resource](b.Global(), "Resource").
		WithDestructor(func(r *Resource) {
			r.closed++
			*dtorCount++
		}).
		AddConstructor(func(name string) Resource {
			return Resource{Name: name}
		}).
		AddField("name", "Name", true)
	if err := cls.Err(); err != nil {
		t.Fatalf("Failed to register Resource: %v", err)
	}
}

func TestEmbeddedDestructorRunsOnceOnClose(t *testing.T) {
	dtors := 0
	b := New(nil)
	registerResource(t, b, &dtors)

	if err := b.DoString(`r = Resource("a")`); err != nil {
		t.Fatalf("Failed to construct: %v", err)
	}
	if dtors != 0 {
		t.Fatalf("Destructor ran before close: %d", dtors)
	}
	b.Close()
	if dtors != 1 {
		t.Errorf("Destructor ran %d times, want 1", dtors)
	}
	// Close is idempotent.
	b.Close()
	if dtors != 1 {
		t.Errorf("Second close reran destructor: %d", dtors)
	}
}

func TestExplicitReleaseAndTombstone(t *testing.T) {
	dtors := 0
	b := New(nil)
	defer b.Close()
	registerResource(t, b, &dtors)

	if err := b.DoString(`r = Resource("a")`); err != nil {
		t.Fatalf("Failed to construct: %v", err)
	}
	lv := b.State().GetGlobal("r")
	if err := b.Release(lv); err != nil {
		t.Fatalf("Failed to release: %v", err)
	}
	if dtors != 1 {
		t.Fatalf("Destructor ran %d times after release, want 1", dtors)
	}
	// Double release is safe.
	if err := b.Release(lv); err != nil {
		t.Errorf("Second release errored: %v", err)
	}
	if dtors != 1 {
		t.Errorf("Second release reran destructor: %d", dtors)
	}
	// Later access raises a released-object error.
	err := b.DoString(`x = r.name`)
	if err == nil || !strings.Contains(err.Error(), "released object") {
		t.Errorf("Expected released-object error, got %v", err)
	}
}

func TestCollectKeepsReachableHandles(t *testing.T) {
	dtors := 0
	b := New(nil)
	defer b.Close()
	registerResource(t, b, &dtors)

	if err := b.DoString(`r = Resource("a")`); err != nil {
		t.Fatalf("Failed to construct: %v", err)
	}
	// The userdata is reachable through the globals table; the sweep must
	// not release it.
	if n := b.Collect(); n != 0 {
		t.Errorf("Collect released %d reachable handles", n)
	}
	if dtors != 0 {
		t.Errorf("Destructor ran on reachable handle: %d", dtors)
	}
}

func TestPointerVariantIsNotOwned(t *testing.T) {
	dtors := 0
	b := New(nil)
	registerResource(t, b, &dtors)

	host := &Resource{Name: "host"}
	lv, err := Push(b, host)
	if err != nil {
		t.Fatalf("Failed to push pointer: %v", err)
	}
	b.State().SetGlobal("r", lv)
	if err := b.DoString(`r.name = "renamed"`); err != nil {
		t.Fatalf("Failed to write through binding: %v", err)
	}
	b.Close()
	if dtors != 0 {
		t.Errorf("Destructor ran %d times for pointer variant, want 0", dtors)
	}
	// The host object stays usable after the binding is gone.
	if host.Name != "renamed" {
		t.Errorf("Host object name = %q, want renamed", host.Name)
	}
	host.Name = "still mine"
}

func TestSharedLifetime(t *testing.T) {
	dtors := 0
	b := New(nil)
	registerResource(t, b, &dtors)

	ref := NewRef(&Resource{Name: "shared"}, func(r *Resource) { dtors++ })
	lv, err := Push(b, ref)
	if err != nil {
		t.Fatalf("Failed to push shared: %v", err)
	}
	if ref.Count() != 2 {
		t.Fatalf("Count after push = %d, want 2", ref.Count())
	}
	if !b.IsShared(lv) {
		t.Error("IsShared should report true for the shared variant")
	}

	// Engine-side release with a live host Ref keeps the object alive.
	if err := b.Release(lv); err != nil {
		t.Fatalf("Failed to release engine handle: %v", err)
	}
	if dtors != 0 {
		t.Fatalf("Destructor ran with live host reference: %d", dtors)
	}
	if ref.Get() == nil {
		t.Fatal("Host reference should still resolve")
	}

	// The last release on either side destroys exactly once.
	ref.Release()
	if dtors != 1 {
		t.Errorf("Destructor ran %d times, want 1", dtors)
	}
	if ref.Get() != nil {
		t.Error("Released ref should resolve to nil")
	}
	b.Close()
	if dtors != 1 {
		t.Errorf("Close after shared release reran destructor: %d", dtors)
	}
}

func TestSharedConstructorTransfersOwnership(t *testing.T) {
	dtors := 0
	b := New(nil)
	cls := Class[Resource](b.Global(), "Resource").
		AddConstructor(func(name string) Ref[Resource] {
			return NewRef(&Resource{Name: name}, func(r *Resource) { dtors++ })
		})
	if err := cls.Err(); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	if err := b.DoString(`r = Resource("a")`); err != nil {
		t.Fatalf("Failed to construct: %v", err)
	}
	lv := b.State().GetGlobal("r")
	if !b.IsShared(lv) {
		t.Error("Constructed object should report shared")
	}
	// The factory's count belongs to the engine handle now, so releasing
	// the handle destroys the object.
	if err := b.Release(lv); err != nil {
		t.Fatalf("Failed to release: %v", err)
	}
	if dtors != 1 {
		t.Errorf("Destructor ran %d times after engine release, want 1", dtors)
	}
	b.Close()
	if dtors != 1 {
		t.Errorf("Close reran destructor: %d", dtors)
	}
}

func TestSharedConstructorCloseDestroys(t *testing.T) {
	dtors := 0
	b := New(nil)
	cls := Class[Resource](b.Global(), "Resource").
		AddConstructor(func() Ref[Resource] {
			return NewRef(&Resource{}, func(r *Resource) { dtors++ })
		})
	if err := cls.Err(); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if err := b.DoString(`r = Resource()`); err != nil {
		t.Fatalf("Failed to construct: %v", err)
	}
	b.Close()
	if dtors != 1 {
		t.Errorf("Destructor ran %d times after close, want 1", dtors)
	}
}

func TestSharedResultTransfersOwnership(t *testing.T) {
	dtors := 0
	b := New(nil)
	registerResource(t, b, &dtors)
	b.Global().AddFunction("make", func() Ref[Resource] {
		return NewRef(&Resource{Name: "made"}, func(r *Resource) { dtors++ })
	})

	if err := b.DoString(`r = make()`); err != nil {
		t.Fatalf("Failed to call make: %v", err)
	}
	if err := b.Release(b.State().GetGlobal("r")); err != nil {
		t.Fatalf("Failed to release: %v", err)
	}
	if dtors != 1 {
		t.Errorf("Destructor ran %d times after release, want 1", dtors)
	}
	b.Close()
	if dtors != 1 {
		t.Errorf("Close reran destructor: %d", dtors)
	}
}

func TestSharedCloseReleasesEngineCount(t *testing.T) {
	dtors := 0
	b := New(nil)
	registerResource(t, b, &dtors)

	ref := NewRef(&Resource{Name: "shared"}, func(r *Resource) { dtors++ })
	if _, err := Push(b, ref); err != nil {
		t.Fatalf("Failed to push shared: %v", err)
	}
	ref.Release() // drop the host count first
	if dtors != 0 {
		t.Fatalf("Destructor ran with live engine count: %d", dtors)
	}
	b.Close()
	if dtors != 1 {
		t.Errorf("Destructor ran %d times after close, want 1", dtors)
	}
}

func TestExtractingSharedFromNonShared(t *testing.T) {
	b := newTestBinding(t)
	dtors := 0
	registerResource(t, b, &dtors)

	lv, err := Push(b, &Resource{Name: "plain"})
	if err != nil {
		t.Fatalf("Failed to push pointer: %v", err)
	}
	if b.IsShared(lv) {
		t.Error("Pointer variant must not report shared")
	}
	if _, err := Get[Ref[Resource]](b, lv); err == nil {
		t.Error("Expected error extracting Ref from non-shared object")
	} else if !strings.Contains(err.Error(), "shared") {
		t.Errorf("Error should mention shared: %v", err)
	}
}

func TestConstViewSharesLifetime(t *testing.T) {
	b := newTestBinding(t)
	dtors := 0
	registerResource(t, b, &dtors)

	obj := &Resource{Name: "c"}
	lv, err := Push(b, AsConst(obj))
	if err != nil {
		t.Fatalf("Failed to push const view: %v", err)
	}
	b.State().SetGlobal("r", lv)
	if err := b.DoString(`n = r.name`); err != nil {
		t.Fatalf("Const read failed: %v", err)
	}
	if n, _ := Get[string](b, b.State().GetGlobal("n")); n != "c" {
		t.Errorf("Const read = %q, want c", n)
	}
	err = b.DoString(`r.name = "x"`)
	if err == nil {
		t.Fatal("Expected const violation writing through const view")
	}
	if obj.Name != "c" {
		t.Errorf("Object modified through const view: %q", obj.Name)
	}
}
