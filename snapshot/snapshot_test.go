package snapshot

import (
	"errors"
	"testing"

	"github.com/chazu/objcore/vm"
)

func newNodeClass() *vm.Class {
	return vm.NewClass("Node", nil,
		vm.PropDecl{Name: "label", Visibility: vm.Public, Default: vm.FromString("")},
		vm.PropDecl{Name: "secret", Visibility: vm.Private, Default: vm.FromInt(0)},
		vm.PropDecl{Name: "next", Visibility: vm.Public, Default: vm.Null},
	)
}

func set(t *testing.T, obj *vm.Object, ctx *vm.Class, name string, v vm.Value) {
	t.Helper()
	if err := obj.SetProp(ctx, name, v); err != nil {
		t.Fatalf("set %s: %v", name, err)
	}
}

func get(t *testing.T, obj *vm.Object, ctx *vm.Class, name string) vm.Value {
	t.Helper()
	v, err := obj.Prop(ctx, name)
	if err != nil {
		t.Fatalf("get %s: %v", name, err)
	}
	return v
}

// buildCycle returns a -> b -> a with a nested array on a.
func buildCycle(t *testing.T, rt *vm.Runtime, cls *vm.Class) *vm.Object {
	t.Helper()
	a, err := rt.NewInstance(cls)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := rt.NewInstance(cls)
	set(t, a, nil, "label", vm.FromString("a"))
	set(t, a, cls, "secret", vm.FromInt(42))
	set(t, b, nil, "label", vm.FromString("b"))
	set(t, a, nil, "next", vm.FromObject(b))
	set(t, b, nil, "next", vm.FromObject(a))
	set(t, a, nil, "tags", vm.FromArray(vm.NewArrayFrom(
		"0", vm.FromString("x"),
		"1", vm.FromArray(vm.NewArrayFrom("deep", vm.FromDouble(1.5))),
	)))
	b.DecRef()
	return a
}

func TestCaptureCycle(t *testing.T) {
	rt := vm.NewRuntime(vm.DefaultOptions())
	cls := newNodeClass()
	a := buildCycle(t, rt, cls)

	snap, err := Capture(rt, a)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Objects) != 2 {
		t.Fatalf("objects = %d, want 2", len(snap.Objects))
	}
	if snap.Root != a.ID() || snap.Task != rt.ID.String() {
		t.Errorf("root=%d task=%s", snap.Root, snap.Task)
	}

	rec := snap.Lookup(a.ID())
	keys := make([]string, len(rec.Props))
	for i, e := range rec.Props {
		keys[i] = e.Key
	}
	want := []string{"label", "\x00Node\x00secret", "next", "tags"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %q, want %q", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key %d = %q, want %q", i, keys[i], want[i])
		}
	}
	if n := rec.Props[2].Value; n.Kind != vm.KindObject || snap.Lookup(n.Object) == nil {
		t.Errorf("next = %+v", n)
	}
	if n := rec.Props[3].Value; n.Kind != vm.KindArray || len(n.Array) != 2 || n.Array[1].Value.Array[0].Value.Double != 1.5 {
		t.Errorf("tags = %+v", n)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	rt := vm.NewRuntime(vm.DefaultOptions())
	a := buildCycle(t, rt, newNodeClass())
	snap, _ := Capture(rt, a)

	data, err := Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Root != snap.Root || len(got.Objects) != len(snap.Objects) {
		t.Fatalf("round trip lost records: %+v", got)
	}

	again, _ := Marshal(got)
	if string(again) != string(data) {
		t.Error("canonical encoding is not stable")
	}

	if _, err := Unmarshal([]byte{0xff, 0x00}); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestDigestIgnoresTask(t *testing.T) {
	cls := newNodeClass()
	rt1 := vm.NewRuntime(vm.DefaultOptions())
	rt2 := vm.NewRuntime(vm.DefaultOptions())
	s1, _ := Capture(rt1, buildCycle(t, rt1, cls))
	s2, _ := Capture(rt2, buildCycle(t, rt2, cls))

	d1, err := Digest(s1)
	if err != nil {
		t.Fatal(err)
	}
	d2, _ := Digest(s2)
	if d1 != d2 {
		t.Error("equal graphs from different tasks should have equal digests")
	}
	if s1.Task == "" {
		t.Error("Digest must not clear the caller's task id")
	}
}

func TestRestore(t *testing.T) {
	cls := newNodeClass()
	src := vm.NewRuntime(vm.DefaultOptions())
	src.Classes.Register(cls)
	snap, _ := Capture(src, buildCycle(t, src, cls))

	dst := vm.NewRuntime(vm.DefaultOptions())
	dst.Classes.Register(cls)
	root, err := Restore(dst, snap)
	if err != nil {
		t.Fatal(err)
	}
	if root.Class() != cls || root.RefCount() != 2 {
		t.Errorf("root class=%s refcount=%d", root.ClassName(), root.RefCount())
	}
	if got := get(t, root, cls, "secret"); got.Int() != 42 {
		t.Errorf("secret = %v", got)
	}
	b := get(t, root, nil, "next").Object()
	if b == nil || get(t, b, nil, "label").Str() != "b" {
		t.Fatalf("next = %v", b)
	}
	if get(t, b, nil, "next").Object() != root {
		t.Error("cycle not restored")
	}
	tags := get(t, root, nil, "tags").Array()
	if tags == nil || tags.At("1").Array().At("deep").Double() != 1.5 {
		t.Errorf("tags = %v", tags)
	}
}

func TestRestoreUnknownClassBecomesStdClass(t *testing.T) {
	src := vm.NewRuntime(vm.DefaultOptions())
	obj, _ := src.NewInstance(vm.NewClass("Gone", nil,
		vm.PropDecl{Name: "v", Visibility: vm.Public, Default: vm.FromInt(7)}))
	snap, _ := Capture(src, obj)

	dst := vm.NewRuntime(vm.DefaultOptions())
	root, err := Restore(dst, snap)
	if err != nil {
		t.Fatal(err)
	}
	if root.Class() != dst.StdClass() {
		t.Errorf("class = %s, want stdClass", root.ClassName())
	}
	if got := get(t, root, nil, "v"); got.Int() != 7 {
		t.Errorf("v = %v", got)
	}
}

func TestSleepAndWakeup(t *testing.T) {
	rt := vm.NewRuntime(vm.DefaultOptions())
	cls := vm.NewClass("Session", nil,
		vm.PropDecl{Name: "user", Visibility: vm.Public, Default: vm.FromString("ann")},
		vm.PropDecl{Name: "conn", Visibility: vm.Public, Default: vm.FromString("socket")},
		vm.PropDecl{Name: "awake", Visibility: vm.Public, Default: vm.FromBool(false)},
	)
	cls.AddMethodFunc(vm.MethodSleep, func(*vm.Runtime, *vm.Object, []vm.Value) (vm.Value, error) {
		return vm.FromArray(vm.NewArrayFrom("0", vm.FromString("user"))), nil
	})
	cls.AddMethodFunc(vm.MethodWakeup, func(rt *vm.Runtime, this *vm.Object, _ []vm.Value) (vm.Value, error) {
		return vm.Null, this.SetProp(nil, "awake", vm.FromBool(true))
	})
	rt.Classes.Register(cls)

	obj, _ := rt.NewInstance(cls)
	snap, err := Capture(rt, obj)
	if err != nil {
		t.Fatal(err)
	}
	if props := snap.Objects[0].Props; len(props) != 1 || props[0].Key != "user" {
		t.Fatalf("props = %+v, want only user", props)
	}

	set(t, obj, nil, "conn", vm.Null)
	restored, err := Restore(rt, snap)
	if err != nil {
		t.Fatal(err)
	}
	if !get(t, restored, nil, "awake").Bool() {
		t.Error("__wakeup did not run")
	}
	if got := get(t, restored, nil, "conn"); got.Str() != "socket" {
		t.Errorf("conn = %v, want the declared default", got)
	}
}

func TestRestoreErrors(t *testing.T) {
	rt := vm.NewRuntime(vm.DefaultOptions())
	if _, err := Restore(rt, &Snapshot{Root: 9}); !errors.Is(err, ErrUnknownRoot) {
		t.Errorf("err = %v, want ErrUnknownRoot", err)
	}

	bad := &Snapshot{Root: 1, Objects: []Record{{
		ID:    1,
		Class: "stdClass",
		Props: []Entry{{Key: "x", Value: Node{Kind: vm.KindObject, Object: 5}}},
	}}}
	if _, err := Restore(rt, bad); !errors.Is(err, ErrBadNode) {
		t.Errorf("err = %v, want ErrBadNode", err)
	}
	if n := rt.Objects().LiveCount(); n != 0 {
		t.Errorf("failed restore leaked %d objects", n)
	}
}

func TestCaptureTooDeep(t *testing.T) {
	rt := vm.NewRuntime(vm.DefaultOptions())
	obj, _ := rt.NewInstance(rt.StdClass())
	nested := vm.NewArray()
	for i := 0; i < MaxDepth+1; i++ {
		nested = vm.NewArrayFrom("0", vm.FromArray(nested))
	}
	set(t, obj, nil, "deep", vm.FromArray(nested))

	if _, err := Capture(rt, obj); !errors.Is(err, ErrTooDeep) {
		t.Errorf("err = %v, want ErrTooDeep", err)
	}
}

func TestRestoreImmutableProperties(t *testing.T) {
	point := vm.NewClass("Point", nil,
		vm.PropDecl{Name: "x", Visibility: vm.Public, Attrs: vm.PropImmutable, Default: vm.FromInt(0)},
	)
	point.AddMethodFunc(vm.MethodConstruct, func(rt *vm.Runtime, this *vm.Object, args []vm.Value) (vm.Value, error) {
		return vm.Null, this.SetProp(nil, "x", args[0])
	})

	src := vm.NewRuntime(vm.DefaultOptions())
	src.Classes.Register(point)
	p, err := src.NewInstanceWithArgs(point, vm.FromInt(7))
	if err != nil {
		t.Fatal(err)
	}
	snap, err := Capture(src, p)
	if err != nil {
		t.Fatal(err)
	}

	dst := vm.NewRuntime(vm.DefaultOptions())
	dst.Classes.Register(point)
	restored, err := Restore(dst, snap)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := get(t, restored, nil, "x"); got.Int() != 7 {
		t.Errorf("x = %v, want 7", got)
	}
	if err := restored.SetProp(nil, "x", vm.FromInt(8)); !errors.Is(err, vm.ErrImmutableProperty) {
		t.Errorf("write after restore: err = %v, want ErrImmutableProperty", err)
	}
}
