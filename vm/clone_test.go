package vm

import (
	"errors"
	"testing"
)

func TestCloneIndependence(t *testing.T) {
	rt, _ := newTestRuntime(t)
	cls := NewClass("Doc", nil,
		pub("title", FromString("a")),
		PropDecl{Name: "tags", Visibility: Public, Attrs: PropDeepInit, Default: FromArray(NewArray())},
	)
	orig := mustNew(t, rt, cls)
	mustSet(t, orig, nil, "dyn", FromInt(1))
	cell, err := orig.PropD(nil, "tags")
	if err != nil {
		t.Fatal(err)
	}
	separateArray(cell).Set("0", FromString("x"))

	clone, err := rt.Clone(orig)
	if err != nil {
		t.Fatal(err)
	}
	if clone == orig || clone.ID() == orig.ID() || clone.RefCount() != 1 {
		t.Fatalf("clone id=%d refcount=%d", clone.ID(), clone.RefCount())
	}

	mustSet(t, clone, nil, "title", FromString("b"))
	mustSet(t, clone, nil, "dyn", FromInt(2))
	cell, _ = clone.PropD(nil, "tags")
	separateArray(cell).Set("1", FromString("y"))

	if got := mustProp(t, orig, nil, "title"); got.Str() != "a" {
		t.Errorf("orig title = %v", got)
	}
	if got := mustProp(t, orig, nil, "dyn"); got.Int() != 1 {
		t.Errorf("orig dyn = %v", got)
	}
	if tags := mustProp(t, orig, nil, "tags").Array(); tags.Len() != 1 {
		t.Errorf("orig tags = %v, want 1 element", tags.Keys())
	}
	if tags := mustProp(t, clone, nil, "tags").Array(); tags.Len() != 2 {
		t.Errorf("clone tags = %v, want 2 elements", tags.Keys())
	}
}

func TestCloneSharedReferenceStaysShared(t *testing.T) {
	rt, _ := newTestRuntime(t)
	obj := mustNew(t, rt, NewClass("Aliased", nil, pub("v", FromInt(1))))
	r, _ := obj.VGetProp(nil, "v")
	r.refCount++ // held elsewhere

	clone, err := obj.Clone()
	if err != nil {
		t.Fatal(err)
	}
	r.Value = FromInt(7)
	if got := mustProp(t, clone, nil, "v"); got.Int() != 7 {
		t.Errorf("clone v = %v, want aliased 7", got)
	}
}

func TestCloneNoDupGetsDefault(t *testing.T) {
	rt, _ := newTestRuntime(t)
	cls := NewClass("Cached", nil,
		pub("data", FromInt(0)),
		PropDecl{Name: "memo", Visibility: Public, Attrs: PropNoDup, Default: Null},
	)
	obj := mustNew(t, rt, cls)
	mustSet(t, obj, nil, "data", FromInt(5))
	mustSet(t, obj, nil, "memo", FromString("computed"))

	clone, _ := rt.Clone(obj)
	if got := mustProp(t, clone, nil, "data"); got.Int() != 5 {
		t.Errorf("data = %v, want 5", got)
	}
	if got := mustProp(t, clone, nil, "memo"); !got.IsNull() {
		t.Errorf("memo = %v, want default null", got)
	}
}

func TestCloneHook(t *testing.T) {
	rt, _ := newTestRuntime(t)
	var seen *Object
	cls := NewClass("Hooked", nil, pub("copies", FromInt(0)))
	cls.AddMethodFunc(MethodClone, func(rt *Runtime, this *Object, args []Value) (Value, error) {
		seen = this
		_, err := this.IncDecProp(nil, PreInc, "copies")
		return Null, err
	})
	obj := mustNew(t, rt, cls)

	var clones int
	rt.SetObserver(ObserverFunc(func(ev Event) {
		if ev.Kind == EventClone {
			clones++
		}
	}))

	clone, err := rt.Clone(obj)
	if err != nil {
		t.Fatal(err)
	}
	if seen != clone {
		t.Error("__clone should run on the copy")
	}
	if got := mustProp(t, clone, nil, "copies"); got.Int() != 1 {
		t.Errorf("clone copies = %v", got)
	}
	if got := mustProp(t, obj, nil, "copies"); got.Int() != 0 {
		t.Errorf("original copies = %v", got)
	}
	if clones != 1 {
		t.Errorf("clone events = %d", clones)
	}
}

func TestCloneHookFailureReleasesCopy(t *testing.T) {
	rt, _ := newTestRuntime(t)
	cls := NewClass("Refuses", nil).AddMethodFunc(MethodClone, func(*Runtime, *Object, []Value) (Value, error) {
		return Null, errors.New("no copies")
	})
	obj := mustNew(t, rt, cls)
	if _, err := rt.Clone(obj); err == nil {
		t.Fatal("expected error from __clone")
	}
	if rt.Objects().LiveCount() != 1 {
		t.Errorf("LiveCount = %d, want 1", rt.Objects().LiveCount())
	}
}

func TestCloneNonCloneable(t *testing.T) {
	rt, _ := newTestRuntime(t)
	wh, err := rt.NewWaitHandle(FromInt(1))
	if err != nil {
		t.Fatal(err)
	}
	_, err = rt.Clone(wh)
	if !errors.Is(err, ErrNonCloneable) || !errors.Is(err, ErrIllegalConstruction) {
		t.Errorf("err = %v, want ErrNonCloneable wrapping ErrIllegalConstruction", err)
	}
}

func TestCloneBuiltins(t *testing.T) {
	rt, _ := newTestRuntime(t)
	m, _ := rt.NewMap(NewArrayFrom("k", FromInt(1)))
	mc, err := rt.Clone(m)
	if err != nil {
		t.Fatal(err)
	}
	mc.Collection().Elems.Set("k", FromInt(2))
	if m.Collection().Elems.At("k").Int() != 1 {
		t.Error("map clone shares elements with the original")
	}

	x, _ := rt.NewXMLElement("root", "", NewArrayFrom("id", FromString("1")))
	xc, err := rt.Clone(x)
	if err != nil {
		t.Fatal(err)
	}
	xc.XMLElement().Attrs.Set("id", FromString("2"))
	if x.XMLElement().Attrs.At("id").Str() != "1" {
		t.Error("xml clone shares attributes with the original")
	}
}
