package vm

import (
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

func TestNewInstanceDefaults(t *testing.T) {
	rt, _ := newTestRuntime(t)
	cls := NewClass("Point", nil, pub("x", FromInt(1)), pub("y", FromInt(2)), pub("z", Uninit))

	obj := mustNew(t, rt, cls)
	if obj.RefCount() != 1 {
		t.Errorf("RefCount = %d, want 1", obj.RefCount())
	}
	if obj.ID() != 1 {
		t.Errorf("ID = %d, want 1", obj.ID())
	}
	if got := mustProp(t, obj, nil, "y"); got.Int() != 2 {
		t.Errorf("y = %v, want 2", got)
	}
	if !obj.SlotAt(2).IsUninit() {
		t.Errorf("z should start uninitialized, got %v", obj.SlotAt(2))
	}
	if obj.Size() != SizeForNProps(3) {
		t.Errorf("Size = %d, want %d", obj.Size(), SizeForNProps(3))
	}
	if !obj.HasAttr(AttrNoDestruct) {
		t.Error("class without __destruct should allocate with AttrNoDestruct")
	}
}

func TestNewInstanceAbstract(t *testing.T) {
	rt, _ := newTestRuntime(t)
	for _, attr := range []ClassAttr{ClassAbstract, ClassInterface, ClassTrait} {
		cls := NewClass("Shape", nil)
		cls.Attrs = attr
		if _, err := rt.NewInstance(cls); !errors.Is(err, ErrAbstractInstantiation) {
			t.Errorf("attr %d: err = %v, want ErrAbstractInstantiation", attr, err)
		}
	}
}

func TestNewInstanceMemoryLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MemoryLimit = int64(SizeForNProps(1))
	rt := NewRuntime(opts)
	cls := NewClass("Box", nil, pub("v", Null))

	a, err := rt.NewInstance(cls)
	if err != nil {
		t.Fatalf("first allocation: %v", err)
	}
	if _, err := rt.NewInstance(cls); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("second allocation err = %v, want ErrOutOfMemory", err)
	}
	a.DecRef()
	if _, err := rt.NewInstance(cls); err != nil {
		t.Fatalf("allocation after free: %v", err)
	}
}

func TestIllegalConstruction(t *testing.T) {
	rt, _ := newTestRuntime(t)
	_, err := rt.NewInstance(rt.Classes.Lookup(ClassWaitHandle))
	if !errors.Is(err, ErrIllegalConstruction) {
		t.Fatalf("err = %v, want ErrIllegalConstruction", err)
	}
}

// ---------------------------------------------------------------------------
// Release and destructors
// ---------------------------------------------------------------------------

func TestReleaseFreesSlots(t *testing.T) {
	rt, _ := newTestRuntime(t)
	cls := NewClass("Holder", nil, pub("child", Null))
	parent := mustNew(t, rt, cls)
	child := mustNew(t, rt, cls)

	mustSet(t, parent, nil, "child", FromObject(child))
	child.DecRef()
	if child.IsFreed() {
		t.Fatal("child freed while still held by parent")
	}

	parent.DecRef()
	if !parent.IsFreed() || !child.IsFreed() {
		t.Fatal("releasing parent should free parent and child")
	}
	if rt.Objects().LiveCount() != 0 {
		t.Errorf("LiveCount = %d, want 0", rt.Objects().LiveCount())
	}
	if in := rt.Allocator().(*Heap).Stats().InUse; in != 0 {
		t.Errorf("heap InUse = %d, want 0", in)
	}
}

func TestRuntimeRefCounting(t *testing.T) {
	rt, _ := newTestRuntime(t)
	obj := mustNew(t, rt, NewClass("Counted", nil))
	arr := NewArrayFrom("o", FromObject(obj))
	v := FromArray(arr)

	rt.IncRefValue(v)
	rt.IncRef(obj)
	if obj.RefCount() != 3 || arr.RefCount() != 1 {
		t.Fatalf("refcounts obj=%d arr=%d", obj.RefCount(), arr.RefCount())
	}
	rt.DecRef(obj)
	rt.DecRef(obj)
	if obj.IsFreed() {
		t.Fatal("object freed while the array still holds it")
	}
	rt.DecRefValue(v)
	if !obj.IsFreed() {
		t.Error("releasing the array should release the object")
	}
}

func TestDestructorRunsOnce(t *testing.T) {
	rt, _ := newTestRuntime(t)
	calls := 0
	cls := NewClass("Resource", nil).AddMethodFunc(MethodDestruct, func(rt *Runtime, this *Object, args []Value) (Value, error) {
		calls++
		if this.RefCount() != 1 {
			t.Errorf("refcount inside destructor = %d, want 1", this.RefCount())
		}
		return Null, nil
	})

	obj := mustNew(t, rt, cls)
	if obj.HasAttr(AttrNoDestruct) {
		t.Fatal("class with __destruct should not start with AttrNoDestruct")
	}
	obj.DecRef()
	if calls != 1 {
		t.Errorf("destructor calls = %d, want 1", calls)
	}
	if !obj.IsFreed() {
		t.Error("object should be freed after its destructor")
	}
}

func TestResurrection(t *testing.T) {
	rt, _ := newTestRuntime(t)
	var saved *Object
	calls := 0
	cls := NewClass("Phoenix", nil).AddMethodFunc(MethodDestruct, func(rt *Runtime, this *Object, args []Value) (Value, error) {
		calls++
		this.IncRef()
		saved = this
		return Null, nil
	})

	var events []EventKind
	rt.SetObserver(ObserverFunc(func(ev Event) { events = append(events, ev.Kind) }))

	obj := mustNew(t, rt, cls)
	obj.DecRef()

	if obj.IsFreed() {
		t.Fatal("resurrected object was freed")
	}
	if saved != obj || obj.RefCount() != 1 {
		t.Fatalf("saved=%v refcount=%d, want the object with 1 reference", saved, obj.RefCount())
	}
	if !obj.HasAttr(AttrNoDestruct) {
		t.Error("destructor should be marked as run")
	}

	saved.DecRef()
	if !obj.IsFreed() {
		t.Fatal("second release should free the object")
	}
	if calls != 1 {
		t.Errorf("destructor calls = %d, want 1", calls)
	}

	want := []EventKind{EventAlloc, EventResurrect, EventFree}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %v, want %v", i, events[i], want[i])
		}
	}
}

func TestDestructorFaultIsSwallowed(t *testing.T) {
	rt, _ := newTestRuntime(t)
	var faults []string
	rt.SetObserver(ObserverFunc(func(ev Event) {
		if ev.Kind == EventDestructorFault {
			faults = append(faults, ev.Detail)
		}
	}))

	erring := NewClass("Erring", nil).AddMethodFunc(MethodDestruct, func(*Runtime, *Object, []Value) (Value, error) {
		return Null, errors.New("boom")
	})
	panicking := NewClass("Panicking", nil).AddMethodFunc(MethodDestruct, func(*Runtime, *Object, []Value) (Value, error) {
		panic("kaboom")
	})

	a := mustNew(t, rt, erring)
	b := mustNew(t, rt, panicking)
	a.DecRef()
	b.DecRef()

	if !a.IsFreed() || !b.IsFreed() {
		t.Fatal("objects with faulting destructors should still be freed")
	}
	if len(faults) != 2 {
		t.Fatalf("faults = %v, want 2", faults)
	}
}

func TestDestructorsDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.EnableDestructors = false
	rt := NewRuntime(opts)
	calls := 0
	cls := NewClass("Quiet", nil).AddMethodFunc(MethodDestruct, func(*Runtime, *Object, []Value) (Value, error) {
		calls++
		return Null, nil
	})
	obj, _ := rt.NewInstance(cls)
	obj.DecRef()
	if calls != 0 || !obj.IsFreed() {
		t.Errorf("calls=%d freed=%v, want 0 and true", calls, obj.IsFreed())
	}
}

func TestDestructorSkippedWhileUnwinding(t *testing.T) {
	rt, _ := newTestRuntime(t)
	calls := 0
	cls := NewClass("Unwound", nil).AddMethodFunc(MethodDestruct, func(*Runtime, *Object, []Value) (Value, error) {
		calls++
		return Null, nil
	})
	obj := mustNew(t, rt, cls)
	rt.SetUnwinding(true)
	obj.DecRef()
	rt.SetUnwinding(false)
	if calls != 0 {
		t.Errorf("destructor ran %d times during unwinding", calls)
	}
}

func TestConstructorFailureSkipsDestructor(t *testing.T) {
	rt, _ := newTestRuntime(t)
	dtor := 0
	cls := NewClass("Fragile", nil).
		AddMethodFunc(MethodConstruct, func(*Runtime, *Object, []Value) (Value, error) {
			return Null, errors.New("bad argument")
		}).
		AddMethodFunc(MethodDestruct, func(*Runtime, *Object, []Value) (Value, error) {
			dtor++
			return Null, nil
		})

	if _, err := rt.NewInstanceWithArgs(cls); err == nil {
		t.Fatal("expected constructor error")
	}
	if dtor != 0 {
		t.Errorf("destructor ran %d times after failed construction", dtor)
	}
	if rt.Objects().LiveCount() != 0 {
		t.Errorf("LiveCount = %d, want 0", rt.Objects().LiveCount())
	}
}

func TestDestructForExit(t *testing.T) {
	rt, _ := newTestRuntime(t)
	calls := 0
	cls := NewClass("Exiting", nil).AddMethodFunc(MethodDestruct, func(*Runtime, *Object, []Value) (Value, error) {
		calls++
		return Null, nil
	})
	obj := mustNew(t, rt, cls)
	obj.IncRef()

	rt.DestructForExit(obj)
	rt.DestructForExit(obj)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if obj.IsFreed() || obj.RefCount() != 2 {
		t.Errorf("freed=%v refcount=%d, want live with 2 references", obj.IsFreed(), obj.RefCount())
	}
}

func TestSizeMismatchPanics(t *testing.T) {
	rt, _ := newTestRuntime(t)
	obj := mustNew(t, rt, NewClass("Broken", nil, pub("a", Null)))
	obj.size++

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrSizeMismatch) {
			t.Fatalf("recovered %v, want ErrSizeMismatch", r)
		}
	}()
	obj.DecRef()
}

// ---------------------------------------------------------------------------
// Ids and weak references
// ---------------------------------------------------------------------------

func TestIDReclamation(t *testing.T) {
	rt, _ := newTestRuntime(t)
	cls := NewClass("Thing", nil)
	a := mustNew(t, rt, cls)
	b := mustNew(t, rt, cls)
	c := mustNew(t, rt, cls)
	if c.ID() != 3 || rt.Objects().MaxID() != 3 {
		t.Fatalf("ids = %d,%d,%d max=%d", a.ID(), b.ID(), c.ID(), rt.Objects().MaxID())
	}

	// Freeing a non-maximal id leaves a gap.
	b.DecRef()
	if rt.Objects().MaxID() != 3 {
		t.Errorf("MaxID after freeing b = %d, want 3", rt.Objects().MaxID())
	}

	c.DecRef()
	if rt.Objects().MaxID() != 2 {
		t.Errorf("MaxID after freeing c = %d, want 2", rt.Objects().MaxID())
	}
	d := mustNew(t, rt, cls)
	if d.ID() != 3 {
		t.Errorf("reused id = %d, want 3", d.ID())
	}
}

func TestWeakReferenceInvalidatedOnFree(t *testing.T) {
	rt, _ := newTestRuntime(t)
	obj := mustNew(t, rt, NewClass("Target", nil))
	wr := rt.WeakRefs().Register(obj)

	var finalized uint32
	wr.SetFinalizer(func(id uint32) { finalized = id })

	if wr.Get() != obj || !wr.IsAlive() {
		t.Fatal("weak reference should see its live target")
	}
	if obj.RefCount() != 1 {
		t.Errorf("weak reference changed refcount to %d", obj.RefCount())
	}
	if rt.WeakRefs().Lookup(wr.ID()) != wr {
		t.Error("Lookup should find the reference")
	}

	obj.DecRef()
	if wr.IsAlive() || wr.Get() != nil {
		t.Error("weak reference should be cleared when its target is freed")
	}
	if finalized != 1 {
		t.Errorf("finalizer got id %d, want 1", finalized)
	}

	rt.WeakRefs().Unregister(wr)
	if rt.WeakRefs().Count() != 0 {
		t.Errorf("Count = %d, want 0", rt.WeakRefs().Count())
	}
}

func TestDebugChecksSlotTypes(t *testing.T) {
	opts := DefaultOptions()
	opts.DebugChecks = true
	rt := NewRuntime(opts)
	cls := NewClass("Typed", nil, PropDecl{Name: "n", Default: FromInt(0), Type: KindInt})
	obj, _ := rt.NewInstance(cls)
	obj.SetSlotAt(0, FromString("oops"))

	defer func() {
		if recover() == nil {
			t.Fatal("expected slot type panic")
		}
	}()
	obj.DecRef()
}
