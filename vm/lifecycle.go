package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// NewInstance allocates an instance of cls with every declared property set
// to its default. The caller owns the returned object's only reference.
//
// Abstract classes, interfaces and traits cannot be instantiated, and
// built-in kinds may refuse direct construction.
func (rt *Runtime) NewInstance(cls *Class) (*Object, error) {
	cls.Finalize()
	if cls.Attrs&(ClassAbstract|ClassInterface|ClassTrait) != 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrAbstractInstantiation, classKindWord(cls), cls.Name)
	}
	if b := rt.builtins[cls.Kind]; b != nil && b.Construct != nil {
		if err := b.Construct(cls); err != nil {
			return nil, err
		}
	}
	return rt.allocate(cls, nil)
}

// NewInstanceWithArgs allocates an instance and runs its constructor, if
// any, with args. Immutable properties may be written until the constructor
// returns. If the constructor fails the object is released without running
// its destructor and the error is returned.
func (rt *Runtime) NewInstanceWithArgs(cls *Class, args ...Value) (*Object, error) {
	obj, err := rt.NewInstance(cls)
	if err != nil {
		return nil, err
	}
	ctor := cls.LookupMethod(MethodConstruct)
	if ctor == nil {
		return obj, nil
	}
	obj.attrs |= AttrBeingConstructed
	_, err = ctor.Invoke(rt, obj, args)
	obj.attrs &^= AttrBeingConstructed
	if err != nil {
		obj.attrs |= AttrNoDestruct
		obj.DecRef()
		return nil, err
	}
	return obj, nil
}

func classKindWord(cls *Class) string {
	switch {
	case cls.Attrs&ClassInterface != 0:
		return "interface"
	case cls.Attrs&ClassTrait != 0:
		return "trait"
	}
	return "abstract class"
}

// allocate reserves memory for an instance of cls and initializes its slots.
func (rt *Runtime) allocate(cls *Class, native any) (*Object, error) {
	cls.Finalize()
	size := SizeForNProps(len(cls.slots))
	if err := rt.alloc.Alloc(size); err != nil {
		return nil, err
	}
	obj := &Object{
		class:    cls,
		rt:       rt,
		id:       rt.objects.nextID(),
		refCount: 1,
		props:    make([]Value, len(cls.slots)),
		size:     size,
		native:   native,
	}
	if cls.LookupMethod(MethodDestruct) == nil {
		obj.attrs |= AttrNoDestruct
	}
	if cls.Kind == BuiltinCollection {
		obj.attrs |= AttrIsCollection
	}
	if b := rt.builtins[cls.Kind]; b != nil && b.Destroy != nil {
		obj.attrs |= AttrHasInstanceDtor
	}
	for i := range cls.slots {
		obj.props[i] = initSlot(&cls.slots[i])
	}
	rt.objects.track(obj)
	rt.emit(EventAlloc, obj, "")
	return obj, nil
}

// initSlot returns the initial (retained) contents of a slot. Deep-init
// defaults are copied so that no two instances share one mutable container.
func initSlot(s *slotInfo) Value {
	if s.Attrs&PropDeepInit != 0 {
		v := deepCopy(s.Default)
		v.IncRef()
		return v
	}
	v := s.Default
	v.IncRef()
	return v
}

// ---------------------------------------------------------------------------
// Reference counting
// ---------------------------------------------------------------------------

// IncRef takes a reference to obj.
func (rt *Runtime) IncRef(obj *Object) { obj.IncRef() }

// DecRef drops a reference to obj; the last one releases it.
func (rt *Runtime) DecRef(obj *Object) { obj.DecRef() }

// IncRefValue takes a reference to whatever v holds.
func (rt *Runtime) IncRefValue(v Value) { v.IncRef() }

// DecRefValue drops a reference to whatever v holds. Arrays release their
// elements and objects are released through their runtime.
func (rt *Runtime) DecRefValue(v Value) { v.DecRef() }

// ---------------------------------------------------------------------------
// Release
// ---------------------------------------------------------------------------

// Release destroys obj once its reference count has reached zero. Objects
// normally get here through Object.DecRef; the count on entry may be 0 or 1.
//
// The destructor runs at most once. If it stores a new reference to obj the
// object is resurrected and stays alive; a later release frees it without
// running the destructor again.
func (rt *Runtime) Release(obj *Object) {
	if obj.attrs&AttrFreed != 0 {
		panic(fmt.Sprintf("Runtime.Release: %s#%d already freed", obj.ClassName(), obj.id))
	}
	if !rt.destructImpl(obj) {
		return
	}
	rt.releaseNoDestructCheck(obj)
}

// destructImpl runs obj's destructor if it is still pending. It returns
// false if the object must not be freed (it was resurrected).
func (rt *Runtime) destructImpl(obj *Object) bool {
	if obj.attrs&AttrNoDestruct != 0 {
		return true
	}
	obj.attrs |= AttrNoDestruct

	dtor := obj.class.LookupMethod(MethodDestruct)
	if dtor == nil || !rt.opts.EnableDestructors || rt.unwinding {
		return true
	}

	if obj.refCount != 0 && obj.refCount != 1 {
		panic(fmt.Sprintf("Runtime.Release: %s#%d has %d references", obj.ClassName(), obj.id, obj.refCount))
	}
	obj.refCount = 0
	obj.refCount++
	rt.invokeDestructor(obj, dtor)
	if obj.attrs&AttrFreed != 0 {
		return false
	}
	if obj.refCount != 1 {
		obj.refCount--
		log.Debugf("%s#%d resurrected by its destructor (%d references)", obj.ClassName(), obj.id, obj.refCount)
		rt.emit(EventResurrect, obj, "")
		return false
	}
	obj.refCount = 0
	return true
}

// invokeDestructor calls dtor on obj. Faults raised by the destructor body,
// returned or panicked, never leave this function.
func (rt *Runtime) invokeDestructor(obj *Object, dtor Method) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if ok && errors.Is(err, ErrSizeMismatch) {
				panic(r)
			}
			if !ok {
				err = fmt.Errorf("panic: %v", r)
			}
			rt.destructorFault(obj, err)
		}
	}()
	if _, err := dtor.Invoke(rt, obj, nil); err != nil {
		rt.destructorFault(obj, err)
	}
}

func (rt *Runtime) destructorFault(obj *Object, err error) {
	log.Warningf("fault in %s::%s ignored: %s", obj.ClassName(), MethodDestruct, err)
	rt.emit(EventDestructorFault, obj, err.Error())
}

// releaseNoDestructCheck tears obj down, delegating to the built-in's
// instance destructor when it has one.
func (rt *Runtime) releaseNoDestructCheck(obj *Object) {
	if obj.attrs&AttrHasInstanceDtor != 0 {
		if b := rt.builtins[obj.class.Kind]; b != nil && b.Destroy != nil {
			b.Destroy(rt, obj)
			return
		}
	}
	rt.freeInstance(obj)
}

// freeInstance releases every slot and the dynamic property store, reclaims
// the id, invalidates weak references and returns the memory.
func (rt *Runtime) freeInstance(obj *Object) {
	if rt.opts.DebugChecks {
		obj.verifySlotTypes()
	}
	rt.objects.untrack(obj)
	for i := range obj.props {
		v := obj.props[i]
		obj.props[i] = Uninit
		v.DecRef()
	}
	if obj.attrs&AttrHasDynProps != 0 {
		rt.objects.dropDynProps(obj)
	}
	rt.objects.reclaimID(obj.id)
	rt.weak.Invalidate(obj)
	rt.freeMemory(obj)
	rt.emit(EventFree, obj, "")
}

// freeMemory returns obj's bytes to the allocator. The size must match the
// one computed at allocation.
func (rt *Runtime) freeMemory(obj *Object) {
	if want := SizeForNProps(len(obj.props)); obj.size != want {
		panic(fmt.Errorf("%w: %s#%d freeing %d bytes, layout needs %d",
			ErrSizeMismatch, obj.ClassName(), obj.id, obj.size, want))
	}
	rt.alloc.Free(obj.size)
	obj.attrs |= AttrFreed
	obj.refCount = 0
}

// ---------------------------------------------------------------------------
// Forced teardown
// ---------------------------------------------------------------------------

// DestructForExit runs obj's destructor during task shutdown regardless of
// its reference count. It never frees the object and does nothing if the
// destructor already ran.
func (rt *Runtime) DestructForExit(obj *Object) {
	if obj.attrs&(AttrNoDestruct|AttrFreed) != 0 {
		return
	}
	obj.attrs |= AttrNoDestruct
	if rt.unwinding {
		panic("Runtime.DestructForExit: fault pending")
	}
	dtor := obj.class.LookupMethod(MethodDestruct)
	if dtor == nil || !rt.opts.EnableDestructors {
		return
	}
	obj.refCount++
	rt.invokeDestructor(obj, dtor)
	if obj.attrs&AttrFreed == 0 {
		obj.refCount--
	}
}
