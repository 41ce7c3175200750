package vm

import (
	"fmt"
)

// Object is a live instance of a class.
//
// Declared properties live in props, one Value per slot of the class layout;
// the slice length is fixed at construction and never changes. Dynamic
// properties are not stored here: they live in the owning runtime's
// side-table and are present only while AttrHasDynProps is set.
//
// An Object is owned by exactly one Runtime and must only be touched from
// the goroutine driving that runtime. The reference count is a plain counter.
type Object struct {
	class    *Class
	rt       *Runtime
	id       uint32
	refCount int32
	attrs    ObjAttr
	props    []Value
	size     int

	// native is the payload of built-in specializations (a collection's
	// elements, a date's timestamp, ...). Nil for plain objects.
	native any
}

// ObjAttr is the per-instance attribute bitset.
type ObjAttr uint16

const (
	// AttrNoDestruct is set once the destructor has run (or must not run).
	AttrNoDestruct ObjAttr = 1 << iota
	// AttrHasDynProps is set iff the runtime's side-table holds a dynamic
	// property store for the object.
	AttrHasDynProps
	// AttrHasInstanceDtor marks built-in backed objects whose teardown is
	// delegated to their specialization.
	AttrHasInstanceDtor
	// AttrBeingConstructed waives immutability checks.
	AttrBeingConstructed
	AttrIsCollection
	AttrFreed
)

// ---------------------------------------------------------------------------
// Identity and reference counting
// ---------------------------------------------------------------------------

// ID returns the object's per-task id.
func (obj *Object) ID() uint32 { return obj.id }

// Class returns the object's class.
func (obj *Object) Class() *Class { return obj.class }

// ClassName returns the name of the object's class.
func (obj *Object) ClassName() string {
	if obj.class == nil {
		return "<nil>"
	}
	return obj.class.Name
}

// Runtime returns the runtime that owns the object.
func (obj *Object) Runtime() *Runtime { return obj.rt }

// RefCount returns the current reference count.
func (obj *Object) RefCount() int32 { return obj.refCount }

// Size returns the allocation size in bytes.
func (obj *Object) Size() int { return obj.size }

// HasAttr reports whether an instance attribute is set.
func (obj *Object) HasAttr(attr ObjAttr) bool { return obj.attrs&attr != 0 }

// IsFreed reports whether the object has been returned to the allocator.
func (obj *Object) IsFreed() bool { return obj.attrs&AttrFreed != 0 }

// IsCollection reports whether the object is a built-in collection.
func (obj *Object) IsCollection() bool { return obj.attrs&AttrIsCollection != 0 }

// IncRef takes a reference to obj.
func (obj *Object) IncRef() {
	obj.refCount++
}

// DecRef drops a reference to obj, releasing it when the count reaches zero.
func (obj *Object) DecRef() {
	if obj.refCount <= 0 {
		panic(fmt.Sprintf("Object.DecRef: ref count underflow on %s#%d", obj.ClassName(), obj.id))
	}
	obj.refCount--
	if obj.refCount == 0 {
		obj.rt.Release(obj)
	}
}

// ToValue wraps obj in a Value without taking a reference.
func (obj *Object) ToValue() Value {
	return FromObject(obj)
}

// ---------------------------------------------------------------------------
// Raw slot access
// ---------------------------------------------------------------------------

// NumSlots returns the number of declared property slots.
func (obj *Object) NumSlots() int {
	return len(obj.props)
}

// SlotAt returns the raw contents of a declared slot (possibly a Ref or
// Uninit). No visibility checks are made.
func (obj *Object) SlotAt(slot int) Value {
	return obj.props[slot]
}

// SetSlotAt stores v into a declared slot, writing through a Ref. No
// visibility or immutability checks are made.
func (obj *Object) SetSlotAt(slot int, v Value) {
	setCell(&obj.props[slot], v)
}

// Native returns the built-in payload.
func (obj *Object) Native() any {
	return obj.native
}

// SetNative replaces the built-in payload.
func (obj *Object) SetNative(v any) {
	obj.native = v
}

// DynProps returns the dynamic property store, or nil. The array belongs to
// the object: callers that keep it must take their own reference.
func (obj *Object) DynProps() *Array {
	return obj.rt.objects.dynPropArray(obj)
}

// ---------------------------------------------------------------------------
// Debug checks
// ---------------------------------------------------------------------------

// verifySlotTypes panics if any declared slot holds a value inconsistent
// with the slot's declared type. Boxed slots are checked through the box.
func (obj *Object) verifySlotTypes() {
	for i, s := range obj.class.slots {
		if s.Type == KindUninit {
			continue
		}
		v := obj.props[i].Deref()
		if v.IsNull() || v.kind == s.Type {
			continue
		}
		if s.Type == KindDouble && v.kind == KindInt {
			continue
		}
		panic(fmt.Sprintf("slot type mismatch: %s::$%s declared %s, holds %s",
			obj.class.Name, s.Name, s.Type, v.kind))
	}
}
