package vm

import (
	"cmp"
	"slices"
)

// ---------------------------------------------------------------------------
// ObjectRegistry: per-task bookkeeping for live objects
// ---------------------------------------------------------------------------

// ObjectRegistry holds the task-scoped state the object runtime keeps outside
// the objects themselves: the id high-water mark, the dynamic property
// side-table and the set of live objects.
//
// A registry belongs to exactly one Runtime and is never shared between
// goroutines, so nothing here is locked.
type ObjectRegistry struct {
	// Id allocation. Ids start at 1; maxID is the highest id handed out
	// that has not been reclaimed.
	maxID uint32

	// Dynamic property side-table. An entry exists iff the object has
	// AttrHasDynProps set.
	dynProps map[*Object]*Array

	// Live objects in allocation order (seq), used by task teardown.
	live map[*Object]uint64
	seq  uint64
}

// NewObjectRegistry creates an empty registry.
func NewObjectRegistry() *ObjectRegistry {
	return &ObjectRegistry{
		dynProps: make(map[*Object]*Array),
		live:     make(map[*Object]uint64),
	}
}

// ---------------------------------------------------------------------------
// Id allocation
// ---------------------------------------------------------------------------

// nextID hands out the next object id.
func (or *ObjectRegistry) nextID() uint32 {
	or.maxID++
	return or.maxID
}

// reclaimID gives id back if it is the current maximum. Any other id leaves
// a permanent gap.
func (or *ObjectRegistry) reclaimID(id uint32) bool {
	if id != 0 && id == or.maxID {
		or.maxID--
		return true
	}
	return false
}

// resetIDs drops the high-water mark. Only valid with no live objects.
func (or *ObjectRegistry) resetIDs() {
	if len(or.live) != 0 {
		panic("ObjectRegistry.resetIDs: objects still live")
	}
	or.maxID = 0
}

// MaxID returns the current id high-water mark.
func (or *ObjectRegistry) MaxID() uint32 {
	return or.maxID
}

// ---------------------------------------------------------------------------
// Dynamic property side-table
// ---------------------------------------------------------------------------

// dynPropArray returns the dynamic property store of obj, or nil.
func (or *ObjectRegistry) dynPropArray(obj *Object) *Array {
	if obj.attrs&AttrHasDynProps == 0 {
		return nil
	}
	return or.dynProps[obj]
}

// reserveDynProps returns obj's dynamic property store, creating an empty
// one (and setting AttrHasDynProps) if it has none.
func (or *ObjectRegistry) reserveDynProps(obj *Object) *Array {
	if a := or.dynPropArray(obj); a != nil {
		return a
	}
	a := NewArray()
	a.IncRef()
	or.dynProps[obj] = a
	obj.attrs |= AttrHasDynProps
	return a
}

// setDynProps replaces obj's dynamic property store with a, retaining it.
func (or *ObjectRegistry) setDynProps(obj *Object, a *Array) {
	a.IncRef()
	old := or.dynPropArray(obj)
	or.dynProps[obj] = a
	obj.attrs |= AttrHasDynProps
	if old != nil {
		old.DecRef()
	}
}

// separateDynProps returns obj's store, copying it first if it is shared
// with another holder (a projection handed out earlier, for instance).
func (or *ObjectRegistry) separateDynProps(obj *Object) *Array {
	a := or.dynPropArray(obj)
	if a == nil || a.refCount <= 1 {
		return a
	}
	c := a.Copy()
	or.setDynProps(obj, c)
	return c
}

// dropDynProps removes obj's side-table entry and clears the flag, releasing
// the store.
func (or *ObjectRegistry) dropDynProps(obj *Object) {
	a := or.dynPropArray(obj)
	delete(or.dynProps, obj)
	obj.attrs &^= AttrHasDynProps
	if a != nil {
		a.DecRef()
	}
}

// DynPropCount returns the number of objects that have a dynamic property
// store.
func (or *ObjectRegistry) DynPropCount() int {
	return len(or.dynProps)
}

// ---------------------------------------------------------------------------
// Live objects
// ---------------------------------------------------------------------------

func (or *ObjectRegistry) track(obj *Object) {
	or.seq++
	or.live[obj] = or.seq
}

func (or *ObjectRegistry) untrack(obj *Object) {
	delete(or.live, obj)
}

// LiveCount returns the number of allocated, not yet freed objects.
func (or *ObjectRegistry) LiveCount() int {
	return len(or.live)
}

// liveInOrder returns the live objects in allocation order.
func (or *ObjectRegistry) liveInOrder() []*Object {
	objs := make([]*Object, 0, len(or.live))
	for obj := range or.live {
		objs = append(objs, obj)
	}
	slices.SortFunc(objs, func(a, b *Object) int {
		return cmp.Compare(or.live[a], or.live[b])
	})
	return objs
}
