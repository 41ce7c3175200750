package vm

// ---------------------------------------------------------------------------
// WeakReference: A reference that doesn't keep its target alive
// ---------------------------------------------------------------------------

// WeakReference holds a weak reference to an object.
// When the target is released, the reference becomes nil.
// Optionally supports finalization callbacks.
type WeakReference struct {
	id        uint32
	target    *Object
	finalizer func(id uint32)
}

// ID returns the unique identifier for this weak reference.
func (wr *WeakReference) ID() uint32 {
	return wr.id
}

// Get returns the target object, or nil if it has been released.
// The caller must take its own reference before storing the result.
func (wr *WeakReference) Get() *Object {
	return wr.target
}

// IsAlive returns true if the target object has not been released.
func (wr *WeakReference) IsAlive() bool {
	return wr.target != nil
}

// SetFinalizer sets a callback to be invoked when the target is released.
// The callback receives the id the target had while it was alive.
func (wr *WeakReference) SetFinalizer(fn func(id uint32)) {
	wr.finalizer = fn
}

// ---------------------------------------------------------------------------
// WeakRegistry: Tracks all weak references in a runtime
// ---------------------------------------------------------------------------

// WeakRegistry manages the weak references of one runtime. Objects that have
// ever been weakly referenced are indexed so that releasing one clears its
// handles without scanning the registry.
type WeakRegistry struct {
	refs     map[uint32]*WeakReference
	byTarget map[*Object][]*WeakReference
	nextID   uint32
}

// NewWeakRegistry creates a new weak reference registry.
func NewWeakRegistry() *WeakRegistry {
	return &WeakRegistry{
		refs:     make(map[uint32]*WeakReference),
		byTarget: make(map[*Object][]*WeakReference),
	}
}

// Register creates a weak reference to target. The target's reference count
// is not touched.
func (r *WeakRegistry) Register(target *Object) *WeakReference {
	r.nextID++
	wr := &WeakReference{id: r.nextID, target: target}
	r.refs[wr.id] = wr
	r.byTarget[target] = append(r.byTarget[target], wr)
	return wr
}

// Unregister removes a weak reference from the registry.
func (r *WeakRegistry) Unregister(wr *WeakReference) {
	delete(r.refs, wr.id)
	if wr.target == nil {
		return
	}
	list := r.byTarget[wr.target]
	for i, other := range list {
		if other == wr {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.byTarget, wr.target)
	} else {
		r.byTarget[wr.target] = list
	}
}

// Lookup finds a weak reference by ID.
func (r *WeakRegistry) Lookup(id uint32) *WeakReference {
	return r.refs[id]
}

// Invalidate clears every weak reference to obj and runs their finalizers.
// Called by the lifecycle manager when obj is freed. Returns the number of
// references cleared.
func (r *WeakRegistry) Invalidate(obj *Object) int {
	list, ok := r.byTarget[obj]
	if !ok {
		return 0
	}
	delete(r.byTarget, obj)
	for _, wr := range list {
		wr.target = nil
	}
	// Finalizers run with the target already cleared.
	for _, wr := range list {
		if wr.finalizer != nil {
			wr.finalizer(obj.id)
		}
	}
	return len(list)
}

// Count returns the number of registered weak references.
func (r *WeakRegistry) Count() int {
	return len(r.refs)
}
