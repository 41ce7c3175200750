package vm

import (
	"fmt"
)

// Clone makes a shallow copy of obj and runs __clone on the copy. The caller
// owns the returned object.
//
// Every slot is duplicated from the source, except cache-only slots, which
// get the declared default. A reference shared with other holders stays
// shared; a private one is copied. Deep-init slots never alias the source's
// containers. The dynamic property store is shared copy-on-write.
func (rt *Runtime) Clone(obj *Object) (*Object, error) {
	cls := obj.class
	var native any
	if b := rt.builtins[cls.Kind]; b != nil {
		switch {
		case b.Clone != nil:
			clone, err := b.Clone(rt, obj)
			if err == nil {
				rt.emit(EventClone, clone, fmt.Sprintf("from #%d", obj.id))
			}
			return clone, err
		case b.NonCloneable:
			cause := fmt.Errorf("%s objects cannot be cloned", cls.Name)
			if b.Construct != nil {
				if err := b.Construct(cls); err != nil {
					cause = err
				}
			}
			return nil, fmt.Errorf("%w: %w", ErrNonCloneable, cause)
		case b.CopyNative != nil && obj.native != nil:
			native = b.CopyNative(obj.native)
		}
	}

	clone, err := rt.allocate(cls, native)
	if err != nil {
		return nil, err
	}
	for i := range cls.slots {
		s := &cls.slots[i]
		if s.Attrs&PropNoDup != 0 {
			// allocate already installed the default.
			continue
		}
		v := dupWithRef(obj.props[i])
		if s.Attrs&PropDeepInit != 0 {
			v = deepCopy(v)
		}
		bindCell(&clone.props[i], v)
	}
	if dyn := rt.objects.dynPropArray(obj); dyn != nil {
		rt.objects.setDynProps(clone, dyn)
	}

	if rt.opts.DebugChecks {
		clone.verifySlotTypes()
	}
	rt.emit(EventClone, clone, fmt.Sprintf("from #%d", obj.id))

	if cls.HasAttr(HasClone) {
		if _, err := rt.invokeMethod(clone, MethodClone); err != nil {
			clone.DecRef()
			return nil, err
		}
	}
	return clone, nil
}

// Clone is shorthand for Runtime.Clone.
func (obj *Object) Clone() (*Object, error) {
	return obj.rt.Clone(obj)
}

// deepCopy returns v with every nested array copied. Refs and objects are
// kept as they are.
func deepCopy(v Value) Value {
	a := v.Array()
	if v.IsRef() || a == nil {
		return v
	}
	c := NewArray()
	a.Each(func(key string, elem Value) bool {
		c.SetWithRef(key, deepCopy(elem))
		return true
	})
	return FromArray(c)
}
