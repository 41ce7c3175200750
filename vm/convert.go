package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Scalar conversion
// ---------------------------------------------------------------------------

// ToBool converts obj through its built-in capability. Objects without one
// cannot be converted.
func (rt *Runtime) ToBool(obj *Object) (bool, error) {
	if b := rt.builtins[obj.class.Kind]; b != nil && b.ToBool != nil {
		return b.ToBool(obj), nil
	}
	return false, conversionError(obj.class, "bool")
}

// ToInt64 converts obj through its built-in capability.
func (rt *Runtime) ToInt64(obj *Object) (int64, error) {
	if b := rt.builtins[obj.class.Kind]; b != nil {
		switch {
		case b.ToInt64 != nil:
			return b.ToInt64(obj), nil
		case b.ToBool != nil && obj.IsCollection():
			if b.ToBool(obj) {
				return 1, nil
			}
			return 0, nil
		}
	}
	return 0, conversionError(obj.class, "int")
}

// ToDouble converts obj through its built-in capability.
func (rt *Runtime) ToDouble(obj *Object) (float64, error) {
	if b := rt.builtins[obj.class.Kind]; b != nil {
		switch {
		case b.ToDouble != nil:
			return b.ToDouble(obj), nil
		case b.ToBool != nil && obj.IsCollection():
			if b.ToBool(obj) {
				return 1, nil
			}
			return 0, nil
		}
	}
	return 0, conversionError(obj.class, "float")
}

// truthy is the boolean cast applied to arbitrary values by isset/empty and
// __isset results: objects with a conversion capability use it, every other
// object is true.
func (rt *Runtime) truthy(v Value) (bool, error) {
	v = v.Deref()
	if !v.IsObject() {
		return v.ToBool(), nil
	}
	obj := v.Object()
	if b := rt.builtins[obj.class.Kind]; b != nil && b.ToBool != nil {
		return b.ToBool(obj), nil
	}
	return true, nil
}

// ---------------------------------------------------------------------------
// String conversion
// ---------------------------------------------------------------------------

// ToString converts obj with its __toString method. A class without one, or
// a method returning a non-string, raises a recoverable error and converts
// to "".
func (rt *Runtime) ToString(obj *Object) (string, error) {
	m := obj.class.LookupMethod(MethodToString)
	if m == nil {
		rt.diag.RecoverableError(fmt.Sprintf("Object of class %s could not be converted to string", obj.class.Name))
		return "", nil
	}
	v, err := m.Invoke(rt, obj, nil)
	if err != nil {
		return "", err
	}
	v = v.Deref()
	if !v.IsString() {
		rt.diag.RecoverableError(fmt.Sprintf("Method %s::%s() must return a string value", obj.class.Name, MethodToString))
		return "", nil
	}
	return v.Str(), nil
}

// ToStringValue converts any value to a string.
func (rt *Runtime) ToStringValue(v Value) (string, error) {
	v = v.Deref()
	switch v.kind {
	case KindUninit, KindNull:
		return "", nil
	case KindBool:
		if v.Bool() {
			return "1", nil
		}
		return "", nil
	case KindInt:
		return strconv.FormatInt(v.Int(), 10), nil
	case KindDouble:
		return formatDouble(v.Double()), nil
	case KindString:
		return v.Str(), nil
	case KindArray:
		rt.diag.Notice("Array to string conversion")
		return "Array", nil
	case KindObject:
		return rt.ToString(v.Object())
	}
	return "", nil
}

// formatDouble renders f with 14 significant digits.
func formatDouble(f float64) string {
	s := strconv.FormatFloat(f, 'G', 14, 64)
	if i := strings.IndexByte(s, 'E'); i >= 0 && !strings.Contains(s[:i], ".") {
		s = s[:i] + ".0" + s[i:]
	}
	return s
}

// ---------------------------------------------------------------------------
// Array projection
// ---------------------------------------------------------------------------

// ToArray projects obj to an array. Built-in kinds supply their own
// projection; other objects project their properties (see getArray). The
// result is unheld: take a reference to keep it, or Discard it.
func (rt *Runtime) ToArray(obj *Object, pubOnly bool) (*Array, error) {
	if b := rt.builtins[obj.class.Kind]; b != nil && b.ToArray != nil {
		return b.ToArray(rt, obj, pubOnly)
	}
	return obj.getArray(pubOnly), nil
}

// ToArray is shorthand for Runtime.ToArray.
func (obj *Object) ToArray(pubOnly bool) (*Array, error) {
	return obj.rt.ToArray(obj, pubOnly)
}

// getArray lists the initialized declared properties from the most derived
// class to the root, each under its mangled key, followed by the dynamic
// properties. Each slot appears once, under the name it has at the most
// derived level declaring it. Cache-only properties are skipped, as are
// non-public ones when pubOnly is set.
func (obj *Object) getArray(pubOnly bool) *Array {
	out := NewArray()
	inserted := make([]bool, len(obj.props))
	for c := obj.class; c != nil; c = c.Parent {
		for _, p := range c.declaredHere() {
			idx, ok := c.index[p.Name]
			if !ok || inserted[idx] {
				continue
			}
			s := &c.slots[idx]
			if s.Attrs&PropNoDup != 0 || (pubOnly && s.Visibility != Public) {
				continue
			}
			v := obj.props[idx]
			if v.IsUninit() {
				continue
			}
			inserted[idx] = true
			out.SetWithRef(s.mangled, v)
		}
	}
	if dyn := obj.rt.objects.dynPropArray(obj); dyn != nil {
		dyn.Each(func(key string, v Value) bool {
			out.SetWithRef(key, v)
			return true
		})
	}
	return out
}

// IterMode selects how references are treated when iterating an object.
type IterMode uint8

const (
	// CreateRefs boxes every visited property so the array aliases it.
	CreateRefs IterMode = iota
	// EraseRefs copies values, dropping reference semantics.
	EraseRefs
	// PreserveRefs shares existing references and copies everything else.
	PreserveRefs
)

// ToIterArray lists the properties visible from ctx, keyed by bare name, in
// declaration order from the most derived class up, then properties
// imported from traits, then dynamic properties. The result is unheld.
func (obj *Object) ToIterArray(ctx *Class, mode IterMode) (*Array, error) {
	objects := obj.rt.objects
	if mode == PreserveRefs && len(obj.props) == 0 {
		if dyn := objects.dynPropArray(obj); dyn != nil {
			return dyn.Copy(), nil
		}
		return NewArray(), nil
	}

	out := NewArray()
	for c := obj.class; c != nil; c = c.Parent {
		for _, p := range c.Props {
			if err := obj.iterProp(ctx, p.Name, mode, out); err != nil {
				out.Discard()
				return nil, err
			}
		}
	}
	for _, s := range obj.class.slots {
		if out.Has(s.Name) {
			continue
		}
		if err := obj.iterProp(ctx, s.Name, mode, out); err != nil {
			out.Discard()
			return nil, err
		}
	}

	if objects.dynPropArray(obj) == nil {
		return out, nil
	}
	if mode == CreateRefs {
		dyn := objects.separateDynProps(obj)
		for _, key := range dyn.Keys() {
			out.SetRef(key, boxCell(dyn.cell(key)))
		}
		return out, nil
	}
	objects.dynPropArray(obj).Each(func(key string, v Value) bool {
		if mode == EraseRefs {
			out.Set(key, v.Deref())
		} else {
			out.SetWithRef(key, v)
		}
		return true
	})
	return out, nil
}

func (obj *Object) iterProp(ctx *Class, name string, mode IterMode, out *Array) error {
	if mode == CreateRefs {
		r, err := obj.VGetProp(ctx, name)
		if err != nil {
			return err
		}
		if r != nil {
			out.SetRef(name, r)
		}
		return nil
	}
	cell := obj.getProp(ctx, name)
	if cell == nil || cell.IsUninit() {
		return nil
	}
	if mode == EraseRefs {
		out.Set(name, cell.Deref())
	} else {
		out.SetWithRef(name, *cell)
	}
	return nil
}

// FromArray creates a stdClass instance whose dynamic properties are arr.
// The store is shared copy-on-write with the caller.
func (rt *Runtime) FromArray(arr *Array) (*Object, error) {
	obj, err := rt.NewInstance(rt.stdClass)
	if err != nil {
		return nil, err
	}
	rt.objects.setDynProps(obj, arr)
	return obj, nil
}

// ---------------------------------------------------------------------------
// Serialization and debugging hooks
// ---------------------------------------------------------------------------

// InvokeSleep calls __sleep. ok is false if the class does not define it.
func (rt *Runtime) InvokeSleep(obj *Object) (v Value, ok bool, err error) {
	return rt.invokeHook(obj, MethodSleep)
}

// InvokeWakeup calls __wakeup.
func (rt *Runtime) InvokeWakeup(obj *Object) (bool, error) {
	_, ok, err := rt.invokeHook(obj, MethodWakeup)
	return ok, err
}

// InvokeDebugInfo calls __debugInfo. Without the hook the full projection
// is returned.
func (rt *Runtime) InvokeDebugInfo(obj *Object) (Value, error) {
	v, ok, err := rt.invokeHook(obj, MethodDebugInfo)
	if err != nil || ok {
		return v, err
	}
	arr, err := rt.ToArray(obj, false)
	if err != nil {
		return Null, err
	}
	return FromArray(arr), nil
}

func (rt *Runtime) invokeHook(obj *Object, name string) (Value, bool, error) {
	m := obj.class.LookupMethod(name)
	if m == nil {
		return Null, false, nil
	}
	v, err := m.Invoke(rt, obj, nil)
	return v, true, err
}
