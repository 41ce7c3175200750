package vm

// ---------------------------------------------------------------------------
// Recursion guard
// ---------------------------------------------------------------------------

type accessKind uint8

const (
	accessGet accessKind = iota
	accessSet
	accessIsset
	accessUnset
)

// accessKey identifies one magic accessor invocation.
type accessKey struct {
	obj  *Object
	name string
	kind accessKind
}

// propRecurInfo tracks the magic accessors active on the task's call stack.
// The common case is a single active accessor; the set is only built once a
// second, distinct accessor is entered while the first is still running.
type propRecurInfo struct {
	active    bool
	activeKey accessKey
	activeSet map[accessKey]struct{}
}

// guard runs body unless an accessor with the same key is already running,
// in which case it declines and returns handled == false. Bookkeeping is
// undone on every exit path, panics included.
func (rt *Runtime) guard(key accessKey, body func() error) (handled bool, err error) {
	r := &rt.recur
	if !r.active {
		r.active = true
		r.activeKey = key
		defer func() {
			r.active = false
			r.activeKey = accessKey{}
			r.activeSet = nil
		}()
		return true, body()
	}

	if r.activeSet == nil {
		r.activeSet = map[accessKey]struct{}{r.activeKey: {}}
	}
	if _, running := r.activeSet[key]; running {
		return false, nil
	}
	r.activeSet[key] = struct{}{}
	defer func() {
		delete(r.activeSet, key)
		if len(r.activeSet) <= 1 {
			r.activeSet = nil
		}
	}()
	return true, body()
}

// ActiveAccessors returns the number of magic accessors currently running.
func (rt *Runtime) ActiveAccessors() int {
	switch {
	case rt.recur.activeSet != nil:
		return len(rt.recur.activeSet)
	case rt.recur.active:
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// User-level accessors
// ---------------------------------------------------------------------------

// invokeGet calls __get. The result is borrowed from the method.
func (rt *Runtime) invokeGet(obj *Object, name string) (v Value, handled bool, err error) {
	handled, err = rt.guard(accessKey{obj, name, accessGet}, func() (err error) {
		v, err = rt.invokeMethod(obj, MethodGet, FromString(name))
		return err
	})
	return v, handled, err
}

// invokeSet calls __set with v.
func (rt *Runtime) invokeSet(obj *Object, name string, v Value) (bool, error) {
	return rt.guard(accessKey{obj, name, accessSet}, func() error {
		_, err := rt.invokeMethod(obj, MethodSet, FromString(name), v.Deref())
		return err
	})
}

// invokeIsset calls __isset and converts its result to a bool.
func (rt *Runtime) invokeIsset(obj *Object, name string) (isset, handled bool, err error) {
	handled, err = rt.guard(accessKey{obj, name, accessIsset}, func() error {
		v, err := rt.invokeMethod(obj, MethodIsset, FromString(name))
		if err != nil {
			return err
		}
		isset, err = rt.truthy(v)
		return err
	})
	return isset, handled, err
}

// invokeUnset calls __unset.
func (rt *Runtime) invokeUnset(obj *Object, name string) (bool, error) {
	return rt.guard(accessKey{obj, name, accessUnset}, func() error {
		_, err := rt.invokeMethod(obj, MethodUnset, FromString(name))
		return err
	})
}

// ---------------------------------------------------------------------------
// Native property handlers
// ---------------------------------------------------------------------------

// NativePropHandler intercepts access to undeclared properties of built-in
// classes. Each method reports whether it handled the access; an unhandled
// access falls through to the user-level accessors. Handlers are not
// reentrant and get no recursion guard.
type NativePropHandler interface {
	GetProp(rt *Runtime, obj *Object, name string) (Value, bool, error)
	SetProp(rt *Runtime, obj *Object, name string, v Value) (bool, error)
	IssetProp(rt *Runtime, obj *Object, name string) (isset, handled bool, err error)
	UnsetProp(rt *Runtime, obj *Object, name string) (bool, error)
}

func (rt *Runtime) nativeGet(obj *Object, name string) (Value, bool, error) {
	return obj.class.NativeProps.GetProp(rt, obj, name)
}

func (rt *Runtime) nativeSet(obj *Object, name string, v Value) (bool, error) {
	return obj.class.NativeProps.SetProp(rt, obj, name, v.Deref())
}

func (rt *Runtime) nativeIsset(obj *Object, name string) (bool, bool, error) {
	return obj.class.NativeProps.IssetProp(rt, obj, name)
}

func (rt *Runtime) nativeUnset(obj *Object, name string) (bool, error) {
	return obj.class.NativeProps.UnsetProp(rt, obj, name)
}
