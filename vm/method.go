package vm

// Method is a callable attached to a class: a compiled user method or a
// native implementation. The method invocation engine sits behind this
// interface; the object runtime only ever calls through it.
//
// The returned Value is borrowed: callers that keep it take their own
// reference. A returned error is a fault raised by the method body.
type Method interface {
	Invoke(rt *Runtime, this *Object, args []Value) (Value, error)
}

// MethodFunc adapts a function to Method.
type MethodFunc func(rt *Runtime, this *Object, args []Value) (Value, error)

// Invoke calls f.
func (f MethodFunc) Invoke(rt *Runtime, this *Object, args []Value) (Value, error) {
	return f(rt, this, args)
}

// invokeMethod calls the named method on obj, returning Null if the class
// does not define it.
func (rt *Runtime) invokeMethod(obj *Object, name string, args ...Value) (Value, error) {
	m := obj.class.LookupMethod(name)
	if m == nil {
		return Null, nil
	}
	return m.Invoke(rt, obj, args)
}
