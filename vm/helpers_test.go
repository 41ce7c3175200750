package vm

import (
	"testing"
)

// diagRecorder collects diagnostics raised during a test.
type diagRecorder struct {
	notices     []string
	recoverable []string
}

func (d *diagRecorder) record(level, msg string) {
	if level == "notice" {
		d.notices = append(d.notices, msg)
	} else {
		d.recoverable = append(d.recoverable, msg)
	}
}

func newTestRuntime(t *testing.T) (*Runtime, *diagRecorder) {
	t.Helper()
	rt := NewRuntime(DefaultOptions())
	d := &diagRecorder{}
	rt.SetDiagnostics(DiagnosticsFunc(d.record))
	return rt, d
}

func mustNew(t *testing.T, rt *Runtime, cls *Class) *Object {
	t.Helper()
	obj, err := rt.NewInstance(cls)
	if err != nil {
		t.Fatalf("NewInstance(%s): %v", cls.Name, err)
	}
	return obj
}

func mustProp(t *testing.T, obj *Object, ctx *Class, name string) Value {
	t.Helper()
	v, err := obj.Prop(ctx, name)
	if err != nil {
		t.Fatalf("Prop(%s): %v", name, err)
	}
	return v
}

func mustSet(t *testing.T, obj *Object, ctx *Class, name string, v Value) {
	t.Helper()
	if err := obj.SetProp(ctx, name, v); err != nil {
		t.Fatalf("SetProp(%s): %v", name, err)
	}
}

func mustArray(t *testing.T, obj *Object, pubOnly bool) *Array {
	t.Helper()
	arr, err := obj.ToArray(pubOnly)
	if err != nil {
		t.Fatalf("ToArray: %v", err)
	}
	return arr
}

func pub(name string, def Value) PropDecl {
	return PropDecl{Name: name, Visibility: Public, Default: def}
}

func priv(name string, def Value) PropDecl {
	return PropDecl{Name: name, Visibility: Private, Default: def}
}

func prot(name string, def Value) PropDecl {
	return PropDecl{Name: name, Visibility: Protected, Default: def}
}

func keysOf(a *Array) []string {
	return a.Keys()
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
