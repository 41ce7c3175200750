package vm

import (
	"errors"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Array projection
// ---------------------------------------------------------------------------

// projectionFixture builds Derived extends Base where both declare a private
// "p", plus a cache-only, an uninitialized and a dynamic property.
func projectionFixture(t *testing.T) (*Runtime, *Class, *Class, *Object) {
	t.Helper()
	rt, _ := newTestRuntime(t)
	base := NewClass("Base", nil,
		pub("a1", FromInt(1)),
		priv("p", FromInt(2)),
		prot("q", FromInt(3)),
		PropDecl{Name: "cache", Visibility: Public, Attrs: PropNoDup, Default: FromInt(9)},
		pub("u", Uninit),
	)
	derived := NewClass("Derived", base, pub("b1", FromInt(4)), priv("p", FromInt(5)))
	obj := mustNew(t, rt, derived)
	mustSet(t, obj, nil, "d", FromInt(6))
	return rt, base, derived, obj
}

func TestToArrayOrder(t *testing.T) {
	_, _, _, obj := projectionFixture(t)

	arr := mustArray(t, obj, false)
	defer arr.Discard()
	want := []string{"b1", "\x00Derived\x00p", "a1", "\x00Base\x00p", "\x00*\x00q", "d"}
	if got := keysOf(arr); !equalStrings(got, want) {
		t.Fatalf("keys = %q, want %q", got, want)
	}
	if arr.At("\x00Derived\x00p").Int() != 5 || arr.At("\x00Base\x00p").Int() != 2 {
		t.Errorf("private values = %v, %v", arr.At("\x00Derived\x00p"), arr.At("\x00Base\x00p"))
	}

	pubArr := mustArray(t, obj, true)
	defer pubArr.Discard()
	if got := keysOf(pubArr); !equalStrings(got, []string{"b1", "a1", "d"}) {
		t.Errorf("public keys = %q", got)
	}
}

func TestToArrayRedeclaredOnce(t *testing.T) {
	rt, _ := newTestRuntime(t)
	base := NewClass("Base", nil, pub("v", FromInt(1)), pub("w", FromInt(2)))
	derived := NewClass("Derived", base, pub("v", FromInt(3)))
	obj := mustNew(t, rt, derived)

	arr := mustArray(t, obj, false)
	if got := keysOf(arr); !equalStrings(got, []string{"v", "w"}) {
		t.Errorf("keys = %q, want [v w]", got)
	}
	if arr.At("v").Int() != 3 {
		t.Errorf("v = %v, want 3", arr.At("v"))
	}
}

func TestToArrayTraitProps(t *testing.T) {
	rt, _ := newTestRuntime(t)
	trait := NewTrait("Stamped", pub("stamp", FromInt(7)), pub("own", FromInt(0)))
	cls := NewClass("Record", nil, pub("own", FromInt(1))).Use(trait)
	obj := mustNew(t, rt, cls)

	arr := mustArray(t, obj, false)
	if got := keysOf(arr); !equalStrings(got, []string{"own", "stamp"}) {
		t.Errorf("keys = %q, want [own stamp]", got)
	}
	if arr.At("own").Int() != 1 {
		t.Errorf("class declaration should win over trait, own = %v", arr.At("own"))
	}
}

func TestToArraySharesReferences(t *testing.T) {
	rt, _ := newTestRuntime(t)
	obj := mustNew(t, rt, NewClass("Refs", nil, pub("shared", FromInt(1)), pub("alone", FromInt(2))))

	r, err := obj.VGetProp(nil, "shared")
	if err != nil || r == nil {
		t.Fatalf("VGetProp: %v, %v", r, err)
	}
	r.refCount++ // a second holder keeps the box shared
	if _, err := obj.VGetProp(nil, "alone"); err != nil {
		t.Fatal(err)
	}

	arr := mustArray(t, obj, false)
	if v, _ := arr.Get("shared"); !v.IsRef() {
		t.Errorf("shared reference should survive projection, got %v", v)
	}
	if v, _ := arr.Get("alone"); v.IsRef() {
		t.Errorf("unshared box should be unboxed in projection, got %v", v)
	}
}

// ---------------------------------------------------------------------------
// Iteration arrays
// ---------------------------------------------------------------------------

func TestToIterArrayVisibility(t *testing.T) {
	_, base, _, obj := projectionFixture(t)

	global, err := obj.ToIterArray(nil, EraseRefs)
	if err != nil {
		t.Fatal(err)
	}
	if got := keysOf(global); !equalStrings(got, []string{"b1", "a1", "cache", "d"}) {
		t.Errorf("global keys = %q", got)
	}

	fromBase, err := obj.ToIterArray(base, EraseRefs)
	if err != nil {
		t.Fatal(err)
	}
	if got := keysOf(fromBase); !equalStrings(got, []string{"b1", "p", "a1", "q", "cache", "d"}) {
		t.Errorf("Base keys = %q", got)
	}
	if fromBase.At("p").Int() != 2 {
		t.Errorf("p from Base = %v, want Base's 2", fromBase.At("p"))
	}
}

func TestToIterArrayCreateRefs(t *testing.T) {
	_, _, _, obj := projectionFixture(t)

	arr, err := obj.ToIterArray(nil, CreateRefs)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := arr.Get("b1")
	if !v.IsRef() {
		t.Fatalf("b1 = %v, want a reference", v)
	}
	arr.Set("b1", FromInt(100))
	arr.Set("d", FromInt(50))

	if got := mustProp(t, obj, nil, "b1"); got.Int() != 100 {
		t.Errorf("b1 = %v, want write through reference", got)
	}
	if got := mustProp(t, obj, nil, "d"); got.Int() != 50 {
		t.Errorf("d = %v, want write through reference", got)
	}
	arr.Discard()
	if got := mustProp(t, obj, nil, "b1"); got.Int() != 100 {
		t.Errorf("b1 after discard = %v", got)
	}
}

func TestToIterArrayPreserveRefsDynamicOnly(t *testing.T) {
	rt, _ := newTestRuntime(t)
	obj := mustNew(t, rt, rt.StdClass())
	mustSet(t, obj, nil, "x", FromInt(1))

	arr, err := obj.ToIterArray(nil, PreserveRefs)
	if err != nil {
		t.Fatal(err)
	}
	arr.Set("x", FromInt(2))
	if got := mustProp(t, obj, nil, "x"); got.Int() != 1 {
		t.Errorf("x = %v, iteration copy leaked a write", got)
	}
}

// ---------------------------------------------------------------------------
// Scalar and string conversion
// ---------------------------------------------------------------------------

func TestToStringHook(t *testing.T) {
	rt, diag := newTestRuntime(t)
	named := NewClass("Named", nil, pub("name", FromString("widget")))
	named.AddMethodFunc(MethodToString, func(rt *Runtime, this *Object, args []Value) (Value, error) {
		return this.Prop(nil, "name")
	})
	bad := NewClass("Bad", nil).AddMethodFunc(MethodToString, func(*Runtime, *Object, []Value) (Value, error) {
		return FromInt(1), nil
	})
	plain := NewClass("Plain", nil)

	if s, err := rt.ToString(mustNew(t, rt, named)); err != nil || s != "widget" {
		t.Errorf("ToString(Named) = %q, %v", s, err)
	}
	if s, _ := rt.ToString(mustNew(t, rt, bad)); s != "" {
		t.Errorf("ToString(Bad) = %q, want empty", s)
	}
	if s, _ := rt.ToString(mustNew(t, rt, plain)); s != "" {
		t.Errorf("ToString(Plain) = %q, want empty", s)
	}
	want := []string{
		"Method Bad::__toString() must return a string value",
		"Object of class Plain could not be converted to string",
	}
	if !equalStrings(diag.recoverable, want) {
		t.Errorf("recoverable = %q, want %q", diag.recoverable, want)
	}
}

func TestToStringValue(t *testing.T) {
	rt, _ := newTestRuntime(t)
	cases := []struct {
		v    Value
		want string
	}{
		{Null, ""},
		{FromBool(true), "1"},
		{FromBool(false), ""},
		{FromInt(-12), "-12"},
		{FromDouble(1.5), "1.5"},
		{FromDouble(0.1 + 0.2), "0.3"},
		{FromDouble(1e20), "1.0E+20"},
		{FromString("s"), "s"},
	}
	for _, tc := range cases {
		if got, err := rt.ToStringValue(tc.v); err != nil || got != tc.want {
			t.Errorf("ToStringValue(%v) = %q, %v; want %q", tc.v, got, err, tc.want)
		}
	}
}

func TestScalarConversionCapabilities(t *testing.T) {
	rt, _ := newTestRuntime(t)
	plain := mustNew(t, rt, NewClass("Plain", nil))
	if _, err := rt.ToBool(plain); !errors.Is(err, ErrConversionUnsupported) {
		t.Errorf("ToBool(Plain) err = %v", err)
	}
	if _, err := rt.ToInt64(plain); !errors.Is(err, ErrConversionUnsupported) {
		t.Errorf("ToInt64(Plain) err = %v", err)
	}
	if _, err := rt.ToDouble(plain); !errors.Is(err, ErrConversionUnsupported) {
		t.Errorf("ToDouble(Plain) err = %v", err)
	}
	if ok, err := rt.truthy(FromObject(plain)); err != nil || !ok {
		t.Errorf("truthy(Plain) = %v, %v; want true", ok, err)
	}

	empty, _ := rt.NewMap(nil)
	full, _ := rt.NewMap(NewArrayFrom("k", FromInt(1)))
	if b, _ := rt.ToBool(empty); b {
		t.Error("empty Map should be false")
	}
	if n, _ := rt.ToInt64(full); n != 1 {
		t.Errorf("ToInt64(full Map) = %d, want 1", n)
	}

	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	date, _ := rt.NewDateTime(when)
	if n, _ := rt.ToInt64(date); n != when.Unix() {
		t.Errorf("ToInt64(DateTime) = %d, want %d", n, when.Unix())
	}

	xml, _ := rt.NewXMLElement("count", "42", nil)
	if n, _ := rt.ToInt64(xml); n != 42 {
		t.Errorf("ToInt64(xml) = %d, want 42", n)
	}
	if f, _ := rt.ToDouble(xml); f != 42 {
		t.Errorf("ToDouble(xml) = %v, want 42", f)
	}
}

// ---------------------------------------------------------------------------
// FromArray and hooks
// ---------------------------------------------------------------------------

func TestFromArrayCopyOnWrite(t *testing.T) {
	rt, _ := newTestRuntime(t)
	arr := NewArrayFrom("a", FromInt(1))
	arr.IncRef()
	obj, err := rt.FromArray(arr)
	if err != nil {
		t.Fatal(err)
	}
	if obj.Class() != rt.StdClass() {
		t.Errorf("class = %s, want stdClass", obj.ClassName())
	}
	if got := mustProp(t, obj, nil, "a"); got.Int() != 1 {
		t.Errorf("a = %v", got)
	}

	mustSet(t, obj, nil, "a", FromInt(2))
	if arr.At("a").Int() != 1 {
		t.Errorf("source array changed to %v", arr.At("a"))
	}
	if got := mustProp(t, obj, nil, "a"); got.Int() != 2 {
		t.Errorf("a after write = %v", got)
	}
	arr.DecRef()
}

func TestDebugInfoFallsBackToProjection(t *testing.T) {
	rt, _ := newTestRuntime(t)
	obj := mustNew(t, rt, NewClass("Dumped", nil, priv("x", FromInt(1))))
	v, err := rt.InvokeDebugInfo(obj)
	if err != nil {
		t.Fatal(err)
	}
	if got := keysOf(v.Array()); !equalStrings(got, []string{"\x00Dumped\x00x"}) {
		t.Errorf("debug info keys = %q", got)
	}

	hooked := NewClass("Hooked", nil).AddMethodFunc(MethodDebugInfo, func(*Runtime, *Object, []Value) (Value, error) {
		return FromArray(NewArrayFrom("custom", FromBool(true))), nil
	})
	v, err = rt.InvokeDebugInfo(mustNew(t, rt, hooked))
	if err != nil || !v.Array().Has("custom") {
		t.Errorf("hooked debug info = %v, %v", v, err)
	}

	if _, ok, _ := rt.InvokeSleep(obj); ok {
		t.Error("InvokeSleep reported a hook on a class without __sleep")
	}
}
