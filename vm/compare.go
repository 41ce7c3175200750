package vm

import (
	"cmp"
	"strings"
)

// ---------------------------------------------------------------------------
// Object comparison
// ---------------------------------------------------------------------------

// Equal reports loose equality of two objects: the same object, equal
// timestamps for dates, or the same class with loosely equal projections.
// Collections and opaque kinds (closures) compare through their built-in.
func (rt *Runtime) Equal(a, b *Object) (bool, error) {
	if a == b {
		return true, nil
	}
	ba := rt.builtins[a.class.Kind]
	if a.IsCollection() && ba != nil && ba.Equal != nil {
		return ba.Equal(rt, a, b)
	}
	if ts, ok := rt.timestamps(a, b); ok {
		return ts[0] == ts[1], nil
	}
	if a.class != b.class {
		return false, nil
	}
	if ba != nil {
		switch {
		case ba.Equal != nil:
			return ba.Equal(rt, a, b)
		case ba.Opaque:
			return false, nil
		}
	}
	return rt.projectionsEqual(a, b)
}

// Less reports a < b. Collections cannot be ordered. Objects of different
// classes, and distinct closures, are neither less nor greater.
func (rt *Runtime) Less(a, b *Object) (bool, error) {
	c, ordered, err := rt.order(a, b)
	return ordered && c < 0, err
}

// More reports a > b.
func (rt *Runtime) More(a, b *Object) (bool, error) {
	c, ordered, err := rt.order(b, a)
	return ordered && c < 0, err
}

// Compare returns -1, 0 or 1. Pairs that have no ordering (different
// classes, distinct closures) compare as 1, so Compare can report 1 where
// both Less and More report false.
func (rt *Runtime) Compare(a, b *Object) (int, error) {
	c, ordered, err := rt.order(a, b)
	if err != nil {
		return 0, err
	}
	if !ordered {
		return 1, nil
	}
	return c, nil
}

// unordered reports whether obj's built-in kind refuses relational
// comparison.
func (rt *Runtime) unordered(obj *Object) bool {
	b := rt.builtins[obj.class.Kind]
	return b != nil && b.Unordered
}

// order compares a with b. ordered is false for pairs without an ordering;
// an uncomparable projection pair yields c == 1 in both directions.
func (rt *Runtime) order(a, b *Object) (c int, ordered bool, err error) {
	if rt.unordered(a) || rt.unordered(b) {
		return 0, false, collectionOrderingError()
	}
	if a == b {
		return 0, true, nil
	}
	if ts, ok := rt.timestamps(a, b); ok {
		return cmp.Compare(ts[0], ts[1]), true, nil
	}
	if ba := rt.builtins[a.class.Kind]; ba != nil && ba.Opaque {
		return 0, false, nil
	}
	if a.class != b.class {
		return 0, false, nil
	}
	pa, err := rt.ToArray(a, false)
	if err != nil {
		return 0, false, err
	}
	defer pa.Discard()
	pb, err := rt.ToArray(b, false)
	if err != nil {
		return 0, false, err
	}
	defer pb.Discard()
	c, err = rt.compareArrays(pa, pb)
	return c, true, err
}

// timestamps returns the timestamps of a and b when both are dates.
func (rt *Runtime) timestamps(a, b *Object) ([2]int64, bool) {
	ba, bb := rt.builtins[a.class.Kind], rt.builtins[b.class.Kind]
	if ba == nil || bb == nil || ba.Timestamp == nil || bb.Timestamp == nil {
		return [2]int64{}, false
	}
	return [2]int64{ba.Timestamp(a), bb.Timestamp(b)}, true
}

func (rt *Runtime) projectionsEqual(a, b *Object) (bool, error) {
	pa, err := rt.ToArray(a, false)
	if err != nil {
		return false, err
	}
	pb, err := rt.ToArray(b, false)
	if err != nil {
		pa.Discard()
		return false, err
	}
	return rt.arraysEqual(pa, pb)
}

// ---------------------------------------------------------------------------
// Array comparison
// ---------------------------------------------------------------------------

// arraysEqual reports whether a and b have the same keys with loosely equal
// values, in any order. Unheld arguments are discarded.
func (rt *Runtime) arraysEqual(a, b *Array) (bool, error) {
	defer a.Discard()
	defer b.Discard()
	if a.Len() != b.Len() {
		return false, nil
	}
	for _, key := range a.Keys() {
		bv, ok := b.Get(key)
		if !ok {
			return false, nil
		}
		eq, err := rt.LooseEqual(a.At(key), bv)
		if err != nil || !eq {
			return false, err
		}
	}
	return true, nil
}

// arraysEqualOrdered additionally requires the same key order.
func (rt *Runtime) arraysEqualOrdered(a, b *Array) (bool, error) {
	if a.Len() != b.Len() {
		return false, nil
	}
	ka, kb := a.Keys(), b.Keys()
	for i := range ka {
		if ka[i] != kb[i] {
			return false, nil
		}
		eq, err := rt.LooseEqual(a.At(ka[i]), b.At(kb[i]))
		if err != nil || !eq {
			return false, err
		}
	}
	return true, nil
}

// compareArrays orders arrays by size, then element-wise in a's key order.
// A key of a missing from b makes the pair uncomparable: the result is 1
// whichever way round the arrays are passed.
func (rt *Runtime) compareArrays(a, b *Array) (int, error) {
	if c := cmp.Compare(a.Len(), b.Len()); c != 0 {
		return c, nil
	}
	for _, key := range a.Keys() {
		bv, ok := b.Get(key)
		if !ok {
			return 1, nil
		}
		c, err := rt.CompareValues(a.At(key), bv)
		if err != nil || c != 0 {
			return c, err
		}
	}
	return 0, nil
}

// ---------------------------------------------------------------------------
// Value comparison
// ---------------------------------------------------------------------------

// LooseEqual reports a == b with type juggling.
func (rt *Runtime) LooseEqual(a, b Value) (bool, error) {
	a, b = initValue(a), initValue(b)
	switch {
	case a.IsObject() && b.IsObject():
		return rt.Equal(a.Object(), b.Object())
	case a.IsBool() || b.IsBool():
		ta, err := rt.truthy(a)
		if err != nil {
			return false, err
		}
		tb, err := rt.truthy(b)
		return ta == tb, err
	case a.IsNull() && b.IsNull():
		return true, nil
	case a.IsNull() && b.IsString():
		return b.Str() == "", nil
	case b.IsNull() && a.IsString():
		return a.Str() == "", nil
	case a.IsNull() || b.IsNull():
		t, err := rt.truthy(a)
		if a.IsNull() {
			t, err = rt.truthy(b)
		}
		return !t, err
	case a.IsArray() && b.IsArray():
		return rt.arraysEqual(a.Array(), b.Array())
	case a.IsArray() || b.IsArray():
		return false, nil
	case a.IsObject() || b.IsObject():
		obj, other := a, b
		if b.IsObject() {
			obj, other = b, a
		}
		if other.IsString() && obj.Object().class.HasAttr(HasToString) {
			s, err := rt.ToString(obj.Object())
			return s == other.Str(), err
		}
		return false, nil
	}
	c, err := rt.CompareValues(a, b)
	return c == 0, err
}

// CompareValues returns -1, 0 or 1 comparing a with b with type juggling.
// Arrays are greater than scalars and objects greater than arrays.
func (rt *Runtime) CompareValues(a, b Value) (int, error) {
	a, b = initValue(a), initValue(b)
	switch {
	case a.IsObject() && b.IsObject():
		return rt.Compare(a.Object(), b.Object())
	case a.IsBool() || b.IsBool() || (a.IsNull() && !b.IsString()) || (b.IsNull() && !a.IsString()):
		ta, err := rt.truthy(a)
		if err != nil {
			return 0, err
		}
		tb, err := rt.truthy(b)
		return cmpBool(ta, tb), err
	case a.IsNull() || b.IsNull():
		return strings.Compare(nullString(a), nullString(b)), nil
	case a.IsObject():
		return 1, nil
	case b.IsObject():
		return -1, nil
	case a.IsArray() && b.IsArray():
		return rt.compareArrays(a.Array(), b.Array())
	case a.IsArray():
		return 1, nil
	case b.IsArray():
		return -1, nil
	case a.IsString() && b.IsString():
		na, oka := parseNumeric(a.Str())
		nb, okb := parseNumeric(b.Str())
		if oka && okb {
			return compareNumbers(na, nb), nil
		}
		return strings.Compare(a.Str(), b.Str()), nil
	case a.IsString() || b.IsString():
		// Number against string: numeric if the string is numeric,
		// otherwise compare as strings.
		s, n, flip := a, b, 1
		if b.IsString() {
			s, n, flip = b, a, -1
		}
		if ns, ok := parseNumeric(s.Str()); ok {
			return flip * compareNumbers(ns, n), nil
		}
		str, err := rt.ToStringValue(n)
		return flip * strings.Compare(s.Str(), str), err
	}
	return compareNumbers(a, b), nil
}

func nullString(v Value) string {
	if v.IsString() {
		return v.Str()
	}
	return ""
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	}
	return -1
}

// compareNumbers compares two int/double values.
func compareNumbers(a, b Value) int {
	if a.IsInt() && b.IsInt() {
		return cmp.Compare(a.Int(), b.Int())
	}
	fa, fb := numberAsFloat(a), numberAsFloat(b)
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	}
	return 0
}
