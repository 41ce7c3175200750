package vm

import (
	"math"
	"strconv"
)

// Value is a tagged runtime value.
//
// The zero Value is Uninit, which is what a declared property slot holds
// before it has been assigned (or after it has been unset). Strings are Go
// strings and carry no reference count; arrays, objects and refs are
// reference counted and must be retained by whatever container stores them.
//
// Encoding scheme:
//   - Uninit, Null: kind only
//   - Bool, Int, Double: payload in bits
//   - String: payload in str
//   - Array, Object, Ref: payload in ptr
type Value struct {
	kind Kind
	bits uint64
	str  string
	ptr  any
}

// Kind identifies the type of a Value.
type Kind uint8

const (
	KindUninit Kind = iota
	KindNull
	KindBool
	KindInt
	KindDouble
	KindString
	KindArray
	KindObject
	KindRef
)

var kindNames = [...]string{
	KindUninit: "uninit",
	KindNull:   "null",
	KindBool:   "bool",
	KindInt:    "int",
	KindDouble: "float",
	KindString: "string",
	KindArray:  "array",
	KindObject: "object",
	KindRef:    "ref",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Pre-defined values
var (
	Uninit = Value{}
	Null   = Value{kind: KindNull}
	True   = Value{kind: KindBool, bits: 1}
	False  = Value{kind: KindBool}
)

// Ref is a shared, reference counted box. A slot holding a Ref is "boxed":
// reads and writes go through to Ref.Value, and every holder of the same Ref
// observes the same value.
type Ref struct {
	Value    Value
	refCount int32
}

// NewRef boxes v. The returned Ref has a reference count of zero; the first
// container that stores it takes the first reference.
func NewRef(v Value) *Ref {
	v = v.Deref()
	v.IncRef()
	return &Ref{Value: v}
}

// RefCount returns the number of holders of r.
func (r *Ref) RefCount() int32 {
	return r.refCount
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// FromBool creates a Value from a bool.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// FromInt creates an integer Value.
func FromInt(n int64) Value {
	return Value{kind: KindInt, bits: uint64(n)}
}

// FromDouble creates a float Value.
func FromDouble(f float64) Value {
	return Value{kind: KindDouble, bits: math.Float64bits(f)}
}

// FromString creates a string Value.
func FromString(s string) Value {
	return Value{kind: KindString, str: s}
}

// FromArray wraps an array. No reference is taken.
func FromArray(a *Array) Value {
	if a == nil {
		return Null
	}
	return Value{kind: KindArray, ptr: a}
}

// FromObject wraps an object. No reference is taken.
func FromObject(obj *Object) Value {
	if obj == nil {
		return Null
	}
	return Value{kind: KindObject, ptr: obj}
}

// FromRef wraps a Ref. No reference is taken.
func FromRef(r *Ref) Value {
	return Value{kind: KindRef, ptr: r}
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// Kind returns the kind of v.
func (v Value) Kind() Kind { return v.kind }

// IsUninit returns true for the unset-slot marker.
func (v Value) IsUninit() bool { return v.kind == KindUninit }

// IsNull returns true for Null and Uninit.
func (v Value) IsNull() bool { return v.kind == KindNull || v.kind == KindUninit }

func (v Value) IsBool() bool   { return v.kind == KindBool }
func (v Value) IsInt() bool    { return v.kind == KindInt }
func (v Value) IsDouble() bool { return v.kind == KindDouble }
func (v Value) IsString() bool { return v.kind == KindString }
func (v Value) IsArray() bool  { return v.kind == KindArray }
func (v Value) IsObject() bool { return v.kind == KindObject }
func (v Value) IsRef() bool    { return v.kind == KindRef }

// IsNumeric returns true for int and float values.
func (v Value) IsNumeric() bool { return v.kind == KindInt || v.kind == KindDouble }

// ---------------------------------------------------------------------------
// Payload access
// ---------------------------------------------------------------------------

// Bool returns v as a bool.
// Panics if v is not a bool.
func (v Value) Bool() bool {
	if v.kind != KindBool {
		panic("Value.Bool: not a bool")
	}
	return v.bits != 0
}

// Int returns v as an int64.
// Panics if v is not an int.
func (v Value) Int() int64 {
	if v.kind != KindInt {
		panic("Value.Int: not an int")
	}
	return int64(v.bits)
}

// Double returns v as a float64.
// Panics if v is not a float.
func (v Value) Double() float64 {
	if v.kind != KindDouble {
		panic("Value.Double: not a float")
	}
	return math.Float64frombits(v.bits)
}

// Str returns the string payload of v.
// Panics if v is not a string.
func (v Value) Str() string {
	if v.kind != KindString {
		panic("Value.Str: not a string")
	}
	return v.str
}

// Array returns the array payload, or nil if v is not an array.
func (v Value) Array() *Array {
	if v.kind != KindArray {
		return nil
	}
	return v.ptr.(*Array)
}

// Object returns the object payload, or nil if v is not an object.
func (v Value) Object() *Object {
	if v.kind != KindObject {
		return nil
	}
	return v.ptr.(*Object)
}

// Ref returns the box payload, or nil if v is not a ref.
func (v Value) Ref() *Ref {
	if v.kind != KindRef {
		return nil
	}
	return v.ptr.(*Ref)
}

// Deref returns the boxed value when v is a Ref, v otherwise.
func (v Value) Deref() Value {
	if v.kind == KindRef {
		return v.ptr.(*Ref).Value
	}
	return v
}

// ---------------------------------------------------------------------------
// Reference counting
// ---------------------------------------------------------------------------

// IncRef takes a reference to the payload of v, if it is counted.
func (v Value) IncRef() {
	switch v.kind {
	case KindArray:
		v.ptr.(*Array).refCount++
	case KindObject:
		v.ptr.(*Object).IncRef()
	case KindRef:
		v.ptr.(*Ref).refCount++
	}
}

// DecRef drops a reference to the payload of v, releasing it when the count
// reaches zero. Releasing an object may run its destructor.
func (v Value) DecRef() {
	switch v.kind {
	case KindArray:
		v.ptr.(*Array).DecRef()
	case KindObject:
		v.ptr.(*Object).DecRef()
	case KindRef:
		r := v.ptr.(*Ref)
		if r.refCount <= 0 {
			panic("Value.DecRef: ref count underflow")
		}
		r.refCount--
		if r.refCount == 0 {
			inner := r.Value
			r.Value = Null
			inner.DecRef()
		}
	}
}

// ---------------------------------------------------------------------------
// Cell helpers
// ---------------------------------------------------------------------------

// setCell stores v into *dst, writing through a Ref if dst is boxed. The new
// value is retained and the previous one released.
func setCell(dst *Value, v Value) {
	if dst.kind == KindRef {
		dst = &dst.ptr.(*Ref).Value
	}
	v = v.Deref()
	old := *dst
	v.IncRef()
	*dst = v
	old.DecRef()
}

// bindCell replaces *dst with v without writing through an existing Ref.
func bindCell(dst *Value, v Value) {
	old := *dst
	v.IncRef()
	*dst = v
	old.DecRef()
}

// cellOf returns the storage cell behind dst: the Ref's box if boxed.
func cellOf(dst *Value) *Value {
	if dst.kind == KindRef {
		return &dst.ptr.(*Ref).Value
	}
	return dst
}

// boxCell converts *dst into a Ref in place (if it is not one already) and
// returns the Ref.
func boxCell(dst *Value) *Ref {
	if dst.kind == KindRef {
		return dst.ptr.(*Ref)
	}
	r := &Ref{Value: *dst, refCount: 1}
	if r.Value.kind == KindUninit {
		r.Value = Null
	}
	*dst = FromRef(r)
	return r
}

// dupWithRef copies v for storage in a new container. A Ref that nobody else
// shares is unboxed so the copy does not alias the original.
func dupWithRef(v Value) Value {
	if r := v.Ref(); r != nil && r.refCount <= 1 {
		return r.Value
	}
	return v
}

// ---------------------------------------------------------------------------
// Scalar coercion
// ---------------------------------------------------------------------------

// ToBool returns the truthiness of a non-object value. Objects answer through
// Object.ToBool, which may fault.
func (v Value) ToBool() bool {
	v = v.Deref()
	switch v.kind {
	case KindUninit, KindNull:
		return false
	case KindBool:
		return v.bits != 0
	case KindInt:
		return v.bits != 0
	case KindDouble:
		return v.Double() != 0
	case KindString:
		return v.str != "" && v.str != "0"
	case KindArray:
		return v.Array().Len() > 0
	}
	return true
}

// String returns a debugging representation of v.
func (v Value) String() string {
	v = v.Deref()
	switch v.kind {
	case KindUninit:
		return "<uninit>"
	case KindNull:
		return "null"
	case KindBool:
		if v.bits != 0 {
			return "true"
		}
		return "false"
	case KindInt:
		return strconv.FormatInt(v.Int(), 10)
	case KindDouble:
		return strconv.FormatFloat(v.Double(), 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.str)
	case KindArray:
		return "array(" + strconv.Itoa(v.Array().Len()) + ")"
	case KindObject:
		obj := v.Object()
		return "object(" + obj.ClassName() + ")#" + strconv.FormatUint(uint64(obj.id), 10)
	}
	return "?"
}
