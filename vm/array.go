package vm

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Array is an ordered, string-keyed property bag.
//
// It is the result type of object projections and the container behind an
// object's dynamic properties. Elements live in stable cells so that a
// property handle (*Value) stays valid while the element exists.
//
// Arrays are reference counted and copy-on-write: code that mutates an
// array reachable from more than one holder must separate it first (see
// separateArray).
type Array struct {
	m        *orderedmap.OrderedMap[string, *Value]
	refCount int32
}

// NewArray creates an empty array with no holders.
func NewArray() *Array {
	return &Array{m: orderedmap.New[string, *Value]()}
}

// NewArrayFrom builds an array from alternating key/value pairs, retaining
// each value. Handy for literals in tests and built-ins.
func NewArrayFrom(pairs ...any) *Array {
	a := NewArray()
	for i := 0; i+1 < len(pairs); i += 2 {
		a.Set(pairs[i].(string), pairs[i+1].(Value))
	}
	return a
}

// Len returns the number of elements.
func (a *Array) Len() int {
	return a.m.Len()
}

// RefCount returns the number of holders.
func (a *Array) RefCount() int32 {
	return a.refCount
}

// IncRef takes a reference to a.
func (a *Array) IncRef() {
	a.refCount++
}

// DecRef drops a reference and releases every element when the last holder
// goes away.
func (a *Array) DecRef() {
	if a.refCount <= 0 {
		panic("Array.DecRef: ref count underflow")
	}
	a.refCount--
	if a.refCount == 0 {
		a.release()
	}
}

func (a *Array) release() {
	for pair := a.m.Oldest(); pair != nil; pair = pair.Next() {
		v := *pair.Value
		*pair.Value = Null
		v.DecRef()
	}
	a.m = orderedmap.New[string, *Value]()
}

// Has reports whether key is present.
func (a *Array) Has(key string) bool {
	_, ok := a.m.Get(key)
	return ok
}

// Get returns the raw element (possibly a Ref) for key.
func (a *Array) Get(key string) (Value, bool) {
	cell, ok := a.m.Get(key)
	if !ok {
		return Uninit, false
	}
	return *cell, true
}

// At returns the dereferenced element for key, or Uninit if absent.
func (a *Array) At(key string) Value {
	cell, ok := a.m.Get(key)
	if !ok {
		return Uninit
	}
	return cell.Deref()
}

// cell returns the storage cell for key, or nil.
func (a *Array) cell(key string) *Value {
	cell, ok := a.m.Get(key)
	if !ok {
		return nil
	}
	return cell
}

// Lval returns the storage cell for key, appending a Null element if the key
// is absent.
func (a *Array) Lval(key string) *Value {
	if cell, ok := a.m.Get(key); ok {
		return cell
	}
	cell := &Value{kind: KindNull}
	a.m.Set(key, cell)
	return cell
}

// Set assigns v to key, writing through an existing Ref element.
func (a *Array) Set(key string, v Value) {
	setCell(a.Lval(key), v)
}

// SetWithRef stores v as-is: a Ref value is shared rather than written
// through. Used when copying elements between containers.
func (a *Array) SetWithRef(key string, v Value) {
	bindCell(a.Lval(key), dupWithRef(v))
}

// SetRef makes key an alias of r.
func (a *Array) SetRef(key string, r *Ref) {
	bindCell(a.Lval(key), FromRef(r))
}

// Remove deletes key, releasing its element. Returns false if absent.
func (a *Array) Remove(key string) bool {
	cell, ok := a.m.Delete(key)
	if !ok {
		return false
	}
	v := *cell
	*cell = Null
	v.DecRef()
	return true
}

// Keys returns the keys in insertion order.
func (a *Array) Keys() []string {
	keys := make([]string, 0, a.m.Len())
	for pair := a.m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Each calls fn for each element in insertion order until fn returns false.
// Values are passed raw (Refs are not dereferenced).
func (a *Array) Each(fn func(key string, v Value) bool) {
	for pair := a.m.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, *pair.Value) {
			return
		}
	}
}

// Copy returns an independent array with the same elements. Refs shared
// with other holders stay shared; everything else is retained by the copy.
func (a *Array) Copy() *Array {
	c := NewArray()
	for pair := a.m.Oldest(); pair != nil; pair = pair.Next() {
		c.SetWithRef(pair.Key, *pair.Value)
	}
	return c
}

// separateArray makes the array held in *dst exclusively owned by dst,
// copying it if another holder shares it. Returns the (possibly new) array,
// or nil if *dst does not hold an array.
func separateArray(dst *Value) *Array {
	dst = cellOf(dst)
	a := dst.Array()
	if a == nil {
		return nil
	}
	if a.refCount > 1 {
		c := a.Copy()
		bindCell(dst, FromArray(c))
		return c
	}
	return a
}

// Discard releases the elements of an array that nobody holds. Projections
// are returned unheld; callers that only inspect one discard it afterwards.
func (a *Array) Discard() {
	if a != nil && a.refCount == 0 {
		a.release()
	}
}
