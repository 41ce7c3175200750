package vm

import (
	"fmt"
	"strconv"
	"time"
)

// ---------------------------------------------------------------------------
// Built-in kinds
// ---------------------------------------------------------------------------

// BuiltinKind tags classes whose instances are backed by a native
// specialization. The object core never subclasses per kind: it looks the
// kind up in the runtime's capability table.
type BuiltinKind uint8

const (
	BuiltinNone BuiltinKind = iota
	BuiltinCollection
	BuiltinDateTime
	BuiltinClosure
	BuiltinAsyncHandle
	BuiltinXMLElement
	BuiltinArrayObject
	BuiltinArrayIterator
)

var builtinKindNames = [...]string{
	BuiltinNone:          "none",
	BuiltinCollection:    "collection",
	BuiltinDateTime:      "datetime",
	BuiltinClosure:       "closure",
	BuiltinAsyncHandle:   "async-handle",
	BuiltinXMLElement:    "xml-element",
	BuiltinArrayObject:   "array-object",
	BuiltinArrayIterator: "array-iterator",
}

func (k BuiltinKind) String() string {
	if int(k) < len(builtinKindNames) {
		return builtinKindNames[k]
	}
	return "builtin(" + strconv.Itoa(int(k)) + ")"
}

// Builtin is the capability table entry of one built-in kind. Nil fields
// mean the kind has no specialization for that operation.
type Builtin struct {
	Kind BuiltinKind

	ToBool   func(obj *Object) bool
	ToInt64  func(obj *Object) int64
	ToDouble func(obj *Object) float64

	// ToArray replaces the generic property projection.
	ToArray func(rt *Runtime, obj *Object, pubOnly bool) (*Array, error)
	// PropEmpty replaces the generic empty() check.
	PropEmpty func(rt *Runtime, obj *Object, name string) (bool, error)

	// Timestamp makes instances equal and ordered by a scalar timestamp.
	Timestamp func(obj *Object) int64
	// Equal replaces projection equality between two instances of the same
	// class (collections: between an instance and any object).
	Equal func(rt *Runtime, a, b *Object) (bool, error)
	// Unordered kinds refuse relational comparison.
	Unordered bool
	// Opaque kinds are only ever equal to themselves; Compare reports
	// distinct instances as greater.
	Opaque bool

	// Clone replaces structural cloning.
	Clone func(rt *Runtime, obj *Object) (*Object, error)
	// CopyNative duplicates the native payload for a structural clone.
	CopyNative func(native any) any
	// NonCloneable kinds fail to clone with their construction error.
	NonCloneable bool
	// Construct is consulted before user code creates an instance; a
	// non-nil error forbids direct construction.
	Construct func(cls *Class) error
	// Destroy is the instance destructor. It must release the native
	// payload and then call Runtime.FreeInstance.
	Destroy func(rt *Runtime, obj *Object)
}

// RegisterBuiltin installs or replaces the capability entry for b.Kind.
func (rt *Runtime) RegisterBuiltin(b *Builtin) {
	rt.builtins[b.Kind] = b
}

// Builtin returns the capability entry for kind, or nil.
func (rt *Runtime) Builtin(kind BuiltinKind) *Builtin {
	return rt.builtins[kind]
}

// FreeInstance performs the generic teardown of obj: slots, dynamic
// properties, id, weak references and memory. Built-in instance destructors
// call it after releasing their payload.
func (rt *Runtime) FreeInstance(obj *Object) {
	rt.freeInstance(obj)
}

func defaultBuiltins() map[BuiltinKind]*Builtin {
	return map[BuiltinKind]*Builtin{
		BuiltinCollection:    collectionBuiltin(),
		BuiltinDateTime:      dateTimeBuiltin(),
		BuiltinClosure:       closureBuiltin(),
		BuiltinAsyncHandle:   asyncHandleBuiltin(),
		BuiltinXMLElement:    xmlElementBuiltin(),
		BuiltinArrayObject:   arrayObjectBuiltin(BuiltinArrayObject),
		BuiltinArrayIterator: arrayObjectBuiltin(BuiltinArrayIterator),
	}
}

// Names of the classes registered by every runtime.
const (
	ClassStd           = "stdClass"
	ClassMap           = "Map"
	ClassVector        = "Vector"
	ClassDateTime      = "DateTime"
	ClassClosure       = "Closure"
	ClassWaitHandle    = "WaitHandle"
	ClassXMLElement    = "SimpleXMLElement"
	ClassArrayObject   = "ArrayObject"
	ClassArrayIterator = "ArrayIterator"
)

// ArrayObject flag: project the object's own properties instead of its
// storage.
const ArrayObjectStdPropList = 1

// bootstrap registers the built-in classes.
func (rt *Runtime) bootstrap() {
	withKind := func(c *Class, k BuiltinKind) *Class {
		c.Kind = k
		return c
	}
	storageProps := []PropDecl{
		{Name: "storage", Visibility: Private, Default: FromArray(NewArray()), Attrs: PropDeepInit, Type: KindUninit},
		{Name: "flags", Visibility: Private, Default: FromInt(0), Type: KindInt},
	}

	rt.stdClass = NewClass(ClassStd, nil)
	xml := withKind(NewClass(ClassXMLElement, nil), BuiltinXMLElement)
	xml.NativeProps = xmlPropHandler{}

	for _, c := range []*Class{
		rt.stdClass,
		withKind(NewClass(ClassMap, nil), BuiltinCollection),
		withKind(NewClass(ClassVector, nil), BuiltinCollection),
		withKind(NewClass(ClassDateTime, nil), BuiltinDateTime),
		withKind(NewClass(ClassClosure, nil), BuiltinClosure),
		withKind(NewClass(ClassWaitHandle, nil), BuiltinAsyncHandle),
		xml,
		withKind(NewClass(ClassArrayObject, nil, storageProps...), BuiltinArrayObject),
		withKind(NewClass(ClassArrayIterator, nil, storageProps...), BuiltinArrayIterator),
	} {
		rt.Classes.Register(c.Finalize())
	}
}

func (rt *Runtime) builtinClass(name string) *Class {
	cls := rt.Classes.Lookup(name)
	if cls == nil {
		panic("builtin class not registered: " + name)
	}
	return cls
}

// ---------------------------------------------------------------------------
// Collections
// ---------------------------------------------------------------------------

// CollectionData is the payload of Map and Vector instances.
type CollectionData struct {
	Elems *Array
	// Ordered collections compare element by element in order; unordered
	// ones compare by key.
	Ordered bool
}

// NewMap creates a Map over elems (which may be nil). An unheld array is
// adopted; a held one is copied.
func (rt *Runtime) NewMap(elems *Array) (*Object, error) {
	a := adoptArray(elems)
	obj, err := rt.allocate(rt.builtinClass(ClassMap), &CollectionData{Elems: a})
	if err != nil {
		a.DecRef()
	}
	return obj, err
}

// adoptArray returns an array the caller holds exclusively.
func adoptArray(a *Array) *Array {
	switch {
	case a == nil:
		a = NewArray()
	case a.refCount > 0:
		a = a.Copy()
	}
	a.IncRef()
	return a
}

// NewVector creates a Vector of values.
func (rt *Runtime) NewVector(values ...Value) (*Object, error) {
	a := NewArray()
	for i, v := range values {
		a.Set(strconv.Itoa(i), v)
	}
	a.IncRef()
	obj, err := rt.allocate(rt.builtinClass(ClassVector), &CollectionData{Elems: a, Ordered: true})
	if err != nil {
		a.DecRef()
	}
	return obj, err
}

// Collection returns obj's collection payload, or nil.
func (obj *Object) Collection() *CollectionData {
	c, _ := obj.native.(*CollectionData)
	return c
}

func collectionBuiltin() *Builtin {
	return &Builtin{
		Kind:      BuiltinCollection,
		Unordered: true,
		ToBool: func(obj *Object) bool {
			return obj.Collection().Elems.Len() > 0
		},
		ToArray: func(rt *Runtime, obj *Object, pubOnly bool) (*Array, error) {
			return obj.Collection().Elems.Copy(), nil
		},
		Equal: func(rt *Runtime, a, b *Object) (bool, error) {
			if !b.IsCollection() || a.class != b.class {
				return false, nil
			}
			ca, cb := a.Collection(), b.Collection()
			if ca.Ordered {
				return rt.arraysEqualOrdered(ca.Elems, cb.Elems)
			}
			return rt.arraysEqual(ca.Elems, cb.Elems)
		},
		Clone: func(rt *Runtime, obj *Object) (*Object, error) {
			src := obj.Collection()
			a := src.Elems.Copy()
			a.IncRef()
			return rt.allocate(obj.class, &CollectionData{Elems: a, Ordered: src.Ordered})
		},
		Destroy: func(rt *Runtime, obj *Object) {
			if c := obj.Collection(); c != nil {
				obj.native = nil
				c.Elems.DecRef()
			}
			rt.freeInstance(obj)
		},
	}
}

// ---------------------------------------------------------------------------
// DateTime
// ---------------------------------------------------------------------------

// DateTimeData is the payload of DateTime instances.
type DateTimeData struct {
	Time time.Time
}

// NewDateTime creates a DateTime for t.
func (rt *Runtime) NewDateTime(t time.Time) (*Object, error) {
	return rt.allocate(rt.builtinClass(ClassDateTime), &DateTimeData{Time: t})
}

// DateTime returns obj's date payload, or nil.
func (obj *Object) DateTime() *DateTimeData {
	d, _ := obj.native.(*DateTimeData)
	return d
}

func dateTimeBuiltin() *Builtin {
	return &Builtin{
		Kind:     BuiltinDateTime,
		ToBool:   func(obj *Object) bool { return true },
		ToInt64:  func(obj *Object) int64 { return obj.DateTime().Time.Unix() },
		ToDouble: func(obj *Object) float64 { return float64(obj.DateTime().Time.UnixNano()) / 1e9 },
		ToArray: func(rt *Runtime, obj *Object, pubOnly bool) (*Array, error) {
			t := obj.DateTime().Time
			return NewArrayFrom(
				"date", FromString(t.Format("2006-01-02 15:04:05.000000")),
				"timezone_type", FromInt(3),
				"timezone", FromString(t.Location().String()),
			), nil
		},
		Timestamp: func(obj *Object) int64 { return obj.DateTime().Time.Unix() },
		CopyNative: func(native any) any {
			d := *native.(*DateTimeData)
			return &d
		},
	}
}

// ---------------------------------------------------------------------------
// Closures
// ---------------------------------------------------------------------------

// ClosureData is the payload of Closure instances.
type ClosureData struct {
	Fn   Method
	This *Object // bound object (retained), or nil
}

// NewClosure creates a closure over fn, optionally bound to this.
func (rt *Runtime) NewClosure(fn Method, this *Object) (*Object, error) {
	if this != nil {
		this.IncRef()
	}
	obj, err := rt.allocate(rt.builtinClass(ClassClosure), &ClosureData{Fn: fn, This: this})
	if err != nil && this != nil {
		this.DecRef()
	}
	return obj, err
}

// Closure returns obj's closure payload, or nil.
func (obj *Object) Closure() *ClosureData {
	c, _ := obj.native.(*ClosureData)
	return c
}

// CallClosure invokes a closure object with args.
func (rt *Runtime) CallClosure(obj *Object, args ...Value) (Value, error) {
	c := obj.Closure()
	if c == nil {
		return Null, fmt.Errorf("%w: %s is not a closure", ErrUnsupportedOperand, obj.ClassName())
	}
	return c.Fn.Invoke(rt, c.This, args)
}

func closureBuiltin() *Builtin {
	return &Builtin{
		Kind:   BuiltinClosure,
		Opaque: true,
		ToArray: func(rt *Runtime, obj *Object, pubOnly bool) (*Array, error) {
			return NewArrayFrom("0", FromObject(obj)), nil
		},
		Clone: func(rt *Runtime, obj *Object) (*Object, error) {
			c := obj.Closure()
			return rt.NewClosure(c.Fn, c.This)
		},
		Destroy: func(rt *Runtime, obj *Object) {
			if c := obj.Closure(); c != nil {
				obj.native = nil
				if c.This != nil {
					c.This.DecRef()
				}
			}
			rt.freeInstance(obj)
		},
	}
}

// ---------------------------------------------------------------------------
// Async handles
// ---------------------------------------------------------------------------

// WaitHandleData is the payload of WaitHandle instances.
type WaitHandleData struct {
	Result   Value // retained
	Finished bool
}

// NewWaitHandle creates a finished wait handle holding result. User code
// cannot construct wait handles directly.
func (rt *Runtime) NewWaitHandle(result Value) (*Object, error) {
	result = result.Deref()
	result.IncRef()
	obj, err := rt.allocate(rt.builtinClass(ClassWaitHandle), &WaitHandleData{Result: result, Finished: true})
	if err != nil {
		result.DecRef()
	}
	return obj, err
}

func asyncHandleBuiltin() *Builtin {
	return &Builtin{
		Kind:         BuiltinAsyncHandle,
		NonCloneable: true,
		Construct: func(cls *Class) error {
			return fmt.Errorf("%w: %s objects cannot be created directly", ErrIllegalConstruction, cls.Name)
		},
		Destroy: func(rt *Runtime, obj *Object) {
			if wh, ok := obj.native.(*WaitHandleData); ok {
				obj.native = nil
				wh.Result.DecRef()
			}
			rt.freeInstance(obj)
		},
	}
}

// ---------------------------------------------------------------------------
// XML elements
// ---------------------------------------------------------------------------

// XMLElementData is the payload of SimpleXMLElement instances.
type XMLElementData struct {
	Name     string
	Text     string
	Attrs    *Array    // retained
	Children []*Object // retained
}

// NewXMLElement creates an element. attrs may be nil; an unheld array is
// adopted.
func (rt *Runtime) NewXMLElement(name, text string, attrs *Array) (*Object, error) {
	a := adoptArray(attrs)
	obj, err := rt.allocate(rt.builtinClass(ClassXMLElement), &XMLElementData{Name: name, Text: text, Attrs: a})
	if err != nil {
		a.DecRef()
	}
	return obj, err
}

// XMLElement returns obj's element payload, or nil.
func (obj *Object) XMLElement() *XMLElementData {
	x, _ := obj.native.(*XMLElementData)
	return x
}

// AppendChild adds child (retained) to an element.
func (obj *Object) AppendChild(child *Object) {
	x := obj.XMLElement()
	child.IncRef()
	x.Children = append(x.Children, child)
}

func (x *XMLElementData) child(name string) *Object {
	for _, c := range x.Children {
		if c.XMLElement().Name == name {
			return c
		}
	}
	return nil
}

func (x *XMLElementData) truthy() bool {
	return len(x.Children) > 0 || x.Attrs.Len() > 0 || x.Text != ""
}

func xmlElementBuiltin() *Builtin {
	return &Builtin{
		Kind:     BuiltinXMLElement,
		ToBool:   func(obj *Object) bool { return obj.XMLElement().truthy() },
		ToInt64:  func(obj *Object) int64 { return toInt64(FromString(obj.XMLElement().Text)) },
		ToDouble: func(obj *Object) float64 { return numberAsFloat(toNumber(FromString(obj.XMLElement().Text))) },
		ToArray: func(rt *Runtime, obj *Object, pubOnly bool) (*Array, error) {
			x := obj.XMLElement()
			out := NewArray()
			if x.Attrs.Len() > 0 {
				out.Set("@attributes", FromArray(x.Attrs.Copy()))
			}
			groups := make(map[string][]*Object)
			var order []string
			for _, c := range x.Children {
				name := c.XMLElement().Name
				if _, seen := groups[name]; !seen {
					order = append(order, name)
				}
				groups[name] = append(groups[name], c)
			}
			for _, name := range order {
				if g := groups[name]; len(g) == 1 {
					out.Set(name, FromObject(g[0]))
				} else {
					list := NewArray()
					for i, c := range g {
						list.Set(strconv.Itoa(i), FromObject(c))
					}
					out.Set(name, FromArray(list))
				}
			}
			if len(x.Children) == 0 && x.Text != "" {
				out.Set("0", FromString(x.Text))
			}
			return out, nil
		},
		PropEmpty: func(rt *Runtime, obj *Object, name string) (bool, error) {
			c := obj.XMLElement().child(name)
			return c == nil || !c.XMLElement().truthy(), nil
		},
		CopyNative: func(native any) any {
			src := native.(*XMLElementData)
			attrs := src.Attrs.Copy()
			attrs.IncRef()
			dst := &XMLElementData{Name: src.Name, Text: src.Text, Attrs: attrs}
			for _, c := range src.Children {
				c.IncRef()
				dst.Children = append(dst.Children, c)
			}
			return dst
		},
		Destroy: func(rt *Runtime, obj *Object) {
			if x := obj.XMLElement(); x != nil {
				obj.native = nil
				children := x.Children
				x.Children = nil
				for _, c := range children {
					c.DecRef()
				}
				x.Attrs.DecRef()
			}
			rt.freeInstance(obj)
		},
	}
}

// xmlPropHandler exposes child elements as properties.
type xmlPropHandler struct{}

func (xmlPropHandler) GetProp(rt *Runtime, obj *Object, name string) (Value, bool, error) {
	x := obj.XMLElement()
	if x == nil {
		return Null, false, nil
	}
	if c := x.child(name); c != nil {
		return FromObject(c), true, nil
	}
	return Null, false, nil
}

func (xmlPropHandler) SetProp(rt *Runtime, obj *Object, name string, v Value) (bool, error) {
	x := obj.XMLElement()
	if x == nil {
		return false, nil
	}
	text, err := rt.ToStringValue(v)
	if err != nil {
		return false, err
	}
	if c := x.child(name); c != nil {
		c.XMLElement().Text = text
		return true, nil
	}
	child, err := rt.NewXMLElement(name, text, nil)
	if err != nil {
		return false, err
	}
	x.Children = append(x.Children, child)
	return true, nil
}

func (xmlPropHandler) IssetProp(rt *Runtime, obj *Object, name string) (bool, bool, error) {
	x := obj.XMLElement()
	if x == nil {
		return false, false, nil
	}
	return x.child(name) != nil, true, nil
}

func (xmlPropHandler) UnsetProp(rt *Runtime, obj *Object, name string) (bool, error) {
	x := obj.XMLElement()
	if x == nil {
		return false, nil
	}
	kept := x.Children[:0]
	var removed []*Object
	for _, c := range x.Children {
		if c.XMLElement().Name == name {
			removed = append(removed, c)
		} else {
			kept = append(kept, c)
		}
	}
	x.Children = kept
	for _, c := range removed {
		c.DecRef()
	}
	return true, nil
}

// ---------------------------------------------------------------------------
// ArrayObject / ArrayIterator
// ---------------------------------------------------------------------------

// NewArrayObject creates an ArrayObject wrapping storage (an array or an
// object).
func (rt *Runtime) NewArrayObject(storage Value, flags int64) (*Object, error) {
	return rt.newStorageObject(ClassArrayObject, storage, flags)
}

// NewArrayIterator creates an ArrayIterator over storage.
func (rt *Runtime) NewArrayIterator(storage Value) (*Object, error) {
	return rt.newStorageObject(ClassArrayIterator, storage, 0)
}

func (rt *Runtime) newStorageObject(clsName string, storage Value, flags int64) (*Object, error) {
	cls := rt.builtinClass(clsName)
	obj, err := rt.allocate(cls, nil)
	if err != nil {
		return nil, err
	}
	obj.SetSlotAt(cls.index["storage"], initValue(storage))
	obj.SetSlotAt(cls.index["flags"], FromInt(flags))
	return obj, nil
}

// storageBase returns the built-in ancestor that declares the storage
// properties of obj.
func (rt *Runtime) storageBase(obj *Object) *Class {
	name := ClassArrayObject
	if obj.class.Kind == BuiltinArrayIterator {
		name = ClassArrayIterator
	}
	return rt.builtinClass(name)
}

// storageProp reads a private property of the storage base class.
func (rt *Runtime) storageProp(obj *Object, name string) Value {
	base := rt.storageBase(obj)
	slot, ok := obj.class.DeclPropIndex(base, name)
	if slot < 0 || !ok {
		return Null
	}
	return obj.props[slot].Deref()
}

// convertStorageToArray projects the wrapped storage.
func (rt *Runtime) convertStorageToArray(obj *Object) (*Array, error) {
	storage := rt.storageProp(obj, "storage")
	switch {
	case storage.IsArray():
		return storage.Array().Copy(), nil
	case storage.IsObject():
		return rt.ToArray(storage.Object(), false)
	}
	return NewArray(), nil
}

func arrayObjectBuiltin(kind BuiltinKind) *Builtin {
	b := &Builtin{
		Kind: kind,
		ToArray: func(rt *Runtime, obj *Object, pubOnly bool) (*Array, error) {
			if kind == BuiltinArrayObject {
				if flags := rt.storageProp(obj, "flags"); flags.IsInt() && flags.Int() == ArrayObjectStdPropList {
					return obj.getArray(true), nil
				}
			}
			return rt.convertStorageToArray(obj)
		},
	}
	if kind == BuiltinArrayObject {
		// Compare the whole object, not just the storage.
		b.Equal = func(rt *Runtime, a, b *Object) (bool, error) {
			return rt.arraysEqual(a.getArray(false), b.getArray(false))
		}
	}
	return b
}
