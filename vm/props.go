package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Lookup
// ---------------------------------------------------------------------------

// PropLookup is the result of resolving a property name on an object.
type PropLookup struct {
	// Prop is the storage cell: a declared slot or a dynamic property.
	// Nil if the name is neither declared nor present dynamically.
	Prop *Value
	// Slot is the declared slot index, or -1 for dynamic/absent properties.
	Slot int
	// Accessible reports whether the calling context may access Prop.
	Accessible bool
	// Immutable is only meaningful for write lookups; read lookups always
	// report true.
	Immutable bool
}

// lookupProp resolves name from calling context ctx. Declared properties
// win; otherwise the dynamic property store is consulted. Dynamic
// properties are always accessible and never immutable. Write lookups
// separate a shared dynamic store before handing out a cell in it.
func (obj *Object) lookupProp(ctx *Class, name string, forWrite bool) PropLookup {
	slot, accessible := obj.class.DeclPropIndex(ctx, name)
	if slot >= 0 {
		immutable := true
		if forWrite {
			immutable = obj.class.slots[slot].Attrs&PropImmutable != 0
		}
		return PropLookup{Prop: &obj.props[slot], Slot: slot, Accessible: accessible, Immutable: immutable}
	}

	if dyn := obj.rt.objects.dynPropArray(obj); dyn != nil && dyn.Has(name) {
		if forWrite {
			dyn = obj.rt.objects.separateDynProps(obj)
			return PropLookup{Prop: dyn.cell(name), Slot: -1, Accessible: true}
		}
		return PropLookup{Prop: dyn.cell(name), Slot: -1, Accessible: true, Immutable: true}
	}

	return PropLookup{Slot: -1, Immutable: !forWrite}
}

func (obj *Object) beingConstructed() bool {
	return obj.attrs&AttrBeingConstructed != 0
}

// checkMutable fails for immutable properties unless the object is still
// being constructed.
func (obj *Object) checkMutable(l PropLookup, name string) error {
	if l.Immutable && !obj.beingConstructed() {
		return obj.mutateImmutableError(name)
	}
	return nil
}

// makeDynProp returns the cell of dynamic property name, creating it (as
// Null) if needed.
func (obj *Object) makeDynProp(name string) (*Value, error) {
	objects := obj.rt.objects
	if objects.dynPropArray(obj) == nil && obj.class.ForbidsDynamicProps() {
		return nil, forbidsDynamicPropsError(obj.class)
	}
	objects.reserveDynProps(obj)
	return objects.separateDynProps(obj).Lval(name), nil
}

// tempCell holds a value produced by an accessor. Writes to it do not reach
// the object.
func tempCell(v Value) *Value {
	return &v
}

func nullCell() *Value {
	return &Value{kind: KindNull}
}

// ---------------------------------------------------------------------------
// Read protocol
// ---------------------------------------------------------------------------

type propMode uint8

const (
	modeReadNoWarn propMode = iota
	modeReadWarn
	modeDimForWrite
	modeBind
)

// propImpl is the shared read algorithm. Most specific first:
//  1. a declared, accessible, initialized slot
//  2. a declared, uninitialized slot handed to __get
//  3. a declared, inaccessible slot handed to __get, else a visibility fault
//  4. an undeclared name handed to the native handler
//  5. an undeclared name handed to __get
//  6. a new dynamic property for write modes, Null for reads
func (obj *Object) propImpl(ctx *Class, name string, mode propMode) (*Value, error) {
	write := mode == modeDimForWrite || mode == modeBind
	rt := obj.rt
	lookup := obj.lookupProp(ctx, name, write)
	prop := lookup.Prop

	if prop != nil {
		if lookup.Accessible {
			checkImmutable := func() (*Value, error) {
				if mode == modeBind && lookup.Immutable {
					return nil, obj.bindImmutableError(name)
				}
				if mode == modeDimForWrite {
					if err := obj.checkMutable(lookup, name); err != nil {
						return nil, err
					}
				}
				return prop, nil
			}

			if !prop.IsUninit() {
				return checkImmutable()
			}

			if obj.class.HasAttr(UseGet) {
				v, ok, err := rt.invokeGet(obj, name)
				if err != nil {
					return nil, err
				}
				if ok {
					return tempCell(v), nil
				}
			}

			if mode == modeReadWarn {
				obj.raiseUndefProp(name)
			}
			if write {
				return checkImmutable()
			}
			return nullCell(), nil
		}

		if obj.class.HasAttr(UseGet) {
			v, ok, err := rt.invokeGet(obj, name)
			if err != nil {
				return nil, err
			}
			if ok {
				return tempCell(v), nil
			}
		}
		return nil, obj.inaccessibleError(lookup.Slot, name)
	}

	if obj.class.HasAttr(HasNativePropHandler) {
		v, ok, err := rt.nativeGet(obj, name)
		if err != nil {
			return nil, err
		}
		if ok {
			return tempCell(v), nil
		}
	}

	if obj.class.HasAttr(UseGet) {
		v, ok, err := rt.invokeGet(obj, name)
		if err != nil {
			return nil, err
		}
		if ok {
			return tempCell(v), nil
		}
	}

	if mode == modeReadWarn {
		obj.raiseUndefProp(name)
	}
	if write {
		return obj.makeDynProp(name)
	}
	return nullCell(), nil
}

// Prop reads a property without warning about undefined names. The result
// is borrowed.
func (obj *Object) Prop(ctx *Class, name string) (Value, error) {
	if err := validatePropName(name); err != nil {
		return Null, err
	}
	cell, err := obj.propImpl(ctx, name, modeReadNoWarn)
	if err != nil {
		return Null, err
	}
	return cell.Deref(), nil
}

// PropW reads a property, raising an undefined property notice if nothing
// supplies a value.
func (obj *Object) PropW(ctx *Class, name string) (Value, error) {
	if err := validatePropName(name); err != nil {
		return Null, err
	}
	cell, err := obj.propImpl(ctx, name, modeReadWarn)
	if err != nil {
		return Null, err
	}
	return cell.Deref(), nil
}

// PropD returns a cell for a nested write ($obj->name[...] = v). Missing
// properties are created as dynamic properties. A cell produced by __get is
// a temporary: writes to it do not reach the object.
func (obj *Object) PropD(ctx *Class, name string) (*Value, error) {
	if err := validatePropName(name); err != nil {
		return nil, err
	}
	return obj.propImpl(ctx, name, modeDimForWrite)
}

// PropB returns a cell the caller is about to bind by reference. Immutable
// properties cannot be bound, even during construction.
func (obj *Object) PropB(ctx *Class, name string) (*Value, error) {
	if err := validatePropName(name); err != nil {
		return nil, err
	}
	return obj.propImpl(ctx, name, modeBind)
}

// GetProp returns the value of an accessible, initialized property without
// consulting any accessor. ok is false otherwise.
func (obj *Object) GetProp(ctx *Class, name string) (v Value, ok bool) {
	cell := obj.getProp(ctx, name)
	if cell == nil || cell.IsUninit() {
		return Null, false
	}
	return cell.Deref(), true
}

// getProp returns the cell of an accessible property (possibly Uninit), or
// nil.
func (obj *Object) getProp(ctx *Class, name string) *Value {
	l := obj.lookupProp(ctx, name, false)
	if l.Prop == nil || !l.Accessible {
		return nil
	}
	return l.Prop
}

// PropLval returns the cell of an accessible property for writing, or nil
// if the property is absent or inaccessible.
func (obj *Object) PropLval(ctx *Class, name string) (*Value, error) {
	if err := validatePropName(name); err != nil {
		return nil, err
	}
	l := obj.lookupProp(ctx, name, true)
	if l.Prop == nil || !l.Accessible {
		return nil, nil
	}
	if err := obj.checkMutable(l, name); err != nil {
		return nil, err
	}
	return l.Prop, nil
}

// RestoreProps assigns every element of props as OSetArray does, with
// immutability waived as during construction. Used to rebuild objects from
// serialized state.
func (obj *Object) RestoreProps(props *Array) error {
	if obj.beingConstructed() {
		return obj.OSetArray(props)
	}
	obj.attrs |= AttrBeingConstructed
	defer func() { obj.attrs &^= AttrBeingConstructed }()
	return obj.OSetArray(props)
}

// VGetProp boxes an accessible, initialized property and returns the box so
// that the caller can alias it. Returns nil if there is nothing to alias.
func (obj *Object) VGetProp(ctx *Class, name string) (*Ref, error) {
	if err := validatePropName(name); err != nil {
		return nil, err
	}
	l := obj.lookupProp(ctx, name, true)
	if l.Immutable {
		return nil, obj.bindImmutableError(name)
	}
	if l.Accessible && l.Prop != nil && !l.Prop.IsUninit() {
		return boxCell(l.Prop), nil
	}
	return nil, nil
}

// ---------------------------------------------------------------------------
// isset / empty
// ---------------------------------------------------------------------------

// PropIsset reports whether a property is set and not null, consulting the
// native handler and __isset for properties the context cannot see.
func (obj *Object) PropIsset(ctx *Class, name string) (bool, error) {
	if err := validatePropName(name); err != nil {
		return false, err
	}
	if cell := obj.getProp(ctx, name); cell != nil && !cell.IsUninit() {
		return !cell.Deref().IsNull(), nil
	}

	rt := obj.rt
	if obj.class.HasAttr(HasNativePropHandler) {
		isset, ok, err := rt.nativeIsset(obj, name)
		if err != nil || ok {
			return isset, err
		}
	}

	if !obj.class.HasAttr(UseIsset) {
		return false, nil
	}
	isset, ok, err := rt.invokeIsset(obj, name)
	if err != nil || !ok {
		return false, err
	}
	return isset, nil
}

// PropEmpty reports whether a property is unset or falsy. For magic
// properties __isset is asked first and __get supplies the value.
func (obj *Object) PropEmpty(ctx *Class, name string) (bool, error) {
	if err := validatePropName(name); err != nil {
		return false, err
	}
	rt := obj.rt
	if b := rt.builtins[obj.class.Kind]; b != nil && b.PropEmpty != nil && !obj.IsCollection() {
		return b.PropEmpty(rt, obj, name)
	}

	if cell := obj.getProp(ctx, name); cell != nil && !cell.IsUninit() {
		truthy, err := rt.truthy(cell.Deref())
		return !truthy, err
	}

	if obj.class.HasAttr(HasNativePropHandler) {
		isset, ok, err := rt.nativeIsset(obj, name)
		if err != nil {
			return false, err
		}
		if ok {
			if !isset {
				return true, nil
			}
			v, ok, err := rt.nativeGet(obj, name)
			if err != nil || !ok {
				return false, err
			}
			truthy, err := rt.truthy(v)
			return !truthy, err
		}
	}

	if !obj.class.HasAttr(UseIsset) {
		return true, nil
	}
	isset, ok, err := rt.invokeIsset(obj, name)
	if err != nil {
		return false, err
	}
	if !ok || !isset {
		return true, nil
	}

	if obj.class.HasAttr(UseGet) {
		v, ok, err := rt.invokeGet(obj, name)
		if err != nil {
			return false, err
		}
		if ok {
			truthy, err := rt.truthy(v)
			return !truthy, err
		}
	}
	return false, nil
}

// ---------------------------------------------------------------------------
// Reflection-style access
// ---------------------------------------------------------------------------

// OGet reads a property the way reflection does: an inaccessible property
// without __get reads as Null (with a notice if warn is set) instead of
// faulting. ctxName names the calling class; empty means global scope.
func (obj *Object) OGet(name string, warn bool, ctxName string) (Value, error) {
	if err := validatePropName(name); err != nil {
		return Null, err
	}
	ctx := obj.rt.lookupContext(ctxName)

	if cell := obj.getProp(ctx, name); cell != nil && !cell.IsUninit() {
		return cell.Deref(), nil
	}

	if obj.class.HasAttr(UseGet) {
		v, ok, err := obj.rt.invokeGet(obj, name)
		if err != nil {
			return Null, err
		}
		if ok {
			return v, nil
		}
	}

	if warn {
		obj.raiseUndefProp(name)
	}
	return Null, nil
}

// OSet writes a property the way reflection does: an inaccessible property
// without __set is silently skipped, and a declined __set writes nothing.
func (obj *Object) OSet(name string, v Value, ctxName string) error {
	if err := validatePropName(name); err != nil {
		return err
	}
	ctx := obj.rt.lookupContext(ctxName)
	useSet := obj.class.HasAttr(UseSet)

	l := obj.lookupProp(ctx, name, true)
	if l.Prop != nil && l.Accessible {
		if !useSet || !l.Prop.IsUninit() {
			if err := obj.checkMutable(l, name); err != nil {
				return err
			}
			setCell(l.Prop, initValue(v))
			return nil
		}
	}

	if useSet {
		_, err := obj.rt.invokeSet(obj, name, v)
		return err
	}
	if l.Prop == nil {
		cell, err := obj.makeDynProp(name)
		if err != nil {
			return err
		}
		setCell(cell, initValue(v))
	}
	return nil
}

// OSetArray assigns every element of props as a property. Mangled keys
// select the calling context: "\0*\0name" writes as the object's own class,
// "\0Class\0name" as Class (skipped if Class is unknown).
func (obj *Object) OSetArray(props *Array) error {
	var err error
	props.Each(func(key string, v Value) bool {
		var ctx *Class
		if key != "" && key[0] == 0 {
			clsName, name := UnmangleName(key)
			if clsName == "*" {
				ctx = obj.class
			} else if ctx = obj.rt.Classes.Lookup(clsName); ctx == nil {
				return true
			}
			key = name
		}
		if err = obj.SetProp(ctx, key, v.Deref()); err != nil {
			err = fmt.Errorf("setting %s::$%s: %w", obj.class.Name, key, err)
			return false
		}
		return true
	})
	return err
}

func (rt *Runtime) lookupContext(name string) *Class {
	if name == "" {
		return nil
	}
	return rt.Classes.Lookup(name)
}

// initValue turns Uninit into Null.
func initValue(v Value) Value {
	v = v.Deref()
	if v.IsUninit() {
		return Null
	}
	return v
}
