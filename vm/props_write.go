package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Assignment
// ---------------------------------------------------------------------------

// SetProp assigns v to a property. An uninitialized declared property is
// offered to __set first; undeclared names go to the native handler, then
// __set, and finally become dynamic properties.
func (obj *Object) SetProp(ctx *Class, name string, v Value) error {
	if err := validatePropName(name); err != nil {
		return err
	}
	rt := obj.rt
	v = initValue(v)
	l := obj.lookupProp(ctx, name, true)

	if l.Prop != nil && l.Accessible {
		if l.Prop.IsUninit() && obj.class.HasAttr(UseSet) {
			ok, err := rt.invokeSet(obj, name, v)
			if err != nil || ok {
				return err
			}
		}
		if err := obj.checkMutable(l, name); err != nil {
			return err
		}
		setCell(l.Prop, v)
		return nil
	}

	if obj.class.HasAttr(HasNativePropHandler) {
		ok, err := rt.nativeSet(obj, name, v)
		if err != nil || ok {
			return err
		}
	}

	if obj.class.HasAttr(UseSet) {
		ok, err := rt.invokeSet(obj, name, v)
		if err != nil || ok {
			return err
		}
	}

	if l.Prop != nil {
		return obj.inaccessibleError(l.Slot, name)
	}
	cell, err := obj.makeDynProp(name)
	if err != nil {
		return err
	}
	setCell(cell, v)
	return nil
}

// SetOpProp applies a compound assignment ($obj->name op= v) and returns the
// new value.
//
// When __get supplies the current value of an undeclared property and the
// class has no __set, the result is stored in a new dynamic property.
func (obj *Object) SetOpProp(ctx *Class, op SetOpOp, name string, v Value) (Value, error) {
	if err := validatePropName(name); err != nil {
		return Null, err
	}
	rt := obj.rt
	l := obj.lookupProp(ctx, name, true)
	prop := l.Prop

	if prop != nil && l.Accessible {
		if prop.IsUninit() && obj.class.HasAttr(UseGet) {
			cur, ok, err := rt.invokeGet(obj, name)
			if err != nil {
				return Null, err
			}
			if ok {
				res, err := rt.setOpBody(op, cur.Deref(), v)
				if err != nil {
					return Null, err
				}
				if obj.class.HasAttr(UseSet) {
					ok, err := rt.invokeSet(obj, name, res)
					if err != nil {
						return Null, err
					}
					if ok {
						return res, nil
					}
				}
				if err := obj.checkMutable(l, name); err != nil {
					return Null, err
				}
				setCell(prop, res)
				return res, nil
			}
		}
		if err := obj.checkMutable(l, name); err != nil {
			return Null, err
		}
		res, err := rt.setOpBody(op, initValue(*cellOf(prop)), v)
		if err != nil {
			return Null, err
		}
		setCell(prop, res)
		return res, nil
	}

	if obj.class.HasAttr(HasNativePropHandler) {
		cur, ok, err := rt.nativeGet(obj, name)
		if err != nil {
			return Null, err
		}
		if ok {
			res, err := rt.setOpBody(op, cur.Deref(), v)
			if err != nil {
				return Null, err
			}
			ok, err := rt.nativeSet(obj, name, res)
			if err != nil {
				return Null, err
			}
			if ok {
				return res, nil
			}
		}
	}

	useGet := obj.class.HasAttr(UseGet)
	useSet := obj.class.HasAttr(UseSet)

	if useGet && !useSet {
		cur, ok, err := rt.invokeGet(obj, name)
		if err != nil {
			return Null, err
		}
		if !ok {
			cur = Null
		}
		res, err := rt.setOpBody(op, initValue(cur), v)
		if err != nil {
			return Null, err
		}
		if prop != nil {
			return Null, obj.inaccessibleError(l.Slot, name)
		}
		// __get may already have created the property.
		cell, err := obj.makeDynProp(name)
		if err != nil {
			return Null, err
		}
		setCell(cell, res)
		return res, nil
	}

	if useGet && useSet {
		cur, ok, err := rt.invokeGet(obj, name)
		if err != nil {
			return Null, err
		}
		if ok {
			res, err := rt.setOpBody(op, initValue(cur), v)
			if err != nil {
				return Null, err
			}
			if _, err := rt.invokeSet(obj, name, res); err != nil {
				return Null, err
			}
			return res, nil
		}
	}

	if prop != nil {
		return Null, obj.inaccessibleError(l.Slot, name)
	}
	cell, err := obj.makeDynProp(name)
	if err != nil {
		return Null, err
	}
	res, err := rt.setOpBody(op, Null, v)
	if err != nil {
		return Null, err
	}
	setCell(cell, res)
	return res, nil
}

// IncDecProp applies ++ or -- to a property and returns the value of the
// expression (the new value for pre-ops, the old one for post-ops). Magic
// fallbacks follow SetOpProp.
func (obj *Object) IncDecProp(ctx *Class, op IncDecOp, name string) (Value, error) {
	if err := validatePropName(name); err != nil {
		return Null, err
	}
	rt := obj.rt
	l := obj.lookupProp(ctx, name, true)
	prop := l.Prop

	if prop != nil && l.Accessible {
		if prop.IsUninit() && obj.class.HasAttr(UseGet) {
			cur, ok, err := rt.invokeGet(obj, name)
			if err != nil {
				return Null, err
			}
			if ok {
				res, dest := incDecBody(op, initValue(cur))
				if obj.class.HasAttr(UseSet) {
					if _, err := rt.invokeSet(obj, name, res); err != nil {
						return Null, err
					}
					return dest, nil
				}
				if err := obj.checkMutable(l, name); err != nil {
					return Null, err
				}
				setCell(prop, res)
				return dest, nil
			}
		}
		if err := obj.checkMutable(l, name); err != nil {
			return Null, err
		}
		res, dest := incDecBody(op, initValue(*cellOf(prop)))
		setCell(prop, res)
		return dest, nil
	}

	if obj.class.HasAttr(HasNativePropHandler) {
		cur, ok, err := rt.nativeGet(obj, name)
		if err != nil {
			return Null, err
		}
		if ok {
			res, dest := incDecBody(op, initValue(cur))
			ok, err := rt.nativeSet(obj, name, res)
			if err != nil {
				return Null, err
			}
			if ok {
				return dest, nil
			}
		}
	}

	useGet := obj.class.HasAttr(UseGet)
	useSet := obj.class.HasAttr(UseSet)

	if useGet && !useSet {
		cur, ok, err := rt.invokeGet(obj, name)
		if err != nil {
			return Null, err
		}
		if !ok {
			cur = Null
		}
		res, dest := incDecBody(op, initValue(cur))
		if prop != nil {
			return Null, obj.inaccessibleError(l.Slot, name)
		}
		cell, err := obj.makeDynProp(name)
		if err != nil {
			return Null, err
		}
		setCell(cell, res)
		return dest, nil
	}

	if useGet && useSet {
		cur, ok, err := rt.invokeGet(obj, name)
		if err != nil {
			return Null, err
		}
		if ok {
			res, dest := incDecBody(op, initValue(cur))
			if _, err := rt.invokeSet(obj, name, res); err != nil {
				return Null, err
			}
			return dest, nil
		}
	}

	if prop != nil {
		return Null, obj.inaccessibleError(l.Slot, name)
	}
	cell, err := obj.makeDynProp(name)
	if err != nil {
		return Null, err
	}
	res, dest := incDecBody(op, Null)
	setCell(cell, res)
	return dest, nil
}

// ---------------------------------------------------------------------------
// Unset
// ---------------------------------------------------------------------------

// UnsetProp removes a property. A declared slot goes back to Uninit (an
// aliasing box is dropped, not written through); a dynamic property is
// removed from the store. Otherwise the native handler and then __unset are
// tried.
func (obj *Object) UnsetProp(ctx *Class, name string) error {
	if err := validatePropName(name); err != nil {
		return err
	}
	rt := obj.rt
	l := obj.lookupProp(ctx, name, true)

	if l.Prop != nil && l.Accessible && !l.Prop.IsUninit() {
		if l.Slot >= 0 {
			if err := obj.checkMutable(l, name); err != nil {
				return err
			}
			bindCell(l.Prop, Uninit)
		} else {
			rt.objects.separateDynProps(obj).Remove(name)
		}
		return nil
	}

	if obj.class.HasAttr(HasNativePropHandler) {
		ok, err := rt.nativeUnset(obj, name)
		if err != nil || ok {
			return err
		}
	}

	tryUnset := obj.class.HasAttr(UseUnset)
	if l.Prop != nil && !l.Accessible && !tryUnset {
		return fmt.Errorf("%w: Cannot unset inaccessible property %s::$%s",
			ErrInaccessibleProperty, obj.class.Name, name)
	}
	if tryUnset {
		_, err := rt.invokeUnset(obj, name)
		return err
	}
	return nil
}
