package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Faults
// ---------------------------------------------------------------------------

// Faults raised by the object runtime. Operations wrap these with a message
// naming the class and property involved; match them with errors.Is.
var (
	ErrInaccessibleProperty     = errors.New("inaccessible property")
	ErrImmutableProperty        = errors.New("immutable property")
	ErrInvalidPropertyName      = errors.New("invalid property name")
	ErrForbiddenDynamicProperty = errors.New("dynamic property forbidden")
	ErrCollectionOrdering       = errors.New("collection ordering unsupported")
	ErrNonCloneable             = errors.New("non-cloneable type")
	ErrIllegalConstruction      = errors.New("illegal construction")
	ErrConversionUnsupported    = errors.New("conversion unsupported")
	ErrAbstractInstantiation    = errors.New("cannot instantiate")
	ErrOutOfMemory              = errors.New("out of memory")
	ErrDivisionByZero           = errors.New("division by zero")
	ErrUnsupportedOperand       = errors.New("unsupported operand types")
)

// ErrSizeMismatch is the panic value raised when an object is freed with a
// size other than the one it was allocated with.
var ErrSizeMismatch = errors.New("object size mismatch on free")

func (obj *Object) inaccessibleError(slot int, name string) error {
	vis := "protected"
	if obj.class.slots[slot].Visibility == Private {
		vis = "private"
	}
	return fmt.Errorf("%w: Cannot access %s property %s::$%s",
		ErrInaccessibleProperty, vis, obj.class.Name, name)
}

func (obj *Object) mutateImmutableError(name string) error {
	return fmt.Errorf("%w: Cannot modify immutable property %s::$%s",
		ErrImmutableProperty, obj.class.Name, name)
}

func (obj *Object) bindImmutableError(name string) error {
	return fmt.Errorf("%w: Cannot bind immutable property %s::$%s",
		ErrImmutableProperty, obj.class.Name, name)
}

func invalidPropertyNameError(name string) error {
	if name == "" {
		return fmt.Errorf("%w: Cannot access empty property", ErrInvalidPropertyName)
	}
	return fmt.Errorf("%w: Cannot access property started with '\\0'", ErrInvalidPropertyName)
}

func forbidsDynamicPropsError(cls *Class) error {
	return fmt.Errorf("%w: Class %s does not allow use of dynamic (runtime) properties",
		ErrForbiddenDynamicProperty, cls.Name)
}

func collectionOrderingError() error {
	return fmt.Errorf("%w: Cannot use relational comparison operators (<, <=, >, >=) to compare a collection with an integer, double, string, array, or object",
		ErrCollectionOrdering)
}

func conversionError(cls *Class, to string) error {
	return fmt.Errorf("%w: Object of class %s could not be converted to %s",
		ErrConversionUnsupported, cls.Name, to)
}

// validatePropName rejects names that are empty or start with the NUL byte
// reserved for mangled private/protected names.
func validatePropName(name string) error {
	if name == "" || name[0] == 0 {
		return invalidPropertyNameError(name)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

// Diagnostics receives non-fatal conditions: notices (undefined property
// reads) and recoverable errors (failed string conversion). Neither halts
// execution.
type Diagnostics interface {
	Notice(msg string)
	RecoverableError(msg string)
}

// logDiagnostics forwards diagnostics to the package logger.
type logDiagnostics struct{}

func (logDiagnostics) Notice(msg string) {
	log.Notice(msg)
}

func (logDiagnostics) RecoverableError(msg string) {
	log.Warning(msg)
}

// DiagnosticsFunc adapts a function to Diagnostics; both levels are passed
// through with their level name.
type DiagnosticsFunc func(level, msg string)

func (f DiagnosticsFunc) Notice(msg string)           { f("notice", msg) }
func (f DiagnosticsFunc) RecoverableError(msg string) { f("recoverable", msg) }

func (obj *Object) raiseUndefProp(name string) {
	if !obj.rt.opts.WarnUndefined {
		return
	}
	obj.rt.diag.Notice(fmt.Sprintf("Undefined property: %s::$%s", obj.class.Name, name))
}
