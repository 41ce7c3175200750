package vm

import (
	"sync"
)

// ---------------------------------------------------------------------------
// Property declarations
// ---------------------------------------------------------------------------

// Visibility is the access level of a declared property.
type Visibility uint8

const (
	Public Visibility = iota
	Protected
	Private
)

func (v Visibility) String() string {
	switch v {
	case Protected:
		return "protected"
	case Private:
		return "private"
	}
	return "public"
}

// PropAttr holds per-property attributes.
type PropAttr uint8

const (
	// PropImmutable properties may only be written while the object is
	// being constructed.
	PropImmutable PropAttr = 1 << iota
	// PropNoDup marks cache-only properties: they are skipped by array
	// projection, and a clone gets the declared default instead of the
	// source's value.
	PropNoDup
	// PropDeepInit marks defaults that are mutable containers and must be
	// deep-copied into every instance.
	PropDeepInit
)

// PropDecl declares one property on a class or trait.
type PropDecl struct {
	Name       string
	Visibility Visibility
	Attrs      PropAttr
	Default    Value // Uninit leaves the slot unset
	Type       Kind  // declared type, KindUninit for untyped
}

// slotInfo is a resolved property slot in a class layout.
type slotInfo struct {
	PropDecl
	Class   *Class // declaring class (the using class for trait properties)
	mangled string
}

// MangledName returns the projection key for a property: private names are
// prefixed with NUL+class+NUL, protected ones with NUL+"*"+NUL.
func MangledName(cls *Class, name string, vis Visibility) string {
	switch vis {
	case Private:
		return "\x00" + cls.Name + "\x00" + name
	case Protected:
		return "\x00*\x00" + name
	}
	return name
}

// UnmangleName splits a projection key into the declaring class name ("*"
// for protected, "" for public) and the bare property name.
func UnmangleName(key string) (cls, name string) {
	if key == "" || key[0] != 0 {
		return "", key
	}
	for i := 1; i < len(key); i++ {
		if key[i] == 0 {
			return key[1:i], key[i+1:]
		}
	}
	return "", key
}

// ---------------------------------------------------------------------------
// Class
// ---------------------------------------------------------------------------

// ClassAttr holds declaration-level class attributes.
type ClassAttr uint16

const (
	ClassAbstract ClassAttr = 1 << iota
	ClassInterface
	ClassTrait
	ClassForbidDynamicProps
)

// RuntimeAttr is computed by Finalize from the class's methods.
type RuntimeAttr uint16

const (
	UseGet RuntimeAttr = 1 << iota
	UseSet
	UseIsset
	UseUnset
	HasClone
	HasDestructor
	HasNativePropHandler
	HasToString
	HasConstructor
)

// Magic method names.
const (
	MethodGet       = "__get"
	MethodSet       = "__set"
	MethodIsset     = "__isset"
	MethodUnset     = "__unset"
	MethodClone     = "__clone"
	MethodDestruct  = "__destruct"
	MethodConstruct = "__construct"
	MethodToString  = "__toString"
	MethodSleep     = "__sleep"
	MethodWakeup    = "__wakeup"
	MethodDebugInfo = "__debugInfo"
)

// Class is the runtime metadata for a class.
//
// Declarations (Props, Traits, Methods, ...) are filled in first; Finalize
// then flattens inheritance and traits into a slot table so that property
// lookup never walks the hierarchy. A finalized class is immutable and may
// be shared by any number of runtimes.
type Class struct {
	Name    string
	Parent  *Class
	Kind    BuiltinKind
	Attrs   ClassAttr
	Props   []PropDecl // declared by this class, in declaration order
	Traits  []*Trait
	Methods map[string]Method

	// NativeProps intercepts undeclared property access for built-in
	// classes before user-level magic methods are consulted.
	NativeProps NativePropHandler

	once    sync.Once
	slots   []slotInfo
	index   map[string]int
	rtAttrs RuntimeAttr
}

// NewClass creates a class with the given name and parent.
func NewClass(name string, parent *Class, props ...PropDecl) *Class {
	return &Class{
		Name:    name,
		Parent:  parent,
		Props:   props,
		Methods: make(map[string]Method),
	}
}

// AddMethod registers a method on this class.
func (c *Class) AddMethod(name string, m Method) *Class {
	if c.Methods == nil {
		c.Methods = make(map[string]Method)
	}
	c.Methods[name] = m
	return c
}

// AddMethodFunc registers a function as a method on this class.
func (c *Class) AddMethodFunc(name string, fn MethodFunc) *Class {
	return c.AddMethod(name, fn)
}

// Use adds traits to the class.
func (c *Class) Use(traits ...*Trait) *Class {
	c.Traits = append(c.Traits, traits...)
	return c
}

// Finalize resolves the class layout. It is idempotent and is called
// implicitly the first time an instance is created.
func (c *Class) Finalize() *Class {
	c.once.Do(c.finalize)
	return c
}

func (c *Class) finalize() {
	if c.Parent != nil {
		c.Parent.Finalize()
		c.slots = append([]slotInfo(nil), c.Parent.slots...)
		c.index = make(map[string]int, len(c.Parent.index)+len(c.Props))
		for k, v := range c.Parent.index {
			c.index[k] = v
		}
		if c.Kind == BuiltinNone {
			c.Kind = c.Parent.Kind
		}
		if c.NativeProps == nil {
			c.NativeProps = c.Parent.NativeProps
		}
		if c.Parent.Attrs&ClassForbidDynamicProps != 0 {
			c.Attrs |= ClassForbidDynamicProps
		}
	} else {
		c.index = make(map[string]int, len(c.Props))
	}

	own := make(map[string]bool, len(c.Props))
	for _, p := range c.Props {
		own[p.Name] = true
		c.declare(p)
	}
	for _, p := range c.traitProps() {
		if !own[p.Name] {
			own[p.Name] = true
			c.declare(p)
		}
	}
	c.includeTraitMethods()

	for name, attr := range map[string]RuntimeAttr{
		MethodGet:       UseGet,
		MethodSet:       UseSet,
		MethodIsset:     UseIsset,
		MethodUnset:     UseUnset,
		MethodClone:     HasClone,
		MethodDestruct:  HasDestructor,
		MethodToString:  HasToString,
		MethodConstruct: HasConstructor,
	} {
		if c.LookupMethod(name) != nil {
			c.rtAttrs |= attr
		}
	}
	if c.NativeProps != nil {
		c.rtAttrs |= HasNativePropHandler
	}
}

// declare adds p to the layout. Redeclaring an inherited non-private
// property reuses its slot with the new visibility and default; an inherited
// private property is shadowed by a fresh slot.
func (c *Class) declare(p PropDecl) {
	// The class holds a reference to every default for its lifetime.
	p.Default.IncRef()
	info := slotInfo{PropDecl: p, Class: c, mangled: MangledName(c, p.Name, p.Visibility)}
	if idx, ok := c.index[p.Name]; ok && c.slots[idx].Visibility != Private {
		c.slots[idx] = info
		return
	}
	c.index[p.Name] = len(c.slots)
	c.slots = append(c.slots, info)
}

// NumDeclProps returns the number of declared property slots.
func (c *Class) NumDeclProps() int {
	c.Finalize()
	return len(c.slots)
}

// HasAttr reports whether a runtime attribute is set.
func (c *Class) HasAttr(attr RuntimeAttr) bool {
	c.Finalize()
	return c.rtAttrs&attr != 0
}

// ForbidsDynamicProps reports whether instances reject dynamic properties.
func (c *Class) ForbidsDynamicProps() bool {
	return c.Attrs&ClassForbidDynamicProps != 0
}

// PropInfo describes a resolved slot.
type PropInfo struct {
	PropDecl
	Slot     int
	Declarer *Class
}

// DeclProps returns the resolved slot table.
func (c *Class) DeclProps() []PropInfo {
	c.Finalize()
	out := make([]PropInfo, len(c.slots))
	for i, s := range c.slots {
		out[i] = PropInfo{PropDecl: s.PropDecl, Slot: i, Declarer: s.Class}
	}
	return out
}

// LookupDeclProp returns the slot for name as seen from this class, or -1.
func (c *Class) LookupDeclProp(name string) int {
	c.Finalize()
	if idx, ok := c.index[name]; ok {
		return idx
	}
	return -1
}

// DeclPropIndex resolves name from calling context ctx (nil for global
// scope). It returns the slot (-1 if not declared) and whether the slot is
// accessible from ctx.
func (c *Class) DeclPropIndex(ctx *Class, name string) (int, bool) {
	c.Finalize()
	if ctx != nil && ctx != c && c.IsSubclassOf(ctx) {
		if idx, ok := ctx.index[name]; ok {
			s := &ctx.slots[idx]
			if s.Visibility == Private && s.Class == ctx {
				return idx, true
			}
		}
	}
	idx, ok := c.index[name]
	if !ok {
		return -1, false
	}
	return idx, c.slots[idx].accessibleFrom(ctx)
}

func (s *slotInfo) accessibleFrom(ctx *Class) bool {
	switch s.Visibility {
	case Public:
		return true
	case Protected:
		return ctx != nil && (ctx.IsSubclassOf(s.Class) || s.Class.IsSubclassOf(ctx))
	}
	return ctx == s.Class
}

// IsSubclassOf returns true if c is a subclass of other (or is the same class).
func (c *Class) IsSubclassOf(other *Class) bool {
	for current := c; current != nil; current = current.Parent {
		if current == other {
			return true
		}
	}
	return false
}

// LookupMethod finds a method on this class or an ancestor.
func (c *Class) LookupMethod(name string) Method {
	for current := c; current != nil; current = current.Parent {
		if m, ok := current.Methods[name]; ok {
			return m
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// ClassTable: class registry
// ---------------------------------------------------------------------------

// ClassTable manages registered classes by name.
// It's thread-safe for concurrent access.
type ClassTable struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

// NewClassTable creates a new empty class table.
func NewClassTable() *ClassTable {
	return &ClassTable{
		classes: make(map[string]*Class),
	}
}

// Register adds a class to the table.
// Returns the previous class with this name, or nil.
func (ct *ClassTable) Register(c *Class) *Class {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	old := ct.classes[c.Name]
	ct.classes[c.Name] = c
	return old
}

// Lookup finds a class by name.
func (ct *ClassTable) Lookup(name string) *Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.classes[name]
}

// Len returns the number of registered classes.
func (ct *ClassTable) Len() int {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return len(ct.classes)
}
