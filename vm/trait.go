package vm

// ---------------------------------------------------------------------------
// Trait: Composable unit of properties and behavior
// ---------------------------------------------------------------------------

// Trait is a collection of properties and methods that can be composed into
// classes. Traits have no inheritance hierarchy of their own but may use
// other traits. A trait's properties are flattened into the using class as
// if that class had declared them.
type Trait struct {
	Name    string
	Props   []PropDecl
	Methods map[string]Method
	Uses    []*Trait
}

// NewTrait creates a new trait declaring the given properties.
func NewTrait(name string, props ...PropDecl) *Trait {
	return &Trait{
		Name:    name,
		Props:   props,
		Methods: make(map[string]Method),
	}
}

// AddMethod adds a method to the trait.
func (t *Trait) AddMethod(name string, m Method) *Trait {
	t.Methods[name] = m
	return t
}

// allProps returns the trait's properties followed by those of the traits it
// uses, depth first.
func (t *Trait) allProps() []PropDecl {
	props := append([]PropDecl(nil), t.Props...)
	for _, u := range t.Uses {
		props = append(props, u.allProps()...)
	}
	return props
}

// ---------------------------------------------------------------------------
// Class trait composition
// ---------------------------------------------------------------------------

// traitProps returns the properties contributed by every trait the class
// uses, in use order.
func (c *Class) traitProps() []PropDecl {
	var props []PropDecl
	for _, t := range c.Traits {
		props = append(props, t.allProps()...)
	}
	return props
}

// declaredHere returns the property declarations that belong to class level
// c: its own followed by any trait-contributed ones it does not redeclare.
func (c *Class) declaredHere() []PropDecl {
	if len(c.Traits) == 0 {
		return c.Props
	}
	seen := make(map[string]bool, len(c.Props))
	out := append([]PropDecl(nil), c.Props...)
	for _, p := range c.Props {
		seen[p.Name] = true
	}
	for _, p := range c.traitProps() {
		if !seen[p.Name] {
			seen[p.Name] = true
			out = append(out, p)
		}
	}
	return out
}

// includeTraitMethods composes trait methods into the class.
// Trait methods are added only if the class doesn't already define a method
// with that name (class wins).
func (c *Class) includeTraitMethods() {
	var include func(t *Trait)
	include = func(t *Trait) {
		for name, m := range t.Methods {
			if _, ok := c.Methods[name]; !ok {
				c.AddMethod(name, m)
			}
		}
		for _, u := range t.Uses {
			include(u)
		}
	}
	for _, t := range c.Traits {
		include(t)
	}
}
