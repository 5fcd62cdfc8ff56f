package docindex

import (
	"fmt"
	"slices"
	"strings"
)

// Catalog is the schema context: classes, their properties and their
// inheritance. It is passed explicitly to everything that needs schema
// information; there is no global registry.
//
// A catalog is built once, before the database is opened, and is read-only
// afterwards.
type Catalog struct {
	classes            []*Class
	classesByLowerName map[string]*Class
}

func NewCatalog() *Catalog {
	return &Catalog{classesByLowerName: make(map[string]*Class)}
}

func (cat *Catalog) init() {
	if cat.classesByLowerName == nil {
		cat.classesByLowerName = make(map[string]*Class)
	}
}

// Classes returns every class in definition order.
func (cat *Catalog) Classes() []*Class {
	return slices.Clone(cat.classes)
}

// Class looks up a class by case-insensitive name; nil if there is none.
func (cat *Catalog) Class(name string) *Class {
	return cat.classesByLowerName[strings.ToLower(name)]
}

func (cat *Catalog) MustClass(name string) *Class {
	cls := cat.Class(name)
	if cls == nil {
		panic(fmt.Errorf("%w: %q", ErrUnknownClass, name))
	}
	return cls
}

// classOf resolves a record's class name; unknown classes are an error.
func (cat *Catalog) classOf(rec *Record) (*Class, error) {
	cls := cat.Class(rec.class)
	if cls == nil {
		return nil, &RecordError{RID: rec.rid, Class: rec.class, Err: ErrUnknownClass}
	}
	return cls, nil
}

func (cat *Catalog) addClass(cls *Class) {
	cat.init()
	lower := strings.ToLower(cls.name)
	if cat.classesByLowerName[lower] != nil {
		panic(fmt.Errorf("class %s defined twice", cls.name))
	}
	cls.pos = len(cat.classes)
	cat.classes = append(cat.classes, cls)
	cat.classesByLowerName[lower] = cls
}

// Class describes a record class. Each class stores its records in its own
// cluster, see DB.ClusterOf.
type Class struct {
	catalog      *Catalog
	name         string
	super        *Class
	pos          int
	props        []*Property
	propsByLower map[string]*Property
}

func (cls *Class) Name() string { return cls.name }

func (cls *Class) Superclass() *Class { return cls.super }

func (cls *Class) String() string { return cls.name }

// Property finds a property declared by the class or any of its
// superclasses; nil if there is none.
func (cls *Class) Property(name string) *Property {
	lower := strings.ToLower(name)
	for c := cls; c != nil; c = c.super {
		if p := c.propsByLower[lower]; p != nil {
			return p
		}
	}
	return nil
}

// Properties returns the properties declared by this class itself.
func (cls *Class) Properties() []*Property {
	return slices.Clone(cls.props)
}

// IsSubclassOf reports whether cls is other or inherits from it.
func (cls *Class) IsSubclassOf(other *Class) bool {
	for c := cls; c != nil; c = c.super {
		if c == other {
			return true
		}
	}
	return false
}

// Subclasses returns cls and every class that inherits from it.
func (cls *Class) Subclasses() []*Class {
	var out []*Class
	for _, c := range cls.catalog.classes {
		if c.IsSubclassOf(cls) {
			out = append(out, c)
		}
	}
	return out
}

// lineage returns cls followed by its superclasses.
func (cls *Class) lineage() []*Class {
	var out []*Class
	for c := cls; c != nil; c = c.super {
		out = append(out, c)
	}
	return out
}

// Property is a declared class property. LinkedType is the element type of
// an embedded collection, LinkedClass the target class of links.
type Property struct {
	owner       *Class
	name        string
	typ         PropertyType
	linkedType  PropertyType
	linkedClass string
}

func (p *Property) Name() string { return p.name }

func (p *Property) Type() PropertyType { return p.typ }

func (p *Property) LinkedType() PropertyType { return p.linkedType }

func (p *Property) LinkedClass() string { return p.linkedClass }

func (p *Property) Owner() *Class { return p.owner }

func (p *Property) String() string {
	if p.linkedType != TypeAny {
		return fmt.Sprintf("%s.%s %v(%v)", p.owner.name, p.name, p.typ, p.linkedType)
	}
	return fmt.Sprintf("%s.%s %v", p.owner.name, p.name, p.typ)
}
