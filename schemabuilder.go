package docindex

import (
	"fmt"
	"strings"
)

type ClassBuilder struct {
	cls *Class
}

// DefineClass adds a class to the catalog. Misuse, such as a duplicate
// class or property name, panics: schemas are static program data.
func DefineClass(cat *Catalog, name string, f func(b *ClassBuilder)) *Class {
	if name == "" || strings.ContainsAny(name, ":.") {
		panic(fmt.Sprintf("DefineClass(%q): invalid class name", name))
	}
	cls := &Class{
		catalog:      cat,
		name:         name,
		propsByLower: make(map[string]*Property),
	}
	cat.addClass(cls)
	if f != nil {
		f(&ClassBuilder{cls: cls})
	}
	return cls
}

// Extends makes the class a subclass of super. Indexes defined on super
// cover records of the subclass too.
func (b *ClassBuilder) Extends(super *Class) {
	if super == nil || super.catalog != b.cls.catalog {
		panic(fmt.Sprintf("%s: superclass must belong to the same catalog", b.cls.name))
	}
	if super.IsSubclassOf(b.cls) {
		panic(fmt.Sprintf("%s: inheritance cycle through %s", b.cls.name, super.name))
	}
	b.cls.super = super
}

func (b *ClassBuilder) Property(name string, typ PropertyType) *Property {
	return b.add(&Property{name: name, typ: typ})
}

// Collection declares an embedded collection whose elements (or map
// values) have the given type.
func (b *ClassBuilder) Collection(name string, typ PropertyType, linkedType PropertyType) *Property {
	if !typ.IsCollection() {
		panic(fmt.Sprintf("%s.%s: %v is not a collection type", b.cls.name, name, typ))
	}
	return b.add(&Property{name: name, typ: typ, linkedType: linkedType})
}

// Link declares a LINK or link collection property pointing to the named
// class.
func (b *ClassBuilder) Link(name string, typ PropertyType, linkedClass string) *Property {
	if typ != TypeLink && !typ.IsLinkContainer() {
		panic(fmt.Sprintf("%s.%s: %v is not a link type", b.cls.name, name, typ))
	}
	return b.add(&Property{name: name, typ: typ, linkedClass: linkedClass})
}

func (b *ClassBuilder) add(p *Property) *Property {
	if p.name == "" || strings.ContainsAny(p.name, " :") {
		panic(fmt.Sprintf("%s: invalid property name %q", b.cls.name, p.name))
	}
	lower := strings.ToLower(p.name)
	if b.cls.propsByLower[lower] != nil {
		panic(fmt.Sprintf("%s.%s defined twice", b.cls.name, p.name))
	}
	p.owner = b.cls
	b.cls.props = append(b.cls.props, p)
	b.cls.propsByLower[lower] = p
	return p
}
