package docindex

import (
	"fmt"
	"strings"
)

// IndexDefinition describes what an index indexes. It is a closed set of
// variants: PropertyIndex, CompositeIndex and CollectionIndex; code that
// needs variant-specific behavior switches over them exhaustively.
type IndexDefinition interface {
	ClassName() string
	// Fields returns the indexed property names, in key order.
	Fields() []string
	// FieldSpecs returns the canonical field specifications, such as
	// "tags by value", from which the definition can be rebuilt.
	FieldSpecs() []string
	KeyTypes() []PropertyType
	// IsMultiValue reports whether one record can produce several keys.
	IsMultiValue() bool
	String() string

	indexDefinition()
}

// PropertyIndex indexes a single scalar property.
type PropertyIndex struct {
	Class    string
	Property string
	Type     PropertyType
}

// CollectionBy selects what a collection index indexes.
type CollectionBy int

const (
	ByElement CollectionBy = iota
	ByKey
	ByValue
)

func (by CollectionBy) String() string {
	switch by {
	case ByElement:
		return "element"
	case ByKey:
		return "key"
	case ByValue:
		return "value"
	default:
		return fmt.Sprintf("CollectionBy(%d)", int(by))
	}
}

// CollectionIndex indexes every element of a list or set, or every key or
// value of a map. Type is the key type: STRING for map keys, the declared
// element type otherwise, LINK for link collections.
type CollectionIndex struct {
	Class      string
	Property   string
	Collection PropertyType
	By         CollectionBy
	Type       PropertyType
}

// CompositeIndex indexes a tuple of properties. At most one part may be a
// CollectionIndex; that part fans out into one key per element.
type CompositeIndex struct {
	Class string
	Parts []IndexDefinition
}

func (d *PropertyIndex) ClassName() string        { return d.Class }
func (d *PropertyIndex) Fields() []string         { return []string{d.Property} }
func (d *PropertyIndex) FieldSpecs() []string     { return []string{d.Property} }
func (d *PropertyIndex) KeyTypes() []PropertyType { return []PropertyType{d.Type} }
func (d *PropertyIndex) IsMultiValue() bool       { return false }
func (d *PropertyIndex) String() string           { return formatDefinition(d) }
func (d *PropertyIndex) indexDefinition()         {}

func (d *CollectionIndex) ClassName() string        { return d.Class }
func (d *CollectionIndex) Fields() []string         { return []string{d.Property} }
func (d *CollectionIndex) KeyTypes() []PropertyType { return []PropertyType{d.Type} }
func (d *CollectionIndex) IsMultiValue() bool       { return true }
func (d *CollectionIndex) String() string           { return formatDefinition(d) }
func (d *CollectionIndex) indexDefinition()         {}

func (d *CompositeIndex) ClassName() string { return d.Class }
func (d *CompositeIndex) String() string    { return formatDefinition(d) }
func (d *CompositeIndex) indexDefinition()  {}

func (d *CollectionIndex) FieldSpecs() []string {
	if d.Collection.IsMap() {
		return []string{d.Property + " by " + d.By.String()}
	}
	return []string{d.Property}
}

func (d *CompositeIndex) Fields() []string {
	out := make([]string, 0, len(d.Parts))
	for _, p := range d.Parts {
		out = append(out, p.Fields()...)
	}
	return out
}

func (d *CompositeIndex) FieldSpecs() []string {
	out := make([]string, 0, len(d.Parts))
	for _, p := range d.Parts {
		out = append(out, p.FieldSpecs()...)
	}
	return out
}

func (d *CompositeIndex) KeyTypes() []PropertyType {
	out := make([]PropertyType, 0, len(d.Parts))
	for _, p := range d.Parts {
		out = append(out, p.KeyTypes()...)
	}
	return out
}

func (d *CompositeIndex) IsMultiValue() bool {
	for _, p := range d.Parts {
		if p.IsMultiValue() {
			return true
		}
	}
	return false
}

func formatDefinition(d IndexDefinition) string {
	return d.ClassName() + "(" + strings.Join(d.FieldSpecs(), ", ") + ")"
}

// NewIndexDefinition builds an index definition from field specifications
// of the form "<property>", "<property> by key" or "<property> by value".
// A single specification yields a PropertyIndex or CollectionIndex; several
// yield a CompositeIndex.
func NewIndexDefinition(cat *Catalog, className string, fieldSpecs ...string) (IndexDefinition, error) {
	cls := cat.Class(className)
	if cls == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClass, className)
	}
	if len(fieldSpecs) == 0 {
		return nil, fmt.Errorf("%w: %s: no fields to index", ErrInvalidIndexDefinition, cls.name)
	}
	parts := make([]IndexDefinition, 0, len(fieldSpecs))
	multi := ""
	for _, spec := range fieldSpecs {
		part, err := parseFieldSpec(cls, spec)
		if err != nil {
			return nil, err
		}
		if part.IsMultiValue() {
			if multi != "" {
				return nil, fmt.Errorf("%w: %s: composite index can contain only one collection field, found %s and %s", ErrInvalidIndexDefinition, cls.name, multi, part.Fields()[0])
			}
			multi = part.Fields()[0]
		}
		for _, prev := range parts {
			if strings.EqualFold(prev.Fields()[0], part.Fields()[0]) {
				return nil, fmt.Errorf("%w: %s: field %s is listed twice", ErrInvalidIndexDefinition, cls.name, part.Fields()[0])
			}
		}
		parts = append(parts, part)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return &CompositeIndex{Class: cls.name, Parts: parts}, nil
}

func MustIndexDefinition(cat *Catalog, className string, fieldSpecs ...string) IndexDefinition {
	return must(NewIndexDefinition(cat, className, fieldSpecs...))
}

func parseFieldSpec(cls *Class, spec string) (IndexDefinition, error) {
	words := strings.Fields(spec)
	malformed := func() error {
		return fieldSpecErrf(cls.name, spec, ErrMalformedFieldSpec, "Illegal field name format, should be '<property> [by key|value]' but was '%s'", spec)
	}
	var by CollectionBy
	var explicit bool
	switch {
	case len(words) == 1:
	case len(words) == 3 && strings.EqualFold(words[1], "by"):
		switch {
		case strings.EqualFold(words[2], "key"):
			by, explicit = ByKey, true
		case strings.EqualFold(words[2], "value"):
			by, explicit = ByValue, true
		default:
			return nil, malformed()
		}
	default:
		return nil, malformed()
	}

	prop := cls.Property(words[0])
	if prop == nil {
		return nil, fieldSpecErrf(cls.name, spec, ErrUnknownProperty, "%s: property %q does not exist", cls.name, words[0])
	}

	if !prop.typ.IsCollection() {
		if explicit {
			return nil, fieldSpecErrf(cls.name, spec, ErrMalformedFieldSpec, "%s: 'by %s' is only valid for map properties, %s is %v", cls.name, by, prop.name, prop.typ)
		}
		if !prop.typ.IsIndexable() {
			return nil, fmt.Errorf("%w: %s: %v property %s cannot be indexed", ErrInvalidIndexDefinition, cls.name, prop.typ, prop.name)
		}
		return &PropertyIndex{Class: cls.name, Property: prop.name, Type: prop.typ}, nil
	}

	def := &CollectionIndex{Class: cls.name, Property: prop.name, Collection: prop.typ, By: ByElement}
	if prop.typ.IsMap() {
		def.By = ByKey
		if explicit {
			def.By = by
		}
	} else if explicit {
		return nil, fieldSpecErrf(cls.name, spec, ErrMalformedFieldSpec, "%s: 'by %s' is only valid for map properties, %s is %v", cls.name, by, prop.name, prop.typ)
	}

	switch {
	case def.By == ByKey:
		def.Type = TypeString
	case prop.typ.IsLinkContainer():
		def.Type = TypeLink
	case prop.linkedType == TypeAny:
		return nil, fieldSpecErrf(cls.name, spec, ErrMalformedFieldSpec, "%s: linked type was not provided for %v property %s, cannot index it by %s", cls.name, prop.typ, prop.name, def.By)
	default:
		def.Type = prop.linkedType
	}
	if !def.Type.IsIndexable() {
		return nil, fmt.Errorf("%w: %s: elements of %s are %v and cannot be indexed", ErrInvalidIndexDefinition, cls.name, prop.name, def.Type)
	}
	return def, nil
}

// defaultIndexName names an index after its class and fields.
func defaultIndexName(def IndexDefinition) string {
	return def.ClassName() + "." + strings.Join(def.Fields(), "_")
}

func validIndexName(name string) bool {
	return name != "" && !strings.ContainsAny(name, ":") && strings.TrimSpace(name) == name
}
