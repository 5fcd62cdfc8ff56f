package docindex

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaFile is the YAML form of a catalog and its indexes:
//
//	classes:
//	  - name: Person
//	    extends: Entity
//	    properties:
//	      - {name: name, type: STRING}
//	      - {name: tags, type: EMBEDDEDSET, linkedType: STRING}
//	      - {name: friends, type: LINKLIST, linkedClass: Person}
//	indexes:
//	  - name: Person.name
//	    class: Person
//	    fields: [name]
//	    unique: true
type SchemaFile struct {
	Classes []ClassSpec `yaml:"classes"`
	Indexes []IndexSpec `yaml:"indexes"`
}

type ClassSpec struct {
	Name       string         `yaml:"name"`
	Extends    string         `yaml:"extends"`
	Properties []PropertySpec `yaml:"properties"`
}

type PropertySpec struct {
	Name        string       `yaml:"name"`
	Type        PropertyType `yaml:"type"`
	LinkedType  PropertyType `yaml:"linkedType"`
	LinkedClass string       `yaml:"linkedClass"`
}

// IndexSpec declares an index; Fields are field specifications as accepted
// by NewIndexDefinition. An empty Name picks the default index name.
type IndexSpec struct {
	Name             string   `yaml:"name"`
	Class            string   `yaml:"class"`
	Fields           []string `yaml:"fields"`
	Unique           bool     `yaml:"unique"`
	IgnoreNullValues bool     `yaml:"ignoreNullValues"`
}

// ParseSchemaYAML builds a catalog from a schema file. Classes may be
// listed in any order; a superclass does not have to precede its
// subclasses. The index specs are returned for DB.ApplyIndexSpecs.
func ParseSchemaYAML(data []byte) (*Catalog, []IndexSpec, error) {
	var sf SchemaFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, nil, fmt.Errorf("docindex: schema: %w", err)
	}
	cat, err := sf.Catalog()
	if err != nil {
		return nil, nil, err
	}
	return cat, sf.Indexes, nil
}

func LoadSchemaYAML(path string) (*Catalog, []IndexSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("docindex: schema: %w", err)
	}
	return ParseSchemaYAML(data)
}

// Catalog builds the classes of the schema file.
func (sf *SchemaFile) Catalog() (cat *Catalog, err error) {
	defer func() {
		if p := recover(); p != nil {
			cat, err = nil, fmt.Errorf("docindex: schema: %v", p)
		}
	}()

	specs := make(map[string]*ClassSpec, len(sf.Classes))
	for i := range sf.Classes {
		cs := &sf.Classes[i]
		lower := strings.ToLower(cs.Name)
		if specs[lower] != nil {
			return nil, fmt.Errorf("docindex: schema: class %s defined twice", cs.Name)
		}
		specs[lower] = cs
	}

	cat = NewCatalog()
	var define func(cs *ClassSpec, path []string) error
	define = func(cs *ClassSpec, path []string) error {
		if cat.Class(cs.Name) != nil {
			return nil
		}
		for _, p := range path {
			if strings.EqualFold(p, cs.Name) {
				return fmt.Errorf("docindex: schema: inheritance cycle %s -> %s", strings.Join(path, " -> "), cs.Name)
			}
		}
		var super *Class
		if cs.Extends != "" {
			ss := specs[strings.ToLower(cs.Extends)]
			if ss == nil {
				return fmt.Errorf("docindex: schema: %s extends unknown class %s", cs.Name, cs.Extends)
			}
			if err := define(ss, append(path, cs.Name)); err != nil {
				return err
			}
			super = cat.Class(ss.Name)
		}
		DefineClass(cat, cs.Name, func(b *ClassBuilder) {
			if super != nil {
				b.Extends(super)
			}
			for _, ps := range cs.Properties {
				switch {
				case ps.LinkedClass != "":
					b.Link(ps.Name, ps.Type, ps.LinkedClass)
				case ps.Type.IsCollection():
					b.Collection(ps.Name, ps.Type, ps.LinkedType)
				default:
					b.Property(ps.Name, ps.Type)
				}
			}
		})
		return nil
	}
	for i := range sf.Classes {
		if err := define(&sf.Classes[i], nil); err != nil {
			return nil, err
		}
	}
	return cat, nil
}
