package docindex

import (
	"strings"
)

// coversPrefix reports whether the index's fields start with fields, in
// the same order. An index on (a, b) serves (a) and (a, b) but not (b),
// (b, a) or (a, b, c).
func (idx *Index) coversPrefix(fields []string) bool {
	own := idx.def.Fields()
	if len(fields) == 0 || len(fields) > len(own) {
		return false
	}
	for i, f := range fields {
		if !strings.EqualFold(own[i], f) {
			return false
		}
	}
	return true
}

// InvolvedIndexes returns the indexes that can serve a lookup on fields of
// the class: those defined on the class or a superclass whose field list
// starts with fields.
func (db *DB) InvolvedIndexes(className string, fields ...string) []*Index {
	cls := db.catalog.Class(className)
	if cls == nil {
		return nil
	}
	var out []*Index
	for _, idx := range db.classIndexes(cls) {
		if idx.coversPrefix(fields) {
			out = append(out, idx)
		}
	}
	return out
}

// ClassInvolvedIndexes is InvolvedIndexes limited to the indexes defined
// on the class itself.
func (db *DB) ClassInvolvedIndexes(className string, fields ...string) []*Index {
	var out []*Index
	for _, idx := range db.InvolvedIndexes(className, fields...) {
		if strings.EqualFold(idx.class.name, className) {
			out = append(out, idx)
		}
	}
	return out
}

// AreIndexed reports whether some index visible to the class can serve a
// lookup on fields.
func (db *DB) AreIndexed(className string, fields ...string) bool {
	return len(db.InvolvedIndexes(className, fields...)) > 0
}

// ClassIndexes returns the indexes defined on the class itself; indexes
// inherited from superclasses are not included.
func (db *DB) ClassIndexes(className string) []*Index {
	cls := db.catalog.Class(className)
	if cls == nil {
		return nil
	}
	var out []*Index
	for _, idx := range db.classIndexes(cls) {
		if idx.class == cls {
			out = append(out, idx)
		}
	}
	return out
}
