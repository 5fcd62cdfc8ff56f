package docindex

import (
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// Set is a tracked EMBEDDEDSET or LINKSET value. Elements keep insertion
// order; change events use the element itself as the key.
type Set struct {
	container
	items  []any
	hashes map[uint64]int
}

func NewEmbeddedSet(values ...any) *Set {
	s := &Set{}
	for _, v := range values {
		s.insert(s.element(v))
	}
	return s
}

// NewLinkSet builds a LINKSET from RIDs or saved records.
func NewLinkSet(values ...any) *Set {
	s := &Set{container: container{link: true}}
	for _, v := range values {
		s.insert(s.element(v))
	}
	return s
}

// elementHash is consistent with valuesEqual: scalars hash their key
// encoding, records and containers share one bucket per kind.
func elementHash(v any) uint64 {
	t := valueType(v)
	if t.IsIndexable() {
		if k, err := convertToKeyType(v, t); err == nil {
			return xxhash.Sum64(appendKeyComponent(nil, k))
		}
	}
	return uint64(t)
}

func (s *Set) Len() int { return len(s.items) }

// Values returns a copy of the elements in insertion order.
func (s *Set) Values() []any { return slices.Clone(s.items) }

func (s *Set) Contains(v any) bool {
	v = s.lookup(v)
	return s.indexOf(v) >= 0
}

func (s *Set) indexOf(v any) int {
	if s.hashes[elementHash(v)] == 0 {
		return -1
	}
	return slices.IndexFunc(s.items, func(item any) bool {
		return valuesEqual(item, v)
	})
}

func (s *Set) insert(v any) bool {
	if s.indexOf(v) >= 0 {
		return false
	}
	if s.hashes == nil {
		s.hashes = make(map[uint64]int)
	}
	s.items = append(s.items, v)
	s.hashes[elementHash(v)]++
	return true
}

// Add inserts v unless an equal element is already present. Only actual
// insertions are recorded.
func (s *Set) Add(v any) bool {
	v = s.element(v)
	if s.indexOf(v) >= 0 {
		return false
	}
	s.beforeChange()
	s.insert(v)
	s.changed(ChangeEvent{Type: ChangeAdd, Key: v, NewValue: v})
	return true
}

func (s *Set) Remove(v any) bool {
	v = s.lookup(v)
	i := s.indexOf(v)
	if i < 0 {
		return false
	}
	old := s.items[i]
	s.beforeChange()
	s.items = slices.Delete(s.items, i, i+1)
	h := elementHash(old)
	if s.hashes[h]--; s.hashes[h] == 0 {
		delete(s.hashes, h)
	}
	s.changed(ChangeEvent{Type: ChangeRemove, Key: old, OldValue: old})
	return true
}

func (s *Set) Clear() {
	for len(s.items) > 0 {
		s.Remove(s.items[len(s.items)-1])
	}
}

func (s *Set) clone() *Set {
	out := &Set{container: container{link: s.link}}
	for _, v := range s.items {
		out.insert(cloneValue(v))
	}
	return out
}

func (s *Set) elements() []any { return s.items }

func (s *Set) String() string {
	return fmt.Sprint(s.items)
}
