package docindex

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Map is a tracked EMBEDDEDMAP or LINKMAP value with string keys. Keys keep
// insertion order.
type Map struct {
	container
	keys   []string
	values map[string]any
}

func NewEmbeddedMap() *Map {
	return &Map{values: make(map[string]any)}
}

// NewLinkMap builds a LINKMAP; values must be RIDs or saved records.
func NewLinkMap() *Map {
	return &Map{container: container{link: true}, values: make(map[string]any)}
}

// newMapFrom builds a detached map from a Go map, in sorted key order.
func newMapFrom[V any](link bool, m map[string]V) *Map {
	out := &Map{container: container{link: link}, values: make(map[string]any, len(m))}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out.keys = append(out.keys, k)
		out.values[k] = out.element(m[k])
	}
	return out
}

func (m *Map) Len() int { return len(m.keys) }

func (m *Map) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string { return slices.Clone(m.keys) }

// Entries calls f for every entry in insertion order until f returns false.
func (m *Map) Entries(f func(key string, value any) bool) {
	for _, k := range m.keys {
		if !f(k, m.values[k]) {
			return
		}
	}
}

// Put sets the value for key. Putting a value equal to the current one
// records nothing.
func (m *Map) Put(key string, v any) {
	v = m.element(v)
	old, exists := m.values[key]
	if exists && valuesEqual(old, v) {
		return
	}
	m.beforeChange()
	m.values[key] = v
	if exists {
		m.changed(ChangeEvent{Type: ChangeUpdate, Key: key, OldValue: old, NewValue: v})
	} else {
		m.keys = append(m.keys, key)
		m.changed(ChangeEvent{Type: ChangeAdd, Key: key, NewValue: v})
	}
}

func (m *Map) Remove(key string) bool {
	old, exists := m.values[key]
	if !exists {
		return false
	}
	m.beforeChange()
	delete(m.values, key)
	m.keys = slices.DeleteFunc(m.keys, func(k string) bool { return k == key })
	m.changed(ChangeEvent{Type: ChangeRemove, Key: key, OldValue: old})
	return true
}

func (m *Map) Clear() {
	for len(m.keys) > 0 {
		m.Remove(m.keys[len(m.keys)-1])
	}
}

func (m *Map) clone() *Map {
	out := &Map{container: container{link: m.link}, keys: slices.Clone(m.keys), values: make(map[string]any, len(m.values))}
	for k, v := range m.values {
		out.values[k] = cloneValue(v)
	}
	return out
}

func (m *Map) String() string {
	var buf strings.Builder
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "%s: %v", k, m.values[k])
	}
	buf.WriteByte('}')
	return buf.String()
}
