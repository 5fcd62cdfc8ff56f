package docindex

import (
	"fmt"
	"slices"
)

// List is a tracked EMBEDDEDLIST or LINKLIST value. Change events use the
// element position as the key.
type List struct {
	container
	items []any
}

func NewEmbeddedList(values ...any) *List {
	l := &List{}
	for _, v := range values {
		l.items = append(l.items, l.element(v))
	}
	return l
}

// NewLinkList builds a LINKLIST from RIDs or saved records.
func NewLinkList(values ...any) *List {
	l := &List{container: container{link: true}}
	for _, v := range values {
		l.items = append(l.items, l.element(v))
	}
	return l
}

func (l *List) Len() int { return len(l.items) }

func (l *List) At(i int) any { return l.items[i] }

// Values returns a copy of the elements.
func (l *List) Values() []any { return slices.Clone(l.items) }

func (l *List) Add(v any) {
	v = l.element(v)
	l.beforeChange()
	l.items = append(l.items, v)
	l.changed(ChangeEvent{Type: ChangeAdd, Key: len(l.items) - 1, NewValue: v})
}

func (l *List) Insert(i int, v any) {
	if i < 0 || i > len(l.items) {
		panic(fmt.Errorf("list index %d out of range [0, %d]", i, len(l.items)))
	}
	v = l.element(v)
	l.beforeChange()
	l.items = slices.Insert(l.items, i, v)
	l.changed(ChangeEvent{Type: ChangeAdd, Key: i, NewValue: v})
}

// SetAt replaces the element at i and returns the previous one. Replacing
// an element with an equal value records nothing.
func (l *List) SetAt(i int, v any) any {
	v = l.element(v)
	old := l.items[i]
	if valuesEqual(old, v) {
		return old
	}
	l.beforeChange()
	l.items[i] = v
	l.changed(ChangeEvent{Type: ChangeUpdate, Key: i, OldValue: old, NewValue: v})
	return old
}

func (l *List) RemoveAt(i int) any {
	old := l.items[i]
	l.beforeChange()
	l.items = slices.Delete(l.items, i, i+1)
	l.changed(ChangeEvent{Type: ChangeRemove, Key: i, OldValue: old})
	return old
}

// Remove deletes the first element equal to v.
func (l *List) Remove(v any) bool {
	i := l.IndexOf(v)
	if i < 0 {
		return false
	}
	l.RemoveAt(i)
	return true
}

func (l *List) IndexOf(v any) int {
	v = l.lookup(v)
	return slices.IndexFunc(l.items, func(item any) bool {
		return valuesEqual(item, v)
	})
}

// Clear removes the elements back to front, so each event's position is
// valid at the time it is recorded.
func (l *List) Clear() {
	for i := len(l.items) - 1; i >= 0; i-- {
		l.RemoveAt(i)
	}
}

func (l *List) clone() *List {
	return &List{container: container{link: l.link}, items: cloneItems(l.items)}
}

func (l *List) elements() []any { return l.items }

func (l *List) String() string {
	return fmt.Sprint(l.items)
}
