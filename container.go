package docindex

import (
	"fmt"
)

// container is the part shared by List, Set and Map: the tracker and the
// back reference to the record field holding the container.
type container struct {
	owner   *Record
	field   string
	link    bool
	tracker ChangeTracker
}

// Tracker exposes the container's change tracker.
func (c *container) Tracker() *ChangeTracker { return &c.tracker }

// IsLink reports whether this is a LINK collection holding RIDs only.
func (c *container) IsLink() bool { return c.link }

func (c *container) beforeChange() {
	if c.owner != nil {
		c.owner.snapshotField(c.field)
	}
}

func (c *container) changed(ev ChangeEvent) {
	c.tracker.Record(ev)
	if c.owner != nil {
		c.owner.containerChanged(c.field)
	}
}

func (c *container) attached() bool { return c.owner != nil }

func (c *container) detach() {
	c.owner = nil
	c.field = ""
}

// element prepares a value for storing inside the container. Embedded
// containers own their elements, so records and nested containers are
// copied; link containers store RIDs only.
func (c *container) element(v any) any {
	if c.link {
		return linkElement(v)
	}
	v = mustNormalize(v)
	switch v.(type) {
	case *Record, *List, *Set, *Map:
		return cloneValue(v)
	}
	return v
}

// lookup prepares v for comparison against stored elements.
func (c *container) lookup(v any) any {
	if c.link {
		return linkElement(v)
	}
	return mustNormalize(v)
}

func linkElement(v any) any {
	switch v := v.(type) {
	case nil:
		return nil
	case RID:
		return v
	case *Record:
		if !v.RID().IsValid() {
			panic(fmt.Errorf("%w: cannot link to an unsaved record", ErrTypeMismatch))
		}
		return v.RID()
	default:
		panic(fmt.Errorf("%w: link collections hold RIDs only, got %T", ErrTypeMismatch, v))
	}
}

func cloneItems(items []any) []any {
	if items == nil {
		return nil
	}
	out := make([]any, len(items))
	for i, v := range items {
		out[i] = cloneValue(v)
	}
	return out
}
