package docindex

import (
	"fmt"
	"slices"
	"sort"
)

type absentField struct{}

// absent marks, in a prior snapshot, a field that did not exist.
var absent = absentField{}

// Record is an in-memory document: a class name, an identity and a set of
// named fields.
//
// Besides the current values, a record maintains:
//
//   - the dirty property set, reported by DirtyFields, which follows the
//     tracking switch;
//   - the prior snapshot: a deep copy of every field as it was before its
//     first mutation since the record was loaded or saved. It is kept even
//     while tracking is off, since index maintenance depends on it.
//
// Collection fields hold *List, *Set or *Map wrappers; the record owns them
// and their trackers feed the dirty property set.
type Record struct {
	class   string
	rid     RID
	version uint64
	fields  map[string]any
	names   []string

	prior          map[string]any
	dirtyFields    map[string]struct{}
	dirty          bool
	trackingOff    bool
	unloaded       bool
	persisted      bool
	timelineBroken map[string]bool
}

func NewRecord(class string) *Record {
	return &Record{class: class, rid: InvalidRID, fields: make(map[string]any)}
}

// newStoredRecord builds a clean record from persisted field values.
func newStoredRecord(class string, rid RID, version uint64, names []string, values map[string]any) *Record {
	r := &Record{class: class, rid: rid, version: version, fields: make(map[string]any, len(values)), persisted: true}
	r.fill(names, values)
	return r
}

func (r *Record) fill(names []string, values map[string]any) {
	for _, name := range names {
		v := values[name]
		if c := containerOf(v); c != nil {
			c.owner, c.field = r, name
			c.tracker.Reset()
		}
		r.fields[name] = v
		r.names = append(r.names, name)
	}
}

func (r *Record) Class() string { return r.class }

func (r *Record) RID() RID { return r.rid }

// Version counts the saves of the record.
func (r *Record) Version() uint64 { return r.version }

// IsPersisted reports whether the record has been saved at least once.
func (r *Record) IsPersisted() bool { return r.persisted }

func (r *Record) IsLoaded() bool { return !r.unloaded }

func (r *Record) Field(name string) any {
	return r.fields[name]
}

func (r *Record) Has(name string) bool {
	_, ok := r.fields[name]
	return ok
}

// FieldNames returns the field names in the order they were first set.
func (r *Record) FieldNames() []string {
	return slices.Clone(r.names)
}

// Set assigns a field. Slices and maps are wrapped into tracked containers;
// a container that already belongs to another field is copied. Assigning a
// brand-new container starts a fresh timeline that reports the container's
// initial contents as additions.
func (r *Record) Set(name string, value any) {
	r.ensureLoaded()
	v := mustNormalize(value)
	cur, exists := r.fields[name]
	if exists {
		cc, vc := containerOf(cur), containerOf(v)
		if cc != nil || vc != nil {
			if cc == vc {
				return
			}
		} else if valuesEqual(cur, v) {
			return
		}
	}

	r.snapshotField(name)
	if c := containerOf(cur); c != nil {
		c.detach()
	}
	if c := containerOf(v); c != nil {
		if c.attached() {
			v = cloneValue(v)
		}
		r.attach(name, v)
		r.breakTimeline(name)
	}
	if !exists {
		r.names = append(r.names, name)
	}
	r.fields[name] = v
	r.markFieldDirty(name)
}

func (r *Record) attach(name string, v any) {
	c := containerOf(v)
	c.owner, c.field = r, name
	c.tracker.Reset()
	if r.trackingOff {
		c.tracker.Disable()
		return
	}
	c.tracker.Enable()
	switch v := v.(type) {
	case *List:
		for i, item := range v.items {
			c.tracker.Record(ChangeEvent{Type: ChangeAdd, Key: i, NewValue: item})
		}
	case *Set:
		for _, item := range v.items {
			c.tracker.Record(ChangeEvent{Type: ChangeAdd, Key: item, NewValue: item})
		}
	case *Map:
		for _, k := range v.keys {
			c.tracker.Record(ChangeEvent{Type: ChangeAdd, Key: k, NewValue: v.values[k]})
		}
	}
}

// RemoveField deletes a field; the field stays in the dirty set.
func (r *Record) RemoveField(name string) {
	r.ensureLoaded()
	cur, exists := r.fields[name]
	if !exists {
		return
	}
	r.snapshotField(name)
	if c := containerOf(cur); c != nil {
		c.detach()
	}
	delete(r.fields, name)
	r.names = slices.DeleteFunc(r.names, func(n string) bool { return n == name })
	r.breakTimeline(name)
	r.markFieldDirty(name)
}

// Clear removes every field. The record is dirty afterwards, but no field
// is reported in the dirty set.
func (r *Record) Clear() {
	r.ensureLoaded()
	for _, name := range r.names {
		r.snapshotField(name)
		if c := containerOf(r.fields[name]); c != nil {
			c.detach()
		}
		r.breakTimeline(name)
	}
	r.fields = make(map[string]any)
	r.names = nil
	r.dirty = true
	clear(r.dirtyFields)
}

// SetTrackingChanges switches change tracking. Switching it off empties the
// dirty set and hides every timeline; the record keeps its dirty flag.
// Switching it back on starts fresh timelines.
func (r *Record) SetTrackingChanges(on bool) {
	if on == !r.trackingOff {
		return
	}
	r.trackingOff = !on
	for _, name := range r.names {
		c := containerOf(r.fields[name])
		if c == nil {
			continue
		}
		if on {
			c.tracker.Reset()
			c.tracker.Enable()
			r.breakTimeline(name)
		} else {
			c.tracker.Disable()
		}
	}
	if !on {
		clear(r.dirtyFields)
	}
}

func (r *Record) IsTrackingChanges() bool { return !r.trackingOff }

// DirtyFields returns the sorted names of the fields changed since the last
// load or save while tracking was on.
func (r *Record) DirtyFields() []string {
	out := make([]string, 0, len(r.dirtyFields))
	for name := range r.dirtyFields {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Record) IsDirty() bool { return r.dirty }

// UnsetDirty marks the record and all of its containers clean. The prior
// snapshot is kept, so a later save still maintains indexes correctly.
func (r *Record) UnsetDirty() {
	r.dirty = false
	clear(r.dirtyFields)
	for _, name := range r.names {
		if c := containerOf(r.fields[name]); c != nil {
			c.tracker.Reset()
			r.breakTimeline(name)
		}
	}
}

// Unload drops the in-memory state. The record has to be reloaded through
// a transaction before its fields can be used again.
func (r *Record) Unload() {
	for _, v := range r.fields {
		if c := containerOf(v); c != nil {
			c.detach()
		}
	}
	r.fields = make(map[string]any)
	r.names = nil
	r.resetState()
	r.unloaded = true
}

// Timeline returns the change events recorded for a collection field, or
// nil when the field is not a collection, tracking is off or nothing has
// been recorded.
func (r *Record) Timeline(name string) []ChangeEvent {
	if r.trackingOff {
		return nil
	}
	c := containerOf(r.fields[name])
	if c == nil {
		return nil
	}
	return c.tracker.Timeline()
}

// ListField returns the list held by a field, nil if the field is unset.
// It fails with ErrTrackingConflict if the field holds another kind of
// collection.
func (r *Record) ListField(name string) (*List, error) {
	switch v := r.fields[name].(type) {
	case nil:
		return nil, nil
	case *List:
		return v, nil
	default:
		return nil, r.conflict(name, "list", v)
	}
}

func (r *Record) SetField(name string) (*Set, error) {
	switch v := r.fields[name].(type) {
	case nil:
		return nil, nil
	case *Set:
		return v, nil
	default:
		return nil, r.conflict(name, "set", v)
	}
}

func (r *Record) MapField(name string) (*Map, error) {
	switch v := r.fields[name].(type) {
	case nil:
		return nil, nil
	case *Map:
		return v, nil
	default:
		return nil, r.conflict(name, "map", v)
	}
}

func (r *Record) conflict(name, want string, v any) error {
	if containerOf(v) != nil {
		return &RecordError{RID: r.rid, Class: r.class, Msg: fmt.Sprintf("field %q is tracked as %v, cannot track it as a %s", name, valueType(v), want), Err: ErrTrackingConflict}
	}
	return &RecordError{RID: r.rid, Class: r.class, Msg: fmt.Sprintf("field %q holds %T, not a %s", name, v, want), Err: ErrTypeMismatch}
}

// PriorSnapshot returns the pre-mutation value of every field changed since
// the last load or save. Fields that did not exist map to nil.
func (r *Record) PriorSnapshot() map[string]any {
	out := make(map[string]any, len(r.prior))
	for name, v := range r.prior {
		if v == absent {
			out[name] = nil
		} else {
			out[name] = v
		}
	}
	return out
}

// priorValue returns the field as it was at the last load or save.
func (r *Record) priorValue(name string) (any, bool) {
	if v, ok := r.prior[name]; ok {
		if v == absent {
			return nil, false
		}
		return v, true
	}
	v, ok := r.fields[name]
	return v, ok
}

func (r *Record) priorField(name string) any {
	v, _ := r.priorValue(name)
	return v
}

// changedFields lists the fields whose value differs from the prior
// snapshot's, regardless of the tracking switch.
func (r *Record) changedFields() []string {
	out := make([]string, 0, len(r.prior))
	for name := range r.prior {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// completeTimeline returns the timeline of a collection field if it covers
// every change since the prior snapshot was taken.
func (r *Record) completeTimeline(name string) ([]ChangeEvent, bool) {
	if r.trackingOff || r.timelineBroken[name] {
		return nil, false
	}
	c := containerOf(r.fields[name])
	if c == nil || !c.tracker.complete() {
		return nil, false
	}
	return c.tracker.events, true
}

func (r *Record) snapshotField(name string) {
	if !r.persisted {
		return
	}
	if _, ok := r.prior[name]; ok {
		return
	}
	if r.prior == nil {
		r.prior = make(map[string]any)
	}
	if v, ok := r.fields[name]; ok {
		r.prior[name] = cloneValue(v)
	} else {
		r.prior[name] = absent
	}
}

func (r *Record) breakTimeline(name string) {
	if r.timelineBroken == nil {
		r.timelineBroken = make(map[string]bool)
	}
	r.timelineBroken[name] = true
}

func (r *Record) containerChanged(name string) {
	r.markFieldDirty(name)
}

func (r *Record) markFieldDirty(name string) {
	r.dirty = true
	if r.trackingOff {
		return
	}
	if r.dirtyFields == nil {
		r.dirtyFields = make(map[string]struct{})
	}
	r.dirtyFields[name] = struct{}{}
}

// resetState makes the record clean: called after a successful save.
func (r *Record) resetState() {
	r.prior = nil
	r.dirty = false
	r.timelineBroken = nil
	clear(r.dirtyFields)
	for _, v := range r.fields {
		if c := containerOf(v); c != nil {
			c.tracker.Reset()
		}
	}
}

// savedState is a record as a transaction found it before first saving or
// deleting it. base holds the stored field values of a persisted record.
type savedState struct {
	rid       RID
	version   uint64
	persisted bool
	dirty     bool
	base      map[string]any
}

func (r *Record) captureState() *savedState {
	st := &savedState{rid: r.rid, version: r.version, persisted: r.persisted, dirty: r.dirty}
	if !r.persisted || r.unloaded {
		return st
	}
	st.base = make(map[string]any, len(r.names))
	for name, v := range r.prior {
		if v != absent {
			st.base[name] = v
		}
	}
	for _, name := range r.names {
		if _, ok := r.prior[name]; !ok {
			st.base[name] = cloneValue(r.fields[name])
		}
	}
	return st
}

// restoreState puts back the identity the record had in st and makes every
// field that differs from the stored values dirty again, with the stored
// value as its prior snapshot. Timelines of those fields no longer describe
// the difference, so they are not used for index maintenance.
func (r *Record) restoreState(st *savedState) {
	r.rid, r.version, r.persisted = st.rid, st.version, st.persisted
	r.prior = nil
	r.timelineBroken = nil
	clear(r.dirtyFields)
	r.dirty = st.dirty
	if r.unloaded {
		return
	}
	if !st.persisted {
		r.dirty = true
		for _, name := range r.names {
			r.breakTimeline(name)
			r.markFieldDirty(name)
		}
		return
	}
	if st.base == nil {
		// it was unloaded when first touched and reloaded since: only a
		// reload can tell what is stored
		r.Unload()
		r.rid, r.version, r.persisted = st.rid, st.version, st.persisted
		return
	}
	for name, v := range st.base {
		if cur, ok := r.fields[name]; !ok || !valuesEqual(v, cur) {
			r.restorePrior(name, v)
		}
	}
	for _, name := range r.names {
		if _, ok := st.base[name]; !ok {
			r.restorePrior(name, absent)
		}
	}
}

func (r *Record) restorePrior(name string, v any) {
	if r.prior == nil {
		r.prior = make(map[string]any)
	}
	r.prior[name] = v
	r.breakTimeline(name)
	r.markFieldDirty(name)
}

// reloadFrom replaces the record's state with that of src, a freshly
// loaded copy of the same record.
func (r *Record) reloadFrom(src *Record) {
	for _, v := range r.fields {
		if c := containerOf(v); c != nil {
			c.detach()
		}
	}
	r.fields = make(map[string]any, len(src.fields))
	r.names = nil
	r.version = src.version
	r.unloaded = false
	r.resetState()
	r.fill(src.names, src.fields)
	if r.trackingOff {
		for _, v := range r.fields {
			if c := containerOf(v); c != nil {
				c.tracker.Disable()
			}
		}
	}
}

func (r *Record) ensureLoaded() {
	if r.unloaded {
		panic(fmt.Errorf("record %v is unloaded", r.rid))
	}
}

func (r *Record) clone() *Record {
	out := &Record{class: r.class, rid: r.rid, version: r.version, fields: make(map[string]any, len(r.fields)), names: slices.Clone(r.names), persisted: r.persisted}
	for name, v := range r.fields {
		v = cloneValue(v)
		if c := containerOf(v); c != nil {
			c.owner, c.field = out, name
		}
		out.fields[name] = v
	}
	return out
}

func (r *Record) equalFields(o *Record) bool {
	if r.class != o.class || len(r.fields) != len(o.fields) {
		return false
	}
	for name, v := range r.fields {
		ov, ok := o.fields[name]
		if !ok || !valuesEqual(v, ov) {
			return false
		}
	}
	return true
}

func (r *Record) String() string {
	return fmt.Sprintf("%s%v%v", r.class, r.rid, r.fields)
}

func containerOf(v any) *container {
	switch v := v.(type) {
	case *List:
		return &v.container
	case *Set:
		return &v.container
	case *Map:
		return &v.container
	default:
		return nil
	}
}
