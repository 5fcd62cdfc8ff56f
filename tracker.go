package docindex

import "fmt"

type ChangeType int

const (
	ChangeAdd ChangeType = iota + 1
	ChangeRemove
	ChangeUpdate
)

func (t ChangeType) String() string {
	switch t {
	case ChangeAdd:
		return "ADD"
	case ChangeRemove:
		return "REMOVE"
	case ChangeUpdate:
		return "UPDATE"
	default:
		return fmt.Sprintf("ChangeType(%d)", int(t))
	}
}

// ChangeEvent describes a single mutation of a tracked container.
//
// Key is the list index for lists, the element itself for sets, and the
// entry key for maps. OldValue is set for REMOVE and UPDATE, NewValue for
// ADD and UPDATE.
type ChangeEvent struct {
	Type     ChangeType
	Key      any
	OldValue any
	NewValue any
}

func (ev ChangeEvent) String() string {
	switch ev.Type {
	case ChangeAdd:
		return fmt.Sprintf("%v %v=%v", ev.Type, ev.Key, ev.NewValue)
	case ChangeRemove:
		return fmt.Sprintf("%v %v (was %v)", ev.Type, ev.Key, ev.OldValue)
	default:
		return fmt.Sprintf("%v %v=%v (was %v)", ev.Type, ev.Key, ev.NewValue, ev.OldValue)
	}
}

// ChangeTracker accumulates the timeline of one container. The zero value
// is an enabled, clean tracker.
type ChangeTracker struct {
	events   []ChangeEvent
	disabled bool
	dirty    bool
	lost     bool // an event was dropped since the last reset
}

// Record appends ev to the timeline. Events recorded while the tracker is
// disabled are dropped.
func (t *ChangeTracker) Record(ev ChangeEvent) {
	if t.disabled {
		t.lost = true
		return
	}
	t.events = append(t.events, ev)
	t.dirty = true
}

// Timeline returns the events in the order they occurred, or nil if the
// tracker is disabled or nothing has been recorded. The returned slice is
// a copy.
func (t *ChangeTracker) Timeline() []ChangeEvent {
	if t.disabled || len(t.events) == 0 {
		return nil
	}
	return append([]ChangeEvent(nil), t.events...)
}

// Disable pauses recording; the accumulated timeline is kept but hidden
// until Enable.
func (t *ChangeTracker) Disable() { t.disabled = true }

func (t *ChangeTracker) Enable() { t.disabled = false }

func (t *ChangeTracker) IsEnabled() bool { return !t.disabled }

func (t *ChangeTracker) IsDirty() bool { return t.dirty }

// Reset clears the timeline and marks the container clean.
func (t *ChangeTracker) Reset() {
	t.events = nil
	t.dirty = false
	t.lost = false
}

// complete reports whether the timeline covers every mutation since the
// last reset.
func (t *ChangeTracker) complete() bool {
	return !t.disabled && !t.lost
}

// UnsetDirty marks the container clean while keeping the timeline.
func (t *ChangeTracker) UnsetDirty() { t.dirty = false }
