package docindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeTracker(t *testing.T) {
	var tr ChangeTracker
	assert.True(t, tr.IsEnabled())
	assert.False(t, tr.IsDirty())
	assert.Nil(t, tr.Timeline())

	tr.Record(ChangeEvent{Type: ChangeAdd, Key: 0, NewValue: "a"})
	assert.True(t, tr.IsDirty())
	assert.Equal(t, []ChangeEvent{{Type: ChangeAdd, Key: 0, NewValue: "a"}}, tr.Timeline())

	tr.Disable()
	tr.Record(ChangeEvent{Type: ChangeAdd, Key: 1, NewValue: "b"})
	assert.Nil(t, tr.Timeline())
	assert.False(t, tr.complete())

	tr.Enable()
	assert.Len(t, tr.Timeline(), 1)
	assert.False(t, tr.complete())

	tr.UnsetDirty()
	assert.False(t, tr.IsDirty())
	assert.Len(t, tr.Timeline(), 1)

	tr.Reset()
	assert.Nil(t, tr.Timeline())
	assert.True(t, tr.complete())
}

func TestChangeEvent_String(t *testing.T) {
	assert.Equal(t, "ADD 0=a", ChangeEvent{Type: ChangeAdd, Key: 0, NewValue: "a"}.String())
	assert.Equal(t, "REMOVE k (was v)", ChangeEvent{Type: ChangeRemove, Key: "k", OldValue: "v"}.String())
	assert.Equal(t, "UPDATE 1=b (was a)", ChangeEvent{Type: ChangeUpdate, Key: 1, OldValue: "a", NewValue: "b"}.String())
}

func TestRecord_ReplacedListStartsFreshTimeline(t *testing.T) {
	rec := NewRecord("Account")
	rec.Set("nums", NewEmbeddedList())
	first, err := rec.ListField("nums")
	require.NoError(t, err)
	first.Add("x")
	assert.Equal(t, []ChangeEvent{{Type: ChangeAdd, Key: 0, NewValue: "x"}}, rec.Timeline("nums"))

	rec.Set("nums", NewEmbeddedList("y"))
	assert.Equal(t, []ChangeEvent{{Type: ChangeAdd, Key: 0, NewValue: "y"}}, rec.Timeline("nums"))

	// the detached list no longer feeds the record
	first.Add("z")
	assert.Equal(t, []ChangeEvent{{Type: ChangeAdd, Key: 0, NewValue: "y"}}, rec.Timeline("nums"))
	second, _ := rec.ListField("nums")
	assert.Equal(t, []any{"y"}, second.Values())
}

func TestRecord_ListEvents(t *testing.T) {
	rec := NewRecord("Account")
	rec.Set("nums", []int{1, 2})
	rec.resetState()
	l, _ := rec.ListField("nums")

	l.Insert(0, 0)
	l.SetAt(1, 10)
	l.SetAt(1, 10)
	l.RemoveAt(2)
	assert.Equal(t, []ChangeEvent{
		{Type: ChangeAdd, Key: 0, NewValue: int64(0)},
		{Type: ChangeUpdate, Key: 1, OldValue: int64(1), NewValue: int64(10)},
		{Type: ChangeRemove, Key: 2, OldValue: int64(2)},
	}, rec.Timeline("nums"))
	assert.Equal(t, []any{int64(0), int64(10)}, l.Values())
	assert.Equal(t, 1, l.IndexOf(10))
	assert.Equal(t, -1, l.IndexOf(2))
}

func TestRecord_SetEvents(t *testing.T) {
	rec := NewRecord("Account")
	rec.Set("tags", NewEmbeddedSet("a"))
	rec.resetState()
	s, _ := rec.SetField("tags")

	assert.False(t, s.Add("a"))
	assert.True(t, s.Add("b"))
	assert.False(t, s.Remove("zzz"))
	assert.True(t, s.Remove("a"))
	assert.Equal(t, []ChangeEvent{
		{Type: ChangeAdd, Key: "b", NewValue: "b"},
		{Type: ChangeRemove, Key: "a", OldValue: "a"},
	}, rec.Timeline("tags"))
	assert.True(t, s.Contains("b"))
	assert.False(t, s.Contains("a"))
}

func TestRecord_SetNormalizesElements(t *testing.T) {
	s := NewEmbeddedSet(1, int64(1), 2)
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains(2))
	assert.True(t, s.Contains(int64(2)))
	assert.True(t, s.Remove(1))
	assert.Equal(t, []any{int64(2)}, s.Values())
}

func TestRecord_MapEvents(t *testing.T) {
	rec := NewRecord("Account")
	rec.Set("attrs", map[string]any{"a": 1})
	rec.resetState()
	m, _ := rec.MapField("attrs")

	m.Put("a", 1)
	m.Put("a", 2)
	m.Put("b", "x")
	m.Remove("a")
	assert.False(t, m.Remove("nope"))
	assert.Equal(t, []ChangeEvent{
		{Type: ChangeUpdate, Key: "a", OldValue: int64(1), NewValue: int64(2)},
		{Type: ChangeAdd, Key: "b", NewValue: "x"},
		{Type: ChangeRemove, Key: "a", OldValue: int64(2)},
	}, rec.Timeline("attrs"))
	assert.Equal(t, []string{"b"}, m.Keys())
}

func TestRecord_DirtyFields(t *testing.T) {
	rec := NewRecord("Account")
	assert.False(t, rec.IsDirty())
	assert.Empty(t, rec.DirtyFields())

	rec.Set("name", "a")
	rec.Set("tags", NewEmbeddedSet())
	assert.True(t, rec.IsDirty())
	assert.Equal(t, []string{"name", "tags"}, rec.DirtyFields())

	rec.UnsetDirty()
	assert.False(t, rec.IsDirty())
	assert.Empty(t, rec.DirtyFields())

	// a mutation through the container marks its field
	s, _ := rec.SetField("tags")
	s.Add("x")
	assert.Equal(t, []string{"tags"}, rec.DirtyFields())

	// setting an equal value is not a change
	rec.UnsetDirty()
	rec.Set("name", "a")
	assert.False(t, rec.IsDirty())

	rec.RemoveField("name")
	assert.Equal(t, []string{"name"}, rec.DirtyFields())
	assert.False(t, rec.Has("name"))
}

func TestRecord_ClearLeavesNoDirtyFields(t *testing.T) {
	rec := NewRecord("Account")
	rec.Set("name", "a")
	rec.UnsetDirty()
	rec.Clear()
	assert.True(t, rec.IsDirty())
	assert.Empty(t, rec.DirtyFields())
	assert.Empty(t, rec.FieldNames())
}

func TestRecord_TrackingSwitch(t *testing.T) {
	rec := NewRecord("Account")
	rec.Set("nums", []int{1})
	rec.Set("name", "a")

	rec.SetTrackingChanges(false)
	assert.False(t, rec.IsTrackingChanges())
	assert.Empty(t, rec.DirtyFields())
	assert.True(t, rec.IsDirty())

	l, _ := rec.ListField("nums")
	l.Add(2)
	rec.Set("name", "b")
	assert.Empty(t, rec.DirtyFields())
	assert.Nil(t, rec.Timeline("nums"))

	rec.SetTrackingChanges(true)
	assert.Nil(t, rec.Timeline("nums"))
	l.Add(3)
	assert.Equal(t, []ChangeEvent{{Type: ChangeAdd, Key: 2, NewValue: int64(3)}}, rec.Timeline("nums"))
	assert.Equal(t, []string{"nums"}, rec.DirtyFields())
}

func TestRecord_PriorSnapshot(t *testing.T) {
	db := setup(t)
	rec := account(1, "a@example.com")
	rec.Set("nums", []int{1})
	save(t, db, rec)
	assert.Empty(t, rec.PriorSnapshot())

	rec.Set("email", "b@example.com")
	rec.Set("email", "c@example.com")
	l, _ := rec.ListField("nums")
	l.Add(2)
	rec.Set("age", 30)

	prior := rec.PriorSnapshot()
	assert.Equal(t, "a@example.com", prior["email"])
	assert.Equal(t, []any{int64(1)}, prior["nums"].(*List).Values())
	v, ok := prior["age"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestRecord_TrackingConflict(t *testing.T) {
	rec := NewRecord("Account")
	rec.Set("tags", NewEmbeddedSet("a"))
	_, err := rec.ListField("tags")
	assert.ErrorIs(t, err, ErrTrackingConflict)
	_, err = rec.MapField("tags")
	assert.ErrorIs(t, err, ErrTrackingConflict)

	rec.Set("name", "n")
	_, err = rec.SetField("name")
	assert.ErrorIs(t, err, ErrTypeMismatch)

	l, err := rec.ListField("missing")
	assert.NoError(t, err)
	assert.Nil(t, l)
}

func TestRecord_SharedContainerIsCopied(t *testing.T) {
	a := NewRecord("Account")
	b := NewRecord("Account")
	a.Set("tags", NewEmbeddedSet("x"))
	sa, _ := a.SetField("tags")
	b.Set("tags", sa)
	sb, _ := b.SetField("tags")
	assert.NotSame(t, sa, sb)

	sb.Add("y")
	assert.Equal(t, 1, sa.Len())
	assert.Equal(t, 2, sb.Len())
}

func TestRecord_UnloadedRecordPanics(t *testing.T) {
	rec := NewRecord("Account")
	rec.Unload()
	assert.Panics(t, func() { rec.Set("name", "x") })
}

func TestRecord_LinkCollectionsHoldRIDs(t *testing.T) {
	rid := RID{Cluster: 3, Position: 4}
	l := NewLinkList(rid)
	assert.True(t, l.IsLink())
	assert.Equal(t, 0, l.IndexOf(rid))
	assert.Panics(t, func() { l.Add("not a link") })
	assert.Panics(t, func() { l.Add(NewRecord("Account")) })
}
